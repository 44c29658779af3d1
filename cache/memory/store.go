package memory

import (
	"context"
	"sync"

	"github.com/mwantia/fsmirror/data"
	"github.com/tidwall/btree"
)

// MemoryStore keeps the metadata index fully in memory.
//
// Layer 1: B-tree for ordered path → id lookups and prefix scans
// Layer 2: id → entry map holding the actual rows
type MemoryStore struct {
	mu sync.RWMutex

	keys    *btree.Map[string, int64]
	entries map[int64]*data.Entry
	nextID  int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys:    btree.NewMap[string, int64](0),
		entries: make(map[int64]*data.Entry),
		nextID:  1,
	}
}

// Name returns the identifier name defined for this store
func (*MemoryStore) Name() string {
	return "memory"
}

// Open is part of the lifecycle behaviour and gets called when opening this store.
func (ms *MemoryStore) Open(ctx context.Context) error {
	return nil
}

// Close is part of the lifecycle behaviour and gets called when closing this store.
func (ms *MemoryStore) Close(ctx context.Context) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.keys.Clear()
	for id := range ms.entries {
		delete(ms.entries, id)
	}

	return nil
}

func (ms *MemoryStore) InCache(ctx context.Context, path string) (bool, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	_, exists := ms.keys.Get(path)
	return exists, nil
}

func (ms *MemoryStore) Get(ctx context.Context, path string) (*data.Entry, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	id, exists := ms.keys.Get(path)
	if !exists {
		return nil, data.ErrNotExist
	}

	entry, exists := ms.entries[id]
	if !exists {
		return nil, data.ErrNotExist
	}

	return entry.Clone(), nil
}

func (ms *MemoryStore) GetID(ctx context.Context, path string) (int64, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	id, exists := ms.keys.Get(path)
	if !exists {
		return data.EntryIDAbsent, nil
	}

	return id, nil
}

func (ms *MemoryStore) GetParentID(ctx context.Context, path string) (int64, error) {
	return ms.GetID(ctx, data.ParentPath(path))
}

func (ms *MemoryStore) Insert(ctx context.Context, entry *data.Entry) (int64, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.keys.Get(entry.Path); exists {
		return data.EntryIDAbsent, data.ErrExist
	}

	entry.ID = ms.nextID
	ms.nextID++

	// Resolve parent linkage from the cached parent, if any
	entry.ParentID = data.EntryIDAbsent
	if entry.Path != "" {
		if parentID, exists := ms.keys.Get(data.ParentPath(entry.Path)); exists {
			entry.ParentID = parentID
		}
	}

	ms.keys.Set(entry.Path, entry.ID)
	ms.entries[entry.ID] = entry.Clone()

	return entry.ID, nil
}

func (ms *MemoryStore) Update(ctx context.Context, id int64, update *data.EntryUpdate) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	entry, exists := ms.entries[id]
	if !exists {
		return data.ErrNotExist
	}

	if _, err := update.Apply(entry); err != nil {
		return err
	}

	return nil
}

func (ms *MemoryStore) Remove(ctx context.Context, path string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	id, exists := ms.keys.Get(path)
	if !exists {
		return data.ErrNotExist
	}

	entry := ms.entries[id]

	ms.keys.Delete(path)
	delete(ms.entries, id)

	if entry != nil && entry.IsDir() {
		for _, descendant := range ms.descendantsUnsafe(path) {
			if descID, ok := ms.keys.Delete(descendant); ok {
				delete(ms.entries, descID)
			}
		}
	}

	return nil
}

func (ms *MemoryStore) Move(ctx context.Context, src, dst string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	id, exists := ms.keys.Get(src)
	if !exists {
		return data.ErrNotExist
	}
	if _, exists := ms.keys.Get(dst); exists {
		return data.ErrExist
	}

	paths := []string{src}
	if entry := ms.entries[id]; entry != nil && entry.IsDir() {
		paths = append(paths, ms.descendantsUnsafe(src)...)
	}

	for _, path := range paths {
		entryID, ok := ms.keys.Delete(path)
		if !ok {
			continue
		}

		entry := ms.entries[entryID]
		entry.Path = data.RebasePath(path, src, dst)
		ms.keys.Set(entry.Path, entryID)
	}

	// Refresh parent linkage of the moved root
	entry := ms.entries[id]
	entry.ParentID = data.EntryIDAbsent
	if parentID, exists := ms.keys.Get(data.ParentPath(dst)); exists {
		entry.ParentID = parentID
	}

	return nil
}

func (ms *MemoryStore) Children(ctx context.Context, path string) ([]*data.Entry, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var children []*data.Entry
	pivot := ""
	if path != "" {
		pivot = path + "/"
	}

	ms.keys.Ascend(pivot, func(key string, id int64) bool {
		if path != "" && !data.IsDescendantPath(path, key) {
			return false
		}
		if data.IsChildPath(path, key) {
			children = append(children, ms.entries[id].Clone())
		}

		return true
	})

	return children, nil
}

// descendantsUnsafe collects every cached path strictly below dir.
// MUST be called while holding at least a read lock.
func (ms *MemoryStore) descendantsUnsafe(dir string) []string {
	var descendants []string
	pivot := ""
	if dir != "" {
		// A "dir/" pivot would skip root children sorting before '/'
		pivot = dir + "/"
	}

	ms.keys.Ascend(pivot, func(key string, _ int64) bool {
		if dir != "" && !data.IsDescendantPath(dir, key) {
			return false
		}
		if key != "" {
			descendants = append(descendants, key)
		}

		return true
	})

	return descendants
}
