package memory

import (
	"context"
	"sync"
	"time"

	"github.com/mwantia/fsmirror/data"
	"github.com/mwantia/fsmirror/storage"
	"github.com/tidwall/btree"
)

// MemoryStorage is an in-memory storage backend. It is primarily used
// in tests and as a staging area for embedded setups.
type MemoryStorage struct {
	mu sync.RWMutex

	nodes *btree.Map[string, *storage.FileInfo]
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		nodes: btree.NewMap[string, *storage.FileInfo](0),
	}
}

// Name returns the identifier name defined for this storage
func (*MemoryStorage) Name() string {
	return "memory"
}

// Open is part of the lifecycle behaviour and gets called when opening this storage.
func (ms *MemoryStorage) Open(ctx context.Context) error {
	return nil
}

// Close is part of the lifecycle behaviour and gets called when closing this storage.
func (ms *MemoryStorage) Close(ctx context.Context) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.nodes.Clear()
	return nil
}

// PutFile creates or replaces a file node with the given size and
// physical mtime. Missing parent directories are created implicitly.
func (ms *MemoryStorage) PutFile(path string, size int64, mtime time.Time) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.ensureParents(path, mtime)
	ms.nodes.Set(path, &storage.FileInfo{
		Path:        path,
		Type:        data.TypeFile,
		Size:        size,
		MTime:       mtime,
		ContentType: data.ContentTypeForPath(path),
	})
}

// PutDir creates or replaces a directory node.
func (ms *MemoryStorage) PutDir(path string, mtime time.Time) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.ensureParents(path, mtime)
	ms.nodes.Set(path, &storage.FileInfo{
		Path:        path,
		Type:        data.TypeDirectory,
		MTime:       mtime,
		ContentType: data.ContentTypeDirectory,
	})
}

// Touch updates the physical mtime of an existing node.
func (ms *MemoryStorage) Touch(path string, mtime time.Time) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if node, exists := ms.nodes.Get(path); exists {
		node.MTime = mtime
	}
}

// Remove deletes a node and all of its descendants.
func (ms *MemoryStorage) Remove(path string) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.nodes.Delete(path)

	var descendants []string
	pivot := ""
	if path != "" {
		// A "path/" pivot would skip root children sorting before '/'
		pivot = path + "/"
	}
	ms.nodes.Ascend(pivot, func(key string, _ *storage.FileInfo) bool {
		if path != "" && !data.IsDescendantPath(path, key) {
			return false
		}

		descendants = append(descendants, key)
		return true
	})

	for _, key := range descendants {
		ms.nodes.Delete(key)
	}
}

func (ms *MemoryStorage) ensureParents(path string, mtime time.Time) {
	for _, ancestor := range data.Ancestors(path) {
		if ancestor == "" {
			continue
		}
		if _, exists := ms.nodes.Get(ancestor); !exists {
			ms.nodes.Set(ancestor, &storage.FileInfo{
				Path:        ancestor,
				Type:        data.TypeDirectory,
				MTime:       mtime,
				ContentType: data.ContentTypeDirectory,
			})
		}
	}
}

func (ms *MemoryStorage) Stat(ctx context.Context, path string) (*storage.FileInfo, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	return ms.statUnsafe(path)
}

// statUnsafe resolves a node without acquiring locks.
// MUST be called while holding at least a read lock.
func (ms *MemoryStorage) statUnsafe(path string) (*storage.FileInfo, error) {
	if path == "" {
		// The root always exists as an implicit directory
		return &storage.FileInfo{
			Path:        "",
			Type:        data.TypeDirectory,
			ContentType: data.ContentTypeDirectory,
		}, nil
	}

	node, exists := ms.nodes.Get(path)
	if !exists {
		return nil, data.ErrNotExist
	}

	clone := *node
	return &clone, nil
}

func (ms *MemoryStorage) FileMTime(ctx context.Context, path string) (time.Time, error) {
	info, err := ms.Stat(ctx, path)
	if err != nil {
		return time.Time{}, err
	}

	return info.MTime, nil
}

func (ms *MemoryStorage) ContentType(ctx context.Context, path string) (data.ContentType, error) {
	info, err := ms.Stat(ctx, path)
	if err != nil {
		return "", err
	}

	return info.ContentType, nil
}

func (ms *MemoryStorage) List(ctx context.Context, path string) ([]*storage.FileInfo, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	if path != "" {
		info, err := ms.statUnsafe(path)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			return nil, data.ErrNotDirectory
		}
	}

	var children []*storage.FileInfo
	pivot := ""
	if path != "" {
		pivot = path + "/"
	}

	ms.nodes.Ascend(pivot, func(key string, node *storage.FileInfo) bool {
		if path != "" && !data.IsDescendantPath(path, key) {
			return false
		}
		if data.IsChildPath(path, key) {
			clone := *node
			children = append(children, &clone)
		}

		return true
	})

	return children, nil
}
