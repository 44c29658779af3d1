package consul

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/hashicorp/consul/api"
	"github.com/mwantia/fsmirror/data"
	"github.com/tidwall/btree"
)

// ConsulStore keeps the metadata index in HashiCorp Consul KV.
//
// Architecture:
// - Entries are stored as JSON under "<prefix>entry/<id>", keyed by id
//   rather than path, so the empty root path needs no special encoding
// - An in-memory B-tree (path → id) is rebuilt from KV on Open
// - A "<prefix>nextid" key carries the id counter across restarts
//
// Consul KV is limited to 512KB per value, which is far beyond any
// single entry; this store suits small to medium trees whose index
// should be shared between nodes.
type ConsulStore struct {
	mu     sync.RWMutex
	client *api.Client
	kv     *api.KV

	config *ConsulStoreConfig

	// In-memory B-tree for fast path lookups
	keys   *btree.Map[string, int64]
	nextID int64
}

// ConsulStoreConfig contains configuration options for the Consul store
type ConsulStoreConfig struct {
	// Address of the Consul server (default: "127.0.0.1:8500")
	Address string

	// Token for Consul ACL authentication (optional)
	Token string

	// Datacenter to use (optional)
	Datacenter string

	// Prefix for all keys in Consul KV (default: "fsmirror/")
	Prefix string
}

// NewConsulStore creates a new Consul-backed cache store
func NewConsulStore(config *ConsulStoreConfig) (*ConsulStore, error) {
	if config == nil {
		config = &ConsulStoreConfig{}
	}

	if config.Address == "" {
		config.Address = "127.0.0.1:8500"
	}
	if config.Prefix == "" {
		config.Prefix = "fsmirror/"
	}
	if !strings.HasSuffix(config.Prefix, "/") {
		config.Prefix += "/"
	}

	clientConfig := api.DefaultConfig()
	clientConfig.Address = config.Address
	if config.Token != "" {
		clientConfig.Token = config.Token
	}
	if config.Datacenter != "" {
		clientConfig.Datacenter = config.Datacenter
	}

	client, err := api.NewClient(clientConfig)
	if err != nil {
		return nil, err
	}

	return &ConsulStore{
		client: client,
		kv:     client.KV(),
		config: config,
		keys:   btree.NewMap[string, int64](0),
		nextID: 1,
	}, nil
}

// Name returns the identifier name defined for this store
func (*ConsulStore) Name() string {
	return "consul"
}

// Open is part of the lifecycle behaviour and gets called when opening this store.
// It rebuilds the key index from KV and restores the id counter.
func (cs *ConsulStore) Open(ctx context.Context) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	pairs, _, err := cs.kv.List(cs.config.Prefix+"entry/", nil)
	if err != nil {
		return fmt.Errorf("failed to list entries: %w", err)
	}

	for _, pair := range pairs {
		var entry data.Entry
		if err := entry.Unmarshal(pair.Value); err != nil {
			return fmt.Errorf("failed to decode entry '%s': %w", pair.Key, err)
		}

		cs.keys.Set(entry.Path, entry.ID)
		if entry.ID >= cs.nextID {
			cs.nextID = entry.ID + 1
		}
	}

	pair, _, err := cs.kv.Get(cs.config.Prefix+"nextid", nil)
	if err != nil {
		return err
	}
	if pair != nil {
		if stored, err := strconv.ParseInt(string(pair.Value), 10, 64); err == nil && stored > cs.nextID {
			cs.nextID = stored
		}
	}

	return nil
}

// Close is part of the lifecycle behaviour and gets called when closing this store.
func (cs *ConsulStore) Close(ctx context.Context) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.keys.Clear()
	return nil
}

// entryKey builds the KV key for an entry id.
func (cs *ConsulStore) entryKey(id int64) string {
	return cs.config.Prefix + "entry/" + strconv.FormatInt(id, 10)
}

func (cs *ConsulStore) InCache(ctx context.Context, path string) (bool, error) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	_, exists := cs.keys.Get(path)
	return exists, nil
}

func (cs *ConsulStore) Get(ctx context.Context, path string) (*data.Entry, error) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	id, exists := cs.keys.Get(path)
	if !exists {
		return nil, data.ErrNotExist
	}

	return cs.readEntryUnsafe(id)
}

func (cs *ConsulStore) GetID(ctx context.Context, path string) (int64, error) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	id, exists := cs.keys.Get(path)
	if !exists {
		return data.EntryIDAbsent, nil
	}

	return id, nil
}

func (cs *ConsulStore) GetParentID(ctx context.Context, path string) (int64, error) {
	return cs.GetID(ctx, data.ParentPath(path))
}

func (cs *ConsulStore) Insert(ctx context.Context, entry *data.Entry) (int64, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if _, exists := cs.keys.Get(entry.Path); exists {
		return data.EntryIDAbsent, data.ErrExist
	}

	entry.ID = cs.nextID
	cs.nextID++

	// Resolve parent linkage from the cached parent, if any
	entry.ParentID = data.EntryIDAbsent
	if entry.Path != "" {
		if parentID, exists := cs.keys.Get(data.ParentPath(entry.Path)); exists {
			entry.ParentID = parentID
		}
	}

	if err := cs.writeEntryUnsafe(entry); err != nil {
		return data.EntryIDAbsent, err
	}

	if err := cs.writeNextIDUnsafe(); err != nil {
		return data.EntryIDAbsent, err
	}

	cs.keys.Set(entry.Path, entry.ID)
	return entry.ID, nil
}

func (cs *ConsulStore) Update(ctx context.Context, id int64, update *data.EntryUpdate) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	entry, err := cs.readEntryUnsafe(id)
	if err != nil {
		return err
	}

	modified, err := update.Apply(entry)
	if err != nil {
		return err
	}
	if !modified {
		return nil
	}

	return cs.writeEntryUnsafe(entry)
}

func (cs *ConsulStore) Remove(ctx context.Context, path string) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	id, exists := cs.keys.Get(path)
	if !exists {
		return data.ErrNotExist
	}

	entry, err := cs.readEntryUnsafe(id)
	if err != nil {
		return err
	}

	paths := []string{path}
	if entry.IsDir() {
		paths = append(paths, cs.descendantsUnsafe(path)...)
	}

	for _, p := range paths {
		entryID, ok := cs.keys.Get(p)
		if !ok {
			continue
		}

		if _, err := cs.kv.Delete(cs.entryKey(entryID), nil); err != nil {
			return err
		}

		cs.keys.Delete(p)
	}

	return nil
}

func (cs *ConsulStore) Move(ctx context.Context, src, dst string) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	id, exists := cs.keys.Get(src)
	if !exists {
		return data.ErrNotExist
	}
	if _, exists := cs.keys.Get(dst); exists {
		return data.ErrExist
	}

	entry, err := cs.readEntryUnsafe(id)
	if err != nil {
		return err
	}

	paths := []string{src}
	if entry.IsDir() {
		paths = append(paths, cs.descendantsUnsafe(src)...)
	}

	for _, path := range paths {
		entryID, ok := cs.keys.Get(path)
		if !ok {
			continue
		}

		moved, err := cs.readEntryUnsafe(entryID)
		if err != nil {
			return err
		}

		moved.Path = data.RebasePath(path, src, dst)
		if moved.ID == id {
			// Refresh parent linkage of the moved root
			moved.ParentID = data.EntryIDAbsent
			if parentID, exists := cs.keys.Get(data.ParentPath(dst)); exists {
				moved.ParentID = parentID
			}
		}

		if err := cs.writeEntryUnsafe(moved); err != nil {
			return err
		}

		cs.keys.Delete(path)
		cs.keys.Set(moved.Path, entryID)
	}

	return nil
}

func (cs *ConsulStore) Children(ctx context.Context, path string) ([]*data.Entry, error) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	var children []*data.Entry
	pivot := ""
	if path != "" {
		pivot = path + "/"
	}

	var walkErr error
	cs.keys.Ascend(pivot, func(key string, id int64) bool {
		if path != "" && !data.IsDescendantPath(path, key) {
			return false
		}
		if data.IsChildPath(path, key) {
			child, err := cs.readEntryUnsafe(id)
			if err != nil {
				walkErr = err
				return false
			}

			children = append(children, child)
		}

		return true
	})
	if walkErr != nil {
		return nil, walkErr
	}

	return children, nil
}

// readEntryUnsafe loads and decodes an entry from KV.
// MUST be called while holding at least a read lock.
func (cs *ConsulStore) readEntryUnsafe(id int64) (*data.Entry, error) {
	pair, _, err := cs.kv.Get(cs.entryKey(id), nil)
	if err != nil {
		return nil, err
	}
	if pair == nil {
		return nil, data.ErrNotExist
	}

	var entry data.Entry
	if err := entry.Unmarshal(pair.Value); err != nil {
		return nil, err
	}

	return &entry, nil
}

// writeEntryUnsafe encodes and stores an entry in KV.
// MUST be called while holding a write lock.
func (cs *ConsulStore) writeEntryUnsafe(entry *data.Entry) error {
	value, err := entry.Marshal()
	if err != nil {
		return err
	}

	pair := &api.KVPair{
		Key:   cs.entryKey(entry.ID),
		Value: value,
	}

	_, err = cs.kv.Put(pair, nil)
	return err
}

// writeNextIDUnsafe persists the id counter.
// MUST be called while holding a write lock.
func (cs *ConsulStore) writeNextIDUnsafe() error {
	pair := &api.KVPair{
		Key:   cs.config.Prefix + "nextid",
		Value: []byte(strconv.FormatInt(cs.nextID, 10)),
	}

	_, err := cs.kv.Put(pair, nil)
	return err
}

// descendantsUnsafe collects every cached path strictly below dir.
// MUST be called while holding at least a read lock.
func (cs *ConsulStore) descendantsUnsafe(dir string) []string {
	var descendants []string
	pivot := ""
	if dir != "" {
		// A "dir/" pivot would skip root children sorting before '/'
		pivot = dir + "/"
	}

	cs.keys.Ascend(pivot, func(key string, _ int64) bool {
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
