package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mwantia/fsmirror/data"
	"github.com/tidwall/btree"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists the metadata index in a SQLite database with a
// two-layer architecture:
//
// Layer 1: In-memory B-tree for fast path → id lookups and prefix scans
// Layer 2: SQLite table (fsc_entries) holding the actual rows
//
// Timestamps are stored as Unix nanoseconds so that monotonic mtime
// comparisons survive the round trip.
type SQLiteStore struct {
	mu sync.RWMutex
	db *sql.DB

	// In-memory B-tree for fast path lookups
	keys *btree.Map[string, int64]
}

// NewSQLiteStore creates a new SQLite-backed cache store. The dsn is a
// file path or ":memory:" for a transient store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Serialize access; modernc sqlite does not support concurrent writers
	db.SetMaxOpenConns(1)

	return &SQLiteStore{
		db:   db,
		keys: btree.NewMap[string, int64](0),
	}, nil
}

// Name returns the identifier name defined for this store
func (*SQLiteStore) Name() string {
	return "sqlite"
}

// Open is part of the lifecycle behaviour and gets called when opening this store.
// It creates the schema and warms the key index from existing rows.
func (ss *SQLiteStore) Open(ctx context.Context) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	_, err := ss.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS fsc_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			parent_id INTEGER NOT NULL DEFAULT -1,
			path TEXT NOT NULL UNIQUE,
			type INTEGER NOT NULL,
			size INTEGER NOT NULL DEFAULT 0,
			mtime INTEGER NOT NULL,
			storage_mtime INTEGER NOT NULL,
			etag TEXT,
			content_type TEXT,
			attributes TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	if _, err := ss.db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_fsc_entries_parent ON fsc_entries(parent_id)`); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	// Warm the key index
	rows, err := ss.db.QueryContext(ctx, `SELECT id, path FROM fsc_entries`)
	if err != nil {
		return fmt.Errorf("failed to load key index: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var path string
		if err := rows.Scan(&id, &path); err != nil {
			return err
		}

		ss.keys.Set(path, id)
	}

	return rows.Err()
}

// Close is part of the lifecycle behaviour and gets called when closing this store.
func (ss *SQLiteStore) Close(ctx context.Context) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	ss.keys.Clear()
	return ss.db.Close()
}

func (ss *SQLiteStore) InCache(ctx context.Context, path string) (bool, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	_, exists := ss.keys.Get(path)
	return exists, nil
}

func (ss *SQLiteStore) Get(ctx context.Context, path string) (*data.Entry, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	id, exists := ss.keys.Get(path)
	if !exists {
		return nil, data.ErrNotExist
	}

	return ss.readEntryUnsafe(ctx, id)
}

func (ss *SQLiteStore) GetID(ctx context.Context, path string) (int64, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	id, exists := ss.keys.Get(path)
	if !exists {
		return data.EntryIDAbsent, nil
	}

	return id, nil
}

func (ss *SQLiteStore) GetParentID(ctx context.Context, path string) (int64, error) {
	return ss.GetID(ctx, data.ParentPath(path))
}

func (ss *SQLiteStore) Insert(ctx context.Context, entry *data.Entry) (int64, error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if _, exists := ss.keys.Get(entry.Path); exists {
		return data.EntryIDAbsent, data.ErrExist
	}

	// Resolve parent linkage from the cached parent, if any
	entry.ParentID = data.EntryIDAbsent
	if entry.Path != "" {
		if parentID, exists := ss.keys.Get(data.ParentPath(entry.Path)); exists {
			entry.ParentID = parentID
		}
	}

	// Serialize attributes to JSON
	var attributesJSON sql.NullString
	if len(entry.Attributes) > 0 {
		bytes, err := json.Marshal(entry.Attributes)
		if err != nil {
			return data.EntryIDAbsent, err
		}
		attributesJSON = sql.NullString{String: string(bytes), Valid: true}
	}

	result, err := ss.db.ExecContext(ctx, `
		INSERT INTO fsc_entries (parent_id, path, type, size, mtime, storage_mtime, etag, content_type, attributes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ParentID, entry.Path, int(entry.Type), entry.Size,
		unixNano(entry.MTime), unixNano(entry.StorageMTime),
		nullString(entry.ETag), nullString(string(entry.ContentType)), attributesJSON)
	if err != nil {
		return data.EntryIDAbsent, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return data.EntryIDAbsent, err
	}

	entry.ID = id
	ss.keys.Set(entry.Path, id)

	return id, nil
}

func (ss *SQLiteStore) Update(ctx context.Context, id int64, update *data.EntryUpdate) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	return ss.updateEntryUnsafe(ctx, id, update)
}

func (ss *SQLiteStore) Remove(ctx context.Context, path string) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	id, exists := ss.keys.Get(path)
	if !exists {
		return data.ErrNotExist
	}

	entry, err := ss.readEntryUnsafe(ctx, id)
	if err != nil {
		return err
	}

	ids := []int64{id}
	paths := []string{path}

	if entry.IsDir() {
		for _, descendant := range ss.descendantsUnsafe(path) {
			if descID, ok := ss.keys.Get(descendant); ok {
				ids = append(ids, descID)
				paths = append(paths, descendant)
			}
		}
	}

	query := fmt.Sprintf(`DELETE FROM fsc_entries WHERE id IN (%s)`, placeholders(len(ids)))
	if _, err := ss.db.ExecContext(ctx, query, idArgs(ids)...); err != nil {
		return err
	}

	for _, p := range paths {
		ss.keys.Delete(p)
	}

	return nil
}

func (ss *SQLiteStore) Move(ctx context.Context, src, dst string) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	id, exists := ss.keys.Get(src)
	if !exists {
		return data.ErrNotExist
	}
	if _, exists := ss.keys.Get(dst); exists {
		return data.ErrExist
	}

	entry, err := ss.readEntryUnsafe(ctx, id)
	if err != nil {
		return err
	}

	paths := []string{src}
	if entry.IsDir() {
		paths = append(paths, ss.descendantsUnsafe(src)...)
	}

	for _, path := range paths {
		entryID, ok := ss.keys.Get(path)
		if !ok {
			continue
		}

		rebased := data.RebasePath(path, src, dst)
		if _, err := ss.db.ExecContext(ctx,
			`UPDATE fsc_entries SET path = ? WHERE id = ?`, rebased, entryID); err != nil {
			return err
		}

		ss.keys.Delete(path)
		ss.keys.Set(rebased, entryID)
	}

	// Refresh parent linkage of the moved root
	parentID := data.EntryIDAbsent
	if pid, exists := ss.keys.Get(data.ParentPath(dst)); exists {
		parentID = pid
	}

	_, err = ss.db.ExecContext(ctx,
		`UPDATE fsc_entries SET parent_id = ? WHERE id = ?`, parentID, id)
	return err
}

func (ss *SQLiteStore) Children(ctx context.Context, path string) ([]*data.Entry, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	var children []*data.Entry
	for _, childID := range ss.childIDsUnsafe(path) {
		child, err := ss.readEntryUnsafe(ctx, childID)
		if err != nil {
			return nil, err
		}

		children = append(children, child)
	}

	return children, nil
}

// FolderSize computes the aggregate size of the direct children of path
// with a native SQL SUM.
func (ss *SQLiteStore) FolderSize(ctx context.Context, path string) (int64, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	ids := ss.childIDsUnsafe(path)
	if len(ids) == 0 {
		return 0, nil
	}

	query := fmt.Sprintf(`SELECT COALESCE(SUM(size), 0) FROM fsc_entries WHERE id IN (%s)`,
		placeholders(len(ids)))

	var size int64
	if err := ss.db.QueryRowContext(ctx, query, idArgs(ids)...).Scan(&size); err != nil {
		return 0, err
	}

	return size, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func idArgs(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	return args
}

func nullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}

	return sql.NullString{String: value, Valid: true}
}

// unixNano encodes a timestamp for storage. The zero time maps to 0;
// UnixNano on a zero time would overflow int64.
func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}

	return t.UnixNano()
}

// fromUnixNano is the inverse of unixNano.
func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}

	return time.Unix(0, n)
}
