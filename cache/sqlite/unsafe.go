package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/mwantia/fsmirror/data"
)

// This file contains internal "unsafe" methods that perform operations
// without acquiring locks. They MUST only be called while the caller
// already holds the appropriate lock.

// readEntryUnsafe loads a full entry row by id.
// MUST be called while holding at least a read lock.
func (ss *SQLiteStore) readEntryUnsafe(ctx context.Context, id int64) (*data.Entry, error) {
	var entry data.Entry
	var etag, contentType, attributesJSON sql.NullString
	var mtime, storageMTime int64

	err := ss.db.QueryRowContext(ctx, `
		SELECT id, parent_id, path, type, size, mtime, storage_mtime, etag, content_type, attributes
		FROM fsc_entries WHERE id = ?
	`, id).Scan(&entry.ID, &entry.ParentID, &entry.Path, &entry.Type, &entry.Size,
		&mtime, &storageMTime, &etag, &contentType, &attributesJSON)

	if err == sql.ErrNoRows {
		return nil, data.ErrNotExist
	}
	if err != nil {
		return nil, err
	}

	entry.MTime = fromUnixNano(mtime)
	entry.StorageMTime = fromUnixNano(storageMTime)

	if etag.Valid {
		entry.ETag = etag.String
	}
	if contentType.Valid {
		entry.ContentType = data.ContentType(contentType.String)
	}

	if attributesJSON.Valid && attributesJSON.String != "" {
		if err := json.Unmarshal([]byte(attributesJSON.String), &entry.Attributes); err != nil {
			entry.Attributes = make(map[string]string)
		}
	}

	return &entry, nil
}

// updateEntryUnsafe applies a partial update by reading, patching and
// writing back the row.
// MUST be called while holding a write lock.
func (ss *SQLiteStore) updateEntryUnsafe(ctx context.Context, id int64, update *data.EntryUpdate) error {
	entry, err := ss.readEntryUnsafe(ctx, id)
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

	var attributesJSON sql.NullString
	if len(entry.Attributes) > 0 {
		bytes, err := json.Marshal(entry.Attributes)
		if err != nil {
			return err
		}
		attributesJSON = sql.NullString{String: string(bytes), Valid: true}
	}

	_, err = ss.db.ExecContext(ctx, `
		UPDATE fsc_entries
		SET parent_id = ?, path = ?, type = ?, size = ?, mtime = ?, storage_mtime = ?, etag = ?, content_type = ?, attributes = ?
		WHERE id = ?
	`, entry.ParentID, entry.Path, int(entry.Type), entry.Size,
		unixNano(entry.MTime), unixNano(entry.StorageMTime),
		nullString(entry.ETag), nullString(string(entry.ContentType)), attributesJSON, id)

	return err
}

// childIDsUnsafe resolves the ids of the direct children of path from
// the key index.
// MUST be called while holding at least a read lock.
func (ss *SQLiteStore) childIDsUnsafe(path string) []int64 {
	var ids []int64
	pivot := ""
	if path != "" {
		pivot = path + "/"
	}

	ss.keys.Ascend(pivot, func(key string, id int64) bool {
		if path != "" && !data.IsDescendantPath(path, key) {
			return false
		}
		if data.IsChildPath(path, key) {
			ids = append(ids, id)
		}

		return true
	})

	return ids
}

// descendantsUnsafe collects every cached path strictly below dir.
// MUST be called while holding at least a read lock.
func (ss *SQLiteStore) descendantsUnsafe(dir string) []string {
	var descendants []string
	pivot := ""
	if dir != "" {
		// A "dir/" pivot would skip root children sorting before '/'
		pivot = dir + "/"
	}

	ss.keys.Ascend(pivot, func(key string, _ int64) bool {
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
