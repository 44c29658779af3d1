package data

import (
	"encoding/json"
	"maps"
	"time"

	"github.com/google/uuid"
)

// EntryIDAbsent is the sentinel id returned when a path is not present
// in a cache store.
const EntryIDAbsent int64 = -1

// FileType identifies the type of a cached node.
type FileType int

const (
	TypeFile      FileType = iota // Regular file
	TypeDirectory                 // Directory
)

// Entry is a single row of the metadata cache. It mirrors the state of
// one node on the backing storage.
//
// MTime is the logical last-modified timestamp driven by change
// propagation; StorageMTime is the physical timestamp last observed on
// the backend. The two legitimately diverge, e.g. a move changes the
// physical mtime without representing a content change.
type Entry struct {
	// Identity within one cache store
	ID int64 `json:"id"`

	// Id of the parent directory entry, EntryIDAbsent if unknown
	ParentID int64 `json:"parent_id"`

	// Slash-separated path relative to the storage root ("" = root)
	Path string `json:"path"`

	// Type of node (file or directory)
	Type FileType `json:"type"`

	// Size in bytes; for directories the sum of cached children sizes
	Size int64 `json:"size"`

	// Logical last-modified, advanced by propagation
	MTime time.Time `json:"mtime"`

	// Physical last-modified as last observed from the backend
	StorageMTime time.Time `json:"storage_mtime"`

	// Change token, replaced on every propagated change
	ETag string `json:"etag"`

	// Content MIME type
	ContentType ContentType `json:"content_type"`

	// Extended metadata (checksum, encoding, ...)
	Attributes map[string]string `json:"attributes,omitempty"`
}

// NewETag returns a fresh change token.
func NewETag() string {
	return uuid.Must(uuid.NewV7()).String()
}

// IsDir returns true if this entry describes a directory.
func (e *Entry) IsDir() bool {
	return e.Type == TypeDirectory
}

// Name returns the base name of the entry path.
func (e *Entry) Name() string {
	return BaseName(e.Path)
}

// Clone creates a copy of the entry including its attributes map.
func (e *Entry) Clone() *Entry {
	clone := *e
	clone.Attributes = e.CloneAttributes()

	return &clone
}

// CloneAttributes creates a copy of the attributes map.
func (e *Entry) CloneAttributes() map[string]string {
	if e.Attributes == nil {
		return nil
	}

	clone := make(map[string]string, len(e.Attributes))
	maps.Copy(clone, e.Attributes)

	return clone
}

// Marshal provides JSON serialization for Entry.
func (e *Entry) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal provides JSON deserialization for Entry.
func (e *Entry) Unmarshal(data []byte) error {
	return json.Unmarshal(data, &e)
}
