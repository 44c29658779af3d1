package storage

import (
	"context"
	"time"

	"github.com/mwantia/fsmirror/data"
)

// FileInfo is the physical state of a single node as observed on a
// storage backend.
type FileInfo struct {
	// Path relative to the storage root ("" = root)
	Path string `json:"path"`

	// Type of node (file or directory)
	Type data.FileType `json:"type"`

	// Size in bytes (0 for directories)
	Size int64 `json:"size"`

	// Physical last-modified timestamp
	MTime time.Time `json:"mtime"`

	// Content MIME type, may be extension-derived
	ContentType data.ContentType `json:"content_type"`
}

// IsDir returns true if this node is a directory.
func (fi *FileInfo) IsDir() bool {
	return fi.Type == data.TypeDirectory
}

// Storage is the physical backend a cache mirrors. The updater only
// ever reads from it; all writes happen through higher layers.
type Storage interface {
	// Name returns the identifier name defined for this storage
	Name() string
	// Open is part of the lifecycle behaviour and gets called when opening this storage.
	Open(ctx context.Context) error
	// Close is part of the lifecycle behaviour and gets called when closing this storage.
	Close(ctx context.Context) error

	// Stat returns the physical state of the node at path.
	// Returns data.ErrNotExist if the node is not present.
	Stat(ctx context.Context, path string) (*FileInfo, error)

	// FileMTime returns the physical last-modified timestamp of path.
	FileMTime(ctx context.Context, path string) (time.Time, error)

	// ContentType resolves the MIME type of the node at path.
	ContentType(ctx context.Context, path string) (data.ContentType, error)

	// List returns the direct children of the directory at path.
	List(ctx context.Context, path string) ([]*FileInfo, error)
}
