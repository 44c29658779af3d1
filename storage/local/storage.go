package local

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/mwantia/fsmirror/data"
	"github.com/mwantia/fsmirror/storage"
)

// LocalStorage exposes a directory on the local filesystem as a storage
// backend.
type LocalStorage struct {
	root string
}

func NewLocalStorage(root string) *LocalStorage {
	return &LocalStorage{
		root: filepath.Clean(root),
	}
}

// Name returns the identifier name defined for this storage
func (*LocalStorage) Name() string {
	return "local"
}

// Open is part of the lifecycle behaviour and gets called when opening this storage.
func (ls *LocalStorage) Open(ctx context.Context) error {
	// Verify the root directory exists
	info, err := os.Stat(ls.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return data.ErrOpenFailed
		}
		if errors.Is(err, fs.ErrPermission) {
			return data.ErrPermission
		}

		return data.ErrOpenFailed
	}

	// Ensure the root is a directory
	if !info.IsDir() {
		return data.ErrNotDirectory
	}

	return nil
}

// Close is part of the lifecycle behaviour and gets called when closing this storage.
func (ls *LocalStorage) Close(ctx context.Context) error {
	// The underlying filesystem persists independently
	return nil
}

// resolvePath joins the storage root with the relative path.
func (ls *LocalStorage) resolvePath(path string) string {
	if path == "" {
		return ls.root
	}

	return filepath.Join(ls.root, filepath.FromSlash(path))
}

// toFileInfo converts os.FileInfo into a storage FileInfo.
func toFileInfo(path string, fileInfo os.FileInfo) *storage.FileInfo {
	info := &storage.FileInfo{
		Path:  path,
		Size:  fileInfo.Size(),
		MTime: fileInfo.ModTime(),
	}

	if fileInfo.IsDir() {
		info.Type = data.TypeDirectory
		info.Size = 0
		info.ContentType = data.ContentTypeDirectory
	} else {
		info.Type = data.TypeFile
		info.ContentType = data.ContentTypeForPath(path)
	}

	return info
}

func (ls *LocalStorage) Stat(ctx context.Context, path string) (*storage.FileInfo, error) {
	fileInfo, err := os.Stat(ls.resolvePath(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, data.ErrNotExist
		}

		return nil, err
	}

	return toFileInfo(path, fileInfo), nil
}

func (ls *LocalStorage) FileMTime(ctx context.Context, path string) (time.Time, error) {
	fileInfo, err := os.Stat(ls.resolvePath(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return time.Time{}, data.ErrNotExist
		}

		return time.Time{}, err
	}

	return fileInfo.ModTime(), nil
}

func (ls *LocalStorage) ContentType(ctx context.Context, path string) (data.ContentType, error) {
	fileInfo, err := os.Stat(ls.resolvePath(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", data.ErrNotExist
		}

		return "", err
	}

	if fileInfo.IsDir() {
		return data.ContentTypeDirectory, nil
	}

	return data.ContentTypeForPath(path), nil
}

func (ls *LocalStorage) List(ctx context.Context, path string) ([]*storage.FileInfo, error) {
	dirEntries, err := os.ReadDir(ls.resolvePath(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, data.ErrNotExist
		}

		return nil, err
	}

	infos := make([]*storage.FileInfo, 0, len(dirEntries))
	for _, dirEntry := range dirEntries {
		fileInfo, err := dirEntry.Info()
		if err != nil {
			// Entry vanished between ReadDir and Info
			continue
		}

		infos = append(infos, toFileInfo(data.JoinPath(path, dirEntry.Name()), fileInfo))
	}

	return infos, nil
}
