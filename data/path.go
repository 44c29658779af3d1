package data

import (
	"path/filepath"
	"strings"
)

// Paths are slash-separated and relative to the storage root.
// The root itself is the empty string, never "." or "/".

// CleanPath normalizes a path into its canonical relative form.
// Leading and trailing slashes are stripped; "." and empty segments are
// dropped. Paths trying to escape the root with ".." are rejected.
func CleanPath(path string) (string, error) {
	if path == "" || path == "/" || path == "." {
		return "", nil
	}

	segments := strings.Split(path, "/")
	cleaned := make([]string, 0, len(segments))

	for _, segment := range segments {
		switch segment {
		case "", ".":
			continue
		case "..":
			if len(cleaned) == 0 {
				return "", ErrInvalidPath
			}
			cleaned = cleaned[:len(cleaned)-1]
		default:
			cleaned = append(cleaned, segment)
		}
	}

	return strings.Join(cleaned, "/"), nil
}

// ParentPath returns the path of the direct parent directory.
// The parent of a top-level entry and of the root is the root ("").
func ParentPath(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return ""
	}

	return path[:idx]
}

// Ancestors returns every ancestor of path from its direct parent up to
// and including the root. Returns nil for the root itself.
func Ancestors(path string) []string {
	if path == "" {
		return nil
	}

	var ancestors []string
	for {
		path = ParentPath(path)
		ancestors = append(ancestors, path)
		if path == "" {
			return ancestors
		}
	}
}

// BaseName returns the last segment of the path.
func BaseName(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return path
	}

	return path[idx+1:]
}

// JoinPath joins a parent path with a child name.
func JoinPath(parent, name string) string {
	if parent == "" {
		return name
	}

	return parent + "/" + name
}

// Extension returns the lowercase file extension including the dot.
// Returns an empty string if the last segment has no extension.
func Extension(path string) string {
	return strings.ToLower(filepath.Ext(BaseName(path)))
}

// IsChildPath reports whether child is a direct child of dir.
func IsChildPath(dir, child string) bool {
	return child != "" && ParentPath(child) == dir
}

// IsDescendantPath reports whether path lies strictly below dir.
func IsDescendantPath(dir, path string) bool {
	if dir == "" {
		return path != ""
	}

	return strings.HasPrefix(path, dir+"/")
}

// RebasePath translates a path below oldDir to the same position below
// newDir. The path itself maps to newDir.
func RebasePath(path, oldDir, newDir string) string {
	if path == oldDir {
		return newDir
	}

	return JoinPath(newDir, strings.TrimPrefix(path, oldDir+"/"))
}
