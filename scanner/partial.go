package scanner

import "strings"

// PartialExtension is the default suffix marking transient upload
// artifacts that are excluded from every cache operation.
const PartialExtension = ".part"

// IsPartialPath classifies a path as an in-transit artifact using the
// given suffix. A path is partial when any of its segments carries the
// suffix, so descendants of a partial directory are partial too.
//
// Partial paths must never be scanned, inserted, propagated or used to
// trigger ancestor correction.
func IsPartialPath(path, suffix string) bool {
	if path == "" || suffix == "" {
		return false
	}

	for _, segment := range strings.Split(path, "/") {
		if strings.HasSuffix(segment, suffix) {
			return true
		}
	}

	return false
}

// IsPartialFile classifies a path using the default suffix.
func IsPartialFile(path string) bool {
	return IsPartialPath(path, PartialExtension)
}
