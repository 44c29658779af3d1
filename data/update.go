package data

import "maps"

// EntryUpdateMask controls which fields of a cache entry should be updated.
// This allows partial updates without needing to fetch and write back
// entire entries, and avoids sentinel values for "skip this field".
type EntryUpdateMask int

const (
	UpdatePath         EntryUpdateMask = 1 << iota // Update Path
	UpdateParentID                                 // Update ParentID
	UpdateSize                                     // Update Size
	UpdateMTime                                    // Update logical MTime
	UpdateStorageMTime                             // Update physical StorageMTime
	UpdateETag                                     // Update ETag
	UpdateContentType                              // Update ContentType
	UpdateAttributes                               // Update Attributes map

	UpdateAll = ^EntryUpdateMask(0) // Update all fields
)

// EntryUpdate represents a partial update to a cache entry.
type EntryUpdate struct {
	Mask  EntryUpdateMask `json:"mask"`
	Entry *Entry          `json:"entry"`
}

// Apply applies this update to an existing cache entry.
// Only the fields selected by the mask are written; everything else on
// the target is left untouched.
func (eu *EntryUpdate) Apply(target *Entry) (bool, error) {
	if eu.Entry == nil {
		return false, ErrInvalid
	}

	// Use a dedicated value to check if any
	// modification to the target has been done
	modified := false

	if eu.Mask&UpdatePath != 0 {
		target.Path = eu.Entry.Path
		modified = true
	}

	if eu.Mask&UpdateParentID != 0 {
		target.ParentID = eu.Entry.ParentID
		modified = true
	}

	if eu.Mask&UpdateSize != 0 {
		target.Size = eu.Entry.Size
		modified = true
	}

	if eu.Mask&UpdateMTime != 0 {
		target.MTime = eu.Entry.MTime
		modified = true
	}

	if eu.Mask&UpdateStorageMTime != 0 {
		target.StorageMTime = eu.Entry.StorageMTime
		modified = true
	}

	if eu.Mask&UpdateETag != 0 {
		target.ETag = eu.Entry.ETag
		modified = true
	}

	if eu.Mask&UpdateContentType != 0 {
		target.ContentType = eu.Entry.ContentType
		modified = true
	}

	if eu.Mask&UpdateAttributes != 0 {
		target.Attributes = make(map[string]string, len(eu.Entry.Attributes))
		maps.Copy(target.Attributes, eu.Entry.Attributes)
		modified = true
	}

	return modified, nil
}
