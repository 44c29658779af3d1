package data

import "errors"

// Standard errors shared by cache stores, storages and the updater.
var (
	// Path resolution errors
	ErrInvalidPath = errors.New("fsmirror: invalid path detected")

	// Cache store errors
	ErrNotExist     = errors.New("fsmirror: entry does not exist")
	ErrExist        = errors.New("fsmirror: entry already exists")
	ErrNotDirectory = errors.New("fsmirror: not a directory")

	// Storage backend errors
	ErrStorageUnreachable = errors.New("fsmirror: storage unreachable")
	ErrOpenFailed         = errors.New("fsmirror: backend initialization failed")
	ErrPermission         = errors.New("fsmirror: permission denied")

	// Protocol errors
	ErrPartialFile = errors.New("fsmirror: partial file excluded from cache")
	ErrInvalid     = errors.New("fsmirror: invalid argument")
)
