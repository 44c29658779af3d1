package fsmirror

import (
	"github.com/mwantia/fsmirror/log"
	"github.com/mwantia/fsmirror/scanner"
)

type VolumeOptions struct {
	// Logger shared by the volume's collaborators
	Logger *log.Logger

	// UpdaterDisabled starts the volume with cache maintenance
	// suppressed, e.g. during an initial bulk import
	UpdaterDisabled bool

	// PartialSuffix marks in-transit artifacts excluded from the cache
	PartialSuffix string
}

type VolumeOption func(*VolumeOptions) error

func newDefaultVolumeOptions() *VolumeOptions {
	return &VolumeOptions{
		Logger:        log.Discard(),
		PartialSuffix: scanner.PartialExtension,
	}
}

func WithLogger(logger *log.Logger) VolumeOption {
	return func(vo *VolumeOptions) error {
		if logger != nil {
			vo.Logger = logger
		}

		return nil
	}
}

func WithUpdaterDisabled() VolumeOption {
	return func(vo *VolumeOptions) error {
		vo.UpdaterDisabled = true
		return nil
	}
}

// WithPartialSuffix overrides the suffix marking in-transit artifacts.
func WithPartialSuffix(suffix string) VolumeOption {
	return func(vo *VolumeOptions) error {
		if suffix != "" {
			vo.PartialSuffix = suffix
		}

		return nil
	}
}
