// Package options provides data structures and functions for configuring
// the storage engine. It defines the parameters that control its storage
// behavior, performance, and maintenance operations: directory path,
// memtable capacity, reclaim cadence, and the live-ratio target that drives
// reclaim candidate selection.
package options

import (
	"strings"
	"time"

	"github.com/ignitedb/ignite/pkg/errors"
)

// Defines the configuration parameters for the data store.
// It provides control over storage, performance, and maintenance aspects.
type Options struct {
	// Specifies the base path where disktables and the manifest are stored.
	//
	// Default: "/var/lib/ignitedb"
	DataDir string `json:"dataDir"`

	// Defines how often the reclaimer runs to compact disktables with a low
	// live-byte ratio. More frequent reclaim means tighter disk usage but
	// higher background I/O overhead.
	//
	// Default: 5h
	ReclaimInterval time.Duration `json:"reclaimInterval"`

	// Defines the maximum number of bytes the active memtable may hold
	// before it is sealed and flushed to a new disktable.
	//
	// Default: 16MB
	MemtableMaxSizeBytes uint64 `json:"memtableMaxSizeBytes"`

	// Defines the live-byte ratio below which a disktable becomes eligible
	// for reclaim. A disktable at or above this ratio is left alone even if
	// it is the table with the lowest ratio on hand.
	//
	// Default: 0.5
	DisktableTargetUsageRatio float64 `json:"disktableTargetUsageRatio"`
}

// OptionFunc is a function type that modifies the data store's
// configuration.
type OptionFunc func(*Options)

// Applies a predefined set of default configuration values to the Options
// struct.
func WithDefaultOptions() OptionFunc {
	return func(o *Options) {
		opts := NewDefaultOptions()
		o.DataDir = opts.DataDir
		o.ReclaimInterval = opts.ReclaimInterval
		o.MemtableMaxSizeBytes = opts.MemtableMaxSizeBytes
		o.DisktableTargetUsageRatio = opts.DisktableTargetUsageRatio
	}
}

// Sets the primary data directory.
func WithDataDir(directory string) OptionFunc {
	return func(o *Options) {
		directory = strings.TrimSpace(directory)
		if directory != "" {
			o.DataDir = directory
		}
	}
}

// Sets the interval at which the reclaimer runs.
func WithReclaimInterval(interval time.Duration) OptionFunc {
	return func(o *Options) {
		if interval > 0 {
			o.ReclaimInterval = interval
		}
	}
}

// Sets the maximum size of the active memtable before it is sealed.
func WithMemtableMaxSizeBytes(size uint64) OptionFunc {
	return func(o *Options) {
		if size >= MinMemtableSizeBytes && size <= MaxMemtableSizeBytes {
			o.MemtableMaxSizeBytes = size
		}
	}
}

// Sets the live-ratio threshold the reclaimer selects candidates below.
func WithDisktableTargetUsageRatio(ratio float64) OptionFunc {
	return func(o *Options) {
		if ratio > 0 && ratio <= 1 {
			o.DisktableTargetUsageRatio = ratio
		}
	}
}

// Validate checks that the fully-assembled Options are internally
// consistent, returning the first violation found.
func (o *Options) Validate() error {
	if strings.TrimSpace(o.DataDir) == "" {
		return errors.NewConfigurationValidationError("dataDir", "must not be empty")
	}
	if o.MemtableMaxSizeBytes < MinMemtableSizeBytes || o.MemtableMaxSizeBytes > MaxMemtableSizeBytes {
		return errors.NewFieldRangeError(
			"memtableMaxSizeBytes", o.MemtableMaxSizeBytes, MinMemtableSizeBytes, MaxMemtableSizeBytes,
		)
	}
	if o.DisktableTargetUsageRatio <= 0 || o.DisktableTargetUsageRatio > 1 {
		return errors.NewConfigurationValidationError(
			"disktableTargetUsageRatio", "must be in the range (0, 1]",
		)
	}
	if o.ReclaimInterval <= 0 {
		return errors.NewConfigurationValidationError("reclaimInterval", "must be positive")
	}
	return nil
}
