package options

import "time"

const (
	// Specifies the default base directory where the data store will keep
	// its disktables and manifest.
	DefaultDataDir = "/var/lib/ignitedb"

	// Defines the default interval between reclaim passes.
	DefaultReclaimInterval = time.Hour * 5

	// Represents the minimum allowed memtable capacity in bytes (1MB).
	MinMemtableSizeBytes uint64 = 1 * 1024 * 1024

	// Represents the maximum allowed memtable capacity in bytes (256MB).
	MaxMemtableSizeBytes uint64 = 256 * 1024 * 1024

	// Specifies the default memtable capacity in bytes (16MB).
	DefaultMemtableMaxSizeBytes uint64 = 16 * 1024 * 1024

	// Specifies the default live-ratio threshold below which a disktable
	// becomes eligible for reclaim.
	DefaultDisktableTargetUsageRatio = 0.5
)

// Holds the default configuration settings for a data store instance.
var defaultOptions = Options{
	DataDir:                   DefaultDataDir,
	ReclaimInterval:           DefaultReclaimInterval,
	MemtableMaxSizeBytes:      DefaultMemtableMaxSizeBytes,
	DisktableTargetUsageRatio: DefaultDisktableTargetUsageRatio,
}

// NewDefaultOptions returns a copy of the package's default configuration.
func NewDefaultOptions() Options {
	return defaultOptions
}
