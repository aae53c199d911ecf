package options

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWithDefaultOptionsAppliesDefaults(t *testing.T) {
	var o Options
	WithDefaultOptions()(&o)
	require.NoError(t, o.Validate())
	require.Equal(t, DefaultDataDir, o.DataDir)
}

func TestWithDataDirIgnoresBlank(t *testing.T) {
	o := NewDefaultOptions()
	WithDataDir("  ")(&o)
	require.Equal(t, DefaultDataDir, o.DataDir)

	WithDataDir("/tmp/store")(&o)
	require.Equal(t, "/tmp/store", o.DataDir)
}

func TestWithMemtableMaxSizeBytesRejectsOutOfRange(t *testing.T) {
	o := NewDefaultOptions()
	WithMemtableMaxSizeBytes(MinMemtableSizeBytes - 1)(&o)
	require.Equal(t, DefaultMemtableMaxSizeBytes, o.MemtableMaxSizeBytes)

	WithMemtableMaxSizeBytes(32 * 1024 * 1024)(&o)
	require.Equal(t, uint64(32*1024*1024), o.MemtableMaxSizeBytes)
}

func TestWithDisktableTargetUsageRatioRejectsOutOfRange(t *testing.T) {
	o := NewDefaultOptions()
	WithDisktableTargetUsageRatio(0)(&o)
	require.Equal(t, DefaultDisktableTargetUsageRatio, o.DisktableTargetUsageRatio)

	WithDisktableTargetUsageRatio(1.5)(&o)
	require.Equal(t, DefaultDisktableTargetUsageRatio, o.DisktableTargetUsageRatio)

	WithDisktableTargetUsageRatio(0.75)(&o)
	require.Equal(t, 0.75, o.DisktableTargetUsageRatio)
}

func TestValidateRejectsEmptyDataDir(t *testing.T) {
	o := NewDefaultOptions()
	o.DataDir = ""
	require.Error(t, o.Validate())
}

func TestValidateRejectsZeroReclaimInterval(t *testing.T) {
	o := NewDefaultOptions()
	o.ReclaimInterval = 0
	require.Error(t, o.Validate())
}

func TestWithReclaimIntervalRejectsNonPositive(t *testing.T) {
	o := NewDefaultOptions()
	WithReclaimInterval(-time.Second)(&o)
	require.Equal(t, DefaultReclaimInterval, o.ReclaimInterval)
}
