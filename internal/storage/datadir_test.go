package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDataDirCapacityTracking(t *testing.T) {
	dir := t.TempDir()
	dd, err := NewDataDir(filepath.Join(dir, "d0"), 100)
	require.NoError(t, err)

	require.False(t, dd.ReachCapacityLimit(50))
	dd.AddUsedBytes(60)
	require.True(t, dd.ReachCapacityLimit(40))
	require.Equal(t, int64(60), dd.UsedBytes())

	dd.AddUsedBytes(-60)
	require.Equal(t, int64(0), dd.UsedBytes())
}

func TestDataDirUnlimitedCapacityNeverFull(t *testing.T) {
	dir := t.TempDir()
	dd, err := NewDataDir(filepath.Join(dir, "d0"), -1)
	require.NoError(t, err)

	dd.AddUsedBytes(1 << 40)
	require.False(t, dd.ReachCapacityLimit(1 << 40))
}
