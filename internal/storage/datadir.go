package storage

import (
	"os"
	"path/filepath"
	"sync/atomic"
)

// DataDir is a physical storage mount hosting some tablets; it is the unit
// of per-disk concurrency control the scheduler's quota filters key off.
type DataDir struct {
	path          string
	capacityBytes int64
	usedBytes     atomic.Int64
}

// NewDataDir creates a DataDir rooted at path with the given capacity. A
// capacity of -1 disables the capacity check entirely.
func NewDataDir(path string, capacityBytes int64) (*DataDir, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, err
	}
	return &DataDir{path: filepath.Clean(path), capacityBytes: capacityBytes}, nil
}

// Path returns the data-dir's root path.
func (d *DataDir) Path() string { return d.path }

// ReachCapacityLimit reports whether committing reservedBytes more data
// would exceed the data-dir's configured capacity. A disabled (-1)
// capacity never reports full.
func (d *DataDir) ReachCapacityLimit(reservedBytes int64) bool {
	if d.capacityBytes < 0 {
		return false
	}
	return d.usedBytes.Load()+reservedBytes >= d.capacityBytes
}

// AddUsedBytes adjusts the data-dir's tracked usage, positive on commit and
// negative when rowsets are superseded and reclaimed.
func (d *DataDir) AddUsedBytes(delta int64) {
	d.usedBytes.Add(delta)
}

// UsedBytes returns the data-dir's currently tracked usage.
func (d *DataDir) UsedBytes() int64 { return d.usedBytes.Load() }
