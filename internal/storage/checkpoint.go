package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// CheckpointData is a full-engine snapshot: every tablet's rowset state
// at the moment the checkpoint was taken, used to make bootstrap fast
// without replaying the commit ledger from the beginning (adapted from
// the teacher's memtable Checkpoint).
type CheckpointData struct {
	Timestamp int64            `json:"timestamp"`
	Tablets   []TabletSnapshot `json:"tablets"`
}

// Checkpointer periodically (or on demand) writes a CheckpointData
// snapshot to disk via a temp-file-plus-rename, the same atomic-write
// idiom as TabletMetaStore.Save and the teacher's manifest/checkpoint.
type Checkpointer struct {
	path string

	mu        sync.Mutex
	lastTaken int64
}

// NewCheckpointer creates a checkpointer rooted at baseDir.
func NewCheckpointer(baseDir string) (*Checkpointer, error) {
	dir := filepath.Join(baseDir, "checkpoint")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}
	return &Checkpointer{path: filepath.Join(dir, "checkpoint.json")}, nil
}

// Save writes snapshots as a single checkpoint.
func (c *Checkpointer) Save(snapshots []TabletSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data := CheckpointData{Timestamp: time.Now().UnixNano(), Tablets: snapshots}

	tmp := c.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create checkpoint file: %w", err)
	}
	if err := json.NewEncoder(f).Encode(data); err != nil {
		f.Close()
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync checkpoint file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close checkpoint file: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("rename checkpoint file: %w", err)
	}
	c.lastTaken = data.Timestamp
	return nil
}

// Load reads the last checkpoint, or an empty one if none has been taken.
func (c *Checkpointer) Load() (CheckpointData, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := os.Open(c.path)
	if os.IsNotExist(err) {
		return CheckpointData{}, nil
	} else if err != nil {
		return CheckpointData{}, fmt.Errorf("open checkpoint file: %w", err)
	}
	defer f.Close()

	var data CheckpointData
	if err := json.NewDecoder(f).Decode(&data); err != nil {
		return CheckpointData{}, fmt.Errorf("decode checkpoint: %w", err)
	}
	c.lastTaken = data.Timestamp
	return data, nil
}

// LastTaken returns the unix-nano timestamp of the last successful Save.
func (c *Checkpointer) LastTaken() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastTaken
}

// Run periodically saves a checkpoint by calling snapshotFn, until stop
// is closed.
func (c *Checkpointer) Run(interval time.Duration, snapshotFn func() []TabletSnapshot, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			_ = c.Save(snapshotFn())
		}
	}
}
