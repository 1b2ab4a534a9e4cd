package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// RowsetRecord is the persisted form of one rowset: just enough to
// reconstruct a Rowset handle without reading its segment off disk.
type RowsetRecord struct {
	Level        int    `json:"level"`
	Path         string `json:"path"`
	StartVersion int64  `json:"start_version"`
	EndVersion   int64  `json:"end_version"`
	NumRows      uint32 `json:"num_rows"`
	DiskSize     int64  `json:"disk_size"`
}

// TabletSnapshot is the full persisted rowset state of one tablet.
type TabletSnapshot struct {
	TabletID uint64         `json:"tablet_id"`
	Rowsets  []RowsetRecord `json:"rowsets"`
}

// TabletMetaStore is the concrete default implementation of the "tablet
// metadata store" spec.md §1 declares out of scope as an algorithm, but
// which the control plane still needs a narrow, real implementation of to
// commit against. It persists one JSON snapshot per tablet with an
// atomic-rename write, adapted from the teacher's Manifest, plus a commit
// ledger (ledger.go): Save makes the commit record durable before it
// replaces the tablet's JSON snapshot. Tablet.ModifyRowsets has already
// made the in-memory rowset swap visible by the time SaveMeta calls Save,
// so the record does not precede that swap.
type TabletMetaStore struct {
	baseDir string
	ledger  *CommitLedger

	mu sync.Mutex
}

// NewTabletMetaStore creates a meta store rooted at baseDir.
func NewTabletMetaStore(baseDir string) (*TabletMetaStore, error) {
	metaDir := filepath.Join(baseDir, "meta")
	if err := os.MkdirAll(metaDir, 0755); err != nil {
		return nil, fmt.Errorf("create tablet meta directory: %w", err)
	}
	ledger, err := NewCommitLedger(filepath.Join(baseDir, "ledger"))
	if err != nil {
		return nil, err
	}
	return &TabletMetaStore{baseDir: metaDir, ledger: ledger}, nil
}

func (m *TabletMetaStore) path(tabletID uint64) string {
	return filepath.Join(m.baseDir, fmt.Sprintf("%d.json", tabletID))
}

// Save durably persists snap: a commit record is appended to the ledger
// first, then the JSON snapshot is written via a temp-file-plus-rename so
// a crash mid-write never leaves a torn snapshot on disk.
func (m *TabletMetaStore) Save(snap TabletSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ledger.Append(CommitRecord{
		TabletID:    snap.TabletID,
		RowsetCount: len(snap.Rowsets),
	}); err != nil {
		return fmt.Errorf("append commit ledger record: %w", err)
	}

	path := m.path(snap.TabletID)
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create tablet meta file: %w", err)
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		f.Close()
		return fmt.Errorf("encode tablet meta: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync tablet meta file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close tablet meta file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename tablet meta file: %w", err)
	}
	return nil
}

// Load reads the persisted snapshot for tabletID. It returns an empty
// snapshot, not an error, if no metadata has ever been saved for it.
func (m *TabletMetaStore) Load(tabletID uint64) (TabletSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.path(tabletID)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return TabletSnapshot{TabletID: tabletID}, nil
	} else if err != nil {
		return TabletSnapshot{}, fmt.Errorf("open tablet meta file: %w", err)
	}
	defer f.Close()

	var snap TabletSnapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return TabletSnapshot{}, fmt.Errorf("decode tablet meta: %w", err)
	}
	return snap, nil
}

// Close closes the underlying commit ledger.
func (m *TabletMetaStore) Close() error {
	return m.ledger.Close()
}
