package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vortexdb/compactord/internal/compaction"
	"github.com/vortexdb/compactord/internal/data/compress"
	"go.uber.org/zap"
)

// TabletManager is the tablet lifecycle owner the control plane treats as
// an external collaborator (spec.md §3: "tablets are owned and created by
// an external tablet manager"). It integrates the data dirs, the meta
// store, and the checkpointer, adapted from the teacher's Engine, which
// plays the same integrating role for its LSM tree, WAL, and compaction
// manager.
type TabletManager struct {
	baseDir string

	mu      sync.RWMutex
	tablets map[uint64]*Tablet
	nextID  uint64

	dataDirs  []*DataDir
	metaStore *TabletMetaStore
	checkpt   *Checkpointer

	registry  *compaction.CandidateRegistry
	factory   *compaction.Factory
	cfgGetter func() *compaction.Config
	log       *zap.Logger

	checkpointInterval time.Duration
	stopCh             chan struct{}
	closeOnce          sync.Once
}

// TabletManagerOpts bundles the collaborators a TabletManager needs, all
// already constructed by cmd/compactiond's wiring.
type TabletManagerOpts struct {
	BaseDir            string
	NumDataDirs        int
	DataDirCapacity    int64
	Registry           *compaction.CandidateRegistry
	Cache              *compaction.WarmCache
	Compressor         compress.Compressor
	CfgGetter          func() *compaction.Config
	Metrics            *compaction.Metrics
	Log                *zap.Logger
	CheckpointInterval time.Duration
}

// NewTabletManager creates a tablet manager rooted at opts.BaseDir,
// restoring any tablets found in the last checkpoint plus any commits made
// after it (spec.md §4.A recovery path).
func NewTabletManager(opts TabletManagerOpts) (*TabletManager, error) {
	if err := os.MkdirAll(opts.BaseDir, 0755); err != nil {
		return nil, fmt.Errorf("create tablet manager base directory: %w", err)
	}

	numDirs := opts.NumDataDirs
	if numDirs < 1 {
		numDirs = 1
	}
	dataDirs := make([]*DataDir, numDirs)
	for i := 0; i < numDirs; i++ {
		dir := filepath.Join(opts.BaseDir, fmt.Sprintf("data%d", i))
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create data directory %d: %w", i, err)
		}
		dd, err := NewDataDir(dir, opts.DataDirCapacity)
		if err != nil {
			return nil, fmt.Errorf("init data directory %d: %w", i, err)
		}
		dataDirs[i] = dd
	}

	metaStore, err := NewTabletMetaStore(opts.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("create tablet meta store: %w", err)
	}
	checkpt, err := NewCheckpointer(opts.BaseDir)
	if err != nil {
		metaStore.Close()
		return nil, fmt.Errorf("create checkpointer: %w", err)
	}

	newRowset := NewRowsetFactory(opts.Compressor)
	factory := compaction.NewFactory(opts.Registry, opts.Cache, newRowset, opts.Log, opts.Metrics)

	interval := opts.CheckpointInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	m := &TabletManager{
		baseDir:            opts.BaseDir,
		tablets:            make(map[uint64]*Tablet),
		dataDirs:           dataDirs,
		metaStore:          metaStore,
		checkpt:            checkpt,
		registry:           opts.Registry,
		factory:            factory,
		cfgGetter:          opts.CfgGetter,
		log:                opts.Log,
		checkpointInterval: interval,
		stopCh:             make(chan struct{}),
	}

	if err := m.recover(newRowset); err != nil {
		return nil, fmt.Errorf("recover tablets: %w", err)
	}

	go m.checkpt.Run(m.checkpointInterval, m.SnapshotAll, m.stopCh)

	return m, nil
}

// recover rebuilds every tablet found in the last checkpoint, reading
// each tablet's own meta-store snapshot (which is at least as fresh as
// the checkpoint, since SaveMeta is called synchronously on every commit)
// rather than trusting the checkpoint's copy alone.
func (m *TabletManager) recover(newRowset compaction.RowsetFactory) error {
	snap, err := m.checkpt.Load()
	if err != nil {
		return err
	}

	seen := make(map[uint64]bool, len(snap.Tablets))
	for _, ts := range snap.Tablets {
		seen[ts.TabletID] = true
	}

	for tabletID := range seen {
		latest, err := m.metaStore.Load(tabletID)
		if err != nil {
			return fmt.Errorf("load tablet %d metadata: %w", tabletID, err)
		}
		if err := m.restoreTablet(latest, newRowset); err != nil {
			return fmt.Errorf("restore tablet %d: %w", tabletID, err)
		}
	}
	return nil
}

func (m *TabletManager) restoreTablet(snap TabletSnapshot, newRowset compaction.RowsetFactory) error {
	numCols := 1
	dd := m.dataDirs[snap.TabletID%uint64(len(m.dataDirs))]
	t := NewTablet(snap.TabletID, dd, numCols, m.factory, m.metaStore, m.cfgGetter, m.log)

	for _, rec := range snap.Rowsets {
		rs := newRowset(rec.Path, rec.StartVersion, rec.EndVersion, rec.NumRows, rec.DiskSize).(*Rowset)
		if err := t.ctx.AddRowset(rec.Level, rs); err != nil {
			return err
		}
		dd.AddUsedBytes(rec.DiskSize)
	}
	t.ctx.Recompute()

	m.mu.Lock()
	m.tablets[t.ID()] = t
	if t.ID() >= m.nextID {
		m.nextID = t.ID() + 1
	}
	m.mu.Unlock()

	m.registry.UpdateCandidateAsync(t)
	return nil
}

// CreateTablet allocates a fresh tablet with numColumns columns, assigning
// it round-robin to one of the manager's data directories.
func (m *TabletManager) CreateTablet(numColumns int) *Tablet {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	dd := m.dataDirs[id%uint64(len(m.dataDirs))]
	m.mu.Unlock()

	t := NewTablet(id, dd, numColumns, m.factory, m.metaStore, m.cfgGetter, m.log)

	m.mu.Lock()
	m.tablets[id] = t
	m.mu.Unlock()

	m.registry.UpdateCandidateAsync(t)
	return t
}

// Tablet returns the tablet with the given id, or nil if unknown.
func (m *TabletManager) Tablet(id uint64) *Tablet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tablets[id]
}

// Tablets returns a snapshot of every tablet the manager owns.
func (m *TabletManager) Tablets() []*Tablet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Tablet, 0, len(m.tablets))
	for _, t := range m.tablets {
		out = append(out, t)
	}
	return out
}

// StoresCount returns the number of data directories this manager spreads
// tablets across, used by the scheduler's per-disk capacity calculation
// (spec.md §5).
func (m *TabletManager) StoresCount() int { return len(m.dataDirs) }

// SnapshotAll returns the current rowset state of every tablet, used by
// the periodic checkpointer.
func (m *TabletManager) SnapshotAll() []TabletSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]TabletSnapshot, 0, len(m.tablets))
	for _, t := range m.tablets {
		out = append(out, t.Snapshot())
	}
	return out
}

// Close stops the background checkpointer and closes the meta store.
func (m *TabletManager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.stopCh)
		if saveErr := m.checkpt.Save(m.SnapshotAll()); saveErr != nil {
			m.log.Warn("final checkpoint failed", zap.Error(saveErr))
		}
		err = m.metaStore.Close()
	})
	return err
}
