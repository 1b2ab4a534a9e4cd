package storage

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/vortexdb/compactord/internal/compaction"
	"go.uber.org/zap"
)

// Tablet is the unit of compaction (spec.md §3): a stable id, a data-dir
// handle, a compaction context holding leveled rowset sets and per-level
// scores, per-level success/failure timestamps, a cumulative lock and a
// base lock, a header lock, and a current compaction task slot.
type Tablet struct {
	id      uint64
	dataDir *DataDir
	ctx     *compaction.Context
	numCols int

	state atomic.Int32 // compaction.TabletState

	cumuLock   sync.Mutex
	baseLock   sync.Mutex
	headerLock sync.RWMutex

	alterTask atomic.Pointer[AlterTask]

	compactionSlot atomic.Pointer[compaction.Task]

	lastCumuSuccessMs atomic.Int64
	lastBaseSuccessMs atomic.Int64
	lastCumuFailureMs atomic.Int64
	lastBaseFailureMs atomic.Int64

	factory   *compaction.Factory
	metaStore *TabletMetaStore
	cfgGetter func() *compaction.Config
	log       *zap.Logger
}

// defaultLevelSizeThresholds/defaultLevelCountThresholds mirror the per-level thresholds
// a real engine would derive from config; here they are fixed defaults
// matching the teacher LSM tree's level-size-ratio scoring approach.
var (
	defaultLevelSizeThresholds  = [compaction.Levels - 1]int64{64 << 20, 512 << 20}
	defaultLevelCountThresholds = [compaction.Levels - 1]int{8, 4}
)

// NewTablet creates a tablet backed by dataDir, wired to factory (for task
// materialisation) and metaStore (for persistence).
func NewTablet(id uint64, dataDir *DataDir, numColumns int, factory *compaction.Factory, metaStore *TabletMetaStore, cfgGetter func() *compaction.Config, log *zap.Logger) *Tablet {
	t := &Tablet{
		id:        id,
		dataDir:   dataDir,
		ctx:       compaction.NewContext(defaultLevelSizeThresholds, defaultLevelCountThresholds),
		numCols:   numColumns,
		factory:   factory,
		metaStore: metaStore,
		cfgGetter: cfgGetter,
		log:       log,
	}
	t.state.Store(int32(compaction.TabletRunning))
	return t
}

func (t *Tablet) ID() uint64 { return t.id }

func (t *Tablet) NeedCompaction() bool { return t.ctx.Score() > 0 }

func (t *Tablet) CompactionScore() float64 { return t.ctx.Score() }

func (t *Tablet) CompactionLevel() int { return t.ctx.SelectedLevel() }

func (t *Tablet) TabletState() compaction.TabletState {
	return compaction.TabletState(t.state.Load())
}

// SetTabletState transitions the tablet's lifecycle state.
func (t *Tablet) SetTabletState(s compaction.TabletState) { t.state.Store(int32(s)) }

func (t *Tablet) DataDir() compaction.DataDir { return t.dataDir }

func (t *Tablet) AlterTask() compaction.AlterTask {
	at := t.alterTask.Load()
	if at == nil {
		return nil
	}
	return at
}

// SetAlterTask records an in-flight alter task against this tablet, or
// clears it if at is nil.
func (t *Tablet) SetAlterTask(at *AlterTask) { t.alterTask.Store(at) }

// GetCompaction returns the tablet's current compaction task slot. With
// create=true and no current task, it asks the context for the rowsets at
// the selected level and has the factory materialise a task from them; a
// nil return (factory failure, or nothing worth compacting) leaves the
// slot empty (spec.md §4.C/§4.E).
func (t *Tablet) GetCompaction(create bool) *compaction.Task {
	if cur := t.compactionSlot.Load(); cur != nil {
		return cur
	}
	if !create {
		return nil
	}

	level := t.ctx.SelectedLevel()
	rowsets := t.ctx.RowsetsAtLevel(level)
	if len(rowsets) < 2 {
		return nil
	}

	outputVersion := unionVersion(rowsets)
	task, err := t.factory.Create(context.Background(), t, rowsets, outputVersion, level, t.cfgGetter())
	if err != nil {
		t.log.Warn("failed to materialise compaction task", zap.Uint64("tablet_id", t.id), zap.Error(err))
		return nil
	}
	t.compactionSlot.Store(task)
	return task
}

// ResetCompaction clears the compaction slot. It must be called on every
// exit path from a task, successful or not, so later candidate
// evaluations do not falsely report "task in progress" (spec.md §4.C).
func (t *Tablet) ResetCompaction() { t.compactionSlot.Store(nil) }

func (t *Tablet) CumulativeLock() *sync.Mutex { return &t.cumuLock }
func (t *Tablet) BaseLock() *sync.Mutex       { return &t.baseLock }
func (t *Tablet) HeaderLock() *sync.RWMutex   { return &t.headerLock }

// ModifyRowsets atomically substitutes added for removed in the tablet's
// leveled rowset sets. The caller must already hold the header lock
// (spec.md §4.A Commit). Cumulative-level output is promoted to the base
// level; base-level output is promoted to the terminal level, matching a
// classic leveled-compaction graduation policy.
func (t *Tablet) ModifyRowsets(added, removed []compaction.Rowset) error {
	for _, r := range removed {
		for l := 0; l < compaction.Levels; l++ {
			t.ctx.RemoveRowset(l, r)
		}
		t.dataDir.AddUsedBytes(-r.DataDiskSize())
	}
	for _, r := range added {
		targetLevel := compaction.LevelBase
		if t.ctx.SelectedLevel() == compaction.LevelBase {
			targetLevel = compaction.Levels - 1
		}
		if err := t.ctx.AddRowset(targetLevel, r); err != nil {
			return fmt.Errorf("add output rowset to level %d: %w", targetLevel, err)
		}
		t.dataDir.AddUsedBytes(r.DataDiskSize())
	}
	t.ctx.Recompute()
	return nil
}

// SaveMeta persists the tablet's current rowset state via the meta store.
func (t *Tablet) SaveMeta() error {
	return t.metaStore.Save(t.Snapshot())
}

// Snapshot captures the tablet's rowset state across all levels as a
// TabletSnapshot suitable for persistence.
func (t *Tablet) Snapshot() TabletSnapshot {
	snap := TabletSnapshot{TabletID: t.id}
	for l := 0; l < compaction.Levels; l++ {
		for _, r := range t.ctx.RowsetsAtLevel(l) {
			rs, ok := r.(*Rowset)
			if !ok {
				continue
			}
			snap.Rowsets = append(snap.Rowsets, RowsetRecord{
				Level:        l,
				Path:         rs.Path(),
				StartVersion: rs.StartVersion(),
				EndVersion:   rs.EndVersion(),
				NumRows:      rs.NumRows(),
				DiskSize:     rs.DataDiskSize(),
			})
		}
	}
	return snap
}

func (t *Tablet) NumColumns() int { return t.numCols }

func (t *Tablet) LastCumuFailureTimeMillis() int64 { return t.lastCumuFailureMs.Load() }
func (t *Tablet) LastBaseFailureTimeMillis() int64 { return t.lastBaseFailureMs.Load() }

func (t *Tablet) SetLastCumuSuccessTimeMillis(ms int64) { t.lastCumuSuccessMs.Store(ms) }
func (t *Tablet) SetLastBaseSuccessTimeMillis(ms int64) { t.lastBaseSuccessMs.Store(ms) }
func (t *Tablet) SetLastCumuFailureTimeMillis(ms int64) { t.lastCumuFailureMs.Store(ms) }
func (t *Tablet) SetLastBaseFailureTimeMillis(ms int64) { t.lastBaseFailureMs.Store(ms) }

// Recompute asks the tablet's context to recompute its score/level after
// an external mutation (e.g. a new rowset ingested), then asynchronously
// re-registers the tablet with the candidate registry (spec.md §4.F).
func (t *Tablet) Recompute(registry *compaction.CandidateRegistry) {
	t.ctx.Recompute()
	registry.UpdateCandidateAsync(t)
}

// AddRowset inserts a freshly-ingested rowset at the cumulative level,
// recomputes the tablet's score, and re-enters the tablet into the
// registry so a newly-eligible tablet actually gets picked up by the
// scheduler (used by ingestion, not compaction; spec.md §4.F).
func (t *Tablet) AddRowset(r compaction.Rowset, registry *compaction.CandidateRegistry) error {
	if err := t.ctx.AddRowset(compaction.LevelCumulative, r); err != nil {
		return err
	}
	t.dataDir.AddUsedBytes(r.DataDiskSize())
	t.Recompute(registry)
	return nil
}

func unionVersion(rowsets []compaction.Rowset) compaction.Version {
	v := compaction.Version{Start: rowsets[0].StartVersion(), End: rowsets[0].EndVersion()}
	for _, r := range rowsets[1:] {
		if r.StartVersion() < v.Start {
			v.Start = r.StartVersion()
		}
		if r.EndVersion() > v.End {
			v.End = r.EndVersion()
		}
	}
	return v
}
