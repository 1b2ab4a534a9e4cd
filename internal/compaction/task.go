package compaction

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// State is a compaction task's lifecycle state (spec.md §3/§4.A).
type State int32

const (
	StateCreated State = iota
	StateRegistered
	StateRunning
	StateCommitted
	StateFailed
	StateCancelled
	StateUnregistered
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateRegistered:
		return "REGISTERED"
	case StateRunning:
		return "RUNNING"
	case StateCommitted:
		return "COMMITTED"
	case StateFailed:
		return "FAILED"
	case StateCancelled:
		return "CANCELLED"
	case StateUnregistered:
		return "UNREGISTERED"
	default:
		return "UNKNOWN"
	}
}

// Algorithm is the row-merge strategy a task runs (spec.md §3/§4.A/§4.E).
type Algorithm int

const (
	AlgorithmHorizontal Algorithm = iota
	AlgorithmVertical
)

func (a Algorithm) String() string {
	if a == AlgorithmVertical {
		return "VERTICAL"
	}
	return "HORIZONTAL"
}

// MergeStats is what a strategy's RunImpl reports back to the task driver.
type MergeStats struct {
	MergedRows   uint32
	FilteredRows uint32
	Output       Rowset
}

// strategy is the shared driver every compaction algorithm variant
// implements; the horizontal/vertical split is a closed tagged union with
// a common driver (run/should_stop/run_impl), not an open inheritance
// hierarchy (spec.md §9).
type strategy interface {
	Algorithm() Algorithm
	RunImpl(ctx context.Context, t *Task) (MergeStats, error)
}

// Task is a one-shot compaction job (spec.md §3/§4.A).
type Task struct {
	id       uint64
	tablet   Tablet
	tabletID uint64
	level    int
	strategy strategy

	inputRowsets       []Rowset
	outputVersion      Version
	inputRowsNum       uint32
	inputRowsetsSize   int64
	segmentIteratorNum int
	dataDirPath        string

	registry  *CandidateRegistry
	cache     *WarmCache
	newRowset RowsetFactory
	log       *zap.Logger
	metrics   *Metrics

	state     atomic.Int32
	cancelled atomic.Bool

	heldLock  func() // releases the tablet's cumulative/base lock, set by the scheduler
	startTime time.Time
	endTime   time.Time
}

func (t *Task) State() State { return State(t.state.Load()) }
func (t *Task) setState(s State) { t.state.Store(int32(s)) }

// Cancel requests cooperative cancellation; ShouldStop will observe it on
// the next poll.
func (t *Task) Cancel() { t.cancelled.Store(true) }

// ShouldStop reports whether run_impl must bail promptly: engine shutdown,
// the runtime kill switch, or task-local cancellation (spec.md §4.A).
func (t *Task) ShouldStop(bgWorkerStopped bool, enableCompaction bool) bool {
	return bgWorkerStopped || !enableCompaction || t.cancelled.Load()
}

// TabletID, Level, Algorithm, InputRows, InputBytes expose the fields the
// scheduler's pool-routing decision and logging need.
func (t *Task) TabletID() uint64  { return t.tabletID }
func (t *Task) Level() int        { return t.level }
func (t *Task) InputRows() uint32 { return t.inputRowsNum }
func (t *Task) InputBytes() int64 { return t.inputRowsetsSize }

// Run is the single-call entry point a worker invokes. It registers under
// quotas, executes run_impl, commits, runs callbacks and on every exit
// path releases the compaction slot, unregisters, and re-feeds the tablet
// into the registry if further work remains (spec.md §4.A).
func (t *Task) Run(ctx context.Context, cfg *Config) {
	if !t.registry.RegisterTask(t, cfg) {
		t.log.Debug("compaction task registration rejected", zap.Uint64("task_id", t.id))
		if t.heldLock != nil {
			t.heldLock()
		}
		t.tablet.ResetCompaction()
		return
	}
	t.setState(StateRegistered)

	defer func() {
		t.registry.UnregisterTask(t)
		t.setState(StateUnregistered)
		if t.heldLock != nil {
			t.heldLock()
		}
		t.tablet.ResetCompaction()
		if t.tablet.NeedCompaction() {
			t.registry.UpdateCandidateAsync(t.tablet)
		}
	}()

	t.startTime = time.Now()
	t.setState(StateRunning)

	stats, err := t.strategy.RunImpl(ctx, t)

	t.endTime = time.Now()
	outcome := "committed"
	defer func() {
		t.metrics.TaskDuration.WithLabelValues(levelLabel(t.level), t.strategy.Algorithm().String(), outcome).
			Observe(t.endTime.Sub(t.startTime).Seconds())
	}()

	if err != nil {
		outcome = t.failureOutcome(err)
		return
	}

	if err := t.validate(stats); err != nil {
		outcome = t.failureOutcome(err)
		return
	}

	if err := t.commit(stats); err != nil {
		outcome = t.failureOutcome(err)
		return
	}

	t.setState(StateCommitted)
	outcome = "committed"
	t.onSuccess(stats)
}

func (t *Task) failureOutcome(err error) string {
	if errors.Is(err, ErrCancelled) || t.cancelled.Load() {
		t.setState(StateCancelled)
		t.metrics.TasksCancelled.Inc()
		t.log.Info("compaction task cancelled", zap.Uint64("task_id", t.id), zap.Error(err))
		return "cancelled"
	}
	if errors.Is(err, ErrInvariantViolated) {
		t.setState(StateFailed)
		t.onFailure(err)
		t.log.Error("compaction invariant violated, halting scheduler",
			zap.Uint64("task_id", t.id), zap.Uint64("tablet_id", t.tabletID), zap.Error(err))
		t.registry.HaltSchedulers()
		return "invariant_violated"
	}
	t.setState(StateFailed)
	t.onFailure(err)
	return "failed"
}

// validate enforces input_rows == output_rows + merged_rows + filtered_rows
// (spec.md §4.A Validation).
func (t *Task) validate(stats MergeStats) error {
	var outputRows uint32
	if stats.Output != nil {
		outputRows = stats.Output.NumRows()
	}
	if t.inputRowsNum != outputRows+stats.MergedRows+stats.FilteredRows {
		return fmt.Errorf("%w: input_rows=%d output_rows=%d merged=%d filtered=%d",
			ErrValidationFailed, t.inputRowsNum, outputRows, stats.MergedRows, stats.FilteredRows)
	}
	return nil
}

// commit holds the tablet's header lock exclusively and atomically
// substitutes the input rowsets for the output rowset, persisting
// metadata to stable storage. It either fully succeeds or, on failure,
// leaves the tablet metadata untouched (spec.md §4.A Commit).
func (t *Task) commit(stats MergeStats) error {
	hl := t.tablet.HeaderLock()
	hl.Lock()
	defer hl.Unlock()

	var added []Rowset
	if stats.Output != nil {
		added = []Rowset{stats.Output}
	}
	if err := t.tablet.ModifyRowsets(added, t.inputRowsets); err != nil {
		if errors.Is(err, ErrInvariantViolated) {
			return fmt.Errorf("modify rowsets: %w", err)
		}
		return fmt.Errorf("%w: modify rowsets: %v", ErrIoError, err)
	}
	if err := t.tablet.SaveMeta(); err != nil {
		return fmt.Errorf("%w: save meta: %v", ErrIoError, err)
	}
	return nil
}

func (t *Task) onSuccess(stats MergeStats) {
	nowMs := time.Now().UnixMilli()
	if t.level == LevelCumulative {
		t.tablet.SetLastCumuSuccessTimeMillis(nowMs)
	} else {
		t.tablet.SetLastBaseSuccessTimeMillis(nowMs)
	}
	t.metrics.TasksCommitted.Inc()
	t.metrics.BytesMerged.Add(float64(t.inputRowsetsSize))
	t.metrics.RowsFiltered.Add(float64(stats.FilteredRows))

	if stats.Output != nil && t.cache != nil {
		key := fmt.Sprintf("%d:%d:%d", t.tabletID, stats.Output.StartVersion(), stats.Output.EndVersion())
		t.cache.Preload(key, stats.Output)
	}

	t.log.Info("compaction task committed",
		zap.Uint64("task_id", t.id), zap.Uint64("tablet_id", t.tabletID),
		zap.Int("level", t.level), zap.String("algorithm", t.strategy.Algorithm().String()),
		zap.Duration("duration", t.endTime.Sub(t.startTime)))
}

func (t *Task) onFailure(err error) {
	nowMs := time.Now().UnixMilli()
	if t.level == LevelCumulative {
		t.tablet.SetLastCumuFailureTimeMillis(nowMs)
	} else {
		t.tablet.SetLastBaseFailureTimeMillis(nowMs)
	}
	t.metrics.TasksFailed.Inc()
	t.log.Warn("compaction task failed",
		zap.Uint64("task_id", t.id), zap.Uint64("tablet_id", t.tabletID),
		zap.Int("level", t.level), zap.Error(err))
}
