package compaction

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubStrategy struct {
	algo  Algorithm
	stats MergeStats
	err   error
}

func (s *stubStrategy) Algorithm() Algorithm { return s.algo }
func (s *stubStrategy) RunImpl(ctx context.Context, t *Task) (MergeStats, error) {
	return s.stats, s.err
}

func newTestTask(t *testing.T, registry *CandidateRegistry, tablet *fakeTablet, strat strategy, inputRows uint32) (*Task, *Metrics) {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	return &Task{
		id:           1,
		tablet:       tablet,
		tabletID:     tablet.ID(),
		level:        LevelCumulative,
		strategy:     strat,
		inputRowsNum: inputRows,
		dataDirPath:  "disk0",
		registry:     registry,
		newRowset:    func(path string, sv, ev int64, nr uint32, ds int64) Rowset { return &fakeRowset{start: sv, end: ev} },
		log:          zap.NewNop(),
		metrics:      metrics,
	}, metrics
}

func TestTaskRunCommitsOnSuccess(t *testing.T) {
	r := newTestRegistry(t)
	defer r.Close()

	tablet := newFakeTablet(1, 2.0)
	strat := &stubStrategy{
		algo:  AlgorithmHorizontal,
		stats: MergeStats{Output: &fakeRowset{start: 1, end: 2, entries: nil}, MergedRows: 0, FilteredRows: 0},
	}
	task, metrics := newTestTask(t, r, tablet, strat, 0)

	task.Run(context.Background(), baseCfg())

	require.Equal(t, StateUnregistered, task.State())
	require.True(t, tablet.cumuSuccessCalled)
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.TasksCommitted))
	require.Equal(t, 0, r.RunningTasksNum())
	require.Nil(t, tablet.GetCompaction(false))
}

func TestTaskRunFailsValidationOnRowCountMismatch(t *testing.T) {
	r := newTestRegistry(t)
	defer r.Close()

	tablet := newFakeTablet(1, 2.0)
	strat := &stubStrategy{
		algo:  AlgorithmHorizontal,
		stats: MergeStats{Output: &fakeRowset{start: 1, end: 2, entries: nil}, MergedRows: 0, FilteredRows: 0},
	}
	task, metrics := newTestTask(t, r, tablet, strat, 5) // input says 5 rows, output has 0

	task.Run(context.Background(), baseCfg())

	require.Equal(t, StateUnregistered, task.State())
	require.True(t, tablet.cumuFailureCalled)
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.TasksFailed))
}

func TestTaskRunCancelledPropagates(t *testing.T) {
	r := newTestRegistry(t)
	defer r.Close()

	tablet := newFakeTablet(1, 2.0)
	strat := &stubStrategy{algo: AlgorithmHorizontal, err: errors.Join(ErrCancelled, errors.New("ctx done"))}
	task, metrics := newTestTask(t, r, tablet, strat, 0)

	task.Run(context.Background(), baseCfg())

	require.Equal(t, StateUnregistered, task.State())
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.TasksCancelled))
}

func TestTaskRunInvariantViolatedHaltsScheduler(t *testing.T) {
	r := newTestRegistry(t)
	defer r.Close()
	s := newTestScheduler(t, r)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	tablet := newFakeTablet(1, 2.0)
	strat := &stubStrategy{
		algo: AlgorithmHorizontal,
		err:  fmt.Errorf("modify rowsets: %w", ErrInvariantViolated),
	}
	task, metrics := newTestTask(t, r, tablet, strat, 0)

	task.Run(context.Background(), baseCfg())

	require.Equal(t, StateUnregistered, task.State())
	require.True(t, tablet.cumuFailureCalled)
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.TasksFailed))

	select {
	case <-s.doneCh:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not halt after an invariant violation")
	}
}

func TestTaskRunRejectedByQuotaReleasesLockAndResetsSlot(t *testing.T) {
	r := newTestRegistry(t)
	defer r.Close()

	tablet := newFakeTablet(1, 2.0)
	tablet.slot = &Task{id: 999}
	strat := &stubStrategy{algo: AlgorithmHorizontal}
	task, _ := newTestTask(t, r, tablet, strat, 0)

	released := false
	task.heldLock = func() { released = true }

	cfg := baseCfg()
	cfg.MaxCompactionTaskNum = 0
	task.Run(context.Background(), cfg)

	require.True(t, released)
	require.Nil(t, tablet.slot)
}
