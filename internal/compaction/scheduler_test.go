package compaction

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestScheduler(t *testing.T, registry *CandidateRegistry) *Scheduler {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	pools := NewPools(4, zap.NewNop(), metrics)
	t.Cleanup(pools.Stop)

	cfgMgr, err := NewConfigManager("", zap.NewNop())
	require.NoError(t, err)

	var stopped atomic.Bool
	return NewScheduler(registry, pools, cfgMgr, func() int { return 1 }, &stopped, zap.NewNop(), metrics)
}

func baseCfg() *Config {
	return &Config{
		EnableCompaction:         true,
		MaxCompactionTaskNum:     10,
		MaxCompactionTaskPerDisk: 10,
		MaxLevel0CompactionTask:  10,
		MaxLevel1CompactionTask:  10,
		MinCompactionFailureSec:  120,
	}
}

func TestSchedulerAdmitDiscardsTabletWithNoScore(t *testing.T) {
	r := newTestRegistry(t)
	defer r.Close()
	s := newTestScheduler(t, r)

	ft := newFakeTablet(1, 0)
	_, admitted, deferIt := s.admit(ft, baseCfg())
	require.False(t, admitted)
	require.False(t, deferIt)
}

func TestSchedulerAdmitDiscardsNonRunningTablet(t *testing.T) {
	r := newTestRegistry(t)
	defer r.Close()
	s := newTestScheduler(t, r)

	ft := newFakeTablet(1, 5)
	ft.state = TabletNotReady
	_, admitted, deferIt := s.admit(ft, baseCfg())
	require.False(t, admitted)
	require.False(t, deferIt)
}

func TestSchedulerAdmitDiscardsTabletWithRelatedRunningAlter(t *testing.T) {
	r := newTestRegistry(t)
	defer r.Close()
	s := newTestScheduler(t, r)

	ft := newFakeTablet(1, 5)
	ft.at = &fakeAlterTask{state: AlterRunning, related: 1}
	_, admitted, deferIt := s.admit(ft, baseCfg())
	require.False(t, admitted)
	require.False(t, deferIt)
}

func TestSchedulerAdmitDiscardsTabletAlreadyCompacting(t *testing.T) {
	r := newTestRegistry(t)
	defer r.Close()
	s := newTestScheduler(t, r)

	ft := newFakeTablet(1, 5)
	ft.slot = &Task{id: 99}
	_, admitted, deferIt := s.admit(ft, baseCfg())
	require.False(t, admitted)
	require.False(t, deferIt)
}

func TestSchedulerAdmitDefersOnFullDataDir(t *testing.T) {
	r := newTestRegistry(t)
	defer r.Close()
	s := newTestScheduler(t, r)

	ft := newFakeTablet(1, 5)
	ft.dir.full = true
	_, admitted, deferIt := s.admit(ft, baseCfg())
	require.False(t, admitted)
	require.True(t, deferIt)
}

func TestSchedulerAdmitDiscardsDuringFailureBackoff(t *testing.T) {
	r := newTestRegistry(t)
	defer r.Close()
	s := newTestScheduler(t, r)

	ft := newFakeTablet(1, 5)
	ft.lastCumuFailure = time.Now().UnixMilli()
	_, admitted, deferIt := s.admit(ft, baseCfg())
	require.False(t, admitted)
	require.False(t, deferIt)
}

func TestSchedulerAdmitSucceedsAndLocksCumulative(t *testing.T) {
	r := newTestRegistry(t)
	defer r.Close()
	s := newTestScheduler(t, r)

	ft := newFakeTablet(1, 5)
	release, admitted, deferIt := s.admit(ft, baseCfg())
	require.True(t, admitted)
	require.False(t, deferIt)
	require.NotNil(t, release)

	require.False(t, ft.CumulativeLock().TryLock())
	release()
	require.True(t, ft.CumulativeLock().TryLock())
}

func TestSchedulerAdmitDefersWhenDiskQuotaExhausted(t *testing.T) {
	r := newTestRegistry(t)
	defer r.Close()
	s := newTestScheduler(t, r)

	cfg := baseCfg()
	cfg.MaxCompactionTaskPerDisk = 1
	task := &Task{id: 1, dataDirPath: "disk0", level: LevelCumulative}
	require.True(t, r.RegisterTask(task, cfg))

	ft := newFakeTablet(1, 5)
	_, admitted, deferIt := s.admit(ft, cfg)
	require.False(t, admitted)
	require.True(t, deferIt)
}
