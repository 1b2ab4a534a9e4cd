package compaction

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// tickInterval is the scheduler's self-wake period: it re-checks capacity
// and hot-reloaded config even if no notification arrived, and tolerates
// missed wakes (spec.md §4.C step 1, §5 Suspension points).
const tickInterval = time.Second

// Scheduler is the capacity-gated loop that picks a qualified candidate,
// constructs a compaction task, and dispatches it to a worker pool
// (spec.md §4.C).
type Scheduler struct {
	registry *CandidateRegistry
	pools    *Pools
	cfgMgr   *ConfigManager
	storesFn func() int
	log      *zap.Logger
	metrics  *Metrics

	bgWorkerStopped *atomic.Bool

	mu   sync.Mutex
	cond *sync.Cond

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewScheduler creates a Scheduler. storesFn reports the current number of
// data-dirs, used to cap global capacity at stores × per-disk ceiling
// (spec.md §4.C step 1). bgWorkerStopped is the shared engine-shutdown
// flag every task's should_stop() also observes.
func NewScheduler(registry *CandidateRegistry, pools *Pools, cfgMgr *ConfigManager, storesFn func() int, bgWorkerStopped *atomic.Bool, log *zap.Logger, metrics *Metrics) *Scheduler {
	s := &Scheduler{
		registry:        registry,
		pools:           pools,
		cfgMgr:          cfgMgr,
		storesFn:        storesFn,
		bgWorkerStopped: bgWorkerStopped,
		log:             log,
		metrics:         metrics,
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	registry.RegisterScheduler(s)
	return s
}

// Notify wakes the scheduler immediately — called by the registry on a
// first-insertion-this-round event (spec.md §4.B Notification).
func (s *Scheduler) Notify() {
	s.cond.Broadcast()
}

// Run drives the scheduler's main loop until ctx is cancelled or Stop is
// called. It is meant to run in its own goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.cond.Broadcast()
			}
		}
	}()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		cfg := s.cfgMgr.Get()
		if !s.waitForCapacity(ctx, cfg) {
			return
		}

		tablet, task := s.tryGetNextTablet(cfg)
		if task == nil {
			s.sleepOneTick(ctx)
			continue
		}

		pool := s.pools.routePool(task)
		if !pool.Submit(func() { task.Run(ctx, s.cfgMgr.Get()) }) {
			// Queue full: the tablet will be retried on the next scan once
			// its compaction slot is reset (spec.md §4.D).
			if task.heldLock != nil {
				task.heldLock()
			}
			tablet.ResetCompaction()
			s.registry.InsertCandidates([]Tablet{tablet})
		}
	}
}

// waitForCapacity blocks until enable_compaction is true and running task
// count is below capacity, waking at least once per tickInterval to
// re-read hot-reloaded config (spec.md §4.C step 1). Returns false if the
// scheduler was stopped while waiting.
func (s *Scheduler) waitForCapacity(ctx context.Context, cfg *Config) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		select {
		case <-s.stopCh:
			return false
		case <-ctx.Done():
			return false
		default:
		}

		cfg = s.cfgMgr.Get()
		capacity := s.effectiveCapacity(cfg)
		if cfg.EnableCompaction && s.registry.RunningTasksNum() < capacity {
			return true
		}
		s.cond.Wait()
	}
}

func (s *Scheduler) effectiveCapacity(cfg *Config) int {
	if cfg.MaxCompactionTaskNum < 0 {
		return int(^uint(0) >> 1) // unbounded
	}
	ceiling := cfg.MaxCompactionTaskNum
	if cfg.MaxCompactionTaskPerDisk >= 0 {
		stores := s.storesFn()
		if stores > 0 {
			perDiskCap := stores * cfg.MaxCompactionTaskPerDisk
			if perDiskCap < ceiling {
				ceiling = perDiskCap
			}
		}
	}
	return ceiling
}

func (s *Scheduler) sleepOneTick(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-s.stopCh:
	case <-time.After(tickInterval):
	}
}

// tryGetNextTablet repeatedly pops candidates from the registry, applying
// the §4.C filter chain. Tablets that fail a "defer" filter are collected
// and bulk-reinserted at the end of the scan; tablets that fail a
// "discard" filter are dropped (the next mutation will re-register them).
func (s *Scheduler) tryGetNextTablet(cfg *Config) (Tablet, *Task) {
	var deferred []Tablet
	defer func() {
		if len(deferred) > 0 {
			s.registry.InsertCandidates(deferred)
		}
	}()

	for {
		t := s.registry.PickCandidate()
		if t == nil {
			return nil, nil
		}

		release, admitted, deferIt := s.admit(t, cfg)
		if deferIt {
			deferred = append(deferred, t)
			continue
		}
		if !admitted {
			continue // discard
		}

		// The tablet materialises the task against its own context
		// (input rowsets are opaque to the scheduler, spec.md §4.F);
		// GetCompaction(true) is what invokes the factory with the
		// tablet's chosen input rowsets.
		built := t.GetCompaction(true)
		if built == nil {
			if release != nil {
				release()
			}
			t.ResetCompaction()
			continue // factory failed to build a task; not re-enqueued (spec.md §4.E)
		}
		built.heldLock = release
		return t, built
	}
}

// admit applies filters 2-9 of try_get_next_tablet (filter 1,
// need_compaction, is implicitly true for anything still in the registry
// since only need_compaction()=true tablets are (re)inserted — but the
// original still re-checks it defensively, as do we). It returns a
// release func for any lock acquired (filter 7), whether the tablet is
// admitted, and whether the failure was a "defer" (vs. "discard").
func (s *Scheduler) admit(t Tablet, cfg *Config) (release func(), admitted bool, deferIt bool) {
	if !t.NeedCompaction() {
		return nil, false, false // filter 1: discard
	}
	if t.TabletState() != TabletRunning {
		return nil, false, false // filter 2: discard
	}
	if at := t.AlterTask(); at != nil && at.State() == AlterRunning && at.RelatedTabletID() == t.ID() {
		return nil, false, false // filter 3: discard
	}
	if t.GetCompaction(false) != nil {
		return nil, false, false // filter 4: discard
	}
	if t.DataDir().ReachCapacityLimit(0) {
		return nil, false, true // filter 5: defer
	}
	if t.TabletState() == TabletNotReady {
		return nil, false, false // filter 6: discard
	}

	level := t.CompactionLevel()
	var lock *sync.Mutex
	if level == LevelCumulative {
		lock = t.CumulativeLock()
	} else {
		lock = t.BaseLock()
	}
	if !lock.TryLock() {
		return nil, false, true // filter 7: defer
	}
	release = lock.Unlock

	lastFailure := t.LastCumuFailureTimeMillis()
	if level == LevelBase {
		lastFailure = t.LastBaseFailureTimeMillis()
	}
	if cfg.MinCompactionFailureSec > 0 && lastFailure > 0 {
		elapsed := time.Since(time.UnixMilli(lastFailure))
		if elapsed < time.Duration(cfg.MinCompactionFailureSec)*time.Second {
			release()
			s.log.Info("skipping tablet in failure backoff window",
				zap.Uint64("tablet_id", t.ID()), zap.Int("level", level), zap.Duration("elapsed", elapsed))
			return nil, false, false // filter 8: discard (with log)
		}
	}

	if !limitOK(cfg.MaxCompactionTaskPerDisk, s.registry.RunningTasksForDisk(t.DataDir().Path())) {
		release()
		return nil, false, true // filter 9: defer
	}

	return release, true, false
}

// Stop halts the scheduler's main loop and waits for it to return.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.cond.Broadcast()
	<-s.doneCh
}
