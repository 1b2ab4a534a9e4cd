package compaction

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// asyncQueueCapacity is the bounded single-worker async update queue's
// depth (spec.md §4.B / §8 boundary test: "Registry at 100,000 pending
// async updates").
const asyncQueueCapacity = 100_000

// CandidateRegistry is the score-ordered set of tablets plus the
// per-disk/per-level running-task counters and the async update queue
// (spec.md §4.B). It is a process-wide singleton: one instance created at
// startup, torn down at shutdown (spec.md §9).
type CandidateRegistry struct {
	log     *zap.Logger
	metrics *Metrics

	candMu     sync.Mutex
	candidates []Tablet // ordered by (quantised score desc, id asc)
	index      map[uint64]int

	taskMu        sync.Mutex
	nextTaskID    uint64
	runningTasks  map[*Task]struct{}
	diskRunning   map[string]int
	levelRunning  map[int]int

	schedMu    sync.Mutex
	schedulers []*Scheduler

	asyncCh   chan Tablet
	asyncDone chan struct{}

	logOnce sync.Once
	logStop chan struct{}
	logDone chan struct{}
}

// NewCandidateRegistry creates an empty registry and starts its background
// async-update worker.
func NewCandidateRegistry(log *zap.Logger, metrics *Metrics) *CandidateRegistry {
	r := &CandidateRegistry{
		log:          log,
		metrics:      metrics,
		index:        make(map[uint64]int),
		runningTasks: make(map[*Task]struct{}),
		diskRunning:  make(map[string]int),
		levelRunning: make(map[int]int),
		asyncCh:      make(chan Tablet, asyncQueueCapacity),
		asyncDone:    make(chan struct{}),
		logStop:      make(chan struct{}),
		logDone:      make(chan struct{}),
	}
	go r.asyncWorker()
	return r
}

// quantise rounds a score to the nearest integer hundredth, preventing
// floating-point comparator instability (spec.md §4.B).
func quantise(score float64) int64 {
	return int64(score*100 + 0.5)
}

// less implements the registry ordering: higher score first, lower tablet
// id breaking ties.
func less(a, b Tablet) bool {
	qa, qb := quantise(a.CompactionScore()), quantise(b.CompactionScore())
	if qa != qb {
		return qa > qb
	}
	return a.ID() < b.ID()
}

// RegisterScheduler adds a scheduler to the notification list.
func (r *CandidateRegistry) RegisterScheduler(s *Scheduler) {
	r.schedMu.Lock()
	defer r.schedMu.Unlock()
	r.schedulers = append(r.schedulers, s)
}

func (r *CandidateRegistry) notifySchedulers() {
	r.schedMu.Lock()
	schedulers := append([]*Scheduler(nil), r.schedulers...)
	r.schedMu.Unlock()
	for _, s := range schedulers {
		s.Notify()
	}
}

// HaltSchedulers stops every scheduler registered against this registry. A
// task that observes ErrInvariantViolated calls this instead of recycling
// the tablet for retry: corruption is fatal and requires operator
// intervention (spec.md line 202).
func (r *CandidateRegistry) HaltSchedulers() {
	r.schedMu.Lock()
	schedulers := append([]*Scheduler(nil), r.schedulers...)
	r.schedMu.Unlock()
	for _, s := range schedulers {
		s.Stop()
	}
}

// UpdateCandidate erases any prior entry for t and reinserts it, returning
// true if this was a first-insertion-this-round (no prior entry existed).
// On a first insertion, all registered schedulers are notified.
func (r *CandidateRegistry) UpdateCandidate(t Tablet) bool {
	r.candMu.Lock()
	firstInsertion := !r.eraseLocked(t.ID())
	r.insertLocked(t)
	size := len(r.candidates)
	r.candMu.Unlock()

	r.metrics.CandidatesSize.Set(float64(size))
	if firstInsertion {
		r.notifySchedulers()
	}
	return firstInsertion
}

// UpdateCandidateAsync enqueues an update onto the single-worker bounded
// queue. If the queue is full, the call is dropped with a warning — the
// next synchronous mutation of the tablet re-registers it, so drops are
// not a safety violation (spec.md §4.B).
func (r *CandidateRegistry) UpdateCandidateAsync(t Tablet) {
	select {
	case r.asyncCh <- t:
	default:
		r.metrics.AsyncQueueDrops.Inc()
		r.log.Warn("candidate async update queue full, dropping update", zap.Uint64("tablet_id", t.ID()))
	}
}

func (r *CandidateRegistry) asyncWorker() {
	defer close(r.asyncDone)
	for t := range r.asyncCh {
		r.UpdateCandidate(t)
	}
}

// InsertCandidates bulk-reinserts tablets without notification (used by
// the scheduler to return deferred tablets at the end of a scan).
func (r *CandidateRegistry) InsertCandidates(tablets []Tablet) {
	if len(tablets) == 0 {
		return
	}
	r.candMu.Lock()
	for _, t := range tablets {
		r.eraseLocked(t.ID())
		r.insertLocked(t)
	}
	size := len(r.candidates)
	r.candMu.Unlock()
	r.metrics.CandidatesSize.Set(float64(size))
}

// PickCandidate removes and returns the highest-priority tablet, or nil if
// the registry is empty.
func (r *CandidateRegistry) PickCandidate() Tablet {
	r.candMu.Lock()
	defer r.candMu.Unlock()
	if len(r.candidates) == 0 {
		return nil
	}
	t := r.candidates[0]
	r.removeAtLocked(0)
	r.metrics.CandidatesSize.Set(float64(len(r.candidates)))
	return t
}

// CandidatesSize returns the number of tablets currently in the registry.
func (r *CandidateRegistry) CandidatesSize() int {
	r.candMu.Lock()
	defer r.candMu.Unlock()
	return len(r.candidates)
}

func (r *CandidateRegistry) eraseLocked(id uint64) bool {
	idx, ok := r.index[id]
	if !ok {
		return false
	}
	r.removeAtLocked(idx)
	return true
}

func (r *CandidateRegistry) removeAtLocked(idx int) {
	removedID := r.candidates[idx].ID()
	r.candidates = append(r.candidates[:idx], r.candidates[idx+1:]...)
	delete(r.index, removedID)
	for i := idx; i < len(r.candidates); i++ {
		r.index[r.candidates[i].ID()] = i
	}
}

func (r *CandidateRegistry) insertLocked(t Tablet) {
	idx := sort.Search(len(r.candidates), func(i int) bool {
		return less(t, r.candidates[i])
	})
	r.candidates = append(r.candidates, nil)
	copy(r.candidates[idx+1:], r.candidates[idx:])
	r.candidates[idx] = t
	for i := idx; i < len(r.candidates); i++ {
		r.index[r.candidates[i].ID()] = i
	}
}

// RegisterTask enforces the global/per-level/per-disk quotas and, if all
// pass, registers task as running. All checks and the insertion happen
// under one mutex so the decision is atomic (spec.md §4.A).
func (r *CandidateRegistry) RegisterTask(task *Task, cfg *Config) bool {
	r.taskMu.Lock()
	defer r.taskMu.Unlock()

	if _, exists := r.runningTasks[task]; exists {
		return false
	}
	if !limitOK(cfg.MaxCompactionTaskNum, len(r.runningTasks)) {
		return false
	}
	if task.level == LevelCumulative && !limitOK(cfg.MaxLevel0CompactionTask, r.levelRunning[LevelCumulative]) {
		return false
	}
	if task.level == LevelBase && !limitOK(cfg.MaxLevel1CompactionTask, r.levelRunning[LevelBase]) {
		return false
	}
	disk := task.dataDirPath
	if !limitOK(cfg.MaxCompactionTaskPerDisk, r.diskRunning[disk]) {
		return false
	}

	r.logOnce.Do(func() { go r.logLoop() })

	r.runningTasks[task] = struct{}{}
	r.diskRunning[disk]++
	r.levelRunning[task.level]++
	r.metrics.RunningTasks.Set(float64(len(r.runningTasks)))
	r.metrics.RunningByDisk.WithLabelValues(disk).Set(float64(r.diskRunning[disk]))
	r.metrics.RunningByLevel.WithLabelValues(levelLabel(task.level)).Set(float64(r.levelRunning[task.level]))
	return true
}

// UnregisterTask reverses RegisterTask's bookkeeping. No-op if task is not
// currently registered.
func (r *CandidateRegistry) UnregisterTask(task *Task) {
	r.taskMu.Lock()
	defer r.taskMu.Unlock()

	if _, exists := r.runningTasks[task]; !exists {
		return
	}
	delete(r.runningTasks, task)
	disk := task.dataDirPath
	r.diskRunning[disk]--
	r.levelRunning[task.level]--
	r.metrics.RunningTasks.Set(float64(len(r.runningTasks)))
	r.metrics.RunningByDisk.WithLabelValues(disk).Set(float64(r.diskRunning[disk]))
	r.metrics.RunningByLevel.WithLabelValues(levelLabel(task.level)).Set(float64(r.levelRunning[task.level]))
}

// RunningTasksNum returns the global count of running tasks.
func (r *CandidateRegistry) RunningTasksNum() int {
	r.taskMu.Lock()
	defer r.taskMu.Unlock()
	return len(r.runningTasks)
}

// RunningTasksForDisk returns the running-task count for a data-dir path.
func (r *CandidateRegistry) RunningTasksForDisk(path string) int {
	r.taskMu.Lock()
	defer r.taskMu.Unlock()
	return r.diskRunning[path]
}

// RunningTasksForLevel returns the running-task count for a level.
func (r *CandidateRegistry) RunningTasksForLevel(level int) int {
	r.taskMu.Lock()
	defer r.taskMu.Unlock()
	return r.levelRunning[level]
}

// NextTaskID mints a monotonically increasing task id.
func (r *CandidateRegistry) NextTaskID() uint64 {
	r.taskMu.Lock()
	defer r.taskMu.Unlock()
	r.nextTaskID++
	return r.nextTaskID
}

func levelLabel(level int) string {
	if level == LevelBase {
		return "base"
	}
	return "cumulative"
}

// logLoop periodically logs registry liveness, the Go rendering of the
// original compaction manager's print_log background thread (spec.md §9,
// supplemented from original_source/compaction_manager.cpp).
func (r *CandidateRegistry) logLoop() {
	defer close(r.logDone)
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.logStop:
			return
		case <-ticker.C:
			r.log.Info("candidate registry status",
				zap.Int("candidates", r.CandidatesSize()),
				zap.Int("running_tasks", r.RunningTasksNum()))
		}
	}
}

// Close flushes the async update queue and stops the log thread. It must
// be called exactly once, at engine shutdown (spec.md §9).
func (r *CandidateRegistry) Close() {
	close(r.asyncCh)
	<-r.asyncDone
	close(r.logStop)
	select {
	case <-r.logDone:
	default:
	}
}
