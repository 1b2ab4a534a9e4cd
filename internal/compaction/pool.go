package compaction

import (
	"sync"

	"go.uber.org/zap"
)

// poolQueueDepth is the bounded queue depth for each worker pool
// (spec.md §4.D).
const poolQueueDepth = 1000

// pool is a bounded worker pool executing opaque work closures, each
// capturing a shared reference to the task object; the pool is
// responsible only for calling it (spec.md §4.D), grounded in the
// teacher's CompactionManager.worker/ScheduleCompaction pattern.
type pool struct {
	name    string
	tasks   chan func()
	wg      sync.WaitGroup
	log     *zap.Logger
	metrics *Metrics
	once    sync.Once
	stop    chan struct{}
}

func newPool(name string, workers int, log *zap.Logger, metrics *Metrics) *pool {
	p := &pool{
		name:    name,
		tasks:   make(chan func(), poolQueueDepth),
		log:     log,
		metrics: metrics,
		stop:    make(chan struct{}),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			for {
				select {
				case fn := <-p.tasks:
					fn()
				default:
					return
				}
			}
		case fn, ok := <-p.tasks:
			if !ok {
				return
			}
			fn()
		}
	}
}

// Submit offers fn to the pool without blocking. It returns false and
// counts/logs a rejection if the queue is full — a non-fatal condition,
// since the scheduler will retry on the next iteration once the tablet
// has been re-enqueued (spec.md §4.D).
func (p *pool) Submit(fn func()) bool {
	select {
	case p.tasks <- fn:
		return true
	default:
		p.metrics.PoolRejections.WithLabelValues(p.name).Inc()
		p.log.Warn("worker pool queue full, rejecting task", zap.String("pool", p.name))
		return false
	}
}

// Stop signals every worker to exit after draining in-flight work and
// waits for them to return.
func (p *pool) Stop() {
	p.once.Do(func() { close(p.stop) })
	p.wg.Wait()
}

// Pools bundles the two bounded priority queues the scheduler routes tasks
// into (spec.md §4.D).
type Pools struct {
	Normal *pool
	Low    *pool
}

// NewPools creates the normal and low-priority pools, each sized by
// maxCompactionTaskNum worker goroutines (one per admissible concurrent
// task, spec.md §2 Worker Pools).
func NewPools(maxCompactionTaskNum int, log *zap.Logger, metrics *Metrics) *Pools {
	workers := maxCompactionTaskNum
	if workers <= 0 {
		workers = 1
	}
	return &Pools{
		Normal: newPool("normal", workers, log.Named("pool.normal"), metrics),
		Low:    newPool("low", workers, log.Named("pool.low"), metrics),
	}
}

// Stop stops both pools.
func (p *Pools) Stop() {
	p.Normal.Stop()
	p.Low.Stop()
}

// lowPriorityRowThreshold / lowPriorityByteThreshold are the pool-routing
// thresholds: a task crossing either goes to the low-priority pool so long
// compactions don't starve small ones (spec.md §4.C step 4).
const (
	lowPriorityRowThreshold  = 1_000_000
	lowPriorityByteThreshold = 1 << 30 // 1 GiB
)

// routePool picks normal or low based on a task's input size.
func (p *Pools) routePool(t *Task) *pool {
	if t.InputRows() > lowPriorityRowThreshold || t.InputBytes() > lowPriorityByteThreshold {
		return p.Low
	}
	return p.Normal
}
