package compaction

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every Prometheus collector the control plane exports.
// One instance is shared by the registry, scheduler, pools and tasks,
// threaded through via constructor injection rather than a package global.
type Metrics struct {
	CandidatesSize   prometheus.Gauge
	RunningTasks     prometheus.Gauge
	RunningByLevel   *prometheus.GaugeVec
	RunningByDisk    *prometheus.GaugeVec
	AsyncQueueDrops  prometheus.Counter
	PoolRejections   *prometheus.CounterVec
	TasksCommitted   prometheus.Counter
	TasksFailed      prometheus.Counter
	TasksCancelled   prometheus.Counter
	TaskDuration     *prometheus.HistogramVec
	BytesMerged      prometheus.Counter
	RowsFiltered     prometheus.Counter
}

// NewMetrics registers and returns a Metrics bundle under reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CandidatesSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "compactord",
			Name:      "candidates_size",
			Help:      "Number of tablets currently held in the candidate registry.",
		}),
		RunningTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "compactord",
			Name:      "running_tasks",
			Help:      "Number of compaction tasks currently registered as running.",
		}),
		RunningByLevel: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "compactord",
			Name:      "running_tasks_by_level",
			Help:      "Running compaction tasks, by level.",
		}, []string{"level"}),
		RunningByDisk: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "compactord",
			Name:      "running_tasks_by_disk",
			Help:      "Running compaction tasks, by data-dir.",
		}, []string{"disk"}),
		AsyncQueueDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "compactord",
			Name:      "async_update_drops_total",
			Help:      "Candidate updates dropped because the async queue was full.",
		}),
		PoolRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "compactord",
			Name:      "pool_rejections_total",
			Help:      "Tasks rejected because a worker pool's queue was full.",
		}, []string{"pool"}),
		TasksCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "compactord",
			Name:      "tasks_committed_total",
			Help:      "Compaction tasks that committed successfully.",
		}),
		TasksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "compactord",
			Name:      "tasks_failed_total",
			Help:      "Compaction tasks that failed validation or hit an io error.",
		}),
		TasksCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "compactord",
			Name:      "tasks_cancelled_total",
			Help:      "Compaction tasks cancelled by cooperative shutdown.",
		}),
		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "compactord",
			Name:      "task_duration_seconds",
			Help:      "Compaction task wall-clock duration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"level", "algorithm", "outcome"}),
		BytesMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "compactord",
			Name:      "bytes_merged_total",
			Help:      "Bytes read from input rowsets across all committed tasks.",
		}),
		RowsFiltered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "compactord",
			Name:      "rows_filtered_total",
			Help:      "Rows filtered out by the merge across all committed tasks (rows merged as duplicate keys are not counted).",
		}),
	}

	reg.MustRegister(
		m.CandidatesSize, m.RunningTasks, m.RunningByLevel, m.RunningByDisk,
		m.AsyncQueueDrops, m.PoolRejections, m.TasksCommitted, m.TasksFailed,
		m.TasksCancelled, m.TaskDuration, m.BytesMerged, m.RowsFiltered,
	)
	return m
}
