// Command tabletgen drives an in-process compaction control plane with a
// synthetic ingestion workload: it creates a fixed number of tablets and
// repeatedly appends small rowsets to random tablets, the way a real
// ingest path would hand freshly-flushed memtables to the control plane,
// then reports ingest throughput and latency the way a benchmark harness
// would (adapted from the teacher's load-generator statistics).
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/vortexdb/compactord/internal/compaction"
	"github.com/vortexdb/compactord/internal/data/block"
	"github.com/vortexdb/compactord/internal/data/compress"
	"github.com/vortexdb/compactord/internal/storage"
)

var (
	dataDir      = flag.String("data-dir", "./tabletgen-data", "Scratch directory for generated tablet data")
	numTablets   = flag.Int("tablets", 8, "Number of tablets to create")
	numColumns   = flag.Int("columns", 12, "Number of columns per tablet")
	duration     = flag.Duration("duration", 30*time.Second, "How long to run the ingest workload")
	numThreads   = flag.Int("threads", 4, "Number of concurrent ingest threads")
	rowsPerBatch = flag.Int("rows-per-batch", 500, "Rows written per synthetic rowset")
	reportEvery  = flag.Duration("report-interval", 2*time.Second, "Progress reporting interval")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tabletgen: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	log, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer log.Sync()

	if err := os.RemoveAll(*dataDir); err != nil {
		return fmt.Errorf("clear scratch directory: %w", err)
	}

	cfgMgr, err := compaction.NewConfigManager("", log)
	if err != nil {
		return err
	}
	reg := prometheus.NewRegistry()
	metrics := compaction.NewMetrics(reg)
	registry := compaction.NewCandidateRegistry(log, metrics)
	defer registry.Close()

	cache, err := compaction.NewWarmCache(128, log)
	if err != nil {
		return err
	}

	manager, err := storage.NewTabletManager(storage.TabletManagerOpts{
		BaseDir:            *dataDir,
		NumDataDirs:        2,
		DataDirCapacity:    -1,
		Registry:           registry,
		Cache:              cache,
		Compressor:         compress.NewLZ4(),
		CfgGetter:          cfgMgr.Get,
		Metrics:            metrics,
		Log:                log,
		CheckpointInterval: 10 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("build tablet manager: %w", err)
	}
	defer manager.Close()

	pools := compaction.NewPools(cfgMgr.Get().MaxCompactionTaskNum, log, metrics)
	defer pools.Stop()

	var bgWorkerStopped atomic.Bool
	scheduler := compaction.NewScheduler(registry, pools, cfgMgr, manager.StoresCount, &bgWorkerStopped, log, metrics)
	defer scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()
	go scheduler.Run(ctx)

	tablets := make([]*storage.Tablet, *numTablets)
	for i := range tablets {
		tablets[i] = manager.CreateTablet(*numColumns)
	}

	stats := newIngestStats()
	go reportProgress(ctx, stats, metrics)

	var wg sync.WaitGroup
	var nextVersion atomic.Int64
	nextVersion.Store(1)

	for th := 0; th < *numThreads; th++ {
		wg.Add(1)
		go func(threadID int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(threadID)))
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				tablet := tablets[rng.Intn(len(tablets))]
				version := nextVersion.Add(1)

				start := time.Now()
				err := ingestOne(*dataDir, tablet, registry, version, *rowsPerBatch, compress.NewLZ4(), rng)
				latency := time.Since(start)

				if err != nil {
					stats.recordError()
					log.Warn("ingest failed", zap.Error(err))
					continue
				}
				stats.recordLatency(latency)
				scheduler.Notify()
			}
		}(th)
	}

	wg.Wait()
	stats.print()
	return nil
}

// ingestOne writes one synthetic rowset and adds it to tablet at the
// cumulative level, mirroring what a real flush-path would do once a
// memtable fills (spec.md's "rowsets arrive from an external ingest path"
// assumption).
func ingestOne(baseDir string, tablet *storage.Tablet, registry *compaction.CandidateRegistry, version int64, rows int, c compress.Compressor, rng *rand.Rand) error {
	seg := block.NewSegment(version, version)
	keys := make([][]byte, rows)
	for i := 0; i < rows; i++ {
		keys[i] = []byte(fmt.Sprintf("k-%020d", rng.Int63()))
	}
	sort.Slice(keys, func(i, j int) bool { return string(keys[i]) < string(keys[j]) })

	for _, k := range keys {
		v := make([]byte, 64)
		rng.Read(v)
		if err := seg.Add(k, v); err != nil {
			return fmt.Errorf("add row: %w", err)
		}
	}
	if err := seg.Finalize(c); err != nil {
		return fmt.Errorf("finalize segment: %w", err)
	}

	path := fmt.Sprintf("%s/ingest-%d-%d.seg", baseDir, tablet.ID(), version)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create segment file: %w", err)
	}
	if err := seg.Encode(f); err != nil {
		f.Close()
		return fmt.Errorf("encode segment: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	rowset := storage.NewRowset(path, version, version, uint32(seg.Rows()), int64(seg.Size()), c)
	return tablet.AddRowset(rowset, registry)
}

type ingestStats struct {
	operations     atomic.Int64
	errorCount     atomic.Int64
	totalLatencyNs atomic.Int64
	startTime      time.Time

	mu        sync.Mutex
	latencies []time.Duration
}

func newIngestStats() *ingestStats {
	return &ingestStats{startTime: time.Now(), latencies: make([]time.Duration, 0, 1024)}
}

func (s *ingestStats) recordLatency(d time.Duration) {
	s.operations.Add(1)
	s.totalLatencyNs.Add(int64(d))
	s.mu.Lock()
	s.latencies = append(s.latencies, d)
	s.mu.Unlock()
}

func (s *ingestStats) recordError() { s.errorCount.Add(1) }

func (s *ingestStats) print() {
	ops := s.operations.Load()
	if ops == 0 {
		fmt.Println("tabletgen: no ingests completed")
		return
	}

	s.mu.Lock()
	latencies := append([]time.Duration(nil), s.latencies...)
	s.mu.Unlock()
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	p95 := latencies[int(float64(len(latencies))*0.95)]
	p99 := latencies[len(latencies)-1]
	if idx := int(float64(len(latencies)) * 0.99); idx < len(latencies) {
		p99 = latencies[idx]
	}

	elapsed := time.Since(s.startTime)
	fmt.Printf("\ntabletgen ingest statistics:\n")
	fmt.Printf("  operations:   %d\n", ops)
	fmt.Printf("  runtime:      %v\n", elapsed.Round(time.Millisecond))
	fmt.Printf("  throughput:   %.2f ingests/sec\n", float64(ops)/elapsed.Seconds())
	fmt.Printf("  avg latency:  %v\n", time.Duration(s.totalLatencyNs.Load()/ops))
	fmt.Printf("  p95 latency:  %v\n", p95)
	fmt.Printf("  p99 latency:  %v\n", p99)
	fmt.Printf("  errors:       %d\n", s.errorCount.Load())
}

func reportProgress(ctx context.Context, stats *ingestStats, metrics *compaction.Metrics) {
	ticker := time.NewTicker(*reportEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Printf("\r ingests=%d errors=%d", stats.operations.Load(), stats.errorCount.Load())
		}
	}
}
