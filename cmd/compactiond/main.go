// Command compactiond runs the compaction control plane as a standalone
// daemon: it owns a set of tablets spread across one or more data
// directories, runs the candidate registry, scheduler(s) and worker
// pools, and exposes Prometheus metrics plus a small read-only HTTP
// surface for inspection (/healthz, /stats).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vortexdb/compactord/internal/compaction"
	"github.com/vortexdb/compactord/internal/data/compress"
	"github.com/vortexdb/compactord/internal/storage"
)

var (
	dataDir          = flag.String("data-dir", "./data", "Base directory for tablet data, metadata and checkpoints")
	numDataDirs      = flag.Int("num-data-dirs", 1, "Number of data directories to spread tablets across")
	dataDirCapacity  = flag.Int64("data-dir-capacity-bytes", -1, "Per-data-dir capacity in bytes (-1 disables the check)")
	httpAddr         = flag.String("http-addr", ":8090", "HTTP server address for /metrics, /healthz and /stats")
	configPath       = flag.String("config", "", "Path to a YAML/JSON compaction config file (hot-reloaded)")
	warmCacheSize    = flag.Int("warm-cache-size", 256, "Number of recently-committed output rowsets to keep warm")
	checkpointPeriod = flag.Duration("checkpoint-interval", 30*time.Second, "Full tablet-state checkpoint interval")
)

func main() {
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(log); err != nil {
		log.Fatal("compactiond exited with error", zap.Error(err))
	}
}

func run(log *zap.Logger) error {
	cfgMgr, err := compaction.NewConfigManager(*configPath, log)
	if err != nil {
		return fmt.Errorf("build config manager: %w", err)
	}

	reg := prometheus.NewRegistry()
	metrics := compaction.NewMetrics(reg)

	registry := compaction.NewCandidateRegistry(log, metrics)
	defer registry.Close()

	cache, err := compaction.NewWarmCache(*warmCacheSize, log)
	if err != nil {
		return fmt.Errorf("build warm cache: %w", err)
	}

	manager, err := storage.NewTabletManager(storage.TabletManagerOpts{
		BaseDir:            *dataDir,
		NumDataDirs:        *numDataDirs,
		DataDirCapacity:    *dataDirCapacity,
		Registry:           registry,
		Cache:              cache,
		Compressor:         compress.NewLZ4(),
		CfgGetter:          cfgMgr.Get,
		Metrics:            metrics,
		Log:                log,
		CheckpointInterval: *checkpointPeriod,
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go scheduler.Run(ctx)

	server := newHTTPServer(*httpAddr, reg, registry, manager)
	go func() {
		log.Info("starting HTTP server", zap.String("addr", *httpAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("received signal, shutting down", zap.String("signal", sig.String()))

	bgWorkerStopped.Store(true)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown error", zap.Error(err))
	}

	return nil
}

func newHTTPServer(addr string, reg *prometheus.Registry, registry *compaction.CandidateRegistry, manager *storage.TabletManager) *http.Server {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		type tabletStat struct {
			ID    uint64  `json:"id"`
			Score float64 `json:"score"`
			Level int     `json:"level"`
		}
		tablets := manager.Tablets()
		stats := struct {
			CandidatesSize int          `json:"candidates_size"`
			RunningTasks   int          `json:"running_tasks"`
			Tablets        []tabletStat `json:"tablets"`
		}{
			CandidatesSize: registry.CandidatesSize(),
			RunningTasks:   registry.RunningTasksNum(),
		}
		for _, t := range tablets {
			stats.Tablets = append(stats.Tablets, tabletStat{ID: t.ID(), Score: t.CompactionScore(), Level: t.CompactionLevel()})
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(stats); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})

	return &http.Server{Addr: addr, Handler: mux}
}
