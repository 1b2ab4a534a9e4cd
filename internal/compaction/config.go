package compaction

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds the control plane's hot-reloadable settings (spec.md §6).
// Every field is re-read from the live snapshot on every loop iteration by
// the scheduler and registry rather than captured once at startup.
type Config struct {
	EnableCompaction bool

	MaxCompactionTaskNum      int
	MaxCompactionTaskPerDisk  int
	MaxLevel0CompactionTask   int
	MaxLevel1CompactionTask   int
	MinCompactionFailureSec   int64
	VerticalMaxColumnsPerGrp  int
	CumulativeTraceThreshold  time.Duration
}

// defaultConfig matches the teacher's own defaults pattern (sane values
// that keep a freshly-started control plane from admitting unbounded work).
func defaultConfig() Config {
	return Config{
		EnableCompaction:         true,
		MaxCompactionTaskNum:     10,
		MaxCompactionTaskPerDisk: 2,
		MaxLevel0CompactionTask:  4,
		MaxLevel1CompactionTask:  2,
		MinCompactionFailureSec:  120,
		VerticalMaxColumnsPerGrp: 5,
		CumulativeTraceThreshold: 2 * time.Second,
	}
}

// limitOK returns true if a configured ceiling permits one more unit of
// work. A ceiling of -1 disables the limit; spec.md §6 requires negative
// thresholds not reject every candidate, so this is the single place that
// rule is enforced.
func limitOK(ceiling, current int) bool {
	if ceiling < 0 {
		return true
	}
	return current < ceiling
}

// ConfigManager owns the live Config snapshot, refreshed from a viper
// instance either on an explicit Reload() or automatically via
// viper.WatchConfig when a config file is in use.
type ConfigManager struct {
	v       *viper.Viper
	log     *zap.Logger
	current atomic.Pointer[Config]
}

// NewConfigManager creates a ConfigManager seeded with defaultConfig,
// optionally reading and watching configPath for hot-reloads. configPath
// may be empty, in which case only defaults apply.
func NewConfigManager(configPath string, log *zap.Logger) (*ConfigManager, error) {
	cm := &ConfigManager{v: viper.New(), log: log}
	cm.seedDefaults()

	if configPath != "" {
		cm.v.SetConfigFile(configPath)
		if err := cm.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read compaction config %s: %w", configPath, err)
		}
		if err := cm.Reload(); err != nil {
			return nil, err
		}
		cm.v.OnConfigChange(func(e fsnotify.Event) {
			if err := cm.Reload(); err != nil {
				cm.log.Warn("compaction config reload failed", zap.Error(err))
				return
			}
			cm.log.Info("compaction config reloaded", zap.String("file", e.Name))
		})
		cm.v.WatchConfig()
	} else {
		cm.current.Store(ptr(defaultConfig()))
	}

	return cm, nil
}

func (cm *ConfigManager) seedDefaults() {
	d := defaultConfig()
	cm.v.SetDefault("enable_compaction", d.EnableCompaction)
	cm.v.SetDefault("max_compaction_task_num", d.MaxCompactionTaskNum)
	cm.v.SetDefault("max_compaction_task_per_disk", d.MaxCompactionTaskPerDisk)
	cm.v.SetDefault("max_level_0_compaction_task", d.MaxLevel0CompactionTask)
	cm.v.SetDefault("max_level_1_compaction_task", d.MaxLevel1CompactionTask)
	cm.v.SetDefault("min_compaction_failure_interval_sec", d.MinCompactionFailureSec)
	cm.v.SetDefault("vertical_compaction_max_columns_per_group", d.VerticalMaxColumnsPerGrp)
	cm.v.SetDefault("cumulative_compaction_trace_threshold_ms", int64(d.CumulativeTraceThreshold/time.Millisecond))
}

// Reload re-reads every key from viper into a fresh Config and atomically
// publishes it; in-flight readers keep using the snapshot they already
// loaded until their next Get().
func (cm *ConfigManager) Reload() error {
	cfg := Config{
		EnableCompaction:         cm.v.GetBool("enable_compaction"),
		MaxCompactionTaskNum:     cm.v.GetInt("max_compaction_task_num"),
		MaxCompactionTaskPerDisk: cm.v.GetInt("max_compaction_task_per_disk"),
		MaxLevel0CompactionTask:  cm.v.GetInt("max_level_0_compaction_task"),
		MaxLevel1CompactionTask:  cm.v.GetInt("max_level_1_compaction_task"),
		MinCompactionFailureSec:  cm.v.GetInt64("min_compaction_failure_interval_sec"),
		VerticalMaxColumnsPerGrp: cm.v.GetInt("vertical_compaction_max_columns_per_group"),
		CumulativeTraceThreshold: time.Duration(cm.v.GetInt64("cumulative_compaction_trace_threshold_ms")) * time.Millisecond,
	}
	cm.current.Store(&cfg)
	return nil
}

// Get returns the current config snapshot. Safe for concurrent use; the
// returned pointer is immutable, callers never see a torn read.
func (cm *ConfigManager) Get() *Config {
	if c := cm.current.Load(); c != nil {
		return c
	}
	d := defaultConfig()
	return &d
}

func ptr[T any](v T) *T { return &v }
