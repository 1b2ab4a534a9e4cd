package compaction

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestConfigManagerSeedsDefaultsWithoutConfigFile(t *testing.T) {
	cm, err := NewConfigManager("", zap.NewNop())
	require.NoError(t, err)

	cfg := cm.Get()
	require.True(t, cfg.EnableCompaction)
	require.Equal(t, 10, cfg.MaxCompactionTaskNum)
	require.Equal(t, 5, cfg.VerticalMaxColumnsPerGrp)
}

func TestConfigManagerReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "compaction.yaml")
	contents := "max_compaction_task_num: 42\nenable_compaction: false\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))

	cm, err := NewConfigManager(path, zap.NewNop())
	require.NoError(t, err)

	cfg := cm.Get()
	require.Equal(t, 42, cfg.MaxCompactionTaskNum)
	require.False(t, cfg.EnableCompaction)
}

func TestConfigManagerHotReloadsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "compaction.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_compaction_task_num: 1\n"), 0644))

	cm, err := NewConfigManager(path, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, 1, cm.Get().MaxCompactionTaskNum)

	require.NoError(t, os.WriteFile(path, []byte("max_compaction_task_num: 7\n"), 0644))

	require.Eventually(t, func() bool {
		return cm.Get().MaxCompactionTaskNum == 7
	}, 3*time.Second, 50*time.Millisecond)
}

func TestLimitOKNegativeDisablesLimit(t *testing.T) {
	require.True(t, limitOK(-1, 1_000_000))
	require.True(t, limitOK(5, 4))
	require.False(t, limitOK(5, 5))
}
