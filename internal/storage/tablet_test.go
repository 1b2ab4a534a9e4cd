package storage

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vortexdb/compactord/internal/compaction"
	"github.com/vortexdb/compactord/internal/data/compress"
)

func newTestTablet(t *testing.T) (*Tablet, *compaction.CandidateRegistry) {
	t.Helper()
	dir := t.TempDir()

	dd, err := NewDataDir(dir, -1)
	require.NoError(t, err)

	metaStore, err := NewTabletMetaStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { metaStore.Close() })

	log := zap.NewNop()
	reg := prometheus.NewRegistry()
	metrics := compaction.NewMetrics(reg)
	registry := compaction.NewCandidateRegistry(log, metrics)
	t.Cleanup(registry.Close)

	cache, err := compaction.NewWarmCache(16, log)
	require.NoError(t, err)

	factory := compaction.NewFactory(registry, cache, NewRowsetFactory(compress.NewLZ4()), log, metrics)

	cfg := &compaction.Config{
		EnableCompaction:         true,
		MaxCompactionTaskNum:     10,
		MaxCompactionTaskPerDisk: 2,
		MaxLevel0CompactionTask:  4,
		MaxLevel1CompactionTask:  2,
		VerticalMaxColumnsPerGrp: 5,
	}
	cfgGetter := func() *compaction.Config { return cfg }

	tablet := NewTablet(1, dd, 12, factory, metaStore, cfgGetter, log)
	return tablet, registry
}

func TestTabletAddRowsetDrivesScore(t *testing.T) {
	tablet, registry := newTestTablet(t)

	require.False(t, tablet.NeedCompaction())
	require.Equal(t, compaction.TabletRunning, tablet.TabletState())

	dir := t.TempDir()
	rs1, _ := writeTestSegment(t, dir, "a.seg", 1, 1, 4)
	rs2, _ := writeTestSegment(t, dir, "b.seg", 2, 2, 4)

	require.NoError(t, tablet.AddRowset(rs1, registry))
	require.NoError(t, tablet.AddRowset(rs2, registry))

	require.True(t, tablet.NeedCompaction())
	require.Equal(t, compaction.LevelCumulative, tablet.CompactionLevel())
}

func TestTabletGetCompactionMaterialisesTask(t *testing.T) {
	tablet, registry := newTestTablet(t)
	dir := t.TempDir()

	rs1, _ := writeTestSegment(t, dir, "a.seg", 1, 1, 4)
	rs2, _ := writeTestSegment(t, dir, "b.seg", 2, 2, 4)
	require.NoError(t, tablet.AddRowset(rs1, registry))
	require.NoError(t, tablet.AddRowset(rs2, registry))

	require.Nil(t, tablet.GetCompaction(false))

	task := tablet.GetCompaction(true)
	require.NotNil(t, task)
	require.Equal(t, tablet.ID(), task.TabletID())

	again := tablet.GetCompaction(true)
	require.Same(t, task, again)

	tablet.ResetCompaction()
	require.Nil(t, tablet.GetCompaction(false))
}

func TestTabletModifyRowsetsPromotesLevel(t *testing.T) {
	tablet, registry := newTestTablet(t)
	dir := t.TempDir()

	rs1, _ := writeTestSegment(t, dir, "a.seg", 1, 1, 4)
	rs2, _ := writeTestSegment(t, dir, "b.seg", 2, 2, 4)
	require.NoError(t, tablet.AddRowset(rs1, registry))
	require.NoError(t, tablet.AddRowset(rs2, registry))
	require.Equal(t, compaction.LevelCumulative, tablet.CompactionLevel())

	out, _ := writeTestSegment(t, dir, "out.seg", 1, 2, 8)
	require.NoError(t, tablet.ModifyRowsets([]compaction.Rowset{out}, []compaction.Rowset{rs1, rs2}))

	snap := tablet.Snapshot()
	require.Len(t, snap.Rowsets, 1)
	require.Equal(t, compaction.LevelBase, snap.Rowsets[0].Level)
	require.Equal(t, out.Path(), snap.Rowsets[0].Path)
}

func TestTabletSaveMetaPersistsSnapshot(t *testing.T) {
	tablet, registry := newTestTablet(t)
	dir := t.TempDir()

	rs1, _ := writeTestSegment(t, dir, "a.seg", 1, 1, 4)
	require.NoError(t, tablet.AddRowset(rs1, registry))
	require.NoError(t, tablet.SaveMeta())

	snap, err := tablet.metaStore.Load(tablet.ID())
	require.NoError(t, err)
	require.Len(t, snap.Rowsets, 1)
	require.Equal(t, rs1.Path(), snap.Rowsets[0].Path)
}

func TestTabletLockAccessorsReturnStableHandles(t *testing.T) {
	tablet, _ := newTestTablet(t)

	require.Same(t, tablet.CumulativeLock(), tablet.CumulativeLock())
	require.Same(t, tablet.BaseLock(), tablet.BaseLock())
	require.Same(t, tablet.HeaderLock(), tablet.HeaderLock())
}
