package compaction

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vortexdb/compactord/internal/data/bitmap"
	"github.com/vortexdb/compactord/internal/data/block"
)

type fakeVerticalTablet struct {
	fakeTablet
	numCols int
}

func (t *fakeVerticalTablet) NumColumns() int { return t.numCols }

func TestVerticalStrategyWritesMaskSidecar(t *testing.T) {
	dir := t.TempDir()
	newRowset, _ := recordingRowsetFactory()

	tablet := &fakeVerticalTablet{numCols: 20}
	task := &Task{
		tablet:        tablet,
		tabletID:      1,
		dataDirPath:   dir,
		outputVersion: Version{Start: 1, End: 2},
		newRowset:     newRowset,
		inputRowsets: []Rowset{
			&fakeRowset{start: 1, end: 1, entries: []block.Entry{entry("a", "v1"), entry("b", "v1")}},
			&fakeRowset{start: 2, end: 2, entries: []block.Entry{entry("b", "v2")}},
		},
	}

	strat := newVerticalStrategy(5)
	stats, err := strat.RunImpl(context.Background(), task)
	require.NoError(t, err)
	require.Equal(t, uint32(1), stats.MergedRows)
	require.NotNil(t, stats.Output)
	require.Equal(t, uint32(2), stats.Output.NumRows())

	maskPath := filepath.Join(dir, "tablet-1-v1-2.seg.mask")
	data, err := os.ReadFile(maskPath)
	require.NoError(t, err)
	mask, err := bitmap.FromBytes(data)
	require.NoError(t, err)
	require.EqualValues(t, 2, mask.GetCardinality())
}

func TestVerticalStrategyRespectsCancellation(t *testing.T) {
	dir := t.TempDir()
	newRowset, _ := recordingRowsetFactory()

	tablet := &fakeVerticalTablet{numCols: 20}
	task := &Task{
		tablet:        tablet,
		tabletID:      1,
		dataDirPath:   dir,
		outputVersion: Version{Start: 1, End: 1},
		newRowset:     newRowset,
		inputRowsets: []Rowset{
			&fakeRowset{start: 1, end: 1, entries: []block.Entry{entry("a", "v1")}},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	strat := newVerticalStrategy(5)
	_, err := strat.RunImpl(ctx, task)
	require.ErrorIs(t, err, ErrCancelled)
}
