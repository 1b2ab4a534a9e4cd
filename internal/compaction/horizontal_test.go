package compaction

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vortexdb/compactord/internal/data/block"
)

// fakeRowset is an in-memory Rowset used by the merge-strategy tests so
// they don't need the storage package's on-disk implementation.
type fakeRowset struct {
	start, end int64
	entries    []block.Entry
}

func (r *fakeRowset) StartVersion() int64   { return r.start }
func (r *fakeRowset) EndVersion() int64     { return r.end }
func (r *fakeRowset) NumRows() uint32       { return uint32(len(r.entries)) }
func (r *fakeRowset) DataDiskSize() int64   { return int64(len(r.entries) * 16) }
func (r *fakeRowset) Version() Version      { return Version{Start: r.start, End: r.end} }
func (r *fakeRowset) Load() error           { return nil }
func (r *fakeRowset) Entries() ([]block.Entry, error) { return r.entries, nil }

func entry(key, value string) block.Entry {
	return block.Entry{Key: []byte(key), Value: []byte(value)}
}

func recordingRowsetFactory() (RowsetFactory, *[]Rowset) {
	var created []Rowset
	return func(path string, startVersion, endVersion int64, numRows uint32, diskSizeBytes int64) Rowset {
		rs := &fakeRowset{start: startVersion, end: endVersion, entries: make([]block.Entry, numRows)}
		created = append(created, rs)
		return rs
	}, &created
}

func TestHorizontalStrategyDedupesByKey(t *testing.T) {
	dir := t.TempDir()
	newRowset, _ := recordingRowsetFactory()

	task := &Task{
		tabletID:      1,
		dataDirPath:   dir,
		outputVersion: Version{Start: 1, End: 2},
		newRowset:     newRowset,
		inputRowsets: []Rowset{
			&fakeRowset{start: 1, end: 1, entries: []block.Entry{entry("a", "v1"), entry("b", "v1")}},
			&fakeRowset{start: 2, end: 2, entries: []block.Entry{entry("b", "v2"), entry("c", "v1")}},
		},
	}

	strat := newHorizontalStrategy()
	stats, err := strat.RunImpl(context.Background(), task)
	require.NoError(t, err)
	require.Equal(t, uint32(1), stats.MergedRows)
	require.Equal(t, uint32(0), stats.FilteredRows)
	require.NotNil(t, stats.Output)
	require.Equal(t, uint32(3), stats.Output.NumRows())
}

func TestHorizontalStrategyRespectsCancellation(t *testing.T) {
	dir := t.TempDir()
	newRowset, _ := recordingRowsetFactory()

	task := &Task{
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

	strat := newHorizontalStrategy()
	_, err := strat.RunImpl(ctx, task)
	require.ErrorIs(t, err, ErrCancelled)
}
