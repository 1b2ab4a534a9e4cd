package compaction

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vortexdb/compactord/internal/data/block"
)

func TestContextAddRowsetRejectsOverlap(t *testing.T) {
	ctx := NewContext([Levels - 1]int64{100, 100}, [Levels - 1]int{4, 4})

	require.NoError(t, ctx.AddRowset(LevelCumulative, &fakeRowset{start: 1, end: 10}))
	err := ctx.AddRowset(LevelCumulative, &fakeRowset{start: 5, end: 15})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrInvariantViolated)
}

func TestContextAddRowsetAcceptsTouchingButNonOverlapping(t *testing.T) {
	ctx := NewContext([Levels - 1]int64{100, 100}, [Levels - 1]int{4, 4})

	require.NoError(t, ctx.AddRowset(LevelCumulative, &fakeRowset{start: 1, end: 10}))
	require.NoError(t, ctx.AddRowset(LevelCumulative, &fakeRowset{start: 11, end: 20}))

	require.Len(t, ctx.RowsetsAtLevel(LevelCumulative), 2)
}

func TestContextRecomputeScoresBySizeAndCount(t *testing.T) {
	ctx := NewContext([Levels - 1]int64{100, 1000}, [Levels - 1]int{4, 4})

	for i := int64(0); i < 3; i++ {
		rs := &fakeRowset{start: i*10 + 1, end: i*10 + 9, entries: []block.Entry{entry("k", "v")}}
		require.NoError(t, ctx.AddRowset(LevelCumulative, rs))
	}

	score, level := ctx.Recompute()
	require.Greater(t, score, 0.0)
	require.Equal(t, LevelCumulative, level)
	require.Equal(t, score, ctx.Score())
	require.Equal(t, LevelCumulative, ctx.SelectedLevel())
}

func TestContextRemoveRowsetIsNoOpWhenAbsent(t *testing.T) {
	ctx := NewContext([Levels - 1]int64{100, 100}, [Levels - 1]int{4, 4})
	ctx.RemoveRowset(LevelCumulative, &fakeRowset{start: 1, end: 10})
	require.Empty(t, ctx.RowsetsAtLevel(LevelCumulative))
}

func TestContextRemoveRowsetByIdentity(t *testing.T) {
	ctx := NewContext([Levels - 1]int64{100, 100}, [Levels - 1]int{4, 4})
	rs := &fakeRowset{start: 1, end: 10}
	require.NoError(t, ctx.AddRowset(LevelCumulative, rs))

	ctx.RemoveRowset(LevelCumulative, rs)
	require.Empty(t, ctx.RowsetsAtLevel(LevelCumulative))
}
