package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommitLedgerAppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	ledger, err := NewCommitLedger(dir)
	require.NoError(t, err)

	require.NoError(t, ledger.Append(CommitRecord{TabletID: 1, RowsetCount: 2}))
	require.NoError(t, ledger.Append(CommitRecord{TabletID: 2, RowsetCount: 5}))
	require.NoError(t, ledger.Close())

	reopened, err := NewCommitLedger(dir)
	require.NoError(t, err)
	defer reopened.Close()

	var replayed []CommitRecord
	require.NoError(t, reopened.Replay(func(rec CommitRecord) error {
		replayed = append(replayed, rec)
		return nil
	}))

	require.Len(t, replayed, 2)
	require.Equal(t, uint64(1), replayed[0].TabletID)
	require.Equal(t, 2, replayed[0].RowsetCount)
	require.Equal(t, uint64(2), replayed[1].TabletID)
	require.Equal(t, 5, replayed[1].RowsetCount)
}

func TestCommitLedgerReplayEmpty(t *testing.T) {
	dir := t.TempDir()
	ledger, err := NewCommitLedger(dir)
	require.NoError(t, err)
	defer ledger.Close()

	var count int
	require.NoError(t, ledger.Replay(func(rec CommitRecord) error {
		count++
		return nil
	}))
	require.Equal(t, 0, count)
}
