package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTabletMetaStoreSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	store, err := NewTabletMetaStore(dir)
	require.NoError(t, err)
	defer store.Close()

	snap := TabletSnapshot{
		TabletID: 5,
		Rowsets: []RowsetRecord{
			{Level: 0, Path: "a.seg", StartVersion: 1, EndVersion: 1, NumRows: 10, DiskSize: 100},
		},
	}
	require.NoError(t, store.Save(snap))

	loaded, err := store.Load(5)
	require.NoError(t, err)
	require.Equal(t, snap, loaded)
}

func TestTabletMetaStoreLoadUnknownReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	store, err := NewTabletMetaStore(dir)
	require.NoError(t, err)
	defer store.Close()

	loaded, err := store.Load(999)
	require.NoError(t, err)
	require.Equal(t, uint64(999), loaded.TabletID)
	require.Empty(t, loaded.Rowsets)
}

func TestTabletMetaStoreSaveOverwritesPreviousSnapshot(t *testing.T) {
	dir := t.TempDir()
	store, err := NewTabletMetaStore(dir)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Save(TabletSnapshot{TabletID: 1, Rowsets: []RowsetRecord{{Path: "a.seg"}}}))
	require.NoError(t, store.Save(TabletSnapshot{TabletID: 1, Rowsets: []RowsetRecord{{Path: "b.seg"}}}))

	loaded, err := store.Load(1)
	require.NoError(t, err)
	require.Len(t, loaded.Rowsets, 1)
	require.Equal(t, "b.seg", loaded.Rowsets[0].Path)
}
