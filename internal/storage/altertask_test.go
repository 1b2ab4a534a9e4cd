package storage

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vortexdb/compactord/internal/compaction"
)

func TestAlterTaskLifecycle(t *testing.T) {
	at := NewAlterTask(42)
	require.Equal(t, uint64(42), at.RelatedTabletID())
	require.Equal(t, compaction.AlterRunning, at.State())

	at.SetState(compaction.AlterFinished)
	require.Equal(t, compaction.AlterFinished, at.State())
}

func TestTabletAlterTaskAccessors(t *testing.T) {
	tablet, _ := newTestTablet(t)
	require.Nil(t, tablet.AlterTask())

	at := NewAlterTask(tablet.ID())
	tablet.SetAlterTask(at)
	require.NotNil(t, tablet.AlterTask())
	require.Equal(t, compaction.AlterRunning, tablet.AlterTask().State())

	tablet.SetAlterTask(nil)
	require.Nil(t, tablet.AlterTask())
}
