package storage

import "github.com/vortexdb/compactord/internal/compaction"

// AlterTask tracks a schema-change or rollup in flight against a tablet,
// consulted by the scheduler's filter #3 (spec.md §4.C) to decide whether
// a tablet is the newly-created child of an in-flight alter and so must
// wait for it to finish before being compacted (original's
// cur_alter_task->alter_state() check).
type AlterTask struct {
	relatedTabletID uint64
	state           compaction.AlterTaskState
}

// NewAlterTask creates an in-flight alter task targeting relatedTabletID.
func NewAlterTask(relatedTabletID uint64) *AlterTask {
	return &AlterTask{relatedTabletID: relatedTabletID, state: compaction.AlterRunning}
}

// State returns the alter task's current state.
func (a *AlterTask) State() compaction.AlterTaskState { return a.state }

// RelatedTabletID returns the id of the new tablet the alter is creating.
func (a *AlterTask) RelatedTabletID() uint64 { return a.relatedTabletID }

// SetState transitions the alter task's state (finished/failed).
func (a *AlterTask) SetState(s compaction.AlterTaskState) { a.state = s }
