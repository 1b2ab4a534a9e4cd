package compaction

import "errors"

// Sentinel errors tagging the non-exceptional outcomes spec.md §7 names.
// They propagate only as far as a task's own callbacks or the scheduler's
// per-candidate loop; they never bubble up as a scheduler- or
// registry-fatal condition except ErrInvariantViolated.
var (
	// ErrConfigRejected: a quota or flag forbids the action outright.
	ErrConfigRejected = errors.New("compaction: rejected by configuration")

	// ErrResourceBusy: a lock or quota is temporarily exhausted; the
	// caller should defer (re-enqueue) and retry later.
	ErrResourceBusy = errors.New("compaction: resource busy")

	// ErrValidationFailed: the row-count identity check failed at commit.
	ErrValidationFailed = errors.New("compaction: validation failed")

	// ErrIoError: a disk read/write error occurred during merge or commit.
	ErrIoError = errors.New("compaction: io error")

	// ErrCancelled: cooperative shutdown aborted a running task.
	ErrCancelled = errors.New("compaction: cancelled")

	// ErrInvariantViolated: detected corruption (overlapping rowsets,
	// missing versions). Fatal — the scheduler halts and the operator
	// must intervene.
	ErrInvariantViolated = errors.New("compaction: invariant violated")
)
