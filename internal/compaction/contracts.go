// Package compaction implements the compaction control plane: the
// candidate registry, scheduler, worker pools, task factory and task
// lifecycle that decide which tablets to compact, when, and under what
// concurrency constraints. It treats the actual row-merge kernels, the
// rowset on-disk format and the tablet metadata store as external
// collaborators, described here as narrow interfaces.
package compaction

import (
	"sync"

	"github.com/vortexdb/compactord/internal/data/block"
)

// TabletState mirrors the storage engine's tablet lifecycle state as far
// as the control plane needs to reason about it.
type TabletState int

const (
	TabletRunning TabletState = iota
	TabletNotReady
	TabletTombstoned
)

// Version is a closed integer range identifying a rowset's contribution to
// a tablet's history.
type Version struct {
	Start int64
	End   int64
}

// Rowset is the narrow contract the control plane needs from a tablet's
// on-disk data chunk; the actual row-merge kernels and on-disk format are
// out of scope here (spec.md §1).
type Rowset interface {
	StartVersion() int64
	EndVersion() int64
	NumRows() uint32
	DataDiskSize() int64
	Version() Version
	Load() error

	// Entries returns the rowset's rows, loading the backing segment
	// first if necessary. The merge kernels (horizontal/vertical
	// strategies) are the only callers; the control plane itself never
	// inspects row contents.
	Entries() ([]block.Entry, error)
}

// RowsetFactory constructs the concrete Rowset implementation for a
// freshly-written output segment. Injected by the storage layer
// (storage.TabletManager passes storage.NewRowsetFactory to NewFactory)
// so the control plane's merge kernels never import it directly (spec.md
// §1 treats the rowset on-disk format as an external collaborator).
type RowsetFactory func(path string, startVersion, endVersion int64, numRows uint32, diskSizeBytes int64) Rowset

// DataDir is the narrow contract for a tablet's physical storage mount,
// the unit of per-disk concurrency control.
type DataDir interface {
	Path() string
	ReachCapacityLimit(reservedBytes int64) bool
}

// AlterTaskState is the lifecycle state of a schema-change/rollup task.
type AlterTaskState int

const (
	AlterRunning AlterTaskState = iota
	AlterFinished
	AlterFailed
)

// AlterTask is consulted by the scheduler's filter #3 to decide whether a
// tablet is the newly-created child of an in-flight schema change.
type AlterTask interface {
	State() AlterTaskState
	RelatedTabletID() uint64
}

// Tablet is the unit of compaction. The control plane never constructs one
// itself — tablets are owned and created by an external tablet manager;
// the control plane only holds non-owning references (spec.md §3).
type Tablet interface {
	ID() uint64
	NeedCompaction() bool
	CompactionScore() float64
	CompactionLevel() int
	TabletState() TabletState
	DataDir() DataDir
	AlterTask() AlterTask // nil if none in flight

	// GetCompaction returns the tablet's current compaction task slot,
	// creating one with create=true if the slot is empty.
	GetCompaction(create bool) *Task
	ResetCompaction()

	CumulativeLock() *sync.Mutex
	BaseLock() *sync.Mutex
	HeaderLock() *sync.RWMutex

	// ModifyRowsets atomically substitutes added for removed in the
	// tablet's rowset metadata; callers must hold the header lock.
	ModifyRowsets(added, removed []Rowset) error
	SaveMeta() error

	NumColumns() int

	LastCumuFailureTimeMillis() int64
	LastBaseFailureTimeMillis() int64
	SetLastCumuSuccessTimeMillis(ms int64)
	SetLastBaseSuccessTimeMillis(ms int64)
	SetLastCumuFailureTimeMillis(ms int64)
	SetLastBaseFailureTimeMillis(ms int64)
}

// Level identifies a compaction level: 0 = cumulative (frequent, small),
// 1 = base (rare, large).
const (
	LevelCumulative = 0
	LevelBase       = 1
)
