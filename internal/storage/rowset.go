package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/vortexdb/compactord/internal/compaction"
	"github.com/vortexdb/compactord/internal/data/block"
	"github.com/vortexdb/compactord/internal/data/compress"
)

// Version is a closed integer range identifying a rowset's contribution to
// a tablet's history.
type Version struct {
	Start int64
	End   int64
}

// Rowset is one immutable, versioned, sorted chunk of a tablet's data. It
// implements the collaborator contract the control plane needs
// (start/end version, row count, disk size, load) without exposing how rows
// are actually stored.
type Rowset struct {
	path       string
	startVer   int64
	endVer     int64
	numRows    uint32
	diskSize   int64
	compressor compress.Compressor

	mu      sync.Mutex
	segment *block.Segment
}

// NewRowset wraps an on-disk segment at path as a Rowset. numRows and
// diskSize are recorded at commit time from the segment header so callers
// needing only metadata never have to read the segment off disk.
func NewRowset(path string, startVer, endVer int64, numRows uint32, diskSize int64, c compress.Compressor) *Rowset {
	return &Rowset{
		path:       path,
		startVer:   startVer,
		endVer:     endVer,
		numRows:    numRows,
		diskSize:   diskSize,
		compressor: c,
	}
}

// StartVersion returns the inclusive start of the rowset's version range.
func (r *Rowset) StartVersion() int64 { return r.startVer }

// EndVersion returns the inclusive end of the rowset's version range.
func (r *Rowset) EndVersion() int64 { return r.endVer }

// NumRows returns the number of rows contained in the rowset.
func (r *Rowset) NumRows() uint32 { return r.numRows }

// DataDiskSize returns the on-disk size of the rowset in bytes.
func (r *Rowset) DataDiskSize() int64 { return r.diskSize }

// Version returns the rowset's version range.
func (r *Rowset) Version() Version { return Version{Start: r.startVer, End: r.endVer} }

// Path returns the rowset's on-disk segment path.
func (r *Rowset) Path() string { return r.path }

// Load reads the backing segment off disk, decompressing it with the
// rowset's compressor. It is safe to call concurrently; the first caller
// does the I/O and subsequent callers observe the cached segment.
func (r *Rowset) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.segment != nil {
		return nil
	}

	f, err := os.Open(r.path)
	if err != nil {
		return fmt.Errorf("open rowset segment %s: %w", filepath.Base(r.path), err)
	}
	defer f.Close()

	seg := &block.Segment{}
	if err := seg.Decode(f, r.compressor); err != nil {
		return fmt.Errorf("decode rowset segment %s: %w", filepath.Base(r.path), err)
	}
	r.segment = seg
	return nil
}

// Segment returns the loaded segment, or nil if Load has not been called.
func (r *Rowset) Segment() *block.Segment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.segment
}

// Entries loads the backing segment if necessary and returns its rows.
func (r *Rowset) Entries() ([]block.Entry, error) {
	if err := r.Load(); err != nil {
		return nil, err
	}
	return r.Segment().Entries(), nil
}

// NewRowsetFactory returns a compaction.RowsetFactory that wraps freshly
// written segments as Rowsets compressed with c.
func NewRowsetFactory(c compress.Compressor) compaction.RowsetFactory {
	return func(path string, startVersion, endVersion int64, numRows uint32, diskSizeBytes int64) compaction.Rowset {
		return NewRowset(path, startVersion, endVersion, numRows, diskSizeBytes, c)
	}
}

// Overlaps reports whether the two rowsets' version ranges intersect.
func Overlaps(a, b *Rowset) bool {
	return a.startVer <= b.endVer && b.startVer <= a.endVer
}
