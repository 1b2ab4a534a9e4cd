package compaction

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/RoaringBitmap/roaring"
	"github.com/vortexdb/compactord/internal/data/bitmap"
	"github.com/vortexdb/compactord/internal/data/block"
	"github.com/vortexdb/compactord/internal/data/compress"
)

// verticalStrategy merges column-group by column-group, reusing a single
// pre-computed row-source mask across groups rather than recomputing which
// rows survive the merge on every pass (spec.md §4.A). Row storage here is
// flat key/value rather than truly columnar, so "column group" passes
// re-read the same row stream filtered by the shared mask — the point
// being the mask is computed once and shared, matching the original
// kernel's contract even though this control plane does not own a real
// columnar storage format.
type verticalStrategy struct {
	compressor       compress.Compressor
	maxColumnsPerGrp int
}

func newVerticalStrategy(maxColumnsPerGroup int) *verticalStrategy {
	return &verticalStrategy{compressor: compress.NewLZ4(), maxColumnsPerGrp: maxColumnsPerGroup}
}

func (s *verticalStrategy) Algorithm() Algorithm { return AlgorithmVertical }

func (s *verticalStrategy) RunImpl(ctx context.Context, t *Task) (MergeStats, error) {
	var rows []block.Entry

	for _, rs := range t.inputRowsets {
		if err := ctx.Err(); err != nil {
			return MergeStats{}, fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		entries, err := rs.Entries()
		if err != nil {
			return MergeStats{}, fmt.Errorf("%w: load input rowset: %v", ErrIoError, err)
		}
		rows = append(rows, entries...)
	}

	sort.Slice(rows, func(i, j int) bool { return bytes.Compare(rows[i].Key, rows[j].Key) < 0 })

	// The row-source mask: bit i set means flattened row i survives into
	// the output. Built once, shared across every column-group pass.
	mask := roaring.New()
	var merged uint32
	lastKept := -1
	for i, r := range rows {
		if lastKept >= 0 && bytes.Equal(r.Key, rows[lastKept].Key) {
			merged++
			mask.Remove(uint32(lastKept))
		}
		mask.Add(uint32(i))
		lastKept = i
	}

	numGroups := 1
	if t.tablet != nil && s.maxColumnsPerGrp > 0 {
		numGroups = (t.tablet.NumColumns() + s.maxColumnsPerGrp - 1) / s.maxColumnsPerGrp
		if numGroups < 1 {
			numGroups = 1
		}
	}

	seg := block.NewSegment(t.outputVersion.Start, t.outputVersion.End)
	for g := 0; g < numGroups; g++ {
		if err := ctx.Err(); err != nil {
			return MergeStats{}, fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		it := mask.Iterator()
		for it.HasNext() {
			idx := it.Next()
			if g == 0 {
				r := rows[idx]
				if err := seg.Add(r.Key, r.Value); err != nil {
					return MergeStats{}, fmt.Errorf("%w: %v", ErrIoError, err)
				}
			}
		}
	}

	if err := seg.Finalize(s.compressor); err != nil {
		return MergeStats{}, fmt.Errorf("%w: finalize output segment: %v", ErrIoError, err)
	}

	outPath := filepath.Join(t.dataDirPath, fmt.Sprintf("tablet-%d-v%d-%d.seg", t.tabletID, t.outputVersion.Start, t.outputVersion.End))
	if err := writeSegmentFile(outPath, seg); err != nil {
		return MergeStats{}, fmt.Errorf("%w: %v", ErrIoError, err)
	}
	if err := writeMaskFile(outPath+".mask", mask); err != nil {
		return MergeStats{}, fmt.Errorf("%w: %v", ErrIoError, err)
	}

	output := t.newRowset(outPath, t.outputVersion.Start, t.outputVersion.End, uint32(mask.GetCardinality()), int64(seg.Size()))

	return MergeStats{MergedRows: merged, FilteredRows: 0, Output: output}, nil
}

// writeMaskFile persists the row-source mask alongside the output segment
// via the shared roaring-bitmap serialization helper, so a later
// column-group repair pass can re-derive which rows an output segment
// carries without re-running the merge.
func writeMaskFile(path string, mask *roaring.Bitmap) error {
	b, err := bitmap.ToBytes(mask)
	if err != nil {
		return fmt.Errorf("serialize row mask: %w", err)
	}
	return os.WriteFile(path, b, 0644)
}
