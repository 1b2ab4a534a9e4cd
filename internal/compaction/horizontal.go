package compaction

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/vortexdb/compactord/internal/data/block"
	"github.com/vortexdb/compactord/internal/data/compress"
)

// horizontalStrategy merges all columns of all input rowsets together in
// one streaming pass, producing a single output rowset (spec.md §4.A).
type horizontalStrategy struct {
	compressor compress.Compressor
}

func newHorizontalStrategy() *horizontalStrategy {
	return &horizontalStrategy{compressor: compress.NewLZ4()}
}

func (s *horizontalStrategy) Algorithm() Algorithm { return AlgorithmHorizontal }

func (s *horizontalStrategy) RunImpl(ctx context.Context, t *Task) (MergeStats, error) {
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

	var merged uint32
	out := make([]block.Entry, 0, len(rows))
	for i, r := range rows {
		if i > 0 && bytes.Equal(r.Key, rows[i-1].Key) {
			merged++
			out[len(out)-1] = r
			continue
		}
		out = append(out, r)
	}

	seg := block.NewSegment(t.outputVersion.Start, t.outputVersion.End)
	for _, r := range out {
		if err := seg.Add(r.Key, r.Value); err != nil {
			return MergeStats{}, fmt.Errorf("%w: %v", ErrIoError, err)
		}
	}
	if err := seg.Finalize(s.compressor); err != nil {
		return MergeStats{}, fmt.Errorf("%w: finalize output segment: %v", ErrIoError, err)
	}

	outPath := filepath.Join(t.dataDirPath, fmt.Sprintf("tablet-%d-v%d-%d.seg", t.tabletID, t.outputVersion.Start, t.outputVersion.End))
	if err := writeSegmentFile(outPath, seg); err != nil {
		return MergeStats{}, fmt.Errorf("%w: %v", ErrIoError, err)
	}

	output := t.newRowset(outPath, t.outputVersion.Start, t.outputVersion.End, uint32(len(out)), int64(seg.Size()))

	return MergeStats{MergedRows: merged, FilteredRows: 0, Output: output}, nil
}

func writeSegmentFile(path string, seg *block.Segment) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create segment file: %w", err)
	}
	defer f.Close()
	if err := seg.Encode(f); err != nil {
		return fmt.Errorf("encode segment: %w", err)
	}
	return f.Sync()
}
