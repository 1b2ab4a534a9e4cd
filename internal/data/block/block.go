// Package block implements the on-disk column-chunk segment format that
// backs a rowset. A segment is one physically-stored slice of a rowset's
// rows; the control plane only ever reads the header/stats, never the row
// data itself, but compaction's merge step needs a real format to read
// from and write to.
package block

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vortexdb/compactord/internal/data/compress"
)

// DataType identifies the logical type of a column.
type DataType uint8

const (
	Int32 DataType = iota
	Int64
	Float32
	Float64
	String
	Bool
)

// Header is the fixed-size metadata prefix of a segment.
type Header struct {
	DataType        DataType
	CompressionType compress.Type
	Count           uint32   // number of rows in the segment
	RawSizeBytes    uint32   // size before compression
	StoredSizeBytes uint32   // size after compression, on disk
	StartVersion    int64    // inclusive start of the version range covered
	EndVersion      int64    // inclusive end of the version range covered
	CreatedAt       int64    // unix timestamp the segment was written
	SegmentID       [32]byte // sha-256 of the row data
}

// Stats carries summary statistics used for predicate pushdown and for the
// control plane's min/max-key bookkeeping.
type Stats struct {
	Min, Max uint64
	MinKey   []byte
	MaxKey   []byte
}

// Segment is a single columnar chunk on disk.
//
// Layout: [Header][Stats][Data]
type Segment struct {
	Header Header
	Stats  Stats
	Data   []byte

	rows   []rowPair
	rowsMu sync.RWMutex
	buffer *bytes.Buffer
}

type rowPair struct {
	key   []byte
	value []byte
}

// Entry is a single row exposed by Entries for callers that merge across
// segments (the compaction strategies).
type Entry struct {
	Key   []byte
	Value []byte
}

// Entries returns a snapshot of the segment's rows, in whatever order
// they were staged (sorted, if the segment has been Finalize'd or
// Decode'd). Callers must not mutate the returned slices.
func (s *Segment) Entries() []Entry {
	s.rowsMu.RLock()
	defer s.rowsMu.RUnlock()
	out := make([]Entry, len(s.rows))
	for i, r := range s.rows {
		out[i] = Entry{Key: r.key, Value: r.value}
	}
	return out
}

// NewSegment creates an empty segment covering the given version range.
func NewSegment(startVersion, endVersion int64) *Segment {
	return &Segment{
		Header: Header{
			CreatedAt:    time.Now().Unix(),
			StartVersion: startVersion,
			EndVersion:   endVersion,
		},
		rows:   make([]rowPair, 0),
		buffer: new(bytes.Buffer),
	}
}

// Add appends a row to the segment, keyed for later point lookup/merge.
func (s *Segment) Add(key, value []byte) error {
	s.rowsMu.Lock()
	defer s.rowsMu.Unlock()

	s.rows = append(s.rows, rowPair{key: key, value: value})

	if len(s.Stats.MinKey) == 0 || bytes.Compare(key, s.Stats.MinKey) < 0 {
		s.Stats.MinKey = append([]byte(nil), key...)
	}
	if len(s.Stats.MaxKey) == 0 || bytes.Compare(key, s.Stats.MaxKey) > 0 {
		s.Stats.MaxKey = append([]byte(nil), key...)
	}

	return nil
}

// Get performs a linear lookup for a key within the segment.
func (s *Segment) Get(key []byte) ([]byte, error) {
	s.rowsMu.RLock()
	defer s.rowsMu.RUnlock()

	for _, r := range s.rows {
		if bytes.Equal(r.key, key) {
			return r.value, nil
		}
	}
	return nil, fmt.Errorf("key not found")
}

// Rows returns the number of rows currently staged in the segment.
func (s *Segment) Rows() int {
	s.rowsMu.RLock()
	defer s.rowsMu.RUnlock()
	return len(s.rows)
}

// Finalize sorts rows by key and serializes them, compressing the result
// with the given compressor (nil means store uncompressed).
func (s *Segment) Finalize(c compress.Compressor) error {
	s.rowsMu.Lock()
	defer s.rowsMu.Unlock()

	sort.Slice(s.rows, func(i, j int) bool {
		return bytes.Compare(s.rows[i].key, s.rows[j].key) < 0
	})

	s.buffer.Reset()
	count := uint32(len(s.rows))
	if err := binary.Write(s.buffer, binary.LittleEndian, count); err != nil {
		return fmt.Errorf("write row count: %w", err)
	}
	for _, r := range s.rows {
		if err := writeLenPrefixed(s.buffer, r.key); err != nil {
			return fmt.Errorf("write key: %w", err)
		}
		if err := writeLenPrefixed(s.buffer, r.value); err != nil {
			return fmt.Errorf("write value: %w", err)
		}
	}

	raw := s.buffer.Bytes()
	s.Header.Count = count
	s.Header.RawSizeBytes = uint32(len(raw))

	stored := raw
	s.Header.CompressionType = compress.TypeNone
	if c != nil {
		compressed, err := c.Compress(raw)
		switch {
		case errors.Is(err, compress.ErrIncompressible):
			// fall through, store raw
		case err != nil:
			return fmt.Errorf("compress segment: %w", err)
		default:
			stored = compressed
			s.Header.CompressionType = c.Type()
		}
	}

	s.Data = append([]byte(nil), stored...)
	s.Header.StoredSizeBytes = uint32(len(s.Data))
	s.Header.SegmentID = sha256.Sum256(raw)

	return nil
}

func writeLenPrefixed(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readLenPrefixed(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Encode writes the segment to w, finalizing uncompressed first if the
// caller has not already finalized it.
func (s *Segment) Encode(w io.Writer) error {
	if len(s.Data) == 0 && s.Header.Count == 0 && s.Rows() > 0 {
		if err := s.Finalize(nil); err != nil {
			return err
		}
	}

	if err := binary.Write(w, binary.LittleEndian, &s.Header); err != nil {
		return fmt.Errorf("write segment header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, s.Stats.Min); err != nil {
		return fmt.Errorf("write stats min: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, s.Stats.Max); err != nil {
		return fmt.Errorf("write stats max: %w", err)
	}
	if err := writeLenPrefixed(w, s.Stats.MinKey); err != nil {
		return fmt.Errorf("write min key: %w", err)
	}
	if err := writeLenPrefixed(w, s.Stats.MaxKey); err != nil {
		return fmt.Errorf("write max key: %w", err)
	}
	if _, err := w.Write(s.Data); err != nil {
		return fmt.Errorf("write segment data: %w", err)
	}
	return nil
}

// Decode reads a segment from r, decompressing its data with c if the
// header indicates it was compressed (c must match the header's
// compression type, or be nil for compress.TypeNone).
func (s *Segment) Decode(r io.Reader, c compress.Compressor) error {
	if err := binary.Read(r, binary.LittleEndian, &s.Header); err != nil {
		return fmt.Errorf("read segment header: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &s.Stats.Min); err != nil {
		return fmt.Errorf("read stats min: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &s.Stats.Max); err != nil {
		return fmt.Errorf("read stats max: %w", err)
	}
	minKey, err := readLenPrefixed(r)
	if err != nil {
		return fmt.Errorf("read min key: %w", err)
	}
	s.Stats.MinKey = minKey
	maxKey, err := readLenPrefixed(r)
	if err != nil {
		return fmt.Errorf("read max key: %w", err)
	}
	s.Stats.MaxKey = maxKey

	s.Data = make([]byte, s.Header.StoredSizeBytes)
	if _, err := io.ReadFull(r, s.Data); err != nil {
		return fmt.Errorf("read segment data: %w", err)
	}

	raw := s.Data
	if s.Header.CompressionType != compress.TypeNone {
		if c == nil {
			return fmt.Errorf("segment is compressed but no compressor was provided")
		}
		raw, err = c.Decompress(s.Data, int(s.Header.RawSizeBytes))
		if err != nil {
			return fmt.Errorf("decompress segment data: %w", err)
		}
	}

	buf := bytes.NewReader(raw)
	var count uint32
	if err := binary.Read(buf, binary.LittleEndian, &count); err != nil {
		return fmt.Errorf("read row count: %w", err)
	}
	s.rows = make([]rowPair, count)
	for i := uint32(0); i < count; i++ {
		key, err := readLenPrefixed(buf)
		if err != nil {
			return fmt.Errorf("read key: %w", err)
		}
		value, err := readLenPrefixed(buf)
		if err != nil {
			return fmt.Errorf("read value: %w", err)
		}
		s.rows[i] = rowPair{key: key, value: value}
	}

	return nil
}

// ID returns the segment's content-addressed identifier.
func (s *Segment) ID() string {
	return hex.EncodeToString(s.Header.SegmentID[:])
}

// MinKey returns the minimum key stored in the segment.
func (s *Segment) MinKey() string { return string(s.Stats.MinKey) }

// MaxKey returns the maximum key stored in the segment.
func (s *Segment) MaxKey() string { return string(s.Stats.MaxKey) }

// Size returns the on-disk (stored) size of the segment in bytes.
func (s *Segment) Size() int { return int(s.Header.StoredSizeBytes) }

// Reader returns a reader over the segment's stored (possibly compressed)
// bytes.
func (s *Segment) Reader() io.Reader { return bytes.NewReader(s.Data) }

func (s *Segment) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "segment %s versions=[%d,%d] rows=%d stored=%dB\n",
		s.ID(), s.Header.StartVersion, s.Header.EndVersion, s.Header.Count, s.Header.StoredSizeBytes)
	return sb.String()
}
