package storage

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// CommitRecord is one entry in the commit ledger: a durability marker
// that TabletMetaStore.Save appends before it replaces a tablet's JSON
// snapshot. It is written after the in-memory rowset swap, and recovery
// does not read it back.
type CommitRecord struct {
	TabletID    uint64
	RowsetCount int
	Timestamp   int64
}

// CommitLedger is a CRC32'd append-only log, adapted from the teacher's
// WAL: where the teacher logs PUT/DELETE operations against a key-value
// store, the ledger here logs "tablet N committed M rowsets" markers
// ahead of the metadata-store swap they guard.
type CommitLedger struct {
	mu         sync.Mutex
	file       *os.File
	writer     *bufio.Writer
	crc32Table *crc32.Table
}

// NewCommitLedger opens (creating if necessary) the append-only ledger
// file under dir.
func NewCommitLedger(dir string) (*CommitLedger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	path := filepath.Join(dir, "commit.ledger")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open commit ledger: %w", err)
	}
	return &CommitLedger{
		file:       f,
		writer:     bufio.NewWriter(f),
		crc32Table: crc32.MakeTable(crc32.Castagnoli),
	}, nil
}

// Append durably writes rec to the ledger: CRC32, then tablet id, rowset
// count, and timestamp, flushed and fsynced before returning.
func (l *CommitLedger) Append(rec CommitRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if rec.Timestamp == 0 {
		rec.Timestamp = time.Now().UnixNano()
	}

	buf := make([]byte, 4+8+4+8)
	offset := 4
	binary.LittleEndian.PutUint64(buf[offset:], rec.TabletID)
	offset += 8
	binary.LittleEndian.PutUint32(buf[offset:], uint32(rec.RowsetCount))
	offset += 4
	binary.LittleEndian.PutUint64(buf[offset:], uint64(rec.Timestamp))
	offset += 8

	crc := crc32.Checksum(buf[4:offset], l.crc32Table)
	binary.LittleEndian.PutUint32(buf[0:], crc)

	if _, err := l.writer.Write(buf[:offset]); err != nil {
		return fmt.Errorf("write ledger record: %w", err)
	}
	if err := l.writer.Flush(); err != nil {
		return fmt.Errorf("flush ledger: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync ledger: %w", err)
	}
	return nil
}

// Replay reads every record in the ledger from the beginning, invoking fn
// for each. TabletManager's recovery path does not call it.
func (l *CommitLedger) Replay(fn func(CommitRecord) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	path := l.file.Name()
	if err := l.writer.Flush(); err != nil {
		return fmt.Errorf("flush ledger before replay: %w", err)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open ledger for replay: %w", err)
	}
	defer f.Close()

	crcTable := l.crc32Table
	header := make([]byte, 4+8+4+8)
	for {
		_, err := io.ReadFull(f, header)
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			break // truncated trailing record, ignore
		}
		if err != nil {
			return fmt.Errorf("read ledger record: %w", err)
		}
		gotCRC := binary.LittleEndian.Uint32(header[0:4])
		wantCRC := crc32.Checksum(header[4:], crcTable)
		if gotCRC != wantCRC {
			return fmt.Errorf("ledger record checksum mismatch")
		}
		rec := CommitRecord{
			TabletID:    binary.LittleEndian.Uint64(header[4:12]),
			RowsetCount: int(binary.LittleEndian.Uint32(header[12:16])),
			Timestamp:   int64(binary.LittleEndian.Uint64(header[16:24])),
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes and closes the ledger file.
func (l *CommitLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.writer.Flush(); err != nil {
		return err
	}
	return l.file.Close()
}
