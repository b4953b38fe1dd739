// The data log: an append-only file of raw value bytes, addressed only by
// position. Writes land at the current tail via positional write; reads
// are positional and safe to run concurrently with appends because
// existing bytes are never rewritten (the data log is only truncated by
// Drop and only replaced by Compact). Grounded on jpl-au-folio's write.go/read.go, which use
// the same io.WriterAt/ReaderAt-at-an-offset style over a single *os.File
// rather than a buffered stream.
package engine

import (
	"os"

	"github.com/cabinetdb/cabinet/internal/enginerr"
)

type dataLog struct {
	f      *os.File
	length int64 // data_file_length
}

func openDataLog(path string) (*dataLog, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, enginerr.New(enginerr.KindOpen, "open data log", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, enginerr.New(enginerr.KindStat, "stat data log", err)
	}
	return &dataLog{f: f, length: info.Size()}, nil
}

// append writes p at the current tail and advances the tail. It returns
// the offset p was written at.
func (d *dataLog) append(p []byte) (int64, error) {
	offset := d.length
	n, err := d.f.WriteAt(p, offset)
	if err != nil {
		return 0, enginerr.New(enginerr.KindWrite, "append data log", err)
	}
	if n != len(p) {
		return 0, enginerr.New(enginerr.KindWrite, "short write to data log", nil)
	}
	d.length += int64(n)
	return offset, nil
}

// readAt reads exactly size bytes at position. A short read is a fatal
// I/O error per spec §4.6 — absence of a value is never signalled this
// way; a missing key is resolved before readAt is ever called.
func (d *dataLog) readAt(position uint64, size uint32) ([]byte, error) {
	buf := make([]byte, size)
	n, err := d.f.ReadAt(buf, int64(position))
	if err != nil && n != len(buf) {
		return nil, enginerr.New(enginerr.KindRead, "read data log", err)
	}
	return buf, nil
}

func (d *dataLog) sync() error {
	if err := d.f.Sync(); err != nil {
		return enginerr.New(enginerr.KindWrite, "sync data log", err)
	}
	return nil
}

func (d *dataLog) truncate() error {
	if err := d.f.Truncate(0); err != nil {
		return enginerr.New(enginerr.KindTruncate, "truncate data log", err)
	}
	d.length = 0
	return nil
}

func (d *dataLog) close() error {
	if err := d.f.Close(); err != nil {
		return enginerr.New(enginerr.KindOpen, "close data log", err)
	}
	return nil
}
