// Package trace records an optional zstd-compressed log of every RPC
// operation dispatched against the registry — a debugging and replay
// aid, not part of the storage engine's durability story. Grounded on
// the compression dependency already present in jpl-au-folio's stack
// (klauspost/compress), extended here from per-value compression to a
// streaming trace of operations.
package trace

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Recorder appends one line per operation to a zstd-compressed file.
// Safe for concurrent use; writes are serialized by mu since the
// underlying zstd.Encoder is not itself safe for concurrent Write calls.
type Recorder struct {
	mu  sync.Mutex
	f   *os.File
	enc *zstd.Encoder
}

// Open creates or truncates the trace file at path and returns a
// Recorder that appends to it. Callers must Close it on shutdown to
// flush the final zstd frame.
func Open(path string) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Recorder{f: f, enc: enc}, nil
}

// Record appends one trace line: a timestamp, the database name, the
// operation, and the key's text representation.
func (r *Recorder) Record(dbName, op, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	line := fmt.Sprintf("%s\t%s\t%s\t%s\n", time.Now().UTC().Format(time.RFC3339Nano), dbName, op, key)
	_, err := io.WriteString(r.enc, line)
	return err
}

// Close flushes and closes the trace file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enc.Close(); err != nil {
		r.f.Close()
		return err
	}
	return r.f.Close()
}
