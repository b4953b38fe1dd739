// The index log: an append-only sequence of (key, BlockInfo) records.
// Replaying it in order reconstructs the authoritative in-memory index.
// A trailing partial record — the expected tail when the process died
// mid-flush — is ignored silently; see spec §4.3. Grounded on
// jpl-au-folio's read.go (io.SectionReader over a single *os.File) and
// repair.go's offsetWriter (sequential WriteAt tracking a running
// offset), generalized here from newline-delimited JSON lines to
// fixed/length-prefixed binary records.
package engine

import (
	"io"
	"os"

	"github.com/cabinetdb/cabinet/internal/enginerr"
)

type indexLog struct {
	f      *os.File
	length int64
}

func openIndexLog(path string) (*indexLog, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, enginerr.New(enginerr.KindOpen, "open index log", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, enginerr.New(enginerr.KindStat, "stat index log", err)
	}
	return &indexLog{f: f, length: info.Size()}, nil
}

// append writes buf (a concatenation of serialized records) at the
// current tail in a single syscall, so a crash mid-flush never produces
// a gap between records — only a torn final one, which replay tolerates.
func (l *indexLog) append(buf []byte) error {
	n, err := l.f.WriteAt(buf, l.length)
	if err != nil {
		return enginerr.New(enginerr.KindWrite, "append index log", err)
	}
	if n != len(buf) {
		return enginerr.New(enginerr.KindWrite, "short write to index log", nil)
	}
	l.length += int64(n)
	return nil
}

func (l *indexLog) sync() error {
	if err := l.f.Sync(); err != nil {
		return enginerr.New(enginerr.KindWrite, "sync index log", err)
	}
	return nil
}

func (l *indexLog) truncate() error {
	if err := l.f.Truncate(0); err != nil {
		return enginerr.New(enginerr.KindTruncate, "truncate index log", err)
	}
	l.length = 0
	return nil
}

func (l *indexLog) close() error {
	if err := l.f.Close(); err != nil {
		return enginerr.New(enginerr.KindOpen, "close index log", err)
	}
	return nil
}

// replayIndexLog rebuilds the authoritative index by reading every
// record in order. It returns the live key→BlockInfo map and the sum of
// live value sizes (actual_bytes). A record that fails to parse in full
// — a torn key or a torn BlockInfo — terminates replay without error:
// it is the expected tail of a crash mid-flush, not corruption.
func replayIndexLog[K comparable](f *os.File, length int64, codec Codec[K]) (map[K]BlockInfo, int64, error) {
	orig := make(map[K]BlockInfo)
	var actualBytes int64

	if length == 0 {
		return orig, 0, nil
	}

	data, err := io.ReadAll(io.NewSectionReader(f, 0, length))
	if err != nil {
		return nil, 0, enginerr.New(enginerr.KindRead, "read index log", err)
	}

	for len(data) > 0 {
		k, n, ok := codec.Decode(data)
		if !ok {
			break // torn key: expected tail of a crash mid-flush
		}
		data = data[n:]

		b, ok := decodeBlockInfo(data)
		if !ok {
			break // torn BlockInfo: same as above
		}
		data = data[BlockInfoEncodedSize:]

		if b.isTombstone() {
			if prev, existed := orig[k]; existed {
				// Read the prior entry's size before removing it: the
				// decrement must use the entry being removed, not be
				// computed after the fact.
				actualBytes -= int64(prev.Size)
				delete(orig, k)
			}
			continue
		}

		if _, existed := orig[k]; !existed {
			actualBytes += int64(b.Size)
		} else {
			actualBytes += int64(b.Size) - int64(orig[k].Size)
		}
		orig[k] = b
	}

	return orig, actualBytes, nil
}

// encodeIndexRecord appends one (key, BlockInfo) record to dst.
func encodeIndexRecord[K comparable](dst []byte, codec Codec[K], k K, b BlockInfo) []byte {
	dst = codec.Encode(dst, k)
	return b.encode(dst)
}
