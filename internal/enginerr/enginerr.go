// Package enginerr defines the structured error type returned by every
// fallible engine operation. Each error carries enough context — kind,
// source location, and the underlying errno when one is available — for
// the service layer to log and translate it into an RPC-facing error
// without re-deriving what went wrong.
package enginerr

import (
	"errors"
	"fmt"
	"runtime"
	"syscall"
)

// Kind classifies the failure. These mirror the semantic kinds in the
// engine's error taxonomy: file-level failures (Open/Read/Write/Seek/
// Stat/Truncate), structural corruption, and a mismatch between a
// database's stored key kind and the codec it is opened with. The
// service-layer validation kinds live in internal/rpcerr.
type Kind int

const (
	KindOpen Kind = iota + 1
	KindRead
	KindWrite
	KindSeek
	KindStat
	KindTruncate
	KindFileCorrupt
	KindKeyKindMismatch
)

func (k Kind) String() string {
	switch k {
	case KindOpen:
		return "Open"
	case KindRead:
		return "Read"
	case KindWrite:
		return "Write"
	case KindSeek:
		return "Seek"
	case KindStat:
		return "Stat"
	case KindTruncate:
		return "Truncate"
	case KindFileCorrupt:
		return "FileCorrupt"
	case KindKeyKindMismatch:
		return "KeyKindMismatch"
	default:
		return "Unknown"
	}
}

// Error is the single structured error type propagated from every engine
// operation. File and Line identify the call site that raised it, Errno
// carries the underlying syscall error when the failure originated from
// one, and Err wraps whatever error was returned by the standard library.
type Error struct {
	Kind    Kind
	File    string
	Line    int
	Errno   syscall.Errno
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Errno != 0 {
		return fmt.Sprintf("%s: %s (%s:%d): %s", e.Kind, e.Message, e.File, e.Line, e.Errno)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%s:%d): %v", e.Kind, e.Message, e.File, e.Line, e.Err)
	}
	return fmt.Sprintf("%s: %s (%s:%d)", e.Kind, e.Message, e.File, e.Line)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error tagged with the caller's file and line, extracting
// an errno from err when the underlying cause was a syscall failure.
func New(kind Kind, message string, err error) *Error {
	_, file, line, _ := runtime.Caller(1)

	var errno syscall.Errno
	errors.As(err, &errno)

	return &Error{
		Kind:    kind,
		File:    file,
		Line:    line,
		Errno:   errno,
		Message: message,
		Err:     err,
	}
}
