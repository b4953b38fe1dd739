//go:build unix || linux || darwin

// A single exclusive lock file under the data root, held for the life
// of the process, so two cabinetd instances can never open the same
// data root at once. Grounded on jpl-au-folio's lock.go (flock over a
// dedicated file handle) and adapted from Unix-only flock(2) to
// golang.org/x/sys/unix so the lock call is explicit about the syscall
// rather than going through the standard library's (Unix-only already)
// syscall package. This is the module's only use of golang.org/x/sys;
// the Windows lock and enginerr use the standard syscall package.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

type pidLock struct {
	f *os.File
}

// acquirePIDLock takes an exclusive, non-blocking flock on root/.cabinetd.lock
// and writes the current PID into it. It fails immediately if another
// process already holds the lock, rather than blocking.
func acquirePIDLock(root string) (*pidLock, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(root, ".cabinetd.lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("data root %s is already locked by another cabinetd: %w", root, err)
	}

	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.WriteString(fmt.Sprintf("%d\n", os.Getpid())); err != nil {
		f.Close()
		return nil, err
	}
	_ = f.Sync()

	return &pidLock{f: f}, nil
}

// release drops the flock and closes the handle. The lock file itself
// is left in place; its content is only meaningful while held.
func (l *pidLock) release() error {
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	return l.f.Close()
}
