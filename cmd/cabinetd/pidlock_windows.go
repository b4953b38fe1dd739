//go:build windows

// LockFileEx implementation of the same single-instance PID lock,
// mirroring jpl-au-folio's lock_windows.go.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"unsafe"
)

var (
	modkernel32    = syscall.NewLazyDLL("kernel32.dll")
	procLockFileEx = modkernel32.NewProc("LockFileEx")
)

const lockfileFailImmediately = 0x00000001
const lockfileExclusiveLock = 0x00000002

type pidLock struct {
	f *os.File
}

func acquirePIDLock(root string) (*pidLock, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(root, ".cabinetd.lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}

	var overlapped syscall.Overlapped
	h := syscall.Handle(f.Fd())
	r1, _, callErr := procLockFileEx.Call(
		uintptr(h),
		uintptr(lockfileExclusiveLock|lockfileFailImmediately),
		0,
		0xFFFFFFFF,
		0xFFFFFFFF,
		uintptr(unsafe.Pointer(&overlapped)),
	)
	if r1 == 0 {
		f.Close()
		return nil, fmt.Errorf("data root %s is already locked by another cabinetd: %w", root, callErr)
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

func (l *pidLock) release() error {
	return l.f.Close()
}
