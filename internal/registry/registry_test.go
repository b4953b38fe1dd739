// Locking-discipline and lifecycle tests for Registry. These focus on
// the property the registry exists to provide: operations against
// different databases never block each other, and a database is opened
// lazily, exactly once, on first use.
package registry

import (
	"sync"
	"testing"

	"github.com/cabinetdb/cabinet/internal/engine"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	dir := t.TempDir()
	reg, err := New(dir, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { reg.CloseAll() })
	return reg
}

// TestWithWriteCreatesOnFirstUse verifies that a database is created
// lazily by its first WithWrite call rather than requiring a separate
// create step.
func TestWithWriteCreatesOnFirstUse(t *testing.T) {
	reg := newTestRegistry(t)

	err := reg.WithWrite("widgets", engine.KindUint64, func(eng engine.Engine) error {
		return eng.Set(engine.Uint64Codec{}.Encode(nil, 1), []byte("hello"))
	})
	if err != nil {
		t.Fatalf("WithWrite: %v", err)
	}

	names := reg.List()
	if len(names) != 1 || names[0] != "widgets" {
		t.Errorf("List() = %v, want [widgets]", names)
	}
}

// TestWithReadBeforeCreateFails verifies that reading a database that
// has never been opened reports DbNotExist rather than implicitly
// creating it — only WithWrite creates.
func TestWithReadBeforeCreateFails(t *testing.T) {
	reg := newTestRegistry(t)

	err := reg.WithRead("widgets", func(eng engine.Engine) error { return nil })
	if err == nil {
		t.Fatal("expected error for unopened database")
	}
}

// TestBadNameRejected verifies that names which would escape the data
// root are rejected before any file I/O happens.
func TestBadNameRejected(t *testing.T) {
	reg := newTestRegistry(t)

	for _, name := range []string{"", ".", "..", "a/b"} {
		if err := reg.WithWrite(name, engine.KindUint64, func(engine.Engine) error { return nil }); err == nil {
			t.Errorf("name %q: expected rejection", name)
		}
	}
}

// TestIndependentDatabasesDoNotBlock verifies the core reason the
// registry holds a per-database lock rather than one lock for
// everything: a long-held write lock on one database must not prevent
// concurrent access to another.
func TestIndependentDatabasesDoNotBlock(t *testing.T) {
	reg := newTestRegistry(t)

	if err := reg.Open("a", engine.KindUint64); err != nil {
		t.Fatalf("Open a: %v", err)
	}
	if err := reg.Open("b", engine.KindUint64); err != nil {
		t.Fatalf("Open b: %v", err)
	}

	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = reg.WithWrite("a", engine.KindUint64, func(eng engine.Engine) error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	done := make(chan struct{})
	go func() {
		_ = reg.WithWrite("b", engine.KindUint64, func(eng engine.Engine) error { return nil })
		close(done)
	}()

	<-done // must complete without waiting on `release`

	close(release)
	wg.Wait()
}

// TestDropClosesAndRemoves verifies Drop removes an open database's
// on-disk footprint and that it is no longer listed afterward.
func TestDropClosesAndRemoves(t *testing.T) {
	reg := newTestRegistry(t)

	if err := reg.Open("widgets", engine.KindUint64); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := reg.Drop("widgets"); err != nil {
		t.Fatalf("Drop: %v", err)
	}
	if names := reg.List(); len(names) != 0 {
		t.Errorf("List() = %v, want empty after Drop", names)
	}
	if err := reg.Drop("widgets"); err == nil {
		t.Error("expected DbNotExist dropping an already-dropped database")
	}
}
