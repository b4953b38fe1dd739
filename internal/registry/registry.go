// Package registry owns the set of open databases and the locking
// discipline around them. internal/engine deliberately does not
// synchronize itself (see engine.DB's doc comment); every exported
// operation here acquires the registry lock, then the per-database
// lock, in that order, and releases them in reverse, so two different
// databases never contend and concurrent readers of the same database
// never block each other.
//
// Grounded on jpl-au-folio's db.go, which tracks concurrency state with
// an atomic.Int32 plus a sync.Cond; here that same shape is lifted one
// layer up, out of the engine and into the registry, because the spec
// this module implements assigns locking to the service layer rather
// than the storage engine itself.
package registry

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/cabinetdb/cabinet/internal/engine"
	"github.com/cabinetdb/cabinet/internal/rpcerr"
)

// entry pairs an open engine with the lock that guards it. The lock is
// held by callers (via WithRead/WithWrite) for the duration of an
// operation against this one database; it never protects the registry's
// own map, which has its own lock.
type entry struct {
	mu  sync.RWMutex
	eng engine.Engine
}

// Registry is the set of currently open databases, keyed by name.
type Registry struct {
	root string
	log  *zap.Logger

	mu sync.RWMutex
	db map[string]*entry
}

// New returns a Registry rooted at dir. dir is created if it does not
// already exist.
func New(dir string, log *zap.Logger) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, rpcerr.IOError(err)
	}
	return &Registry{
		root: dir,
		log:  log,
		db:   make(map[string]*entry),
	}, nil
}

// validName rejects names that would escape the data root or collide
// with reserved path segments.
func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return name == filepath.Base(name)
}

// openLocked returns the entry for name, opening it lazily on first use. The
// registry lock must already be held by the caller in the mode
// appropriate to whether this is expected to create a new entry.
func (r *Registry) openLocked(name string, defaultKind engine.KeyKind) (*entry, error) {
	if e, ok := r.db[name]; ok {
		return e, nil
	}
	eng, err := engine.OpenEngine(r.root, name, defaultKind, engine.Config{})
	if err != nil {
		return nil, rpcerr.IOError(err)
	}
	e := &entry{eng: eng}
	r.db[name] = e
	return e, nil
}

// WithWrite runs fn against the named database with the registry held
// for read (so other databases remain reachable) and the database's own
// lock held exclusively. The database is opened on first use if it does
// not already exist, using defaultKind as its key kind; only that opening
// step takes the registry lock exclusively.
func (r *Registry) WithWrite(name string, defaultKind engine.KeyKind, fn func(engine.Engine) error) error {
	if !validName(name) {
		return rpcerr.BadDbName(name)
	}

	r.mu.RLock()
	e, ok := r.db[name]
	if !ok {
		r.mu.RUnlock()
		r.mu.Lock()
		_, err := r.openLocked(name, defaultKind)
		r.mu.Unlock()
		if err != nil {
			return err
		}
		r.mu.RLock()
		if e, ok = r.db[name]; !ok {
			r.mu.RUnlock()
			return rpcerr.DbNotExist(name)
		}
	}
	defer r.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.eng)
}

// WithRead runs fn against the named database with the database's own
// lock held for read, allowing concurrent readers. It fails with
// DbNotExist if the database has never been opened.
func (r *Registry) WithRead(name string, fn func(engine.Engine) error) error {
	if !validName(name) {
		return rpcerr.BadDbName(name)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.db[name]
	if !ok {
		return rpcerr.DbNotExist(name)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	return fn(e.eng)
}

// WithWriteExisting runs fn against the named database with the
// database's own lock held exclusively, for operations that mutate the
// engine's unsynchronized in-memory state (Delete, Flush) but, unlike
// WithWrite, must not implicitly create the database — it fails with
// DbNotExist if the database has never been opened, exactly like
// WithRead, just under the opposite lock mode.
func (r *Registry) WithWriteExisting(name string, fn func(engine.Engine) error) error {
	if !validName(name) {
		return rpcerr.BadDbName(name)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.db[name]
	if !ok {
		return rpcerr.DbNotExist(name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.eng)
}

// Open opens (or reopens) the named database eagerly, without running
// an operation against it. defaultKind names the key kind to use if the
// database does not exist yet.
func (r *Registry) Open(name string, defaultKind engine.KeyKind) error {
	if !validName(name) {
		return rpcerr.BadDbName(name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.openLocked(name, defaultKind)
	return err
}

// Create opens a brand-new database named name, failing with DbExists
// if one is already open in this registry or already has a directory
// on disk. The directory Stat happens before any file handle is
// opened, mirroring the original implementation's existence check
// ordering (see DESIGN.md).
func (r *Registry) Create(name string, kind engine.KeyKind) error {
	if !validName(name) {
		return rpcerr.BadDbName(name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.db[name]; ok {
		return rpcerr.DbExists(name)
	}
	if _, err := os.Stat(filepath.Join(r.root, name)); err == nil {
		return rpcerr.DbExists(name)
	}

	_, err := r.openLocked(name, kind)
	return err
}

// Drop closes and permanently deletes the named database from disk. This
// is distinct from engine.DB.Drop, which only truncates a database's
// content in place; Drop here closes the engine (if open) and then
// removes its directory outright.
func (r *Registry) Drop(name string) error {
	if !validName(name) {
		return rpcerr.BadDbName(name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	dbDir := filepath.Join(r.root, name)

	e, ok := r.db[name]
	if !ok {
		if _, err := os.Stat(dbDir); os.IsNotExist(err) {
			return rpcerr.DbNotExist(name)
		}
		if err := os.RemoveAll(dbDir); err != nil {
			return rpcerr.IOError(err)
		}
		return nil
	}

	e.mu.Lock()
	err := e.eng.Close()
	e.mu.Unlock()
	delete(r.db, name)
	if err != nil {
		return rpcerr.IOError(err)
	}
	if err := os.RemoveAll(dbDir); err != nil {
		return rpcerr.IOError(err)
	}
	return nil
}

// List reports the names of every database currently open in this
// registry, sorted for stable output.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.db))
	for name := range r.db {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FlushAll flushes every currently open database, taking each one's
// lock exclusively in turn. Used by the background flush ticker and by
// graceful shutdown.
func (r *Registry) FlushAll() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make([]*entry, 0, len(r.db))
	names := make([]string, 0, len(r.db))
	for name, e := range r.db {
		entries = append(entries, e)
		names = append(names, name)
	}

	var firstErr error
	for i, e := range entries {
		e.mu.Lock()
		err := e.eng.Flush()
		e.mu.Unlock()
		if err != nil {
			if r.log != nil {
				r.log.Warn("flush failed", zap.String("database", names[i]), zap.Error(err))
			}
			if firstErr == nil {
				firstErr = rpcerr.IOError(err)
			}
		}
	}
	return firstErr
}

// CloseAll closes every currently open database. Used during graceful
// shutdown, after FlushAll.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for name, e := range r.db {
		e.mu.Lock()
		err := e.eng.Close()
		e.mu.Unlock()
		if err != nil && firstErr == nil {
			firstErr = rpcerr.IOError(err)
		}
		delete(r.db, name)
	}
	return firstErr
}
