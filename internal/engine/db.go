// DB ties the data log, index log, and in-memory index together into the
// engine's public operations: Open, Close, Drop, Set, Get, Delete, Flush,
// and Compact. Grounded on jpl-au-folio's db.go for the overall shape of a
// handle struct wrapping open file handles plus pending in-memory state,
// but deliberately without folio's internal synchronization (no
// atomic.Int32 state, no sync.Cond, no sync.RWMutex here): callers are
// expected to already hold whatever lock applies, since that discipline
// belongs to the registry layer above the engine, not the engine itself.
package engine

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"

	"github.com/cabinetdb/cabinet/internal/enginerr"
)

// DefaultBufferCapacity is the size of the in-memory write buffer before a
// Set forces a Flush.
const DefaultBufferCapacity = 4 << 20 // 4 MiB

// Config carries per-database tunables.
type Config struct {
	// BufferCapacity overrides DefaultBufferCapacity. Zero means use the
	// default; tests shrink this to exercise flush-on-full without
	// writing megabytes of fixture data.
	BufferCapacity int
}

func (c Config) bufferCapacity() int {
	if c.BufferCapacity > 0 {
		return c.BufferCapacity
	}
	return DefaultBufferCapacity
}

// Info reports point-in-time counters about an open database.
type Info struct {
	EntryCount   int
	DataFileSize int64
	DataBytes    int64
}

// DB is a single open key/value database, generic over its key variant.
type DB[K comparable] struct {
	dir  string
	name string

	codec Codec[K]
	meta  Meta

	data  *dataLog
	index *indexLog

	orig map[K]BlockInfo
	ins  map[K]BlockInfo
	del  map[K]struct{}

	buf         []byte
	bufPos      int
	bufCapacity int

	actualBytes int64
}

// Open opens (creating if absent) the database named name under root,
// using codec for its key variant. A database occupies root/name/ as a
// directory holding data, index, and meta files, created lazily on first
// open.
func Open[K comparable](root, name string, codec Codec[K], cfg Config) (*DB[K], error) {
	dbDir := filepath.Join(root, name)
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return nil, enginerr.New(enginerr.KindOpen, "create database directory", err)
	}

	metaPath := filepath.Join(dbDir, MetaFileName)
	meta, err := readMeta(metaPath)
	if errors.Is(err, os.ErrNotExist) {
		meta = Meta{Kind: codec.Kind(), Compressed: false}
		if err := writeMeta(metaPath, meta); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	} else if meta.Kind != codec.Kind() {
		return nil, enginerr.New(enginerr.KindKeyKindMismatch, "key kind mismatch for "+name, nil)
	}

	data, err := openDataLog(filepath.Join(dbDir, "data"))
	if err != nil {
		return nil, err
	}

	index, err := openIndexLog(filepath.Join(dbDir, "index"))
	if err != nil {
		data.close()
		return nil, err
	}

	orig, actualBytes, err := replayIndexLog(index.f, index.length, codec)
	if err != nil {
		data.close()
		index.close()
		return nil, err
	}

	return &DB[K]{
		dir:         dbDir,
		name:        name,
		codec:       codec,
		meta:        meta,
		data:        data,
		index:       index,
		orig:        orig,
		ins:         make(map[K]BlockInfo),
		del:         make(map[K]struct{}),
		buf:         make([]byte, cfg.bufferCapacity()),
		bufCapacity: cfg.bufferCapacity(),
		actualBytes: actualBytes,
	}, nil
}

// Close flushes pending writes and releases the underlying file handles.
func (db *DB[K]) Close() error {
	if err := db.Flush(); err != nil {
		return err
	}
	if err := db.data.close(); err != nil {
		return err
	}
	return db.index.close()
}

// Set binds k to v. Values up to the buffer capacity are staged in memory
// and written to the data log on the next Flush; larger values bypass the
// buffer and are written (and flushed) immediately.
func (db *DB[K]) Set(k K, v []byte) error {
	if err := db.delete(k); err != nil {
		return err
	}

	n := len(v)

	if db.bufPos+n > db.bufCapacity {
		if err := db.Flush(); err != nil {
			return err
		}
	}

	if n > db.bufCapacity {
		position, err := db.data.append(v)
		if err != nil {
			return err
		}
		delete(db.del, k)
		db.ins[k] = BlockInfo{Position: uint64(position), Size: uint32(n)}
		db.actualBytes += int64(n)
		return db.Flush()
	}

	copy(db.buf[db.bufPos:], v)
	delete(db.del, k)
	db.ins[k] = BlockInfo{Position: uint64(db.data.length) + uint64(db.bufPos), Size: uint32(n)}
	db.bufPos += n
	db.actualBytes += int64(n)
	return nil
}

// Get returns the value bound to k, if any.
func (db *DB[K]) Get(k K) ([]byte, bool, error) {
	if b, ok := db.ins[k]; ok {
		v, err := db.readBlock(b)
		return v, true, err
	}
	if _, ok := db.del[k]; ok {
		return nil, false, nil
	}
	if b, ok := db.orig[k]; ok {
		v, err := db.readBlock(b)
		return v, true, err
	}
	return nil, false, nil
}

// Delete unbinds k. It is a no-op if k is not currently bound.
func (db *DB[K]) Delete(k K) error {
	return db.delete(k)
}

func (db *DB[K]) delete(k K) error {
	if b, ok := db.ins[k]; ok {
		delete(db.ins, k)
		db.del[k] = struct{}{}
		db.actualBytes -= int64(b.Size)
		return nil
	}
	if _, ok := db.del[k]; ok {
		return nil
	}
	if b, ok := db.orig[k]; ok {
		delete(db.orig, k)
		db.del[k] = struct{}{}
		db.actualBytes -= int64(b.Size)
		return nil
	}
	return nil
}

// readBlock resolves a BlockInfo to its bytes, whichever of the write
// buffer or the data log currently holds it.
func (db *DB[K]) readBlock(b BlockInfo) ([]byte, error) {
	if b.Size == 0 {
		return []byte{}, nil
	}
	if b.Position < uint64(db.data.length) {
		return db.data.readAt(b.Position, b.Size)
	}
	off := b.Position - uint64(db.data.length)
	out := make([]byte, b.Size)
	copy(out, db.buf[off:off+uint64(b.Size)])
	return out, nil
}

// Flush promotes the pending buffer, inserts, and deletes into durable
// storage and folds them into the authoritative in-memory index.
func (db *DB[K]) Flush() error {
	if db.bufPos == 0 && len(db.ins) == 0 && len(db.del) == 0 {
		return nil
	}

	if db.bufPos > 0 {
		if _, err := db.data.append(db.buf[:db.bufPos]); err != nil {
			return err
		}
		db.bufPos = 0
	}

	var records []byte
	for k, b := range db.ins {
		records = encodeIndexRecord(records, db.codec, k, b)
	}
	for k := range db.del {
		records = encodeIndexRecord(records, db.codec, k, tombstoneBlockInfo())
	}
	if len(records) > 0 {
		if err := db.index.append(records); err != nil {
			return err
		}
	}

	for k, b := range db.ins {
		db.orig[k] = b
	}
	db.ins = make(map[K]BlockInfo)
	for k := range db.del {
		delete(db.orig, k)
	}
	db.del = make(map[K]struct{})

	if err := db.index.sync(); err != nil {
		return err
	}
	return db.data.sync()
}

// Compact rewrites the data and index logs so that only live values and
// their index records remain, discarding stale and tombstoned bytes. It
// is not safe to run concurrently with writers against the same database;
// the registry layer is responsible for excluding them.
func (db *DB[K]) Compact() error {
	if err := db.Flush(); err != nil {
		return err
	}

	var newData bytes.Buffer
	var newIndex []byte
	newOrig := make(map[K]BlockInfo, len(db.orig))

	for k, b := range db.orig {
		v, err := db.readBlock(b)
		if err != nil {
			return err
		}
		nb := BlockInfo{Position: uint64(newData.Len()), Size: b.Size}
		newData.Write(v)
		newIndex = encodeIndexRecord(newIndex, db.codec, k, nb)
		newOrig[k] = nb
	}

	dataPath := filepath.Join(db.dir, "data")
	indexPath := filepath.Join(db.dir, "index")

	if err := db.data.close(); err != nil {
		return err
	}
	if err := db.index.close(); err != nil {
		return err
	}

	if err := atomic.WriteFile(dataPath, bytes.NewReader(newData.Bytes())); err != nil {
		return enginerr.New(enginerr.KindWrite, "replace data log", err)
	}
	if err := atomic.WriteFile(indexPath, bytes.NewReader(newIndex)); err != nil {
		return enginerr.New(enginerr.KindWrite, "replace index log", err)
	}

	data, err := openDataLog(dataPath)
	if err != nil {
		return err
	}
	index, err := openIndexLog(indexPath)
	if err != nil {
		data.close()
		return err
	}

	db.data = data
	db.index = index
	db.orig = newOrig
	return nil
}

// Drop truncates both logs to zero length and resets the in-memory index,
// leaving the database open, empty, and otherwise unchanged — the
// directory and meta file (and so the key kind) survive. This is a
// content reset, not a removal; callers that want to delete a database
// from disk entirely go through the registry, which closes the engine
// first and removes the directory itself.
func (db *DB[K]) Drop() error {
	if err := db.data.truncate(); err != nil {
		return err
	}
	if err := db.index.truncate(); err != nil {
		return err
	}

	db.orig = make(map[K]BlockInfo)
	db.ins = make(map[K]BlockInfo)
	db.del = make(map[K]struct{})
	db.bufPos = 0
	db.actualBytes = 0
	return nil
}

// Info reports point-in-time counters about the database.
func (db *DB[K]) Info() Info {
	return Info{
		EntryCount:   len(db.orig) + len(db.ins),
		DataFileSize: db.data.length,
		DataBytes:    db.actualBytes,
	}
}
