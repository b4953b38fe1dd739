// Core lifecycle and CRUD tests for DB.
//
// These exercise Open, Close, Set, Get, Delete, Flush, and Compact
// through their happy paths and the crash-recovery and boundary cases
// called out in SPEC_FULL.md: buffered vs. flushed reads, oversize
// values, tombstones, and reopening after a crash mid-flush. Grounded
// on jpl-au-folio's db_test.go style: one fresh temp-dir database per
// test, stdlib testing, comments stating why the test matters rather
// than what it does.
package engine

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T, cfg Config) *DB[uint32] {
	t.Helper()
	dir := t.TempDir()
	db, err := Open[uint32](dir, "test", Uint32Codec{}, cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestOpenCreatesLayout verifies the lazy-creation convention: opening a
// database for the first time creates its directory and the three files
// a database is made of, with a meta file naming the key kind.
func TestOpenCreatesLayout(t *testing.T) {
	dir := t.TempDir()
	db, err := Open[uint32](dir, "test", Uint32Codec{}, Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	dbDir := filepath.Join(dir, "test")
	for _, name := range []string{"data", "index", "meta"} {
		if _, err := os.Stat(filepath.Join(dbDir, name)); err != nil {
			t.Errorf("expected %s to exist: %v", name, err)
		}
	}

	meta, err := readMeta(filepath.Join(dbDir, "meta"))
	if err != nil {
		t.Fatalf("readMeta: %v", err)
	}
	if meta.Kind != KindUint32 {
		t.Errorf("meta kind = %v, want KindUint32", meta.Kind)
	}
}

// TestSetGetBuffered verifies that a value still sitting in the write
// buffer (not yet flushed) reads back correctly — the common case for
// small, recently written values.
func TestSetGetBuffered(t *testing.T) {
	db := openTestDB(t, Config{})

	if err := db.Set(1, []byte("hello")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	v, ok, err := db.Get(1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("Get: key not found")
	}
	if !bytes.Equal(v, []byte("hello")) {
		t.Errorf("Get = %q, want %q", v, "hello")
	}
}

// TestSetGetAfterFlush verifies that a value read after an explicit
// Flush resolves through orig (the data log) rather than the buffer,
// exercising the other half of readBlock's branch.
func TestSetGetAfterFlush(t *testing.T) {
	db := openTestDB(t, Config{})

	if err := db.Set(1, []byte("hello")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := db.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	v, ok, err := db.Get(1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || !bytes.Equal(v, []byte("hello")) {
		t.Errorf("Get = %q, %v, want %q, true", v, ok, "hello")
	}
	if len(db.orig) != 1 || len(db.ins) != 0 {
		t.Errorf("orig/ins = %d/%d, want 1/0", len(db.orig), len(db.ins))
	}
}

// TestDeleteThenGetAbsent verifies that Delete removes a binding
// entirely rather than leaving a zero-length value behind.
func TestDeleteThenGetAbsent(t *testing.T) {
	db := openTestDB(t, Config{})

	_ = db.Set(1, []byte("hello"))
	if err := db.Delete(1); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	_, ok, err := db.Get(1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("Get: key still present after Delete")
	}
}

// TestDeleteAfterFlush verifies the tombstone path: a key written and
// flushed, then deleted and flushed again, must read back absent after
// a reopen — proving the tombstone record actually overrides the
// earlier insert record during replay.
func TestDeleteAfterFlush(t *testing.T) {
	dir := t.TempDir()
	db, err := Open[uint32](dir, "test", Uint32Codec{}, Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	_ = db.Set(1, []byte("hello"))
	if err := db.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := db.Delete(1); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db2, err := Open[uint32](dir, "test", Uint32Codec{}, Config{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()

	_, ok, err := db2.Get(1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("Get: deleted key resurrected after reopen")
	}
	if db2.actualBytes != 0 {
		t.Errorf("actualBytes = %d, want 0", db2.actualBytes)
	}
}

// TestCloseReopenRoundTrip verifies the durability guarantee: data
// written before Close must be readable after a fresh Open against the
// same directory.
func TestCloseReopenRoundTrip(t *testing.T) {
	dir := t.TempDir()
	db, err := Open[uint32](dir, "test", Uint32Codec{}, Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = db.Set(1, []byte("a"))
	_ = db.Set(2, []byte("bb"))
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db2, err := Open[uint32](dir, "test", Uint32Codec{}, Config{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()

	for k, want := range map[uint32]string{1: "a", 2: "bb"} {
		v, ok, err := db2.Get(k)
		if err != nil || !ok || string(v) != want {
			t.Errorf("Get(%d) = %q, %v, %v, want %q, true, nil", k, v, ok, err, want)
		}
	}
}

// TestOversizeValueBypassesBuffer verifies that a value larger than the
// buffer capacity is written straight to the data log and immediately
// flushed rather than causing a short write into the buffer.
func TestOversizeValueBypassesBuffer(t *testing.T) {
	db := openTestDB(t, Config{BufferCapacity: 16})

	big := bytes.Repeat([]byte{0x42}, 64)
	if err := db.Set(1, big); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if db.bufPos != 0 {
		t.Errorf("bufPos = %d, want 0 (oversize Set flushes immediately)", db.bufPos)
	}
	if len(db.ins) != 0 || len(db.orig) != 1 {
		t.Errorf("ins/orig = %d/%d, want 0/1", len(db.ins), len(db.orig))
	}

	v, ok, err := db.Get(1)
	if err != nil || !ok || !bytes.Equal(v, big) {
		t.Errorf("Get = %v, %v, want %v, true", ok, err, big)
	}
}

// TestFlushOnBufferFull verifies that a Set which would overflow the
// buffer forces an implicit Flush first, so the new value still lands
// correctly rather than corrupting the buffer.
func TestFlushOnBufferFull(t *testing.T) {
	db := openTestDB(t, Config{BufferCapacity: 8})

	_ = db.Set(1, []byte("1234"))
	_ = db.Set(2, []byte("5678")) // fills the buffer exactly
	if err := db.Set(3, []byte("x")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if len(db.orig) != 2 {
		t.Errorf("orig = %d entries, want 2 (first two keys flushed)", len(db.orig))
	}

	for k, want := range map[uint32]string{1: "1234", 2: "5678", 3: "x"} {
		v, ok, err := db.Get(k)
		if err != nil || !ok || string(v) != want {
			t.Errorf("Get(%d) = %q, %v, %v, want %q", k, v, ok, err, want)
		}
	}
}

// TestZeroLengthValue verifies that an empty value is a valid, live
// binding distinct from absence.
func TestZeroLengthValue(t *testing.T) {
	db := openTestDB(t, Config{})

	if err := db.Set(1, []byte{}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := db.Get(1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("Get: zero-length value reported absent")
	}
	if len(v) != 0 {
		t.Errorf("Get = %q, want empty", v)
	}
}

// TestTornIndexTailIgnoredOnReplay simulates a crash mid-flush: a
// well-formed index log followed by a partial trailing record. Replay
// must recover the complete records and silently drop the torn tail
// rather than treating it as corruption.
func TestTornIndexTailIgnoredOnReplay(t *testing.T) {
	dir := t.TempDir()
	db, err := Open[uint32](dir, "test", Uint32Codec{}, Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = db.Set(1, []byte("a"))
	if err := db.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	indexPath := filepath.Join(dir, "test", "index")
	f, err := os.OpenFile(indexPath, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	// Append a torn key: fewer than 4 bytes, can never decode.
	if _, err := f.Write([]byte{0x02}); err != nil {
		t.Fatalf("write torn tail: %v", err)
	}
	f.Close()

	db2, err := Open[uint32](dir, "test", Uint32Codec{}, Config{})
	if err != nil {
		t.Fatalf("reopen after torn tail: %v", err)
	}
	defer db2.Close()

	v, ok, err := db2.Get(1)
	if err != nil || !ok || string(v) != "a" {
		t.Errorf("Get(1) = %q, %v, %v, want \"a\", true, nil", v, ok, err)
	}
}

// TestCompactPreservesMapping verifies Compact's defining property: the
// set of live key/value bindings is unchanged by compaction, even
// though the underlying file layout is rewritten from scratch.
func TestCompactPreservesMapping(t *testing.T) {
	db := openTestDB(t, Config{})

	_ = db.Set(1, []byte("a"))
	_ = db.Set(2, []byte("b"))
	_ = db.Set(2, []byte("bb")) // superseded value, should not survive compaction
	_ = db.Set(3, []byte("c"))
	_ = db.Delete(3)
	if err := db.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if err := db.Compact(); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	v1, ok1, _ := db.Get(1)
	v2, ok2, _ := db.Get(2)
	_, ok3, _ := db.Get(3)

	if !ok1 || string(v1) != "a" {
		t.Errorf("Get(1) = %q, %v, want \"a\", true", v1, ok1)
	}
	if !ok2 || string(v2) != "bb" {
		t.Errorf("Get(2) = %q, %v, want \"bb\", true", v2, ok2)
	}
	if ok3 {
		t.Error("Get(3): deleted key survived compaction")
	}
}

// TestDropRetainsDirectory verifies that Drop empties a database in
// place — the directory and meta file (and so the key kind) survive,
// previously bound keys read back absent, and the handle stays usable.
func TestDropRetainsDirectory(t *testing.T) {
	dir := t.TempDir()
	db, err := Open[uint32](dir, "test", Uint32Codec{}, Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = db.Set(1, []byte("a"))
	if err := db.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if err := db.Drop(); err != nil {
		t.Fatalf("Drop: %v", err)
	}

	dbDir := filepath.Join(dir, "test")
	for _, name := range []string{"data", "index", "meta"} {
		if _, err := os.Stat(filepath.Join(dbDir, name)); err != nil {
			t.Errorf("expected %s to survive Drop: %v", name, err)
		}
	}

	meta, err := readMeta(filepath.Join(dbDir, "meta"))
	if err != nil {
		t.Fatalf("readMeta: %v", err)
	}
	if meta.Kind != KindUint32 {
		t.Errorf("meta kind after Drop = %v, want KindUint32", meta.Kind)
	}

	if _, ok, err := db.Get(1); err != nil || ok {
		t.Errorf("Get(1) after Drop = ok=%v, err=%v, want absent", ok, err)
	}
	if db.data.length != 0 || db.index.length != 0 {
		t.Errorf("log lengths after Drop = data=%d index=%d, want 0/0", db.data.length, db.index.length)
	}

	if err := db.Set(2, []byte("b")); err != nil {
		t.Fatalf("Set after Drop: %v", err)
	}
	if v, ok, err := db.Get(2); err != nil || !ok || string(v) != "b" {
		t.Errorf("Get(2) after Drop+Set = %q, %v, %v, want \"b\", true, nil", v, ok, err)
	}
}

// TestKeyKindMismatchRejected verifies that reopening a database with a
// codec for a different key kind than it was created with is rejected
// rather than silently misinterpreting keys.
func TestKeyKindMismatchRejected(t *testing.T) {
	dir := t.TempDir()
	db, err := Open[uint32](dir, "test", Uint32Codec{}, Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	db.Close()

	if _, err := Open[uint64](dir, "test", Uint64Codec{}, Config{}); err == nil {
		t.Error("expected key kind mismatch error, got nil")
	}
}

// TestStringKeyRoundTrip exercises the variable-length key codec end to
// end, since its encoding (length-prefixed) differs structurally from
// the fixed-width integer codecs covered above.
func TestStringKeyRoundTrip(t *testing.T) {
	dir := t.TempDir()
	db, err := Open[string](dir, "test", StringCodec{}, Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if err := db.Set("alpha", []byte("1")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := db.Set("beta", []byte("2")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := db.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	v, ok, err := db.Get("alpha")
	if err != nil || !ok || string(v) != "1" {
		t.Errorf("Get(alpha) = %q, %v, %v", v, ok, err)
	}
}
