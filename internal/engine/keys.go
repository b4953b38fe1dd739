// Key variants and their on-disk encodings.
//
// Cabinet is generic over key type, fixed per database: unsigned 32-bit,
// unsigned 64-bit, or a variable-length byte string. Rather than a single
// engine type carrying a dynamic key discriminator, each variant is a
// distinct Codec implementation, and DB is instantiated generically over
// the key type at Open time (chosen from the database's meta file). The
// only place a key's kind is inspected dynamically is the thin adapter in
// handle.go, which exists solely to give the untyped RPC boundary a
// uniform interface.
package engine

import (
	"encoding/binary"
	"fmt"

	"github.com/zeebo/xxh3"
)

// KeyKind identifies which of the three key variants a database uses.
// It is stored verbatim (as text) in the meta file.
type KeyKind int

const (
	KindUint32 KeyKind = iota + 1
	KindUint64
	KindString
)

func (k KeyKind) String() string {
	switch k {
	case KindUint32:
		return "I32"
	case KindUint64:
		return "I64"
	case KindString:
		return "STRING"
	default:
		return "UNKNOWN"
	}
}

// ParseKeyKind parses the TYPE token of a meta file.
func ParseKeyKind(s string) (KeyKind, error) {
	switch s {
	case "I32":
		return KindUint32, nil
	case "I64":
		return KindUint64, nil
	case "STRING":
		return KindString, nil
	default:
		return 0, fmt.Errorf("unknown key type %q", s)
	}
}

// Codec serialises and parses one key variant for the index log. K must
// be comparable so it can key the in-memory index maps directly.
type Codec[K comparable] interface {
	Kind() KeyKind

	// Encode appends the wire encoding of k to dst and returns the result.
	Encode(dst []byte, k K) []byte

	// Decode parses a key from the front of b. It reports the number of
	// bytes consumed and false if b is too short (a torn trailing record).
	Decode(b []byte) (k K, n int, ok bool)

	// Digest returns a stable 64-bit fingerprint of k, used only for log
	// fields so operators can correlate log lines for a key without the
	// raw value (which may be arbitrary-length or sensitive) appearing in
	// every message.
	Digest(k K) uint64
}

// Uint32Codec encodes keys as 4 little-endian bytes.
type Uint32Codec struct{}

func (Uint32Codec) Kind() KeyKind { return KindUint32 }

func (Uint32Codec) Encode(dst []byte, k uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], k)
	return append(dst, b[:]...)
}

func (Uint32Codec) Decode(b []byte) (uint32, int, bool) {
	if len(b) < 4 {
		return 0, 0, false
	}
	return binary.LittleEndian.Uint32(b), 4, true
}

func (Uint32Codec) Digest(k uint32) uint64 {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], k)
	return xxh3.Hash(b[:])
}

// Uint64Codec encodes keys as 8 little-endian bytes.
type Uint64Codec struct{}

func (Uint64Codec) Kind() KeyKind { return KindUint64 }

func (Uint64Codec) Encode(dst []byte, k uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], k)
	return append(dst, b[:]...)
}

func (Uint64Codec) Decode(b []byte) (uint64, int, bool) {
	if len(b) < 8 {
		return 0, 0, false
	}
	return binary.LittleEndian.Uint64(b), 8, true
}

func (Uint64Codec) Digest(k uint64) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], k)
	return xxh3.Hash(b[:])
}

// StringCodec encodes keys as a 4-byte little-endian length prefix
// followed by the raw bytes, per spec §6.
type StringCodec struct{}

func (StringCodec) Kind() KeyKind { return KindString }

func (StringCodec) Encode(dst []byte, k string) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(len(k)))
	dst = append(dst, b[:]...)
	return append(dst, k...)
}

func (StringCodec) Decode(b []byte) (string, int, bool) {
	if len(b) < 4 {
		return "", 0, false
	}
	n := int(binary.LittleEndian.Uint32(b))
	if len(b) < 4+n {
		return "", 0, false
	}
	return string(b[4 : 4+n]), 4 + n, true
}

func (StringCodec) Digest(k string) uint64 {
	return xxh3.HashString(k)
}
