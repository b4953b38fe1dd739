// Engine is the one place a database's key kind is inspected dynamically.
// The registry and RPC layers operate on named databases without knowing
// their key variant at compile time, so they need a non-generic facade
// over the generic DB[K]; everything below this file stays fully generic.
package engine

import "github.com/cabinetdb/cabinet/internal/enginerr"

// Engine is the non-generic facade every DB[K] satisfies via a thin
// adapter. Keys and values cross this boundary as bytes; the adapter is
// responsible for encoding/decoding them against the concrete key type.
type Engine interface {
	Kind() KeyKind
	Set(key []byte, value []byte) error
	Get(key []byte) ([]byte, bool, error)
	Delete(key []byte) error
	Flush() error
	Compact() error
	Close() error
	Drop() error
	Info() Info
}

// handle adapts a generic DB[K] to the Engine facade, decoding the wire
// key bytes into K on every call.
type handle[K comparable] struct {
	db    *DB[K]
	codec Codec[K]
}

// Wrap returns an Engine facade over an already-open DB[K].
func Wrap[K comparable](db *DB[K], codec Codec[K]) Engine {
	return &handle[K]{db: db, codec: codec}
}

func (h *handle[K]) Kind() KeyKind { return h.codec.Kind() }

func (h *handle[K]) decodeKey(key []byte) (K, error) {
	k, n, ok := h.codec.Decode(key)
	if !ok || n != len(key) {
		var zero K
		return zero, enginerr.New(enginerr.KindFileCorrupt, "malformed wire key", nil)
	}
	return k, nil
}

func (h *handle[K]) Set(key, value []byte) error {
	k, err := h.decodeKey(key)
	if err != nil {
		return err
	}
	return h.db.Set(k, value)
}

func (h *handle[K]) Get(key []byte) ([]byte, bool, error) {
	k, err := h.decodeKey(key)
	if err != nil {
		return nil, false, err
	}
	return h.db.Get(k)
}

func (h *handle[K]) Delete(key []byte) error {
	k, err := h.decodeKey(key)
	if err != nil {
		return err
	}
	return h.db.Delete(k)
}

func (h *handle[K]) Flush() error   { return h.db.Flush() }
func (h *handle[K]) Compact() error { return h.db.Compact() }
func (h *handle[K]) Close() error   { return h.db.Close() }
func (h *handle[K]) Drop() error    { return h.db.Drop() }
func (h *handle[K]) Info() Info     { return h.db.Info() }

// OpenEngine opens the database named name under root and returns it
// wrapped as an Engine, choosing the key codec from the database's own
// meta file (creating it fresh as defaultKind only if the database is
// new — see ReadMetaKind for the convention used when one already
// exists).
func OpenEngine(root, name string, defaultKind KeyKind, cfg Config) (Engine, error) {
	kind, err := ReadMetaKind(root, name, defaultKind)
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindUint32:
		db, err := Open[uint32](root, name, Uint32Codec{}, cfg)
		if err != nil {
			return nil, err
		}
		return Wrap[uint32](db, Uint32Codec{}), nil
	case KindUint64:
		db, err := Open[uint64](root, name, Uint64Codec{}, cfg)
		if err != nil {
			return nil, err
		}
		return Wrap[uint64](db, Uint64Codec{}), nil
	case KindString:
		db, err := Open[string](root, name, StringCodec{}, cfg)
		if err != nil {
			return nil, err
		}
		return Wrap[string](db, StringCodec{}), nil
	default:
		return nil, enginerr.New(enginerr.KindFileCorrupt, "unknown key kind", nil)
	}
}
