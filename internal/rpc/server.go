// Package rpc exposes the registry over HTTP, one JSON request per
// operation. It is deliberately minimal — a thin dispatch layer rather
// than a framework — grounded on jpl-au-folio's preference for plain
// net/http handlers over a router dependency, with goccy/go-json in
// place of encoding/json for request/response bodies, matching the
// serialization library the rest of this module already uses.
package rpc

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/cabinetdb/cabinet/internal/engine"
	"github.com/cabinetdb/cabinet/internal/registry"
	"github.com/cabinetdb/cabinet/internal/rpcerr"
	"github.com/cabinetdb/cabinet/internal/trace"
)

// Server dispatches HTTP requests against a Registry.
type Server struct {
	reg   *registry.Registry
	log   *zap.Logger
	trace *trace.Recorder
}

// New returns a Server backed by reg. rec may be nil to disable tracing.
func New(reg *registry.Registry, log *zap.Logger, rec *trace.Recorder) *Server {
	return &Server{reg: reg, log: log, trace: rec}
}

// Handler returns the root http.Handler for cabinetd's RPC surface.
// Every database operation is routed under /db/{name}/{op}.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/db/", s.handleDB)
	mux.HandleFunc("/dbs", s.handleList)
	return mux
}

// dbInfo is the wire representation of engine.Info plus the database's
// key kind, returned from the info operation.
type dbInfo struct {
	Name         string `json:"name"`
	Kind         string `json:"kind"`
	EntryCount   int    `json:"entry_count"`
	DataFileSize int64  `json:"data_file_size"`
	DataBytes    int64  `json:"data_bytes"`
}

// keyRequest is the body of set/get/delete requests. Key is carried as
// text and reinterpreted against the database's declared kind: decimal
// for the integer kinds, raw text for string keys.
type keyRequest struct {
	Key   string `json:"key"`
	Value []byte `json:"value,omitempty"`
	Kind  string `json:"kind,omitempty"` // only consulted when creating a new database
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.reg.List())
}

func (s *Server) handleDB(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/db/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, rpcerr.BadDbName(rest))
		return
	}
	name, op := parts[0], parts[1]

	switch op {
	case "create":
		s.handleCreate(w, r, name)
	case "get":
		s.handleGet(w, r, name)
	case "set":
		s.handleSet(w, r, name)
	case "delete":
		s.handleDelete(w, r, name)
	case "flush":
		s.handleFlush(w, r, name)
	case "compact":
		s.handleCompact(w, r, name)
	case "drop":
		s.handleDrop(w, r, name)
	case "info":
		s.handleInfo(w, r, name)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request, name string) {
	var req keyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, rpcerr.BadDbName(name))
		return
	}

	kind, err := parseKind(req.Kind)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.reg.Create(name, kind); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, name string) {
	var req keyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, rpcerr.BadDbName(name))
		return
	}

	var value []byte
	var found bool
	err := s.reg.WithRead(name, func(eng engine.Engine) error {
		key, encErr := encodeKey(eng.Kind(), req.Key)
		if encErr != nil {
			return rpcerr.KeyTypeMismatch(name)
		}
		v, ok, getErr := eng.Get(key)
		value, found = v, ok
		return getErr
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.recordTrace(name, "get", req.Key)
	writeJSON(w, http.StatusOK, map[string]any{"value": value, "found": found})
}

func (s *Server) handleSet(w http.ResponseWriter, r *http.Request, name string) {
	var req keyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, rpcerr.BadDbName(name))
		return
	}

	defaultKind, err := parseKind(req.Kind)
	if err != nil {
		writeError(w, err)
		return
	}

	err = s.reg.WithWrite(name, defaultKind, func(eng engine.Engine) error {
		key, encErr := encodeKey(eng.Kind(), req.Key)
		if encErr != nil {
			return rpcerr.KeyTypeMismatch(name)
		}
		return eng.Set(key, req.Value)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.recordTrace(name, "set", req.Key)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, name string) {
	var req keyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, rpcerr.BadDbName(name))
		return
	}

	err := s.reg.WithWriteExisting(name, func(eng engine.Engine) error {
		key, encErr := encodeKey(eng.Kind(), req.Key)
		if encErr != nil {
			return rpcerr.KeyTypeMismatch(name)
		}
		return eng.Delete(key)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.recordTrace(name, "delete", req.Key)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request, name string) {
	err := s.reg.WithWriteExisting(name, func(eng engine.Engine) error { return eng.Flush() })
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCompact(w http.ResponseWriter, r *http.Request, name string) {
	err := s.reg.WithWrite(name, engine.KindUint64, func(eng engine.Engine) error { return eng.Compact() })
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDrop(w http.ResponseWriter, r *http.Request, name string) {
	if err := s.reg.Drop(name); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request, name string) {
	var info engine.Info
	var kind engine.KeyKind
	err := s.reg.WithRead(name, func(eng engine.Engine) error {
		info = eng.Info()
		kind = eng.Kind()
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dbInfo{
		Name:         name,
		Kind:         kind.String(),
		EntryCount:   info.EntryCount,
		DataFileSize: info.DataFileSize,
		DataBytes:    info.DataBytes,
	})
}

func (s *Server) recordTrace(name, op, key string) {
	if s.trace == nil {
		return
	}
	if err := s.trace.Record(name, op, key); err != nil && s.log != nil {
		s.log.Warn("trace record failed", zap.Error(err))
	}
}

// parseKind maps the wire kind string used when implicitly creating a
// database to its engine.KeyKind, defaulting to KindUint64 when absent.
func parseKind(s string) (engine.KeyKind, error) {
	if s == "" {
		return engine.KindUint64, nil
	}
	kind, err := engine.ParseKeyKind(s)
	if err != nil {
		return 0, rpcerr.BadDbName(s)
	}
	return kind, nil
}

// encodeKey turns the wire text representation of a key into the bytes
// engine.Engine expects, according to the database's actual key kind —
// the one point where a wire request is rejected for disagreeing with
// a database's declared key type.
func encodeKey(kind engine.KeyKind, text string) ([]byte, error) {
	switch kind {
	case engine.KindUint32:
		n, err := strconv.ParseUint(text, 10, 32)
		if err != nil {
			return nil, errors.New("key is not a valid uint32: " + text)
		}
		return engine.Uint32Codec{}.Encode(nil, uint32(n)), nil
	case engine.KindUint64:
		n, err := strconv.ParseUint(text, 10, 64)
		if err != nil {
			return nil, errors.New("key is not a valid uint64: " + text)
		}
		return engine.Uint64Codec{}.Encode(nil, n), nil
	case engine.KindString:
		return engine.StringCodec{}.Encode(nil, text), nil
	default:
		return nil, errors.New("unknown key kind")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var rerr *rpcerr.Error
	if !errors.As(err, &rerr) {
		rerr = rpcerr.IOError(err)
	}

	status := http.StatusInternalServerError
	switch rerr.Kind {
	case rpcerr.KindBadDbName, rpcerr.KindKeyType:
		status = http.StatusBadRequest
	case rpcerr.KindDbNotExist:
		status = http.StatusNotFound
	case rpcerr.KindDbExists:
		status = http.StatusConflict
	}

	writeJSON(w, status, map[string]string{"error": rerr.Error(), "kind": string(rerr.Kind)})
}
