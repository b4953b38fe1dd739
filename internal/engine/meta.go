// Meta file: a short text record naming the database's key variant and
// the (currently unhonored) compression flag. Grounded on jpl-au-folio's
// header.go, which keeps a small fixed record at a well-known path and
// reads/writes it with plain file I/O rather than a serialization
// library — the meta file here is one line of text, so the same choice
// applies.
package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/cabinetdb/cabinet/internal/enginerr"
)

// MetaFileName is the name of the meta file inside a database directory.
// The database occupies <root>/<name>/ as a directory containing data,
// index, and meta — see SPEC_FULL.md §9 for why this convention (rather
// than a meta file at <root>/<name>) was chosen.
const MetaFileName = "meta"

// Meta is the parsed content of a database's meta file.
type Meta struct {
	Kind       KeyKind
	Compressed bool
}

// readMeta reads and parses the meta file at path.
func readMeta(path string) (Meta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Meta{}, enginerr.New(enginerr.KindOpen, "read meta", err)
	}

	fields := strings.Fields(string(data))
	if len(fields) != 2 {
		return Meta{}, enginerr.New(enginerr.KindFileCorrupt, "malformed meta record", nil)
	}

	kind, err := ParseKeyKind(fields[0])
	if err != nil {
		return Meta{}, enginerr.New(enginerr.KindFileCorrupt, "malformed meta record", err)
	}

	compressed := fields[1] == "1"
	if fields[1] != "0" && fields[1] != "1" {
		return Meta{}, enginerr.New(enginerr.KindFileCorrupt, "malformed meta record", nil)
	}

	return Meta{Kind: kind, Compressed: compressed}, nil
}

// ReadMetaKind reports the key kind a database was created with, by
// reading its meta file. If the database does not exist yet, it reports
// defaultKind — the kind that will be stamped into the meta file the
// first time the database is actually opened.
func ReadMetaKind(root, name string, defaultKind KeyKind) (KeyKind, error) {
	meta, err := readMeta(filepath.Join(root, name, MetaFileName))
	if errors.Is(err, os.ErrNotExist) {
		return defaultKind, nil
	}
	if err != nil {
		return 0, err
	}
	return meta.Kind, nil
}

// Fingerprint returns a short blake2b digest of the meta file's content,
// useful as a log field for correlating "which meta file" across a
// repair or compaction without printing the whole file.
func (m Meta) Fingerprint() string {
	compressed := "0"
	if m.Compressed {
		compressed = "1"
	}
	sum := blake2b.Sum256([]byte(fmt.Sprintf("%s %s", m.Kind, compressed)))
	return fmt.Sprintf("%x", sum[:8])
}

// writeMeta writes the meta file at path, creating it if absent.
func writeMeta(path string, m Meta) error {
	compressed := "0"
	if m.Compressed {
		compressed = "1"
	}
	line := fmt.Sprintf("%s %s\n", m.Kind, compressed)
	if err := os.WriteFile(path, []byte(line), 0o644); err != nil {
		return enginerr.New(enginerr.KindOpen, "write meta", err)
	}
	return nil
}
