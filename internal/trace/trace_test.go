package trace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"
)

// TestRecordRoundTrip verifies that recorded operations can be read
// back through a zstd decoder, and that each line carries the database
// name, operation, and key in order.
func TestRecordRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.zst")

	rec, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, rec.Record("widgets", "set", "1"))
	require.NoError(t, rec.Record("widgets", "get", "1"))
	require.NoError(t, rec.Close())

	compressed, err := os.ReadFile(path)
	require.NoError(t, err)

	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer dec.Close()

	raw, err := dec.DecodeAll(compressed, nil)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	var ops []string
	for _, line := range lines {
		fields := strings.Split(line, "\t")
		require.Len(t, fields, 4)
		require.Equal(t, "widgets", fields[1])
		ops = append(ops, fields[2])
	}

	want := []string{"set", "get"}
	if diff := cmp.Diff(want, ops); diff != "" {
		t.Errorf("operations mismatch (-want +got):\n%s", diff)
	}
}
