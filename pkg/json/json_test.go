package json

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type descriptor struct {
	Name string   `json:"name"`
	Rows int64    `json:"rows"`
	Min  *float64 `json:"min,omitempty"`
}

func TestWriteFileAtomicRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	min := -1.5
	require.NoError(t, WriteFileAtomic(path, descriptor{Name: "events", Rows: 42, Min: &min}))

	var got descriptor
	require.NoError(t, ReadFile(path, &got))
	assert.Equal(t, "events", got.Name)
	assert.Equal(t, int64(42), got.Rows)
	require.NotNil(t, got.Min)
	assert.Equal(t, min, *got.Min)
}

func TestMarshalLineIsNewlineTerminated(t *testing.T) {
	line, err := MarshalLine(descriptor{Name: "a<b", Rows: 1})
	require.NoError(t, err)
	assert.Equal(t, byte('\n'), line[len(line)-1])
	assert.Contains(t, string(line), "a<b")
}
