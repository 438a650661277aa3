// Package testutil provides testing utilities and table fixtures for Tabular
package testutil

import (
	"fmt"
	"testing"

	"github.com/ajitpratap0/tabular/pkg/batch"
	"github.com/ajitpratap0/tabular/pkg/schema"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// TestLogger creates a test logger that writes to the test output.
// The logger is automatically cleaned up when the test completes.
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// EventSchema is the schema of the synthetic event tables used across tests:
//
//	id      int64    row number, unique
//	energy  float64  (id*37 mod 101) + 0.5, many duplicates
//	charge  int8     -1, 0 or 1
//	name    S8       one of five particle names
//	flag    bool     id is even
func EventSchema() *schema.Schema {
	return schema.MustNew(
		schema.NewField("id", schema.Int64),
		schema.NewField("energy", schema.Float64),
		schema.NewField("charge", schema.Int8),
		schema.StringField("name", 8),
		schema.NewField("flag", schema.Bool),
	)
}

var particles = []string{"muon", "pion", "kaon", "proton", "electron"}

// Energy is the energy value of event id.
func Energy(id int64) float64 { return float64(id*37%101) + 0.5 }

// Charge is the charge value of event id.
func Charge(id int64) int8 { return int8(id%3) - 1 }

// Particle is the name value of event id.
func Particle(id int64) string { return particles[id%int64(len(particles))] }

// EventBatch builds n events with ids first, first+1, ...
func EventBatch(t testing.TB, first, n int64) *batch.Batch {
	t.Helper()
	mem := memory.DefaultAllocator
	ids := array.NewInt64Builder(mem)
	energy := array.NewFloat64Builder(mem)
	charge := array.NewInt8Builder(mem)
	name := array.NewFixedSizeBinaryBuilder(mem, &arrow.FixedSizeBinaryType{ByteWidth: 8})
	flag := array.NewBooleanBuilder(mem)
	defer func() {
		ids.Release()
		energy.Release()
		charge.Release()
		name.Release()
		flag.Release()
	}()

	s := EventSchema()
	nameField, _, _ := s.Lookup("name")
	for id := first; id < first+n; id++ {
		ids.Append(id)
		energy.Append(Energy(id))
		charge.Append(Charge(id))
		name.Append(nameField.PadString(Particle(id)))
		flag.Append(id%2 == 0)
	}
	cols := []arrow.Array{ids.NewArray(), energy.NewArray(), charge.NewArray(), name.NewArray(), flag.NewArray()}
	rec := array.NewRecord(s.Arrow(), cols, n)
	for _, c := range cols {
		c.Release()
	}
	b, err := batch.New(s, rec)
	require.NoError(t, err)
	return b
}

// Int64s returns an int64 column of b.
func Int64s(t testing.TB, b *batch.Batch, column string) []int64 {
	t.Helper()
	arr, err := b.Column(column)
	require.NoError(t, err)
	a, ok := arr.(*array.Int64)
	require.True(t, ok, "column %s is %s", column, arr.DataType())
	out := make([]int64, a.Len())
	copy(out, a.Int64Values())
	return out
}

// Float64s returns a float64 column of b.
func Float64s(t testing.TB, b *batch.Batch, column string) []float64 {
	t.Helper()
	arr, err := b.Column(column)
	require.NoError(t, err)
	a, ok := arr.(*array.Float64)
	require.True(t, ok, "column %s is %s", column, arr.DataType())
	out := make([]float64, a.Len())
	copy(out, a.Float64Values())
	return out
}

// Strings returns the unpadded values of a string column of b.
func Strings(t testing.TB, b *batch.Batch, column string) []string {
	t.Helper()
	out := make([]string, b.NumRows())
	for i := range out {
		v, err := b.Value(column, i)
		require.NoError(t, err)
		out[i] = fmt.Sprint(v)
	}
	return out
}

// Seq returns start, start+step, ... below stop.
func Seq(start, stop, step int64) []int64 {
	var out []int64
	for v := start; v < stop; v += step {
		out = append(out, v)
	}
	return out
}
