package table_test

import (
	"context"
	"testing"

	"github.com/ajitpratap0/tabular/pkg/batch"
	"github.com/ajitpratap0/tabular/pkg/errors"
	"github.com/ajitpratap0/tabular/pkg/predicate"
	"github.com/ajitpratap0/tabular/pkg/schema"
	"github.com/ajitpratap0/tabular/pkg/table"
	"github.com/ajitpratap0/tabular/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRange(t *testing.T) {
	tests := []struct {
		in   string
		want table.Range
	}{
		{"", table.All()},
		{"10:", table.Range{Start: 10, Stop: table.End, Step: 1}},
		{":500", table.Range{Start: 0, Stop: 500, Step: 1}},
		{"0::2", table.Range{Start: 0, Stop: table.End, Step: 2}},
		{" 5 : 50 : 3 ", table.Range{Start: 5, Stop: 50, Step: 3}},
		{"7", table.Range{Start: 7, Stop: table.End, Step: 1}},
	}
	for _, tt := range tests {
		got, err := table.ParseRange(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := table.ParseRange("1:2:3:4")
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	_, err = table.ParseRange("a:10")
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	_, err = table.ParseRange("10:5")
	assert.True(t, errors.IsType(err, errors.ErrorTypeOutOfRange))
	_, err = table.ParseRange("0:10:-1")
	assert.True(t, errors.IsType(err, errors.ErrorTypeOutOfRange))
}

func TestRangeString(t *testing.T) {
	assert.Equal(t, "0::1", table.All().String())
	assert.Equal(t, "5:50:3", table.Range{Start: 5, Stop: 50, Step: 3}.String())
}

func TestRowsInAndResolve(t *testing.T) {
	assert.Equal(t, int64(15), table.RowsIn(5, 50, 3))
	assert.Equal(t, int64(10), table.RowsIn(0, 10, 1))
	assert.Equal(t, int64(0), table.RowsIn(10, 10, 1))
	assert.Equal(t, int64(1), table.RowsIn(9, 10, 7))

	span, err := table.Resolve("t", 20, 5, table.End, 2)
	require.NoError(t, err)
	assert.Equal(t, table.Span{Start: 5, Stop: 20, Step: 2}, span)
	assert.Equal(t, int64(8), span.Len())

	span, err = table.Resolve("t", 20, 20, 30, 1)
	require.NoError(t, err)
	assert.Zero(t, span.Len())

	_, err = table.Resolve("t", 20, 21, 30, 1)
	assert.True(t, errors.IsType(err, errors.ErrorTypeOutOfRange))
	_, err = table.Resolve("t", 20, 0, 10, 0)
	assert.True(t, errors.IsType(err, errors.ErrorTypeOutOfRange))
}

func TestRowCount(t *testing.T) {
	n, ok := table.KnownRows(42).Value()
	assert.True(t, ok)
	assert.Equal(t, int64(42), n)
	assert.Equal(t, "42", table.KnownRows(42).String())
	assert.False(t, table.UnknownRows().Known())
	assert.Equal(t, "unknown", table.UnknownRows().String())
}

func TestCheckAppendAndCapacity(t *testing.T) {
	s := testutil.EventSchema()
	b := testutil.EventBatch(t, 0, 3)

	require.NoError(t, table.CheckAppend("t", table.ModeAppend, false, s, b))
	assert.True(t, errors.IsType(table.CheckAppend("t", table.ModeAppend, true, s, b), errors.ErrorTypeClosed))
	assert.True(t, errors.IsType(table.CheckAppend("t", table.ModeRead, false, s, b), errors.ErrorTypeReadOnly))

	p, err := b.Project([]string{"id"})
	require.NoError(t, err)
	assert.True(t, errors.IsType(table.CheckAppend("t", table.ModeCreate, false, s, p), errors.ErrorTypeSchemaMismatch))

	require.NoError(t, table.CheckCapacity("t", 8, 2, 10))
	require.NoError(t, table.CheckCapacity("t", 1<<40, 5, 0))
	assert.True(t, errors.IsType(table.CheckCapacity("t", 8, 3, 10), errors.ErrorTypeCapacityExceeded))
}

// memTable serves reads from one batch held in memory.
type memTable struct {
	rows *batch.Batch
}

func (m *memTable) Name() string                               { return "mem:/" }
func (m *memTable) Format() string                             { return "memory" }
func (m *memTable) Schema() *schema.Schema                     { return m.rows.Schema() }
func (m *memTable) RowCount() table.RowCount                   { return table.KnownRows(int64(m.rows.NumRows())) }
func (m *memTable) Capabilities() table.Capabilities           { return table.Capabilities{} }
func (m *memTable) Mode() table.Mode                           { return table.ModeRead }
func (m *memTable) Append(context.Context, *batch.Batch) error { return nil }
func (m *memTable) Close() error                               { return nil }

func (m *memTable) Read(_ context.Context, start, stop, step int64) (*batch.Batch, error) {
	span, err := table.Resolve(m.Name(), int64(m.rows.NumRows()), start, stop, step)
	if err != nil {
		return nil, err
	}
	var idx []int
	for r := span.Start; r < span.Stop; r += span.Step {
		idx = append(idx, int(r))
	}
	return m.rows.Take(idx)
}

func (m *memTable) ReadFiltered(ctx context.Context, pred *predicate.Predicate, start, stop, step int64) (*batch.Batch, error) {
	return table.FilterRead(ctx, m, pred, start, stop, step)
}

func TestFilterRead(t *testing.T) {
	m := &memTable{rows: testutil.EventBatch(t, 0, 30)}
	ctx := context.Background()

	pred, err := predicate.Parse("flag == true & charge == 0")
	require.NoError(t, err)
	out, err := m.ReadFiltered(ctx, pred, 3, table.End, 3)
	require.NoError(t, err)

	var want []int64
	for id := int64(3); id < 30; id += 3 {
		if id%2 == 0 && testutil.Charge(id) == 0 {
			want = append(want, id)
		}
	}
	assert.Equal(t, want, testutil.Int64s(t, out, "id"))

	bad, err := predicate.Parse("mass > 1")
	require.NoError(t, err)
	_, err = m.ReadFiltered(ctx, bad, 0, table.End, 1)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidPredicate))
}
