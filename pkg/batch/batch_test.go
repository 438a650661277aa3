package batch_test

import (
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/ajitpratap0/tabular/pkg/batch"
	"github.com/ajitpratap0/tabular/pkg/errors"
	"github.com/ajitpratap0/tabular/pkg/schema"
	"github.com/ajitpratap0/tabular/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColumnsRoundTrip(t *testing.T) {
	b := testutil.EventBatch(t, 10, 6)
	assert.Equal(t, 6, b.NumRows())
	assert.Equal(t, int64(6*26), b.ByteSize())

	cols, err := b.Columns()
	require.NoError(t, err)
	back, err := batch.FromColumns(b.Schema(), cols, 6)
	require.NoError(t, err)
	assert.Equal(t, testutil.Int64s(t, b, "id"), testutil.Int64s(t, back, "id"))
	assert.Equal(t, testutil.Strings(t, b, "name"), testutil.Strings(t, back, "name"))

	_, err = batch.FromColumns(b.Schema(), cols[:2], 6)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSchemaMismatch))
	_, err = batch.FromColumns(b.Schema(), cols, 5)
	assert.True(t, errors.IsType(err, errors.ErrorTypeBackendIO))
}

func TestValueAndRow(t *testing.T) {
	b := testutil.EventBatch(t, 0, 4)
	v, err := b.Value("charge", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(testutil.Charge(2)), v)

	row, err := b.Row(3)
	require.NoError(t, err)
	assert.Equal(t, batch.Row{
		"id":     int64(3),
		"energy": testutil.Energy(3),
		"charge": int64(testutil.Charge(3)),
		"name":   testutil.Particle(3),
		"flag":   false,
	}, row)

	_, err = b.Value("mass", 0)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSchemaMismatch))
	_, err = b.Row(4)
	assert.True(t, errors.IsType(err, errors.ErrorTypeOutOfRange))
}

func TestProjectTakeSelectReverse(t *testing.T) {
	b := testutil.EventBatch(t, 0, 10)

	p, err := b.Project([]string{"energy", "id"})
	require.NoError(t, err)
	assert.Equal(t, []string{"energy", "id"}, p.Schema().Names())
	assert.Equal(t, testutil.Seq(0, 10, 1), testutil.Int64s(t, p, "id"))
	_, err = b.Project([]string{"id", "mass"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeSchemaMismatch))

	took, err := b.Take([]int{7, 2, 2})
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 2, 2}, testutil.Int64s(t, took, "id"))
	_, err = b.Take([]int{10})
	assert.True(t, errors.IsType(err, errors.ErrorTypeOutOfRange))

	sel, err := b.Select(roaring.BitmapOf(8, 1, 5))
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 5, 8}, testutil.Int64s(t, sel, "id"))

	all := roaring.New()
	all.AddRange(0, 10)
	same, err := b.Select(all)
	require.NoError(t, err)
	assert.Same(t, b, same)

	rev, err := b.Reverse()
	require.NoError(t, err)
	assert.Equal(t, []int64{9, 8, 7, 6, 5, 4, 3, 2, 1, 0}, testutil.Int64s(t, rev, "id"))
	assert.Equal(t, testutil.Particle(0), testutil.Strings(t, rev, "name")[9])
}

func TestSliceEmpty(t *testing.T) {
	b := testutil.EventBatch(t, 0, 8)
	s := b.Slice(2, 6)
	assert.Equal(t, []int64{2, 3, 4, 5}, testutil.Int64s(t, s, "id"))
	assert.Equal(t, testutil.Strings(t, b, "name")[2:6], testutil.Strings(t, s, "name"))

	e := batch.Empty(testutil.EventSchema())
	assert.Zero(t, e.NumRows())
	assert.Zero(t, e.ByteSize())
}

func TestNewChecksRecord(t *testing.T) {
	b := testutil.EventBatch(t, 0, 2)
	other := schema.MustNew(schema.NewField("id", schema.Int32))
	_, err := batch.New(other, b.Record())
	assert.True(t, errors.IsType(err, errors.ErrorTypeSchemaMismatch))

	ok, err := batch.New(testutil.EventSchema(), b.Record())
	require.NoError(t, err)
	assert.Equal(t, 2, ok.NumRows())
}
