package columngroup_test

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/ajitpratap0/tabular/pkg/errors"
	"github.com/ajitpratap0/tabular/pkg/predicate"
	"github.com/ajitpratap0/tabular/pkg/table"
	"github.com/ajitpratap0/tabular/pkg/table/columngroup"
	"github.com/ajitpratap0/tabular/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func open(t *testing.T, env *testutil.TestEnvironment, mode table.Mode, maxRows int64) *columngroup.Table {
	t.Helper()
	tbl, err := columngroup.Open(env.Context(), env.Locator("events.cgroup", "/run1"), mode, columngroup.Options{
		Schema:  testutil.EventSchema(),
		MaxRows: maxRows,
		Logger:  testutil.TestLogger(t),
	})
	require.NoError(t, err)
	return tbl
}

func TestAppendAndReadBack(t *testing.T) {
	env := testutil.NewTestEnvironment(t)
	tbl := open(t, env, table.ModeCreate, 0)
	require.NoError(t, tbl.Append(env.Context(), testutil.EventBatch(t, 0, 30)))
	require.NoError(t, tbl.Append(env.Context(), testutil.EventBatch(t, 30, 12)))
	assert.Equal(t, table.KnownRows(42), tbl.RowCount())
	assert.False(t, tbl.Capabilities().SupportsPushdown)

	b, err := tbl.Read(env.Context(), 5, 40, 6)
	require.NoError(t, err)
	assert.Equal(t, testutil.Seq(5, 40, 6), testutil.Int64s(t, b, "id"))
	require.NoError(t, tbl.Close())

	// read-only groups are served from mapped files
	ro := open(t, env, table.ModeRead, 0)
	defer ro.Close()
	b, err = ro.Read(env.Context(), 0, table.End, 1)
	require.NoError(t, err)
	assert.Equal(t, testutil.Seq(0, 42, 1), testutil.Int64s(t, b, "id"))
	assert.Equal(t, testutil.Particle(41), testutil.Strings(t, b, "name")[41])

	err = ro.Append(env.Context(), testutil.EventBatch(t, 42, 1))
	assert.True(t, errors.IsType(err, errors.ErrorTypeReadOnly))
}

func TestCapacity(t *testing.T) {
	env := testutil.NewTestEnvironment(t)
	tbl := open(t, env, table.ModeCreate, 20)
	defer tbl.Close()
	assert.True(t, tbl.Capabilities().FixedCapacity)

	require.NoError(t, tbl.Append(env.Context(), testutil.EventBatch(t, 0, 15)))
	err := tbl.Append(env.Context(), testutil.EventBatch(t, 15, 6))
	assert.True(t, errors.IsType(err, errors.ErrorTypeCapacityExceeded))
	assert.Equal(t, table.KnownRows(15), tbl.RowCount())
	require.NoError(t, tbl.Append(env.Context(), testutil.EventBatch(t, 15, 5)))
	assert.Equal(t, table.KnownRows(20), tbl.RowCount())
}

func TestRowCountInferredWithoutAttribute(t *testing.T) {
	env := testutil.NewTestEnvironment(t)
	tbl := open(t, env, table.ModeCreate, 0)
	require.NoError(t, tbl.Append(env.Context(), testutil.EventBatch(t, 0, 9)))
	require.NoError(t, tbl.Close())

	// drop nrows and grow one column past the others
	dir := filepath.Join(env.TempDir(), "events.cgroup", "run1")
	path := filepath.Join(dir, "attrs.yaml")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var attrs map[string]interface{}
	require.NoError(t, yaml.Unmarshal(data, &attrs))
	delete(attrs, "nrows")
	data, err = yaml.Marshal(attrs)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	f, err := os.OpenFile(filepath.Join(dir, "id.col"), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.Write(make([]byte, 16))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	tbl = open(t, env, table.ModeAppend, 0)
	assert.False(t, tbl.RowCount().Known())
	rc, err := tbl.Inspect(env.Context())
	require.NoError(t, err)
	assert.Equal(t, table.KnownRows(9), rc)
	require.NoError(t, tbl.Append(env.Context(), testutil.EventBatch(t, 9, 3)))
	require.NoError(t, tbl.Close())

	ro := open(t, env, table.ModeRead, 0)
	defer ro.Close()
	assert.Equal(t, table.KnownRows(12), ro.RowCount())
	b, err := ro.Read(env.Context(), 0, table.End, 1)
	require.NoError(t, err)
	assert.Equal(t, testutil.Seq(0, 12, 1), testutil.Int64s(t, b, "id"))
}

func TestReadFilteredPostHoc(t *testing.T) {
	env := testutil.NewTestEnvironment(t)
	tbl := open(t, env, table.ModeCreate, 0)
	defer tbl.Close()
	require.NoError(t, tbl.Append(env.Context(), testutil.EventBatch(t, 0, 50)))

	pred, err := predicate.Parse("id % 10 == 3 && flag == false")
	require.NoError(t, err)
	b, err := tbl.ReadFiltered(env.Context(), pred, 0, table.End, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 13, 23, 33, 43}, testutil.Int64s(t, b, "id"))

	pred, err = predicate.Parse("missing > 1")
	require.NoError(t, err)
	_, err = tbl.ReadFiltered(env.Context(), pred, 0, table.End, 1)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidPredicate))
}

func TestClosedGroup(t *testing.T) {
	env := testutil.NewTestEnvironment(t)
	tbl := open(t, env, table.ModeCreate, 0)
	require.NoError(t, tbl.Close())
	require.NoError(t, tbl.Close())

	_, err := tbl.Read(env.Context(), 0, 1, 1)
	assert.True(t, errors.IsType(err, errors.ErrorTypeClosed))
	err = tbl.Append(env.Context(), testutil.EventBatch(t, 0, 1))
	assert.True(t, errors.IsType(err, errors.ErrorTypeClosed))
}

// allocated reports the bytes allocated while fn runs.
func allocated(fn func()) uint64 {
	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	fn()
	runtime.ReadMemStats(&after)
	return after.TotalAlloc - before.TotalAlloc
}

func TestStridedReadCopiesOnlySelectedRows(t *testing.T) {
	const rows = 100_000
	env := testutil.NewTestEnvironment(t)
	tbl := open(t, env, table.ModeCreate, 0)
	require.NoError(t, tbl.Append(env.Context(), testutil.EventBatch(t, 0, rows)))
	require.NoError(t, tbl.Close())

	// the selected span holds rows*26 bytes; the batch only 10 rows of it
	const budget = 64 << 10
	for _, mode := range []table.Mode{table.ModeAppend, table.ModeRead} {
		tbl := open(t, env, mode, 0)
		var ids []int64
		used := allocated(func() {
			b, err := tbl.Read(env.Context(), 0, table.End, rows/10)
			require.NoError(t, err)
			ids = testutil.Int64s(t, b, "id")
		})
		assert.Equal(t, testutil.Seq(0, rows, rows/10), ids, mode.String())
		assert.Less(t, used, uint64(budget), "%s read allocated %d bytes", mode, used)
		require.NoError(t, tbl.Close())
	}
}
