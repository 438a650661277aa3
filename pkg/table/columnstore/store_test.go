package columnstore_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ajitpratap0/tabular/pkg/compression"
	"github.com/ajitpratap0/tabular/pkg/errors"
	"github.com/ajitpratap0/tabular/pkg/predicate"
	"github.com/ajitpratap0/tabular/pkg/schema"
	"github.com/ajitpratap0/tabular/pkg/table"
	"github.com/ajitpratap0/tabular/pkg/table/columnstore"
	"github.com/ajitpratap0/tabular/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// small chunks so every test crosses chunk boundaries
func openEvents(t *testing.T, env *testutil.TestEnvironment, mode table.Mode, comp compression.Config) *columnstore.Table {
	t.Helper()
	s := testutil.EventSchema()
	tbl, err := columnstore.Open(env.Context(), env.Locator("events.cstore", "/run1"), mode, columnstore.Options{
		Schema:      s,
		Compression: comp,
		ChunkBytes:  int64(s.RowSize()) * 10,
		Logger:      testutil.TestLogger(t),
	})
	require.NoError(t, err)
	return tbl
}

func TestAppendReadRoundTrip(t *testing.T) {
	for _, comp := range []compression.Config{
		{Algorithm: compression.Zstd, Level: 0},
		{Algorithm: compression.Zstd, Level: 5},
		{Algorithm: compression.LZ4, Level: 3},
		{Algorithm: compression.Deflate, Level: 9},
	} {
		t.Run(comp.String(), func(t *testing.T) {
			env := testutil.NewTestEnvironment(t)
			tbl := openEvents(t, env, table.ModeCreate, comp)
			defer tbl.Close()

			require.NoError(t, tbl.Append(env.Context(), testutil.EventBatch(t, 0, 25)))
			require.NoError(t, tbl.Append(env.Context(), testutil.EventBatch(t, 25, 13)))
			require.Equal(t, table.KnownRows(38), tbl.RowCount())
			assert.Equal(t, 10, tbl.ChunkRows())

			b, err := tbl.Read(env.Context(), 0, table.End, 1)
			require.NoError(t, err)
			assert.Equal(t, testutil.Seq(0, 38, 1), testutil.Int64s(t, b, "id"))
			for i, e := range testutil.Float64s(t, b, "energy") {
				assert.Equal(t, testutil.Energy(int64(i)), e)
			}
			assert.Equal(t, "kaon", testutil.Strings(t, b, "name")[2])
		})
	}
}

func TestStridedRead(t *testing.T) {
	env := testutil.NewTestEnvironment(t)
	tbl := openEvents(t, env, table.ModeCreate, compression.Config{Algorithm: compression.S2, Level: 1})
	defer tbl.Close()
	require.NoError(t, tbl.Append(env.Context(), testutil.EventBatch(t, 0, 100)))

	tests := []struct {
		start, stop, step int64
	}{
		{0, 100, 1},
		{3, 47, 7},
		{9, 11, 1},
		{95, table.End, 4},
		{100, 100, 1},
		{100, table.End, 3},
		{0, 1000, 33},
	}
	for _, tt := range tests {
		b, err := tbl.Read(env.Context(), tt.start, tt.stop, tt.step)
		require.NoError(t, err)
		want := testutil.Seq(tt.start, min(tt.stop, 100), tt.step)
		assert.Equal(t, len(want), b.NumRows(), "%d:%d:%d", tt.start, tt.stop, tt.step)
		if len(want) > 0 {
			assert.Equal(t, want, testutil.Int64s(t, b, "id"))
		}
	}
}

func TestReadOutOfRange(t *testing.T) {
	env := testutil.NewTestEnvironment(t)
	tbl := openEvents(t, env, table.ModeCreate, compression.DefaultConfig())
	defer tbl.Close()
	require.NoError(t, tbl.Append(env.Context(), testutil.EventBatch(t, 0, 20)))

	_, err := tbl.Read(env.Context(), 21, table.End, 1)
	assert.True(t, errors.IsType(err, errors.ErrorTypeOutOfRange))
	_, err = tbl.Read(env.Context(), 5, 2, 1)
	assert.True(t, errors.IsType(err, errors.ErrorTypeOutOfRange))
	_, err = tbl.Read(env.Context(), 0, 10, 0)
	assert.True(t, errors.IsType(err, errors.ErrorTypeOutOfRange))
}

func TestReopenPersistsRows(t *testing.T) {
	env := testutil.NewTestEnvironment(t)
	comp := compression.Config{Algorithm: compression.Zstd, Level: 3}
	tbl := openEvents(t, env, table.ModeCreate, comp)
	require.NoError(t, tbl.Append(env.Context(), testutil.EventBatch(t, 0, 15)))
	require.NoError(t, tbl.Close())

	tbl = openEvents(t, env, table.ModeAppend, comp)
	require.Equal(t, table.KnownRows(15), tbl.RowCount())
	require.NoError(t, tbl.Append(env.Context(), testutil.EventBatch(t, 15, 7)))
	require.NoError(t, tbl.Close())

	tbl = openEvents(t, env, table.ModeRead, comp)
	defer tbl.Close()
	b, err := tbl.Read(env.Context(), 0, table.End, 1)
	require.NoError(t, err)
	assert.Equal(t, testutil.Seq(0, 22, 1), testutil.Int64s(t, b, "id"))
	assert.Equal(t, "zstd:3", tbl.Compression().String())

	// the replaced partial tail chunk is gone
	files, err := os.ReadDir(filepath.Join(env.TempDir(), "events.cstore", "run1", "chunks"))
	require.NoError(t, err)
	assert.Len(t, files, 3)
}

func TestTornCommitIsIgnored(t *testing.T) {
	env := testutil.NewTestEnvironment(t)
	tbl := openEvents(t, env, table.ModeCreate, compression.DefaultConfig())
	require.NoError(t, tbl.Append(env.Context(), testutil.EventBatch(t, 0, 12)))
	require.NoError(t, tbl.Close())

	log := filepath.Join(env.TempDir(), "events.cstore", "run1", "commits.log")
	f, err := os.OpenFile(log, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"seq":2,"add":[{"id":9`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	tbl = openEvents(t, env, table.ModeAppend, compression.DefaultConfig())
	assert.Equal(t, table.KnownRows(12), tbl.RowCount())
	require.NoError(t, tbl.Append(env.Context(), testutil.EventBatch(t, 12, 3)))
	require.NoError(t, tbl.Close())

	tbl = openEvents(t, env, table.ModeRead, compression.DefaultConfig())
	defer tbl.Close()
	b, err := tbl.Read(env.Context(), 0, table.End, 1)
	require.NoError(t, err)
	assert.Equal(t, testutil.Seq(0, 15, 1), testutil.Int64s(t, b, "id"))
}

func TestUncommittedChunksAreSwept(t *testing.T) {
	env := testutil.NewTestEnvironment(t)
	tbl := openEvents(t, env, table.ModeCreate, compression.DefaultConfig())
	require.NoError(t, tbl.Append(env.Context(), testutil.EventBatch(t, 0, 12)))
	require.NoError(t, tbl.Close())

	// chunks 1 and 2 are committed; 3 and 4 are left by a crash before the
	// commit line was written
	chunks := filepath.Join(env.TempDir(), "events.cstore", "run1", "chunks")
	for _, name := range []string{"00000003.chk", "00000004.chk"} {
		require.NoError(t, os.WriteFile(filepath.Join(chunks, name), []byte("partial"), 0o644))
	}

	// read handles leave the directory alone
	ro := openEvents(t, env, table.ModeRead, compression.DefaultConfig())
	require.NoError(t, ro.Close())
	assert.FileExists(t, filepath.Join(chunks, "00000004.chk"))

	tbl = openEvents(t, env, table.ModeAppend, compression.DefaultConfig())
	assert.NoFileExists(t, filepath.Join(chunks, "00000004.chk"))
	require.NoError(t, tbl.Append(env.Context(), testutil.EventBatch(t, 12, 20)))
	require.NoError(t, tbl.Close())

	tbl = openEvents(t, env, table.ModeRead, compression.DefaultConfig())
	defer tbl.Close()
	b, err := tbl.Read(env.Context(), 0, table.End, 1)
	require.NoError(t, err)
	assert.Equal(t, testutil.Seq(0, 32, 1), testutil.Int64s(t, b, "id"))
}

func TestAppendErrors(t *testing.T) {
	env := testutil.NewTestEnvironment(t)
	tbl := openEvents(t, env, table.ModeCreate, compression.DefaultConfig())
	require.NoError(t, tbl.Append(env.Context(), testutil.EventBatch(t, 0, 5)))

	other, err := testutil.EventBatch(t, 0, 3).Project([]string{"id", "energy"})
	require.NoError(t, err)
	err = tbl.Append(env.Context(), other)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSchemaMismatch))
	assert.Equal(t, table.KnownRows(5), tbl.RowCount())

	require.NoError(t, tbl.Close())
	require.NoError(t, tbl.Close())
	err = tbl.Append(env.Context(), testutil.EventBatch(t, 5, 1))
	assert.True(t, errors.IsType(err, errors.ErrorTypeClosed))
	_, err = tbl.Read(env.Context(), 0, 1, 1)
	assert.True(t, errors.IsType(err, errors.ErrorTypeClosed))

	ro := openEvents(t, env, table.ModeRead, compression.DefaultConfig())
	defer ro.Close()
	err = ro.Append(env.Context(), testutil.EventBatch(t, 5, 1))
	assert.True(t, errors.IsType(err, errors.ErrorTypeReadOnly))
}

func TestOpenModes(t *testing.T) {
	env := testutil.NewTestEnvironment(t)
	loc := env.Locator("modes.cstore", "/a/b")

	_, err := columnstore.Open(env.Context(), loc, table.ModeRead, columnstore.Options{})
	require.Error(t, err)

	_, err = columnstore.Open(env.Context(), loc, table.ModeCreate, columnstore.Options{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	tbl, err := columnstore.Open(env.Context(), loc, table.ModeAppend, columnstore.Options{Schema: testutil.EventSchema()})
	require.NoError(t, err)
	require.NoError(t, tbl.Append(env.Context(), testutil.EventBatch(t, 0, 4)))
	require.NoError(t, tbl.Close())

	_, err = os.Stat(filepath.Join(loc.Path, columnstore.MarkerFile))
	assert.NoError(t, err)

	other := schema.MustNew(schema.NewField("x", schema.Float32))
	_, err = columnstore.Open(env.Context(), loc, table.ModeAppend, columnstore.Options{Schema: other})
	assert.True(t, errors.IsType(err, errors.ErrorTypeSchemaMismatch))

	tbl, err = columnstore.Open(env.Context(), loc, table.ModeCreate, columnstore.Options{Schema: other})
	require.NoError(t, err)
	defer tbl.Close()
	assert.Equal(t, table.KnownRows(0), tbl.RowCount())
	assert.True(t, tbl.Schema().Equal(other))
}

func TestReadFilteredMatchesPostHocFilter(t *testing.T) {
	env := testutil.NewTestEnvironment(t)
	tbl := openEvents(t, env, table.ModeCreate, compression.Config{Algorithm: compression.Zstd, Level: 1})
	defer tbl.Close()
	require.NoError(t, tbl.Append(env.Context(), testutil.EventBatch(t, 0, 200)))

	for _, expr := range []string{
		"energy > 50",
		"(id >= 40) & (id < 75)",
		"id < 10 || id > 190",
		`name == "muon" && ~flag`,
		"charge == -1 && energy <= 20.5",
		"id > 1000",
		"true",
	} {
		t.Run(expr, func(t *testing.T) {
			pred, err := predicate.Parse(expr)
			require.NoError(t, err)

			got, err := tbl.ReadFiltered(env.Context(), pred, 3, 180, 2)
			require.NoError(t, err)
			want, err := table.FilterRead(env.Context(), tbl, pred, 3, 180, 2)
			require.NoError(t, err)

			assert.Equal(t, want.NumRows(), got.NumRows())
			if want.NumRows() > 0 {
				assert.Equal(t, testutil.Int64s(t, want, "id"), testutil.Int64s(t, got, "id"))
				assert.Equal(t, testutil.Strings(t, want, "name"), testutil.Strings(t, got, "name"))
			}
		})
	}
}

func TestReadFilteredUnknownColumn(t *testing.T) {
	env := testutil.NewTestEnvironment(t)
	tbl := openEvents(t, env, table.ModeCreate, compression.DefaultConfig())
	defer tbl.Close()

	pred, err := predicate.Parse("momentum > 3")
	require.NoError(t, err)
	_, err = tbl.ReadFiltered(env.Context(), pred, 0, table.End, 1)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidPredicate))
}

func TestTakeArbitraryOrder(t *testing.T) {
	env := testutil.NewTestEnvironment(t)
	tbl := openEvents(t, env, table.ModeCreate, compression.DefaultConfig())
	defer tbl.Close()
	require.NoError(t, tbl.Append(env.Context(), testutil.EventBatch(t, 0, 50)))

	rows := []int64{49, 0, 17, 17, 33, 2}
	b, err := tbl.Take(env.Context(), rows)
	require.NoError(t, err)
	assert.Equal(t, rows, testutil.Int64s(t, b, "id"))

	_, err = tbl.Take(env.Context(), []int64{50})
	assert.True(t, errors.IsType(err, errors.ErrorTypeOutOfRange))
}

func TestIndexRebuiltByAnotherHandle(t *testing.T) {
	env := testutil.NewTestEnvironment(t)
	w := openEvents(t, env, table.ModeCreate, compression.DefaultConfig())
	defer w.Close()
	require.NoError(t, w.Append(env.Context(), testutil.EventBatch(t, 0, 6)))
	require.NoError(t, w.WriteIndex(env.Context(), "energy", []int64{5, 4, 3, 2, 1, 0}))

	r := openEvents(t, env, table.ModeRead, compression.DefaultConfig())
	defer r.Close()
	ix, err := r.Index("energy")
	require.NoError(t, err)
	first, err := ix.At(0)
	require.NoError(t, err)
	assert.Equal(t, int64(5), first)

	require.NoError(t, w.Append(env.Context(), testutil.EventBatch(t, 6, 2)))
	require.NoError(t, w.WriteIndex(env.Context(), "energy", []int64{0, 1, 2, 3, 4, 5, 6, 7}))

	ix, err = r.Index("energy")
	require.NoError(t, err)
	assert.Equal(t, int64(8), ix.Rows())
	got, err := ix.Positions(0, 8, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 3, 6}, got)

	// the cached reader is reused while the generation is unchanged
	again, err := r.Index("energy")
	require.NoError(t, err)
	assert.Same(t, ix, again)
}

func TestIndexPersistence(t *testing.T) {
	env := testutil.NewTestEnvironment(t)
	tbl := openEvents(t, env, table.ModeCreate, compression.Config{Algorithm: compression.LZ4, Level: 1})
	require.NoError(t, tbl.Append(env.Context(), testutil.EventBatch(t, 0, 6)))

	_, err := tbl.Index("energy")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotIndexed))

	perm := []int64{5, 4, 3, 2, 1, 0}
	require.NoError(t, tbl.WriteIndex(env.Context(), "energy", perm))
	// rewriting replaces the previous generation
	require.NoError(t, tbl.WriteIndex(env.Context(), "energy", []int64{0, 1, 2, 3, 4, 5}))
	require.NoError(t, tbl.Close())

	tbl = openEvents(t, env, table.ModeRead, compression.DefaultConfig())
	defer tbl.Close()
	cols, err := tbl.Indexes()
	require.NoError(t, err)
	assert.Equal(t, []string{"energy"}, cols)

	ix, err := tbl.Index("energy")
	require.NoError(t, err)
	assert.Equal(t, int64(6), ix.Rows())
	got, err := ix.Positions(1, 6, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 5}, got)
	_, err = ix.At(6)
	assert.True(t, errors.IsType(err, errors.ErrorTypeOutOfRange))

	idx, err := os.ReadDir(filepath.Join(env.TempDir(), "events.cstore", "run1", "index"))
	require.NoError(t, err)
	assert.Len(t, idx, 2)

	err = tbl.WriteIndex(env.Context(), "energy", []int64{0, 1, 2, 3, 4, 5})
	assert.True(t, errors.IsType(err, errors.ErrorTypeReadOnly))
}
