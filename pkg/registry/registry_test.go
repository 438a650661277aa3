package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ajitpratap0/tabular/pkg/compression"
	"github.com/ajitpratap0/tabular/pkg/errors"
	"github.com/ajitpratap0/tabular/pkg/logger"
	"github.com/ajitpratap0/tabular/pkg/table"
	"github.com/ajitpratap0/tabular/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveAliases(t *testing.T) {
	r := NewRegistry()
	for alias, want := range map[string]string{
		"tables":      "columnstore",
		"PyTables":    "columnstore",
		"h5":          "columngroup",
		"HDF5":        "columngroup",
		" root ":      "branchstore",
		"branchstore": "branchstore",
	} {
		got, err := r.Resolve(alias)
		require.NoError(t, err, alias)
		assert.Equal(t, want, got, alias)
	}
	_, err := r.Resolve("parquet")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	assert.Equal(t, []string{"branchstore", "columngroup", "columnstore"}, r.Formats())
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	err := r.Register("columnstore", openColumnStore)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	err = r.Register("other", openColumnStore, "h5")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	require.NoError(t, r.Register("other", openColumnStore, "oth"))
	got, err := r.Resolve("OTH")
	require.NoError(t, err)
	assert.Equal(t, "other", got)
}

func TestParseMode(t *testing.T) {
	for s, want := range map[string]table.Mode{
		"create": table.ModeCreate, "NEW": table.ModeCreate, "write": table.ModeCreate, "recreate": table.ModeCreate,
		"update": table.ModeAppend, "Append": table.ModeAppend, "a": table.ModeAppend,
		"read": table.ModeRead, "readonly": table.ModeRead, "R": table.ModeRead,
	} {
		got, err := ParseMode(s)
		require.NoError(t, err, s)
		assert.Equal(t, want, got, s)
	}
	_, err := ParseMode("delete")
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestParseLocator(t *testing.T) {
	loc, err := ParseLocator("data/run.h5:/events/raw")
	require.NoError(t, err)
	assert.Equal(t, table.Locator{Path: "data/run.h5", Node: "/events/raw"}, loc)

	loc, err = ParseLocator(`C:\data\run.h5:/events`)
	require.NoError(t, err)
	assert.Equal(t, `C:\data\run.h5`, loc.Path)

	for _, bad := range []string{"run.h5", ":/events", "run.h5:", "run.h5:/"} {
		_, err := ParseLocator(bad)
		assert.True(t, errors.IsType(err, errors.ErrorTypeValidation), bad)
	}
}

func TestOpenUsesLoggerInstalledAfterInit(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "registry.log")
	require.NoError(t, logger.Init(logger.Config{Level: "debug", OutputPaths: []string{out}}))
	t.Cleanup(func() { _ = logger.Init(logger.Config{}) })

	loc := table.Locator{Path: filepath.Join(dir, "late.data"), Node: "/t"}
	tbl, err := Open(context.Background(), "columnstore", loc, table.ModeCreate, CreateOptions{Schema: testutil.EventSchema()})
	require.NoError(t, err)
	require.NoError(t, tbl.Close())
	_ = logger.Sync()

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"table opened"`)
	assert.Contains(t, string(data), `"component":"format_registry"`)
}

func TestOpenAndDetect(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	r := NewRegistry()
	opts := CreateOptions{
		Schema:      testutil.EventSchema(),
		Compression: compression.Config{Algorithm: compression.Zstd, Level: 3},
		Logger:      testutil.TestLogger(t),
	}

	for _, tc := range []struct {
		format, container, want string
	}{
		{"tables", "a.data", "columnstore"},
		{"hdf5", "b.data", "columngroup"},
		{"root", "c.data", "branchstore"},
	} {
		loc := table.Locator{Path: filepath.Join(dir, tc.container), Node: "/t"}
		tbl, err := r.Open(ctx, tc.format, loc, table.ModeCreate, opts)
		require.NoError(t, err, tc.format)
		assert.Equal(t, tc.want, tbl.Format())
		require.NoError(t, tbl.Append(ctx, testutil.EventBatch(t, 0, 4)))
		require.NoError(t, tbl.Close())

		got, err := Detect(loc.Path)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)

		ro, err := r.Open(ctx, got, loc, table.ModeRead, CreateOptions{Logger: opts.Logger})
		require.NoError(t, err)
		assert.Equal(t, table.KnownRows(4), ro.RowCount())
		require.NoError(t, ro.Close())
	}

	got, err := Detect(filepath.Join(dir, "missing.cgroup"))
	require.NoError(t, err)
	assert.Equal(t, "columngroup", got)
	_, err = Detect(filepath.Join(dir, "missing.csv"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}
