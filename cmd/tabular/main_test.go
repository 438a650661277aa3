package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/ajitpratap0/tabular/pkg/errors"
	"github.com/ajitpratap0/tabular/pkg/registry"
	"github.com/ajitpratap0/tabular/pkg/table"
	"github.com/ajitpratap0/tabular/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd, a := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--quiet", "--log-level", "error"))
	ctx := testutil.NewTestEnvironment(t).Context()
	err := cmd.ExecuteContext(ctx)
	require.NoError(t, a.teardown(ctx))
	return out.String(), err
}

func seed(t *testing.T, dir string, rows int64) string {
	t.Helper()
	env := testutil.NewTestEnvironment(t)
	path := filepath.Join(dir, "events.cstore")
	tbl, err := registry.Open(env.Context(), "columnstore", table.Locator{Path: path, Node: "/run1"}, table.ModeCreate,
		registry.CreateOptions{Schema: testutil.EventSchema(), Logger: testutil.TestLogger(t)})
	require.NoError(t, err)
	require.NoError(t, tbl.Append(env.Context(), testutil.EventBatch(t, 0, rows)))
	require.NoError(t, tbl.Close())
	return path + ":/run1"
}

func readIDs(t *testing.T, spec string) []int64 {
	t.Helper()
	env := testutil.NewTestEnvironment(t)
	loc, err := registry.ParseLocator(spec)
	require.NoError(t, err)
	format, err := registry.Detect(loc.Path)
	require.NoError(t, err)
	tbl, err := registry.Open(env.Context(), format, loc, table.ModeRead, registry.CreateOptions{Logger: testutil.TestLogger(t)})
	require.NoError(t, err)
	defer tbl.Close()
	b, err := tbl.Read(env.Context(), 0, table.End, 1)
	require.NoError(t, err)
	return testutil.Int64s(t, b, "id")
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Tabular v"+version)
}

func TestConvertAndSelect(t *testing.T) {
	testutil.IntegrationTest(t)
	dir := t.TempDir()
	src := seed(t, dir, 300)

	dst := filepath.Join(dir, "copy.cgroup") + ":/run1"
	out, err := run(t, "convert", src, dst, "--range", "10:110:2", "-b", "1k", "-l", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "50 rows written")
	assert.Equal(t, testutil.Seq(10, 110, 2), readIDs(t, dst))

	sel := filepath.Join(dir, "sel.bstore") + ":/run1"
	_, err = run(t, "select", src, sel, "-e", "id < 20 & flag == true", "-f", "id,energy")
	require.NoError(t, err)
	assert.Equal(t, testutil.Seq(0, 20, 2), readIDs(t, sel))

	pprof := filepath.Join(dir, "pprof")
	_, err = run(t, "convert", src, filepath.Join(dir, "again.cstore")+":/x", "--pprof-dir", pprof, "--pprof", "memory")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(pprof, "memory.prof"))

	out, err = run(t, "info", sel)
	require.NoError(t, err)
	assert.Contains(t, out, "branchstore")
	assert.Contains(t, out, "energy")
}

func TestSortAndIndex(t *testing.T) {
	testutil.IntegrationTest(t)
	dir := t.TempDir()
	src := seed(t, dir, 120)

	sorted := filepath.Join(dir, "sorted.cstore") + ":/run1"
	_, err := run(t, "sort", src, sorted, "-k", "energy")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotIndexed))

	_, err = run(t, "index", "create", src, "-c", "energy")
	require.NoError(t, err)
	_, err = run(t, "index", "create", src, "-c", "energy")
	assert.True(t, errors.IsType(err, errors.ErrorTypeAlreadyIndexed))

	_, err = run(t, "sort", src, sorted, "-k", "energy", "-r", "--mode", "w")
	require.NoError(t, err)
	ids := readIDs(t, sorted)
	require.Len(t, ids, 120)
	for i := 1; i < len(ids); i++ {
		assert.GreaterOrEqual(t, testutil.Energy(ids[i-1]), testutil.Energy(ids[i]))
	}

	out, err := run(t, "index", "test", src, "-c", "energy", "-n", "50")
	require.NoError(t, err)
	assert.Contains(t, out, "50 lookups")

	out, err = run(t, "info", src)
	require.NoError(t, err)
	assert.Contains(t, out, "indexes:")
	assert.Contains(t, out, "energy")
}
