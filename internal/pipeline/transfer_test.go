package pipeline

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/ajitpratap0/tabular/pkg/batch"
	"github.com/ajitpratap0/tabular/pkg/errors"
	"github.com/ajitpratap0/tabular/pkg/index"
	"github.com/ajitpratap0/tabular/pkg/logger"
	"github.com/ajitpratap0/tabular/pkg/predicate"
	"github.com/ajitpratap0/tabular/pkg/registry"
	"github.com/ajitpratap0/tabular/pkg/schema"
	"github.com/ajitpratap0/tabular/pkg/table"
	"github.com/ajitpratap0/tabular/pkg/testutil"
	"github.com/linkedin/goavro/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var formats = []string{"columnstore", "columngroup", "branchstore"}

func openTable(t *testing.T, env *testutil.TestEnvironment, format, name string, mode table.Mode, s *schema.Schema) table.Table {
	t.Helper()
	tbl, err := registry.Open(env.Context(), format, env.Locator(name, "/t"), mode, registry.CreateOptions{
		Schema:     s,
		ChunkBytes: int64(testutil.EventSchema().RowSize()) * 16,
		Logger:     testutil.TestLogger(t),
	})
	require.NoError(t, err)
	t.Cleanup(func() { tbl.Close() })
	return tbl
}

func source(t *testing.T, env *testutil.TestEnvironment, format string, rows int64) table.Table {
	t.Helper()
	tbl := openTable(t, env, format, "src."+format, table.ModeCreate, testutil.EventSchema())
	require.NoError(t, tbl.Append(env.Context(), testutil.EventBatch(t, 0, rows)))
	return tbl
}

func readAll(t *testing.T, env *testutil.TestEnvironment, tbl table.Table) *batch.Batch {
	t.Helper()
	b, err := tbl.Read(env.Context(), 0, table.End, 1)
	require.NoError(t, err)
	return b
}

// batchBytes makes a budget of n event rows.
func batchBytes(n int) int64 { return int64(testutil.EventSchema().RowSize() * n) }

func TestRowsPerBatch(t *testing.T) {
	assert.Equal(t, int64(2), RowsPerBatch(100, 30, 50))
	assert.Equal(t, int64(1), RowsPerBatch(10, 30, 50))
	assert.Equal(t, int64(3), RowsPerBatch(100, 30, 8))
}

func TestRoundTripAcrossBackends(t *testing.T) {
	for _, from := range formats {
		for _, to := range formats {
			t.Run(from+"_to_"+to, func(t *testing.T) {
				env := testutil.NewTestEnvironment(t)
				src := source(t, env, from, 137)
				dst := openTable(t, env, to, "dst."+to, table.ModeCreate, testutil.EventSchema())

				var events []BatchEvent
				tr := NewTransfer(src, dst, Options{
					BatchBytes: batchBytes(10),
					OnBatch:    func(e BatchEvent) { events = append(events, e) },
				}, testutil.TestLogger(t))
				report, err := tr.Run(env.Context())
				require.NoError(t, err)

				assert.Equal(t, StateCompleted, report.State)
				assert.Equal(t, StateCompleted, tr.State())
				assert.Equal(t, int64(10), report.RowsPerBatch)
				assert.Equal(t, int64(137), report.RowsScanned)
				assert.Equal(t, int64(137), report.RowsWritten)
				assert.Equal(t, int64(137*testutil.EventSchema().RowSize()), report.BytesWritten)
				assert.Equal(t, int64(14), report.Batches)
				assert.Equal(t, int64(137), report.Cursor)
				require.Len(t, events, 14)
				assert.Equal(t, int64(137), events[13].Total)

				assert.Equal(t, table.KnownRows(137), dst.RowCount())
				got := readAll(t, env, dst)
				assert.Equal(t, testutil.Seq(0, 137, 1), testutil.Int64s(t, got, "id"))
				want := readAll(t, env, src)
				assert.Equal(t, testutil.Float64s(t, want, "energy"), testutil.Float64s(t, got, "energy"))
				assert.Equal(t, testutil.Strings(t, want, "name"), testutil.Strings(t, got, "name"))
			})
		}
	}
}

func TestBatchesStayWithinBudget(t *testing.T) {
	env := testutil.NewTestEnvironment(t)
	src := source(t, env, "columnstore", 100)
	dst := openTable(t, env, "columngroup", "dst", table.ModeCreate, testutil.EventSchema())

	budget := batchBytes(7) + 3
	var prev BatchEvent
	tr := NewTransfer(src, dst, Options{
		BatchBytes: budget,
		OnBatch: func(e BatchEvent) {
			scanned := e.RowsScanned - prev.RowsScanned
			assert.LessOrEqual(t, scanned*int64(testutil.EventSchema().RowSize()), budget)
			assert.Greater(t, e.Cursor, prev.Cursor)
			prev = e
		},
	}, testutil.TestLogger(t))
	report, err := tr.Run(env.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(7), report.RowsPerBatch)
	assert.Equal(t, int64(15), report.Batches)
}

func TestPredicateEquivalence(t *testing.T) {
	const where = "energy > 40 && (charge == 0 | name == 'kaon')"
	pred, err := predicate.Parse(where)
	require.NoError(t, err)

	for _, from := range formats {
		t.Run(from, func(t *testing.T) {
			env := testutil.NewTestEnvironment(t)
			src := source(t, env, from, 200)
			dst := openTable(t, env, "columnstore", "dst", table.ModeCreate, testutil.EventSchema())

			report, err := NewTransfer(src, dst, Options{Predicate: where, BatchBytes: batchBytes(23)}, testutil.TestLogger(t)).
				Run(env.Context())
			require.NoError(t, err)

			require.NoError(t, pred.Bind(src.Schema()))
			want, err := pred.Filter(readAll(t, env, src))
			require.NoError(t, err)
			assert.Equal(t, int64(want.NumRows()), report.RowsWritten)
			assert.Equal(t, int64(200), report.RowsScanned)
			assert.Equal(t, testutil.Int64s(t, want, "id"), testutil.Int64s(t, readAll(t, env, dst), "id"))
		})
	}
}

func TestProjection(t *testing.T) {
	env := testutil.NewTestEnvironment(t)
	src := source(t, env, "branchstore", 50)
	projected, err := testutil.EventSchema().Project([]string{"energy", "id"})
	require.NoError(t, err)
	dst := openTable(t, env, "columnstore", "dst", table.ModeCreate, projected)

	_, err = NewTransfer(src, dst, Options{
		Predicate:  "flag == true",
		Projection: []string{"energy", "id"},
		BatchBytes: batchBytes(8),
	}, testutil.TestLogger(t)).Run(env.Context())
	require.NoError(t, err)

	got := readAll(t, env, dst)
	assert.Equal(t, []string{"energy", "id"}, got.Schema().Names())
	ids := testutil.Int64s(t, got, "id")
	assert.Equal(t, testutil.Seq(0, 50, 2), ids)
	for i, id := range ids {
		assert.Equal(t, testutil.Energy(id), testutil.Float64s(t, got, "energy")[i])
	}
}

func TestPreconditionFailures(t *testing.T) {
	env := testutil.NewTestEnvironment(t)
	src := source(t, env, "columnstore", 20)
	full := openTable(t, env, "columngroup", "full", table.ModeCreate, testutil.EventSchema())

	for name, tc := range map[string]struct {
		opts Options
		kind errors.ErrorType
	}{
		"projection mismatch": {Options{Projection: []string{"id"}, BatchBytes: 64}, errors.ErrorTypeSchemaMismatch},
		"unknown column":      {Options{Predicate: "mass > 1", BatchBytes: 64}, errors.ErrorTypeInvalidPredicate},
		"bad sample rate":     {Options{SampleRate: 1.5, BatchBytes: 64}, errors.ErrorTypeValidation},
		"zero budget":         {Options{}, errors.ErrorTypeValidation},
		"range":               {Options{Range: table.Range{Start: 21, Stop: table.End, Step: 1}, BatchBytes: 64}, errors.ErrorTypeOutOfRange},
		"not indexed":         {Options{Order: &Order{Column: "energy"}, BatchBytes: 64}, errors.ErrorTypeNotIndexed},
	} {
		tr := NewTransfer(src, full, tc.opts, testutil.TestLogger(t))
		report, err := tr.Run(env.Context())
		assert.True(t, errors.IsType(err, tc.kind), "%s: %v", name, err)
		require.NotNil(t, report, name)
		assert.Equal(t, StateFailed, report.State, name)
		assert.Zero(t, report.RowsWritten, name)
	}
	assert.Equal(t, table.KnownRows(0), full.RowCount())
}

func TestRunOnlyOnce(t *testing.T) {
	env := testutil.NewTestEnvironment(t)
	src := source(t, env, "columnstore", 5)
	dst := openTable(t, env, "columnstore", "dst", table.ModeCreate, testutil.EventSchema())
	tr := NewTransfer(src, dst, Options{BatchBytes: 1 << 20}, testutil.TestLogger(t))
	_, err := tr.Run(env.Context())
	require.NoError(t, err)
	_, err = tr.Run(env.Context())
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestRunLogsCarryContext(t *testing.T) {
	env := testutil.NewTestEnvironment(t)
	src := source(t, env, "columnstore", 5)
	dst := openTable(t, env, "columnstore", "dst", table.ModeCreate, testutil.EventSchema())
	core, logs := observer.New(zapcore.InfoLevel)
	tr := NewTransfer(src, dst, Options{BatchBytes: 1 << 20}, zap.New(core))

	ctx := logger.NewContext(env.Context(), logger.CommandKey, "transfer")
	report, err := tr.Run(ctx)
	require.NoError(t, err)

	done := logs.FilterMessage("transfer completed").All()
	require.Len(t, done, 1)
	fields := done[0].ContextMap()
	assert.Equal(t, report.ID, fields["transfer_id"])
	assert.Equal(t, "transfer", fields["command"])
}

func TestRangeSelector(t *testing.T) {
	env := testutil.NewTestEnvironment(t)
	src := source(t, env, "columngroup", 60)
	dst := openTable(t, env, "branchstore", "dst", table.ModeCreate, testutil.EventSchema())

	report, err := NewTransfer(src, dst, Options{
		Range:      table.Range{Start: 5, Stop: 50, Step: 3},
		BatchBytes: batchBytes(4),
	}, testutil.TestLogger(t)).Run(env.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(15), report.RowsScanned)
	assert.Equal(t, int64(4), report.Batches)
	assert.Equal(t, testutil.Seq(5, 50, 3), testutil.Int64s(t, readAll(t, env, dst), "id"))
}

func TestSampling(t *testing.T) {
	const rows, rate = 2000, 0.3
	env := testutil.NewTestEnvironment(t)
	src := source(t, env, "columnstore", rows)

	run := func(name string, seed uint64) []int64 {
		dst := openTable(t, env, "columngroup", name, table.ModeCreate, testutil.EventSchema())
		report, err := NewTransfer(src, dst, Options{SampleRate: rate, Seed: seed, BatchBytes: batchBytes(64)}, testutil.TestLogger(t)).
			Run(env.Context())
		require.NoError(t, err)
		assert.Equal(t, int64(rows), report.RowsScanned)
		return testutil.Int64s(t, readAll(t, env, dst), "id")
	}

	a := run("a", 11)
	sigma := math.Sqrt(rows * rate * (1 - rate))
	assert.InDelta(t, rows*rate, float64(len(a)), 5*sigma)
	for i, id := range a {
		require.True(t, id >= 0 && id < rows)
		if i > 0 {
			require.Greater(t, id, a[i-1], "sampled rows keep source order")
		}
	}
	assert.Equal(t, a, run("b", 11), "same seed, same sample")

	var total int
	for i := 0; i < 10; i++ {
		total += len(run(fmt.Sprintf("c%d", i), uint64(100+i)))
	}
	assert.InDelta(t, rows*rate, float64(total)/10, 5*sigma/math.Sqrt(10))
}

func TestSortedTransfer(t *testing.T) {
	env := testutil.NewTestEnvironment(t)
	src := source(t, env, "columnstore", 120)
	m := index.NewManager(testutil.TestLogger(t))

	asc := openTable(t, env, "columngroup", "asc", table.ModeCreate, testutil.EventSchema())
	_, err := NewTransfer(src, asc, Options{
		Order:      &Order{Column: "energy"},
		BuildIndex: true,
		Index:      m,
		BatchBytes: batchBytes(16),
	}, testutil.TestLogger(t)).Run(env.Context())
	require.NoError(t, err)

	desc := openTable(t, env, "branchstore", "desc", table.ModeCreate, testutil.EventSchema())
	_, err = NewTransfer(src, desc, Options{
		Order:      &Order{Column: "energy", Descending: true},
		Index:      m,
		BatchBytes: batchBytes(9),
	}, testutil.TestLogger(t)).Run(env.Context())
	require.NoError(t, err)

	up := testutil.Int64s(t, readAll(t, env, asc), "id")
	down := testutil.Int64s(t, readAll(t, env, desc), "id")
	require.Len(t, up, 120)
	for i := 1; i < len(up); i++ {
		a, b := testutil.Energy(up[i-1]), testutil.Energy(up[i])
		require.LessOrEqual(t, a, b)
		if a == b {
			require.Less(t, up[i-1], up[i])
		}
	}
	for i := range up {
		assert.Equal(t, up[i], down[len(down)-1-i])
	}

	// sorted traversal with a predicate keeps the sorted order
	filtered := openTable(t, env, "columnstore", "filtered", table.ModeCreate, testutil.EventSchema())
	_, err = NewTransfer(src, filtered, Options{
		Order:      &Order{Column: "energy"},
		Predicate:  "charge == 1",
		Index:      m,
		BatchBytes: batchBytes(16),
	}, testutil.TestLogger(t)).Run(env.Context())
	require.NoError(t, err)
	var want []int64
	for _, id := range up {
		if testutil.Charge(id) == 1 {
			want = append(want, id)
		}
	}
	assert.Equal(t, want, testutil.Int64s(t, readAll(t, env, filtered), "id"))
}

// failingTable fails the n-th append.
type failingTable struct {
	table.Table
	appends int
	failAt  int
}

func (f *failingTable) Append(ctx context.Context, b *batch.Batch) error {
	f.appends++
	if f.appends == f.failAt {
		return errors.BackendIO(fmt.Errorf("disk full"), "append chunk").WithTable(f.Name())
	}
	return f.Table.Append(ctx, b)
}

func TestFailureLeavesResumableDestination(t *testing.T) {
	env := testutil.NewTestEnvironment(t)
	src := source(t, env, "columnstore", 100)
	dst := &failingTable{
		Table:  openTable(t, env, "columngroup", "dst", table.ModeCreate, testutil.EventSchema()),
		failAt: 6,
	}

	report, err := NewTransfer(src, dst, Options{BatchBytes: batchBytes(10)}, testutil.TestLogger(t)).Run(env.Context())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeBackendIO))
	assert.Equal(t, StateFailed, report.State)
	assert.Equal(t, int64(50), report.Cursor)
	assert.Equal(t, int64(5), report.Batches)
	assert.Equal(t, table.KnownRows(50), dst.RowCount())

	// resume from the cursor
	report, err = NewTransfer(src, dst, Options{
		Range:      table.Range{Start: report.Cursor, Stop: table.End, Step: 1},
		BatchBytes: batchBytes(10),
	}, testutil.TestLogger(t)).Run(env.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(50), report.RowsWritten)
	assert.Equal(t, testutil.Seq(0, 100, 1), testutil.Int64s(t, readAll(t, env, dst), "id"))
}

func TestCancelAtBatchBoundary(t *testing.T) {
	env := testutil.NewTestEnvironment(t)
	src := source(t, env, "columnstore", 100)
	dst := openTable(t, env, "columnstore", "dst", table.ModeCreate, testutil.EventSchema())

	ctx, cancel := context.WithCancel(env.Context())
	defer cancel()
	report, err := NewTransfer(src, dst, Options{
		BatchBytes: batchBytes(10),
		OnBatch: func(e BatchEvent) {
			if e.Batch == 2 {
				cancel()
			}
		},
	}, testutil.TestLogger(t)).Run(ctx)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCanceled))
	assert.Equal(t, int64(20), report.Cursor)
	assert.Equal(t, table.KnownRows(20), dst.RowCount())
}

func TestProfilingSinks(t *testing.T) {
	env := testutil.NewTestEnvironment(t)
	src := source(t, env, "columnstore", 45)

	csvPath := filepath.Join(env.TempDir(), "profile.csv")
	avroPath := filepath.Join(env.TempDir(), "profile.avro")
	for i, path := range []string{csvPath, avroPath} {
		sink, err := OpenProfile(path)
		require.NoError(t, err)
		dst := openTable(t, env, "columnstore", fmt.Sprintf("dst%d", i), table.ModeCreate, testutil.EventSchema())
		_, err = NewTransfer(src, dst, Options{BatchBytes: batchBytes(10), Profile: sink}, testutil.TestLogger(t)).
			Run(env.Context())
		require.NoError(t, err)
		require.NoError(t, sink.Close())
	}

	f, err := os.Open(csvPath)
	require.NoError(t, err)
	defer f.Close()
	lines, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, lines, 6)
	assert.Equal(t, []string{"bytes", "rows", "timestamp"}, lines[0])
	var prevRows, prevTS float64
	for _, l := range lines[1:] {
		rows, _ := strconv.ParseFloat(l[1], 64)
		ts, _ := strconv.ParseFloat(l[2], 64)
		assert.GreaterOrEqual(t, rows, prevRows)
		assert.GreaterOrEqual(t, ts, prevTS)
		prevRows, prevTS = rows, ts
	}
	assert.Equal(t, "45", lines[5][1])
	assert.Equal(t, strconv.Itoa(45*testutil.EventSchema().RowSize()), lines[5][0])

	af, err := os.Open(avroPath)
	require.NoError(t, err)
	defer af.Close()
	ocf, err := goavro.NewOCFReader(af)
	require.NoError(t, err)
	var recs []map[string]interface{}
	for ocf.Scan() {
		v, err := ocf.Read()
		require.NoError(t, err)
		recs = append(recs, v.(map[string]interface{}))
	}
	require.NoError(t, ocf.Err())
	require.Len(t, recs, 5)
	assert.Equal(t, int64(45), recs[4]["rows"])
}
