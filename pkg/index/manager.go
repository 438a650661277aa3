// Package index builds and serves completely sorted indexes (CSI) over one
// column of a columnstore table.
//
// An index is a stable permutation of the table rows ordered by the column:
// equal values keep their original row order. It is persisted with the table
// and records the row count it was built over. Appending to the table makes
// the index stale; stale indexes are reported as missing and must be rebuilt
// by the caller.
package index

import (
	"context"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/ajitpratap0/tabular/pkg/batch"
	"github.com/ajitpratap0/tabular/pkg/errors"
	"github.com/ajitpratap0/tabular/pkg/logger"
	"github.com/ajitpratap0/tabular/pkg/metrics"
	"github.com/ajitpratap0/tabular/pkg/observability"
	"github.com/ajitpratap0/tabular/pkg/table"
	"github.com/ajitpratap0/tabular/pkg/table/columnstore"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Info describes a built index.
type Info struct {
	Table    string
	Column   string
	Rows     int64
	BuiltAt  time.Time
	Duration time.Duration
}

// ProbeResult is the outcome of an index quality probe.
type ProbeResult struct {
	Lookups   int
	Elapsed   time.Duration
	PerSecond float64
}

// Manager builds and reads sort indexes.
type Manager struct {
	logger *zap.Logger
}

// NewManager creates a manager. A nil logger uses the global logger.
func NewManager(l *zap.Logger) *Manager {
	return &Manager{logger: logger.Component(l, "index")}
}

func columnStore(t table.Table) (*columnstore.Table, error) {
	ct, ok := t.(*columnstore.Table)
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeCapability, "sort indexes need a %s table, got %s", columnstore.FormatName, t.Format()).
			WithTable(t.Name())
	}
	return ct, nil
}

func rowsOf(ct *columnstore.Table) int64 {
	n, _ := ct.RowCount().Value()
	return n
}

// Build sorts the table by column and persists the permutation. An existing
// up-to-date index fails with AlreadyIndexed unless force is set; a stale one
// is always rebuilt.
func (m *Manager) Build(ctx context.Context, t table.Table, column string, force bool) (info *Info, err error) {
	ct, err := columnStore(t)
	if err != nil {
		return nil, err
	}
	if !ct.Mode().Writable() {
		return nil, errors.New(errors.ErrorTypeReadOnly, "index build needs a table opened for writing").WithTable(ct.Name())
	}
	f, ok := ct.Field(column)
	if !ok {
		return nil, errors.New(errors.ErrorTypeSchemaMismatch, "unknown column").WithTable(ct.Name()).WithColumn(column)
	}
	if !force {
		indexed, err := m.IsIndexed(ct, column)
		if err != nil {
			return nil, err
		}
		if indexed {
			return nil, errors.New(errors.ErrorTypeAlreadyIndexed, "column is already indexed").
				WithTable(ct.Name()).WithColumn(column)
		}
	}

	ctx = logger.NewContext(ctx, logger.TableKey, ct.Name())
	ctx, span := observability.StartSpan(ctx, "index.build",
		attribute.String("table", ct.Name()),
		attribute.String("column", column))
	defer func() { span.Finish(err) }()
	timer := metrics.NewTimer()

	n := rowsOf(ct)
	raw := make([]byte, 0, n*int64(f.Width))
	err = ct.ScanColumn(ctx, column, func(_ int64, chunk []byte) error {
		raw = append(raw, chunk...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	perm := make([]int64, n)
	for i := range perm {
		perm[i] = int64(i)
	}
	slices.SortStableFunc(perm, comparator(f, raw))
	span.AddEvent("sorted", attribute.Int64("rows", n))

	if err := ct.WriteIndex(ctx, column, perm); err != nil {
		return nil, err
	}
	d := timer.ObserveTo(metrics.IndexBuildDuration)
	logger.WithContext(ctx, m.logger).Info("index built",
		zap.String("column", column),
		zap.Int64("rows", n),
		zap.Duration("duration", d))
	return &Info{Table: ct.Name(), Column: column, Rows: n, BuiltAt: time.Now().UTC(), Duration: d}, nil
}

// IsIndexed reports whether column has an index matching the current row
// count. Tables of other formats are never indexed.
func (m *Manager) IsIndexed(t table.Table, column string) (bool, error) {
	ct, ok := t.(*columnstore.Table)
	if !ok {
		return false, nil
	}
	_, err := m.reader(ct, column)
	if errors.IsType(err, errors.ErrorTypeNotIndexed) {
		return false, nil
	}
	return err == nil, err
}

// Indexed lists the columns with a current index.
func (m *Manager) Indexed(t table.Table) ([]string, error) {
	ct, ok := t.(*columnstore.Table)
	if !ok {
		return nil, nil
	}
	cols, err := ct.Indexes()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, c := range cols {
		ok, err := m.IsIndexed(ct, c)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *Manager) reader(ct *columnstore.Table, column string) (*columnstore.IndexReader, error) {
	ix, err := ct.Index(column)
	if err != nil {
		return nil, err
	}
	if rows := rowsOf(ct); ix.Rows() != rows {
		return nil, errors.New(errors.ErrorTypeNotIndexed, "index is stale").
			WithTable(ct.Name()).WithColumn(column).
			WithDetail(errors.DetailRows, rows).WithDetail("indexed_rows", ix.Rows())
	}
	return ix, nil
}

// ReadSorted returns the rows at sorted positions start, start+step, ...
// below stop. Ascending, rows come in increasing column order with ties in
// row order. Descending positions count from the largest value, and the
// result over the full range is the exact reverse of the ascending one.
func (m *Manager) ReadSorted(ctx context.Context, t table.Table, column string, start, stop, step int64, descending bool) (*batch.Batch, error) {
	ct, err := columnStore(t)
	if err != nil {
		return nil, err
	}
	ix, err := m.reader(ct, column)
	if err != nil {
		return nil, err
	}
	n := rowsOf(ct)
	span, err := table.Resolve(ct.Name(), n, start, stop, step)
	if err != nil {
		return nil, err
	}
	cnt := span.Len()
	if cnt == 0 {
		return batch.Empty(ct.Schema()), nil
	}

	lo, hi := span.Start, span.Stop
	if descending {
		// descending position d is ascending position n-1-d
		lo = n - 1 - span.Start - (cnt-1)*span.Step
		hi = n - span.Start
	}
	rows, err := ix.Positions(lo, hi, span.Step)
	if err != nil {
		return nil, err
	}
	if descending {
		slices.Reverse(rows)
	}
	return ct.Take(ctx, rows)
}

// RandomLookup returns the row at sorted position pos.
func (m *Manager) RandomLookup(ctx context.Context, t table.Table, column string, pos int64) (batch.Row, error) {
	ct, err := columnStore(t)
	if err != nil {
		return nil, err
	}
	ix, err := m.reader(ct, column)
	if err != nil {
		return nil, err
	}
	r, err := ix.At(pos)
	if err != nil {
		return nil, err
	}
	b, err := ct.Take(ctx, []int64{r})
	if err != nil {
		return nil, err
	}
	metrics.IndexLookups.Inc()
	return b.Row(0)
}

// Probe performs count random lookups through the index and reports the
// achieved rate. The positions are drawn from a generator seeded with seed.
func (m *Manager) Probe(ctx context.Context, t table.Table, column string, count int, seed uint64) (*ProbeResult, error) {
	ct, err := columnStore(t)
	if err != nil {
		return nil, err
	}
	if _, err := m.reader(ct, column); err != nil {
		return nil, err
	}
	n := rowsOf(ct)
	if n == 0 || count <= 0 {
		return &ProbeResult{}, nil
	}
	rng := rand.New(rand.NewPCG(seed, seed>>1|1))
	timer := metrics.NewTimer()
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeCanceled, "probe canceled").WithTable(ct.Name())
		}
		if _, err := m.RandomLookup(ctx, ct, column, rng.Int64N(n)); err != nil {
			return nil, err
		}
	}
	res := &ProbeResult{Lookups: count, Elapsed: timer.Stop()}
	if s := res.Elapsed.Seconds(); s > 0 {
		res.PerSecond = float64(count) / s
	}
	m.logger.Info("index probe",
		zap.String("table", ct.Name()),
		zap.String("column", column),
		zap.Int("lookups", count),
		zap.Float64("lookups_per_sec", res.PerSecond))
	return res, nil
}
