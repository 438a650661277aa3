package columnstore

import (
	"context"
	"sort"

	"github.com/ajitpratap0/tabular/pkg/batch"
	"github.com/ajitpratap0/tabular/pkg/errors"
	"github.com/ajitpratap0/tabular/pkg/metrics"
	"github.com/ajitpratap0/tabular/pkg/predicate"
	"github.com/ajitpratap0/tabular/pkg/schema"
	"github.com/ajitpratap0/tabular/pkg/table"
	"go.uber.org/zap"
)

// clauseRef is a zone-map clause resolved to a column index.
type clauseRef struct {
	predicate.Clause
	col int
}

// copyStrided copies cnt values of width w, starting at value off and
// taking every step-th one, from raw into dst.
func copyStrided(dst, raw []byte, w int, off, cnt, step int64) {
	if step == 1 {
		copy(dst, raw[int(off)*w:int(off+cnt)*w])
		return
	}
	for k := int64(0); k < cnt; k++ {
		p := int(off + k*step)
		copy(dst[int(k)*w:int(k+1)*w], raw[p*w:(p+1)*w])
	}
}

func (t *Table) allColumns() []int {
	cols := make([]int, t.schema.Len())
	for i := range cols {
		cols[i] = i
	}
	return cols
}

// Read implements table.Table. Only the chunks overlapping the range are
// decompressed.
func (t *Table) Read(ctx context.Context, start, stop, step int64) (*batch.Batch, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, table.ErrClosed(t.Name())
	}
	span, err := table.Resolve(t.Name(), t.rows(), start, stop, step)
	if err != nil {
		return nil, err
	}
	n := span.Len()
	out := make([][]byte, t.schema.Len())
	for i := range out {
		out[i] = make([]byte, int(n)*t.schema.Field(i).Width)
	}
	all := t.allColumns()

	var k int64
	for r := span.Start; k < n; {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeCanceled, "read canceled").WithTable(t.Name())
		}
		ci := t.chunkAt(r)
		end := min(t.starts[ci+1], span.Stop)
		cnt := table.RowsIn(r, end, span.Step)
		cols, err := t.readColumns(ctx, ci, all)
		if err != nil {
			return nil, err
		}
		off := r - t.starts[ci]
		for i, raw := range cols {
			w := t.schema.Field(i).Width
			copyStrided(out[i][int(k)*w:], raw, w, off, cnt, span.Step)
		}
		k += cnt
		r += cnt * span.Step
	}
	return batch.FromColumns(t.schema, out, int(n))
}

// ReadFiltered implements table.Table with pushdown. Chunks whose zone maps
// exclude a conjunct are skipped without being read. In the other chunks only
// the referenced columns are decoded for evaluation; the remaining columns
// are gathered for matching rows only.
func (t *Table) ReadFiltered(ctx context.Context, pred *predicate.Predicate, start, stop, step int64) (*batch.Batch, error) {
	if err := pred.Bind(t.schema); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInvalidPredicate, "bind predicate").WithTable(t.Name())
	}
	if len(pred.Columns()) == 0 {
		// constant expression
		return table.FilterRead(ctx, t, pred, start, stop, step)
	}
	pschema, err := t.schema.Project(pred.Columns())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInvalidPredicate, "bind predicate").WithTable(t.Name())
	}
	pcols := make([]int, pschema.Len())
	for j, name := range pschema.Names() {
		_, pcols[j], _ = t.schema.Lookup(name)
	}
	var clauses []clauseRef
	for _, c := range pred.Clauses() {
		if _, i, ok := t.schema.Lookup(c.Column); ok {
			clauses = append(clauses, clauseRef{Clause: c, col: i})
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, table.ErrClosed(t.Name())
	}
	span, err := table.Resolve(t.Name(), t.rows(), start, stop, step)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, t.schema.Len())
	all := t.allColumns()
	matched, skipped := 0, 0

	for r := span.Start; r < span.Stop; {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeCanceled, "read canceled").WithTable(t.Name())
		}
		ci := t.chunkAt(r)
		end := min(t.starts[ci+1], span.Stop)
		cnt := table.RowsIn(r, end, span.Step)
		off := r - t.starts[ci]
		r += cnt * span.Step

		if t.prunable(ci, clauses) {
			skipped++
			metrics.ChunksSkipped.Inc()
			continue
		}
		metrics.ChunksRead.Inc()
		praw, err := t.readColumns(ctx, ci, pcols)
		if err != nil {
			return nil, err
		}
		pbufs := make([][]byte, len(pcols))
		for j, raw := range praw {
			w := pschema.Field(j).Width
			pbufs[j] = make([]byte, int(cnt)*w)
			copyStrided(pbufs[j], raw, w, off, cnt, span.Step)
		}
		mini, err := batch.FromColumns(pschema, pbufs, int(cnt))
		if err != nil {
			return nil, err
		}
		sel, err := pred.Evaluate(mini)
		if err != nil {
			return nil, err
		}
		if sel.IsEmpty() {
			continue
		}

		positions := make([]int, 0, sel.GetCardinality())
		it := sel.Iterator()
		for it.HasNext() {
			positions = append(positions, int(off+int64(it.Next())*span.Step))
		}
		raws, err := t.readColumns(ctx, ci, all)
		if err != nil {
			return nil, err
		}
		for i, raw := range raws {
			out[i] = append(out[i], t.schema.Field(i).Gather(raw, positions)...)
		}
		matched += len(positions)
	}

	t.logger.Debug("filtered read",
		zap.String("predicate", pred.String()),
		zap.Int("clauses", len(clauses)),
		zap.Int("chunks_skipped", skipped),
		zap.Int("rows_matched", matched))
	return batch.FromColumns(t.schema, out, matched)
}

// Take returns the rows at the given positions, in the order given. Rows are
// fetched chunk by chunk, so each touched chunk is decompressed once.
func (t *Table) Take(ctx context.Context, rows []int64) (*batch.Batch, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, table.ErrClosed(t.Name())
	}
	total := t.rows()
	order := make([]int, len(rows))
	for i, r := range rows {
		if r < 0 || r >= total {
			return nil, errors.New(errors.ErrorTypeOutOfRange, "row outside table").
				WithTable(t.Name()).WithDetail(errors.DetailRows, total).WithDetail("row", r)
		}
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return rows[order[a]] < rows[order[b]] })

	out := make([][]byte, t.schema.Len())
	for i := range out {
		out[i] = make([]byte, len(rows)*t.schema.Field(i).Width)
	}
	all := t.allColumns()
	for k := 0; k < len(order); {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeCanceled, "read canceled").WithTable(t.Name())
		}
		ci := t.chunkAt(rows[order[k]])
		cols, err := t.readColumns(ctx, ci, all)
		if err != nil {
			return nil, err
		}
		base := t.starts[ci]
		for ; k < len(order) && rows[order[k]] < t.starts[ci+1]; k++ {
			dst := order[k]
			p := int(rows[dst] - base)
			for i, raw := range cols {
				w := t.schema.Field(i).Width
				copy(out[i][dst*w:(dst+1)*w], raw[p*w:(p+1)*w])
			}
		}
	}
	return batch.FromColumns(t.schema, out, len(rows))
}

// ScanColumn calls fn with the decoded bytes of one column, chunk by chunk
// in row order. first is the row number of the first value in raw.
func (t *Table) ScanColumn(ctx context.Context, column string, fn func(first int64, raw []byte) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return table.ErrClosed(t.Name())
	}
	_, col, ok := t.schema.Lookup(column)
	if !ok {
		return errors.New(errors.ErrorTypeSchemaMismatch, "unknown column").WithTable(t.Name()).WithColumn(column)
	}
	for ci := range t.chunks {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeCanceled, "scan canceled").WithTable(t.Name())
		}
		cols, err := t.readColumns(ctx, ci, []int{col})
		if err != nil {
			return err
		}
		if err := fn(t.starts[ci], cols[0]); err != nil {
			return err
		}
	}
	return nil
}

// Field returns the schema field of a column.
func (t *Table) Field(column string) (schema.Field, bool) {
	f, _, ok := t.schema.Lookup(column)
	return f, ok
}
