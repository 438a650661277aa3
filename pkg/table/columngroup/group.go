// Package columngroup implements the table backend that stores every column
// as an independently resizable array: one raw little-endian file per column
// plus an attribute file carrying the committed row count and an optional
// maximum. There is no chunking or compression; the row count of a group
// without a persisted count is the shortest column.
package columngroup

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/ajitpratap0/tabular/pkg/batch"
	"github.com/ajitpratap0/tabular/pkg/errors"
	"github.com/ajitpratap0/tabular/pkg/logger"
	"github.com/ajitpratap0/tabular/pkg/mmap"
	"github.com/ajitpratap0/tabular/pkg/predicate"
	"github.com/ajitpratap0/tabular/pkg/schema"
	"github.com/ajitpratap0/tabular/pkg/table"
	"go.uber.org/zap"
)

// FormatName is the backend name reported by Format.
const FormatName = "columngroup"

// Options configures opening or creating a group.
type Options struct {
	// Schema is required when the group is created.
	Schema *schema.Schema
	// MaxRows caps the row count of a new group; 0 means unbounded.
	MaxRows int64
	Logger  *zap.Logger
}

// Table is an open column group.
type Table struct {
	loc    table.Locator
	dir    string
	mode   table.Mode
	schema *schema.Schema
	attrs  attrs

	rows  int64
	known bool

	files []*os.File   // write modes
	maps  []*mmap.File // read mode

	closed bool
	mu     sync.Mutex
	logger *zap.Logger
}

// Open opens the group at loc. ModeCreate replaces any existing group,
// ModeAppend creates the group when it does not exist, ModeRead requires it.
func Open(ctx context.Context, loc table.Locator, mode table.Mode, opts Options) (*Table, error) {
	segments := loc.NodeSegments()
	if len(segments) == 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "node path is empty").WithTable(loc.String())
	}
	t := &Table{
		loc:    loc,
		dir:    filepath.Join(append([]string{loc.Path}, segments...)...),
		mode:   mode,
		logger: logger.ForTable(opts.Logger, FormatName, loc.String()),
	}

	_, statErr := os.Stat(filepath.Join(t.dir, attrsFile))
	exists := statErr == nil

	var err error
	switch {
	case mode == table.ModeCreate || (mode == table.ModeAppend && !exists):
		err = t.create(opts)
	case !exists:
		err = errors.New(errors.ErrorTypeBackendIO, "column group does not exist").WithTable(loc.String())
	default:
		err = t.load(ctx, opts)
	}
	if err != nil {
		t.closeFiles()
		return nil, err
	}

	t.logger.Debug("group opened",
		zap.Stringer("mode", mode),
		zap.Stringer("rows", t.rowCount()),
		zap.Int64("max_rows", t.attrs.NRowsMax))
	return t, nil
}

func (t *Table) create(opts Options) error {
	if opts.Schema == nil {
		return errors.New(errors.ErrorTypeValidation, "creating a group requires a schema").WithTable(t.loc.String())
	}
	if opts.MaxRows < 0 {
		return errors.New(errors.ErrorTypeValidation, "maximum row count is negative").WithTable(t.loc.String())
	}
	if err := os.MkdirAll(t.loc.Path, 0o755); err != nil {
		return errors.BackendIO(err, "create container").WithTable(t.loc.String())
	}
	if err := os.WriteFile(filepath.Join(t.loc.Path, MarkerFile), []byte(FormatName+"\n"), 0o644); err != nil {
		return errors.BackendIO(err, "write container marker").WithTable(t.loc.String())
	}
	if err := os.RemoveAll(t.dir); err != nil {
		return errors.BackendIO(err, "remove existing group").WithTable(t.loc.String())
	}
	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return errors.BackendIO(err, "create group directory").WithTable(t.loc.String())
	}

	t.schema = opts.Schema
	zero := int64(0)
	t.attrs = attrs{Columns: opts.Schema.Fields(), NRows: &zero, NRowsMax: opts.MaxRows}
	t.rows, t.known = 0, true
	if err := t.openFiles(os.O_CREATE | os.O_TRUNC | os.O_RDWR); err != nil {
		return err
	}
	if err := writeAttrs(t.dir, t.attrs); err != nil {
		return errors.BackendIO(err, "write attributes").WithTable(t.loc.String())
	}
	return nil
}

func (t *Table) load(ctx context.Context, opts Options) error {
	a, err := readAttrs(t.dir)
	if err != nil {
		return errors.BackendIO(err, "read attributes").WithTable(t.loc.String())
	}
	s, err := schema.New(a.Columns...)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeBackendIO, "attribute schema").WithTable(t.loc.String())
	}
	if opts.Schema != nil && t.mode.Writable() && !s.Equal(opts.Schema) {
		return errors.New(errors.ErrorTypeSchemaMismatch, "existing group has a different schema").
			WithTable(t.loc.String()).WithDetail("diff", s.Diff(opts.Schema))
	}
	t.schema, t.attrs = s, a
	if a.NRows != nil {
		t.rows, t.known = *a.NRows, true
	}

	if t.mode.Writable() {
		return t.openFiles(os.O_CREATE | os.O_RDWR)
	}
	t.maps = make([]*mmap.File, s.Len())
	for i, f := range s.Fields() {
		m, err := mmap.Open(columnPath(t.dir, f.Name))
		if err != nil {
			return errors.BackendIO(err, "map column").WithTable(t.loc.String()).WithColumn(f.Name)
		}
		t.maps[i] = m
	}
	if !t.known {
		// a read-only group is inspected right away
		if _, err := t.inspect(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table) openFiles(flag int) error {
	t.files = make([]*os.File, t.schema.Len())
	for i, f := range t.schema.Fields() {
		fh, err := os.OpenFile(columnPath(t.dir, f.Name), flag, 0o644)
		if err != nil {
			return errors.BackendIO(err, "open column").WithTable(t.loc.String()).WithColumn(f.Name)
		}
		t.files[i] = fh
	}
	return nil
}

func (t *Table) closeFiles() error {
	var firstErr error
	for _, f := range t.files {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, m := range t.maps {
		if m == nil {
			continue
		}
		if err := m.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	t.files, t.maps = nil, nil
	return firstErr
}

func (t *Table) rowCount() table.RowCount {
	if !t.known {
		return table.UnknownRows()
	}
	return table.KnownRows(t.rows)
}

// inspect resolves the row count as the length of the shortest column.
func (t *Table) inspect(ctx context.Context) (table.RowCount, error) {
	if t.known {
		return t.rowCount(), nil
	}
	n := int64(-1)
	for i, f := range t.schema.Fields() {
		if err := ctx.Err(); err != nil {
			return table.UnknownRows(), errors.Wrap(err, errors.ErrorTypeCanceled, "inspect canceled")
		}
		var size int64
		if t.maps != nil {
			size = int64(t.maps[i].Len())
		} else {
			st, err := t.files[i].Stat()
			if err != nil {
				return table.UnknownRows(), errors.BackendIO(err, "stat column").WithTable(t.Name()).WithColumn(f.Name)
			}
			size = st.Size()
		}
		if rows := size / int64(f.Width); n < 0 || rows < n {
			n = rows
		}
	}
	t.rows, t.known = n, true
	t.logger.Debug("row count inferred from column lengths", zap.Int64("rows", n))
	return t.rowCount(), nil
}

// Inspect implements table.Inspector
func (t *Table) Inspect(ctx context.Context) (table.RowCount, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return table.UnknownRows(), table.ErrClosed(t.Name())
	}
	return t.inspect(ctx)
}

// Name implements table.Table
func (t *Table) Name() string { return t.loc.String() }

// Format implements table.Table
func (t *Table) Format() string { return FormatName }

// Schema implements table.Table
func (t *Table) Schema() *schema.Schema { return t.schema }

// Mode implements table.Table
func (t *Table) Mode() table.Mode { return t.mode }

// MaxRows returns the capacity, 0 when unbounded.
func (t *Table) MaxRows() int64 { return t.attrs.NRowsMax }

// RowCount implements table.Table
func (t *Table) RowCount() table.RowCount {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rowCount()
}

// Capabilities implements table.Table
func (t *Table) Capabilities() table.Capabilities {
	return table.Capabilities{
		NativeBulkRead: true,
		FixedCapacity:  t.attrs.NRowsMax > 0,
	}
}

// Read implements table.Table
func (t *Table) Read(ctx context.Context, start, stop, step int64) (*batch.Batch, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, table.ErrClosed(t.Name())
	}
	rc, err := t.inspect(ctx)
	if err != nil {
		return nil, err
	}
	rows, _ := rc.Value()
	span, err := table.Resolve(t.Name(), rows, start, stop, step)
	if err != nil {
		return nil, err
	}
	n := span.Len()
	cols := make([][]byte, t.schema.Len())
	for i := range cols {
		raw, err := t.column(i, span, n)
		if err != nil {
			return nil, err
		}
		cols[i] = raw
	}
	return batch.FromColumns(t.schema, cols, int(n))
}

// column returns the n values of column i selected by span. Only the
// selected rows are copied; the rows between strides are never loaded.
func (t *Table) column(i int, span table.Span, n int64) ([]byte, error) {
	f := t.schema.Field(i)
	if n == 0 {
		return nil, nil
	}
	w := int64(f.Width)
	last := span.Start + (n-1)*span.Step
	out := make([]byte, n*w)

	if t.maps != nil {
		data := t.maps[i].Bytes()
		if int64(len(data)) < (last+1)*w {
			return nil, errors.Newf(errors.ErrorTypeBackendIO, "column holds %d bytes, want %d", len(data), (last+1)*w).
				WithTable(t.Name()).WithColumn(f.Name)
		}
		if span.Step == 1 {
			copy(out, data[span.Start*w:(last+1)*w])
			return out, nil
		}
		for k := int64(0); k < n; k++ {
			off := (span.Start + k*span.Step) * w
			copy(out[k*w:(k+1)*w], data[off:off+w])
		}
		return out, nil
	}

	if span.Step == 1 {
		if _, err := t.files[i].ReadAt(out, span.Start*w); err != nil {
			return nil, errors.BackendIO(err, "read column").WithTable(t.Name()).WithColumn(f.Name)
		}
		return out, nil
	}
	for k := int64(0); k < n; k++ {
		if _, err := t.files[i].ReadAt(out[k*w:(k+1)*w], (span.Start+k*span.Step)*w); err != nil {
			return nil, errors.BackendIO(err, "read column").WithTable(t.Name()).WithColumn(f.Name).
				WithDetail(errors.DetailRows, span.Start+k*span.Step)
		}
	}
	return out, nil
}

// ReadFiltered implements table.Table by filtering after the read.
func (t *Table) ReadFiltered(ctx context.Context, pred *predicate.Predicate, start, stop, step int64) (*batch.Batch, error) {
	return table.FilterRead(ctx, t, pred, start, stop, step)
}

// Append implements table.Table. Column data is written past the committed
// row count and becomes visible when the attribute file is replaced.
func (t *Table) Append(ctx context.Context, b *batch.Batch) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := table.CheckAppend(t.Name(), t.mode, t.closed, t.schema, b); err != nil {
		return err
	}
	if _, err := t.inspect(ctx); err != nil {
		return err
	}
	n := int64(b.NumRows())
	if err := table.CheckCapacity(t.Name(), t.rows, n, t.attrs.NRowsMax); err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	cols, err := b.Columns()
	if err != nil {
		return err
	}

	rollback := func() {
		for i, f := range t.schema.Fields() {
			t.files[i].Truncate(t.rows * int64(f.Width))
		}
	}
	for i, f := range t.schema.Fields() {
		if _, err := t.files[i].WriteAt(cols[i], t.rows*int64(f.Width)); err != nil {
			rollback()
			return errors.BackendIO(err, "write column").WithTable(t.Name()).WithColumn(f.Name)
		}
	}
	for i, f := range t.schema.Fields() {
		if err := t.files[i].Sync(); err != nil {
			rollback()
			return errors.BackendIO(err, "sync column").WithTable(t.Name()).WithColumn(f.Name)
		}
	}
	if err := ctx.Err(); err != nil {
		rollback()
		return errors.Wrap(err, errors.ErrorTypeCanceled, "append canceled").WithTable(t.Name())
	}

	total := t.rows + n
	next := t.attrs
	next.NRows = &total
	if err := writeAttrs(t.dir, next); err != nil {
		rollback()
		return errors.BackendIO(err, "write attributes").WithTable(t.Name())
	}
	t.attrs, t.rows = next, total
	return nil
}

// Close implements table.Table
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if err := t.closeFiles(); err != nil {
		return errors.BackendIO(err, "close columns").WithTable(t.Name())
	}
	return nil
}
