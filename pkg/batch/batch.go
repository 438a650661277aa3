// Package batch implements the row batch moved between tables: N rows laid
// out as one Arrow array per column, addressable by column name.
package batch

import (
	"github.com/RoaringBitmap/roaring/v2"
	"github.com/ajitpratap0/tabular/pkg/errors"
	"github.com/ajitpratap0/tabular/pkg/schema"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Batch is an immutable set of rows conforming to a schema.
type Batch struct {
	schema *schema.Schema
	rec    arrow.Record
}

// New wraps a record, checking that its columns match the schema.
func New(s *schema.Schema, rec arrow.Record) (*Batch, error) {
	if int(rec.NumCols()) != s.Len() {
		return nil, errors.Newf(errors.ErrorTypeSchemaMismatch, "record has %d columns, schema %d", rec.NumCols(), s.Len())
	}
	for i := 0; i < s.Len(); i++ {
		f := s.Field(i)
		if rec.ColumnName(i) != f.Name || !arrow.TypeEqual(rec.Column(i).DataType(), f.ArrowType()) {
			return nil, errors.Newf(errors.ErrorTypeSchemaMismatch, "record column %d is %s %s", i, rec.ColumnName(i), rec.Column(i).DataType()).
				WithColumn(f.Name)
		}
	}
	return &Batch{schema: s, rec: rec}, nil
}

// FromColumns decodes fixed-width column bytes into a batch of n rows.
func FromColumns(s *schema.Schema, cols [][]byte, n int) (*Batch, error) {
	if len(cols) != s.Len() {
		return nil, errors.Newf(errors.ErrorTypeSchemaMismatch, "%d column buffers for %d columns", len(cols), s.Len())
	}
	arrs := make([]arrow.Array, len(cols))
	defer func() {
		for _, a := range arrs {
			if a != nil {
				a.Release()
			}
		}
	}()
	for i, raw := range cols {
		f := s.Field(i)
		if len(raw) != n*f.Width {
			return nil, errors.Newf(errors.ErrorTypeBackendIO, "column holds %d bytes, want %d", len(raw), n*f.Width).
				WithColumn(f.Name)
		}
		a, err := f.Decode(memory.DefaultAllocator, raw)
		if err != nil {
			return nil, err
		}
		arrs[i] = a
	}
	return &Batch{schema: s, rec: array.NewRecord(s.Arrow(), arrs, int64(n))}, nil
}

// Empty returns a batch with zero rows.
func Empty(s *schema.Schema) *Batch {
	cols := make([][]byte, s.Len())
	b, _ := FromColumns(s, cols, 0)
	return b
}

// Schema returns the batch schema.
func (b *Batch) Schema() *schema.Schema { return b.schema }

// Record exposes the underlying Arrow record.
func (b *Batch) Record() arrow.Record { return b.rec }

// NumRows returns the row count.
func (b *Batch) NumRows() int { return int(b.rec.NumRows()) }

// ByteSize is the fixed-width size of the rows.
func (b *Batch) ByteSize() int64 { return int64(b.NumRows()) * int64(b.schema.RowSize()) }

// Column returns a column by name.
func (b *Batch) Column(name string) (arrow.Array, error) {
	_, i, ok := b.schema.Lookup(name)
	if !ok {
		return nil, errors.New(errors.ErrorTypeSchemaMismatch, "unknown column").WithColumn(name)
	}
	return b.rec.Column(i), nil
}

// Bytes returns the fixed-width encoding of column i.
func (b *Batch) Bytes(i int) ([]byte, error) {
	return b.schema.Field(i).Encode(b.rec.Column(i))
}

// Columns returns the fixed-width encoding of every column.
func (b *Batch) Columns() ([][]byte, error) {
	out := make([][]byte, b.schema.Len())
	for i := range out {
		raw, err := b.Bytes(i)
		if err != nil {
			return nil, err
		}
		out[i] = raw
	}
	return out, nil
}

// Value returns the widened value of a cell, see schema.Field.Value.
func (b *Batch) Value(column string, row int) (interface{}, error) {
	f, i, ok := b.schema.Lookup(column)
	if !ok {
		return nil, errors.New(errors.ErrorTypeSchemaMismatch, "unknown column").WithColumn(column)
	}
	if row < 0 || row >= b.NumRows() {
		return nil, errors.New(errors.ErrorTypeOutOfRange, "row outside batch").WithDetail(errors.DetailRows, row)
	}
	return f.Value(b.rec.Column(i), row), nil
}

// Row returns one row as a name to value map.
func (b *Batch) Row(row int) (Row, error) {
	if row < 0 || row >= b.NumRows() {
		return nil, errors.New(errors.ErrorTypeOutOfRange, "row outside batch").WithDetail(errors.DetailRows, row)
	}
	r := make(Row, b.schema.Len())
	for i := 0; i < b.schema.Len(); i++ {
		f := b.schema.Field(i)
		r[f.Name] = f.Value(b.rec.Column(i), row)
	}
	return r, nil
}

// Project repacks the batch to the named columns, in that order.
func (b *Batch) Project(names []string) (*Batch, error) {
	ps, err := b.schema.Project(names)
	if err != nil {
		return nil, err
	}
	cols := make([]arrow.Array, len(names))
	for i, n := range names {
		_, j, _ := b.schema.Lookup(n)
		cols[i] = b.rec.Column(j)
	}
	return &Batch{schema: ps, rec: array.NewRecord(ps.Arrow(), cols, b.rec.NumRows())}, nil
}

// Take gathers rows by index, in the order given.
func (b *Batch) Take(rows []int) (*Batch, error) {
	n := b.NumRows()
	cols := make([][]byte, b.schema.Len())
	for i := range cols {
		src, err := b.Bytes(i)
		if err != nil {
			return nil, err
		}
		w := b.schema.Field(i).Width
		dst := make([]byte, len(rows)*w)
		for k, r := range rows {
			if r < 0 || r >= n {
				return nil, errors.New(errors.ErrorTypeOutOfRange, "row outside batch").WithDetail(errors.DetailRows, r)
			}
			copy(dst[k*w:(k+1)*w], src[r*w:(r+1)*w])
		}
		cols[i] = dst
	}
	return FromColumns(b.schema, cols, len(rows))
}

// Select keeps the rows whose indices are in sel, in ascending order.
func (b *Batch) Select(sel *roaring.Bitmap) (*Batch, error) {
	if sel.GetCardinality() == uint64(b.NumRows()) {
		return b, nil
	}
	idx := sel.ToArray()
	rows := make([]int, len(idx))
	for i, v := range idx {
		rows[i] = int(v)
	}
	return b.Take(rows)
}

// Reverse returns the rows in reverse order.
func (b *Batch) Reverse() (*Batch, error) {
	n := b.NumRows()
	rows := make([]int, n)
	for i := range rows {
		rows[i] = n - 1 - i
	}
	return b.Take(rows)
}

// Slice returns rows [i, j) sharing the underlying buffers.
func (b *Batch) Slice(i, j int) *Batch {
	return &Batch{schema: b.schema, rec: b.rec.NewSlice(int64(i), int64(j))}
}

// Release drops the reference on the underlying record.
func (b *Batch) Release() {
	if b != nil && b.rec != nil {
		b.rec.Release()
	}
}

// Row is a single row keyed by column name.
type Row map[string]interface{}
