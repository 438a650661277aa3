package table

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ajitpratap0/tabular/pkg/batch"
	"github.com/ajitpratap0/tabular/pkg/errors"
	"github.com/ajitpratap0/tabular/pkg/predicate"
	"github.com/ajitpratap0/tabular/pkg/schema"
)

// End is a stop value that selects through the last row.
const End int64 = math.MaxInt64

// Range is a row-range selector. Step defaults to 1 when zero.
type Range struct {
	Start int64
	Stop  int64
	Step  int64
}

// All selects every row.
func All() Range { return Range{Start: 0, Stop: End, Step: 1} }

// ParseRange parses start:stop:step, where every part may be omitted:
// "10:", ":500", "0::2".
func ParseRange(s string) (Range, error) {
	r := All()
	if strings.TrimSpace(s) == "" {
		return r, nil
	}
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return r, errors.New(errors.ErrorTypeValidation, "range must be start:stop:step").WithDetail("range", s)
	}
	fields := []*int64{&r.Start, &r.Stop, &r.Step}
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return r, errors.Wrap(err, errors.ErrorTypeValidation, "range bound is not an integer").WithDetail("range", s)
		}
		*fields[i] = v
	}
	return r, r.Validate()
}

// Validate checks start <= stop, step >= 1 and start >= 0.
func (r Range) Validate() error {
	if r.Step == 0 {
		r.Step = 1
	}
	if r.Start < 0 || r.Stop < r.Start || r.Step < 1 {
		return errors.New(errors.ErrorTypeOutOfRange, "invalid row range").WithRange(r.Start, r.Stop, r.Step)
	}
	return nil
}

func (r Range) String() string {
	stop := ""
	if r.Stop != End {
		stop = strconv.FormatInt(r.Stop, 10)
	}
	return fmt.Sprintf("%d:%s:%d", r.Start, stop, r.Step)
}

// Span is a range resolved against a row count.
type Span struct {
	Start int64
	Stop  int64 // clipped to the row count
	Step  int64
}

// Len is the number of rows selected, ceil((stop-start)/step).
func (s Span) Len() int64 {
	return RowsIn(s.Start, s.Stop, s.Step)
}

// RowsIn is ceil((stop-start)/step), or 0 for an empty range.
func RowsIn(start, stop, step int64) int64 {
	if stop <= start {
		return 0
	}
	return (stop - start + step - 1) / step
}

// Resolve checks a read request against the row count and clips stop.
func Resolve(name string, rows int64, start, stop, step int64) (Span, error) {
	if step < 1 || stop < start {
		return Span{}, errors.New(errors.ErrorTypeOutOfRange, "invalid row range").
			WithTable(name).WithRange(start, stop, step)
	}
	if start < 0 || start > rows {
		return Span{}, errors.New(errors.ErrorTypeOutOfRange, "start outside table").
			WithTable(name).WithRange(start, stop, step).WithDetail(errors.DetailRows, rows)
	}
	if stop > rows {
		stop = rows
	}
	return Span{Start: start, Stop: stop, Step: step}, nil
}

// FilterRead is the post-hoc ReadFiltered path for backends without
// pushdown: a plain Read followed by row-wise evaluation.
func FilterRead(ctx context.Context, t Table, pred *predicate.Predicate, start, stop, step int64) (*batch.Batch, error) {
	if err := pred.Bind(t.Schema()); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInvalidPredicate, "bind predicate").WithTable(t.Name())
	}
	b, err := t.Read(ctx, start, stop, step)
	if err != nil {
		return nil, err
	}
	return pred.Filter(b)
}

// CheckAppend validates an append request against the table state.
func CheckAppend(name string, mode Mode, closed bool, s *schema.Schema, b *batch.Batch) error {
	if closed {
		return ErrClosed(name)
	}
	if !mode.Writable() {
		return errors.New(errors.ErrorTypeReadOnly, "table was opened without write intent").WithTable(name)
	}
	if !s.Equal(b.Schema()) {
		return errors.New(errors.ErrorTypeSchemaMismatch, "batch schema differs from table schema").
			WithTable(name).WithDetail("diff", s.Diff(b.Schema()))
	}
	return nil
}

// ErrClosed is the error returned by operations on a closed table.
func ErrClosed(name string) error {
	return errors.New(errors.ErrorTypeClosed, "table is closed").WithTable(name)
}

// CheckCapacity fails with CapacityExceeded when appending n rows to a table
// of rows rows would pass max. A max of 0 means unbounded.
func CheckCapacity(name string, rows, n, max int64) error {
	if max > 0 && rows+n > max {
		return errors.New(errors.ErrorTypeCapacityExceeded, "append exceeds maximum row count").
			WithTable(name).WithDetail(errors.DetailRows, rows+n).WithDetail(errors.DetailCapacity, max)
	}
	return nil
}
