// Package pipeline implements the transfer engine: a bounded-memory loop
// that copies rows from a source table to a destination table of any
// backend.
//
// # Overview
//
// Each iteration reads at most rows-per-batch source rows, where
//
//	rows per batch = max(1, BatchBytes / max(source row size, destination row size))
//
// then applies, in this order, the predicate, the projection and Bernoulli
// sampling, and appends what is left to the destination. The source cursor
// advances by the rows consumed, never by the rows kept, so every source row
// in range is visited exactly once.
//
// # Basic Usage
//
//	t := pipeline.NewTransfer(src, dst, pipeline.Options{
//	    Predicate:  "energy > 10 && charge != 0",
//	    Projection: []string{"id", "energy"},
//	    BatchBytes: 32 << 20,
//	}, logger)
//	report, err := t.Run(ctx)
//
// # Failure
//
// Any read or append error aborts the transfer. Appends are all-or-nothing,
// so after a failure the destination holds exactly the batches before
// Report.Cursor and the transfer can be resumed from there.
package pipeline

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync/atomic"

	"github.com/ajitpratap0/tabular/pkg/batch"
	"github.com/ajitpratap0/tabular/pkg/errors"
	"github.com/ajitpratap0/tabular/pkg/index"
	"github.com/ajitpratap0/tabular/pkg/logger"
	"github.com/ajitpratap0/tabular/pkg/observability"
	"github.com/ajitpratap0/tabular/pkg/predicate"
	"github.com/ajitpratap0/tabular/pkg/schema"
	"github.com/ajitpratap0/tabular/pkg/table"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Transfer copies one table into another. A Transfer runs once.
type Transfer struct {
	id     string
	src    table.Table
	dst    table.Table
	opts   Options
	base   *zap.Logger
	logger *zap.Logger

	state   atomic.Int32
	metrics atomic.Pointer[transferMetrics]

	// resolved by prepare
	pred    *predicate.Predicate
	out     *schema.Schema
	span    table.Span
	perIter int64
	sample  *sampler
	indexes *index.Manager
}

// NewTransfer creates an idle transfer. A nil logger uses the global logger.
func NewTransfer(src, dst table.Table, opts Options, l *zap.Logger) *Transfer {
	id := fmt.Sprintf("%016x", rand.Uint64())
	t := &Transfer{
		id:     id,
		src:    src,
		dst:    dst,
		opts:   opts,
		base:   logger.OrGet(l),
		logger: logger.Component(l, "transfer"),
	}
	t.state.Store(int32(StateIdle))
	return t
}

// ID returns the transfer identifier used in logs.
func (t *Transfer) ID() string { return t.id }

// State returns the current state.
func (t *Transfer) State() State { return State(t.state.Load()) }

// Stats returns the progress so far; it is safe to call while Run streams.
func (t *Transfer) Stats() Stats {
	if m := t.metrics.Load(); m != nil {
		return m.stats()
	}
	return Stats{}
}

// RowsPerBatch returns max(1, batchBytes / max(srcRow, dstRow)).
func RowsPerBatch(batchBytes int64, srcRow, dstRow int) int64 {
	w := int64(max(srcRow, dstRow, 1))
	return max(1, batchBytes/w)
}

func (t *Transfer) prepare(ctx context.Context) error {
	o := &t.opts
	if o.BatchBytes <= 0 {
		return errors.New(errors.ErrorTypeValidation, "batch size must be positive").WithDetail("batch_bytes", o.BatchBytes)
	}
	if o.SampleRate == 0 {
		o.SampleRate = 1
	}
	if o.SampleRate < 0 || o.SampleRate > 1 {
		return errors.New(errors.ErrorTypeValidation, "sample rate must be in (0, 1]").WithDetail("sample_rate", o.SampleRate)
	}
	if o.Range == (table.Range{}) {
		o.Range = table.All()
	}
	if o.Range.Step == 0 {
		o.Range.Step = 1
	}
	if err := o.Range.Validate(); err != nil {
		return err
	}

	if o.Predicate != "" {
		p, err := predicate.Parse(o.Predicate)
		if err != nil {
			return err
		}
		if err := p.Bind(t.src.Schema()); err != nil {
			return errors.Wrap(err, errors.ErrorTypeInvalidPredicate, "bind predicate").WithTable(t.src.Name())
		}
		t.pred = p
	}

	t.out = t.src.Schema()
	if len(o.Projection) > 0 {
		s, err := t.src.Schema().Project(o.Projection)
		if err != nil {
			return err
		}
		t.out = s
	}
	if !t.dst.Schema().Equal(t.out) {
		return errors.New(errors.ErrorTypeSchemaMismatch, "destination schema differs from transferred columns").
			WithTable(t.dst.Name()).WithDetail("diff", t.dst.Schema().Diff(t.out))
	}

	rc := t.src.RowCount()
	if !rc.Known() {
		if in, ok := t.src.(table.Inspector); ok {
			var err error
			if rc, err = in.Inspect(ctx); err != nil {
				return err
			}
		}
	}
	rows, known := rc.Value()
	if !known {
		return errors.New(errors.ErrorTypeInternal, "source row count is unknown").WithTable(t.src.Name())
	}
	span, err := table.Resolve(t.src.Name(), rows, o.Range.Start, o.Range.Stop, o.Range.Step)
	if err != nil {
		return err
	}
	t.span = span
	t.perIter = RowsPerBatch(o.BatchBytes, t.src.Schema().RowSize(), t.dst.Schema().RowSize())
	t.sample = newSampler(o.SampleRate, o.Seed)

	if o.Order != nil {
		t.indexes = o.Index
		if t.indexes == nil {
			t.indexes = index.NewManager(t.base)
		}
		ok, err := t.indexes.IsIndexed(t.src, o.Order.Column)
		if err != nil {
			return err
		}
		if !ok {
			if !o.BuildIndex {
				return errors.New(errors.ErrorTypeNotIndexed, "sorted transfer needs an index on the sort column").
					WithTable(t.src.Name()).WithColumn(o.Order.Column)
			}
			if _, err := t.indexes.Build(ctx, t.src, o.Order.Column, true); err != nil {
				return err
			}
		}
	}
	return nil
}

// read returns the source rows of [start, stop) in traversal order with the
// predicate applied.
func (t *Transfer) read(ctx context.Context, start, stop int64) (*batch.Batch, error) {
	step := t.span.Step
	if o := t.opts.Order; o != nil {
		b, err := t.indexes.ReadSorted(ctx, t.src, o.Column, start, stop, step, o.Descending)
		if err != nil || t.pred == nil {
			return b, err
		}
		return t.pred.Filter(b)
	}
	if t.pred != nil {
		return t.src.ReadFiltered(ctx, t.pred, start, stop, step)
	}
	return t.src.Read(ctx, start, stop, step)
}

// Run executes the transfer. The report is returned on failure too; its
// Cursor is the resumption point.
func (t *Transfer) Run(ctx context.Context) (*Report, error) {
	if !t.state.CompareAndSwap(int32(StateIdle), int32(StateStreaming)) {
		return nil, errors.New(errors.ErrorTypeValidation, "transfer already ran").WithDetail("state", t.State().String())
	}

	// the transfer id joins whatever the caller put in ctx, e.g. the command
	ctx = logger.NewContext(ctx, logger.TransferIDKey, t.id)
	t.logger = logger.WithContext(ctx, t.logger)
	attrs := []attribute.KeyValue{
		attribute.String("source", t.src.Name()),
		attribute.String("destination", t.dst.Name()),
	}
	for _, f := range logger.ContextFields(ctx) {
		attrs = append(attrs, attribute.String(f.Key, f.String))
	}
	ctx, span := observability.StartSpan(ctx, "transfer", attrs...)

	tm := newTransferMetrics(t.src.Format(), t.dst.Format(), t.opts.Range.Start, t.logger)
	t.metrics.Store(tm)

	err := t.prepare(ctx)
	if err == nil {
		atomic.StoreInt64(&tm.cursor, t.span.Start)
		t.logger.Info("transfer started",
			zap.String("source", t.src.Name()),
			zap.String("destination", t.dst.Name()),
			zap.String("predicate", t.opts.Predicate),
			zap.Strings("projection", t.opts.Projection),
			zap.Float64("sample_rate", t.opts.SampleRate),
			zap.Stringer("order", t.opts.Order),
			zap.String("range", fmt.Sprintf("%d:%d:%d", t.span.Start, t.span.Stop, t.span.Step)),
			zap.Int64("rows_per_batch", t.perIter))
		err = t.stream(ctx, tm, span)
	}

	state := StateCompleted
	if err != nil {
		state = StateFailed
	}
	t.state.Store(int32(state))
	tm.finish(state)
	span.SetAttribute("state", state.String())
	span.Finish(err)

	report := &Report{ID: t.id, State: state, RowsPerBatch: t.perIter, Stats: tm.stats()}
	fields := []zap.Field{
		zap.Int64("rows_scanned", report.RowsScanned),
		zap.Int64("rows_written", report.RowsWritten),
		zap.Int64("bytes_written", report.BytesWritten),
		zap.Int64("batches", report.Batches),
		zap.Int64("cursor", report.Cursor),
		zap.Duration("elapsed", report.Elapsed),
		zap.Float64("rows_per_sec", report.RowsPerSecond),
	}
	if err != nil {
		t.logger.Error("transfer failed", append(fields, zap.Error(err))...)
		return report, err
	}
	t.logger.Info("transfer completed", fields...)
	return report, nil
}

func (t *Transfer) stream(ctx context.Context, tm *transferMetrics, span *observability.Span) error {
	s := t.span
	total := s.Len()
	for cursor := s.Start; cursor < s.Stop; {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeCanceled, "transfer canceled").
				WithTable(t.src.Name()).WithDetail(errors.DetailStart, cursor)
		}
		end := min(s.Stop, cursor+t.perIter*s.Step)
		consumed := table.RowsIn(cursor, end, s.Step)

		b, err := t.read(ctx, cursor, end)
		if err != nil {
			return err
		}
		if len(t.opts.Projection) > 0 {
			if b, err = b.Project(t.opts.Projection); err != nil {
				return err
			}
		}
		if t.sample.active() && b.NumRows() > 0 {
			if b, err = b.Select(t.sample.keep(b.NumRows())); err != nil {
				return err
			}
		}
		if b.NumRows() > 0 {
			if err := t.dst.Append(ctx, b); err != nil {
				return err
			}
		}

		cursor = end
		tm.recordBatch(consumed, int64(b.NumRows()), b.ByteSize(), cursor)
		st := tm.stats()
		span.AddEvent("batch",
			attribute.Int64("cursor", cursor),
			attribute.Int64("rows_written", int64(b.NumRows())))
		t.logger.Debug("batch transferred",
			zap.Int64("cursor", cursor),
			zap.Int64("rows_scanned", consumed),
			zap.Int("rows_written", b.NumRows()),
			zap.Int64("total_written", st.RowsWritten))
		if t.opts.Profile != nil {
			if err := t.opts.Profile.Record(ProfileRecord{Bytes: st.BytesWritten, Rows: st.RowsWritten, Elapsed: st.Elapsed}); err != nil {
				return err
			}
		}
		if t.opts.OnBatch != nil {
			t.opts.OnBatch(BatchEvent{
				Batch:       st.Batches,
				Cursor:      cursor,
				RowsScanned: st.RowsScanned,
				RowsWritten: st.RowsWritten,
				Bytes:       st.BytesWritten,
				Total:       total,
			})
		}
	}
	return nil
}
