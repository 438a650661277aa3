package pipeline

import (
	"sync/atomic"
	"time"

	"github.com/ajitpratap0/tabular/pkg/metrics"
	"go.uber.org/zap"
)

// transferMetrics collects the counters of one transfer. Counters are
// atomic so Stats may be called from another goroutine while Run is
// streaming.
type transferMetrics struct {
	source      string
	destination string
	logger      *zap.Logger

	rowsScanned  int64
	rowsWritten  int64
	bytesWritten int64
	batches      int64
	cursor       int64

	throughput *metrics.ThroughputTracker
	startTime  time.Time
}

func newTransferMetrics(source, destination string, cursor int64, logger *zap.Logger) *transferMetrics {
	return &transferMetrics{
		source:      source,
		destination: destination,
		logger:      logger,
		cursor:      cursor,
		throughput:  metrics.NewThroughputTracker(source, destination),
		startTime:   time.Now(),
	}
}

// recordBatch accounts one completed batch: scanned source rows, written
// destination rows and bytes, and the source cursor after the batch.
func (tm *transferMetrics) recordBatch(scanned, written, bytes, cursor int64) {
	atomic.AddInt64(&tm.rowsScanned, scanned)
	atomic.AddInt64(&tm.rowsWritten, written)
	atomic.AddInt64(&tm.bytesWritten, bytes)
	atomic.AddInt64(&tm.batches, 1)
	atomic.StoreInt64(&tm.cursor, cursor)
	tm.throughput.Add(written, bytes)

	metrics.RowsTransferred.WithLabelValues(tm.source, tm.destination, "scanned").Add(float64(scanned))
	metrics.RowsTransferred.WithLabelValues(tm.source, tm.destination, "written").Add(float64(written))
	metrics.BytesWritten.WithLabelValues(tm.source, tm.destination).Add(float64(bytes))
	metrics.BatchesProcessed.WithLabelValues(tm.source, tm.destination).Inc()
	metrics.BatchRows.Observe(float64(scanned))
}

// finish records the final state in the process-wide collectors.
func (tm *transferMetrics) finish(state State) {
	metrics.Transfers.WithLabelValues(state.String()).Inc()
	metrics.TransferDuration.Observe(time.Since(tm.startTime).Seconds())
}

// Stats is a snapshot of a transfer's progress.
type Stats struct {
	RowsScanned    int64         `json:"rows_scanned"`
	RowsWritten    int64         `json:"rows_written"`
	BytesWritten   int64         `json:"bytes_written"`
	Batches        int64         `json:"batches"`
	Cursor         int64         `json:"cursor"`
	Elapsed        time.Duration `json:"elapsed"`
	RowsPerSecond  float64       `json:"rows_per_second"`
	BytesPerSecond float64       `json:"bytes_per_second"`
}

// stats returns the cumulative counters; rates are over the whole transfer.
func (tm *transferMetrics) stats() Stats {
	rps, bps := tm.throughput.Rates()
	return Stats{
		RowsScanned:    atomic.LoadInt64(&tm.rowsScanned),
		RowsWritten:    atomic.LoadInt64(&tm.rowsWritten),
		BytesWritten:   atomic.LoadInt64(&tm.bytesWritten),
		Batches:        atomic.LoadInt64(&tm.batches),
		Cursor:         atomic.LoadInt64(&tm.cursor),
		Elapsed:        time.Since(tm.startTime),
		RowsPerSecond:  rps,
		BytesPerSecond: bps,
	}
}
