// Package metrics provides performance tracking for Tabular using Prometheus
// metrics. Collectors are package-level and registered on the default
// registry, so any process embedding the engine can expose them with
// promhttp.
//
// # Overview
//
// The metrics package provides:
//   - transfer counters (rows scanned, rows written, bytes, batches)
//   - batch size and transfer duration histograms
//   - chunk pruning counters for filtered column store reads
//   - index build and lookup metrics
//   - a cumulative throughput tracker
//
// # Basic Usage
//
//	tracker := metrics.NewThroughputTracker("columnstore", "columngroup")
//	for each batch {
//	    tracker.Add(rows, bytes)
//	}
//	rowsPerSec, bytesPerSec := tracker.Rates()
//
// Rates are cumulative over the life of the tracker, never per batch, so a
// short batch at the end of a transfer does not produce a misleading spike.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RowsTransferred counts rows moved by transfers.
	// Labels: source, destination (backend formats), stage (scanned/written)
	RowsTransferred = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabular_transfer_rows_total",
			Help: "Rows scanned from sources and written to destinations",
		},
		[]string{"source", "destination", "stage"},
	)

	// BytesWritten counts fixed-width bytes appended to destinations.
	BytesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabular_transfer_bytes_written_total",
			Help: "Bytes appended to destination tables",
		},
		[]string{"source", "destination"},
	)

	// BatchesProcessed counts completed transfer iterations.
	BatchesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabular_transfer_batches_total",
			Help: "Completed transfer batches",
		},
		[]string{"source", "destination"},
	)

	// BatchRows tracks the number of source rows consumed per batch.
	BatchRows = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tabular_transfer_batch_rows",
			Help:    "Source rows consumed per transfer batch",
			Buckets: prometheus.ExponentialBuckets(64, 4, 10),
		},
	)

	// Transfers counts finished transfers by final state.
	Transfers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabular_transfers_total",
			Help: "Finished transfers by final state",
		},
		[]string{"state"},
	)

	// TransferDuration tracks wall time of finished transfers.
	TransferDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tabular_transfer_duration_seconds",
			Help:    "Wall time of finished transfers",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		},
	)

	// Throughput is the cumulative row rate of the running transfer.
	Throughput = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tabular_throughput_rows_per_second",
			Help: "Cumulative rows per second of the current transfer",
		},
		[]string{"source", "destination"},
	)

	// ChunksRead counts column store chunks evaluated by filtered reads.
	ChunksRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tabular_columnstore_chunks_read_total",
			Help: "Chunks decoded by filtered column store reads",
		},
	)

	// ChunksSkipped counts chunks ruled out by zone maps.
	ChunksSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tabular_columnstore_chunks_skipped_total",
			Help: "Chunks skipped by zone map pruning",
		},
	)

	// IndexBuildDuration tracks sort index builds.
	IndexBuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tabular_index_build_duration_seconds",
			Help:    "Time to sort and persist a column index",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		},
	)

	// IndexLookups counts positional lookups through a sort index.
	IndexLookups = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tabular_index_lookups_total",
			Help: "Random positional lookups through sort indexes",
		},
	)
)

// Timer provides a simple timing mechanism for measuring operation durations.
// It captures the start time on creation and calculates elapsed time on stop.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the elapsed duration since creation. It can be called
// multiple times.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// ObserveTo stops the timer and records the elapsed seconds in h.
func (t *Timer) ObserveTo(h prometheus.Observer) time.Duration {
	d := t.Stop()
	h.Observe(d.Seconds())
	return d
}

// ThroughputTracker tracks cumulative rows and bytes since its creation.
// Thread-safe for concurrent use.
type ThroughputTracker struct {
	mu          sync.Mutex
	rows        int64
	bytes       int64
	start       time.Time
	source      string
	destination string
}

// NewThroughputTracker creates a tracker for a transfer between two
// backends; the names label the Throughput gauge.
func NewThroughputTracker(source, destination string) *ThroughputTracker {
	return &ThroughputTracker{
		start:       time.Now(),
		source:      source,
		destination: destination,
	}
}

// Add records rows and bytes moved.
func (t *ThroughputTracker) Add(rows, bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows += rows
	t.bytes += bytes
}

// Elapsed returns the time since the tracker was created.
func (t *ThroughputTracker) Elapsed() time.Duration {
	return time.Since(t.start)
}

// Rates returns cumulative rows and bytes per second and updates the
// Throughput gauge.
func (t *ThroughputTracker) Rates() (rowsPerSec, bytesPerSec float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.start).Seconds()
	if elapsed <= 0 {
		return 0, 0
	}
	rowsPerSec = float64(t.rows) / elapsed
	bytesPerSec = float64(t.bytes) / elapsed
	Throughput.WithLabelValues(t.source, t.destination).Set(rowsPerSec)
	return rowsPerSec, bytesPerSec
}
