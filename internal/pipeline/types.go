package pipeline

import (
	"fmt"

	"github.com/ajitpratap0/tabular/pkg/index"
	"github.com/ajitpratap0/tabular/pkg/table"
)

// State is the lifecycle state of a transfer.
type State int32

const (
	StateIdle State = iota
	StateStreaming
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Order selects sorted traversal of the source through a column index.
// A nil *Order means natural row order.
type Order struct {
	Column     string
	Descending bool
}

func (o *Order) String() string {
	if o == nil {
		return "natural"
	}
	if o.Descending {
		return o.Column + " desc"
	}
	return o.Column + " asc"
}

// BatchEvent describes one completed batch. Counts are cumulative.
type BatchEvent struct {
	Batch       int64
	Cursor      int64
	RowsScanned int64
	RowsWritten int64
	Bytes       int64
	Total       int64 // source rows selected by the range
}

// Options configures a transfer.
type Options struct {
	// Predicate keeps the rows for which the expression holds.
	Predicate string
	// Projection repacks rows to these columns, in this order.
	Projection []string
	// SampleRate keeps each row with this probability; 0 means 1.
	SampleRate float64
	// Seed seeds the sampler; 0 draws a random seed.
	Seed uint64
	// Order traverses the source through a sort index.
	Order *Order
	// BuildIndex builds a missing or stale index instead of failing.
	BuildIndex bool
	// Range restricts the source rows; the zero Range selects all of them.
	// Step applies to sorted positions when Order is set.
	Range table.Range
	// BatchBytes bounds the rows held per iteration.
	BatchBytes int64
	// Profile receives one record per batch.
	Profile ProfileSink
	// OnBatch is called after every batch, on the transfer goroutine.
	OnBatch func(BatchEvent)
	// Index is the index manager used for sorted traversal; nil creates one.
	Index *index.Manager
}

// Report is the outcome of a transfer. On failure Cursor is the first
// source row not transferred: the destination holds exactly the rows of the
// batches before it.
type Report struct {
	ID           string
	State        State
	RowsPerBatch int64
	Stats
}
