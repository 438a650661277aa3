// Package table defines the contract shared by the three storage backends.
//
// # Backends
//
//   - columnstore: chunked, optionally compressed, native strided reads,
//     predicate pushdown and sort indexes.
//   - columngroup: one resizable array per column and a persisted row count.
//   - branchstore: one per-entry accessor per column; bulk reads are
//     synthesized entry by entry.
//
// Callers that care about throughput inspect Capabilities before picking a
// code path instead of relying on a backend to degrade silently.
//
// # Ranges
//
// Read(start, stop, step) returns the rows start, start+step, ... below
// min(stop, row count), exactly ceil((stop-start)/step) of them once stop is
// clipped. start outside [0, row count] fails with OutOfRange.
package table

import (
	"context"
	"fmt"
	"strings"

	"github.com/ajitpratap0/tabular/pkg/batch"
	"github.com/ajitpratap0/tabular/pkg/predicate"
	"github.com/ajitpratap0/tabular/pkg/schema"
)

// Table is an open handle on one table of a backend. A handle is used by one
// goroutine at a time.
type Table interface {
	// Name identifies the table as path:node.
	Name() string
	// Format names the backend kind.
	Format() string
	// Schema never fails once the table is open.
	Schema() *schema.Schema
	// RowCount is unknown only for an append-opened table without a
	// persisted count that has not been inspected yet.
	RowCount() RowCount
	// Capabilities reports the native access paths of the backend.
	Capabilities() Capabilities
	// Mode reports the open mode.
	Mode() Mode
	// Read returns the rows start, start+step, ... below min(stop, rows).
	Read(ctx context.Context, start, stop, step int64) (*batch.Batch, error)
	// ReadFiltered is Read followed by predicate evaluation, in row order.
	ReadFiltered(ctx context.Context, pred *predicate.Predicate, start, stop, step int64) (*batch.Batch, error)
	// Append adds all rows of b or none of them.
	Append(ctx context.Context, b *batch.Batch) error
	// Close releases the backend handle; it is idempotent.
	Close() error
}

// Inspector is implemented by tables whose row count can start out unknown.
// Inspect resolves the count from the stored data.
type Inspector interface {
	Inspect(ctx context.Context) (RowCount, error)
}

// Capabilities describes which access paths are native to a backend.
type Capabilities struct {
	// SupportsPushdown means ReadFiltered evaluates the predicate during the
	// scan instead of after materializing every row.
	SupportsPushdown bool
	// NativeBulkRead means Read is a strided bulk read rather than a loop of
	// single-entry accesses.
	NativeBulkRead bool
	// FixedCapacity means the table has a maximum row count.
	FixedCapacity bool
	// Indexable means the table can carry sort indexes.
	Indexable bool
}

// Mode is the intent a table was opened with.
type Mode int

const (
	// ModeRead opens an existing table read-only.
	ModeRead Mode = iota
	// ModeCreate destroys any existing table and creates it anew.
	ModeCreate
	// ModeAppend opens an existing table for appending, creating it if absent.
	ModeAppend
)

// Writable reports whether Append is allowed.
func (m Mode) Writable() bool { return m != ModeRead }

func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeCreate:
		return "create"
	case ModeAppend:
		return "append"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// RowCount is a row count that may not be known yet.
type RowCount struct {
	n     int64
	known bool
}

// KnownRows returns a known count.
func KnownRows(n int64) RowCount { return RowCount{n: n, known: true} }

// UnknownRows returns the unknown count.
func UnknownRows() RowCount { return RowCount{} }

// Known reports whether the count is known.
func (c RowCount) Known() bool { return c.known }

// Value returns the count and whether it is known.
func (c RowCount) Value() (int64, bool) { return c.n, c.known }

func (c RowCount) String() string {
	if !c.known {
		return "unknown"
	}
	return fmt.Sprintf("%d", c.n)
}

// Locator identifies a table: a container path and a node path inside it.
type Locator struct {
	Path string
	Node string
}

// String renders the locator as path:node.
func (l Locator) String() string { return l.Path + ":" + l.Node }

// NodeSegments splits the node path into its non-empty segments.
func (l Locator) NodeSegments() []string {
	var out []string
	for _, s := range strings.Split(l.Node, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
