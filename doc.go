// Package tabular copies rows between columnar table stores with bounded
// memory: at most one batch of rows is resident at any time, whatever the
// size of the tables.
//
// # Architecture
//
// Three local storage backends sit behind a single table contract:
//
//   - columnstore: chunked, compressed columns with zone maps, predicate
//     pushdown and persistent sort indexes
//   - columngroup: one resizable raw file per column and a YAML attribute
//     file holding the row count and optional capacity
//   - branchstore: one key per entry and column in a Badger database, read
//     through an explicit per-entry loop
//
// The transfer engine reads a source in batches sized from a byte budget,
// applies a predicate, a projection and Bernoulli sampling, and appends each
// batch to the destination. Sorted transfers walk a column index of a
// column store source instead of the natural row order.
//
// # Quick Start
//
//	src, _ := registry.Open(ctx, "columnstore", table.Locator{Path: "events.cstore", Node: "/run1"},
//	    table.ModeRead, registry.CreateOptions{})
//	dst, _ := registry.Open(ctx, "columngroup", table.Locator{Path: "events.cgroup", Node: "/run1"},
//	    table.ModeCreate, registry.CreateOptions{Schema: src.Schema()})
//
//	report, err := pipeline.NewTransfer(src, dst, pipeline.Options{
//	    Predicate:  "energy > 10 & charge != 0",
//	    BatchBytes: 32 << 20,
//	}, logger).Run(ctx)
//
// # Key Packages
//
//	pkg/table        - Table contract, ranges, capabilities
//	pkg/table/...    - columnstore, columngroup and branchstore backends
//	pkg/registry     - format names, open modes, specifiers, detection
//	pkg/index        - sort index build, sorted reads, random lookups
//	pkg/predicate    - row filter expressions
//	pkg/batch        - Arrow-backed row batches
//	pkg/config       - YAML and environment configuration
//	pkg/errors       - structured error kinds
//	pkg/logger       - structured logging
//	pkg/metrics      - Prometheus collectors
//	internal/pipeline - the transfer engine
//
// The tabular command in cmd/tabular exposes convert, select, sort, index
// and info subcommands over the same packages.
package tabular
