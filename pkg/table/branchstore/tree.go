// Package branchstore implements the table backend with one per-entry
// accessor per column. A container is a Badger database; each node path
// names a tree whose branches hold one key per entry. There is no bulk
// access: Read is a loop of positional GetEntry calls.
package branchstore

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"

	"github.com/ajitpratap0/tabular/pkg/batch"
	"github.com/ajitpratap0/tabular/pkg/errors"
	"github.com/ajitpratap0/tabular/pkg/json"
	"github.com/ajitpratap0/tabular/pkg/logger"
	"github.com/ajitpratap0/tabular/pkg/predicate"
	"github.com/ajitpratap0/tabular/pkg/schema"
	"github.com/ajitpratap0/tabular/pkg/table"
	"github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"
)

// FormatName is the backend name reported by Format.
const FormatName = "branchstore"

// Options configures opening or creating a tree.
type Options struct {
	// Schema is required when the tree is created.
	Schema *schema.Schema
	// MaxRows caps the entry count of a new tree; 0 means unbounded.
	MaxRows int64
	Logger  *zap.Logger
}

type branchMeta struct {
	Name  string `json:"name"`
	Code  string `json:"code"`
	Width int    `json:"width"`
}

type treeMeta struct {
	Branches   []branchMeta `json:"branches"`
	Entries    *int64       `json:"entries,omitempty"`
	MaxEntries int64        `json:"max_entries,omitempty"`
}

func metaFor(s *schema.Schema, maxRows int64) (treeMeta, error) {
	m := treeMeta{MaxEntries: maxRows}
	for _, f := range s.Fields() {
		code, err := schema.BranchCode(f.Type)
		if err != nil {
			return m, err
		}
		m.Branches = append(m.Branches, branchMeta{Name: f.Name, Code: code, Width: f.Width})
	}
	return m, nil
}

func (m treeMeta) schema() (*schema.Schema, error) {
	fields := make([]schema.Field, len(m.Branches))
	for i, b := range m.Branches {
		t, err := schema.TypeFromBranchCode(b.Code)
		if err != nil {
			return nil, err
		}
		if t == schema.String {
			fields[i] = schema.StringField(b.Name, b.Width)
		} else {
			fields[i] = schema.NewField(b.Name, t)
		}
	}
	return schema.New(fields...)
}

// Table is an open tree.
type Table struct {
	loc      table.Locator
	mode     table.Mode
	db       *sharedDB
	keys     keyspace
	branches [][]byte
	schema   *schema.Schema
	meta     treeMeta

	entries int64
	known   bool

	closed bool
	mu     sync.Mutex
	logger *zap.Logger
}

// Open opens the tree named by loc.Node in the database at loc.Path.
// ModeCreate replaces any existing tree, ModeAppend creates the tree when it
// does not exist, ModeRead requires it.
func Open(ctx context.Context, loc table.Locator, mode table.Mode, opts Options) (*Table, error) {
	segments := loc.NodeSegments()
	if len(segments) == 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "node path is empty").WithTable(loc.String())
	}
	tree := strings.Join(segments, "/")
	log := logger.ForTable(opts.Logger, FormatName, loc.String())

	db, err := acquire(loc.Path, log)
	if err != nil {
		return nil, errors.BackendIO(err, "open database").WithTable(loc.String())
	}
	t := &Table{loc: loc, mode: mode, db: db, keys: newKeyspace(tree), logger: log}

	raw, exists, err := t.get(t.keys.meta())
	if err == nil {
		switch {
		case mode == table.ModeCreate || (mode == table.ModeAppend && !exists):
			err = t.create(opts)
		case !exists:
			err = errors.New(errors.ErrorTypeBackendIO, "tree does not exist").WithTable(loc.String())
		default:
			err = t.load(ctx, raw, opts)
		}
	}
	if err != nil {
		db.release()
		return nil, err
	}

	t.logger.Debug("tree opened", zap.Stringer("mode", mode), zap.Stringer("entries", t.rowCount()))
	return t, nil
}

func (t *Table) get(key []byte) ([]byte, bool, error) {
	var out []byte
	err := t.db.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.BackendIO(err, "get key").WithTable(t.loc.String())
	}
	return out, true, nil
}

func (t *Table) putMeta(m treeMeta) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "encode tree metadata").WithTable(t.loc.String())
	}
	err = t.db.db.Update(func(txn *badger.Txn) error {
		return txn.Set(t.keys.meta(), raw)
	})
	if err != nil {
		return errors.BackendIO(err, "write tree metadata").WithTable(t.loc.String())
	}
	return nil
}

func (t *Table) bind(s *schema.Schema, m treeMeta) {
	t.schema, t.meta = s, m
	t.branches = make([][]byte, s.Len())
	for i, f := range s.Fields() {
		t.branches[i] = t.keys.branch(f.Name)
	}
}

func (t *Table) create(opts Options) error {
	if opts.Schema == nil {
		return errors.New(errors.ErrorTypeValidation, "creating a tree requires a schema").WithTable(t.loc.String())
	}
	m, err := metaFor(opts.Schema, opts.MaxRows)
	if err != nil {
		return err
	}
	if err := t.db.db.DropPrefix(t.keys.prefix); err != nil {
		return errors.BackendIO(err, "drop existing tree").WithTable(t.loc.String())
	}
	zero := int64(0)
	m.Entries = &zero
	if err := t.putMeta(m); err != nil {
		return err
	}
	t.bind(opts.Schema, m)
	t.entries, t.known = 0, true
	return nil
}

func (t *Table) load(ctx context.Context, raw []byte, opts Options) error {
	var m treeMeta
	if err := json.Unmarshal(raw, &m); err != nil {
		return errors.Wrap(err, errors.ErrorTypeBackendIO, "decode tree metadata").WithTable(t.loc.String())
	}
	s, err := m.schema()
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeBackendIO, "tree schema").WithTable(t.loc.String())
	}
	if opts.Schema != nil && t.mode.Writable() && !s.Equal(opts.Schema) {
		return errors.New(errors.ErrorTypeSchemaMismatch, "existing tree has a different schema").
			WithTable(t.loc.String()).WithDetail("diff", s.Diff(opts.Schema))
	}
	t.bind(s, m)
	if m.Entries != nil {
		t.entries, t.known = *m.Entries, true
	} else if !t.mode.Writable() {
		_, err = t.inspect(ctx)
	}
	return err
}

func (t *Table) rowCount() table.RowCount {
	if !t.known {
		return table.UnknownRows()
	}
	return table.KnownRows(t.entries)
}

// inspect counts the entries of every branch; the shortest branch wins.
func (t *Table) inspect(ctx context.Context) (table.RowCount, error) {
	if t.known {
		return t.rowCount(), nil
	}
	n := int64(-1)
	err := t.db.db.View(func(txn *badger.Txn) error {
		for _, prefix := range t.branches {
			if err := ctx.Err(); err != nil {
				return err
			}
			opt := badger.DefaultIteratorOptions
			opt.Prefix = prefix
			opt.PrefetchValues = false
			it := txn.NewIterator(opt)
			var count int64
			for it.Rewind(); it.Valid(); it.Next() {
				count++
			}
			it.Close()
			if n < 0 || count < n {
				n = count
			}
		}
		return nil
	})
	if err != nil {
		return table.UnknownRows(), errors.BackendIO(err, "count entries").WithTable(t.Name())
	}
	t.entries, t.known = n, true
	t.logger.Debug("entry count inferred from branches", zap.Int64("entries", n))
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

// RowCount implements table.Table
func (t *Table) RowCount() table.RowCount {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rowCount()
}

// Capabilities implements table.Table
func (t *Table) Capabilities() table.Capabilities {
	return table.Capabilities{FixedCapacity: t.meta.MaxEntries > 0}
}

// GetEntry returns the encoded value of one entry of a branch.
func (t *Table) GetEntry(branch int, entry int64) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, table.ErrClosed(t.Name())
	}
	var out []byte
	err := t.db.db.View(func(txn *badger.Txn) error {
		var err error
		out, err = t.getEntry(txn, branch, entry)
		return err
	})
	return out, err
}

func (t *Table) getEntry(txn *badger.Txn, branch int, entry int64) ([]byte, error) {
	f := t.schema.Field(branch)
	item, err := txn.Get(entryKey(t.branches[branch], entry))
	if err != nil {
		return nil, errors.BackendIO(err, "get entry").WithTable(t.Name()).
			WithColumn(f.Name).WithDetail("entry", entry)
	}
	v, err := item.ValueCopy(nil)
	if err != nil {
		return nil, errors.BackendIO(err, "copy entry").WithTable(t.Name()).WithColumn(f.Name)
	}
	if len(v) != f.Width {
		return nil, errors.Newf(errors.ErrorTypeBackendIO, "entry holds %d bytes, want %d", len(v), f.Width).
			WithTable(t.Name()).WithColumn(f.Name).WithDetail("entry", entry)
	}
	return v, nil
}

// Read implements table.Table with one GetEntry per branch and entry.
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
		cols[i] = make([]byte, 0, int(n)*t.schema.Field(i).Width)
	}
	err = t.db.db.View(func(txn *badger.Txn) error {
		for e := span.Start; e < span.Stop; e += span.Step {
			if err := ctx.Err(); err != nil {
				return errors.Wrap(err, errors.ErrorTypeCanceled, "read canceled").WithTable(t.Name())
			}
			for i := range cols {
				v, err := t.getEntry(txn, i, e)
				if err != nil {
					return err
				}
				cols[i] = append(cols[i], v...)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return batch.FromColumns(t.schema, cols, int(n))
}

// ReadFiltered implements table.Table by filtering after the read.
func (t *Table) ReadFiltered(ctx context.Context, pred *predicate.Predicate, start, stop, step int64) (*batch.Batch, error) {
	return table.FilterRead(ctx, t, pred, start, stop, step)
}

// Append implements table.Table. Entries are written past the committed
// count and become visible when the metadata is updated.
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
	if err := table.CheckCapacity(t.Name(), t.entries, n, t.meta.MaxEntries); err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	cols, err := b.Columns()
	if err != nil {
		return err
	}

	wb := t.db.db.NewWriteBatch()
	defer wb.Cancel()
	for i, raw := range cols {
		w := t.schema.Field(i).Width
		for k := int64(0); k < n; k++ {
			if err := wb.Set(entryKey(t.branches[i], t.entries+k), raw[int(k)*w:int(k+1)*w]); err != nil {
				return errors.BackendIO(err, "stage entry").WithTable(t.Name())
			}
		}
	}
	if err := wb.Flush(); err != nil {
		return errors.BackendIO(err, "write entries").WithTable(t.Name())
	}
	if err := ctx.Err(); err != nil {
		t.discard(t.entries, n)
		return errors.Wrap(err, errors.ErrorTypeCanceled, "append canceled").WithTable(t.Name())
	}

	total := t.entries + n
	next := t.meta
	next.Entries = &total
	if err := t.putMeta(next); err != nil {
		t.discard(t.entries, n)
		return err
	}
	t.meta, t.entries = next, total
	return nil
}

// discard removes entries written by a failed append. Entries past the
// committed count are invisible either way; removing them keeps an inferred
// count correct for trees without one.
func (t *Table) discard(first, n int64) {
	wb := t.db.db.NewWriteBatch()
	defer wb.Cancel()
	for _, prefix := range t.branches {
		for k := int64(0); k < n; k++ {
			if err := wb.Delete(entryKey(prefix, first+k)); err != nil {
				return
			}
		}
	}
	if err := wb.Flush(); err != nil {
		t.logger.Warn("failed to discard uncommitted entries", zap.Error(err))
	}
}

// Close implements table.Table
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if err := t.db.release(); err != nil {
		return errors.BackendIO(err, "close database").WithTable(t.Name())
	}
	return nil
}
