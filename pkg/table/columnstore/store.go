// Package columnstore implements the chunked, compressed table backend.
//
// Rows are stored in chunks of a fixed row count. Each chunk is one file
// holding every column as an independently compressed segment, so a scan
// can decompress only the columns it needs. Appends are committed by a
// single line in an append-only commit log: chunk files are written first
// and become visible only once their commit line is durable, which makes
// every append all-or-nothing. A partial tail chunk is rewritten by the next
// append and replaced in the same commit.
//
// The store supports native strided reads, predicate pushdown (zone-map
// chunk skipping plus late materialization of non-predicate columns) and
// persisted sort indexes, see index.go.
package columnstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/ajitpratap0/tabular/pkg/compression"
	"github.com/ajitpratap0/tabular/pkg/errors"
	"github.com/ajitpratap0/tabular/pkg/json"
	"github.com/ajitpratap0/tabular/pkg/logger"
	"github.com/ajitpratap0/tabular/pkg/schema"
	"github.com/ajitpratap0/tabular/pkg/table"
	"go.uber.org/zap"
)

// FormatName is the backend name reported by Format.
const FormatName = "columnstore"

// DefaultChunkBytes is the uncompressed chunk size used when none is set.
const DefaultChunkBytes = 1 << 20

// Options configures opening or creating a table.
type Options struct {
	// Schema is required when the table is created.
	Schema *schema.Schema
	// Compression applies to new chunks and indexes; level 0 stores raw.
	Compression compression.Config
	// ChunkBytes sets the chunk row count to ChunkBytes / row size.
	ChunkBytes int64
	// Workers bounds parallel segment (de)compression; 0 means GOMAXPROCS.
	Workers int
	Logger  *zap.Logger
}

// Table is an open column store table.
type Table struct {
	loc    table.Locator
	dir    string
	mode   table.Mode
	schema *schema.Schema
	man    manifest
	comp   compression.Compressor

	chunks []chunkMeta
	starts []int64 // first row of each chunk, plus the total at the end
	seq    int64
	nextID int64

	log     *os.File // commit log, open in write modes
	logSize int64
	cache   chunkCache
	workers int

	indexes map[string]*IndexReader

	closed bool
	mu     sync.Mutex
	logger *zap.Logger
}

// Open opens the table at loc. ModeCreate replaces any existing table,
// ModeAppend creates the table when it does not exist, ModeRead requires it.
func Open(ctx context.Context, loc table.Locator, mode table.Mode, opts Options) (*Table, error) {
	segments := loc.NodeSegments()
	if len(segments) == 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "node path is empty").WithTable(loc.String())
	}
	dir := filepath.Join(append([]string{loc.Path}, segments...)...)

	t := &Table{
		loc:     loc,
		dir:     dir,
		mode:    mode,
		workers: opts.Workers,
		indexes: make(map[string]*IndexReader),
		logger:  logger.ForTable(opts.Logger, FormatName, loc.String()),
	}
	if t.workers <= 0 {
		t.workers = runtime.GOMAXPROCS(0)
	}

	_, statErr := os.Stat(filepath.Join(dir, manifestFile))
	exists := statErr == nil

	switch {
	case mode == table.ModeCreate || (mode == table.ModeAppend && !exists):
		if err := t.create(opts); err != nil {
			return nil, err
		}
	case !exists:
		return nil, errors.New(errors.ErrorTypeBackendIO, "table does not exist").WithTable(loc.String())
	default:
		if err := t.load(opts); err != nil {
			return nil, err
		}
	}

	comp, err := compression.NewCompressor(t.man.Compression)
	if err != nil {
		t.closeLog()
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "compression").WithTable(loc.String())
	}
	t.comp = comp

	t.logger.Debug("table opened",
		zap.Stringer("mode", mode),
		zap.Int64("rows", t.rows()),
		zap.Int("chunks", len(t.chunks)),
		zap.Int("chunk_rows", t.man.ChunkRows),
		zap.Stringer("compression", t.man.Compression))
	return t, nil
}

func (t *Table) create(opts Options) error {
	if opts.Schema == nil {
		return errors.New(errors.ErrorTypeValidation, "creating a table requires a schema").WithTable(t.loc.String())
	}
	if err := opts.Compression.Validate(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "compression").WithTable(t.loc.String())
	}
	chunkBytes := opts.ChunkBytes
	if chunkBytes <= 0 {
		chunkBytes = DefaultChunkBytes
	}
	chunkRows := chunkBytes / int64(opts.Schema.RowSize())
	if chunkRows < 1 {
		chunkRows = 1
	}

	if err := os.MkdirAll(t.loc.Path, 0o755); err != nil {
		return errors.BackendIO(err, "create container").WithTable(t.loc.String())
	}
	if err := os.WriteFile(filepath.Join(t.loc.Path, MarkerFile), []byte(FormatName+"\n"), 0o644); err != nil {
		return errors.BackendIO(err, "write container marker").WithTable(t.loc.String())
	}
	if err := os.RemoveAll(t.dir); err != nil {
		return errors.BackendIO(err, "remove existing table").WithTable(t.loc.String())
	}
	for _, d := range []string{t.dir, filepath.Join(t.dir, chunksDir), filepath.Join(t.dir, indexDir)} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return errors.BackendIO(err, "create table directory").WithTable(t.loc.String())
		}
	}

	t.schema = opts.Schema
	t.man = manifest{
		Format:      FormatName,
		Version:     formatVersion,
		Columns:     opts.Schema.Fields(),
		ChunkRows:   int(chunkRows),
		Compression: opts.Compression.Effective(),
		CreatedAt:   time.Now().UTC(),
	}
	if err := json.WriteFileAtomic(filepath.Join(t.dir, manifestFile), t.man); err != nil {
		return errors.BackendIO(err, "write manifest").WithTable(t.loc.String())
	}
	t.starts = []int64{0}
	t.nextID = 1
	return t.openLog(0)
}

func (t *Table) load(opts Options) error {
	if err := json.ReadFile(filepath.Join(t.dir, manifestFile), &t.man); err != nil {
		return errors.BackendIO(err, "read manifest").WithTable(t.loc.String())
	}
	if t.man.Format != FormatName || t.man.Version != formatVersion {
		return errors.Newf(errors.ErrorTypeBackendIO, "unsupported manifest %s v%d", t.man.Format, t.man.Version).
			WithTable(t.loc.String())
	}
	s, err := schema.New(t.man.Columns...)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeBackendIO, "manifest schema").WithTable(t.loc.String())
	}
	if opts.Schema != nil && t.mode.Writable() && !s.Equal(opts.Schema) {
		return errors.New(errors.ErrorTypeSchemaMismatch, "existing table has a different schema").
			WithTable(t.loc.String()).WithDetail("diff", s.Diff(opts.Schema))
	}
	t.schema = s

	commits, valid, err := readCommits(filepath.Join(t.dir, commitsFile))
	if err != nil {
		return errors.BackendIO(err, "read commit log").WithTable(t.loc.String())
	}
	t.nextID = 1
	for _, c := range commits {
		t.apply(c)
	}
	if t.mode.Writable() {
		if err := t.sweepOrphans(); err != nil {
			return err
		}
		return t.openLog(valid)
	}
	return nil
}

// sweepOrphans removes chunk files numbered at or past nextID. They were
// written by an append whose commit never became durable, and the next
// append reuses their IDs.
func (t *Table) sweepOrphans() error {
	entries, err := os.ReadDir(filepath.Join(t.dir, chunksDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.BackendIO(err, "list chunks").WithTable(t.loc.String())
	}
	for _, e := range entries {
		var id int64
		if _, err := fmt.Sscanf(e.Name(), "%08d.chk", &id); err != nil || id < t.nextID {
			continue
		}
		if err := os.Remove(chunkPath(t.dir, id)); err != nil {
			return errors.BackendIO(err, "remove uncommitted chunk").WithTable(t.loc.String())
		}
		t.logger.Warn("removed uncommitted chunk", zap.Int64("chunk", id))
	}
	return nil
}

// apply folds a commit into the in-memory chunk list.
func (t *Table) apply(c commit) {
	if len(c.Drop) > 0 {
		dropped := make(map[int64]bool, len(c.Drop))
		for _, id := range c.Drop {
			dropped[id] = true
		}
		kept := t.chunks[:0]
		for _, ch := range t.chunks {
			if !dropped[ch.ID] {
				kept = append(kept, ch)
			}
		}
		t.chunks = kept
	}
	t.chunks = append(t.chunks, c.Add...)
	for _, ch := range c.Add {
		if ch.ID >= t.nextID {
			t.nextID = ch.ID + 1
		}
	}
	t.seq = c.Seq
	t.starts = make([]int64, len(t.chunks)+1)
	for i, ch := range t.chunks {
		t.starts[i+1] = t.starts[i] + int64(ch.Rows)
	}
}

// openLog opens the commit log for appending, cutting off a torn tail.
func (t *Table) openLog(valid int64) error {
	f, err := os.OpenFile(filepath.Join(t.dir, commitsFile), os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.BackendIO(err, "open commit log").WithTable(t.loc.String())
	}
	if err := f.Truncate(valid); err != nil {
		f.Close()
		return errors.BackendIO(err, "truncate commit log").WithTable(t.loc.String())
	}
	if _, err := f.Seek(valid, 0); err != nil {
		f.Close()
		return errors.BackendIO(err, "seek commit log").WithTable(t.loc.String())
	}
	t.log = f
	t.logSize = valid
	return nil
}

func (t *Table) closeLog() {
	if t.log != nil {
		t.log.Close()
		t.log = nil
	}
}

func (t *Table) rows() int64 {
	return t.starts[len(t.starts)-1]
}

// chunkAt returns the index of the chunk holding row r.
func (t *Table) chunkAt(r int64) int {
	return sort.Search(len(t.chunks), func(i int) bool { return t.starts[i+1] > r })
}

// Name implements table.Table
func (t *Table) Name() string { return t.loc.String() }

// Format implements table.Table
func (t *Table) Format() string { return FormatName }

// Schema implements table.Table
func (t *Table) Schema() *schema.Schema { return t.schema }

// Mode implements table.Table
func (t *Table) Mode() table.Mode { return t.mode }

// RowCount implements table.Table; a column store always knows its count.
func (t *Table) RowCount() table.RowCount {
	t.mu.Lock()
	defer t.mu.Unlock()
	return table.KnownRows(t.rows())
}

// Capabilities implements table.Table
func (t *Table) Capabilities() table.Capabilities {
	return table.Capabilities{
		SupportsPushdown: true,
		NativeBulkRead:   true,
		Indexable:        true,
	}
}

// ChunkRows returns the number of rows per chunk.
func (t *Table) ChunkRows() int { return t.man.ChunkRows }

// Compression returns the codec configuration of the table.
func (t *Table) Compression() compression.Config { return t.man.Compression }

// Close implements table.Table
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	var firstErr error
	if t.log != nil {
		if err := t.log.Sync(); err != nil {
			firstErr = err
		}
		if err := t.log.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		t.log = nil
	}
	for _, ix := range t.indexes {
		ix.close()
	}
	t.indexes = nil
	t.cache = chunkCache{}
	if firstErr != nil {
		return errors.BackendIO(firstErr, "close commit log").WithTable(t.loc.String())
	}
	return nil
}
