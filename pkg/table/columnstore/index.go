package columnstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ajitpratap0/tabular/pkg/compression"
	"github.com/ajitpratap0/tabular/pkg/errors"
	"github.com/ajitpratap0/tabular/pkg/json"
	"github.com/ajitpratap0/tabular/pkg/table"
	"go.uber.org/zap"
)

// IndexBlockRows is the number of permutation entries per index block.
const IndexBlockRows = 1 << 16

type indexBlock struct {
	Offset int64 `json:"offset"`
	Length int64 `json:"length"`
}

// indexMeta describes a persisted sort index. Rows is the table row count
// when the index was built; a different count means the index is stale.
type indexMeta struct {
	Column      string             `json:"column"`
	Rows        int64              `json:"rows"`
	BlockRows   int                `json:"block_rows"`
	Compression compression.Config `json:"compression"`
	File        string             `json:"file"`
	Blocks      []indexBlock       `json:"blocks"`
	BuiltAt     time.Time          `json:"built_at"`
}

func (t *Table) indexMetaPath(column string) string {
	return filepath.Join(t.dir, indexDir, url.PathEscape(column)+".json")
}

func (t *Table) readIndexMeta(column string) (indexMeta, bool, error) {
	var m indexMeta
	err := json.ReadFile(t.indexMetaPath(column), &m)
	if errors.Is(err, os.ErrNotExist) {
		return m, false, nil
	}
	if err != nil {
		return m, false, errors.BackendIO(err, "read index descriptor").WithTable(t.Name()).WithColumn(column)
	}
	return m, true, nil
}

// WriteIndex persists perm as the sort index of column: perm[i] is the row
// holding the i-th smallest value. A previous index of the column is
// replaced once the new one is complete.
func (t *Table) WriteIndex(ctx context.Context, column string, perm []int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return table.ErrClosed(t.Name())
	}
	if !t.mode.Writable() {
		return errors.New(errors.ErrorTypeReadOnly, "table was opened without write intent").WithTable(t.Name())
	}
	if _, _, ok := t.schema.Lookup(column); !ok {
		return errors.New(errors.ErrorTypeSchemaMismatch, "unknown column").WithTable(t.Name()).WithColumn(column)
	}
	if int64(len(perm)) != t.rows() {
		return errors.Newf(errors.ErrorTypeInternal, "permutation has %d entries for %d rows", len(perm), t.rows()).
			WithTable(t.Name()).WithColumn(column)
	}

	old, hadOld, err := t.readIndexMeta(column)
	if err != nil {
		return err
	}
	gen := 1
	if hadOld {
		fmt.Sscanf(strings.TrimPrefix(old.File, url.PathEscape(column)+"."), "%d.idx", &gen)
		gen++
	}
	name := fmt.Sprintf("%s.%d.idx", url.PathEscape(column), gen)
	path := filepath.Join(t.dir, indexDir, name)

	meta := indexMeta{
		Column:      column,
		Rows:        int64(len(perm)),
		BlockRows:   IndexBlockRows,
		Compression: t.man.Compression,
		File:        name,
		BuiltAt:     time.Now().UTC(),
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.BackendIO(err, "create index file").WithTable(t.Name())
	}
	fail := func(err error, msg string) error {
		f.Close()
		os.Remove(path)
		return errors.BackendIO(err, msg).WithTable(t.Name()).WithColumn(column)
	}
	raw := make([]byte, 0, IndexBlockRows*8)
	var offset int64
	for first := 0; first < len(perm); first += IndexBlockRows {
		if err := ctx.Err(); err != nil {
			return fail(err, "index write canceled")
		}
		raw = raw[:0]
		for _, p := range perm[first:min(first+IndexBlockRows, len(perm))] {
			raw = binary.LittleEndian.AppendUint64(raw, uint64(p))
		}
		block, err := t.comp.Compress(raw)
		if err != nil {
			return fail(err, "compress index block")
		}
		if _, err := f.Write(block); err != nil {
			return fail(err, "write index block")
		}
		meta.Blocks = append(meta.Blocks, indexBlock{Offset: offset, Length: int64(len(block))})
		offset += int64(len(block))
	}
	if err := f.Sync(); err != nil {
		return fail(err, "sync index file")
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return errors.BackendIO(err, "close index file").WithTable(t.Name())
	}
	if err := json.WriteFileAtomic(t.indexMetaPath(column), meta); err != nil {
		os.Remove(path)
		return errors.BackendIO(err, "write index descriptor").WithTable(t.Name())
	}

	if ix, ok := t.indexes[column]; ok {
		ix.close()
		delete(t.indexes, column)
	}
	if hadOld && old.File != name {
		os.Remove(filepath.Join(t.dir, indexDir, old.File))
	}
	t.logger.Info("index written",
		zap.String("column", column),
		zap.Int("rows", len(perm)),
		zap.Int("blocks", len(meta.Blocks)),
		zap.Int64("bytes", offset))
	return nil
}

// HasIndex reports whether a persisted index of column exists, stale or not.
func (t *Table) HasIndex(column string) (bool, error) {
	_, ok, err := t.readIndexMeta(column)
	return ok, err
}

// Indexes lists the columns with a persisted index.
func (t *Table) Indexes() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(t.dir, indexDir))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.BackendIO(err, "list indexes").WithTable(t.Name())
	}
	var out []string
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".json")
		if !ok || e.IsDir() {
			continue
		}
		if col, err := url.PathUnescape(name); err == nil {
			out = append(out, col)
		}
	}
	return out, nil
}

// Index opens the persisted index of column. It fails with NotIndexed when
// there is none. The reader stays valid until the table is closed or the
// index is rebuilt, by this handle or another one.
func (t *Table) Index(column string) (*IndexReader, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, table.ErrClosed(t.Name())
	}
	meta, ok, err := t.readIndexMeta(column)
	if err != nil {
		return nil, err
	}
	cached, hasCached := t.indexes[column]
	if hasCached && ok && cached.meta.File == meta.File {
		return cached, nil
	}
	if hasCached {
		cached.close()
		delete(t.indexes, column)
	}
	if !ok {
		return nil, errors.New(errors.ErrorTypeNotIndexed, "column has no index").WithTable(t.Name()).WithColumn(column)
	}
	comp, err := compression.NewCompressor(meta.Compression)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeBackendIO, "index compression").WithTable(t.Name())
	}
	f, err := os.Open(filepath.Join(t.dir, indexDir, meta.File))
	if err != nil {
		return nil, errors.BackendIO(err, "open index file").WithTable(t.Name()).WithColumn(column)
	}
	ix := &IndexReader{meta: meta, f: f, comp: comp, cached: -1, name: t.Name()}
	t.indexes[column] = ix
	return ix, nil
}

// IndexReader reads a persisted permutation block by block. It is safe for
// concurrent use.
type IndexReader struct {
	mu     sync.Mutex
	meta   indexMeta
	f      *os.File
	comp   compression.Compressor
	name   string
	cached int
	block  []byte
}

// Column returns the indexed column.
func (ix *IndexReader) Column() string { return ix.meta.Column }

// Rows returns the table row count the index was built for.
func (ix *IndexReader) Rows() int64 { return ix.meta.Rows }

// BuiltAt returns the build time.
func (ix *IndexReader) BuiltAt() time.Time { return ix.meta.BuiltAt }

func (ix *IndexReader) load(b int) error {
	if b == ix.cached {
		return nil
	}
	blk := ix.meta.Blocks[b]
	buf := make([]byte, blk.Length)
	if _, err := ix.f.ReadAt(buf, blk.Offset); err != nil {
		return errors.BackendIO(err, "read index block").WithTable(ix.name).WithColumn(ix.meta.Column)
	}
	raw, err := ix.comp.Decompress(buf)
	if err != nil {
		return errors.BackendIO(err, "decompress index block").WithTable(ix.name).WithColumn(ix.meta.Column)
	}
	ix.block, ix.cached = raw, b
	return nil
}

// At returns the row holding the pos-th smallest value.
func (ix *IndexReader) At(pos int64) (int64, error) {
	if pos < 0 || pos >= ix.meta.Rows {
		return 0, errors.New(errors.ErrorTypeOutOfRange, "index position outside table").
			WithTable(ix.name).WithDetail(errors.DetailRows, ix.meta.Rows).WithDetail("position", pos)
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.f == nil {
		return 0, errors.New(errors.ErrorTypeClosed, "index reader is closed").WithTable(ix.name)
	}
	br := int64(ix.meta.BlockRows)
	if err := ix.load(int(pos / br)); err != nil {
		return 0, err
	}
	k := int(pos % br)
	return int64(binary.LittleEndian.Uint64(ix.block[k*8:])), nil
}

// Positions returns the rows at sorted positions start, start+step, ...
// below stop. stop must already be clipped to Rows.
func (ix *IndexReader) Positions(start, stop, step int64) ([]int64, error) {
	out := make([]int64, 0, table.RowsIn(start, stop, step))
	for p := start; p < stop; p += step {
		r, err := ix.At(p)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (ix *IndexReader) close() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.f != nil {
		ix.f.Close()
		ix.f = nil
	}
	ix.block = nil
}
