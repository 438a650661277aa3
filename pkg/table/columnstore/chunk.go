package columnstore

import (
	"context"
	"math"
	"os"

	"github.com/ajitpratap0/tabular/pkg/errors"
	"github.com/ajitpratap0/tabular/pkg/schema"
	"golang.org/x/sync/errgroup"
)

// chunkCache keeps the decoded columns of the most recently read chunk, so
// strided reads that straddle batch boundaries do not decompress twice.
type chunkCache struct {
	id   int64
	cols map[int][]byte
}

func (c *chunkCache) get(id int64, col int) ([]byte, bool) {
	if c.cols == nil || c.id != id {
		return nil, false
	}
	raw, ok := c.cols[col]
	return raw, ok
}

func (c *chunkCache) put(id int64, col int, raw []byte) {
	if c.cols == nil || c.id != id {
		c.id = id
		c.cols = make(map[int][]byte)
	}
	c.cols[col] = raw
}

// zoneMap computes the min and max of a numeric column buffer, skipping NaN.
func zoneMap(f schema.Field, raw []byte, rows int) (min, max *float64) {
	if !f.Type.IsNumeric() {
		return nil, nil
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for i := 0; i < rows; i++ {
		v, _ := f.FloatAt(raw, i)
		if math.IsNaN(v) {
			continue
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if lo > hi {
		return nil, nil
	}
	return &lo, &hi
}

// writeChunk compresses the column buffers of one chunk and writes them to a
// new chunk file. The file is synced before the metadata is returned.
func (t *Table) writeChunk(ctx context.Context, id int64, cols [][]byte, rows int) (chunkMeta, error) {
	segs := make([]segment, len(cols))
	blocks := make([][]byte, len(cols))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(t.workers)
	for i := range cols {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			block, err := t.comp.Compress(cols[i])
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypeBackendIO, "compress segment").
					WithColumn(t.schema.Field(i).Name)
			}
			blocks[i] = block
			segs[i].Min, segs[i].Max = zoneMap(t.schema.Field(i), cols[i], rows)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return chunkMeta{}, err
	}

	var offset int64
	for i, block := range blocks {
		segs[i].Offset = offset
		segs[i].Length = int64(len(block))
		offset += int64(len(block))
	}

	path := chunkPath(t.dir, id)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return chunkMeta{}, errors.BackendIO(err, "create chunk file")
	}
	for _, block := range blocks {
		if _, err := f.Write(block); err != nil {
			f.Close()
			return chunkMeta{}, errors.BackendIO(err, "write chunk file")
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return chunkMeta{}, errors.BackendIO(err, "sync chunk file")
	}
	if err := f.Close(); err != nil {
		return chunkMeta{}, errors.BackendIO(err, "close chunk file")
	}
	return chunkMeta{ID: id, Rows: rows, Segments: segs}, nil
}

// readColumns returns the decoded bytes of the given columns of chunk ci.
// The result is indexed like cols.
func (t *Table) readColumns(ctx context.Context, ci int, cols []int) ([][]byte, error) {
	ch := t.chunks[ci]
	out := make([][]byte, len(cols))
	var missing []int
	for k, c := range cols {
		if raw, ok := t.cache.get(ch.ID, c); ok {
			out[k] = raw
		} else {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	f, err := os.Open(chunkPath(t.dir, ch.ID))
	if err != nil {
		return nil, errors.BackendIO(err, "open chunk file").WithTable(t.Name())
	}
	defer f.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.workers)
	for _, k := range missing {
		k := k
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			field := t.schema.Field(cols[k])
			seg := ch.Segments[cols[k]]
			block := make([]byte, seg.Length)
			if _, err := f.ReadAt(block, seg.Offset); err != nil {
				return errors.BackendIO(err, "read segment").WithTable(t.Name()).WithColumn(field.Name)
			}
			raw, err := t.comp.Decompress(block)
			if err != nil {
				return errors.BackendIO(err, "decompress segment").WithTable(t.Name()).WithColumn(field.Name)
			}
			if len(raw) != ch.Rows*field.Width {
				return errors.Newf(errors.ErrorTypeBackendIO, "segment holds %d bytes, want %d", len(raw), ch.Rows*field.Width).
					WithTable(t.Name()).WithColumn(field.Name)
			}
			out[k] = raw
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, k := range missing {
		t.cache.put(ch.ID, cols[k], out[k])
	}
	return out, nil
}

// prunable reports whether the zone maps of chunk ci rule out every row for
// one of the clauses.
func (t *Table) prunable(ci int, clauses []clauseRef) bool {
	ch := t.chunks[ci]
	for _, c := range clauses {
		seg := ch.Segments[c.col]
		if seg.Min == nil || seg.Max == nil {
			continue
		}
		if !c.MayMatch(*seg.Min, *seg.Max) {
			return true
		}
	}
	return false
}
