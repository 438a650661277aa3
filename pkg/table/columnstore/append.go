package columnstore

import (
	"context"
	"os"

	"github.com/ajitpratap0/tabular/pkg/batch"
	"github.com/ajitpratap0/tabular/pkg/errors"
	"github.com/ajitpratap0/tabular/pkg/json"
	"github.com/ajitpratap0/tabular/pkg/table"
	"go.uber.org/zap"
)

// Append implements table.Table. New chunk files are written and synced
// before the commit line that references them; if anything fails before the
// commit line is durable, the new files are removed and the table is
// unchanged.
func (t *Table) Append(ctx context.Context, b *batch.Batch) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := table.CheckAppend(t.Name(), t.mode, t.closed, t.schema, b); err != nil {
		return err
	}
	n := b.NumRows()
	if n == 0 {
		return nil
	}
	cols, err := b.Columns()
	if err != nil {
		return err
	}

	var drop []int64
	if last := len(t.chunks) - 1; last >= 0 && t.chunks[last].Rows < t.man.ChunkRows {
		tail, err := t.readColumns(ctx, last, t.allColumns())
		if err != nil {
			return err
		}
		for i := range cols {
			merged := make([]byte, 0, len(tail[i])+len(cols[i]))
			cols[i] = append(append(merged, tail[i]...), cols[i]...)
		}
		n += t.chunks[last].Rows
		drop = append(drop, t.chunks[last].ID)
	}

	var added []chunkMeta
	cleanup := func() {
		for _, ch := range added {
			os.Remove(chunkPath(t.dir, ch.ID))
		}
	}
	id := t.nextID
	for first := 0; first < n; first += t.man.ChunkRows {
		rows := min(t.man.ChunkRows, n-first)
		part := make([][]byte, len(cols))
		for i, raw := range cols {
			w := t.schema.Field(i).Width
			part[i] = raw[first*w : (first+rows)*w]
		}
		ch, err := t.writeChunk(ctx, id, part, rows)
		if err != nil {
			cleanup()
			return errors.BackendIO(err, "write chunk").WithTable(t.Name())
		}
		added = append(added, ch)
		id++
	}
	if err := ctx.Err(); err != nil {
		cleanup()
		return errors.Wrap(err, errors.ErrorTypeCanceled, "append canceled").WithTable(t.Name())
	}

	c := commit{
		Seq:  t.seq + 1,
		Add:  added,
		Drop: drop,
		Rows: t.rows() + int64(b.NumRows()),
	}
	if err := t.writeCommit(c); err != nil {
		cleanup()
		return err
	}
	t.apply(c)
	for _, d := range drop {
		if err := os.Remove(chunkPath(t.dir, d)); err != nil {
			t.logger.Warn("failed to remove replaced chunk", zap.Int64("chunk", d), zap.Error(err))
		}
	}

	t.logger.Debug("batch appended",
		zap.Int("rows", b.NumRows()),
		zap.Int("chunks_written", len(added)),
		zap.Int64("total_rows", t.rows()))
	return nil
}

// writeCommit appends one line to the commit log and syncs it. On failure
// the log is cut back to its previous length.
func (t *Table) writeCommit(c commit) error {
	line, err := json.MarshalLine(c)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "encode commit").WithTable(t.Name())
	}
	rollback := func() {
		if terr := t.log.Truncate(t.logSize); terr == nil {
			t.log.Seek(t.logSize, 0)
		}
	}
	if _, err := t.log.Write(line); err != nil {
		rollback()
		return errors.BackendIO(err, "write commit log").WithTable(t.Name())
	}
	if err := t.log.Sync(); err != nil {
		rollback()
		return errors.BackendIO(err, "sync commit log").WithTable(t.Name())
	}
	t.logSize += int64(len(line))
	return nil
}
