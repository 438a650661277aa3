package columnstore

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ajitpratap0/tabular/pkg/compression"
	"github.com/ajitpratap0/tabular/pkg/json"
	"github.com/ajitpratap0/tabular/pkg/schema"
)

// On-disk layout of one table directory:
//
//	manifest.json        schema, chunk geometry, codec
//	commits.log          one JSON line per append
//	chunks/00000001.chk  column segments of one chunk, back to back
//	index/<col>.json     sort index descriptor
//	index/<col>.<n>.idx  sort index permutation blocks
const (
	manifestFile = "manifest.json"
	commitsFile  = "commits.log"
	chunksDir    = "chunks"
	indexDir     = "index"

	// MarkerFile identifies a container directory of column stores.
	MarkerFile = ".columnstore"

	formatVersion = 1
)

type manifest struct {
	Format      string             `json:"format"`
	Version     int                `json:"version"`
	Columns     []schema.Field     `json:"columns"`
	ChunkRows   int                `json:"chunk_rows"`
	Compression compression.Config `json:"compression"`
	CreatedAt   time.Time          `json:"created_at"`
}

// segment locates one compressed column inside a chunk file. Min and Max
// form the zone map of numeric columns; NaNs are left out of it.
type segment struct {
	Offset int64    `json:"offset"`
	Length int64    `json:"length"`
	Min    *float64 `json:"min,omitempty"`
	Max    *float64 `json:"max,omitempty"`
}

type chunkMeta struct {
	ID       int64     `json:"id"`
	Rows     int       `json:"rows"`
	Segments []segment `json:"segments"`
}

// commit is one atomic change: chunks appended and, when the previous tail
// chunk was partial, the tail it replaces.
type commit struct {
	Seq  int64       `json:"seq"`
	Add  []chunkMeta `json:"add"`
	Drop []int64     `json:"drop,omitempty"`
	Rows int64       `json:"rows"`
}

func chunkPath(dir string, id int64) string {
	return filepath.Join(dir, chunksDir, fmt.Sprintf("%08d.chk", id))
}

// readCommits replays the commit log. A final line without its newline or
// that fails to decode is a torn write and is ignored; valid is the byte
// length of the intact prefix.
func readCommits(path string) (commits []commit, valid int64, err error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 1<<20)
	for {
		line, err := r.ReadBytes('\n')
		if err == io.EOF {
			return commits, valid, nil
		}
		if err != nil {
			return nil, 0, err
		}
		var c commit
		if jerr := json.Unmarshal(bytes.TrimSpace(line), &c); jerr != nil {
			return commits, valid, nil
		}
		commits = append(commits, c)
		valid += int64(len(line))
	}
}
