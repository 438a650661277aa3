package pipeline

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ajitpratap0/tabular/pkg/errors"
	"github.com/linkedin/goavro/v2"
)

// ProfileRecord is one point of the profiling series: cumulative bytes and
// rows written and the time since the transfer started.
type ProfileRecord struct {
	Bytes   int64
	Rows    int64
	Elapsed time.Duration
}

// ProfileSink receives one record per completed batch.
type ProfileSink interface {
	Record(r ProfileRecord) error
	Close() error
}

// OpenProfile creates a profiling sink at path. Files ending in .avro get
// an Avro object container; anything else gets CSV.
func OpenProfile(path string) (ProfileSink, error) {
	f, err := os.Create(path) //nolint:gosec // G304: path comes from the command line
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "create profiling output").WithDetail("path", path)
	}
	if strings.EqualFold(filepath.Ext(path), ".avro") {
		s, err := NewAvroProfile(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		return s, nil
	}
	return NewCSVProfile(f)
}

// CSVProfile writes bytes,rows,timestamp lines, timestamp being elapsed
// seconds.
type CSVProfile struct {
	mu sync.Mutex
	w  *csv.Writer
	c  io.Closer
}

// NewCSVProfile writes the header to w. If w is an io.Closer, Close closes it.
func NewCSVProfile(w io.Writer) (*CSVProfile, error) {
	p := &CSVProfile{w: csv.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		p.c = c
	}
	if err := p.write([]string{"bytes", "rows", "timestamp"}); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *CSVProfile) write(rec []string) error {
	if err := p.w.Write(rec); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "write profiling record")
	}
	p.w.Flush()
	if err := p.w.Error(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "flush profiling record")
	}
	return nil
}

// Record implements ProfileSink.
func (p *CSVProfile) Record(r ProfileRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.write([]string{
		strconv.FormatInt(r.Bytes, 10),
		strconv.FormatInt(r.Rows, 10),
		strconv.FormatFloat(r.Elapsed.Seconds(), 'f', 6, 64),
	})
}

// Close implements ProfileSink.
func (p *CSVProfile) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.w.Flush()
	if p.c != nil {
		return p.c.Close()
	}
	return p.w.Error()
}

// ProfileAvroSchema is the record schema of Avro profiles.
const ProfileAvroSchema = `{
  "type": "record",
  "name": "profile",
  "namespace": "tabular",
  "fields": [
    {"name": "bytes", "type": "long"},
    {"name": "rows", "type": "long"},
    {"name": "elapsed", "type": "double"}
  ]
}`

// AvroProfile appends records to an Avro object container file.
type AvroProfile struct {
	mu  sync.Mutex
	ocf *goavro.OCFWriter
	c   io.Closer
}

// NewAvroProfile writes the container header to w.
func NewAvroProfile(w io.Writer) (*AvroProfile, error) {
	codec, err := goavro.NewCodec(ProfileAvroSchema)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to create Avro codec")
	}
	ocf, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:     w,
		Codec: codec,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to create Avro writer")
	}
	p := &AvroProfile{ocf: ocf}
	if c, ok := w.(io.Closer); ok {
		p.c = c
	}
	return p, nil
}

// Record implements ProfileSink.
func (p *AvroProfile) Record(r ProfileRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.ocf.Append([]interface{}{map[string]interface{}{
		"bytes":   r.Bytes,
		"rows":    r.Rows,
		"elapsed": r.Elapsed.Seconds(),
	}})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "append profiling record")
	}
	return nil
}

// Close implements ProfileSink. Every Record call already wrote a block.
func (p *AvroProfile) Close() error {
	if p.c != nil {
		return p.c.Close()
	}
	return nil
}
