// Package compression provides the block codecs used by the chunked table
// store for column segments and index blocks.
//
// # Overview
//
// A codec is configured by a name and a level in 0..9. Level 0 always means
// uncompressed whatever the name; levels 1..9 map onto each algorithm's own
// scale. Supported names:
//   - zstd (default), lz4, s2, snappy, gzip, deflate
//   - zlib is accepted as an alias of deflate
//   - none
//
// # Basic Usage
//
//	comp, err := compression.NewCompressor(compression.Config{
//	    Algorithm: compression.Zstd,
//	    Level:     5,
//	})
//	packed, err := comp.Compress(data)
//	data, err = comp.Decompress(packed)
//
// All compressors are safe for concurrent use; encoders and decoders with
// expensive setup are pooled internally.
package compression

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ajitpratap0/tabular/pkg/pool"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm represents a compression algorithm.
type Algorithm string

const (
	// None represents no compression
	None Algorithm = "none"
	// Gzip represents gzip compression
	Gzip Algorithm = "gzip"
	// Snappy represents snappy compression
	Snappy Algorithm = "snappy"
	// LZ4 represents lz4 compression
	LZ4 Algorithm = "lz4"
	// Zstd represents zstandard compression
	Zstd Algorithm = "zstd"
	// S2 represents s2 compression (Snappy compatible)
	S2 Algorithm = "s2"
	// Deflate represents deflate compression
	Deflate Algorithm = "deflate"
)

const (
	// MinLevel disables compression.
	MinLevel = 0
	// MaxLevel is the strongest level.
	MaxLevel = 9
)

// Compressor compresses and decompresses whole blocks.
type Compressor interface {
	// Compress returns the compressed form of data. data is not modified.
	Compress(data []byte) ([]byte, error)
	// Decompress returns the original bytes of a block produced by Compress.
	Decompress(data []byte) ([]byte, error)
	// Algorithm returns the algorithm in effect.
	Algorithm() Algorithm
	// Level returns the level in effect.
	Level() int
}

// Config selects a codec.
type Config struct {
	Algorithm Algorithm `json:"codec" yaml:"codec" mapstructure:"codec"`
	Level     int       `json:"level" yaml:"level" mapstructure:"level"`
}

// DefaultConfig returns an uncompressed configuration with zstd as the codec
// applied once a level is set.
func DefaultConfig() Config {
	return Config{Algorithm: Zstd, Level: 0}
}

// ParseAlgorithm resolves a codec name, case-insensitively.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "zstd", "zstandard":
		return Zstd, nil
	case "lz4":
		return LZ4, nil
	case "s2":
		return S2, nil
	case "snappy":
		return Snappy, nil
	case "gzip", "gz":
		return Gzip, nil
	case "deflate", "zlib":
		return Deflate, nil
	case "none":
		return None, nil
	default:
		return "", fmt.Errorf("unsupported compression algorithm: %s", name)
	}
}

// Effective returns the configuration actually applied: level 0 or the none
// algorithm collapse to uncompressed.
func (c Config) Effective() Config {
	if c.Level <= MinLevel || c.Algorithm == None {
		return Config{Algorithm: None, Level: 0}
	}
	if c.Algorithm == "" {
		c.Algorithm = Zstd
	}
	if c.Level > MaxLevel {
		c.Level = MaxLevel
	}
	return c
}

// Validate checks the level range and codec name.
func (c Config) Validate() error {
	if c.Level < MinLevel || c.Level > MaxLevel {
		return fmt.Errorf("compression level %d outside %d..%d", c.Level, MinLevel, MaxLevel)
	}
	if c.Algorithm == "" {
		return nil
	}
	_, err := ParseAlgorithm(string(c.Algorithm))
	return err
}

// String renders the configuration as codec:level.
func (c Config) String() string {
	e := c.Effective()
	return fmt.Sprintf("%s:%d", e.Algorithm, e.Level)
}

// NewCompressor creates a compressor for the effective configuration.
func NewCompressor(config Config) (Compressor, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config = config.Effective()
	algo, err := ParseAlgorithm(string(config.Algorithm))
	if err != nil {
		return nil, err
	}
	base := baseCompressor{algorithm: algo, level: config.Level}

	switch algo {
	case None:
		return &noneCompressor{baseCompressor: base}, nil
	case Gzip:
		return newGzipCompressor(base), nil
	case Snappy:
		return &snappyCompressor{baseCompressor: base}, nil
	case LZ4:
		return &lz4Compressor{baseCompressor: base, compressionLevel: mapLZ4Level(config.Level)}, nil
	case Zstd:
		return newZstdCompressor(base), nil
	case S2:
		return &s2Compressor{baseCompressor: base}, nil
	case Deflate:
		return &deflateCompressor{baseCompressor: base}, nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", config.Algorithm)
	}
}

// Base compressor implementation
type baseCompressor struct {
	algorithm Algorithm
	level     int
}

// Algorithm returns the compression algorithm
func (bc *baseCompressor) Algorithm() Algorithm {
	return bc.algorithm
}

// Level returns the compression level
func (bc *baseCompressor) Level() int {
	return bc.level
}

var buffers = pool.NewBuffers(64 * 1024)

func getBuffer() *bytes.Buffer { return buffers.Get() }

func putBuffer(buf *bytes.Buffer) { buffers.Put(buf) }

// detach copies the buffer contents so the buffer can go back to the pool
func detach(buf *bytes.Buffer) []byte { return pool.Detach(buf) }

// None compressor (no compression)
type noneCompressor struct {
	baseCompressor
}

func (nc *noneCompressor) Compress(data []byte) ([]byte, error) {
	return data, nil
}

func (nc *noneCompressor) Decompress(data []byte) ([]byte, error) {
	return data, nil
}

// Gzip compressor
type gzipCompressor struct {
	baseCompressor
	writerPool sync.Pool
	readerPool sync.Pool
}

func newGzipCompressor(base baseCompressor) *gzipCompressor {
	gc := &gzipCompressor{baseCompressor: base}
	gc.writerPool.New = func() interface{} {
		w, _ := gzip.NewWriterLevel(nil, base.level)
		return w
	}
	gc.readerPool.New = func() interface{} {
		return new(gzip.Reader)
	}
	return gc
}

func (gc *gzipCompressor) Compress(data []byte) ([]byte, error) {
	buf := getBuffer()
	defer putBuffer(buf)

	w := gc.writerPool.Get().(*gzip.Writer)
	defer gc.writerPool.Put(w)

	w.Reset(buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return detach(buf), nil
}

func (gc *gzipCompressor) Decompress(data []byte) ([]byte, error) {
	r := gc.readerPool.Get().(*gzip.Reader)
	defer gc.readerPool.Put(r)

	if err := r.Reset(bytes.NewReader(data)); err != nil {
		return nil, err
	}

	buf := getBuffer()
	defer putBuffer(buf)
	if _, err := io.Copy(buf, r); err != nil { //nolint:gosec // blocks are produced by Compress
		return nil, err
	}
	return detach(buf), nil
}

// Snappy compressor
type snappyCompressor struct {
	baseCompressor
}

func (sc *snappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (sc *snappyCompressor) Decompress(data []byte) ([]byte, error) {
	return snappy.Decode(nil, data)
}

// LZ4 compressor
type lz4Compressor struct {
	baseCompressor
	compressionLevel lz4.CompressionLevel
}

func (lc *lz4Compressor) Compress(data []byte) ([]byte, error) {
	buf := getBuffer()
	defer putBuffer(buf)

	w := lz4.NewWriter(buf)
	if err := w.Apply(lz4.CompressionLevelOption(lc.compressionLevel)); err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return detach(buf), nil
}

func (lc *lz4Compressor) Decompress(data []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(data))

	buf := getBuffer()
	defer putBuffer(buf)
	if _, err := io.Copy(buf, r); err != nil { //nolint:gosec // blocks are produced by Compress
		return nil, err
	}
	return detach(buf), nil
}

// Zstd compressor
type zstdCompressor struct {
	baseCompressor
	encoderPool sync.Pool
	decoderPool sync.Pool
}

func newZstdCompressor(base baseCompressor) *zstdCompressor {
	level := zstd.EncoderLevelFromZstd(base.level)
	zc := &zstdCompressor{baseCompressor: base}
	zc.encoderPool.New = func() interface{} {
		enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
		return enc
	}
	zc.decoderPool.New = func() interface{} {
		dec, _ := zstd.NewReader(nil)
		return dec
	}
	return zc
}

func (zc *zstdCompressor) Compress(data []byte) ([]byte, error) {
	enc := zc.encoderPool.Get().(*zstd.Encoder)
	defer zc.encoderPool.Put(enc)

	return enc.EncodeAll(data, nil), nil
}

func (zc *zstdCompressor) Decompress(data []byte) ([]byte, error) {
	dec := zc.decoderPool.Get().(*zstd.Decoder)
	defer zc.decoderPool.Put(dec)

	return dec.DecodeAll(data, nil)
}

// S2 compressor (Snappy-compatible but better compression)
type s2Compressor struct {
	baseCompressor
}

func (sc *s2Compressor) Compress(data []byte) ([]byte, error) {
	switch {
	case sc.level >= 9:
		return s2.EncodeBest(nil, data), nil
	case sc.level >= 6:
		return s2.EncodeBetter(nil, data), nil
	default:
		return s2.Encode(nil, data), nil
	}
}

func (sc *s2Compressor) Decompress(data []byte) ([]byte, error) {
	return s2.Decode(nil, data)
}

// Deflate compressor
type deflateCompressor struct {
	baseCompressor
}

func (dc *deflateCompressor) Compress(data []byte) ([]byte, error) {
	buf := getBuffer()
	defer putBuffer(buf)

	w, err := flate.NewWriter(buf, dc.level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return detach(buf), nil
}

func (dc *deflateCompressor) Decompress(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()

	buf := getBuffer()
	defer putBuffer(buf)
	if _, err := io.Copy(buf, r); err != nil { //nolint:gosec // blocks are produced by Compress
		return nil, err
	}
	return detach(buf), nil
}

var lz4Levels = [...]lz4.CompressionLevel{
	lz4.Fast, lz4.Level1, lz4.Level2, lz4.Level3, lz4.Level4,
	lz4.Level5, lz4.Level6, lz4.Level7, lz4.Level8, lz4.Level9,
}

func mapLZ4Level(level int) lz4.CompressionLevel {
	if level < 0 || level >= len(lz4Levels) {
		return lz4.Level9
	}
	return lz4Levels[level]
}
