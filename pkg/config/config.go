package config

import (
	"fmt"
	"runtime"

	"github.com/ajitpratap0/tabular/pkg/compression"
	"github.com/ajitpratap0/tabular/pkg/errors"
	"github.com/ajitpratap0/tabular/pkg/logger"
	"github.com/ajitpratap0/tabular/pkg/observability"
	"go.uber.org/zap/zapcore"
)

// Config is the single configuration structure of the tabular tools.
type Config struct {
	// Transfer settings control batching and sampling
	Transfer TransferConfig `yaml:"transfer" json:"transfer"`

	// Storage settings apply to tables created by a transfer
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// Logging configures the global zap logger
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Observability settings for metrics and tracing
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// TransferConfig contains the transfer engine settings.
type TransferConfig struct {
	// BatchBytes bounds the memory of one batch
	BatchBytes int64 `yaml:"batch_bytes" json:"batch_bytes"`
	// SampleRate is the probability of keeping a row, in (0, 1]
	SampleRate float64 `yaml:"sample_rate" json:"sample_rate"`
	// Seed makes sampling reproducible; 0 draws a random seed
	Seed uint64 `yaml:"seed" json:"seed"`
	// Workers bounds parallel chunk compression; 0 means GOMAXPROCS
	Workers int `yaml:"workers" json:"workers"`
}

// StorageConfig contains the settings of created tables.
type StorageConfig struct {
	// CompressionLevel 0 stores raw data whatever the codec
	CompressionLevel int `yaml:"compression_level" json:"compression_level"`
	// Codec names the compression algorithm (zstd, lz4, gzip, snappy, s2, deflate)
	Codec string `yaml:"codec" json:"codec"`
	// ChunkBytes sets the columnstore chunk size
	ChunkBytes int64 `yaml:"chunk_bytes" json:"chunk_bytes"`
	// MaxRows bounds columngroup and branchstore tables; 0 is unbounded
	MaxRows int64 `yaml:"max_rows" json:"max_rows"`
}

// LoggingConfig mirrors logger.Config.
type LoggingConfig struct {
	Level       string `yaml:"level" json:"level"`
	Encoding    string `yaml:"encoding" json:"encoding"`
	Development bool   `yaml:"development" json:"development"`
	OutputPath  string `yaml:"output_path" json:"output_path"`
}

// ObservabilityConfig contains monitoring settings.
type ObservabilityConfig struct {
	// EnableMetrics serves Prometheus metrics on MetricsAddress
	EnableMetrics  bool   `yaml:"enable_metrics" json:"enable_metrics"`
	MetricsAddress string `yaml:"metrics_address" json:"metrics_address"`
	// EnableTracing exports spans to stdout
	EnableTracing     bool    `yaml:"enable_tracing" json:"enable_tracing"`
	TracingSampleRate float64 `yaml:"tracing_sample_rate" json:"tracing_sample_rate"`
}

const (
	// DefaultChunkBytes is the default columnstore chunk size.
	DefaultChunkBytes = 1 << 20
	// MaxCompressionLevel is the highest accepted level.
	MaxCompressionLevel = 9
)

// NewDefault returns a configuration with defaults suited to the host.
func NewDefault() *Config {
	return &Config{
		Transfer: TransferConfig{
			BatchBytes: DefaultBatchBytes(),
			SampleRate: 1.0,
		},
		Storage: StorageConfig{
			CompressionLevel: 0,
			Codec:            string(compression.Zstd),
			ChunkBytes:       DefaultChunkBytes,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "console",
		},
		Observability: ObservabilityConfig{
			MetricsAddress:    ":9464",
			TracingSampleRate: 1.0,
		},
	}
}

func invalid(key string, value interface{}, msg string) error {
	return errors.New(errors.ErrorTypeValidation, fmt.Sprintf("%s %s", key, msg)).
		WithDetail("key", key).WithDetail("value", value)
}

// Validate checks every value against its accepted range.
func (c *Config) Validate() error {
	if c.Transfer.BatchBytes <= 0 {
		return invalid("transfer.batch_bytes", c.Transfer.BatchBytes, "must be positive")
	}
	if c.Transfer.SampleRate <= 0 || c.Transfer.SampleRate > 1 {
		return invalid("transfer.sample_rate", c.Transfer.SampleRate, "must be in (0, 1]")
	}
	if c.Transfer.Workers < 0 {
		return invalid("transfer.workers", c.Transfer.Workers, "cannot be negative")
	}
	if c.Storage.CompressionLevel < 0 || c.Storage.CompressionLevel > MaxCompressionLevel {
		return invalid("storage.compression_level", c.Storage.CompressionLevel, "must be between 0 and 9")
	}
	if _, err := compression.ParseAlgorithm(c.Storage.Codec); err != nil {
		return invalid("storage.codec", c.Storage.Codec, "is not a known codec")
	}
	if c.Storage.ChunkBytes <= 0 {
		return invalid("storage.chunk_bytes", c.Storage.ChunkBytes, "must be positive")
	}
	if c.Storage.MaxRows < 0 {
		return invalid("storage.max_rows", c.Storage.MaxRows, "cannot be negative")
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return invalid("logging.level", c.Logging.Level, "is not a log level")
	}
	if c.Logging.Encoding != "json" && c.Logging.Encoding != "console" {
		return invalid("logging.encoding", c.Logging.Encoding, "must be json or console")
	}
	if r := c.Observability.TracingSampleRate; r < 0 || r > 1 {
		return invalid("observability.tracing_sample_rate", r, "must be in [0, 1]")
	}
	return nil
}

// Compression returns the storage codec and level.
func (c *Config) Compression() (compression.Config, error) {
	alg, err := compression.ParseAlgorithm(c.Storage.Codec)
	if err != nil {
		return compression.Config{}, errors.Wrap(err, errors.ErrorTypeConfig, "storage codec")
	}
	cc := compression.Config{Algorithm: alg, Level: c.Storage.CompressionLevel}
	if err := cc.Validate(); err != nil {
		return compression.Config{}, errors.Wrap(err, errors.ErrorTypeConfig, "storage compression")
	}
	return cc, nil
}

// LoggerConfig converts the logging section.
func (c *Config) LoggerConfig() logger.Config {
	lc := logger.Config{
		Level:       c.Logging.Level,
		Encoding:    c.Logging.Encoding,
		Development: c.Logging.Development,
	}
	if c.Logging.OutputPath != "" {
		lc.OutputPaths = []string{c.Logging.OutputPath}
	}
	return lc
}

// TracingConfig converts the observability section.
func (c *Config) TracingConfig(version string) observability.TracingConfig {
	tc := observability.DefaultTracingConfig()
	tc.Enabled = c.Observability.EnableTracing
	tc.SamplingRate = c.Observability.TracingSampleRate
	tc.ServiceVersion = version
	tc.PrettyPrint = c.Logging.Development
	return tc
}

// GetWorkers returns the number of workers, ensuring it's at least 1
func (t *TransferConfig) GetWorkers() int {
	if t.Workers <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return t.Workers
}
