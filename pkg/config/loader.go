package config

import (
	"bytes"
	"os"
	"strings"

	"github.com/ajitpratap0/tabular/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes the environment overrides, e.g. TABULAR_TRANSFER_BATCH_BYTES.
const EnvPrefix = "TABULAR"

// sizeKeys accept byte sizes with units.
var sizeKeys = map[string]bool{
	"transfer.batch_bytes": true,
	"storage.chunk_bytes":  true,
}

// NewViper returns a viper instance carrying the defaults of NewDefault and
// the TABULAR_ environment overrides. Callers may bind flags to it before
// calling Decode.
func NewViper() *viper.Viper {
	v := viper.New()
	d := NewDefault()
	defaults := map[string]interface{}{
		"transfer.batch_bytes":              d.Transfer.BatchBytes,
		"transfer.sample_rate":              d.Transfer.SampleRate,
		"transfer.seed":                     d.Transfer.Seed,
		"transfer.workers":                  d.Transfer.Workers,
		"storage.compression_level":         d.Storage.CompressionLevel,
		"storage.codec":                     d.Storage.Codec,
		"storage.chunk_bytes":               d.Storage.ChunkBytes,
		"storage.max_rows":                  d.Storage.MaxRows,
		"logging.level":                     d.Logging.Level,
		"logging.encoding":                  d.Logging.Encoding,
		"logging.development":               d.Logging.Development,
		"logging.output_path":               d.Logging.OutputPath,
		"observability.enable_metrics":      d.Observability.EnableMetrics,
		"observability.metrics_address":     d.Observability.MetricsAddress,
		"observability.enable_tracing":      d.Observability.EnableTracing,
		"observability.tracing_sample_rate": d.Observability.TracingSampleRate,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads a YAML configuration file on top of the defaults. ${VAR_NAME}
// references in the file are replaced with environment values, and
// TABULAR_ variables override file values. An empty path loads defaults and
// environment only.
func Load(path string) (*Config, error) {
	v := NewViper()
	if err := ReadFile(v, path); err != nil {
		return nil, err
	}
	return Decode(v)
}

// ReadFile merges a YAML file into v.
func ReadFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the command line
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to read config file").WithDetail("path", path)
	}
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader([]byte(substituteEnvVars(string(data))))); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse YAML").WithDetail("path", path)
	}
	return nil
}

// Decode builds a validated Config from v.
func Decode(v *viper.Viper) (*Config, error) {
	sizes := map[string]int64{}
	for k := range sizeKeys {
		n, err := ParseSize(v.GetString(k))
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeValidation, "invalid size").WithDetail("key", k)
		}
		sizes[k] = n
	}
	cfg := &Config{
		Transfer: TransferConfig{
			BatchBytes: sizes["transfer.batch_bytes"],
			SampleRate: v.GetFloat64("transfer.sample_rate"),
			Seed:       v.GetUint64("transfer.seed"),
			Workers:    v.GetInt("transfer.workers"),
		},
		Storage: StorageConfig{
			CompressionLevel: v.GetInt("storage.compression_level"),
			Codec:            v.GetString("storage.codec"),
			ChunkBytes:       sizes["storage.chunk_bytes"],
			MaxRows:          v.GetInt64("storage.max_rows"),
		},
		Logging: LoggingConfig{
			Level:       v.GetString("logging.level"),
			Encoding:    v.GetString("logging.encoding"),
			Development: v.GetBool("logging.development"),
			OutputPath:  v.GetString("logging.output_path"),
		},
		Observability: ObservabilityConfig{
			EnableMetrics:     v.GetBool("observability.enable_metrics"),
			MetricsAddress:    v.GetString("observability.metrics_address"),
			EnableTracing:     v.GetBool("observability.enable_tracing"),
			TracingSampleRate: v.GetFloat64("observability.tracing_sample_rate"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg as YAML.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to marshal YAML")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to write config file").WithDetail("path", path)
	}
	return nil
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		envValue := os.Getenv(varName)
		content = content[:start] + envValue + content[end+1:]
	}
	return content
}
