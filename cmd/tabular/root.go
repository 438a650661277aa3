package main

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/ajitpratap0/tabular/pkg/config"
	"github.com/ajitpratap0/tabular/pkg/errors"
	"github.com/ajitpratap0/tabular/pkg/logger"
	"github.com/ajitpratap0/tabular/pkg/observability"
	"github.com/ajitpratap0/tabular/pkg/profiling"
	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// app is the state shared by every command of one invocation.
type app struct {
	v       *viper.Viper
	cfgFile string
	profile string
	quiet   bool

	pprofDir   string
	pprofTypes string
	profiler   *profiling.Profiler

	cfg      *config.Config
	log      *zap.Logger
	shutdown func(context.Context) error
	metrics  *http.Server
}

// flag name -> configuration key
var boundFlags = map[string]string{
	"log-level":         "logging.level",
	"log-format":        "logging.encoding",
	"compression-level": "storage.compression_level",
	"codec":             "storage.codec",
	"chunk-size":        "storage.chunk_bytes",
	"max-rows":          "storage.max_rows",
	"batch-size":        "transfer.batch_bytes",
	"workers":           "transfer.workers",
	"trace":             "observability.enable_tracing",
	"metrics":           "observability.enable_metrics",
	"metrics-address":   "observability.metrics_address",
}

// newRootCommand builds the command tree. The caller runs app.teardown
// after Execute, whatever its outcome.
func newRootCommand() (*cobra.Command, *app) {
	a := &app{v: config.NewViper()}

	root := &cobra.Command{
		Use:   "tabular",
		Short: "Tabular - bounded-memory copies between columnar table stores",
		Long: `Tabular copies rows between column store, column group and branch store
tables with optional filtering, projection, sampling and index-sorted order,
holding at most one batch of rows in memory.

Tables are addressed as PATH:NODE, e.g. events.cstore:/run1/events.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "YAML configuration file")
	pf.String("log-level", "info", "Log level (debug, info, warn, error)")
	pf.String("log-format", "console", "Log encoding (console, json)")
	pf.IntP("compression-level", "l", 0, "Compression level 0-9 of created tables; 0 stores raw data")
	pf.String("codec", "zstd", "Compression codec (zstd, lz4, gzip, snappy, s2, deflate)")
	pf.String("chunk-size", "1MiB", "Chunk size of created column store tables (e.g. 512k, 4m)")
	pf.Int64("max-rows", 0, "Capacity of created column group and branch store tables; 0 picks a default")
	pf.StringP("batch-size", "b", "", "Memory budget of one batch (e.g. 32m); defaults to a share of free memory")
	pf.Int("workers", 0, "Parallel chunk compression workers; 0 uses every CPU")
	pf.StringVar(&a.profile, "profile", "", "Write a per-batch profile to this file (.csv or .avro)")
	pf.Bool("trace", false, "Export trace spans to stdout")
	pf.Bool("metrics", false, "Serve Prometheus metrics while running")
	pf.String("metrics-address", ":9464", "Address of the metrics endpoint")
	pf.StringVar(&a.pprofDir, "pprof-dir", "", "Write Go runtime profiles into this directory")
	pf.StringVar(&a.pprofTypes, "pprof", "cpu,memory", "Runtime profiles to write (cpu, memory, goroutine, trace, all)")
	pf.BoolVarP(&a.quiet, "quiet", "q", false, "Do not show progress")

	for name, key := range boundFlags {
		_ = a.v.BindPFlag(key, pf.Lookup(name))
	}

	root.AddCommand(
		newConvertCommand(a),
		newSelectCommand(a),
		newSortCommand(a),
		newIndexCommand(a),
		newInfoCommand(a),
		newVersionCommand(),
	)
	return root, a
}

// setup loads the configuration and starts logging, tracing and metrics.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if err := config.ReadFile(a.v, a.cfgFile); err != nil {
		return err
	}
	cfg, err := config.Decode(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg

	if err := logger.Init(cfg.LoggerConfig()); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to initialize logger")
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = logger.NewContext(ctx, logger.CommandKey, cmd.Name())
	cmd.SetContext(ctx)
	a.log = logger.WithContext(ctx, logger.Component(nil, "cli"))

	a.shutdown, err = observability.InitTracing(cmd.Context(), cfg.TracingConfig(version))
	if err != nil {
		return err
	}

	if a.pprofDir != "" {
		types, err := profiling.ParseTypes(a.pprofTypes)
		if err != nil {
			return err
		}
		a.profiler = profiling.NewProfiler(profiling.Config{Types: types, OutputDir: a.pprofDir}, a.log)
		if err := a.profiler.Start(cmd.Context()); err != nil {
			return err
		}
	}

	if cfg.Observability.EnableMetrics {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		a.metrics = &http.Server{
			Addr:              cfg.Observability.MetricsAddress,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := a.metrics.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.log.Warn("metrics server stopped", zap.Error(err))
			}
		}()
		a.log.Info("serving metrics", zap.String("address", cfg.Observability.MetricsAddress))
	}
	return nil
}

func (a *app) teardown(ctx context.Context) error {
	// the command context may already be canceled by an interrupt
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if a.profiler != nil {
		m, err := a.profiler.Stop()
		if err != nil {
			a.log.Warn("failed to write runtime profiles", zap.Error(err))
		}
		a.log.Info("runtime summary",
			zap.String("peak_heap", humanize.IBytes(m.PeakAllocBytes)),
			zap.String("allocated", humanize.IBytes(m.TotalAlloc)),
			zap.Uint32("gc_cycles", m.NumGC))
	}
	if a.metrics != nil {
		_ = a.metrics.Shutdown(ctx)
	}
	var err error
	if a.shutdown != nil {
		err = a.shutdown(ctx)
	}
	_ = logger.Sync()
	return err
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		// version needs no configuration
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Tabular v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
