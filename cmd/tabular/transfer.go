package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ajitpratap0/tabular/internal/pipeline"
	"github.com/ajitpratap0/tabular/pkg/errors"
	"github.com/ajitpratap0/tabular/pkg/logger"
	"github.com/ajitpratap0/tabular/pkg/registry"
	"github.com/ajitpratap0/tabular/pkg/table"
	"github.com/ajitpratap0/tabular/pkg/table/columngroup"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// transferFlags are the options shared by convert, select and sort.
type transferFlags struct {
	srcFormat  string
	dstFormat  string
	mode       string
	rng        string
	sample     float64
	seed       uint64
	fields     []string
	where      string
	key        string
	reverse    bool
	buildIndex bool
}

func (f *transferFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.srcFormat, "src-format", "", "Source format; detected from the path when empty")
	fs.StringVarP(&f.dstFormat, "format", "F", "", "Destination format; detected from the path, else the source format")
	fs.StringVarP(&f.mode, "mode", "m", "create", "Destination open mode (create, append)")
	fs.StringVar(&f.rng, "range", "", "Source rows start:stop:step")
	fs.Float64Var(&f.sample, "sample", 0, "Keep each row with this probability (0 < p <= 1)")
	fs.Uint64Var(&f.seed, "seed", 0, "Sampling seed; 0 draws a random one")
}

func newConvertCommand(a *app) *cobra.Command {
	f := &transferFlags{}
	cmd := &cobra.Command{
		Use:   "convert SRC DST",
		Short: "Copy a table into another table of any format",
		Long: `Copy rows of SRC into DST, optionally filtered, projected and sampled.

Example:
  tabular convert events.cstore:/run1 events.bstore:/run1 --where 'energy > 10' -f id,energy`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.transfer(cmd, args[0], args[1], f)
		},
	}
	f.register(cmd)
	cmd.Flags().StringSliceVarP(&f.fields, "fields", "f", nil, "Columns to keep, in order")
	cmd.Flags().StringVarP(&f.where, "where", "w", "", "Keep rows matching this condition")
	return cmd
}

func newSelectCommand(a *app) *cobra.Command {
	f := &transferFlags{}
	cmd := &cobra.Command{
		Use:   "select SRC DST -e EXPR",
		Short: "Copy the rows matching a condition",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.transfer(cmd, args[0], args[1], f)
		},
	}
	f.register(cmd)
	cmd.Flags().StringVarP(&f.where, "expr", "e", "", "Condition over column names (required)")
	cmd.Flags().StringSliceVarP(&f.fields, "fields", "f", nil, "Columns to keep, in order")
	_ = cmd.MarkFlagRequired("expr")
	return cmd
}

func newSortCommand(a *app) *cobra.Command {
	f := &transferFlags{}
	cmd := &cobra.Command{
		Use:   "sort SRC DST -k COLUMN",
		Short: "Copy a column store table in the order of a column index",
		Long: `Copy SRC into DST in ascending (or, with -r, descending) order of COLUMN.
SRC must be a column store table indexed on COLUMN; -i builds the index first.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.transfer(cmd, args[0], args[1], f)
		},
	}
	f.register(cmd)
	cmd.Flags().StringVarP(&f.key, "key", "k", "", "Sort column (required)")
	cmd.Flags().BoolVarP(&f.reverse, "reverse", "r", false, "Descending order")
	cmd.Flags().BoolVarP(&f.buildIndex, "index", "i", false, "Build the index when it is missing or stale")
	cmd.Flags().StringVarP(&f.where, "where", "w", "", "Keep rows matching this condition")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

// openSpec opens PATH:NODE, detecting the format when it is not given.
func (a *app) openSpec(ctx context.Context, spec, format string, mode table.Mode, opts registry.CreateOptions) (table.Table, error) {
	loc, err := registry.ParseLocator(spec)
	if err != nil {
		return nil, err
	}
	if format == "" {
		if format, err = registry.Detect(loc.Path); err != nil {
			return nil, err
		}
	}
	opts.Logger = logger.Get()
	return registry.Open(ctx, format, loc, mode, opts)
}

func (a *app) closeTable(t table.Table) {
	if err := t.Close(); err != nil {
		a.log.Warn("failed to close table", zap.String("table", t.Name()), zap.Error(err))
	}
}

// expectedRows is the number of source rows a transfer over r visits.
func expectedRows(src table.Table, r table.Range) int64 {
	rows, ok := src.RowCount().Value()
	if !ok {
		return 0
	}
	return table.RowsIn(r.Start, min(r.Stop, rows), max(r.Step, 1))
}

func (a *app) transfer(cmd *cobra.Command, srcSpec, dstSpec string, f *transferFlags) error {
	ctx := cmd.Context()
	cfg := a.cfg

	rng, err := table.ParseRange(f.rng)
	if err != nil {
		return err
	}
	mode, err := registry.ParseMode(f.mode)
	if err != nil {
		return err
	}
	if mode == table.ModeRead {
		return errors.New(errors.ErrorTypeValidation, "destination cannot be opened read-only").WithDetail("mode", f.mode)
	}
	comp, err := cfg.Compression()
	if err != nil {
		return err
	}

	// building an index writes into the source
	srcMode := table.ModeRead
	if f.buildIndex {
		srcMode = table.ModeAppend
	}
	src, err := a.openSpec(ctx, srcSpec, f.srcFormat, srcMode, registry.CreateOptions{})
	if err != nil {
		return err
	}
	defer a.closeTable(src)

	dstLoc, err := registry.ParseLocator(dstSpec)
	if err != nil {
		return err
	}
	dstFormat := f.dstFormat
	if dstFormat == "" {
		if dstFormat, err = registry.Detect(dstLoc.Path); err != nil {
			dstFormat = src.Format()
		}
	}
	dstSchema := src.Schema()
	if len(f.fields) > 0 {
		if dstSchema, err = dstSchema.Project(f.fields); err != nil {
			return err
		}
	}
	maxRows := cfg.Storage.MaxRows
	if maxRows == 0 && mode == table.ModeCreate {
		if name, _ := registry.Resolve(dstFormat); name == columngroup.FormatName {
			maxRows = expectedRows(src, rng)
		}
	}
	dst, err := a.openSpec(ctx, dstSpec, dstFormat, mode, registry.CreateOptions{
		Schema:      dstSchema,
		Compression: comp,
		ChunkBytes:  cfg.Storage.ChunkBytes,
		MaxRows:     maxRows,
		Workers:     cfg.Transfer.GetWorkers(),
	})
	if err != nil {
		return err
	}
	defer a.closeTable(dst)

	sample := f.sample
	if sample == 0 {
		sample = cfg.Transfer.SampleRate
	}
	seed := f.seed
	if seed == 0 {
		seed = cfg.Transfer.Seed
	}
	opts := pipeline.Options{
		Predicate:  f.where,
		Projection: f.fields,
		SampleRate: sample,
		Seed:       seed,
		BuildIndex: f.buildIndex,
		Range:      rng,
		BatchBytes: cfg.Transfer.BatchBytes,
	}
	if f.key != "" {
		opts.Order = &pipeline.Order{Column: f.key, Descending: f.reverse}
	}
	if a.profile != "" {
		sink, err := pipeline.OpenProfile(a.profile)
		if err != nil {
			return err
		}
		defer func() {
			if err := sink.Close(); err != nil {
				a.log.Warn("failed to close profile", zap.String("path", a.profile), zap.Error(err))
			}
		}()
		opts.Profile = sink
	}
	var bar *progress
	if !a.quiet {
		bar = newProgress(cmd.ErrOrStderr(), cmd.Name())
		opts.OnBatch = bar.observe
	}

	a.log.Info("transfer configured",
		zap.String("source", src.Name()),
		zap.String("source_format", src.Format()),
		zap.String("destination", dst.Name()),
		zap.String("destination_format", dst.Format()),
		zap.String("batch_size", humanize.IBytes(uint64(cfg.Transfer.BatchBytes))),
		zap.Int("compression_level", comp.Level))

	report, err := pipeline.NewTransfer(src, dst, opts, logger.Get()).Run(ctx)
	if bar != nil {
		bar.done(err != nil)
	}
	if err != nil {
		if report != nil && report.State == pipeline.StateFailed {
			fmt.Fprintf(cmd.ErrOrStderr(), "transfer stopped; %s rows written, resume with --mode append --range %d:%s\n",
				humanize.Comma(report.RowsWritten), report.Cursor, rangeTail(rng))
		}
		return err
	}
	printReport(cmd, report)
	return nil
}

// rangeTail formats the stop:step part of r for a resume hint.
func rangeTail(r table.Range) string {
	_, tail, _ := strings.Cut(r.String(), ":")
	return tail
}

func printReport(cmd *cobra.Command, r *pipeline.Report) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s rows scanned, %s rows written (%s) in %s batches, %s, %s rows/s\n",
		humanize.Comma(r.RowsScanned),
		humanize.Comma(r.RowsWritten),
		humanize.IBytes(uint64(r.BytesWritten)),
		humanize.Comma(r.Batches),
		r.Elapsed.Round(time.Millisecond),
		humanize.CommafWithDigits(r.RowsPerSecond, 0))
}
