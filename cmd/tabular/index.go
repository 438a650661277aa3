package main

import (
	"fmt"

	"github.com/ajitpratap0/tabular/pkg/index"
	"github.com/ajitpratap0/tabular/pkg/logger"
	"github.com/ajitpratap0/tabular/pkg/registry"
	"github.com/ajitpratap0/tabular/pkg/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newIndexCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build and test column indexes of column store tables",
	}

	var format, column string
	var force bool
	create := &cobra.Command{
		Use:   "create SPEC -c COLUMN",
		Short: "Build a sort index over a column",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := a.openSpec(cmd.Context(), args[0], format, table.ModeAppend, registry.CreateOptions{})
			if err != nil {
				return err
			}
			defer a.closeTable(t)
			info, err := index.NewManager(logger.Get()).Build(cmd.Context(), t, column, force)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %s on %s: %s rows in %s\n",
				info.Table, info.Column, humanize.Comma(info.Rows), info.Duration)
			return nil
		},
	}
	create.Flags().StringVarP(&column, "column", "c", "", "Column to index (required)")
	create.Flags().BoolVar(&force, "force", false, "Rebuild an existing index")
	create.Flags().StringVar(&format, "src-format", "", "Table format; detected from the path when empty")
	_ = create.MarkFlagRequired("column")

	var count int
	var seed uint64
	test := &cobra.Command{
		Use:   "test SPEC -c COLUMN",
		Short: "Measure random lookups through an index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := a.openSpec(cmd.Context(), args[0], format, table.ModeRead, registry.CreateOptions{})
			if err != nil {
				return err
			}
			defer a.closeTable(t)
			res, err := index.NewManager(logger.Get()).Probe(cmd.Context(), t, column, count, seed)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s lookups in %s: %s lookups/s\n",
				humanize.Comma(int64(res.Lookups)), res.Elapsed, humanize.CommafWithDigits(res.PerSecond, 0))
			return nil
		},
	}
	test.Flags().StringVarP(&column, "column", "c", "", "Indexed column (required)")
	test.Flags().IntVarP(&count, "count", "n", 1000, "Number of lookups")
	test.Flags().Uint64Var(&seed, "seed", 0, "Lookup position seed; 0 draws a random one")
	test.Flags().StringVar(&format, "src-format", "", "Table format; detected from the path when empty")
	_ = test.MarkFlagRequired("column")

	cmd.AddCommand(create, test)
	return cmd
}
