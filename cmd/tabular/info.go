package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/ajitpratap0/tabular/pkg/index"
	"github.com/ajitpratap0/tabular/pkg/logger"
	"github.com/ajitpratap0/tabular/pkg/registry"
	"github.com/ajitpratap0/tabular/pkg/schema"
	"github.com/ajitpratap0/tabular/pkg/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newInfoCommand(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "info SPEC",
		Short: "Show the schema, size and capabilities of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			t, err := a.openSpec(ctx, args[0], format, table.ModeRead, registry.CreateOptions{})
			if err != nil {
				return err
			}
			defer a.closeTable(t)

			rc := t.RowCount()
			if in, ok := t.(table.Inspector); ok && !rc.Known() {
				if rc, err = in.Inspect(ctx); err != nil {
					return err
				}
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "table:\t%s\n", t.Name())
			fmt.Fprintf(w, "format:\t%s\n", t.Format())
			fmt.Fprintf(w, "rows:\t%s\n", rc)
			fmt.Fprintf(w, "row size:\t%s\n", humanize.IBytes(uint64(t.Schema().RowSize())))
			if n, ok := rc.Value(); ok {
				fmt.Fprintf(w, "data size:\t%s\n", humanize.IBytes(uint64(n)*uint64(t.Schema().RowSize())))
			}
			fmt.Fprintf(w, "capabilities:\t%s\n", capabilities(t.Capabilities()))
			if t.Capabilities().Indexable {
				cols, err := index.NewManager(logger.Get()).Indexed(t)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "indexes:\t%s\n", strings.Join(cols, ", "))
			}
			fmt.Fprintln(w, "columns:")
			for _, f := range t.Schema().Fields() {
				fmt.Fprintf(w, "  %s\t%s\n", f.Name, schema.TypeName(f))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&format, "src-format", "", "Table format; detected from the path when empty")
	return cmd
}

func capabilities(c table.Capabilities) string {
	var out []string
	if c.SupportsPushdown {
		out = append(out, "pushdown")
	}
	if c.NativeBulkRead {
		out = append(out, "bulk-read")
	}
	if c.FixedCapacity {
		out = append(out, "fixed-capacity")
	}
	if c.Indexable {
		out = append(out, "indexable")
	}
	if len(out) == 0 {
		return "-"
	}
	return strings.Join(out, ", ")
}
