package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/shpitdev/sdmx-dataflow-sync/internal/config"
	"github.com/shpitdev/sdmx-dataflow-sync/internal/diff"
	"github.com/shpitdev/sdmx-dataflow-sync/pkg/pipeline/io/local"
	"github.com/shpitdev/sdmx-dataflow-sync/pkg/pipeline/schema"
)

func newShowCmd(gf *globalFlags) *cobra.Command {
	var changeType string
	cmd := &cobra.Command{
		Use:   "show [file]",
		Short: "Print a change-set or snapshot as a table (default: the configured result file).",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				cfg, err := config.Load(config.ResolvePath(gf.configPath))
				if err != nil {
					return &configError{err: err}
				}
				path = cfg.Paths.ResultFile
			}

			ok, err := local.Exists(path)
			if err != nil {
				return err
			}
			if !ok {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s does not exist\n", path)
				return nil
			}
			tbl, err := local.ReadTableFile(path)
			if err != nil {
				return err
			}
			renderTable(cmd.OutOrStdout(), filterByChangeType(tbl, changeType))
			return nil
		},
	}
	cmd.Flags().StringVarP(&changeType, "type", "t", "", `Only rows with this Change_Type ("Deleted", "New Insert", "Updated")`)
	return cmd
}

func filterByChangeType(t schema.Table, changeType string) schema.Table {
	changeType = strings.TrimSpace(changeType)
	idx := t.Index(diff.ColChangeType)
	if changeType == "" || idx < 0 {
		return t
	}
	out := schema.Table{Header: t.Header}
	for _, row := range t.Rows {
		if idx < len(row) && strings.EqualFold(strings.TrimSpace(row[idx]), changeType) {
			out.Rows = append(out.Rows, row)
		}
	}
	return out
}

func renderTable(w io.Writer, t schema.Table) {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(true)
	table.SetHeader(t.Header)
	table.AppendBulk(t.Rows)
	table.Render()
	_, _ = fmt.Fprintf(w, "%d rows\n", len(t.Rows))
}
