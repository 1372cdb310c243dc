package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/hupe1980/sqlmesh/core"
)

func newQueryCmd(a *app) *cobra.Command {
	var (
		connectionID int64
		feedback     bool
		showMetrics  bool
	)

	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Run the pipeline for a natural language question",
		Long: `Run the demo agent pipeline for a question and print every message it
streams. Without --connection the run uses a disabled data store.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id *int64
			if cmd.Flags().Changed("connection") {
				if err := a.store.Migrate(cmd.Context()); err != nil {
					return err
				}
				id = &connectionID
			}
			if !cmd.Flags().Changed("feedback") {
				feedback = a.cfg.Runner.UserFeedback
			}

			out := cmd.OutOrStdout()
			question := strings.Join(args, " ")

			messages, errs := a.mesh().Stream(cmd.Context(), question, id, feedback)
			for msg := range messages {
				printMessage(out, msg)
			}
			runErr := <-errs

			if showMetrics && a.promReg != nil {
				if err := writeMetrics(out, a); err != nil {
					return err
				}
			}
			return runErr
		},
	}

	f := cmd.Flags()
	f.Int64VarP(&connectionID, "connection", "c", 0, "registered connection id")
	f.BoolVar(&feedback, "feedback", false, "emit user feedback messages")
	f.BoolVar(&showMetrics, "metrics", false, "print collected metrics after the run (requires metrics.enabled)")

	return cmd
}

func printMessage(w io.Writer, msg core.ResponseMessage) {
	marker := "…"
	if msg.IsFinal {
		marker = "✓"
	}
	label := msg.Source
	if msg.Region != "" {
		label += "/" + msg.Region
	}
	fmt.Fprintf(w, "%s [%s] %s\n", marker, label, msg.Content)

	if rows, ok := msg.Result.(*core.Rows); ok && rows != nil {
		printRows(w, rows)
	}
}

func printRows(w io.Writer, rows *core.Rows) {
	if len(rows.Columns) == 0 {
		fmt.Fprintf(w, "(%d rows affected)\n", rows.RowsAffected)
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(rows.Columns, "\t"))
	for _, row := range rows.Values {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = fmt.Sprint(v)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "(%d rows)\n", rows.Len())
}

func writeMetrics(w io.Writer, a *app) error {
	families, err := a.promReg.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	fmt.Fprintln(w)
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
