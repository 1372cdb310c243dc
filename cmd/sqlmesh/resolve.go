package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newResolveCmd(a *app) *cobra.Command {
	var query string

	cmd := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Resolve a connection and optionally run SQL through it",
		Long: `Resolve a registered connection exactly as a pipeline run would and report
whether a live handle was obtained. With --sql the statement is executed through
the handle, which fails with "data store not configured" when resolution fell
back to a disabled handle.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.store.Migrate(cmd.Context()); err != nil {
				return err
			}

			res := a.mesh().Resolve(cmd.Context(), &id)
			defer res.Handle.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "db_type:   %s\n", res.DBType)
			fmt.Fprintf(out, "connected: %t\n", res.Handle.Connected())
			if res.Err != nil {
				fmt.Fprintf(out, "error:     %v\n", res.Err)
			}

			if query == "" {
				return nil
			}

			rows, err := res.Handle.Execute(cmd.Context(), query)
			if err != nil {
				return err
			}
			printRows(out, rows)
			return nil
		},
	}

	cmd.Flags().StringVar(&query, "sql", "", "SQL statement to execute through the resolved handle")

	return cmd
}
