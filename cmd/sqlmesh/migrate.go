package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/sqlmesh/registry"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply registry schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.store.Migrate(cmd.Context()); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			store, ok := a.store.(*registry.SQLiteStore)
			if !ok {
				fmt.Fprintln(out, "Registry is in memory, nothing to migrate")
				return nil
			}

			version, dirty, err := store.Version(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Registry %s at schema version %d", store.Path(), version)
			if dirty {
				fmt.Fprint(out, " (dirty)")
			}
			fmt.Fprintln(out)
			return nil
		},
	}
}
