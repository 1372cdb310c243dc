package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/sqlmesh/core"
)

func newConnectionsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "connections",
		Aliases: []string{"conn"},
		Short:   "Manage registered database connections",
	}

	cmd.AddCommand(
		newConnectionsAddCmd(a),
		newConnectionsListCmd(a),
		newConnectionsGetCmd(a),
		newConnectionsDeleteCmd(a),
	)

	return cmd
}

func newConnectionsAddCmd(a *app) *cobra.Command {
	var r core.ConnectionRecord
	var password string

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a connection",
		Long: `Register a connection in the registry.

SQLite connections only need --database (the database file path):
  sqlmesh connections add local --type sqlite --database ./shop.db

Network stores need host, port and credentials:
  sqlmesh connections add warehouse --type postgresql --host db --port 5432 \
    --database shop --user app --password secret`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r.Name = args[0]
			r.Password = core.Secret(password)

			if err := a.store.Migrate(cmd.Context()); err != nil {
				return err
			}
			id, err := a.store.Create(cmd.Context(), r)
			if err != nil {
				return fmt.Errorf("failed to add connection: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Added connection %d (%s)\n", id, r.Name)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&r.DBType, "type", "", "database type (mysql, postgresql, sqlite)")
	f.StringVar(&r.Host, "host", "", "database host")
	f.IntVar(&r.Port, "port", 0, "database port")
	f.StringVar(&r.DatabaseName, "database", "", "database name, or file path for sqlite")
	f.StringVar(&r.Username, "user", "", "database user")
	f.StringVar(&password, "password", "", "database password")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}

func newConnectionsListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered connections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.store.Migrate(cmd.Context()); err != nil {
				return err
			}
			records, err := a.store.List(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "No connections registered")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tTYPE\tHOST\tDATABASE")
			for _, r := range records {
				host := r.Host
				if r.Port > 0 {
					host = fmt.Sprintf("%s:%d", r.Host, r.Port)
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", r.ID, r.Name, r.Type(), host, r.DatabaseName)
			}
			return w.Flush()
		},
	}
}

func newConnectionsGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one connection (password redacted)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.store.Migrate(cmd.Context()); err != nil {
				return err
			}
			r, err := a.store.Get(cmd.Context(), id)
			if err != nil {
				return err
			}

			data, err := yaml.Marshal(r)
			if err != nil {
				return fmt.Errorf("failed to marshal connection: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newConnectionsDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Remove a connection",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.store.Migrate(cmd.Context()); err != nil {
				return err
			}
			if err := a.store.Delete(cmd.Context(), id); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Deleted connection %d\n", id)
			return nil
		},
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid connection id %q", s)
	}
	return id, nil
}
