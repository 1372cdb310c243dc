package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/hupe1980/sqlmesh"
	"github.com/hupe1980/sqlmesh/cmd/sqlmesh/demo"
	"github.com/hupe1980/sqlmesh/config"
	"github.com/hupe1980/sqlmesh/core"
	"github.com/hupe1980/sqlmesh/logging"
	"github.com/hupe1980/sqlmesh/metrics"
	"github.com/hupe1980/sqlmesh/registry"
)

// app holds the dependencies built from the effective configuration.
type app struct {
	cfg     *config.Config
	logger  logging.Logger
	sync    func() error
	store   connectionStore
	promReg *prometheus.Registry
	metrics *metrics.Collector
}

func newRootCmd() *cobra.Command {
	var (
		configFile string
		a          = &app{}
	)

	rootCmd := &cobra.Command{
		Use:           "sqlmesh",
		Short:         "Text-to-SQL pipeline orchestration",
		Long:          `sqlmesh resolves registered database connections and runs the agent pipeline that turns a natural language question into SQL.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(configFile)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if a.sync != nil {
				_ = a.sync()
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is $XDG_CONFIG_HOME/sqlmesh/config.yaml)")

	rootCmd.AddCommand(
		newConnectionsCmd(a),
		newMigrateCmd(a),
		newResolveCmd(a),
		newQueryCmd(a),
		newConfigCmd(a),
	)

	return rootCmd
}

func (a *app) init(configFile string) error {
	v, err := config.NewViper(configFile)
	if err != nil {
		return err
	}

	cfg, err := config.Load(v)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg

	if err := a.initLogger(); err != nil {
		return err
	}

	switch cfg.Registry.Driver {
	case "memory":
		a.store = newMemoryStore()
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.Registry.Path), 0o755); err != nil {
			return fmt.Errorf("failed to create registry dir: %w", err)
		}
		a.store = registry.NewSQLiteStore(cfg.Registry.Path, func(o *registry.SQLiteOptions) {
			o.Logger = a.logger
		})
	}

	if cfg.Metrics.Enabled {
		a.promReg = prometheus.NewRegistry()
		a.metrics = metrics.NewCollector(a.promReg, func(o *metrics.Options) {
			o.Namespace = cfg.Metrics.Namespace
		})
	}

	return nil
}

func (a *app) initLogger() error {
	lc := a.cfg.Logging
	if lc.Backend == "slog" {
		format := "text"
		if lc.Encoding == "json" {
			format = "json"
		}
		a.logger = logging.NewSlogLogger(logging.SlogConfig{Level: logging.ParseLevel(lc.Level), Format: format})
		return nil
	}

	zl, err := logging.NewZapLogger(logging.ZapConfig{
		Level:       lc.Level,
		Encoding:    lc.Encoding,
		Development: lc.Development,
	})
	if err != nil {
		return err
	}
	a.logger = logging.NewZapAdapter(zl)
	a.sync = func() error { return zl.Sync() }
	return nil
}

// mesh builds the pipeline façade with the demo agent set.
func (a *app) mesh() *sqlmesh.SQLMesh {
	return sqlmesh.New(a.store, demo.Registrar{}, func(o *sqlmesh.Options) {
		o.DefaultDBType = core.ParseDBType(a.cfg.Runner.DefaultDBType)
		o.Timeout = a.cfg.Runner.Timeout
		o.BufferSize = a.cfg.Collector.BufferSize
		o.Metrics = a.metrics
		o.Logger = a.logger
	})
}

// connectionStore is the registry surface the CLI administers.
type connectionStore interface {
	core.ConnectionRegistry
	Migrate(ctx context.Context) error
	Create(ctx context.Context, r core.ConnectionRecord) (int64, error)
	Get(ctx context.Context, id int64) (*core.ConnectionRecord, error)
	List(ctx context.Context) ([]core.ConnectionRecord, error)
	Delete(ctx context.Context, id int64) error
}

var (
	_ connectionStore = (*registry.SQLiteStore)(nil)
	_ connectionStore = (*memoryStore)(nil)
)

// memoryStore adapts the volatile registry; its contents live for one command.
type memoryStore struct {
	*registry.InMemoryStore
}

func newMemoryStore() *memoryStore {
	return &memoryStore{registry.NewInMemoryStore()}
}

func (m *memoryStore) Migrate(context.Context) error { return nil }

func (m *memoryStore) Create(_ context.Context, r core.ConnectionRecord) (int64, error) {
	return m.Put(r)
}

func (m *memoryStore) Get(ctx context.Context, id int64) (*core.ConnectionRecord, error) {
	s, err := m.Session(ctx)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return s.Get(ctx, id)
}

func (m *memoryStore) List(context.Context) ([]core.ConnectionRecord, error) {
	return m.InMemoryStore.List(), nil
}

func (m *memoryStore) Delete(_ context.Context, id int64) error {
	return m.InMemoryStore.Delete(id)
}
