// Package resolver turns an optional connection id into a DataAccess handle.
//
// Resolution never fails from the caller's point of view: every registry,
// driver or configuration problem is logged once and absorbed into a
// disabled handle, so the pipeline always runs with a well-formed capability.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/sqlmesh/core"
	"github.com/hupe1980/sqlmesh/dbaccess"
	"github.com/hupe1980/sqlmesh/logging"
	"github.com/hupe1980/sqlmesh/metrics"
)

// Options holds dependency overrides passed to New().
type Options struct {
	// Connector opens driver connections. Defaults to dbaccess.NewDriverConnector().
	Connector dbaccess.Connector
	// DefaultDBType is reported when no record could be loaded.
	DefaultDBType core.DBType
	// Logger receives one warning per absorbed failure.
	Logger logging.Logger
	// Metrics is optional.
	Metrics *metrics.Collector
}

// Resolution is the detailed outcome of a resolve call.
type Resolution struct {
	// Handle is never nil.
	Handle core.DataAccess
	// DBType is the record's type when a record was found, the default otherwise.
	DBType core.DBType
	// Err is the absorbed failure, nil when Handle is connected or no id was given.
	Err error
}

// Resolver looks up connection records and opens handles. It keeps no state
// between calls; concurrent use is safe.
type Resolver struct {
	registry      core.ConnectionRegistry
	connector     dbaccess.Connector
	defaultDBType core.DBType
	logger        logging.Logger
	metrics       *metrics.Collector
}

// New constructs a Resolver backed by registry.
func New(registry core.ConnectionRegistry, optFns ...func(o *Options)) *Resolver {
	opts := Options{
		Connector:     dbaccess.NewDriverConnector(),
		DefaultDBType: core.DefaultDBType,
		Logger:        logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Resolver{
		registry:      registry,
		connector:     opts.Connector,
		defaultDBType: opts.DefaultDBType,
		logger:        logging.OrNoOp(opts.Logger),
		metrics:       opts.Metrics,
	}
}

// Resolve returns a handle for connectionID and the db type it is bound to.
func (r *Resolver) Resolve(ctx context.Context, connectionID *int64) (core.DataAccess, core.DBType) {
	res := r.ResolveDetailed(ctx, connectionID)
	return res.Handle, res.DBType
}

// ResolveDetailed is Resolve exposing the absorbed error.
func (r *Resolver) ResolveDetailed(ctx context.Context, connectionID *int64) Resolution {
	res := r.resolve(ctx, connectionID)
	r.metrics.ObserveResolution(res.DBType.String(), res.Handle.Connected())
	return res
}

func (r *Resolver) resolve(ctx context.Context, connectionID *int64) Resolution {
	// Registries never assign id 0, so it means "no connection" like nil.
	if connectionID == nil || *connectionID == 0 {
		return r.disabled(r.defaultDBType, nil)
	}
	id := *connectionID

	record, err := r.lookup(ctx, id)
	if err != nil {
		r.logger.Warn("failed to resolve connection %d: %v", id, err)
		return r.disabled(r.defaultDBType, core.NewError(core.ErrorTypeResolution, "resolve", fmt.Sprintf("connection %d", id), err))
	}

	dbType := record.Type()
	if !dbType.Supported() {
		r.logger.Warn("unsupported database type %q for connection %d", record.DBType, id)
		return r.disabled(dbType, core.NewError(core.ErrorTypeUnsupportedStore, "resolve", fmt.Sprintf("unsupported database type %q", record.DBType), nil))
	}

	handle, err := r.connect(ctx, record.ConnectParams())
	if err != nil {
		r.logger.Warn("failed to connect %s database for connection %d: %v", dbType, id, err)
		if !core.IsType(err, core.ErrorTypeConnection) {
			err = core.NewError(core.ErrorTypeConnection, dbType.String(), "failed to connect", err)
		}
		return r.disabled(dbType, err)
	}

	r.logger.Info("connected %s database for connection %d", dbType, id)
	return Resolution{Handle: handle, DBType: dbType}
}

// lookup loads one record inside a scoped registry session. The session is
// released on every path.
func (r *Resolver) lookup(ctx context.Context, id int64) (record *core.ConnectionRecord, err error) {
	if r.registry == nil {
		return nil, errors.New("no connection registry configured")
	}

	session, err := r.registry.Session(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry session: %w", err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			r.logger.Warn("error closing registry session: %v", cerr)
		}
	}()

	record, err = session.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("connection %d: %w", id, core.ErrNotFound)
	}
	return record, nil
}

// connect calls the connector and converts a panic into a connection error.
func (r *Resolver) connect(ctx context.Context, params core.ConnectParams) (handle core.DataAccess, err error) {
	defer func() {
		if p := recover(); p != nil {
			handle, err = nil, fmt.Errorf("connector panic: %v", p)
		}
	}()

	handle, err = r.connector.Connect(ctx, params)
	if err == nil && handle == nil {
		err = errors.New("connector returned no handle")
	}
	return handle, err
}

func (r *Resolver) disabled(dbType core.DBType, err error) Resolution {
	return Resolution{Handle: dbaccess.NewDisabled(dbType), DBType: dbType, Err: err}
}
