package runner

import (
	"context"

	"github.com/hupe1980/sqlmesh/collector"
	"github.com/hupe1980/sqlmesh/core"
	"github.com/hupe1980/sqlmesh/logging"
)

// Deps is what a Registrar receives to build the agent graph of one run.
type Deps struct {
	RunID               string
	DBType              core.DBType
	DataAccess          core.DataAccess
	Collector           *collector.Collector
	UserFeedbackEnabled bool
	Logger              logging.Logger
}

// Registrar registers agent factories and subscriptions on a fresh runtime.
// It is called once per run, before the runtime starts.
type Registrar interface {
	RegisterAll(ctx context.Context, rt core.Runtime, deps Deps) error
}

// RegistrarFunc adapts a function to Registrar.
type RegistrarFunc func(ctx context.Context, rt core.Runtime, deps Deps) error

// RegisterAll implements Registrar.
func (f RegistrarFunc) RegisterAll(ctx context.Context, rt core.Runtime, deps Deps) error {
	return f(ctx, rt, deps)
}
