package dbaccess

import (
	"context"

	"github.com/hupe1980/sqlmesh/core"
)

// Disabled is a DataAccess that is not bound to any store. Every Execute
// fails with a core.ErrExecution wrapping core.ErrNotConfigured.
type Disabled struct {
	dbType core.DBType
}

// NewDisabled returns a disabled handle reporting dbType.
func NewDisabled(dbType core.DBType) *Disabled {
	if dbType == "" {
		dbType = core.DefaultDBType
	}
	return &Disabled{dbType: dbType}
}

// DBType implements core.DataAccess.
func (d *Disabled) DBType() core.DBType { return d.dbType }

// Connected implements core.DataAccess. Always false.
func (d *Disabled) Connected() bool { return false }

// Execute implements core.DataAccess. It never returns rows.
func (d *Disabled) Execute(_ context.Context, _ string) (*core.Rows, error) {
	return nil, core.NewError(core.ErrorTypeExecution, "", "", core.ErrNotConfigured)
}

// Close implements core.DataAccess. No-op.
func (d *Disabled) Close() error { return nil }
