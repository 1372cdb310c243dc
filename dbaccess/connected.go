package dbaccess

import (
	"context"
	"sync"

	"github.com/hupe1980/sqlmesh/core"
)

// Conn is the driver level connection wrapped by Connected.
type Conn interface {
	Query(ctx context.Context, sql string) (*core.Rows, error)
	Ping(ctx context.Context) error
	Close() error
}

// Connected is a DataAccess bound to a live store.
type Connected struct {
	dbType core.DBType
	conn   Conn

	closeOnce sync.Once
	closeErr  error
}

// NewConnected wraps conn.
func NewConnected(dbType core.DBType, conn Conn) *Connected {
	return &Connected{dbType: dbType, conn: conn}
}

// DBType implements core.DataAccess.
func (c *Connected) DBType() core.DBType { return c.dbType }

// Connected implements core.DataAccess. Always true.
func (c *Connected) Connected() bool { return true }

// Execute implements core.DataAccess.
func (c *Connected) Execute(ctx context.Context, sql string) (*core.Rows, error) {
	rows, err := c.conn.Query(ctx, sql)
	if err != nil {
		return nil, core.NewError(core.ErrorTypeExecution, string(c.dbType), "", err)
	}
	return rows, nil
}

// Close implements core.DataAccess. It is safe to call more than once.
func (c *Connected) Close() error {
	c.closeOnce.Do(func() { c.closeErr = c.conn.Close() })
	return c.closeErr
}
