package dbaccess

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hupe1980/sqlmesh/core"
)

// pgConn adapts a pgx pool to Conn.
type pgConn struct {
	pool *pgxpool.Pool
}

func (c *pgConn) Ping(ctx context.Context) error { return c.pool.Ping(ctx) }

func (c *pgConn) Close() error {
	c.pool.Close()
	return nil
}

func (c *pgConn) Query(ctx context.Context, query string) (*core.Rows, error) {
	rows, err := c.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fds := rows.FieldDescriptions()
	cols := make([]string, len(fds))
	for i, fd := range fds {
		cols[i] = fd.Name
	}

	out := &core.Rows{Columns: cols, Values: [][]any{}}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		out.Values = append(out.Values, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		out.RowsAffected = rows.CommandTag().RowsAffected()
	}
	return out, nil
}
