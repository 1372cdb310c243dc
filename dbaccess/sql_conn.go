package dbaccess

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/hupe1980/sqlmesh/core"
)

// sqlConn adapts a database/sql pool (MySQL, SQLite) to Conn.
type sqlConn struct {
	db *sql.DB
}

func (c *sqlConn) Ping(ctx context.Context) error { return c.db.PingContext(ctx) }

func (c *sqlConn) Close() error { return c.db.Close() }

func (c *sqlConn) Query(ctx context.Context, query string) (*core.Rows, error) {
	if !returnsRows(query) {
		res, err := c.db.ExecContext(ctx, query)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			affected = 0
		}
		return &core.Rows{Columns: []string{}, Values: [][]any{}, RowsAffected: affected}, nil
	}

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

func scanRows(rows *sql.Rows) (*core.Rows, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}
	out := &core.Rows{Columns: cols, Values: [][]any{}}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		out.Values = append(out.Values, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

var returningClause = regexp.MustCompile(`(?i)\bRETURNING\b`)

// returnsRows reports whether query produces a result set: its leading
// keyword (after comments and parentheses) reads rows, or it carries a
// RETURNING clause. Anything else is run through Exec so RowsAffected is
// available.
func returnsRows(query string) bool {
	q := stripLeading(query)
	end := strings.IndexFunc(q, func(r rune) bool {
		return unicode.IsSpace(r) || r == '(' || r == ';'
	})
	if end > 0 {
		q = q[:end]
	}
	switch strings.ToUpper(q) {
	case "SELECT", "WITH", "SHOW", "PRAGMA", "EXPLAIN", "DESCRIBE", "DESC", "VALUES", "TABLE":
		return true
	case "INSERT", "UPDATE", "DELETE", "REPLACE":
		return returningClause.MatchString(query)
	default:
		return false
	}
}

// stripLeading drops whitespace, opening parentheses and comments
// (-- and # line comments, /* */ block comments) in front of the first keyword.
func stripLeading(query string) string {
	q := query
	for {
		q = strings.TrimLeftFunc(q, unicode.IsSpace)
		switch {
		case strings.HasPrefix(q, "("):
			q = q[1:]
		case strings.HasPrefix(q, "--"), strings.HasPrefix(q, "#"):
			i := strings.IndexByte(q, '\n')
			if i < 0 {
				return ""
			}
			q = q[i+1:]
		case strings.HasPrefix(q, "/*"):
			i := strings.Index(q[2:], "*/")
			if i < 0 {
				return ""
			}
			q = q[i+4:]
		default:
			return q
		}
	}
}
