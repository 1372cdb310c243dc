package core

import "context"

// DataAccess is the uniform capability handed to agents for running SQL
// against the store a run targets. A run always owns exactly one DataAccess;
// when resolution fails it is a disabled handle whose Execute always fails.
type DataAccess interface {
	// DBType is the store type the handle is bound to.
	DBType() DBType
	// Connected reports whether the handle is bound to a real store. It is
	// fixed at construction.
	Connected() bool
	// Execute runs sql and returns its rows. Failures are ErrExecution.
	Execute(ctx context.Context, sql string) (*Rows, error)
	// Close releases the underlying connection, if any.
	Close() error
}

// Rows is a materialized SQL result.
type Rows struct {
	Columns []string `json:"columns"`
	Values  [][]any  `json:"rows"`
	// RowsAffected is set for statements that do not return rows.
	RowsAffected int64 `json:"rows_affected,omitempty"`
}

// Len returns the number of rows.
func (r *Rows) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Values)
}

// Maps returns the rows as column-keyed maps preserving row order.
func (r *Rows) Maps() []map[string]any {
	if r == nil {
		return nil
	}
	out := make([]map[string]any, 0, len(r.Values))
	for _, row := range r.Values {
		m := make(map[string]any, len(r.Columns))
		for i, col := range r.Columns {
			if i < len(row) {
				m[col] = row[i]
			}
		}
		out = append(out, m)
	}
	return out
}
