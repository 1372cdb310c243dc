package demo

import "github.com/hupe1980/sqlmesh/core"

// SchemaContext is published by the schema retriever.
type SchemaContext struct {
	Query  string
	Tables []string
	// Err is set when the schema could not be read.
	Err error
}

// Analysis is published by the query analyzer.
type Analysis struct {
	Query  string
	Tables []string
	// Intent is one of "sql", "list_tables", "count", "preview" or "unknown".
	Intent string
	Table  string
	// SQL is set when the query already is a SQL statement.
	SQL string
}

// GeneratedSQL is published by the SQL generator.
type GeneratedSQL struct {
	Query string
	SQL   string
}

// ExecutionResult is published by the SQL executor.
type ExecutionResult struct {
	SQL  string
	Rows *core.Rows
}
