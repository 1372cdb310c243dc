package testutil

import (
	"github.com/hupe1980/sqlmesh/core"
)

// ConnectionRecordBuilder helps construct connection records with fluent chaining for tests.
// Example:
//
//	rec := NewConnectionRecordBuilder(7).SQLite("test.db").Build()
type ConnectionRecordBuilder struct {
	rec core.ConnectionRecord
}

// NewConnectionRecordBuilder creates a builder for a record with the given id.
func NewConnectionRecordBuilder(id int64) *ConnectionRecordBuilder {
	return &ConnectionRecordBuilder{rec: core.ConnectionRecord{ID: id, Name: "test"}}
}

// Name sets the display name (chainable).
func (b *ConnectionRecordBuilder) Name(name string) *ConnectionRecordBuilder {
	b.rec.Name = name
	return b
}

// DBType sets the raw db type string, which may be unsupported (chainable).
func (b *ConnectionRecordBuilder) DBType(t string) *ConnectionRecordBuilder {
	b.rec.DBType = t
	return b
}

// SQLite configures a sqlite record pointing at path (chainable).
func (b *ConnectionRecordBuilder) SQLite(path string) *ConnectionRecordBuilder {
	b.rec.DBType = string(core.DBTypeSQLite)
	b.rec.DatabaseName = path
	return b
}

// Network configures a mysql or postgresql style record (chainable).
func (b *ConnectionRecordBuilder) Network(t core.DBType, host string, port int, database string) *ConnectionRecordBuilder {
	b.rec.DBType = string(t)
	b.rec.Host = host
	b.rec.Port = port
	b.rec.DatabaseName = database
	return b
}

// Credentials sets username and password (chainable).
func (b *ConnectionRecordBuilder) Credentials(user, password string) *ConnectionRecordBuilder {
	b.rec.Username = user
	b.rec.Password = core.Secret(password)
	return b
}

// Build returns the record.
func (b *ConnectionRecordBuilder) Build() core.ConnectionRecord {
	return b.rec
}
