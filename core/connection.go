package core

import (
	"encoding/json"
	"strings"
)

// DBType identifies the kind of backing store a connection points at.
type DBType string

const (
	DBTypeMySQL      DBType = "mysql"
	DBTypePostgreSQL DBType = "postgresql"
	DBTypeSQLite     DBType = "sqlite"
)

// DefaultDBType is reported when no connection could be resolved.
const DefaultDBType = DBTypeMySQL

// ParseDBType normalizes s case-insensitively. Unknown values are returned
// lower-cased so callers can still report them; use Supported to check.
func ParseDBType(s string) DBType {
	return DBType(strings.ToLower(strings.TrimSpace(s)))
}

// Supported reports whether a driver exists for t.
func (t DBType) Supported() bool {
	switch t {
	case DBTypeMySQL, DBTypePostgreSQL, DBTypeSQLite:
		return true
	default:
		return false
	}
}

// String implements fmt.Stringer.
func (t DBType) String() string { return string(t) }

// Secret holds a credential. It never prints or serializes its value.
type Secret string

// Reveal returns the raw secret value.
func (s Secret) Reveal() string { return string(s) }

// String implements fmt.Stringer with a redacted value.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "******"
}

// GoString keeps %#v from leaking the value.
func (s Secret) GoString() string { return s.String() }

// MarshalJSON redacts the value.
func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

// MarshalYAML redacts the value.
func (s Secret) MarshalYAML() (any, error) { return s.String(), nil }

// ConnectionRecord describes one registered data store. Records are owned by
// the registry and are read-only to the pipeline.
type ConnectionRecord struct {
	ID           int64  `json:"id" yaml:"id"`
	Name         string `json:"name,omitempty" yaml:"name,omitempty"`
	DBType       string `json:"db_type" yaml:"db_type"`
	Host         string `json:"host,omitempty" yaml:"host,omitempty"`
	Port         int    `json:"port,omitempty" yaml:"port,omitempty"`
	DatabaseName string `json:"database_name" yaml:"database_name"`
	Username     string `json:"username,omitempty" yaml:"username,omitempty"`
	Password     Secret `json:"password,omitempty" yaml:"password,omitempty"`
}

// Type returns the normalized database type of the record.
func (r ConnectionRecord) Type() DBType { return ParseDBType(r.DBType) }

// ConnectParams returns the driver parameters for the record. SQLite only
// uses the database name (a file path); the network fields are left empty.
func (r ConnectionRecord) ConnectParams() ConnectParams {
	if r.Type() == DBTypeSQLite {
		return ConnectParams{DBType: DBTypeSQLite, Database: r.DatabaseName}
	}
	return ConnectParams{
		DBType:   r.Type(),
		Host:     r.Host,
		Port:     r.Port,
		Database: r.DatabaseName,
		User:     r.Username,
		Password: r.Password,
	}
}

// ConnectParams is the driver specific parameter set used to open a store.
type ConnectParams struct {
	DBType   DBType
	Host     string
	Port     int
	Database string
	User     string
	Password Secret
}
