// Package dbaccess implements the two DataAccess variants handed to agents:
//
//   - Connected wraps a live driver connection (MySQL, PostgreSQL or SQLite)
//   - Disabled carries no transport state and fails every Execute call
//
// Which variant a run receives is decided once by the resolver and never
// changes afterwards. DriverConnector opens Connected handles for the
// supported database types; tests substitute their own Connector.
package dbaccess
