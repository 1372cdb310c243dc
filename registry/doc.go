// Package registry provides ConnectionRegistry implementations.
//
// InMemoryStore keeps records in a process local map and is suited for tests
// and demos. SQLiteStore persists records in a SQLite file whose schema is
// managed by embedded golang-migrate migrations. Both hand out scoped
// sessions: every lookup acquires a session, uses it and closes it.
package registry
