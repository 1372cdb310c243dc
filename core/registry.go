package core

import "context"

// ConnectionRegistry hands out scoped sessions for looking up connection
// records. Sessions must be closed by the caller; the pipeline never keeps one
// open beyond a single resolution.
type ConnectionRegistry interface {
	Session(ctx context.Context) (RegistrySession, error)
}

// RegistrySession is a short lived handle onto the registry.
type RegistrySession interface {
	// Get returns the record with the given id or an error matching ErrNotFound.
	Get(ctx context.Context, id int64) (*ConnectionRecord, error)
	Close() error
}
