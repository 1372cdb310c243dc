package registry

import (
	"errors"

	"github.com/hupe1980/sqlmesh/core"
)

var (
	// ErrNotFound is returned when no record exists for an id.
	ErrNotFound = core.ErrNotFound
	// ErrSessionClosed is returned when a closed session is used.
	ErrSessionClosed = errors.New("registry session closed")
	// ErrInvalidRecord is returned by write operations for malformed records.
	ErrInvalidRecord = errors.New("invalid connection record")
)
