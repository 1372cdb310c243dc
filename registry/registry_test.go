package registry

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sqlmesh/core"
)

// Interface compliance (compile-time assertions)
var (
	_ core.ConnectionRegistry = (*InMemoryStore)(nil)
	_ core.ConnectionRegistry = (*SQLiteStore)(nil)
)

func TestInMemoryStore_SessionLookup(t *testing.T) {
	s := NewInMemoryStore(core.ConnectionRecord{ID: 7, DBType: "sqlite", DatabaseName: "test.db"})

	sess, err := s.Session(context.Background())
	require.NoError(t, err)

	r, err := sess.Get(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "test.db", r.DatabaseName)

	// Mutating the returned copy must not leak into the store.
	r.DatabaseName = "changed.db"
	again, err := sess.Get(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "test.db", again.DatabaseName)

	_, err = sess.Get(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, core.ErrNotFound)

	require.NoError(t, sess.Close())
	_, err = sess.Get(context.Background(), 7)
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestInMemoryStore_PutAssignsIDs(t *testing.T) {
	s := NewInMemoryStore()
	id1, err := s.Put(core.ConnectionRecord{DBType: "mysql"})
	require.NoError(t, err)
	id2, err := s.Put(core.ConnectionRecord{DBType: "postgresql"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id1)
	assert.Equal(t, int64(2), id2)

	_, err = s.Put(core.ConnectionRecord{})
	assert.ErrorIs(t, err, ErrInvalidRecord)

	require.NoError(t, s.Delete(id1))
	assert.ErrorIs(t, s.Delete(id1), ErrNotFound)
	assert.Len(t, s.List(), 1)
}

func TestInMemoryStore_OpenErr(t *testing.T) {
	s := NewInMemoryStore()
	s.OpenErr = errors.New("registry unreachable")
	_, err := s.Session(context.Background())
	assert.EqualError(t, err, "registry unreachable")
}

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s := NewSQLiteStore(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestSQLiteStore_Migrate(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	version, dirty, err := s.Version(ctx)
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(2), version)

	// Re-running is a no-op.
	require.NoError(t, s.Migrate(ctx))
}

func TestSQLiteStore_CRUD(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	id, err := s.Create(ctx, core.ConnectionRecord{
		Name:         "warehouse",
		DBType:       "PostgreSQL",
		Host:         "db.local",
		Port:         5432,
		DatabaseName: "sales",
		Username:     "analyst",
		Password:     "s3cret",
	})
	require.NoError(t, err)

	r, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "warehouse", r.Name)
	assert.Equal(t, core.DBTypePostgreSQL, r.Type())
	assert.Equal(t, "s3cret", r.Password.Reveal())

	r.Host = "db2.local"
	require.NoError(t, s.Update(ctx, *r))

	sess, err := s.Session(ctx)
	require.NoError(t, err)
	got, err := sess.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "db2.local", got.Host)
	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())

	_, err = sess.Get(ctx, id)
	assert.ErrorIs(t, err, ErrSessionClosed)

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.Delete(ctx, id))
	assert.ErrorIs(t, s.Delete(ctx, id), ErrNotFound)
	_, err = s.Get(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_Validation(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, core.ConnectionRecord{})
	assert.ErrorIs(t, err, ErrInvalidRecord)

	_, err = s.Create(ctx, core.ConnectionRecord{DBType: "sqlite"})
	assert.ErrorIs(t, err, ErrInvalidRecord)

	err = s.Update(ctx, core.ConnectionRecord{ID: 42, DBType: "mysql"})
	assert.ErrorIs(t, err, ErrNotFound)
}
