package registry

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/hupe1980/sqlmesh/core"
	"github.com/hupe1980/sqlmesh/logging"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const selectColumns = `id, name, db_type, host, port, database_name, username, password`

// SQLiteStore is a ConnectionRegistry persisted in a SQLite file. It holds no
// open connection between calls: every Session and every admin operation
// opens the file, uses it and closes it again.
type SQLiteStore struct {
	path   string
	logger logging.Logger
}

// NewSQLiteStore returns a store for the database file at path. The schema is
// not touched; call Migrate before first use.
func NewSQLiteStore(path string, optFns ...func(o *SQLiteOptions)) *SQLiteStore {
	opts := SQLiteOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &SQLiteStore{path: path, logger: logging.OrNoOp(opts.Logger)}
}

// SQLiteOptions configures a SQLiteStore.
type SQLiteOptions struct {
	Logger logging.Logger
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) open(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry %s: %w", s.path, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open registry %s: %w", s.path, err)
	}
	return db, nil
}

// Migrate applies all pending schema migrations. It is a no-op when the
// schema is current.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	db, err := s.open(ctx)
	if err != nil {
		return err
	}

	m, err := s.newMigrate(db)
	if err != nil {
		_ = db.Close()
		return err
	}
	// Closing m also closes db.
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			s.logger.Warn("registry migrate close: source=%v database=%v", srcErr, dbErr)
		}
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Version returns the applied schema version. Zero means no migration ran yet.
func (s *SQLiteStore) Version(ctx context.Context) (uint, bool, error) {
	db, err := s.open(ctx)
	if err != nil {
		return 0, false, err
	}
	m, err := s.newMigrate(db)
	if err != nil {
		_ = db.Close()
		return 0, false, err
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (s *SQLiteStore) newMigrate(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{logger: s.logger}
	return m, nil
}

// migrateLogger implements migrate.Logger on top of logging.Logger.
type migrateLogger struct {
	logger logging.Logger
}

func (l *migrateLogger) Printf(format string, v ...any) {
	l.logger.Debug("[migrate] "+strings.TrimRight(format, "\n"), v...)
}

func (l *migrateLogger) Verbose() bool { return false }

// Session implements core.ConnectionRegistry. The returned session owns its
// own database handle, released by Close.
func (s *SQLiteStore) Session(ctx context.Context) (core.RegistrySession, error) {
	db, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	return &sqliteSession{db: db}, nil
}

type sqliteSession struct {
	db *sql.DB
}

func (ss *sqliteSession) Get(ctx context.Context, id int64) (*core.ConnectionRecord, error) {
	if ss.db == nil {
		return nil, ErrSessionClosed
	}
	return getRecord(ctx, ss.db, id)
}

func (ss *sqliteSession) Close() error {
	if ss.db == nil {
		return nil
	}
	err := ss.db.Close()
	ss.db = nil
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*core.ConnectionRecord, error) {
	var (
		r        core.ConnectionRecord
		password string
	)
	if err := row.Scan(&r.ID, &r.Name, &r.DBType, &r.Host, &r.Port, &r.DatabaseName, &r.Username, &password); err != nil {
		return nil, err
	}
	r.Password = core.Secret(password)
	return &r, nil
}

func getRecord(ctx context.Context, db *sql.DB, id int64) (*core.ConnectionRecord, error) {
	row := db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM db_connections WHERE id = ?`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("connection %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load connection %d: %w", id, err)
	}
	return r, nil
}

// Get loads a single record.
func (s *SQLiteStore) Get(ctx context.Context, id int64) (*core.ConnectionRecord, error) {
	db, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return getRecord(ctx, db, id)
}

// List returns all records ordered by id.
func (s *SQLiteStore) List(ctx context.Context) ([]core.ConnectionRecord, error) {
	db, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `SELECT `+selectColumns+` FROM db_connections ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	var out []core.ConnectionRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// Create inserts r and returns the assigned id. r.ID is ignored.
func (s *SQLiteStore) Create(ctx context.Context, r core.ConnectionRecord) (int64, error) {
	if err := validateRecord(r); err != nil {
		return 0, err
	}
	db, err := s.open(ctx)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	res, err := db.ExecContext(ctx,
		`INSERT INTO db_connections (name, db_type, host, port, database_name, username, password)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.Name, r.DBType, r.Host, r.Port, r.DatabaseName, r.Username, r.Password.Reveal())
	if err != nil {
		return 0, fmt.Errorf("failed to create connection: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read connection id: %w", err)
	}
	s.logger.Info("registry: created connection id=%d type=%s", id, r.DBType)
	return id, nil
}

// Update overwrites the record with r.ID.
func (s *SQLiteStore) Update(ctx context.Context, r core.ConnectionRecord) error {
	if err := validateRecord(r); err != nil {
		return err
	}
	db, err := s.open(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	res, err := db.ExecContext(ctx,
		`UPDATE db_connections
		 SET name = ?, db_type = ?, host = ?, port = ?, database_name = ?, username = ?, password = ?,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		r.Name, r.DBType, r.Host, r.Port, r.DatabaseName, r.Username, r.Password.Reveal(), r.ID)
	if err != nil {
		return fmt.Errorf("failed to update connection %d: %w", r.ID, err)
	}
	return requireAffected(res, r.ID)
}

// Delete removes the record with id.
func (s *SQLiteStore) Delete(ctx context.Context, id int64) error {
	db, err := s.open(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	res, err := db.ExecContext(ctx, `DELETE FROM db_connections WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete connection %d: %w", id, err)
	}
	return requireAffected(res, id)
}

func requireAffected(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("connection %d: %w", id, ErrNotFound)
	}
	return nil
}

func validateRecord(r core.ConnectionRecord) error {
	if strings.TrimSpace(r.DBType) == "" {
		return fmt.Errorf("%w: db_type is required", ErrInvalidRecord)
	}
	if r.Type() == core.DBTypeSQLite && r.DatabaseName == "" {
		return fmt.Errorf("%w: sqlite connections need a database file path", ErrInvalidRecord)
	}
	return nil
}
