package dbaccess

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/hupe1980/sqlmesh/core"
)

const (
	defaultMySQLPort    = 3306
	defaultPostgresPort = 5432
	defaultDialTimeout  = 10 * time.Second
)

// Connector opens a connected DataAccess for a set of parameters.
type Connector interface {
	Connect(ctx context.Context, params core.ConnectParams) (core.DataAccess, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context, params core.ConnectParams) (core.DataAccess, error)

// Connect implements Connector.
func (f ConnectorFunc) Connect(ctx context.Context, params core.ConnectParams) (core.DataAccess, error) {
	return f(ctx, params)
}

// DriverConnector opens real driver connections. A connection is pinged once
// before it is handed out; there are no retries.
type DriverConnector struct {
	// DialTimeout bounds the initial ping. Zero uses a 10s default.
	DialTimeout time.Duration
	// MaxOpenConns caps the database/sql pool (MySQL, SQLite). Zero keeps the driver default.
	MaxOpenConns int
}

// NewDriverConnector returns a DriverConnector with defaults.
func NewDriverConnector() *DriverConnector {
	return &DriverConnector{DialTimeout: defaultDialTimeout}
}

// Connect implements Connector.
func (d *DriverConnector) Connect(ctx context.Context, params core.ConnectParams) (core.DataAccess, error) {
	var (
		conn Conn
		err  error
	)

	switch params.DBType {
	case core.DBTypeMySQL:
		conn, err = d.openSQL("mysql", MySQLDSN(params))
	case core.DBTypePostgreSQL:
		conn, err = d.openPostgres(ctx, PostgresDSN(params))
	case core.DBTypeSQLite:
		if params.Database == "" {
			return nil, core.NewError(core.ErrorTypeConnection, "sqlite", "database path is empty", nil)
		}
		conn, err = d.openSQL("sqlite", params.Database)
	default:
		return nil, core.NewError(core.ErrorTypeUnsupportedStore, "", fmt.Sprintf("unsupported database type %q", params.DBType), nil)
	}
	if err != nil {
		return nil, core.NewError(core.ErrorTypeConnection, string(params.DBType), "failed to open connection", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, d.dialTimeout())
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		_ = conn.Close()
		return nil, core.NewError(core.ErrorTypeConnection, string(params.DBType), "failed to connect", err)
	}

	return NewConnected(params.DBType, conn), nil
}

func (d *DriverConnector) dialTimeout() time.Duration {
	if d.DialTimeout <= 0 {
		return defaultDialTimeout
	}
	return d.DialTimeout
}

func (d *DriverConnector) openSQL(driverName, dsn string) (Conn, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	if d.MaxOpenConns > 0 {
		db.SetMaxOpenConns(d.MaxOpenConns)
	}
	return &sqlConn{db: db}, nil
}

func (d *DriverConnector) openPostgres(ctx context.Context, dsn string) (Conn, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if d.MaxOpenConns > 0 {
		cfg.MaxConns = int32(d.MaxOpenConns)
	}
	cfg.ConnConfig.ConnectTimeout = d.dialTimeout()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return &pgConn{pool: pool}, nil
}

// MySQLDSN formats params as a go-sql-driver/mysql DSN.
func MySQLDSN(params core.ConnectParams) string {
	port := params.Port
	if port == 0 {
		port = defaultMySQLPort
	}
	cfg := mysql.NewConfig()
	cfg.User = params.User
	cfg.Passwd = params.Password.Reveal()
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(params.Host, strconv.Itoa(port))
	cfg.DBName = params.Database
	cfg.ParseTime = true
	return cfg.FormatDSN()
}

// PostgresDSN formats params as a postgres:// URL understood by pgx.
func PostgresDSN(params core.ConnectParams) string {
	port := params.Port
	if port == 0 {
		port = defaultPostgresPort
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(params.Host, strconv.Itoa(port)),
		Path:   "/" + params.Database,
	}
	if params.User != "" {
		if params.Password != "" {
			u.User = url.UserPassword(params.User, params.Password.Reveal())
		} else {
			u.User = url.User(params.User)
		}
	}
	return u.String()
}
