package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/koustreak/sqlpoll/internal/database"
	"github.com/koustreak/sqlpoll/internal/errs"
)

func init() {
	database.Register(func(ctx context.Context, cfg *database.Config) (database.DB, error) {
		return New(ctx, cfg)
	}, database.DriverPostgres, "postgresql", "pgx")
}

// PostgreSQL SQLSTATE classes and codes that change how an error is reported.
// Full list: https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	pgClassConnection     = "08"
	pgClassInvalidAuth    = "28"
	pgClassInsufficient   = "53"
	pgErrQueryCanceled    = "57014"
	pgErrAdminShutdown    = "57P01"
	pgErrCannotConnectNow = "57P03"
)

// Driver is a PostgreSQL implementation of database.DB backed by pgxpool.
// It is safe for concurrent use by multiple goroutines.
type Driver struct {
	pool *pgxpool.Pool
}

// New connects to PostgreSQL using the provided Config and returns a Driver.
// It calls Ping to validate the connection before returning.
func New(ctx context.Context, cfg *database.Config) (*Driver, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConfiguration, "invalid DSN", err)
	}

	if cfg.User != "" {
		poolCfg.ConnConfig.User = cfg.User
	}
	if cfg.Password != "" {
		poolCfg.ConnConfig.Password = cfg.Password
	}
	for k, v := range cfg.Options {
		poolCfg.ConnConfig.RuntimeParams[k] = v
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MinConns = cfg.MinConns
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "failed to create connection pool", err)
	}

	d := &Driver{pool: pool}

	if err := d.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return d, nil
}

// --- database.DB implementation ---

// Ping verifies the database is reachable by acquiring and releasing a connection.
func (d *Driver) Ping(ctx context.Context) error {
	if err := d.pool.Ping(ctx); err != nil {
		return mapError(err, "ping failed")
	}
	return nil
}

// Conn acquires one session from the pool.
func (d *Driver) Conn(ctx context.Context) (database.Conn, error) {
	c, err := d.pool.Acquire(ctx)
	if err != nil {
		return nil, mapError(err, "failed to acquire connection")
	}
	return &pgConn{conn: c}, nil
}

// Dialect reports $n placeholders.
func (d *Driver) Dialect() database.Dialect {
	return database.DialectPostgres
}

// Close drains the connection pool. Call when the application shuts down.
func (d *Driver) Close() {
	d.pool.Close()
}

// --- pgx type wrappers ---

// pgConn wraps a pooled pgx connection to satisfy database.Conn.
type pgConn struct {
	conn *pgxpool.Conn
}

func (c *pgConn) Ping(ctx context.Context) error {
	if err := c.conn.Ping(ctx); err != nil {
		return mapError(err, "ping failed")
	}
	return nil
}

func (c *pgConn) Query(ctx context.Context, sql string, args ...any) (database.Rows, error) {
	rows, err := c.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError(err, "query failed")
	}
	return &pgxRows{rows: rows}, nil
}

// Prepare registers sql under name on the underlying connection. pgx
// treats a later Query whose sql equals name as an execution of it.
func (c *pgConn) Prepare(ctx context.Context, name, sql string) error {
	if _, err := c.conn.Conn().Prepare(ctx, name, sql); err != nil {
		return mapError(err, fmt.Sprintf("failed to prepare statement %q", name))
	}
	return nil
}

func (c *pgConn) QueryPrepared(ctx context.Context, name string, args ...any) (database.Rows, error) {
	rows, err := c.conn.Query(ctx, name, args...)
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("prepared statement %q failed", name))
	}
	return &pgxRows{rows: rows}, nil
}

func (c *pgConn) Release() {
	c.conn.Release()
}

// pgxRows wraps pgx.Rows to satisfy database.Rows.
type pgxRows struct {
	rows pgx.Rows
}

func (r *pgxRows) Next() bool { return r.rows.Next() }
func (r *pgxRows) Close()     { r.rows.Close() }

func (r *pgxRows) Scan(dest ...any) error {
	if err := r.rows.Scan(dest...); err != nil {
		return mapError(err, "failed to scan row")
	}
	return nil
}

func (r *pgxRows) Err() error {
	if err := r.rows.Err(); err != nil {
		return mapError(err, "error during row iteration")
	}
	return nil
}

func (r *pgxRows) Columns() ([]database.Column, error) {
	descs := r.rows.FieldDescriptions()
	var typeMap *pgtype.Map
	if conn := r.rows.Conn(); conn != nil {
		typeMap = conn.TypeMap()
	}

	cols := make([]database.Column, len(descs))
	for i, d := range descs {
		cols[i] = database.Column{
			Name:         d.Name,
			DatabaseType: typeName(typeMap, d.DataTypeOID),
			Zoned:        d.DataTypeOID == pgtype.TimestamptzOID,
		}
	}
	return cols, nil
}

func typeName(m *pgtype.Map, oid uint32) string {
	if m != nil {
		if t, ok := m.TypeForOID(oid); ok {
			return t.Name
		}
	}
	return fmt.Sprintf("oid:%d", oid)
}

// --- error mapping ---

// mapError translates pgx / pgconn native errors into *errs.Error.
func mapError(err error, msg string) *errs.Error {
	if err == nil {
		return nil
	}

	// Context cancellation / deadline exceeded
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}

	// No rows
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	}

	// Postgres server-side error (SQLSTATE codes)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return errs.Wrap(classifySQLState(pgErr.Code), fmt.Sprintf("%s: %s", msg, pgErr.Message), err)
	}

	// Fallthrough: connection-level errors (TLS, network, auth)
	return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
}

// classifySQLState maps a SQLSTATE onto an ErrKind.
func classifySQLState(code string) errs.ErrKind {
	switch code {
	case pgErrQueryCanceled:
		return errs.ErrKindTimeout
	case pgErrAdminShutdown, pgErrCannotConnectNow:
		return errs.ErrKindConnectionFailed
	}
	if len(code) < 2 {
		return errs.ErrKindQueryFailed
	}
	switch code[:2] {
	case pgClassConnection, pgClassInsufficient:
		return errs.ErrKindConnectionFailed
	case pgClassInvalidAuth:
		return errs.ErrKindPermissionDenied
	}
	return errs.ErrKindQueryFailed
}
