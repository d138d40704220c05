// Package stdsql adapts a database/sql pool to database.DB.
//
// The MySQL and SQLite drivers build on it, and so does any driver a
// runtime-loaded library registers with database/sql.
package stdsql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/koustreak/sqlpoll/internal/database"
	"github.com/koustreak/sqlpoll/internal/errs"
)

// ErrorMapper translates a native driver error into *errs.Error.
type ErrorMapper func(err error, msg string) *errs.Error

// DB is a database/sql implementation of database.DB.
// It is safe for concurrent use by multiple goroutines.
type DB struct {
	db       *sql.DB
	dialect  database.Dialect
	mapError ErrorMapper
}

// New wraps an opened *sql.DB, applies the pool settings from cfg and pings it.
// The pool is closed again if the ping fails.
func New(ctx context.Context, db *sql.DB, cfg *database.Config, dialect database.Dialect, mapErr ErrorMapper) (*DB, error) {
	if mapErr == nil {
		mapErr = MapError
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(int(cfg.MaxConns))
	}
	db.SetMaxIdleConns(int(max(cfg.MinConns, 1)))
	db.SetConnMaxLifetime(cfg.MaxConnLifetime)
	db.SetConnMaxIdleTime(cfg.MaxConnIdleTime)

	d := &DB{db: db, dialect: dialect, mapError: mapErr}

	pingCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	if err := d.Ping(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return d, nil
}

// Open opens a pool for any driver registered with database/sql under name.
func Open(ctx context.Context, name string, cfg *database.Config) (*DB, error) {
	db, err := sql.Open(name, cfg.DSN)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConfiguration, "invalid DSN", err)
	}
	return New(ctx, db, cfg, database.DialectGeneric, MapError)
}

// Factory returns a database.Factory for a database/sql driver name.
func Factory(name string) database.Factory {
	return func(ctx context.Context, cfg *database.Config) (database.DB, error) {
		return Open(ctx, name, cfg)
	}
}

// --- database.DB implementation ---

func (d *DB) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return d.mapError(err, "ping failed")
	}
	return nil
}

func (d *DB) Conn(ctx context.Context) (database.Conn, error) {
	c, err := d.db.Conn(ctx)
	if err != nil {
		return nil, d.mapError(err, "failed to acquire connection")
	}
	return &conn{conn: c, mapError: d.mapError, stmts: map[string]*sql.Stmt{}}, nil
}

func (d *DB) Dialect() database.Dialect {
	return d.dialect
}

func (d *DB) Close() {
	_ = d.db.Close()
}

// --- sql.Conn type wrappers ---

type conn struct {
	conn     *sql.Conn
	mapError ErrorMapper
	stmts    map[string]*sql.Stmt
}

func (c *conn) Ping(ctx context.Context) error {
	if err := c.conn.PingContext(ctx); err != nil {
		return c.mapError(err, "ping failed")
	}
	return nil
}

func (c *conn) Query(ctx context.Context, query string, args ...any) (database.Rows, error) {
	rows, err := c.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, c.mapError(err, "query failed")
	}
	return &sqlRows{rows: rows, mapError: c.mapError}, nil
}

func (c *conn) Prepare(ctx context.Context, name, query string) error {
	stmt, err := c.conn.PrepareContext(ctx, query)
	if err != nil {
		return c.mapError(err, fmt.Sprintf("failed to prepare statement %q", name))
	}
	if old, ok := c.stmts[name]; ok {
		_ = old.Close()
	}
	c.stmts[name] = stmt
	return nil
}

func (c *conn) QueryPrepared(ctx context.Context, name string, args ...any) (database.Rows, error) {
	stmt, ok := c.stmts[name]
	if !ok {
		return nil, errs.Newf(errs.ErrKindQueryFailed, "statement %q is not prepared on this connection", name)
	}
	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, c.mapError(err, fmt.Sprintf("prepared statement %q failed", name))
	}
	return &sqlRows{rows: rows, mapError: c.mapError}, nil
}

func (c *conn) Release() {
	for name, stmt := range c.stmts {
		_ = stmt.Close()
		delete(c.stmts, name)
	}
	_ = c.conn.Close()
}

type sqlRows struct {
	rows     *sql.Rows
	mapError ErrorMapper
}

func (r *sqlRows) Next() bool { return r.rows.Next() }
func (r *sqlRows) Close()     { _ = r.rows.Close() }

func (r *sqlRows) Scan(dest ...any) error {
	if err := r.rows.Scan(dest...); err != nil {
		return r.mapError(err, "failed to scan row")
	}
	return nil
}

func (r *sqlRows) Err() error {
	if err := r.rows.Err(); err != nil {
		return r.mapError(err, "error during row iteration")
	}
	return nil
}

func (r *sqlRows) Columns() ([]database.Column, error) {
	types, err := r.rows.ColumnTypes()
	if err != nil {
		return nil, r.mapError(err, "failed to read column names")
	}
	cols := make([]database.Column, len(types))
	for i, t := range types {
		cols[i] = database.Column{Name: t.Name(), DatabaseType: t.DatabaseTypeName()}
	}
	return cols, nil
}

// --- error mapping ---

// MapError is the fallback mapping for drivers without a richer one.
func MapError(err error, msg string) *errs.Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	}
	if errors.Is(err, sql.ErrConnDone) {
		return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
	}
	return errs.Wrap(errs.ErrKindQueryFailed, msg, err)
}
