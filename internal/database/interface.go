package database

import "context"

// DB is the central contract for all database drivers.
// Layers above this package talk only to this interface and
// never import the postgres, mysql or sqlite packages directly.
type DB interface {
	// Ping verifies the database is reachable.
	Ping(ctx context.Context) error

	// Conn checks out one physical session from the pool.
	// The caller must call Conn.Release when done with it.
	Conn(ctx context.Context) (Conn, error)

	// Dialect reports the placeholder style the database expects.
	Dialect() Dialect

	// Close releases all resources held by the connection pool.
	Close()
}

// Conn is a single physical database session. Prepared statements live on
// a Conn and do not survive its release.
type Conn interface {
	// Ping verifies the session is still usable.
	Ping(ctx context.Context) error

	// Query executes a SQL statement that returns multiple rows.
	Query(ctx context.Context, sql string, args ...any) (Rows, error)

	// Prepare compiles sql on this session under name.
	Prepare(ctx context.Context, name, sql string) error

	// QueryPrepared executes a statement previously compiled with Prepare.
	QueryPrepared(ctx context.Context, name string, args ...any) (Rows, error)

	// Release returns the session to its pool.
	Release()
}

// Rows is an abstraction over a database result set.
// Callers must always call Close() when done, even on error.
type Rows interface {
	// Next advances to the next row.
	// Returns false when no more rows exist or on error.
	Next() bool

	// Scan copies the current row's columns into the provided destinations.
	Scan(dest ...any) error

	// Columns describes the columns of the result set.
	Columns() ([]Column, error)

	// Close releases resources held by the result set.
	Close()

	// Err returns any error encountered during iteration.
	Err() error
}

// Column describes one result column.
type Column struct {
	Name string

	// DatabaseType is the engine's type name (e.g. "timestamp", "DATETIME").
	DatabaseType string

	// Zoned is true when the engine returns values of this column as
	// absolute instants (e.g. PostgreSQL timestamptz).
	Zoned bool
}
