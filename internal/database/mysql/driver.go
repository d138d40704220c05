package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/koustreak/sqlpoll/internal/database"
	"github.com/koustreak/sqlpoll/internal/database/stdsql"
	"github.com/koustreak/sqlpoll/internal/errs"
)

func init() {
	database.Register(func(ctx context.Context, cfg *database.Config) (database.DB, error) {
		return New(ctx, cfg)
	}, database.DriverMySQL, "mariadb")
}

// MySQL error numbers
// Full list: https://dev.mysql.com/doc/mysql-errors/8.0/en/server-error-reference.html
const (
	errDBAccessDenied  = 1044
	errAccessDenied    = 1045
	errNoDB            = 1046
	errUnknownDatabase = 1049
	errTooManyConns    = 1040
	errTooManyUserConn = 1203
	errBadFieldError   = 1054
	errParseError      = 1064
	errNoSuchTable     = 1146
	errQueryTimeout    = 3024
)

// New opens a MySQL connection pool using the provided Config and returns it.
// DATETIME values are decoded, and bound times encoded, in cfg.Location.
func New(ctx context.Context, cfg *database.Config) (*stdsql.DB, error) {
	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	connector, err := mysql.NewConnector(dsn)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConfiguration, "invalid DSN", err)
	}

	return stdsql.New(ctx, sql.OpenDB(connector), cfg, database.DialectMySQL, mapError)
}

// buildDSN parses the configured DSN and applies credentials, decoding
// options and passthrough params.
func buildDSN(cfg *database.Config) (*mysql.Config, error) {
	dsn, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConfiguration, "invalid DSN", err)
	}

	if cfg.User != "" {
		dsn.User = cfg.User
	}
	if cfg.Password != "" {
		dsn.Passwd = cfg.Password
	}
	if cfg.ConnectTimeout > 0 {
		dsn.Timeout = cfg.ConnectTimeout
	}
	dsn.ParseTime = true
	dsn.Loc = time.UTC
	if cfg.Location != nil {
		dsn.Loc = cfg.Location
	}

	if len(cfg.Options) > 0 {
		if dsn.Params == nil {
			dsn.Params = make(map[string]string, len(cfg.Options))
		}
		for k, v := range cfg.Options {
			dsn.Params[k] = v
		}
	}
	return dsn, nil
}

// --- error mapping ---

// mapError translates go-sql-driver/mysql errors into *errs.Error.
func mapError(err error, msg string) *errs.Error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}

	if errors.Is(err, sql.ErrNoRows) {
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return errs.Wrap(
			classifyMySQLCode(mysqlErr.Number),
			fmt.Sprintf("%s: %s", msg, mysqlErr.Message),
			err,
		)
	}

	return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
}

// classifyMySQLCode maps MySQL error numbers to ErrKind.
func classifyMySQLCode(code uint16) errs.ErrKind {
	switch code {
	case errDBAccessDenied, errAccessDenied:
		return errs.ErrKindPermissionDenied
	case errNoDB, errUnknownDatabase, errTooManyConns, errTooManyUserConn:
		return errs.ErrKindConnectionFailed
	case errQueryTimeout:
		return errs.ErrKindTimeout
	case errBadFieldError, errParseError, errNoSuchTable:
		return errs.ErrKindQueryFailed
	default:
		return errs.ErrKindQueryFailed
	}
}
