// Package sqlite provides a SQLite implementation of database.DB on top of
// mattn/go-sqlite3.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/koustreak/sqlpoll/internal/database"
	"github.com/koustreak/sqlpoll/internal/database/stdsql"
	"github.com/koustreak/sqlpoll/internal/errs"
	"github.com/mattn/go-sqlite3"
)

func init() {
	database.Register(func(ctx context.Context, cfg *database.Config) (database.DB, error) {
		return New(ctx, cfg)
	}, database.DriverSQLite, "sqlite")
}

// New opens the SQLite database named by cfg.DSN (a path or file: URI).
func New(ctx context.Context, cfg *database.Config) (*stdsql.DB, error) {
	db, err := sql.Open("sqlite3", buildDSN(cfg))
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConfiguration, "invalid DSN", err)
	}
	return stdsql.New(ctx, db, cfg, database.DialectSQLite, mapError)
}

// buildDSN appends passthrough options as DSN query parameters.
func buildDSN(cfg *database.Config) string {
	if len(cfg.Options) == 0 {
		return cfg.DSN
	}

	keys := make([]string, 0, len(cfg.Options))
	for k := range cfg.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	q := url.Values{}
	for _, k := range keys {
		q.Set(k, cfg.Options[k])
	}

	sep := "?"
	if strings.Contains(cfg.DSN, "?") {
		sep = "&"
	}
	return cfg.DSN + sep + q.Encode()
}

// mapError translates go-sqlite3 errors into *errs.Error.
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

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return errs.Wrap(classifyCode(liteErr.Code), fmt.Sprintf("%s: %s", msg, liteErr.Error()), err)
	}

	return errs.Wrap(errs.ErrKindQueryFailed, msg, err)
}

func classifyCode(code sqlite3.ErrNo) errs.ErrKind {
	switch code {
	case sqlite3.ErrCantOpen, sqlite3.ErrNotADB, sqlite3.ErrIoErr:
		return errs.ErrKindConnectionFailed
	case sqlite3.ErrPerm, sqlite3.ErrAuth, sqlite3.ErrReadonly:
		return errs.ErrKindPermissionDenied
	case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrInterrupt:
		return errs.ErrKindTimeout
	default:
		return errs.ErrKindQueryFailed
	}
}
