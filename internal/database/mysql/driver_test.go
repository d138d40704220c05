package mysql

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/koustreak/sqlpoll/internal/cursor"
	"github.com/koustreak/sqlpoll/internal/database"
	"github.com/koustreak/sqlpoll/internal/errs"
	"github.com/koustreak/sqlpoll/internal/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDSN(t *testing.T) {
	cfg := database.DefaultConfig(database.DriverMySQL, "poller:old@tcp(db:3306)/shop?charset=utf8mb4")
	cfg.Password = "new"
	cfg.ConnectTimeout = 3 * time.Second
	cfg.Options = map[string]string{"tls": "skip-verify"}

	dsn, err := buildDSN(cfg)
	require.NoError(t, err)
	assert.Equal(t, "poller", dsn.User)
	assert.Equal(t, "new", dsn.Passwd)
	assert.Equal(t, "shop", dsn.DBName)
	assert.Equal(t, 3*time.Second, dsn.Timeout)
	assert.True(t, dsn.ParseTime)
	assert.Equal(t, time.UTC, dsn.Loc)
	assert.Equal(t, "skip-verify", dsn.Params["tls"])
}

// A DATETIME read in the configured zone must be bound back with the same
// wall clock, or every cycle re-reads or skips rows.
func TestBuildDSN_ZonedCursorRoundTrip(t *testing.T) {
	ctx := context.Background()
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	cfg := database.DefaultConfig(database.DriverMySQL, "poller@tcp(db:3306)/shop")
	cfg.Location = berlin
	dsn, err := buildDSN(cfg)
	require.NoError(t, err)
	require.Equal(t, berlin, dsn.Loc)

	// the driver parses DATETIME '2024-01-01 12:00:00' in dsn.Loc
	scanned := time.Date(2024, 1, 1, 12, 0, 0, 0, dsn.Loc)

	d, err := record.NewDecorator(record.DecoratorConfig{Location: berlin})
	require.NoError(t, err)
	row := d.Decorate([]database.Column{{Name: "updated_at", DatabaseType: "DATETIME"}}, []any{scanned})

	tr, err := cursor.NewTracker(ctx, cursor.Config{
		Mode:       cursor.ModeColumn,
		Column:     "updated_at",
		ColumnType: cursor.ColumnTimestamp,
		Location:   berlin,
	}, nil, nil)
	require.NoError(t, err)
	c := tr.Begin()
	c.ObserveRow(row)
	require.NoError(t, tr.Commit(ctx, c.NextCandidate(time.Now())))

	// the driver formats bound times with v.In(dsn.Loc)
	bound, ok := tr.Value().Bind().(time.Time)
	require.True(t, ok)
	assert.Equal(t, "2024-01-01 12:00:00", bound.In(dsn.Loc).Format("2006-01-02 15:04:05"))
}

func TestBuildDSN_Invalid(t *testing.T) {
	_, err := buildDSN(database.DefaultConfig(database.DriverMySQL, "poller@db:3306/shop"))
	assert.True(t, errs.IsConfiguration(err))
}

func TestClassifyMySQLCode(t *testing.T) {
	tests := []struct {
		code uint16
		want errs.ErrKind
	}{
		{1044, errs.ErrKindPermissionDenied},
		{1045, errs.ErrKindPermissionDenied},
		{1040, errs.ErrKindConnectionFailed},
		{1049, errs.ErrKindConnectionFailed},
		{3024, errs.ErrKindTimeout},
		{1146, errs.ErrKindQueryFailed},
		{1064, errs.ErrKindQueryFailed},
		{9999, errs.ErrKindQueryFailed},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyMySQLCode(tt.code), "code %d", tt.code)
	}
}

func TestMapError(t *testing.T) {
	err := mapError(&mysql.MySQLError{Number: 1146, Message: "Table 'shop.orders' doesn't exist"}, "query failed")
	assert.True(t, errs.IsQueryFailed(err))
	assert.Contains(t, err.Error(), "shop.orders")

	assert.True(t, errs.IsTimeout(mapError(context.Canceled, "query")))
	assert.True(t, errs.IsNotFound(mapError(sql.ErrNoRows, "query")))
	assert.True(t, errs.IsConnectionFailed(mapError(errors.New("bad connection"), "query")))
}
