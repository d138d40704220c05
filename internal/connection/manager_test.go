package connection

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koustreak/sqlpoll/internal/database"
	_ "github.com/koustreak/sqlpoll/internal/database/sqlite"
	"github.com/koustreak/sqlpoll/internal/errs"
	"github.com/koustreak/sqlpoll/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const failingDriver database.Driver = "sqlpoll-test-failing"

var failingOpens atomic.Int32

func init() {
	database.Register(func(ctx context.Context, cfg *database.Config) (database.DB, error) {
		failingOpens.Add(1)
		return nil, errs.New(errs.ErrKindConnectionFailed, "connection refused")
	}, failingDriver)
}

func sqliteConfig(t *testing.T) *database.Config {
	t.Helper()
	return database.DefaultConfig(database.DriverSQLite, filepath.Join(t.TempDir(), "poll.db"))
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestNew_UnknownDriver(t *testing.T) {
	_, err := New(Config{Database: database.DefaultConfig("oracle-thin", "x")}, nil)
	require.Error(t, err)
	assert.True(t, errs.IsDriverLoad(err))
	assert.Contains(t, err.Error(), "sqlite3")
}

func TestNew_MissingLibrary(t *testing.T) {
	_, err := New(Config{
		Database:  sqliteConfig(t),
		Libraries: []string{"/nonexistent/driver.so"},
	}, nil)
	require.Error(t, err)
	assert.True(t, errs.IsDriverLoad(err))
}

func TestNew_MissingDatabaseConfig(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.True(t, errs.IsConfiguration(err))
}

func TestAcquire_RetriesAndLogs(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(&logger.Config{Level: "debug", Format: "json", Output: &buf})

	var attempts, successes int
	m, err := New(Config{
		Database:      database.DefaultConfig(failingDriver, "x"),
		RetryAttempts: 3,
		RetryBackoff:  time.Millisecond,
	}, log, WithAttemptObserver(func(ok bool) {
		attempts++
		if ok {
			successes++
		}
	}))
	require.NoError(t, err)
	m.sleep = noSleep

	before := failingOpens.Load()
	h, err := m.Acquire(context.Background())
	require.Error(t, err)
	assert.Nil(t, h)
	assert.True(t, errs.IsConnectionFailed(err))
	assert.Contains(t, err.Error(), "connection refused")

	assert.Equal(t, int32(3), failingOpens.Load()-before)
	assert.Equal(t, 3, attempts)
	assert.Zero(t, successes)

	out := buf.String()
	assert.Equal(t, 2, strings.Count(out, "Trying again."))
	assert.Equal(t, 1, strings.Count(out, "Tried 3 times."))
}

func TestAcquire_ZeroAttemptsTriesOnce(t *testing.T) {
	m, err := New(Config{Database: database.DefaultConfig(failingDriver, "x")}, nil)
	require.NoError(t, err)
	m.sleep = noSleep

	before := failingOpens.Load()
	_, err = m.Acquire(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(1), failingOpens.Load()-before)
	assert.Contains(t, err.Error(), "after 1 attempts")
}

func TestAcquire_StopsOnCancel(t *testing.T) {
	buf := &bytes.Buffer{}
	m, err := New(Config{
		Database:      database.DefaultConfig(failingDriver, "x"),
		RetryAttempts: 10,
	}, logger.New(&logger.Config{Level: "info", Output: buf}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	m.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	before := failingOpens.Load()
	_, err = m.Acquire(ctx)
	require.Error(t, err)
	assert.Equal(t, int32(1), failingOpens.Load()-before)
	assert.Contains(t, buf.String(), "Tried 1 times.")
	assert.NotContains(t, buf.String(), "Tried 10 times.")
}

func TestAcquire_SQLite(t *testing.T) {
	ctx := context.Background()
	m, err := New(Config{Database: sqliteConfig(t)}, nil)
	require.NoError(t, err)
	defer m.Close(ctx)

	h, err := m.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, database.DialectSQLite, h.Dialect)
	assert.Equal(t, uint64(1), h.Generation)
	assert.True(t, m.Connected())

	rows, err := h.Conn.Query(ctx, "SELECT 1")
	require.NoError(t, err)
	require.True(t, rows.Next())
	rows.Close()

	m.Release(h, nil)
	assert.False(t, m.Connected(), "non-persistent release disconnects")

	h2, err := m.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), h2.Generation)
	m.Release(h2, nil)
}

func TestRelease_Persistent(t *testing.T) {
	ctx := context.Background()
	m, err := New(Config{
		Database:           sqliteConfig(t),
		Persistent:         true,
		Validate:           true,
		ValidationInterval: 0,
	}, nil)
	require.NoError(t, err)
	defer m.Close(ctx)

	h, err := m.Acquire(ctx)
	require.NoError(t, err)
	m.Release(h, nil)
	assert.True(t, m.Connected())

	h, err = m.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), h.Generation, "session is reused")

	m.Release(h, errs.New(errs.ErrKindConnectionFailed, "connection reset"))
	assert.False(t, m.Connected(), "connection errors drop the session")

	h, err = m.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), h.Generation)

	m.Release(h, errors.New("query failed"))
	assert.True(t, m.Connected())
	m.Release(h, nil)
}

func TestRelease_NilAndTwice(t *testing.T) {
	ctx := context.Background()
	m, err := New(Config{Database: sqliteConfig(t)}, nil)
	require.NoError(t, err)

	m.Release(nil, nil)

	h, err := m.Acquire(ctx)
	require.NoError(t, err)
	m.Release(h, nil)
	m.Release(h, nil)

	m.Close(ctx)
	_, err = m.Acquire(ctx)
	assert.True(t, errs.IsConnectionFailed(err))
}
