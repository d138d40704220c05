// Package connection opens and hands out the database session a poll
// cycle runs on.
package connection

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"plugin"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koustreak/sqlpoll/internal/database"
	"github.com/koustreak/sqlpoll/internal/database/stdsql"
	"github.com/koustreak/sqlpoll/internal/errs"
	"github.com/koustreak/sqlpoll/internal/logger"
)

// Config holds the connection settings of one poller.
type Config struct {
	Database *database.Config

	// Libraries are Go plugins loaded before the driver is looked up.
	// A plugin registers its driver from init().
	Libraries []string

	RetryAttempts int
	RetryBackoff  time.Duration

	// PoolTimeout bounds each attempt to obtain a session.
	PoolTimeout time.Duration

	// Validate pings a reused session once ValidationInterval has passed
	// since it was last known good.
	Validate           bool
	ValidationInterval time.Duration

	// Persistent keeps the session between cycles. Otherwise every
	// Release disconnects.
	Persistent bool
}

// Handle is the session of one cycle.
type Handle struct {
	Conn    database.Conn
	Dialect database.Dialect

	// Generation changes whenever a new physical session is opened.
	Generation uint64

	released bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithAttemptObserver reports every connection attempt.
func WithAttemptObserver(fn func(ok bool)) Option {
	return func(m *Manager) { m.observe = fn }
}

// Manager owns the database pool and the session handed to cycles.
// It is safe for concurrent use; callers serialize cycles themselves.
type Manager struct {
	cfg     Config
	factory database.Factory
	log     *logger.Logger
	observe func(ok bool)
	sleep   func(ctx context.Context, d time.Duration) error

	mu          sync.Mutex
	db          database.DB
	conn        database.Conn
	validatedAt time.Time
	closed      bool

	// read without mu by status reporting
	generation atomic.Uint64
	connected  atomic.Bool
}

// New loads the driver libraries and resolves the driver. It does not
// connect. A library file that cannot be read, or a driver that is not
// registered, is an errs.ErrKindDriverLoad.
func New(cfg Config, log *logger.Logger, opts ...Option) (*Manager, error) {
	if cfg.Database == nil {
		return nil, errs.New(errs.ErrKindConfiguration, "database config is required")
	}
	if log == nil {
		log = logger.Nop()
	}

	m := &Manager{cfg: cfg, log: log, sleep: sleepContext}
	for _, opt := range opts {
		opt(m)
	}

	if err := m.loadLibraries(); err != nil {
		return nil, err
	}

	f, err := resolve(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}
	m.factory = f
	return m, nil
}

func (m *Manager) loadLibraries() error {
	for _, path := range m.cfg.Libraries {
		if _, err := os.Stat(path); err != nil {
			return errs.Wrap(errs.ErrKindDriverLoad, "driver library "+path+" cannot be read", err)
		}
		if _, err := plugin.Open(path); err != nil {
			m.log.With().Str("library", path).Err(err).Logger().Warn("Failed to load driver library")
			continue
		}
		m.log.With().Str("library", path).Logger().Debug("Loaded driver library")
	}
	return nil
}

// resolve finds the factory for name in the registry, then among the
// drivers registered with database/sql.
func resolve(name database.Driver) (database.Factory, error) {
	if f, ok := database.Lookup(name); ok {
		return f, nil
	}
	for _, d := range sql.Drivers() {
		if d == string(name) {
			return stdsql.Factory(d), nil
		}
	}

	known := append(database.Drivers(), sql.Drivers()...)
	sort.Strings(known)
	return nil, errs.Newf(errs.ErrKindDriverLoad, "driver %q is not available (known: %s)", name, strings.Join(known, ", "))
}

// Acquire returns the session for one cycle, connecting if needed. Failed
// attempts are retried RetryAttempts times in total with RetryBackoff
// between them.
func (m *Manager) Acquire(ctx context.Context) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errs.New(errs.ErrKindConnectionFailed, "connection manager is closed")
	}

	attempts := max(m.cfg.RetryAttempts, 1)
	var last error
	made := 0
	for attempt := 1; attempt <= attempts; attempt++ {
		made = attempt
		h, err := m.tryAcquire(ctx)
		if m.observe != nil {
			m.observe(err == nil)
		}
		if err == nil {
			return h, nil
		}
		last = err

		if attempt == attempts || ctx.Err() != nil {
			break
		}
		m.log.With().Err(err).Int("attempt", attempt).Dur("backoff", m.cfg.RetryBackoff).Logger().Warn(m.failureMessage(err) + " Trying again.")
		if err := m.sleep(ctx, m.cfg.RetryBackoff); err != nil {
			break
		}
	}

	m.log.With().Err(last).Logger().Error(fmt.Sprintf("%s Tried %d times.", m.failureMessage(last), made))
	return nil, errs.Wrapf(errs.ErrKindConnectionFailed, last, "failed to connect after %d attempts", made)
}

func (m *Manager) failureMessage(err error) string {
	if errs.IsTimeout(err) && m.cfg.PoolTimeout > 0 {
		return fmt.Sprintf("Failed to connect to database. %s timeout exceeded.", m.cfg.PoolTimeout)
	}
	return "Unable to connect to database."
}

func (m *Manager) tryAcquire(ctx context.Context) (*Handle, error) {
	if m.cfg.PoolTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.PoolTimeout)
		defer cancel()
	}

	if m.db == nil {
		db, err := m.factory(ctx, m.cfg.Database)
		if err != nil {
			return nil, err
		}
		m.db = db
	}

	if m.conn == nil {
		conn, err := m.db.Conn(ctx)
		if err != nil {
			m.disconnect()
			return nil, err
		}
		m.conn = conn
		gen := m.generation.Add(1)
		m.connected.Store(true)
		m.validatedAt = time.Now()
		m.log.With().Str("driver", string(m.cfg.Database.Driver)).Uint64("generation", gen).Logger().Debug("Connected to database")
	} else if m.cfg.Validate && time.Since(m.validatedAt) >= m.cfg.ValidationInterval {
		if err := m.conn.Ping(ctx); err != nil {
			m.disconnect()
			return nil, err
		}
		m.validatedAt = time.Now()
	}

	return &Handle{Conn: m.conn, Dialect: m.db.Dialect(), Generation: m.generation.Load()}, nil
}

// Release ends the cycle that acquired h. A nil h is allowed. The session
// is closed unless the manager is persistent and cycleErr does not point
// at a broken connection.
func (m *Manager) Release(h *Handle, cycleErr error) {
	if h == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if h.released {
		return
	}
	h.released = true

	broken := errs.IsConnectionFailed(cycleErr) || errs.IsTimeout(cycleErr)
	if !m.cfg.Persistent || broken || h.Generation != m.generation.Load() {
		m.disconnect()
	}
}

// Close disconnects and makes further Acquire calls fail.
func (m *Manager) Close(_ context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnect()
	m.closed = true
}

// Generation is the number of physical sessions opened so far.
func (m *Manager) Generation() uint64 {
	return m.generation.Load()
}

// Connected reports whether a session is currently open.
func (m *Manager) Connected() bool {
	return m.connected.Load()
}

func (m *Manager) disconnect() {
	if m.conn != nil {
		m.conn.Release()
		m.conn = nil
	}
	m.connected.Store(false)
	if m.db != nil {
		m.db.Close()
		m.db = nil
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
