// Package poller runs poll cycles: it binds the cursor into the statement,
// streams the result set through the decorator to the sink and commits the
// new cursor once every row has been handed over.
package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koustreak/sqlpoll/internal/config"
	"github.com/koustreak/sqlpoll/internal/connection"
	"github.com/koustreak/sqlpoll/internal/cursor"
	"github.com/koustreak/sqlpoll/internal/database"
	"github.com/koustreak/sqlpoll/internal/errs"
	"github.com/koustreak/sqlpoll/internal/logger"
	"github.com/koustreak/sqlpoll/internal/record"
	"github.com/koustreak/sqlpoll/internal/statement"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"
	"golang.org/x/sync/semaphore"
)

// State is the phase the engine is in.
type State int32

const (
	StateIdle State = iota
	StateAcquiring
	StateExecuting
	StateDraining
	StateCommitting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAcquiring:
		return "acquiring"
	case StateExecuting:
		return "executing"
	case StateDraining:
		return "draining"
	case StateCommitting:
		return "committing"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

// Emit receives each decorated row, in database order. An error aborts
// the cycle without moving the cursor.
type Emit func(ctx context.Context, row *record.Row) error

var (
	// ErrBusy is returned by TryRunOnce while a cycle is in flight.
	ErrBusy = errs.New(errs.ErrKindInvalidInput, "a poll cycle is already running")

	// ErrClosed is returned once Shutdown has run.
	ErrClosed = errs.New(errs.ErrKindConnectionFailed, "poller is shut down")
)

// CycleSummary describes a finished cycle.
type CycleSummary struct {
	ID       string        `json:"id"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration_ns"`
	Rows     int           `json:"rows"`
	Cursor   string        `json:"cursor"`
	Error    string        `json:"error,omitempty"`
}

// Status is a snapshot for the status endpoint.
type Status struct {
	State     string        `json:"state"`
	Cursor    string        `json:"cursor"`
	Mode      string        `json:"tracking_mode"`
	Cycles    int64         `json:"cycles"`
	Failures  int64         `json:"failures"`
	Connected bool          `json:"connected"`
	Sessions  uint64        `json:"sessions_opened"`
	LastCycle *CycleSummary `json:"last_cycle,omitempty"`
}

// Option configures an Engine.
type Option func(*options)

type options struct {
	store    cursor.Store
	registry prometheus.Registerer
}

// WithStore replaces the cursor store selected by the configuration.
func WithStore(s cursor.Store) Option {
	return func(o *options) { o.store = s }
}

// WithRegisterer registers the engine metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registry = reg }
}

// Engine is one poller. RunOnce calls are serialized; Shutdown waits for
// the cycle in flight.
type Engine struct {
	log        *logger.Logger
	conns      *connection.Manager
	tracker    *cursor.Tracker
	stmt       *statement.Statement
	decorator  *record.Decorator
	metrics    *Metrics
	closeStore func() error

	paging   bool
	pageSize int

	// cycle is held for the whole of a cycle and by Shutdown.
	cycle  *semaphore.Weighted
	closed bool
	count  bool

	state atomic.Int32

	statusMu sync.RWMutex
	last     *CycleSummary
	cycles   int64
	failures int64
}

// New builds an engine from a validated configuration. It reads the
// cursor store but does not connect to the database.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, opts ...Option) (*Engine, error) {
	if log == nil {
		log = logger.Nop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	stmt, err := statement.New(cfg.StatementConfig())
	if err != nil {
		return nil, err
	}
	log.DebugWith("Statement configured", map[string]interface{}{
		"kind":       stmt.Kind().String(),
		"parameters": stmt.ParamNames(),
	})
	decorator, err := record.NewDecorator(cfg.DecoratorConfig(loc))
	if err != nil {
		return nil, err
	}

	store, closeStore := o.store, func() error { return nil }
	if store == nil {
		if store, closeStore, err = NewStore(ctx, cfg.State); err != nil {
			return nil, err
		}
	}

	tracker, err := cursor.NewTracker(ctx, cfg.TrackingConfig(loc), store, log)
	if err != nil {
		_ = closeStore()
		return nil, err
	}

	metrics := NewMetrics(o.registry)
	conn := cfg.Connection
	conns, err := connection.New(connection.Config{
		Database:           cfg.DatabaseConfig(),
		Libraries:          cfg.DriverLibraries(),
		RetryAttempts:      conn.RetryAttempts,
		RetryBackoff:       conn.RetryBackoff,
		PoolTimeout:        conn.PoolTimeout,
		Validate:           conn.Validate,
		ValidationInterval: conn.ValidationInterval,
		Persistent:         conn.Persistent,
	}, log, connection.WithAttemptObserver(metrics.connectAttempt))
	if err != nil {
		_ = closeStore()
		return nil, err
	}

	e := &Engine{
		log:        log,
		conns:      conns,
		tracker:    tracker,
		stmt:       stmt,
		decorator:  decorator,
		metrics:    metrics,
		closeStore: closeStore,
		paging:     cfg.Paging.Enabled,
		pageSize:   cfg.Paging.PageSize,
		cycle:      semaphore.NewWeighted(1),
		count:      cfg.Log.CountStatements,
	}
	e.setCursorGauge(tracker.Value())
	return e, nil
}

// RunOnce runs one poll cycle and returns the number of rows emitted.
// It waits for a cycle already in flight.
func (e *Engine) RunOnce(ctx context.Context, emit Emit) (int, error) {
	if err := e.cycle.Acquire(ctx, 1); err != nil {
		return 0, errs.Wrap(errs.ErrKindTimeout, "waiting for the poll cycle lock", err)
	}
	defer e.cycle.Release(1)
	return e.run(ctx, emit)
}

// TryRunOnce is RunOnce but returns ErrBusy instead of waiting.
func (e *Engine) TryRunOnce(ctx context.Context, emit Emit) (int, error) {
	if !e.cycle.TryAcquire(1) {
		return 0, ErrBusy
	}
	defer e.cycle.Release(1)
	return e.run(ctx, emit)
}

func (e *Engine) run(ctx context.Context, emit Emit) (int, error) {
	if e.closed {
		return 0, ErrClosed
	}

	id := xid.New().String()
	log := e.log.With().Str("cycle_id", id).Logger()
	ctx = log.WithContext(ctx)
	started := time.Now()

	e.setState(StateAcquiring)
	h, err := e.conns.Acquire(ctx)
	rows := 0
	if err == nil {
		rows, err = e.execute(ctx, log, h, emit)
		e.conns.Release(h, err)
	}

	elapsed := time.Since(started)
	e.metrics.cycleDone(err == nil, elapsed.Seconds())

	summary := &CycleSummary{
		ID:       id,
		Started:  started,
		Duration: elapsed,
		Rows:     rows,
		Cursor:   e.tracker.Value().String(),
	}

	if err != nil {
		summary.Error = err.Error()
		e.setState(StateFailed)
		e.record(summary, false)
		log.ErrorWith("Poll cycle failed", err, map[string]interface{}{
			"rows":        rows,
			"duration_ms": elapsed.Milliseconds(),
			"cursor":      summary.Cursor,
		})
		return rows, err
	}

	e.setState(StateIdle)
	e.record(summary, true)
	log.InfoWith("Poll cycle finished", map[string]interface{}{
		"rows":        rows,
		"duration_ms": elapsed.Milliseconds(),
		"cursor":      summary.Cursor,
	})
	return rows, nil
}

func (e *Engine) execute(ctx context.Context, log *logger.Logger, h *connection.Handle, emit Emit) (int, error) {
	pollStart := time.Now()
	cyc := e.tracker.Begin()

	q, err := e.stmt.Build(h.Dialect, e.tracker.Value().Bind())
	if err != nil {
		return 0, err
	}

	e.setState(StateExecuting)
	e.logStatement(ctx, log, h, q)

	var emitted int
	if !e.paging {
		emitted, err = e.drain(ctx, h, q, nil, cyc, emit)
	} else {
		for offset := 0; ; offset += e.pageSize {
			e.setState(StateDraining)
			n, perr := e.drain(ctx, h, q, &statement.Page{Limit: e.pageSize, Offset: offset}, cyc, emit)
			emitted += n
			if perr != nil {
				err = perr
				break
			}
			if n < e.pageSize {
				break
			}
		}
	}
	if err != nil {
		if errs.IsQueryFailed(err) {
			log.WarnWith("Exception when executing query", map[string]interface{}{
				"error":     err.Error(),
				"statement": q.SQL,
			})
		}
		return emitted, err
	}

	if e.tracker.Mode() == cursor.ModeNone {
		return emitted, nil
	}

	e.setState(StateCommitting)
	next := cyc.NextCandidate(pollStart)
	if err := e.tracker.Commit(ctx, next); err != nil {
		return emitted, err
	}
	e.setCursorGauge(next)
	return emitted, nil
}

// drain streams one result set to emit and returns the number of rows read.
func (e *Engine) drain(ctx context.Context, h *connection.Handle, q *statement.Query, page *statement.Page, cyc *cursor.Cycle, emit Emit) (int, error) {
	rs, err := e.stmt.Open(ctx, h.Conn, h.Generation, q, page)
	if err != nil {
		return 0, err
	}
	defer rs.Close()

	cols, err := rs.Columns()
	if err != nil {
		return 0, err
	}

	n := 0
	for rs.Next() {
		raw, err := database.ScanRow(rs, len(cols))
		if err != nil {
			return n, err
		}
		row := e.decorator.Decorate(cols, raw)
		if err := emit(ctx, row); err != nil {
			return n, errs.Wrap(errs.KindOf(err), "failed to emit row", err)
		}
		cyc.ObserveRow(row)
		e.metrics.rows.Inc()
		n++
	}
	if err := rs.Err(); err != nil {
		return n, err
	}
	return n, nil
}

// logStatement logs the statement at debug level, with its row count when
// count logging is on. Counting stops after the first failure.
func (e *Engine) logStatement(ctx context.Context, log *logger.Logger, h *connection.Handle, q *statement.Query) {
	if !log.DebugEnabled() {
		return
	}

	fields := map[string]interface{}{
		"statement":  q.SQL,
		"parameters": q.Params,
	}
	if e.count && e.stmt.Kind() == statement.KindLiteral {
		n, err := e.countRows(ctx, h, q)
		if err != nil {
			e.count = false
			log.InfoWith("Disabling count queries as executing the count SQL raised an error", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			fields["count"] = n
		}
	}
	log.DebugWith("Executing query", fields)
}

func (e *Engine) countRows(ctx context.Context, h *connection.Handle, q *statement.Query) (int64, error) {
	rs, err := h.Conn.Query(ctx, database.Count(q.SQL), q.Args...)
	if err != nil {
		return 0, err
	}
	defer rs.Close()

	if !rs.Next() {
		if err := rs.Err(); err != nil {
			return 0, err
		}
		return 0, errs.New(errs.ErrKindQueryFailed, "count query returned no rows")
	}
	raw, err := database.ScanRow(rs, 1)
	if err != nil {
		return 0, err
	}
	v := record.FromDriver(raw[0])
	if v.Kind() != record.KindInt {
		return 0, errs.Newf(errs.ErrKindQueryFailed, "count query returned %v", raw[0])
	}
	return v.Int(), nil
}

// Shutdown waits for the cycle in flight, then disconnects. Later cycles
// fail with ErrClosed.
func (e *Engine) Shutdown(ctx context.Context) error {
	if err := e.cycle.Acquire(ctx, 1); err != nil {
		return errs.Wrap(errs.ErrKindTimeout, "waiting for the poll cycle to finish", err)
	}
	defer e.cycle.Release(1)

	if e.closed {
		return nil
	}
	e.closed = true
	e.conns.Close(ctx)
	e.setState(StateIdle)
	if err := e.closeStore(); err != nil {
		return errs.Wrap(errs.ErrKindUnknown, "failed to close cursor store", err)
	}
	return nil
}

// Check connects once and releases the session.
func (e *Engine) Check(ctx context.Context) error {
	if err := e.cycle.Acquire(ctx, 1); err != nil {
		return errs.Wrap(errs.ErrKindTimeout, "waiting for the poll cycle lock", err)
	}
	defer e.cycle.Release(1)

	h, err := e.conns.Acquire(ctx)
	if err != nil {
		return err
	}
	err = h.Conn.Ping(ctx)
	e.conns.Release(h, err)
	return err
}

// ResetCursor clears the stored cursor. It waits for the cycle in flight.
func (e *Engine) ResetCursor(ctx context.Context) error {
	if err := e.cycle.Acquire(ctx, 1); err != nil {
		return errs.Wrap(errs.ErrKindTimeout, "waiting for the poll cycle lock", err)
	}
	defer e.cycle.Release(1)

	if err := e.tracker.Reset(ctx); err != nil {
		return err
	}
	e.setCursorGauge(e.tracker.Value())
	return nil
}

func (e *Engine) State() State { return State(e.state.Load()) }

// Cursor returns the committed cursor.
func (e *Engine) Cursor() cursor.Value { return e.tracker.Value() }

// Status returns a snapshot of the engine.
func (e *Engine) Status() Status {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()

	st := Status{
		State:     e.State().String(),
		Cursor:    e.tracker.Value().String(),
		Mode:      string(e.tracker.Mode()),
		Cycles:    e.cycles,
		Failures:  e.failures,
		Connected: e.conns.Connected(),
		Sessions:  e.conns.Generation(),
	}
	if e.last != nil {
		last := *e.last
		st.LastCycle = &last
	}
	return st
}

func (e *Engine) setState(s State) { e.state.Store(int32(s)) }

func (e *Engine) record(s *CycleSummary, ok bool) {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	e.last = s
	e.cycles++
	if !ok {
		e.failures++
	}
}

func (e *Engine) setCursorGauge(v cursor.Value) {
	switch v.Kind() {
	case cursor.KindNumeric:
		e.metrics.cursor.Set(v.Float())
	case cursor.KindInstant:
		e.metrics.cursor.Set(float64(v.Time().UnixNano()) / 1e9)
	}
}
