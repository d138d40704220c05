package cursor

import (
	"context"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/koustreak/sqlpoll/internal/errs"
	"github.com/koustreak/sqlpoll/internal/logger"
)

// Mode selects what advances the cursor after a successful poll.
type Mode string

const (
	// ModeNone leaves the cursor untouched; every poll re-fetches.
	ModeNone Mode = "none"
	// ModeTime stores the instant the poll started.
	ModeTime Mode = "by-time"
	// ModeColumn stores the tracking column of the last emitted row.
	ModeColumn Mode = "by-column"
)

// ColumnType is the type of the tracking column in ModeColumn.
type ColumnType string

const (
	ColumnNumeric   ColumnType = "numeric"
	ColumnTimestamp ColumnType = "timestamp"
)

// Config is the tracking part of a poll configuration.
type Config struct {
	Mode       Mode
	Column     string
	ColumnType ColumnType

	// Location, when set, is the zone instants are expressed in.
	Location *time.Location

	// CleanRun discards any stored value at start.
	CleanRun bool
}

func (c Config) kind() Kind {
	if c.Mode == ModeColumn && c.ColumnType == ColumnNumeric {
		return KindNumeric
	}
	return KindInstant
}

// Row is the view of an emitted row the tracker needs.
type Row interface {
	Lookup(column string) (any, bool)
}

// Tracker owns the in-memory cursor and writes it through a Store.
type Tracker struct {
	cfg   Config
	store Store
	log   *logger.Logger

	mu    sync.RWMutex
	value Value
}

// NewTracker loads the initial cursor. With CleanRun the store is cleared
// and the default is used: 0 for numeric tracking, the Unix epoch otherwise.
// A stored value of the wrong variant is errs.ErrKindStateCorruption.
func NewTracker(ctx context.Context, cfg Config, store Store, log *logger.Logger) (*Tracker, error) {
	if store == nil {
		store = NullStore{}
	}
	if log == nil {
		log = logger.Nop()
	}

	t := &Tracker{cfg: cfg, store: store, log: log}
	v, err := t.initial(ctx)
	if err != nil {
		return nil, err
	}
	t.value = v
	return t, nil
}

func (t *Tracker) initial(ctx context.Context) (Value, error) {
	if t.cfg.CleanRun {
		if err := t.store.Clear(ctx); err != nil {
			return Value{}, err
		}
		return t.defaultValue(), nil
	}

	v, ok, err := t.store.Read(ctx)
	if err != nil {
		return Value{}, err
	}
	if !ok {
		return t.defaultValue(), nil
	}
	if t.cfg.Mode != ModeNone && v.Kind() != t.cfg.kind() {
		return Value{}, errs.Newf(errs.ErrKindStateCorruption,
			"stored cursor %s is %s but tracking expects %s", v, v.Kind(), t.cfg.kind())
	}
	return t.localize(v), nil
}

func (t *Tracker) defaultValue() Value {
	if t.cfg.kind() == KindNumeric {
		return Numeric(0)
	}
	return t.localize(Epoch())
}

func (t *Tracker) localize(v Value) Value {
	if v.Kind() == KindInstant && t.cfg.Location != nil {
		return Instant(v.Time().In(t.cfg.Location))
	}
	return v
}

// Value returns the committed cursor.
func (t *Tracker) Value() Value {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.value
}

func (t *Tracker) Mode() Mode { return t.cfg.Mode }

// Commit persists v and then makes it the in-memory cursor. If the write
// fails the in-memory cursor is left as it was.
func (t *Tracker) Commit(ctx context.Context, v Value) error {
	if err := t.store.Write(ctx, v); err != nil {
		if errs.IsStateWrite(err) {
			return err
		}
		return errs.Wrap(errs.ErrKindStateWrite, "failed to persist cursor", err)
	}

	t.mu.Lock()
	t.value = v
	t.mu.Unlock()
	return nil
}

// Reset clears the store and returns the cursor to its default.
func (t *Tracker) Reset(ctx context.Context) error {
	if err := t.store.Clear(ctx); err != nil {
		return err
	}
	t.mu.Lock()
	t.value = t.defaultValue()
	t.mu.Unlock()
	return nil
}

// --- per-cycle candidate ---

// Cycle collects the candidate cursor of one poll.
type Cycle struct {
	t         *Tracker
	candidate Value
	observed  int
	warned    bool
	unusable  bool
}

// Begin starts a candidate from the committed cursor.
func (t *Tracker) Begin() *Cycle {
	return &Cycle{t: t, candidate: t.Value()}
}

// ObserveRow moves the candidate to the tracking column of row. A row
// without the column, or whose value cannot be read as the tracked type,
// logs a warning once per cycle and leaves the candidate alone. Nulls are
// skipped silently.
func (c *Cycle) ObserveRow(row Row) Value {
	cfg := c.t.cfg
	if cfg.Mode != ModeColumn {
		return c.candidate
	}

	raw, ok := row.Lookup(cfg.Column)
	if !ok {
		if !c.warned {
			c.warned = true
			err := errs.Newf(errs.ErrKindTrackingColumnMissing, "column %q is not in the result set", cfg.Column)
			c.t.log.With().Err(err).Str("kind", errs.KindOf(err).String()).Logger().
				WarnWith("Tracking column not found in dataset", map[string]interface{}{
					"tracking_column": cfg.Column,
				})
		}
		return c.candidate
	}
	if raw == nil {
		return c.candidate
	}

	switch cfg.kind() {
	case KindNumeric:
		if f, ok := toFloat(raw); ok {
			c.candidate = Numeric(f)
			c.observed++
			return c.candidate
		}
	case KindInstant:
		if ts, ok := c.toTime(raw); ok {
			c.candidate = c.t.localize(Instant(ts))
			c.observed++
			return c.candidate
		}
	}

	if !c.unusable {
		c.unusable = true
		c.t.log.WarnWith("Tracking column value is not usable as cursor", map[string]interface{}{
			"tracking_column": cfg.Column,
			"column_type":     string(cfg.ColumnType),
			"value":           raw,
		})
	}
	return c.candidate
}

// NextCandidate is the value to commit once the poll has succeeded.
// In ModeTime it is pollStart, so rows written while the poll runs are
// fetched again next time instead of being skipped.
func (c *Cycle) NextCandidate(pollStart time.Time) Value {
	switch c.t.cfg.Mode {
	case ModeTime:
		if c.t.cfg.Location != nil {
			return Instant(pollStart.In(c.t.cfg.Location))
		}
		return Instant(pollStart.UTC())
	case ModeColumn:
		return c.candidate
	}
	return c.t.Value()
}

// ColumnMissing reports whether a row lacked the tracking column.
func (c *Cycle) ColumnMissing() bool { return c.warned }

// Observed counts the rows that moved the candidate.
func (c *Cycle) Observed() int { return c.observed }

// textTimeLayouts are tried in order for timestamps the driver returns as text.
var textTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// toTime reads a timestamp value. Text without an offset is wall clock
// time in the configured location, or UTC.
func (c *Cycle) toTime(v any) (time.Time, bool) {
	switch ts := v.(type) {
	case time.Time:
		return ts, true
	case string:
		loc := c.t.cfg.Location
		if loc == nil {
			loc = time.UTC
		}
		s := strings.TrimSpace(ts)
		for _, layout := range textTimeLayouts {
			if t, err := time.ParseInLocation(layout, s, loc); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		if math.IsNaN(n) {
			return 0, false
		}
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
