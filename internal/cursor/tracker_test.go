package cursor

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/koustreak/sqlpoll/internal/errs"
	"github.com/koustreak/sqlpoll/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapRow map[string]any

func (r mapRow) Lookup(column string) (any, bool) {
	v, ok := r[column]
	return v, ok
}

func numericColumn() Config {
	return Config{Mode: ModeColumn, Column: "id", ColumnType: ColumnNumeric}
}

func TestNewTracker_Defaults(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		cfg  Config
		want Value
	}{
		{"numeric column", numericColumn(), Numeric(0)},
		{"timestamp column", Config{Mode: ModeColumn, Column: "updated_at", ColumnType: ColumnTimestamp}, Epoch()},
		{"by time", Config{Mode: ModeTime}, Epoch()},
		{"none", Config{Mode: ModeNone}, Epoch()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := NewTracker(ctx, tt.cfg, nil, nil)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(tr.Value()), "got %s", tr.Value())
		})
	}
}

func TestNewTracker_CleanRun(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "last_run")
	store := NewFileStore(path)
	require.NoError(t, store.Write(ctx, Numeric(1000)))

	cfg := numericColumn()
	cfg.CleanRun = true
	tr, err := NewTracker(ctx, cfg, store, nil)
	require.NoError(t, err)

	assert.True(t, Numeric(0).Equal(tr.Value()))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "clean run must delete the stored cursor")
}

func TestNewTracker_RestoresAcrossRestart(t *testing.T) {
	ctx := context.Background()
	zone := time.FixedZone("", 5*3600+30*60)

	tests := []struct {
		name  string
		cfg   Config
		value Value
	}{
		{"numeric", numericColumn(), Numeric(987654321)},
		{"time", Config{Mode: ModeTime}, Instant(time.Date(2023, 7, 4, 10, 0, 0, 123456789, time.UTC))},
		{"time with zone", Config{Mode: ModeTime, Location: zone}, Instant(time.Date(2023, 7, 4, 15, 30, 0, 5, zone))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewFileStore(filepath.Join(t.TempDir(), "last_run"))

			first, err := NewTracker(ctx, tt.cfg, store, nil)
			require.NoError(t, err)
			require.NoError(t, first.Commit(ctx, tt.value))

			second, err := NewTracker(ctx, tt.cfg, NewFileStore(store.Path()), nil)
			require.NoError(t, err)
			assert.True(t, tt.value.Equal(second.Value()))
			if tt.value.Kind() == KindInstant {
				assert.Equal(t, tt.value.Time().Nanosecond(), second.Value().Time().Nanosecond())
				_, wantOff := tt.value.Time().Zone()
				_, gotOff := second.Value().Time().Zone()
				assert.Equal(t, wantOff, gotOff)
			}
		})
	}
}

func TestNewTracker_VariantMismatch(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(filepath.Join(t.TempDir(), "last_run"))
	require.NoError(t, store.Write(ctx, Instant(time.Now())))

	_, err := NewTracker(ctx, numericColumn(), store, nil)
	assert.True(t, errs.IsStateCorruption(err))
}

func TestCycle_ColumnProgression(t *testing.T) {
	ctx := context.Background()
	tr, err := NewTracker(ctx, numericColumn(), nil, nil)
	require.NoError(t, err)

	run := func(ids ...int64) Value {
		c := tr.Begin()
		for _, id := range ids {
			c.ObserveRow(mapRow{"id": id})
		}
		next := c.NextCandidate(time.Now())
		require.NoError(t, tr.Commit(ctx, next))
		return next
	}

	assert.True(t, Numeric(0).Equal(run()))
	assert.True(t, Numeric(20).Equal(run(10, 20)))
	assert.True(t, Numeric(20).Equal(run()))
	assert.True(t, Numeric(50).Equal(run(30, 40, 50)))
}

func TestCycle_IgnoresUnusableValues(t *testing.T) {
	buf := &bytes.Buffer{}
	log := logger.New(&logger.Config{Level: "info", Format: "json", Output: buf})

	tr, err := NewTracker(context.Background(), numericColumn(), nil, log)
	require.NoError(t, err)

	c := tr.Begin()
	c.ObserveRow(mapRow{"id": int64(5)})
	c.ObserveRow(mapRow{"id": nil})
	c.ObserveRow(mapRow{"id": "seven"})
	c.ObserveRow(mapRow{"id": true})

	assert.True(t, Numeric(5).Equal(c.NextCandidate(time.Now())))
	assert.Equal(t, 1, c.Observed())
	assert.Equal(t, 1, strings.Count(buf.String(), "Tracking column value is not usable as cursor"))
}

func TestCycle_NumericText(t *testing.T) {
	tr, err := NewTracker(context.Background(), numericColumn(), nil, nil)
	require.NoError(t, err)

	c := tr.Begin()
	c.ObserveRow(mapRow{"id": "10.50"})
	c.ObserveRow(mapRow{"id": " 20.25 "})

	assert.True(t, Numeric(20.25).Equal(c.NextCandidate(time.Now())))
	assert.Equal(t, 2, c.Observed())
}

func TestCycle_TimestampText(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	cfg := Config{Mode: ModeColumn, Column: "updated_at", ColumnType: ColumnTimestamp, Location: berlin}
	tr, err := NewTracker(context.Background(), cfg, nil, nil)
	require.NoError(t, err)

	tests := []struct {
		text string
		want time.Time
	}{
		{"2024-01-01 12:00:00", time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC)},
		{"2024-01-01 12:00:00.5", time.Date(2024, 1, 1, 11, 0, 0, 5e8, time.UTC)},
		{"2024-01-01T12:00:00Z", time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			c := tr.Begin()
			got := c.ObserveRow(mapRow{"updated_at": tt.text})
			assert.Equal(t, 1, c.Observed())
			assert.True(t, tt.want.Equal(got.Time()), "got %s", got)
		})
	}
}

func TestCycle_MissingColumnWarnsOnce(t *testing.T) {
	buf := &bytes.Buffer{}
	log := logger.New(&logger.Config{Level: "debug", Format: "json", Output: buf})

	tr, err := NewTracker(context.Background(), numericColumn(), nil, log)
	require.NoError(t, err)

	c := tr.Begin()
	for i := 0; i < 25; i++ {
		c.ObserveRow(mapRow{"other": i})
	}

	assert.True(t, c.ColumnMissing())
	assert.True(t, Numeric(0).Equal(c.NextCandidate(time.Now())))
	assert.Equal(t, 1, strings.Count(buf.String(), "Tracking column not found"))
	assert.Contains(t, buf.String(), `"tracking_column":"id"`)
	assert.Contains(t, buf.String(), `"kind":"tracking_column_missing"`)

	// a new cycle warns again
	tr.Begin().ObserveRow(mapRow{})
	assert.Equal(t, 2, strings.Count(buf.String(), "Tracking column not found"))
}

func TestCycle_TimeModeUsesPollStart(t *testing.T) {
	zone := time.FixedZone("", -3*3600)
	tr, err := NewTracker(context.Background(), Config{Mode: ModeTime, Location: zone}, nil, nil)
	require.NoError(t, err)

	start := time.Date(2024, 2, 2, 12, 0, 0, 42, time.UTC)
	c := tr.Begin()
	c.ObserveRow(mapRow{"id": 1})
	got := c.NextCandidate(start)

	assert.True(t, start.Equal(got.Time()))
	_, off := got.Time().Zone()
	assert.Equal(t, -3*3600, off)
}

func TestCycle_NoneKeepsCursor(t *testing.T) {
	tr, err := NewTracker(context.Background(), Config{Mode: ModeNone}, nil, nil)
	require.NoError(t, err)
	assert.True(t, tr.Value().Equal(tr.Begin().NextCandidate(time.Now())))
}

type failingStore struct{ NullStore }

func (failingStore) Write(context.Context, Value) error {
	return errs.New(errs.ErrKindStateWrite, "disk full")
}

func TestTracker_CommitFailureKeepsValue(t *testing.T) {
	tr, err := NewTracker(context.Background(), numericColumn(), failingStore{}, nil)
	require.NoError(t, err)

	err = tr.Commit(context.Background(), Numeric(99))
	assert.True(t, errs.IsStateWrite(err))
	assert.True(t, Numeric(0).Equal(tr.Value()))
}

func TestTracker_Reset(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(filepath.Join(t.TempDir(), "last_run"))
	tr, err := NewTracker(ctx, numericColumn(), store, nil)
	require.NoError(t, err)
	require.NoError(t, tr.Commit(ctx, Numeric(3)))

	require.NoError(t, tr.Reset(ctx))
	assert.True(t, Numeric(0).Equal(tr.Value()))
	_, ok, err := store.Read(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}
