package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koustreak/sqlpoll/internal/errs"
	"github.com/koustreak/sqlpoll/internal/poller"
	"github.com/koustreak/sqlpoll/internal/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	runs     atomic.Int32
	shutdown atomic.Int32
	err      error
	block    chan struct{}

	mu      sync.Mutex
	running int
	maxSeen int
}

func (r *fakeRunner) RunOnce(ctx context.Context, _ poller.Emit) (int, error) {
	r.mu.Lock()
	r.running++
	if r.running > r.maxSeen {
		r.maxSeen = r.running
	}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running--
		r.mu.Unlock()
	}()

	r.runs.Add(1)
	if r.block != nil {
		<-r.block
	}
	return 0, r.err
}

func (r *fakeRunner) Shutdown(context.Context) error {
	r.shutdown.Add(1)
	return nil
}

type every time.Duration

func (e every) Next(t time.Time) time.Time { return t.Add(time.Duration(e)) }

func discard(context.Context, *record.Row) error { return nil }

func TestNew_InvalidSchedule(t *testing.T) {
	_, err := New("every tuesday", &fakeRunner{}, discard, nil)
	assert.True(t, errs.IsConfiguration(err))

	s, err := New("*/5 * * * *", &fakeRunner{}, discard, nil)
	require.NoError(t, err)
	assert.NotNil(t, s.schedule)
}

func TestRun_Once(t *testing.T) {
	r := &fakeRunner{}
	s, err := New("", r, discard, nil)
	require.NoError(t, err)

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, int32(1), r.runs.Load())
	assert.Equal(t, int32(1), r.shutdown.Load())
}

func TestRun_OnceReturnsCycleError(t *testing.T) {
	r := &fakeRunner{err: errs.New(errs.ErrKindConnectionFailed, "refused")}
	s, err := New("", r, discard, nil)
	require.NoError(t, err)

	err = s.Run(context.Background())
	assert.True(t, errs.IsConnectionFailed(err))
	assert.Equal(t, int32(1), r.shutdown.Load())
}

func TestRun_Scheduled(t *testing.T) {
	r := &fakeRunner{err: errors.New("transient")}
	s, err := New("", r, discard, nil)
	require.NoError(t, err)
	s.schedule = every(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return r.runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), r.shutdown.Load())
}

func TestRun_SkipsWhileRunning(t *testing.T) {
	r := &fakeRunner{block: make(chan struct{})}
	s, err := New("", r, discard, nil)
	require.NoError(t, err)
	s.schedule = every(5 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return r.runs.Load() == 1 }, 2*time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), r.runs.Load())

	cancel()
	select {
	case <-done:
		t.Fatal("scheduler stopped before the running cycle finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(r.block)
	require.NoError(t, <-done)

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Equal(t, 1, r.maxSeen)
}
