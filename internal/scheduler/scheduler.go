// Package scheduler triggers poll cycles, either once or on a cron
// schedule.
package scheduler

import (
	"context"

	"github.com/koustreak/sqlpoll/internal/errs"
	"github.com/koustreak/sqlpoll/internal/logger"
	"github.com/koustreak/sqlpoll/internal/poller"
	"github.com/robfig/cron/v3"
)

// Runner runs poll cycles. *poller.Engine implements it.
type Runner interface {
	RunOnce(ctx context.Context, emit poller.Emit) (int, error)
	Shutdown(ctx context.Context) error
}

// Scheduler drives a Runner. Ticks that fire while a cycle is still
// running are skipped.
type Scheduler struct {
	runner   Runner
	emit     poller.Emit
	log      *logger.Logger
	schedule cron.Schedule
}

// New parses spec, a standard five field cron expression or a descriptor
// such as "@every 5m". An empty spec runs a single cycle.
func New(spec string, r Runner, emit poller.Emit, log *logger.Logger) (*Scheduler, error) {
	if log == nil {
		log = logger.Nop()
	}
	s := &Scheduler{runner: r, emit: emit, log: log}
	if spec == "" {
		return s, nil
	}

	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConfiguration, "invalid schedule "+spec, err)
	}
	s.schedule = sched
	return s, nil
}

// Run blocks until ctx is done, or until the single cycle has run when no
// schedule is set. It then shuts the runner down after the cycle in
// flight has finished. Only a one-shot cycle returns its error.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.schedule == nil {
		_, err := s.runner.RunOnce(ctx, s.emit)
		if shutdownErr := s.runner.Shutdown(context.Background()); err == nil {
			err = shutdownErr
		}
		return err
	}

	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger{s.log}),
		cron.SkipIfStillRunning(cronLogger{s.log}),
	))
	c.Schedule(s.schedule, cron.FuncJob(func() { s.tick(ctx) }))
	c.Start()
	s.log.Info("Scheduler started")

	<-ctx.Done()
	<-c.Stop().Done()
	s.log.Info("Scheduler stopped")
	return s.runner.Shutdown(context.Background())
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	// the engine logs the outcome of every cycle
	_, _ = s.runner.RunOnce(ctx, s.emit)
}

// cronLogger adapts the logger to cron.Logger.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.DebugWith(msg, fields(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.ErrorWith(msg, err, fields(keysAndValues))
}

func fields(kv []interface{}) map[string]interface{} {
	m := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			m[k] = kv[i+1]
		}
	}
	return m
}
