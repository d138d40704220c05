package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/koustreak/sqlpoll/internal/poller"
	"github.com/koustreak/sqlpoll/internal/scheduler"
	"github.com/koustreak/sqlpoll/internal/server"
	"github.com/koustreak/sqlpoll/internal/sink"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var once bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll on the configured schedule, or once",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}

		sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx, cancel := context.WithCancel(sigCtx)
		defer cancel()

		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		engine, err := poller.New(ctx, cfg, log, poller.WithRegisterer(reg))
		if err != nil {
			log.ErrorWith("Failed to start poller", err, nil)
			return err
		}

		out, err := sink.New(cfg.Sink)
		if err != nil {
			_ = engine.Shutdown(context.Background())
			return err
		}
		defer out.Close()

		spec := cfg.Schedule
		if once {
			spec = ""
		}
		sched, err := scheduler.New(spec, engine, out.Emit, log)
		if err != nil {
			_ = engine.Shutdown(context.Background())
			return err
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			defer cancel()
			return sched.Run(gctx)
		})
		if cfg.Server.Listen != "" {
			srv := server.New(cfg.Server.Listen, engine, out.Emit, reg, log)
			g.Go(func() error { return srv.ListenAndServe(gctx) })
		}
		return g.Wait()
	},
}

func init() {
	runCmd.Flags().BoolVar(&once, "once", false, "run a single poll cycle and exit")
}
