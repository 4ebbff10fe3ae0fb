package cli

import (
	"github.com/dmitrijs2005/meterkeeper/internal/daemon"
	"github.com/dmitrijs2005/meterkeeper/internal/metrics"
	"github.com/dmitrijs2005/meterkeeper/internal/scheduler"
	"github.com/dmitrijs2005/meterkeeper/internal/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

func NewDaemonCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Reconcile periodically and whenever something is enqueued",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			e, err := openEnv(ctx, cmd)
			if err != nil {
				return err
			}
			defer e.Close()
			if err := e.openRemote(ctx, rootOpts.remote); err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			m := metrics.New(reg)

			var app *daemon.App
			loop := scheduler.NewLoop(
				e.runner(services.WithObserver(m)),
				e.queue,
				e.pinger,
				scheduler.LoopConfig{
					Interval:   e.cfg.SyncInterval,
					BackoffMin: e.cfg.BackoffMin,
					BackoffMax: e.cfg.BackoffMax,
					MaxRetries: e.cfg.MaxRetries,
					WakeFile:   e.cfg.WakeFile,
					SpoolDir:   e.cfg.SpoolDir,
					SpoolGrace: e.cfg.SpoolGrace,
				},
				e.log,
				func(res scheduler.TickResult) {
					m.ObserveTick(res)
					app.ReportTick(res)
				},
			)

			app = daemon.NewApp(daemon.Options{
				GRPCAddr:       e.cfg.EndpointAddrGRPC,
				MetricsAddr:    e.cfg.MetricsAddr,
				MetricsHandler: metrics.Handler(reg),
			}, loop, e.log)

			if err := app.Run(ctx); err != nil {
				return WrapExitError(ExitFailure, "daemon stopped", err)
			}
			return nil
		},
	}
}
