// Package daemon runs the scheduler loop as a long-lived process together
// with a gRPC health endpoint and an HTTP /metrics endpoint, and shuts all
// of them down on SIGINT/SIGTERM.
package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrijs2005/meterkeeper/internal/logging"
	"github.com/dmitrijs2005/meterkeeper/internal/scheduler"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name reported next to "".
const ServiceName = "meterkeeper"

// Loop is the part of scheduler.Loop the daemon drives.
type Loop interface {
	Run(ctx context.Context) error
}

// Options configures the listeners. Empty addresses disable them.
type Options struct {
	GRPCAddr       string
	MetricsAddr    string
	MetricsHandler http.Handler
}

type App struct {
	opts   Options
	loop   Loop
	health *health.Server
	logger logging.Logger
}

func NewApp(opts Options, loop Loop, l logging.Logger) *App {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	return &App{
		opts:   opts,
		loop:   loop,
		health: hs,
		logger: l.With("module", "daemon"),
	}
}

// Health exposes the health server, mostly for tests.
func (app *App) Health() *health.Server {
	return app.health
}

// ReportTick updates the health status from a scheduler tick: SERVING after
// a clean tick, NOT_SERVING after a failed one. Offline ticks keep the
// previous status.
func (app *App) ReportTick(res scheduler.TickResult) {
	if res.Offline {
		return
	}
	status := healthpb.HealthCheckResponse_SERVING
	if res.Err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	app.health.SetServingStatus("", status)
	app.health.SetServingStatus(ServiceName, status)
}

func (app *App) initSignalHandler(ctx context.Context, cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		defer signal.Stop(sigs)
		select {
		case sig := <-sigs:
			app.logger.Info(ctx, "received signal, shutting down", "signal", sig.String())
			cancelFunc()
		case <-ctx.Done():
		}
	}()
}

// Run blocks until ctx is canceled, a signal arrives or a listener fails.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting daemon...")
	app.initSignalHandler(ctx, cancelFunc)

	var grpcLis, metricsLis net.Listener
	var err error

	if app.opts.GRPCAddr != "" {
		if grpcLis, err = net.Listen("tcp", app.opts.GRPCAddr); err != nil {
			return err
		}
	}
	if app.opts.MetricsAddr != "" && app.opts.MetricsHandler != nil {
		if metricsLis, err = net.Listen("tcp", app.opts.MetricsAddr); err != nil {
			if grpcLis != nil {
				_ = grpcLis.Close()
			}
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	if grpcLis != nil {
		g.Go(func() error { return app.serveGRPC(ctx, grpcLis) })
	}
	if metricsLis != nil {
		g.Go(func() error { return app.serveMetrics(ctx, metricsLis) })
	}

	g.Go(func() error {
		err := app.loop.Run(ctx)
		app.health.Shutdown()
		return err
	})

	err = g.Wait()
	app.logger.Info(context.Background(), "daemon stopped")
	return err
}

func (app *App) serveMetrics(ctx context.Context, lis net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", app.opts.MetricsHandler)

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	app.logger.Info(ctx, "Starting metrics server", "address", lis.Addr().String())
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
