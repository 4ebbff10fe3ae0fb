package daemon

import (
	"context"
	"errors"
	"net"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// serveGRPC serves the health service on lis until ctx is done.
func (app *App) serveGRPC(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, app.health)

	go func() {
		<-ctx.Done()
		app.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	app.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	// Serve reports ErrServerStopped when the stop above wins the race.
	if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}
