package cli

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/meterkeeper/internal/config"
	"github.com/dmitrijs2005/meterkeeper/internal/filex"
	"github.com/dmitrijs2005/meterkeeper/internal/logging"
	"github.com/dmitrijs2005/meterkeeper/internal/queue"
	"github.com/dmitrijs2005/meterkeeper/internal/remote"
	"github.com/dmitrijs2005/meterkeeper/internal/remote/postgres"
	"github.com/dmitrijs2005/meterkeeper/internal/remote/s3blob"
	"github.com/dmitrijs2005/meterkeeper/internal/scheduler"
	"github.com/dmitrijs2005/meterkeeper/internal/services"
	"github.com/dmitrijs2005/meterkeeper/internal/tracing"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

// env is what a command needs at run time, built from the merged config.
type env struct {
	cfg   *config.Config
	log   logging.Logger
	queue *queue.SQLiteStore

	docs   remote.DocumentStore
	blobs  remote.BlobStore
	pinger remote.Pinger

	closers []func() error
}

// openEnv loads the config, sets up logging and tracing and opens the local
// queue. The remote is opened separately by openRemote.
func openEnv(ctx context.Context, cmd *cobra.Command) (*env, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid config", err)
	}

	log, logCloser, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "logging", err)
	}

	e := &env{cfg: cfg, log: log}
	e.closers = append(e.closers, logCloser.Close)
	for _, w := range cfg.Warnings() {
		log.Warn(ctx, w)
	}

	// Enqueue records absolute spool paths; the daemon's sweep must
	// compare against the same form.
	if cfg.SpoolDir, err = filex.EnsureDir(cfg.SpoolDir); err != nil {
		e.Close()
		return nil, WrapExitError(ExitCommandError, "spool dir", err)
	}

	shutdown, err := tracing.Setup(ctx, tracing.Config{
		ServiceName:    "meterkeeper",
		ServiceVersion: Version,
		Endpoint:       cfg.OTLPEndpoint,
		SamplingRatio:  1,
	})
	if err != nil {
		e.Close()
		return nil, WrapExitError(ExitCommandError, "tracing", err)
	}
	e.closers = append(e.closers, func() error { return shutdown(context.Background()) })

	db, err := queue.Open(ctx, cfg.QueueDSN)
	if err != nil {
		e.Close()
		return nil, WrapExitError(ExitCommandError, "open queue", err)
	}
	e.closers = append(e.closers, db.Close)
	e.queue = queue.NewSQLiteStore(db)

	return e, nil
}

// errMemoryRemote is returned when a command would consume queue work
// against a remote that forgets everything on exit.
var errMemoryRemote = errors.New("the memory remote keeps nothing after exit; refusing to consume queued work")

// openRemote connects the document and blob stores named by the config.
// An injected remote takes precedence over the config.
func (e *env) openRemote(ctx context.Context, injected *Remote) error {
	if injected != nil {
		e.docs, e.blobs, e.pinger = injected.Docs, injected.Blobs, injected.Pinger
		return nil
	}

	switch e.cfg.Remote {
	case config.RemoteMemory:
		return WrapExitError(ExitCommandError, "remote", errMemoryRemote)

	case config.RemotePostgres:
		pg, err := postgres.Open(ctx, e.cfg.PostgresDSN)
		if err != nil {
			return WrapExitError(ExitCommandError, "open remote documents", err)
		}
		e.closers = append(e.closers, func() error { pg.Close(); return nil })

		bs, err := s3blob.New(ctx, s3blob.Config{
			Region:   e.cfg.S3Region,
			User:     e.cfg.S3RootUser,
			Password: e.cfg.S3RootPassword,
			Bucket:   e.cfg.S3Bucket,
			Endpoint: e.cfg.S3BaseEndpoint,
		})
		if err != nil {
			return WrapExitError(ExitCommandError, "open remote blobs", err)
		}

		e.docs, e.blobs, e.pinger = pg, bs, pingers{pg, bs}
		return nil
	}
	return WrapExitError(ExitCommandError, "unknown remote "+e.cfg.Remote, nil)
}

// runner wires the reconcilers over the opened stores.
func (e *env) runner(opts ...services.Option) *scheduler.Runner {
	uploads := services.NewUploadReconciler(e.queue, e.docs, e.blobs, e.log, opts...)
	cascade := services.NewCascadeDeleter(e.docs, e.blobs, e.log, opts...)
	deletions := services.NewDeletionReconciler(e.queue, cascade, e.log, opts...)
	return scheduler.NewRunner(e.queue, uploads, deletions, e.log, e.cfg.UploadConcurrency)
}

// Close releases everything in reverse order of acquisition.
func (e *env) Close() error {
	var err error
	for i := len(e.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, e.closers[i]())
	}
	e.closers = nil
	return err
}

// pingers reports the remote reachable only when every store answers.
type pingers []remote.Pinger

func (ps pingers) Ping(ctx context.Context) error {
	for _, p := range ps {
		if err := p.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}
