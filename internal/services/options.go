package services

import (
	"time"

	"github.com/dmitrijs2005/meterkeeper/internal/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/dmitrijs2005/meterkeeper/internal/services"

// UploadOutcome describes how a single upload run ended.
type UploadOutcome string

const (
	// UploadCommitted means the reading was written by this run.
	UploadCommitted UploadOutcome = "committed"
	// UploadAlreadyDone means the reading existed remotely; only local
	// cleanup ran.
	UploadAlreadyDone UploadOutcome = "already_done"
	// UploadNotQueued means the queue entry was gone (duplicate trigger).
	UploadNotQueued UploadOutcome = "not_queued"
	// UploadFailed means the entry stays queued for a later run.
	UploadFailed UploadOutcome = "failed"
)

// Observer receives reconciler outcomes, e.g. to export metrics.
type Observer interface {
	UploadFinished(outcome UploadOutcome, elapsed time.Duration)
	CascadeFinished(kind models.EntityKind, err error, elapsed time.Duration)
	BlobDeleteFailed()
	CleanupFailed()
}

type nopObserver struct{}

func (nopObserver) UploadFinished(UploadOutcome, time.Duration)             {}
func (nopObserver) CascadeFinished(models.EntityKind, error, time.Duration) {}
func (nopObserver) BlobDeleteFailed()                                       {}
func (nopObserver) CleanupFailed()                                          {}

type options struct {
	obs    Observer
	tracer trace.Tracer
	now    func() time.Time
}

// Option configures a service.
type Option func(*options)

// WithObserver routes outcomes to o.
func WithObserver(o Observer) Option {
	return func(opts *options) {
		if o != nil {
			opts.obs = o
		}
	}
}

// WithTracerProvider replaces the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(opts *options) {
		if tp != nil {
			opts.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(opts *options) {
		if now != nil {
			opts.now = now
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		obs:    nopObserver{},
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}
