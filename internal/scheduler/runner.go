// Package scheduler decides when the reconcilers run: on demand for a single
// upload, as a sweep over the whole upload queue, as a single-instance
// deletion pass, and periodically from the daemon loop.
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/dmitrijs2005/meterkeeper/internal/common"
	"github.com/dmitrijs2005/meterkeeper/internal/logging"
	"github.com/dmitrijs2005/meterkeeper/internal/queue"
	"github.com/dmitrijs2005/meterkeeper/internal/services"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// UploadRunner reconciles one queued upload.
type UploadRunner interface {
	Run(ctx context.Context, id int64) (services.UploadOutcome, error)
}

// DeletionRunner drains the deletion queue once.
type DeletionRunner interface {
	Run(ctx context.Context) (services.DeletionReport, error)
}

// UploadReport summarises a sweep over the upload queue.
type UploadReport struct {
	Committed   int
	AlreadyDone int
	Failed      int
}

// Runner triggers reconcilers while keeping their preconditions: no two
// runs for the same upload id at once, and one deletion pass at a time.
type Runner struct {
	queue       queue.Store
	uploads     UploadRunner
	deletions   DeletionRunner
	log         logging.Logger
	concurrency int

	inflight   singleflight.Group
	deletionMu sync.Mutex
}

func NewRunner(q queue.Store, uploads UploadRunner, deletions DeletionRunner, log logging.Logger, concurrency int) *Runner {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Runner{
		queue:       q,
		uploads:     uploads,
		deletions:   deletions,
		log:         log.With("module", "scheduler"),
		concurrency: concurrency,
	}
}

// RunUpload reconciles upload id. Concurrent calls for the same id share
// one run and its result.
func (r *Runner) RunUpload(ctx context.Context, id int64) (services.UploadOutcome, error) {
	v, err, _ := r.inflight.Do(strconv.FormatInt(id, 10), func() (any, error) {
		return r.uploads.Run(ctx, id)
	})
	outcome, _ := v.(services.UploadOutcome)
	return outcome, err
}

// RunUploads reconciles every queued upload with bounded concurrency. A
// failed upload does not stop the others; all failures are returned
// combined.
func (r *Runner) RunUploads(ctx context.Context) (UploadReport, error) {
	pending, err := r.queue.ListUploads(ctx)
	if err != nil {
		return UploadReport{}, fmt.Errorf("list uploads: %w", err)
	}

	var (
		mu     sync.Mutex
		report UploadReport
		errs   error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for _, u := range pending {
		g.Go(func() error {
			outcome, err := r.RunUpload(gctx, u.ID)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				report.Failed++
				errs = multierr.Append(errs, fmt.Errorf("upload %d: %w", u.ID, err))
			case outcome == services.UploadCommitted:
				report.Committed++
			case outcome == services.UploadAlreadyDone:
				report.AlreadyDone++
			}
			return nil
		})
	}
	_ = g.Wait()

	if errs != nil {
		r.log.Warn(ctx, "upload sweep finished with failures",
			"committed", report.Committed, "failed", report.Failed)
		return report, common.Transient(errs)
	}
	if len(pending) > 0 {
		r.log.Info(ctx, "upload sweep finished", "committed", report.Committed, "already_done", report.AlreadyDone)
	}
	return report, nil
}

// RunDeletions runs one deletion pass, or returns common.ErrBusy when a pass
// is already in progress.
func (r *Runner) RunDeletions(ctx context.Context) (services.DeletionReport, error) {
	if !r.deletionMu.TryLock() {
		return services.DeletionReport{}, fmt.Errorf("deletion pass: %w", common.ErrBusy)
	}
	defer r.deletionMu.Unlock()

	return r.deletions.Run(ctx)
}

// RunAll sweeps uploads, then deletions. The two queues are independent,
// so a failing upload does not hold back deletions.
func (r *Runner) RunAll(ctx context.Context) error {
	_, upErr := r.RunUploads(ctx)
	_, delErr := r.RunDeletions(ctx)
	return multierr.Combine(upErr, delErr)
}
