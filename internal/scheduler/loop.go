package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/meterkeeper/internal/common"
	"github.com/dmitrijs2005/meterkeeper/internal/logging"
	"github.com/dmitrijs2005/meterkeeper/internal/queue"
	"github.com/dmitrijs2005/meterkeeper/internal/remote"
	"github.com/fsnotify/fsnotify"
	"github.com/sethvargo/go-retry"
)

// LoopConfig controls the periodic loop.
type LoopConfig struct {
	Interval time.Duration

	// BackoffMin and BackoffMax bound the exponential delay between
	// retries of a failed tick; MaxRetries caps their number.
	BackoffMin time.Duration
	BackoffMax time.Duration
	MaxRetries uint64

	// WakeFile, when set, triggers an extra tick whenever it is written.
	WakeFile string

	// SpoolDir and SpoolGrace enable the orphaned-photo sweep.
	SpoolDir   string
	SpoolGrace time.Duration
}

// TickResult is reported after every tick.
type TickResult struct {
	// Offline is set when the remote was unreachable and nothing ran.
	Offline bool
	Err     error
	Counts  queue.Counts
	Elapsed time.Duration
}

// Loop runs the Runner on a timer and on wake-ups.
type Loop struct {
	runner *Runner
	queue  queue.Store
	pinger remote.Pinger
	cfg    LoopConfig
	log    logging.Logger
	onTick func(TickResult)
}

// NewLoop builds a loop. pinger and onTick may be nil.
func NewLoop(runner *Runner, q queue.Store, pinger remote.Pinger, cfg LoopConfig, log logging.Logger, onTick func(TickResult)) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = time.Second
	}
	if cfg.BackoffMax < cfg.BackoffMin {
		cfg.BackoffMax = cfg.BackoffMin
	}
	if onTick == nil {
		onTick = func(TickResult) {}
	}
	return &Loop{
		runner: runner,
		queue:  q,
		pinger: pinger,
		cfg:    cfg,
		log:    log.With("module", "scheduler"),
		onTick: onTick,
	}
}

// Run ticks once immediately, then on every interval and wake-up, until ctx
// is done.
func (l *Loop) Run(ctx context.Context) error {
	wake, closeWatcher, err := l.watchWakeFile()
	if err != nil {
		return err
	}
	defer closeWatcher()

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	l.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.Tick(ctx)
		case <-wake:
			l.log.Debug(ctx, "woken up by enqueue")
			l.Tick(ctx)
		}
	}
}

// Tick runs one reconciliation round with retries.
func (l *Loop) Tick(ctx context.Context) (res TickResult) {
	started := time.Now()
	defer func() {
		res.Elapsed = time.Since(started)
		if c, err := l.queue.Counts(ctx); err == nil {
			res.Counts = c
		}
		l.onTick(res)
	}()

	if l.pinger != nil {
		if err := l.pinger.Ping(ctx); err != nil {
			l.log.Info(ctx, "remote unreachable, skipping tick", "error", err)
			res.Offline = true
			return
		}
	}

	backoff := retry.NewExponential(l.cfg.BackoffMin)
	backoff = retry.WithCappedDuration(l.cfg.BackoffMax, backoff)
	backoff = retry.WithMaxRetries(l.cfg.MaxRetries, backoff)

	res.Err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := l.runner.RunAll(ctx)
		if errors.Is(err, common.ErrTransient) {
			return retry.RetryableError(err)
		}
		return err
	})
	if res.Err != nil {
		l.log.Error(ctx, "tick failed", "error", res.Err)
	}

	if l.cfg.SpoolDir != "" {
		if _, err := SweepSpool(ctx, l.queue, l.cfg.SpoolDir, l.cfg.SpoolGrace, time.Now()); err != nil {
			l.log.Warn(ctx, "spool sweep failed", "error", err)
		}
	}
	return
}

// watchWakeFile returns a channel that fires when the wake file is written.
func (l *Loop) watchWakeFile() (<-chan struct{}, func(), error) {
	if l.cfg.WakeFile == "" {
		return nil, func() {}, nil
	}

	dir := filepath.Dir(l.cfg.WakeFile)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("fsnotify: %w", err)
	}
	// Watch the directory: the file may not exist yet and editors replace it.
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	wake := make(chan struct{}, 1)
	target := filepath.Clean(l.cfg.WakeFile)
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
					continue
				}
				select {
				case wake <- struct{}{}:
				default:
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				l.log.Warn(context.Background(), "wake watcher error", "error", err)
			}
		}
	}()

	return wake, func() { _ = w.Close() }, nil
}

// Touch writes the wake file so a running loop ticks right away.
func Touch(wakeFile string) error {
	if wakeFile == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(wakeFile), 0o750); err != nil {
		return err
	}
	return os.WriteFile(wakeFile, []byte(time.Now().UTC().Format(time.RFC3339Nano)), 0o600)
}
