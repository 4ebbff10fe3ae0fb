package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/meterkeeper/internal/common"
	"github.com/dmitrijs2005/meterkeeper/internal/filex"
	"github.com/dmitrijs2005/meterkeeper/internal/logging"
	"github.com/dmitrijs2005/meterkeeper/internal/models"
	"github.com/dmitrijs2005/meterkeeper/internal/queue"
	"github.com/dmitrijs2005/meterkeeper/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQueue(t *testing.T) *queue.SQLiteStore {
	t.Helper()
	db, err := queue.Open(context.Background(), filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return queue.NewSQLiteStore(db)
}

func enqueueUploads(t *testing.T, q queue.Store, n int) []int64 {
	t.Helper()
	var ids []int64
	for i := 0; i < n; i++ {
		id, err := q.EnqueueUpload(context.Background(), &models.QueuedUpload{
			ReadingID:     "r" + string(rune('a'+i)),
			OwnerID:       "u1",
			MeterID:       "m1",
			LocalBlobPath: "/spool/" + string(rune('a'+i)) + ".jpg",
			Value:         float64(i),
			CapturedAt:    time.Now(),
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

type fakeUploads struct {
	mu      sync.Mutex
	calls   map[int64]int
	fail    map[int64]error
	active  atomic.Int32
	maxSeen atomic.Int32
	delay   time.Duration
	gate    chan struct{}
}

func newFakeUploads() *fakeUploads {
	return &fakeUploads{calls: map[int64]int{}, fail: map[int64]error{}}
}

func (f *fakeUploads) Run(ctx context.Context, id int64) (services.UploadOutcome, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls[id]++
	err := f.fail[id]
	f.mu.Unlock()

	if f.gate != nil {
		<-f.gate
	}
	time.Sleep(f.delay)

	if err != nil {
		return services.UploadFailed, err
	}
	return services.UploadCommitted, nil
}

type fakeDeletions struct {
	runs atomic.Int32
	gate chan struct{}
	mu   sync.Mutex
	errs []error
}

func (f *fakeDeletions) Run(context.Context) (services.DeletionReport, error) {
	f.runs.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errs) == 0 {
		return services.DeletionReport{}, nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return services.DeletionReport{}, err
}

func TestRunUploads_BoundedAndAggregated(t *testing.T) {
	q := newQueue(t)
	ids := enqueueUploads(t, q, 6)

	up := newFakeUploads()
	up.delay = 20 * time.Millisecond
	up.fail[ids[1]] = common.Transient(errors.New("offline"))
	up.fail[ids[4]] = common.Transient(errors.New("offline"))

	r := NewRunner(q, up, &fakeDeletions{}, logging.Nop(), 2)
	report, err := r.RunUploads(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrTransient)
	assert.Equal(t, UploadReport{Committed: 4, Failed: 2}, report)
	assert.LessOrEqual(t, up.maxSeen.Load(), int32(2))
	for _, id := range ids {
		assert.Equal(t, 1, up.calls[id])
	}
}

func TestRunUpload_SharesConcurrentRunsForSameID(t *testing.T) {
	q := newQueue(t)
	up := newFakeUploads()
	up.gate = make(chan struct{})
	r := NewRunner(q, up, &fakeDeletions{}, logging.Nop(), 4)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := r.RunUpload(context.Background(), 7)
			assert.NoError(t, err)
			assert.Equal(t, services.UploadCommitted, outcome)
		}()
	}

	require.Eventually(t, func() bool { return up.active.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(up.gate)
	wg.Wait()

	assert.Equal(t, 1, up.calls[7])
}

func TestRunDeletions_SingleInstance(t *testing.T) {
	q := newQueue(t)
	del := &fakeDeletions{gate: make(chan struct{})}
	r := NewRunner(q, newFakeUploads(), del, logging.Nop(), 1)

	done := make(chan error, 1)
	go func() {
		_, err := r.RunDeletions(context.Background())
		done <- err
	}()
	require.Eventually(t, func() bool { return del.runs.Load() == 1 }, time.Second, time.Millisecond)

	_, err := r.RunDeletions(context.Background())
	assert.ErrorIs(t, err, common.ErrBusy)

	close(del.gate)
	require.NoError(t, <-done)

	_, err = r.RunDeletions(context.Background())
	assert.NoError(t, err, "lock released after the pass")
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestTick_RetriesTransientFailures(t *testing.T) {
	q := newQueue(t)
	del := &fakeDeletions{errs: []error{
		common.Transient(errors.New("blip")),
		common.Transient(errors.New("blip")),
	}}
	r := NewRunner(q, newFakeUploads(), del, logging.Nop(), 1)

	var results []TickResult
	l := NewLoop(r, q, fakePinger{}, LoopConfig{
		BackoffMin: time.Millisecond,
		BackoffMax: 5 * time.Millisecond,
		MaxRetries: 3,
	}, logging.Nop(), func(res TickResult) { results = append(results, res) })

	res := l.Tick(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, int32(3), del.runs.Load())
	require.Len(t, results, 1)
}

func TestTick_GivesUpAfterMaxRetries(t *testing.T) {
	q := newQueue(t)
	boom := common.Transient(errors.New("down"))
	del := &fakeDeletions{errs: []error{boom, boom, boom}}
	r := NewRunner(q, newFakeUploads(), del, logging.Nop(), 1)

	l := NewLoop(r, q, nil, LoopConfig{BackoffMin: time.Millisecond, MaxRetries: 1}, logging.Nop(), nil)
	res := l.Tick(context.Background())

	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, common.ErrTransient)
	assert.Equal(t, int32(2), del.runs.Load())
}

func TestTick_OfflineSkips(t *testing.T) {
	q := newQueue(t)
	enqueueUploads(t, q, 2)
	up := newFakeUploads()
	r := NewRunner(q, up, &fakeDeletions{}, logging.Nop(), 1)

	l := NewLoop(r, q, fakePinger{err: errors.New("no route")}, LoopConfig{}, logging.Nop(), nil)
	res := l.Tick(context.Background())

	assert.True(t, res.Offline)
	assert.NoError(t, res.Err)
	assert.Equal(t, queue.Counts{Uploads: 2}, res.Counts)
	assert.Empty(t, up.calls)
}

func TestLoop_WakeFileTriggersTick(t *testing.T) {
	q := newQueue(t)
	wake := filepath.Join(t.TempDir(), "run", "wake")
	r := NewRunner(q, newFakeUploads(), &fakeDeletions{}, logging.Nop(), 1)

	var ticks atomic.Int32
	l := NewLoop(r, q, nil, LoopConfig{Interval: time.Hour, WakeFile: wake}, logging.Nop(),
		func(TickResult) { ticks.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	require.Eventually(t, func() bool { return ticks.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, Touch(wake))
	require.Eventually(t, func() bool { return ticks.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestSweepSpool(t *testing.T) {
	q := newQueue(t)
	spool := t.TempDir()
	now := time.Now()

	write := func(name string, age time.Duration) string {
		p := filepath.Join(spool, name)
		require.NoError(t, os.WriteFile(p, []byte(name), 0o600))
		require.NoError(t, os.Chtimes(p, now.Add(-age), now.Add(-age)))
		return p
	}

	owned := write("owned.jpg", 48*time.Hour)
	orphan := write("orphan.jpg", 48*time.Hour)
	fresh := write("fresh.jpg", time.Minute)
	hidden := write(".wake", 48*time.Hour)

	_, err := q.EnqueueUpload(context.Background(), &models.QueuedUpload{
		ReadingID: "r1", OwnerID: "u1", MeterID: "m1", LocalBlobPath: owned, CapturedAt: now,
	})
	require.NoError(t, err)

	removed, err := SweepSpool(context.Background(), q, spool, time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, []string{orphan}, removed)

	for _, p := range []string{owned, fresh, hidden} {
		_, err := os.Stat(p)
		assert.NoError(t, err, p)
	}

	removed, err = SweepSpool(context.Background(), q, filepath.Join(spool, "missing"), time.Hour, now)
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestSweepSpool_RelativeSpoolKeepsQueuedPhotos(t *testing.T) {
	t.Chdir(t.TempDir())
	q := newQueue(t)
	now := time.Now()

	spool, err := filex.EnsureDir(filepath.Join(".meterkeeper", "spool"))
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "photo.jpg")
	require.NoError(t, os.WriteFile(src, []byte("jpeg"), 0o600))
	queued, err := filex.SpoolCopy(spool, src)
	require.NoError(t, err)
	_, err = q.EnqueueUpload(context.Background(), &models.QueuedUpload{
		ReadingID: "r1", OwnerID: "u1", MeterID: "m1", LocalBlobPath: queued, CapturedAt: now,
	})
	require.NoError(t, err)

	orphan := filepath.Join(spool, "orphan.jpg")
	require.NoError(t, os.WriteFile(orphan, []byte("x"), 0o600))

	removed, err := SweepSpool(context.Background(), q, filepath.Join(".meterkeeper", "spool"), 24*time.Hour, now.Add(25*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{orphan}, removed)

	_, err = os.Stat(queued)
	assert.NoError(t, err, "photo of a queued upload must survive the sweep")
}
