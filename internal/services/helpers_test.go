package services

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/meterkeeper/internal/logging"
	"github.com/dmitrijs2005/meterkeeper/internal/models"
	"github.com/dmitrijs2005/meterkeeper/internal/queue"
	"github.com/dmitrijs2005/meterkeeper/internal/remote/memory"
	"github.com/stretchr/testify/require"
)

type env struct {
	queue  *queue.SQLiteStore
	remote *memory.Store
	blobs  *memory.Blobs
	obs    *recordingObserver
	spool  string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, err := queue.Open(context.Background(), filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	r := memory.New("local")
	return &env{
		queue:  queue.NewSQLiteStore(db),
		remote: r,
		blobs:  r.Blobs(),
		obs:    &recordingObserver{uploads: map[UploadOutcome]int{}},
		spool:  t.TempDir(),
	}
}

func (e *env) photo(t *testing.T, name string) string {
	t.Helper()
	p := filepath.Join(e.spool, name)
	require.NoError(t, os.WriteFile(p, []byte("jpeg:"+name), 0o600))
	return p
}

func (e *env) enqueue() *EnqueueService {
	return NewEnqueueService(e.queue, logging.Nop())
}

func (e *env) uploader(q queue.Store) *UploadReconciler {
	if q == nil {
		q = e.queue
	}
	return NewUploadReconciler(q, e.remote, e.blobs, logging.Nop(), WithObserver(e.obs))
}

func (e *env) cascade() *CascadeDeleter {
	return NewCascadeDeleter(e.remote, e.blobs, logging.Nop(), WithObserver(e.obs))
}

// seedHierarchy builds
//
//	locA(u1) -> m1 -> r1 (photo u1/m1/b1)
//	         -> m2 -> r2 (no photo)
//	locB(u1) -> m3 -> r3 (photo u1/m3/b3)
func (e *env) seedHierarchy() {
	e.remote.Seed(models.CollectionLocations, "locA", map[string]any{models.FieldUserID: "u1"})
	e.remote.Seed(models.CollectionLocations, "locB", map[string]any{models.FieldUserID: "u1"})
	e.remote.Seed(models.CollectionMeters, "m1", map[string]any{models.FieldLocationID: "locA"})
	e.remote.Seed(models.CollectionMeters, "m2", map[string]any{models.FieldLocationID: "locA"})
	e.remote.Seed(models.CollectionMeters, "m3", map[string]any{models.FieldLocationID: "locB"})

	b1 := e.blobs.Seed("u1/m1/b1", []byte("b1"))
	b3 := e.blobs.Seed("u1/m3/b3", []byte("b3"))

	e.remote.Seed(models.CollectionReadings, "r1", map[string]any{models.FieldMeterID: "m1", models.FieldPhotoURL: b1})
	e.remote.Seed(models.CollectionReadings, "r2", map[string]any{models.FieldMeterID: "m2"})
	e.remote.Seed(models.CollectionReadings, "r3", map[string]any{models.FieldMeterID: "m3", models.FieldPhotoURL: b3})
}

type recordingObserver struct {
	mu           sync.Mutex
	uploads      map[UploadOutcome]int
	cascades     int
	cascadeFails int
	blobFails    int
	cleanupFails int
}

func (o *recordingObserver) UploadFinished(outcome UploadOutcome, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.uploads[outcome]++
}

func (o *recordingObserver) CascadeFinished(_ models.EntityKind, err error, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cascades++
	if err != nil {
		o.cascadeFails++
	}
}

func (o *recordingObserver) BlobDeleteFailed() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.blobFails++
}

func (o *recordingObserver) CleanupFailed() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cleanupFails++
}
