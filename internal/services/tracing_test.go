package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/meterkeeper/internal/logging"
	"github.com/dmitrijs2005/meterkeeper/internal/models"
	"github.com/dmitrijs2005/meterkeeper/internal/remote/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func spanAttr(s sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range s.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestSpans_UploadOutcomeRecorded(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	id, err := e.enqueue().RequestUpload(ctx, "u1", "m1", e.photo(t, "p.jpg"), 1, time.Now())
	require.NoError(t, err)

	up := NewUploadReconciler(e.queue, e.remote, e.blobs, logging.Nop(), WithTracerProvider(tp))
	_, err = up.Run(ctx, id)
	require.NoError(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "UploadReconciler.Run", spans[0].Name())
	v, ok := spanAttr(spans[0], "upload.outcome")
	require.True(t, ok)
	assert.Equal(t, string(UploadCommitted), v.AsString())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
}

func TestSpans_FailedCascadeMarkedError(t *testing.T) {
	e := newEnv(t)
	e.seedHierarchy()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	e.remote.FailNext(memory.OpCommit, errors.New("unavailable"))
	c := NewCascadeDeleter(e.remote, e.blobs, logging.Nop(), WithTracerProvider(tp))
	err := c.Delete(context.Background(), models.EntityKindMeter, "u1", "m1")
	require.Error(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "CascadeDeleter.Delete", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	v, ok := spanAttr(spans[0], "entity.id")
	require.True(t, ok)
	assert.Equal(t, "m1", v.AsString())
}
