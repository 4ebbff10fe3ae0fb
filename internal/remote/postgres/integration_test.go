//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/meterkeeper/internal/common"
	"github.com/dmitrijs2005/meterkeeper/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("meterkeeper_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	require.NoError(t, RunMigrations(ctx, s.pool), "migrations must be re-runnable")
	return s
}

func TestStore_Integration(t *testing.T) {
	s := startStore(t)
	ctx := context.Background()

	require.NoError(t, s.Ping(ctx))

	require.NoError(t, s.Set(ctx, "meters", "m1", map[string]any{"locationId": "locA"}))
	require.NoError(t, s.Set(ctx, "readings", "r1", map[string]any{
		"meterId":    "m1",
		"finalValue": 123.4,
		"timestamp":  remote.ServerTimestamp,
	}))

	doc, err := s.Get(ctx, "readings", "r1")
	require.NoError(t, err)
	assert.Equal(t, "m1", doc.String("meterId"))
	assert.Equal(t, 123.4, doc.Fields["finalValue"])
	assert.NotEmpty(t, doc.String("timestamp"))

	found, err := s.Query(ctx, "readings", remote.Where("meterId", "m1"))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "r1", found[0].ID)

	id, err := s.Add(ctx, "locations", map[string]any{"userId": "u1"})
	require.NoError(t, err)

	b := s.Batch()
	b.Delete("readings", "r1")
	b.Delete("meters", "m1")
	b.Delete("locations", id)
	require.NoError(t, b.Commit(ctx))

	for _, key := range [][2]string{{"readings", "r1"}, {"meters", "m1"}, {"locations", id}} {
		_, err := s.Get(ctx, key[0], key[1])
		assert.ErrorIs(t, err, common.ErrorNotFound)
	}

	require.NoError(t, s.Delete(ctx, "readings", "r1"), "delete of a missing document is not an error")
}

func TestBatch_Integration_RollsBackOnFailure(t *testing.T) {
	s := startStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "meters", "m1", map[string]any{"locationId": "locA"}))

	b := s.Batch()
	b.Delete("meters", "m1")
	// invalid JSON body type forces the second statement to fail
	b.Set("readings", "r1", map[string]any{"bad": make(chan int)})
	require.Error(t, b.Commit(ctx))

	_, err := s.Get(ctx, "meters", "m1")
	assert.NoError(t, err, "first staged delete must be rolled back")
}
