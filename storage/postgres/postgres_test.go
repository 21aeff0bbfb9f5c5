package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/envelope"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/satisfaction"
)

func TestPostgresSatisfactionStore(t *testing.T) {
	if testing.Short() {
		t.Skip("container test")
	}
	ctx := context.Background()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("zoe"),
		tcpostgres.WithUsername("zoe"),
		tcpostgres.WithPassword("zoe"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute)),
	)
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	rec := satisfaction.Record{
		InteractionID: "int_1",
		UserID:        "u1",
		SessionID:     "s1",
		Tier:          envelope.Tier0,
		Intent:        "timer.set",
		Latency:       40 * time.Millisecond,
		Outcome:       envelope.OutcomeSuccess,
	}

	t.Run("upsert twice keeps one row", func(t *testing.T) {
		require.NoError(t, store.Upsert(ctx, rec))
		require.NoError(t, store.Upsert(ctx, rec))

		var n int
		require.NoError(t, store.pool.QueryRow(ctx, `SELECT COUNT(*) FROM satisfaction`).Scan(&n))
		assert.Equal(t, 1, n)
	})

	t.Run("feedback overwrites", func(t *testing.T) {
		updated := rec
		updated.Feedback = envelope.FeedbackApprove
		updated.Outcome = envelope.OutcomeApproved
		require.NoError(t, store.Upsert(ctx, updated))

		got, err := store.Get(ctx, "int_1")
		require.NoError(t, err)
		assert.Equal(t, envelope.OutcomeApproved, got.Outcome)
		assert.Equal(t, envelope.FeedbackApprove, got.Feedback)
		assert.Equal(t, 40*time.Millisecond, got.Latency)
		assert.Equal(t, "timer.set", got.Intent)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := store.Get(ctx, "nope")
		assert.ErrorIs(t, err, satisfaction.ErrNotFound)
	})
}
