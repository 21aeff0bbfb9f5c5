package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/envelope"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/memory"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/satisfaction"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/testutil"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "zoe.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestEpisodeSearchScoresAndRanks(t *testing.T) {
	store := openTestDB(t).Episodes()
	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, testutil.Episode("e1", "u1", "my sister lives in Lisbon", time.Hour)))
	require.NoError(t, store.Insert(ctx, testutil.Episode("e2", "u1", "the wifi password is hunter2", time.Minute)))
	require.NoError(t, store.Insert(ctx, testutil.Episode("e3", "u2", "my sister is a pilot", time.Minute)))

	got, err := store.Search(ctx, "where does my sister live", "u1", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "e1", got[0].ID)
	assert.Greater(t, got[0].Relevance, 0.0)
	assert.Equal(t, "u1", got[0].UserID)
}

func TestEpisodeRecallQueryReturnsNewestFirst(t *testing.T) {
	store := openTestDB(t).Episodes()
	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, testutil.Episode("old", "u1", "the wifi password is hunter2", time.Hour)))
	require.NoError(t, store.Insert(ctx, testutil.Episode("new", "u1", "my flight leaves at 9", time.Minute)))

	got, err := store.Search(ctx, "What did I just tell you?", "u1", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].ID)
}

func TestEpisodeStoreBacksRetriever(t *testing.T) {
	store := openTestDB(t).Episodes()
	ctx := context.Background()
	ep := envelope.NewEpisode("u1", "remind me the garage code is 4411", time.Now().UTC())
	require.NoError(t, store.Insert(ctx, ep))

	res := memory.NewRetriever(store, time.Second, nil).Search(ctx, "garage code", "u1", 3)
	assert.False(t, res.Degraded)
	require.Len(t, res.Episodes, 1)
	assert.Equal(t, ep.ID, res.Episodes[0].ID)
}

func TestSatisfactionUpsertIsIdempotent(t *testing.T) {
	store := openTestDB(t).Satisfaction()
	ctx := context.Background()
	rec := satisfaction.Record{
		InteractionID: "int_1",
		UserID:        "u1",
		SessionID:     "s1",
		Tier:          envelope.Tier1,
		Intent:        "lights.control",
		Latency:       120 * time.Millisecond,
		Outcome:       envelope.OutcomeSuccess,
	}
	require.NoError(t, store.Upsert(ctx, rec))
	require.NoError(t, store.Upsert(ctx, rec))

	rec.Feedback = envelope.FeedbackReject
	rec.Outcome = envelope.OutcomeRejected
	require.NoError(t, store.Upsert(ctx, rec))

	got, err := store.Get(ctx, "int_1")
	require.NoError(t, err)
	assert.Equal(t, envelope.Tier1, got.Tier)
	assert.Equal(t, "lights.control", got.Intent)
	assert.Equal(t, 120*time.Millisecond, got.Latency)
	assert.Equal(t, envelope.OutcomeRejected, got.Outcome)
	assert.Equal(t, envelope.FeedbackReject, got.Feedback)
	assert.False(t, got.UpdatedAt.IsZero())

	var n int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM satisfaction`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestSatisfactionGetMissing(t *testing.T) {
	_, err := openTestDB(t).Satisfaction().Get(context.Background(), "nope")
	assert.ErrorIs(t, err, satisfaction.ErrNotFound)
}

func TestSatisfactionUpsertRequiresID(t *testing.T) {
	err := openTestDB(t).Satisfaction().Upsert(context.Background(), satisfaction.Record{})
	assert.Error(t, err)
}

func TestOpenInMemory(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Episodes().Insert(context.Background(), testutil.Episode("e1", "u1", "hello", 0)))
}
