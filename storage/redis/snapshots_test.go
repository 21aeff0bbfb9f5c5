package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/envelope"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/kernel"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/logging"
)

// setupStore connects to ZOE_TEST_REDIS_ADDR (default localhost:6379) and
// skips when no server answers.
func setupStore(t *testing.T) *SnapshotStore {
	t.Helper()
	addr := os.Getenv("ZOE_TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	store, err := NewSnapshotStore(ctx, Config{Addr: addr, KeyPrefix: "zoe:test:" + uuid.NewString() + ":"})
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestKeysArePrefixed(t *testing.T) {
	s := NewSnapshotStoreFromClient(nil, "")
	assert.Equal(t, "zoe:session:interaction:int_1", s.interactionKey("int_1"))
	assert.Equal(t, "zoe:session:latest:s1", s.latestKey("s1"))
}

func TestNewSnapshotStoreRequiresAddr(t *testing.T) {
	_, err := NewSnapshotStore(context.Background(), Config{})
	assert.Error(t, err)
}

func TestSnapshotRoundTrip(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	snap := kernel.Snapshot{
		InteractionID: "int_1",
		SessionID:     "s1",
		UserID:        "u1",
		Text:          "turn on the kitchen lights",
		Classification: envelope.ClassificationResult{
			Tier:   envelope.Tier0,
			Intent: "lights.control",
		},
		Outcome:   envelope.OutcomeSuccess,
		LatencyMS: 12,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, store.Save(ctx, snap, time.Minute))

	got, err := store.Load(ctx, "int_1")
	require.NoError(t, err)
	assert.Equal(t, "lights.control", got.Classification.Intent)
	assert.Equal(t, envelope.OutcomeSuccess, got.Outcome)

	latest, err := store.LatestForSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "int_1", latest.InteractionID)

	_, err = store.Load(ctx, "missing")
	assert.ErrorIs(t, err, kernel.ErrSessionNotFound)
	_, err = store.LatestForSession(ctx, "missing")
	assert.ErrorIs(t, err, kernel.ErrSessionNotFound)
}

func TestSnapshotExpires(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, kernel.Snapshot{InteractionID: "int_ttl", SessionID: "s_ttl"}, 50*time.Millisecond))

	require.Eventually(t, func() bool {
		_, err := store.Load(ctx, "int_ttl")
		return err != nil
	}, 2*time.Second, 20*time.Millisecond)
}

func TestRegistryRestoresFromRedis(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	before := kernel.NewSessionRegistry(time.Minute, logging.Nop())
	before.SetSnapshotStore(store)
	before.Put(&kernel.Session{
		InteractionID: "int_r",
		SessionID:     "s_r",
		UserID:        "u1",
		Outcome:       envelope.OutcomeSuccess,
	})

	after := kernel.NewSessionRegistry(time.Minute, logging.Nop())
	after.SetSnapshotStore(store)
	require.Eventually(t, func() bool {
		s, err := after.Lookup(ctx, "s_r", "")
		return err == nil && s.Restored && s.InteractionID == "int_r"
	}, 2*time.Second, 20*time.Millisecond)
}
