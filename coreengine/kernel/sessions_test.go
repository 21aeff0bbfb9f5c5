package kernel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/envelope"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/testutil"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/workflow"
)

type memorySnapshots struct {
	mu    sync.Mutex
	snaps map[string]Snapshot
	saves int
}

func newMemorySnapshots() *memorySnapshots {
	return &memorySnapshots{snaps: make(map[string]Snapshot)}
}

func (m *memorySnapshots) Save(_ context.Context, snap Snapshot, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[snap.InteractionID] = snap
	m.saves++
	return nil
}

func (m *memorySnapshots) Load(_ context.Context, id string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snaps[id]
	if !ok {
		return Snapshot{}, ErrSessionNotFound
	}
	return snap, nil
}

func (m *memorySnapshots) LatestForSession(_ context.Context, sessionID string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best Snapshot
	found := false
	for _, s := range m.snaps {
		if s.SessionID == sessionID && (!found || s.CreatedAt.After(best.CreatedAt)) {
			best, found = s, true
		}
	}
	if !found {
		return Snapshot{}, ErrSessionNotFound
	}
	return best, nil
}

func (m *memorySnapshots) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func testSession(interactionID, sessionID string) *Session {
	utt := testutil.Utterance("turn on the lights")
	utt.SessionID = sessionID
	return &Session{
		InteractionID: interactionID,
		SessionID:     sessionID,
		UserID:        utt.UserID,
		Utterance:     utt,
		Classification: envelope.ClassificationResult{
			Intent:     "lights.control",
			Confidence: 0.9,
		},
		Outcome: envelope.OutcomeSuccess,
		Latency: 120 * time.Millisecond,
	}
}

func TestSessionRegistryPutGet(t *testing.T) {
	reg := NewSessionRegistry(time.Minute, nil)
	reg.Put(testSession("i1", "s1"))
	reg.Put(testSession("i2", "s1"))

	s, ok := reg.Get("i1")
	require.True(t, ok)
	assert.Equal(t, "s1", s.SessionID)
	assert.False(t, s.ExpiresAt.IsZero())

	latest, ok := reg.Latest("s1")
	require.True(t, ok)
	assert.Equal(t, "i2", latest.InteractionID)

	_, ok = reg.Latest("nope")
	assert.False(t, ok)
}

func TestSessionRegistryUpdate(t *testing.T) {
	reg := NewSessionRegistry(time.Minute, nil)
	reg.Put(testSession("i1", "s1"))

	err := reg.Update("i1", func(s *Session) {
		s.Feedback = envelope.FeedbackReject
		s.Outcome = envelope.OutcomeRejected
	})
	require.NoError(t, err)
	s, _ := reg.Get("i1")
	assert.Equal(t, envelope.OutcomeRejected, s.Outcome)

	assert.ErrorIs(t, reg.Update("missing", func(*Session) {}), ErrSessionNotFound)
}

func TestSessionRegistryExpiry(t *testing.T) {
	reg := NewSessionRegistry(time.Minute, nil)
	reg.Put(testSession("i1", "s1"))

	later := time.Now().UTC().Add(2 * time.Minute)
	reg.now = func() time.Time { return later }

	_, ok := reg.Get("i1")
	assert.False(t, ok)
	assert.Equal(t, 1, reg.Len())
	assert.Equal(t, 1, reg.Sweep())
	assert.Zero(t, reg.Len())
}

func TestSessionRegistryLookupChecksSession(t *testing.T) {
	reg := NewSessionRegistry(time.Minute, nil)
	reg.Put(testSession("i1", "s1"))

	s, err := reg.Lookup(context.Background(), "s1", "i1")
	require.NoError(t, err)
	assert.Equal(t, "i1", s.InteractionID)

	_, err = reg.Lookup(context.Background(), "s2", "i1")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	s, err = reg.Lookup(context.Background(), "s1", "")
	require.NoError(t, err)
	assert.Equal(t, "i1", s.InteractionID)
}

func TestSessionRegistryPersistsAndRestores(t *testing.T) {
	store := newMemorySnapshots()
	reg := NewSessionRegistry(time.Minute, testutil.NewRecordingLogger())
	reg.SetSnapshotStore(store)

	sess := testSession("i1", "s1")
	wf := workflow.New(envelope.Goal{Classification: envelope.ClassificationResult{Intent: "lights.control"}}, []*workflow.Step{
		{ID: "step_1", Role: workflow.RoleExecutor, Tool: "smart_home.set_lights"},
	}, false)
	sess.Workflow = wf
	reg.Put(sess)

	assert.Eventually(t, func() bool { return store.saveCount() == 1 }, time.Second, 5*time.Millisecond)

	// A fresh registry simulates a restart.
	restarted := NewSessionRegistry(time.Minute, nil)
	restarted.SetSnapshotStore(store)

	got, err := restarted.Lookup(context.Background(), "s1", "i1")
	require.NoError(t, err)
	assert.True(t, got.Restored)
	assert.Nil(t, got.Workflow)
	require.NotNil(t, got.View)
	assert.Equal(t, wf.ID, got.View.ID)
	assert.Equal(t, "turn on the lights", got.Utterance.Text)
	assert.Equal(t, 120*time.Millisecond, got.Latency)

	got, err = restarted.Lookup(context.Background(), "s1", "")
	require.NoError(t, err)
	assert.Equal(t, "i1", got.InteractionID)

	_, err = restarted.Lookup(context.Background(), "other", "i1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
