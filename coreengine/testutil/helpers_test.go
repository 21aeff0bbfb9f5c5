package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/envelope"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/llm"
)

func TestMockModelClient(t *testing.T) {
	t.Run("canned answers", func(t *testing.T) {
		m := NewMockModelClient().WithLabel("music.play", 0.9).WithReply("Playing.")
		res, err := m.Classify(context.Background(), "play something", nil)
		require.NoError(t, err)
		assert.Equal(t, "music.play", res.Label)
		assert.Equal(t, 0.9, res.Confidence)

		out, err := m.Generate(context.Background(), "prompt", defaultOpts())
		require.NoError(t, err)
		assert.Equal(t, "Playing.", out)
		assert.Equal(t, 1, m.ClassifyCalls())
		assert.Equal(t, []string{"prompt"}, m.Prompts())
	})

	t.Run("delay honors deadline", func(t *testing.T) {
		m := NewMockModelClient().WithDelay(time.Second)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err := m.Classify(ctx, "x", nil)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("error", func(t *testing.T) {
		m := NewMockModelClient().WithError(errors.New("down"))
		_, err := m.Generate(context.Background(), "x", defaultOpts())
		assert.EqualError(t, err, "down")
	})
}

func TestMockEpisodeStore(t *testing.T) {
	store := NewMockEpisodeStore(
		Episode("e1", "u1", "I parked on level three", time.Minute),
		Episode("e2", "u2", "parked elsewhere", time.Minute),
	)

	got, err := store.Search(context.Background(), "parked", "u1", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "e1", got[0].ID)

	require.NoError(t, store.Insert(context.Background(), envelope.NewEpisode("u1", "new", time.Now())))
	assert.Len(t, store.Stored(), 3)
	assert.Equal(t, 1, store.SearchCount())
}

func TestMockToolExecutor(t *testing.T) {
	exec := NewMockToolExecutor().
		WithResult("music.play", map[string]any{"playing": "jazz"}).
		WithError("timer.create", errors.New("no timers"))

	out, err := exec.Execute(context.Background(), "music.play", nil)
	require.NoError(t, err)
	assert.Equal(t, "jazz", out["playing"])

	_, err = exec.Execute(context.Background(), "timer.create", nil)
	assert.Error(t, err)

	out, err = exec.Execute(context.Background(), "anything", nil)
	require.NoError(t, err)
	assert.Equal(t, "success", out["status"])

	assert.Equal(t, []string{"music.play", "timer.create", "anything"}, exec.CalledTools())
	assert.Panics(t, func() {
		_, _ = exec.WithPanic("boom").Execute(context.Background(), "boom", nil)
	})
}

func TestEventRecorder(t *testing.T) {
	rec := NewEventRecorder()
	rec.Emit(envelope.NewEvent(envelope.EventStepStart, nil))
	rec.Emit(envelope.NewEvent(envelope.EventStepComplete, nil))
	rec.Emit(envelope.NewEvent(envelope.EventStepStart, nil))

	assert.Equal(t, []envelope.EventType{envelope.EventStepStart, envelope.EventStepComplete, envelope.EventStepStart}, rec.Types())
	assert.Len(t, rec.OfType(envelope.EventStepStart), 2)
}

func TestRecordingLogger(t *testing.T) {
	log := NewRecordingLogger()
	bound := log.Bind("component", "x")
	bound.Warn("something_odd", "k", 1)
	log.Info("plain")

	entries := log.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "warn", entries[0].Level)
	assert.Equal(t, []any{"component", "x", "k", 1}, entries[0].Fields)
	assert.True(t, log.Has("plain"))
	assert.False(t, log.Has("missing"))
}

func defaultOpts() llm.GenerateOptions { return llm.GenerateOptions{} }
