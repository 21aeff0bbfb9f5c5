package kernel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/envelope"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/testutil"
)

func confirmationRequest(interactionID string) InterruptRequest {
	return InterruptRequest{
		InteractionID: interactionID,
		WorkflowID:    "wf_1",
		UserID:        "u1",
		SessionID:     "s1",
		Message:       "turn off the lights and play jazz?",
		Data:          map[string]any{"steps": []any{"step_1", "step_2"}},
	}
}

func TestInterruptCreateAndLookup(t *testing.T) {
	svc := NewInterruptService(testutil.NewRecordingLogger(), time.Minute)

	in := svc.CreateConfirmation(confirmationRequest("i1"))
	assert.Contains(t, in.ID, "irq_")
	assert.Equal(t, envelope.InterruptKindConfirmation, in.Kind)
	assert.True(t, in.IsPending())
	require.NotNil(t, in.ExpiresAt)

	got, ok := svc.PendingForInteraction("i1")
	require.True(t, ok)
	assert.Equal(t, in.ID, got.ID)

	got, ok = svc.PendingForSession("s1")
	require.True(t, ok)
	assert.Equal(t, in.ID, got.ID)

	// Returned values are copies.
	got.Status = InterruptCancelled
	again, _ := svc.Get(in.ID)
	assert.Equal(t, InterruptPending, again.Status)
}

func TestInterruptResolve(t *testing.T) {
	svc := NewInterruptService(nil, 0)
	in := svc.CreateConfirmation(confirmationRequest("i1"))

	_, err := svc.Resolve(in.ID, Resolution{Feedback: envelope.FeedbackApprove}, "someone-else")
	assert.ErrorIs(t, err, ErrInterruptUserMatch)

	resolved, err := svc.Resolve(in.ID, Resolution{
		Feedback:   envelope.FeedbackModify,
		StepID:     "step_1",
		Correction: map[string]any{"room": "kitchen"},
	}, "u1")
	require.NoError(t, err)
	assert.Equal(t, InterruptResolved, resolved.Status)
	require.NotNil(t, resolved.Resolution)
	assert.Equal(t, "kitchen", resolved.Resolution.Correction["room"])
	assert.False(t, resolved.Resolution.ReceivedAt.IsZero())

	_, err = svc.Resolve(in.ID, Resolution{Feedback: envelope.FeedbackApprove}, "u1")
	assert.ErrorIs(t, err, ErrInterruptNotPending)

	_, err = svc.Resolve("irq_missing", Resolution{}, "")
	assert.ErrorIs(t, err, ErrInterruptNotFound)

	_, ok := svc.PendingForInteraction("i1")
	assert.False(t, ok)
}

func TestInterruptExpiry(t *testing.T) {
	svc := NewInterruptService(nil, time.Minute)
	in := svc.CreateConfirmation(confirmationRequest("i1"))

	later := time.Now().UTC().Add(2 * time.Minute)
	svc.now = func() time.Time { return later }

	_, ok := svc.PendingForInteraction("i1")
	assert.False(t, ok, "expired interrupts are not offered")

	_, err := svc.Resolve(in.ID, Resolution{Feedback: envelope.FeedbackApprove}, "")
	assert.ErrorIs(t, err, ErrInterruptNotPending)

	assert.Equal(t, 1, svc.ExpirePending())
	got, _ := svc.Get(in.ID)
	assert.Equal(t, InterruptExpired, got.Status)
}

func TestInterruptCancelAndCleanup(t *testing.T) {
	svc := NewInterruptService(nil, 0)
	a := svc.CreateConfirmation(confirmationRequest("i1"))
	b := svc.CreateConfirmation(confirmationRequest("i2"))

	assert.True(t, svc.Cancel(a.ID, "superseded"))
	assert.False(t, svc.Cancel(a.ID, "again"))
	got, _ := svc.Get(a.ID)
	assert.Equal(t, "superseded", got.Data["cancel_reason"])

	assert.Equal(t, []string{b.ID}, svc.Pending())
	stats := svc.Stats()
	assert.Equal(t, 2, stats["total"])
	assert.Equal(t, 1, stats["cancelled"])

	svc.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	assert.Equal(t, 1, svc.CleanupResolved(time.Minute))
	_, ok := svc.Get(a.ID)
	assert.False(t, ok)
	_, ok = svc.Get(b.ID)
	assert.True(t, ok, "pending interrupts survive cleanup")
}

func TestInterruptNewestPendingWins(t *testing.T) {
	svc := NewInterruptService(nil, 0)
	svc.CreateConfirmation(confirmationRequest("i1"))
	second := svc.CreateConfirmation(confirmationRequest("i2"))

	got, ok := svc.PendingForSession("s1")
	require.True(t, ok)
	assert.Equal(t, second.ID, got.ID)
}
