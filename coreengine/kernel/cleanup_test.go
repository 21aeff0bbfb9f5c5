package kernel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/config"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/testutil"
)

func newTestKernel(t *testing.T, log *testutil.RecordingLogger) *Kernel {
	t.Helper()
	cfg := config.DefaultCoreConfig()
	return NewKernel(log, cfg, RateLimitConfig{RequestsPerMinute: 2})
}

func TestDefaultCleanupConfig(t *testing.T) {
	cfg := DefaultCleanupConfig()
	assert.Equal(t, time.Minute, cfg.Interval)
	assert.Equal(t, time.Hour, cfg.InterruptRetention)
}

func TestRunCleanupCycle(t *testing.T) {
	log := testutil.NewRecordingLogger()
	k := newTestKernel(t, log)

	now := time.Now().UTC()
	k.sessions.Put(&Session{InteractionID: "i1", SessionID: "s1"})
	irq := k.interrupts.CreateConfirmation(InterruptRequest{InteractionID: "i1", SessionID: "s1"})
	k.rateLimiter.Allow("u1", "chat")

	later := now.Add(48 * time.Hour)
	k.sessions.now = func() time.Time { return later }
	k.interrupts.now = func() time.Time { return later }
	k.rateLimiter.now = func() time.Time { return later }

	stats := k.RunCleanupCycle(DefaultCleanupConfig())
	assert.Equal(t, 1, stats.Sessions)
	assert.Equal(t, 1, stats.InterruptsExpired)
	assert.Equal(t, 1, stats.InterruptsRemoved)
	assert.Equal(t, 1, stats.RateWindowsRemoved)

	_, ok := k.interrupts.Get(irq.ID)
	assert.False(t, ok)
	assert.Zero(t, k.sessions.Len())
	assert.True(t, log.Has("cleanup_cycle_completed"))
}

func TestStartCleanupLoop(t *testing.T) {
	log := testutil.NewRecordingLogger()
	k := newTestKernel(t, log)

	stop := k.StartCleanupLoop(CleanupConfig{Interval: 5 * time.Millisecond})
	require.NotNil(t, stop)
	assert.Eventually(t, func() bool { return log.Has("cleanup_cycle_completed") }, time.Second, 5*time.Millisecond)
	stop()
}
