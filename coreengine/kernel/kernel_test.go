package kernel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/commbus"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/config"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/testutil"
)

func TestKernelHealthOverBus(t *testing.T) {
	k := newTestKernel(t, testutil.NewRecordingLogger())
	k.RegisterHealthProbe("memory", func(context.Context) commbus.HealthCheckResponse {
		return commbus.HealthCheckResponse{Component: "memory", Status: commbus.HealthStatusDegraded}
	})

	bus := commbus.NewInMemoryCommBus(time.Second, nil)
	require.NoError(t, k.RegisterBusHandlers(bus))

	res, err := bus.QuerySync(context.Background(), &commbus.HealthCheckRequest{Component: "kernel"})
	require.NoError(t, err)
	resp := res.(*commbus.HealthCheckResponse)
	assert.Equal(t, commbus.HealthStatusHealthy, resp.Status)
	assert.Contains(t, resp.Details, "uptime_seconds")

	res, err = bus.QuerySync(context.Background(), &commbus.HealthCheckRequest{Component: "all"})
	require.NoError(t, err)
	resp = res.(*commbus.HealthCheckResponse)
	assert.Equal(t, commbus.HealthStatusDegraded, resp.Status)
	assert.Equal(t, commbus.HealthStatusDegraded, resp.Details["memory"])

	_, err = bus.QuerySync(context.Background(), &commbus.HealthCheckRequest{Component: "tracker"})
	assert.Error(t, err)
}

func TestKernelHealthProbePanic(t *testing.T) {
	k := newTestKernel(t, testutil.NewRecordingLogger())
	k.RegisterHealthProbe("flaky", func(context.Context) commbus.HealthCheckResponse { panic("probe") })

	out := k.Health(context.Background(), "flaky")
	require.Len(t, out, 1)
	assert.Equal(t, commbus.HealthStatusUnhealthy, out[0].Status)
}

func TestKernelExpireSessionsCommand(t *testing.T) {
	k := newTestKernel(t, testutil.NewRecordingLogger())
	bus := commbus.NewInMemoryCommBus(time.Second, nil)
	require.NoError(t, k.RegisterBusHandlers(bus))

	k.sessions.Put(&Session{InteractionID: "i1", SessionID: "s1"})
	k.sessions.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }

	require.NoError(t, bus.Send(context.Background(), &commbus.ExpireSessions{}))
	assert.Zero(t, k.sessions.Len())
}

func TestKernelCheckRateLimit(t *testing.T) {
	log := testutil.NewRecordingLogger()
	k := newTestKernel(t, log)

	assert.True(t, k.CheckRateLimit("u1", "chat").Allowed)
	assert.True(t, k.CheckRateLimit("u1", "chat").Allowed)
	res := k.CheckRateLimit("u1", "chat")
	assert.False(t, res.Allowed)
	assert.True(t, log.Has("rate_limit_exceeded"))
}

func TestKernelShutdownCancelsInterrupts(t *testing.T) {
	k := newTestKernel(t, testutil.NewRecordingLogger())
	k.Start(CleanupConfig{Interval: time.Hour})
	in := k.interrupts.CreateConfirmation(InterruptRequest{InteractionID: "i1", SessionID: "s1"})

	require.NoError(t, k.Shutdown(context.Background()))
	require.NoError(t, k.Shutdown(context.Background()))

	got, _ := k.interrupts.Get(in.ID)
	assert.Equal(t, InterruptCancelled, got.Status)
}

func TestRateLimitsFromConfig(t *testing.T) {
	got := RateLimitsFromConfig(config.LimitsConfig{RequestsPerMinute: 1, RequestsPerHour: 2, RequestsPerDay: 3})
	assert.Equal(t, RateLimitConfig{RequestsPerMinute: 1, RequestsPerHour: 2, RequestsPerDay: 3}, got)
}
