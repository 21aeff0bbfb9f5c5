// Package kernel holds the per-process state shared by every request:
// retained sessions, pending interrupts, rate limits and panic recovery.
package kernel

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/commbus"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/config"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/logging"
)

// HealthProbe reports the health of one component.
type HealthProbe func(ctx context.Context) commbus.HealthCheckResponse

// Kernel composes the shared services.
type Kernel struct {
	logger      logging.Logger
	sessions    *SessionRegistry
	interrupts  *InterruptService
	rateLimiter *RateLimiter
	startedAt   time.Time

	probesMu sync.RWMutex
	probes   map[string]HealthProbe

	shutdownOnce sync.Once
	stopCleanup  func()
}

// NewKernel creates a kernel. Session retention and interrupt expiry both
// follow cfg.SessionTTL.
func NewKernel(logger logging.Logger, cfg *config.CoreConfig, limits RateLimitConfig) *Kernel {
	if logger == nil {
		logger = logging.Nop()
	}
	if cfg == nil {
		cfg = config.DefaultCoreConfig()
	}
	logger = logger.Bind("component", "kernel")

	k := &Kernel{
		logger:      logger,
		sessions:    NewSessionRegistry(cfg.SessionTTL(), logger),
		interrupts:  NewInterruptService(logger, cfg.SessionTTL()),
		rateLimiter: NewRateLimiter(limits),
		startedAt:   time.Now().UTC(),
		probes:      make(map[string]HealthProbe),
	}
	k.probes["kernel"] = k.selfHealth

	logger.Info("kernel_initialized",
		"session_ttl", cfg.SessionTTL().String(),
		"requests_per_minute", limits.RequestsPerMinute,
	)
	return k
}

// RateLimitsFromConfig converts the application limits section.
func RateLimitsFromConfig(l config.LimitsConfig) RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: l.RequestsPerMinute,
		RequestsPerHour:   l.RequestsPerHour,
		RequestsPerDay:    l.RequestsPerDay,
	}
}

// Sessions returns the session registry.
func (k *Kernel) Sessions() *SessionRegistry { return k.sessions }

// Interrupts returns the interrupt service.
func (k *Kernel) Interrupts() *InterruptService { return k.interrupts }

// RateLimiter returns the rate limiter.
func (k *Kernel) RateLimiter() *RateLimiter { return k.rateLimiter }

// Logger returns the kernel logger.
func (k *Kernel) Logger() logging.Logger { return k.logger }

// CheckRateLimit applies the per-user limits for one endpoint.
func (k *Kernel) CheckRateLimit(userID, endpoint string) RateLimitResult {
	res := k.rateLimiter.Allow(userID, endpoint)
	if !res.Allowed {
		k.logger.Warn("rate_limit_exceeded",
			"user_id", userID,
			"endpoint", endpoint,
			"window", res.Window,
			"retry_after", res.RetryAfter.String(),
		)
	}
	return res
}

// RegisterHealthProbe makes a component answer HealthCheckRequest queries.
func (k *Kernel) RegisterHealthProbe(component string, probe HealthProbe) {
	k.probesMu.Lock()
	defer k.probesMu.Unlock()
	k.probes[component] = probe
}

// Health runs the probe of one component, or every probe when component
// is empty or "all".
func (k *Kernel) Health(ctx context.Context, component string) []commbus.HealthCheckResponse {
	k.probesMu.RLock()
	names := make([]string, 0, len(k.probes))
	for name := range k.probes {
		if component == "" || component == "all" || component == name {
			names = append(names, name)
		}
	}
	probes := make([]HealthProbe, len(names))
	sort.Strings(names)
	for i, name := range names {
		probes[i] = k.probes[name]
	}
	k.probesMu.RUnlock()

	out := make([]commbus.HealthCheckResponse, 0, len(probes))
	for i, probe := range probes {
		resp, err := SafeExecuteWithResult(k.logger, "health probe "+names[i], func() (commbus.HealthCheckResponse, error) {
			return probe(ctx), nil
		})
		if err != nil {
			resp = commbus.HealthCheckResponse{
				Component: names[i],
				Status:    commbus.HealthStatusUnhealthy,
				Details:   map[string]any{"error": err.Error()},
			}
		}
		out = append(out, resp)
	}
	return out
}

func (k *Kernel) selfHealth(context.Context) commbus.HealthCheckResponse {
	return commbus.HealthCheckResponse{
		Component: "kernel",
		Status:    commbus.HealthStatusHealthy,
		Details:   k.SystemStatus(),
	}
}

// RegisterBusHandlers wires the ExpireSessions command and the
// HealthCheckRequest query.
func (k *Kernel) RegisterBusHandlers(bus commbus.CommBus) error {
	err := bus.RegisterHandler("ExpireSessions", func(ctx context.Context, msg commbus.Message) (any, error) {
		n := k.sessions.Sweep()
		k.interrupts.ExpirePending()
		return n, nil
	})
	if err != nil {
		return fmt.Errorf("register ExpireSessions: %w", err)
	}

	err = bus.RegisterHandler("HealthCheckRequest", func(ctx context.Context, msg commbus.Message) (any, error) {
		req, ok := msg.(*commbus.HealthCheckRequest)
		if !ok {
			return nil, fmt.Errorf("unexpected message %T", msg)
		}
		results := k.Health(ctx, req.Component)
		if len(results) == 0 {
			return nil, fmt.Errorf("no health probe for %q", req.Component)
		}
		if len(results) == 1 {
			return &results[0], nil
		}
		return AggregateHealth(results), nil
	})
	if err != nil {
		return fmt.Errorf("register HealthCheckRequest: %w", err)
	}
	return nil
}

// AggregateHealth folds several responses into the worst status.
func AggregateHealth(results []commbus.HealthCheckResponse) *commbus.HealthCheckResponse {
	out := &commbus.HealthCheckResponse{
		Component: "all",
		Status:    commbus.HealthStatusHealthy,
		Details:   make(map[string]any, len(results)),
	}
	for _, r := range results {
		out.Details[r.Component] = r.Status
		switch {
		case r.Status == commbus.HealthStatusUnhealthy:
			out.Status = commbus.HealthStatusUnhealthy
		case r.Status == commbus.HealthStatusDegraded && out.Status == commbus.HealthStatusHealthy:
			out.Status = commbus.HealthStatusDegraded
		}
	}
	return out
}

// SystemStatus summarizes the kernel state.
func (k *Kernel) SystemStatus() map[string]any {
	return map[string]any{
		"uptime_seconds": int64(time.Since(k.startedAt).Seconds()),
		"sessions":       k.sessions.Len(),
		"interrupts":     k.interrupts.Stats(),
	}
}

// Start begins background cleanup.
func (k *Kernel) Start(cfg CleanupConfig) {
	k.stopCleanup = k.StartCleanupLoop(cfg)
}

// Shutdown stops background work and cancels pending interrupts. It is
// safe to call more than once.
func (k *Kernel) Shutdown(ctx context.Context) error {
	k.shutdownOnce.Do(func() {
		if k.stopCleanup != nil {
			k.stopCleanup()
		}
		cancelled := 0
		for _, id := range k.interrupts.Pending() {
			if k.interrupts.Cancel(id, "shutdown") {
				cancelled++
			}
		}
		k.logger.Info("kernel_shutdown", "interrupts_cancelled", cancelled)
	})
	return ctx.Err()
}
