package kernel

import (
	"time"
)

// CleanupConfig holds the retention settings of the cleanup loop.
type CleanupConfig struct {
	// Interval between cycles.
	Interval time.Duration
	// InterruptRetention keeps answered interrupts around for late lookups.
	InterruptRetention time.Duration
}

// DefaultCleanupConfig returns the default cleanup configuration.
func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{
		Interval:           time.Minute,
		InterruptRetention: time.Hour,
	}
}

// StartCleanupLoop runs cleanup cycles in the background until the
// returned stop function is called.
func (k *Kernel) StartCleanupLoop(cfg CleanupConfig) func() {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultCleanupConfig().Interval
	}
	if cfg.InterruptRetention <= 0 {
		cfg.InterruptRetention = DefaultCleanupConfig().InterruptRetention
	}

	ticker := time.NewTicker(cfg.Interval)
	done := make(chan struct{})

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				k.RunCleanupCycle(cfg)
			case <-done:
				return
			}
		}
	}()

	return func() { close(done) }
}

// CleanupStats reports what one cycle removed.
type CleanupStats struct {
	Sessions           int `json:"sessions"`
	InterruptsExpired  int `json:"interrupts_expired"`
	InterruptsRemoved  int `json:"interrupts_removed"`
	RateWindowsRemoved int `json:"rate_windows_removed"`
}

// RunCleanupCycle performs one cleanup pass. A panic is logged and the
// partial stats are returned.
func (k *Kernel) RunCleanupCycle(cfg CleanupConfig) (stats CleanupStats) {
	_ = SafeExecute(k.logger, "cleanup cycle", func() error {
		stats.Sessions = k.sessions.Sweep()
		stats.InterruptsExpired = k.interrupts.ExpirePending()
		stats.InterruptsRemoved = k.interrupts.CleanupResolved(cfg.InterruptRetention)
		stats.RateWindowsRemoved = k.rateLimiter.CleanupExpired()
		return nil
	})

	k.logger.Debug("cleanup_cycle_completed",
		"sessions_removed", stats.Sessions,
		"interrupts_expired", stats.InterruptsExpired,
		"interrupts_removed", stats.InterruptsRemoved,
		"rate_windows_removed", stats.RateWindowsRemoved,
	)
	return stats
}
