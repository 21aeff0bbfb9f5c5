package kernel

import (
	"sort"
	"sync"
	"time"
)

// RateLimitConfig sets per-window request limits. Zero disables a window.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute"`
	RequestsPerHour   int `json:"requests_per_hour"`
	RequestsPerDay    int `json:"requests_per_day"`
}

// DefaultRateLimitConfig returns the limits used when none are configured.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerMinute: 60, RequestsPerHour: 1000, RequestsPerDay: 10000}
}

// RateLimitResult is the verdict for one request.
type RateLimitResult struct {
	Allowed    bool          `json:"allowed"`
	Window     string        `json:"window,omitempty"`
	Current    int           `json:"current"`
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

type windowSpec struct {
	name  string
	size  time.Duration
	limit int
}

func (c RateLimitConfig) windows() []windowSpec {
	return []windowSpec{
		{"minute", time.Minute, c.RequestsPerMinute},
		{"hour", time.Hour, c.RequestsPerHour},
		{"day", 24 * time.Hour, c.RequestsPerDay},
	}
}

const bucketsPerWindow = 10

// slidingWindow approximates a sliding log with fixed sub-buckets.
type slidingWindow struct {
	size    time.Duration
	buckets map[int64]int
}

func newSlidingWindow(size time.Duration) *slidingWindow {
	return &slidingWindow{size: size, buckets: make(map[int64]int)}
}

func (w *slidingWindow) bucketSize() time.Duration { return w.size / bucketsPerWindow }

func (w *slidingWindow) bucketOf(t time.Time) int64 {
	return t.UnixNano() / int64(w.bucketSize())
}

func (w *slidingWindow) prune(now time.Time) {
	oldest := w.bucketOf(now) - bucketsPerWindow
	for b := range w.buckets {
		if b <= oldest {
			delete(w.buckets, b)
		}
	}
}

func (w *slidingWindow) count(now time.Time) int {
	w.prune(now)
	n := 0
	for _, c := range w.buckets {
		n += c
	}
	return n
}

func (w *slidingWindow) record(now time.Time) {
	w.prune(now)
	w.buckets[w.bucketOf(now)]++
}

// retryAfter is the time until enough old buckets leave the window to
// admit one more request.
func (w *slidingWindow) retryAfter(now time.Time, limit int) time.Duration {
	current := w.count(now)
	if current < limit {
		return 0
	}
	keys := make([]int64, 0, len(w.buckets))
	for b := range w.buckets {
		keys = append(keys, b)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	excess := current - limit + 1
	freed := 0
	bs := int64(w.bucketSize())
	for _, b := range keys {
		freed += w.buckets[b]
		if freed >= excess {
			leaves := time.Unix(0, (b+bucketsPerWindow)*bs)
			if d := leaves.Sub(now); d > 0 {
				return d
			}
			return 0
		}
	}
	return w.size
}

type windowKey struct {
	userID   string
	endpoint string
	window   string
}

// RateLimiter enforces sliding-window limits per user and endpoint.
type RateLimiter struct {
	mu        sync.Mutex
	defaults  RateLimitConfig
	overrides map[string]RateLimitConfig
	windows   map[windowKey]*slidingWindow
	now       func() time.Time
}

// NewRateLimiter creates a limiter with default limits.
func NewRateLimiter(defaults RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		defaults:  defaults,
		overrides: make(map[string]RateLimitConfig),
		windows:   make(map[windowKey]*slidingWindow),
		now:       time.Now,
	}
}

// SetUserLimits overrides the limits of one user.
func (r *RateLimiter) SetUserLimits(userID string, cfg RateLimitConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[userID] = cfg
}

func (r *RateLimiter) configFor(userID string) RateLimitConfig {
	if cfg, ok := r.overrides[userID]; ok {
		return cfg
	}
	return r.defaults
}

// Allow checks every window and records the request only when all pass.
func (r *RateLimiter) Allow(userID, endpoint string) RateLimitResult {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	specs := r.configFor(userID).windows()
	for _, spec := range specs {
		if spec.limit <= 0 {
			continue
		}
		w := r.window(userID, endpoint, spec)
		if current := w.count(now); current >= spec.limit {
			return RateLimitResult{
				Window:     spec.name,
				Current:    current,
				Limit:      spec.limit,
				RetryAfter: w.retryAfter(now, spec.limit),
			}
		}
	}

	res := RateLimitResult{Allowed: true, Remaining: -1}
	for _, spec := range specs {
		if spec.limit <= 0 {
			continue
		}
		w := r.window(userID, endpoint, spec)
		w.record(now)
		if remaining := spec.limit - w.count(now); res.Remaining < 0 || remaining < res.Remaining {
			res.Remaining = remaining
			res.Window = spec.name
			res.Limit = spec.limit
			res.Current = spec.limit - remaining
		}
	}
	return res
}

func (r *RateLimiter) window(userID, endpoint string, spec windowSpec) *slidingWindow {
	key := windowKey{userID, endpoint, spec.name}
	w, ok := r.windows[key]
	if !ok {
		w = newSlidingWindow(spec.size)
		r.windows[key] = w
	}
	return w
}

// Usage reports the current count per window.
func (r *RateLimiter) Usage(userID, endpoint string) map[string]RateLimitResult {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]RateLimitResult)
	for _, spec := range r.configFor(userID).windows() {
		current := 0
		if w, ok := r.windows[windowKey{userID, endpoint, spec.name}]; ok {
			current = w.count(now)
		}
		out[spec.name] = RateLimitResult{
			Allowed:   spec.limit <= 0 || current < spec.limit,
			Window:    spec.name,
			Current:   current,
			Limit:     spec.limit,
			Remaining: max(spec.limit-current, 0),
		}
	}
	return out
}

// ResetUser drops every window of a user.
func (r *RateLimiter) ResetUser(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for key := range r.windows {
		if key.userID == userID {
			delete(r.windows, key)
			n++
		}
	}
	return n
}

// CleanupExpired drops windows with no requests left in range.
func (r *RateLimiter) CleanupExpired() int {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for key, w := range r.windows {
		if w.count(now) == 0 {
			delete(r.windows, key)
			n++
		}
	}
	return n
}
