package satisfaction

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/config"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/envelope"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/kernel"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/logging"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/observability"
)

// ErrTrackerClosed is returned by Close when called twice.
var ErrTrackerClosed = errors.New("tracker closed")

// Tracker queues records and writes them from a single worker goroutine.
// Track never blocks the caller.
type Tracker struct {
	store   Store
	timeout time.Duration
	logger  logging.Logger
	now     func() time.Time

	mu     sync.RWMutex
	queue  chan Record
	closed bool
	done   chan struct{}
}

// NewTracker creates a tracker and starts its worker.
func NewTracker(store Store, cfg *config.CoreConfig, logger logging.Logger) *Tracker {
	if cfg == nil {
		cfg = config.DefaultCoreConfig()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	size := cfg.TrackerQueueSize
	if size <= 0 {
		size = 1
	}
	t := &Tracker{
		store:   store,
		timeout: cfg.TrackerTimeout(),
		logger:  logger.Bind("component", "satisfaction_tracker"),
		now:     func() time.Time { return time.Now().UTC() },
		queue:   make(chan Record, size),
		done:    make(chan struct{}),
	}
	t.startWorker()
	return t
}

// startWorker runs the write loop. A panic restarts it so the queue keeps
// draining.
func (t *Tracker) startWorker() {
	kernel.SafeGo(t.logger, "satisfaction tracker", t.loop, func(any) {
		observability.RecordTrackerWrite("panic")
		t.startWorker()
	})
}

func (t *Tracker) loop() {
	for rec := range t.queue {
		t.write(rec)
	}
	close(t.done)
}

func (t *Tracker) write(rec Record) {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()
	if err := t.store.Upsert(ctx, rec); err != nil {
		terr := &envelope.TrackerError{InteractionID: rec.InteractionID, Cause: err}
		observability.RecordTrackerWrite("error")
		t.logger.Warn("satisfaction_write_failed",
			"interaction_id", rec.InteractionID,
			"error_kind", string(envelope.KindOf(terr)),
			"error", terr.Error(),
		)
		return
	}
	observability.RecordTrackerWrite("success")
	t.logger.Debug("satisfaction_recorded",
		"interaction_id", rec.InteractionID,
		"outcome", string(rec.Outcome),
	)
}

// Track enqueues a record. It returns false when the queue is full or the
// tracker is closed; the record is dropped.
func (t *Tracker) Track(rec Record) bool {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = t.now()
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return false
	}
	select {
	case t.queue <- rec:
		return true
	default:
		observability.RecordTrackerWrite("dropped")
		t.logger.Warn("satisfaction_queue_full", "interaction_id", rec.InteractionID)
		return false
	}
}

// Close stops accepting records and waits for the queue to drain or ctx
// to end.
func (t *Tracker) Close(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTrackerClosed
	}
	t.closed = true
	close(t.queue)
	t.mu.Unlock()

	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Store returns the underlying store.
func (t *Tracker) Store() Store { return t.store }
