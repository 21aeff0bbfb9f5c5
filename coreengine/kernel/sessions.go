package kernel

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/envelope"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/logging"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/workflow"
)

// ErrSessionNotFound is returned when no retained interaction matches.
var ErrSessionNotFound = errors.New("session not found")

// Session is the state retained after a response for feedback correlation.
type Session struct {
	InteractionID  string
	SessionID      string
	UserID         string
	Utterance      envelope.Utterance
	Classification envelope.ClassificationResult
	Workflow       *workflow.Workflow
	InterruptID    string
	Outcome        envelope.Outcome
	Feedback       envelope.FeedbackType
	Latency        time.Duration
	CreatedAt      time.Time
	ExpiresAt      time.Time
	// Restored is set when the session came from a snapshot; Workflow is
	// then nil and View carries the last known state.
	Restored bool
	View     *workflow.View
}

// Snapshot is the persisted form of a session.
type Snapshot struct {
	InteractionID  string                        `json:"interaction_id"`
	SessionID      string                        `json:"session_id"`
	UserID         string                        `json:"user_id"`
	Text           string                        `json:"text"`
	Classification envelope.ClassificationResult `json:"classification"`
	Workflow       *workflow.View                `json:"workflow,omitempty"`
	InterruptID    string                        `json:"interrupt_id,omitempty"`
	Outcome        envelope.Outcome              `json:"outcome"`
	Feedback       envelope.FeedbackType         `json:"feedback,omitempty"`
	LatencyMS      int64                         `json:"latency_ms"`
	CreatedAt      time.Time                     `json:"created_at"`
}

// Snapshot renders the session for persistence.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		InteractionID:  s.InteractionID,
		SessionID:      s.SessionID,
		UserID:         s.UserID,
		Text:           s.Utterance.Text,
		Classification: s.Classification,
		InterruptID:    s.InterruptID,
		Outcome:        s.Outcome,
		Feedback:       s.Feedback,
		LatencyMS:      s.Latency.Milliseconds(),
		CreatedAt:      s.CreatedAt,
	}
	switch {
	case s.Workflow != nil:
		v := s.Workflow.Snapshot()
		snap.Workflow = &v
	case s.View != nil:
		snap.Workflow = s.View
	}
	return snap
}

// SessionFromSnapshot rebuilds a read-only session.
func SessionFromSnapshot(snap Snapshot) *Session {
	return &Session{
		InteractionID: snap.InteractionID,
		SessionID:     snap.SessionID,
		UserID:        snap.UserID,
		Utterance: envelope.Utterance{
			Text:      snap.Text,
			UserID:    snap.UserID,
			SessionID: snap.SessionID,
		},
		Classification: snap.Classification,
		InterruptID:    snap.InterruptID,
		Outcome:        snap.Outcome,
		Feedback:       snap.Feedback,
		Latency:        time.Duration(snap.LatencyMS) * time.Millisecond,
		CreatedAt:      snap.CreatedAt,
		Restored:       true,
		View:           snap.Workflow,
	}
}

// SnapshotStore persists sessions beyond the process lifetime.
type SnapshotStore interface {
	Save(ctx context.Context, snap Snapshot, ttl time.Duration) error
	Load(ctx context.Context, interactionID string) (Snapshot, error)
	LatestForSession(ctx context.Context, sessionID string) (Snapshot, error)
}

// SessionRegistry retains interactions for a TTL after their response.
type SessionRegistry struct {
	ttl         time.Duration
	saveTimeout time.Duration
	logger      logging.Logger
	now         func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
	latest   map[string]string
	store    SnapshotStore
}

// NewSessionRegistry creates an in-memory registry.
func NewSessionRegistry(ttl time.Duration, logger logging.Logger) *SessionRegistry {
	if logger == nil {
		logger = logging.Nop()
	}
	return &SessionRegistry{
		ttl:         ttl,
		saveTimeout: 2 * time.Second,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		sessions:    make(map[string]*Session),
		latest:      make(map[string]string),
	}
}

// SetSnapshotStore enables persistence. Saves run detached from callers.
func (r *SessionRegistry) SetSnapshotStore(store SnapshotStore) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store = store
}

// Put retains a session and makes it the latest of its session id.
func (r *SessionRegistry) Put(s *Session) {
	now := r.now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.ExpiresAt = now.Add(r.ttl)

	r.mu.Lock()
	r.sessions[s.InteractionID] = s
	r.latest[s.SessionID] = s.InteractionID
	snap, store := s.Snapshot(), r.store
	r.mu.Unlock()

	r.persist(store, snap)
}

// Update mutates a retained session under the registry lock and extends
// its retention.
func (r *SessionRegistry) Update(interactionID string, fn func(*Session)) error {
	r.mu.Lock()
	s, ok := r.sessions[interactionID]
	if !ok {
		r.mu.Unlock()
		return ErrSessionNotFound
	}
	fn(s)
	s.ExpiresAt = r.now().Add(r.ttl)
	snap, store := s.Snapshot(), r.store
	r.mu.Unlock()

	r.persist(store, snap)
	return nil
}

// Get returns a copy of a retained session.
func (r *SessionRegistry) Get(interactionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[interactionID]
	if !ok || r.now().After(s.ExpiresAt) {
		return nil, false
	}
	out := *s
	return &out, true
}

// Latest returns the newest retained interaction of a session.
func (r *SessionRegistry) Latest(sessionID string) (*Session, bool) {
	r.mu.RLock()
	id, ok := r.latest[sessionID]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return r.Get(id)
}

// Lookup finds a session in memory first, then in the snapshot store. An
// empty interactionID selects the latest interaction of sessionID.
func (r *SessionRegistry) Lookup(ctx context.Context, sessionID, interactionID string) (*Session, error) {
	var (
		s  *Session
		ok bool
	)
	if interactionID != "" {
		s, ok = r.Get(interactionID)
	} else {
		s, ok = r.Latest(sessionID)
	}
	if ok {
		if sessionID != "" && s.SessionID != sessionID {
			return nil, ErrSessionNotFound
		}
		return s, nil
	}

	r.mu.RLock()
	store := r.store
	r.mu.RUnlock()
	if store == nil {
		return nil, ErrSessionNotFound
	}
	var (
		snap Snapshot
		err  error
	)
	if interactionID != "" {
		snap, err = store.Load(ctx, interactionID)
	} else {
		snap, err = store.LatestForSession(ctx, sessionID)
	}
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			r.logger.Warn("session_snapshot_load_failed", "session_id", sessionID, "error", err.Error())
		}
		return nil, ErrSessionNotFound
	}
	if sessionID != "" && snap.SessionID != sessionID {
		return nil, ErrSessionNotFound
	}
	return SessionFromSnapshot(snap), nil
}

// Sweep drops expired sessions and returns how many were removed.
func (r *SessionRegistry) Sweep() int {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, s := range r.sessions {
		if !now.After(s.ExpiresAt) {
			continue
		}
		delete(r.sessions, id)
		if r.latest[s.SessionID] == id {
			delete(r.latest, s.SessionID)
		}
		n++
	}
	if n > 0 {
		r.logger.Debug("sessions_swept", "count", n)
	}
	return n
}

// Len returns the number of retained sessions, expired ones included.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *SessionRegistry) persist(store SnapshotStore, snap Snapshot) {
	if store == nil {
		return
	}
	SafeGo(r.logger, "session snapshot", func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.saveTimeout)
		defer cancel()
		if err := store.Save(ctx, snap, r.ttl); err != nil {
			r.logger.Warn("session_snapshot_save_failed", "interaction_id", snap.InteractionID, "error", err.Error())
		}
	}, nil)
}
