package kernel

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/envelope"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/logging"
)

// InterruptStatus is the lifecycle status of an interrupt.
type InterruptStatus string

const (
	InterruptPending   InterruptStatus = "pending"
	InterruptResolved  InterruptStatus = "resolved"
	InterruptExpired   InterruptStatus = "expired"
	InterruptCancelled InterruptStatus = "cancelled"
)

// Interrupt errors.
var (
	ErrInterruptNotFound   = errors.New("interrupt not found")
	ErrInterruptNotPending = errors.New("interrupt is not pending")
	ErrInterruptUserMatch  = errors.New("interrupt belongs to another user")
)

// Resolution is the human answer to an interrupt.
type Resolution struct {
	Feedback   envelope.FeedbackType `json:"feedback"`
	StepID     string                `json:"step_id,omitempty"`
	Correction map[string]any        `json:"correction,omitempty"`
	ReceivedAt time.Time             `json:"received_at"`
}

// Interrupt pauses an interaction until the user answers.
type Interrupt struct {
	ID            string                 `json:"id"`
	Kind          envelope.InterruptKind `json:"kind"`
	Status        InterruptStatus        `json:"status"`
	InteractionID string                 `json:"interaction_id"`
	WorkflowID    string                 `json:"workflow_id,omitempty"`
	UserID        string                 `json:"user_id"`
	SessionID     string                 `json:"session_id"`
	Message       string                 `json:"message,omitempty"`
	Data          map[string]any         `json:"data,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	ExpiresAt     *time.Time             `json:"expires_at,omitempty"`
	ResolvedAt    *time.Time             `json:"resolved_at,omitempty"`
	Resolution    *Resolution            `json:"resolution,omitempty"`
}

// IsExpired reports whether the interrupt is past its expiry.
func (i *Interrupt) IsExpired(now time.Time) bool {
	return i.ExpiresAt != nil && now.After(*i.ExpiresAt)
}

// IsPending reports whether the interrupt still awaits an answer.
func (i *Interrupt) IsPending() bool {
	return i.Status == InterruptPending
}

// InterruptRequest describes the interaction an interrupt pauses.
type InterruptRequest struct {
	InteractionID string
	WorkflowID    string
	UserID        string
	SessionID     string
	Message       string
	Data          map[string]any
}

// InterruptService stores interrupts indexed by interaction and session.
// Returned interrupts are copies; mutate only through the service.
type InterruptService struct {
	logger logging.Logger
	ttl    time.Duration
	now    func() time.Time

	mu            sync.RWMutex
	store         map[string]*Interrupt
	byInteraction map[string][]string
	bySession     map[string][]string
}

// NewInterruptService creates a service whose interrupts expire after ttl.
// Zero ttl means no expiry.
func NewInterruptService(logger logging.Logger, ttl time.Duration) *InterruptService {
	if logger == nil {
		logger = logging.Nop()
	}
	return &InterruptService{
		logger:        logger,
		ttl:           ttl,
		now:           func() time.Time { return time.Now().UTC() },
		store:         make(map[string]*Interrupt),
		byInteraction: make(map[string][]string),
		bySession:     make(map[string][]string),
	}
}

// Create registers a pending interrupt of the given kind.
func (s *InterruptService) Create(kind envelope.InterruptKind, req InterruptRequest) *Interrupt {
	now := s.now()
	in := &Interrupt{
		ID:            "irq_" + uuid.New().String()[:16],
		Kind:          kind,
		Status:        InterruptPending,
		InteractionID: req.InteractionID,
		WorkflowID:    req.WorkflowID,
		UserID:        req.UserID,
		SessionID:     req.SessionID,
		Message:       req.Message,
		Data:          envelope.DeepCopyMap(req.Data),
		CreatedAt:     now,
	}
	if s.ttl > 0 {
		exp := now.Add(s.ttl)
		in.ExpiresAt = &exp
	}

	s.mu.Lock()
	s.store[in.ID] = in
	s.byInteraction[in.InteractionID] = append(s.byInteraction[in.InteractionID], in.ID)
	s.bySession[in.SessionID] = append(s.bySession[in.SessionID], in.ID)
	out := *in
	s.mu.Unlock()

	s.logger.Info("interrupt_created",
		"interrupt_id", in.ID,
		"kind", string(kind),
		"interaction_id", in.InteractionID,
		"session_id", in.SessionID,
	)
	return &out
}

// CreateConfirmation gates a workflow on user approval.
func (s *InterruptService) CreateConfirmation(req InterruptRequest) *Interrupt {
	return s.Create(envelope.InterruptKindConfirmation, req)
}

// Get returns an interrupt by id.
func (s *InterruptService) Get(id string) (*Interrupt, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	in, ok := s.store[id]
	if !ok {
		return nil, false
	}
	out := *in
	return &out, true
}

// PendingForInteraction returns the newest live pending interrupt.
func (s *InterruptService) PendingForInteraction(interactionID string) (*Interrupt, bool) {
	return s.latestPending(s.byInteraction, interactionID)
}

// PendingForSession returns the newest live pending interrupt of a session.
func (s *InterruptService) PendingForSession(sessionID string) (*Interrupt, bool) {
	return s.latestPending(s.bySession, sessionID)
}

func (s *InterruptService) latestPending(index map[string][]string, key string) (*Interrupt, bool) {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := index[key]
	for i := len(ids) - 1; i >= 0; i-- {
		in := s.store[ids[i]]
		if in != nil && in.IsPending() && !in.IsExpired(now) {
			out := *in
			return &out, true
		}
	}
	return nil, false
}

// Resolve answers a pending interrupt. An empty userID skips the owner check.
func (s *InterruptService) Resolve(id string, res Resolution, userID string) (*Interrupt, error) {
	now := s.now()
	s.mu.Lock()
	in, ok := s.store[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrInterruptNotFound
	}
	if !in.IsPending() || in.IsExpired(now) {
		s.mu.Unlock()
		s.logger.Warn("interrupt_not_pending", "interrupt_id", id, "status", string(in.Status))
		return nil, ErrInterruptNotPending
	}
	if userID != "" && in.UserID != userID {
		s.mu.Unlock()
		s.logger.Warn("interrupt_user_mismatch", "interrupt_id", id)
		return nil, ErrInterruptUserMatch
	}
	res.ReceivedAt = now
	res.Correction = envelope.DeepCopyMap(res.Correction)
	in.Resolution = &res
	in.Status = InterruptResolved
	in.ResolvedAt = &now
	out := *in
	s.mu.Unlock()

	s.logger.Info("interrupt_resolved", "interrupt_id", id, "feedback", string(res.Feedback))
	return &out, nil
}

// Cancel withdraws a pending interrupt.
func (s *InterruptService) Cancel(id, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.store[id]
	if !ok || !in.IsPending() {
		return false
	}
	in.Status = InterruptCancelled
	if in.Data == nil {
		in.Data = make(map[string]any)
	}
	in.Data["cancel_reason"] = reason
	s.logger.Info("interrupt_cancelled", "interrupt_id", id, "reason", reason)
	return true
}

// ExpirePending marks overdue pending interrupts expired.
func (s *InterruptService) ExpirePending() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, in := range s.store {
		if in.IsPending() && in.IsExpired(now) {
			in.Status = InterruptExpired
			n++
		}
	}
	if n > 0 {
		s.logger.Info("interrupts_expired", "count", n)
	}
	return n
}

// CleanupResolved drops non-pending interrupts created before olderThan ago.
func (s *InterruptService) CleanupResolved(olderThan time.Duration) int {
	cutoff := s.now().Add(-olderThan)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, in := range s.store {
		if in.IsPending() || !in.CreatedAt.Before(cutoff) {
			continue
		}
		removeID(s.byInteraction, in.InteractionID, id)
		removeID(s.bySession, in.SessionID, id)
		delete(s.store, id)
		n++
	}
	if n > 0 {
		s.logger.Debug("interrupts_cleaned_up", "count", n)
	}
	return n
}

// Stats counts interrupts by status.
func (s *InterruptService) Stats() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := map[string]int{"total": len(s.store)}
	for _, in := range s.store {
		stats[string(in.Status)]++
	}
	return stats
}

// Pending returns the ids of all pending interrupts, sorted.
func (s *InterruptService) Pending() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, in := range s.store {
		if in.IsPending() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func removeID(index map[string][]string, key, id string) {
	ids := index[key]
	for i, v := range ids {
		if v == id {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(index, key)
		return
	}
	index[key] = ids
}
