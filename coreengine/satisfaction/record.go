// Package satisfaction records the outcome of every interaction off the
// response path.
package satisfaction

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/envelope"
)

// ErrNotFound is returned by stores when no record has the interaction id.
var ErrNotFound = errors.New("satisfaction record not found")

// Record is the outcome of one interaction. It is upserted by InteractionID.
type Record struct {
	InteractionID string                `json:"interaction_id"`
	UserID        string                `json:"user_id"`
	SessionID     string                `json:"session_id"`
	Tier          envelope.Tier         `json:"tier"`
	Intent        string                `json:"intent"`
	WorkflowID    string                `json:"workflow_id,omitempty"`
	Latency       time.Duration         `json:"latency"`
	Outcome       envelope.Outcome      `json:"outcome"`
	Feedback      envelope.FeedbackType `json:"feedback,omitempty"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

// Store persists records. Upsert must be idempotent per InteractionID.
type Store interface {
	Upsert(ctx context.Context, rec Record) error
	Get(ctx context.Context, interactionID string) (Record, error)
}

// MemoryStore keeps records in a map.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Upsert(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.InteractionID == "" {
		return errors.New("interaction id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.InteractionID] = rec
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, interactionID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[interactionID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// All returns every record ordered by interaction id.
func (s *MemoryStore) All() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InteractionID < out[j].InteractionID })
	return out
}

// Len returns the number of records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
