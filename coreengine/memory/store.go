// Package memory retrieves episodic memory for a request under a hard
// deadline.
package memory

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/envelope"
)

// Store is an episodic memory backend.
type Store interface {
	// Search returns episodes of userID relevant to query. Relevance is set
	// by the store.
	Search(ctx context.Context, query, userID string, limit int) ([]envelope.Episode, error)
	Insert(ctx context.Context, ep envelope.Episode) error
}

var tokenPattern = regexp.MustCompile(`[a-z0-9']+`)

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "i": true, "you": true, "me": true,
	"my": true, "to": true, "of": true, "and": true, "or": true, "is": true,
	"it": true, "that": true, "this": true, "what": true, "did": true,
	"do": true, "just": true, "tell": true, "told": true, "say": true,
	"said": true, "on": true, "in": true, "for": true, "please": true,
	"can": true, "could": true, "would": true, "remember": true,
}

// Tokens returns the lower-cased content words of text.
func Tokens(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		if stopwords[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}

// Overlap scores how many query tokens appear in text, in [0,1].
func Overlap(queryTokens []string, text string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	have := make(map[string]bool)
	for _, tok := range Tokens(text) {
		have[tok] = true
	}
	hits := 0
	for _, q := range queryTokens {
		if have[q] {
			hits++
		}
	}
	return float64(hits) / float64(len(queryTokens))
}

// MemoryStore keeps episodes in process. Search scores by token overlap; a
// query without content words matches every episode of the user with zero
// relevance so the newest ones win.
type MemoryStore struct {
	mu       sync.RWMutex
	episodes map[string][]envelope.Episode
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{episodes: make(map[string][]envelope.Episode)}
}

// Insert stores ep.
func (s *MemoryStore) Insert(_ context.Context, ep envelope.Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.episodes[ep.UserID] = append(s.episodes[ep.UserID], ep)
	return nil
}

// Search scores the user's episodes against query.
func (s *MemoryStore) Search(ctx context.Context, query, userID string, limit int) ([]envelope.Episode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q := Tokens(query)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []envelope.Episode
	for _, ep := range s.episodes[userID] {
		if len(q) == 0 {
			ep.Relevance = 0
			out = append(out, ep)
			continue
		}
		if score := Overlap(q, ep.Text); score > 0 {
			ep.Relevance = score
			out = append(out, ep)
		}
	}
	Rank(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of stored episodes.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, eps := range s.episodes {
		n += len(eps)
	}
	return n
}
