package memory

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/envelope"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/logging"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/observability"
)

var tracer = otel.Tracer("zoe/memory")

// Result is the outcome of a search. Degraded results carry no episodes.
type Result struct {
	Episodes []envelope.Episode
	Degraded bool
	Reason   string
	Err      error
}

// Retriever wraps a Store with a deadline and result normalization.
type Retriever struct {
	store   Store
	timeout time.Duration
	logger  logging.Logger
}

// NewRetriever creates a Retriever. timeout bounds every Search.
func NewRetriever(store Store, timeout time.Duration, logger logging.Logger) *Retriever {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Retriever{store: store, timeout: timeout, logger: logger.Bind("component", "memory")}
}

// Store returns the underlying store.
func (r *Retriever) Store() Store { return r.store }

// Search never returns an error. A store that times out or fails yields an
// empty, degraded result.
func (r *Retriever) Search(ctx context.Context, query, userID string, limit int) Result {
	ctx, span := tracer.Start(ctx, "memory.search")
	defer span.End()

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type searchResult struct {
		episodes []envelope.Episode
		err      error
	}
	// Buffered so a store ignoring ctx cannot leak a blocked sender.
	done := make(chan searchResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- searchResult{err: errors.New("memory store panicked")}
			}
		}()
		eps, err := r.store.Search(ctx, query, userID, limit)
		done <- searchResult{episodes: eps, err: err}
	}()

	var res Result
	select {
	case out := <-done:
		if out.err != nil {
			res = r.degraded(out.err, start)
		} else {
			res = Result{Episodes: Normalize(out.episodes, limit)}
		}
	case <-ctx.Done():
		res = r.degraded(ctx.Err(), start)
	}

	status := "success"
	if res.Degraded {
		status = res.Reason
	}
	observability.RecordMemorySearch(status, int(time.Since(start).Milliseconds()))
	span.SetAttributes(
		attribute.Int("memory.episodes", len(res.Episodes)),
		attribute.Bool("memory.degraded", res.Degraded),
	)
	return res
}

func (r *Retriever) degraded(err error, start time.Time) Result {
	reason := "error"
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		reason = "timeout"
		err = &envelope.MemoryTimeout{Budget: r.timeout, Cause: err}
	}
	r.logger.Warn("memory_search_degraded",
		"reason", reason,
		"error", err.Error(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return Result{Episodes: []envelope.Episode{}, Degraded: true, Reason: reason, Err: err}
}

// Insert stores an episode under the retriever deadline.
func (r *Retriever) Insert(ctx context.Context, ep envelope.Episode) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.store.Insert(ctx, ep)
}

// Normalize deduplicates by id (keeping the most relevant copy), ranks and
// truncates to limit.
func Normalize(eps []envelope.Episode, limit int) []envelope.Episode {
	best := make(map[string]int, len(eps))
	out := make([]envelope.Episode, 0, len(eps))
	for _, ep := range eps {
		if i, dup := best[ep.ID]; dup {
			if ep.Relevance > out[i].Relevance {
				out[i] = ep
			}
			continue
		}
		best[ep.ID] = len(out)
		out = append(out, ep)
	}
	Rank(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Rank sorts by relevance desc, then timestamp desc.
func Rank(eps []envelope.Episode) {
	sort.SliceStable(eps, func(i, j int) bool {
		if eps[i].Relevance != eps[j].Relevance {
			return eps[i].Relevance > eps[j].Relevance
		}
		return eps[i].Timestamp.After(eps[j].Timestamp)
	})
}
