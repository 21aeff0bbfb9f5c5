// Package postgres stores satisfaction records in PostgreSQL through a pgx
// connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/envelope"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/satisfaction"
)

const schema = `CREATE TABLE IF NOT EXISTS satisfaction (
	interaction_id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	tier SMALLINT NOT NULL,
	intent TEXT NOT NULL,
	workflow_id TEXT NOT NULL DEFAULT '',
	latency_ms BIGINT NOT NULL,
	outcome TEXT NOT NULL,
	feedback TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL
)`

// SatisfactionStore implements satisfaction.Store.
type SatisfactionStore struct {
	pool *pgxpool.Pool
}

// Connect opens a pool for dsn and applies the schema.
func Connect(ctx context.Context, dsn string) (*SatisfactionStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := NewSatisfactionStore(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewSatisfactionStore wraps an existing pool.
func NewSatisfactionStore(pool *pgxpool.Pool) *SatisfactionStore {
	return &SatisfactionStore{pool: pool}
}

// Migrate creates the table when missing.
func (s *SatisfactionStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate satisfaction table: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *SatisfactionStore) Close() { s.pool.Close() }

// Upsert writes rec keyed by its interaction id.
func (s *SatisfactionStore) Upsert(ctx context.Context, rec satisfaction.Record) error {
	if rec.InteractionID == "" {
		return errors.New("interaction id is required")
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO satisfaction
			(interaction_id, user_id, session_id, tier, intent, workflow_id, latency_ms, outcome, feedback, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (interaction_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			session_id = EXCLUDED.session_id,
			tier = EXCLUDED.tier,
			intent = EXCLUDED.intent,
			workflow_id = EXCLUDED.workflow_id,
			latency_ms = EXCLUDED.latency_ms,
			outcome = EXCLUDED.outcome,
			feedback = EXCLUDED.feedback,
			updated_at = EXCLUDED.updated_at`,
		rec.InteractionID, rec.UserID, rec.SessionID, int16(rec.Tier), rec.Intent, rec.WorkflowID,
		rec.Latency.Milliseconds(), string(rec.Outcome), string(rec.Feedback), rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert satisfaction record: %w", err)
	}
	return nil
}

// Get loads the record of interactionID.
func (s *SatisfactionStore) Get(ctx context.Context, interactionID string) (satisfaction.Record, error) {
	var (
		rec       satisfaction.Record
		tier      int16
		latencyMS int64
		outcome   string
		feedback  string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT interaction_id, user_id, session_id, tier, intent, workflow_id, latency_ms, outcome, feedback, updated_at
		FROM satisfaction WHERE interaction_id = $1`, interactionID).
		Scan(&rec.InteractionID, &rec.UserID, &rec.SessionID, &tier, &rec.Intent, &rec.WorkflowID,
			&latencyMS, &outcome, &feedback, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return satisfaction.Record{}, satisfaction.ErrNotFound
	}
	if err != nil {
		return satisfaction.Record{}, fmt.Errorf("get satisfaction record: %w", err)
	}
	rec.Tier = envelope.Tier(tier)
	rec.Latency = time.Duration(latencyMS) * time.Millisecond
	rec.Outcome = envelope.Outcome(outcome)
	rec.Feedback = envelope.FeedbackType(feedback)
	return rec, nil
}

var _ satisfaction.Store = (*SatisfactionStore)(nil)
