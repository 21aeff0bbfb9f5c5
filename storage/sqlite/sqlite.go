// Package sqlite persists episodes and satisfaction records in a single
// SQLite file using the pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/envelope"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/memory"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/satisfaction"
)

// scanWindow bounds how many of a user's newest episodes Search scores.
const scanWindow = 500

const schema = `
CREATE TABLE IF NOT EXISTS episodes (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	text TEXT NOT NULL,
	ts INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_episodes_user_ts ON episodes(user_id, ts DESC);

CREATE TABLE IF NOT EXISTS satisfaction (
	interaction_id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	tier INTEGER NOT NULL,
	intent TEXT NOT NULL,
	workflow_id TEXT NOT NULL DEFAULT '',
	latency_ms INTEGER NOT NULL,
	outcome TEXT NOT NULL,
	feedback TEXT NOT NULL DEFAULT '',
	updated_at INTEGER NOT NULL
);
`

// DB is an open SQLite database.
type DB struct {
	db *sql.DB
}

// Open opens (and creates) the database at path and applies the schema.
// ":memory:" opens a private in-memory database.
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer; an in-memory database also lives on a single connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the database.
func (d *DB) Close() error { return d.db.Close() }

// Episodes returns the episode store backed by d.
func (d *DB) Episodes() *EpisodeStore { return &EpisodeStore{db: d.db} }

// Satisfaction returns the satisfaction store backed by d.
func (d *DB) Satisfaction() *SatisfactionStore { return &SatisfactionStore{db: d.db} }

// EpisodeStore implements memory.Store.
type EpisodeStore struct {
	db *sql.DB
}

// Insert stores ep, replacing an episode with the same id.
func (s *EpisodeStore) Insert(ctx context.Context, ep envelope.Episode) error {
	if ep.ID == "" {
		return errors.New("episode id is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO episodes (id, user_id, text, ts) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET text = excluded.text, ts = excluded.ts`,
		ep.ID, ep.UserID, ep.Text, ep.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("insert episode: %w", err)
	}
	return nil
}

// Search scores the user's newest episodes by token overlap with query. A
// query without content words returns the newest episodes.
func (s *EpisodeStore) Search(ctx context.Context, query, userID string, limit int) ([]envelope.Episode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, ts FROM episodes WHERE user_id = ? ORDER BY ts DESC LIMIT ?`,
		userID, scanWindow)
	if err != nil {
		return nil, fmt.Errorf("search episodes: %w", err)
	}
	defer rows.Close()

	q := memory.Tokens(query)
	var out []envelope.Episode
	for rows.Next() {
		var (
			ep envelope.Episode
			ts int64
		)
		if err := rows.Scan(&ep.ID, &ep.Text, &ts); err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		ep.UserID = userID
		ep.Timestamp = time.Unix(0, ts).UTC()
		if len(q) > 0 {
			ep.Relevance = memory.Overlap(q, ep.Text)
			if ep.Relevance == 0 {
				continue
			}
		}
		out = append(out, ep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search episodes: %w", err)
	}
	memory.Rank(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SatisfactionStore implements satisfaction.Store.
type SatisfactionStore struct {
	db *sql.DB
}

// Upsert writes rec keyed by its interaction id.
func (s *SatisfactionStore) Upsert(ctx context.Context, rec satisfaction.Record) error {
	if rec.InteractionID == "" {
		return errors.New("interaction id is required")
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO satisfaction
			(interaction_id, user_id, session_id, tier, intent, workflow_id, latency_ms, outcome, feedback, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(interaction_id) DO UPDATE SET
			user_id = excluded.user_id,
			session_id = excluded.session_id,
			tier = excluded.tier,
			intent = excluded.intent,
			workflow_id = excluded.workflow_id,
			latency_ms = excluded.latency_ms,
			outcome = excluded.outcome,
			feedback = excluded.feedback,
			updated_at = excluded.updated_at`,
		rec.InteractionID, rec.UserID, rec.SessionID, int(rec.Tier), rec.Intent, rec.WorkflowID,
		rec.Latency.Milliseconds(), string(rec.Outcome), string(rec.Feedback), rec.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("upsert satisfaction record: %w", err)
	}
	return nil
}

// Get loads the record of interactionID.
func (s *SatisfactionStore) Get(ctx context.Context, interactionID string) (satisfaction.Record, error) {
	var (
		rec       satisfaction.Record
		tier      int
		latencyMS int64
		outcome   string
		feedback  string
		updated   int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT interaction_id, user_id, session_id, tier, intent, workflow_id, latency_ms, outcome, feedback, updated_at
		FROM satisfaction WHERE interaction_id = ?`, interactionID).
		Scan(&rec.InteractionID, &rec.UserID, &rec.SessionID, &tier, &rec.Intent, &rec.WorkflowID,
			&latencyMS, &outcome, &feedback, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return satisfaction.Record{}, satisfaction.ErrNotFound
	}
	if err != nil {
		return satisfaction.Record{}, fmt.Errorf("get satisfaction record: %w", err)
	}
	rec.Tier = envelope.Tier(tier)
	rec.Latency = time.Duration(latencyMS) * time.Millisecond
	rec.Outcome = envelope.Outcome(outcome)
	rec.Feedback = envelope.FeedbackType(feedback)
	rec.UpdatedAt = time.Unix(0, updated).UTC()
	return rec, nil
}

var (
	_ memory.Store       = (*EpisodeStore)(nil)
	_ satisfaction.Store = (*SatisfactionStore)(nil)
)
