// Package mysql stores satisfaction records in MySQL.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/envelope"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/satisfaction"
)

const schema = `CREATE TABLE IF NOT EXISTS satisfaction (
	interaction_id VARCHAR(64) PRIMARY KEY,
	user_id VARCHAR(255) NOT NULL,
	session_id VARCHAR(255) NOT NULL,
	tier TINYINT NOT NULL,
	intent VARCHAR(128) NOT NULL,
	workflow_id VARCHAR(64) NOT NULL DEFAULT '',
	latency_ms BIGINT NOT NULL,
	outcome VARCHAR(32) NOT NULL,
	feedback VARCHAR(16) NOT NULL DEFAULT '',
	updated_at DATETIME(6) NOT NULL,
	INDEX idx_satisfaction_user (user_id),
	INDEX idx_satisfaction_updated (updated_at)
)`

// SatisfactionStore implements satisfaction.Store.
type SatisfactionStore struct {
	db *sql.DB
}

// ParseDSN validates dsn and forces the options the store relies on.
func ParseDSN(dsn string) (*mysql.Config, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("mysql dsn is required")
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg, nil
}

// Open connects to dsn and applies the schema.
func Open(ctx context.Context, dsn string) (*SatisfactionStore, error) {
	cfg, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	conn, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect mysql: %w", err)
	}
	db := sql.OpenDB(conn)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate satisfaction table: %w", err)
	}
	return &SatisfactionStore{db: db}, nil
}

// Close closes the connection pool.
func (s *SatisfactionStore) Close() error { return s.db.Close() }

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
		ON DUPLICATE KEY UPDATE
			user_id = VALUES(user_id),
			session_id = VALUES(session_id),
			tier = VALUES(tier),
			intent = VALUES(intent),
			workflow_id = VALUES(workflow_id),
			latency_ms = VALUES(latency_ms),
			outcome = VALUES(outcome),
			feedback = VALUES(feedback),
			updated_at = VALUES(updated_at)`,
		rec.InteractionID, rec.UserID, rec.SessionID, int(rec.Tier), rec.Intent, rec.WorkflowID,
		rec.Latency.Milliseconds(), string(rec.Outcome), string(rec.Feedback), rec.UpdatedAt.UTC())
	if err != nil {
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) {
			return fmt.Errorf("upsert satisfaction record (mysql %d): %w", myErr.Number, err)
		}
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
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT interaction_id, user_id, session_id, tier, intent, workflow_id, latency_ms, outcome, feedback, updated_at
		FROM satisfaction WHERE interaction_id = ?`, interactionID).
		Scan(&rec.InteractionID, &rec.UserID, &rec.SessionID, &tier, &rec.Intent, &rec.WorkflowID,
			&latencyMS, &outcome, &feedback, &rec.UpdatedAt)
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
	return rec, nil
}

var _ satisfaction.Store = (*SatisfactionStore)(nil)
