// Package redis persists session snapshots so feedback can be correlated
// with an interaction after a restart.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/kernel"
)

// Config describes the Redis connection.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// SnapshotStore implements kernel.SnapshotStore. Each snapshot is stored
// under its interaction id and the session keeps a pointer to its latest
// interaction; both expire with the session TTL.
type SnapshotStore struct {
	client *goredis.Client
	prefix string
}

// NewSnapshotStore connects and pings Redis.
func NewSnapshotStore(ctx context.Context, cfg Config) (*SnapshotStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return NewSnapshotStoreFromClient(client, cfg.KeyPrefix), nil
}

// NewSnapshotStoreFromClient wraps an existing client.
func NewSnapshotStoreFromClient(client *goredis.Client, prefix string) *SnapshotStore {
	if prefix == "" {
		prefix = "zoe:session:"
	}
	return &SnapshotStore{client: client, prefix: prefix}
}

// Close closes the client.
func (s *SnapshotStore) Close() error { return s.client.Close() }

func (s *SnapshotStore) interactionKey(id string) string { return s.prefix + "interaction:" + id }

func (s *SnapshotStore) latestKey(sessionID string) string { return s.prefix + "latest:" + sessionID }

// Save writes snap with ttl.
func (s *SnapshotStore) Save(ctx context.Context, snap kernel.Snapshot, ttl time.Duration) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, s.interactionKey(snap.InteractionID), data, ttl)
		if snap.SessionID != "" {
			pipe.Set(ctx, s.latestKey(snap.SessionID), snap.InteractionID, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot of interactionID.
func (s *SnapshotStore) Load(ctx context.Context, interactionID string) (kernel.Snapshot, error) {
	data, err := s.client.Get(ctx, s.interactionKey(interactionID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return kernel.Snapshot{}, kernel.ErrSessionNotFound
	}
	if err != nil {
		return kernel.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	var snap kernel.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return kernel.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

// LatestForSession reads the newest snapshot of sessionID.
func (s *SnapshotStore) LatestForSession(ctx context.Context, sessionID string) (kernel.Snapshot, error) {
	id, err := s.client.Get(ctx, s.latestKey(sessionID)).Result()
	if errors.Is(err, goredis.Nil) {
		return kernel.Snapshot{}, kernel.ErrSessionNotFound
	}
	if err != nil {
		return kernel.Snapshot{}, fmt.Errorf("load latest snapshot: %w", err)
	}
	return s.Load(ctx, id)
}

var _ kernel.SnapshotStore = (*SnapshotStore)(nil)
