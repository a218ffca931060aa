package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/assentworks/assent/pkg/contracts"
)

// RedisArmStore implements ArmStore using Redis. Arm state is written
// without a TTL: sessions stay armed until an explicit disarm.
type RedisArmStore struct {
	client *redis.Client
}

// NewRedisArmStore creates a new store backed by Redis.
func NewRedisArmStore(addr string, password string, db int) *RedisArmStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisArmStore{client: rdb}
}

func (s *RedisArmStore) key(sessionID string) string {
	return fmt.Sprintf("arm:%s", sessionID)
}

func (s *RedisArmStore) Get(ctx context.Context, sessionID string) (contracts.SessionArmState, error) {
	raw, err := s.client.Get(ctx, s.key(sessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Unseen session: fail-closed default.
			return contracts.SessionArmState{SessionID: sessionID}, nil
		}
		return contracts.SessionArmState{}, fmt.Errorf("redis get arm state: %w", err)
	}

	var state contracts.SessionArmState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return contracts.SessionArmState{}, fmt.Errorf("decode arm state: %w", err)
	}
	return state, nil
}

func (s *RedisArmStore) Put(ctx context.Context, state contracts.SessionArmState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode arm state: %w", err)
	}
	if err := s.client.Set(ctx, s.key(state.SessionID), raw, 0).Err(); err != nil {
		return fmt.Errorf("redis put arm state: %w", err)
	}
	return nil
}

// Ping verifies connectivity, for readiness checks.
func (s *RedisArmStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (s *RedisArmStore) Close() error {
	return s.client.Close()
}
