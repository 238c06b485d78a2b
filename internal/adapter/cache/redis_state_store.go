package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fitbridge/fitbridge-connect/internal/domain/oauth"
	"github.com/fitbridge/fitbridge-connect/internal/repository"
)

// RedisStateStore implements repository.StateStore backed by Redis. Keys are
// scoped per (user, provider) so at most one authorization attempt is pending
// per pair; a new Save replaces the previous attempt.
type RedisStateStore struct {
	client redis.UniversalClient
}

var _ repository.StateStore = (*RedisStateStore)(nil)

// NewRedisStateStore constructs a Redis-backed state store.
func NewRedisStateStore(client redis.UniversalClient) *RedisStateStore {
	return &RedisStateStore{client: client}
}

// Save stores the encoded state payload with TTL, replacing any pending one.
func (s *RedisStateStore) Save(ctx context.Context, userID int64, provider string, state oauth.AuthState, ttl time.Duration) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := s.client.Set(ctx, stateKey(userID, provider), payload, ttl).Err(); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	return nil
}

// Consume atomically removes and returns the pending state via GETDEL, so two
// concurrent callbacks can never both observe the same record. Returns nil
// when nothing is pending.
func (s *RedisStateStore) Consume(ctx context.Context, userID int64, provider string) (*oauth.AuthState, error) {
	bytes, err := s.client.GetDel(ctx, stateKey(userID, provider)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("consume state: %w", err)
	}
	var state oauth.AuthState
	if err := json.Unmarshal(bytes, &state); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &state, nil
}

func stateKey(userID int64, provider string) string {
	return fmt.Sprintf("oauth:state:%s:%d", provider, userID)
}
