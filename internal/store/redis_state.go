package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bookhealth/bookhealth/internal/models"
	"github.com/redis/go-redis/v9"
)

// DefaultStateKeyPrefix namespaces pending authorization states in Redis.
const DefaultStateKeyPrefix = "bookhealth:oauth_state:"

// RedisStateStore keeps pending OAuth states in Redis with a TTL equal
// to the state lifetime. Consumption uses GETDEL so a state can be
// redeemed by only one callback across all service instances.
type RedisStateStore struct {
	client redis.UniversalClient
	prefix string
}

var _ StateStore = (*RedisStateStore)(nil)

// NewRedisStateStore constructs a Redis-backed state store.
func NewRedisStateStore(client redis.UniversalClient, prefix string) *RedisStateStore {
	if prefix == "" {
		prefix = DefaultStateKeyPrefix
	}
	return &RedisStateStore{client: client, prefix: prefix}
}

func (s *RedisStateStore) key(value string) string {
	return s.prefix + value
}

// SaveState stores the encoded state with a TTL derived from ExpiresAt.
func (s *RedisStateStore) SaveState(ctx context.Context, state *models.OAuthState) error {
	ttl := state.ExpiresAt.Sub(state.IssuedAt)
	if ttl <= 0 {
		return fmt.Errorf("persist state: non-positive lifetime %s", ttl)
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := s.client.Set(ctx, s.key(state.Value), payload, ttl).Err(); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	return nil
}

// ConsumeState atomically loads and deletes the state.
func (s *RedisStateStore) ConsumeState(ctx context.Context, value string) (*models.OAuthState, error) {
	raw, err := s.client.GetDel(ctx, s.key(value)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("consume state: %w", err)
	}
	var state models.OAuthState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &state, nil
}

// Ping checks connectivity.
func (s *RedisStateStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *RedisStateStore) Close() error {
	return s.client.Close()
}

// WithStateStore returns base with its state operations served by
// states. Token and audit operations still go to base.
func WithStateStore(base Store, states StateStore) Store {
	if states == nil {
		return base
	}
	return &splitStore{Store: base, states: states}
}

type splitStore struct {
	Store
	states StateStore
}

func (s *splitStore) SaveState(ctx context.Context, state *models.OAuthState) error {
	return s.states.SaveState(ctx, state)
}

func (s *splitStore) ConsumeState(ctx context.Context, value string) (*models.OAuthState, error) {
	return s.states.ConsumeState(ctx, value)
}

func (s *splitStore) Close() error {
	err := s.Store.Close()
	if c, ok := s.states.(interface{ Close() error }); ok {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
