package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares dialogue state across instances. The TTL refreshes on
// every write, matching the memory store's inactivity semantics.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func stateRedisKey(vendorID, phone string) string {
	return fmt.Sprintf("conv:%s:%s", vendorID, phone)
}

func (s *RedisStore) Get(ctx context.Context, vendorID, phone string) (*State, error) {
	raw, err := s.client.Get(ctx, stateRedisKey(vendorID, phone)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("conversation: failed to load state: %w", err)
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("conversation: failed to decode state: %w", err)
	}
	return &st, nil
}

func (s *RedisStore) Put(ctx context.Context, st *State) error {
	st.LastInteraction = time.Now().UTC()
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("conversation: failed to encode state: %w", err)
	}
	if err := s.client.Set(ctx, stateRedisKey(st.VendorID, st.Phone), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("conversation: failed to store state: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, vendorID, phone string) error {
	if err := s.client.Del(ctx, stateRedisKey(vendorID, phone)).Err(); err != nil {
		return fmt.Errorf("conversation: failed to delete state: %w", err)
	}
	return nil
}
