package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/ruralpay/playcard/internal/models"
)

var _ Store = (*RedisStore)(nil)

// RedisStore keeps each card as a JSON document under card:<id>.
type RedisStore struct {
	redis  *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{redis: client, prefix: "card:"}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisStore) Get(ctx context.Context, id string) (*models.CardAccount, error) {
	data, err := s.redis.Get(ctx, s.key(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get card %s: %w", id, err)
	}

	var card models.CardAccount
	if err := json.Unmarshal(data, &card); err != nil {
		return nil, fmt.Errorf("failed to decode card %s: %w", id, err)
	}
	if card.History == nil {
		card.History = []models.TransactionRecord{}
	}
	return &card, nil
}

func (s *RedisStore) Create(ctx context.Context, card *models.CardAccount) error {
	data, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("failed to encode card %s: %w", card.ID, err)
	}

	created, err := s.redis.SetNX(ctx, s.key(card.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to create card %s: %w", card.ID, err)
	}
	if !created {
		return ErrAlreadyExists
	}
	return nil
}

func (s *RedisStore) Persist(ctx context.Context, card *models.CardAccount) error {
	data, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("failed to encode card %s: %w", card.ID, err)
	}

	if err := s.redis.Set(ctx, s.key(card.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to persist card %s: %w", card.ID, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.redis.Close()
}
