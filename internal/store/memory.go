package store

import (
	"context"
	"sync"

	"github.com/ruralpay/playcard/internal/models"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps accounts in process memory. State is lost on restart.
type MemoryStore struct {
	mu    sync.RWMutex
	cards map[string]*models.CardAccount
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cards: make(map[string]*models.CardAccount)}
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.CardAccount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	card, ok := s.cards[id]
	if !ok {
		return nil, ErrNotFound
	}
	return card.Clone(), nil
}

func (s *MemoryStore) Create(ctx context.Context, card *models.CardAccount) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.cards[card.ID]; ok {
		return ErrAlreadyExists
	}
	s.cards[card.ID] = card.Clone()
	return nil
}

func (s *MemoryStore) Persist(ctx context.Context, card *models.CardAccount) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.cards[card.ID] = card.Clone()
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
