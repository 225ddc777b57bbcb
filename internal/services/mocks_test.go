package services

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/ruralpay/playcard/internal/models"
	"github.com/ruralpay/playcard/internal/store"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Get(ctx context.Context, id string) (*models.CardAccount, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CardAccount).Clone(), args.Error(1)
}

func (m *MockStore) Create(ctx context.Context, card *models.CardAccount) error {
	args := m.Called(ctx, card)
	return args.Error(0)
}

func (m *MockStore) Persist(ctx context.Context, card *models.CardAccount) error {
	args := m.Called(ctx, card)
	return args.Error(0)
}

func (m *MockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

// recordingPublisher keeps every published event in order.
type recordingPublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (p *recordingPublisher) Publish(event models.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) Events() []models.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.Event, len(p.events))
	copy(out, p.events)
	return out
}

func (p *recordingPublisher) Updates() []models.UpdateData {
	var out []models.UpdateData
	for _, e := range p.Events() {
		if data, ok := e.Data.(models.UpdateData); ok {
			out = append(out, data)
		}
	}
	return out
}

// stalledStore reads through to memory but never finishes a write before
// the caller's deadline.
type stalledStore struct {
	*store.MemoryStore
}

func (s *stalledStore) Create(ctx context.Context, card *models.CardAccount) error {
	<-ctx.Done()
	return ctx.Err()
}

func (s *stalledStore) Persist(ctx context.Context, card *models.CardAccount) error {
	<-ctx.Done()
	return ctx.Err()
}

// failingPersistStore rejects every Persist with err.
type failingPersistStore struct {
	*store.MemoryStore
	err error
}

func (s *failingPersistStore) Persist(ctx context.Context, card *models.CardAccount) error {
	return s.err
}
