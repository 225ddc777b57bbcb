package store

import (
	"context"
	"errors"

	"github.com/ruralpay/playcard/internal/models"
)

// Sentinel errors shared across all backend implementations.
var (
	ErrNotFound      = errors.New("card not found")
	ErrAlreadyExists = errors.New("card already exists")
)

// Store is durable keyed storage of one CardAccount per card id.
//
// Implementations return copies: mutating a returned account never changes
// stored state until it is passed to Persist. Per-id serialisation is the
// caller's job.
type Store interface {
	// Get returns the account or ErrNotFound. It has no side effects.
	Get(ctx context.Context, id string) (*models.CardAccount, error)
	// Create inserts a new account or returns ErrAlreadyExists.
	Create(ctx context.Context, card *models.CardAccount) error
	// Persist atomically writes the full account, history included.
	Persist(ctx context.Context, card *models.CardAccount) error

	Close() error
}
