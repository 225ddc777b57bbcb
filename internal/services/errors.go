package services

import (
	"errors"
	"fmt"

	"github.com/ruralpay/playcard/internal/models"
	"github.com/ruralpay/playcard/internal/store"
)

// Validation failures, matched with errors.Is.
var (
	ErrInvalidAmount = errors.New("invalid amount")
	ErrInvalidPlayer = errors.New("player name required")
	ErrInvalidCardID = errors.New("card id required")
	ErrInvalidStatus = errors.New("invalid card status")
)

// ValidationError reports malformed or out-of-range input.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

// ConflictError is returned by CreateCard when the id is taken. Card holds
// the existing snapshot.
type ConflictError struct {
	Card models.PublicCard
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("card %s already exists", e.Card.ID)
}

func (e *ConflictError) Unwrap() error {
	return store.ErrAlreadyExists
}

// InsufficientBalanceError is returned when a deduction exceeds the balance.
type InsufficientBalanceError struct {
	CardID  string
	Balance int64
	Amount  int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance on card %s: %d < %d", e.CardID, e.Balance, e.Amount)
}

// CardSuspendedError is returned for monetary operations on a suspended card.
type CardSuspendedError struct {
	CardID string
}

func (e *CardSuspendedError) Error() string {
	return fmt.Sprintf("card %s is suspended", e.CardID)
}

// PersistenceError wraps a storage failure or timeout. The operation had no effect.
type PersistenceError struct {
	Op     string
	CardID string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s card %s: persistence failed: %v", e.Op, e.CardID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
