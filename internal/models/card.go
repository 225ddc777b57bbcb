package models

import (
	"time"
)

// CardStatus represents card status
type CardStatus string

const (
	CardStatusActive    CardStatus = "active"
	CardStatusSuspended CardStatus = "suspended"
)

// Valid reports whether s is one of the known statuses.
func (s CardStatus) Valid() bool {
	return s == CardStatusActive || s == CardStatusSuspended
}

// History entry titles
const (
	TitleCardCreated    = "Card created"
	TitlePlayerCreated  = "Player created"
	TitleRecharge       = "Recharge"
	TitleDeduct         = "Deduct"
	TitlePlayerUpdated  = "Player updated"
	TitleCardSuspended  = "Card suspended"
	TitleCardReinstated = "Card reinstated"
)

// DefaultHistoryLimit is the number of history entries kept per card.
const DefaultHistoryLimit = 50

// Player is the owner profile attached to a card. The zero value means no player.
type Player struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Notes string `json:"notes"`
}

// TransactionRecord is a single entry of a card's history.
type TransactionRecord struct {
	Title     string    `json:"title"`
	Timestamp time.Time `json:"timestamp"`
	Amount    string    `json:"amount"` // signed display string, empty for non-monetary events
}

// CardAccount represents a prepaid card keyed by its RFID tag
type CardAccount struct {
	ID        string              `json:"id"`
	Balance   int64               `json:"balance"` // minor units
	Status    CardStatus          `json:"status"`
	Player    Player              `json:"player"`
	History   []TransactionRecord `json:"history"` // newest first
	CreatedAt time.Time           `json:"createdAt"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

// NewCardAccount returns a zero-balance active account with empty history.
func NewCardAccount(id string, now time.Time) *CardAccount {
	return &CardAccount{
		ID:        id,
		Status:    CardStatusActive,
		History:   []TransactionRecord{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy of the account.
func (c *CardAccount) Clone() *CardAccount {
	if c == nil {
		return nil
	}
	cp := *c
	cp.History = make([]TransactionRecord, len(c.History))
	copy(cp.History, c.History)
	return &cp
}

// PushHistory prepends entry and evicts the oldest entries past limit.
func (c *CardAccount) PushHistory(entry TransactionRecord, limit int) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	history := make([]TransactionRecord, 0, len(c.History)+1)
	history = append(history, entry)
	history = append(history, c.History...)
	if len(history) > limit {
		history = history[:limit]
	}
	c.History = history
}

// PublicCard is the wire view of a card. History is never embedded.
type PublicCard struct {
	ID      string     `json:"id"`
	Balance int64      `json:"balance"`
	Status  CardStatus `json:"status"`
	Player  Player     `json:"player"`
}

// ToPublic projects an account onto its public view.
func ToPublic(c *CardAccount) PublicCard {
	return PublicCard{
		ID:      c.ID,
		Balance: c.Balance,
		Status:  c.Status,
		Player:  c.Player,
	}
}
