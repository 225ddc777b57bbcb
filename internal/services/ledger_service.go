package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ruralpay/playcard/internal/audit"
	"github.com/ruralpay/playcard/internal/config"
	"github.com/ruralpay/playcard/internal/models"
	"github.com/ruralpay/playcard/internal/store"
)

// Publisher receives events for committed mutations. Publish must not block
// on observers and never reports delivery failures.
type Publisher interface {
	Publish(event models.Event)
}

// Result is what a committed mutation hands back to its caller.
type Result struct {
	Card        models.PublicCard
	HistoryItem models.TransactionRecord
}

// LedgerService applies card operations. Each operation is a critical
// section per card id: fetch, validate, mutate a working copy, persist, and
// only then publish. A failed persist leaves no trace.
type LedgerService struct {
	store     store.Store
	publisher Publisher
	locks     *keyedLocker
	audit     *audit.AuditLogger
	logger    *zap.Logger
	cfg       config.LedgerConfig
	now       func() time.Time
}

func NewLedgerService(st store.Store, publisher Publisher, cfg config.LedgerConfig, logger *zap.Logger) *LedgerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = models.DefaultHistoryLimit
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 5 * time.Second
	}
	return &LedgerService{
		store:     st,
		publisher: publisher,
		locks:     newKeyedLocker(),
		audit:     audit.NewAuditLogger(logger),
		logger:    logger.Named("ledger"),
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateCard explicitly creates a card. It fails with a *ConflictError
// carrying the existing snapshot when the id is taken.
func (s *LedgerService) CreateCard(ctx context.Context, id string, player *models.Player, initialBalance int64) (*Result, error) {
	id, err := normalizeID(id)
	if err != nil {
		return nil, err
	}
	if initialBalance < 0 {
		return nil, invalid("balance", ErrInvalidAmount)
	}
	var profile models.Player
	if player != nil {
		profile = models.Player{
			Name:  strings.TrimSpace(player.Name),
			Phone: player.Phone,
			Notes: player.Notes,
		}
		if profile.Name == "" && (profile.Phone != "" || profile.Notes != "") {
			return nil, invalid("player.name", ErrInvalidPlayer)
		}
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	sctx, cancel := s.storeContext(ctx)
	defer cancel()

	existing, err := s.store.Get(sctx, id)
	if err == nil {
		return nil, &ConflictError{Card: models.ToPublic(existing)}
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, s.persistenceError("create", id, err)
	}

	now := s.now()
	card := models.NewCardAccount(id, now)
	card.Balance = initialBalance
	card.Player = profile
	created := models.TransactionRecord{Title: models.TitleCardCreated, Timestamp: now}
	card.PushHistory(created, s.cfg.HistoryLimit)
	if profile.Name != "" {
		card.PushHistory(models.TransactionRecord{Title: models.TitlePlayerCreated, Timestamp: now}, s.cfg.HistoryLimit)
	}

	if err := s.store.Create(sctx, card); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			if existing, getErr := s.store.Get(sctx, id); getErr == nil {
				return nil, &ConflictError{Card: models.ToPublic(existing)}
			}
		}
		return nil, s.persistenceError("create", id, err)
	}

	s.audit.LogBalanceChange(audit.EventCardCreated, id, initialBalance, card.Balance)
	return s.commit(card, created), nil
}

// GetOrCreate returns the card, creating a default one on first access.
func (s *LedgerService) GetOrCreate(ctx context.Context, id string) (models.PublicCard, error) {
	card, err := s.getOrCreate(ctx, id)
	if err != nil {
		return models.PublicCard{}, err
	}
	return models.ToPublic(card), nil
}

// GetHistory returns the card's history, newest first.
func (s *LedgerService) GetHistory(ctx context.Context, id string) ([]models.TransactionRecord, error) {
	card, err := s.getOrCreate(ctx, id)
	if err != nil {
		return nil, err
	}
	return card.History, nil
}

// Touch records a physical scan of the card. It creates the card when it is
// unknown and always publishes a scan event.
func (s *LedgerService) Touch(ctx context.Context, id string) error {
	id, err := normalizeID(id)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	if _, _, err := s.loadOrCreate(ctx, id); err != nil {
		return err
	}
	s.publish(models.NewScanEvent(id))
	return nil
}

func (s *LedgerService) Recharge(ctx context.Context, id string, amount int64) (*Result, error) {
	if amount <= 0 {
		return nil, invalid("amount", ErrInvalidAmount)
	}
	res, err := s.mutate(ctx, "recharge", id, func(card *models.CardAccount, now time.Time) (models.TransactionRecord, error) {
		if card.Status == models.CardStatusSuspended {
			return models.TransactionRecord{}, &CardSuspendedError{CardID: card.ID}
		}
		if card.Balance > math.MaxInt64-amount {
			return models.TransactionRecord{}, invalid("amount", ErrInvalidAmount)
		}
		card.Balance += amount
		return models.TransactionRecord{Title: models.TitleRecharge, Timestamp: now, Amount: s.formatAmount("+", amount)}, nil
	})
	if err != nil {
		return nil, err
	}
	s.audit.LogBalanceChange(audit.EventRecharge, res.Card.ID, amount, res.Card.Balance)
	return res, nil
}

func (s *LedgerService) Deduct(ctx context.Context, id string, amount int64) (*Result, error) {
	if amount <= 0 {
		return nil, invalid("amount", ErrInvalidAmount)
	}
	res, err := s.mutate(ctx, "deduct", id, func(card *models.CardAccount, now time.Time) (models.TransactionRecord, error) {
		if card.Status == models.CardStatusSuspended {
			return models.TransactionRecord{}, &CardSuspendedError{CardID: card.ID}
		}
		if amount > card.Balance {
			return models.TransactionRecord{}, &InsufficientBalanceError{CardID: card.ID, Balance: card.Balance, Amount: amount}
		}
		card.Balance -= amount
		return models.TransactionRecord{Title: models.TitleDeduct, Timestamp: now, Amount: s.formatAmount("-", amount)}, nil
	})
	if err != nil {
		return nil, err
	}
	s.audit.LogBalanceChange(audit.EventDeduct, res.Card.ID, amount, res.Card.Balance)
	return res, nil
}

// UpdatePlayer replaces the player profile wholesale.
func (s *LedgerService) UpdatePlayer(ctx context.Context, id, name, phone, notes string) (*Result, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalid("name", ErrInvalidPlayer)
	}
	res, err := s.mutate(ctx, "update player", id, func(card *models.CardAccount, now time.Time) (models.TransactionRecord, error) {
		card.Player = models.Player{Name: name, Phone: phone, Notes: notes}
		return models.TransactionRecord{Title: models.TitlePlayerUpdated, Timestamp: now}, nil
	})
	if err != nil {
		return nil, err
	}
	s.audit.LogOperation(audit.EventPlayerUpdated, res.Card.ID, "name="+name)
	return res, nil
}

// SetStatus suspends or reinstates a card. Setting the current status again
// changes nothing and publishes nothing.
func (s *LedgerService) SetStatus(ctx context.Context, id string, status models.CardStatus) (*Result, error) {
	if !status.Valid() {
		return nil, invalid("status", ErrInvalidStatus)
	}
	id, err := normalizeID(id)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	card, created, err := s.loadOrCreate(ctx, id)
	if err != nil {
		return nil, err
	}
	if card.Status == status {
		if created {
			s.publish(models.NewUpdateEvent(models.ToPublic(card), card.History[0]))
		}
		return &Result{Card: models.ToPublic(card)}, nil
	}

	title := models.TitleCardSuspended
	if status == models.CardStatusActive {
		title = models.TitleCardReinstated
	}
	res, err := s.apply(ctx, "set status", card, func(working *models.CardAccount, now time.Time) (models.TransactionRecord, error) {
		working.Status = status
		return models.TransactionRecord{Title: title, Timestamp: now}, nil
	})
	if err != nil {
		return nil, err
	}
	s.audit.LogOperation(audit.EventStatusChanged, id, string(status))
	return res, nil
}

type mutation func(card *models.CardAccount, now time.Time) (models.TransactionRecord, error)

// mutate runs fn against a working copy of the card while holding the card's lock.
func (s *LedgerService) mutate(ctx context.Context, op, id string, fn mutation) (*Result, error) {
	id, err := normalizeID(id)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	card, err := s.load(ctx, op, id)
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, op, card, fn)
}

// apply must be called with the card's lock held.
func (s *LedgerService) apply(ctx context.Context, op string, card *models.CardAccount, fn mutation) (*Result, error) {
	now := s.now()
	working := card.Clone()

	entry, err := fn(working, now)
	if err != nil {
		s.logger.Debug("Operation rejected", zap.String("op", op), zap.String("card_id", card.ID), zap.Error(err))
		return nil, err
	}
	working.PushHistory(entry, s.cfg.HistoryLimit)
	working.UpdatedAt = now

	sctx, cancel := s.storeContext(ctx)
	defer cancel()
	if err := s.store.Persist(sctx, working); err != nil {
		return nil, s.persistenceError(op, card.ID, err)
	}

	return s.commit(working, entry), nil
}

// load fetches the card or builds the default one in memory. A new card is
// only stored together with the mutation applied to it.
func (s *LedgerService) load(ctx context.Context, op, id string) (*models.CardAccount, error) {
	sctx, cancel := s.storeContext(ctx)
	defer cancel()

	card, err := s.store.Get(sctx, id)
	if err == nil {
		return card, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, s.persistenceError(op, id, err)
	}
	return s.newDefaultCard(id), nil
}

// getOrCreate avoids the lock when the card already exists.
func (s *LedgerService) getOrCreate(ctx context.Context, id string) (*models.CardAccount, error) {
	id, err := normalizeID(id)
	if err != nil {
		return nil, err
	}

	sctx, cancel := s.storeContext(ctx)
	card, err := s.store.Get(sctx, id)
	cancel()
	if err == nil {
		return card, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, s.persistenceError("get", id, err)
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	card, created, err := s.loadOrCreate(ctx, id)
	if err != nil {
		return nil, err
	}
	if created {
		s.publish(models.NewUpdateEvent(models.ToPublic(card), card.History[0]))
	}
	return card, nil
}

// loadOrCreate must be called with the card's lock held. It stores a
// default card when none exists and reports whether it did.
func (s *LedgerService) loadOrCreate(ctx context.Context, id string) (*models.CardAccount, bool, error) {
	sctx, cancel := s.storeContext(ctx)
	defer cancel()

	card, err := s.store.Get(sctx, id)
	if err == nil {
		return card, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, s.persistenceError("get", id, err)
	}

	card = s.newDefaultCard(id)
	if err := s.store.Create(sctx, card); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			// created by another process sharing the store
			if existing, getErr := s.store.Get(sctx, id); getErr == nil {
				return existing, false, nil
			}
		}
		return nil, false, s.persistenceError("create", id, err)
	}
	s.audit.LogOperation(audit.EventCardCreated, id, "implicit")
	return card, true, nil
}

func (s *LedgerService) newDefaultCard(id string) *models.CardAccount {
	now := s.now()
	card := models.NewCardAccount(id, now)
	card.PushHistory(models.TransactionRecord{Title: models.TitleCardCreated, Timestamp: now}, s.cfg.HistoryLimit)
	return card
}

// commit publishes the update for a persisted card. The caller still holds
// the card's lock, which keeps events for one card in commit order.
func (s *LedgerService) commit(card *models.CardAccount, entry models.TransactionRecord) *Result {
	public := models.ToPublic(card)
	s.publish(models.NewUpdateEvent(public, entry))
	return &Result{Card: public, HistoryItem: entry}
}

func (s *LedgerService) publish(event models.Event) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(event)
}

// storeContext detaches storage calls from caller cancellation so a started
// operation always completes or fails on its own timeout.
func (s *LedgerService) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.cfg.PersistTimeout)
}

func (s *LedgerService) persistenceError(op, id string, err error) error {
	s.audit.LogError(op, id, err)
	s.logger.Error("Persistence failed", zap.String("op", op), zap.String("card_id", id), zap.Error(err))
	return &PersistenceError{Op: op, CardID: id, Err: err}
}

func (s *LedgerService) formatAmount(sign string, amount int64) string {
	if s.cfg.CurrencySymbol == "" {
		return fmt.Sprintf("%s%d", sign, amount)
	}
	return fmt.Sprintf("%s%s %d", sign, s.cfg.CurrencySymbol, amount)
}

func normalizeID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", invalid("cardId", ErrInvalidCardID)
	}
	return id, nil
}
