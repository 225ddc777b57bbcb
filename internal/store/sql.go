package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/ruralpay/playcard/internal/models"
)

// Compile-time check: *SQLStore must satisfy Store.
var _ Store = (*SQLStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS cards (
	id           TEXT PRIMARY KEY,
	balance      BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
	status       TEXT NOT NULL DEFAULT 'active',
	player_name  TEXT NOT NULL DEFAULT '',
	player_phone TEXT NOT NULL DEFAULT '',
	player_notes TEXT NOT NULL DEFAULT '',
	history      TEXT NOT NULL DEFAULT '[]',
	created_at   TIMESTAMP NOT NULL,
	updated_at   TIMESTAMP NOT NULL
)`

const (
	selectCardQuery = `SELECT id, balance, status, player_name, player_phone, player_notes, history, created_at, updated_at
		FROM cards WHERE id = ?`

	insertCardQuery = `INSERT INTO cards (id, balance, status, player_name, player_phone, player_notes, history, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`

	upsertCardQuery = `INSERT INTO cards (id, balance, status, player_name, player_phone, player_notes, history, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			balance = excluded.balance,
			status = excluded.status,
			player_name = excluded.player_name,
			player_phone = excluded.player_phone,
			player_notes = excluded.player_notes,
			history = excluded.history,
			updated_at = excluded.updated_at`
)

// cardRow is the persistence shape of a card; history is stored as a JSON array.
type cardRow struct {
	ID          string    `db:"id"`
	Balance     int64     `db:"balance"`
	Status      string    `db:"status"`
	PlayerName  string    `db:"player_name"`
	PlayerPhone string    `db:"player_phone"`
	PlayerNotes string    `db:"player_notes"`
	History     string    `db:"history"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func toRow(card *models.CardAccount) (cardRow, error) {
	history := card.History
	if history == nil {
		history = []models.TransactionRecord{}
	}
	data, err := json.Marshal(history)
	if err != nil {
		return cardRow{}, fmt.Errorf("failed to encode history for card %s: %w", card.ID, err)
	}
	return cardRow{
		ID:          card.ID,
		Balance:     card.Balance,
		Status:      string(card.Status),
		PlayerName:  card.Player.Name,
		PlayerPhone: card.Player.Phone,
		PlayerNotes: card.Player.Notes,
		History:     string(data),
		CreatedAt:   card.CreatedAt.UTC(),
		UpdatedAt:   card.UpdatedAt.UTC(),
	}, nil
}

func (r cardRow) toCard() (*models.CardAccount, error) {
	history := []models.TransactionRecord{}
	if r.History != "" {
		if err := json.Unmarshal([]byte(r.History), &history); err != nil {
			return nil, fmt.Errorf("failed to decode history for card %s: %w", r.ID, err)
		}
	}
	return &models.CardAccount{
		ID:      r.ID,
		Balance: r.Balance,
		Status:  models.CardStatus(r.Status),
		Player: models.Player{
			Name:  r.PlayerName,
			Phone: r.PlayerPhone,
			Notes: r.PlayerNotes,
		},
		History:   history,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}, nil
}

func (r cardRow) args() []any {
	return []any{r.ID, r.Balance, r.Status, r.PlayerName, r.PlayerPhone, r.PlayerNotes, r.History, r.CreatedAt, r.UpdatedAt}
}

// SQLStore persists cards in a single relational table. It works with any
// driver sqlx knows the bind style of; postgres and sqlite3 are wired up.
type SQLStore struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewSQLStore(db *sqlx.DB, logger *zap.Logger) *SQLStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLStore{db: db, logger: logger}
}

// EnsureSchema creates the cards table if it does not exist.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("unable to initialize schema: %w", err)
	}
	s.logger.Info("Card schema ready", zap.String("driver", s.db.DriverName()))
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*models.CardAccount, error) {
	var row cardRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(selectCardQuery), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get card %s: %w", id, err)
	}
	return row.toCard()
}

func (s *SQLStore) Create(ctx context.Context, card *models.CardAccount) error {
	row, err := toRow(card)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, s.db.Rebind(insertCardQuery), row.args()...)
	if err != nil {
		return fmt.Errorf("failed to create card %s: %w", card.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected after creating card %s: %w", card.ID, err)
	}
	if rowsAffected == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (s *SQLStore) Persist(ctx context.Context, card *models.CardAccount) error {
	row, err := toRow(card)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, s.db.Rebind(upsertCardQuery), row.args()...); err != nil {
		return fmt.Errorf("failed to persist card %s: %w", card.ID, err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
