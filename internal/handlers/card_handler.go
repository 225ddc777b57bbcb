package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ruralpay/playcard/internal/models"
	"github.com/ruralpay/playcard/internal/services"
)

// Ledger is the card ledger as seen by the HTTP gateway.
type Ledger interface {
	CreateCard(ctx context.Context, id string, player *models.Player, initialBalance int64) (*services.Result, error)
	GetOrCreate(ctx context.Context, id string) (models.PublicCard, error)
	GetHistory(ctx context.Context, id string) ([]models.TransactionRecord, error)
	Recharge(ctx context.Context, id string, amount int64) (*services.Result, error)
	Deduct(ctx context.Context, id string, amount int64) (*services.Result, error)
	UpdatePlayer(ctx context.Context, id, name, phone, notes string) (*services.Result, error)
	SetStatus(ctx context.Context, id string, status models.CardStatus) (*services.Result, error)
	Touch(ctx context.Context, id string) error
}

var _ Ledger = (*services.LedgerService)(nil)

type CardHandler struct {
	ledger    Ledger
	validator *services.ValidationHelper
	logger    *zap.Logger
}

// CreateCardRequest represents an explicit card creation
type CreateCardRequest struct {
	CardID  string         `json:"cardId" validate:"required,max=128"`
	Player  *PlayerRequest `json:"player,omitempty"`
	Balance json.Number    `json:"balance,omitempty"`
}

// PlayerRequest carries a player profile. An empty name is rejected by the
// ledger unless every field is empty.
type PlayerRequest struct {
	Name  string `json:"name" validate:"max=100"`
	Phone string `json:"phone,omitempty" validate:"omitempty,max=32"`
	Notes string `json:"notes,omitempty" validate:"omitempty,max=500"`
}

// UpdatePlayerRequest replaces the player profile
type UpdatePlayerRequest struct {
	Name  string `json:"name" validate:"required,max=100"`
	Phone string `json:"phone,omitempty" validate:"omitempty,max=32"`
	Notes string `json:"notes,omitempty" validate:"omitempty,max=500"`
}

// AmountRequest is the body of recharge and deduct
type AmountRequest struct {
	Amount json.Number `json:"amount" validate:"required"`
}

func NewCardHandler(ledger Ledger, logger *zap.Logger) *CardHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CardHandler{
		ledger:    ledger,
		validator: services.NewValidationHelper(),
		logger:    logger.Named("cards"),
	}
}

// CreateCard creates a card explicitly
// @Summary Create card
// @Description Create a card with an optional player and opening balance
// @Tags cards
// @Accept json
// @Produce json
// @Param card body CreateCardRequest true "Card data"
// @Success 201 {object} models.PublicCard
// @Failure 400 {object} services.ErrorResponse
// @Failure 409 {object} conflictResponse
// @Router /cards [post]
func (h *CardHandler) CreateCard(w http.ResponseWriter, r *http.Request) {
	var req CreateCardRequest
	if !decodeRequest(w, r, h.validator, &req) {
		return
	}

	var balance int64
	if req.Balance != "" {
		b, err := parseAmount(req.Balance, 0)
		if err != nil {
			services.SendErrorResponse(w, "Invalid balance", http.StatusBadRequest, nil)
			return
		}
		balance = b
	}

	var player *models.Player
	if req.Player != nil {
		player = &models.Player{Name: req.Player.Name, Phone: req.Player.Phone, Notes: req.Player.Notes}
	}

	res, err := h.ledger.CreateCard(r.Context(), req.CardID, player, balance)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, res.Card)
}

// GetCard returns a card, creating it on first access
// @Summary Get card details
// @Description Retrieve a card; unknown cards are created with a zero balance
// @Tags cards
// @Produce json
// @Param cardId path string true "Card ID"
// @Success 200 {object} models.PublicCard
// @Failure 503 {object} services.ErrorResponse
// @Router /cards/{cardId} [get]
func (h *CardHandler) GetCard(w http.ResponseWriter, r *http.Request) {
	card, err := h.ledger.GetOrCreate(r.Context(), chi.URLParam(r, "cardId"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

// GetHistory returns the card's transaction history, newest first
// @Summary Get card history
// @Tags cards
// @Produce json
// @Param cardId path string true "Card ID"
// @Success 200 {array} models.TransactionRecord
// @Router /cards/{cardId}/history [get]
func (h *CardHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.ledger.GetHistory(r.Context(), chi.URLParam(r, "cardId"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if history == nil {
		history = []models.TransactionRecord{}
	}
	writeJSON(w, http.StatusOK, history)
}

// Recharge credits the card
// @Summary Recharge card
// @Tags cards
// @Accept json
// @Produce json
// @Param cardId path string true "Card ID"
// @Param request body AmountRequest true "Recharge amount"
// @Success 200 {object} models.PublicCard
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Router /cards/{cardId}/recharge [post]
func (h *CardHandler) Recharge(w http.ResponseWriter, r *http.Request) {
	h.applyAmount(w, r, h.ledger.Recharge)
}

// Deduct debits the card
// @Summary Deduct from card
// @Tags cards
// @Accept json
// @Produce json
// @Param cardId path string true "Card ID"
// @Param request body AmountRequest true "Deduct amount"
// @Success 200 {object} models.PublicCard
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Router /cards/{cardId}/deduct [post]
func (h *CardHandler) Deduct(w http.ResponseWriter, r *http.Request) {
	h.applyAmount(w, r, h.ledger.Deduct)
}

func (h *CardHandler) applyAmount(w http.ResponseWriter, r *http.Request, op func(context.Context, string, int64) (*services.Result, error)) {
	var req AmountRequest
	if !decodeRequest(w, r, h.validator, &req) {
		return
	}

	amount, err := parseAmount(req.Amount, 1)
	if err != nil {
		services.SendErrorResponse(w, "Invalid amount", http.StatusBadRequest, nil)
		return
	}

	res, err := op(r.Context(), chi.URLParam(r, "cardId"), amount)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res.Card)
}

// UpdatePlayer replaces the player profile
// @Summary Update player
// @Tags cards
// @Accept json
// @Produce json
// @Param cardId path string true "Card ID"
// @Param player body UpdatePlayerRequest true "Player profile"
// @Success 200 {object} models.PublicCard
// @Failure 400 {object} services.ErrorResponse
// @Router /cards/{cardId}/player [put]
func (h *CardHandler) UpdatePlayer(w http.ResponseWriter, r *http.Request) {
	var req UpdatePlayerRequest
	if !decodeRequest(w, r, h.validator, &req) {
		return
	}

	res, err := h.ledger.UpdatePlayer(r.Context(), chi.URLParam(r, "cardId"), req.Name, req.Phone, req.Notes)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res.Card)
}

// SuspendCard suspends a card
// @Summary Suspend card
// @Description Suspend a card to block recharges and deductions
// @Tags cards
// @Produce json
// @Param cardId path string true "Card ID"
// @Success 200 {object} models.PublicCard
// @Router /cards/{cardId}/suspend [put]
func (h *CardHandler) SuspendCard(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, models.CardStatusSuspended)
}

// ReinstateCard reactivates a suspended card
// @Summary Reinstate card
// @Description Reactivate a suspended card
// @Tags cards
// @Produce json
// @Param cardId path string true "Card ID"
// @Success 200 {object} models.PublicCard
// @Router /cards/{cardId}/reinstate [put]
func (h *CardHandler) ReinstateCard(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, models.CardStatusActive)
}

func (h *CardHandler) setStatus(w http.ResponseWriter, r *http.Request, status models.CardStatus) {
	res, err := h.ledger.SetStatus(r.Context(), chi.URLParam(r, "cardId"), status)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res.Card)
}
