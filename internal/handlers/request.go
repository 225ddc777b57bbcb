package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ruralpay/playcard/internal/models"
	"github.com/ruralpay/playcard/internal/services"
)

const maxBodyBytes = 1_048_576 // 1 MB

// decodeRequest reads a single JSON object into dst and validates it. On
// failure the error reply has already been written.
func decodeRequest(w http.ResponseWriter, r *http.Request, validator *services.ValidationHelper, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}

	if err := validator.ValidateStruct(dst); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return false
	}
	return true
}

var errNotWholeAmount = errors.New("amount must be a whole number")

// parseAmount converts a JSON number into whole currency units. Fractions,
// values beyond int64 and anything below min are rejected.
func parseAmount(n json.Number, min int64) (int64, error) {
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return 0, services.ErrInvalidAmount
	}
	if !d.IsInteger() {
		return 0, errNotWholeAmount
	}
	if !d.BigInt().IsInt64() || d.LessThan(decimal.NewFromInt(min)) {
		return 0, services.ErrInvalidAmount
	}
	return d.IntPart(), nil
}

type conflictResponse struct {
	Error string            `json:"error"`
	Card  models.PublicCard `json:"card"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeServiceError maps ledger errors onto HTTP replies.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var (
		validationErr *services.ValidationError
		conflictErr   *services.ConflictError
		balanceErr    *services.InsufficientBalanceError
		suspendedErr  *services.CardSuspendedError
		persistErr    *services.PersistenceError
	)

	switch {
	case errors.As(err, &conflictErr):
		writeJSON(w, http.StatusConflict, conflictResponse{Error: "Card already exists", Card: conflictErr.Card})
	case errors.As(err, &validationErr):
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, validationErr)
	case errors.As(err, &balanceErr):
		services.SendErrorResponse(w, "Insufficient balance", http.StatusBadRequest, nil)
	case errors.As(err, &suspendedErr):
		services.SendErrorResponse(w, "Card is suspended", http.StatusForbidden, nil)
	case errors.As(err, &persistErr):
		services.SendErrorResponse(w, "Storage unavailable", http.StatusServiceUnavailable, nil)
	default:
		logger.Error("Unhandled ledger error", zap.Error(err))
		services.SendErrorResponse(w, "Internal server error", http.StatusInternalServerError, nil)
	}
}
