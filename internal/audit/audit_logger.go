package audit

import (
	"time"

	"go.uber.org/zap"
)

type AuditEvent struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	CardID    string    `json:"card_id"`
	Amount    int64     `json:"amount"`
	Balance   int64     `json:"balance"`
	Status    string    `json:"status"`
	Details   any       `json:"details"`
}

const (
	EventCardCreated   = "CARD_CREATED"
	EventRecharge      = "RECHARGE"
	EventDeduct        = "DEDUCT"
	EventPlayerUpdated = "PLAYER_UPDATED"
	EventStatusChanged = "STATUS_CHANGED"
	EventError         = "ERROR"
)

type AuditLogger struct {
	logger *zap.Logger
}

func NewAuditLogger(logger *zap.Logger) *AuditLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditLogger{logger: logger.Named("audit")}
}

func (a *AuditLogger) LogBalanceChange(eventType, cardID string, amount, balance int64) {
	a.log(AuditEvent{
		Timestamp: time.Now(),
		EventType: eventType,
		CardID:    cardID,
		Amount:    amount,
		Balance:   balance,
		Status:    "SUCCESS",
	})
}

func (a *AuditLogger) LogError(operation, cardID string, err error) {
	a.log(AuditEvent{
		Timestamp: time.Now(),
		EventType: EventError,
		CardID:    cardID,
		Status:    "FAILED",
		Details:   map[string]string{"operation": operation, "error": err.Error()},
	})
}

func (a *AuditLogger) LogOperation(eventType, cardID, details string) {
	a.log(AuditEvent{
		Timestamp: time.Now(),
		EventType: eventType,
		CardID:    cardID,
		Status:    "SUCCESS",
		Details:   map[string]string{"details": details},
	})
}

func (a *AuditLogger) log(event AuditEvent) {
	a.logger.Info("AUDIT",
		zap.Time("timestamp", event.Timestamp),
		zap.String("event_type", event.EventType),
		zap.String("card_id", event.CardID),
		zap.Int64("amount", event.Amount),
		zap.Int64("balance", event.Balance),
		zap.String("status", event.Status),
		zap.Any("details", event.Details),
	)
}
