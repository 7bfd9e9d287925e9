package stream

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType classifies events flowing through the engine.
type EventType string

const (
	EventTransaction     EventType = "transaction"
	EventKYCUpdate       EventType = "kyc_update"
	EventScreeningHit    EventType = "screening_hit"
	EventThresholdBreach EventType = "kri_threshold_breach"
	EventRiskScore       EventType = "risk_score"
)

// Event is a unit of work for the engine. Transaction events carry the
// amount and customer; risk-score events carry the model score.
type Event struct {
	ID            uuid.UUID       `json:"id"`
	Type          EventType       `json:"type"`
	Timestamp     time.Time       `json:"timestamp"`
	Source        string          `json:"source"`
	CustomerID    uuid.UUID       `json:"customer_id,omitempty"`
	TransactionID *uuid.UUID      `json:"transaction_id,omitempty"`
	EntityType    string          `json:"entity_type,omitempty"`
	EntityID      string          `json:"entity_id,omitempty"`
	Amount        decimal.Decimal `json:"amount,omitempty"`
	RiskScore     float64         `json:"risk_score,omitempty"`
	Data          map[string]any  `json:"data,omitempty"`
}

// NewTransactionEvent builds the engine event for a persisted transaction.
func NewTransactionEvent(txnID, customerID uuid.UUID, amount decimal.Decimal, executedAt time.Time) *Event {
	return &Event{
		ID:            uuid.New(),
		Type:          EventTransaction,
		Timestamp:     executedAt,
		Source:        "transactions",
		CustomerID:    customerID,
		TransactionID: &txnID,
		Amount:        amount,
	}
}
