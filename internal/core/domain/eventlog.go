package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventOutcome is the terminal disposition of one webhook delivery.
type EventOutcome string

const (
	EventOutcomeProcessed        EventOutcome = "processed"
	EventOutcomeDuplicate        EventOutcome = "duplicate"
	EventOutcomeUnresolved       EventOutcome = "unresolved"
	EventOutcomeMerchantMismatch EventOutcome = "merchant_mismatch"
	EventOutcomeStale            EventOutcome = "stale"
	EventOutcomeUnauthorized     EventOutcome = "unauthorized"
	EventOutcomeIgnored          EventOutcome = "ignored"
	EventOutcomeError            EventOutcome = "error"
)

// WebhookEventRecord captures one received webhook delivery for the ops log.
type WebhookEventRecord struct {
	ID          uuid.UUID    `json:"id"`
	EventType   EventType    `json:"event_type"`
	OriginID    string       `json:"origin_id,omitempty"`
	TransferID  string       `json:"transfer_id,omitempty"`
	PaymentID   string       `json:"payment_id,omitempty"`
	AgreementID string       `json:"agreement_id,omitempty"`
	OrderID     *int64       `json:"order_id,omitempty"`
	Outcome     EventOutcome `json:"outcome"`
	Detail      string       `json:"detail,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}
