package service

import (
	"context"
	"time"

	"coinsub-commerce-bridge/internal/core/domain"
	"coinsub-commerce-bridge/internal/core/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type eventRecorder struct {
	repo ports.WebhookEventLogRepository
	log  zerolog.Logger
}

// NewEventRecorder creates the webhook event log recorder.
// If repo is nil, deliveries are only written to the logger.
func NewEventRecorder(repo ports.WebhookEventLogRepository, log zerolog.Logger) ports.EventRecorder {
	return &eventRecorder{repo: repo, log: log}
}

// Record persists one delivery record asynchronously (fire-and-forget).
// Event-log persistence must never fail or slow down webhook handling.
func (s *eventRecorder) Record(event *domain.Event, orderID *int64, outcome domain.EventOutcome, detail string) {
	rec := &domain.WebhookEventRecord{
		ID:          uuid.New(),
		EventType:   event.Type,
		OriginID:    event.OriginID,
		TransferID:  event.TransferID,
		PaymentID:   event.PaymentID,
		AgreementID: event.AgreementID,
		OrderID:     orderID,
		Outcome:     outcome,
		Detail:      detail,
		CreatedAt:   time.Now().UTC(),
	}

	go func() {
		evt := s.log.Info().
			Str("event_type", string(rec.EventType)).
			Str("outcome", string(rec.Outcome))
		if rec.OrderID != nil {
			evt = evt.Int64("order_id", *rec.OrderID)
		}
		evt.Msg("webhook event")

		if s.repo != nil {
			if err := s.repo.Create(context.Background(), rec); err != nil {
				s.log.Warn().Err(err).Str("event_type", string(rec.EventType)).Msg("failed to persist webhook event record")
			}
		}
	}()
}
