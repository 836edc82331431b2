package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"coinsub-commerce-bridge/internal/core/domain"
	"coinsub-commerce-bridge/internal/core/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chanEventLogRepo hands each created record to the test through a channel so
// the asynchronous write can be awaited.
type chanEventLogRepo struct {
	created chan *domain.WebhookEventRecord
	err     error
}

func (r *chanEventLogRepo) Create(_ context.Context, rec *domain.WebhookEventRecord) error {
	r.created <- rec
	return r.err
}

func (r *chanEventLogRepo) List(_ context.Context, _ ports.EventLogListParams) ([]domain.WebhookEventRecord, int64, error) {
	return nil, 0, nil
}

func awaitRecord(t *testing.T, ch chan *domain.WebhookEventRecord) *domain.WebhookEventRecord {
	t.Helper()
	select {
	case rec := <-ch:
		return rec
	case <-time.After(2 * time.Second):
		t.Fatal("no event record persisted")
		return nil
	}
}

func TestEventRecorder_PersistsDelivery(t *testing.T) {
	repo := &chanEventLogRepo{created: make(chan *domain.WebhookEventRecord, 1)}
	recorder := NewEventRecorder(repo, zerolog.Nop())

	orderID := int64(7)
	recorder.Record(&domain.Event{
		Type:        domain.EventTypePayment,
		OriginID:    "sess-1",
		PaymentID:   "pay-1",
		AgreementID: "agr-1",
	}, &orderID, domain.EventOutcomeProcessed, "")

	rec := awaitRecord(t, repo.created)
	assert.NotEqual(t, uuid.Nil, rec.ID, "record gets a generated id")
	assert.Equal(t, domain.EventTypePayment, rec.EventType)
	assert.Equal(t, "sess-1", rec.OriginID)
	assert.Equal(t, "pay-1", rec.PaymentID)
	assert.Equal(t, "agr-1", rec.AgreementID)
	require.NotNil(t, rec.OrderID)
	assert.Equal(t, int64(7), *rec.OrderID)
	assert.Equal(t, domain.EventOutcomeProcessed, rec.Outcome)
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestEventRecorder_DropReasonRecorded(t *testing.T) {
	repo := &chanEventLogRepo{created: make(chan *domain.WebhookEventRecord, 1)}
	recorder := NewEventRecorder(repo, zerolog.Nop())

	recorder.Record(&domain.Event{Type: domain.EventTypeTransfer, TransferID: "tr-1"},
		nil, domain.EventOutcomeDuplicate, "dedupe key already recorded")

	rec := awaitRecord(t, repo.created)
	assert.Nil(t, rec.OrderID)
	assert.Equal(t, domain.EventOutcomeDuplicate, rec.Outcome)
	assert.Equal(t, "dedupe key already recorded", rec.Detail)
	assert.Equal(t, "tr-1", rec.TransferID)
}

func TestEventRecorder_NilRepoLogsOnly(t *testing.T) {
	recorder := NewEventRecorder(nil, zerolog.Nop())

	// Must not panic; there is nothing else to observe.
	recorder.Record(&domain.Event{Type: domain.EventTypePayment}, nil, domain.EventOutcomeIgnored, "unknown event type")
}

func TestEventRecorder_RepoErrorIsSwallowed(t *testing.T) {
	repo := &chanEventLogRepo{
		created: make(chan *domain.WebhookEventRecord, 1),
		err:     errors.New("insert failed"),
	}
	recorder := NewEventRecorder(repo, zerolog.Nop())

	recorder.Record(&domain.Event{Type: domain.EventTypePayment}, nil, domain.EventOutcomeProcessed, "")
	awaitRecord(t, repo.created)
}
