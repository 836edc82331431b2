package service

import (
	"context"
	"fmt"
	"time"

	"coinsub-commerce-bridge/internal/core/domain"
	"coinsub-commerce-bridge/internal/core/ports"
	"coinsub-commerce-bridge/pkg/apperror"

	"github.com/rs/zerolog"
)

// SubscriptionServiceImpl implements ports.SubscriptionService.
type SubscriptionServiceImpl struct {
	orders   ports.OrderRepository
	provider ports.CoinSubClient
	log      zerolog.Logger
}

// NewSubscriptionService creates a new SubscriptionServiceImpl.
func NewSubscriptionService(orders ports.OrderRepository, provider ports.CoinSubClient, log zerolog.Logger) *SubscriptionServiceImpl {
	return &SubscriptionServiceImpl{
		orders:   orders,
		provider: provider,
		log:      log,
	}
}

// Cancel requests cancellation of the agreement behind a subscription order.
// The order itself stays in its current status until the provider confirms
// the cancellation through the webhook.
func (s *SubscriptionServiceImpl) Cancel(ctx context.Context, orderID int64) error {
	order, agreementID, err := s.subscriptionOrder(ctx, orderID)
	if err != nil {
		return err
	}

	if err := s.provider.CancelAgreement(ctx, agreementID); err != nil {
		return err
	}

	order.SetMeta(domain.MetaSubscriptionStatus, "cancellation_requested")
	if err := s.orders.Update(ctx, order); err != nil {
		return apperror.InternalError(fmt.Errorf("persist cancellation meta: %w", err))
	}
	if err := s.orders.AddNote(ctx, order.ID, "Subscription cancellation requested via CoinSub."); err != nil {
		s.log.Warn().Err(err).Int64("order_id", order.ID).Msg("failed to note order")
	}

	s.log.Info().
		Int64("order_id", order.ID).
		Str("agreement_id", agreementID).
		Msg("subscription cancellation requested")

	return nil
}

// NextPayment returns the next scheduled charge date for a subscription
// order, or nil when the provider does not report one.
func (s *SubscriptionServiceImpl) NextPayment(ctx context.Context, orderID int64) (*time.Time, error) {
	_, agreementID, err := s.subscriptionOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	info, err := s.provider.RetrieveAgreement(ctx, agreementID)
	if err != nil {
		return nil, err
	}

	return info.NextPayment, nil
}

func (s *SubscriptionServiceImpl) subscriptionOrder(ctx context.Context, orderID int64) (*domain.Order, string, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, "", apperror.InternalError(fmt.Errorf("load order: %w", err))
	}
	if order == nil {
		return nil, "", apperror.ErrNotFound("Order")
	}
	if !order.IsSubscription() {
		return nil, "", apperror.ErrNotSubscription()
	}
	agreementID := order.MetaValue(domain.MetaAgreementID)
	if agreementID == "" {
		return nil, "", apperror.ErrNotSubscription()
	}
	return order, agreementID, nil
}
