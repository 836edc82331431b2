package service

import (
	"context"
	"fmt"

	"coinsub-commerce-bridge/internal/core/domain"
	"coinsub-commerce-bridge/internal/core/ports"
	"coinsub-commerce-bridge/pkg/apperror"

	"github.com/rs/zerolog"
)

// OpsServiceImpl implements ports.OpsService for the operator dashboard.
type OpsServiceImpl struct {
	orders   ports.OrderRepository
	events   ports.WebhookEventLogRepository
	provider ports.CoinSubClient
	log      zerolog.Logger
}

// NewOpsService creates a new OpsServiceImpl.
func NewOpsService(
	orders ports.OrderRepository,
	events ports.WebhookEventLogRepository,
	provider ports.CoinSubClient,
	log zerolog.Logger,
) *OpsServiceImpl {
	return &OpsServiceImpl{
		orders:   orders,
		events:   events,
		provider: provider,
		log:      log,
	}
}

// ListOrders returns a page of orders matching the filter.
func (s *OpsServiceImpl) ListOrders(ctx context.Context, params ports.OrderListParams) ([]*domain.Order, int64, error) {
	orders, total, err := s.orders.List(ctx, params)
	if err != nil {
		return nil, 0, apperror.InternalError(fmt.Errorf("list orders: %w", err))
	}
	return orders, total, nil
}

// GetOrder returns a single order with its line items, meta and notes.
func (s *OpsServiceImpl) GetOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("load order: %w", err))
	}
	if order == nil {
		return nil, apperror.ErrNotFound("Order")
	}
	return order, nil
}

// OrderStats returns aggregate order counts and sales totals.
func (s *OpsServiceImpl) OrderStats(ctx context.Context) (*ports.OrderStats, error) {
	stats, err := s.orders.Stats(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("order stats: %w", err))
	}
	return stats, nil
}

// ListWebhookEvents returns a page of recorded webhook deliveries.
func (s *OpsServiceImpl) ListWebhookEvents(ctx context.Context, params ports.EventLogListParams) ([]domain.WebhookEventRecord, int64, error) {
	records, total, err := s.events.List(ctx, params)
	if err != nil {
		return nil, 0, apperror.InternalError(fmt.Errorf("list webhook events: %w", err))
	}
	return records, total, nil
}

// InitiateRefund requests an on-chain transfer back to the customer wallet
// and marks the order so the transfer webhook can complete the refund.
func (s *OpsServiceImpl) InitiateRefund(ctx context.Context, req ports.RefundRequest) (*ports.RefundResult, error) {
	order, err := s.orders.GetByID(ctx, req.OrderID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("load order: %w", err))
	}
	if order == nil {
		return nil, apperror.ErrNotFound("Order")
	}
	if !order.IsPaid() || order.Status == domain.OrderStatusRefunded || order.RefundInFlight() {
		return nil, apperror.ErrRefundNotEligible()
	}

	amount := order.Total
	if req.Amount != nil {
		amount = *req.Amount
	}
	if amount <= 0 || amount > order.Total {
		return nil, apperror.Validation("refund amount must be positive and within the order total")
	}

	toAddress := req.ToAddress
	if toAddress == "" {
		toAddress = order.MetaValue(domain.MetaWalletAddress)
	}
	if toAddress == "" {
		return nil, apperror.Validation("destination wallet address required")
	}

	result, err := s.provider.RequestTransfer(ctx, ports.TransferRequest{
		ToAddress: toAddress,
		Amount:    amount,
		ChainID:   order.MetaValue(domain.MetaChainID),
		Token:     order.MetaValue(domain.MetaTokenSymbol),
	})
	if err != nil {
		return nil, err
	}

	order.SetMeta(domain.MetaRefundID, result.TransferID)
	order.SetMeta(domain.MetaPendingTransferID, result.TransferID)
	order.SetMeta(domain.MetaRefundPending, "yes")
	order.SetMeta(domain.MetaRefundStatus, "pending")
	if err := s.orders.Update(ctx, order); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("persist refund meta: %w", err))
	}
	note := fmt.Sprintf("Refund transfer %s requested for %.2f %s to %s.", result.TransferID, amount, order.Currency, toAddress)
	if err := s.orders.AddNote(ctx, order.ID, note); err != nil {
		s.log.Warn().Err(err).Int64("order_id", order.ID).Msg("failed to note order")
	}

	s.log.Info().
		Int64("order_id", order.ID).
		Str("transfer_id", result.TransferID).
		Float64("amount", amount).
		Msg("refund transfer requested")

	return &ports.RefundResult{
		OrderID:    order.ID,
		TransferID: result.TransferID,
	}, nil
}
