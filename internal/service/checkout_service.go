package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"coinsub-commerce-bridge/internal/core/domain"
	"coinsub-commerce-bridge/internal/core/ports"
	"coinsub-commerce-bridge/pkg/apperror"

	"github.com/rs/zerolog"
)

const (
	// checkoutLockTTL guards against rapid double-submission of the same
	// checkout. Matches the storefront's session lock window.
	checkoutLockTTL = 5 * time.Second

	// checkoutSessionTTL bounds how long an unpaid hosted checkout is
	// tracked per customer.
	checkoutSessionTTL = time.Hour
)

// CheckoutServiceImpl implements ports.CheckoutService.
type CheckoutServiceImpl struct {
	orders     ports.OrderRepository
	sessions   ports.CheckoutSessionStore
	provider   ports.CoinSubClient
	merchantID string
	log        zerolog.Logger
}

// NewCheckoutService creates a new CheckoutServiceImpl.
func NewCheckoutService(
	orders ports.OrderRepository,
	sessions ports.CheckoutSessionStore,
	provider ports.CoinSubClient,
	merchantID string,
	log zerolog.Logger,
) *CheckoutServiceImpl {
	return &CheckoutServiceImpl{
		orders:     orders,
		sessions:   sessions,
		provider:   provider,
		merchantID: merchantID,
		log:        log,
	}
}

// CreateSession validates the cart, creates a pending order and a hosted
// purchase session, and returns the provider checkout URL.
func (s *CheckoutServiceImpl) CreateSession(ctx context.Context, req ports.CheckoutRequest) (*ports.CheckoutResult, error) {
	if err := validateCart(req); err != nil {
		return nil, err
	}

	customerKey := req.Billing.Email
	locked, err := s.sessions.AcquireLock(ctx, customerKey, checkoutLockTTL)
	if err != nil {
		s.log.Warn().Err(err).Msg("checkout lock unavailable, continuing without it")
	} else if !locked {
		return nil, apperror.ErrCheckoutInProgress()
	}

	order := buildOrder(req)
	if err := s.orders.Create(ctx, order); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create order: %w", err))
	}

	sessionReq := ports.PurchaseSessionRequest{
		OrderID:    order.ID,
		Name:       sessionName(order),
		Amount:     order.Total,
		Currency:   order.Currency,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	}
	if req.Plan != nil {
		sessionReq.Recurring = true
		sessionReq.Frequency = req.Plan.Frequency
		sessionReq.Interval = req.Plan.Interval
		sessionReq.Duration = req.Plan.Duration
	}

	session, err := s.provider.StartPurchaseSession(ctx, sessionReq)
	if err != nil {
		if noteErr := s.orders.AddNote(ctx, order.ID, "Failed to create CoinSub purchase session."); noteErr != nil {
			s.log.Warn().Err(noteErr).Int64("order_id", order.ID).Msg("failed to note order")
		}
		return nil, err
	}

	order.SetMeta(domain.MetaPurchaseSessionID, session.SessionID)
	order.SetMeta(domain.MetaOriginID, session.SessionID)
	order.SetMeta(domain.MetaCheckoutURL, session.CheckoutURL)
	merchantID := session.MerchantID
	if merchantID == "" {
		merchantID = s.merchantID
	}
	if merchantID != "" {
		order.SetMeta(domain.MetaMerchantID, merchantID)
	}
	if req.Plan != nil {
		order.SetMeta(domain.MetaIsSubscription, "yes")
		order.SetMeta(domain.MetaFrequency, strconv.Itoa(req.Plan.Frequency))
		order.SetMeta(domain.MetaInterval, req.Plan.Interval)
		order.SetMeta(domain.MetaDuration, strconv.Itoa(req.Plan.Duration))
	}
	if err := s.orders.Update(ctx, order); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("persist session meta: %w", err))
	}

	if err := s.sessions.Put(ctx, customerKey, &domain.CheckoutSession{
		OrderID:           order.ID,
		PurchaseSessionID: session.SessionID,
		CheckoutURL:       session.CheckoutURL,
		CreatedAt:         time.Now().UTC(),
	}, checkoutSessionTTL); err != nil {
		s.log.Warn().Err(err).Int64("order_id", order.ID).Msg("failed to store checkout session")
	}

	s.log.Info().
		Int64("order_id", order.ID).
		Str("session_id", session.SessionID).
		Msg("purchase session created")

	return &ports.CheckoutResult{
		OrderID:     order.ID,
		SessionID:   session.SessionID,
		CheckoutURL: session.CheckoutURL,
	}, nil
}

// PaymentStatus reports the polled payment state of an order and consumes
// the one-shot redirect flag the payment webhook sets.
func (s *CheckoutServiceImpl) PaymentStatus(ctx context.Context, orderID int64) (*ports.PaymentStatus, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("load order: %w", err))
	}
	if order == nil {
		return nil, apperror.ErrNotFound("Order")
	}

	redirect := order.MetaValue(domain.MetaRedirectToReceived) == "yes"
	if redirect {
		order.DeleteMeta(domain.MetaRedirectToReceived)
		if err := s.orders.Update(ctx, order); err != nil {
			return nil, apperror.InternalError(fmt.Errorf("consume redirect flag: %w", err))
		}
	}

	return &ports.PaymentStatus{
		OrderID:  order.ID,
		Status:   order.Status,
		Paid:     order.IsPaid(),
		Redirect: redirect,
	}, nil
}

// validateCart enforces the subscription cart rules: one subscription per
// checkout, quantity one, never mixed with other products.
func validateCart(req ports.CheckoutRequest) error {
	if len(req.Items) == 0 {
		return apperror.Validation("checkout requires at least one item")
	}
	if req.Billing.Email == "" {
		return apperror.Validation("billing email is required")
	}

	subscriptions := 0
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return apperror.Validation("item quantity must be positive")
		}
		if item.IsSubscription {
			subscriptions++
			if item.Quantity > 1 {
				return apperror.ErrSubscriptionQuantity()
			}
		}
	}
	if subscriptions > 0 && len(req.Items) > 1 {
		return apperror.ErrMixedSubscriptionCart()
	}
	if subscriptions > 0 && req.Plan == nil {
		return apperror.Validation("subscription items require a plan")
	}
	return nil
}

func buildOrder(req ports.CheckoutRequest) *domain.Order {
	order := &domain.Order{
		Status:             domain.OrderStatusPending,
		Currency:           req.Currency,
		PaymentMethod:      domain.PaymentMethodID,
		PaymentMethodTitle: domain.PaymentMethodTitle,
		Billing:            req.Billing,
		Shipping:           req.Shipping,
	}
	for _, item := range req.Items {
		lineTotal := item.Price * float64(item.Quantity)
		order.Items = append(order.Items, domain.LineItem{
			Name:             item.Name,
			ProductID:        item.ProductID,
			Quantity:         item.Quantity,
			Subtotal:         lineTotal,
			Total:            lineTotal,
			RequiresShipping: item.RequiresShipping,
			IsSubscription:   item.IsSubscription,
		})
	}
	order.CalculateTotal()
	return order
}

func sessionName(order *domain.Order) string {
	if len(order.Items) == 1 {
		return order.Items[0].Name
	}
	return fmt.Sprintf("Order #%d", order.ID)
}
