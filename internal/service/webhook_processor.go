package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"coinsub-commerce-bridge/internal/core/domain"
	"coinsub-commerce-bridge/internal/core/ports"
	"coinsub-commerce-bridge/pkg/apperror"

	"github.com/rs/zerolog"
)

// Transfer events are retained in the dedupe store for 7 days, matching the
// provider's redelivery horizon.
const dedupeTTL = 7 * 24 * time.Hour

const (
	dedupeEventPrefix    = "event:"
	dedupeTransferPrefix = "transfer:"
)

// WebhookProcessorImpl implements ports.WebhookProcessor. Each delivery is
// handled synchronously within its request: authenticate (done upstream),
// dedupe, resolve the order, guard, dispatch by type.
type WebhookProcessorImpl struct {
	orders    ports.OrderRepository
	customers ports.CustomerRepository
	dedupe    ports.EventDedupeStore
	sessions  ports.CheckoutSessionStore
	recorder  ports.EventRecorder
	log       zerolog.Logger
}

// NewWebhookProcessor creates a new WebhookProcessorImpl.
func NewWebhookProcessor(
	orders ports.OrderRepository,
	customers ports.CustomerRepository,
	dedupe ports.EventDedupeStore,
	sessions ports.CheckoutSessionStore,
	recorder ports.EventRecorder,
	log zerolog.Logger,
) *WebhookProcessorImpl {
	return &WebhookProcessorImpl{
		orders:    orders,
		customers: customers,
		dedupe:    dedupe,
		sessions:  sessions,
		recorder:  recorder,
		log:       log,
	}
}

// Process resolves and applies one webhook delivery. Dropped events
// (duplicate, unresolved, stale, mismatched) return their outcome with a nil
// error: the endpoint acknowledges them as success so the provider does not
// retry an event that will never resolve differently.
func (s *WebhookProcessorImpl) Process(ctx context.Context, event *domain.Event, eventID string) (domain.EventOutcome, error) {
	if event.Type == domain.EventTypeUnknown {
		s.log.Warn().Str("origin_id", event.OriginID).Msg("webhook event of unknown type dropped")
		s.recorder.Record(event, nil, domain.EventOutcomeIgnored, "unknown event type")
		return domain.EventOutcomeIgnored, nil
	}

	if !event.HasCorrelation() {
		s.log.Warn().Str("type", string(event.Type)).Msg("webhook event carries no correlation handle")
		s.recorder.Record(event, nil, domain.EventOutcomeIgnored, "no correlation handle")
		return domain.EventOutcomeIgnored, nil
	}

	// Transfer-class events are deduped before the order lookup: the same
	// delivery must never mutate twice inside the retention window.
	dedupeKeys := s.dedupeKeys(event, eventID)
	if event.Type.IsTransferClass() {
		for _, key := range dedupeKeys {
			seen, err := s.dedupe.Seen(ctx, key)
			if err != nil {
				s.log.Warn().Err(err).Str("key", key).Msg("dedupe check failed, continuing")
				continue
			}
			if seen {
				s.recorder.Record(event, nil, domain.EventOutcomeDuplicate, "dedupe key already recorded")
				return domain.EventOutcomeDuplicate, nil
			}
		}
	}

	order, err := s.resolveOrder(ctx, event)
	if err != nil {
		return domain.EventOutcomeError, apperror.InternalError(fmt.Errorf("resolve order: %w", err))
	}
	if order == nil {
		s.log.Warn().
			Str("type", string(event.Type)).
			Str("origin_id", event.OriginID).
			Str("transfer_id", event.TransferID).
			Msg("webhook event matched no order")
		s.recorder.Record(event, nil, domain.EventOutcomeUnresolved, "no order matched any lookup strategy")
		return domain.EventOutcomeUnresolved, nil
	}

	// Ownership guard: never mutate another merchant's order.
	if stored := order.MetaValue(domain.MetaMerchantID); stored != "" && event.MerchantID != "" &&
		!domain.SameMerchant(stored, event.MerchantID) {
		s.log.Warn().
			Int64("order_id", order.ID).
			Str("stored", stored).
			Str("delivered", event.MerchantID).
			Msg("merchant id mismatch, event dropped")
		s.recorder.Record(event, &order.ID, domain.EventOutcomeMerchantMismatch, "merchant id mismatch")
		return domain.EventOutcomeMerchantMismatch, nil
	}

	s.attachCustomer(ctx, order)

	outcome, err := s.dispatch(ctx, order, event)
	if err != nil {
		s.recorder.Record(event, &order.ID, domain.EventOutcomeError, err.Error())
		return domain.EventOutcomeError, err
	}

	if event.Type.IsTransferClass() {
		for _, key := range dedupeKeys {
			if err := s.dedupe.Mark(ctx, key, dedupeTTL); err != nil {
				s.log.Warn().Err(err).Str("key", key).Msg("failed to record dedupe key")
			}
		}
	}

	s.recorder.Record(event, &order.ID, outcome, "")
	return outcome, nil
}

func (s *WebhookProcessorImpl) dispatch(ctx context.Context, order *domain.Order, event *domain.Event) (domain.EventOutcome, error) {
	switch event.Type {
	case domain.EventTypePayment:
		return s.handlePayment(ctx, order, event)
	case domain.EventTypeFailedPayment:
		return s.handleFailedPayment(ctx, order, event)
	case domain.EventTypeCancellation:
		return s.handleCancellation(ctx, order, event)
	case domain.EventTypeTransfer:
		return s.handleTransfer(ctx, order, event)
	case domain.EventTypeFailedTransfer:
		return s.handleFailedTransfer(ctx, order, event)
	}
	return domain.EventOutcomeIgnored, nil
}

// dedupeKeys derives the idempotency keys for a delivery: the client event id
// when the provider sent one, and the transfer id as a second net.
func (s *WebhookProcessorImpl) dedupeKeys(event *domain.Event, eventID string) []string {
	var keys []string
	if eventID != "" {
		keys = append(keys, dedupeEventPrefix+hashKey(eventID))
	}
	if event.TransferID != "" {
		keys = append(keys, dedupeTransferPrefix+hashKey(event.TransferID))
	}
	return keys
}

func hashKey(v string) string {
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}

// resolveOrder walks the lookup fallback chain in priority order, stopping at
// the first hit. The metadata is not guaranteed to be written consistently,
// so the session id is tried in every form the provider has been seen to use.
func (s *WebhookProcessorImpl) resolveOrder(ctx context.Context, event *domain.Event) (*domain.Order, error) {
	if event.OriginID != "" {
		for _, candidate := range sessionIDVariations(event.OriginID) {
			orders, err := s.orders.FindByMeta(ctx, ports.MetaQuery{
				Pairs: []ports.MetaPair{{Key: domain.MetaPurchaseSessionID, Value: candidate}},
				Sort:  ports.MetaSortNewest,
				Limit: 1,
			})
			if err != nil {
				return nil, err
			}
			if len(orders) > 0 {
				return orders[0], nil
			}
		}

		orders, err := s.orders.FindByMeta(ctx, ports.MetaQuery{
			Pairs: []ports.MetaPair{{Key: domain.MetaOriginID, Value: event.OriginID}},
			Sort:  ports.MetaSortNewest,
			Limit: 1,
		})
		if err != nil {
			return nil, err
		}
		if len(orders) > 0 {
			return orders[0], nil
		}
	}

	if event.AgreementID != "" {
		// Oldest wins: the original subscription order, not a renewal.
		orders, err := s.orders.FindByMeta(ctx, ports.MetaQuery{
			Pairs: []ports.MetaPair{{Key: domain.MetaAgreementID, Value: event.AgreementID}},
			Sort:  ports.MetaSortOldest,
			Limit: 1,
		})
		if err != nil {
			return nil, err
		}
		if len(orders) > 0 {
			return orders[0], nil
		}
	}

	if event.Type.IsTransferClass() {
		if event.TransferID != "" {
			orders, err := s.orders.FindByMeta(ctx, ports.MetaQuery{
				Pairs: []ports.MetaPair{
					{Key: domain.MetaPendingTransferID, Value: event.TransferID},
					{Key: domain.MetaRefundID, Value: event.TransferID},
				},
				Sort:  ports.MetaSortNewest,
				Limit: 1,
			})
			if err != nil {
				return nil, err
			}
			if len(orders) > 0 {
				return orders[0], nil
			}
		}
		if event.PaymentID != "" {
			orders, err := s.orders.FindByMeta(ctx, ports.MetaQuery{
				Pairs: []ports.MetaPair{{Key: domain.MetaPaymentID, Value: event.PaymentID}},
				Sort:  ports.MetaSortNewest,
				Limit: 1,
			})
			if err != nil {
				return nil, err
			}
			if len(orders) > 0 {
				return orders[0], nil
			}
		}
	}

	if id := event.Metadata.EmbeddedOrderID(); id != 0 {
		return s.orders.GetByID(ctx, id)
	}

	return nil, nil
}

// sessionIDVariations returns the candidate purchase-session-id forms for an
// origin id, deduplicated, in lookup order.
func sessionIDVariations(originID string) []string {
	candidates := []string{
		originID,
		"sess_" + originID,
		"wc_" + originID,
		strings.TrimPrefix(originID, "sess_"),
	}
	seen := make(map[string]bool, len(candidates))
	out := candidates[:0]
	for _, c := range candidates {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// attachCustomer links the order to a customer account by billing email.
// Best-effort: a missing account is normal for guest checkouts.
func (s *WebhookProcessorImpl) attachCustomer(ctx context.Context, order *domain.Order) {
	if order.CustomerID != nil || order.Billing.Email == "" {
		return
	}
	customer, err := s.customers.GetByEmail(ctx, order.Billing.Email)
	if err != nil {
		s.log.Warn().Err(err).Int64("order_id", order.ID).Msg("customer lookup failed")
		return
	}
	if customer != nil {
		order.CustomerID = &customer.ID
	}
}

// handlePayment settles the original charge, or creates a renewal order when
// the event is a recurring charge against an already-settled subscription.
func (s *WebhookProcessorImpl) handlePayment(ctx context.Context, order *domain.Order, event *domain.Event) (domain.EventOutcome, error) {
	if order.IsSubscription() && event.AgreementID != "" &&
		event.AgreementID == order.MetaValue(domain.MetaAgreementID) && order.IsPaid() {
		renewal, err := s.createRenewalOrder(ctx, order, event)
		if err != nil {
			// The parent stays untouched; the delivery is still acknowledged.
			s.log.Error().Err(err).Int64("parent_order_id", order.ID).Msg("renewal order creation failed")
			return domain.EventOutcomeError, nil
		}
		order = renewal
	}

	target := domain.OrderStatusProcessing
	if !order.NeedsShipping() {
		target = domain.OrderStatusCompleted
	}

	order, err := s.setStatusVerified(ctx, order, target, "Payment received.")
	if err != nil {
		return domain.EventOutcomeError, err
	}

	if order.PaymentMethod != domain.PaymentMethodID {
		order.PaymentMethod = domain.PaymentMethodID
		order.PaymentMethodTitle = domain.PaymentMethodTitle
	}

	s.applyPaymentMeta(order, event)
	s.backfillBilling(order, event)
	order.SetMeta(domain.MetaRedirectToReceived, "yes")

	if err := s.orders.Update(ctx, order); err != nil {
		return domain.EventOutcomeError, apperror.InternalError(fmt.Errorf("persist payment meta: %w", err))
	}

	// Webhooks arrive out-of-band from any storefront session, so a missing
	// checkout session is the normal case.
	if order.Billing.Email != "" {
		if err := s.sessions.Clear(ctx, order.Billing.Email); err != nil {
			s.log.Debug().Err(err).Msg("checkout session clear failed")
		}
	}

	s.log.Info().
		Int64("order_id", order.ID).
		Str("status", string(order.Status)).
		Str("payment_id", event.PaymentID).
		Msg("payment settled")
	return domain.EventOutcomeProcessed, nil
}

// createRenewalOrder clones the parent for one recurring charge and links the
// two orders through metadata.
func (s *WebhookProcessorImpl) createRenewalOrder(ctx context.Context, parent *domain.Order, event *domain.Event) (*domain.Order, error) {
	renewal := parent.CloneForRenewal()
	renewal.SetMeta(domain.MetaParentOrder, strconv.FormatInt(parent.ID, 10))

	if err := s.orders.Create(ctx, renewal); err != nil {
		return nil, fmt.Errorf("create renewal order: %w", err)
	}

	ids := parent.MetaValue(domain.MetaRenewalOrders)
	if ids != "" {
		ids += ","
	}
	ids += strconv.FormatInt(renewal.ID, 10)
	parent.SetMeta(domain.MetaRenewalOrders, ids)
	if err := s.orders.Update(ctx, parent); err != nil {
		return nil, fmt.Errorf("link renewal to parent: %w", err)
	}

	note := fmt.Sprintf("Subscription renewal payment received. Renewal order #%d created.", renewal.ID)
	if err := s.orders.AddNote(ctx, parent.ID, note); err != nil {
		s.log.Warn().Err(err).Int64("order_id", parent.ID).Msg("failed to note parent order")
	}
	note = fmt.Sprintf("Renewal order for subscription order #%d.", parent.ID)
	if err := s.orders.AddNote(ctx, renewal.ID, note); err != nil {
		s.log.Warn().Err(err).Int64("order_id", renewal.ID).Msg("failed to note renewal order")
	}

	s.log.Info().
		Int64("parent_order_id", parent.ID).
		Int64("renewal_order_id", renewal.ID).
		Str("agreement_id", event.AgreementID).
		Msg("renewal order created")
	return renewal, nil
}

// applyPaymentMeta persists transaction identifiers, preferring the nested
// transaction_details block over top-level fields.
func (s *WebhookProcessorImpl) applyPaymentMeta(order *domain.Order, event *domain.Event) {
	if hash := event.TxHash(); hash != "" {
		order.SetMeta(domain.MetaTransactionHash, hash)
	}
	if network := event.TxNetwork(); network != "" {
		order.SetMeta(domain.MetaNetworkName, network)
	}
	if td := event.TransactionDetails; td != nil {
		if td.TransactionID != "" {
			order.SetMeta(domain.MetaTransactionID, td.TransactionID)
		}
		if td.ChainID != "" {
			// Always stored as a string, whatever the wire form was.
			order.SetMeta(domain.MetaChainID, td.ChainID.String())
		}
		if td.ExplorerURL != "" {
			order.SetMeta(domain.MetaExplorerURL, td.ExplorerURL)
		}
		if td.WalletAddress != "" {
			order.SetMeta(domain.MetaWalletAddress, td.WalletAddress)
		}
		if td.Currency != "" {
			order.SetMeta(domain.MetaTokenSymbol, td.Currency)
		}
	}
	if event.PaymentID != "" {
		order.SetMeta(domain.MetaPaymentID, event.PaymentID)
	}
	if event.AgreementID != "" {
		order.SetMeta(domain.MetaAgreementID, event.AgreementID)
	}
	if event.Agreement != nil && event.Agreement.Message != nil {
		msg := event.Agreement.Message
		order.SetMeta(domain.MetaAgreementMessage, string(msg.Raw))
		if msg.SigningAddress != "" {
			order.SetMeta(domain.MetaSigningAddress, msg.SigningAddress)
		}
		if msg.PermitID != "" {
			order.SetMeta(domain.MetaPermitID, msg.PermitID)
		}
	}
	if event.User != nil && event.User.SubscriberID != "" {
		order.SetMeta(domain.MetaSubscriberID, event.User.SubscriberID.String())
	}
}

// backfillBilling fills empty billing identity fields from the event's user
// block. Existing values are never overwritten.
func (s *WebhookProcessorImpl) backfillBilling(order *domain.Order, event *domain.Event) {
	if event.User == nil {
		return
	}
	if order.Billing.Email == "" && event.User.Email != "" {
		order.Billing.Email = event.User.Email
	}
	if order.Billing.FirstName == "" && event.User.FirstName != "" {
		order.Billing.FirstName = event.User.FirstName
	}
	if order.Billing.LastName == "" && event.User.LastName != "" {
		order.Billing.LastName = event.User.LastName
	}
}

// handleFailedPayment fails the order unless the notification is stale: a
// settled order, or a failure about a different payment than the one stored.
func (s *WebhookProcessorImpl) handleFailedPayment(ctx context.Context, order *domain.Order, event *domain.Event) (domain.EventOutcome, error) {
	if order.IsPaid() {
		note := fmt.Sprintf("Ignoring payment failure notification (%s): order already paid.", event.FailureText())
		if err := s.orders.AddNote(ctx, order.ID, note); err != nil {
			return domain.EventOutcomeError, apperror.InternalError(err)
		}
		return domain.EventOutcomeStale, nil
	}

	stored := order.MetaValue(domain.MetaPaymentID)
	if stored != "" && event.PaymentID != "" && stored != event.PaymentID {
		note := fmt.Sprintf("Ignoring payment failure notification for unrelated payment %s.", event.PaymentID)
		if err := s.orders.AddNote(ctx, order.ID, note); err != nil {
			return domain.EventOutcomeError, apperror.InternalError(err)
		}
		return domain.EventOutcomeStale, nil
	}

	reason := event.FailureText()
	order, err := s.setStatusVerified(ctx, order, domain.OrderStatusFailed, "Payment failed: "+reason)
	if err != nil {
		return domain.EventOutcomeError, err
	}
	order.SetMeta(domain.MetaFailureReason, reason)
	if err := s.orders.Update(ctx, order); err != nil {
		return domain.EventOutcomeError, apperror.InternalError(fmt.Errorf("persist failure meta: %w", err))
	}

	s.log.Info().Int64("order_id", order.ID).Str("reason", reason).Msg("payment failed")
	return domain.EventOutcomeProcessed, nil
}

// handleCancellation is unconditional: cancellation is authoritative.
func (s *WebhookProcessorImpl) handleCancellation(ctx context.Context, order *domain.Order, event *domain.Event) (domain.EventOutcome, error) {
	order, err := s.setStatusVerified(ctx, order, domain.OrderStatusCancelled, "Subscription cancelled via CoinSub.")
	if err != nil {
		return domain.EventOutcomeError, err
	}
	if order.IsSubscription() {
		order.SetMeta(domain.MetaSubscriptionStatus, "cancelled")
		order.SetMeta(domain.MetaCancelledAt, time.Now().UTC().Format(time.RFC3339))
		if err := s.orders.Update(ctx, order); err != nil {
			return domain.EventOutcomeError, apperror.InternalError(fmt.Errorf("persist cancellation meta: %w", err))
		}
	}

	s.log.Info().Int64("order_id", order.ID).Msg("order cancelled")
	return domain.EventOutcomeProcessed, nil
}

// handleTransfer completes either a merchant-initiated refund or a regular
// outbound transfer, depending on what the order's metadata says is pending.
func (s *WebhookProcessorImpl) handleTransfer(ctx context.Context, order *domain.Order, event *domain.Event) (domain.EventOutcome, error) {
	hash := event.TxHash()

	if order.RefundInFlight() {
		order.SetMeta(domain.MetaRefundStatus, "completed")
		order.DeleteMeta(domain.MetaRefundPending)
		if event.TransferID != "" {
			order.SetMeta(domain.MetaRefundTransferID, event.TransferID)
		}
		if hash != "" {
			order.SetMeta(domain.MetaRefundTxHash, hash)
		}
		s.applyTransferMeta(order, event)
		if err := s.orders.Update(ctx, order); err != nil {
			return domain.EventOutcomeError, apperror.InternalError(fmt.Errorf("persist refund meta: %w", err))
		}

		note := fmt.Sprintf("Refund transfer completed. Transfer ID: %s. Hash: %s.", event.TransferID, hash)
		if order.Status != domain.OrderStatusRefunded {
			if _, err := s.setStatusVerified(ctx, order, domain.OrderStatusRefunded, note); err != nil {
				return domain.EventOutcomeError, err
			}
		} else if err := s.orders.AddNote(ctx, order.ID, note); err != nil {
			return domain.EventOutcomeError, apperror.InternalError(err)
		}

		s.log.Info().Int64("order_id", order.ID).Str("transfer_id", event.TransferID).Msg("refund completed")
		return domain.EventOutcomeProcessed, nil
	}

	s.applyTransferMeta(order, event)
	if err := s.orders.Update(ctx, order); err != nil {
		return domain.EventOutcomeError, apperror.InternalError(fmt.Errorf("persist transfer meta: %w", err))
	}

	note := fmt.Sprintf("Transfer completed. Transfer ID: %s. Hash: %s.", event.TransferID, hash)
	if _, err := s.setStatusVerified(ctx, order, domain.OrderStatusProcessing, note); err != nil {
		return domain.EventOutcomeError, err
	}

	s.log.Info().Int64("order_id", order.ID).Str("transfer_id", event.TransferID).Msg("transfer completed")
	return domain.EventOutcomeProcessed, nil
}

// applyTransferMeta persists the transfer identifiers common to both
// branches of transfer handling.
func (s *WebhookProcessorImpl) applyTransferMeta(order *domain.Order, event *domain.Event) {
	if event.TransferID != "" {
		order.SetMeta(domain.MetaTransferID, event.TransferID)
	}
	if hash := event.TxHash(); hash != "" {
		order.SetMeta(domain.MetaTransferHash, hash)
	}
	if event.WalletID != "" {
		order.SetMeta(domain.MetaWalletID, event.WalletID)
	}
	if network := event.TxNetwork(); network != "" {
		order.SetMeta(domain.MetaNetwork, network)
	}
}

// handleFailedTransfer never changes order status: a failed outbound transfer
// does not imply the original payment failed.
func (s *WebhookProcessorImpl) handleFailedTransfer(ctx context.Context, order *domain.Order, event *domain.Event) (domain.EventOutcome, error) {
	note := "Transfer failed: " + event.FailureText()
	if err := s.orders.AddNote(ctx, order.ID, note); err != nil {
		return domain.EventOutcomeError, apperror.InternalError(err)
	}

	s.log.Info().Int64("order_id", order.ID).Str("transfer_id", event.TransferID).Msg("transfer failed, noted")
	return domain.EventOutcomeProcessed, nil
}

// setStatusVerified applies a status transition through the regular path,
// re-reads, and falls back to one direct write when the transition did not
// stick. A second mismatch is logged only; there is no retry loop.
func (s *WebhookProcessorImpl) setStatusVerified(ctx context.Context, order *domain.Order, target domain.OrderStatus, note string) (*domain.Order, error) {
	if err := s.orders.SetStatus(ctx, order.ID, target, note); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("set status: %w", err))
	}

	fresh, err := s.orders.GetByID(ctx, order.ID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("reload order: %w", err))
	}
	if fresh == nil {
		return nil, apperror.InternalError(fmt.Errorf("order %d vanished during status update", order.ID))
	}
	if fresh.Status == target {
		return fresh, nil
	}

	s.log.Warn().
		Int64("order_id", order.ID).
		Str("want", string(target)).
		Str("got", string(fresh.Status)).
		Msg("status transition did not persist, forcing direct write")

	if err := s.orders.ForceStatus(ctx, order.ID, target); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("force status: %w", err))
	}
	fresh, err = s.orders.GetByID(ctx, order.ID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("reload order after force: %w", err))
	}
	if fresh == nil {
		return nil, apperror.InternalError(fmt.Errorf("order %d vanished during status update", order.ID))
	}
	if fresh.Status != target {
		s.log.Error().
			Int64("order_id", order.ID).
			Str("want", string(target)).
			Str("got", string(fresh.Status)).
			Msg("status still inconsistent after direct write")
	}
	return fresh, nil
}
