package domain

import (
	"strings"
	"time"
)

// OrderStatus is the WooCommerce-compatible order status vocabulary.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusOnHold     OrderStatus = "on-hold"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusFailed     OrderStatus = "failed"
	OrderStatusRefunded   OrderStatus = "refunded"
)

// PaymentMethodID is the only payment method this service acts on.
const PaymentMethodID = "coinsub"

// PaymentMethodTitle is the customer-facing name of the payment method.
const PaymentMethodTitle = "CoinSub - Pay with Crypto"

// Order metadata keys. Provider identifiers live exclusively in the
// order's metadata bag under these keys.
const (
	MetaPurchaseSessionID = "_coinsub_purchase_session_id"
	MetaOriginID          = "_coinsub_origin_id"
	MetaMerchantID        = "_coinsub_merchant_id"
	MetaAgreementID       = "_coinsub_agreement_id"
	MetaPaymentID         = "_coinsub_payment_id"
	MetaTransactionHash   = "_coinsub_transaction_hash"
	MetaTransactionID     = "_coinsub_transaction_id"
	MetaChainID           = "_coinsub_chain_id"
	MetaNetworkName       = "_coinsub_network_name"
	MetaExplorerURL       = "_coinsub_explorer_url"
	MetaTokenSymbol       = "_coinsub_token_symbol"
	MetaWalletAddress     = "_customer_wallet_address"
	MetaSigningAddress    = "_coinsub_signing_address"
	MetaPermitID          = "_coinsub_permit_id"
	MetaAgreementMessage  = "_coinsub_agreement_message"
	MetaSubscriberID      = "_coinsub_subscriber_id"
	MetaFailureReason     = "_coinsub_failure_reason"

	MetaIsSubscription     = "_coinsub_is_subscription"
	MetaSubscriptionStatus = "_coinsub_subscription_status"
	MetaCancelledAt        = "_coinsub_cancelled_at"
	MetaFrequency          = "_coinsub_frequency"
	MetaInterval           = "_coinsub_interval"
	MetaDuration           = "_coinsub_duration"
	MetaParentOrder        = "_coinsub_parent_subscription_order"
	MetaIsRenewalOrder     = "_coinsub_is_renewal_order"
	MetaRenewalOrders      = "_coinsub_renewal_orders"

	MetaTransferID        = "_coinsub_transfer_id"
	MetaTransferHash      = "_coinsub_transfer_hash"
	MetaWalletID          = "_coinsub_wallet_id"
	MetaNetwork           = "_coinsub_network"
	MetaPendingTransferID = "_coinsub_pending_transfer_id"

	MetaRefundID         = "_coinsub_refund_id"
	MetaRefundPending    = "_coinsub_refund_pending"
	MetaRefundStatus     = "_coinsub_refund_status"
	MetaRefundTransferID = "_coinsub_refund_transfer_id"
	MetaRefundTxHash     = "_coinsub_refund_transaction_hash"

	MetaRedirectToReceived = "_coinsub_redirect_to_received"
	MetaCheckoutURL        = "_coinsub_checkout_url"
)

// Address holds a billing or shipping address block.
type Address struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Address1  string `json:"address_1"`
	Address2  string `json:"address_2,omitempty"`
	City      string `json:"city"`
	State     string `json:"state"`
	Postcode  string `json:"postcode"`
	Country   string `json:"country"`
}

// LineItem is one product line on an order.
type LineItem struct {
	ID               int64   `json:"id"`
	Name             string  `json:"name"`
	ProductID        int64   `json:"product_id"`
	VariationID      int64   `json:"variation_id,omitempty"`
	Quantity         int     `json:"quantity"`
	Subtotal         float64 `json:"subtotal"`
	Total            float64 `json:"total"`
	Tax              float64 `json:"tax"`
	TaxClass         string  `json:"tax_class,omitempty"`
	RequiresShipping bool    `json:"requires_shipping"`
	IsSubscription   bool    `json:"is_subscription"`
}

// ShippingLine is one shipping charge on an order.
type ShippingLine struct {
	ID          int64   `json:"id"`
	MethodID    string  `json:"method_id"`
	MethodTitle string  `json:"method_title"`
	Total       float64 `json:"total"`
	Tax         float64 `json:"tax"`
}

// FeeLine is one ad-hoc fee on an order.
type FeeLine struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	Total    float64 `json:"total"`
	TaxClass string  `json:"tax_class,omitempty"`
	Tax      float64 `json:"tax"`
}

// OrderNote is an append-only annotation on an order.
type OrderNote struct {
	ID        int64     `json:"id"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
}

// Order is the order aggregate owned by this service.
type Order struct {
	ID                 int64             `json:"id"`
	Status             OrderStatus       `json:"status"`
	Currency           string            `json:"currency"`
	Total              float64           `json:"total"`
	PaymentMethod      string            `json:"payment_method"`
	PaymentMethodTitle string            `json:"payment_method_title"`
	CustomerID         *int64            `json:"customer_id,omitempty"`
	Billing            Address           `json:"billing"`
	Shipping           Address           `json:"shipping"`
	Items              []LineItem        `json:"items"`
	ShippingLines      []ShippingLine    `json:"shipping_lines,omitempty"`
	Fees               []FeeLine         `json:"fees,omitempty"`
	Meta               map[string]string `json:"meta"`
	Notes              []OrderNote       `json:"notes,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// MetaValue returns the metadata value for key, or "" when absent.
func (o *Order) MetaValue(key string) string {
	if o.Meta == nil {
		return ""
	}
	return o.Meta[key]
}

// SetMeta writes a metadata value, allocating the bag if needed.
func (o *Order) SetMeta(key, value string) {
	if o.Meta == nil {
		o.Meta = make(map[string]string)
	}
	o.Meta[key] = value
}

// DeleteMeta removes a metadata key.
func (o *Order) DeleteMeta(key string) {
	delete(o.Meta, key)
}

// IsPaid reports whether the order has reached a paid state.
func (o *Order) IsPaid() bool {
	switch o.Status {
	case OrderStatusProcessing, OrderStatusCompleted, OrderStatusOnHold:
		return true
	}
	return false
}

// NeedsShipping reports whether any line item requires physical fulfillment.
func (o *Order) NeedsShipping() bool {
	for _, item := range o.Items {
		if item.RequiresShipping {
			return true
		}
	}
	return false
}

// IsSubscription reports whether the order carries a recurring agreement.
func (o *Order) IsSubscription() bool {
	return o.MetaValue(MetaIsSubscription) == "yes"
}

// IsRenewal reports whether the order is a renewal created for a recurring charge.
func (o *Order) IsRenewal() bool {
	return o.MetaValue(MetaIsRenewalOrder) == "yes"
}

// RefundInFlight reports whether a merchant-initiated refund is awaiting
// its transfer confirmation.
func (o *Order) RefundInFlight() bool {
	return o.MetaValue(MetaRefundID) != "" || o.MetaValue(MetaRefundPending) == "yes"
}

// CalculateTotal recomputes the order total from its lines and writes it back.
func (o *Order) CalculateTotal() float64 {
	var total float64
	for _, item := range o.Items {
		total += item.Total + item.Tax
	}
	for _, sl := range o.ShippingLines {
		total += sl.Total + sl.Tax
	}
	for _, fee := range o.Fees {
		total += fee.Total + fee.Tax
	}
	o.Total = total
	return total
}

// CloneForRenewal builds a new order representing one recurring charge under
// this order's agreement. Customer, billing, shipping, items, shipping lines
// and fees are copied; the clone starts pending with a fresh metadata bag
// linking back to the parent.
func (o *Order) CloneForRenewal() *Order {
	clone := &Order{
		Status:             OrderStatusPending,
		Currency:           o.Currency,
		PaymentMethod:      o.PaymentMethod,
		PaymentMethodTitle: o.PaymentMethodTitle,
		Billing:            o.Billing,
		Shipping:           o.Shipping,
		Meta:               make(map[string]string),
	}
	if o.CustomerID != nil {
		id := *o.CustomerID
		clone.CustomerID = &id
	}
	for _, item := range o.Items {
		item.ID = 0
		clone.Items = append(clone.Items, item)
	}
	for _, sl := range o.ShippingLines {
		sl.ID = 0
		clone.ShippingLines = append(clone.ShippingLines, sl)
	}
	for _, fee := range o.Fees {
		fee.ID = 0
		clone.Fees = append(clone.Fees, fee)
	}
	clone.CalculateTotal()
	clone.SetMeta(MetaIsRenewalOrder, "yes")
	if v := o.MetaValue(MetaAgreementID); v != "" {
		clone.SetMeta(MetaAgreementID, v)
	}
	if v := o.MetaValue(MetaMerchantID); v != "" {
		clone.SetMeta(MetaMerchantID, v)
	}
	return clone
}

// NormalizeMerchantID strips the provider's "mrch_" prefix so stored and
// delivered merchant ids compare equal regardless of form.
func NormalizeMerchantID(id string) string {
	return strings.TrimPrefix(strings.TrimSpace(id), "mrch_")
}

// SameMerchant compares two merchant ids after normalization. Empty values
// never match.
func SameMerchant(a, b string) bool {
	na, nb := NormalizeMerchantID(a), NormalizeMerchantID(b)
	return na != "" && na == nb
}
