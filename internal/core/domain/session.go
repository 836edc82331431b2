package domain

import "time"

// CheckoutSession is the short-lived record of a customer's in-flight hosted
// checkout. It exists between session creation and payment settlement and is
// cleared best-effort when the payment webhook lands.
type CheckoutSession struct {
	OrderID           int64     `json:"order_id"`
	PurchaseSessionID string    `json:"purchase_session_id"`
	CheckoutURL       string    `json:"checkout_url"`
	CreatedAt         time.Time `json:"created_at"`
}
