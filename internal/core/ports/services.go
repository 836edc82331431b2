package ports

import (
	"context"
	"time"

	"coinsub-commerce-bridge/internal/core/domain"
)

// --- Infrastructure ports ---

// SignatureService handles HMAC-SHA256 signing and verification of raw
// webhook bodies.
type SignatureService interface {
	Sign(secretKey string, payload []byte) string
	Verify(secretKey string, payload []byte, signature string) bool
}

// HashService handles credential hashing (Argon2id).
type HashService interface {
	Hash(password string) (string, error)
	Verify(password string, hash string) (bool, error)
}

// TokenService handles JWT token operations for the ops surface.
type TokenService interface {
	Generate(subject string) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	Subject string
}

// EventDedupeStore tracks processed transfer-class event keys with expiry.
// Keys are checked before handling and marked after, so a narrow window for
// near-simultaneous duplicates remains an accepted risk.
type EventDedupeStore interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string, ttl time.Duration) error
}

// CheckoutSessionStore keeps the per-customer in-flight checkout state and
// the short double-submit lock guarding session creation.
type CheckoutSessionStore interface {
	Get(ctx context.Context, customerKey string) (*domain.CheckoutSession, error)
	Put(ctx context.Context, customerKey string, session *domain.CheckoutSession, ttl time.Duration) error
	Clear(ctx context.Context, customerKey string) error
	// AcquireLock atomically takes the double-submit lock. Returns false when
	// another checkout holds it.
	AcquireLock(ctx context.Context, customerKey string, ttl time.Duration) (bool, error)
}

// --- Provider client port ---

// PurchaseSessionRequest is the input for creating a hosted checkout session.
type PurchaseSessionRequest struct {
	OrderID     int64
	Name        string
	Amount      float64
	Currency    string
	SuccessURL  string
	CancelURL   string
	Recurring   bool
	Frequency   int
	Interval    string
	Duration    int
}

// PurchaseSession is the provider's created session.
type PurchaseSession struct {
	SessionID   string // normalized, "sess_" prefix stripped
	CheckoutURL string
	MerchantID  string
}

// TransferRequest asks the provider to move funds out (refunds).
type TransferRequest struct {
	ToAddress string
	Amount    float64
	ChainID   string
	Token     string
}

// TransferResult identifies the initiated transfer.
type TransferResult struct {
	TransferID string
}

// AgreementInfo is the provider's view of a recurring agreement.
type AgreementInfo struct {
	ID          string
	Status      string
	NextPayment *time.Time
}

// CoinSubClient is the outbound provider API.
type CoinSubClient interface {
	StartPurchaseSession(ctx context.Context, req PurchaseSessionRequest) (*PurchaseSession, error)
	GetPurchaseSessionStatus(ctx context.Context, sessionID string) (string, error)
	CancelAgreement(ctx context.Context, agreementID string) error
	RetrieveAgreement(ctx context.Context, agreementID string) (*AgreementInfo, error)
	RequestTransfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
}

// --- Service ports (business logic) ---

// WebhookProcessor resolves and applies one webhook delivery.
// The returned outcome is what the event log records; an error is returned
// only for infrastructure failures that should surface as a 5xx.
type WebhookProcessor interface {
	Process(ctx context.Context, event *domain.Event, eventID string) (domain.EventOutcome, error)
}

// EventRecorder persists webhook event log records, fire-and-forget.
type EventRecorder interface {
	Record(event *domain.Event, orderID *int64, outcome domain.EventOutcome, detail string)
}

// CheckoutItem is one requested line on a checkout.
type CheckoutItem struct {
	Name             string
	ProductID        int64
	Quantity         int
	Price            float64
	RequiresShipping bool
	IsSubscription   bool
}

// SubscriptionPlan describes the recurring schedule of a subscription item.
type SubscriptionPlan struct {
	Frequency int    // every N intervals
	Interval  string // day, week, month, year
	Duration  int    // number of charges, 0 = until cancelled
}

// CheckoutRequest is the validated input for creating a purchase session.
type CheckoutRequest struct {
	Currency   string
	Billing    domain.Address
	Shipping   domain.Address
	Items      []CheckoutItem
	Plan       *SubscriptionPlan
	SuccessURL string
	CancelURL  string
}

// CheckoutResult is returned to the storefront for redirect.
type CheckoutResult struct {
	OrderID     int64
	SessionID   string
	CheckoutURL string
}

// PaymentStatus is the polled payment state of an order.
type PaymentStatus struct {
	OrderID  int64
	Status   domain.OrderStatus
	Paid     bool
	Redirect bool // one-shot: true exactly once after payment settles
}

// CheckoutService creates hosted purchase sessions and reports their state.
type CheckoutService interface {
	CreateSession(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error)
	PaymentStatus(ctx context.Context, orderID int64) (*PaymentStatus, error)
}

// SubscriptionService manages recurring agreements on existing orders.
type SubscriptionService interface {
	Cancel(ctx context.Context, orderID int64) error
	NextPayment(ctx context.Context, orderID int64) (*time.Time, error)
}

// RefundRequest asks for a merchant-initiated refund of a paid order.
type RefundRequest struct {
	OrderID   int64
	ToAddress string
	Amount    *float64 // nil = full refund
}

// RefundResult identifies the refund transfer now awaiting confirmation.
type RefundResult struct {
	OrderID    int64
	TransferID string
}

// OpsService is the JWT-guarded operator surface.
type OpsService interface {
	ListOrders(ctx context.Context, params OrderListParams) ([]*domain.Order, int64, error)
	GetOrder(ctx context.Context, id int64) (*domain.Order, error)
	OrderStats(ctx context.Context) (*OrderStats, error)
	ListWebhookEvents(ctx context.Context, params EventLogListParams) ([]domain.WebhookEventRecord, int64, error)
	InitiateRefund(ctx context.Context, req RefundRequest) (*RefundResult, error)
}

// AuthService authenticates the configured operator credential.
type AuthService interface {
	Login(ctx context.Context, username, password string) (string, time.Time, error) // token, expiry, error
}
