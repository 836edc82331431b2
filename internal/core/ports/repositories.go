package ports

import (
	"context"

	"coinsub-commerce-bridge/internal/core/domain"
)

// MetaSort orders the result set of a metadata lookup.
type MetaSort string

const (
	MetaSortNewest MetaSort = "newest"
	MetaSortOldest MetaSort = "oldest"
)

// MetaPair is one metadata key/value predicate.
type MetaPair struct {
	Key   string
	Value string
}

// MetaQuery finds orders by metadata. Multiple pairs are OR'd. Only orders
// paid with this service's payment method are considered.
type MetaQuery struct {
	Pairs []MetaPair
	Sort  MetaSort
	Limit int
}

// OrderListParams holds filter + pagination for the ops order listing.
type OrderListParams struct {
	Status   *domain.OrderStatus
	Email    string
	Page     int
	PageSize int
}

// OrderStats aggregates order counts per status.
type OrderStats struct {
	Total      int64                      `json:"total"`
	ByStatus   map[domain.OrderStatus]int64 `json:"by_status"`
	TotalSales float64                    `json:"total_sales"` // paid orders only
}

// OrderRepository is the Order Store contract. The aggregate (lines, meta,
// notes) is persisted as a unit; transaction handling is internal to the
// implementation.
type OrderRepository interface {
	Create(ctx context.Context, order *domain.Order) error
	GetByID(ctx context.Context, id int64) (*domain.Order, error)
	// FindByMeta returns orders matching any of the query's metadata pairs.
	FindByMeta(ctx context.Context, q MetaQuery) ([]*domain.Order, error)
	// Update persists the order's mutable fields: status, payment method,
	// customer, billing, metadata.
	Update(ctx context.Context, order *domain.Order) error
	// SetStatus is the regular status-transition path, appending a note.
	SetStatus(ctx context.Context, id int64, status domain.OrderStatus, note string) error
	// ForceStatus writes the status column directly, bypassing the regular
	// transition path. Used as the fallback when SetStatus did not stick.
	ForceStatus(ctx context.Context, id int64, status domain.OrderStatus) error
	AddNote(ctx context.Context, id int64, note string) error
	List(ctx context.Context, params OrderListParams) ([]*domain.Order, int64, error)
	Stats(ctx context.Context) (*OrderStats, error)
}

// CustomerRepository defines persistence operations for customers.
type CustomerRepository interface {
	Create(ctx context.Context, customer *domain.Customer) error
	GetByID(ctx context.Context, id int64) (*domain.Customer, error)
	GetByEmail(ctx context.Context, email string) (*domain.Customer, error)
}

// EventLogListParams holds filter + pagination for the webhook event log.
type EventLogListParams struct {
	EventType *domain.EventType
	Outcome   *domain.EventOutcome
	OrderID   *int64
	Page      int
	PageSize  int
}

// WebhookEventLogRepository persists one record per received webhook delivery.
type WebhookEventLogRepository interface {
	Create(ctx context.Context, rec *domain.WebhookEventRecord) error
	List(ctx context.Context, params EventLogListParams) ([]domain.WebhookEventRecord, int64, error)
}
