package integration

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"coinsub-commerce-bridge/internal/core/domain"
	"coinsub-commerce-bridge/internal/core/ports"
)

// In-memory repository implementations backing the integration stack. They
// mirror the semantics of the postgres repos (payment-method filter on meta
// lookups, notes preserved across Update) and are safe for concurrent use.

type inMemoryOrderRepo struct {
	mu     sync.Mutex
	orders map[int64]*domain.Order
	nextID int64
}

func newInMemoryOrderRepo() *inMemoryOrderRepo {
	return &inMemoryOrderRepo{
		orders: make(map[int64]*domain.Order),
		nextID: 1000,
	}
}

func copyOrder(o *domain.Order) *domain.Order {
	c := *o
	c.Items = append([]domain.LineItem(nil), o.Items...)
	c.ShippingLines = append([]domain.ShippingLine(nil), o.ShippingLines...)
	c.Fees = append([]domain.FeeLine(nil), o.Fees...)
	c.Notes = append([]domain.OrderNote(nil), o.Notes...)
	c.Meta = make(map[string]string, len(o.Meta))
	for k, v := range o.Meta {
		c.Meta[k] = v
	}
	if o.CustomerID != nil {
		id := *o.CustomerID
		c.CustomerID = &id
	}
	return &c
}

func (r *inMemoryOrderRepo) Create(_ context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	order.ID = r.nextID
	order.CreatedAt = time.Now().UTC()
	order.UpdatedAt = order.CreatedAt
	r.orders[order.ID] = copyOrder(order)
	return nil
}

func (r *inMemoryOrderRepo) GetByID(_ context.Context, id int64) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, nil
	}
	return copyOrder(o), nil
}

func (r *inMemoryOrderRepo) FindByMeta(_ context.Context, q ports.MetaQuery) ([]*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []*domain.Order
	for _, o := range r.orders {
		if o.PaymentMethod != domain.PaymentMethodID {
			continue
		}
		for _, pair := range q.Pairs {
			if o.Meta[pair.Key] == pair.Value && pair.Value != "" {
				matched = append(matched, copyOrder(o))
				break
			}
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if q.Sort == ports.MetaSortOldest {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].ID > matched[j].ID
	})
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

func (r *inMemoryOrderRepo) Update(_ context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.orders[order.ID]
	if !ok {
		return fmt.Errorf("order %d not found", order.ID)
	}
	updated := copyOrder(order)
	updated.Notes = stored.Notes // notes are append-only via AddNote
	updated.UpdatedAt = time.Now().UTC()
	r.orders[order.ID] = updated
	return nil
}

func (r *inMemoryOrderRepo) SetStatus(_ context.Context, id int64, status domain.OrderStatus, note string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return fmt.Errorf("order %d not found", id)
	}
	o.Status = status
	o.Notes = append(o.Notes, domain.OrderNote{
		ID:        int64(len(o.Notes) + 1),
		Note:      note,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (r *inMemoryOrderRepo) ForceStatus(_ context.Context, id int64, status domain.OrderStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return fmt.Errorf("order %d not found", id)
	}
	o.Status = status
	return nil
}

func (r *inMemoryOrderRepo) AddNote(_ context.Context, id int64, note string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return fmt.Errorf("order %d not found", id)
	}
	o.Notes = append(o.Notes, domain.OrderNote{
		ID:        int64(len(o.Notes) + 1),
		Note:      note,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (r *inMemoryOrderRepo) List(_ context.Context, params ports.OrderListParams) ([]*domain.Order, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []*domain.Order
	for _, o := range r.orders {
		if params.Status != nil && o.Status != *params.Status {
			continue
		}
		if params.Email != "" && !strings.EqualFold(o.Billing.Email, params.Email) {
			continue
		}
		matched = append(matched, copyOrder(o))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })

	total := int64(len(matched))
	page, size := params.Page, params.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	start := (page - 1) * size
	if start >= len(matched) {
		return []*domain.Order{}, total, nil
	}
	end := start + size
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func (r *inMemoryOrderRepo) Stats(_ context.Context) (*ports.OrderStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := &ports.OrderStats{ByStatus: make(map[domain.OrderStatus]int64)}
	for _, o := range r.orders {
		stats.Total++
		stats.ByStatus[o.Status]++
		if o.IsPaid() {
			stats.TotalSales += o.Total
		}
	}
	return stats, nil
}

type inMemoryCustomerRepo struct {
	mu      sync.Mutex
	byID    map[int64]*domain.Customer
	byEmail map[string]*domain.Customer
	nextID  int64
}

func newInMemoryCustomerRepo() *inMemoryCustomerRepo {
	return &inMemoryCustomerRepo{
		byID:    make(map[int64]*domain.Customer),
		byEmail: make(map[string]*domain.Customer),
	}
}

func (r *inMemoryCustomerRepo) Create(_ context.Context, customer *domain.Customer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	customer.ID = r.nextID
	customer.CreatedAt = time.Now().UTC()
	c := *customer
	r.byID[c.ID] = &c
	r.byEmail[strings.ToLower(c.Email)] = &c
	return nil
}

func (r *inMemoryCustomerRepo) GetByID(_ context.Context, id int64) (*domain.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *inMemoryCustomerRepo) GetByEmail(_ context.Context, email string) (*domain.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

type inMemoryEventLogRepo struct {
	mu      sync.Mutex
	records []domain.WebhookEventRecord
}

func newInMemoryEventLogRepo() *inMemoryEventLogRepo {
	return &inMemoryEventLogRepo{}
}

func (r *inMemoryEventLogRepo) Create(_ context.Context, rec *domain.WebhookEventRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, *rec)
	return nil
}

func (r *inMemoryEventLogRepo) List(_ context.Context, params ports.EventLogListParams) ([]domain.WebhookEventRecord, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []domain.WebhookEventRecord
	for _, rec := range r.records {
		if params.EventType != nil && rec.EventType != *params.EventType {
			continue
		}
		if params.Outcome != nil && rec.Outcome != *params.Outcome {
			continue
		}
		if params.OrderID != nil && (rec.OrderID == nil || *rec.OrderID != *params.OrderID) {
			continue
		}
		matched = append(matched, rec)
	}
	return matched, int64(len(matched)), nil
}

// countByOutcome is a test helper: how many recorded deliveries ended with
// the given outcome.
func (r *inMemoryEventLogRepo) countByOutcome(outcome domain.EventOutcome) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.records {
		if rec.Outcome == outcome {
			n++
		}
	}
	return n
}

// stubProvider is a deterministic in-process CoinSub API double.
type stubProvider struct {
	mu          sync.Mutex
	sessions    int
	transfers   int
	nextPayment *time.Time
}

func (p *stubProvider) StartPurchaseSession(_ context.Context, req ports.PurchaseSessionRequest) (*ports.PurchaseSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions++
	id := fmt.Sprintf("itest%d", p.sessions)
	return &ports.PurchaseSession{
		SessionID:   id,
		CheckoutURL: "https://pay.coinsub.io/checkout/" + id,
		MerchantID:  "mrch_integration",
	}, nil
}

func (p *stubProvider) GetPurchaseSessionStatus(_ context.Context, sessionID string) (string, error) {
	return "pending", nil
}

func (p *stubProvider) CancelAgreement(_ context.Context, agreementID string) error {
	return nil
}

func (p *stubProvider) RetrieveAgreement(_ context.Context, agreementID string) (*ports.AgreementInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return &ports.AgreementInfo{ID: agreementID, Status: "active", NextPayment: p.nextPayment}, nil
}

func (p *stubProvider) RequestTransfer(_ context.Context, req ports.TransferRequest) (*ports.TransferResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transfers++
	return &ports.TransferResult{TransferID: fmt.Sprintf("itr%d", p.transfers)}, nil
}
