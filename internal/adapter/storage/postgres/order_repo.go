package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"coinsub-commerce-bridge/internal/core/domain"
	"coinsub-commerce-bridge/internal/core/ports"

	"github.com/jackc/pgx/v5"
)

// orderColumns is the column list for the orders head row, shared between
// the single-row and list scans.
const orderColumns = `id, status, currency, total, payment_method, payment_method_title, customer_id,
	billing_first_name, billing_last_name, billing_company, billing_email, billing_phone,
	billing_address1, billing_address2, billing_city, billing_state, billing_postcode, billing_country,
	shipping_first_name, shipping_last_name, shipping_company, shipping_email, shipping_phone,
	shipping_address1, shipping_address2, shipping_city, shipping_state, shipping_postcode, shipping_country,
	created_at, updated_at`

// OrderRepo implements ports.OrderRepository. The order aggregate (lines,
// meta, notes) is written as a unit inside one database transaction.
type OrderRepo struct {
	pool Pool
}

// NewOrderRepo creates a new OrderRepo.
func NewOrderRepo(pool Pool) *OrderRepo {
	return &OrderRepo{pool: pool}
}

// Create inserts the order aggregate and assigns the generated ids.
func (r *OrderRepo) Create(ctx context.Context, o *domain.Order) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create order: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	o.CreatedAt = now
	o.UpdatedAt = now

	query := `INSERT INTO orders (status, currency, total, payment_method, payment_method_title, customer_id,
		billing_first_name, billing_last_name, billing_company, billing_email, billing_phone,
		billing_address1, billing_address2, billing_city, billing_state, billing_postcode, billing_country,
		shipping_first_name, shipping_last_name, shipping_company, shipping_email, shipping_phone,
		shipping_address1, shipping_address2, shipping_city, shipping_state, shipping_postcode, shipping_country,
		created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
			$18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30)
		RETURNING id`

	err = tx.QueryRow(ctx, query,
		o.Status, o.Currency, o.Total, o.PaymentMethod, o.PaymentMethodTitle, o.CustomerID,
		o.Billing.FirstName, o.Billing.LastName, o.Billing.Company, o.Billing.Email, o.Billing.Phone,
		o.Billing.Address1, o.Billing.Address2, o.Billing.City, o.Billing.State, o.Billing.Postcode, o.Billing.Country,
		o.Shipping.FirstName, o.Shipping.LastName, o.Shipping.Company, o.Shipping.Email, o.Shipping.Phone,
		o.Shipping.Address1, o.Shipping.Address2, o.Shipping.City, o.Shipping.State, o.Shipping.Postcode, o.Shipping.Country,
		o.CreatedAt, o.UpdatedAt,
	).Scan(&o.ID)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	if err := r.insertLines(ctx, tx, o); err != nil {
		return err
	}
	if err := r.insertMeta(ctx, tx, o.ID, o.Meta); err != nil {
		return err
	}
	for i := range o.Notes {
		if err := r.insertNote(ctx, tx, o.ID, &o.Notes[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create order: %w", err)
	}
	return nil
}

// GetByID fetches the full order aggregate. Returns nil, nil when absent.
func (r *OrderRepo) GetByID(ctx context.Context, id int64) (*domain.Order, error) {
	query := fmt.Sprintf("SELECT %s FROM orders WHERE id = $1", orderColumns)

	o, err := scanOrder(r.pool.QueryRow(ctx, query, id))
	if err != nil || o == nil {
		return nil, err
	}
	if err := r.loadAggregate(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// FindByMeta returns orders matching any of the query's metadata pairs.
// Only orders paid with this service's payment method are considered.
func (r *OrderRepo) FindByMeta(ctx context.Context, q ports.MetaQuery) ([]*domain.Order, error) {
	if len(q.Pairs) == 0 {
		return nil, nil
	}

	var predicates []string
	args := []any{domain.PaymentMethodID}
	argIdx := 2
	for _, pair := range q.Pairs {
		predicates = append(predicates, fmt.Sprintf("(m.meta_key = $%d AND m.meta_value = $%d)", argIdx, argIdx+1))
		args = append(args, pair.Key, pair.Value)
		argIdx += 2
	}

	direction := "DESC"
	if q.Sort == ports.MetaSortOldest {
		direction = "ASC"
	}

	query := fmt.Sprintf(`SELECT DISTINCT o.id FROM orders o
		JOIN order_meta m ON m.order_id = o.id
		WHERE o.payment_method = $1 AND (%s)
		ORDER BY o.id %s`, strings.Join(predicates, " OR "), direction)
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find orders by meta: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan order id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order ids: %w", err)
	}

	var orders []*domain.Order
	for _, id := range ids {
		o, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if o != nil {
			orders = append(orders, o)
		}
	}
	return orders, nil
}

// Update persists the order's mutable fields and replaces its metadata bag.
// Line items are immutable after creation.
func (r *OrderRepo) Update(ctx context.Context, o *domain.Order) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin update order: %w", err)
	}
	defer tx.Rollback(ctx)

	o.UpdatedAt = time.Now()
	query := `UPDATE orders SET status = $1, total = $2, payment_method = $3, payment_method_title = $4,
		customer_id = $5, billing_first_name = $6, billing_last_name = $7, billing_email = $8,
		billing_phone = $9, updated_at = $10 WHERE id = $11`

	tag, err := tx.Exec(ctx, query,
		o.Status, o.Total, o.PaymentMethod, o.PaymentMethodTitle, o.CustomerID,
		o.Billing.FirstName, o.Billing.LastName, o.Billing.Email, o.Billing.Phone,
		o.UpdatedAt, o.ID,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order not found: %d", o.ID)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM order_meta WHERE order_id = $1`, o.ID); err != nil {
		return fmt.Errorf("clear order meta: %w", err)
	}
	if err := r.insertMeta(ctx, tx, o.ID, o.Meta); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit update order: %w", err)
	}
	return nil
}

// SetStatus is the regular status-transition path, appending a note.
func (r *OrderRepo) SetStatus(ctx context.Context, id int64, status domain.OrderStatus, note string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin set status: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3`,
		status, time.Now(), id)
	if err != nil {
		return fmt.Errorf("set order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order not found: %d", id)
	}

	if note != "" {
		if err := r.insertNote(ctx, tx, id, &domain.OrderNote{Note: note, CreatedAt: time.Now()}); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit set status: %w", err)
	}
	return nil
}

// ForceStatus writes the status column directly, without a note. Fallback for
// when the regular transition did not stick.
func (r *OrderRepo) ForceStatus(ctx context.Context, id int64, status domain.OrderStatus) error {
	tag, err := r.pool.Exec(ctx, `UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3`,
		status, time.Now(), id)
	if err != nil {
		return fmt.Errorf("force order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order not found: %d", id)
	}
	return nil
}

// AddNote appends an annotation to the order.
func (r *OrderRepo) AddNote(ctx context.Context, id int64, note string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO order_notes (order_id, note, created_at) VALUES ($1, $2, $3)`,
		id, note, time.Now())
	if err != nil {
		return fmt.Errorf("insert order note: %w", err)
	}
	return nil
}

// List fetches order head rows with filtering and pagination. Line items,
// meta and notes are not loaded; use GetByID for the full aggregate.
func (r *OrderRepo) List(ctx context.Context, params ports.OrderListParams) ([]*domain.Order, int64, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if params.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *params.Status)
		argIdx++
	}
	if params.Email != "" {
		conditions = append(conditions, fmt.Sprintf("billing_email = $%d", argIdx))
		args = append(args, params.Email)
		argIdx++
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM orders %s", where)
	var total int64
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	page := params.Page
	if page < 1 {
		page = 1
	}
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	dataQuery := fmt.Sprintf(`SELECT %s FROM orders %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		orderColumns, where, argIdx, argIdx+1)
	args = append(args, pageSize, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		o := &domain.Order{}
		if err := scanOrderFields(rows, o); err != nil {
			return nil, 0, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate order rows: %w", err)
	}
	return orders, total, nil
}

// Stats retrieves aggregated order statistics.
func (r *OrderRepo) Stats(ctx context.Context) (*ports.OrderStats, error) {
	stats := &ports.OrderStats{ByStatus: make(map[domain.OrderStatus]int64)}

	query := `SELECT COUNT(*),
		COALESCE(SUM(total) FILTER (WHERE status IN ('processing', 'completed', 'on-hold')), 0)
		FROM orders`
	if err := r.pool.QueryRow(ctx, query).Scan(&stats.Total, &stats.TotalSales); err != nil {
		return nil, fmt.Errorf("order stats: %w", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM orders GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("order status counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status domain.OrderStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		stats.ByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}
	return stats, nil
}

// --- aggregate loading ---

func (r *OrderRepo) loadAggregate(ctx context.Context, o *domain.Order) error {
	if err := r.loadItems(ctx, o); err != nil {
		return err
	}
	if err := r.loadShippingLines(ctx, o); err != nil {
		return err
	}
	if err := r.loadFees(ctx, o); err != nil {
		return err
	}
	if err := r.loadMeta(ctx, o); err != nil {
		return err
	}
	return r.loadNotes(ctx, o)
}

func (r *OrderRepo) loadItems(ctx context.Context, o *domain.Order) error {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, product_id, variation_id, quantity, subtotal, total, tax, tax_class, requires_shipping, is_subscription
		FROM order_items WHERE order_id = $1 ORDER BY id`, o.ID)
	if err != nil {
		return fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.LineItem
		if err := rows.Scan(&item.ID, &item.Name, &item.ProductID, &item.VariationID, &item.Quantity,
			&item.Subtotal, &item.Total, &item.Tax, &item.TaxClass, &item.RequiresShipping, &item.IsSubscription); err != nil {
			return fmt.Errorf("scan order item: %w", err)
		}
		o.Items = append(o.Items, item)
	}
	return rows.Err()
}

func (r *OrderRepo) loadShippingLines(ctx context.Context, o *domain.Order) error {
	rows, err := r.pool.Query(ctx,
		`SELECT id, method_id, method_title, total, tax FROM order_shipping_lines WHERE order_id = $1 ORDER BY id`, o.ID)
	if err != nil {
		return fmt.Errorf("load shipping lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sl domain.ShippingLine
		if err := rows.Scan(&sl.ID, &sl.MethodID, &sl.MethodTitle, &sl.Total, &sl.Tax); err != nil {
			return fmt.Errorf("scan shipping line: %w", err)
		}
		o.ShippingLines = append(o.ShippingLines, sl)
	}
	return rows.Err()
}

func (r *OrderRepo) loadFees(ctx context.Context, o *domain.Order) error {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, total, tax_class, tax FROM order_fees WHERE order_id = $1 ORDER BY id`, o.ID)
	if err != nil {
		return fmt.Errorf("load order fees: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var fee domain.FeeLine
		if err := rows.Scan(&fee.ID, &fee.Name, &fee.Total, &fee.TaxClass, &fee.Tax); err != nil {
			return fmt.Errorf("scan order fee: %w", err)
		}
		o.Fees = append(o.Fees, fee)
	}
	return rows.Err()
}

func (r *OrderRepo) loadMeta(ctx context.Context, o *domain.Order) error {
	rows, err := r.pool.Query(ctx,
		`SELECT meta_key, meta_value FROM order_meta WHERE order_id = $1`, o.ID)
	if err != nil {
		return fmt.Errorf("load order meta: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return fmt.Errorf("scan order meta: %w", err)
		}
		o.SetMeta(key, value)
	}
	return rows.Err()
}

func (r *OrderRepo) loadNotes(ctx context.Context, o *domain.Order) error {
	rows, err := r.pool.Query(ctx,
		`SELECT id, note, created_at FROM order_notes WHERE order_id = $1 ORDER BY id`, o.ID)
	if err != nil {
		return fmt.Errorf("load order notes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var note domain.OrderNote
		if err := rows.Scan(&note.ID, &note.Note, &note.CreatedAt); err != nil {
			return fmt.Errorf("scan order note: %w", err)
		}
		o.Notes = append(o.Notes, note)
	}
	return rows.Err()
}

// --- aggregate writing ---

func (r *OrderRepo) insertLines(ctx context.Context, tx pgx.Tx, o *domain.Order) error {
	for i := range o.Items {
		item := &o.Items[i]
		err := tx.QueryRow(ctx,
			`INSERT INTO order_items (order_id, name, product_id, variation_id, quantity, subtotal, total, tax, tax_class, requires_shipping, is_subscription)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id`,
			o.ID, item.Name, item.ProductID, item.VariationID, item.Quantity,
			item.Subtotal, item.Total, item.Tax, item.TaxClass, item.RequiresShipping, item.IsSubscription,
		).Scan(&item.ID)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	for i := range o.ShippingLines {
		sl := &o.ShippingLines[i]
		err := tx.QueryRow(ctx,
			`INSERT INTO order_shipping_lines (order_id, method_id, method_title, total, tax)
			VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			o.ID, sl.MethodID, sl.MethodTitle, sl.Total, sl.Tax,
		).Scan(&sl.ID)
		if err != nil {
			return fmt.Errorf("insert shipping line: %w", err)
		}
	}
	for i := range o.Fees {
		fee := &o.Fees[i]
		err := tx.QueryRow(ctx,
			`INSERT INTO order_fees (order_id, name, total, tax_class, tax)
			VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			o.ID, fee.Name, fee.Total, fee.TaxClass, fee.Tax,
		).Scan(&fee.ID)
		if err != nil {
			return fmt.Errorf("insert order fee: %w", err)
		}
	}
	return nil
}

func (r *OrderRepo) insertMeta(ctx context.Context, tx pgx.Tx, orderID int64, meta map[string]string) error {
	for key, value := range meta {
		if _, err := tx.Exec(ctx,
			`INSERT INTO order_meta (order_id, meta_key, meta_value) VALUES ($1, $2, $3)`,
			orderID, key, value); err != nil {
			return fmt.Errorf("insert order meta %q: %w", key, err)
		}
	}
	return nil
}

func (r *OrderRepo) insertNote(ctx context.Context, tx pgx.Tx, orderID int64, note *domain.OrderNote) error {
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now()
	}
	err := tx.QueryRow(ctx,
		`INSERT INTO order_notes (order_id, note, created_at) VALUES ($1, $2, $3) RETURNING id`,
		orderID, note.Note, note.CreatedAt,
	).Scan(&note.ID)
	if err != nil {
		return fmt.Errorf("insert order note: %w", err)
	}
	return nil
}

// --- scanning ---

func scanOrder(row pgx.Row) (*domain.Order, error) {
	o := &domain.Order{}
	if err := scanOrderFields(row, o); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	return o, nil
}

func scanOrderFields(row pgx.Row, o *domain.Order) error {
	return row.Scan(
		&o.ID, &o.Status, &o.Currency, &o.Total, &o.PaymentMethod, &o.PaymentMethodTitle, &o.CustomerID,
		&o.Billing.FirstName, &o.Billing.LastName, &o.Billing.Company, &o.Billing.Email, &o.Billing.Phone,
		&o.Billing.Address1, &o.Billing.Address2, &o.Billing.City, &o.Billing.State, &o.Billing.Postcode, &o.Billing.Country,
		&o.Shipping.FirstName, &o.Shipping.LastName, &o.Shipping.Company, &o.Shipping.Email, &o.Shipping.Phone,
		&o.Shipping.Address1, &o.Shipping.Address2, &o.Shipping.City, &o.Shipping.State, &o.Shipping.Postcode, &o.Shipping.Country,
		&o.CreatedAt, &o.UpdatedAt,
	)
}
