package postgres

import (
	"context"
	"fmt"
	"strings"

	"coinsub-commerce-bridge/internal/core/domain"
	"coinsub-commerce-bridge/internal/core/ports"
)

// EventLogRepo implements ports.WebhookEventLogRepository.
type EventLogRepo struct {
	pool Pool
}

// NewEventLogRepo creates a new EventLogRepo.
func NewEventLogRepo(pool Pool) *EventLogRepo {
	return &EventLogRepo{pool: pool}
}

// Create inserts one webhook delivery record.
func (r *EventLogRepo) Create(ctx context.Context, rec *domain.WebhookEventRecord) error {
	query := `INSERT INTO webhook_events (id, event_type, origin_id, transfer_id, payment_id, agreement_id,
		order_id, outcome, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.pool.Exec(ctx, query,
		rec.ID, rec.EventType, rec.OriginID, rec.TransferID, rec.PaymentID, rec.AgreementID,
		rec.OrderID, rec.Outcome, rec.Detail, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert webhook event: %w", err)
	}
	return nil
}

// List fetches webhook delivery records with filtering and pagination.
func (r *EventLogRepo) List(ctx context.Context, params ports.EventLogListParams) ([]domain.WebhookEventRecord, int64, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if params.EventType != nil {
		conditions = append(conditions, fmt.Sprintf("event_type = $%d", argIdx))
		args = append(args, *params.EventType)
		argIdx++
	}
	if params.Outcome != nil {
		conditions = append(conditions, fmt.Sprintf("outcome = $%d", argIdx))
		args = append(args, *params.Outcome)
		argIdx++
	}
	if params.OrderID != nil {
		conditions = append(conditions, fmt.Sprintf("order_id = $%d", argIdx))
		args = append(args, *params.OrderID)
		argIdx++
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM webhook_events %s", where)
	var total int64
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count webhook events: %w", err)
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

	dataQuery := fmt.Sprintf(`SELECT id, event_type, origin_id, transfer_id, payment_id, agreement_id,
		order_id, outcome, detail, created_at
		FROM webhook_events %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, where, argIdx, argIdx+1)
	args = append(args, pageSize, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list webhook events: %w", err)
	}
	defer rows.Close()

	var records []domain.WebhookEventRecord
	for rows.Next() {
		rec := domain.WebhookEventRecord{}
		err := rows.Scan(&rec.ID, &rec.EventType, &rec.OriginID, &rec.TransferID, &rec.PaymentID,
			&rec.AgreementID, &rec.OrderID, &rec.Outcome, &rec.Detail, &rec.CreatedAt)
		if err != nil {
			return nil, 0, fmt.Errorf("scan webhook event row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate webhook event rows: %w", err)
	}
	return records, total, nil
}
