package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coinsub-commerce-bridge/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// CustomerRepo implements ports.CustomerRepository.
type CustomerRepo struct {
	pool Pool
}

// NewCustomerRepo creates a new CustomerRepo.
func NewCustomerRepo(pool Pool) *CustomerRepo {
	return &CustomerRepo{pool: pool}
}

// Create inserts a new customer and assigns the generated id.
func (r *CustomerRepo) Create(ctx context.Context, c *domain.Customer) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO customers (email, first_name, last_name, created_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		c.Email, c.FirstName, c.LastName, c.CreatedAt,
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("insert customer: %w", err)
	}
	return nil
}

// GetByID fetches a customer by id. Returns nil, nil when absent.
func (r *CustomerRepo) GetByID(ctx context.Context, id int64) (*domain.Customer, error) {
	return r.scanCustomer(r.pool.QueryRow(ctx,
		`SELECT id, email, first_name, last_name, created_at FROM customers WHERE id = $1`, id))
}

// GetByEmail fetches a customer by email. Returns nil, nil when absent.
func (r *CustomerRepo) GetByEmail(ctx context.Context, email string) (*domain.Customer, error) {
	return r.scanCustomer(r.pool.QueryRow(ctx,
		`SELECT id, email, first_name, last_name, created_at FROM customers WHERE email = $1`, email))
}

func (r *CustomerRepo) scanCustomer(row pgx.Row) (*domain.Customer, error) {
	c := &domain.Customer{}
	err := row.Scan(&c.ID, &c.Email, &c.FirstName, &c.LastName, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan customer: %w", err)
	}
	return c, nil
}
