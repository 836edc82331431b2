package domain

import "time"

// Customer is a store customer account. Orders reference customers loosely;
// webhook processing attaches one by billing email when missing, best-effort.
type Customer struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	CreatedAt time.Time `json:"created_at"`
}
