package dto

import (
	"coinsub-commerce-bridge/internal/core/domain"
)

// WebhookAck is the acknowledgement body for a handled webhook delivery.
type WebhookAck struct {
	Outcome string `json:"outcome"`
}

// CheckoutItemRequest is one cart line of a checkout request.
type CheckoutItemRequest struct {
	Name             string  `json:"name" binding:"required,max=200"`
	ProductID        int64   `json:"product_id"`
	Quantity         int     `json:"quantity" binding:"required,gt=0"`
	Price            float64 `json:"price" binding:"gte=0"`
	RequiresShipping bool    `json:"requires_shipping"`
	IsSubscription   bool    `json:"is_subscription"`
}

// SubscriptionPlanRequest describes the recurring schedule of a subscription
// checkout.
type SubscriptionPlanRequest struct {
	Frequency int    `json:"frequency" binding:"required,gt=0"`
	Interval  string `json:"interval" binding:"required,oneof=day week month year"`
	Duration  int    `json:"duration" binding:"gte=0"`
}

// CheckoutSessionRequest is the request body for creating a purchase session.
type CheckoutSessionRequest struct {
	Currency   string                   `json:"currency" binding:"required,len=3"`
	Billing    AddressRequest           `json:"billing" binding:"required"`
	Shipping   AddressRequest           `json:"shipping"`
	Items      []CheckoutItemRequest    `json:"items" binding:"required,min=1,dive"`
	Plan       *SubscriptionPlanRequest `json:"plan,omitempty"`
	SuccessURL string                   `json:"success_url" binding:"required,safe_url"`
	CancelURL  string                   `json:"cancel_url" binding:"required,safe_url"`
}

// AddressRequest carries the billing or shipping identity of a checkout.
type AddressRequest struct {
	FirstName string `json:"first_name" binding:"max=100"`
	LastName  string `json:"last_name" binding:"max=100"`
	Company   string `json:"company" binding:"max=100"`
	Email     string `json:"email" binding:"omitempty,email"`
	Phone     string `json:"phone" binding:"max=40"`
	Address1  string `json:"address_1" binding:"max=200"`
	Address2  string `json:"address_2" binding:"max=200"`
	City      string `json:"city" binding:"max=100"`
	State     string `json:"state" binding:"max=100"`
	Postcode  string `json:"postcode" binding:"max=20"`
	Country   string `json:"country" binding:"max=2"`
}

// ToAddress converts the DTO to the domain address.
func (a AddressRequest) ToAddress() domain.Address {
	return domain.Address{
		FirstName: a.FirstName,
		LastName:  a.LastName,
		Company:   a.Company,
		Email:     a.Email,
		Phone:     a.Phone,
		Address1:  a.Address1,
		Address2:  a.Address2,
		City:      a.City,
		State:     a.State,
		Postcode:  a.Postcode,
		Country:   a.Country,
	}
}

// CheckoutSessionResponse is the redirect payload for a created session.
type CheckoutSessionResponse struct {
	OrderID     int64  `json:"order_id"`
	SessionID   string `json:"session_id"`
	CheckoutURL string `json:"checkout_url"`
}

// PaymentStatusResponse is the polled payment state of an order.
type PaymentStatusResponse struct {
	OrderID  int64  `json:"order_id"`
	Status   string `json:"status"`
	Paid     bool   `json:"paid"`
	Redirect bool   `json:"redirect"`
}

// NextPaymentResponse reports the next scheduled subscription charge.
type NextPaymentResponse struct {
	OrderID     int64   `json:"order_id"`
	NextPayment *string `json:"next_payment"` // RFC 3339, null when unscheduled
}

// LoginRequest is the request body for operator login.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse is the response body for successful login.
type LoginResponse struct {
	Token  string `json:"token"`
	Expiry int64  `json:"expiry"` // Unix timestamp
}

// RefundRequest is the request body for initiating a refund transfer.
type RefundRequest struct {
	Amount    *float64 `json:"amount,omitempty" binding:"omitempty,gt=0"`
	ToAddress string   `json:"to_address,omitempty" binding:"omitempty,safe_id"`
}

// RefundResponse identifies the refund transfer awaiting confirmation.
type RefundResponse struct {
	OrderID    int64  `json:"order_id"`
	TransferID string `json:"transfer_id"`
}

// OrderListResponse wraps a paginated order listing.
type OrderListResponse struct {
	Items      []*domain.Order `json:"items"`
	Total      int64           `json:"total"`
	Page       int             `json:"page"`
	PageSize   int             `json:"page_size"`
	TotalPages int             `json:"total_pages"`
}

// WebhookEventListResponse wraps a paginated webhook event log page.
type WebhookEventListResponse struct {
	Items      []domain.WebhookEventRecord `json:"items"`
	Total      int64                       `json:"total"`
	Page       int                         `json:"page"`
	PageSize   int                         `json:"page_size"`
	TotalPages int                         `json:"total_pages"`
}

// TotalPages computes the page count for a paginated response.
func TotalPages(total int64, pageSize int) int {
	if pageSize <= 0 {
		return 0
	}
	pages := int(total) / pageSize
	if int(total)%pageSize != 0 {
		pages++
	}
	return pages
}
