package apperror

import (
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// ---- Webhook intake (WBH) ----

func ErrWebhookSecretMismatch() *AppError {
	return New("WBH_001", "Invalid webhook secret", http.StatusUnauthorized)
}

func ErrWebhookSignatureMismatch() *AppError {
	return New("WBH_002", "Invalid webhook signature", http.StatusUnauthorized)
}

func ErrWebhookBadPayload(err error) *AppError {
	return Wrap("WBH_003", "Malformed webhook payload", http.StatusBadRequest, err)
}

// ---- Orders & checkout (ORD) ----

func ErrNotFound(entity string) *AppError {
	return New("ORD_001", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

func ErrCheckoutInProgress() *AppError {
	return New("ORD_002", "A checkout is already in progress", http.StatusConflict)
}

func ErrMixedSubscriptionCart() *AppError {
	return New("ORD_003", "Subscriptions must be purchased separately from other products", http.StatusUnprocessableEntity)
}

func ErrSubscriptionQuantity() *AppError {
	return New("ORD_004", "Subscription products are limited to a quantity of one", http.StatusUnprocessableEntity)
}

func ErrNotSubscription() *AppError {
	return New("ORD_005", "Order is not a subscription", http.StatusUnprocessableEntity)
}

func ErrRefundNotEligible() *AppError {
	return New("ORD_006", "Order is not eligible for a refund", http.StatusUnprocessableEntity)
}

// ---- Provider API (CSB) ----

func ErrProviderUnavailable(err error) *AppError {
	return Wrap("CSB_001", "Payment provider request failed", http.StatusBadGateway, err)
}

func ErrProviderRejected(detail string) *AppError {
	return New("CSB_002", fmt.Sprintf("Payment provider rejected the request: %s", detail), http.StatusBadGateway)
}

// ---- Authentication (AUTH) ----

func ErrInvalidCredentials() *AppError {
	return New("AUTH_001", "Invalid credentials", http.StatusUnauthorized)
}

func ErrInvalidToken() *AppError {
	return New("AUTH_002", "Invalid or expired token", http.StatusUnauthorized)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_001", "Internal database error", http.StatusInternalServerError, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a request-validation error.
func Validation(message string) *AppError {
	return New("VAL_001", message, http.StatusBadRequest)
}
