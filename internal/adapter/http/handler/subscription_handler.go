package handler

import (
	"time"

	"coinsub-commerce-bridge/internal/adapter/http/dto"
	"coinsub-commerce-bridge/internal/core/ports"
	"coinsub-commerce-bridge/pkg/response"

	"github.com/gin-gonic/gin"
)

// SubscriptionHandler handles subscription management endpoints.
type SubscriptionHandler struct {
	subscriptionSvc ports.SubscriptionService
}

// NewSubscriptionHandler creates a new SubscriptionHandler.
func NewSubscriptionHandler(subscriptionSvc ports.SubscriptionService) *SubscriptionHandler {
	return &SubscriptionHandler{subscriptionSvc: subscriptionSvc}
}

// Cancel handles POST /api/v1/subscriptions/:order_id/cancel.
func (h *SubscriptionHandler) Cancel(c *gin.Context) {
	orderID, err := parseIDParam(c, "order_id")
	if err != nil {
		response.Error(c, err)
		return
	}

	if err := h.subscriptionSvc.Cancel(c.Request.Context(), orderID); err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, gin.H{"order_id": orderID, "status": "cancellation_requested"})
}

// NextPayment handles GET /api/v1/subscriptions/:order_id/next-payment.
func (h *SubscriptionHandler) NextPayment(c *gin.Context) {
	orderID, err := parseIDParam(c, "order_id")
	if err != nil {
		response.Error(c, err)
		return
	}

	next, err := h.subscriptionSvc.NextPayment(c.Request.Context(), orderID)
	if err != nil {
		response.Error(c, err)
		return
	}

	resp := dto.NextPaymentResponse{OrderID: orderID}
	if next != nil {
		s := next.UTC().Format(time.RFC3339)
		resp.NextPayment = &s
	}
	response.OK(c, resp)
}
