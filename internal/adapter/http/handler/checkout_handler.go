package handler

import (
	"strconv"

	"coinsub-commerce-bridge/internal/adapter/http/dto"
	"coinsub-commerce-bridge/internal/core/ports"
	"coinsub-commerce-bridge/pkg/apperror"
	"coinsub-commerce-bridge/pkg/response"

	"github.com/gin-gonic/gin"
)

// CheckoutHandler handles storefront checkout endpoints.
type CheckoutHandler struct {
	checkoutSvc ports.CheckoutService
}

// NewCheckoutHandler creates a new CheckoutHandler.
func NewCheckoutHandler(checkoutSvc ports.CheckoutService) *CheckoutHandler {
	return &CheckoutHandler{checkoutSvc: checkoutSvc}
}

// CreateSession handles POST /api/v1/checkout/sessions.
func (h *CheckoutHandler) CreateSession(c *gin.Context) {
	var req dto.CheckoutSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	items := make([]ports.CheckoutItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, ports.CheckoutItem{
			Name:             item.Name,
			ProductID:        item.ProductID,
			Quantity:         item.Quantity,
			Price:            item.Price,
			RequiresShipping: item.RequiresShipping,
			IsSubscription:   item.IsSubscription,
		})
	}

	checkoutReq := ports.CheckoutRequest{
		Currency:   req.Currency,
		Billing:    req.Billing.ToAddress(),
		Shipping:   req.Shipping.ToAddress(),
		Items:      items,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	}
	if req.Plan != nil {
		checkoutReq.Plan = &ports.SubscriptionPlan{
			Frequency: req.Plan.Frequency,
			Interval:  req.Plan.Interval,
			Duration:  req.Plan.Duration,
		}
	}

	result, err := h.checkoutSvc.CreateSession(c.Request.Context(), checkoutReq)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.CheckoutSessionResponse{
		OrderID:     result.OrderID,
		SessionID:   result.SessionID,
		CheckoutURL: result.CheckoutURL,
	})
}

// PaymentStatus handles GET /api/v1/checkout/orders/:id/status.
func (h *CheckoutHandler) PaymentStatus(c *gin.Context) {
	orderID, err := parseIDParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}

	status, err := h.checkoutSvc.PaymentStatus(c.Request.Context(), orderID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.PaymentStatusResponse{
		OrderID:  status.OrderID,
		Status:   string(status.Status),
		Paid:     status.Paid,
		Redirect: status.Redirect,
	})
}

// parseIDParam reads a positive int64 path parameter.
func parseIDParam(c *gin.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperror.Validation("invalid order id")
	}
	return id, nil
}
