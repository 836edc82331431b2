package handler

import (
	"strconv"

	"coinsub-commerce-bridge/internal/adapter/http/dto"
	"coinsub-commerce-bridge/internal/core/domain"
	"coinsub-commerce-bridge/internal/core/ports"
	"coinsub-commerce-bridge/pkg/apperror"
	"coinsub-commerce-bridge/pkg/response"

	"github.com/gin-gonic/gin"
)

// OpsHandler handles the JWT-guarded operator endpoints.
type OpsHandler struct {
	authSvc ports.AuthService
	opsSvc  ports.OpsService
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(authSvc ports.AuthService, opsSvc ports.OpsService) *OpsHandler {
	return &OpsHandler{authSvc: authSvc, opsSvc: opsSvc}
}

// Login handles POST /api/v1/ops/login.
func (h *OpsHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	token, expiry, err := h.authSvc.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.LoginResponse{
		Token:  token,
		Expiry: expiry.Unix(),
	})
}

// ListOrders handles GET /api/v1/ops/orders.
func (h *OpsHandler) ListOrders(c *gin.Context) {
	params := ports.OrderListParams{
		Email:    c.Query("email"),
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "page_size", 20),
	}
	if s := c.Query("status"); s != "" {
		status := domain.OrderStatus(s)
		params.Status = &status
	}

	orders, total, err := h.opsSvc.ListOrders(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.OrderListResponse{
		Items:      orders,
		Total:      total,
		Page:       params.Page,
		PageSize:   params.PageSize,
		TotalPages: dto.TotalPages(total, params.PageSize),
	})
}

// GetOrder handles GET /api/v1/ops/orders/:id.
func (h *OpsHandler) GetOrder(c *gin.Context) {
	orderID, err := parseIDParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}

	order, err := h.opsSvc.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, order)
}

// Stats handles GET /api/v1/ops/orders/stats.
func (h *OpsHandler) Stats(c *gin.Context) {
	stats, err := h.opsSvc.OrderStats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, stats)
}

// ListWebhookEvents handles GET /api/v1/ops/webhook-events.
func (h *OpsHandler) ListWebhookEvents(c *gin.Context) {
	params := ports.EventLogListParams{
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "page_size", 20),
	}
	if s := c.Query("event_type"); s != "" {
		eventType := domain.EventType(s)
		params.EventType = &eventType
	}
	if s := c.Query("outcome"); s != "" {
		outcome := domain.EventOutcome(s)
		params.Outcome = &outcome
	}
	if s := c.Query("order_id"); s != "" {
		if id, err := strconv.ParseInt(s, 10, 64); err == nil && id > 0 {
			params.OrderID = &id
		}
	}

	records, total, err := h.opsSvc.ListWebhookEvents(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.WebhookEventListResponse{
		Items:      records,
		Total:      total,
		Page:       params.Page,
		PageSize:   params.PageSize,
		TotalPages: dto.TotalPages(total, params.PageSize),
	})
}

// Refund handles POST /api/v1/ops/orders/:id/refund.
func (h *OpsHandler) Refund(c *gin.Context) {
	orderID, err := parseIDParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}

	// An empty body requests a full refund to the stored customer wallet.
	var req dto.RefundRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, apperror.Validation(err.Error()))
			return
		}
		dto.SanitizeStruct(&req)
	}

	result, err := h.opsSvc.InitiateRefund(c.Request.Context(), ports.RefundRequest{
		OrderID:   orderID,
		ToAddress: req.ToAddress,
		Amount:    req.Amount,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.RefundResponse{
		OrderID:    result.OrderID,
		TransferID: result.TransferID,
	})
}

// queryInt reads a positive integer query parameter with a default.
func queryInt(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
