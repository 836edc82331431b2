package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"coinsub-commerce-bridge/internal/core/domain"
	"coinsub-commerce-bridge/internal/core/ports"
	"coinsub-commerce-bridge/internal/core/ports/mocks"
	"coinsub-commerce-bridge/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp struct {
		Data map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Data
}

// --- Webhook intake ---

type webhookFixture struct {
	processor *mocks.MockWebhookProcessor
	recorder  *mocks.MockEventRecorder
	sigSvc    *mocks.MockSignatureService
	router    *gin.Engine
}

func newWebhookFixture(t *testing.T, secret string, enforce bool) *webhookFixture {
	ctrl := gomock.NewController(t)
	f := &webhookFixture{
		processor: mocks.NewMockWebhookProcessor(ctrl),
		recorder:  mocks.NewMockEventRecorder(ctrl),
		sigSvc:    mocks.NewMockSignatureService(ctrl),
	}
	h := NewWebhookHandler(f.processor, f.recorder, f.sigSvc, secret, enforce, zerolog.Nop())
	f.router = gin.New()
	f.router.POST("/webhook", h.Receive)
	return f
}

func (f *webhookFixture) post(path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestWebhook_SecretViaQuery(t *testing.T) {
	f := newWebhookFixture(t, "topsecret", false)

	f.processor.EXPECT().
		Process(gomock.Any(), gomock.Any(), "evt_1").
		Return(domain.EventOutcomeProcessed, nil)

	w := f.post("/webhook?secret=topsecret", `{"type":"payment","origin_id":"sess_1"}`, map[string]string{
		HeaderEventID: "evt_1",
	})

	assert.Equal(t, http.StatusOK, w.Code)
	var ack map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ack))
	assert.Equal(t, "processed", ack["outcome"])
}

func TestWebhook_SecretViaHeader(t *testing.T) {
	f := newWebhookFixture(t, "topsecret", false)

	f.processor.EXPECT().
		Process(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(domain.EventOutcomeProcessed, nil)

	w := f.post("/webhook", `{"type":"payment","origin_id":"sess_1"}`, map[string]string{
		HeaderWebhookSecret: "topsecret",
	})

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhook_SecretInBody(t *testing.T) {
	f := newWebhookFixture(t, "topsecret", false)

	f.processor.EXPECT().
		Process(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(domain.EventOutcomeProcessed, nil)

	w := f.post("/webhook", `{"type":"payment","origin_id":"sess_1","secret":"topsecret"}`, nil)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhook_SecretMismatch(t *testing.T) {
	f := newWebhookFixture(t, "topsecret", false)

	f.recorder.EXPECT().
		Record(gomock.Any(), nil, domain.EventOutcomeUnauthorized, "secret mismatch")

	w := f.post("/webhook", `{"type":"payment","origin_id":"sess_1","secret":"wrong"}`, nil)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "WBH_001", decodeError(t, w)["error_code"])
}

func TestWebhook_NoSecretConfiguredSkipsCheck(t *testing.T) {
	f := newWebhookFixture(t, "", false)

	f.processor.EXPECT().
		Process(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(domain.EventOutcomeProcessed, nil)

	w := f.post("/webhook", `{"type":"payment","origin_id":"sess_1"}`, nil)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhook_MalformedPayload(t *testing.T) {
	f := newWebhookFixture(t, "topsecret", false)

	w := f.post("/webhook?secret=topsecret", `{not json`, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "WBH_003", decodeError(t, w)["error_code"])
}

func TestWebhook_SignatureEnforced_MissingRejected(t *testing.T) {
	f := newWebhookFixture(t, "topsecret", true)

	f.recorder.EXPECT().
		Record(gomock.Any(), nil, domain.EventOutcomeUnauthorized, "signature mismatch")

	w := f.post("/webhook?secret=topsecret", `{"type":"payment","origin_id":"sess_1"}`, nil)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "WBH_002", decodeError(t, w)["error_code"])
}

func TestWebhook_SignatureEnforced_InvalidRejected(t *testing.T) {
	f := newWebhookFixture(t, "topsecret", true)

	body := `{"type":"payment","origin_id":"sess_1"}`
	f.sigSvc.EXPECT().Verify("topsecret", []byte(body), "badsig").Return(false)
	f.recorder.EXPECT().
		Record(gomock.Any(), nil, domain.EventOutcomeUnauthorized, "signature mismatch")

	w := f.post("/webhook?secret=topsecret", body, map[string]string{
		HeaderWebhookSignature: "badsig",
	})

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "WBH_002", decodeError(t, w)["error_code"])
}

func TestWebhook_SignatureEnforced_ValidAccepted(t *testing.T) {
	f := newWebhookFixture(t, "topsecret", true)

	body := `{"type":"payment","origin_id":"sess_1"}`
	f.sigSvc.EXPECT().Verify("topsecret", []byte(body), "goodsig").Return(true)
	f.processor.EXPECT().
		Process(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(domain.EventOutcomeProcessed, nil)

	w := f.post("/webhook?secret=topsecret", body, map[string]string{
		HeaderWebhookSignature: "goodsig",
	})

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhook_InvalidSignatureAcceptedWhenNotEnforced(t *testing.T) {
	f := newWebhookFixture(t, "topsecret", false)

	body := `{"type":"payment","origin_id":"sess_1"}`
	f.sigSvc.EXPECT().Verify("topsecret", []byte(body), "badsig").Return(false)
	f.processor.EXPECT().
		Process(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(domain.EventOutcomeProcessed, nil)

	w := f.post("/webhook?secret=topsecret", body, map[string]string{
		HeaderWebhookSignature: "badsig",
	})

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhook_EventDecoded(t *testing.T) {
	f := newWebhookFixture(t, "", false)

	var captured *domain.Event
	f.processor.EXPECT().
		Process(gomock.Any(), gomock.Any(), "evt_77").
		DoAndReturn(func(_ interface{}, event *domain.Event, _ string) (domain.EventOutcome, error) {
			captured = event
			return domain.EventOutcomeDuplicate, nil
		})

	body := `{"type":"transfer","transferId":"tr_9","transaction_details":{"chain_id":137}}`
	w := f.post("/webhook", body, map[string]string{HeaderEventID: "evt_77"})

	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, captured)
	assert.Equal(t, domain.EventTypeTransfer, captured.Type)
	assert.Equal(t, "tr_9", captured.TransferID)
	assert.Equal(t, "137", captured.TransactionDetails.ChainID.String())

	var ack map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ack))
	assert.Equal(t, "duplicate", ack["outcome"])
}

func TestWebhook_ProcessorFailureReturns500(t *testing.T) {
	f := newWebhookFixture(t, "", false)

	f.processor.EXPECT().
		Process(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(domain.EventOutcomeError, apperror.InternalError(assert.AnError))

	w := f.post("/webhook", `{"type":"payment","origin_id":"sess_1"}`, nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "SYS_001", decodeError(t, w)["error_code"])
}

// --- Checkout ---

func newCheckoutRouter(t *testing.T) (*mocks.MockCheckoutService, *gin.Engine) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockCheckoutService(ctrl)
	h := NewCheckoutHandler(svc)
	r := gin.New()
	r.POST("/checkout/sessions", h.CreateSession)
	r.GET("/checkout/orders/:id/status", h.PaymentStatus)
	return svc, r
}

func validCheckoutBody() string {
	return `{
		"currency": "USD",
		"billing": {"first_name": "Ada", "email": "ada@example.com"},
		"items": [{"name": "Widget", "product_id": 7, "quantity": 2, "price": 12.5, "requires_shipping": true}],
		"success_url": "https://shop.example.com/thanks",
		"cancel_url": "https://shop.example.com/cart"
	}`
}

func TestCheckoutCreateSession_Success(t *testing.T) {
	svc, router := newCheckoutRouter(t)

	svc.EXPECT().
		CreateSession(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ interface{}, req ports.CheckoutRequest) (*ports.CheckoutResult, error) {
			assert.Equal(t, "USD", req.Currency)
			assert.Equal(t, "ada@example.com", req.Billing.Email)
			require.Len(t, req.Items, 1)
			assert.Equal(t, "Widget", req.Items[0].Name)
			assert.Equal(t, 2, req.Items[0].Quantity)
			assert.True(t, req.Items[0].RequiresShipping)
			assert.Nil(t, req.Plan)
			return &ports.CheckoutResult{OrderID: 101, SessionID: "abc", CheckoutURL: "https://pay.coinsub.io/abc"}, nil
		})

	req := httptest.NewRequest(http.MethodPost, "/checkout/sessions", bytes.NewBufferString(validCheckoutBody()))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, float64(101), data["order_id"])
	assert.Equal(t, "abc", data["session_id"])
	assert.Equal(t, "https://pay.coinsub.io/abc", data["checkout_url"])
}

func TestCheckoutCreateSession_SubscriptionPlanForwarded(t *testing.T) {
	svc, router := newCheckoutRouter(t)

	svc.EXPECT().
		CreateSession(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ interface{}, req ports.CheckoutRequest) (*ports.CheckoutResult, error) {
			require.NotNil(t, req.Plan)
			assert.Equal(t, 1, req.Plan.Frequency)
			assert.Equal(t, "month", req.Plan.Interval)
			return &ports.CheckoutResult{OrderID: 102, SessionID: "sub", CheckoutURL: "https://pay.coinsub.io/sub"}, nil
		})

	body := `{
		"currency": "USD",
		"billing": {"email": "ada@example.com"},
		"items": [{"name": "Gold Plan", "quantity": 1, "price": 9.99, "is_subscription": true}],
		"plan": {"frequency": 1, "interval": "month"},
		"success_url": "https://shop.example.com/thanks",
		"cancel_url": "https://shop.example.com/cart"
	}`
	req := httptest.NewRequest(http.MethodPost, "/checkout/sessions", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestCheckoutCreateSession_BindingErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty body", `{}`},
		{"bad currency", `{"currency":"DOLLARS","billing":{},"items":[{"name":"x","quantity":1}],"success_url":"https://a.example.com","cancel_url":"https://a.example.com"}`},
		{"no items", `{"currency":"USD","billing":{},"items":[],"success_url":"https://a.example.com","cancel_url":"https://a.example.com"}`},
		{"zero quantity", `{"currency":"USD","billing":{},"items":[{"name":"x","quantity":0}],"success_url":"https://a.example.com","cancel_url":"https://a.example.com"}`},
		{"unsafe url", `{"currency":"USD","billing":{},"items":[{"name":"x","quantity":1}],"success_url":"javascript:alert(1)","cancel_url":"https://a.example.com"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, router := newCheckoutRouter(t)
			req := httptest.NewRequest(http.MethodPost, "/checkout/sessions", bytes.NewBufferString(tt.body))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "VAL_001", decodeError(t, w)["error_code"])
		})
	}
}

func TestPaymentStatus_Success(t *testing.T) {
	svc, router := newCheckoutRouter(t)

	svc.EXPECT().
		PaymentStatus(gomock.Any(), int64(55)).
		Return(&ports.PaymentStatus{OrderID: 55, Status: domain.OrderStatusProcessing, Paid: true, Redirect: true}, nil)

	req := httptest.NewRequest(http.MethodGet, "/checkout/orders/55/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "processing", data["status"])
	assert.Equal(t, true, data["paid"])
	assert.Equal(t, true, data["redirect"])
}

func TestPaymentStatus_InvalidID(t *testing.T) {
	_, router := newCheckoutRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/checkout/orders/abc/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VAL_001", decodeError(t, w)["error_code"])
}

func TestPaymentStatus_OrderNotFound(t *testing.T) {
	svc, router := newCheckoutRouter(t)

	svc.EXPECT().
		PaymentStatus(gomock.Any(), int64(404)).
		Return(nil, apperror.ErrNotFound("Order"))

	req := httptest.NewRequest(http.MethodGet, "/checkout/orders/404/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "ORD_001", decodeError(t, w)["error_code"])
}

// --- Subscriptions ---

func newSubscriptionRouter(t *testing.T) (*mocks.MockSubscriptionService, *gin.Engine) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockSubscriptionService(ctrl)
	h := NewSubscriptionHandler(svc)
	r := gin.New()
	r.POST("/subscriptions/:order_id/cancel", h.Cancel)
	r.GET("/subscriptions/:order_id/next-payment", h.NextPayment)
	return svc, r
}

func TestSubscriptionCancel_Success(t *testing.T) {
	svc, router := newSubscriptionRouter(t)

	svc.EXPECT().Cancel(gomock.Any(), int64(7)).Return(nil)

	req := httptest.NewRequest(http.MethodPost, "/subscriptions/7/cancel", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "cancellation_requested", data["status"])
	assert.Equal(t, float64(7), data["order_id"])
}

func TestSubscriptionCancel_NotASubscription(t *testing.T) {
	svc, router := newSubscriptionRouter(t)

	svc.EXPECT().Cancel(gomock.Any(), int64(7)).Return(apperror.ErrNotSubscription())

	req := httptest.NewRequest(http.MethodPost, "/subscriptions/7/cancel", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "ORD_005", decodeError(t, w)["error_code"])
}

func TestSubscriptionNextPayment_Scheduled(t *testing.T) {
	svc, router := newSubscriptionRouter(t)

	next := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	svc.EXPECT().NextPayment(gomock.Any(), int64(7)).Return(&next, nil)

	req := httptest.NewRequest(http.MethodGet, "/subscriptions/7/next-payment", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "2026-10-01T12:00:00Z", data["next_payment"])
}

func TestSubscriptionNextPayment_NoneScheduled(t *testing.T) {
	svc, router := newSubscriptionRouter(t)

	svc.EXPECT().NextPayment(gomock.Any(), int64(7)).Return(nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/subscriptions/7/next-payment", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Nil(t, data["next_payment"])
}

// --- Ops ---

type opsHandlerFixture struct {
	authSvc *mocks.MockAuthService
	opsSvc  *mocks.MockOpsService
	router  *gin.Engine
}

func newOpsHandlerFixture(t *testing.T) *opsHandlerFixture {
	ctrl := gomock.NewController(t)
	f := &opsHandlerFixture{
		authSvc: mocks.NewMockAuthService(ctrl),
		opsSvc:  mocks.NewMockOpsService(ctrl),
	}
	h := NewOpsHandler(f.authSvc, f.opsSvc)
	f.router = gin.New()
	f.router.POST("/ops/login", h.Login)
	f.router.GET("/ops/orders", h.ListOrders)
	f.router.GET("/ops/orders/stats", h.Stats)
	f.router.GET("/ops/orders/:id", h.GetOrder)
	f.router.POST("/ops/orders/:id/refund", h.Refund)
	f.router.GET("/ops/webhook-events", h.ListWebhookEvents)
	return f
}

func TestOpsLogin_Success(t *testing.T) {
	f := newOpsHandlerFixture(t)

	expiry := time.Now().Add(time.Hour)
	f.authSvc.EXPECT().
		Login(gomock.Any(), "admin", "hunter2").
		Return("jwt_token", expiry, nil)

	body := `{"username":"admin","password":"hunter2"}`
	req := httptest.NewRequest(http.MethodPost, "/ops/login", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "jwt_token", data["token"])
	assert.Equal(t, float64(expiry.Unix()), data["expiry"])
}

func TestOpsLogin_InvalidCredentials(t *testing.T) {
	f := newOpsHandlerFixture(t)

	f.authSvc.EXPECT().
		Login(gomock.Any(), "admin", "wrong").
		Return("", time.Time{}, apperror.ErrInvalidCredentials())

	body := `{"username":"admin","password":"wrong"}`
	req := httptest.NewRequest(http.MethodPost, "/ops/login", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "AUTH_001", decodeError(t, w)["error_code"])
}

func TestOpsLogin_MissingFields(t *testing.T) {
	f := newOpsHandlerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/ops/login", bytes.NewBufferString(`{"username":"admin"}`))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VAL_001", decodeError(t, w)["error_code"])
}

func TestOpsListOrders_ForwardsFilters(t *testing.T) {
	f := newOpsHandlerFixture(t)

	f.opsSvc.EXPECT().
		ListOrders(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ interface{}, params ports.OrderListParams) ([]*domain.Order, int64, error) {
			assert.Equal(t, "buyer@example.com", params.Email)
			require.NotNil(t, params.Status)
			assert.Equal(t, domain.OrderStatusProcessing, *params.Status)
			assert.Equal(t, 2, params.Page)
			assert.Equal(t, 10, params.PageSize)
			return []*domain.Order{}, 25, nil
		})

	req := httptest.NewRequest(http.MethodGet, "/ops/orders?email=buyer@example.com&status=processing&page=2&page_size=10", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, float64(25), data["total"])
	assert.Equal(t, float64(3), data["total_pages"])
}

func TestOpsListWebhookEvents_ForwardsFilters(t *testing.T) {
	f := newOpsHandlerFixture(t)

	f.opsSvc.EXPECT().
		ListWebhookEvents(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ interface{}, params ports.EventLogListParams) ([]domain.WebhookEventRecord, int64, error) {
			require.NotNil(t, params.EventType)
			assert.Equal(t, domain.EventTypeTransfer, *params.EventType)
			require.NotNil(t, params.Outcome)
			assert.Equal(t, domain.EventOutcomeDuplicate, *params.Outcome)
			require.NotNil(t, params.OrderID)
			assert.Equal(t, int64(12), *params.OrderID)
			return []domain.WebhookEventRecord{}, 0, nil
		})

	req := httptest.NewRequest(http.MethodGet, "/ops/webhook-events?event_type=transfer&outcome=duplicate&order_id=12", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestOpsRefund_EmptyBodyMeansFullRefund(t *testing.T) {
	f := newOpsHandlerFixture(t)

	f.opsSvc.EXPECT().
		InitiateRefund(gomock.Any(), ports.RefundRequest{OrderID: 9}).
		Return(&ports.RefundResult{OrderID: 9, TransferID: "tr_1"}, nil)

	req := httptest.NewRequest(http.MethodPost, "/ops/orders/9/refund", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "tr_1", data["transfer_id"])
}

func TestOpsRefund_PartialWithDestination(t *testing.T) {
	f := newOpsHandlerFixture(t)

	f.opsSvc.EXPECT().
		InitiateRefund(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ interface{}, req ports.RefundRequest) (*ports.RefundResult, error) {
			assert.Equal(t, int64(9), req.OrderID)
			require.NotNil(t, req.Amount)
			assert.Equal(t, 10.5, *req.Amount)
			assert.Equal(t, "0xabc123", req.ToAddress)
			return &ports.RefundResult{OrderID: 9, TransferID: "tr_2"}, nil
		})

	body := `{"amount": 10.5, "to_address": "0xabc123"}`
	req := httptest.NewRequest(http.MethodPost, "/ops/orders/9/refund", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestOpsRefund_NegativeAmountRejected(t *testing.T) {
	f := newOpsHandlerFixture(t)

	body := `{"amount": -5}`
	req := httptest.NewRequest(http.MethodPost, "/ops/orders/9/refund", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VAL_001", decodeError(t, w)["error_code"])
}

// --- Router wiring ---

func newTestRouter(t *testing.T) (*mocks.MockTokenService, *mocks.MockOpsService, *gin.Engine) {
	ctrl := gomock.NewController(t)
	tokenSvc := mocks.NewMockTokenService(ctrl)
	opsSvc := mocks.NewMockOpsService(ctrl)

	router := SetupRouter(RouterDeps{
		ProcessorSvc:    mocks.NewMockWebhookProcessor(ctrl),
		RecorderSvc:     mocks.NewMockEventRecorder(ctrl),
		CheckoutSvc:     mocks.NewMockCheckoutService(ctrl),
		SubscriptionSvc: mocks.NewMockSubscriptionService(ctrl),
		AuthSvc:         mocks.NewMockAuthService(ctrl),
		OpsSvc:          opsSvc,
		TokenSvc:        tokenSvc,
		SigSvc:          mocks.NewMockSignatureService(ctrl),
		Logger:          zerolog.Nop(),
	})
	return tokenSvc, opsSvc, router
}

func TestRouter_OpsRoutesRequireJWT(t *testing.T) {
	tokenSvc, opsSvc, router := newTestRouter(t)

	// No token -> rejected before the service is touched.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/ops/orders", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Valid token -> passes through to the handler.
	tokenSvc.EXPECT().Validate("good_token").Return(&ports.TokenClaims{Subject: "admin"}, nil)
	opsSvc.EXPECT().ListOrders(gomock.Any(), gomock.Any()).Return([]*domain.Order{}, int64(0), nil)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/ops/orders", nil)
	req.Header.Set("Authorization", "Bearer good_token")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_StatsRouteNotShadowedByOrderID(t *testing.T) {
	tokenSvc, opsSvc, router := newTestRouter(t)

	tokenSvc.EXPECT().Validate("good_token").Return(&ports.TokenClaims{Subject: "admin"}, nil)
	opsSvc.EXPECT().OrderStats(gomock.Any()).Return(&ports.OrderStats{Total: 3}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ops/orders/stats", nil)
	req.Header.Set("Authorization", "Bearer good_token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, float64(3), data["total"])
}

func TestRouter_RequestIDPropagated(t *testing.T) {
	_, _, router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-abc")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-abc", w.Header().Get("X-Request-ID"))
}
