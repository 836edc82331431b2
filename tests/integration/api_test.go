package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	httpHandler "coinsub-commerce-bridge/internal/adapter/http/handler"
	redisStorage "coinsub-commerce-bridge/internal/adapter/storage/redis"
	"coinsub-commerce-bridge/internal/core/domain"
	"coinsub-commerce-bridge/internal/core/ports"
	"coinsub-commerce-bridge/internal/service"
	"coinsub-commerce-bridge/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testWebhookSecret = "integration-secret"
	testOpsUser       = "ops-admin"
	testOpsPassword   = "integration-pass"
)

// testApp builds the full application stack on in-memory storage: miniredis
// behind the real Redis stores, in-memory postgres repo doubles, and the real
// services, middleware and handlers between them. Requests travel the same
// path they would in production, minus the network hops to postgres and the
// CoinSub API.
type testApp struct {
	server   *httptest.Server
	redis    *miniredis.Miniredis
	rdb      *goredis.Client
	orders   *inMemoryOrderRepo
	events   *inMemoryEventLogRepo
	provider *stubProvider
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})

	log := logger.New("error", false)

	orders := newInMemoryOrderRepo()
	customers := newInMemoryCustomerRepo()
	events := newInMemoryEventLogRepo()
	provider := &stubProvider{}

	dedupeStore := redisStorage.NewDedupeStore(rdb)
	sessionStore := redisStorage.NewSessionStore(rdb)
	rateLimitStore := redisStorage.NewRateLimitStore(rdb)

	sigSvc := service.NewHMACSignatureService()
	hashSvc := service.NewArgon2HashService()
	tokenSvc := service.NewJWTTokenService("integration-jwt-secret", time.Hour, "coinsub-commerce-bridge")

	passwordHash, err := hashSvc.Hash(testOpsPassword)
	require.NoError(t, err)

	authSvc := service.NewAuthService(testOpsUser, passwordHash, hashSvc, tokenSvc)
	recorderSvc := service.NewEventRecorder(events, log)
	processorSvc := service.NewWebhookProcessor(orders, customers, dedupeStore, sessionStore, recorderSvc, log)
	checkoutSvc := service.NewCheckoutService(orders, sessionStore, provider, "mrch_integration", log)
	subscriptionSvc := service.NewSubscriptionService(orders, provider, log)
	opsSvc := service.NewOpsService(orders, events, provider, log)

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		ProcessorSvc:    processorSvc,
		RecorderSvc:     recorderSvc,
		CheckoutSvc:     checkoutSvc,
		SubscriptionSvc: subscriptionSvc,
		AuthSvc:         authSvc,
		OpsSvc:          opsSvc,
		TokenSvc:        tokenSvc,
		SigSvc:          sigSvc,
		WebhookSecret:   testWebhookSecret,
		RateLimitStore:  rateLimitStore,
		HealthCheckers:  []ports.HealthChecker{redisStorage.NewHealthCheck(rdb)},
		Logger:          log,
	})

	server := httptest.NewServer(router)

	app := &testApp{
		server:   server,
		redis:    mr,
		rdb:      rdb,
		orders:   orders,
		events:   events,
		provider: provider,
	}
	t.Cleanup(app.close)
	return app
}

func (a *testApp) close() {
	a.server.Close()
	a.rdb.Close()
	a.redis.Close()
}

func (a *testApp) postJSON(t *testing.T, path, body string, headers map[string]string) (int, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, a.server.URL+path, bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode, decodeBody(t, resp.Body)
}

func (a *testApp) get(t *testing.T, path string, headers map[string]string) (int, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, a.server.URL+path, nil)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode, decodeBody(t, resp.Body)
}

func decodeBody(t *testing.T, r io.Reader) map[string]interface{} {
	t.Helper()
	raw, err := io.ReadAll(r)
	require.NoError(t, err)
	var m map[string]interface{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &m), "body: %s", raw)
	}
	return m
}

func data(t *testing.T, body map[string]interface{}) map[string]interface{} {
	t.Helper()
	d, ok := body["data"].(map[string]interface{})
	require.True(t, ok, "expected data envelope, got: %v", body)
	return d
}

// opsToken logs the operator in and returns the Authorization header value.
func (a *testApp) opsToken(t *testing.T) string {
	t.Helper()
	code, body := a.postJSON(t, "/api/v1/ops/login",
		fmt.Sprintf(`{"username":%q,"password":%q}`, testOpsUser, testOpsPassword), nil)
	require.Equal(t, 200, code, "login failed: %v", body)
	return "Bearer " + data(t, body)["token"].(string)
}

func checkoutBody(email string) string {
	return fmt.Sprintf(`{
		"currency": "USD",
		"billing": {"first_name": "Pat", "email": %q},
		"items": [{"name": "Widget", "product_id": 11, "quantity": 2, "price": 20, "requires_shipping": true}],
		"success_url": "https://shop.example.com/thanks",
		"cancel_url": "https://shop.example.com/cart"
	}`, email)
}

func webhookPath() string {
	return "/api/v1/webhook?secret=" + testWebhookSecret
}

func TestHealthEndpoint(t *testing.T) {
	app := newTestApp(t)

	code, body := app.get(t, "/health", nil)
	assert.Equal(t, 200, code)
	assert.Equal(t, "healthy", body["status"])
}

func TestWebhookRejectsWrongSecret(t *testing.T) {
	app := newTestApp(t)

	code, body := app.postJSON(t, "/api/v1/webhook?secret=wrong",
		`{"type":"payment","origin_id":"sess_x"}`, nil)
	assert.Equal(t, 401, code)
	assert.Equal(t, "WBH_001", body["error_code"])
}

func TestWebhookUnresolvedIsAcknowledged(t *testing.T) {
	app := newTestApp(t)

	code, body := app.postJSON(t, webhookPath(),
		`{"type":"payment","origin_id":"no-such-session","merchant_id":"mrch_integration"}`, nil)
	assert.Equal(t, 200, code)
	assert.Equal(t, "unresolved", body["outcome"])
}

// TestCheckoutToRefundFlow drives one order through its whole life: checkout
// session, payment webhook, status polling, operator refund, transfer webhook,
// and dedupe of the redelivered transfer.
func TestCheckoutToRefundFlow(t *testing.T) {
	app := newTestApp(t)

	// Create the hosted checkout session.
	code, body := app.postJSON(t, "/api/v1/checkout/sessions", checkoutBody("buyer@example.com"), nil)
	require.Equal(t, 201, code, "checkout failed: %v", body)
	d := data(t, body)
	orderID := int64(d["order_id"].(float64))
	require.Equal(t, "itest1", d["session_id"])
	require.Contains(t, d["checkout_url"], "itest1")

	// Unpaid order polls as pending.
	code, body = app.get(t, fmt.Sprintf("/api/v1/checkout/orders/%d/status", orderID), nil)
	require.Equal(t, 200, code)
	d = data(t, body)
	assert.Equal(t, "pending", d["status"])
	assert.Equal(t, false, d["paid"])

	// Provider delivers the payment event.
	paymentEvent := `{
		"type": "payment",
		"origin_id": "itest1",
		"merchant_id": "mrch_integration",
		"payment_id": "pay_1",
		"transaction_details": {
			"hash": "0xpayhash",
			"network": "Polygon",
			"chain_id": 137,
			"currency": "USDC",
			"wallet_address": "0xcustomer"
		}
	}`
	code, body = app.postJSON(t, webhookPath(), paymentEvent, map[string]string{"X-Event-ID": "evt_pay_1"})
	require.Equal(t, 200, code)
	require.Equal(t, "processed", body["outcome"])

	// Shippable order settles to processing; the first poll consumes the
	// redirect flag, the second does not see it again.
	code, body = app.get(t, fmt.Sprintf("/api/v1/checkout/orders/%d/status", orderID), nil)
	require.Equal(t, 200, code)
	d = data(t, body)
	assert.Equal(t, "processing", d["status"])
	assert.Equal(t, true, d["paid"])
	assert.Equal(t, true, d["redirect"])

	code, body = app.get(t, fmt.Sprintf("/api/v1/checkout/orders/%d/status", orderID), nil)
	require.Equal(t, 200, code)
	assert.Equal(t, false, data(t, body)["redirect"])

	// Operator sees the settled order with its transaction meta.
	token := app.opsToken(t)
	code, body = app.get(t, fmt.Sprintf("/api/v1/ops/orders/%d", orderID), map[string]string{"Authorization": token})
	require.Equal(t, 200, code)
	meta := data(t, body)["meta"].(map[string]interface{})
	assert.Equal(t, "0xpayhash", meta[domain.MetaTransactionHash])
	assert.Equal(t, "137", meta[domain.MetaChainID])
	assert.Equal(t, "0xcustomer", meta[domain.MetaWalletAddress])

	// Empty refund body means full refund to the stored customer wallet.
	code, body = app.postJSON(t, fmt.Sprintf("/api/v1/ops/orders/%d/refund", orderID), "", map[string]string{"Authorization": token})
	require.Equal(t, 201, code, "refund failed: %v", body)
	transferID := data(t, body)["transfer_id"].(string)
	require.Equal(t, "itr1", transferID)

	// A second refund while one is in flight is rejected.
	code, body = app.postJSON(t, fmt.Sprintf("/api/v1/ops/orders/%d/refund", orderID), "", map[string]string{"Authorization": token})
	require.Equal(t, 422, code)
	assert.Equal(t, "ORD_006", body["error_code"])

	// The transfer webhook completes the refund.
	transferEvent := fmt.Sprintf(`{
		"type": "transfer",
		"transfer_id": %q,
		"merchant_id": "mrch_integration",
		"transaction_details": {"hash": "0xrefundhash"}
	}`, transferID)
	code, body = app.postJSON(t, webhookPath(), transferEvent, map[string]string{"X-Event-ID": "evt_tr_1"})
	require.Equal(t, 200, code)
	require.Equal(t, "processed", body["outcome"])

	code, body = app.get(t, fmt.Sprintf("/api/v1/ops/orders/%d", orderID), map[string]string{"Authorization": token})
	require.Equal(t, 200, code)
	d = data(t, body)
	assert.Equal(t, "refunded", d["status"])
	meta = d["meta"].(map[string]interface{})
	assert.Equal(t, "completed", meta[domain.MetaRefundStatus])
	assert.Equal(t, "0xrefundhash", meta[domain.MetaRefundTxHash])

	// Redelivery of the same transfer under a new delivery id is deduped.
	code, body = app.postJSON(t, webhookPath(), transferEvent, map[string]string{"X-Event-ID": "evt_tr_2"})
	require.Equal(t, 200, code)
	assert.Equal(t, "duplicate", body["outcome"])

	// The event log captured every disposition.
	assert.Eventually(t, func() bool {
		return app.events.countByOutcome(domain.EventOutcomeProcessed) == 2 &&
			app.events.countByOutcome(domain.EventOutcomeDuplicate) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

// TestSubscriptionLifecycle covers the recurring path: subscription checkout,
// initial charge, a renewal charge cloning the order, next-payment lookup and
// cancellation.
func TestSubscriptionLifecycle(t *testing.T) {
	app := newTestApp(t)

	subBody := `{
		"currency": "USD",
		"billing": {"email": "subscriber@example.com"},
		"items": [{"name": "Gold Plan", "quantity": 1, "price": 15, "is_subscription": true}],
		"plan": {"frequency": 1, "interval": "month", "duration": 12},
		"success_url": "https://shop.example.com/thanks",
		"cancel_url": "https://shop.example.com/cart"
	}`
	code, body := app.postJSON(t, "/api/v1/checkout/sessions", subBody, nil)
	require.Equal(t, 201, code, "checkout failed: %v", body)
	orderID := int64(data(t, body)["order_id"].(float64))

	// The initial charge settles the subscription order itself. Digital item,
	// so it completes instead of moving to processing.
	initialCharge := `{
		"type": "payment",
		"origin_id": "itest1",
		"merchant_id": "mrch_integration",
		"agreement_id": "agr_1",
		"payment_id": "pay_sub_1"
	}`
	code, body = app.postJSON(t, webhookPath(), initialCharge, nil)
	require.Equal(t, 200, code)
	require.Equal(t, "processed", body["outcome"])

	token := app.opsToken(t)
	code, body = app.get(t, fmt.Sprintf("/api/v1/ops/orders/%d", orderID), map[string]string{"Authorization": token})
	require.Equal(t, 200, code)
	assert.Equal(t, "completed", data(t, body)["status"])

	// A later charge under the same agreement spawns a renewal order.
	renewalCharge := `{
		"type": "payment",
		"merchant_id": "mrch_integration",
		"agreement_id": "agr_1",
		"payment_id": "pay_sub_2"
	}`
	code, body = app.postJSON(t, webhookPath(), renewalCharge, nil)
	require.Equal(t, 200, code)
	require.Equal(t, "processed", body["outcome"])

	code, body = app.get(t, fmt.Sprintf("/api/v1/ops/orders/%d", orderID), map[string]string{"Authorization": token})
	require.Equal(t, 200, code)
	meta := data(t, body)["meta"].(map[string]interface{})
	renewalID, _ := meta[domain.MetaRenewalOrders].(string)
	require.NotEmpty(t, renewalID)

	code, body = app.get(t, "/api/v1/ops/orders/"+renewalID, map[string]string{"Authorization": token})
	require.Equal(t, 200, code)
	d := data(t, body)
	assert.Equal(t, "completed", d["status"])
	renewalMeta := d["meta"].(map[string]interface{})
	assert.Equal(t, "yes", renewalMeta[domain.MetaIsRenewalOrder])
	assert.Equal(t, fmt.Sprint(orderID), renewalMeta[domain.MetaParentOrder])

	// Next payment comes from the provider agreement.
	next := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	app.provider.mu.Lock()
	app.provider.nextPayment = &next
	app.provider.mu.Unlock()

	code, body = app.get(t, fmt.Sprintf("/api/v1/subscriptions/%d/next-payment", orderID), nil)
	require.Equal(t, 200, code)
	assert.Equal(t, "2026-11-01T00:00:00Z", data(t, body)["next_payment"])

	// Cancellation is requested at the provider and noted on the order.
	code, body = app.postJSON(t, fmt.Sprintf("/api/v1/subscriptions/%d/cancel", orderID), "", nil)
	require.Equal(t, 200, code)
	assert.Equal(t, "cancellation_requested", data(t, body)["status"])

	code, body = app.get(t, fmt.Sprintf("/api/v1/ops/orders/%d", orderID), map[string]string{"Authorization": token})
	require.Equal(t, 200, code)
	meta = data(t, body)["meta"].(map[string]interface{})
	assert.Equal(t, "cancellation_requested", meta[domain.MetaSubscriptionStatus])
}

func TestCheckoutCartRulesEnforced(t *testing.T) {
	app := newTestApp(t)

	mixedCart := `{
		"currency": "USD",
		"billing": {"email": "mixed@example.com"},
		"items": [
			{"name": "Gold Plan", "quantity": 1, "price": 15, "is_subscription": true},
			{"name": "Widget", "quantity": 1, "price": 5}
		],
		"plan": {"frequency": 1, "interval": "month"},
		"success_url": "https://shop.example.com/thanks",
		"cancel_url": "https://shop.example.com/cart"
	}`
	code, body := app.postJSON(t, "/api/v1/checkout/sessions", mixedCart, nil)
	assert.Equal(t, 422, code)
	assert.Equal(t, "ORD_003", body["error_code"])

	// No order survives a rejected cart.
	code, body = app.get(t, "/api/v1/ops/orders", map[string]string{"Authorization": app.opsToken(t)})
	require.Equal(t, 200, code)
	assert.Equal(t, float64(0), data(t, body)["total"])
}

func TestOpsEndpointsRequireToken(t *testing.T) {
	app := newTestApp(t)

	code, body := app.get(t, "/api/v1/ops/orders", nil)
	assert.Equal(t, 401, code)
	assert.Equal(t, "AUTH_002", body["error_code"])

	code, body = app.postJSON(t, "/api/v1/ops/login",
		fmt.Sprintf(`{"username":%q,"password":"nope"}`, testOpsUser), nil)
	assert.Equal(t, 401, code)
	assert.Equal(t, "AUTH_001", body["error_code"])
}

func TestOpsStatsAggregateOrders(t *testing.T) {
	app := newTestApp(t)

	// Two checkouts, one settled.
	code, body := app.postJSON(t, "/api/v1/checkout/sessions", checkoutBody("one@example.com"), nil)
	require.Equal(t, 201, code, "checkout failed: %v", body)
	code, _ = app.postJSON(t, "/api/v1/checkout/sessions", checkoutBody("two@example.com"), nil)
	require.Equal(t, 201, code)

	code, body = app.postJSON(t, webhookPath(),
		`{"type":"payment","origin_id":"itest1","merchant_id":"mrch_integration","payment_id":"pay_1"}`, nil)
	require.Equal(t, 200, code)
	require.Equal(t, "processed", body["outcome"])

	code, body = app.get(t, "/api/v1/ops/orders/stats", map[string]string{"Authorization": app.opsToken(t)})
	require.Equal(t, 200, code)
	d := data(t, body)
	assert.Equal(t, float64(2), d["total"])
	assert.Equal(t, float64(40), d["total_sales"]) // 2 x 20 on the settled order
	byStatus := d["by_status"].(map[string]interface{})
	assert.Equal(t, float64(1), byStatus["processing"])
	assert.Equal(t, float64(1), byStatus["pending"])
}
