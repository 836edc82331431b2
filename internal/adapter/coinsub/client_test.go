package coinsub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"coinsub-commerce-bridge/internal/core/ports"
	"coinsub-commerce-bridge/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL:    srv.URL,
		MerchantID: "merchant-123",
		APIKey:     "key-abc",
		Timeout:    5 * time.Second,
	}, zerolog.Nop())
}

func TestStartPurchaseSession(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/purchase/session/start", r.URL.Path)
		assert.Equal(t, "merchant-123", r.Header.Get("Merchant-ID"))
		assert.Equal(t, "key-abc", r.Header.Get("API-Key"))
		assert.Equal(t, "Bearer key-abc", r.Header.Get("Authorization"))

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "Premium Plan", payload["name"])
		assert.Equal(t, true, payload["recurring"])
		assert.Equal(t, float64(1), payload["frequency"])
		meta, ok := payload["metadata"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "42", meta["order_id"])
		// failure_url falls back to the cancel url
		assert.Equal(t, payload["cancel_url"], payload["failure_url"])

		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"purchase_session_id": "sess_abc-123",
				"url":                 "https://checkout.coinsub.io/abc-123",
				"merchant_id":         "mrch_789",
			},
		})
	})

	session, err := client.StartPurchaseSession(context.Background(), ports.PurchaseSessionRequest{
		OrderID:    42,
		Name:       "Premium Plan",
		Amount:     19.99,
		Currency:   "USD",
		SuccessURL: "https://shop.test/thanks",
		CancelURL:  "https://shop.test/cart",
		Recurring:  true,
		Frequency:  1,
		Interval:   "month",
		Duration:   0,
	})

	require.NoError(t, err)
	assert.Equal(t, "abc-123", session.SessionID, "sess_ prefix should be stripped")
	assert.Equal(t, "https://checkout.coinsub.io/abc-123", session.CheckoutURL)
	assert.Equal(t, "mrch_789", session.MerchantID)
}

func TestStartPurchaseSession_APIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid currency"})
	})

	_, err := client.StartPurchaseSession(context.Background(), ports.PurchaseSessionRequest{OrderID: 1})

	require.Error(t, err)
	appErr, ok := err.(*apperror.AppError)
	require.True(t, ok)
	assert.Equal(t, "CSB_002", appErr.Code)
	assert.Contains(t, appErr.Message, "invalid currency")
}

func TestGetPurchaseSessionStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/purchase/status/abc-123", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"status": "completed"}})
	})

	// Prefixed ids are normalized before hitting the API.
	status, err := client.GetPurchaseSessionStatus(context.Background(), "sess_abc-123")

	require.NoError(t, err)
	assert.Equal(t, "completed", status)
}

func TestCancelAgreement(t *testing.T) {
	var gotPath string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.Equal(t, http.MethodPost, r.Method)
		json.NewEncoder(w).Encode(map[string]string{"status": "cancelled"})
	})

	err := client.CancelAgreement(context.Background(), "agr_555")

	require.NoError(t, err)
	assert.Equal(t, "/agreements/cancel/agr_555", gotPath)
}

func TestRetrieveAgreement_NextPaymentKeys(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
		want string
	}{
		{
			name: "snake case",
			body: map[string]any{"status": "active", "next_process_date": "2026-09-15T00:00:00Z"},
			want: "2026-09-15",
		},
		{
			name: "camel case in data envelope",
			body: map[string]any{"data": map[string]any{"status": "active", "nextProcessDate": "2026-10-01"}},
			want: "2026-10-01",
		},
		{
			name: "alternate key",
			body: map[string]any{"next_processing": "2026-11-20 08:30:00"},
			want: "2026-11-20",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/agreements/agr_1/retrieve_agreement", r.URL.Path)
				json.NewEncoder(w).Encode(tt.body)
			})

			info, err := client.RetrieveAgreement(context.Background(), "agr_1")

			require.NoError(t, err)
			require.NotNil(t, info.NextPayment)
			assert.Equal(t, tt.want, info.NextPayment.Format("2006-01-02"))
		})
	}
}

func TestRetrieveAgreement_NoNextPayment(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": "cancelled"})
	})

	info, err := client.RetrieveAgreement(context.Background(), "agr_2")

	require.NoError(t, err)
	assert.Equal(t, "cancelled", info.Status)
	assert.Nil(t, info.NextPayment)
}

func TestRequestTransfer(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/merchants/transfer/request", r.URL.Path)

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "0xabc", payload["to_address"])
		assert.Equal(t, 25.5, payload["amount"])
		assert.Equal(t, float64(137), payload["chainId"], "chainId goes out numeric")
		assert.Equal(t, "USDC", payload["token"])

		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"transfer_id": "tr_99"}})
	})

	result, err := client.RequestTransfer(context.Background(), ports.TransferRequest{
		ToAddress: "0xabc",
		Amount:    25.5,
		ChainID:   "137",
		Token:     "USDC",
	})

	require.NoError(t, err)
	assert.Equal(t, "tr_99", result.TransferID)
}

func TestRequestTransfer_BadChainID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})

	_, err := client.RequestTransfer(context.Background(), ports.TransferRequest{
		ToAddress: "0xabc",
		Amount:    1,
		ChainID:   "polygon",
	})

	require.Error(t, err)
	appErr, ok := err.(*apperror.AppError)
	require.True(t, ok)
	assert.Equal(t, "VAL_001", appErr.Code)
}

func TestProviderUnreachable(t *testing.T) {
	client := NewClient(Config{
		BaseURL:    "http://127.0.0.1:1",
		MerchantID: "m",
		Timeout:    time.Second,
	}, zerolog.Nop())

	err := client.CancelAgreement(context.Background(), "agr_1")

	require.Error(t, err)
	appErr, ok := err.(*apperror.AppError)
	require.True(t, ok)
	assert.Equal(t, "CSB_001", appErr.Code)
}
