package coinsub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"coinsub-commerce-bridge/internal/core/ports"
	"coinsub-commerce-bridge/pkg/apperror"

	"github.com/rs/zerolog"
)

// Client is the outbound CoinSub API client implementing ports.CoinSubClient.
// All merchants talk to the same API host; the Merchant-ID header identifies
// the caller. The API key is only required for transfer (refund) operations.
type Client struct {
	httpClient *http.Client
	baseURL    string
	merchantID string
	apiKey     string
	log        zerolog.Logger
}

// Config holds the CoinSub API client settings.
type Config struct {
	BaseURL    string
	MerchantID string
	APIKey     string
	Timeout    time.Duration
}

// NewClient creates a CoinSub API client.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		merchantID: cfg.MerchantID,
		apiKey:     cfg.APIKey,
		log:        log,
	}
}

type purchaseSessionPayload struct {
	Name       string            `json:"name"`
	Details    string            `json:"details"`
	Currency   string            `json:"currency"`
	Amount     float64           `json:"amount"`
	Recurring  bool              `json:"recurring"`
	Metadata   map[string]string `json:"metadata"`
	SuccessURL string            `json:"success_url"`
	CancelURL  string            `json:"cancel_url"`
	FailureURL string            `json:"failure_url"`
	Frequency  int               `json:"frequency,omitempty"`
	Interval   string            `json:"interval,omitempty"`
	Duration   int               `json:"duration,omitempty"`
}

type purchaseSessionResponse struct {
	Data struct {
		PurchaseSessionID string `json:"purchase_session_id"`
		URL               string `json:"url"`
		MerchantID        string `json:"merchant_id"`
	} `json:"data"`
}

// StartPurchaseSession creates a hosted checkout session. The returned session
// id has its "sess_" prefix stripped: the API returns sess_<uuid> but the
// checkout URL and webhook origin id use the bare uuid.
func (c *Client) StartPurchaseSession(ctx context.Context, req ports.PurchaseSessionRequest) (*ports.PurchaseSession, error) {
	payload := purchaseSessionPayload{
		Name:       req.Name,
		Details:    fmt.Sprintf("Order #%d", req.OrderID),
		Currency:   req.Currency,
		Amount:     req.Amount,
		Recurring:  req.Recurring,
		Metadata:   map[string]string{"order_id": strconv.FormatInt(req.OrderID, 10)},
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
		FailureURL: req.CancelURL,
	}
	if req.Recurring {
		payload.Frequency = req.Frequency
		payload.Interval = req.Interval
		payload.Duration = req.Duration
	}

	var resp purchaseSessionResponse
	if err := c.do(ctx, http.MethodPost, "/purchase/session/start", payload, &resp); err != nil {
		return nil, err
	}

	sessionID := strings.TrimPrefix(resp.Data.PurchaseSessionID, "sess_")
	if sessionID == "" || resp.Data.URL == "" {
		return nil, apperror.ErrProviderRejected("purchase session response missing session id or url")
	}

	return &ports.PurchaseSession{
		SessionID:   sessionID,
		CheckoutURL: resp.Data.URL,
		MerchantID:  resp.Data.MerchantID,
	}, nil
}

// GetPurchaseSessionStatus returns the provider-side status of a session.
func (c *Client) GetPurchaseSessionStatus(ctx context.Context, sessionID string) (string, error) {
	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Status string `json:"status"`
		} `json:"data"`
	}
	path := "/purchase/status/" + strings.TrimPrefix(sessionID, "sess_")
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return "", err
	}
	if resp.Data.Status != "" {
		return resp.Data.Status, nil
	}
	return resp.Status, nil
}

// CancelAgreement requests cancellation of a recurring agreement.
func (c *Client) CancelAgreement(ctx context.Context, agreementID string) error {
	return c.do(ctx, http.MethodPost, "/agreements/cancel/"+agreementID, nil, nil)
}

// RetrieveAgreement fetches the provider's view of an agreement. The next
// payment date has appeared under several keys across API revisions, so all
// known spellings are accepted.
func (c *Client) RetrieveAgreement(ctx context.Context, agreementID string) (*ports.AgreementInfo, error) {
	var resp map[string]json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/agreements/"+agreementID+"/retrieve_agreement", nil, &resp); err != nil {
		return nil, err
	}

	// Some responses wrap the agreement in a data envelope.
	if raw, ok := resp["data"]; ok {
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(raw, &inner); err == nil && len(inner) > 0 {
			resp = inner
		}
	}

	info := &ports.AgreementInfo{ID: agreementID}
	if raw, ok := resp["status"]; ok {
		_ = json.Unmarshal(raw, &info.Status)
	}
	for _, key := range []string{"next_process_date", "next_processing", "nextProcessDate", "nextProcess"} {
		raw, ok := resp[key]
		if !ok {
			continue
		}
		var value string
		if err := json.Unmarshal(raw, &value); err != nil || value == "" {
			continue
		}
		if t, err := parseProviderTime(value); err == nil {
			info.NextPayment = &t
			break
		}
	}
	return info, nil
}

type transferPayload struct {
	ToAddress string  `json:"to_address"`
	Amount    float64 `json:"amount"`
	ChainID   int64   `json:"chainId"`
	Token     string  `json:"token"`
}

type transferResponse struct {
	TransferID string `json:"transfer_id"`
	Data       struct {
		TransferID string `json:"transfer_id"`
	} `json:"data"`
}

// RequestTransfer asks the merchant wallet to send funds out, used for
// refunds. Requires the API key.
func (c *Client) RequestTransfer(ctx context.Context, req ports.TransferRequest) (*ports.TransferResult, error) {
	chainID, err := strconv.ParseInt(req.ChainID, 10, 64)
	if err != nil {
		return nil, apperror.Validation(fmt.Sprintf("invalid chain id %q", req.ChainID))
	}

	var resp transferResponse
	payload := transferPayload{
		ToAddress: req.ToAddress,
		Amount:    req.Amount,
		ChainID:   chainID,
		Token:     req.Token,
	}
	if err := c.do(ctx, http.MethodPost, "/merchants/transfer/request", payload, &resp); err != nil {
		return nil, err
	}

	transferID := resp.Data.TransferID
	if transferID == "" {
		transferID = resp.TransferID
	}
	if transferID == "" {
		return nil, apperror.ErrProviderRejected("transfer response missing transfer id")
	}
	return &ports.TransferResult{TransferID: transferID}, nil
}

// do executes one API request and decodes the response into out (when non-nil).
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return apperror.InternalError(fmt.Errorf("encode request: %w", err))
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Merchant-ID", c.merchantID)
	req.Header.Set("API-Key", c.apiKey)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperror.ErrProviderUnavailable(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperror.ErrProviderUnavailable(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		c.log.Warn().
			Str("method", method).
			Str("path", path).
			Int("status", resp.StatusCode).
			Msg("coinsub api request rejected")
		return apperror.ErrProviderRejected(extractAPIError(respBody, resp.StatusCode))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return apperror.ErrProviderRejected(fmt.Sprintf("malformed response: %v", err))
	}
	return nil
}

// extractAPIError pulls the human-readable message out of an error response.
func extractAPIError(body []byte, status int) string {
	var parsed struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Error != "" {
			return parsed.Error
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	return fmt.Sprintf("API request failed with status %d", status)
}

// parseProviderTime accepts the date formats the API has been seen returning.
func parseProviderTime(value string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time format %q", value)
}
