package handler

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"

	"coinsub-commerce-bridge/internal/adapter/http/dto"
	"coinsub-commerce-bridge/internal/core/domain"
	"coinsub-commerce-bridge/internal/core/ports"
	"coinsub-commerce-bridge/pkg/apperror"
	"coinsub-commerce-bridge/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const (
	// HeaderWebhookSecret carries the shared secret on a delivery.
	HeaderWebhookSecret = "X-Coinsub-Secret"
	// HeaderWebhookSignature carries the HMAC-SHA256 of the raw body.
	HeaderWebhookSignature = "X-Coinsub-Signature"
	// HeaderEventID is the provider's delivery id, used for idempotency.
	HeaderEventID = "X-Event-ID"
)

// WebhookHandler receives CoinSub webhook deliveries.
type WebhookHandler struct {
	processor ports.WebhookProcessor
	recorder  ports.EventRecorder
	sigSvc    ports.SignatureService
	secret    string
	enforce   bool // reject deliveries with a bad or missing signature
	log       zerolog.Logger
}

// NewWebhookHandler creates a new WebhookHandler. An empty secret disables the
// shared-secret check.
func NewWebhookHandler(
	processor ports.WebhookProcessor,
	recorder ports.EventRecorder,
	sigSvc ports.SignatureService,
	secret string,
	enforceSignature bool,
	log zerolog.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		processor: processor,
		recorder:  recorder,
		sigSvc:    sigSvc,
		secret:    secret,
		enforce:   enforceSignature,
		log:       log,
	}
}

// Receive handles POST /api/v1/webhook. Handled deliveries are always
// acknowledged with 200 so the provider does not redeliver events whose
// disposition will never change; only authentication failures, malformed
// payloads and infrastructure errors are non-200.
func (h *WebhookHandler) Receive(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.Error(c, apperror.ErrWebhookBadPayload(err))
		return
	}

	var event domain.Event
	if err := json.Unmarshal(body, &event); err != nil {
		h.log.Warn().Err(err).Msg("webhook payload unparseable")
		response.Error(c, apperror.ErrWebhookBadPayload(err))
		return
	}

	if !h.authenticate(c, &event, body) {
		return
	}

	outcome, err := h.processor.Process(c.Request.Context(), &event, c.GetHeader(HeaderEventID))
	if err != nil {
		response.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.WebhookAck{Outcome: string(outcome)})
}

// authenticate applies the shared-secret and signature checks. It writes the
// error response itself and returns false when the delivery must be rejected.
func (h *WebhookHandler) authenticate(c *gin.Context, event *domain.Event, body []byte) bool {
	if h.secret != "" {
		delivered := c.Query("secret")
		if delivered == "" {
			delivered = c.GetHeader(HeaderWebhookSecret)
		}
		if delivered == "" {
			delivered = event.Secret
		}
		if subtle.ConstantTimeCompare([]byte(delivered), []byte(h.secret)) != 1 {
			h.log.Warn().Str("origin_id", event.OriginID).Msg("webhook secret mismatch")
			h.recorder.Record(event, nil, domain.EventOutcomeUnauthorized, "secret mismatch")
			response.Error(c, apperror.ErrWebhookSecretMismatch())
			return false
		}
	}

	signature := c.GetHeader(HeaderWebhookSignature)
	if signature != "" || h.enforce {
		valid := signature != "" && h.sigSvc.Verify(h.secret, body, signature)
		if !valid {
			if h.enforce {
				h.recorder.Record(event, nil, domain.EventOutcomeUnauthorized, "signature mismatch")
				response.Error(c, apperror.ErrWebhookSignatureMismatch())
				return false
			}
			// The provider does not sign all deliveries consistently yet.
			h.log.Warn().Str("origin_id", event.OriginID).Msg("webhook signature invalid, accepted without enforcement")
		}
	}

	return true
}
