package razorpay

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Manialer35/avishkar-career-compass-sub001/internal/metrics"
)

const (
	SignatureHeader = "X-Razorpay-Signature"
	EventIDHeader   = "X-Razorpay-Event-Id"

	EventPaymentCaptured = "payment.captured"

	maxWebhookBody = 1 << 20
)

// WebhookEvent contains metadata and payload from a Razorpay webhook delivery.
type WebhookEvent struct {
	ID         string
	Type       string
	Payload    json.RawMessage
	RemoteAddr string
	UserAgent  string
	ReceivedAt time.Time
}

// PaymentEntity is payload.payment.entity. Amount is in paise.
type PaymentEntity struct {
	ID       string `json:"id"`
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
	Method   string `json:"method"`
	Email    string `json:"email"`
	Contact  string `json:"contact"`
}

type eventEnvelope struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity *PaymentEntity `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// PaymentEntity extracts payload.payment.entity, reporting false when absent.
func (e WebhookEvent) PaymentEntity() (*PaymentEntity, bool) {
	var env eventEnvelope
	if err := json.Unmarshal(e.Payload, &env); err != nil {
		return nil, false
	}
	if env.Payload.Payment.Entity == nil || env.Payload.Payment.Entity.ID == "" {
		return nil, false
	}
	return env.Payload.Payment.Entity, true
}

// WebhookProcessor handles verified Razorpay events.
type WebhookProcessor interface {
	HandleRazorpayEvent(ctx context.Context, event WebhookEvent) error
}

// WebhookHandler verifies the webhook signature and forwards events.
type WebhookHandler struct {
	logger    *slog.Logger
	metrics   *metrics.Metrics
	secret    string
	processor WebhookProcessor
	now       func() time.Time
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(logger *slog.Logger, metrics *metrics.Metrics, webhookSecret string, processor WebhookProcessor) *WebhookHandler {
	return &WebhookHandler{
		logger:    logger.With("component", "razorpay_webhook"),
		metrics:   metrics,
		secret:    webhookSecret,
		processor: processor,
		now:       time.Now,
	}
}

// ServeHTTP satisfies http.Handler.
//
// A bad signature is answered with 500 and nothing is written. Once the signature
// holds the answer is always 200 so Razorpay does not redeliver; processing failures
// are logged and counted instead.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.metrics.IncError("razorpay_webhook")
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if !VerifyWebhookSignature(h.secret, body, r.Header.Get(SignatureHeader)) {
		h.logger.Warn("rejected webhook with invalid signature", "remote_addr", r.RemoteAddr)
		h.metrics.IncError("razorpay_webhook_signature")
		h.count("unknown", "invalid_signature")
		writeStatusJSON(w, http.StatusInternalServerError, map[string]string{"error": "Invalid signature"})
		return
	}

	event := WebhookEvent{
		ID:         strings.TrimSpace(r.Header.Get(EventIDHeader)),
		Type:       detectEventType(body),
		Payload:    body,
		RemoteAddr: clientAddr(r),
		UserAgent:  r.UserAgent(),
		ReceivedAt: h.now().UTC(),
	}

	result := "processed"
	if h.processor != nil {
		if err := h.processor.HandleRazorpayEvent(r.Context(), event); err != nil {
			result = "failed"
			h.logger.Error("failed processing webhook", "error", err, "event", event.Type, "event_id", event.ID)
			h.metrics.IncError("razorpay_webhook_process")
		}
	}
	h.count(event.Type, result)

	writeStatusJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *WebhookHandler) count(event, result string) {
	if h.metrics != nil {
		h.metrics.WebhookEvents.WithLabelValues(event, result).Inc()
	}
}

func detectEventType(body []byte) string {
	var generic struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(body, &generic); err == nil && generic.Event != "" {
		return generic.Event
	}
	return "unknown"
}

func clientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "webhook"
}

func writeStatusJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
