package razorpay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Manialer35/avishkar-career-compass-sub001/internal/metrics"
)

const (
	defaultBaseURL = "https://api.razorpay.com"
	defaultTimeout = 15 * time.Second
	maxErrorBody   = 512
)

var (
	// ErrInvalidCredential indicates Razorpay rejected the key id/secret pair.
	ErrInvalidCredential = errors.New("razorpay invalid credential")
	// ErrUpstream covers transport failures and 5xx responses.
	ErrUpstream = errors.New("razorpay upstream error")
	// ErrBadRequest covers 4xx responses other than authentication failures.
	ErrBadRequest = errors.New("razorpay bad request")
)

// Client provides typed access to the Razorpay Orders API.
type Client struct {
	logger    *slog.Logger
	baseURL   string
	keyID     string
	keySecret string
	http      *http.Client
	metrics   *metrics.Metrics
}

// Config holds Razorpay client configuration.
type Config struct {
	BaseURL   string
	KeyID     string
	KeySecret string
	Timeout   time.Duration
}

// New creates a new Razorpay client.
func New(cfg Config, logger *slog.Logger, metrics *metrics.Metrics) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		logger:    logger.With("component", "razorpay"),
		baseURL:   base,
		keyID:     cfg.KeyID,
		keySecret: cfg.KeySecret,
		http:      &http.Client{Timeout: timeout},
		metrics:   metrics,
	}
}

// KeyID returns the public key id handed to checkout.
func (c *Client) KeyID() string {
	return c.keyID
}

// OrderRequest is the body of POST /v1/orders. Amount is in paise.
type OrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

// Order mirrors the Razorpay order entity.
type Order struct {
	ID         string            `json:"id"`
	Entity     string            `json:"entity"`
	Amount     int64             `json:"amount"`
	AmountPaid int64             `json:"amount_paid"`
	AmountDue  int64             `json:"amount_due"`
	Currency   string            `json:"currency"`
	Receipt    string            `json:"receipt"`
	Status     string            `json:"status"`
	Attempts   int               `json:"attempts"`
	Notes      map[string]string `json:"-"`
	CreatedAt  int64             `json:"created_at"`
}

// UnmarshalJSON tolerates Razorpay returning notes as an empty array.
func (o *Order) UnmarshalJSON(data []byte) error {
	type alias Order
	aux := struct {
		*alias
		Notes json.RawMessage `json:"notes"`
	}{alias: (*alias)(o)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	o.Notes = decodeNotes(aux.Notes)
	return nil
}

// CreateOrder opens a new order on Razorpay.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrBadRequest)
	}
	if req.Currency == "" {
		req.Currency = "INR"
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal order request: %w", err)
	}

	var order Order
	if err := c.do(ctx, http.MethodPost, "/v1/orders", bytes.NewReader(body), &order); err != nil {
		return nil, err
	}
	c.logger.Info("razorpay order created", "order_id", order.ID, "receipt", order.Receipt, "amount", order.Amount)
	return &order, nil
}

// FetchOrder loads an order by id.
func (c *Client) FetchOrder(ctx context.Context, orderID string) (*Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrBadRequest)
	}
	var order Order
	if err := c.do(ctx, http.MethodGet, "/v1/orders/"+url.PathEscape(orderID), nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body io.Reader, dest any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "avishkar/razorpay-client")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	metricEndpoint := metricLabel(method, endpoint)
	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		if c.metrics != nil {
			c.metrics.RazorpayRequests.WithLabelValues(metricEndpoint, "error").Inc()
		}
		return fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer res.Body.Close()

	statusLabel := strconv.Itoa(res.StatusCode)
	if c.metrics != nil {
		c.metrics.RazorpayRequests.WithLabelValues(metricEndpoint, statusLabel).Inc()
		c.metrics.RazorpayLatency.WithLabelValues(metricEndpoint, statusLabel).Observe(time.Since(start).Seconds())
	}

	bodyBytes, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %w", ErrUpstream, err)
	}

	if res.StatusCode >= 400 {
		return classifyHTTPError(res.StatusCode, bodyBytes)
	}
	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, dest); err != nil {
		return fmt.Errorf("%w: decode response: %w", ErrUpstream, err)
	}
	return nil
}

type errorEnvelope struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
		Field       string `json:"field"`
	} `json:"error"`
}

func classifyHTTPError(status int, body []byte) error {
	detail := strings.TrimSpace(string(body))
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Description != "" {
		detail = env.Error.Code + ": " + env.Error.Description
	}
	if len(detail) > maxErrorBody {
		detail = detail[:maxErrorBody]
	}
	switch {
	case status == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrInvalidCredential, detail)
	case status >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrUpstream, status, detail)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrBadRequest, status, detail)
	}
}

// metricLabel keeps label cardinality bounded by dropping ids from paths.
func metricLabel(method, endpoint string) string {
	if strings.HasPrefix(endpoint, "/v1/orders/") {
		endpoint = "/v1/orders/:id"
	}
	return method + " " + endpoint
}

func decodeNotes(raw json.RawMessage) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		// Razorpay sends [] when no notes were attached.
		return nil
	}
	notes := make(map[string]string, len(generic))
	for k, v := range generic {
		switch val := v.(type) {
		case string:
			notes[k] = val
		case nil:
		default:
			notes[k] = fmt.Sprint(val)
		}
	}
	return notes
}
