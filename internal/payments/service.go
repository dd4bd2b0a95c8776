// Package payments runs the Razorpay pipeline: opening orders, verifying what
// the client reports back, reconciling webhooks and the Google Pay test flow.
package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Manialer35/avishkar-career-compass-sub001/internal/apperr"
	"github.com/Manialer35/avishkar-career-compass-sub001/internal/checkout"
	"github.com/Manialer35/avishkar-career-compass-sub001/internal/entitlement"
	"github.com/Manialer35/avishkar-career-compass-sub001/internal/metrics"
	"github.com/Manialer35/avishkar-career-compass-sub001/internal/razorpay"
	"github.com/Manialer35/avishkar-career-compass-sub001/internal/repo"
)

// Gateway is the part of the Razorpay client the service needs.
type Gateway interface {
	CreateOrder(ctx context.Context, req razorpay.OrderRequest) (*razorpay.Order, error)
	FetchOrder(ctx context.Context, orderID string) (*razorpay.Order, error)
}

// Store is the persistence the payment flows touch.
type Store interface {
	InsertPaymentOrder(ctx context.Context, order repo.PaymentOrder) (*repo.PaymentOrder, error)
	GetPaymentOrder(ctx context.Context, orderID string) (*repo.PaymentOrder, error)
	UpdatePaymentOrderStatus(ctx context.Context, orderID, status, paymentID string) error
	GetPurchase(ctx context.Context, userID, materialID string) (*repo.Purchase, error)
	GetPurchaseByPayment(ctx context.Context, paymentID string) (*repo.Purchase, error)
	UpdatePurchaseAmountByPayment(ctx context.Context, paymentID string, amount float64) (int64, error)
	InsertAuditLog(ctx context.Context, entry repo.AuditEntry) error
	RecordWebhookEvent(ctx context.Context, evt repo.WebhookEvent) (bool, error)
	MarkWebhookEvent(ctx context.Context, eventID, status string, at time.Time) error
}

// Sessions tracks checkout state per order.
type Sessions interface {
	Open(ctx context.Context, orderID, userID, productID string) (*checkout.Session, error)
	Get(ctx context.Context, orderID string) (*checkout.Session, error)
	Present(ctx context.Context, orderID string) (*checkout.Session, error)
	MarkVerified(ctx context.Context, orderID, paymentID string) (*checkout.Session, error)
	Cancel(ctx context.Context, orderID, reason string) (*checkout.Session, error)
}

// Recorder grants entitlements.
type Recorder interface {
	Record(ctx context.Context, g entitlement.Grant) (*repo.Purchase, error)
}

// Config holds the payment settings the service needs at runtime.
type Config struct {
	KeyID             string
	KeySecret         string
	Currency          string
	BrandName         string
	ThemeColor        string
	GooglePayTestMode bool
}

// Service implements the payment operations behind the HTTP API.
type Service struct {
	cfg       Config
	gateway   Gateway
	store     Store
	sessions  Sessions
	materials entitlement.MaterialStore
	recorder  Recorder
	validate  *validator.Validate
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewService wires the payment service.
func NewService(cfg Config, gateway Gateway, store Store, sessions Sessions, materials entitlement.MaterialStore, recorder Recorder, logger *slog.Logger, m *metrics.Metrics) *Service {
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	return &Service{
		cfg:       cfg,
		gateway:   gateway,
		store:     store,
		sessions:  sessions,
		materials: materials,
		recorder:  recorder,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger.With("component", "payments"),
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrderInput describes a new order. Amount is in paise.
type CreateOrderInput struct {
	Amount        int64
	Currency      string
	ProductID     string
	ProductName   string
	CustomerID    string
	CustomerEmail string
}

// OrderResult is returned to the client after an order is opened.
type OrderResult struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
	Receipt  string `json:"receipt"`
}

// CreateOrder opens a Razorpay order. A failure to persist the local row is
// logged and tolerated; the webhook adopts the order later.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (*OrderResult, error) {
	if in.Amount <= 0 {
		s.countOrder("invalid_amount")
		return nil, fmt.Errorf("create order: %w", apperr.ErrInvalidAmount)
	}
	in.ProductID = strings.TrimSpace(in.ProductID)
	if in.ProductID == "" {
		return nil, fmt.Errorf("create order: %w: productId is required", apperr.ErrInvalidInput)
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = s.cfg.Currency
	}

	receipt, err := NewReceipt(s.now())
	if err != nil {
		return nil, err
	}
	order, err := s.gateway.CreateOrder(ctx, razorpay.OrderRequest{
		Amount:   in.Amount,
		Currency: currency,
		Receipt:  receipt,
		Notes: map[string]string{
			"productId":     in.ProductID,
			"productName":   in.ProductName,
			"customerId":    in.CustomerID,
			"customerEmail": in.CustomerEmail,
		},
	})
	if err != nil {
		s.countOrder("gateway_error")
		s.metrics.IncError("payments_create_order")
		return nil, fmt.Errorf("create order: %w: %w", apperr.ErrGatewayUnavailable, err)
	}

	if _, err := s.store.InsertPaymentOrder(ctx, repo.PaymentOrder{
		OrderID:   order.ID,
		ProductID: in.ProductID,
		UserID:    in.CustomerID,
		Amount:    Rupees(order.Amount),
		Currency:  order.Currency,
		Status:    repo.OrderStatusCreated,
	}); err != nil {
		s.metrics.IncError("payments_persist_order")
		s.logger.Error("failed to persist payment order, webhook will reconcile", "error", err, "order_id", order.ID)
	}

	if s.sessions != nil {
		if _, err := s.sessions.Open(ctx, order.ID, in.CustomerID, in.ProductID); err != nil {
			s.logger.Warn("failed to open checkout session", "error", err, "order_id", order.ID)
		}
	}

	s.countOrder("created")
	return &OrderResult{
		ID:       order.ID,
		Amount:   order.Amount,
		Currency: order.Currency,
		Status:   order.Status,
		Receipt:  order.Receipt,
	}, nil
}

// CheckoutOptions builds the checkout sheet for a stored order and moves its
// session to awaiting_user.
func (s *Service) CheckoutOptions(ctx context.Context, caller, orderID string, customer checkout.Customer) (*checkout.Options, error) {
	if caller == "" {
		return nil, apperr.ErrAuthRequired
	}
	order, err := s.store.GetPaymentOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("checkout options: %w: unknown order %s", apperr.ErrInvalidInput, orderID)
		}
		return nil, fmt.Errorf("checkout options: %w: %w", apperr.ErrPersistence, err)
	}
	if order.UserID != "" && order.UserID != caller {
		return nil, apperr.ErrForbidden
	}

	description := order.ProductID
	if m, err := s.materials.GetMaterial(ctx, order.ProductID); err == nil {
		description = m.Title
	}

	if s.sessions != nil {
		if err := s.present(ctx, order); err != nil {
			return nil, err
		}
	}

	opts := checkout.BuildOptions(
		checkout.Branding{KeyID: s.cfg.KeyID, Name: s.cfg.BrandName, ThemeColor: s.cfg.ThemeColor},
		checkout.Order{ID: order.OrderID, Amount: paise(order.Amount), Currency: order.Currency, Description: description},
		customer,
	)
	return &opts, nil
}

// present moves the order's session to awaiting_user, reopening it first when
// it expired or was never stored.
func (s *Service) present(ctx context.Context, order *repo.PaymentOrder) error {
	_, err := s.sessions.Present(ctx, order.OrderID)
	if !errors.Is(err, checkout.ErrSessionNotFound) {
		return err
	}
	if _, err := s.sessions.Open(ctx, order.OrderID, order.UserID, order.ProductID); err != nil {
		return fmt.Errorf("reopen checkout session: %w", err)
	}
	s.logger.Info("reopened missing checkout session", "order_id", order.OrderID)
	_, err = s.sessions.Present(ctx, order.OrderID)
	return err
}

// VerifyInput is what the client reports after a successful payment.
type VerifyInput struct {
	OrderID   string
	PaymentID string
	Signature string
	ProductID string
	UserID    string
}

// VerifyResult is the outcome of a successful verification.
type VerifyResult struct {
	Purchase   *repo.Purchase
	ExpiryDate *time.Time
}

// VerifyPayment checks the gateway signature and, only when it holds, marks the
// order completed and records the entitlement for caller.
func (s *Service) VerifyPayment(ctx context.Context, caller string, in VerifyInput) (*VerifyResult, error) {
	caller = strings.TrimSpace(caller)
	if caller == "" {
		s.countVerify("auth_required")
		return nil, apperr.ErrAuthRequired
	}
	if in.UserID != "" && in.UserID != caller {
		s.countVerify("auth_required")
		return nil, fmt.Errorf("verify payment: %w: user mismatch", apperr.ErrAuthRequired)
	}
	if in.OrderID == "" || in.PaymentID == "" || in.Signature == "" ||
		!razorpay.VerifyPaymentSignature(s.cfg.KeySecret, in.OrderID, in.PaymentID, in.Signature) {
		s.countVerify("invalid_signature")
		s.logger.Warn("payment signature rejected", "order_id", in.OrderID, "payment_id", in.PaymentID, "user_id", caller)
		return nil, fmt.Errorf("verify payment: %w", apperr.ErrInvalidSignature)
	}

	productID := strings.TrimSpace(in.ProductID)
	var amount float64
	settled := false
	order, err := s.store.GetPaymentOrder(ctx, in.OrderID)
	switch {
	case err == nil:
		if order.UserID != "" && order.UserID != caller {
			s.countVerify("owner_mismatch")
			s.logger.Warn("payment submitted by someone other than the order owner", "order_id", in.OrderID, "order_user", order.UserID, "user_id", caller)
			return nil, fmt.Errorf("verify payment: %w: order belongs to another user", apperr.ErrForbidden)
		}
		if productID != "" && order.ProductID != "" && productID != order.ProductID {
			s.countVerify("product_mismatch")
			s.logger.Warn("verified payment used for a different product", "order_id", in.OrderID, "order_product", order.ProductID, "requested_product", productID)
			return nil, fmt.Errorf("verify payment: %w: product mismatch", apperr.ErrInvalidSignature)
		}
		if order.ProductID != "" {
			productID = order.ProductID
		}
		amount = order.Amount
		settled = order.SettledBy(in.PaymentID)
	case errors.Is(err, repo.ErrNotFound):
		s.logger.Warn("verifying payment without a stored order", "order_id", in.OrderID)
	default:
		s.logger.Error("failed to load payment order", "error", err, "order_id", in.OrderID)
	}
	if productID == "" {
		return nil, fmt.Errorf("verify payment: %w: productId is required", apperr.ErrInvalidInput)
	}

	prior, err := s.store.GetPurchaseByPayment(ctx, in.PaymentID)
	switch {
	case err == nil:
		if prior.UserID != caller {
			s.countVerify("owner_mismatch")
			s.logger.Warn("payment already grants another user", "payment_id", in.PaymentID, "granted_user", prior.UserID, "user_id", caller)
			return nil, fmt.Errorf("verify payment: %w: payment belongs to another user", apperr.ErrForbidden)
		}
		if prior.MaterialID != productID {
			s.countVerify("product_mismatch")
			return nil, fmt.Errorf("verify payment: %w: product mismatch", apperr.ErrInvalidSignature)
		}
		settled = true
	case errors.Is(err, repo.ErrNotFound):
	default:
		s.countVerify("record_failed")
		return nil, fmt.Errorf("verify payment: %w: %w", apperr.ErrPersistence, err)
	}

	// A payment that was already settled keeps its entitlement as recorded;
	// replaying it must not restart the expiry clock.
	if settled {
		existing, err := s.store.GetPurchase(ctx, caller, productID)
		switch {
		case err == nil:
			s.markVerified(ctx, in.OrderID, in.PaymentID)
			s.countVerify("replayed")
			s.logger.Info("payment already settled, returning recorded entitlement", "order_id", in.OrderID, "payment_id", in.PaymentID, "user_id", caller)
			return &VerifyResult{Purchase: existing, ExpiryDate: existing.ExpiresAt}, nil
		case !errors.Is(err, repo.ErrNotFound):
			s.countVerify("record_failed")
			return nil, fmt.Errorf("verify payment: %w: %w", apperr.ErrPersistence, err)
		}
	}

	if err := s.store.UpdatePaymentOrderStatus(ctx, in.OrderID, repo.OrderStatusCompleted, in.PaymentID); err != nil {
		s.metrics.IncError("payments_update_order")
		s.logger.Error("failed to mark order completed", "error", err, "order_id", in.OrderID)
	}

	purchase, err := s.recorder.Record(ctx, entitlement.Grant{
		UserID:     caller,
		MaterialID: productID,
		PaymentID:  in.PaymentID,
		Amount:     amount,
		Source:     "verify",
	})
	if err != nil {
		s.countVerify("record_failed")
		return nil, err
	}

	s.markVerified(ctx, in.OrderID, in.PaymentID)
	s.countVerify("verified")
	s.logger.Info("payment verified", "order_id", in.OrderID, "payment_id", in.PaymentID, "user_id", caller, "material_id", productID)
	return &VerifyResult{Purchase: purchase, ExpiryDate: purchase.ExpiresAt}, nil
}

// CancelCheckout records a dismissal. Only the session changes.
func (s *Service) CancelCheckout(ctx context.Context, caller string, c checkout.Cancelled) (*checkout.Session, error) {
	if caller == "" {
		return nil, apperr.ErrAuthRequired
	}
	if s.sessions == nil {
		return nil, fmt.Errorf("cancel checkout: %w: sessions disabled", apperr.ErrInvalidInput)
	}
	session, err := s.sessions.Get(ctx, c.OrderID)
	if err != nil {
		return nil, err
	}
	if session.UserID != "" && session.UserID != caller {
		return nil, apperr.ErrForbidden
	}
	reason := c.Reason
	if reason == "" {
		reason = "dismissed"
	}
	return s.sessions.Cancel(ctx, c.OrderID, reason)
}

// Completion is the settled state of a checkout.
type Completion struct {
	State  checkout.State
	Verify *VerifyResult
}

// Complete waits for the single outcome of a checkout and settles it.
func (s *Service) Complete(ctx context.Context, caller, productID string, outcomes <-chan checkout.Outcome) (*Completion, error) {
	outcome, err := checkout.Await(ctx, outcomes)
	if err != nil {
		return nil, err
	}
	switch o := outcome.(type) {
	case checkout.Result:
		res, err := s.VerifyPayment(ctx, caller, VerifyInput{
			OrderID:   o.OrderID,
			PaymentID: o.PaymentID,
			Signature: o.Signature,
			ProductID: productID,
		})
		if err != nil {
			return nil, err
		}
		return &Completion{State: checkout.StateVerified, Verify: res}, nil
	case checkout.Cancelled:
		session, err := s.CancelCheckout(ctx, caller, o)
		if err != nil {
			return nil, err
		}
		return &Completion{State: session.State}, nil
	default:
		return nil, fmt.Errorf("complete checkout: %w: unknown outcome %T", apperr.ErrInvalidInput, outcome)
	}
}

func (s *Service) markVerified(ctx context.Context, orderID, paymentID string) {
	if s.sessions == nil {
		return
	}
	if _, err := s.sessions.MarkVerified(ctx, orderID, paymentID); err != nil {
		if errors.Is(err, checkout.ErrSessionNotFound) {
			s.logger.Debug("no checkout session to close", "order_id", orderID)
			return
		}
		s.logger.Warn("failed to close checkout session", "error", err, "order_id", orderID)
	}
}

func (s *Service) countOrder(result string) {
	if s.metrics != nil {
		s.metrics.OrdersCreated.WithLabelValues(result).Inc()
	}
}

func (s *Service) countVerify(result string) {
	if s.metrics != nil {
		s.metrics.PaymentVerifications.WithLabelValues(result).Inc()
	}
}

func paise(rupees float64) int64 {
	if rupees < 0 {
		return 0
	}
	return int64(rupees*100 + 0.5)
}
