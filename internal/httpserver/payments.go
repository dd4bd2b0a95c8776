package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Manialer35/avishkar-career-compass-sub001/internal/apperr"
	"github.com/Manialer35/avishkar-career-compass-sub001/internal/auth"
	"github.com/Manialer35/avishkar-career-compass-sub001/internal/checkout"
	"github.com/Manialer35/avishkar-career-compass-sub001/internal/payments"
	"github.com/Manialer35/avishkar-career-compass-sub001/internal/repo"
)

type createOrderRequest struct {
	Amount        json.RawMessage `json:"amount"`
	Currency      string          `json:"currency"`
	ProductID     string          `json:"productId"`
	ProductName   string          `json:"productName"`
	CustomerEmail string          `json:"customerEmail"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.IdentityFromContext(r.Context())

	var req createOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := payments.ParseAmount(req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	email := strings.TrimSpace(req.CustomerEmail)
	if email == "" {
		email = caller.Email
	}

	order, err := s.deps.Payments.CreateOrder(r.Context(), payments.CreateOrderInput{
		Amount:        amount,
		Currency:      req.Currency,
		ProductID:     req.ProductID,
		ProductName:   req.ProductName,
		CustomerID:    caller.UserID,
		CustomerEmail: email,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, order)
}

func (s *Server) handleCheckoutOptions(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.IdentityFromContext(r.Context())
	opts, err := s.deps.Payments.CheckoutOptions(r.Context(), caller.UserID, chi.URLParam(r, "orderId"), checkout.Customer{
		Name:    caller.DisplayName,
		Email:   caller.Email,
		Contact: caller.Phone,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, opts)
}

type verifyPaymentRequest struct {
	OrderID   string `json:"razorpay_order_id"`
	PaymentID string `json:"razorpay_payment_id"`
	Signature string `json:"razorpay_signature"`
	ProductID string `json:"productId"`
	UserID    string `json:"userId"`
}

func (s *Server) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	caller := auth.UserID(r.Context())

	var req verifyPaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeVerifyError(w, err)
		return
	}
	if req.UserID != "" && req.UserID != caller {
		s.writeVerifyError(w, fmt.Errorf("%w: user mismatch", apperr.ErrAuthRequired))
		return
	}

	done, err := s.deps.Payments.Complete(r.Context(), caller, req.ProductID, checkout.Deliver(checkout.Result{
		OrderID:   strings.TrimSpace(req.OrderID),
		PaymentID: strings.TrimSpace(req.PaymentID),
		Signature: strings.TrimSpace(req.Signature),
	}))
	if err != nil {
		s.writeVerifyError(w, err)
		return
	}

	writeJSON(w, map[string]any{
		"success":    true,
		"expiryDate": formatTime(done.Verify.ExpiryDate),
	})
}

// writeVerifyError keeps the status of err but always shows the generic
// verification message.
func (s *Server) writeVerifyError(w http.ResponseWriter, err error) {
	status, _ := errorResponse(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("payment verification failed", "error", err, "status", status)
	}
	writeStatusJSON(w, status, map[string]any{"success": false, "error": apperr.VerificationFailedMessage})
}

type cancelCheckoutRequest struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason"`
}

func (s *Server) handleCancelCheckout(w http.ResponseWriter, r *http.Request) {
	var req cancelCheckoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if strings.TrimSpace(req.OrderID) == "" {
		s.writeError(w, fmt.Errorf("%w: orderId is required", apperr.ErrInvalidInput))
		return
	}

	done, err := s.deps.Payments.Complete(r.Context(), auth.UserID(r.Context()), "", checkout.Deliver(checkout.Cancelled{
		OrderID: strings.TrimSpace(req.OrderID),
		Reason:  strings.TrimSpace(req.Reason),
	}))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"success": true, "state": done.State})
}

func (s *Server) handleGooglePay(w http.ResponseWriter, r *http.Request) {
	var req payments.GooglePayInput
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.deps.Payments.GooglePayTest(r.Context(), auth.UserID(r.Context()), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"success":       true,
		"transactionId": res.TransactionID,
		"expiryDate":    formatTime(res.ExpiryDate),
	})
}

func (s *Server) handleAccess(w http.ResponseWriter, r *http.Request) {
	decision, err := s.deps.Access.Check(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	body := map[string]any{
		"allowed":    decision.Allowed,
		"status":     decision.Status,
		"materialId": decision.Material.ID,
		"expiresAt":  formatTime(decision.ExpiresAt),
	}
	if err := decision.Err(); err != nil {
		body["message"] = "Your access has expired. Please repurchase to continue."
	}
	writeJSON(w, body)
}

type purchaseJSON struct {
	ID          string  `json:"id"`
	MaterialID  string  `json:"materialId"`
	UserID      string  `json:"userId"`
	PaymentID   string  `json:"paymentId"`
	Amount      float64 `json:"amount"`
	PurchasedAt string  `json:"purchasedAt"`
	ExpiresAt   *string `json:"expiresAt"`
}

func purchaseView(p repo.Purchase) purchaseJSON {
	return purchaseJSON{
		ID:          p.ID,
		MaterialID:  p.MaterialID,
		UserID:      p.UserID,
		PaymentID:   p.PaymentID,
		Amount:      p.Amount,
		PurchasedAt: p.PurchasedAt.UTC().Format(time.RFC3339),
		ExpiresAt:   formatTime(p.ExpiresAt),
	}
}

func purchaseViews(list []repo.Purchase) []purchaseJSON {
	out := make([]purchaseJSON, 0, len(list))
	for _, p := range list {
		out = append(out, purchaseView(p))
	}
	return out
}

func (s *Server) handleListPurchases(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Store.ListPurchasesByUser(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		s.writeError(w, fmt.Errorf("list purchases: %w: %w", apperr.ErrPersistence, err))
		return
	}
	writeJSON(w, map[string]any{"purchases": purchaseViews(list)})
}

// formatTime renders t as RFC3339 UTC, nil for lifetime or unknown.
func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := t.UTC().Format(time.RFC3339)
	return &v
}
