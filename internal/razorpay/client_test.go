package razorpay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Manialer35/avishkar-career-compass-sub001/internal/logging"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, KeyID: "rzp_test_key", KeySecret: "secret", Timeout: 2 * time.Second}, logging.Discard(), nil)
}

func TestCreateOrderSendsBasicAuthAndBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/orders" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "rzp_test_key" || pass != "secret" {
			t.Errorf("missing basic auth, got %q/%q", user, pass)
		}
		var req OrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if req.Amount != 49900 || req.Currency != "INR" || req.Notes["productId"] != "mat-1" {
			t.Errorf("unexpected order request: %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"order_123","entity":"order","amount":49900,"currency":"INR","receipt":"` + req.Receipt + `","status":"created","notes":{"productId":"mat-1"}}`))
	})

	order, err := client.CreateOrder(context.Background(), OrderRequest{
		Amount:  49900,
		Receipt: "ord_12345678_abcdef",
		Notes:   map[string]string{"productId": "mat-1"},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.ID != "order_123" || order.Status != "created" || order.Receipt != "ord_12345678_abcdef" {
		t.Fatalf("unexpected order: %+v", order)
	}
	if order.Notes["productId"] != "mat-1" {
		t.Fatalf("expected notes to decode, got %v", order.Notes)
	}
}

func TestFetchOrderToleratesEmptyNotesArray(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/orders/order_123" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"id":"order_123","amount":100,"currency":"INR","status":"paid","notes":[]}`))
	})

	order, err := client.FetchOrder(context.Background(), "order_123")
	if err != nil {
		t.Fatalf("fetch order: %v", err)
	}
	if order.Status != "paid" || order.Notes != nil {
		t.Fatalf("unexpected order: %+v", order)
	}
}

func TestClassifiesGatewayErrors(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrInvalidCredential},
		{http.StatusBadRequest, ErrBadRequest},
		{http.StatusBadGateway, ErrUpstream},
	}
	for _, tc := range cases {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"The amount must be atleast INR 1.00"}}`))
		})
		_, err := client.CreateOrder(context.Background(), OrderRequest{Amount: 100, Receipt: "r"})
		if !errors.Is(err, tc.want) {
			t.Fatalf("status %d: expected %v, got %v", tc.status, tc.want, err)
		}
	}
}

func TestTimeoutIsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)
	client := New(Config{BaseURL: srv.URL, KeyID: "k", KeySecret: "s", Timeout: 50 * time.Millisecond}, logging.Discard(), nil)

	_, err := client.CreateOrder(context.Background(), OrderRequest{Amount: 100, Receipt: "r"})
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected upstream error on timeout, got %v", err)
	}
}

func TestCreateOrderRejectsNonPositiveAmount(t *testing.T) {
	client := New(Config{KeyID: "k", KeySecret: "s"}, logging.Discard(), nil)
	if _, err := client.CreateOrder(context.Background(), OrderRequest{Amount: 0}); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected bad request, got %v", err)
	}
}
