package payments

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Manialer35/avishkar-career-compass-sub001/internal/razorpay"
	"github.com/Manialer35/avishkar-career-compass-sub001/internal/repo"
)

func capturedEvent(t *testing.T, eventID, orderID, paymentID string, amount int64) razorpay.WebhookEvent {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"event": razorpay.EventPaymentCaptured,
		"payload": map[string]any{
			"payment": map[string]any{
				"entity": map[string]any{
					"id":       paymentID,
					"order_id": orderID,
					"amount":   amount,
					"currency": "INR",
					"status":   "captured",
				},
			},
		},
	})
	require.NoError(t, err)
	return razorpay.WebhookEvent{
		ID:         eventID,
		Type:       razorpay.EventPaymentCaptured,
		Payload:    body,
		RemoteAddr: "203.0.113.7",
		UserAgent:  "Razorpay-Webhook/v1",
		ReceivedAt: time.Now().UTC(),
	}
}

func TestWebhookCaptureReconciles(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	order := openOrder(t, h, "user_1")

	require.NoError(t, h.svc.HandleRazorpayEvent(ctx, capturedEvent(t, "evt_1", order.ID, "pay_1", 45000)))

	stored, err := h.store.GetPaymentOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, repo.OrderStatusCaptured, stored.Status)
	require.Equal(t, "pay_1", *stored.PaymentID)

	purchase, err := h.store.GetPurchase(ctx, "user_1", h.material.ID)
	require.NoError(t, err, "webhook should grant access even without a client callback")
	require.Equal(t, "pay_1", purchase.PaymentID)
	require.Equal(t, 450.0, purchase.Amount, "gateway amount is authoritative")

	require.Equal(t, 1, h.count(t, "admin_audit_log"))
	require.Equal(t, 1, h.count(t, "webhook_events"))
}

func TestWebhookDuplicateDeliveryIsNotReprocessed(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	order := openOrder(t, h, "user_1")
	evt := capturedEvent(t, "evt_dup", order.ID, "pay_1", 49900)

	require.NoError(t, h.svc.HandleRazorpayEvent(ctx, evt))
	require.NoError(t, h.svc.HandleRazorpayEvent(ctx, evt))

	require.Equal(t, 1, h.count(t, "admin_audit_log"))
	require.Equal(t, 1, h.count(t, "user_purchases"))
}

func TestWebhookAdoptsDanglingOrder(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	h.svc.store = failingOrders{h.store}
	order := openOrder(t, h, "user_9")
	require.Equal(t, 0, h.count(t, "payment_orders"))
	h.svc.store = h.store

	require.NoError(t, h.svc.HandleRazorpayEvent(ctx, capturedEvent(t, "evt_adopt", order.ID, "pay_9", 49900)))

	stored, err := h.store.GetPaymentOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, repo.OrderStatusCaptured, stored.Status)
	require.Equal(t, "user_9", stored.UserID)
	require.Equal(t, h.material.ID, stored.ProductID)

	_, err = h.store.GetPurchase(ctx, "user_9", h.material.ID)
	require.NoError(t, err)
}

func TestWebhookIgnoresOtherEvents(t *testing.T) {
	h := newHarness(t, Config{})
	evt := razorpay.WebhookEvent{ID: "evt_other", Type: "order.paid", Payload: []byte(`{"event":"order.paid"}`)}

	require.NoError(t, h.svc.HandleRazorpayEvent(context.Background(), evt))
	require.Equal(t, 0, h.count(t, "admin_audit_log"))
	require.Equal(t, 1, h.count(t, "webhook_events"))
}

func TestWebhookUnknownOrderFails(t *testing.T) {
	h := newHarness(t, Config{})
	err := h.svc.HandleRazorpayEvent(context.Background(), capturedEvent(t, "evt_x", "order_missing", "pay_x", 100))
	require.Error(t, err)
	require.Equal(t, 0, h.count(t, "user_purchases"))
}

func TestWebhookBeforeVerifyKeepsCapturedOrder(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	order := openOrder(t, h, "user_1")

	require.NoError(t, h.svc.HandleRazorpayEvent(ctx, capturedEvent(t, "evt_early", order.ID, "pay_1", 45000)))
	granted, err := h.store.GetPurchase(ctx, "user_1", h.material.ID)
	require.NoError(t, err)

	sig := razorpay.Sign(testSecret, razorpay.PaymentSignaturePayload(order.ID, "pay_1"))
	res, err := h.svc.VerifyPayment(ctx, "user_1", VerifyInput{OrderID: order.ID, PaymentID: "pay_1", Signature: sig, ProductID: h.material.ID})
	require.NoError(t, err)
	require.Equal(t, granted.ID, res.Purchase.ID)
	require.Equal(t, 450.0, res.Purchase.Amount, "gateway amount survives the late client verify")

	stored, err := h.store.GetPaymentOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, repo.OrderStatusCaptured, stored.Status)
	require.Equal(t, 1, h.count(t, "user_purchases"))
}
