package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Manialer35/avishkar-career-compass-sub001/internal/entitlement"
	"github.com/Manialer35/avishkar-career-compass-sub001/internal/razorpay"
	"github.com/Manialer35/avishkar-career-compass-sub001/internal/repo"
)

// Webhook bookkeeping statuses.
const (
	webhookReceived  = "received"
	webhookProcessed = "processed"
	webhookIgnored   = "ignored"
	webhookFailed    = "failed"

	auditWebhookProcessed = "payment_webhook_processed"
	auditTargetOrders     = "payment_orders"
)

var _ razorpay.WebhookProcessor = (*Service)(nil)

// HandleRazorpayEvent reconciles a verified webhook delivery. The gateway is
// authoritative for amounts. Deliveries with a known event id are acknowledged
// without being processed again.
func (s *Service) HandleRazorpayEvent(ctx context.Context, event razorpay.WebhookEvent) error {
	if event.ID != "" {
		fresh, err := s.store.RecordWebhookEvent(ctx, repo.WebhookEvent{
			EventID:    event.ID,
			EventType:  event.Type,
			Payload:    event.Payload,
			Status:     webhookReceived,
			ReceivedAt: event.ReceivedAt,
		})
		if err != nil {
			return fmt.Errorf("record webhook event: %w", err)
		}
		if !fresh {
			s.logger.Info("duplicate webhook delivery ignored", "event_id", event.ID, "event", event.Type)
			return nil
		}
	}

	if event.Type != razorpay.EventPaymentCaptured {
		s.logger.Debug("webhook event ignored", "event", event.Type, "event_id", event.ID)
		s.markEvent(ctx, event, webhookIgnored)
		return nil
	}

	err := s.reconcileCapture(ctx, event)
	if err != nil {
		s.markEvent(ctx, event, webhookFailed)
		return err
	}
	s.markEvent(ctx, event, webhookProcessed)
	return nil
}

func (s *Service) reconcileCapture(ctx context.Context, event razorpay.WebhookEvent) error {
	payment, ok := event.PaymentEntity()
	if !ok {
		return errors.New("payment.captured without payload.payment.entity")
	}
	if payment.OrderID == "" {
		return fmt.Errorf("payment %s has no order id", payment.ID)
	}
	amount := Rupees(payment.Amount)

	adopted := false
	order, err := s.store.GetPaymentOrder(ctx, payment.OrderID)
	if errors.Is(err, repo.ErrNotFound) {
		order, err = s.adoptOrder(ctx, payment)
		adopted = err == nil
	}
	if err != nil {
		return fmt.Errorf("load order %s: %w", payment.OrderID, err)
	}
	settledBefore := !adopted && order.SettledBy(payment.ID)

	var errs []error
	if err := s.store.UpdatePaymentOrderStatus(ctx, payment.OrderID, repo.OrderStatusCaptured, payment.ID); err != nil {
		errs = append(errs, fmt.Errorf("mark order captured: %w", err))
	}

	if order.UserID != "" && order.ProductID != "" {
		existing, err := s.store.GetPurchase(ctx, order.UserID, order.ProductID)
		switch {
		case err == nil && (existing.PaymentID == payment.ID || settledBefore):
			s.logger.Debug("entitlement already recorded for payment", "order_id", payment.OrderID, "payment_id", payment.ID)
		case err == nil || errors.Is(err, repo.ErrNotFound):
			if _, err := s.recorder.Record(ctx, entitlement.Grant{
				UserID:     order.UserID,
				MaterialID: order.ProductID,
				PaymentID:  payment.ID,
				Amount:     amount,
				Source:     "webhook",
			}); err != nil {
				errs = append(errs, err)
			}
		default:
			errs = append(errs, fmt.Errorf("load purchase: %w", err))
		}
	} else {
		s.logger.Warn("captured order has no owner or product, entitlement not recorded", "order_id", payment.OrderID)
	}

	updated, err := s.store.UpdatePurchaseAmountByPayment(ctx, payment.ID, amount)
	if err != nil {
		errs = append(errs, fmt.Errorf("reconcile purchase amount: %w", err))
	}

	if err := s.store.InsertAuditLog(ctx, repo.AuditEntry{
		Action:      auditWebhookProcessed,
		TargetTable: auditTargetOrders,
		TargetID:    payment.OrderID,
		NewValues: map[string]any{
			"payment_id": payment.ID,
			"status":     payment.Status,
			"amount":     amount,
		},
		IPAddress: event.RemoteAddr,
		UserAgent: event.UserAgent,
	}); err != nil {
		errs = append(errs, fmt.Errorf("audit webhook: %w", err))
	}

	s.logger.Info("payment captured",
		"order_id", payment.OrderID,
		"payment_id", payment.ID,
		"amount", amount,
		"purchases_updated", updated,
	)
	return errors.Join(errs...)
}

// adoptOrder creates the local row for an order whose insert failed at creation
// time, using the product and customer carried in the gateway order notes.
func (s *Service) adoptOrder(ctx context.Context, payment *razorpay.PaymentEntity) (*repo.PaymentOrder, error) {
	remote, err := s.gateway.FetchOrder(ctx, payment.OrderID)
	if err != nil {
		return nil, fmt.Errorf("fetch dangling order: %w", err)
	}
	currency := remote.Currency
	if currency == "" {
		currency = payment.Currency
	}
	paymentID := payment.ID
	order, err := s.store.InsertPaymentOrder(ctx, repo.PaymentOrder{
		OrderID:   remote.ID,
		ProductID: strings.TrimSpace(remote.Notes["productId"]),
		UserID:    strings.TrimSpace(remote.Notes["customerId"]),
		Amount:    Rupees(remote.Amount),
		Currency:  currency,
		Status:    repo.OrderStatusCaptured,
		PaymentID: &paymentID,
	})
	if err != nil {
		return nil, fmt.Errorf("adopt dangling order: %w", err)
	}
	s.logger.Info("adopted dangling order from gateway", "order_id", order.OrderID, "user_id", order.UserID, "product_id", order.ProductID)
	return order, nil
}

func (s *Service) markEvent(ctx context.Context, event razorpay.WebhookEvent, status string) {
	if event.ID == "" {
		return
	}
	if err := s.store.MarkWebhookEvent(ctx, event.ID, status, s.now()); err != nil {
		s.logger.Warn("failed to mark webhook event", "error", err, "event_id", event.ID, "status", status)
	}
}
