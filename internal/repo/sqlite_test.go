package repo

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Manialer35/avishkar-career-compass-sub001/internal/logging"
	"github.com/Manialer35/avishkar-career-compass-sub001/migrations"
)

func newTestSQLite(t *testing.T) *SQLiteRepository {
	t.Helper()
	ctx := context.Background()
	r, err := NewSQLite(ctx, filepath.Join(t.TempDir(), "test.db"), logging.Discard())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(r.Close)
	if err := r.RunMigrations(ctx, migrations.Files); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return r
}

func seedMaterial(t *testing.T, r *SQLiteRepository, m Material) *Material {
	t.Helper()
	out, err := r.UpsertMaterial(context.Background(), m)
	if err != nil {
		t.Fatalf("seed material: %v", err)
	}
	return out
}

func TestMigrationsAreRerunnable(t *testing.T) {
	r := newTestSQLite(t)
	if err := r.RunMigrations(context.Background(), migrations.Files); err != nil {
		t.Fatalf("second migration run: %v", err)
	}
}

func TestPaymentOrderLifecycle(t *testing.T) {
	r := newTestSQLite(t)
	ctx := context.Background()

	inserted, err := r.InsertPaymentOrder(ctx, PaymentOrder{OrderID: "order_A", ProductID: "mat-1", UserID: "user-1", Amount: 499, Currency: "INR"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if inserted.Status != OrderStatusCreated {
		t.Fatalf("expected created status, got %s", inserted.Status)
	}

	again, err := r.InsertPaymentOrder(ctx, PaymentOrder{OrderID: "order_A", ProductID: "other", Amount: 1})
	if err != nil {
		t.Fatalf("re-insert: %v", err)
	}
	if again.ID != inserted.ID || again.ProductID != "mat-1" {
		t.Fatalf("re-insert must keep the original row, got %+v", again)
	}

	if err := r.UpdatePaymentOrderStatus(ctx, "order_A", OrderStatusCaptured, "pay_1"); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := r.GetPaymentOrder(ctx, "order_A")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != OrderStatusCaptured || got.PaymentID == nil || *got.PaymentID != "pay_1" {
		t.Fatalf("unexpected order after update: %+v", got)
	}

	if err := r.UpdatePaymentOrderStatus(ctx, "missing", OrderStatusCaptured, "pay_2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpsertPurchaseLastWriteWins(t *testing.T) {
	r := newTestSQLite(t)
	ctx := context.Background()
	m := seedMaterial(t, r, Material{Title: "Physics notes", IsPremium: true, Price: 499, DurationType: DurationFixed, DurationMonths: 12})

	first := time.Date(2024, 1, 31, 10, 0, 0, 0, time.UTC)
	exp := first.AddDate(1, 0, 0)
	if _, err := r.UpsertPurchase(ctx, Purchase{UserID: "u1", MaterialID: m.ID, PaymentID: "pay_1", Amount: 499, PurchasedAt: first, ExpiresAt: &exp}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	second := first.Add(time.Hour)
	out, err := r.UpsertPurchase(ctx, Purchase{UserID: "u1", MaterialID: m.ID, PaymentID: "pay_2", Amount: 450, PurchasedAt: second})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	if out.PaymentID != "pay_2" || !out.PurchasedAt.Equal(second) || out.ExpiresAt != nil {
		t.Fatalf("second write should win, got %+v", out)
	}
	n, err := r.CountRows(ctx, "user_purchases")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly one purchase row, got %d", n)
	}

	updated, err := r.UpdatePurchaseAmountByPayment(ctx, "pay_2", 500)
	if err != nil || updated != 1 {
		t.Fatalf("update amount: n=%d err=%v", updated, err)
	}
	got, err := r.GetPurchase(ctx, "u1", m.ID)
	if err != nil {
		t.Fatalf("get purchase: %v", err)
	}
	if got.Amount != 500 {
		t.Fatalf("expected reconciled amount 500, got %v", got.Amount)
	}
}

func TestGetPurchaseNotFound(t *testing.T) {
	r := newTestSQLite(t)
	if _, err := r.GetPurchase(context.Background(), "nobody", "nothing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOTPLifecycle(t *testing.T) {
	r := newTestSQLite(t)
	ctx := context.Background()
	exp := time.Now().Add(5 * time.Minute).UTC().Truncate(time.Second)

	if err := r.UpsertOTP(ctx, OTP{PhoneNumber: "+919999999999", Code: "123456", ExpiresAt: exp}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	claimed, err := r.ClaimOTPAttempt(ctx, "+919999999999", 3)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Attempts != 1 || claimed.Code != "123456" {
		t.Fatalf("unexpected claimed otp: %+v", claimed)
	}
	got, err := r.GetOTP(ctx, "+919999999999")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Attempts != 1 || got.Code != "123456" || !got.ExpiresAt.Equal(exp) {
		t.Fatalf("unexpected otp: %+v", got)
	}

	// A fresh send resets attempts.
	if err := r.UpsertOTP(ctx, OTP{PhoneNumber: "+919999999999", Code: "654321", ExpiresAt: exp}); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	got, _ = r.GetOTP(ctx, "+919999999999")
	if got.Attempts != 0 || got.Code != "654321" {
		t.Fatalf("expected reset otp, got %+v", got)
	}

	if err := r.DeleteOTP(ctx, "+919999999999"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := r.GetOTP(ctx, "+919999999999"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestProfilesAndRoles(t *testing.T) {
	r := newTestSQLite(t)
	ctx := context.Background()

	p1, err := r.UpsertProfileByPhone(ctx, "+918888000011", "user_88000011")
	if err != nil {
		t.Fatalf("upsert by phone: %v", err)
	}
	p2, err := r.UpsertProfileByPhone(ctx, "+918888000011", "ignored")
	if err != nil {
		t.Fatalf("second upsert by phone: %v", err)
	}
	if p1.ID != p2.ID || p2.Username != "user_88000011" {
		t.Fatalf("expected stable profile, got %+v vs %+v", p1, p2)
	}

	if _, err := r.GetRole(ctx, p1.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected no role yet, got %v", err)
	}
	if err := r.SetRole(ctx, p1.ID, RoleAdmin, nil); err != nil {
		t.Fatalf("set role: %v", err)
	}
	role, err := r.GetRole(ctx, p1.ID)
	if err != nil || role != RoleAdmin {
		t.Fatalf("expected admin role, got %q err=%v", role, err)
	}
}

func TestRecordWebhookEventDedupes(t *testing.T) {
	r := newTestSQLite(t)
	ctx := context.Background()

	evt := WebhookEvent{EventID: "evt_1", EventType: "payment.captured", Payload: []byte(`{"event":"payment.captured"}`)}
	created, err := r.RecordWebhookEvent(ctx, evt)
	if err != nil || !created {
		t.Fatalf("first record: created=%v err=%v", created, err)
	}
	created, err = r.RecordWebhookEvent(ctx, evt)
	if err != nil || created {
		t.Fatalf("duplicate record: created=%v err=%v", created, err)
	}
	if err := r.MarkWebhookEvent(ctx, "evt_1", "processed", time.Now()); err != nil {
		t.Fatalf("mark: %v", err)
	}
}

func TestDeleteMaterialCascadesPurchases(t *testing.T) {
	r := newTestSQLite(t)
	ctx := context.Background()
	m := seedMaterial(t, r, Material{Title: "Chemistry", IsPremium: true, Price: 299, DurationType: DurationLifetime})

	if _, err := r.UpsertPurchase(ctx, Purchase{UserID: "u1", MaterialID: m.ID, PaymentID: "pay_1", Amount: 299, PurchasedAt: time.Now()}); err != nil {
		t.Fatalf("upsert purchase: %v", err)
	}
	if err := r.DeleteMaterial(ctx, m.ID); err != nil {
		t.Fatalf("delete material: %v", err)
	}
	n, _ := r.CountRows(ctx, "user_purchases")
	if n != 0 {
		t.Fatalf("expected cascade delete, got %d rows", n)
	}
	if err := r.DeleteMaterial(ctx, m.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestCapturedOrderIsNotDowngraded(t *testing.T) {
	r := newTestSQLite(t)
	ctx := context.Background()

	if _, err := r.InsertPaymentOrder(ctx, PaymentOrder{OrderID: "order_C", ProductID: "mat-1", UserID: "user-1", Amount: 499, Currency: "INR"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := r.UpdatePaymentOrderStatus(ctx, "order_C", OrderStatusCaptured, "pay_1"); err != nil {
		t.Fatalf("capture: %v", err)
	}
	if err := r.UpdatePaymentOrderStatus(ctx, "order_C", OrderStatusCompleted, "pay_1"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, err := r.GetPaymentOrder(ctx, "order_C")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != OrderStatusCaptured {
		t.Fatalf("expected captured to stick, got %s", got.Status)
	}
	if !got.SettledBy("pay_1") || got.SettledBy("pay_2") {
		t.Fatalf("unexpected SettledBy result for %+v", got)
	}
}

func TestClaimOTPAttemptStopsAtLimit(t *testing.T) {
	r := newTestSQLite(t)
	ctx := context.Background()
	const phone = "+919999999998"

	if _, err := r.ClaimOTPAttempt(ctx, phone, 3); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound without a pending code, got %v", err)
	}
	if err := r.UpsertOTP(ctx, OTP{PhoneNumber: phone, Code: "123456", ExpiresAt: time.Now().Add(time.Minute)}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	for i := 1; i <= 3; i++ {
		o, err := r.ClaimOTPAttempt(ctx, phone, 3)
		if err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		if o.Attempts != i {
			t.Fatalf("claim %d: attempts = %d", i, o.Attempts)
		}
	}
	if _, err := r.ClaimOTPAttempt(ctx, phone, 3); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected fourth claim to be refused, got %v", err)
	}
	got, err := r.GetOTP(ctx, phone)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Attempts != 3 {
		t.Fatalf("attempts must not pass the limit, got %d", got.Attempts)
	}
}

func TestGetPurchaseByPayment(t *testing.T) {
	r := newTestSQLite(t)
	ctx := context.Background()
	m := seedMaterial(t, r, Material{Title: "Polity", IsPremium: true, Price: 499, DurationType: DurationLifetime})

	if _, err := r.GetPurchaseByPayment(ctx, "pay_9"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := r.UpsertPurchase(ctx, Purchase{UserID: "u1", MaterialID: m.ID, PaymentID: "pay_9", Amount: 499, PurchasedAt: time.Now()}); err != nil {
		t.Fatalf("upsert purchase: %v", err)
	}
	got, err := r.GetPurchaseByPayment(ctx, "pay_9")
	if err != nil {
		t.Fatalf("get by payment: %v", err)
	}
	if got.UserID != "u1" || got.MaterialID != m.ID {
		t.Fatalf("unexpected purchase: %+v", got)
	}
}
