package repo

import (
	"context"
	"io/fs"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error

	// Payment orders
	InsertPaymentOrder(ctx context.Context, order PaymentOrder) (*PaymentOrder, error)
	GetPaymentOrder(ctx context.Context, orderID string) (*PaymentOrder, error)
	UpdatePaymentOrderStatus(ctx context.Context, orderID, status, paymentID string) error

	// Materials
	GetMaterial(ctx context.Context, id string) (*Material, error)
	UpsertMaterial(ctx context.Context, m Material) (*Material, error)
	DeleteMaterial(ctx context.Context, id string) error

	// Purchases
	UpsertPurchase(ctx context.Context, p Purchase) (*Purchase, error)
	GetPurchase(ctx context.Context, userID, materialID string) (*Purchase, error)
	GetPurchaseByPayment(ctx context.Context, paymentID string) (*Purchase, error)
	ListPurchasesByUser(ctx context.Context, userID string) ([]Purchase, error)
	ListRecentPurchases(ctx context.Context, limit int) ([]Purchase, error)
	UpdatePurchaseAmountByPayment(ctx context.Context, paymentID string, amount float64) (int64, error)

	// OTPs
	UpsertOTP(ctx context.Context, otp OTP) error
	GetOTP(ctx context.Context, phone string) (*OTP, error)
	ClaimOTPAttempt(ctx context.Context, phone string, maxAttempts int) (*OTP, error)
	DeleteOTP(ctx context.Context, phone string) error

	// Profiles and roles
	UpsertProfile(ctx context.Context, p Profile) (*Profile, error)
	UpsertProfileByPhone(ctx context.Context, phone, username string) (*Profile, error)
	GetRole(ctx context.Context, userID string) (string, error)
	SetRole(ctx context.Context, userID, role string, phone *string) error

	// Audit and webhook bookkeeping
	InsertAuditLog(ctx context.Context, entry AuditEntry) error
	RecordWebhookEvent(ctx context.Context, evt WebhookEvent) (bool, error)
	MarkWebhookEvent(ctx context.Context, eventID, status string, at time.Time) error
}
