package repo

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Payment order statuses.
const (
	OrderStatusCreated   = "created"
	OrderStatusCompleted = "completed"
	OrderStatusCaptured  = "captured"
)

// Material duration types.
const (
	DurationLifetime = "lifetime"
	DurationFixed    = "fixed"
)

// Roles stored in user_roles.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// PaymentOrder represents a row in payment_orders. Amount is in major units (rupees).
type PaymentOrder struct {
	ID        string
	OrderID   string
	ProductID string
	UserID    string
	Amount    float64
	Currency  string
	Status    string
	PaymentID *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SettledBy reports whether the order is already completed or captured by paymentID.
func (o PaymentOrder) SettledBy(paymentID string) bool {
	if o.PaymentID == nil || paymentID == "" || *o.PaymentID != paymentID {
		return false
	}
	return o.Status == OrderStatusCompleted || o.Status == OrderStatusCaptured
}

// Material represents a row in study_materials.
type Material struct {
	ID             string
	Title          string
	Description    *string
	IsPremium      bool
	Price          float64
	DurationType   string
	DurationMonths int
	DownloadURL    *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Purchase represents a row in user_purchases. A nil ExpiresAt means lifetime access.
type Purchase struct {
	ID          string
	UserID      string
	MaterialID  string
	PaymentID   string
	Amount      float64
	PurchasedAt time.Time
	ExpiresAt   *time.Time
}

// OTP represents a row in phone_otps.
type OTP struct {
	PhoneNumber string
	Code        string
	ExpiresAt   time.Time
	Attempts    int
	CreatedAt   time.Time
}

// Profile represents a row in profiles.
type Profile struct {
	ID          string
	Username    string
	FullName    *string
	AvatarURL   *string
	PhoneNumber *string
	Email       *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AuditEntry represents a row in admin_audit_log. A nil AdminUserID marks a system action.
type AuditEntry struct {
	AdminUserID *string
	Action      string
	TargetTable string
	TargetID    string
	OldValues   map[string]any
	NewValues   map[string]any
	IPAddress   string
	UserAgent   string
	AccessedAt  time.Time
}

// WebhookEvent represents a row in webhook_events used for delivery dedupe.
type WebhookEvent struct {
	EventID    string
	EventType  string
	Payload    []byte
	Status     string
	ReceivedAt time.Time
}
