package entitlement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Manialer35/avishkar-career-compass-sub001/internal/apperr"
	"github.com/Manialer35/avishkar-career-compass-sub001/internal/metrics"
	"github.com/Manialer35/avishkar-career-compass-sub001/internal/repo"
)

// Status explains an access decision to the client.
type Status string

const (
	StatusFree         Status = "free"
	StatusActive       Status = "active"
	StatusExpired      Status = "expired"
	StatusNotPurchased Status = "not_purchased"
)

// Decision is the outcome of a single access check.
type Decision struct {
	Allowed   bool
	Status    Status
	Material  repo.Material
	ExpiresAt *time.Time
}

// Err returns apperr.ErrExpired for lapsed entitlements so callers can show a
// repurchase prompt. It is not an authorization failure.
func (d Decision) Err() error {
	if d.Status == StatusExpired {
		return apperr.ErrExpired
	}
	return nil
}

// Checker evaluates material access on every call. Decisions are never cached
// because a webhook can change entitlement at any time.
type Checker struct {
	materials MaterialStore
	purchases PurchaseStore
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewChecker builds a Checker.
func NewChecker(materials MaterialStore, purchases PurchaseStore, m *metrics.Metrics) *Checker {
	return &Checker{
		materials: materials,
		purchases: purchases,
		metrics:   m,
		now:       time.Now,
	}
}

// Check decides whether userID may open materialID.
func (c *Checker) Check(ctx context.Context, userID, materialID string) (Decision, error) {
	material, err := c.materials.GetMaterial(ctx, strings.TrimSpace(materialID))
	if err != nil {
		if isNotFound(err) {
			return Decision{}, fmt.Errorf("check access: %w", apperr.ErrMaterialNotFound)
		}
		return Decision{}, fmt.Errorf("check access: %w: %w", apperr.ErrPersistence, err)
	}

	if !material.IsPremium {
		return c.observe(Decision{Allowed: true, Status: StatusFree, Material: *material}), nil
	}

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Decision{}, apperr.ErrAuthRequired
	}

	purchase, err := c.purchases.GetPurchase(ctx, userID, material.ID)
	if err != nil {
		if isNotFound(err) {
			return c.observe(Decision{Status: StatusNotPurchased, Material: *material}), nil
		}
		return Decision{}, fmt.Errorf("check access: %w: %w", apperr.ErrPersistence, err)
	}

	if purchase.ExpiresAt != nil && !purchase.ExpiresAt.After(c.now()) {
		return c.observe(Decision{Status: StatusExpired, Material: *material, ExpiresAt: purchase.ExpiresAt}), nil
	}
	return c.observe(Decision{Allowed: true, Status: StatusActive, Material: *material, ExpiresAt: purchase.ExpiresAt}), nil
}

func (c *Checker) observe(d Decision) Decision {
	if c.metrics != nil {
		c.metrics.AccessChecks.WithLabelValues(string(d.Status)).Inc()
	}
	return d
}
