package entitlement

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Manialer35/avishkar-career-compass-sub001/internal/apperr"
	"github.com/Manialer35/avishkar-career-compass-sub001/internal/metrics"
	"github.com/Manialer35/avishkar-career-compass-sub001/internal/repo"
)

// PurchaseStore persists and reads entitlement rows.
type PurchaseStore interface {
	UpsertPurchase(ctx context.Context, p repo.Purchase) (*repo.Purchase, error)
	GetPurchase(ctx context.Context, userID, materialID string) (*repo.Purchase, error)
}

// Grant is a verified payment ready to become an entitlement.
type Grant struct {
	UserID     string
	MaterialID string
	PaymentID  string
	// Amount in rupees. Zero falls back to the material price.
	Amount float64
	// Source labels the caller for metrics (verify, webhook, googlepay).
	Source string
}

// Recorder turns verified payments into purchase rows.
type Recorder struct {
	materials MaterialStore
	purchases PurchaseStore
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewRecorder builds a Recorder.
func NewRecorder(materials MaterialStore, purchases PurchaseStore, logger *slog.Logger, m *metrics.Metrics) *Recorder {
	return &Recorder{
		materials: materials,
		purchases: purchases,
		logger:    logger.With("component", "entitlement_recorder"),
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Record upserts the purchase for (user, material). Replaying the same grant
// converges on one row whose payment id and timestamps come from the latest call.
func (r *Recorder) Record(ctx context.Context, g Grant) (*repo.Purchase, error) {
	g.UserID = strings.TrimSpace(g.UserID)
	g.MaterialID = strings.TrimSpace(g.MaterialID)
	if g.UserID == "" {
		return nil, apperr.ErrAuthRequired
	}
	if g.MaterialID == "" {
		return nil, fmt.Errorf("record entitlement: %w", apperr.ErrMaterialNotFound)
	}

	material, err := r.materials.GetMaterial(ctx, g.MaterialID)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("record entitlement for %s: %w", g.MaterialID, apperr.ErrMaterialNotFound)
		}
		return nil, fmt.Errorf("record entitlement: %w: %w", apperr.ErrPersistence, err)
	}

	amount := g.Amount
	if amount <= 0 {
		amount = material.Price
	}
	purchasedAt := r.now()
	purchase := repo.Purchase{
		UserID:      g.UserID,
		MaterialID:  material.ID,
		PaymentID:   g.PaymentID,
		Amount:      amount,
		PurchasedAt: purchasedAt,
		ExpiresAt:   ExpiryFor(*material, purchasedAt),
	}

	stored, err := r.purchases.UpsertPurchase(ctx, purchase)
	if err != nil {
		r.metrics.IncError("entitlement_recorder")
		return nil, fmt.Errorf("record entitlement: %w: %w", apperr.ErrPersistence, err)
	}

	if r.metrics != nil {
		r.metrics.EntitlementsRecorded.WithLabelValues(material.DurationType, sourceLabel(g.Source)).Inc()
	}
	r.logger.Info("entitlement recorded",
		"user_id", g.UserID,
		"material_id", material.ID,
		"payment_id", g.PaymentID,
		"expires_at", stored.ExpiresAt,
	)
	return stored, nil
}

func sourceLabel(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
