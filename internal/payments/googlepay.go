package payments

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Manialer35/avishkar-career-compass-sub001/internal/apperr"
	"github.com/Manialer35/avishkar-career-compass-sub001/internal/entitlement"
	"github.com/Manialer35/avishkar-career-compass-sub001/internal/repo"
)

const priceTolerance = 0.01

// GooglePayInput is the body of the Google Pay test purchase. Amount is in rupees.
type GooglePayInput struct {
	Email     string  `json:"email" validate:"required,email"`
	Amount    float64 `json:"amount" validate:"gt=0,lte=100000"`
	ProductID string  `json:"productId" validate:"required,uuid"`
}

// GooglePayResult is returned after a test purchase.
type GooglePayResult struct {
	TransactionID string
	ExpiryDate    *time.Time
}

// GooglePayTest records a purchase without a gateway round trip. It only runs
// when the test mode switch is on.
func (s *Service) GooglePayTest(ctx context.Context, caller string, in GooglePayInput) (*GooglePayResult, error) {
	if !s.cfg.GooglePayTestMode {
		return nil, fmt.Errorf("google pay: %w: test mode disabled", apperr.ErrForbidden)
	}
	caller = strings.TrimSpace(caller)
	if caller == "" {
		return nil, apperr.ErrAuthRequired
	}
	in.Email = strings.TrimSpace(in.Email)
	in.ProductID = strings.TrimSpace(in.ProductID)
	if err := s.validate.Struct(in); err != nil {
		return nil, validationError(err)
	}

	material, err := s.materials.GetMaterial(ctx, in.ProductID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("google pay: %w", apperr.ErrMaterialNotFound)
		}
		return nil, fmt.Errorf("google pay: %w: %w", apperr.ErrPersistence, err)
	}
	if math.Abs(in.Amount-material.Price) > priceTolerance {
		return nil, fmt.Errorf("google pay: %w: expected %.2f", apperr.ErrInvalidAmount, material.Price)
	}

	now := s.now()
	existing, err := s.store.GetPurchase(ctx, caller, material.ID)
	switch {
	case err == nil:
		if existing.ExpiresAt == nil || existing.ExpiresAt.After(now) {
			return nil, fmt.Errorf("google pay: %w", apperr.ErrAlreadyPurchased)
		}
	case !errors.Is(err, repo.ErrNotFound):
		return nil, fmt.Errorf("google pay: %w: %w", apperr.ErrPersistence, err)
	}

	txID, err := NewGooglePayTransactionID(now)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.InsertPaymentOrder(ctx, repo.PaymentOrder{
		OrderID:   txID,
		ProductID: material.ID,
		UserID:    caller,
		Amount:    in.Amount,
		Currency:  s.cfg.Currency,
		Status:    repo.OrderStatusCompleted,
		PaymentID: &txID,
	}); err != nil {
		return nil, fmt.Errorf("google pay: %w: %w", apperr.ErrPersistence, err)
	}

	purchase, err := s.recorder.Record(ctx, entitlement.Grant{
		UserID:     caller,
		MaterialID: material.ID,
		PaymentID:  txID,
		Amount:     in.Amount,
		Source:     "googlepay",
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("google pay test purchase recorded", "transaction_id", txID, "user_id", caller, "material_id", material.ID, "email", in.Email)
	return &GooglePayResult{TransactionID: txID, ExpiryDate: purchase.ExpiresAt}, nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			if fe.Field() == "Amount" {
				return fmt.Errorf("%w: amount must be between 0 and 100000", apperr.ErrInvalidAmount)
			}
		}
		first := verrs[0]
		return fmt.Errorf("%w: %s failed %s", apperr.ErrInvalidInput, strings.ToLower(first.Field()), first.Tag())
	}
	return fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
}
