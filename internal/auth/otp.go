package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Manialer35/avishkar-career-compass-sub001/internal/apperr"
	"github.com/Manialer35/avishkar-career-compass-sub001/internal/metrics"
	"github.com/Manialer35/avishkar-career-compass-sub001/internal/repo"
)

const otpDigits = 6

// OTPStore persists pending codes and phone profiles.
type OTPStore interface {
	UpsertOTP(ctx context.Context, otp repo.OTP) error
	GetOTP(ctx context.Context, phone string) (*repo.OTP, error)
	ClaimOTPAttempt(ctx context.Context, phone string, maxAttempts int) (*repo.OTP, error)
	DeleteOTP(ctx context.Context, phone string) error
	UpsertProfileByPhone(ctx context.Context, phone, username string) (*repo.Profile, error)
}

// RateLimiter counts events in a fixed window.
type RateLimiter interface {
	IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// OTPConfig tunes the OTP flow.
type OTPConfig struct {
	TTL         time.Duration
	MaxAttempts int
	SendLimit   int
	SendWindow  time.Duration
	ExposeCode  bool
}

// OTPService implements phone sign-in.
type OTPService struct {
	cfg      OTPConfig
	store    OTPStore
	limiter  RateLimiter
	sender   Sender
	sessions *SessionManager
	roles    *RoleService
	validate *validator.Validate
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	newCode  func() (string, error)
}

func NewOTPService(cfg OTPConfig, store OTPStore, limiter RateLimiter, sender Sender, sessions *SessionManager, roles *RoleService, logger *slog.Logger, m *metrics.Metrics) *OTPService {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.SendWindow <= 0 {
		cfg.SendWindow = 10 * time.Minute
	}
	return &OTPService{
		cfg:      cfg,
		store:    store,
		limiter:  limiter,
		sender:   sender,
		sessions: sessions,
		roles:    roles,
		validate: validator.New(),
		logger:   logger.With("component", "otp"),
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
		newCode:  randomCode,
	}
}

// SendResult carries the code only when test exposure is enabled.
type SendResult struct {
	Code string
}

// Send issues a fresh code for phone, replacing any pending one.
func (s *OTPService) Send(ctx context.Context, phone string) (*SendResult, error) {
	phone = strings.TrimSpace(phone)
	if err := s.validate.Var(phone, "required,e164"); err != nil {
		s.count("send", "invalid_phone")
		return nil, fmt.Errorf("%w: phone number must be in E.164 format", apperr.ErrInvalidInput)
	}

	if s.limiter != nil && s.cfg.SendLimit > 0 {
		n, retryIn, err := s.limiter.IncrementWindow(ctx, "otp:send:"+phone, s.cfg.SendWindow)
		switch {
		case err != nil:
			s.logger.Warn("otp rate limiter unavailable, allowing send", "error", err)
		case n > int64(s.cfg.SendLimit):
			s.count("send", "rate_limited")
			return nil, fmt.Errorf("%w: retry in %s", apperr.ErrRateLimited, retryIn.Round(time.Second))
		}
	}

	code, err := s.newCode()
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.store.UpsertOTP(ctx, repo.OTP{PhoneNumber: phone, Code: code, ExpiresAt: now.Add(s.cfg.TTL), CreatedAt: now}); err != nil {
		s.count("send", "store_error")
		return nil, fmt.Errorf("send otp: %w: %w", apperr.ErrPersistence, err)
	}
	if err := s.sender.SendOTP(ctx, phone, code); err != nil {
		s.count("send", "delivery_error")
		s.metrics.IncError("otp_delivery")
		if !s.cfg.ExposeCode {
			return nil, fmt.Errorf("deliver otp: %w", err)
		}
		s.logger.Warn("otp delivery failed, code exposed in response", "error", err, "phone", MaskPhone(phone))
	}

	s.count("send", "ok")
	res := &SendResult{}
	if s.cfg.ExposeCode {
		res.Code = code
	}
	return res, nil
}

// VerifyResult is a completed sign-in.
type VerifyResult struct {
	Identity     UserIdentity
	IsAdmin      bool
	SessionToken string
	ExpiresAt    time.Time
}

// Verify checks code for phone. A record that has used up its attempts is
// deleted and the caller must request a new code; an expired record is deleted
// even when the code matches.
func (s *OTPService) Verify(ctx context.Context, phone, code string) (*VerifyResult, error) {
	phone = strings.TrimSpace(phone)
	code = strings.TrimSpace(code)
	if err := s.validate.Var(phone, "required,e164"); err != nil {
		s.count("verify", "invalid_phone")
		return nil, fmt.Errorf("%w: phone number must be in E.164 format", apperr.ErrInvalidInput)
	}
	if code == "" {
		s.count("verify", "invalid")
		return nil, apperr.ErrInvalidOTP
	}

	// The attempt is spent before the code is compared, so concurrent guesses
	// cannot all slip under the limit.
	otp, err := s.store.ClaimOTPAttempt(ctx, phone, s.cfg.MaxAttempts)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, s.unclaimable(ctx, phone)
	}
	if err != nil {
		return nil, fmt.Errorf("verify otp: %w: %w", apperr.ErrPersistence, err)
	}

	if s.now().After(otp.ExpiresAt) {
		s.discard(ctx, phone)
		s.count("verify", "expired")
		return nil, fmt.Errorf("otp: %w", apperr.ErrExpired)
	}
	if subtle.ConstantTimeCompare([]byte(code), []byte(otp.Code)) != 1 {
		s.count("verify", "invalid")
		return nil, apperr.ErrInvalidOTP
	}

	profile, err := s.store.UpsertProfileByPhone(ctx, phone, PhoneUsername(phone))
	if err != nil {
		return nil, fmt.Errorf("verify otp: %w: %w", apperr.ErrPersistence, err)
	}
	identity := UserIdentity{UserID: profile.ID, Phone: phone, Provider: "phone"}
	if profile.Email != nil {
		identity.Email = *profile.Email
	}
	if profile.FullName != nil {
		identity.DisplayName = *profile.FullName
	}

	isAdmin := false
	if s.roles != nil {
		if isAdmin, err = s.roles.IsAdmin(ctx, identity); err != nil {
			s.logger.Warn("role lookup failed during sign-in", "error", err, "user_id", identity.UserID)
		}
	}

	token, expiresAt, err := s.sessions.Issue(identity)
	if err != nil {
		return nil, err
	}
	s.discard(ctx, phone)
	s.count("verify", "ok")
	s.logger.Info("phone sign-in", "user_id", identity.UserID, "phone", MaskPhone(phone), "admin", isAdmin)
	return &VerifyResult{Identity: identity, IsAdmin: isAdmin, SessionToken: token, ExpiresAt: expiresAt}, nil
}

// unclaimable explains why no attempt could be spent: either nothing is pending
// or the pending code has used up its attempts, in which case it is dropped.
func (s *OTPService) unclaimable(ctx context.Context, phone string) error {
	if _, err := s.store.GetOTP(ctx, phone); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.count("verify", "invalid")
			return apperr.ErrInvalidOTP
		}
		return fmt.Errorf("verify otp: %w: %w", apperr.ErrPersistence, err)
	}
	s.discard(ctx, phone)
	s.count("verify", "too_many_attempts")
	return apperr.ErrTooManyAttempts
}

func (s *OTPService) discard(ctx context.Context, phone string) {
	if err := s.store.DeleteOTP(ctx, phone); err != nil {
		s.logger.Warn("failed to delete otp", "error", err, "phone", MaskPhone(phone))
	}
}

func (s *OTPService) count(action, result string) {
	if s.metrics != nil {
		s.metrics.OTPRequests.WithLabelValues(action, result).Inc()
	}
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", otpDigits, n.Int64()), nil
}
