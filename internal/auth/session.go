package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/Manialer35/avishkar-career-compass-sub001/internal/apperr"
)

const (
	defaultSessionTTL = 7 * 24 * time.Hour
	sessionIssuer     = "avishkar-api"
)

// SessionManager issues and checks the HS256 tokens handed out after OTP sign-in.
type SessionManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

type sessionClaims struct {
	Phone         string `json:"phone_number,omitempty"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	Name          string `json:"name,omitempty"`
	Provider      string `json:"provider,omitempty"`
	jwt.RegisteredClaims
}

func NewSessionManager(secret string, ttl time.Duration) *SessionManager {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &SessionManager{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a session token for id.
func (m *SessionManager) Issue(id UserIdentity) (string, time.Time, error) {
	if len(m.secret) == 0 {
		return "", time.Time{}, errors.New("session secret is empty")
	}
	if strings.TrimSpace(id.UserID) == "" {
		return "", time.Time{}, errors.New("session subject is empty")
	}
	now := m.now().UTC()
	expiresAt := now.Add(m.ttl)
	claims := sessionClaims{
		Phone:         id.Phone,
		Email:         id.Email,
		EmailVerified: id.EmailVerified,
		Name:          id.DisplayName,
		Provider:      id.Provider,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify parses a session token and normalizes its claims.
func (m *SessionManager) Verify(_ context.Context, raw string) (UserIdentity, error) {
	if strings.TrimSpace(raw) == "" || len(m.secret) == 0 {
		return UserIdentity{}, apperr.ErrAuthRequired
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return UserIdentity{}, fmt.Errorf("%w: %w", apperr.ErrAuthRequired, err)
	}
	return NormalizeIdentity(claims)
}
