// Package auth resolves who is calling: OTP sign-in, session tokens, Firebase ID
// tokens and admin roles. Nothing here is global; main builds an Authenticator
// and request handlers read the caller from the context.
package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/Manialer35/avishkar-career-compass-sub001/internal/apperr"
)

// UserIdentity is the caller as every downstream component sees it.
type UserIdentity struct {
	UserID string
	Email  string
	// EmailVerified is set only when the issuer vouches for Email.
	EmailVerified bool
	Phone         string
	DisplayName   string
	Provider      string
}

// idClaims lists the claims that may carry the user id, strongest first.
var idClaims = []string{"uid", "localId", "id", "user_id", "sub", "email"}

// NormalizeIdentity maps token claims from any provider to a UserIdentity.
func NormalizeIdentity(claims map[string]any) (UserIdentity, error) {
	var id UserIdentity
	for _, key := range idClaims {
		if v := claimString(claims, key); v != "" {
			id.UserID = v
			break
		}
	}
	if id.UserID == "" {
		return UserIdentity{}, fmt.Errorf("%w: token carries no user id", apperr.ErrAuthRequired)
	}
	id.Email = strings.ToLower(claimString(claims, "email"))
	id.EmailVerified = id.Email != "" && claimBool(claims, "email_verified")
	id.Phone = firstClaim(claims, "phone_number", "phone", "phoneNumber")
	id.DisplayName = firstClaim(claims, "name", "displayName", "display_name")
	id.Provider = firstClaim(claims, "provider")
	if fb, ok := claims["firebase"].(map[string]any); ok && id.Provider == "" {
		id.Provider = claimString(fb, "sign_in_provider")
	}
	return id, nil
}

func firstClaim(claims map[string]any, keys ...string) string {
	for _, k := range keys {
		if v := claimString(claims, k); v != "" {
			return v
		}
	}
	return ""
}

func claimString(claims map[string]any, key string) string {
	switch v := claims[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strings.TrimSpace(fmt.Sprintf("%.0f", v))
	default:
		return ""
	}
}

func claimBool(claims map[string]any, key string) bool {
	switch v := claims[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(strings.TrimSpace(v), "true")
	default:
		return false
	}
}

type identityContextKey struct{}

// WithIdentity stores the caller on ctx.
func WithIdentity(ctx context.Context, id UserIdentity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext returns the caller, if any.
func IdentityFromContext(ctx context.Context) (UserIdentity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(UserIdentity)
	return id, ok && id.UserID != ""
}

// UserID returns the caller id or "".
func UserID(ctx context.Context) string {
	id, _ := IdentityFromContext(ctx)
	return id.UserID
}
