package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Manialer35/avishkar-career-compass-sub001/internal/apperr"
)

// TokenVerifier turns a bearer token into an identity.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (UserIdentity, error)
}

// Authenticator tries each verifier in order. Built once in main and injected.
type Authenticator struct {
	verifiers []TokenVerifier
	logger    *slog.Logger
}

func NewAuthenticator(logger *slog.Logger, verifiers ...TokenVerifier) *Authenticator {
	return &Authenticator{verifiers: verifiers, logger: logger.With("component", "auth")}
}

// Authenticate resolves raw to an identity or returns apperr.ErrAuthRequired.
func (a *Authenticator) Authenticate(ctx context.Context, raw string) (UserIdentity, error) {
	if strings.TrimSpace(raw) == "" {
		return UserIdentity{}, apperr.ErrAuthRequired
	}
	var errs []error
	for _, v := range a.verifiers {
		id, err := v.Verify(ctx, raw)
		if err == nil {
			return id, nil
		}
		errs = append(errs, err)
	}
	a.logger.Debug("bearer token rejected", "error", errors.Join(errs...))
	return UserIdentity{}, apperr.ErrAuthRequired
}

// Optional attaches the caller when a valid bearer token is present and lets
// anonymous requests through.
func (a *Authenticator) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if raw, ok := BearerToken(r.Header.Get("Authorization")); ok {
			if id, err := a.Authenticate(r.Context(), raw); err == nil {
				r = r.WithContext(WithIdentity(r.Context(), id))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Required rejects requests without a valid bearer token.
func (a *Authenticator) Required(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := BearerToken(r.Header.Get("Authorization"))
		if !ok {
			writeAuthError(w, apperr.ErrAuthRequired)
			return
		}
		id, err := a.Authenticate(r.Context(), raw)
		if err != nil {
			writeAuthError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(value string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(value), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

func writeAuthError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperr.HTTPStatus(err))
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": apperr.Message(err)})
}
