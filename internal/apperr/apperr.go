// Package apperr defines the error taxonomy shared by the payment, entitlement and
// auth flows, and the single place where those errors map to HTTP.
package apperr

import (
	"errors"
	"net/http"
)

var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrMaterialNotFound   = errors.New("material not found")
	ErrPersistence        = errors.New("persistence error")
	ErrAuthRequired       = errors.New("authentication required")
	ErrExpired            = errors.New("expired")

	ErrForbidden        = errors.New("forbidden")
	ErrInvalidOTP       = errors.New("invalid otp")
	ErrTooManyAttempts  = errors.New("too many attempts")
	ErrRateLimited      = errors.New("rate limited")
	ErrAlreadyPurchased = errors.New("already purchased")
	ErrInvalidInput     = errors.New("invalid input")
)

// VerificationFailedMessage is shown to users whenever payment verification fails.
const VerificationFailedMessage = "Payment verification failed. Please contact support."

type mapping struct {
	err     error
	status  int
	message string
}

// Order matters: the first sentinel found in the chain wins.
var mappings = []mapping{
	{ErrInvalidSignature, http.StatusBadRequest, VerificationFailedMessage},
	{ErrAuthRequired, http.StatusUnauthorized, "Authentication required"},
	{ErrForbidden, http.StatusForbidden, "Forbidden"},
	{ErrInvalidAmount, http.StatusBadRequest, "Invalid amount"},
	{ErrInvalidInput, http.StatusBadRequest, "Invalid request"},
	{ErrMaterialNotFound, http.StatusNotFound, "Material not found"},
	{ErrAlreadyPurchased, http.StatusConflict, "Material already purchased"},
	{ErrTooManyAttempts, http.StatusTooManyRequests, "Too many failed attempts. Please request a new OTP"},
	{ErrRateLimited, http.StatusTooManyRequests, "Too many requests. Please try again later"},
	{ErrInvalidOTP, http.StatusBadRequest, "Invalid or expired OTP"},
	{ErrExpired, http.StatusGone, "Expired. Please request a new one"},
	{ErrGatewayUnavailable, http.StatusBadGateway, "Payment gateway unavailable. Please try again"},
	{ErrPersistence, http.StatusInternalServerError, "Could not save your request. Please try again"},
}

// HTTPStatus returns the status code for err, 500 when it is not part of the taxonomy.
func HTTPStatus(err error) int {
	if m, ok := lookup(err); ok {
		return m.status
	}
	return http.StatusInternalServerError
}

// Message returns the user-facing message for err.
func Message(err error) string {
	if m, ok := lookup(err); ok {
		return m.message
	}
	return "Internal server error"
}

// Terminal reports whether err must not be retried by the caller.
func Terminal(err error) bool {
	return errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrAuthRequired) ||
		errors.Is(err, ErrTooManyAttempts)
}

func lookup(err error) (mapping, bool) {
	if err == nil {
		return mapping{}, false
	}
	for _, m := range mappings {
		if errors.Is(err, m.err) {
			return m, true
		}
	}
	return mapping{}, false
}
