package payments

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/Manialer35/avishkar-career-compass-sub001/internal/apperr"
)

const lowerAlnum = "abcdefghijklmnopqrstuvwxyz0123456789"

// NewReceipt builds ord_<last 8 digits of unix millis>_<6 random chars>.
func NewReceipt(now time.Time) (string, error) {
	millis := strconv.FormatInt(now.UnixMilli(), 10)
	if len(millis) > 8 {
		millis = millis[len(millis)-8:]
	}
	suffix, err := randomString(6, lowerAlnum)
	if err != nil {
		return "", err
	}
	return "ord_" + millis + "_" + suffix, nil
}

// NewGooglePayTransactionID builds google-pay-test-<unix millis>-<9 random chars>.
func NewGooglePayTransactionID(now time.Time) (string, error) {
	suffix, err := randomString(9, lowerAlnum)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("google-pay-test-%d-%s", now.UnixMilli(), suffix), nil
}

func randomString(n int, alphabet string) (string, error) {
	limit := big.NewInt(int64(len(alphabet)))
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("random string: %w", err)
		}
		b.WriteByte(alphabet[idx.Int64()])
	}
	return b.String(), nil
}

// ParseAmount accepts a JSON number or a numeric string in paise. Fractions,
// non-numeric values and amounts <= 0 are rejected with ErrInvalidAmount.
func ParseAmount(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, fmt.Errorf("%w: amount is required", apperr.ErrInvalidAmount)
	}
	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, fmt.Errorf("%w: %v", apperr.ErrInvalidAmount, err)
		}
		text = strings.TrimSpace(text)
	}
	amount, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a whole number of paise", apperr.ErrInvalidAmount, text)
	}
	if amount <= 0 {
		return 0, fmt.Errorf("%w: amount must be positive", apperr.ErrInvalidAmount)
	}
	return amount, nil
}

// Rupees converts paise to the major unit stored in the database.
func Rupees(paise int64) float64 {
	return float64(paise) / 100
}
