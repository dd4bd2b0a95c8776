// Package checkout prepares the payment sheet and tracks what the user did with it.
// It never decides whether a payment is genuine; that belongs to the verifier.
package checkout

import "strings"

// Branding is the merchant-side part of the checkout sheet.
type Branding struct {
	KeyID      string
	Name       string
	ThemeColor string
}

// Order is what the sheet needs to know about the gateway order.
type Order struct {
	ID          string
	Amount      int64 // paise
	Currency    string
	Description string
}

// Customer prefills the sheet for the signed-in user.
type Customer struct {
	Name    string
	Email   string
	Contact string
}

// Options is the JSON handed to the Razorpay checkout widget.
type Options struct {
	Key         string  `json:"key"`
	Amount      int64   `json:"amount"`
	Currency    string  `json:"currency"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	OrderID     string  `json:"order_id"`
	Prefill     Prefill `json:"prefill"`
	Theme       Theme   `json:"theme"`
}

type Prefill struct {
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Contact string `json:"contact,omitempty"`
}

type Theme struct {
	Color string `json:"color,omitempty"`
}

// BuildOptions assembles the checkout sheet for order.
func BuildOptions(b Branding, order Order, c Customer) Options {
	currency := strings.ToUpper(strings.TrimSpace(order.Currency))
	if currency == "" {
		currency = "INR"
	}
	return Options{
		Key:         b.KeyID,
		Amount:      order.Amount,
		Currency:    currency,
		Name:        b.Name,
		Description: order.Description,
		OrderID:     order.ID,
		Prefill: Prefill{
			Name:    strings.TrimSpace(c.Name),
			Email:   strings.TrimSpace(c.Email),
			Contact: strings.TrimSpace(c.Contact),
		},
		Theme: Theme{Color: b.ThemeColor},
	}
}
