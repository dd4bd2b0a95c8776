package checkout

import (
	"context"
	"errors"
)

// ErrNoOutcome is returned when the outcome channel closes without a value.
var ErrNoOutcome = errors.New("checkout: no outcome delivered")

// Outcome is either a Result or a Cancelled. No other implementations exist.
type Outcome interface {
	orderID() string
	outcome()
}

// Result carries what the gateway returned to the client after a payment.
// None of it is trusted until the signature is verified.
type Result struct {
	OrderID   string
	PaymentID string
	Signature string
}

// Cancelled means the user dismissed the sheet.
type Cancelled struct {
	OrderID string
	Reason  string
}

func (r Result) orderID() string    { return r.OrderID }
func (Result) outcome()             {}
func (c Cancelled) orderID() string { return c.OrderID }
func (Cancelled) outcome()          {}

// OrderIDOf returns the order an outcome refers to.
func OrderIDOf(o Outcome) string {
	if o == nil {
		return ""
	}
	return o.orderID()
}

// Await blocks until exactly one outcome arrives or ctx ends.
func Await(ctx context.Context, outcomes <-chan Outcome) (Outcome, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case o, ok := <-outcomes:
		if !ok || o == nil {
			return nil, ErrNoOutcome
		}
		return o, nil
	}
}

// Deliver wraps a single outcome in a ready channel.
func Deliver(o Outcome) <-chan Outcome {
	ch := make(chan Outcome, 1)
	ch <- o
	close(ch)
	return ch
}
