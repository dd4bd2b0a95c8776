package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Manialer35/avishkar-career-compass-sub001/internal/metrics"
)

// State of a checkout session.
type State string

const (
	StateCreated      State = "created"
	StateAwaitingUser State = "awaiting_user"
	StateVerified     State = "verified"
	StateCancelled    State = "cancelled"
)

const (
	sessionKeyPrefix = "checkout:session:"
	defaultTTL       = 24 * time.Hour
	maxTxRetries     = 3
)

var (
	ErrInvalidTransition = errors.New("checkout: invalid state transition")
	ErrSessionNotFound   = errors.New("checkout: session not found")
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateVerified || s == StateCancelled
}

// Next validates from -> to. It returns changed=false when to re-applies the
// terminal state already reached.
func Next(from, to State) (changed bool, err error) {
	if from == to && from.Terminal() {
		return false, nil
	}
	switch to {
	case StateAwaitingUser:
		if from == StateCreated {
			return true, nil
		}
	case StateVerified, StateCancelled:
		if from == StateCreated || from == StateAwaitingUser {
			return true, nil
		}
	}
	return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Session is the server-side record of one checkout.
type Session struct {
	OrderID   string    `json:"order_id"`
	UserID    string    `json:"user_id"`
	ProductID string    `json:"product_id"`
	State     State     `json:"state"`
	PaymentID string    `json:"payment_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Manager stores sessions in Redis. Transitions run under WATCH so two
// concurrent outcomes for the same order cannot both win.
type Manager struct {
	rdb     *redis.Client
	ttl     time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewManager builds a Manager.
func NewManager(rdb *redis.Client, ttl time.Duration, logger *slog.Logger, m *metrics.Metrics) *Manager {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Manager{
		rdb:     rdb,
		ttl:     ttl,
		logger:  logger.With("component", "checkout"),
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func sessionKey(orderID string) string { return sessionKeyPrefix + orderID }

// Open starts a session in the created state. Reopening an existing order
// returns the stored session untouched.
func (m *Manager) Open(ctx context.Context, orderID, userID, productID string) (*Session, error) {
	now := m.now()
	s := Session{OrderID: orderID, UserID: userID, ProductID: productID, State: StateCreated, CreatedAt: now, UpdatedAt: now}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	ok, err := m.rdb.SetNX(ctx, sessionKey(orderID), data, m.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("open checkout session %s: %w", orderID, err)
	}
	if !ok {
		return m.Get(ctx, orderID)
	}
	m.count(StateCreated)
	return &s, nil
}

// Get loads a session.
func (m *Manager) Get(ctx context.Context, orderID string) (*Session, error) {
	return load(ctx, m.rdb, orderID)
}

// Present records that the options were shown to the user.
func (m *Manager) Present(ctx context.Context, orderID string) (*Session, error) {
	return m.transition(ctx, orderID, StateAwaitingUser, func(*Session) {})
}

// MarkVerified records a payment the verifier accepted.
func (m *Manager) MarkVerified(ctx context.Context, orderID, paymentID string) (*Session, error) {
	return m.transition(ctx, orderID, StateVerified, func(s *Session) { s.PaymentID = paymentID })
}

// Cancel records a dismissal. Nothing outside the session is touched.
func (m *Manager) Cancel(ctx context.Context, orderID, reason string) (*Session, error) {
	return m.transition(ctx, orderID, StateCancelled, func(s *Session) { s.Reason = reason })
}

func (m *Manager) transition(ctx context.Context, orderID string, to State, apply func(*Session)) (*Session, error) {
	key := sessionKey(orderID)
	var out *Session

	txf := func(tx *redis.Tx) error {
		s, err := load(ctx, tx, orderID)
		if err != nil {
			return err
		}
		changed, err := Next(s.State, to)
		if err != nil {
			return err
		}
		if !changed {
			out = s
			return nil
		}
		s.State = to
		s.UpdatedAt = m.now()
		apply(s)
		data, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, redis.KeepTTL)
			return nil
		})
		if err == nil {
			out = s
			m.count(to)
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := m.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		m.logger.Debug("checkout transition", "order_id", orderID, "state", out.State)
		return out, nil
	}
	return nil, fmt.Errorf("checkout session %s: concurrent update", orderID)
}

func (m *Manager) count(s State) {
	if m.metrics != nil {
		m.metrics.CheckoutTransitions.WithLabelValues(string(s)).Inc()
	}
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func load(ctx context.Context, c getter, orderID string) (*Session, error) {
	raw, err := c.Get(ctx, sessionKey(orderID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, orderID)
		}
		return nil, fmt.Errorf("load checkout session %s: %w", orderID, err)
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode checkout session %s: %w", orderID, err)
	}
	return &s, nil
}
