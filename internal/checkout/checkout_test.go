package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/Manialer35/avishkar-career-compass-sub001/internal/logging"
)

func newTestManager(t *testing.T) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewManager(rdb, time.Hour, logging.Discard(), nil), mr
}

func TestNextTransitions(t *testing.T) {
	cases := []struct {
		from, to State
		changed  bool
		invalid  bool
	}{
		{StateCreated, StateAwaitingUser, true, false},
		{StateCreated, StateVerified, true, false},
		{StateCreated, StateCancelled, true, false},
		{StateAwaitingUser, StateVerified, true, false},
		{StateAwaitingUser, StateCancelled, true, false},
		{StateVerified, StateVerified, false, false},
		{StateCancelled, StateCancelled, false, false},
		{StateVerified, StateCancelled, false, true},
		{StateCancelled, StateVerified, false, true},
		{StateAwaitingUser, StateAwaitingUser, false, true},
		{StateVerified, StateAwaitingUser, false, true},
		{StateAwaitingUser, StateCreated, false, true},
	}
	for _, tc := range cases {
		changed, err := Next(tc.from, tc.to)
		if tc.invalid {
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("%s -> %s: expected ErrInvalidTransition, got %v", tc.from, tc.to, err)
			}
			continue
		}
		if err != nil || changed != tc.changed {
			t.Fatalf("%s -> %s: changed=%v err=%v", tc.from, tc.to, changed, err)
		}
	}
}

func TestSessionHappyPath(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()

	s, err := m.Open(ctx, "order_1", "user_1", "mat_1")
	require.NoError(t, err)
	require.Equal(t, StateCreated, s.State)
	require.True(t, mr.Exists(sessionKeyPrefix+"order_1"))
	require.Equal(t, time.Hour, mr.TTL(sessionKeyPrefix+"order_1"))

	s, err = m.Present(ctx, "order_1")
	require.NoError(t, err)
	require.Equal(t, StateAwaitingUser, s.State)

	s, err = m.MarkVerified(ctx, "order_1", "pay_1")
	require.NoError(t, err)
	require.Equal(t, StateVerified, s.State)
	require.Equal(t, "pay_1", s.PaymentID)

	again, err := m.MarkVerified(ctx, "order_1", "pay_1")
	require.NoError(t, err)
	require.True(t, s.UpdatedAt.Equal(again.UpdatedAt), "re-applying a terminal state is a no-op")

	_, err = m.Cancel(ctx, "order_1", "dismissed")
	require.ErrorIs(t, err, ErrInvalidTransition)

	require.Equal(t, time.Hour, mr.TTL(sessionKeyPrefix+"order_1"), "transitions keep the original ttl")
}

func TestOpenIsIdempotent(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Open(ctx, "order_1", "user_1", "mat_1")
	require.NoError(t, err)
	_, err = m.Cancel(ctx, "order_1", "dismissed")
	require.NoError(t, err)

	s, err := m.Open(ctx, "order_1", "someone_else", "mat_2")
	require.NoError(t, err)
	require.Equal(t, StateCancelled, s.State)
	require.Equal(t, "user_1", s.UserID)
}

func TestMissingSession(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Cancel(context.Background(), "ghost", "")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestConcurrentOutcomesOnlyOneWins(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	_, err := m.Open(ctx, "order_race", "user_1", "mat_1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() { defer wg.Done(); _, errs[0] = m.MarkVerified(ctx, "order_race", "pay_1") }()
	go func() { defer wg.Done(); _, errs[1] = m.Cancel(ctx, "order_race", "dismissed") }()
	wg.Wait()

	s, err := m.Get(ctx, "order_race")
	require.NoError(t, err)
	require.True(t, s.State.Terminal())

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		}
	}
	require.Equal(t, 1, ok, "exactly one terminal outcome may win: %v", errs)
}

func TestAwait(t *testing.T) {
	o, err := Await(context.Background(), Deliver(Result{OrderID: "o", PaymentID: "p", Signature: "s"}))
	require.NoError(t, err)
	res, ok := o.(Result)
	require.True(t, ok)
	require.Equal(t, "p", res.PaymentID)
	require.Equal(t, "o", OrderIDOf(o))

	o, err = Await(context.Background(), Deliver(Cancelled{OrderID: "o"}))
	require.NoError(t, err)
	_, ok = o.(Cancelled)
	require.True(t, ok)

	closed := make(chan Outcome)
	close(closed)
	_, err = Await(context.Background(), closed)
	require.ErrorIs(t, err, ErrNoOutcome)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Await(ctx, make(chan Outcome))
	require.ErrorIs(t, err, context.Canceled)
}

func TestBuildOptions(t *testing.T) {
	opts := BuildOptions(
		Branding{KeyID: "rzp_test_key", Name: "Avishkar", ThemeColor: "#3399cc"},
		Order{ID: "order_1", Amount: 49900, Description: "Polity notes"},
		Customer{Name: " Asha ", Email: "asha@example.com", Contact: "+919876543210"},
	)
	require.Equal(t, "rzp_test_key", opts.Key)
	require.Equal(t, int64(49900), opts.Amount)
	require.Equal(t, "INR", opts.Currency)
	require.Equal(t, "order_1", opts.OrderID)
	require.Equal(t, "Asha", opts.Prefill.Name)
	require.Equal(t, "#3399cc", opts.Theme.Color)
}
