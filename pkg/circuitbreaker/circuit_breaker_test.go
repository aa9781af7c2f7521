package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

var errPage = errors.New("page unavailable")

func newTestBreaker(max uint32, opts ...Option) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	logger, _ := test.NewNullLogger()
	opts = append(opts, WithClock(clock.now))
	return New("page", max, time.Minute, logger, opts...), clock
}

func fail(context.Context) error    { return errPage }
func succeed(context.Context) error { return nil }

func TestCircuitBreaker_TripsAfterMaxFailures(t *testing.T) {
	cb, _ := newTestBreaker(3)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errPage)
		assert.Equal(t, StateClosed, cb.State())
	}
	assert.ErrorIs(t, cb.Execute(ctx, fail), errPage)
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow())

	calls := 0
	err := cb.Execute(ctx, func(context.Context) error { calls++; return nil })
	require.Error(t, err)
	assert.True(t, IsCircuitBreakerError(err))
	assert.Equal(t, 0, calls)
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb, _ := newTestBreaker(2)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	require.NoError(t, cb.Execute(ctx, succeed))
	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	cb, clock := newTestBreaker(1)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	require.Equal(t, StateOpen, cb.State())

	clock.advance(time.Minute)
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.True(t, cb.Allow())

	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb, clock := newTestBreaker(5)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = cb.Execute(ctx, fail)
	}
	clock.advance(2 * time.Minute)
	assert.ErrorIs(t, cb.Execute(ctx, fail), errPage)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_FailurePredicate(t *testing.T) {
	notFound := errors.New("target not found")
	cb, _ := newTestBreaker(1, WithFailurePredicate(func(err error) bool {
		return errors.Is(err, errPage)
	}))
	ctx := context.Background()

	assert.ErrorIs(t, cb.Execute(ctx, func(context.Context) error { return notFound }), notFound)
	assert.Equal(t, StateClosed, cb.State())

	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_Stats(t *testing.T) {
	cb, _ := newTestBreaker(2)
	ctx := context.Background()
	_ = cb.Execute(ctx, succeed)
	_ = cb.Execute(ctx, fail)

	stats := cb.GetStats()
	assert.Equal(t, "page", stats.Name)
	assert.Equal(t, "CLOSED", stats.State)
	assert.Equal(t, uint32(1), stats.Failures)
	assert.Equal(t, uint64(2), stats.Requests)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "HALF_OPEN", StateHalfOpen.String())
	assert.Equal(t, "UNKNOWN", State(9).String())
}
