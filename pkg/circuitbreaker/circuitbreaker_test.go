package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"audiocast/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("backend down")

func fakeClock(t *testing.T) *time.Time {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	utils.Now = func() time.Time { return now }
	t.Cleanup(func() { utils.Now = time.Now })
	return &now
}

func failing() error { return errBackend }
func passing() error { return nil }

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	fakeClock(t)
	cb := New(Config{FailureThreshold: 3, SuccessThreshold: 1, Timeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, failing), errBackend)
		assert.Equal(t, StateClosed, cb.State())
	}
	assert.ErrorIs(t, cb.Execute(ctx, failing), errBackend)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	fakeClock(t)
	cb := New(Config{FailureThreshold: 2, Timeout: time.Minute})
	ctx := context.Background()

	_ = cb.Execute(ctx, failing)
	require.NoError(t, cb.Execute(ctx, passing))
	_ = cb.Execute(ctx, failing)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	now := fakeClock(t)
	cb := New(Config{FailureThreshold: 1, SuccessThreshold: 2, Timeout: time.Minute, MaxRequestsHalfOpen: 2})
	ctx := context.Background()

	var transitions []string
	cb.OnStateChange(func(from, to State) {
		transitions = append(transitions, from.String()+"->"+to.String())
	})

	_ = cb.Execute(ctx, failing)
	require.Equal(t, StateOpen, cb.State())

	*now = now.Add(59 * time.Second)
	assert.ErrorIs(t, cb.Execute(ctx, passing), ErrOpen)

	*now = now.Add(2 * time.Second)
	require.NoError(t, cb.Execute(ctx, passing))
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Execute(ctx, passing))
	assert.Equal(t, StateClosed, cb.State())

	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := fakeClock(t)
	cb := New(Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Minute})
	ctx := context.Background()

	_ = cb.Execute(ctx, failing)
	*now = now.Add(time.Minute)

	assert.ErrorIs(t, cb.Execute(ctx, failing), errBackend)
	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, passing), ErrOpen)
}

func TestCircuitBreaker_HalfOpenCallLimit(t *testing.T) {
	now := fakeClock(t)
	cb := New(Config{FailureThreshold: 1, SuccessThreshold: 2, Timeout: time.Minute, MaxRequestsHalfOpen: 2})
	ctx := context.Background()

	_ = cb.Execute(ctx, failing)
	*now = now.Add(time.Minute)

	err := cb.Execute(ctx, func() error {
		return cb.Execute(ctx, passing)
	})
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())

	cb.Reset()
	_ = cb.Execute(ctx, failing)
	*now = now.Add(time.Minute)
	// Two trial calls in flight use up the half-open slots.
	err = cb.Execute(ctx, func() error {
		return cb.Execute(ctx, func() error {
			return cb.Execute(ctx, passing)
		})
	})
	assert.ErrorIs(t, err, ErrOpen)
}

func TestExecuteWithResult(t *testing.T) {
	fakeClock(t)
	cb := New(DefaultConfig())

	v, err := ExecuteWithResult(context.Background(), cb, func() (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", v)

	_, err = ExecuteWithResult(context.Background(), cb, func() (int, error) { return 0, errBackend })
	assert.ErrorIs(t, err, errBackend)
}

func TestCircuitBreaker_CanceledContext(t *testing.T) {
	cb := New(DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := cb.Execute(ctx, func() error { called = true; return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
