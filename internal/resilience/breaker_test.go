package resilience_test

import (
	"errors"
	"testing"
	"time"

	"github.com/book-expert/pronunciation-service/internal/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("backend down")

func fail() error    { return errBackend }
func succeed() error { return nil }

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		Name:         "speechpro",
		MaxFailures:  3,
		ResetTimeout: time.Hour,
	}, nil)

	for range 3 {
		require.ErrorIs(t, breaker.Execute(fail), errBackend)
	}

	assert.Equal(t, resilience.StateOpen, breaker.State())

	called := false
	err := breaker.Execute(func() error {
		called = true

		return nil
	})
	require.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.False(t, called, "open breaker must not call the backend")
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	breaker := resilience.NewBreaker(resilience.BreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour}, nil)

	_ = breaker.Execute(fail)
	require.NoError(t, breaker.Execute(succeed))
	_ = breaker.Execute(fail)

	assert.Equal(t, resilience.StateClosed, breaker.State())
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	t.Parallel()

	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		MaxFailures:  1,
		ResetTimeout: 20 * time.Millisecond,
	}, nil)

	_ = breaker.Execute(fail)
	require.Equal(t, resilience.StateOpen, breaker.State())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, resilience.StateHalfOpen, breaker.State())

	// A failed probe re-opens the breaker.
	require.ErrorIs(t, breaker.Execute(fail), errBackend)
	assert.Equal(t, resilience.StateOpen, breaker.State())

	time.Sleep(30 * time.Millisecond)

	require.NoError(t, breaker.Execute(succeed))
	assert.Equal(t, resilience.StateClosed, breaker.State())
}

func TestBreaker_HalfOpenNeedsConfiguredSuccesses(t *testing.T) {
	t.Parallel()

	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		MaxFailures:  1,
		ResetTimeout: 10 * time.Millisecond,
		HalfOpenMax:  2,
	}, nil)

	_ = breaker.Execute(fail)

	time.Sleep(20 * time.Millisecond)

	require.NoError(t, breaker.Execute(succeed))
	assert.Equal(t, resilience.StateHalfOpen, breaker.State())

	require.NoError(t, breaker.Execute(succeed))
	assert.Equal(t, resilience.StateClosed, breaker.State())
}

func TestBreaker_Reset(t *testing.T) {
	t.Parallel()

	breaker := resilience.NewBreaker(resilience.BreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour}, nil)

	_ = breaker.Execute(fail)
	require.Equal(t, resilience.StateOpen, breaker.State())

	breaker.Reset()
	assert.Equal(t, resilience.StateClosed, breaker.State())
	require.NoError(t, breaker.Execute(succeed))
}

func TestState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "closed", resilience.StateClosed.String())
	assert.Equal(t, "open", resilience.StateOpen.String())
	assert.Equal(t, "half-open", resilience.StateHalfOpen.String())
	assert.Equal(t, "unknown", resilience.State(42).String())
}
