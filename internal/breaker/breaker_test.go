package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func failing(context.Context) error { return errBoom }
func succeeding(context.Context) error { return nil }

func trip(t *testing.T, b *Breaker, failures int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < failures; i++ {
		err := b.Call(ctx, failing)
		require.ErrorIs(t, err, errBoom)
	}
}

func TestClosedPassesCallsThrough(t *testing.T) {
	b := New("test")
	ctx := context.Background()

	invoked := false
	err := b.Call(ctx, func(context.Context) error {
		invoked = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, invoked)
	assert.Equal(t, StateClosed, b.State())
}

func TestOpensAfterThresholdConsecutiveFailures(t *testing.T) {
	b := New("test", WithFailureThreshold(3))
	trip(t, b, 3)

	assert.Equal(t, StateOpen, b.State())

	// The next call fails fast without invoking the function.
	invoked := false
	err := b.Call(context.Background(), func(context.Context) error {
		invoked = true
		return nil
	})
	require.Error(t, err)
	assert.True(t, IsOpen(err))
	assert.False(t, invoked)
}

func TestSuccessResetsFailureRun(t *testing.T) {
	b := New("test", WithFailureThreshold(3))
	ctx := context.Background()

	trip(t, b, 2)
	require.NoError(t, b.Call(ctx, succeeding))
	assert.Equal(t, 0, b.ConsecutiveFailures())

	// Two more failures are not three consecutive ones.
	trip(t, b, 2)
	assert.Equal(t, StateClosed, b.State())
}

func TestRecoveryToHalfOpenAndClose(t *testing.T) {
	b := New("test",
		WithFailureThreshold(2),
		WithRecoveryTimeout(30*time.Millisecond),
		WithHalfOpenMaxCalls(2),
	)
	ctx := context.Background()

	trip(t, b, 2)
	require.Equal(t, StateOpen, b.State())

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, b.State())

	// A half-open success closes the circuit and resets the counter.
	require.NoError(t, b.Call(ctx, succeeding))
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.ConsecutiveFailures())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b := New("test",
		WithFailureThreshold(2),
		WithRecoveryTimeout(20*time.Millisecond),
	)

	trip(t, b, 2)
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.State())

	err := b.Call(context.Background(), failing)
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, StateOpen, b.State())
}

func TestHalfOpenProbeLimit(t *testing.T) {
	b := New("test",
		WithFailureThreshold(1),
		WithRecoveryTimeout(20*time.Millisecond),
		WithHalfOpenMaxCalls(1),
	)
	trip(t, b, 1)
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.State())

	// Occupy the only probe slot with a slow call.
	started := make(chan struct{})
	release := make(chan struct{})
	probeDone := make(chan error, 1)
	go func() {
		probeDone <- b.Call(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()

	// Second call while the probe is in flight is rejected fast.
	<-started
	err := b.Call(context.Background(), succeeding)
	assert.True(t, IsOpen(err))

	close(release)
	require.NoError(t, <-probeDone)
	assert.Equal(t, StateClosed, b.State())
}

func TestStateChangeCallback(t *testing.T) {
	type change struct{ from, to State }
	var changes []change

	b := New("callback",
		WithFailureThreshold(2),
		WithRecoveryTimeout(10*time.Millisecond),
		WithStateChangeCallback(func(name string, from, to State) {
			assert.Equal(t, "callback", name)
			changes = append(changes, change{from, to})
		}),
	)

	trip(t, b, 2)
	time.Sleep(15 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.State())
	require.NoError(t, b.Call(context.Background(), succeeding))

	assert.Equal(t, []change{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}, changes)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "CLOSED", StateClosed.String())
	assert.Equal(t, "OPEN", StateOpen.String())
	assert.Equal(t, "HALF_OPEN", StateHalfOpen.String())
}
