package backoff

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstantInterval(t *testing.T) {
	p := Constant{Every: 100 * time.Millisecond, MaxAttempts: 3}
	for i := 0; i < 3; i++ {
		d, err := p.Interval(i)
		require.NoError(t, err)
		assert.Equal(t, 100*time.Millisecond, d)
	}
	_, err := p.Interval(3)
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestConstantUnboundedWhenMaxAttemptsZero(t *testing.T) {
	p := Constant{Every: time.Millisecond}
	_, err := p.Interval(1_000_000)
	require.NoError(t, err)
}

func TestExponentialDoublesAndCaps(t *testing.T) {
	p := Exponential{Initial: 100 * time.Millisecond, Factor: 2, Cap: 500 * time.Millisecond}
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		500 * time.Millisecond,
		500 * time.Millisecond,
	}
	for i, w := range want {
		d, err := p.Interval(i)
		require.NoError(t, err)
		assert.Equal(t, w, d, "attempt %d", i)
	}
}

func TestJitteredStaysWithinSpread(t *testing.T) {
	p := Jittered{Policy: Constant{Every: time.Second}, Spread: 0.5}
	varied := false
	var first time.Duration
	for i := 0; i < 100; i++ {
		d, err := p.Interval(0)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.LessOrEqual(t, d, 1500*time.Millisecond)
		if i == 0 {
			first = d
		} else if d != first {
			varied = true
		}
	}
	assert.True(t, varied)
}

func TestJitteredPassesThroughExhaustion(t *testing.T) {
	p := Jittered{Policy: Constant{Every: time.Second, MaxAttempts: 1}}
	_, err := p.Interval(1)
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestWaiterWaitAndReset(t *testing.T) {
	w := NewWaiter(Constant{Every: time.Millisecond, MaxAttempts: 2})
	ctx := context.Background()

	require.NoError(t, w.Wait(ctx))
	require.NoError(t, w.Wait(ctx))
	assert.ErrorIs(t, w.Wait(ctx), ErrExhausted)

	w.Reset()
	require.NoError(t, w.Wait(ctx))
}

func TestWaiterHonorsContextCancellation(t *testing.T) {
	w := NewWaiter(Constant{Every: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- w.Wait(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after cancellation")
	}
}
