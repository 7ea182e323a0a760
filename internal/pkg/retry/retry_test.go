package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/MockupSuite/internal/pkg/apperror"
)

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}
}

func TestDoRetriesRetryableUntilSuccess(t *testing.T) {
	calls := 0
	var notified []int
	p := fastPolicy(5)
	p.OnRetry = func(err error, attempt int, wait time.Duration) { notified = append(notified, attempt) }

	err := Do(context.Background(), p, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return apperror.New(apperror.KindNetwork, "flaky")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, notified)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(5), func(ctx context.Context) error {
		calls++
		return apperror.New(apperror.KindValidation, "bad input")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
}

func TestDoHonoursMaxAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		calls++
		return apperror.New(apperror.KindNetwork, "down")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, apperror.IsNetwork(err))
}

func TestDoCustomPredicate(t *testing.T) {
	calls := 0
	sentinel := errors.New("try again")
	p := fastPolicy(4)
	p.ShouldRetry = func(err error) bool { return errors.Is(err, sentinel) }

	_ = Do(context.Background(), p, func(ctx context.Context) error {
		calls++
		return sentinel
	})
	assert.Equal(t, 4, calls)
}

func TestDoStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := Policy{MaxAttempts: 10, BaseDelay: 20 * time.Millisecond, MaxDelay: 20 * time.Millisecond}

	err := Do(ctx, p, func(ctx context.Context) error {
		calls++
		cancel()
		return apperror.New(apperror.KindNetwork, "")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoValue(t *testing.T) {
	v, err := DoValue(context.Background(), fastPolicy(2), func(ctx context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestDelayIsCapped(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 5 * time.Second}
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
	assert.Equal(t, 5*time.Second, p.Delay(4))
	assert.Equal(t, 5*time.Second, p.Delay(10))
}
