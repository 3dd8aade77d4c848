package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPollStopsWhenReady(t *testing.T) {
	calls := 0
	got, err := Poll(context.Background(), Policy{MaxAttempts: 5, Interval: time.Millisecond}, func(context.Context) (string, bool, error) {
		calls++
		return "ready", calls == 3, nil
	})
	require.NoError(t, err)
	require.Equal(t, "ready", got)
	require.Equal(t, 3, calls)
}

func TestPollExhaustsAfterExactlyMaxAttempts(t *testing.T) {
	calls := 0
	_, err := Poll(context.Background(), Policy{MaxAttempts: 4, Interval: time.Millisecond}, func(context.Context) (int, bool, error) {
		calls++
		return 0, false, nil
	})
	require.ErrorIs(t, err, ErrExhausted)
	require.Equal(t, 4, calls)
}

func TestPollAbortsOnError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	_, err := Poll(context.Background(), Policy{MaxAttempts: 4, Interval: time.Millisecond}, func(context.Context) (int, bool, error) {
		calls++
		return 0, false, boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, calls)
}

func TestPollHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Poll(ctx, Policy{MaxAttempts: 10, Interval: time.Hour}, func(context.Context) (int, bool, error) {
		calls++
		cancel()
		return 0, false, nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestPollRejectsZeroAttempts(t *testing.T) {
	_, err := Poll(context.Background(), Policy{}, func(context.Context) (int, bool, error) {
		return 1, true, nil
	})
	require.Error(t, err)
}

func TestSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	require.NoError(t, Sleep(context.Background(), 0))
}
