package cache

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-chainsync/logger"
	"github.com/saiset-co/sai-chainsync/metrics"
	"github.com/saiset-co/sai-chainsync/types"
)

type statusError int

func (e statusError) Error() string   { return fmt.Sprintf("HTTP %d", int(e)) }
func (e statusError) StatusCode() int { return int(e) }

func newTestPolicy(attempts int, backoff, timeout time.Duration) *RetryPolicy {
	return NewRetryPolicy(logger.NewNop(), nil, &types.RetryConfig{
		Attempts: attempts,
		Backoff:  backoff,
		Timeout:  timeout,
	})
}

func TestRetryPolicyDefaults(t *testing.T) {
	policy := NewRetryPolicy(logger.NewNop(), nil, nil)

	assert.Equal(t, DefaultRetryAttempts, policy.Attempts())
	assert.Equal(t, DefaultRetryBackoff, policy.backoff)
	assert.Equal(t, DefaultFetchTimeout, policy.timeout)
}

func TestRetryPolicyRetriesTransientFailures(t *testing.T) {
	policy := newTestPolicy(2, time.Millisecond, time.Second)

	calls := 0
	value, err := policy.Execute(context.Background(), "balances:0xabc", 0, func(ctx context.Context) (interface{}, error) {
		calls++
		if calls < 3 {
			return nil, types.Transient(errors.New("node hiccup"))
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", value)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicyGivesUpAfterAttempts(t *testing.T) {
	policy := newTestPolicy(2, time.Millisecond, time.Second)

	calls := 0
	_, err := policy.Execute(context.Background(), "casinoStats", 0, func(ctx context.Context) (interface{}, error) {
		calls++
		return nil, statusError(503)
	})

	require.ErrorIs(t, err, types.ErrFetchFailed)
	assert.Equal(t, 3, calls, "one attempt plus two retries")
	var status StatusCoder
	require.True(t, errors.As(err, &status))
	assert.Equal(t, 503, status.StatusCode())
}

func TestRetryPolicySurfacesPermanentErrorsImmediately(t *testing.T) {
	policy := newTestPolicy(2, time.Millisecond, time.Second)

	calls := 0
	_, err := policy.Execute(context.Background(), "dexReserves", 0, func(ctx context.Context) (interface{}, error) {
		calls++
		return nil, types.Errorf(types.ErrMalformedResponse, "short word")
	})

	require.ErrorIs(t, err, types.ErrMalformedResponse)
	require.ErrorIs(t, err, types.ErrFetchFailed)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicyPerAttemptDeadlineIsTransient(t *testing.T) {
	policy := newTestPolicy(1, time.Millisecond, 20*time.Millisecond)

	calls := 0
	value, err := policy.Execute(context.Background(), "faucetState:0xabc", 0, func(ctx context.Context) (interface{}, error) {
		calls++
		if calls == 1 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return true, nil
	})

	require.NoError(t, err)
	assert.Equal(t, true, value)
	assert.Equal(t, 2, calls)
}

func TestRetryPolicyTimeoutOverride(t *testing.T) {
	policy := newTestPolicy(0, 0, time.Hour)

	start := time.Now()
	_, err := policy.Execute(context.Background(), "k", 15*time.Millisecond, func(ctx context.Context) (interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	require.ErrorIs(t, err, types.ErrFetchFailed)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRetryPolicyAbortsOnParentCancellation(t *testing.T) {
	policy := newTestPolicy(5, 50*time.Millisecond, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := policy.Execute(ctx, "k", 0, func(ctx context.Context) (interface{}, error) {
		calls++
		cancel()
		return nil, types.Transient(errors.New("flaky"))
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicyRecordsRetries(t *testing.T) {
	memory := metrics.NewMemoryMetrics(logger.NewNop(), nil)
	policy := NewRetryPolicy(logger.NewNop(), memory, &types.RetryConfig{Attempts: 2, Backoff: time.Millisecond, Timeout: time.Second})

	_, _ = policy.Execute(context.Background(), "balances:0xabc", 0, func(ctx context.Context) (interface{}, error) {
		return nil, types.Transient(errors.New("down"))
	})

	assert.Equal(t, float64(2), memory.Counter("fetch_retries_total", map[string]string{"kind": "balances"}).Get())
}

func TestRetryPolicyRejectsNilFetcher(t *testing.T) {
	policy := newTestPolicy(2, 0, time.Second)

	_, err := policy.Execute(context.Background(), "k", 0, nil)
	require.ErrorIs(t, err, types.ErrFetcherIsNil)
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"marked", types.Transient(errors.New("x")), true},
		{"deadline", context.DeadlineExceeded, true},
		{"rate limited", statusError(429), true},
		{"request timeout", statusError(408), true},
		{"bad gateway", statusError(502), true},
		{"not found", statusError(404), false},
		{"connection refused", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, true},
		{"reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"malformed", types.ErrMalformedResponse, false},
		{"plain", errors.New("revert"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}
