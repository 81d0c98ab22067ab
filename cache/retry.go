package cache

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-chainsync/types"
)

const (
	DefaultRetryAttempts = 2
	DefaultRetryBackoff  = time.Second
	DefaultFetchTimeout  = 8 * time.Second
)

// StatusCoder is implemented by errors that carry an HTTP status from the upstream node.
type StatusCoder interface {
	StatusCode() int
}

// RetryPolicy retries transient fetch failures a fixed number of extra times with a
// fixed pause between attempts. Every attempt gets its own deadline.
type RetryPolicy struct {
	logger   types.Logger
	metrics  types.MetricsManager
	attempts int
	backoff  time.Duration
	timeout  time.Duration
}

func NewRetryPolicy(logger types.Logger, metrics types.MetricsManager, config *types.RetryConfig) *RetryPolicy {
	policy := &RetryPolicy{
		logger:   logger,
		metrics:  metrics,
		attempts: DefaultRetryAttempts,
		backoff:  DefaultRetryBackoff,
		timeout:  DefaultFetchTimeout,
	}

	if config != nil {
		policy.attempts = config.Attempts
		policy.backoff = config.Backoff
		if config.Timeout > 0 {
			policy.timeout = config.Timeout
		}
	}

	return policy
}

func (p *RetryPolicy) Attempts() int {
	return p.attempts
}

// Execute runs fetch until it succeeds, fails with a non-transient error, runs out of
// attempts or ctx is done. timeout overrides the per-attempt deadline when positive.
func (p *RetryPolicy) Execute(ctx context.Context, key string, timeout time.Duration, fetch types.Fetcher) (interface{}, error) {
	if fetch == nil {
		return nil, types.ErrFetcherIsNil
	}

	if timeout <= 0 {
		timeout = p.timeout
	}

	var lastErr error
	maxAttempts := p.attempts + 1

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		value, err := p.attempt(ctx, timeout, fetch)
		if err == nil {
			return value, nil
		}

		if ctx.Err() != nil {
			return nil, types.WrapError(ctx.Err(), fmt.Sprintf("fetch %s aborted", key))
		}

		lastErr = err
		if !IsTransient(err) {
			p.logger.Debug("Not retrying permanent fetch error",
				zap.String("key", key),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return nil, fmt.Errorf("%w: %s: %w", types.ErrFetchFailed, key, err)
		}

		if attempt == maxAttempts {
			break
		}

		p.recordRetry(key)
		p.logger.Debug("Retrying fetch",
			zap.String("key", key),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", p.backoff),
			zap.Error(err))

		if err := p.wait(ctx); err != nil {
			return nil, types.WrapError(err, fmt.Sprintf("fetch %s aborted during backoff", key))
		}
	}

	return nil, fmt.Errorf("%w: all %d attempts failed for %s: %w", types.ErrFetchFailed, maxAttempts, key, lastErr)
}

func (p *RetryPolicy) attempt(ctx context.Context, timeout time.Duration, fetch types.Fetcher) (interface{}, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	value, err := fetch(attemptCtx)
	if err == nil {
		return value, nil
	}

	if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return nil, types.Transient(types.Errorf(types.ErrClientTimeout, "attempt exceeded %s: %v", timeout, err))
	}

	return nil, err
}

func (p *RetryPolicy) wait(ctx context.Context) error {
	if p.backoff <= 0 {
		return nil
	}

	timer := time.NewTimer(p.backoff)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *RetryPolicy) recordRetry(key string) {
	if p.metrics == nil {
		return
	}

	p.metrics.Counter("fetch_retries_total", map[string]string{
		"kind": string(types.KindOf(key)),
	}).Inc()
}

// IsTransient reports whether a fetch error is worth another attempt.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, types.ErrFetchTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var statusErr StatusCoder
	if errors.As(err, &statusErr) {
		return IsRetryableStatus(statusErr.StatusCode())
	}

	return isNetworkError(err)
}

func IsRetryableStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Timeout() || dnsErr.IsTemporary
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return isNetworkError(urlErr.Err)
	}

	var syscallErr syscall.Errno
	if errors.As(err, &syscallErr) {
		switch syscallErr {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ECONNABORTED,
			syscall.EHOSTUNREACH, syscall.ENETUNREACH, syscall.ETIMEDOUT, syscall.EPIPE:
			return true
		}
	}

	var opErr *net.OpError
	return errors.As(err, &opErr)
}
