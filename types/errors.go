package types

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigInvalidPath    = errors.New("config invalid path")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigIsNil          = errors.New("config is nil")
	ErrConfigLoadFailed     = errors.New("config load failed")
	ErrConfigValidateFailed = errors.New("config validate failed")
)

var (
	ErrServerNotRunning     = errors.New("server not running")
	ErrServerAlreadyRunning = errors.New("server already running")
	ErrServerStartFailed    = errors.New("server start failed")
	ErrServerStopFailed     = errors.New("server stop failed")
	ErrPathNotFound         = errors.New("path not found")
)

var (
	ErrCacheNotFound        = errors.New("cache not found")
	ErrCacheKeyEmpty        = errors.New("cache key empty")
	ErrCacheOperationFailed = errors.New("cache operation failed")
)

var (
	ErrFetchFailed          = errors.New("fetch failed")
	ErrFetchTransient       = errors.New("transient fetch failure")
	ErrMalformedResponse    = errors.New("malformed response")
	ErrFetcherIsNil         = errors.New("fetcher is nil")
	ErrFetcherNotRegistered = errors.New("no fetcher registered for key")
	ErrUnexpectedValueType  = errors.New("unexpected cached value type")
	ErrUnknownEvent         = errors.New("unknown invalidation event")
	ErrInvalidationRule     = errors.New("invalid invalidation rule")
	ErrManagerStopped       = errors.New("data manager stopped")
	ErrBindingStarted       = errors.New("binding already started")
)

var (
	ErrCronIsRunning        = errors.New("cron is running")
	ErrCronSchedulerStopped = errors.New("cron scheduler stopped")
	ErrCronJobExists        = errors.New("cron job exists")
	ErrCronIntervalInvalid  = errors.New("cron interval invalid")
	ErrCronJobFailed        = errors.New("cron job failed")
	ErrCronJobNameIsEmpty   = errors.New("cron job name is empty")
	ErrCronJobIsNil         = errors.New("cron job is nil")
	ErrCronJobTimeout       = errors.New("cron job timeout")
)

var (
	ErrMetricsTypeUnknown = errors.New("metrics type unknown")
	ErrMetricsIsDisabled  = errors.New("metrics manager is disabled")
)

var (
	ErrClientRequestFailed   = errors.New("client request failed")
	ErrClientResponseInvalid = errors.New("client response invalid")
	ErrClientTimeout         = errors.New("client timeout")
	ErrCircuitBreakerOpen    = errors.New("circuit breaker open")
	ErrRPCResponse           = errors.New("rpc error response")
	ErrRPCEndpointMissing    = errors.New("rpc endpoint missing")
	ErrContractNotConfigured = errors.New("contract address not configured")
)

var (
	ErrHealthCheckFailed  = errors.New("health check failed")
	ErrHealthCheckTimeout = errors.New("health check timeout")
	ErrHealthIsNotRunning = errors.New("health manager is not running")
)

var (
	ErrLogFileIsEmpty      = errors.New("log file is empty")
	ErrLoggerConfigInvalid = errors.New("logger config invalid")
)

var (
	ErrServiceIsRunning     = errors.New("service is running")
	ErrServiceIsNotRunning  = errors.New("service is not running")
	ErrComponentStartFailed = errors.New("component start failed")
	ErrComponentStopFailed  = errors.New("component stop failed")
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrOperationFailed  = errors.New("operation failed")
	ErrNotImplemented   = errors.New("not implemented")
	ErrInternalError    = errors.New("internal error")
	ErrContextCancelled = errors.New("context cancelled")
	ErrContextTimeout   = errors.New("context timeout")
	ErrInvalidState     = errors.New("invalid state")
	ErrNotSupported     = errors.New("not supported")
)

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func NewErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}

// Transient marks err as retryable by the fetch retry policy.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrFetchTransient, err)
}
