package chain

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-chainsync/types"
)

type BreakerState int32

const (
	StateBreakerClosed BreakerState = iota
	StateBreakerOpen
	StateBreakerHalfOpen
	StateBreakerDisabled
)

// CircuitBreaker stops hammering an endpoint that keeps failing. After
// FailureThreshold consecutive transport failures it rejects calls for
// RecoveryTimeout, then lets HalfOpenRequests trial calls through.
type CircuitBreaker struct {
	config    types.CircuitBreakerConfig
	logger    types.Logger
	endpoint  string
	state     atomic.Value
	failures  atomic.Int32
	successes atomic.Int32
	lastFail  atomic.Int64
	mutex     sync.Mutex
}

func NewCircuitBreaker(config *types.CircuitBreakerConfig, logger types.Logger, endpoint string) *CircuitBreaker {
	cb := &CircuitBreaker{
		logger:   logger,
		endpoint: endpoint,
	}

	if config == nil || !config.Enabled {
		cb.state.Store(StateBreakerDisabled)
		return cb
	}

	cb.config = *config
	if cb.config.FailureThreshold <= 0 {
		cb.config.FailureThreshold = 5
	}
	if cb.config.RecoveryTimeout <= 0 {
		cb.config.RecoveryTimeout = 30 * time.Second
	}
	if cb.config.HalfOpenRequests <= 0 {
		cb.config.HalfOpenRequests = 1
	}

	cb.state.Store(StateBreakerClosed)

	return cb
}

func (cb *CircuitBreaker) CanExecute() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.getState() {
	case StateBreakerOpen:
		if time.Since(time.Unix(0, cb.lastFail.Load())) > cb.config.RecoveryTimeout {
			cb.transitionTo(StateBreakerHalfOpen)
			return true
		}
		return false
	default:
		return true
	}
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.getState() {
	case StateBreakerClosed:
		cb.failures.Store(0)
	case StateBreakerHalfOpen:
		successes := cb.successes.Add(1)
		cb.logger.Debug("Success recorded in half-open state",
			zap.String("endpoint", cb.endpoint),
			zap.Int32("successes", successes),
			zap.Int("required", cb.config.HalfOpenRequests))

		if successes >= int32(cb.config.HalfOpenRequests) {
			cb.transitionTo(StateBreakerClosed)
		}
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	state := cb.getState()
	if state == StateBreakerDisabled {
		return
	}

	cb.lastFail.Store(time.Now().UnixNano())

	switch state {
	case StateBreakerClosed:
		failures := cb.failures.Add(1)
		if failures >= int32(cb.config.FailureThreshold) {
			cb.transitionTo(StateBreakerOpen)
		}
	case StateBreakerHalfOpen:
		cb.transitionTo(StateBreakerOpen)
	}
}

func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.getState() == StateBreakerDisabled {
		return
	}
	cb.transitionTo(StateBreakerClosed)
}

func (cb *CircuitBreaker) State() BreakerState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.getState()
}

func (cb *CircuitBreaker) getState() BreakerState {
	return cb.state.Load().(BreakerState)
}

func (cb *CircuitBreaker) transitionTo(to BreakerState) {
	from := cb.getState()
	if from == to {
		return
	}

	cb.state.Store(to)
	cb.successes.Store(0)

	switch to {
	case StateBreakerClosed:
		cb.failures.Store(0)
		cb.lastFail.Store(0)
		cb.logger.Info("Circuit breaker closed", zap.String("endpoint", cb.endpoint))
	case StateBreakerOpen:
		cb.logger.Warn("Circuit breaker opened",
			zap.String("endpoint", cb.endpoint),
			zap.Int32("failures", cb.failures.Load()),
			zap.Int("threshold", cb.config.FailureThreshold))
	case StateBreakerHalfOpen:
		cb.logger.Info("Circuit breaker transitioned to half-open", zap.String("endpoint", cb.endpoint))
	}
}

func (s BreakerState) String() string {
	switch s {
	case StateBreakerClosed:
		return "closed"
	case StateBreakerOpen:
		return "open"
	case StateBreakerHalfOpen:
		return "half-open"
	case StateBreakerDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}
