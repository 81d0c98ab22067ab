package health

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/saiset-co/sai-chainsync/types"
	"github.com/saiset-co/sai-chainsync/utils"
)

const DefaultCheckTimeout = 5 * time.Second

// Manager runs the registered checks concurrently. Checks requested while a round
// is running share it, and a finished round is served again for CacheFor, so a
// busy load balancer does not cost one RPC round trip per request.
type Manager struct {
	ctx      context.Context
	cancel   context.CancelFunc
	logger   types.Logger
	service  types.ServiceInfo
	timeout  time.Duration
	cacheFor time.Duration

	mu       sync.RWMutex
	checkers map[string]types.HealthChecker
	last     *types.HealthReport
	started  time.Time
	rounds   singleflight.Group
	running  atomic.Bool
}

func NewManager(ctx context.Context, logger types.Logger, service types.ServiceInfo, config *types.HealthConfig) *Manager {
	managerCtx, cancel := context.WithCancel(ctx)

	hm := &Manager{
		ctx:      managerCtx,
		cancel:   cancel,
		logger:   logger,
		service:  service,
		timeout:  DefaultCheckTimeout,
		checkers: make(map[string]types.HealthChecker),
	}

	if config != nil {
		if config.Timeout > 0 {
			hm.timeout = config.Timeout
		}
		hm.cacheFor = config.CacheFor
	}

	return hm
}

// RegisterChecker adds or replaces a check and drops the cached report.
func (hm *Manager) RegisterChecker(name string, checker types.HealthChecker) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.checkers[name] = checker
	hm.last = nil
}

func (hm *Manager) Check(ctx context.Context) types.HealthReport {
	if report, ok := hm.cached(); ok {
		return report
	}

	round := hm.rounds.DoChan("round", func() (interface{}, error) {
		return hm.round(), nil
	})

	select {
	case res := <-round:
		return res.Val.(types.HealthReport)
	case <-ctx.Done():
		return types.HealthReport{
			Status:    types.StatusUnknown,
			Timestamp: time.Now(),
			Service:   hm.service,
		}
	}
}

// LastResults returns the checks of the most recent round.
func (hm *Manager) LastResults() map[string]types.HealthCheck {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	if hm.last == nil {
		return map[string]types.HealthCheck{}
	}
	return maps.Clone(hm.last.Checks)
}

func (hm *Manager) Start() error {
	if !hm.running.CompareAndSwap(false, true) {
		return types.ErrServerAlreadyRunning
	}

	hm.mu.Lock()
	hm.started = time.Now()
	hm.mu.Unlock()

	hm.logger.Info("Health manager started",
		zap.Duration("check_timeout", hm.timeout),
		zap.Duration("cache_for", hm.cacheFor))

	return nil
}

func (hm *Manager) Stop() error {
	if !hm.running.CompareAndSwap(true, false) {
		return types.ErrServerNotRunning
	}

	hm.cancel()

	hm.mu.Lock()
	hm.checkers = make(map[string]types.HealthChecker)
	hm.last = nil
	hm.mu.Unlock()

	hm.logger.Info("Health manager stopped")
	return nil
}

func (hm *Manager) IsRunning() bool {
	return hm.running.Load()
}

// Handler serves the health report, answering 503 when it is unhealthy.
func (hm *Manager) Handler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if !hm.IsRunning() {
			utils.WriteJSON(ctx, fasthttp.StatusServiceUnavailable, map[string]string{
				"error": types.ErrHealthIsNotRunning.Error(),
			})
			return
		}

		report := hm.Check(ctx)

		status := fasthttp.StatusOK
		if report.Status == types.StatusUnhealthy {
			status = fasthttp.StatusServiceUnavailable
		}

		utils.WriteJSON(ctx, status, report)
	}
}

func (hm *Manager) VersionHandler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		utils.WriteJSON(ctx, fasthttp.StatusOK, VersionInfo{
			Version:   hm.service.Version,
			BuildInfo: getBuildInfo(),
		})
	}
}

func (hm *Manager) cached() (types.HealthReport, bool) {
	if hm.cacheFor <= 0 {
		return types.HealthReport{}, false
	}

	hm.mu.RLock()
	defer hm.mu.RUnlock()

	if hm.last == nil || time.Since(hm.last.Timestamp) >= hm.cacheFor {
		return types.HealthReport{}, false
	}
	return *hm.last, true
}

func (hm *Manager) round() types.HealthReport {
	hm.mu.RLock()
	checkers := maps.Clone(hm.checkers)
	hm.mu.RUnlock()

	results := make(map[string]types.HealthCheck, len(checkers))
	var resultsMu sync.Mutex

	var g errgroup.Group
	for name, checker := range checkers {
		g.Go(func() error {
			check := hm.run(name, checker)

			resultsMu.Lock()
			results[name] = check
			resultsMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	report := hm.report(results)

	hm.mu.Lock()
	hm.last = &report
	hm.mu.Unlock()

	return report
}

// run bounds one check by the timeout and turns a panic into an unhealthy result.
// A check that ignores its context is abandoned, not waited for.
func (hm *Manager) run(name string, checker types.HealthChecker) types.HealthCheck {
	start := time.Now()

	ctx, cancel := context.WithTimeout(hm.ctx, hm.timeout)
	defer cancel()

	done := make(chan types.HealthCheck, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- types.HealthCheck{
					Status:  types.StatusUnhealthy,
					Message: fmt.Sprintf("Health check panicked: %v", r),
				}
			}
		}()
		done <- checker(ctx)
	}()

	var check types.HealthCheck
	select {
	case check = <-done:
	case <-ctx.Done():
		check.Status = types.StatusUnhealthy
		if hm.ctx.Err() != nil {
			check.Message = "Health manager shutting down"
		} else {
			check.Message = "Health check timeout"
			hm.logger.Warn("Health check timeout", zap.String("check", name), zap.Duration("timeout", hm.timeout))
		}
	}

	check.Name = name
	check.LastCheck = time.Now()
	check.Duration = time.Since(start)

	return check
}

func (hm *Manager) report(results map[string]types.HealthCheck) types.HealthReport {
	hm.mu.RLock()
	started := hm.started
	hm.mu.RUnlock()

	report := types.HealthReport{
		Status:    types.StatusHealthy,
		Timestamp: time.Now(),
		Uptime:    time.Since(started),
		Service:   hm.service,
		Checks:    results,
		Summary:   types.HealthSummary{Total: len(results)},
	}

	for _, check := range results {
		switch check.Status {
		case types.StatusHealthy:
			report.Summary.Healthy++
		case types.StatusUnhealthy:
			report.Summary.Unhealthy++
		default:
			report.Summary.Unknown++
		}
	}

	switch {
	case report.Summary.Unhealthy > 0:
		report.Status = types.StatusUnhealthy
	case report.Summary.Unknown > 0:
		report.Status = types.StatusUnknown
	}

	return report
}
