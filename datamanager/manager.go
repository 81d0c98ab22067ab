package datamanager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-chainsync/cache"
	"github.com/saiset-co/sai-chainsync/cron"
	"github.com/saiset-co/sai-chainsync/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const (
	DefaultTTL          = 30 * time.Second
	DefaultPollInterval = 60 * time.Second
)

type registration struct {
	fetch types.Fetcher
	ttl   time.Duration
}

type Option func(*Manager)

func WithClock(clock types.Clock) Option {
	return func(m *Manager) {
		m.clock = clock
	}
}

func WithMetrics(metrics types.MetricsManager) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithScheduler replaces the built-in cron scheduler. The caller owns its lifecycle.
func WithScheduler(scheduler types.PollScheduler) Option {
	return func(m *Manager) {
		m.scheduler = scheduler
	}
}

func WithRouter(router *Router) Option {
	return func(m *Manager) {
		m.router = router
	}
}

// WithCronConfig configures the scheduler the manager builds for itself. Ignored with WithScheduler.
func WithCronConfig(config *types.CronConfig) Option {
	return func(m *Manager) {
		m.cronConfig = config
	}
}

// Manager is the single entry point for on-chain reads. Callers get cached values,
// concurrent requests for the same key share one fetch, subscribed keys are polled
// in the background and write events drop the entries they made stale.
type Manager struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	metrics         types.MetricsManager
	clock           types.Clock
	config          *types.DataConfig
	store           *cache.Store
	inflight        *cache.InFlight
	subscribers     *cache.Subscribers
	retry           *cache.RetryPolicy
	router          *Router
	scheduler       types.PollScheduler
	ownScheduler    *cron.Manager
	cronConfig      *types.CronConfig
	fetchers        map[string]registration
	fetchersMu      sync.RWMutex
	polls           map[string]struct{}
	pollMu          sync.Mutex
	background      sync.WaitGroup
	backgroundMu    sync.Mutex
	state           atomic.Value
	shutdownTimeout time.Duration
}

func NewManager(ctx context.Context, logger types.Logger, config *types.DataConfig, opts ...Option) (*Manager, error) {
	if config == nil {
		return nil, types.Errorf(types.ErrConfigIsNil, "data config")
	}

	managerCtx, cancel := context.WithCancel(ctx)

	m := &Manager{
		ctx:             managerCtx,
		cancel:          cancel,
		logger:          logger,
		config:          config,
		inflight:        cache.NewInFlight(),
		subscribers:     cache.NewSubscribers(),
		fetchers:        make(map[string]registration),
		polls:           make(map[string]struct{}),
		shutdownTimeout: 10 * time.Second,
	}

	for _, opt := range opts {
		opt(m)
	}

	if config.ShutdownTimeout > 0 {
		m.shutdownTimeout = config.ShutdownTimeout
	}

	if m.clock == nil {
		m.clock = types.SystemClock{}
	}

	if m.router == nil {
		rules := DefaultRules()
		if len(config.Invalidation) > 0 {
			rules = RulesFromConfig(config.Invalidation)
		}

		router, err := NewRouter(rules)
		if err != nil {
			cancel()
			return nil, types.WrapError(err, "failed to build invalidation router")
		}
		m.router = router
	}

	if m.scheduler == nil {
		m.ownScheduler = cron.NewManager(managerCtx, logger, m.metrics, m.cronConfig)
		m.scheduler = m.ownScheduler
	}

	m.store = cache.NewStore(managerCtx, logger, m.clock, &config.Store)
	m.retry = cache.NewRetryPolicy(logger, m.metrics, &config.Retry)

	m.state.Store(StateStopped)

	return m, nil
}

// Get returns the cached value for key while it is fresh. Otherwise it fetches,
// joining a fetch already in flight for the same key. When the fetch fails and an
// older value exists, that value is returned instead of the error.
//
// ttl <= 0 selects the TTL configured for the key's kind.
func (m *Manager) Get(ctx context.Context, key types.Key, fetch types.Fetcher, ttl time.Duration) (interface{}, error) {
	if fetch == nil {
		return nil, types.ErrFetcherIsNil
	}

	if !m.IsRunning() {
		return nil, types.ErrManagerStopped
	}

	k := key.String()
	ttl = m.resolveTTL(key.Kind, ttl)
	m.register(k, fetch, ttl)

	if entry, ok := m.store.Read(k); ok && entry.Fresh(m.clock.Now()) {
		m.countRequest(key.Kind, "hit")
		m.logger.Debug("Cache hit", zap.String("key", k))
		return entry.Value, nil
	}

	m.countRequest(key.Kind, "miss")

	value, err := m.load(ctx, k, key.Kind, registration{fetch: fetch, ttl: ttl})
	if err == nil {
		return value, nil
	}

	if ctx.Err() != nil {
		return nil, err
	}

	if entry, ok := m.store.Read(k); ok {
		m.countRequest(key.Kind, "stale")
		m.logger.Warn("Serving stale value after failed fetch",
			zap.String("key", k),
			zap.Time("fetched_at", entry.FetchedAt),
			zap.Error(err))
		return entry.Value, nil
	}

	return nil, err
}

// Subscribe registers callback for every successful fetch of key. The first
// subscriber starts polling the key, the last unsubscribe stops it.
func (m *Manager) Subscribe(key types.Key, callback types.Callback) types.Unsubscribe {
	if callback == nil {
		m.logger.Warn("Ignoring subscription without callback", zap.String("key", key.String()))
		return func() {}
	}

	k := key.String()

	m.pollMu.Lock()
	id, first := m.subscribers.Add(k, callback)
	if first {
		m.startPollLocked(k, key.Kind)
	}
	m.pollMu.Unlock()

	m.setSubscribersGauge()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.pollMu.Lock()
			if last := m.subscribers.Remove(k, id); last {
				m.stopPollLocked(k)
			}
			m.pollMu.Unlock()

			m.setSubscribersGauge()
		})
	}
}

// ForceRefresh drops the entry for key and fetches it again with the fetcher it was
// last requested with. A fetch already in flight is joined rather than duplicated.
func (m *Manager) ForceRefresh(ctx context.Context, key types.Key) (interface{}, error) {
	if !m.IsRunning() {
		return nil, types.ErrManagerStopped
	}

	k := key.String()
	reg, ok := m.registration(k)
	if !ok {
		return nil, types.Errorf(types.ErrFetcherNotRegistered, "key: %s", k)
	}

	m.store.Invalidate(k)
	m.countRequest(key.Kind, "forced")

	return m.load(ctx, k, key.Kind, reg)
}

// InvalidateForEvent drops every entry the event made stale. Entries somebody is
// subscribed to are refetched right away in the background; the rest are refetched
// on their next Get.
func (m *Manager) InvalidateForEvent(event types.EventKind, scope string) ([]string, error) {
	keys, err := m.router.Resolve(event, scope, m.knownKeys)
	if err != nil {
		return nil, err
	}

	refreshed := 0
	for _, k := range keys {
		m.store.Invalidate(k)

		if m.subscribers.Count(k) > 0 && m.refreshAsync(k) {
			refreshed++
		}
	}

	m.countInvalidation(event, len(keys))
	m.logger.Debug("Invalidated after write",
		zap.String("event", string(event)),
		zap.String("scope", types.NormalizeScope(scope)),
		zap.Strings("keys", keys),
		zap.Int("refreshed", refreshed))

	return keys, nil
}

// NotifyWriteCompleted is the hook write handlers call once their transaction is final.
func (m *Manager) NotifyWriteCompleted(event string, scope string) error {
	_, err := m.InvalidateForEvent(types.EventKind(event), scope)
	return err
}

func (m *Manager) Invalidate(key types.Key) bool {
	return m.store.Invalidate(key.String())
}

// Peek returns the stored entry without fetching, fresh or not.
func (m *Manager) Peek(key types.Key) (types.Entry, bool) {
	return m.store.Read(key.String())
}

func (m *Manager) Clear() int {
	return m.store.Clear()
}

func (m *Manager) Stats() types.DataStats {
	m.pollMu.Lock()
	polls := len(m.polls)
	m.pollMu.Unlock()

	return types.DataStats{
		Running:     m.IsRunning(),
		Entries:     m.store.Len(),
		InFlight:    m.inflight.Len(),
		Subscribed:  len(m.subscribers.Keys()),
		Subscribers: m.subscribers.Total(),
		Polls:       polls,
	}
}

func (m *Manager) Start() error {
	if m.ctx.Err() != nil {
		return types.ErrManagerStopped
	}

	if !m.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	if err := m.store.Start(); err != nil {
		m.setState(StateStopped)
		return types.WrapError(err, "failed to start cache store")
	}

	if m.ownScheduler != nil {
		if err := m.ownScheduler.Start(); err != nil {
			_ = m.store.Stop()
			m.setState(StateStopped)
			return types.WrapError(err, "failed to start poll scheduler")
		}
	}

	m.setState(StateRunning)
	m.logger.Info("Data manager started",
		zap.Int("kinds", len(m.config.Kinds)),
		zap.Int("retry_attempts", m.retry.Attempts()))

	return nil
}

func (m *Manager) Stop() error {
	if !m.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer m.setState(StateStopped)

	m.pollMu.Lock()
	for k := range m.polls {
		m.scheduler.Cancel(k)
	}
	m.polls = make(map[string]struct{})
	m.pollMu.Unlock()

	m.backgroundMu.Lock()
	m.cancel()
	m.backgroundMu.Unlock()

	if m.ownScheduler != nil {
		if err := m.ownScheduler.Stop(); err != nil {
			m.logger.Warn("Poll scheduler did not stop cleanly", zap.Error(err))
		}
	}

	done := make(chan struct{})
	go func() {
		m.background.Wait()
		close(done)
	}()

	timer := time.NewTimer(m.shutdownTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		m.logger.Warn("Data manager stop timeout, background refreshes still running")
	}

	if err := m.store.Stop(); err != nil {
		m.logger.Warn("Cache store did not stop cleanly", zap.Error(err))
	}

	m.subscribers.Clear()

	m.fetchersMu.Lock()
	m.fetchers = make(map[string]registration)
	m.fetchersMu.Unlock()

	m.setSubscribersGauge()
	m.setPollsGauge(0)
	m.logger.Info("Data manager stopped")

	return nil
}

func (m *Manager) IsRunning() bool {
	return m.getState() == StateRunning
}

func (m *Manager) getState() State {
	return m.state.Load().(State)
}

func (m *Manager) setState(newState State) bool {
	currentState := m.getState()
	return m.state.CompareAndSwap(currentState, newState)
}

func (m *Manager) transitionState(from, to State) bool {
	return m.state.CompareAndSwap(from, to)
}

// load runs one fetch cycle through the in-flight registry. The fetch itself is bound
// to the manager's context, so a caller giving up does not cancel it for others.
func (m *Manager) load(ctx context.Context, k string, kind types.Kind, reg registration) (interface{}, error) {
	value, err, joined := m.inflight.Do(ctx, k, func() (interface{}, error) {
		return m.fetch(k, kind, reg)
	}, func(value interface{}, err error) {
		if err == nil {
			m.notify(k, value)
		}
	})

	if joined {
		m.countRequest(kind, "coalesced")
		m.logger.Debug("Joined in-flight fetch", zap.String("key", k))
	}

	return value, err
}

func (m *Manager) fetch(k string, kind types.Kind, reg registration) (interface{}, error) {
	start := time.Now()

	value, err := m.retry.Execute(m.ctx, k, m.kindConfig(kind).FetchTimeout, reg.fetch)
	m.observeFetch(kind, start, err)

	if err != nil {
		if !errors.Is(err, context.Canceled) {
			m.logger.Error("Fetch failed", zap.String("key", k), zap.Error(err))
		}
		return nil, err
	}

	m.store.Write(k, value, reg.ttl)
	return value, nil
}

func (m *Manager) notify(k string, value interface{}) {
	for _, callback := range m.subscribers.Snapshot(k) {
		m.invoke(k, callback, value)
	}
}

func (m *Manager) invoke(k string, callback types.Callback, value interface{}) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Subscriber callback panicked",
				zap.String("key", k),
				zap.String("panic", fmt.Sprint(r)))
		}
	}()

	callback(value)
}

func (m *Manager) poll(k string, kind types.Kind) types.PollJob {
	return func(ctx context.Context) error {
		if m.subscribers.Count(k) == 0 {
			return nil
		}

		reg, ok := m.registration(k)
		if !ok {
			return nil
		}

		if _, err := m.load(ctx, k, kind, reg); err != nil {
			m.logger.Warn("Poll refresh failed, keeping schedule",
				zap.String("key", k),
				zap.Error(err))
			return err
		}

		return nil
	}
}

func (m *Manager) startPollLocked(k string, kind types.Kind) {
	if _, exists := m.polls[k]; exists {
		return
	}

	interval := m.kindConfig(kind).PollInterval

	err := m.scheduler.Schedule(k, interval, m.poll(k, kind))
	if err != nil && !errors.Is(err, types.ErrCronJobExists) {
		m.logger.Error("Failed to schedule polling", zap.String("key", k), zap.Error(err))
		return
	}

	m.polls[k] = struct{}{}
	m.setPollsGauge(len(m.polls))
	m.logger.Debug("Polling started", zap.String("key", k), zap.Duration("interval", interval))
}

func (m *Manager) stopPollLocked(k string) {
	if _, exists := m.polls[k]; !exists {
		return
	}

	m.scheduler.Cancel(k)
	delete(m.polls, k)
	m.setPollsGauge(len(m.polls))
	m.logger.Debug("Polling stopped", zap.String("key", k))
}

func (m *Manager) refreshAsync(k string) bool {
	reg, ok := m.registration(k)
	if !ok {
		return false
	}

	m.backgroundMu.Lock()
	defer m.backgroundMu.Unlock()

	if m.ctx.Err() != nil {
		return false
	}

	m.background.Add(1)
	go func() {
		defer m.background.Done()

		if _, err := m.load(m.ctx, k, types.KindOf(k), reg); err != nil {
			m.logger.Warn("Refresh after invalidation failed", zap.String("key", k), zap.Error(err))
		}
	}()

	return true
}

func (m *Manager) register(k string, fetch types.Fetcher, ttl time.Duration) {
	m.fetchersMu.Lock()
	m.fetchers[k] = registration{fetch: fetch, ttl: ttl}
	m.fetchersMu.Unlock()
}

func (m *Manager) registration(k string) (registration, bool) {
	m.fetchersMu.RLock()
	defer m.fetchersMu.RUnlock()

	reg, ok := m.fetchers[k]
	return reg, ok
}

// knownKeys merges stored keys with keys that have a registered fetcher, so prefix
// rules also reach entries that were evicted or already dropped.
func (m *Manager) knownKeys(prefix string) []string {
	seen := make(map[string]struct{})
	for _, k := range m.store.Keys(prefix) {
		seen[k] = struct{}{}
	}

	m.fetchersMu.RLock()
	for k := range m.fetchers {
		if strings.HasPrefix(k, prefix) {
			seen[k] = struct{}{}
		}
	}
	m.fetchersMu.RUnlock()

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	return keys
}

func (m *Manager) kindConfig(kind types.Kind) types.KindConfig {
	kc, ok := m.config.Kinds[string(kind)]
	if !ok {
		kc = types.KindConfig{}
	}

	if kc.TTL <= 0 {
		kc.TTL = m.config.DefaultTTL
		if kc.TTL <= 0 {
			kc.TTL = DefaultTTL
		}
	}

	if kc.PollInterval <= 0 {
		kc.PollInterval = m.config.DefaultPollInterval
		if kc.PollInterval <= 0 {
			kc.PollInterval = DefaultPollInterval
		}
	}

	return kc
}

func (m *Manager) resolveTTL(kind types.Kind, ttl time.Duration) time.Duration {
	if ttl > 0 {
		return ttl
	}
	return m.kindConfig(kind).TTL
}
