package cache

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

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
	DefaultMaxEntries      = 10000
	DefaultCleanupInterval = 5 * time.Minute
)

type StoreStats struct {
	Entries   int    `json:"entries"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Expired   uint64 `json:"expired"`
}

// Store maps serialized keys to the last successfully fetched entry.
// Entries are replaced wholesale and outlive their TTL until retention elapses,
// so a failed refresh can still fall back to the previous value.
type Store struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	clock           types.Clock
	config          types.StoreConfig
	data            map[string]types.Entry
	hits            uint64
	misses          uint64
	evictions       uint64
	expired         uint64
	mu              sync.RWMutex
	state           atomic.Value
	cleanupDone     chan struct{}
	shutdownTimeout time.Duration
}

func NewStore(ctx context.Context, logger types.Logger, clock types.Clock, config *types.StoreConfig) *Store {
	storeConfig := types.StoreConfig{
		MaxEntries:      DefaultMaxEntries,
		CleanupInterval: DefaultCleanupInterval,
	}
	if config != nil {
		storeConfig = *config
	}

	if clock == nil {
		clock = types.SystemClock{}
	}

	storeCtx, cancel := context.WithCancel(ctx)

	store := &Store{
		ctx:             storeCtx,
		cancel:          cancel,
		logger:          logger,
		clock:           clock,
		config:          storeConfig,
		data:            make(map[string]types.Entry),
		cleanupDone:     make(chan struct{}),
		shutdownTimeout: 10 * time.Second,
	}

	store.state.Store(StateStopped)

	return store
}

// Read returns the entry for key whether or not it is still fresh.
func (s *Store) Read(key string) (types.Entry, bool) {
	s.mu.RLock()
	entry, exists := s.data[key]
	s.mu.RUnlock()

	if !exists {
		atomic.AddUint64(&s.misses, 1)
		return types.Entry{}, false
	}

	atomic.AddUint64(&s.hits, 1)
	return entry, true
}

func (s *Store) Write(key string, value interface{}, ttl time.Duration) types.Entry {
	entry := types.Entry{
		Value:     value,
		FetchedAt: s.clock.Now(),
		TTL:       ttl,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config.MaxEntries > 0 {
		if _, exists := s.data[key]; !exists && len(s.data) >= s.config.MaxEntries {
			s.evictOneUnsafe()
		}
	}

	s.data[key] = entry
	return entry
}

func (s *Store) Invalidate(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.data[key]
	delete(s.data, key)

	return exists
}

// Keys lists stored keys starting with prefix. An empty prefix lists everything.
func (s *Store) Keys(prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.data))
	for key := range s.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}

	return keys
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func (s *Store) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := len(s.data)
	s.data = make(map[string]types.Entry)

	return count
}

func (s *Store) Stats() StoreStats {
	return StoreStats{
		Entries:   s.Len(),
		Hits:      atomic.LoadUint64(&s.hits),
		Misses:    atomic.LoadUint64(&s.misses),
		Evictions: atomic.LoadUint64(&s.evictions),
		Expired:   atomic.LoadUint64(&s.expired),
	}
}

func (s *Store) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		s.logger.Warn("Cache store is already running")
		return types.ErrServerAlreadyRunning
	}

	defer func() {
		if s.getState() == StateStarting {
			s.setState(StateRunning)
		}
	}()

	if s.config.CleanupInterval > 0 && s.config.Retention > 0 {
		go s.startCleanupRoutine()
	} else {
		close(s.cleanupDone)
	}

	s.logger.Info("Cache store started",
		zap.Int("max_entries", s.config.MaxEntries),
		zap.Duration("retention", s.config.Retention))
	return nil
}

func (s *Store) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		s.logger.Warn("Cache store is not running")
		return types.ErrServerNotRunning
	}

	defer func() {
		s.setState(StateStopped)
	}()

	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case <-s.cleanupDone:
			s.logger.Debug("Cleanup routine stopped")
		case <-gCtx.Done():
			s.logger.Warn("Cleanup routine stop timeout")
		}
		return nil
	})

	g.Go(func() error {
		cleared := s.Clear()
		s.logger.Info("Cache store cleared", zap.Int("cleared_entries", cleared))
		return nil
	})

	if err := g.Wait(); err != nil {
		s.logger.Error("Error during cache store shutdown", zap.Error(err))
	} else {
		s.logger.Info("Cache store stopped gracefully")
	}

	return nil
}

func (s *Store) IsRunning() bool {
	return s.getState() == StateRunning
}

func (s *Store) getState() State {
	return s.state.Load().(State)
}

func (s *Store) setState(newState State) bool {
	currentState := s.getState()
	return s.state.CompareAndSwap(currentState, newState)
}

func (s *Store) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}

// cleanup drops entries that have been stale for longer than the retention window.
func (s *Store) cleanup() int {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.data {
		if now.Sub(entry.ExpiresAt()) > s.config.Retention {
			delete(s.data, key)
			removed++
		}
	}

	if removed > 0 {
		atomic.AddUint64(&s.expired, uint64(removed))
		s.logger.Debug("Cleanup completed", zap.Int("expired_entries", removed))
	}

	return removed
}

func (s *Store) startCleanupRoutine() {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debug("Cleanup routine stopped by context")
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *Store) evictOneUnsafe() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range s.data {
		if oldestKey == "" || entry.FetchedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.FetchedAt
		}
	}

	if oldestKey != "" {
		delete(s.data, oldestKey)
		atomic.AddUint64(&s.evictions, 1)
	}
}
