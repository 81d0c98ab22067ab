package datamanager

import (
	"context"
	"sync"

	"github.com/saiset-co/sai-chainsync/types"
)

type BindingState[T any] struct {
	Value   T
	HasData bool
	Loading bool
	Err     error
}

type BindingOption[T any] func(*Binding[T])

// OnChange registers fn to run after every state change of the binding.
func OnChange[T any](fn func(BindingState[T])) BindingOption[T] {
	return func(b *Binding[T]) {
		b.onChange = fn
	}
}

// Binding keeps the latest value of one query for a single observer. It subscribes
// for pushed refreshes and issues the initial read itself.
type Binding[T any] struct {
	dm       types.DataManager
	query    Query[T]
	onChange func(BindingState[T])

	mu          sync.RWMutex
	state       BindingState[T]
	cancel      context.CancelFunc
	unsubscribe types.Unsubscribe
	started     bool
	stopped     bool
	refreshing  int
	wg          sync.WaitGroup
}

func Bind[T any](dm types.DataManager, query Query[T], opts ...BindingOption[T]) *Binding[T] {
	b := &Binding[T]{
		dm:    dm,
		query: query,
		state: BindingState[T]{Loading: true},
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Start subscribes to the query's key and loads the first value in the background.
// It fails when called twice or after Stop.
func (b *Binding[T]) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started || b.stopped {
		b.mu.Unlock()
		return types.ErrBindingStarted
	}

	scope, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.started = true
	b.mu.Unlock()

	unsubscribe := b.dm.Subscribe(b.query.Key, b.receive)

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		unsubscribe()
		return nil
	}
	b.unsubscribe = unsubscribe
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()

		value, err := Get(scope, b.dm, b.query)
		if scope.Err() != nil {
			return
		}
		b.settle(value, err)
	}()

	return nil
}

// Stop unsubscribes and drops any result still on its way. It is safe to call more than once.
func (b *Binding[T]) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	cancel := b.cancel
	unsubscribe := b.unsubscribe
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if unsubscribe != nil {
		unsubscribe()
	}

	b.wg.Wait()
}

// Refresh forces a new fetch of the query's key and waits for it. Loading stays
// set until every outstanding Refresh has returned.
func (b *Binding[T]) Refresh(ctx context.Context) (T, error) {
	b.update(func(s *BindingState[T]) {
		b.refreshing++
		s.Loading = true
	})

	value, err := ForceRefresh[T](ctx, b.dm, b.query.Key)
	if ctx.Err() != nil {
		b.update(func(s *BindingState[T]) {
			b.refreshing--
			s.Loading = b.refreshing > 0
		})
		return value, err
	}

	b.update(func(s *BindingState[T]) {
		b.refreshing--
		b.apply(s, value, err)
	})
	return value, err
}

func (b *Binding[T]) Value() (T, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state.Value, b.state.HasData
}

func (b *Binding[T]) Loading() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state.Loading
}

func (b *Binding[T]) Err() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state.Err
}

func (b *Binding[T]) Snapshot() BindingState[T] {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

func (b *Binding[T]) receive(value interface{}) {
	typed, err := cast[T](b.query.Key, value)
	b.settle(typed, err)
}

// settle keeps the last good value on error, the way a failed refresh leaves stale
// data visible.
func (b *Binding[T]) settle(value T, err error) {
	b.update(func(s *BindingState[T]) {
		b.apply(s, value, err)
	})
}

// apply is called with b.mu held.
func (b *Binding[T]) apply(s *BindingState[T], value T, err error) {
	s.Loading = b.refreshing > 0
	s.Err = err
	if err == nil {
		s.Value = value
		s.HasData = true
	}
}

func (b *Binding[T]) update(fn func(*BindingState[T])) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	fn(&b.state)
	snapshot := b.state
	onChange := b.onChange
	b.mu.Unlock()

	if onChange != nil {
		onChange(snapshot)
	}
}
