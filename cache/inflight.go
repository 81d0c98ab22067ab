package cache

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/saiset-co/sai-chainsync/types"
)

type SettleFunc func(value interface{}, err error)

type inflightResult struct {
	value  interface{}
	err    error
	joined bool
}

type cycleLock struct {
	mu   sync.Mutex
	refs int
}

// InFlight coalesces concurrent fetches of the same key into one execution.
type InFlight struct {
	group   singleflight.Group
	mu      sync.RWMutex
	pending map[string]struct{}

	cyclesMu sync.Mutex
	cycles   map[string]*cycleLock
}

func NewInFlight() *InFlight {
	return &InFlight{
		pending: make(map[string]struct{}),
		cycles:  make(map[string]*cycleLock),
	}
}

// Do executes fn for key unless an execution is already outstanding, in which case
// the caller waits for that one. joined reports whether the caller attached to an
// execution started by someone else.
//
// fn runs detached from ctx: a caller that stops waiting does not abort the fetch
// for the others. onSettled runs once per execution, after the key stops being
// pending. The next execution for the key does not start fn until onSettled has
// returned, so onSettled must not wait on a new fetch of the same key.
func (f *InFlight) Do(ctx context.Context, key string, fn func() (interface{}, error), onSettled SettleFunc) (value interface{}, err error, joined bool) {
	result := make(chan inflightResult, 1)

	go func() {
		led := false
		val, err, _ := f.group.Do(key, func() (interface{}, error) {
			led = true
			f.lockCycle(key)
			f.mark(key)
			defer f.unmark(key)
			return f.run(fn)
		})

		if led {
			f.settle(key, val, err, onSettled)
		}

		result <- inflightResult{value: val, err: err, joined: !led}
	}()

	select {
	case res := <-result:
		return res.value, res.err, res.joined
	case <-ctx.Done():
		return nil, ctx.Err(), false
	}
}

func (f *InFlight) Pending(key string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	_, exists := f.pending[key]
	return exists
}

func (f *InFlight) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.pending)
}

func (f *InFlight) run(fn func() (interface{}, error)) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = types.Errorf(types.ErrInternalError, "fetch panicked: %s", fmt.Sprint(r))
		}
	}()

	return fn()
}

func (f *InFlight) mark(key string) {
	f.mu.Lock()
	f.pending[key] = struct{}{}
	f.mu.Unlock()
}

func (f *InFlight) unmark(key string) {
	f.mu.Lock()
	delete(f.pending, key)
	f.mu.Unlock()
}

func (f *InFlight) settle(key string, value interface{}, err error, onSettled SettleFunc) {
	defer f.unlockCycle(key)

	if onSettled != nil {
		onSettled(value, err)
	}
}

func (f *InFlight) lockCycle(key string) {
	f.cyclesMu.Lock()
	cycle, exists := f.cycles[key]
	if !exists {
		cycle = &cycleLock{}
		f.cycles[key] = cycle
	}
	cycle.refs++
	f.cyclesMu.Unlock()

	cycle.mu.Lock()
}

func (f *InFlight) unlockCycle(key string) {
	f.cyclesMu.Lock()
	cycle := f.cycles[key]
	cycle.refs--
	if cycle.refs == 0 {
		delete(f.cycles, key)
	}
	f.cyclesMu.Unlock()

	cycle.mu.Unlock()
}
