package cache

import (
	"sync"

	"github.com/google/uuid"

	"github.com/saiset-co/sai-chainsync/types"
)

type subscription struct {
	id       string
	callback types.Callback
}

// Subscribers keeps the callbacks registered per key in registration order.
type Subscribers struct {
	mu   sync.RWMutex
	subs map[string][]subscription
}

func NewSubscribers() *Subscribers {
	return &Subscribers{
		subs: make(map[string][]subscription),
	}
}

// Add registers callback under key. first is true when key had no subscribers before.
func (s *Subscribers) Add(key string, callback types.Callback) (id string, first bool) {
	id = uuid.New().String()

	s.mu.Lock()
	defer s.mu.Unlock()

	first = len(s.subs[key]) == 0
	s.subs[key] = append(s.subs[key], subscription{id: id, callback: callback})

	return id, first
}

// Remove drops the subscription. last is true when it was the final one for key.
func (s *Subscribers) Remove(key, id string) (last bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.subs[key]
	for i, sub := range current {
		if sub.id != id {
			continue
		}

		remaining := make([]subscription, 0, len(current)-1)
		remaining = append(remaining, current[:i]...)
		remaining = append(remaining, current[i+1:]...)

		if len(remaining) == 0 {
			delete(s.subs, key)
			return true
		}

		s.subs[key] = remaining
		return false
	}

	return false
}

func (s *Subscribers) Count(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs[key])
}

func (s *Subscribers) Total() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, subs := range s.subs {
		total += len(subs)
	}
	return total
}

// Snapshot returns the callbacks for key as of now; later changes do not affect it.
func (s *Subscribers) Snapshot(key string) []types.Callback {
	s.mu.RLock()
	defer s.mu.RUnlock()

	callbacks := make([]types.Callback, 0, len(s.subs[key]))
	for _, sub := range s.subs[key] {
		callbacks = append(callbacks, sub.callback)
	}

	return callbacks
}

func (s *Subscribers) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.subs))
	for key := range s.subs {
		keys = append(keys, key)
	}

	return keys
}

func (s *Subscribers) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = make(map[string][]subscription)
}
