package types

import (
	"context"
	"strings"
	"time"
)

type Kind string

const (
	KindBalances    Kind = "balances"
	KindCasinoStats Kind = "casinoStats"
	KindFaucetState Kind = "faucetState"
	KindDexReserves Kind = "dexReserves"
	KindDexQuote    Kind = "dexQuote"
)

const keySeparator = ":"

var paramEscaper = strings.NewReplacer("%", "%25", ":", "%3A")
var paramUnescaper = strings.NewReplacer("%3A", ":", "%25", "%")

// Key identifies one logical query: a fetch kind plus its parameters.
// Keys with different parameters are distinct cache entries.
type Key struct {
	Kind   Kind
	Params []string
}

func NewKey(kind Kind, params ...string) Key {
	return Key{Kind: kind, Params: params}
}

// String serializes the key to its map form, kind[:param...].
func (k Key) String() string {
	if len(k.Params) == 0 {
		return string(k.Kind)
	}

	var b strings.Builder
	b.WriteString(string(k.Kind))
	for _, p := range k.Params {
		b.WriteString(keySeparator)
		b.WriteString(paramEscaper.Replace(p))
	}

	return b.String()
}

func ParseKey(s string) (Key, error) {
	if s == "" {
		return Key{}, ErrCacheKeyEmpty
	}

	parts := strings.Split(s, keySeparator)
	if parts[0] == "" {
		return Key{}, Errorf(ErrInvalidParameter, "key without kind: %q", s)
	}

	key := Key{Kind: Kind(parts[0])}
	for _, p := range parts[1:] {
		key.Params = append(key.Params, paramUnescaper.Replace(p))
	}

	return key, nil
}

// KindOf returns the kind prefix of a serialized key.
func KindOf(s string) Kind {
	if i := strings.Index(s, keySeparator); i >= 0 {
		return Kind(s[:i])
	}
	return Kind(s)
}

// NormalizeScope makes account scopes comparable regardless of checksum casing.
func NormalizeScope(scope string) string {
	return strings.ToLower(strings.TrimSpace(scope))
}

// Entry is an immutable cached value. It is replaced on every successful fetch.
type Entry struct {
	Value     interface{}   `json:"value"`
	FetchedAt time.Time     `json:"fetched_at"`
	TTL       time.Duration `json:"ttl"`
}

func (e Entry) Fresh(now time.Time) bool {
	return now.Sub(e.FetchedAt) < e.TTL
}

func (e Entry) ExpiresAt() time.Time {
	return e.FetchedAt.Add(e.TTL)
}

// Fetcher produces the value for a key. It must report failures through the
// returned error.
type Fetcher func(ctx context.Context) (interface{}, error)

type Callback func(value interface{})

type Unsubscribe func()

type DataManager interface {
	LifecycleManager
	Get(ctx context.Context, key Key, fetch Fetcher, ttl time.Duration) (interface{}, error)
	Subscribe(key Key, callback Callback) Unsubscribe
	ForceRefresh(ctx context.Context, key Key) (interface{}, error)
	InvalidateForEvent(event EventKind, scope string) ([]string, error)
}

// InvalidationTrigger is called by write-operation completion handlers.
type InvalidationTrigger interface {
	NotifyWriteCompleted(event string, scope string) error
}

type EventKind string

const (
	EventFaucet EventKind = "faucet"
	EventCasino EventKind = "casino"
	EventDex    EventKind = "dex"
)
