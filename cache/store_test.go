package cache

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-chainsync/logger"
	"github.com/saiset-co/sai-chainsync/types"
)

func newTestStore(t *testing.T, clock types.Clock, config *types.StoreConfig) *Store {
	t.Helper()
	return NewStore(context.Background(), logger.NewNop(), clock, config)
}

func TestStoreWriteRead(t *testing.T) {
	clock := types.NewManualClock(time.Unix(1700000000, 0))
	store := newTestStore(t, clock, nil)

	_, ok := store.Read("balances:0xabc")
	require.False(t, ok)

	written := store.Write("balances:0xabc", 42, time.Second)
	require.Equal(t, clock.Now(), written.FetchedAt)

	entry, ok := store.Read("balances:0xabc")
	require.True(t, ok)
	assert.Equal(t, 42, entry.Value)
	assert.True(t, entry.Fresh(clock.Now()))

	clock.Advance(time.Second)
	entry, ok = store.Read("balances:0xabc")
	require.True(t, ok, "stale entries stay readable")
	assert.False(t, entry.Fresh(clock.Now()))

	stats := store.Stats()
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestStoreWriteReplacesEntry(t *testing.T) {
	clock := types.NewManualClock(time.Unix(1700000000, 0))
	store := newTestStore(t, clock, nil)

	store.Write("casinoStats", "old", time.Second)
	clock.Advance(500 * time.Millisecond)
	store.Write("casinoStats", "new", 2*time.Second)

	entry, ok := store.Read("casinoStats")
	require.True(t, ok)
	assert.Equal(t, "new", entry.Value)
	assert.Equal(t, 2*time.Second, entry.TTL)
	assert.Equal(t, clock.Now(), entry.FetchedAt)
	assert.Equal(t, 1, store.Len())
}

func TestStoreInvalidate(t *testing.T) {
	store := newTestStore(t, nil, nil)

	store.Write("dexReserves", 1, time.Minute)
	require.True(t, store.Invalidate("dexReserves"))
	require.False(t, store.Invalidate("dexReserves"))

	_, ok := store.Read("dexReserves")
	assert.False(t, ok)
}

func TestStoreKeysByPrefix(t *testing.T) {
	store := newTestStore(t, nil, nil)

	store.Write("dexQuote:in:1", 1, time.Minute)
	store.Write("dexQuote:out:2", 2, time.Minute)
	store.Write("dexReserves", 3, time.Minute)

	keys := store.Keys("dexQuote:")
	sort.Strings(keys)
	assert.Equal(t, []string{"dexQuote:in:1", "dexQuote:out:2"}, keys)
	assert.Len(t, store.Keys(""), 3)
}

func TestStoreEvictsOldestWhenFull(t *testing.T) {
	clock := types.NewManualClock(time.Unix(1700000000, 0))
	store := newTestStore(t, clock, &types.StoreConfig{MaxEntries: 2})

	store.Write("a", 1, time.Minute)
	clock.Advance(time.Second)
	store.Write("b", 2, time.Minute)
	clock.Advance(time.Second)
	store.Write("c", 3, time.Minute)

	_, ok := store.Read("a")
	assert.False(t, ok)
	assert.Equal(t, 2, store.Len())
	assert.Equal(t, uint64(1), store.Stats().Evictions)

	store.Write("b", 4, time.Minute)
	assert.Equal(t, 2, store.Len(), "overwriting an existing key never evicts")
}

func TestStoreCleanupHonoursRetention(t *testing.T) {
	clock := types.NewManualClock(time.Unix(1700000000, 0))
	store := newTestStore(t, clock, &types.StoreConfig{Retention: time.Minute})

	store.Write("old", 1, time.Second)
	store.Write("recent", 2, time.Hour)

	clock.Advance(30 * time.Second)
	require.Equal(t, 0, store.cleanup(), "stale entries inside retention are kept")

	clock.Advance(time.Minute)
	require.Equal(t, 1, store.cleanup())

	_, ok := store.Read("old")
	assert.False(t, ok)
	_, ok = store.Read("recent")
	assert.True(t, ok)
}

func TestStoreLifecycle(t *testing.T) {
	store := newTestStore(t, nil, &types.StoreConfig{CleanupInterval: 10 * time.Millisecond, Retention: time.Minute})

	require.NoError(t, store.Start())
	require.True(t, store.IsRunning())
	require.ErrorIs(t, store.Start(), types.ErrServerAlreadyRunning)

	store.Write("k", 1, time.Minute)

	require.NoError(t, store.Stop())
	assert.False(t, store.IsRunning())
	assert.Equal(t, 0, store.Len())
	require.ErrorIs(t, store.Stop(), types.ErrServerNotRunning)
}
