package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-chainsync/types"
)

func TestInFlightCoalescesConcurrentCalls(t *testing.T) {
	inflight := NewInFlight()

	var calls int32
	var settled int32
	release := make(chan struct{})

	fn := func() (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "value", nil
	}
	onSettled := func(value interface{}, err error) {
		atomic.AddInt32(&settled, 1)
	}

	const callers = 10
	var wg sync.WaitGroup
	var joined int32
	results := make([]interface{}, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			value, err, wasJoined := inflight.Do(context.Background(), "balances:0xabc", fn, onSettled)
			assert.NoError(t, err)
			results[i] = value
			if wasJoined {
				atomic.AddInt32(&joined, 1)
			}
		}(i)
	}

	require.Eventually(t, func() bool { return inflight.Pending("balances:0xabc") }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&settled))
	assert.Equal(t, int32(callers-1), atomic.LoadInt32(&joined))
	for _, value := range results {
		assert.Equal(t, "value", value)
	}
	assert.False(t, inflight.Pending("balances:0xabc"))
	assert.Equal(t, 0, inflight.Len())
}

func TestInFlightPropagatesErrorAndClearsMarker(t *testing.T) {
	inflight := NewInFlight()
	boom := errors.New("boom")

	var pendingDuringSettle bool
	_, err, _ := inflight.Do(context.Background(), "casinoStats", func() (interface{}, error) {
		return nil, boom
	}, func(value interface{}, err error) {
		pendingDuringSettle = inflight.Pending("casinoStats")
	})

	require.ErrorIs(t, err, boom)
	assert.False(t, pendingDuringSettle, "marker is cleared before settle callbacks run")
	assert.False(t, inflight.Pending("casinoStats"))

	value, err, _ := inflight.Do(context.Background(), "casinoStats", func() (interface{}, error) {
		return 7, nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 7, value)
}

func TestInFlightDistinctKeysRunIndependently(t *testing.T) {
	inflight := NewInFlight()

	var calls int32
	fn := func() (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(10 * time.Millisecond)
		return nil, nil
	}

	var wg sync.WaitGroup
	for _, key := range []string{"dexQuote:in:1", "dexQuote:in:2"} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			_, _, _ = inflight.Do(context.Background(), key, fn, nil)
		}(key)
	}
	wg.Wait()

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestInFlightCallerCancellationDoesNotAbortFetch(t *testing.T) {
	inflight := NewInFlight()
	release := make(chan struct{})
	settled := make(chan interface{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err, _ := inflight.Do(ctx, "faucetState:0xabc", func() (interface{}, error) {
		<-release
		return "done", nil
	}, func(value interface{}, err error) {
		settled <- value
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Eventually(t, func() bool { return inflight.Pending("faucetState:0xabc") }, time.Second, time.Millisecond)

	close(release)

	select {
	case value := <-settled:
		assert.Equal(t, "done", value)
	case <-time.After(time.Second):
		t.Fatal("fetch did not settle")
	}
}

func TestInFlightRecoversPanics(t *testing.T) {
	inflight := NewInFlight()

	_, err, _ := inflight.Do(context.Background(), "k", func() (interface{}, error) {
		panic("bad fetcher")
	}, nil)

	require.ErrorIs(t, err, types.ErrInternalError)
	assert.False(t, inflight.Pending("k"))
}

func TestInFlightNextExecutionWaitsForSettle(t *testing.T) {
	inflight := NewInFlight()
	entered := make(chan struct{})
	release := make(chan struct{})

	var calls int32
	fn := func() (interface{}, error) {
		return atomic.AddInt32(&calls, 1), nil
	}

	var mu sync.Mutex
	var settled []interface{}
	onSettled := func(value interface{}, err error) {
		mu.Lock()
		settled = append(settled, value)
		mu.Unlock()

		if value == int32(1) {
			close(entered)
			<-release
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _, _ = inflight.Do(context.Background(), "dexReserves", fn, onSettled)
	}()

	<-entered
	assert.False(t, inflight.Pending("dexReserves"))

	go func() {
		defer wg.Done()
		value, err, joined := inflight.Do(context.Background(), "dexReserves", fn, onSettled)
		assert.NoError(t, err)
		assert.False(t, joined)
		assert.Equal(t, int32(2), value)
	}()

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	close(release)
	wg.Wait()

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, []interface{}{int32(1), int32(2)}, settled)
	assert.Empty(t, inflight.cycles)
}
