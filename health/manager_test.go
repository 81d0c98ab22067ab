package health

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-chainsync/logger"
	"github.com/saiset-co/sai-chainsync/types"
	"github.com/saiset-co/sai-chainsync/utils"
)

type fakeChain struct {
	block uint64
	err   error
}

func (p fakeChain) BlockNumber(ctx context.Context) (uint64, error) {
	return p.block, p.err
}

func (p fakeChain) BreakerStates() map[string]string {
	return map[string]string{"http://node-a": "closed"}
}

func newTestManager(t *testing.T, timeout time.Duration) *Manager {
	t.Helper()
	return newCachingManager(t, timeout, 0)
}

func newCachingManager(t *testing.T, timeout, cacheFor time.Duration) *Manager {
	t.Helper()

	hm := NewManager(context.Background(), logger.NewNop(), types.ServiceInfo{Name: "chainsync", Version: "1.0.0"}, &types.HealthConfig{
		Enabled:  true,
		Timeout:  timeout,
		CacheFor: cacheFor,
	})
	require.NoError(t, hm.Start())
	t.Cleanup(func() { _ = hm.Stop() })

	return hm
}

func TestCheckAggregatesStatus(t *testing.T) {
	hm := newTestManager(t, time.Second)

	hm.RegisterChecker("rpc", RPCChecker(fakeChain{block: 42}))
	hm.RegisterChecker("data", DataManagerChecker(func() types.DataStats {
		return types.DataStats{Running: true, Entries: 3}
	}))

	report := hm.Check(context.Background())
	assert.Equal(t, types.StatusHealthy, report.Status)
	assert.Equal(t, 2, report.Summary.Healthy)
	assert.Equal(t, uint64(42), report.Checks["rpc"].Details["block"])
	assert.Equal(t, "chainsync", report.Service.Name)

	hm.RegisterChecker("rpc", RPCChecker(fakeChain{err: errors.New("node down")}))

	report = hm.Check(context.Background())
	assert.Equal(t, types.StatusUnhealthy, report.Status)
	assert.Equal(t, "node down", report.Checks["rpc"].Message)
	assert.Equal(t, 1, report.Summary.Unhealthy)
	assert.Len(t, hm.LastResults(), 2)
}

func TestCheckTimeoutAndPanic(t *testing.T) {
	hm := newTestManager(t, 20*time.Millisecond)

	hm.RegisterChecker("slow", func(ctx context.Context) types.HealthCheck {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return types.HealthCheck{Status: types.StatusHealthy}
	})
	hm.RegisterChecker("broken", func(ctx context.Context) types.HealthCheck {
		panic("boom")
	})

	report := hm.Check(context.Background())
	assert.Equal(t, types.StatusUnhealthy, report.Status)
	assert.Equal(t, "Health check timeout", report.Checks["slow"].Message)
	assert.Contains(t, report.Checks["broken"].Message, "boom")
}

func TestCheckReusesRecentRound(t *testing.T) {
	hm := newCachingManager(t, time.Second, time.Minute)

	var rounds atomic.Int32
	counting := func(ctx context.Context) types.HealthCheck {
		rounds.Add(1)
		return types.HealthCheck{Status: types.StatusHealthy}
	}
	hm.RegisterChecker("rpc", counting)

	first := hm.Check(context.Background())
	second := hm.Check(context.Background())
	assert.Equal(t, int32(1), rounds.Load())
	assert.Equal(t, first.Timestamp, second.Timestamp)

	hm.RegisterChecker("rpc", counting)
	hm.Check(context.Background())
	assert.Equal(t, int32(2), rounds.Load(), "registering a check drops the cached report")
}

func TestConcurrentChecksShareOneRound(t *testing.T) {
	hm := newTestManager(t, time.Second)

	release := make(chan struct{})
	var rounds atomic.Int32
	hm.RegisterChecker("rpc", func(ctx context.Context) types.HealthCheck {
		rounds.Add(1)
		<-release
		return types.HealthCheck{Status: types.StatusHealthy}
	})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, types.StatusHealthy, hm.Check(context.Background()).Status)
		}()
	}

	require.Eventually(t, func() bool { return rounds.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), rounds.Load())
}

func TestDataManagerCheckerReportsStopped(t *testing.T) {
	check := DataManagerChecker(func() types.DataStats { return types.DataStats{} })(context.Background())

	assert.Equal(t, types.StatusUnhealthy, check.Status)
	assert.Equal(t, types.ErrManagerStopped.Error(), check.Message)
}

func TestHandler(t *testing.T) {
	hm := newTestManager(t, time.Second)
	hm.RegisterChecker("data", DataManagerChecker(func() types.DataStats { return types.DataStats{Running: true} }))

	var ctx fasthttp.RequestCtx
	hm.Handler()(&ctx)
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	var report types.HealthReport
	require.NoError(t, utils.UnmarshalInto(ctx.Response.Body(), &report))
	assert.Equal(t, types.StatusHealthy, report.Status)

	hm.RegisterChecker("data", DataManagerChecker(func() types.DataStats { return types.DataStats{} }))

	var failing fasthttp.RequestCtx
	hm.Handler()(&failing)
	assert.Equal(t, fasthttp.StatusServiceUnavailable, failing.Response.StatusCode())

	var version fasthttp.RequestCtx
	hm.VersionHandler()(&version)
	assert.Equal(t, fasthttp.StatusOK, version.Response.StatusCode())
	assert.Contains(t, string(version.Response.Body()), `"version":"1.0.0"`)

	require.NoError(t, hm.Stop())

	var stopped fasthttp.RequestCtx
	hm.Handler()(&stopped)
	assert.Equal(t, fasthttp.StatusServiceUnavailable, stopped.Response.StatusCode())
}
