package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-chainsync/types"
)

const minimalConfig = `
name: chainsync-test
version: 1.2.3
chain:
  rpc_urls:
    - http://localhost:8545
  contracts:
    token: "0x1000000000000000000000000000000000000001"
`

func TestLoadAppliesDefaults(t *testing.T) {
	config, err := NewLoader().LoadFromBytes([]byte(minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "chainsync-test", config.Name)
	assert.Equal(t, "info", config.Logger.Level)
	assert.Equal(t, 2, config.Data.Retry.Attempts)
	assert.Equal(t, time.Second, config.Data.Retry.Backoff)

	balances := config.Data.Kinds[string(types.KindBalances)]
	assert.Equal(t, 20*time.Second, balances.TTL)
	assert.Equal(t, 30*time.Second, balances.PollInterval)

	quote := config.Data.Kinds[string(types.KindDexQuote)]
	assert.Equal(t, 15*time.Second, quote.TTL)
	assert.Equal(t, time.Minute, quote.PollInterval)

	assert.Equal(t, []string{"http://localhost:8545"}, config.Chain.RPCURLs)
	assert.True(t, config.Chain.CircuitBreaker.Enabled)
}

func TestLoadOverridesKinds(t *testing.T) {
	config, err := NewLoader().LoadFromBytes([]byte(minimalConfig + `
data:
  kinds:
    casinoStats:
      ttl: 1s
      poll_interval: 2s
  invalidation:
    casino:
      - kind: casinoStats
`))
	require.NoError(t, err)

	stats := config.Data.Kinds[string(types.KindCasinoStats)]
	assert.Equal(t, time.Second, stats.TTL)
	assert.Equal(t, 2*time.Second, stats.PollInterval)
	assert.Contains(t, config.Data.Kinds, string(types.KindBalances), "unlisted kinds keep their defaults")
	assert.Equal(t, []types.InvalidationRuleConfig{{Kind: "casinoStats"}}, config.Data.Invalidation["casino"])
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name   string
		config string
	}{
		{"ttl longer than poll interval", minimalConfig + `
data:
  kinds:
    balances:
      ttl: 40s
      poll_interval: 30s
`},
		{"default ttl longer than default poll", minimalConfig + `
data:
  default_ttl: 2m
  default_poll_interval: 1m
`},
		{"too many retries", minimalConfig + `
data:
  retry:
    attempts: 11
`},
		{"no rpc urls", `
name: x
version: "1"
`},
		{"bad rpc url", `
name: x
version: "1"
chain:
  rpc_urls: ["not a url"]
`},
		{"bad watched account", minimalConfig + `
watch:
  accounts: ["0x1234"]
`},
		{"bad contract", `
name: x
version: "1"
chain:
  rpc_urls: ["http://localhost:8545"]
  contracts:
    dex: "dex"
`},
		{"invalidation rule without kind", minimalConfig + `
data:
  invalidation:
    dex:
      - scoped: true
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader().LoadFromBytes([]byte(tt.config))
			assert.ErrorIs(t, err, types.ErrConfigValidateFailed)
		})
	}

	_, err := NewLoader().LoadFromBytes([]byte("name: [unclosed"))
	assert.ErrorIs(t, err, types.ErrConfigParseFailed)
}

func TestConfigurationManager(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(minimalConfig), 0o600))

	cm, err := NewConfigurationManager(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "1.2.3", cm.GetConfig().Version)
	assert.Equal(t, "chainsync-test", cm.GetValue("name", ""))
	assert.Equal(t, "fallback", cm.GetValue("data.missing", "fallback"))

	var ttl time.Duration
	require.NoError(t, cm.GetAs("data.kinds.faucetState.ttl", &ttl))
	assert.Equal(t, 2*time.Minute, ttl)

	var chain types.ChainConfig
	require.NoError(t, cm.GetAs("chain", &chain))
	assert.Equal(t, "0x1000000000000000000000000000000000000001", chain.Contracts.Token)

	assert.ErrorIs(t, cm.GetAs("nope", &ttl), types.ErrConfigNotFound)
	assert.Contains(t, cm.Paths(), "data.retry.attempts")

	require.NoError(t, os.WriteFile(path, []byte("name: [unclosed"), 0o600))
	assert.Error(t, cm.Load())
	assert.Equal(t, "1.2.3", cm.GetConfig().Version, "a failed reload keeps the previous config")

	_, err = NewConfigurationManager(context.Background(), filepath.Join(t.TempDir(), "missing.yml"))
	assert.ErrorIs(t, err, types.ErrConfigNotFound)
}

func TestPathFromEnv(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	assert.Equal(t, DefaultConfigPath, PathFromEnv())

	t.Setenv(EnvConfigPath, "/etc/chainsync.yml")
	assert.Equal(t, "/etc/chainsync.yml", PathFromEnv())
}
