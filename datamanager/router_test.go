package datamanager

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-chainsync/types"
)

func staticKeys(keys ...string) KeyLister {
	return func(prefix string) []string {
		var matched []string
		for _, k := range keys {
			if strings.HasPrefix(k, prefix) {
				matched = append(matched, k)
			}
		}
		return matched
	}
}

func TestRouterDefaultRules(t *testing.T) {
	router, err := NewRouter(DefaultRules())
	require.NoError(t, err)

	known := staticKeys("dexQuote:buy:1", "dexQuote:sell:0.5", "dexQuotes", "balances:0xabc")

	tests := []struct {
		name  string
		event types.EventKind
		scope string
		want  []string
	}{
		{"faucet with account", types.EventFaucet, "0xAbC", []string{"balances:0xabc", "faucetState:0xabc"}},
		{"faucet without account", types.EventFaucet, "", []string{}},
		{"casino with account", types.EventCasino, "0xabc", []string{"balances:0xabc", "casinoStats"}},
		{"casino without account", types.EventCasino, " ", []string{"casinoStats"}},
		{"dex with account", types.EventDex, "0xabc", []string{"balances:0xabc", "dexQuote:buy:1", "dexQuote:sell:0.5", "dexReserves"}},
		{"dex without account", types.EventDex, "", []string{"dexQuote:buy:1", "dexQuote:sell:0.5", "dexReserves"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keys, err := router.Resolve(tt.event, tt.scope, known)
			require.NoError(t, err)
			assert.Equal(t, tt.want, keys)
		})
	}
}

func TestRouterUnknownEvent(t *testing.T) {
	router, err := NewRouter(DefaultRules())
	require.NoError(t, err)

	_, err = router.Resolve("bridge", "", nil)
	assert.ErrorIs(t, err, types.ErrUnknownEvent)
	assert.Equal(t, []types.EventKind{types.EventCasino, types.EventDex, types.EventFaucet}, router.Events())
}

func TestRouterFromConfig(t *testing.T) {
	rules := RulesFromConfig(map[string][]types.InvalidationRuleConfig{
		"stake": {
			{Kind: "balances", Scoped: true},
			{Kind: "dexQuote", Prefix: true},
		},
	})

	router, err := NewRouter(rules)
	require.NoError(t, err)

	keys, err := router.Resolve("stake", "0xabc", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"balances:0xabc"}, keys, "prefix rules need a key lister")

	_, err = router.Resolve(types.EventDex, "", nil)
	assert.ErrorIs(t, err, types.ErrUnknownEvent)

	_, err = NewRouter(map[types.EventKind][]Rule{"": {{Kind: types.KindBalances}}})
	assert.ErrorIs(t, err, types.ErrInvalidationRule)
}
