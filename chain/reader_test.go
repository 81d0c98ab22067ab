package chain

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-chainsync/datamanager"
	"github.com/saiset-co/sai-chainsync/logger"
	"github.com/saiset-co/sai-chainsync/types"
)

const (
	tokenAddress  = "0x1000000000000000000000000000000000000001"
	casinoAddress = "0x2000000000000000000000000000000000000002"
	dexAddress    = "0x3000000000000000000000000000000000000003"
	account       = "0x00000000000000000000000000000000000000aa"
	oneToken      = "de0b6b3a7640000"
)

type idleScheduler struct{}

func (idleScheduler) Schedule(string, time.Duration, types.PollJob) error { return nil }
func (idleScheduler) Cancel(string) bool                                  { return true }
func (idleScheduler) Has(string) bool                                     { return false }

func selectorHex(signature string) string {
	return EncodeHex(Selector(signature))
}

func chainNode(req nodeRequest) nodeReply {
	switch req.Method {
	case "eth_getBalance":
		return nodeReply{Result: "0x" + oneToken}
	case "eth_call":
	default:
		return nodeReply{Error: &rpcError{Code: -32601, Message: "method not found"}}
	}

	data := callData(req)
	switch {
	case strings.HasPrefix(data, selectorHex("balanceOf(address)")):
		return nodeReply{Result: words("d8d726b7177a80000")} // 250 tokens
	case strings.HasPrefix(data, selectorHex("getCasinoStats()")):
		return nodeReply{Result: words("3635c9adc5dea00000", "16345785d8a0000", oneToken, "6f05b59d3b20000", "31", "1", "3c")}
	case strings.HasPrefix(data, selectorHex("canClaimFaucet(address)")):
		return nodeReply{Result: words("0")}
	case strings.HasPrefix(data, selectorHex("timeUntilNextClaim(address)")):
		return nodeReply{Result: words("e10")}
	case strings.HasPrefix(data, selectorHex("getReserves()")):
		return nodeReply{Result: words("8ac7230489e80000", "56bc75e2d63100000")}
	case strings.HasPrefix(data, selectorHex("getMaticToShitQuote(uint256)")):
		return nodeReply{Result: words("4563918244f40000", "2386f26fc10000")}
	case strings.HasPrefix(data, selectorHex("getShitToMaticQuote(uint256)")):
		return nodeReply{Result: words("2386f26fc10000", "0")}
	}

	return nodeReply{Error: &rpcError{Code: 3, Message: "execution reverted"}}
}

func newTestReader(t *testing.T) (*Reader, *fakeNode) {
	t.Helper()
	return newTestReaderWith(t, chainNode)
}

func newTestReaderWith(t *testing.T, reply func(req nodeRequest) nodeReply) (*Reader, *fakeNode) {
	t.Helper()

	node := newFakeNode(t, func(host string, req nodeRequest) nodeReply {
		return reply(req)
	})

	config := &types.ChainConfig{
		RPCURLs: []string{"http://node-a/"},
		Contracts: types.ContractsConfig{
			Token:  tokenAddress,
			Casino: casinoAddress,
			Dex:    dexAddress,
		},
	}

	dm, err := datamanager.NewManager(context.Background(), logger.NewNop(), &types.DataConfig{
		DefaultTTL:          time.Minute,
		DefaultPollInterval: time.Minute,
		Retry:               types.RetryConfig{Attempts: 0, Timeout: time.Second},
	}, datamanager.WithScheduler(idleScheduler{}))
	require.NoError(t, err)
	require.NoError(t, dm.Start())
	t.Cleanup(func() { _ = dm.Stop() })

	return NewReader(node.client(t, config), dm, config), node
}

func TestReaderBalances(t *testing.T) {
	reader, node := newTestReader(t)

	balances, err := reader.Balances(context.Background(), "0x00000000000000000000000000000000000000AA")
	require.NoError(t, err)
	assert.Equal(t, "1", balances.Native.String())
	assert.Equal(t, "250", balances.Token.String())
	assert.Equal(t, 2, node.Total())

	_, err = reader.Balances(context.Background(), account)
	require.NoError(t, err)
	assert.Equal(t, 2, node.Total(), "checksum and lower case share one entry")

	_, err = reader.Balances(context.Background(), "not-an-address")
	assert.ErrorIs(t, err, types.ErrInvalidParameter)
}

func TestReaderCasinoStats(t *testing.T) {
	reader, _ := newTestReader(t)

	stats, err := reader.CasinoStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1000", stats.HouseBalance.String())
	assert.Equal(t, "0.1", stats.MinBet.String())
	assert.Equal(t, "1", stats.MaxBet.String())
	assert.Equal(t, "0.5", stats.CurrentMaxBet.String())
	assert.Equal(t, uint64(49), stats.WinChance)
	assert.True(t, stats.NeedsRefill)
	assert.Equal(t, time.Minute, stats.TimeUntilRefill)
}

func TestReaderCasinoStatsRejectsOversizedWinChance(t *testing.T) {
	reader, _ := newTestReaderWith(t, func(req nodeRequest) nodeReply {
		if req.Method == "eth_call" && strings.HasPrefix(callData(req), selectorHex("getCasinoStats()")) {
			return nodeReply{Result: words("1", "1", "1", "1", "10000000000000000", "0", "0")}
		}
		return chainNode(req)
	})

	_, err := reader.CasinoStats(context.Background())
	assert.ErrorIs(t, err, types.ErrMalformedResponse)
}

func TestReaderFaucetState(t *testing.T) {
	reader, _ := newTestReader(t)

	state, err := reader.FaucetState(context.Background(), account)
	require.NoError(t, err)
	assert.False(t, state.CanClaim)
	assert.Equal(t, time.Hour, state.TimeUntilClaim)
}

func TestReaderDex(t *testing.T) {
	reader, node := newTestReader(t)

	reserves, err := reader.DexReserves(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "10", reserves.Native.String())
	assert.Equal(t, "100", reserves.Token.String())

	quote, err := reader.DexQuote(context.Background(), "1.0", NativeToToken)
	require.NoError(t, err)
	assert.Equal(t, "5", quote.AmountOut.String())
	assert.Equal(t, "0.01", quote.Fee.String())

	before := node.Total()
	_, err = reader.DexQuote(context.Background(), "1", NativeToToken)
	require.NoError(t, err)
	assert.Equal(t, before, node.Total(), "1.0 and 1 share one entry")

	quote, err = reader.DexQuote(context.Background(), "1", TokenToNative)
	require.NoError(t, err)
	assert.Equal(t, "0.01", quote.AmountOut.String())
	assert.True(t, quote.Fee.IsZero())
}

func TestReaderDexQuoteRejectsBadAmounts(t *testing.T) {
	reader, node := newTestReader(t)

	for _, amount := range []string{"", "  ", "0", "-1", "abc"} {
		_, err := reader.DexQuote(context.Background(), amount, NativeToToken)
		assert.ErrorIs(t, err, types.ErrInvalidParameter, amount)
	}

	_, err := reader.DexQuote(context.Background(), "1", Direction("sideways"))
	assert.ErrorIs(t, err, types.ErrInvalidParameter)
	assert.Equal(t, 0, node.Total())
}

func TestReaderMissingContract(t *testing.T) {
	reader, _ := newTestReader(t)
	reader.contracts.Casino = ""

	_, err := reader.CasinoStats(context.Background())
	assert.ErrorIs(t, err, types.ErrContractNotConfigured)
}
