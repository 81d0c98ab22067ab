package chain

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-chainsync/datamanager"
	"github.com/saiset-co/sai-chainsync/types"
)

const DefaultDecimals = 18

type Direction string

const (
	NativeToToken Direction = "native-to-token"
	TokenToNative Direction = "token-to-native"
)

type Balances struct {
	Native decimal.Decimal `json:"native"`
	Token  decimal.Decimal `json:"token"`
}

type CasinoStats struct {
	HouseBalance    decimal.Decimal `json:"house_balance"`
	MinBet          decimal.Decimal `json:"min_bet"`
	MaxBet          decimal.Decimal `json:"max_bet"`
	CurrentMaxBet   decimal.Decimal `json:"current_max_bet"`
	WinChance       uint64          `json:"win_chance"`
	NeedsRefill     bool            `json:"needs_refill"`
	TimeUntilRefill time.Duration   `json:"time_until_refill"`
}

type FaucetState struct {
	CanClaim       bool          `json:"can_claim"`
	TimeUntilClaim time.Duration `json:"time_until_claim"`
}

type DexReserves struct {
	Native decimal.Decimal `json:"native"`
	Token  decimal.Decimal `json:"token"`
}

type DexQuote struct {
	AmountOut decimal.Decimal `json:"amount_out"`
	Fee       decimal.Decimal `json:"fee"`
}

func DefaultMethods() types.MethodsConfig {
	return types.MethodsConfig{
		BalanceOf:        "balanceOf(address)",
		CasinoStats:      "getCasinoStats()",
		CanClaim:         "canClaimFaucet(address)",
		TimeUntilClaim:   "timeUntilNextClaim(address)",
		Reserves:         "getReserves()",
		QuoteNativeToken: "getMaticToShitQuote(uint256)",
		QuoteTokenNative: "getShitToMaticQuote(uint256)",
	}
}

// Reader builds the cached queries for every on-chain data kind and runs them
// through the data manager.
type Reader struct {
	client    *Client
	dm        types.DataManager
	contracts types.ContractsConfig
	methods   types.MethodsConfig
	decimals  int32
}

func NewReader(client *Client, dm types.DataManager, config *types.ChainConfig) *Reader {
	r := &Reader{
		client:   client,
		dm:       dm,
		methods:  DefaultMethods(),
		decimals: DefaultDecimals,
	}

	if config == nil {
		return r
	}

	r.contracts = config.Contracts
	if config.Decimals > 0 {
		r.decimals = config.Decimals
	}

	m := config.Methods
	r.methods.BalanceOf = pick(m.BalanceOf, r.methods.BalanceOf)
	r.methods.CasinoStats = pick(m.CasinoStats, r.methods.CasinoStats)
	r.methods.CanClaim = pick(m.CanClaim, r.methods.CanClaim)
	r.methods.TimeUntilClaim = pick(m.TimeUntilClaim, r.methods.TimeUntilClaim)
	r.methods.Reserves = pick(m.Reserves, r.methods.Reserves)
	r.methods.QuoteNativeToken = pick(m.QuoteNativeToken, r.methods.QuoteNativeToken)
	r.methods.QuoteTokenNative = pick(m.QuoteTokenNative, r.methods.QuoteTokenNative)

	return r
}

func (r *Reader) BalancesQuery(account string) (datamanager.Query[Balances], error) {
	account, err := normalizeAccount(account)
	if err != nil {
		return datamanager.Query[Balances]{}, err
	}

	return datamanager.Query[Balances]{
		Key: types.NewKey(types.KindBalances, account),
		Fetch: func(ctx context.Context) (Balances, error) {
			return r.fetchBalances(ctx, account)
		},
	}, nil
}

func (r *Reader) CasinoStatsQuery() datamanager.Query[CasinoStats] {
	return datamanager.Query[CasinoStats]{
		Key:   types.NewKey(types.KindCasinoStats),
		Fetch: r.fetchCasinoStats,
	}
}

func (r *Reader) FaucetStateQuery(account string) (datamanager.Query[FaucetState], error) {
	account, err := normalizeAccount(account)
	if err != nil {
		return datamanager.Query[FaucetState]{}, err
	}

	return datamanager.Query[FaucetState]{
		Key: types.NewKey(types.KindFaucetState, account),
		Fetch: func(ctx context.Context) (FaucetState, error) {
			return r.fetchFaucetState(ctx, account)
		},
	}, nil
}

func (r *Reader) DexReservesQuery() datamanager.Query[DexReserves] {
	return datamanager.Query[DexReserves]{
		Key:   types.NewKey(types.KindDexReserves),
		Fetch: r.fetchDexReserves,
	}
}

// DexQuoteQuery rejects empty and non-positive amounts. Equal amounts share an entry
// however they are written, so "1.0" and "1" hit the same key.
func (r *Reader) DexQuoteQuery(amount string, direction Direction) (datamanager.Query[DexQuote], error) {
	if direction != NativeToToken && direction != TokenToNative {
		return datamanager.Query[DexQuote]{}, types.Errorf(types.ErrInvalidParameter, "unknown direction %q", direction)
	}

	value, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return datamanager.Query[DexQuote]{}, types.Errorf(types.ErrInvalidParameter, "amount %q: %v", amount, err)
	}

	if !value.IsPositive() {
		return datamanager.Query[DexQuote]{}, types.Errorf(types.ErrInvalidParameter, "amount %q must be positive", amount)
	}

	return datamanager.Query[DexQuote]{
		Key: types.NewKey(types.KindDexQuote, string(direction), value.String()),
		Fetch: func(ctx context.Context) (DexQuote, error) {
			return r.fetchDexQuote(ctx, value, direction)
		},
	}, nil
}

func (r *Reader) Balances(ctx context.Context, account string) (Balances, error) {
	q, err := r.BalancesQuery(account)
	if err != nil {
		return Balances{}, err
	}
	return datamanager.Get(ctx, r.dm, q)
}

func (r *Reader) CasinoStats(ctx context.Context) (CasinoStats, error) {
	return datamanager.Get(ctx, r.dm, r.CasinoStatsQuery())
}

func (r *Reader) FaucetState(ctx context.Context, account string) (FaucetState, error) {
	q, err := r.FaucetStateQuery(account)
	if err != nil {
		return FaucetState{}, err
	}
	return datamanager.Get(ctx, r.dm, q)
}

func (r *Reader) DexReserves(ctx context.Context) (DexReserves, error) {
	return datamanager.Get(ctx, r.dm, r.DexReservesQuery())
}

func (r *Reader) DexQuote(ctx context.Context, amount string, direction Direction) (DexQuote, error) {
	q, err := r.DexQuoteQuery(amount, direction)
	if err != nil {
		return DexQuote{}, err
	}
	return datamanager.Get(ctx, r.dm, q)
}

func (r *Reader) fetchBalances(ctx context.Context, account string) (Balances, error) {
	token, err := r.contract(r.contracts.Token, "token")
	if err != nil {
		return Balances{}, err
	}

	arg, err := EncodeAddress(account)
	if err != nil {
		return Balances{}, err
	}

	var native, tokenUnits *big.Int
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		balance, err := r.client.Balance(gCtx, account)
		native = balance
		return err
	})

	g.Go(func() error {
		data, err := r.client.EthCall(gCtx, token, EncodeCall(r.methods.BalanceOf, arg))
		if err != nil {
			return err
		}
		tokenUnits, err = DecodeUint256(data, 0)
		return err
	})

	if err := g.Wait(); err != nil {
		return Balances{}, err
	}

	return Balances{
		Native: ToDecimal(native, r.decimals),
		Token:  ToDecimal(tokenUnits, r.decimals),
	}, nil
}

func (r *Reader) fetchCasinoStats(ctx context.Context) (CasinoStats, error) {
	casino, err := r.contract(r.contracts.Casino, "casino")
	if err != nil {
		return CasinoStats{}, err
	}

	data, err := r.client.EthCall(ctx, casino, EncodeCall(r.methods.CasinoStats))
	if err != nil {
		return CasinoStats{}, err
	}

	words := make([]*big.Int, 7)
	for i := range words {
		if i == 5 {
			continue
		}
		if words[i], err = DecodeUint256(data, i); err != nil {
			return CasinoStats{}, err
		}
	}

	needsRefill, err := DecodeBool(data, 5)
	if err != nil {
		return CasinoStats{}, err
	}

	if !words[4].IsUint64() {
		return CasinoStats{}, types.Errorf(types.ErrMalformedResponse, "win chance %s out of range", words[4])
	}

	return CasinoStats{
		HouseBalance:    ToDecimal(words[0], r.decimals),
		MinBet:          ToDecimal(words[1], r.decimals),
		MaxBet:          ToDecimal(words[2], r.decimals),
		CurrentMaxBet:   ToDecimal(words[3], r.decimals),
		WinChance:       words[4].Uint64(),
		NeedsRefill:     needsRefill,
		TimeUntilRefill: seconds(words[6]),
	}, nil
}

func (r *Reader) fetchFaucetState(ctx context.Context, account string) (FaucetState, error) {
	faucet, err := r.contract(pick(r.contracts.Faucet, r.contracts.Token), "faucet")
	if err != nil {
		return FaucetState{}, err
	}

	arg, err := EncodeAddress(account)
	if err != nil {
		return FaucetState{}, err
	}

	var state FaucetState
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		data, err := r.client.EthCall(gCtx, faucet, EncodeCall(r.methods.CanClaim, arg))
		if err != nil {
			return err
		}
		state.CanClaim, err = DecodeBool(data, 0)
		return err
	})

	g.Go(func() error {
		data, err := r.client.EthCall(gCtx, faucet, EncodeCall(r.methods.TimeUntilClaim, arg))
		if err != nil {
			return err
		}
		wait, err := DecodeUint256(data, 0)
		if err != nil {
			return err
		}
		state.TimeUntilClaim = seconds(wait)
		return nil
	})

	if err := g.Wait(); err != nil {
		return FaucetState{}, err
	}

	return state, nil
}

func (r *Reader) fetchDexReserves(ctx context.Context) (DexReserves, error) {
	dex, err := r.contract(r.contracts.Dex, "dex")
	if err != nil {
		return DexReserves{}, err
	}

	data, err := r.client.EthCall(ctx, dex, EncodeCall(r.methods.Reserves))
	if err != nil {
		return DexReserves{}, err
	}

	native, err := DecodeUint256(data, 0)
	if err != nil {
		return DexReserves{}, err
	}

	token, err := DecodeUint256(data, 1)
	if err != nil {
		return DexReserves{}, err
	}

	return DexReserves{
		Native: ToDecimal(native, r.decimals),
		Token:  ToDecimal(token, r.decimals),
	}, nil
}

func (r *Reader) fetchDexQuote(ctx context.Context, amount decimal.Decimal, direction Direction) (DexQuote, error) {
	dex, err := r.contract(r.contracts.Dex, "dex")
	if err != nil {
		return DexQuote{}, err
	}

	arg, err := EncodeUint256(FromDecimal(amount, r.decimals))
	if err != nil {
		return DexQuote{}, err
	}

	method := r.methods.QuoteNativeToken
	if direction == TokenToNative {
		method = r.methods.QuoteTokenNative
	}

	data, err := r.client.EthCall(ctx, dex, EncodeCall(method, arg))
	if err != nil {
		return DexQuote{}, err
	}

	out, err := DecodeUint256(data, 0)
	if err != nil {
		return DexQuote{}, err
	}

	fee, err := DecodeUint256(data, 1)
	if err != nil {
		return DexQuote{}, err
	}

	return DexQuote{
		AmountOut: ToDecimal(out, r.decimals),
		Fee:       ToDecimal(fee, r.decimals),
	}, nil
}

func (r *Reader) contract(address, name string) (string, error) {
	if address == "" {
		return "", types.Errorf(types.ErrContractNotConfigured, "%s", name)
	}
	return address, nil
}

func normalizeAccount(account string) (string, error) {
	account = types.NormalizeScope(account)
	if len(account) != 42 || !strings.HasPrefix(account, "0x") {
		return "", types.Errorf(types.ErrInvalidParameter, "account %q is not an address", account)
	}

	if _, err := DecodeHex(account); err != nil {
		return "", types.Errorf(types.ErrInvalidParameter, "account %q is not an address", account)
	}

	return account, nil
}

func seconds(n *big.Int) time.Duration {
	if !n.IsInt64() || n.Int64() > int64(time.Duration(1<<63-1)/time.Second) {
		return time.Duration(1<<63 - 1)
	}
	return time.Duration(n.Int64()) * time.Second
}

func pick(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}
