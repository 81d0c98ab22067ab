package service

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-chainsync/chain"
	"github.com/saiset-co/sai-chainsync/datamanager"
	"github.com/saiset-co/sai-chainsync/types"
)

// Watcher keeps one binding per configured account and shared kind alive so that
// their keys stay subscribed and polled for as long as the service runs.
type Watcher struct {
	logger types.Logger
	dm     types.DataManager
	reader *chain.Reader
	config *types.WatchConfig
	stops  []func()
	mu     sync.Mutex
}

func NewWatcher(logger types.Logger, dm types.DataManager, reader *chain.Reader, config *types.WatchConfig) *Watcher {
	if config == nil {
		config = &types.WatchConfig{}
	}

	return &Watcher{
		logger: logger,
		dm:     dm,
		reader: reader,
		config: config,
	}
}

func (w *Watcher) Start(ctx context.Context, contracts types.ContractsConfig) error {
	for _, account := range w.config.Accounts {
		balances, err := w.reader.BalancesQuery(account)
		if err != nil {
			w.Stop()
			return types.WrapError(err, "failed to watch balances")
		}
		if err := watch(ctx, w, balances); err != nil {
			w.Stop()
			return err
		}

		if contracts.Faucet == "" && contracts.Token == "" {
			continue
		}

		faucet, err := w.reader.FaucetStateQuery(account)
		if err != nil {
			w.Stop()
			return types.WrapError(err, "failed to watch faucet state")
		}
		if err := watch(ctx, w, faucet); err != nil {
			w.Stop()
			return err
		}
	}

	if w.config.Casino {
		if contracts.Casino == "" {
			w.Stop()
			return types.Errorf(types.ErrContractNotConfigured, "casino")
		}
		if err := watch(ctx, w, w.reader.CasinoStatsQuery()); err != nil {
			w.Stop()
			return err
		}
	}

	if w.config.Dex {
		if contracts.Dex == "" {
			w.Stop()
			return types.Errorf(types.ErrContractNotConfigured, "dex")
		}
		if err := watch(ctx, w, w.reader.DexReservesQuery()); err != nil {
			w.Stop()
			return err
		}
	}

	w.logger.Info("Watching on-chain data", zap.Int("bindings", w.Len()))
	return nil
}

func (w *Watcher) Stop() {
	w.mu.Lock()
	stops := w.stops
	w.stops = nil
	w.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
}

func (w *Watcher) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return len(w.stops)
}

func watch[T any](ctx context.Context, w *Watcher, query datamanager.Query[T]) error {
	key := query.Key.String()

	binding := datamanager.Bind(w.dm, query, datamanager.OnChange(func(state datamanager.BindingState[T]) {
		switch {
		case state.Loading:
		case state.Err != nil:
			w.logger.Warn("Watched value unavailable", zap.String("key", key), zap.Error(state.Err))
		default:
			w.logger.Info("Watched value updated", zap.String("key", key), zap.Any("value", state.Value))
		}
	}))

	if err := binding.Start(ctx); err != nil {
		return types.WrapError(err, "failed to bind "+key)
	}

	w.mu.Lock()
	w.stops = append(w.stops, binding.Stop)
	w.mu.Unlock()

	return nil
}
