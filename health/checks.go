package health

import (
	"context"

	"github.com/saiset-co/sai-chainsync/types"
)

type ChainStatus interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BreakerStates() map[string]string
}

// RPCChecker asks the node pool for the latest block. Breaker states are
// reported alongside so a half-failed pool is visible even when the call succeeds.
func RPCChecker(chain ChainStatus) types.HealthChecker {
	return func(ctx context.Context) types.HealthCheck {
		details := map[string]interface{}{
			"breakers": chain.BreakerStates(),
		}

		block, err := chain.BlockNumber(ctx)
		if err != nil {
			return types.HealthCheck{
				Status:  types.StatusUnhealthy,
				Message: err.Error(),
				Details: details,
			}
		}

		details["block"] = block

		return types.HealthCheck{
			Status:  types.StatusHealthy,
			Details: details,
		}
	}
}

func DataManagerChecker(stats func() types.DataStats) types.HealthChecker {
	return func(ctx context.Context) types.HealthCheck {
		current := stats()

		details := map[string]interface{}{
			"entries":         current.Entries,
			"in_flight":       current.InFlight,
			"subscribed_keys": current.Subscribed,
			"subscribers":     current.Subscribers,
			"polls":           current.Polls,
		}

		if !current.Running {
			return types.HealthCheck{
				Status:  types.StatusUnhealthy,
				Message: types.ErrManagerStopped.Error(),
				Details: details,
			}
		}

		return types.HealthCheck{
			Status:  types.StatusHealthy,
			Details: details,
		}
	}
}
