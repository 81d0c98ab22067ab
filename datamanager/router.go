package datamanager

import (
	"sort"

	"github.com/saiset-co/sai-chainsync/types"
)

// Rule maps an event to the entries it makes stale.
//
// A scoped rule targets the entry of the event's scope (usually an account) and is
// skipped when the event carries no scope. A prefix rule targets every known entry
// under the key instead of the key itself.
type Rule struct {
	Kind   types.Kind
	Scoped bool
	Prefix bool
}

// KeyLister returns the known serialized keys that start with prefix.
type KeyLister func(prefix string) []string

// Router resolves write events to cache keys. Its table is fixed at construction.
type Router struct {
	rules map[types.EventKind][]Rule
}

func DefaultRules() map[types.EventKind][]Rule {
	return map[types.EventKind][]Rule{
		types.EventFaucet: {
			{Kind: types.KindBalances, Scoped: true},
			{Kind: types.KindFaucetState, Scoped: true},
		},
		types.EventCasino: {
			{Kind: types.KindBalances, Scoped: true},
			{Kind: types.KindCasinoStats},
		},
		types.EventDex: {
			{Kind: types.KindBalances, Scoped: true},
			{Kind: types.KindDexReserves},
			{Kind: types.KindDexQuote, Prefix: true},
		},
	}
}

func RulesFromConfig(config map[string][]types.InvalidationRuleConfig) map[types.EventKind][]Rule {
	rules := make(map[types.EventKind][]Rule, len(config))
	for event, ruleConfigs := range config {
		for _, rc := range ruleConfigs {
			rules[types.EventKind(event)] = append(rules[types.EventKind(event)], Rule{
				Kind:   types.Kind(rc.Kind),
				Scoped: rc.Scoped,
				Prefix: rc.Prefix,
			})
		}
	}
	return rules
}

func NewRouter(rules map[types.EventKind][]Rule) (*Router, error) {
	table := make(map[types.EventKind][]Rule, len(rules))

	for event, eventRules := range rules {
		if event == "" {
			return nil, types.Errorf(types.ErrInvalidationRule, "empty event kind")
		}

		for _, rule := range eventRules {
			if rule.Kind == "" {
				return nil, types.Errorf(types.ErrInvalidationRule, "event %s has a rule without kind", event)
			}
		}

		copied := make([]Rule, len(eventRules))
		copy(copied, eventRules)
		table[event] = copied
	}

	return &Router{rules: table}, nil
}

// Resolve lists the keys event invalidates, sorted and without duplicates.
func (r *Router) Resolve(event types.EventKind, scope string, known KeyLister) ([]string, error) {
	rules, exists := r.rules[event]
	if !exists {
		return nil, types.Errorf(types.ErrUnknownEvent, "event: %s", event)
	}

	scope = types.NormalizeScope(scope)
	seen := make(map[string]struct{})

	for _, rule := range rules {
		if rule.Scoped && scope == "" {
			continue
		}

		key := types.NewKey(rule.Kind)
		if rule.Scoped {
			key = types.NewKey(rule.Kind, scope)
		}

		if !rule.Prefix {
			seen[key.String()] = struct{}{}
			continue
		}

		if known == nil {
			continue
		}

		for _, k := range known(key.String() + ":") {
			seen[k] = struct{}{}
		}
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys, nil
}

func (r *Router) Events() []types.EventKind {
	events := make([]types.EventKind, 0, len(r.rules))
	for event := range r.rules {
		events = append(events, event)
	}
	sort.Slice(events, func(i, j int) bool { return events[i] < events[j] })
	return events
}
