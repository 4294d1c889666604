// Package metrics holds the streaming core's observable state and exports it.
package metrics

import (
	"worldstream.ai/internal/stream/cell"
)

// TierCounts is the per-state cell count of one tier.
type TierCounts struct {
	Queued  int `json:"queued"`
	Loading int `json:"loading"`
	Loaded  int `json:"loaded"`
	Cap     int `json:"cap"`
	// Refused counts cells not enqueued because the tier cap was reached.
	Refused uint64 `json:"refused"`
}

// Snapshot is a point-in-time view of the streaming state.
type Snapshot struct {
	Tick   uint64     `json:"tick"`
	Viewer cell.Coord `json:"viewer"`

	Tiers map[string]TierCounts `json:"tiers"`

	QueueLen     int    `json:"queue_len"`
	QueueDropped uint64 `json:"queue_dropped"`

	PoolHits       uint64  `json:"pool_hits"`
	PoolMisses     uint64  `json:"pool_misses"`
	PoolHitRate    float64 `json:"pool_hit_rate"`
	PoolIdle       int     `json:"pool_idle"`
	PoolOwned      int     `json:"pool_owned"`
	PoolCreated    uint64  `json:"pool_created"`
	PoolDiscarded  uint64  `json:"pool_discarded"`
	CachedModels   int     `json:"cached_models"`
	DecodeFailures uint64  `json:"decode_failures"`
	DecodeInFlight int     `json:"decode_in_flight"`

	Batches        int    `json:"batches"`
	Proxies        int    `json:"proxies"`
	ProxiesSkipped uint64 `json:"proxies_skipped"`
	Backdrop       bool   `json:"backdrop"`

	ProviderErrors uint64 `json:"provider_errors"`
	Discarded      uint64 `json:"discarded_loads"`
	Violations     uint64 `json:"invariant_violations"`
}

// Tier returns the counts for t, zero if absent.
func (s Snapshot) Tier(t cell.Tier) TierCounts {
	return s.Tiers[t.String()]
}

// Loaded is the total of loaded cells over all tiers.
func (s Snapshot) Loaded() int {
	n := 0
	for _, tc := range s.Tiers {
		n += tc.Loaded
	}
	return n
}
