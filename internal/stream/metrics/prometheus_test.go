package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"worldstream.ai/internal/stream/cell"
)

func TestExporter_Publish(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := NewExporter(reg)

	e.Publish(Snapshot{
		Tick: 7,
		Tiers: map[string]TierCounts{
			cell.Near.String(): {Queued: 2, Loading: 1, Loaded: 9, Refused: 3},
			cell.Far.String():  {Loaded: 40},
		},
		QueueLen:     2,
		QueueDropped: 5,
		PoolHits:     3,
		PoolMisses:   1,
		PoolHitRate:  0.75,
		Proxies:      4,
	})
	e.ObserveTick(0.002)

	assert.Equal(t, 7.0, testutil.ToFloat64(e.tick))
	assert.Equal(t, 9.0, testutil.ToFloat64(e.cells.WithLabelValues("NEAR", "LOADED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.cells.WithLabelValues("NEAR", "LOADING")))
	assert.Equal(t, 40.0, testutil.ToFloat64(e.cells.WithLabelValues("FAR", "LOADED")))
	assert.Equal(t, 0.0, testutil.ToFloat64(e.cells.WithLabelValues("MID", "QUEUED")))
	assert.Equal(t, 3.0, testutil.ToFloat64(e.capRefusals.WithLabelValues("NEAR")))
	assert.Equal(t, 5.0, testutil.ToFloat64(e.queueDropped))
	assert.Equal(t, 0.75, testutil.ToFloat64(e.poolHitRate))
	assert.Equal(t, 4.0, testutil.ToFloat64(e.proxies))

	n, err := testutil.GatherAndCount(reg, "worldstream_tick_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSnapshot_Loaded(t *testing.T) {
	s := Snapshot{Tiers: map[string]TierCounts{
		"NEAR": {Loaded: 9},
		"MID":  {Loaded: 16, Queued: 3},
	}}
	assert.Equal(t, 25, s.Loaded())
	assert.Equal(t, 16, s.Tier(cell.Mid).Loaded)
	assert.Zero(t, s.Tier(cell.Far).Loaded)
}
