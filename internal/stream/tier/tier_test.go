package tier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"worldstream.ai/internal/stream/cell"
	"worldstream.ai/internal/stream/pool"
)

func TestClassifier_BandsAndCaps(t *testing.T) {
	c := NewClassifier(Config{
		Near:      Policy{Radius: 1, CellCap: 2},
		Mid:       Policy{Radius: 3, CellCap: 100},
		Far:       Policy{Radius: 6, CellCap: 100},
		BatchSize: 4,
		ProxyCap:  8,
	})
	viewer := cell.Coord{X: 5, Y: 5}

	tr, ok := c.Classify(viewer, cell.Coord{X: 6, Y: 6})
	require.True(t, ok)
	assert.Equal(t, cell.Near, tr)
	tr, _ = c.Classify(viewer, cell.Coord{X: 8, Y: 5})
	assert.Equal(t, cell.Mid, tr)
	tr, _ = c.Classify(viewer, cell.Coord{X: 5, Y: -1})
	assert.Equal(t, cell.Far, tr)
	tr, ok = c.Classify(viewer, cell.Coord{X: 50, Y: 5})
	assert.False(t, ok)
	assert.Equal(t, cell.Horizon, tr)

	assert.True(t, c.Admit(cell.Near, 0))
	assert.True(t, c.Admit(cell.Near, 1))
	assert.False(t, c.Admit(cell.Near, 2))
	assert.False(t, c.Admit(cell.Near, 7))
	assert.Equal(t, uint64(2), c.Refused(cell.Near))
	assert.False(t, c.Admit(cell.Horizon, 0), "horizon never takes per-cell work")

	assert.Len(t, c.Visible(viewer), 13*13)
}

func TestBatches_SharedInstanceLifecycle(t *testing.T) {
	bs := NewBatches(4)
	a, b := cell.Coord{X: 1, Y: 1}, cell.Coord{X: 2, Y: 3}
	anchor := bs.AnchorOf(a)
	require.Equal(t, anchor, bs.AnchorOf(b))

	batch := bs.Create(anchor, "merged/0_0")
	assert.Equal(t, BatchPending, batch.State)
	bs.Wait(a)
	bs.Wait(b)
	assert.Nil(t, bs.Prune(anchor), "pending batch must survive")

	inst := &pool.Instance{ID: 7, Key: "merged/0_0"}
	waiting, surplus := bs.Resolve(anchor, inst)
	assert.Nil(t, surplus)
	assert.ElementsMatch(t, []cell.Coord{a, b}, waiting)
	bs.Attach(a)
	bs.Attach(b)

	_, surplus = bs.Resolve(anchor, &pool.Instance{ID: 8})
	assert.NotNil(t, surplus, "second resolve is surplus")

	assert.Nil(t, bs.Detach(a))
	assert.Same(t, inst, bs.Detach(b))
	assert.Zero(t, bs.Len())
}

func TestBatches_EmptyArtifactSkip(t *testing.T) {
	bs := NewBatches(2)
	c := cell.Coord{X: -1, Y: -1}
	batch := bs.Create(bs.AnchorOf(c), "")
	assert.Equal(t, BatchEmpty, batch.State)
	bs.Attach(c)
	assert.Equal(t, 1, batch.Members())
	assert.Nil(t, bs.Detach(c))
	assert.Zero(t, bs.Len())
}

func TestProxies_CapIndependentOfCells(t *testing.T) {
	ps := NewProxies(2)
	for i := 0; i < 10; i++ {
		c := cell.Coord{X: i}
		_, fresh, ok := ps.Reference("tower", c)
		require.True(t, ok)
		assert.Equal(t, i == 0, fresh)
	}
	_, fresh, ok := ps.Reference("keep", cell.Coord{Y: 1})
	require.True(t, ok)
	assert.True(t, fresh)
	_, _, ok = ps.Reference("bridge", cell.Coord{Y: 2})
	assert.False(t, ok)
	assert.Equal(t, 2, ps.Len())
	assert.Equal(t, uint64(1), ps.Skipped())
	assert.Equal(t, []string{"keep", "tower"}, ps.Landmarks())

	inst := &pool.Instance{ID: 1, Key: ImpostorKey("tower")}
	assert.Nil(t, ps.Resolve("tower", inst))
	for i := 0; i < 9; i++ {
		assert.Nil(t, ps.Unreference("tower", cell.Coord{X: i}))
	}
	assert.Same(t, inst, ps.Unreference("tower", cell.Coord{X: 9}))

	// keep is still pending; dropping its last reference leaves nothing to release
	assert.Nil(t, ps.Unreference("keep", cell.Coord{Y: 1}))
	assert.NotNil(t, ps.Resolve("keep", &pool.Instance{ID: 2}), "late result is surplus")
	assert.Zero(t, ps.Len())
}
