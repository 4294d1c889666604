package decode

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"worldstream.ai/internal/stream/cell"
	"worldstream.ai/internal/stream/pool"
)

func newPool(t *testing.T, dec pool.DecoderFunc) *pool.Pool {
	t.Helper()
	cache, err := pool.NewModelCache(dec, 32, 0)
	require.NoError(t, err)
	return pool.New(cache, pool.Config{MaxIdlePerKey: 8}, nil)
}

func okDecoder(ctx context.Context, key pool.AssetKey) (*pool.Model, error) {
	return pool.NewModel(key, []float32{1, 2, 3}), nil
}

func pollUntil(t *testing.T, d *Dispatcher) Result {
	t.Helper()
	var res Result
	require.Eventually(t, func() bool {
		r, ok := d.Poll()
		if ok {
			res = r
		}
		return ok
	}, 2*time.Second, time.Millisecond)
	return res
}

func TestDispatcher_DeliversInstancesInKeyOrder(t *testing.T) {
	p := newPool(t, okDecoder)
	d := NewDispatcher(p, Config{Workers: 2}, nil)
	defer d.Close()

	keys := []pool.AssetKey{"static/a", "static/b", "static/a"}
	id, err := d.Submit(Job{Kind: CellObjects, Coord: cell.Coord{X: 3}, Keys: keys, Slots: []int{0, 2, 5}})
	require.NoError(t, err)

	res := pollUntil(t, d)
	assert.Equal(t, id, res.Job.ID)
	assert.Equal(t, cell.Coord{X: 3}, res.Job.Coord)
	assert.Equal(t, []int{0, 2, 5}, res.Job.Slots)
	require.Len(t, res.Instances, 3)
	for i, inst := range res.Instances {
		assert.Equal(t, keys[i], inst.Key)
		assert.True(t, p.Owns(inst))
	}
	assert.Zero(t, res.Failures)
	assert.Eventually(t, func() bool { return d.InFlight() == 0 }, time.Second, time.Millisecond)
}

func TestDispatcher_PollNeverBlocks(t *testing.T) {
	release := make(chan struct{})
	p := newPool(t, func(ctx context.Context, key pool.AssetKey) (*pool.Model, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return pool.NewModel(key, nil), nil
	})
	d := NewDispatcher(p, Config{Workers: 1}, nil)
	defer d.Close()

	_, err := d.Submit(Job{Kind: CellObjects, Keys: []pool.AssetKey{"static/slow"}})
	require.NoError(t, err)
	start := time.Now()
	_, ok := d.Poll()
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, 1, d.InFlight())

	close(release)
	res := pollUntil(t, d)
	assert.Len(t, res.Instances, 1)
}

func TestDispatcher_CountsFailures(t *testing.T) {
	p := newPool(t, func(ctx context.Context, key pool.AssetKey) (*pool.Model, error) {
		if key == "static/bad" {
			return nil, errors.New("truncated")
		}
		return pool.NewModel(key, nil), nil
	})
	d := NewDispatcher(p, Config{Workers: 4}, nil)
	defer d.Close()

	_, err := d.Submit(Job{Kind: CellObjects, Keys: []pool.AssetKey{"static/good", "static/bad"}})
	require.NoError(t, err)
	res := pollUntil(t, d)
	assert.Equal(t, 1, res.Failures)
	assert.False(t, res.Instances[0].Placeholder())
	assert.True(t, res.Instances[1].Placeholder())
	assert.Equal(t, uint64(1), d.Stats().Failures)
}

func TestDispatcher_WorkerLimit(t *testing.T) {
	var running, peak atomic.Int64
	p := newPool(t, func(ctx context.Context, key pool.AssetKey) (*pool.Model, error) {
		n := running.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return pool.NewModel(key, nil), nil
	})
	d := NewDispatcher(p, Config{Workers: 2}, nil)
	defer d.Close()

	for i := 0; i < 8; i++ {
		_, err := d.Submit(Job{Kind: CellObjects, Keys: []pool.AssetKey{pool.AssetKey("static/k" + string(rune('a'+i)))}})
		require.NoError(t, err)
	}
	for i := 0; i < 8; i++ {
		pollUntil(t, d)
	}
	assert.LessOrEqual(t, peak.Load(), int64(2))
}

func TestDispatcher_BacklogDoesNotSpawnGoroutines(t *testing.T) {
	release := make(chan struct{})
	p := newPool(t, func(ctx context.Context, key pool.AssetKey) (*pool.Model, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return pool.NewModel(key, nil), nil
	})
	d := NewDispatcher(p, Config{Workers: 3, ResultBuffer: 64}, nil)
	defer d.Close()

	const jobs = 40
	for i := 0; i < jobs; i++ {
		_, err := d.Submit(Job{Kind: CellObjects, Keys: []pool.AssetKey{pool.AssetKey(fmt.Sprintf("static/k%d", i))}})
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return d.Backlog() == jobs-3 }, time.Second, time.Millisecond)
	assert.Equal(t, 3, d.Running())
	assert.Equal(t, jobs, d.InFlight())

	close(release)
	for i := 0; i < jobs; i++ {
		pollUntil(t, d)
	}
	assert.Eventually(t, func() bool { return d.Running() == 0 }, time.Second, time.Millisecond)
	assert.Zero(t, d.InFlight())
	assert.Zero(t, d.Backlog())

	// Idle workers have exited; new work starts a fresh one.
	_, err := d.Submit(Job{Kind: Backdrop, Keys: []pool.AssetKey{"backdrop/sky"}})
	require.NoError(t, err)
	res := pollUntil(t, d)
	assert.Len(t, res.Instances, 1)
}

func TestDispatcher_CloseDropsBacklog(t *testing.T) {
	p := newPool(t, func(ctx context.Context, key pool.AssetKey) (*pool.Model, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	d := NewDispatcher(p, Config{Workers: 1}, nil)
	for i := 0; i < 5; i++ {
		_, err := d.Submit(Job{Kind: CellObjects, Keys: []pool.AssetKey{"static/stuck"}})
		require.NoError(t, err)
	}
	require.NoError(t, d.Close())
	assert.Zero(t, d.InFlight())
	assert.Zero(t, d.Running())
	assert.Zero(t, p.Stats().Owned)
}

func TestDispatcher_CloseReleasesUndelivered(t *testing.T) {
	p := newPool(t, okDecoder)
	d := NewDispatcher(p, Config{Workers: 2, ResultBuffer: 4}, nil)
	_, err := d.Submit(Job{Kind: Backdrop, Keys: []pool.AssetKey{"backdrop/sky"}})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return d.Pending() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, d.Close())
	assert.Zero(t, p.Stats().Owned)
	assert.Equal(t, 1, p.IdleCount("backdrop/sky"))

	_, err = d.Submit(Job{Kind: Backdrop})
	assert.ErrorIs(t, err, ErrClosed)
}
