package coordinator

import (
	"context"

	"worldstream.ai/internal/stream/cell"
	"worldstream.ai/internal/stream/decode"
	"worldstream.ai/internal/stream/invariant"
	"worldstream.ai/internal/stream/loadqueue"
	"worldstream.ai/internal/stream/pool"
	"worldstream.ai/internal/stream/provider"
	"worldstream.ai/internal/stream/tier"
)

// Start runs the submit half of a load for a cell the scheduler just moved to
// Loading. Anything that needs decoding goes to the dispatcher.
func (c *Coordinator) Start(ctx context.Context, e loadqueue.Entry) {
	switch e.Tier {
	case cell.Near:
		c.startNear(ctx, e.Coord)
	case cell.Mid:
		c.startMid(ctx, e.Coord)
	case cell.Far:
		c.startFar(ctx, e.Coord)
	default:
		invariant.Violated(c.log, "load entry with cell-less tier", "coord", e.Coord.String(), "tier", e.Tier.String())
		_ = c.store.Abandon(e.Coord)
	}
}

// Complete finalizes one finished decode job.
func (c *Coordinator) Complete() bool {
	r, ok := c.disp.Poll()
	if !ok {
		return false
	}
	switch r.Job.Kind {
	case decode.CellObjects:
		c.completeNear(r)
	case decode.MergedBatch:
		c.completeBatch(r)
	case decode.LandmarkProxy:
		c.completeProxy(r)
	case decode.Backdrop:
		c.completeBackdrop(r)
	default:
		c.release(r.Instances...)
	}
	return true
}

func (c *Coordinator) cellData(ctx context.Context, at cell.Coord) (provider.CellData, bool) {
	data, ok, err := c.world.Cell(ctx, at)
	if err != nil {
		c.providerErrors++
		c.log.Warn("world data lookup failed; treating cell as empty", "coord", at.String(), "err", err)
		return provider.CellData{}, false
	}
	return data, ok
}

func (c *Coordinator) startNear(ctx context.Context, at cell.Coord) {
	data, ok := c.cellData(ctx, at)
	if !ok || len(data.Objects) == 0 {
		c.finishLoad(at, nil)
		return
	}

	handles := make([]*pool.Instance, len(data.Objects))
	var keys []pool.AssetKey
	var slots []int
	for i, obj := range data.Objects {
		if inst, ok := c.pool.TryAcquire(obj.Asset); ok {
			handles[i] = inst
			continue
		}
		keys = append(keys, obj.Asset)
		slots = append(slots, i)
	}
	if len(keys) == 0 {
		c.finishLoad(at, handles)
		return
	}

	id, err := c.disp.Submit(decode.Job{Kind: decode.CellObjects, Coord: at, Keys: keys, Slots: slots})
	if err != nil {
		c.log.Warn("decode submit failed", "coord", at.String(), "err", err)
		c.release(handles...)
		c.abandon(at)
		return
	}
	c.pendingNear[at] = &nearLoad{job: id, handles: handles}
}

func (c *Coordinator) completeNear(r decode.Result) {
	at := r.Job.Coord
	pend, ok := c.pendingNear[at]
	if !ok || pend.job != r.Job.ID {
		c.release(r.Instances...)
		c.discarded++
		return
	}
	delete(c.pendingNear, at)
	for i, slot := range r.Job.Slots {
		if i < len(r.Instances) {
			pend.handles[slot] = r.Instances[i]
		}
	}
	if !c.stillWanted(at, cell.Near) {
		c.release(pend.handles...)
		c.discarded++
		c.abandon(at)
		return
	}
	c.finishLoad(at, pend.handles)
}

func (c *Coordinator) startMid(ctx context.Context, at cell.Coord) {
	anchor := c.batches.AnchorOf(at)
	b, ok := c.batches.Get(anchor)
	if !ok {
		b = c.openBatch(ctx, anchor)
	}
	switch b.State {
	case tier.BatchPending:
		c.batches.Wait(at)
	default:
		c.batches.Attach(at)
		c.finishLoad(at, nil)
	}
}

// openBatch creates the batch at anchor and starts loading its merged
// artifact. A missing artifact is remembered as an empty batch.
func (c *Coordinator) openBatch(ctx context.Context, anchor cell.Coord) *tier.Batch {
	key, ok, err := c.world.MergedArtifact(ctx, anchor, c.batches.Size())
	if err != nil {
		c.providerErrors++
		c.log.Warn("merged artifact lookup failed; batch loads empty", "anchor", anchor.String(), "err", err)
		ok = false
	}
	if !ok {
		return c.batches.Create(anchor, "")
	}
	b := c.batches.Create(anchor, key)
	if inst, ok := c.pool.TryAcquire(key); ok {
		c.batches.Resolve(anchor, inst)
		return b
	}
	if _, err := c.disp.Submit(decode.Job{Kind: decode.MergedBatch, Coord: anchor, Keys: []pool.AssetKey{key}}); err != nil {
		c.log.Warn("decode submit failed", "anchor", anchor.String(), "err", err)
		b.State = tier.BatchEmpty
	}
	return b
}

func (c *Coordinator) completeBatch(r decode.Result) {
	anchor := r.Job.Coord
	var inst *pool.Instance
	if len(r.Instances) > 0 {
		inst = r.Instances[0]
		c.release(r.Instances[1:]...)
	}
	waiting, surplus := c.batches.Resolve(anchor, inst)
	if surplus != nil {
		c.release(surplus)
		c.discarded++
	}
	for _, at := range waiting {
		if c.store.State(at) != cell.Loading {
			continue
		}
		if !c.stillWanted(at, cell.Mid) {
			c.discarded++
			c.abandon(at)
			continue
		}
		c.batches.Attach(at)
		c.finishLoad(at, nil)
	}
	if idle := c.batches.Prune(anchor); idle != nil {
		c.release(idle)
	}
}

// startFar loads a FAR cell immediately; its landmark proxies stream in on
// their own and are shared with every other FAR cell showing them.
func (c *Coordinator) startFar(ctx context.Context, at cell.Coord) {
	data, _ := c.cellData(ctx, at)
	var refs []string
	for _, lm := range data.Landmarks {
		p, fresh, ok := c.proxies.Reference(lm, at)
		if !ok {
			continue
		}
		refs = append(refs, lm)
		if !fresh {
			continue
		}
		key := tier.ImpostorKey(lm)
		if inst, ok := c.pool.TryAcquire(key); ok {
			c.proxies.Resolve(p.Landmark, inst)
			continue
		}
		if _, err := c.disp.Submit(decode.Job{Kind: decode.LandmarkProxy, Coord: at, Landmark: lm, Keys: []pool.AssetKey{key}}); err != nil {
			c.log.Warn("decode submit failed", "landmark", lm, "err", err)
		}
	}
	if len(refs) > 0 {
		c.farRefs[at] = refs
	}
	c.finishLoad(at, nil)
}

func (c *Coordinator) completeProxy(r decode.Result) {
	if len(r.Instances) == 0 {
		return
	}
	c.release(r.Instances[1:]...)
	if surplus := c.proxies.Resolve(r.Job.Landmark, r.Instances[0]); surplus != nil {
		c.release(surplus)
		c.discarded++
	}
}

// ensureBackdrop requests the single horizon backdrop once.
func (c *Coordinator) ensureBackdrop(ctx context.Context) {
	if c.backdropRequested || c.cfg.Backdrop == "" {
		return
	}
	c.backdropRequested = true
	if inst, ok := c.pool.TryAcquire(c.cfg.Backdrop); ok {
		c.backdrop = inst
		return
	}
	if _, err := c.disp.Submit(decode.Job{Kind: decode.Backdrop, Keys: []pool.AssetKey{c.cfg.Backdrop}}); err != nil {
		c.log.Warn("backdrop submit failed", "err", err)
	}
}

func (c *Coordinator) completeBackdrop(r decode.Result) {
	if len(r.Instances) == 0 {
		return
	}
	c.release(r.Instances[1:]...)
	if c.backdrop != nil {
		c.release(r.Instances[0])
		return
	}
	c.backdrop = r.Instances[0]
}

// stillWanted reports whether a finishing load should be registered: the cell
// must still be visible at the tier it was loaded for.
func (c *Coordinator) stillWanted(at cell.Coord, t cell.Tier) bool {
	vt, ok := c.visible[at]
	return ok && vt == t
}

func (c *Coordinator) finishLoad(at cell.Coord, handles []*pool.Instance) {
	rec, err := c.store.MarkLoaded(at, handles)
	if err != nil {
		invariant.Violated(c.log, "load completed for cell not loading", "coord", at.String(), "err", err)
		c.release(handles...)
		return
	}
	if c.cfg.TerrainTiers[rec.Tier] {
		if err := c.terrain.LoadRegion(at); err != nil {
			c.providerErrors++
			c.log.Warn("terrain region load failed", "coord", at.String(), "err", err)
		} else {
			c.terrainHeld[at] = struct{}{}
		}
	}
}

// abandon drops a Loading cell whose result was discarded. The visible set is
// rescanned so a cell that is visible again gets re-enqueued.
func (c *Coordinator) abandon(at cell.Coord) {
	if err := c.store.Abandon(at); err != nil {
		invariant.Violated(c.log, "abandon of cell not loading", "coord", at.String(), "err", err)
	}
	c.dirty = true
}

// Unload releases every resource of a Loaded cell and marks it Unloaded.
// Calling it for a cell that is not Loaded does nothing.
func (c *Coordinator) Unload(at cell.Coord) {
	rec, ok := c.store.Unload(at)
	if !ok {
		return
	}
	c.release(rec.Handles...)
	switch rec.Tier {
	case cell.Mid:
		if inst := c.batches.Detach(at); inst != nil {
			c.release(inst)
		}
	case cell.Far:
		for _, lm := range c.farRefs[at] {
			if inst := c.proxies.Unreference(lm, at); inst != nil {
				c.release(inst)
			}
		}
		delete(c.farRefs, at)
	}
	if _, held := c.terrainHeld[at]; held {
		delete(c.terrainHeld, at)
		if err := c.terrain.UnloadRegion(at); err != nil {
			c.providerErrors++
			c.log.Warn("terrain region unload failed", "coord", at.String(), "err", err)
		}
	}
	c.dirty = true
}
