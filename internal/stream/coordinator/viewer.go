package coordinator

import (
	"worldstream.ai/internal/stream/cell"
	"worldstream.ai/internal/stream/invariant"
	"worldstream.ai/internal/stream/loadqueue"
)

// Diff reports what one viewer update changed.
type Diff struct {
	Viewer cell.Coord `json:"viewer"`
	Moved  bool       `json:"moved"`

	Enqueued  int `json:"enqueued"`
	Cancelled int `json:"cancelled"`
	Unloaded  int `json:"unloaded"`
	// Retiered counts Loaded cells unloaded because their tier changed.
	Retiered int `json:"retiered"`
	Refused  int `json:"refused"`
	Dropped  int `json:"dropped"`
	// Deferred counts cells left for a later tick by the per-tick enqueue bound.
	Deferred int `json:"deferred"`
}

// UpdateViewer moves the viewer to pos and reconciles the lifecycle store with
// the visible set. It never blocks: loads are only enqueued.
func (c *Coordinator) UpdateViewer(pos cell.Vec2) Diff {
	vc := cell.FromWorld(pos, c.cfg.CellSize)
	diff := Diff{Viewer: vc}
	if !c.haveViewer || vc != c.viewer {
		diff.Moved = true
		c.retarget(vc, &diff)
	}
	if c.dirty {
		c.enqueueVisible(&diff)
	}
	return diff
}

// retarget recomputes the visible set around vc, cancels queued cells that
// left it, re-ranks the ones that stayed and unloads loaded ones. Loading cells are settled at completion.
func (c *Coordinator) retarget(vc cell.Coord, diff *Diff) {
	c.viewer = vc
	c.haveViewer = true
	c.order = c.classifier.Visible(vc)
	c.visible = make(map[cell.Coord]cell.Tier, len(c.order))
	for _, v := range c.order {
		c.visible[v.Coord] = v.Tier
	}

	var cancel, unload, rekey []cell.Coord
	retier := map[cell.Coord]bool{}
	c.store.Each(func(at cell.Coord, st cell.State, t cell.Tier) {
		nt, ok := c.visible[at]
		if ok && nt == t {
			if st == cell.Queued {
				rekey = append(rekey, at)
			}
			return
		}
		switch st {
		case cell.Queued:
			cancel = append(cancel, at)
		case cell.Loaded:
			unload = append(unload, at)
			retier[at] = ok
		}
	})
	cell.SortCoords(cancel)
	cell.SortCoords(unload)

	for _, at := range cancel {
		c.queue.Cancel(at)
		if err := c.store.Cancel(at); err != nil {
			invariant.Violated(c.log, "cancel of queued cell failed", "coord", at.String(), "err", err)
			continue
		}
		diff.Cancelled++
	}
	// Queued cells that stay visible are ranked by distance to the new viewer cell.
	for _, at := range rekey {
		c.queue.Reprioritize(at, -cell.Manhattan(vc, at))
	}
	for _, at := range unload {
		c.Unload(at)
		diff.Unloaded++
		if retier[at] {
			diff.Retiered++
		}
	}
	c.dirty = true
}

// enqueueVisible enqueues Unloaded members of the visible set, nearest first.
func (c *Coordinator) enqueueVisible(diff *Diff) {
	again := false
	now := c.clk.Now()
	for _, v := range c.order {
		if c.store.State(v.Coord) != cell.Unloaded {
			continue
		}
		if c.cfg.MaxEnqueuePerTick > 0 && diff.Enqueued >= c.cfg.MaxEnqueuePerTick {
			diff.Deferred++
			again = true
			continue
		}
		if !c.classifier.Admit(v.Tier, c.store.Resident(v.Tier)) {
			diff.Refused++
			continue
		}
		e := loadqueue.Entry{
			Coord:      v.Coord,
			Tier:       v.Tier,
			Priority:   -cell.Manhattan(c.viewer, v.Coord),
			EnqueuedAt: now,
		}
		switch c.queue.Enqueue(e) {
		case loadqueue.Enqueued:
			if err := c.store.MarkQueued(v.Coord, v.Tier); err != nil {
				invariant.Violated(c.log, "enqueue of tracked cell", "coord", v.Coord.String(), "err", err)
				c.queue.Cancel(v.Coord)
				continue
			}
			diff.Enqueued++
		case loadqueue.Dropped:
			diff.Dropped++
			again = true
		case loadqueue.Duplicate:
			invariant.Violated(c.log, "unloaded cell already queued", "coord", v.Coord.String())
		}
	}
	c.dirty = again
}
