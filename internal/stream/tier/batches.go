package tier

import (
	"worldstream.ai/internal/stream/cell"
	"worldstream.ai/internal/stream/pool"
)

// BatchState tracks a MID batch's merged artifact.
type BatchState uint8

const (
	// BatchPending: the merged instance is being decoded.
	BatchPending BatchState = iota
	// BatchReady: the merged instance is held.
	BatchReady
	// BatchEmpty: no precomputed artifact exists; members load with no geometry.
	BatchEmpty
)

// Batch is one merged MID representation shared by its member cells.
type Batch struct {
	Anchor   cell.Coord
	Key      pool.AssetKey
	State    BatchState
	Instance *pool.Instance

	members map[cell.Coord]struct{}
	waiting []cell.Coord
}

func (b *Batch) Members() int { return len(b.members) }

// Batches owns the merged instances of MID batches and reference-counts them
// by member cell.
type Batches struct {
	size int
	m    map[cell.Coord]*Batch
}

func NewBatches(size int) *Batches {
	if size <= 0 {
		size = 1
	}
	return &Batches{size: size, m: map[cell.Coord]*Batch{}}
}

func (bs *Batches) Size() int { return bs.size }

// AnchorOf returns the batch anchor containing c.
func (bs *Batches) AnchorOf(c cell.Coord) cell.Coord { return c.Batch(bs.size) }

func (bs *Batches) Get(anchor cell.Coord) (*Batch, bool) {
	b, ok := bs.m[anchor]
	return b, ok
}

// Create registers a new batch. An empty key records the skip policy.
func (bs *Batches) Create(anchor cell.Coord, key pool.AssetKey) *Batch {
	b := &Batch{Anchor: anchor, Key: key, State: BatchPending, members: map[cell.Coord]struct{}{}}
	if key == "" {
		b.State = BatchEmpty
	}
	bs.m[anchor] = b
	return b
}

// Attach makes c a member of its batch.
func (bs *Batches) Attach(c cell.Coord) {
	if b, ok := bs.m[bs.AnchorOf(c)]; ok {
		b.members[c] = struct{}{}
	}
}

// Wait parks c until the batch's decode completes.
func (bs *Batches) Wait(c cell.Coord) {
	if b, ok := bs.m[bs.AnchorOf(c)]; ok {
		b.waiting = append(b.waiting, c)
	}
}

// Resolve stores the decoded instance of a pending batch and returns the cells
// that were waiting on it. If the batch is gone or already resolved, the
// instance is returned as surplus for the caller to release.
func (bs *Batches) Resolve(anchor cell.Coord, inst *pool.Instance) (waiting []cell.Coord, surplus *pool.Instance) {
	b, ok := bs.m[anchor]
	if !ok || b.State != BatchPending {
		return nil, inst
	}
	b.Instance = inst
	b.State = BatchReady
	waiting, b.waiting = b.waiting, nil
	return waiting, nil
}

// Detach removes c from its batch. When the batch has no members and nothing
// waiting it is dropped, and its instance (if any) returned for release.
func (bs *Batches) Detach(c cell.Coord) *pool.Instance {
	anchor := bs.AnchorOf(c)
	b, ok := bs.m[anchor]
	if !ok {
		return nil
	}
	delete(b.members, c)
	return bs.Prune(anchor)
}

// Prune drops an unreferenced, settled batch and returns its instance.
func (bs *Batches) Prune(anchor cell.Coord) *pool.Instance {
	b, ok := bs.m[anchor]
	if !ok || len(b.members) > 0 || len(b.waiting) > 0 || b.State == BatchPending {
		return nil
	}
	delete(bs.m, anchor)
	inst := b.Instance
	b.Instance = nil
	return inst
}

// Len is the number of tracked batches.
func (bs *Batches) Len() int { return len(bs.m) }

// Ready is the number of batches holding a merged instance.
func (bs *Batches) Ready() int {
	n := 0
	for _, b := range bs.m {
		if b.State == BatchReady {
			n++
		}
	}
	return n
}

// Drain drops every batch and returns the instances they held.
func (bs *Batches) Drain() []*pool.Instance {
	var out []*pool.Instance
	for k, b := range bs.m {
		if b.Instance != nil {
			out = append(out, b.Instance)
		}
		delete(bs.m, k)
	}
	return out
}
