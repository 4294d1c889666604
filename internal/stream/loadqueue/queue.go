package loadqueue

import (
	"container/heap"
	"io"
	"log/slog"
	"time"

	"worldstream.ai/internal/stream/cell"
)

// Compile time check to ensure entryHeap satisfies the heap interface.
var _ heap.Interface = (*entryHeap)(nil)

// Entry is a pending load request.
type Entry struct {
	Coord      cell.Coord
	Tier       cell.Tier
	Priority   int // larger = sooner
	EnqueuedAt time.Time

	// Seq is assigned by the queue and breaks ties between equal timestamps.
	Seq uint64
}

// Result reports what Enqueue did with an entry.
type Result uint8

const (
	Enqueued Result = iota
	Duplicate
	Dropped
)

func (r Result) String() string {
	switch r {
	case Enqueued:
		return "enqueued"
	case Duplicate:
		return "duplicate"
	default:
		return "dropped"
	}
}

// Queue orders pending loads by priority, then by enqueue order.
// Not safe for concurrent use; it belongs to the tick goroutine.
type Queue struct {
	maxSize int
	items   entryHeap
	index   map[cell.Coord]*item
	nextSeq uint64

	dropped  uint64
	throttle *DropThrottle
}

// New creates a queue holding at most maxSize entries (<= 0 means unbounded).
func New(maxSize int, throttle *DropThrottle) *Queue {
	if throttle == nil {
		throttle = NewDropThrottle(nil, 0)
	}
	return &Queue{
		maxSize:  maxSize,
		index:    map[cell.Coord]*item{},
		throttle: throttle,
	}
}

func (q *Queue) Len() int { return len(q.items) }

func (q *Queue) MaxSize() int { return q.maxSize }

// Dropped is the number of entries rejected because the queue was full.
func (q *Queue) Dropped() uint64 { return q.dropped }

func (q *Queue) Contains(c cell.Coord) bool {
	_, ok := q.index[c]
	return ok
}

// Enqueue inserts e unless its coordinate is already queued or the queue is full.
func (q *Queue) Enqueue(e Entry) Result {
	if _, ok := q.index[e.Coord]; ok {
		return Duplicate
	}
	if q.maxSize > 0 && len(q.items) >= q.maxSize {
		q.dropped++
		q.throttle.Observe(q.dropped, e)
		return Dropped
	}
	q.nextSeq++
	e.Seq = q.nextSeq
	it := &item{entry: e}
	heap.Push(&q.items, it)
	q.index[e.Coord] = it
	return Enqueued
}

// Cancel removes the queued entry for c. It reports whether one was removed.
func (q *Queue) Cancel(c cell.Coord) bool {
	it, ok := q.index[c]
	if !ok {
		return false
	}
	heap.Remove(&q.items, it.pos)
	delete(q.index, c)
	return true
}

// Reprioritize changes the priority of the queued entry for c. Enqueue order
// is kept, so ties still break FIFO. It reports whether c was queued.
func (q *Queue) Reprioritize(c cell.Coord, priority int) bool {
	it, ok := q.index[c]
	if !ok {
		return false
	}
	if it.entry.Priority != priority {
		it.entry.Priority = priority
		heap.Fix(&q.items, it.pos)
	}
	return true
}

// Peek returns the next entry without removing it.
func (q *Queue) Peek() (Entry, bool) {
	if len(q.items) == 0 {
		return Entry{}, false
	}
	return q.items[0].entry, true
}

// Pop removes and returns the highest-priority entry.
func (q *Queue) Pop() (Entry, bool) {
	if len(q.items) == 0 {
		return Entry{}, false
	}
	it := heap.Pop(&q.items).(*item)
	delete(q.index, it.entry.Coord)
	return it.entry, true
}

// Entries returns a snapshot of queued entries in no particular order.
func (q *Queue) Entries() []Entry {
	out := make([]Entry, 0, len(q.items))
	for _, it := range q.items {
		out = append(out, it.entry)
	}
	return out
}

type item struct {
	entry Entry
	pos   int
}

type entryHeap []*item

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	a, b := h[i].entry, h[j].entry
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	}
	return a.Seq < b.Seq
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].pos = i
	h[j].pos = j
}

func (h *entryHeap) Push(x any) {
	it := x.(*item)
	it.pos = len(*h)
	*h = append(*h, it)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.pos = -1
	*h = old[:n-1]
	return it
}

// DropThrottle limits overflow diagnostics: the first drop is logged, then one
// line per every-th drop after it.
type DropThrottle struct {
	log   *slog.Logger
	every uint64

	logged uint64
}

func NewDropThrottle(logger *slog.Logger, every uint64) *DropThrottle {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if every == 0 {
		every = 100
	}
	return &DropThrottle{log: logger, every: every}
}

// ShouldLog reports whether the total-th drop is a reporting point.
func (t *DropThrottle) ShouldLog(total uint64) bool {
	if total == 0 {
		return false
	}
	return (total-1)%t.every == 0
}

// Observe is called with the running drop total after each drop.
func (t *DropThrottle) Observe(total uint64, e Entry) {
	if !t.ShouldLog(total) {
		return
	}
	t.logged++
	t.log.Warn("load queue full; dropping entries",
		"dropped_total", total,
		"coord", e.Coord.String(),
		"tier", e.Tier.String(),
		"log_every", t.every,
	)
}

// Logged is the number of diagnostic lines emitted so far.
func (t *DropThrottle) Logged() uint64 { return t.logged }
