package scheduler

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"worldstream.ai/internal/stream/invariant"
	"worldstream.ai/internal/stream/lifecycle"
	"worldstream.ai/internal/stream/loadqueue"
)

// Executor performs the tier-specific halves of a load step. Both methods must
// return quickly; slow work is handed to the decode workers.
type Executor interface {
	// Start runs the submit half for a cell that just became Loading.
	Start(ctx context.Context, e loadqueue.Entry)
	// Complete finalizes one finished decode. It reports false when none is ready.
	Complete() bool
}

// Result summarizes one Process call.
type Result struct {
	Completed int           `json:"completed"`
	Started   int           `json:"started"`
	Elapsed   time.Duration `json:"elapsed_ns"`
	// Exhausted is set when the budget ran out before the work did.
	Exhausted bool `json:"exhausted"`
	Remaining int  `json:"remaining"`
}

// Scheduler drains completions and the load queue under a wall-clock budget.
type Scheduler struct {
	queue *loadqueue.Queue
	store *lifecycle.Store
	exec  Executor
	clk   clock.Clock
	log   *slog.Logger
}

func New(q *loadqueue.Queue, store *lifecycle.Store, exec Executor, clk clock.Clock, logger *slog.Logger) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Scheduler{queue: q, store: store, exec: exec, clk: clk, log: logger.With("component", "scheduler")}
}

// Process runs whole items until elapsed time reaches budget. Elapsed time is
// checked after every item, so a call overruns budget by at most one item.
// Completions are drained before new loads start.
func (s *Scheduler) Process(ctx context.Context, budget time.Duration) Result {
	start := s.clk.Now()
	var res Result
	spent := func() bool { return s.clk.Since(start) >= budget }

	for s.exec.Complete() {
		res.Completed++
		if spent() {
			res.Exhausted = true
			return s.finish(start, res)
		}
	}

	for {
		e, ok := s.queue.Pop()
		if !ok {
			break
		}
		if err := s.store.MarkLoading(e.Coord); err != nil {
			invariant.Violated(s.log, "queued entry not in Queued state", "coord", e.Coord.String(), "err", err)
		} else {
			s.exec.Start(ctx, e)
			res.Started++
		}
		if spent() {
			res.Exhausted = s.queue.Len() > 0
			break
		}
	}
	return s.finish(start, res)
}

func (s *Scheduler) finish(start time.Time, res Result) Result {
	res.Elapsed = s.clk.Since(start)
	res.Remaining = s.queue.Len()
	return res
}
