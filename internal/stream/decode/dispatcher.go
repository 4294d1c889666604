package decode

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"worldstream.ai/internal/stream/cell"
	"worldstream.ai/internal/stream/pool"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("dispatcher closed")

// Kind says which load step a job belongs to.
type Kind uint8

const (
	CellObjects Kind = iota + 1
	MergedBatch
	LandmarkProxy
	Backdrop
)

func (k Kind) String() string {
	switch k {
	case CellObjects:
		return "cell"
	case MergedBatch:
		return "batch"
	case LandmarkProxy:
		return "proxy"
	case Backdrop:
		return "backdrop"
	default:
		return "unknown"
	}
}

// Job asks the workers to acquire instances for Keys.
type Job struct {
	ID       uint64
	Kind     Kind
	Coord    cell.Coord
	Landmark string
	Keys     []pool.AssetKey
	// Slots are opaque caller indices parallel to Keys.
	Slots []int
}

// Result carries the instances acquired for a job. Instances is parallel to
// Job.Keys; a failed decode yields a placeholder instance and bumps Failures.
type Result struct {
	Job       Job
	Instances []*pool.Instance
	Failures  int
	Elapsed   time.Duration
}

type Config struct {
	Workers      int
	ResultBuffer int
}

// Dispatcher runs decode work off the tick goroutine. Submit never blocks;
// completions are collected with Poll on a later tick. Jobs wait in a FIFO
// backlog and at most Workers goroutines drain it; a worker exits once the
// backlog is empty.
type Dispatcher struct {
	pool    *pool.Pool
	log     *slog.Logger
	sem     *semaphore.Weighted // one unit per live worker
	results chan Result

	ctx    context.Context
	cancel context.CancelFunc
	g      errgroup.Group

	mu      sync.Mutex
	backlog []Job
	closed  bool
	running int

	nextID    atomic.Uint64
	inflight  atomic.Int64
	submitted atomic.Uint64
	completed atomic.Uint64
	failures  atomic.Uint64
}

func NewDispatcher(p *pool.Pool, cfg Config, logger *slog.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.ResultBuffer <= 0 {
		cfg.ResultBuffer = 256
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		pool:    p,
		log:     logger.With("component", "decode"),
		sem:     semaphore.NewWeighted(int64(cfg.Workers)),
		results: make(chan Result, cfg.ResultBuffer),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Submit schedules job and returns its id.
func (d *Dispatcher) Submit(job Job) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, ErrClosed
	}
	job.ID = d.nextID.Add(1)
	d.inflight.Add(1)
	d.submitted.Add(1)
	d.backlog = append(d.backlog, job)
	if d.sem.TryAcquire(1) {
		d.running++
		d.g.Go(func() error {
			d.work()
			return nil
		})
	}
	return job.ID, nil
}

// work drains the backlog. The empty check and the slot release happen under
// mu so a concurrent Submit either sees the slot free or its job is picked up.
func (d *Dispatcher) work() {
	for {
		d.mu.Lock()
		if d.ctx.Err() != nil {
			d.inflight.Add(-int64(len(d.backlog)))
			d.backlog = nil
		}
		if len(d.backlog) == 0 {
			d.running--
			d.sem.Release(1)
			d.mu.Unlock()
			return
		}
		job := d.backlog[0]
		d.backlog[0] = Job{}
		d.backlog = d.backlog[1:]
		d.mu.Unlock()

		d.run(job)
	}
}

func (d *Dispatcher) run(job Job) {
	defer d.inflight.Add(-1)

	start := time.Now()
	res := Result{Job: job, Instances: make([]*pool.Instance, 0, len(job.Keys))}
	for _, key := range job.Keys {
		inst, err := d.pool.Acquire(d.ctx, key)
		if inst == nil {
			// shutting down
			_ = d.pool.ReleaseAll(res.Instances)
			return
		}
		if err != nil {
			res.Failures++
			d.failures.Add(1)
		}
		res.Instances = append(res.Instances, inst)
	}
	res.Elapsed = time.Since(start)

	select {
	case d.results <- res:
	case <-d.ctx.Done():
		_ = d.pool.ReleaseAll(res.Instances)
	}
}

// Poll returns one completed result without blocking.
func (d *Dispatcher) Poll() (Result, bool) {
	select {
	case r := <-d.results:
		d.completed.Add(1)
		return r, true
	default:
		return Result{}, false
	}
}

// InFlight counts submitted jobs whose result has not been produced yet.
func (d *Dispatcher) InFlight() int { return int(d.inflight.Load()) }

// Backlog counts jobs not yet picked up by a worker.
func (d *Dispatcher) Backlog() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.backlog)
}

// Running counts live worker goroutines; it never exceeds Config.Workers.
func (d *Dispatcher) Running() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Pending counts results waiting to be polled.
func (d *Dispatcher) Pending() int { return len(d.results) }

type Stats struct {
	Submitted uint64
	Completed uint64
	Failures  uint64
	InFlight  int
	Pending   int
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Submitted: d.submitted.Load(),
		Completed: d.completed.Load(),
		Failures:  d.failures.Load(),
		InFlight:  d.InFlight(),
		Pending:   d.Pending(),
	}
}

// Close stops the workers and returns every undelivered instance to the pool.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.cancel()
	err := d.g.Wait()
	for {
		select {
		case r := <-d.results:
			_ = d.pool.ReleaseAll(r.Instances)
		default:
			return err
		}
	}
}
