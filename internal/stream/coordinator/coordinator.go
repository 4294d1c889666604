// Package coordinator owns the streaming state of one viewer and drives it
// tick by tick: visible-set diffing, tier strategies, budgeted loading and
// unloading.
package coordinator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"worldstream.ai/internal/stream/cell"
	"worldstream.ai/internal/stream/decode"
	"worldstream.ai/internal/stream/invariant"
	"worldstream.ai/internal/stream/lifecycle"
	"worldstream.ai/internal/stream/loadqueue"
	"worldstream.ai/internal/stream/metrics"
	"worldstream.ai/internal/stream/pool"
	"worldstream.ai/internal/stream/provider"
	"worldstream.ai/internal/stream/scheduler"
	"worldstream.ai/internal/stream/tier"
	"worldstream.ai/internal/stream/tuning"
)

var ErrClosed = errors.New("coordinator closed")

type Config struct {
	CellSize float64
	Budget   time.Duration
	TickRate int

	MaxQueue int
	// MaxEnqueuePerTick bounds new enqueues per tick; 0 means unbounded.
	MaxEnqueuePerTick int
	DropLogEvery      int

	Tiers        tier.Config
	Backdrop     pool.AssetKey
	TerrainTiers map[cell.Tier]bool
}

// ConfigFromTuning maps a tuning document onto a Config.
func ConfigFromTuning(t tuning.Tuning) Config {
	return Config{
		CellSize:          t.CellSize,
		Budget:            t.Budget(),
		TickRate:          t.TickRateHz,
		MaxQueue:          t.MaxQueue,
		MaxEnqueuePerTick: t.MaxEnqueuePerTick,
		DropLogEvery:      t.DropLogEvery,
		Tiers:             t.TierConfig(),
		Backdrop:          pool.AssetKey(t.Tiers.Horizon.Backdrop),
		TerrainTiers:      t.TerrainTierSet(),
	}
}

// Deps are the collaborators a Coordinator drives. World and Pool are
// required; the rest have defaults.
type Deps struct {
	World      provider.WorldData
	Terrain    provider.Terrain
	Pool       *pool.Pool
	Dispatcher *decode.Dispatcher
	Clock      clock.Clock
	Logger     *slog.Logger
}

// nearLoad is an in-flight NEAR cell load waiting on its decode job.
type nearLoad struct {
	job     uint64
	handles []*pool.Instance
}

// Coordinator is the explicit context object of the streaming core. It is
// driven from a single goroutine and is not safe for concurrent use.
type Coordinator struct {
	cfg     Config
	world   provider.WorldData
	terrain provider.Terrain
	pool    *pool.Pool
	disp    *decode.Dispatcher
	clk     clock.Clock
	log     *slog.Logger

	classifier *tier.Classifier
	store      *lifecycle.Store
	queue      *loadqueue.Queue
	sched      *scheduler.Scheduler
	batches    *tier.Batches
	proxies    *tier.Proxies

	viewer     cell.Coord
	haveViewer bool
	visible    map[cell.Coord]cell.Tier
	order      []cell.Visible
	// dirty means the visible set may hold Unloaded cells not yet enqueued.
	dirty bool

	pendingNear map[cell.Coord]*nearLoad
	farRefs     map[cell.Coord][]string
	terrainHeld map[cell.Coord]struct{}

	backdrop          *pool.Instance
	backdropRequested bool

	tick           uint64
	providerErrors uint64
	discarded      uint64
	closed         bool
}

func New(cfg Config, deps Deps) (*Coordinator, error) {
	if deps.World == nil {
		return nil, errors.New("coordinator: world data provider required")
	}
	if deps.Pool == nil {
		return nil, errors.New("coordinator: resource pool required")
	}
	if cfg.CellSize <= 0 {
		return nil, errors.New("coordinator: cell size must be > 0")
	}
	if deps.Terrain == nil {
		deps.Terrain = provider.NopTerrain{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if deps.Dispatcher == nil {
		deps.Dispatcher = decode.NewDispatcher(deps.Pool, decode.Config{}, deps.Logger)
	}
	if cfg.TickRate <= 0 {
		cfg.TickRate = 30
	}
	if cfg.TerrainTiers == nil {
		cfg.TerrainTiers = map[cell.Tier]bool{cell.Near: true, cell.Mid: true}
	}
	log := deps.Logger.With("component", "coordinator")

	c := &Coordinator{
		cfg:         cfg,
		world:       deps.World,
		terrain:     deps.Terrain,
		pool:        deps.Pool,
		disp:        deps.Dispatcher,
		clk:         deps.Clock,
		log:         log,
		classifier:  tier.NewClassifier(cfg.Tiers),
		store:       lifecycle.NewStore(),
		queue:       loadqueue.New(cfg.MaxQueue, loadqueue.NewDropThrottle(deps.Logger, uint64(max(cfg.DropLogEvery, 0)))),
		visible:     map[cell.Coord]cell.Tier{},
		pendingNear: map[cell.Coord]*nearLoad{},
		farRefs:     map[cell.Coord][]string{},
		terrainHeld: map[cell.Coord]struct{}{},
	}
	c.batches = tier.NewBatches(c.classifier.BatchSize())
	c.proxies = tier.NewProxies(c.classifier.ProxyCap())
	c.sched = scheduler.New(c.queue, c.store, c, c.clk, deps.Logger)
	return c, nil
}

// TickReport summarizes one tick.
type TickReport struct {
	Tick     uint64           `json:"tick"`
	Diff     Diff             `json:"diff"`
	Process  scheduler.Result `json:"process"`
	Snapshot metrics.Snapshot `json:"snapshot"`
}

// Tick updates the viewer, then spends at most the configured budget (plus one
// item) on completions and loads.
func (c *Coordinator) Tick(ctx context.Context, pos cell.Vec2) TickReport {
	c.tick++
	diff := c.UpdateViewer(pos)
	c.ensureBackdrop(ctx)
	res := c.sched.Process(ctx, c.cfg.Budget)
	return TickReport{Tick: c.tick, Diff: diff, Process: res, Snapshot: c.Stats()}
}

// ViewerSource supplies the viewer position for a tick.
type ViewerSource interface {
	ViewerAt(tick uint64) cell.Vec2
}

// ViewerFunc adapts a function to ViewerSource.
type ViewerFunc func(tick uint64) cell.Vec2

func (f ViewerFunc) ViewerAt(tick uint64) cell.Vec2 { return f(tick) }

// Run ticks at the configured rate until ctx is done. sink, if set, receives
// every report on the tick goroutine.
func (c *Coordinator) Run(ctx context.Context, src ViewerSource, sink func(TickReport)) error {
	if c.closed {
		return ErrClosed
	}
	interval := time.Second / time.Duration(c.cfg.TickRate)
	ticker := c.clk.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			rep := c.Tick(ctx, src.ViewerAt(c.tick+1))
			if sink != nil {
				sink(rep)
			}
		}
	}
}

// Viewer returns the current viewer cell.
func (c *Coordinator) Viewer() cell.Coord { return c.viewer }

// State reports the lifecycle state of a cell.
func (c *Coordinator) State(at cell.Coord) cell.State { return c.store.State(at) }

// Record returns the ownership record of a Loaded cell.
func (c *Coordinator) Record(at cell.Coord) (*lifecycle.Record, bool) { return c.store.Record(at) }

// QueueLen is the number of entries waiting in the load queue.
func (c *Coordinator) QueueLen() int { return c.queue.Len() }

// Stats snapshots the observable state.
func (c *Coordinator) Stats() metrics.Snapshot {
	ps := c.pool.Stats()
	ds := c.disp.Stats()
	s := metrics.Snapshot{
		Tick:           c.tick,
		Viewer:         c.viewer,
		Tiers:          make(map[string]metrics.TierCounts, 3),
		QueueLen:       c.queue.Len(),
		QueueDropped:   c.queue.Dropped(),
		PoolHits:       ps.Hits,
		PoolMisses:     ps.Misses,
		PoolHitRate:    ps.HitRate(),
		PoolIdle:       ps.Idle,
		PoolOwned:      ps.Owned,
		PoolCreated:    ps.Created,
		PoolDiscarded:  ps.Discarded,
		CachedModels:   ps.Cache.Entries,
		DecodeFailures: ps.DecodeFailures,
		DecodeInFlight: ds.InFlight,
		Batches:        c.batches.Len(),
		Proxies:        c.proxies.Len(),
		ProxiesSkipped: c.proxies.Skipped(),
		Backdrop:       c.backdrop != nil,
		ProviderErrors: c.providerErrors,
		Discarded:      c.discarded,
		Violations:     invariant.Count(),
	}
	for _, t := range []cell.Tier{cell.Near, cell.Mid, cell.Far} {
		s.Tiers[t.String()] = metrics.TierCounts{
			Queued:  c.store.Count(t, cell.Queued),
			Loading: c.store.Count(t, cell.Loading),
			Loaded:  c.store.Count(t, cell.Loaded),
			Cap:     c.classifier.Cap(t),
			Refused: c.classifier.Refused(t),
		}
	}
	return s
}

// Close stops decode workers and returns every held resource to the pool.
func (c *Coordinator) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	var err error
	err = multierr.Append(err, c.disp.Close())

	for _, at := range c.store.Coords(cell.Loaded) {
		c.Unload(at)
	}
	for _, at := range c.store.Coords(cell.Queued) {
		c.queue.Cancel(at)
		err = multierr.Append(err, c.store.Cancel(at))
	}
	for at, pend := range c.pendingNear {
		err = multierr.Append(err, c.pool.ReleaseAll(pend.handles))
		delete(c.pendingNear, at)
	}
	for _, at := range c.store.Coords(cell.Loading) {
		err = multierr.Append(err, c.store.Abandon(at))
	}
	err = multierr.Append(err, c.pool.ReleaseAll(c.batches.Drain()))
	err = multierr.Append(err, c.pool.ReleaseAll(c.proxies.Drain()))
	if c.backdrop != nil {
		err = multierr.Append(err, c.pool.Release(c.backdrop))
		c.backdrop = nil
	}
	return err
}

func (c *Coordinator) release(insts ...*pool.Instance) {
	if err := c.pool.ReleaseAll(insts); err != nil {
		c.log.Error("release failed", "err", err)
	}
}
