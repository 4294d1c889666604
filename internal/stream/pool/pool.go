package pool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"worldstream.ai/internal/stream/invariant"
)

// ErrNotOwned is returned when releasing an instance the pool never handed out
// or already took back.
var ErrNotOwned = errors.New("instance not owned by a caller")

// Config controls pooling limits.
type Config struct {
	// MaxIdlePerKey caps the idle stack of each asset key. Released instances
	// beyond the cap are discarded.
	MaxIdlePerKey int
}

// Pool caches idle instances per asset key. It is shared between the tick
// goroutine and decode workers; the mutex guards only map and stack updates,
// never a decode.
type Pool struct {
	cache       *ModelCache
	maxIdle     int
	placeholder *Model
	log         *slog.Logger

	mu      sync.Mutex
	entries map[AssetKey]*entry
	owned   map[uint64]AssetKey
	nextID  uint64

	decodeFailures uint64
}

type entry struct {
	idle      []*Instance
	created   uint64
	hits      uint64
	misses    uint64
	discarded uint64
}

// KeyStats are the counters of one asset key.
type KeyStats struct {
	Key       AssetKey
	Idle      int
	Owned     int
	Created   uint64
	Hits      uint64
	Misses    uint64
	Discarded uint64
}

// Stats aggregates every key.
type Stats struct {
	Keys           int
	Idle           int
	Owned          int
	Created        uint64
	Hits           uint64
	Misses         uint64
	Discarded      uint64
	DecodeFailures uint64
	Cache          CacheStats
}

// HitRate is hits / (hits + misses), or 0 with no traffic.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

func New(cache *ModelCache, cfg Config, logger *slog.Logger) *Pool {
	if cfg.MaxIdlePerKey < 0 {
		cfg.MaxIdlePerKey = 0
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pool{
		cache:       cache,
		maxIdle:     cfg.MaxIdlePerKey,
		placeholder: placeholderModel(),
		log:         logger.With("component", "pool"),
		entries:     map[AssetKey]*entry{},
		owned:       map[uint64]AssetKey{},
	}
}

func (p *Pool) Cache() *ModelCache { return p.cache }

func (p *Pool) entryLocked(key AssetKey) *entry {
	e := p.entries[key]
	if e == nil {
		e = &entry{}
		p.entries[key] = e
	}
	return e
}

// popIdleLocked takes an idle instance of key and hands ownership to the caller.
func (p *Pool) popIdleLocked(key AssetKey) (*Instance, bool) {
	e := p.entryLocked(key)
	n := len(e.idle)
	if n == 0 {
		return nil, false
	}
	inst := e.idle[n-1]
	e.idle[n-1] = nil
	e.idle = e.idle[:n-1]
	e.hits++
	p.owned[inst.ID] = inst.Key
	return inst, true
}

func (p *Pool) newInstanceLocked(key, requested AssetKey, proto *Model) *Instance {
	p.nextID++
	inst := &Instance{ID: p.nextID, Key: key, Requested: requested, Proto: proto}
	p.entryLocked(key).created++
	p.owned[inst.ID] = key
	return inst
}

// TryAcquire returns an instance without decoding: an idle one, or a fresh one
// from an already cached prototype. It never blocks on I/O.
func (p *Pool) TryAcquire(key AssetKey) (*Instance, bool) {
	p.mu.Lock()
	if inst, ok := p.popIdleLocked(key); ok {
		p.mu.Unlock()
		return inst, true
	}
	p.mu.Unlock()

	proto, ok := p.cache.Peek(key)
	if !ok {
		return nil, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entryLocked(key).misses++
	return p.newInstanceLocked(key, key, proto), true
}

// Acquire returns an instance of key, decoding its prototype on a cache miss.
// When the decode fails the returned instance is a placeholder and err wraps
// ErrDecode; the instance is still owned by the caller and must be released.
// A nil instance is returned only when ctx is done.
func (p *Pool) Acquire(ctx context.Context, key AssetKey) (*Instance, error) {
	p.mu.Lock()
	if inst, ok := p.popIdleLocked(key); ok {
		p.mu.Unlock()
		return inst, nil
	}
	p.entryLocked(key).misses++
	p.mu.Unlock()

	// Known-bad assets go straight to a placeholder; they were counted and
	// logged when their decode first failed.
	if err, ok := p.cache.Failure(key); ok {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.placeholderLocked(key), err
	}

	proto, err := p.cache.Get(ctx, key)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.mu.Lock()
		p.decodeFailures++
		inst := p.placeholderLocked(key)
		p.mu.Unlock()
		p.log.Warn("decode failed; using placeholder", "asset", string(key), "err", err)
		return inst, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.newInstanceLocked(key, key, proto), nil
}

func (p *Pool) placeholderLocked(requested AssetKey) *Instance {
	if inst, ok := p.popIdleLocked(PlaceholderKey); ok {
		inst.Requested = requested
		return inst
	}
	return p.newInstanceLocked(PlaceholderKey, requested, p.placeholder)
}

// Release returns inst to its idle stack, or discards it when the stack is full.
func (p *Pool) Release(inst *Instance) error {
	if inst == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	key, ok := p.owned[inst.ID]
	if !ok {
		invariant.Violated(p.log, "release of unowned instance", "id", inst.ID, "asset", string(inst.Key))
		return fmt.Errorf("%w: id=%d", ErrNotOwned, inst.ID)
	}
	delete(p.owned, inst.ID)
	e := p.entryLocked(key)
	if len(e.idle) >= p.maxIdle {
		e.discarded++
		return nil
	}
	inst.Requested = key
	e.idle = append(e.idle, inst)
	return nil
}

// ReleaseAll releases every instance and returns the first error.
func (p *Pool) ReleaseAll(insts []*Instance) error {
	var first error
	for _, inst := range insts {
		if err := p.Release(inst); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Owns reports whether inst is currently checked out.
func (p *Pool) Owns(inst *Instance) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.owned[inst.ID]
	return ok
}

func (p *Pool) IdleCount(key AssetKey) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e := p.entries[key]; e != nil {
		return len(e.idle)
	}
	return 0
}

func (p *Pool) KeyStats(key AssetKey) KeyStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.keyStatsLocked(key)
}

func (p *Pool) keyStatsLocked(key AssetKey) KeyStats {
	ks := KeyStats{Key: key}
	if e := p.entries[key]; e != nil {
		ks.Idle = len(e.idle)
		ks.Created = e.created
		ks.Hits = e.hits
		ks.Misses = e.misses
		ks.Discarded = e.discarded
	}
	for _, k := range p.owned {
		if k == key {
			ks.Owned++
		}
	}
	return ks
}

// AllKeyStats returns per-key counters sorted by key.
func (p *Pool) AllKeyStats() []KeyStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	owned := map[AssetKey]int{}
	for _, k := range p.owned {
		owned[k]++
	}
	out := make([]KeyStats, 0, len(p.entries))
	for k, e := range p.entries {
		out = append(out, KeyStats{
			Key:       k,
			Idle:      len(e.idle),
			Owned:     owned[k],
			Created:   e.created,
			Hits:      e.hits,
			Misses:    e.misses,
			Discarded: e.discarded,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	s := Stats{
		Keys:           len(p.entries),
		Owned:          len(p.owned),
		DecodeFailures: p.decodeFailures,
	}
	for _, e := range p.entries {
		s.Idle += len(e.idle)
		s.Created += e.created
		s.Hits += e.hits
		s.Misses += e.misses
		s.Discarded += e.discarded
	}
	p.mu.Unlock()
	s.Cache = p.cache.Stats()
	return s
}
