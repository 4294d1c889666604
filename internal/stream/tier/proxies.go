package tier

import (
	"sort"

	"worldstream.ai/internal/stream/cell"
	"worldstream.ai/internal/stream/pool"
)

// ImpostorKey is the asset key of a landmark's pre-baked proxy.
func ImpostorKey(landmark string) pool.AssetKey {
	return pool.AssetKey("impostor/" + landmark)
}

// Proxy is a FAR impostor keyed by landmark identity.
type Proxy struct {
	Landmark string
	Instance *pool.Instance

	refs map[cell.Coord]struct{}
}

func (p *Proxy) Pending() bool { return p.Instance == nil }

func (p *Proxy) Refs() int { return len(p.refs) }

// Proxies bounds the total number of impostors, independent of how many FAR
// cells reference them.
type Proxies struct {
	cap     int
	m       map[string]*Proxy
	skipped uint64
}

func NewProxies(capacity int) *Proxies {
	return &Proxies{cap: capacity, m: map[string]*Proxy{}}
}

// Reference records that cell c shows landmark. fresh is true when a new proxy
// was created and must be loaded; ok is false when the cap prevented it.
func (ps *Proxies) Reference(landmark string, c cell.Coord) (p *Proxy, fresh, ok bool) {
	if p, exists := ps.m[landmark]; exists {
		p.refs[c] = struct{}{}
		return p, false, true
	}
	if len(ps.m) >= ps.cap {
		ps.skipped++
		return nil, false, false
	}
	p = &Proxy{Landmark: landmark, refs: map[cell.Coord]struct{}{c: {}}}
	ps.m[landmark] = p
	return p, true, true
}

// Resolve stores the loaded instance of a pending proxy. The instance is
// returned as surplus if the proxy is gone or already has one.
func (ps *Proxies) Resolve(landmark string, inst *pool.Instance) (surplus *pool.Instance) {
	p, ok := ps.m[landmark]
	if !ok || p.Instance != nil {
		return inst
	}
	p.Instance = inst
	return nil
}

// Unreference drops c's reference to landmark. When no cell references the
// proxy any more it is removed and its instance returned for release.
func (ps *Proxies) Unreference(landmark string, c cell.Coord) *pool.Instance {
	p, ok := ps.m[landmark]
	if !ok {
		return nil
	}
	delete(p.refs, c)
	if len(p.refs) > 0 {
		return nil
	}
	delete(ps.m, landmark)
	inst := p.Instance
	p.Instance = nil
	return inst
}

func (ps *Proxies) Get(landmark string) (*Proxy, bool) {
	p, ok := ps.m[landmark]
	return p, ok
}

// Len counts proxies, pending ones included.
func (ps *Proxies) Len() int { return len(ps.m) }

// Skipped is the number of references refused by the cap.
func (ps *Proxies) Skipped() uint64 { return ps.skipped }

func (ps *Proxies) Cap() int { return ps.cap }

// Landmarks lists tracked landmarks in sorted order.
func (ps *Proxies) Landmarks() []string {
	out := make([]string, 0, len(ps.m))
	for l := range ps.m {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// Drain drops every proxy and returns the instances they held.
func (ps *Proxies) Drain() []*pool.Instance {
	var out []*pool.Instance
	for l, p := range ps.m {
		if p.Instance != nil {
			out = append(out, p.Instance)
		}
		delete(ps.m, l)
	}
	return out
}
