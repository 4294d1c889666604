package worldgen

import (
	"fmt"

	"worldstream.ai/internal/stream/cell"
	"worldstream.ai/internal/stream/pool"
	"worldstream.ai/internal/stream/provider"
)

type Biome string

const (
	Plains Biome = "PLAINS"
	Forest Biome = "FOREST"
	Desert Biome = "DESERT"
)

// Config tunes generation density. Zero values take the defaults.
type Config struct {
	Seed int64
	// BiomeRegionSize is the biome patch edge, in cells.
	BiomeRegionSize int
	// MaxObjects bounds placed objects per cell.
	MaxObjects int
	// EmptyPermille is the share of cells with no data at all.
	EmptyPermille int
	// MergedPermille is the share of MID batches with a baked artifact.
	MergedPermille int
}

// Generator is deterministic: equal configs produce equal worlds.
type Generator struct {
	cfg Config
}

func New(cfg Config) *Generator {
	if cfg.BiomeRegionSize <= 0 {
		cfg.BiomeRegionSize = 8
	}
	if cfg.MaxObjects <= 0 {
		cfg.MaxObjects = 6
	}
	if cfg.EmptyPermille == 0 {
		cfg.EmptyPermille = 150
	}
	if cfg.MergedPermille == 0 {
		cfg.MergedPermille = 800
	}
	return &Generator{cfg: cfg}
}

func (g *Generator) Seed() int64 { return g.cfg.Seed }

func biomeFrom(noise uint64) Biome {
	switch noise % 3 {
	case 0:
		return Plains
	case 1:
		return Forest
	default:
		return Desert
	}
}

// BiomeAt returns the biome of the region containing c.
func (g *Generator) BiomeAt(c cell.Coord) Biome {
	return biomeFrom(Hash2(g.cfg.Seed, floorDiv(c.X, g.cfg.BiomeRegionSize), floorDiv(c.Y, g.cfg.BiomeRegionSize)))
}

var biomeAssets = map[Biome][]string{
	Plains: {"grass_tuft", "rock", "fence", "hay"},
	Forest: {"oak", "pine", "stump", "rock"},
	Desert: {"cactus", "dune_rock", "bones"},
}

// Assets lists every object asset key the generator can place.
func Assets() []pool.AssetKey {
	var out []pool.AssetKey
	for _, b := range []Biome{Plains, Forest, Desert} {
		for _, name := range biomeAssets[b] {
			out = append(out, objectKey(b, name))
		}
	}
	return out
}

func objectKey(b Biome, name string) pool.AssetKey {
	return pool.AssetKey(fmt.Sprintf("static/%s/%s", b, name))
}

// Cell generates the metadata of c; ok is false for empty cells.
func (g *Generator) Cell(c cell.Coord) (provider.CellData, bool) {
	seed := g.cfg.Seed
	data := provider.CellData{Coord: c}
	if Hash2(seed+7, c.X, c.Y)%1000 < clampPermille(g.cfg.EmptyPermille) {
		return data, false
	}
	b := g.BiomeAt(c)
	names := biomeAssets[b]
	n := int(Hash2(seed+11, c.X, c.Y) % uint64(g.cfg.MaxObjects+1))
	for i := 0; i < n; i++ {
		h := Hash3(seed+13, c.X, c.Y, i)
		data.Objects = append(data.Objects, provider.Object{
			Asset: objectKey(b, names[h%uint64(len(names))]),
			Pos: [3]float32{
				float32((h>>8)%1000) / 1000,
				float32((h>>24)%1000) / 1000,
				0,
			},
		})
	}
	if lm, ok := g.landmark(c); ok {
		data.Landmarks = append(data.Landmarks, lm)
	}
	return data, true
}

// landmark places sparse, clustered landmarks; every cell of one cluster
// names the same landmark so FAR proxies are shared.
func (g *Generator) landmark(c cell.Coord) (string, bool) {
	const grid = 24
	if !inCluster(g.cfg.Seed+101, c.X, c.Y, grid, 2, 350) {
		return "", false
	}
	return fmt.Sprintf("%s_%d_%d", g.BiomeAt(c), floorDiv(c.X, grid), floorDiv(c.Y, grid)), true
}

// MergedKey returns the baked artifact of the batch at anchor, if any.
func (g *Generator) MergedKey(anchor cell.Coord, size int) (pool.AssetKey, bool) {
	if Hash3(g.cfg.Seed+17, anchor.X, anchor.Y, size)%1000 >= clampPermille(g.cfg.MergedPermille) {
		return "", false
	}
	return pool.AssetKey(fmt.Sprintf("merged/%d/%d_%d", size, anchor.X, anchor.Y)), true
}

// Height returns the terrain height sample at world cell c, sub-sample (sx, sy).
func (g *Generator) Height(c cell.Coord, sx, sy, samples int) uint16 {
	h := Hash3(g.cfg.Seed+23, c.X*samples+sx, c.Y*samples+sy, 0)
	base := uint16(64)
	switch g.BiomeAt(c) {
	case Forest:
		base = 80
	case Desert:
		base = 48
	}
	return base + uint16(h%16)
}

// ModelVertices returns a small deterministic mesh for key.
func (g *Generator) ModelVertices(key pool.AssetKey) []float32 {
	var sum int
	for _, r := range string(key) {
		sum = sum*31 + int(r)
	}
	n := 3 + int(Hash2(g.cfg.Seed, sum, len(key))%30)
	out := make([]float32, 0, 3*n)
	for i := 0; i < n; i++ {
		h := Hash3(g.cfg.Seed, sum, len(key), i)
		out = append(out,
			float32(h%1000)/100,
			float32((h>>16)%1000)/100,
			float32((h>>32)%1000)/100,
		)
	}
	return out
}
