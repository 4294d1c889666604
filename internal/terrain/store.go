// Package terrain keeps terrain regions resident for loaded cells.
package terrain

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"worldstream.ai/internal/stream/cell"
	"worldstream.ai/internal/stream/provider"
	"worldstream.ai/internal/worldgen"
)

// Samples is the height grid edge of one region.
const Samples = 16

var ErrNotResident = errors.New("terrain: region not resident")

// Region is the terrain of one cell.
type Region struct {
	Coord   cell.Coord
	Biome   worldgen.Biome
	Heights []uint16 // len = Samples*Samples, x fastest

	hash [32]byte
}

func (r *Region) Height(x, y int) uint16 { return r.Heights[x+y*Samples] }

func (r *Region) Digest() [32]byte {
	if r.hash == ([32]byte{}) {
		h := sha256.New()
		var tmp [2]byte
		for _, v := range r.Heights {
			binary.LittleEndian.PutUint16(tmp[:], v)
			h.Write(tmp[:])
		}
		copy(r.hash[:], h.Sum(nil))
	}
	return r.hash
}

// Store generates regions on load and drops them on unload.
// Accessed only from the tick goroutine.
type Store struct {
	gen     *worldgen.Generator
	bounds  int
	regions map[cell.Coord]*Region

	loads, unloads uint64
}

var _ provider.Terrain = (*Store)(nil)

// NewStore returns a terrain store. bounds > 0 limits terrain to cells with
// |x|, |y| <= bounds; loading outside fails.
func NewStore(gen *worldgen.Generator, bounds int) *Store {
	return &Store{gen: gen, bounds: bounds, regions: map[cell.Coord]*Region{}}
}

func (s *Store) inBounds(c cell.Coord) bool {
	if s.bounds <= 0 {
		return true
	}
	return c.X >= -s.bounds && c.X <= s.bounds && c.Y >= -s.bounds && c.Y <= s.bounds
}

func (s *Store) LoadRegion(c cell.Coord) error {
	if !s.inBounds(c) {
		return fmt.Errorf("terrain: region %v outside world bounds %d", c, s.bounds)
	}
	if _, ok := s.regions[c]; ok {
		return nil
	}
	r := &Region{Coord: c, Biome: s.gen.BiomeAt(c), Heights: make([]uint16, Samples*Samples)}
	for y := 0; y < Samples; y++ {
		for x := 0; x < Samples; x++ {
			r.Heights[x+y*Samples] = s.gen.Height(c, x, y, Samples)
		}
	}
	_ = r.Digest()
	s.regions[c] = r
	s.loads++
	return nil
}

func (s *Store) UnloadRegion(c cell.Coord) error {
	if _, ok := s.regions[c]; !ok {
		return fmt.Errorf("%w: %v", ErrNotResident, c)
	}
	delete(s.regions, c)
	s.unloads++
	return nil
}

func (s *Store) Region(c cell.Coord) (*Region, bool) {
	r, ok := s.regions[c]
	return r, ok
}

func (s *Store) Len() int { return len(s.regions) }

// Resident lists resident regions in coordinate order.
func (s *Store) Resident() []cell.Coord {
	out := make([]cell.Coord, 0, len(s.regions))
	for c := range s.regions {
		out = append(out, c)
	}
	cell.SortCoords(out)
	return out
}

type Stats struct {
	Resident int    `json:"resident"`
	Loads    uint64 `json:"loads"`
	Unloads  uint64 `json:"unloads"`
}

func (s *Store) Stats() Stats {
	return Stats{Resident: len(s.regions), Loads: s.loads, Unloads: s.unloads}
}
