package terrain

import (
	"testing"

	"worldstream.ai/internal/stream/cell"
	"worldstream.ai/internal/worldgen"
)

func TestStore_LoadUnload(t *testing.T) {
	s := NewStore(worldgen.New(worldgen.Config{Seed: 9}), 0)
	c := cell.Coord{X: 3, Y: -2}

	if err := s.LoadRegion(c); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := s.LoadRegion(c); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := s.Len(); got != 1 {
		t.Fatalf("Len=%d want 1", got)
	}
	r, ok := s.Region(c)
	if !ok || len(r.Heights) != Samples*Samples {
		t.Fatalf("region missing or malformed")
	}
	if r.Height(0, 0) < 48 {
		t.Fatalf("height below biome base: %d", r.Height(0, 0))
	}

	if err := s.UnloadRegion(c); err != nil {
		t.Fatalf("unload: %v", err)
	}
	if err := s.UnloadRegion(c); err == nil {
		t.Fatalf("expected error unloading a non-resident region")
	}
	if st := s.Stats(); st.Loads != 1 || st.Unloads != 1 || st.Resident != 0 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestStore_DeterministicDigest(t *testing.T) {
	gen := worldgen.New(worldgen.Config{Seed: 5})
	a := NewStore(gen, 0)
	b := NewStore(worldgen.New(worldgen.Config{Seed: 5}), 0)
	c := cell.Coord{X: -7, Y: 11}
	_ = a.LoadRegion(c)
	_ = b.LoadRegion(c)
	ra, _ := a.Region(c)
	rb, _ := b.Region(c)
	if ra.Digest() != rb.Digest() {
		t.Fatalf("digest mismatch for equal seeds")
	}

	other := NewStore(worldgen.New(worldgen.Config{Seed: 6}), 0)
	_ = other.LoadRegion(c)
	ro, _ := other.Region(c)
	if ro.Digest() == ra.Digest() {
		t.Fatalf("different seeds produced identical terrain")
	}
}

func TestStore_Bounds(t *testing.T) {
	s := NewStore(worldgen.New(worldgen.Config{Seed: 1}), 4)
	if err := s.LoadRegion(cell.Coord{X: 5}); err == nil {
		t.Fatalf("expected out-of-bounds error")
	}
	if err := s.LoadRegion(cell.Coord{X: 4, Y: -4}); err != nil {
		t.Fatalf("edge load: %v", err)
	}
	if got := s.Resident(); len(got) != 1 || got[0] != (cell.Coord{X: 4, Y: -4}) {
		t.Fatalf("Resident=%v", got)
	}
}
