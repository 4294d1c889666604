package worldgen

import (
	"testing"

	"worldstream.ai/internal/stream/cell"
)

func TestHash2_Deterministic(t *testing.T) {
	if Hash2(1, 3, -4) != Hash2(1, 3, -4) {
		t.Fatalf("hash not stable")
	}
	if Hash2(1, 3, -4) == Hash2(2, 3, -4) {
		t.Fatalf("seed ignored")
	}
	if Hash2(1, 3, -4) == Hash2(1, -4, 3) {
		t.Fatalf("axes not distinguished")
	}
}

func TestGenerator_Deterministic(t *testing.T) {
	a := New(Config{Seed: 42})
	b := New(Config{Seed: 42})
	for x := -20; x <= 20; x++ {
		for y := -20; y <= 20; y++ {
			c := cell.Coord{X: x, Y: y}
			da, oka := a.Cell(c)
			db, okb := b.Cell(c)
			if oka != okb || len(da.Objects) != len(db.Objects) || len(da.Landmarks) != len(db.Landmarks) {
				t.Fatalf("cell %v differs between identical generators", c)
			}
			for i := range da.Objects {
				if da.Objects[i] != db.Objects[i] {
					t.Fatalf("cell %v object %d differs", c, i)
				}
			}
		}
	}
}

func TestGenerator_Content(t *testing.T) {
	g := New(Config{Seed: 7, MaxObjects: 4})
	known := map[string]bool{}
	for _, k := range Assets() {
		known[string(k)] = true
	}
	var empty, full, landmarks int
	for x := -50; x < 50; x++ {
		for y := -50; y < 50; y++ {
			d, ok := g.Cell(cell.Coord{X: x, Y: y})
			if !ok {
				empty++
				continue
			}
			full++
			if len(d.Objects) > 4 {
				t.Fatalf("too many objects: %d", len(d.Objects))
			}
			for _, o := range d.Objects {
				if !known[string(o.Asset)] {
					t.Fatalf("unknown asset %q", o.Asset)
				}
			}
			landmarks += len(d.Landmarks)
		}
	}
	if empty == 0 || full == 0 {
		t.Fatalf("expected a mix of empty and populated cells: empty=%d full=%d", empty, full)
	}
	if landmarks == 0 {
		t.Fatalf("expected some landmarks")
	}
}

func TestGenerator_ModelVertices(t *testing.T) {
	g := New(Config{Seed: 1})
	v := g.ModelVertices("static/FOREST/oak")
	if len(v) == 0 || len(v)%3 != 0 {
		t.Fatalf("bad vertex buffer length %d", len(v))
	}
	w := g.ModelVertices("static/FOREST/oak")
	for i := range v {
		if v[i] != w[i] {
			t.Fatalf("vertices not deterministic")
		}
	}
}
