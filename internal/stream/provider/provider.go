// Package provider declares the collaborators the streaming core consumes:
// world metadata, asset decoding and terrain regions.
package provider

import (
	"context"

	"worldstream.ai/internal/stream/cell"
	"worldstream.ai/internal/stream/pool"
)

// Object is one placed reference inside a cell.
type Object struct {
	Asset pool.AssetKey
	// Pos is the world-space placement; the core only carries it.
	Pos [3]float32
}

// CellData is the metadata of one cell. Looking it up never decodes assets.
type CellData struct {
	Coord     cell.Coord
	Objects   []Object
	Landmarks []string
}

// WorldData answers cheap metadata lookups.
type WorldData interface {
	// Cell returns the cell's metadata; ok is false when the world has none.
	Cell(ctx context.Context, c cell.Coord) (data CellData, ok bool, err error)
	// MergedArtifact returns the precomputed merged asset of the size×size
	// batch anchored at anchor, if one was baked.
	MergedArtifact(ctx context.Context, anchor cell.Coord, size int) (key pool.AssetKey, ok bool, err error)
}

// AssetDecoder converts assets into prototypes. The core runs it on decode
// workers only.
type AssetDecoder = pool.Decoder

// Terrain keeps terrain regions resident alongside cell objects.
type Terrain interface {
	LoadRegion(c cell.Coord) error
	UnloadRegion(c cell.Coord) error
}

// NopTerrain ignores region requests.
type NopTerrain struct{}

func (NopTerrain) LoadRegion(cell.Coord) error   { return nil }
func (NopTerrain) UnloadRegion(cell.Coord) error { return nil }

// MapWorld is an in-memory WorldData, handy for tools and tests.
type MapWorld struct {
	Cells  map[cell.Coord]CellData
	Merged map[cell.Coord]pool.AssetKey
}

func NewMapWorld() *MapWorld {
	return &MapWorld{Cells: map[cell.Coord]CellData{}, Merged: map[cell.Coord]pool.AssetKey{}}
}

func (w *MapWorld) Put(d CellData) { w.Cells[d.Coord] = d }

func (w *MapWorld) Cell(_ context.Context, c cell.Coord) (CellData, bool, error) {
	d, ok := w.Cells[c]
	return d, ok, nil
}

func (w *MapWorld) MergedArtifact(_ context.Context, anchor cell.Coord, _ int) (pool.AssetKey, bool, error) {
	k, ok := w.Merged[anchor]
	return k, ok, nil
}
