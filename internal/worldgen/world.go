package worldgen

import (
	"context"

	"worldstream.ai/internal/stream/cell"
	"worldstream.ai/internal/stream/pool"
	"worldstream.ai/internal/stream/provider"
)

// World serves generated metadata directly, without a seeded database.
type World struct {
	gen *Generator
}

var _ provider.WorldData = World{}

func (g *Generator) World() World { return World{gen: g} }

func (w World) Cell(ctx context.Context, c cell.Coord) (provider.CellData, bool, error) {
	if err := ctx.Err(); err != nil {
		return provider.CellData{}, false, err
	}
	d, ok := w.gen.Cell(c)
	return d, ok, nil
}

func (w World) MergedArtifact(ctx context.Context, anchor cell.Coord, size int) (pool.AssetKey, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	k, ok := w.gen.MergedKey(anchor, size)
	return k, ok, nil
}

// Decoder builds models from the generator instead of reading files.
func (g *Generator) Decoder() pool.DecoderFunc {
	return func(ctx context.Context, key pool.AssetKey) (*pool.Model, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return pool.NewModel(key, g.ModelVertices(key)), nil
	}
}
