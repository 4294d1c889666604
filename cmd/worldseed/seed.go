package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"golang.org/x/sync/errgroup"

	"worldstream.ai/internal/assets"
	"worldstream.ai/internal/stream/cell"
	"worldstream.ai/internal/stream/pool"
	"worldstream.ai/internal/stream/provider"
	"worldstream.ai/internal/stream/tier"
	"worldstream.ai/internal/worlddb"
	"worldstream.ai/internal/worldgen"
)

type plan struct {
	Radius      int
	BatchSize   int
	Backdrop    string
	Compression assets.Compression
	Workers     int
}

type summary struct {
	Cells     int
	Objects   int
	Landmarks int
	Batches   int
	Assets    int
}

// rowChunk bounds the cells written per transaction.
const rowChunk = 512

func seedWorld(ctx context.Context, db *worlddb.DB, dir *assets.Dir, gen *worldgen.Generator, p plan) (summary, error) {
	var sum summary
	if p.Radius < 0 {
		return sum, fmt.Errorf("negative radius %d", p.Radius)
	}
	if p.BatchSize <= 0 {
		p.BatchSize = 1
	}
	keys := map[pool.AssetKey]struct{}{}
	anchors := map[cell.Coord]struct{}{}

	chunk := make([]provider.CellData, 0, rowChunk)
	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		err := db.PutCells(ctx, chunk)
		chunk = chunk[:0]
		return err
	}
	for y := -p.Radius; y <= p.Radius; y++ {
		for x := -p.Radius; x <= p.Radius; x++ {
			c := cell.Coord{X: x, Y: y}
			anchors[c.Batch(p.BatchSize)] = struct{}{}
			d, ok := gen.Cell(c)
			if !ok {
				continue
			}
			for _, o := range d.Objects {
				keys[o.Asset] = struct{}{}
			}
			for _, lm := range d.Landmarks {
				keys[tier.ImpostorKey(lm)] = struct{}{}
			}
			sum.Cells++
			sum.Objects += len(d.Objects)
			sum.Landmarks += len(d.Landmarks)
			chunk = append(chunk, d)
			if len(chunk) == rowChunk {
				if err := flush(); err != nil {
					return sum, err
				}
			}
		}
	}
	if err := flush(); err != nil {
		return sum, err
	}

	for a := range anchors {
		key, ok := gen.MergedKey(a, p.BatchSize)
		if !ok {
			continue
		}
		if err := db.PutMerged(ctx, a, p.BatchSize, key); err != nil {
			return sum, err
		}
		keys[key] = struct{}{}
		sum.Batches++
	}
	if p.Backdrop != "" {
		keys[pool.AssetKey(p.Backdrop)] = struct{}{}
	}
	if err := db.SetMeta(ctx, "seed", strconv.FormatInt(gen.Seed(), 10)); err != nil {
		return sum, err
	}
	if err := db.SetMeta(ctx, "batch_size", strconv.Itoa(p.BatchSize)); err != nil {
		return sum, err
	}

	if dir == nil {
		return sum, nil
	}
	sorted := make([]pool.AssetKey, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	g, gctx := errgroup.WithContext(ctx)
	if p.Workers > 0 {
		g.SetLimit(p.Workers)
	}
	for _, k := range sorted {
		k := k
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return dir.Write(k, gen.ModelVertices(k), p.Compression)
		})
	}
	if err := g.Wait(); err != nil {
		return sum, err
	}
	sum.Assets = len(sorted)
	return sum, nil
}
