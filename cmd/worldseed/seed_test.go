package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"worldstream.ai/internal/assets"
	"worldstream.ai/internal/stream/cell"
	"worldstream.ai/internal/worlddb"
	"worldstream.ai/internal/worldgen"
)

func TestSeedWorld_MatchesGenerator(t *testing.T) {
	ctx := context.Background()
	tmp := t.TempDir()
	db, err := worlddb.Open(filepath.Join(tmp, "world.sqlite"))
	require.NoError(t, err)
	defer db.Close()
	dir := assets.NewDir(filepath.Join(tmp, "assets"))
	gen := worldgen.New(worldgen.Config{Seed: 99})

	sum, err := seedWorld(ctx, db, dir, gen, plan{
		Radius:      6,
		BatchSize:   4,
		Backdrop:    "horizon.backdrop",
		Compression: assets.LZ4,
		Workers:     4,
	})
	require.NoError(t, err)
	assert.Positive(t, sum.Cells)
	assert.Positive(t, sum.Assets)

	counts, err := db.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, sum.Cells, counts.Cells)
	assert.Equal(t, sum.Objects, counts.Objects)
	assert.Equal(t, sum.Batches, counts.Batches)

	seed, ok, err := db.Seed(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(99), seed)

	for y := -6; y <= 6; y++ {
		for x := -6; x <= 6; x++ {
			c := cell.Coord{X: x, Y: y}
			want, wantOK := gen.Cell(c)
			got, gotOK, err := db.Cell(ctx, c)
			require.NoError(t, err)
			require.Equal(t, wantOK, gotOK, "cell %v", c)
			if !wantOK {
				continue
			}
			require.Len(t, got.Objects, len(want.Objects))
			for i := range want.Objects {
				assert.Equal(t, want.Objects[i].Asset, got.Objects[i].Asset)
				m, err := dir.Decode(ctx, got.Objects[i].Asset)
				require.NoError(t, err, "asset %s", got.Objects[i].Asset)
				assert.Equal(t, gen.ModelVertices(got.Objects[i].Asset), m.Vertices)
			}
		}
	}

	_, err = dir.Decode(ctx, "horizon.backdrop")
	assert.NoError(t, err)
}

func TestParseCompression(t *testing.T) {
	for in, want := range map[string]assets.Compression{"raw": assets.Raw, "ZSTD": assets.Zstd, "lz4": assets.LZ4, "": assets.Zstd} {
		got, err := parseCompression(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := parseCompression("gzip")
	assert.Error(t, err)
}
