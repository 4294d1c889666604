package worlddb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"worldstream.ai/internal/stream/cell"
	"worldstream.ai/internal/stream/pool"
	"worldstream.ai/internal/stream/provider"
)

func openTemp(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "world.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestDB_CellRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := openTemp(t)

	in := provider.CellData{
		Coord: cell.Coord{X: -3, Y: 7},
		Objects: []provider.Object{
			{Asset: "static/oak", Pos: [3]float32{1, 2, 0}},
			{Asset: "static/rock", Pos: [3]float32{4, 5, 0}},
			{Asset: "static/oak", Pos: [3]float32{6, 1, 0}},
		},
		Landmarks: []string{"lighthouse", "arch"},
	}
	require.NoError(t, db.PutCells(ctx, []provider.CellData{in, {Coord: cell.Coord{}}}))

	got, ok, err := db.Cell(ctx, in.Coord)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, in, got, "objects and landmarks keep their order")

	empty, ok, err := db.Cell(ctx, cell.Coord{})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, empty.Objects)

	_, ok, err = db.Cell(ctx, cell.Coord{X: 99})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDB_PutCellsReplaces(t *testing.T) {
	ctx := context.Background()
	db := openTemp(t)
	at := cell.Coord{X: 1, Y: 1}

	require.NoError(t, db.PutCells(ctx, []provider.CellData{{Coord: at, Objects: []provider.Object{{Asset: "a"}, {Asset: "b"}}}}))
	require.NoError(t, db.PutCells(ctx, []provider.CellData{{Coord: at, Objects: []provider.Object{{Asset: "c"}}}}))

	got, ok, err := db.Cell(ctx, at)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got.Objects, 1)
	assert.Equal(t, pool.AssetKey("c"), got.Objects[0].Asset)

	counts, err := db.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Cells: 1, Objects: 1}, counts)
}

func TestDB_MergedArtifact(t *testing.T) {
	ctx := context.Background()
	db := openTemp(t)
	anchor := cell.Coord{X: 4, Y: -8}

	_, ok, err := db.MergedArtifact(ctx, anchor, 4)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.PutMerged(ctx, anchor, 4, "merged/4_-8"))
	require.NoError(t, db.PutMerged(ctx, anchor, 4, "merged/4_-8.v2"))
	key, ok, err := db.MergedArtifact(ctx, anchor, 4)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, pool.AssetKey("merged/4_-8.v2"), key)

	_, ok, err = db.MergedArtifact(ctx, anchor, 2)
	require.NoError(t, err)
	assert.False(t, ok, "batch size is part of the key")
}

func TestDB_Seed(t *testing.T) {
	ctx := context.Background()
	db := openTemp(t)

	_, ok, err := db.Seed(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.SetMeta(ctx, "seed", "1337"))
	seed, ok, err := db.Seed(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1337), seed)
}

func TestDB_CancelledContext(t *testing.T) {
	db := openTemp(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := db.Cell(ctx, cell.Coord{})
	assert.Error(t, err)
}
