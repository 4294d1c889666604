// Command worldseed bakes a generated world into a SQLite world file and an
// asset directory that streamd can serve.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.uber.org/multierr"

	"worldstream.ai/internal/assets"
	"worldstream.ai/internal/stream/tuning"
	"worldstream.ai/internal/worlddb"
	"worldstream.ai/internal/worldgen"
)

func main() {
	var (
		out        = flag.String("out", "./data/world.sqlite", "world sqlite file to write")
		assetsDir  = flag.String("assets", "./data/assets", "asset directory to write (empty to skip)")
		seed       = flag.Int64("seed", 1337, "generator seed")
		radius     = flag.Int("radius", 64, "seed cells with |x|,|y| <= radius")
		tuningPath = flag.String("tuning", "", "tuning.yaml for batch size and backdrop key (default: built-in defaults)")
		compress   = flag.String("compression", "zstd", "asset file compression: raw, zstd or lz4")
		workers    = flag.Int("workers", 8, "parallel asset writers")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := run(context.Background(), logger, *out, *assetsDir, *seed, *radius, *tuningPath, *compress, *workers); err != nil {
		logger.Error("worldseed failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, out, assetsDir string, seed int64, radius int, tuningPath, compress string, workers int) (err error) {
	tune, err := tuning.Load(strings.TrimSpace(tuningPath))
	if err != nil {
		return fmt.Errorf("load tuning: %w", err)
	}
	c, err := parseCompression(compress)
	if err != nil {
		return err
	}
	db, err := worlddb.Open(out)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, db.Close()) }()

	var dir *assets.Dir
	if assetsDir != "" {
		dir = assets.NewDir(assetsDir)
	}

	start := time.Now()
	sum, err := seedWorld(ctx, db, dir, worldgen.New(worldgen.Config{Seed: seed}), plan{
		Radius:      radius,
		BatchSize:   tune.Tiers.Mid.BatchSize,
		Backdrop:    tune.Tiers.Horizon.Backdrop,
		Compression: c,
		Workers:     workers,
	})
	if err != nil {
		return err
	}
	logger.Info("world seeded",
		"out", out,
		"seed", seed,
		"cells", sum.Cells,
		"objects", sum.Objects,
		"landmarks", sum.Landmarks,
		"batches", sum.Batches,
		"assets", sum.Assets,
		"took", time.Since(start).Round(time.Millisecond),
	)
	return nil
}

func parseCompression(s string) (assets.Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "raw", "none":
		return assets.Raw, nil
	case "zstd", "":
		return assets.Zstd, nil
	case "lz4":
		return assets.LZ4, nil
	default:
		return assets.Raw, fmt.Errorf("unknown compression %q", s)
	}
}
