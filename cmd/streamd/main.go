package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"worldstream.ai/internal/assets"
	"worldstream.ai/internal/persistence/statslog"
	"worldstream.ai/internal/stream/coordinator"
	"worldstream.ai/internal/stream/decode"
	"worldstream.ai/internal/stream/metrics"
	"worldstream.ai/internal/stream/pool"
	"worldstream.ai/internal/stream/provider"
	"worldstream.ai/internal/stream/tuning"
	"worldstream.ai/internal/terrain"
	"worldstream.ai/internal/transport/diag"
	"worldstream.ai/internal/worlddb"
	"worldstream.ai/internal/worldgen"
)

func main() {
	var (
		addr       = flag.String("addr", "127.0.0.1:8080", "http listen address (empty to disable)")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: built-in defaults)")
		worldPath  = flag.String("world_db", "", "world sqlite file from worldseed (default: generate from -seed)")
		seed       = flag.Int64("seed", 1337, "generator seed when -world_db is empty or has none recorded")
		assetsDir  = flag.String("assets", "", "asset directory (default: generate meshes)")
		bounds     = flag.Int("terrain_bounds", 0, "terrain exists only within |x|,|y| <= bounds cells (0 = unbounded)")
		pathKind   = flag.String("path", "circle", "viewer path: circle, line or still")
		speed      = flag.Float64("speed", 8, "viewer speed in world units per second")
		radius     = flag.Float64("path_radius", 512, "circle radius in world units")
		statsDir   = flag.String("stats_dir", "", "write per-tick reports under this dir (empty to disable)")
		statsRot   = flag.Uint64("stats_rotate_ticks", 10_000, "ticks per stats log file")
		diagHz     = flag.Float64("diag_hz", 10, "max diagnostics frames per second (0 = every tick)")
		logFormat  = flag.String("log_format", "text", "log format: text or json")
		logLevel   = flag.String("log_level", "info", "log level: debug, info, warn, error")
	)
	flag.Parse()

	logger, err := newLogger(*logFormat, *logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := run(logger, options{
		Addr:        strings.TrimSpace(*addr),
		TuningPath:  strings.TrimSpace(*tuningPath),
		WorldPath:   strings.TrimSpace(*worldPath),
		Seed:        *seed,
		AssetsDir:   strings.TrimSpace(*assetsDir),
		Bounds:      *bounds,
		Path:        *pathKind,
		Speed:       *speed,
		Radius:      *radius,
		StatsDir:    strings.TrimSpace(*statsDir),
		StatsRotate: *statsRot,
		DiagHz:      *diagHz,
	}); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("streamd stopped", "err", err)
		os.Exit(1)
	}
}

type options struct {
	Addr        string
	TuningPath  string
	WorldPath   string
	Seed        int64
	AssetsDir   string
	Bounds      int
	Path        string
	Speed       float64
	Radius      float64
	StatsDir    string
	StatsRotate uint64
	DiagHz      float64
}

func run(logger *slog.Logger, opts options) (err error) {
	tune, err := tuning.Load(opts.TuningPath)
	if err != nil {
		return fmt.Errorf("load tuning: %w", err)
	}
	path, err := newPath(opts.Path, opts.Speed, opts.Radius, tune.TickRateHz)
	if err != nil {
		return err
	}

	var world provider.WorldData
	seed := opts.Seed
	if opts.WorldPath != "" {
		db, derr := worlddb.Open(opts.WorldPath)
		if derr != nil {
			return fmt.Errorf("open world db: %w", derr)
		}
		defer func() { err = multierr.Append(err, db.Close()) }()
		if s, ok, serr := db.Seed(context.Background()); serr != nil {
			return fmt.Errorf("read world seed: %w", serr)
		} else if ok {
			seed = s
		}
		world = db
	}
	gen := worldgen.New(worldgen.Config{Seed: seed})
	if world == nil {
		world = gen.World()
	}

	var dec pool.Decoder = gen.Decoder()
	if opts.AssetsDir != "" {
		dec = assets.NewDir(opts.AssetsDir)
	}
	cache, err := pool.NewModelCache(dec, tune.Pool.ModelCacheSize, tune.Decode.Retries)
	if err != nil {
		return err
	}
	p := pool.New(cache, tune.PoolConfig(), logger)
	disp := decode.NewDispatcher(p, tune.DecodeConfig(), logger)

	coord, err := coordinator.New(coordinator.ConfigFromTuning(tune), coordinator.Deps{
		World:      world,
		Terrain:    terrain.NewStore(gen, opts.Bounds),
		Pool:       p,
		Dispatcher: disp,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, coord.Close()) }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	exporter := metrics.NewExporter(reg)

	hub := diag.NewHub(logger, opts.DiagHz)
	defer hub.Close()

	var stats *statslog.Writer
	if opts.StatsDir != "" {
		stats = statslog.NewWriter(opts.StatsDir, "ticks", opts.StatsRotate)
		defer func() { err = multierr.Append(err, stats.Close()) }()
	}

	ctx, cancel := signalContext()
	defer cancel()

	if opts.Addr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
			rw.WriteHeader(http.StatusOK)
			_, _ = rw.Write([]byte("ok"))
		})
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		mux.HandleFunc("/debug/stats", hub.StatsHandler())
		mux.HandleFunc("/v1/diag", hub.WSHandler())

		srv := &http.Server{
			Addr:              opts.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			<-ctx.Done()
			ctx2, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx2)
		}()
		go func() {
			logger.Info("listening", "addr", opts.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server", "err", err)
				cancel()
			}
		}()
	}

	logger.Info("streaming",
		"seed", seed,
		"tick_hz", tune.TickRateHz,
		"budget", tune.Budget(),
		"cell_size", tune.CellSize,
		"path", opts.Path,
	)

	sink := func(rep coordinator.TickReport) {
		exporter.Publish(rep.Snapshot)
		exporter.ObserveTick(rep.Process.Elapsed.Seconds())
		hub.Publish(rep.Snapshot)
		if stats != nil {
			if err := stats.Write(rep.Tick, rep); err != nil {
				logger.Warn("stats log write failed", "tick", rep.Tick, "err", err)
			}
		}
		if rep.Diff.Dropped > 0 || rep.Process.Exhausted {
			logger.Debug("tick under pressure",
				"tick", rep.Tick,
				"dropped", rep.Diff.Dropped,
				"remaining", rep.Process.Remaining,
			)
		}
	}
	return coord.Run(ctx, path, sink)
}

func newLogger(format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("bad -log_level %q", level)
	}
	hopts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text", "":
		return slog.New(slog.NewTextHandler(os.Stdout, hopts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stdout, hopts)), nil
	default:
		return nil, fmt.Errorf("bad -log_format %q", format)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(ch)
	}()
	return ctx, cancel
}
