package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"geobatch/pkg/batch"
	"geobatch/pkg/cache"
	"geobatch/pkg/config"
	"geobatch/pkg/db"
	"geobatch/pkg/logging"
	"geobatch/pkg/model"
	"geobatch/pkg/operation"
	"geobatch/pkg/probe"
	"geobatch/pkg/stream"
	"geobatch/pkg/tracker"
	"geobatch/pkg/version"
)

var (
	configPath = flag.String("config", "configs/geobatch.yaml", "Path to config file")
	initConfig = flag.Bool("init-config", false, "Generate default config file and exit")
	inputPath  = flag.String("input", "-", "File with one query per line, or - for stdin")
	modeFlag   = flag.String("mode", "address", "Geocode mode: address or latlng")
	satellite  = flag.Bool("satellite", false, "Request satellite imagery")
	streetView = flag.Bool("streetview", false, "Request street-view imagery")
	pruneCache = flag.Bool("prune-cache", false, "Delete expired cache entries and exit")
	clearCache = flag.Bool("clear-cache", false, "Delete all cache entries and exit")
)

func main() {
	flag.Parse()

	if *initConfig {
		if err := config.GenerateDefault(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Config file generated:", *configPath)
		return
	}

	if err := run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "geobatch: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// Best effort; the API key can live in .env during development.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cleanupLogs, err := logging.Init(&cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer cleanupLogs()

	slog.Info("geobatch started", "version", version.Version)

	dbConn, err := db.Init(cfg.DB.Path)
	if err != nil {
		return fmt.Errorf("failed to open cache db: %w", err)
	}
	defer dbConn.Close()

	if *pruneCache {
		n, err := dbConn.PruneExpired(time.Duration(cfg.Cache.TTL))
		if err != nil {
			return fmt.Errorf("prune failed: %w", err)
		}
		fmt.Printf("Pruned %d expired entries\n", n)
		return nil
	}
	if *clearCache {
		if err := dbConn.ClearCache(); err != nil {
			return fmt.Errorf("clear failed: %w", err)
		}
		fmt.Println("Cache cleared")
		return nil
	}

	mode := model.Mode(*modeFlag)
	if mode != model.ModeAddress && mode != model.ModeLatLng {
		return fmt.Errorf("invalid mode %q", *modeFlag)
	}

	lines, err := readLines(*inputPath)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	if err := probe.AnalyzeResults(probe.Run(ctx, startupProbes(cfg, dbConn))); err != nil {
		return fmt.Errorf("startup checks failed: %w", err)
	}

	results, err := cache.NewResultCache(dbConn, time.Duration(cfg.Cache.TTL), cfg.Cache.MemoryEntries, clockwork.NewRealClock())
	if err != nil {
		return fmt.Errorf("failed to create result cache: %w", err)
	}
	images := cache.NewImageCache()
	stats := tracker.New()
	builder := batch.NewBuilder(results, images, cfg.Batch)
	builder.SetStats(stats)
	transport := stream.NewHTTPTransport(cfg.Service)
	controller := operation.NewController(builder, transport, results, images)
	controller.SetStats(stats)

	opts := model.ImageryOptions{
		Satellite:  *satellite,
		StreetView: *streetView,
		Zoom:       cfg.Imagery.Zoom,
		Pitch:      cfg.Imagery.Pitch,
		FOV:        cfg.Imagery.FOV,
	}

	controller.OnProgress(func(p stream.Progress) {
		fmt.Fprintf(os.Stderr, "\rprogress: %3.0f%% (%d messages)", p.Percent, p.Processed)
	})

	// SIGINT cancels the run cooperatively.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)
	go func() {
		<-quit
		slog.Info("Interrupt received, cancelling run")
		controller.Cancel()
	}()

	res := controller.Execute(ctx, lines, mode, opts)
	fmt.Fprintln(os.Stderr)

	printResults(os.Stdout, res.Results)
	printStats(os.Stderr, stats.Snapshot())

	switch res.State {
	case operation.StateCompleted:
		return nil
	case operation.StateCancelled:
		fmt.Println("Run cancelled; partial results shown above.")
		return nil
	default:
		return res.Err
	}
}

func startupProbes(cfg *config.Config, dbConn *db.DB) []probe.Probe {
	return []probe.Probe{
		{
			Name:     "Cache DB",
			Critical: true,
			Check: func(ctx context.Context) error {
				return dbConn.PingContext(ctx)
			},
		},
		{
			Name:     "Service Endpoint",
			Critical: true,
			Check: func(ctx context.Context) error {
				if cfg.Service.BaseURL == "" {
					return fmt.Errorf("service base URL is not configured")
				}
				if _, err := url.Parse(cfg.Service.BaseURL); err != nil {
					return fmt.Errorf("invalid service base URL: %w", err)
				}
				return nil
			},
		},
		{
			Name: "API Key",
			Check: func(ctx context.Context) error {
				if cfg.Service.APIKey == "" {
					return fmt.Errorf("no API key configured, requests will be anonymous")
				}
				return nil
			},
		},
	}
}

func readLines(path string) ([]string, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

func printStats(w io.Writer, snap map[string]tracker.ResourceStats) {
	if len(snap) == 0 {
		return
	}
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s := snap[k]
		fmt.Fprintf(w, "%s: %d cached, %d resolved, %d failed\n", k, s.CacheHits, s.Resolved, s.Failures)
	}
}

func printResults(w io.Writer, results []model.GeoResult) {
	for i, r := range results {
		switch {
		case r.Error != "":
			fmt.Fprintf(w, "%4d  %-30s  ERROR: %s\n", i, r.Query, r.Error)
		case r.Status == model.StatusCancelled:
			fmt.Fprintf(w, "%4d  %-30s  (cancelled)\n", i, r.Query)
		case r.HasCoordinates():
			origin := "api"
			if r.IsCached {
				origin = "cache"
			}
			fmt.Fprintf(w, "%4d  %-30s  %.7f,%.7f  %s  [%s]\n", i, r.Query, *r.Latitude, *r.Longitude, r.FormattedAddress, origin)
		default:
			fmt.Fprintf(w, "%4d  %-30s  %s\n", i, r.Query, r.Status)
		}
	}
}
