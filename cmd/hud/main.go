package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"

	"github.com/dpup/prefab"
	"github.com/dpup/prefab/logging"
	"golang.org/x/sync/errgroup"

	"github.com/dpup/hud.ersn.net/client/internal/cache"
	"github.com/dpup/hud.ersn.net/client/internal/clients/google"
	"github.com/dpup/hud.ersn.net/client/internal/clients/location"
	"github.com/dpup/hud.ersn.net/client/internal/clients/osrm"
	"github.com/dpup/hud.ersn.net/client/internal/config"
	"github.com/dpup/hud.ersn.net/client/internal/lib/lanes"
	"github.com/dpup/hud.ersn.net/client/internal/lib/navigation"
	"github.com/dpup/hud.ersn.net/client/internal/lib/route"
	"github.com/dpup/hud.ersn.net/client/internal/metrics"
	"github.com/dpup/hud.ersn.net/client/internal/publisher"
	"github.com/dpup/hud.ersn.net/client/internal/services"
	"github.com/dpup/hud.ersn.net/client/internal/triplog"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	// Defaults, then the YAML file, .env and HUD__ environment overrides
	appConfig, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(logging.With(context.Background(), logging.NewProdLogger()))
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	collector := metrics.NewCollector(appConfig.Navigation.AdvanceThreshold)

	// Route provider: upstream client, instrumented, behind the response cache
	routeCache := cache.NewCache()
	provider := cache.NewCachedProvider(
		collector.InstrumentProvider(newProvider(appConfig.Routing)),
		routeCache,
		appConfig.Routing.CacheTTL,
	)
	g.Go(func() error {
		routeCache.RunPeriodicCleanup(gctx, appConfig.Routing.CacheCleanupInterval)
		return nil
	})

	// Position feed
	nc, err := location.Connect(gctx, appConfig.Location.NATSURL, "hud-client", collector.NATSSetConnected)
	if err != nil {
		log.Fatalf("Failed to connect position feed: %v", err)
	}
	defer nc.Close()
	lastKnown := location.NewLastKnown()
	source := lastKnown.Track(location.NewNATSSource(nc, appConfig.Location.Subject))

	// Engine and its observers
	opts := navigation.DefaultOptions()
	opts.AdvanceThreshold = appConfig.Navigation.AdvanceThreshold
	opts.LaneWindow = lanes.Window{Min: appConfig.Navigation.LaneWindowMin, Max: appConfig.Navigation.LaneWindowMax}
	opts.Profile = route.Profile(appConfig.Routing.Profile)
	opts.Locator = lastKnown
	opts.Observers = append(opts.Observers, collector.Observe)

	if appConfig.TripLog.File != "" {
		journal := triplog.NewJournal(triplog.JournalConfig{
			Filename:   appConfig.TripLog.File,
			MaxSizeMB:  appConfig.TripLog.MaxSizeMB,
			MaxBackups: appConfig.TripLog.MaxBackups,
			MaxAgeDays: appConfig.TripLog.MaxAgeDays,
		})
		defer journal.Close()
		opts.Observers = append(opts.Observers, journal.Observe)
		log.Printf("Trip journal: %s", appConfig.TripLog.File)
	}

	if appConfig.TripLog.PostgresDSN != "" {
		recorder, closeDB := newRecorder(gctx, appConfig.TripLog.PostgresDSN)
		defer closeDB()
		opts.Observers = append(opts.Observers, recorder.Observe)
		g.Go(func() error { return ignoreCancel(recorder.Run(gctx)) })
	}

	engine := navigation.NewEngine(provider, opts)
	g.Go(func() error { return ignoreCancel(engine.Run(gctx)) })

	var deviation services.DeviationPredicate
	if appConfig.Navigation.DeviationMeters > 0 {
		deviation = services.OffRouteBeyond(appConfig.Navigation.DeviationMeters)
	}
	controller := services.NewSessionController(engine, source, deviation, appConfig.Navigation.RecalculateCooldown)
	g.Go(func() error { return ignoreCancel(controller.Run(gctx)) })

	if appConfig.Publisher.Enabled {
		updates, unsubscribe := engine.Subscribe()
		defer unsubscribe()
		pub := publisher.NewNATSPublisher(nc, appConfig.Publisher.Subject, collector)
		g.Go(func() error { return ignoreCancel(pub.Run(gctx, updates)) })
		log.Printf("Publishing snapshots on %s", appConfig.Publisher.Subject)
	}

	var metricsHandler http.Handler
	if appConfig.Metrics.Enabled {
		metricsHandler = collector.Handler()
	}
	display := services.NewDisplayService(controller, metricsHandler)

	log.Printf("HUD client starting")
	log.Printf("Route provider: %s (profile %s)", appConfig.Routing.Provider, appConfig.Routing.Profile)
	log.Printf("Position subject: %s", appConfig.Location.Subject)

	// Server configuration (port, etc.) is loaded from prefab.yaml/env vars
	serverOpts := []prefab.ServerOption{
		prefab.WithGRPCReflection(),
		prefab.WithHTTPHandlerFunc("/", homepageHandler),
	}
	paths, err := display.Paths()
	if err != nil {
		log.Fatalf("Failed to list display routes: %v", err)
	}
	router := display.Router()
	for _, path := range paths {
		serverOpts = append(serverOpts, prefab.WithHTTPHandlerFunc(path, router.ServeHTTP))
	}
	server := prefab.New(serverOpts...)

	// Start the server (blocks until shutdown)
	if err := server.Start(); err != nil {
		log.Printf("Server failed: %v", err)
	}

	cancel()
	if err := g.Wait(); err != nil {
		log.Printf("Background component failed: %v", err)
	}
}

func newProvider(cfg config.RoutingConfig) route.Provider {
	switch cfg.Provider {
	case "google":
		client, err := google.NewClient(cfg.GoogleAPIKey)
		if err != nil {
			log.Fatalf("Failed to create Google Directions client: %v", err)
		}
		return client
	default:
		return osrm.NewClient(cfg.OSRMURL)
	}
}

func newRecorder(ctx context.Context, dsn string) (*triplog.Recorder, func()) {
	db, err := triplog.Open(dsn)
	if err != nil {
		log.Fatalf("Failed to open trip database: %v", err)
	}
	if err := triplog.Ping(ctx, db); err != nil {
		log.Fatalf("Failed to reach trip database: %v", err)
	}
	recorder := triplog.NewRecorder(db, 256)
	if err := recorder.EnsureSchema(ctx); err != nil {
		log.Fatalf("Failed to prepare trip database: %v", err)
	}
	log.Printf("Trip events recorded to Postgres")
	return recorder, func() { _ = db.Close() }
}

func ignoreCancel(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// homepageHandler serves a simple HTML homepage at the server root
func homepageHandler(w http.ResponseWriter, r *http.Request) {
	// Only handle the root path
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	html := `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>hud.ersn.net</title>
    <style>
        body {
            font-family: 'Courier New', Consolas, monospace;
            background: #000;
            color: #0f0;
            padding: 20px;
            line-height: 1.4;
        }
        a { color: #0ff; text-decoration: none; }
        a:hover { text-decoration: underline; }
        pre { margin: 0; }
        .header { color: #ff0; }
    </style>
</head>
<body>
<pre>
<span class="header">hud.ersn.net</span>

Heads-up display client: turn-by-turn progress, lane guidance and
remaining trip time from a live position feed.

<span class="header">Display API:</span>
  <a href="/api/v1/snapshot">GET  /api/v1/snapshot</a>                - Current display snapshot
  <a href="/api/v1/status">GET  /api/v1/status</a>                  - Session status
  POST /api/v1/navigation/start        - Start navigating {"latitude","longitude"}
  POST /api/v1/navigation/stop         - End the session
  POST /api/v1/navigation/recalculate  - Request a new route

<span class="header">Operations:</span>
  <a href="/metrics">GET  /metrics</a>                        - Prometheus metrics
</pre>
</body>
</html>`

	if _, err := fmt.Fprint(w, html); err != nil {
		slog.Error("Failed to write homepage HTML", "error", err)
	}
}
