package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"trestle/internal/api"
	"trestle/internal/config"
	"trestle/internal/deps"
	"trestle/internal/download"
	"trestle/internal/jobs"
	"trestle/internal/logging"
	"trestle/internal/pinning"
	"trestle/internal/services/ipfsnode"
	"trestle/internal/services/livepeer"
	"trestle/internal/services/pinata"
	"trestle/internal/staging"
	"trestle/internal/transcode"
	"trestle/internal/wiki"
)

const staleStagingAge = 24 * time.Hour

func main() {
	configPath := flag.String("config", "", "configuration file path")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, found, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("ensure directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	if !found {
		logger.Warn("no config file found, using defaults",
			logging.String("path", config.DefaultConfigPath()),
		)
	}

	lock := flock.New(filepath.Join(cfg.Paths.LogDir, "trestled.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		logger.Error("acquire daemon lock", logging.Error(err))
		os.Exit(1)
	}
	if !locked {
		logger.Error("another trestled instance holds the lock")
		os.Exit(1)
	}
	defer func() { _ = lock.Unlock() }()

	statuses := deps.Check(deps.Defaults())
	for _, status := range statuses {
		if !status.Available {
			logger.Warn("dependency unavailable",
				logging.String("name", status.Name),
				logging.String("detail", status.Detail),
			)
		}
	}
	if missing := deps.MissingRequired(statuses); len(missing) > 0 {
		logger.Error("required binaries missing", logging.Any("missing", missing))
		os.Exit(1)
	}

	if removed := staging.CleanStale(cfg.Paths.StagingDir, staleStagingAge, logger); len(removed) > 0 {
		logger.Info("removed stale staging directories", logging.Int("count", len(removed)))
	}

	store, err := jobs.Open(filepath.Join(cfg.Paths.LogDir, "jobs.db"))
	if err != nil {
		logger.Error("open job store", logging.Error(err))
		os.Exit(1)
	}
	defer store.Close()

	// Pipelines run on the daemon's base context so client disconnects never
	// cancel in-flight encodes or pins; only shutdown does.
	baseCtx := context.Background()

	primary := pinata.NewClient(cfg.Pinata, logger)
	secondary := ipfsnode.NewClient(cfg.IPFS.APIURL, logger)
	provider := livepeer.NewClient(cfg.Provider, logger)
	coordinator := pinning.NewCoordinator(primary, secondary, cfg.IPFS.GatewayURL, baseCtx, logger)
	pipeline := transcode.New(cfg.Transcode, logger)
	fetcher := download.NewFetcher(cfg.Download, logger)

	manager := jobs.NewManager(store, secondary, provider, coordinator, jobs.ManagerConfig{
		GatewayURL:     cfg.IPFS.GatewayURL,
		WebhookBaseURL: cfg.Provider.WebhookBaseURL,
		SegmentSec:     cfg.Provider.SegmentSeconds,
		StagingRoot:    cfg.Paths.StagingDir,
	}, logger)

	var wikiClient api.WikiUpdater
	if cfg.WikiEnabled() {
		wikiClient = wiki.NewClient(cfg.Wiki, logger)
	}

	server := api.NewServer(api.ServerConfig{
		Pinner:      coordinator,
		Transcoder:  pipeline,
		Fetcher:     fetcher,
		Secondary:   secondary,
		JobService:  manager,
		JobReader:   store,
		Wiki:        wikiClient,
		Authorizer:  api.TokenAuthorizer{Token: cfg.Paths.APIToken},
		StagingRoot: cfg.Paths.StagingDir,
		ListLimit:   cfg.Jobs.ListLimit,
		BaseContext: baseCtx,
	}, logger)

	httpServer := &http.Server{
		Addr:    cfg.Paths.APIBind,
		Handler: api.NewRouter(server, cfg.CORS.AllowedOrigins),
	}

	go func() {
		logger.Info("trestled listening", logging.String("addr", cfg.Paths.APIBind))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", logging.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("trestled shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", logging.Error(err))
	}
	coordinator.Wait()
}
