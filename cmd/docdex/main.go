package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phuslu/log"

	"docdex/internal/api"
	"docdex/internal/config"
	"docdex/internal/events"
	"docdex/internal/fetch"
	"docdex/internal/jobs"
	"docdex/internal/logging"
	"docdex/internal/migrate"
	"docdex/internal/pipeline"
	"docdex/internal/scraper"
	"docdex/internal/splitter"
	"docdex/internal/store"
	"docdex/internal/store/memory"
	"docdex/internal/store/postgres"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("Loading config failed")
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Pretty)
	logger := logging.Component("main")

	st := openStore(cfg, logger)
	defer st.Close()

	bus := events.NewBus()
	defer bus.Shutdown()

	sc := buildScraper(cfg)
	defer sc.Cleanup()

	manager := jobs.NewManager(st, bus, jobs.NewWorker(st, sc), cfg.Worker.MaxConcurrentJobs)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := manager.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Starting job manager failed")
	}
	defer manager.Stop()

	if cfg.Redis.URL != "" && cfg.Redis.EventChannel != "" {
		relay, err := events.NewRelay(cfg.Redis.URL, cfg.Redis.EventChannel)
		if err != nil {
			logger.Fatal().Err(err).Msg("Connecting event relay failed")
		}
		relay.Attach(ctx, bus)
		defer relay.Close()
		logger.Info().Str("channel", cfg.Redis.EventChannel).Msg("Redis event relay attached")
	}

	if cfg.Retention.Enabled && cfg.Retention.VersionDays > 0 {
		go runRetention(ctx, cfg, st, bus, logger)
	}

	server := api.NewServer(cfg, st, manager, bus)
	go func() {
		if err := server.Listen(); err != nil {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Shutting down")
	if err := server.Shutdown(); err != nil {
		logger.Warn().Err(err).Msg("HTTP shutdown failed")
	}
}

// openStore picks Postgres when a DSN is configured, otherwise an
// ephemeral in-memory store.
func openStore(cfg *config.Config, logger log.Logger) store.Store {
	if cfg.Database.DSN == "" {
		logger.Warn().Msg("No database configured; documents are kept in memory only")
		return memory.New()
	}

	if err := migrate.Run(cfg.Database.DSN); err != nil {
		logger.Fatal().Err(err).Msg("Migrations failed")
	}
	st, err := postgres.Open(cfg.Database.DSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("Opening database failed")
	}
	return st
}

func buildScraper(cfg *config.Config) *scraper.Scraper {
	sizes := splitter.DefaultSizes()
	pipelines := pipeline.DefaultRegistry(sizes)

	httpFetcher := fetch.NewHTTPFetcher(cfg.Scraper.UserAgent, cfg.Scraper.MaxRetries)
	fileFetcher := fetch.NewFileFetcher()
	var browserFetcher *fetch.BrowserFetcher
	if cfg.Rod.Enabled {
		browserFetcher = fetch.NewBrowserFetcher(cfg.Rod.BrowserURL)
	}
	auto := fetch.NewAutoFetcher(httpFetcher, fileFetcher, browserFetcher)

	web := scraper.NewWebStrategy(auto, pipelines, scraper.WebStrategyConfig{
		UserAgent:     cfg.Scraper.UserAgent,
		Timeout:       time.Duration(cfg.Scraper.TimeoutMs) * time.Millisecond,
		MaxRetries:    cfg.Scraper.MaxRetries,
		RespectRobots: cfg.Robots.Respect,
	})

	return scraper.New(scraper.NewStrategyRegistry(
		scraper.NewGitHubStrategy(cfg.GitHub.Token, httpFetcher, web, pipelines),
		scraper.NewNpmStrategy(web),
		scraper.NewPyPiStrategy(web),
		scraper.NewLocalFileStrategy(pipelines),
		web,
	))
}

// runRetention periodically drops terminal versions older than the
// configured TTL so the database does not grow without bound.
func runRetention(ctx context.Context, cfg *config.Config, st store.Store, bus *events.Bus, logger log.Logger) {
	interval := time.Duration(cfg.Retention.CleanupIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().AddDate(0, 0, -cfg.Retention.VersionDays)
			n, err := st.DeleteExpiredVersions(ctx, cutoff)
			if err != nil {
				logger.Warn().Err(err).Msg("Retention sweep failed")
				continue
			}
			if n > 0 {
				logger.Info().Int64("versions", n).Msg("Expired versions removed")
				bus.Emit(events.TypeLibraryChange, nil)
			}
		}
	}
}
