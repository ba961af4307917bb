package main

import (
	"context"

	"concierge/internal/api"
	"concierge/internal/catalog"
	assistantconfig "concierge/internal/config"
	"concierge/internal/crm"
	"concierge/internal/dispatch"
	"concierge/internal/feed"
	"concierge/internal/intent"
	"concierge/internal/render"
	"concierge/internal/schedule"
	"concierge/internal/session"
	"concierge/internal/transport"
	"concierge/pkg/config"
	"concierge/pkg/logging"
	"concierge/pkg/monitoring"
	"concierge/pkg/server"
	"concierge/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("concierge")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Concierge (messaging assistant)")

	cfg := assistantconfig.LoadConfig()

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("concierge", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("concierge", version.Version, version.GitCommit)

	healthChecker.AddCheck("schedule_store", monitoring.FileStoreHealthCheck(cfg.ScheduleFile))
	healthChecker.AddCheck("seen_store", monitoring.FileStoreHealthCheck(cfg.SeenFile))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"ADMIN_ID": cfg.AdminID,
	}))

	// Durable stores
	scheduleStore := schedule.NewStore(cfg.ScheduleFile, logger)
	seenSet := session.NewSeenSet(cfg.SeenFile, logger)
	sessions := session.NewStore()

	serviceCatalog := catalog.Default()
	products, err := catalog.LoadProducts(cfg.ProductsFile)
	if err != nil {
		logger.WithError(err).WithField("path", cfg.ProductsFile).Warn("Failed to load product data, promo flows disabled")
		products = catalog.NewProductStore(nil)
	}

	// Jobs feed fetcher, optionally backed by a headless renderer for
	// JavaScript-heavy listing pages.
	var renderer feed.PageRenderer
	if cfg.EnableRendering {
		rodRenderer, err := feed.NewRodRenderer()
		if err != nil {
			logger.WithError(err).Warn("Failed to start headless renderer, falling back to plain HTTP fetch")
		} else {
			renderer = rodRenderer
			defer rodRenderer.Close()
		}
	}
	fetcher := feed.NewFetcher(feed.Config{
		ListingURL:   cfg.JobsListingURL,
		SnapshotPath: cfg.JobsSnapshot,
		Renderer:     renderer,
		Logger:       logger,
	})
	if cfg.JobsListingURL != "" {
		agent := feed.NewAgent(feed.AgentConfig{
			Interval: cfg.JobsInterval,
			Fetcher:  fetcher,
			Logger:   logger,
		})
		go agent.Start(context.Background())
	} else {
		logger.Warn("JOBS_LISTING_URL not set - jobs digest served from snapshot only")
	}

	// Render work queue
	renderQueue := render.NewQueue(render.QueueConfig{
		Workers:  cfg.RenderWorkers,
		Capacity: cfg.RenderQueueSize,
		Runner: render.NewCommandRunner(render.CommandRunnerConfig{
			RenderCommand:    cfg.RenderCommand,
			ReplenishCommand: cfg.ReplenishCommand,
			OutputDir:        cfg.RenderOutputDir,
		}),
		Logger: logger,
	})
	renderQueue.Start(context.Background())

	// CRM collaborator
	crmClient := crm.NewClient(crm.Config{
		BaseURL:      cfg.CRMBaseURL,
		ClientID:     cfg.CRMClientID,
		ClientSecret: cfg.CRMClientSecret,
		ListID:       cfg.CRMListID,
		Logger:       logger,
	})
	if !crmClient.Enabled() {
		logger.Warn("CRM credentials not set - contact sync disabled")
	}

	// The real messaging client lives outside this process; outbound
	// traffic goes through the sender capability.
	sender := &transport.LogSender{Logger: logger}

	dispatcher := dispatch.New(dispatch.Config{
		Catalog:          serviceCatalog,
		Products:         products,
		Resolver:         intent.NewResolver(serviceCatalog, products),
		Sessions:         sessions,
		Seen:             seenSet,
		Schedule:         scheduleStore,
		Feed:             fetcher,
		Renders:          renderQueue,
		CRM:              crmClient,
		Sender:           sender,
		AdminID:          cfg.AdminID,
		VIPIDs:           cfg.VIPIDs,
		PostTime:         cfg.ScheduledPostTime,
		BroadcastDelay:   cfg.BroadcastDelay,
		DisableAutoReply: !cfg.EnableAutoReply,
		Logger:           logger,
	})

	// Setup router with unified monitoring (health/metrics only)
	router := server.SetupServiceRouter(logger, "concierge", healthChecker, metricsCollector)
	api.New(scheduleStore, fetcher, dispatcher, products, logger).RegisterRoutes(router)

	serverConfig := server.DefaultConfig("concierge", cfg.Port)
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
