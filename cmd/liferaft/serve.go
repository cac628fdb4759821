package main

import (
	"context"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/meshchat/liferaft/internal/api"
	"github.com/meshchat/liferaft/internal/bridge"
	"github.com/meshchat/liferaft/internal/bundle"
	"github.com/meshchat/liferaft/internal/cache"
	"github.com/meshchat/liferaft/internal/conf"
	"github.com/meshchat/liferaft/internal/datastore"
	"github.com/meshchat/liferaft/internal/datastore/repository"
	"github.com/meshchat/liferaft/internal/errors"
	"github.com/meshchat/liferaft/internal/logger"
	"github.com/meshchat/liferaft/internal/notification"
	"github.com/meshchat/liferaft/internal/observability"
	"github.com/meshchat/liferaft/internal/update"
	"github.com/meshchat/liferaft/internal/version"
	"github.com/meshchat/liferaft/internal/worker"
)

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the offline gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := conf.Load(*configPath)
			if err != nil {
				return err
			}
			return runServe(settings)
		},
	}
}

func runServe(settings *conf.Settings) error {
	log := logger.NewSlogLogger(os.Stderr, logger.LogLevelInfo, []logger.Field{
		logger.String("app", settings.App.Name),
	})

	if err := errors.InitSentry(settings.Telemetry.SentryDSN, version.Version); err != nil {
		log.Warn("sentry init failed, telemetry disabled", logger.Error(err))
	}
	defer errors.FlushSentry(2 * time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage. A failed open degrades persisted checker state to memory
	// rather than refusing to start; the bundle store is absent then.
	var (
		stateRepo  repository.StateRepository
		bundleRepo repository.BundleRepository
	)
	db, err := datastore.Open(settings.Storage.DatabasePath)
	if err != nil {
		log.Warn("database unavailable, persisted state degrades to memory", logger.Error(err))
		stateRepo = repository.NewMemoryStateRepository()
	} else {
		stateRepo = repository.NewStateRepository(db)
		bundleRepo = repository.NewBundleRepository(db)
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	fetcher, err := api.NewOriginFetcher(settings.Server.OriginURL)
	if err != nil {
		return err
	}
	originHost := ""
	if u, err := url.Parse(settings.Server.OriginURL); err == nil {
		originHost = u.Host
	}

	storage := cache.NewStorage()
	router := cache.NewRouter(cache.RouterConfig{
		AppName:     settings.App.Name,
		Generation:  settings.App.Generation,
		OriginHost:  originHost,
		ShellPath:   settings.Server.ShellPath,
		OfflinePath: settings.Server.OfflinePath,
		Storage:     storage,
		Fetcher:     fetcher,
		Log:         log,
		Metrics:     metrics,
	})

	var bundles *bundle.Store
	if bundleRepo != nil {
		bundles = bundle.NewStore(bundleRepo, log)
	}

	bus := bridge.NewBus()
	defer bus.Stop()
	clients := bridge.NewRegistry()

	pushDisplay, err := notification.NewPushDisplay(settings.Notification.PushURLs, log)
	if err != nil {
		log.Warn("notification push misconfigured, disabled", logger.Error(err))
	}
	var display notification.Display
	if pushDisplay != nil {
		display = pushDisplay
	}
	notifs := notification.NewService(nil, display, log)

	supervisor := worker.NewSupervisor(bus, clients, bundles, storage, notifs, log)

	ctrl := worker.NewController(worker.Config{
		AppName:     settings.App.Name,
		Generation:  settings.App.Generation,
		OriginHost:  originHost,
		ShellPath:   settings.Server.ShellPath,
		OfflinePath: settings.Server.OfflinePath,
		ManifestURL: settings.Update.ManifestURL,
		Version:     version.Embedded(),
		Storage:     storage,
		Router:      router,
		Fetcher:     fetcher,
		Bundle:      bundles,
		Registry:    clients,
		Log:         log,
		Metrics:     metrics,
	})
	if err := supervisor.InstallGeneration(ctx, ctrl); err != nil {
		// Neither the origin nor a peer bundle could supply the shell.
		// Keep the health and bridge surfaces up; a later bundle transfer
		// or restart completes the install.
		log.Warn("initial install incomplete, no active generation", logger.Error(err))
	}

	checker, err := update.NewChecker(update.Config{
		ManifestURL:       resolveManifestURL(settings),
		CheckInterval:     settings.Update.CheckInterval.Std(),
		MinCheckInterval:  settings.Update.MinCheckInterval.Std(),
		DeferInitialCheck: settings.Update.DeferInitialCheck,
		State:             stateRepo,
		Connectivity:      update.NewDialConnectivity(originHost),
		Prober:            supervisor,
		WorkerReady:       supervisor.Ready(),
		Broadcast:         clients.Broadcast,
		Log:               log,
		Metrics:           metrics,
	})
	if err != nil {
		return err
	}
	defer checker.Close()
	supervisor.SetUpdateTrigger(checker)
	checker.Start(ctx)

	server := api.NewServer(api.Config{
		Listen:     settings.Server.Listen,
		Supervisor: supervisor,
		Bus:        bus,
		Registry:   clients,
		Gatherer:   registry,
		Log:        log,
	})
	log.Info("gateway listening",
		logger.String("addr", settings.Server.Listen),
		logger.String("origin", settings.Server.OriginURL),
		logger.String("version", version.Version))
	return server.Start(ctx)
}

// resolveManifestURL makes the manifest URL absolute against the origin
// when the config holds a bare path.
func resolveManifestURL(settings *conf.Settings) string {
	m := settings.Update.ManifestURL
	u, err := url.Parse(m)
	if err != nil || u.Host != "" {
		return m
	}
	base, err := url.Parse(settings.Server.OriginURL)
	if err != nil {
		return m
	}
	return base.ResolveReference(u).String()
}
