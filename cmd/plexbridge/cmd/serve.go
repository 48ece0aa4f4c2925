package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/plexbridge/plexbridge/internal/cache"
	"github.com/plexbridge/plexbridge/internal/config"
	"github.com/plexbridge/plexbridge/internal/database"
	"github.com/plexbridge/plexbridge/internal/epg"
	"github.com/plexbridge/plexbridge/internal/events"
	internalhttp "github.com/plexbridge/plexbridge/internal/http"
	"github.com/plexbridge/plexbridge/internal/http/handlers"
	"github.com/plexbridge/plexbridge/internal/ingestor"
	"github.com/plexbridge/plexbridge/internal/logo"
	"github.com/plexbridge/plexbridge/internal/models"
	"github.com/plexbridge/plexbridge/internal/observability"
	"github.com/plexbridge/plexbridge/internal/repository"
	"github.com/plexbridge/plexbridge/internal/scheduler"
	"github.com/plexbridge/plexbridge/internal/settings"
	"github.com/plexbridge/plexbridge/internal/ssdp"
	"github.com/plexbridge/plexbridge/internal/stream"
	"github.com/plexbridge/plexbridge/internal/version"
	"github.com/plexbridge/plexbridge/pkg/httpclient"
)

// logFlushTimeout bounds one log batch write. The sink drops records rather
// than block, so a slow disk only costs captured entries.
const logFlushTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the plexbridge server",
	Long: `Start the plexbridge HTTP server, tuner surface, and SSDP responder.

The server provides:
- HDHomeRun discovery and lineup endpoints for Plex
- Stream proxying with optional transcoding
- REST API for channels, streams, EPG sources, and settings
- XMLTV guide output and a WebSocket event feed
- OpenAPI documentation at /api/docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Overrides applied after config.Load via Changed(), preserving the
	// priority: CLI flag > env var > config file > default.
	serveCmd.Flags().String("host", "0.0.0.0", "host to bind to")
	serveCmd.Flags().Int("port", 8080, "port to listen on")
	serveCmd.Flags().String("database", "./data/plexbridge.db", "database file path")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyServeFlags(cmd, cfg)

	// The pre-sink logger; the database log sink must not write through
	// itself when a batch fails to persist.
	base := slog.Default()

	// Metadata store.
	db, err := database.New(cfg.Database, base, nil)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(context.Background()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	// Repositories.
	channelRepo := repository.NewChannelRepository(db.DB)
	streamRepo := repository.NewStreamRepository(db.DB)
	epgSourceRepo := repository.NewEpgSourceRepository(db.DB)
	epgChannelRepo := repository.NewEpgChannelRepository(db.DB)
	epgProgramRepo := repository.NewEpgProgramRepository(db.DB)
	sessionRepo := repository.NewSessionRepository(db.DB)
	settingRepo := repository.NewSettingRepository(db.DB)
	logRepo := repository.NewLogRepository(db.DB)

	// Tee INFO+ records into the metadata store now that it is up, so the
	// log query API sees everything the console does.
	sink := observability.NewSinkHandler(base.Handler(), slog.LevelInfo, func(entries []observability.Entry) {
		batch := make([]*models.LogEntry, 0, len(entries))
		for _, e := range entries {
			batch = append(batch, &models.LogEntry{
				Timestamp: e.Time,
				Level:     e.Level,
				Component: e.Component,
				Message:   e.Message,
				Fields:    e.Fields,
			})
		}
		ctx, cancel := context.WithTimeout(context.Background(), logFlushTimeout)
		defer cancel()
		if err := logRepo.CreateBatch(ctx, batch); err != nil {
			base.Warn("persisting log batch failed", slog.String("error", err.Error()))
		}
	})
	defer sink.Close()
	slog.SetDefault(slog.New(sink))
	logger := slog.Default()

	// Settings service; device identity must exist before SSDP answers.
	settingsService := settings.NewService(settingRepo)
	if err := settingsService.EnsureIdentity(context.Background()); err != nil {
		return fmt.Errorf("ensuring device identity: %w", err)
	}

	// KV cache.
	store := cache.New(cache.Options{
		Engine:        cfg.Cache.Engine,
		KeyPrefix:     cfg.Cache.KeyPrefix,
		RedisAddr:     cfg.Cache.RedisAddr,
		RedisPassword: cfg.Cache.RedisPassword,
		RedisDB:       cfg.Cache.RedisDB,
		RetryInterval: cfg.Cache.RetryInterval,
	})
	defer store.Close()

	// Event bus.
	hub := events.NewHub(logger)
	defer hub.Close()

	// Session manager and stream proxy.
	manager := stream.NewManager(settingsService, sessionRepo, hub, logger)
	manager.Start(context.Background())

	userAgent := cfg.Client.UserAgent
	if userAgent == "" {
		userAgent = version.UserAgent()
	}
	proxy := stream.NewProxy(stream.ProxyConfig{
		FFmpegPath: cfg.FFmpeg.BinaryPath,
		UserAgent:  userAgent,
	}, manager, settingsService, channelRepo, streamRepo, logger)

	// Outbound client for logo fetches.
	clientCfg := httpclient.DefaultConfig()
	clientCfg.Timeout = cfg.Client.Timeout
	clientCfg.RetryAttempts = cfg.Client.RetryAttempts
	clientCfg.RetryDelay = cfg.Client.RetryDelay
	clientCfg.UserAgent = userAgent
	clientCfg.MaxResponseSize = int64(cfg.Storage.MaxLogoSize)
	clientCfg.Logger = logger
	logoClient := httpclient.New(clientCfg)

	logoService := logo.NewService(channelRepo, store, settingsService, logoClient, logger)
	importer := ingestor.NewM3UImporter(channelRepo, streamRepo, store, hub, logger)

	// EPG surface.
	resolver := epg.NewResolver(epgChannelRepo, epgProgramRepo, store, logger)
	guide := epg.NewGuide(channelRepo, epgProgramRepo, resolver, logger)

	// SSDP responder. A configured advertised host pins the announcement
	// address for the process lifetime.
	discovery := ssdp.NewServer(settingsService, cfg.Server.StreamingPort, logger)
	if cfg.Server.AdvertisedHost != "" {
		discovery.UpdateAdvertisedHost(cfg.Server.AdvertisedHost)
	}
	if cfg.SSDP.Enabled {
		if err := discovery.Start(context.Background()); err != nil {
			return fmt.Errorf("starting SSDP responder: %w", err)
		}
	}
	defer discovery.Stop()

	// Committed settings updates fan out to the bus, re-announce the
	// device, and drop the cached lineup so new base URLs take effect.
	unsubscribe := settingsService.Subscribe(func(tree settings.Settings) {
		hub.Publish(events.RoomSettings, events.TypeSettingsUpdated, tree)
		discovery.RefreshDevice()
		store.Delete(context.Background(), cache.LineupKey)
	})
	defer unsubscribe()

	// Nightly retention pass, plus one catch-up pass at startup.
	maintenance := scheduler.New(db, cfg.Retention, logger)
	if err := maintenance.Start(); err != nil {
		return fmt.Errorf("starting maintenance scheduler: %w", err)
	}
	defer maintenance.Stop()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		if _, err := maintenance.RunOnce(ctx); err != nil {
			logger.Warn("startup maintenance pass failed", slog.String("error", err.Error()))
		}
	}()

	// HTTP server.
	serverCfg := internalhttp.DefaultServerConfig()
	serverCfg.Host = cfg.Server.Host
	serverCfg.Port = cfg.Server.Port
	if cfg.Server.ReadTimeout > 0 {
		serverCfg.ReadTimeout = cfg.Server.ReadTimeout
	}
	if cfg.Server.ShutdownTimeout > 0 {
		serverCfg.ShutdownTimeout = cfg.Server.ShutdownTimeout
	}
	server := internalhttp.NewServer(serverCfg, logger, version.Version)

	// Tuner surface (raw routes, bit-exact HDHomeRun shapes).
	hdhr := handlers.NewHDHRHandler(settingsService, channelRepo, store, proxy, logger)
	hdhr.RegisterRoutes(server.Router())

	// Health probes and report.
	health := handlers.NewHealthHandler(version.Version, db, store, manager, discovery, hub)
	health.Register(server.API())
	health.RegisterProbes(server.Router())

	// Operator API.
	handlers.NewChannelHandler(channelRepo, importer, logoService, store, hub, logger).Register(server.API())
	handlers.NewStreamHandler(streamRepo, channelRepo, store, hub, logger).Register(server.API())
	handlers.NewStreamingHandler(manager, logger).Register(server.API())
	handlers.NewSettingsHandler(settingsService, logger).Register(server.API())
	handlers.NewLogsHandler(logRepo).Register(server.API())

	epgHandler := handlers.NewEPGHandler(channelRepo, epgSourceRepo, resolver, guide, logger)
	epgHandler.Register(server.API())
	epgHandler.RegisterRoutes(server.Router())

	handlers.NewLogoHandler(logoService, logger).RegisterRoutes(server.Router())

	docs := handlers.NewDocsHandler("PlexBridge API", "/api/openapi.yaml")
	server.Router().Get("/api/docs", docs.ServeHTTP)

	// Live event feed and Prometheus metrics.
	server.Router().Get("/ws", events.NewWSHandler(hub, logger).ServeHTTP)
	server.Router().Handle("/metrics", promhttp.Handler())

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("starting plexbridge server",
		slog.String("host", serverCfg.Host),
		slog.Int("port", serverCfg.Port),
		slog.String("version", version.Version),
	)

	err = server.ListenAndServe(ctx)

	// Live sessions get the shutdown window to drain before the deferred
	// teardown runs.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), serverCfg.ShutdownTimeout)
	defer drainCancel()
	manager.Shutdown(drainCtx)

	return err
}

// applyServeFlags overrides config values with explicitly set CLI flags.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("host") {
		cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("database") {
		cfg.Database.Path, _ = cmd.Flags().GetString("database")
	}
}
