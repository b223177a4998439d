package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/epgview/internal/cache"
	"github.com/jmylchreest/epgview/internal/config"
	"github.com/jmylchreest/epgview/internal/epg"
	"github.com/jmylchreest/epgview/internal/export"
	internalhttp "github.com/jmylchreest/epgview/internal/http"
	"github.com/jmylchreest/epgview/internal/http/handlers"
	"github.com/jmylchreest/epgview/internal/httpclient"
	"github.com/jmylchreest/epgview/internal/mirror"
	"github.com/jmylchreest/epgview/internal/observability"
	"github.com/jmylchreest/epgview/internal/prewarm"
	"github.com/jmylchreest/epgview/internal/scheduler"
	"github.com/jmylchreest/epgview/internal/service"
	"github.com/jmylchreest/epgview/internal/store"
	"github.com/jmylchreest/epgview/internal/timeshift"
	"github.com/jmylchreest/epgview/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the epgview server",
	Long: `Start the epgview HTTP server and API.

The server provides:
- XMLTV exports (plain and gzip) filtered to your playlist
- REST API for settings, sources, and channel mappings
- Background mirror refresh and export prewarming
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 3333, "Port to listen on")
	serveCmd.Flags().String("data-dir", "data", "Data directory for mirror, caches, and settings")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("storage.data_dir", serveCmd.Flags().Lookup("data-dir"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := observability.NewLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dataDir := cfg.Storage.DataDir

	settingsStore, err := store.Load(dataDir, observability.WithComponent(logger, "store"))
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}

	fetchCfg := httpclient.DefaultConfig()
	fetchCfg.Timeout = cfg.Fetch.Timeout
	fetchCfg.RetryAttempts = cfg.Fetch.RetryAttempts
	fetchCfg.RetryDelay = cfg.Fetch.RetryDelay
	fetchCfg.Logger = observability.WithComponent(logger, "httpclient")

	// The mirror stores upstream bytes verbatim; only the playlist path
	// wants transparent decompression.
	mirrorCfg := fetchCfg
	mirrorCfg.EnableDecompression = false

	mirrorStore, err := mirror.New(
		filepath.Join(dataDir, "mirror"),
		httpclient.New(mirrorCfg),
		observability.WithComponent(logger, "mirror"),
		mirror.WithRetention(settingsStore.Settings().HistoryRetentionDays, mirror.DefaultKeepMax),
	)
	if err != nil {
		return fmt.Errorf("initializing mirror store: %w", err)
	}

	scheduleCache, err := cache.New(
		filepath.Join(dataDir, "cache", "schedules"),
		observability.WithComponent(logger, "cache"),
	)
	if err != nil {
		return fmt.Errorf("initializing schedule cache: %w", err)
	}

	assembler := epg.NewAssembler(mirrorStore, scheduleCache, observability.WithComponent(logger, "assembler"))

	engine := &timeshift.Engine{ForceZeroOffset: settingsStore.Settings().ForceZeroOffset}
	renderer := export.NewRenderer(engine, observability.WithComponent(logger, "renderer"))

	playlistClient := httpclient.New(fetchCfg)
	exportService, err := service.NewExportService(
		settingsStore, mirrorStore, assembler, renderer, playlistClient,
		filepath.Join(dataDir, "cache", "exports"),
		observability.WithComponent(logger, "export"),
	)
	if err != nil {
		return fmt.Errorf("initializing export service: %w", err)
	}

	prewarmScheduler := prewarm.New(ctx, exportService, observability.WithComponent(logger, "prewarm"))

	// HTTP server
	serverConfig := internalhttp.DefaultServerConfig()
	serverConfig.Host = cfg.Server.Host
	serverConfig.Port = cfg.Server.Port
	serverConfig.ReadTimeout = cfg.Server.ReadTimeout
	serverConfig.ShutdownTimeout = cfg.Server.ShutdownTimeout

	server := internalhttp.NewServer(serverConfig, observability.WithComponent(logger, "http"), version.Version)
	api := server.API()
	router := server.Router()

	handlers.NewChannelsHandler(settingsStore, playlistClient).Register(api)
	epgHandler := handlers.NewEpgHandler(exportService)
	epgHandler.Register(api)
	epgHandler.RegisterRaw(router)
	handlers.NewExportHandler(exportService).Register(router)
	handlers.NewPrewarmHandler(prewarmScheduler).Register(api)
	handlers.NewSettingsHandler(settingsStore).Register(api)
	handlers.NewSourcesHandler(settingsStore, mirrorStore).Register(api)
	handlers.NewMappingsHandler(settingsStore).Register(api)
	handlers.NewHealthHandler(dataDir).Register(api)
	handlers.NewSystemHandler(exportService, dataDir).Register(api)

	// Background refresh
	var refresher *scheduler.Refresher
	if cfg.Refresh.Enabled {
		refresher = scheduler.New(exportService, prewarmScheduler, cfg.Refresh.Schedule,
			observability.WithComponent(logger, "refresh"))
		if err := refresher.Start(ctx); err != nil {
			return fmt.Errorf("starting background refresh: %w", err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	logger.Info("epgview started",
		slog.String("version", version.Version),
		slog.String("data_dir", dataDir),
		slog.Int("port", cfg.Server.Port),
	)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received")
	if refresher != nil {
		refresher.Stop()
	}
	return server.Shutdown(context.Background())
}
