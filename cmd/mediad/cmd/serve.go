package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mediabuilder/mediad/internal/broadcast"
	"github.com/mediabuilder/mediad/internal/config"
	"github.com/mediabuilder/mediad/internal/dbal"
	"github.com/mediabuilder/mediad/internal/ffmpeg"
	internalhttp "github.com/mediabuilder/mediad/internal/http"
	"github.com/mediabuilder/mediad/internal/http/handlers"
	"github.com/mediabuilder/mediad/internal/observability"
	"github.com/mediabuilder/mediad/internal/plugin"
	"github.com/mediabuilder/mediad/internal/plugin/builtin"
	"github.com/mediabuilder/mediad/internal/queue"
	"github.com/mediabuilder/mediad/internal/radio"
	"github.com/mediabuilder/mediad/internal/tv"
	"github.com/mediabuilder/mediad/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the mediad server",
	Long: `Start the mediad HTTP server and all core subsystems.

The server provides:
- REST API for jobs, radio channels, TV channels, and plugins
- Live byte streaming at /stream/{mount}
- HLS output for TV channels at /hls/tv/
- Health at /health and Prometheus metrics at /metrics`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8090, "Port to listen on")
	serveCmd.Flags().String("plugin-dir", "/plugins", "Directory scanned for plugin artifacts")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("plugins.dir", serveCmd.Flags().Lookup("plugin-dir"))
}

func runServe(_ *cobra.Command, _ []string) error {
	var cfg config.Config
	if err := viper.Unmarshal(&cfg, config.DecodeOptions()); err != nil {
		return fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	logger := observability.NewLogger(cfg.Logging)
	observability.SetDefault(logger)

	// External encoder plumbing shared by the engines and plugins.
	detector := ffmpeg.NewBinaryDetector(cfg.FFmpeg.BinaryPath, cfg.FFmpeg.ProbePath)
	binInfo, err := detector.Detect(context.Background())
	if err != nil {
		return fmt.Errorf("detecting ffmpeg: %w", err)
	}
	logger.Info("ffmpeg detected",
		slog.String("path", binInfo.FFmpegPath),
		slog.String("version", binInfo.Version))

	runner := ffmpeg.NewRunner(binInfo.FFmpegPath, logger)
	prober := ffmpeg.NewProber(binInfo.FFprobePath)

	// External service client; doubles as the Notifier everywhere.
	dbalClient := dbal.New(cfg.DBAL, logger)
	if err := dbalClient.Ping(context.Background()); err != nil {
		logger.Warn("DBAL unreachable at startup; notifications degrade to logs",
			slog.String("error", err.Error()))
	}

	// Broadcaster is the leaf: everything streams through it.
	broadcaster := broadcast.New(cfg.Broadcast.ListenerBuffer, logger)

	// Plugin registry: built-ins first, then a directory scan.
	registry := plugin.NewRegistry(cfg.Plugins.ConfigPath, cfg.Plugins.APIVersion, cfg.Plugins.HealthInterval, logger)
	builtins := []plugin.Factory{
		func() plugin.Plugin { return builtin.NewFFmpegVideoPlugin(detector, cfg.FFmpeg.ProcessTimeout) },
		func() plugin.Plugin { return builtin.NewFFmpegAudioPlugin(detector, cfg.FFmpeg.ProcessTimeout) },
		func() plugin.Plugin { return builtin.NewMagickPlugin("", cfg.FFmpeg.ProcessTimeout) },
		func() plugin.Plugin { return builtin.NewPandocPlugin("", cfg.FFmpeg.ProcessTimeout) },
	}
	for _, factory := range builtins {
		if err := registry.RegisterBuiltin(factory); err != nil {
			// A missing external tool disables that plugin, not the daemon.
			logger.Warn("built-in plugin unavailable", slog.String("error", err.Error()))
		}
	}
	if cfg.Plugins.Enabled {
		if err := registry.ScanDirectory(cfg.Plugins.Dir); err != nil {
			logger.Error("plugin directory scan failed", slog.String("error", err.Error()))
		}
	}
	registry.StartHealthProbe()
	defer registry.Shutdown()

	// Job queue.
	jobQueue := queue.New(cfg.Queue, registry, dbalClient, logger)
	if err := jobQueue.Start(); err != nil {
		return fmt.Errorf("starting job queue: %w", err)
	}
	defer jobQueue.Stop(true)

	// Engines.
	var radioEngine *radio.Engine
	if cfg.Radio.Enabled {
		radioEngine = radio.New(cfg.Radio, int(cfg.Broadcast.ChunkSize), runner, prober, broadcaster, dbalClient, logger)
		defer radioEngine.Shutdown()
	}

	var tvEngine *tv.Engine
	if cfg.TV.Enabled {
		tvEngine = tv.New(cfg.TV, runner, prober, broadcaster, dbalClient, logger)
		if err := tvEngine.StartEPGRefresh(); err != nil {
			return fmt.Errorf("starting EPG refresh: %w", err)
		}
		defer tvEngine.Shutdown()
	}

	// HTTP surface.
	server := internalhttp.NewServer(cfg.Server, logger, version.Version)

	handlers.NewJobHandler(jobQueue).Register(server.API())
	handlers.NewPluginHandler(registry).Register(server.API())

	healthHandler := handlers.NewHealthHandler(version.Version).
		WithQueue(jobQueue).
		WithRegistry(registry).
		WithEngines(radioEngine, tvEngine).
		WithDBAL(dbalClient)
	healthHandler.Register(server.API())

	if radioEngine != nil {
		handlers.NewRadioHandler(radioEngine).Register(server.API())
	}
	if tvEngine != nil {
		handlers.NewTvHandler(tvEngine).Register(server.API())
	}

	streamHandler := handlers.NewStreamHandler(broadcaster, radioEngine, tvEngine, cfg.TV.OutputDir, logger)
	streamHandler.RegisterRoutes(server.Router())

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

	logger.Info("starting mediad server",
		slog.String("address", cfg.Server.Address()),
		slog.String("version", version.Version))

	return server.ListenAndServe(ctx)
}
