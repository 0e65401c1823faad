package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/camwatch/cmd"
	"github.com/smazurov/camwatch/internal/api"
	"github.com/smazurov/camwatch/internal/config"
	"github.com/smazurov/camwatch/internal/events"
	"github.com/smazurov/camwatch/internal/logging"
	"github.com/smazurov/camwatch/internal/metrics/collectors"
	"github.com/smazurov/camwatch/internal/metrics/exporters"
	"github.com/smazurov/camwatch/internal/monitor"
	"github.com/smazurov/camwatch/internal/version"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"camwatch.toml"`

	// Server settings
	Port string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Cameras settings
	CamerasFile  string `help:"Camera definitions file" default:"cameras.toml" toml:"cameras.config_file" env:"CAMERAS_CONFIG_FILE"`
	CamerasWatch bool   `help:"Reload the cameras file when it changes" default:"true" toml:"cameras.watch" env:"CAMERAS_WATCH"`

	// Notification settings
	MaxNotifications int `help:"Notifications kept in memory" default:"100" toml:"notifications.max" env:"NOTIFICATIONS_MAX"`

	// Metrics settings
	MetricsInterval time.Duration `help:"Camera metrics sampling interval" default:"5s" toml:"metrics.interval" env:"METRICS_INTERVAL"`
	MetricsSSE      bool          `help:"Stream camera metrics over SSE" default:"true" toml:"metrics.sse_enabled" env:"METRICS_SSE_ENABLED"`

	// Auth settings
	AuthUsername string `help:"Basic auth username, empty disables auth" default:"" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Logging settings
	LoggingLevel       string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat      string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingStream      string `help:"Stream handler logging level" default:"info" toml:"logging.stream" env:"LOGGING_STREAM"`
	LoggingDiagnostics string `help:"Diagnostics logging level" default:"info" toml:"logging.diagnostics" env:"LOGGING_DIAGNOSTICS"`
	LoggingMonitor     string `help:"Camera coordinator logging level" default:"info" toml:"logging.monitor" env:"LOGGING_MONITOR"`
	LoggingMedia       string `help:"Decoder logging level" default:"info" toml:"logging.media" env:"LOGGING_MEDIA"`
	LoggingFFmpeg      string `help:"FFmpeg process logging level" default:"warn" toml:"logging.ffmpeg" env:"LOGGING_FFMPEG"`
	LoggingAPI         string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingConfig      string `help:"Config loader logging level" default:"info" toml:"logging.config" env:"LOGGING_CONFIG"`
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"stream":      opts.LoggingStream,
				"diagnostics": opts.LoggingDiagnostics,
				"monitor":     opts.LoggingMonitor,
				"media":       opts.LoggingMedia,
				"ffmpeg":      opts.LoggingFFmpeg,
				"api":         opts.LoggingAPI,
				"config":      opts.LoggingConfig,
			},
		})

		logger := logging.GetLogger("main")

		// Create event bus for in-process event handling
		eventBus := events.New()

		mon := monitor.New(
			monitor.WithBus(eventBus),
			monitor.WithDialerFactory(monitor.FFmpegDialers),
			monitor.WithMaxNotifications(opts.MaxNotifications),
			monitor.WithLogger(logging.GetLogger("monitor")),
		)

		cameras, err := config.LoadCameras(opts.CamerasFile)
		if err != nil {
			logger.Error("Invalid cameras file", "path", opts.CamerasFile, "error", err)
			os.Exit(1)
		}
		if _, applyErr := mon.Apply(cameras); applyErr != nil {
			logger.Error("Failed to register cameras", "error", applyErr)
			os.Exit(1)
		}
		logger.Info("Cameras loaded", "path", opts.CamerasFile, "count", len(cameras))

		collector := collectors.NewCameraCollector(mon.Metrics, opts.MetricsInterval)

		var sseExporter *exporters.SSEExporter
		if opts.MetricsSSE {
			sseExporter = exporters.NewSSEExporter(eventBus)
		}

		var watcher *config.Watcher[[]monitor.CameraConfig]
		if opts.CamerasWatch {
			watcher = config.NewConfigWatcher(opts.CamerasFile, config.LoadCameras, logging.GetLogger("config"))
			watcher.OnReload(func(cfgs []monitor.CameraConfig) {
				result, applyErr := mon.Apply(cfgs)
				if applyErr != nil {
					logger.Warn("Cameras reload rejected", "error", applyErr)
					return
				}
				logger.Info("Cameras reloaded",
					"added", result.Added,
					"removed", result.Removed,
					"restarted", result.Restarted)
			})
		}

		server := api.NewServer(&api.Options{
			AuthUsername:      opts.AuthUsername,
			AuthPassword:      opts.AuthPassword,
			Cameras:           mon,
			EventBus:          eventBus,
			PrometheusHandler: exporters.HTTPHandler(),
		})

		ctx, cancel := context.WithCancel(context.Background())

		hooks.OnStart(func() {
			logger.Info("Starting camwatch", "version", version.String())

			mon.StartAll(ctx)

			if startErr := collector.Start(ctx); startErr != nil {
				logger.Warn("Failed to start metrics collector", "error", startErr)
			}
			if sseExporter != nil {
				sseExporter.Start(ctx)
			}

			if watcher != nil {
				if startErr := watcher.Start(ctx); startErr != nil {
					logger.Warn("Cameras file watcher disabled", "error", startErr)
				}
				go reloadOnHangup(ctx, watcher, logger)
			}

			if _, notifyErr := daemon.SdNotify(false, daemon.SdNotifyReady); notifyErr != nil {
				logger.Debug("sd_notify failed", "error", notifyErr)
			}

			logger.Info("Starting HTTP server", "port", opts.Port)
			if startErr := server.Start(opts.Port); startErr != nil {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down server")
			_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

			shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
			defer done()
			if stopErr := server.Stop(shutdownCtx); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}

			if watcher != nil {
				if stopErr := watcher.Stop(); stopErr != nil {
					logger.Warn("Error stopping cameras file watcher", "error", stopErr)
				}
			}

			// Stop decoders after the HTTP server stops accepting requests
			mon.StopAll()

			if sseExporter != nil {
				sseExporter.Stop()
			}
			if stopErr := collector.Stop(); stopErr != nil {
				logger.Warn("Error stopping metrics collector", "error", stopErr)
			}
			cancel()
		})
	})

	cli.Root().AddCommand(cmd.CreateProbeCmd())
	cli.Root().AddCommand(cmd.CreateCheckConfigCmd())

	// Run the CLI
	cli.Run()
}

// reloadOnHangup triggers a cameras reload on SIGHUP.
func reloadOnHangup(ctx context.Context, watcher *config.Watcher[[]monitor.CameraConfig], logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			logger.Info("SIGHUP received, reloading cameras")
			watcher.Reload()
		}
	}
}
