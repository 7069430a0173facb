package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/term"

	"github.com/iconidentify/grabba/internal/api"
	"github.com/iconidentify/grabba/internal/api/handler"
	"github.com/iconidentify/grabba/internal/catalog"
	"github.com/iconidentify/grabba/internal/config"
	"github.com/iconidentify/grabba/internal/downloader"
	"github.com/iconidentify/grabba/internal/repository"
	"github.com/iconidentify/grabba/internal/service"
	"github.com/iconidentify/grabba/internal/worker"
	"github.com/iconidentify/grabba/pkg/ffmpeg"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to config file")
	envFile := flag.String("env-file", ".env", "Path to dotenv file (ignored if missing)")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("grabba %s (built %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	// A missing .env is normal outside development.
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to configure logging: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	logger.Info("starting grabba",
		"version", Version,
		"build_time", BuildTime,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

// newLogger builds the process logger. Format "auto" picks text output on an
// interactive terminal and JSON otherwise.
func newLogger(cfg config.LogConfig) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	format := strings.ToLower(cfg.Format)
	if format == "" || format == "auto" {
		format = "json"
		if term.IsTerminal(int(os.Stdout.Fd())) {
			format = "text"
		}
	}

	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts)), nil
}

func run(cfg *config.Config, logger *slog.Logger) error {
	if cfg.Extractor.AutoInstall {
		installCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		err := downloader.Install(installCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("install extractor: %w", err)
		}
		logger.Info("extractor installed")
	}

	// Ensure storage directories exist
	output := repository.NewFilesystemOutputStore(cfg.Storage, logger)
	if err := output.EnsureDirs(); err != nil {
		return fmt.Errorf("create storage directories: %w", err)
	}

	// Initialize dependencies
	extractor := downloader.NewYTDLP(cfg.Extractor, cfg.Storage.CookiesPath, logger)
	cat := catalog.New(extractor, logger)
	prober := downloader.NewHTTPProber(cfg.Extractor.ProbeTimeout, cfg.Extractor.UserAgent, logger)
	jobRepo := repository.NewInMemoryJobRepository(cfg.Worker.QueueSize)

	// Audio requests fail at the transcode step when ffmpeg is missing;
	// video downloads keep working.
	var transcoder service.Transcoder
	if t, err := ffmpeg.NewTranscoder(cfg.Extractor.FFmpegPath); err != nil {
		logger.Warn("ffmpeg unavailable, audio extraction disabled", "error", err)
	} else {
		transcoder = t
		versionCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if v, err := t.Version(versionCtx); err == nil {
			logger.Info("ffmpeg available", "version", v)
		}
		cancel()
	}

	events, err := service.NewEventService(service.EventServiceConfigFrom(cfg.Events), logger)
	if err != nil {
		return fmt.Errorf("create event service: %w", err)
	}
	defer events.Close()

	// Initialize services
	downloadSvc := service.NewDownloadService(
		cat,
		extractor,
		prober,
		transcoder,
		jobRepo,
		output,
		events,
		cfg.Selection,
		cfg.Extractor,
		logger,
	)

	// Initialize worker pool
	pool := worker.NewPool(
		worker.Config{
			Workers:      cfg.Worker.Count,
			PollInterval: cfg.Worker.PollInterval,
		},
		jobRepo,
		downloadSvc,
		logger,
	)
	downloadSvc.SetNotifier(pool)

	// Initialize handlers
	downloadHandler := handler.NewDownloadHandler(downloadSvc, output, logger)
	eventHandler := handler.NewEventHandler(events, jobRepo, logger)
	jobHandler := handler.NewJobHandler(downloadSvc, logger)
	healthHandler := handler.NewHealthHandler(jobRepo, output.OutputDir(), events)

	// Setup router
	router := api.NewRouter(cfg.Server, downloadHandler, eventHandler, jobHandler, healthHandler)

	// Start worker pool
	pool.Start()

	bgCtx, cancelBackground := context.WithCancel(context.Background())
	defer cancelBackground()
	go downloadSvc.RunJanitor(bgCtx, cfg.Storage.JanitorInterval, cfg.Storage.Retention)

	// Setup HTTP server. Request contexts derive from bgCtx so open event
	// streams end when shutdown starts.
	srv := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           router,
		BaseContext:       func(net.Listener) context.Context { return bgCtx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-serverErr:
		runErr = fmt.Errorf("http server: %w", err)
	}

	// Cancel background tasks
	cancelBackground()

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	if err := pool.Stop(cfg.Worker.ShutdownTimeout); err != nil {
		logger.Error("worker pool shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	return runErr
}
