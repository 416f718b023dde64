// Package main provides the entry point for the ProdReady audit service.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/prodready-go/internal/audit"
	"github.com/Rorqualx/prodready-go/internal/browser"
	"github.com/Rorqualx/prodready-go/internal/config"
	"github.com/Rorqualx/prodready-go/internal/handlers"
	"github.com/Rorqualx/prodready-go/internal/middleware"
	"github.com/Rorqualx/prodready-go/internal/patterns"
	"github.com/Rorqualx/prodready-go/internal/session"
	"github.com/Rorqualx/prodready-go/pkg/version"
)

func main() {
	// Handle --version flag early, before any initialization
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ProdReady %s\n", version.Full())
		return
	}

	// Load configuration
	cfg := config.Load()

	// Setup logging first so validation warnings are visible
	setupLogging(cfg.LogLevel, cfg.Debug)

	cfg.Validate()

	log.Info().
		Str("app", cfg.AppName).
		Str("version", cfg.AppVersion).
		Str("go_version", version.GoVersion()).
		Msg("Starting audit service")

	// Ensure the artifacts root exists before anything writes into it
	if err := os.MkdirAll(cfg.ArtifactsDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.ArtifactsDir).Msg("Failed to create artifacts directory")
	}

	// Detection patterns (embedded defaults, optional external override)
	patternsMgr, err := patterns.NewManager(cfg.PatternsPath, cfg.PatternsHotReload)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize patterns")
	}

	// Session manager with its expiration sweep
	sessionMgr := session.NewManager(cfg)
	sessionMgr.StartCleanupLoop()

	// Browser manager: launch the driver up front so the first login is fast
	browserMgr := browser.NewManager(cfg, sessionMgr)
	if err := browserMgr.Initialize(); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize browser")
	}

	// Audit store and runner service
	auditMgr := audit.NewManager(cfg.ArtifactsDir)
	auditSvc := audit.NewService(auditMgr, browserMgr, patternsMgr, cfg)

	// HTTP surface
	handler := handlers.New(cfg, sessionMgr, browserMgr, auditMgr, auditSvc)

	rateLimiter := middleware.NewRateLimitMiddleware(cfg.RateLimitPerMinute, "/health")

	// Middleware are applied outermost first: recovery catches everything,
	// then request logging, rate limiting, request ids, security headers,
	// and CORS closest to the handler.
	finalHandler := middleware.Chain(
		middleware.Recovery,
		middleware.Logging,
		rateLimiter.Handler(),
		middleware.RequestID,
		middleware.SecurityHeaders,
		middleware.CORS(middleware.CORSConfig{AllowedOrigins: cfg.CORSOrigins}),
	)(handler.Routes())

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           finalHandler,
		ReadTimeout:       cfg.NavigationTimeout + 10*time.Second,
		WriteTimeout:      cfg.NavigationTimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().
			Str("address", addr).
			Int("rate_limit_rpm", cfg.RateLimitPerMinute).
			Msg("Audit service is ready to accept requests")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	signal.Stop(quit)

	log.Info().Msg("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	// Teardown: rate limiter, session sweep, browser, then the patterns watcher
	rateLimiter.Close()
	if err := sessionMgr.Close(); err != nil {
		log.Error().Err(err).Msg("Session manager close error")
	}
	browserMgr.Shutdown()
	patternsMgr.Close()

	log.Info().Msg("Shutdown complete")
}

// setupLogging configures zerolog based on the log level.
func setupLogging(level string, debug bool) {
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	})

	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}

	switch level {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
