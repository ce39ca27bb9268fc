package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/fairwaylabs/mcp-gateway/internal/gateway/auth"
	"github.com/fairwaylabs/mcp-gateway/internal/gateway/handlers"
	"github.com/fairwaylabs/mcp-gateway/internal/gateway/proxy"
	"github.com/fairwaylabs/mcp-gateway/internal/gateway/ratelimit"
	"github.com/fairwaylabs/mcp-gateway/internal/gateway/registry"
	"github.com/fairwaylabs/mcp-gateway/internal/gateway/tools"
	"github.com/fairwaylabs/mcp-gateway/internal/shared/config"
	"github.com/fairwaylabs/mcp-gateway/internal/shared/database"
	"github.com/fairwaylabs/mcp-gateway/internal/shared/logging"
	"github.com/fairwaylabs/mcp-gateway/internal/shared/redis"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(cfg.Env)
	logger.Info("starting MCP gateway", "port", cfg.Port, "env", cfg.Env)

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Optional audit database
	var db *database.DB
	if cfg.DatabaseURL != "" {
		db, err = database.New(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		logger.Info("✓ Connected to PostgreSQL audit store")
	}

	// Rate limiter: distributed when Redis is configured, in-process otherwise
	var limiter ratelimit.Limiter
	if cfg.RedisURL != "" {
		redisClient, err := redis.New(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()
		limiter = ratelimit.NewRedisLimiter(redisClient, cfg.RateLimitWindow, cfg.RateLimitMax)
		logger.Info("✓ Connected to Redis, using distributed rate limiting")
	} else {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitWindow, cfg.RateLimitMax)
		logger.Info("✓ Using in-process rate limiting")
	}

	// Credential cache with background sweep
	cache := auth.NewCache(cfg.CacheTTL)
	go cache.RunSweeper(ctx, 10*cfg.CacheTTL)

	// Identity validator
	validator := auth.NewValidator(cache, cfg.BackendBaseURL, cfg.RequestTimeout, logger)

	// Backend proxy client
	proxyClient := proxy.New(cfg.BackendBaseURL, cfg.ServiceToken, cfg.RequestTimeout)

	// Tool registry
	reg := registry.New()
	if err := tools.RegisterAll(reg, proxyClient, logger); err != nil {
		log.Fatalf("Failed to register tools: %v", err)
	}
	logger.Info("✓ Registered tools", "count", len(reg.List()))

	// Initialize handlers
	handler := handlers.New(cfg, logger, cache, validator, limiter, reg, proxyClient, db)

	// Setup router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(handler.CORSMiddleware)

	// Discovery endpoints (no auth required)
	r.Get("/health", handler.HandleHealth)
	r.Get("/mcp/schema", handler.HandleSchema)

	// Dispatch pipeline: extract, then rate-limit before validation to shed
	// load cheaply
	r.Route("/mcp", func(r chi.Router) {
		r.Use(handler.ExtractMiddleware)
		r.Use(handler.RateLimitMiddleware)
		r.Use(handler.ValidateMiddleware)

		r.Get("/tools", handler.HandleListTools)
		r.Post("/tools/{name}", handler.HandleCallTool)
		r.Post("/initialize", handler.HandleInitialize)
	})

	// HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("🚀 server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down gracefully")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}
