package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/DukeRupert/fiesta/internal"
	"github.com/DukeRupert/fiesta/internal/auth"
	"github.com/DukeRupert/fiesta/internal/catalog"
	"github.com/DukeRupert/fiesta/internal/domain"
	"github.com/DukeRupert/fiesta/internal/entitlement"
	"github.com/DukeRupert/fiesta/internal/gateway"
	"github.com/DukeRupert/fiesta/internal/handler"
	"github.com/DukeRupert/fiesta/internal/ledger"
	"github.com/DukeRupert/fiesta/internal/memory"
	"github.com/DukeRupert/fiesta/internal/metrics"
	"github.com/DukeRupert/fiesta/internal/middleware"
	"github.com/DukeRupert/fiesta/internal/postgres"
	"github.com/DukeRupert/fiesta/internal/provider"
	"github.com/DukeRupert/fiesta/internal/provider/anthropic"
	"github.com/DukeRupert/fiesta/internal/provider/gemini"
	"github.com/DukeRupert/fiesta/internal/provider/mock"
	"github.com/DukeRupert/fiesta/internal/provider/openai"
	"github.com/DukeRupert/fiesta/internal/ratelimit"
	"github.com/DukeRupert/fiesta/internal/router"
	"github.com/DukeRupert/fiesta/internal/storage"
	"github.com/DukeRupert/fiesta/internal/usage"
	"github.com/DukeRupert/fiesta/internal/worker"
)

// stores is the subscription backend chosen by STORE.
type stores struct {
	subscriptions handler.Subscriptions
	entitlements  entitlement.SubscriptionStore
	ledger        ledger.Store
	usage         usage.Sink
	db            *sql.DB // nil for the memory store
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if st.db != nil {
		defer st.db.Close()
	}

	cat, err := catalog.Open(cfg.CatalogPath, logger)
	if err != nil {
		return fmt.Errorf("catalog load failed: %w", err)
	}
	logger.Info("Catalog loaded", "models", len(cat.Models()), "tiers", len(cat.Tiers()), "path", cfg.CatalogPath)

	// ==========================================================================
	// Usage recording: async queue in front of the store and the archive
	// ==========================================================================

	sinks := usage.Multi{st.usage}
	archiveStore, err := storage.New(storage.Config{
		Provider: cfg.UsageArchive,
		Local:    storage.LocalConfig{BasePath: cfg.LocalArchivePath},
		R2: storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			Endpoint:        cfg.R2Endpoint,
		},
	}, logger)
	if err != nil {
		return fmt.Errorf("usage archive initialization failed: %w", err)
	}
	if archiveStore != nil {
		sinks = append(sinks, usage.NewArchive(archiveStore))
		logger.Info("Usage archive enabled", "provider", cfg.UsageArchive)
	}

	workerCfg := worker.DefaultConfig()
	workerCfg.Concurrency = cfg.UsageWorkers
	workerCfg.QueueSize = cfg.UsageQueueSize
	jobs, err := worker.New(workerCfg, logger)
	if err != nil {
		return fmt.Errorf("worker initialization failed: %w", err)
	}
	jobs.Register(usage.NewHandler(sinks))
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	jobs.Start(workerCtx)

	// ==========================================================================
	// Gateway
	// ==========================================================================

	limiter := ratelimit.New(cfg.RateWindow, logger)
	defer limiter.Close()

	routes := newRouter(cfg, logger)

	gw := gateway.New(
		entitlement.New(st.entitlements, cat, limiter, logger),
		routes,
		ledger.New(st.ledger, logger),
		usage.NewQueue(jobs, logger),
		gateway.Config{
			UpstreamTimeout: cfg.UpstreamTimeout,
			FinalizeTimeout: cfg.FinalizeTimeout,
			Emulation: gateway.Emulator{
				ChunkSize: cfg.EmulationChunkSize,
				Delay:     cfg.EmulationDelay,
			},
		},
		logger,
	)

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	authMw := middleware.NewAuthMiddleware(cfg.JWTSecret, logger)
	ipLimitMw := middleware.NewRateLimitMiddleware(limiter, cfg.IPRateLimitPerMinute, logger)
	requireTenant := middleware.Stack(ipLimitMw.Limit, authMw.RequireTenant)

	mux := http.NewServeMux()

	var pinger handler.Pinger
	if st.db != nil {
		pinger = st.db
	}
	mux.Handle("GET /health", handler.Health(pinger, logger))
	mux.Handle("GET /metrics", middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword, logger).Endpoint())

	handler.NewChatHandler(gw, logger).RegisterRoutes(mux, requireTenant)
	handler.NewAccountHandler(cat, routes, st.subscriptions, logger).RegisterRoutes(mux, requireTenant)

	root := middleware.Stack(
		middleware.NewRequestLoggingMiddleware(logger).Handler,
		metrics.Middleware,
		middleware.NewSecurityHeadersMiddleware(cfg.Env != "development").Handler,
	)(mux)

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env, "store", cfg.Store)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}

	// Sessions finish and finalize before the usage queue drains.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}
	jobs.Stop()

	logger.Info("Graceful shutdown complete")
	return nil
}

// openStores builds the subscription, ledger and usage backends.
func openStores(ctx context.Context, cfg *internal.Config, logger *slog.Logger) (*stores, error) {
	if cfg.Store == internal.StoreMemory {
		store := memory.NewStore()
		if err := seedDevTenant(store, cfg, logger); err != nil {
			return nil, err
		}
		return &stores{
			subscriptions: store,
			entitlements:  store,
			ledger:        store,
			usage:         memory.NewUsageLog(),
		}, nil
	}

	db, err := postgres.Open(ctx, cfg.DatabaseUrl)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	// Run migrations
	if err := internal.RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database ready")

	subs := postgres.NewSubscriptionStore(db)
	return &stores{
		subscriptions: subs,
		entitlements:  subs,
		ledger:        subs,
		usage:         postgres.NewUsageSink(db),
		db:            db,
	}, nil
}

// seedDevTenant gives an in-memory gateway one pro tenant and logs a token
// for it, so the server is usable without a database.
func seedDevTenant(store *memory.Store, cfg *internal.Config, logger *slog.Logger) error {
	tenantID := uuid.New()
	store.Put(domain.Subscription{
		TenantID:           tenantID,
		Tier:               "pro",
		Status:             domain.SubscriptionStatusActive,
		Balance:            domain.Balance{CreditsLimit: 100000, CreditsRemaining: 100000},
		RateLimitPerMinute: 60,
		CreatedAt:          time.Now().UTC(),
		UpdatedAt:          time.Now().UTC(),
	})

	token, err := auth.MintToken(tenantID, cfg.JWTSecret, 24*time.Hour)
	if err != nil {
		return fmt.Errorf("seed tenant token: %w", err)
	}
	logger.Info("Seeded in-memory tenant", "tenant_id", tenantID, "tier", "pro", "token", token)
	return nil
}

// newRouter builds one adapter per upstream and the default routing table.
func newRouter(cfg *internal.Config, logger *slog.Logger) *router.Router {
	common := func(key string) provider.Config {
		return provider.Config{APIKey: key, RequestTimeout: cfg.UpstreamTimeout}
	}
	openaiCfg := common(cfg.OpenAIAPIKey)
	openaiCfg.BaseURL = cfg.OpenAIBaseURL

	return router.Default(router.Set{
		OpenAI:     openai.NewOpenAI(openaiCfg, logger),
		Anthropic:  anthropic.New(common(cfg.AnthropicAPIKey), logger),
		Gemini:     gemini.New(common(cfg.GeminiAPIKey), logger),
		Grok:       openai.NewGrok(common(cfg.GrokAPIKey), logger),
		Perplexity: openai.NewPerplexity(common(cfg.PerplexityAPIKey), logger),
		Mock:       mock.New(logger),
	})
}
