package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	firebaseapp "firebase.google.com/go/v4"
	"github.com/dukerupert/tuition/internal"
	"github.com/dukerupert/tuition/internal/bootstrap"
	"github.com/dukerupert/tuition/internal/domain"
	"github.com/dukerupert/tuition/internal/events"
	"github.com/dukerupert/tuition/internal/firebase"
	"github.com/dukerupert/tuition/internal/handler"
	"github.com/dukerupert/tuition/internal/handler/api"
	"github.com/dukerupert/tuition/internal/handler/webhook"
	"github.com/dukerupert/tuition/internal/lock"
	"github.com/dukerupert/tuition/internal/middleware"
	"github.com/dukerupert/tuition/internal/postgres"
	"github.com/dukerupert/tuition/internal/provider"
	"github.com/dukerupert/tuition/internal/router"
	"github.com/dukerupert/tuition/internal/routes"
	"github.com/dukerupert/tuition/internal/service"
	"github.com/dukerupert/tuition/internal/store"
	"github.com/dukerupert/tuition/internal/telemetry"
	"github.com/dukerupert/tuition/internal/worker"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 20 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
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
	ctx = logger.WithContext(ctx)

	telemetry.InitBusinessMetrics("tuition")

	// Firebase app, shared by Auth and the firestore driver
	var app *firebaseapp.App
	if cfg.Firebase.ProjectID != "" {
		app, err = firebase.NewApp(ctx, firebase.Config{
			ProjectID:       cfg.Firebase.ProjectID,
			CredentialsFile: cfg.Firebase.CredentialsFile,
		})
		if err != nil {
			return err
		}
	}

	// Persistence
	st, closeStore, err := openStore(ctx, cfg, app, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// Identity provider
	var auth identity = disabledAuth{}
	if app != nil {
		fa, err := firebase.NewAuth(ctx, app)
		if err != nil {
			return err
		}
		auth = fa
	} else {
		logger.Warn().Msg("FIREBASE_PROJECT_ID not set, API authentication is disabled and every API call returns 401")
	}

	// Billing accounts
	validator := provider.NewDefaultValidator()
	registry, err := provider.NewRegistry(cfg.Accounts, provider.MustNewDefaultFactory(validator))
	if err != nil {
		return fmt.Errorf("billing account registry: %w", err)
	}
	if err := registry.Validate(validator); err != nil {
		if cfg.Env == "prod" {
			return fmt.Errorf("invalid billing configuration: %w", err)
		}
		logger.Warn().Err(err).Msg("Billing configuration has problems, affected accounts will fail at use")
	}
	logger.Info().Strs("accounts", registry.Accounts()).Msg("Billing accounts loaded")

	checks := map[string]handler.CheckFunc{"store": st.Ping}

	// Cross-process lock for customer resolution
	var locker lock.Locker = lock.Nop{}
	if cfg.RedisURL != "" {
		client, err := lock.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		locker = lock.NewRedis(client, lock.RedisConfig{})
		checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		logger.Info().Msg("Redis lock enabled")
	} else {
		logger.Warn().Msg("REDIS_URL not set, customer resolution is serialized within this process only")
	}

	// Event publication
	var publisher events.Publisher = events.Nop{}
	if cfg.NATS.URL != "" {
		np, err := events.NewNATSPublisher(events.NATSConfig{
			URL:           cfg.NATS.URL,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
		}, logger)
		if err != nil {
			return err
		}
		publisher = np
		logger.Info().Str("prefix", cfg.NATS.SubjectPrefix).Msg("NATS publisher enabled")
	}
	defer publisher.Close()

	// Reverse-index retry worker
	w := worker.NewWorker(st, worker.Config{}, logger)
	workerCtx, stopWorker := context.WithCancel(ctx)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := w.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("Worker stopped")
		}
	}()
	defer func() {
		stopWorker()
		<-workerDone
	}()

	// Services
	resolver := service.NewIdentityResolver(st, st, locker, w, publisher, service.IdentityResolverConfig{})
	workflow := service.NewInvoiceWorkflow(service.InvoiceWorkflowConfig{DaysUntilDue: cfg.Invoice.DueDays})
	billingService := service.NewBillingService(registry, st, resolver, workflow, publisher, service.BillingServiceConfig{
		Currency: cfg.Invoice.Currency,
	})
	webhookService, err := service.NewWebhookService(registry, st, st, publisher)
	if err != nil {
		return err
	}
	bootstrapper := bootstrap.NewBootstrapper(st, auth)

	// Handlers and routes
	metrics := middleware.NewMetrics("tuition", nil)
	strictLimiter := middleware.NewRateLimiter(middleware.StrictRateLimiterConfig())
	defer strictLimiter.Stop()

	r := router.New(
		router.Recovery(logger),
		middleware.RequestID,
		middleware.WithRequestLogger(logger),
		router.Logger(logger),
		middleware.SecurityHeaders(middleware.DefaultSecurityHeadersConfig()),
		metrics.Middleware,
		middleware.WithPrincipal(auth),
	)

	routes.RegisterAPIRoutes(r, routes.APIDeps{
		Billing:       api.NewBillingHandler(billingService),
		Accounts:      api.NewAccountsHandler(registry),
		Bootstrap:     api.NewBootstrapHandler(bootstrapper),
		StrictLimiter: strictLimiter,
	})
	routes.RegisterWebhookRoutes(r, routes.WebhookDeps{
		Stripe: webhook.NewStripeHandler(webhookService),
	})
	routes.RegisterSystemRoutes(r, routes.SystemDeps{
		Health:  handler.NewHealthHandler(checks),
		Metrics: metrics.Handler(),
	})

	// CORS wraps the mux so preflight requests never reach method matching
	var root http.Handler = r
	if len(cfg.CORSAllowedOrigins) > 0 {
		root = router.CORS(cfg.CORSAllowedOrigins)(r)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Str("version", version).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

// openStore connects the configured persistence backend. The returned func
// releases it.
func openStore(ctx context.Context, cfg *internal.Config, app *firebaseapp.App, logger zerolog.Logger) (store.Store, func(), error) {
	switch cfg.Store.Driver {
	case internal.StoreDriverPostgres:
		logger.Info().Msg("Connecting to database...")
		db, err := postgres.Open(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}

		logger.Info().Msg("Running database migrations...")
		if err := internal.RunMigrations(db); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migration failed: %w", err)
		}
		logger.Info().Msg("Database migrations completed successfully")

		return postgres.New(db), func() { db.Close() }, nil

	case internal.StoreDriverFirestore:
		fs, err := firebase.NewStore(ctx, app)
		if err != nil {
			return nil, nil, err
		}
		logger.Info().Str("project", cfg.Firebase.ProjectID).Msg("Using Firestore")
		return fs, func() { fs.Close() }, nil

	default:
		logger.Warn().Msg("Using in-memory store, data is lost on exit")
		return store.NewMemory(), func() {}, nil
	}
}

// identity is what the server needs from the identity provider.
type identity interface {
	middleware.TokenVerifier
	bootstrap.ClaimsManager
}

// disabledAuth stands in for Firebase when no project is configured.
type disabledAuth struct{}

func (disabledAuth) VerifyToken(context.Context, string) (*domain.Principal, error) {
	return nil, domain.Errorf(domain.EUNAUTHORIZED, "auth.verify", "Authentication is not configured")
}

func (disabledAuth) SetAdminClaim(context.Context, string) error {
	return domain.Errorf(domain.EUNAUTHORIZED, "auth.claims", "Authentication is not configured")
}

func (disabledAuth) AnyAdminExists(context.Context) (string, bool, error) {
	return "", false, nil
}
