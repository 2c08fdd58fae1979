package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lalithlochan/waitlist/internal/api"
	"github.com/lalithlochan/waitlist/internal/auth"
	"github.com/lalithlochan/waitlist/internal/campaign"
	"github.com/lalithlochan/waitlist/internal/circuitbreaker"
	"github.com/lalithlochan/waitlist/internal/config"
	"github.com/lalithlochan/waitlist/internal/db"
	"github.com/lalithlochan/waitlist/internal/mailer"
	"github.com/lalithlochan/waitlist/internal/metrics"
	"github.com/lalithlochan/waitlist/internal/observ"
	"github.com/lalithlochan/waitlist/internal/redis"
	"github.com/lalithlochan/waitlist/internal/telemetry"
	"github.com/lalithlochan/waitlist/internal/waitlist"
	"github.com/lalithlochan/waitlist/internal/worker"
)

// requestTimeout bounds a request. Forced campaigns send synchronously
// within the request, so it is sized for a full roster, not a lookup.
const requestTimeout = 2 * time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting waitlist gateway",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("mail_provider", cfg.MailProvider),
	)

	// Initialize database connection
	ctx := context.Background()
	dbConfig := db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
		MaxConns: int32(cfg.DBMaxConns),
	}

	database, err := db.New(ctx, dbConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	repo := db.NewRepository(database, logger)

	// Redis backs the signup rate limiter and the campaign lock. Both are
	// optional: without Redis signups are unthrottled and campaigns run unlocked.
	var rateLimiter *redis.RateLimiter
	var campaignLock campaign.Locker
	if cfg.RedisHost != "" {
		redisClient, err := redis.New(ctx, redis.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger)
		if err != nil {
			logger.Warn("redis unavailable, rate limiting and campaign lock disabled",
				zap.Error(err),
				zap.String("host", cfg.RedisHost),
			)
		} else {
			defer redisClient.Close()
			rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
				Scope:  "signup",
				Limit:  cfg.SignupRateLimit,
				Window: time.Minute,
			})
			campaignLock = redis.NewLock(redisClient, logger, redis.DefaultLockTTL)
		}
	}

	reporter := newReporter(ctx, cfg, logger)
	defer reporter.Wait()

	// Mail transport, guarded by a circuit breaker
	var dispatcher *campaign.Dispatcher
	var breaker *circuitbreaker.CircuitBreaker
	transport, err := newTransport(ctx, cfg, logger)
	if err != nil {
		logger.Error("mail transport unavailable, reminder campaigns disabled", zap.Error(err))
	} else {
		breaker = circuitbreaker.New(circuitbreaker.DefaultConfig(transport.Name()), logger)
		protected := circuitbreaker.NewProtectedTransport(transport, breaker, logger)
		dispatcher = campaign.NewDispatcher(protected, cfg.ReminderConcurrency, reporter, logger)
	}

	campaigns := campaign.NewService(repo, dispatcher, campaignLock, reporter, campaign.Config{
		SenderEmail: cfg.MailSenderEmail,
	}, logger)

	signups := waitlist.NewService(repo, logger)

	authenticator := auth.New(auth.Config{
		AdminEmail:   cfg.AdminEmail,
		PasswordHash: cfg.AdminPasswordHash,
		JWTSecret:    cfg.JWTSecret,
		TokenTTL:     time.Hour,
	})
	if cfg.JWTSecret == "" || cfg.AdminPasswordHash == "" {
		logger.Warn("admin authentication not configured, admin routes will reject every request")
	}

	// Scheduled reminder check
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	if cfg.ReminderCheckInterval > 0 {
		w := worker.New(campaigns, worker.Config{
			CheckInterval: cfg.ReminderCheckInterval,
			RunOnStart:    true,
		}, logger)
		go w.Start(workerCtx)
	} else {
		logger.Info("reminder worker disabled")
	}

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(metrics.Middleware)

	// Custom logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	handler := api.NewHandler(logger, signups, campaigns, repo, authenticator, reporter, api.Config{
		CronSecret:    cfg.CronSecret,
		SecureCookies: cfg.Env == "production",
	})
	r.Mount("/api", handler.Routes(rateLimiter))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		body := map[string]interface{}{"status": "ok"}

		if err := database.Health(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["database"] = err.Error()
		}
		metrics.SetDBConnections(int(database.Pool().Stat().AcquiredConns()))

		if breaker != nil {
			body["mail"] = breaker.Stats()
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	})

	// Prometheus metrics endpoint
	r.Handle("/metrics", metrics.Handler())

	// Setup HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: requestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		workerCancel()

		// Give outstanding requests 10 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}

// newTransport builds the mail transport selected by MAIL_PROVIDER.
func newTransport(ctx context.Context, cfg *config.Config, logger *zap.Logger) (mailer.Transport, error) {
	switch cfg.MailProvider {
	case config.MailProviderSES:
		return mailer.NewSESTransport(ctx, mailer.SESConfig{Region: cfg.AWSRegion}, logger)
	case config.MailProviderPostmark:
		return mailer.NewPostmarkTransport(mailer.PostmarkConfig{
			ServerToken:  cfg.PostmarkServerToken,
			AccountToken: cfg.PostmarkAccountToken,
		}, logger)
	case config.MailProviderSMTP:
		return mailer.NewSMTPTransport(mailer.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
		}, logger), nil
	case config.MailProviderLog:
		logger.Warn("using log mail transport, reminders will not be delivered")
		return mailer.NewLogTransport(logger), nil
	default:
		return nil, fmt.Errorf("unknown mail provider %q", cfg.MailProvider)
	}
}

// newReporter wires the configured telemetry sinks. A sink that cannot be
// created is skipped.
func newReporter(ctx context.Context, cfg *config.Config, logger *zap.Logger) *telemetry.Reporter {
	var sinks []telemetry.Sink

	if cfg.TelemetryURL != "" {
		sinks = append(sinks, telemetry.NewHTTPSink(cfg.TelemetryURL))
	}

	if cfg.TelemetrySNSTopicARN != "" {
		sink, err := telemetry.NewSNSSink(ctx, cfg.TelemetrySNSTopicARN, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			logger.Warn("sns telemetry sink unavailable", zap.Error(err))
		} else {
			sinks = append(sinks, sink)
		}
	}

	return telemetry.New(logger, cfg.AllowTelemetry, sinks...)
}
