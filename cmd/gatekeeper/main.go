package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/inmova/gatekeeper/internal/alert"
	"github.com/inmova/gatekeeper/internal/api"
	"github.com/inmova/gatekeeper/internal/audit"
	"github.com/inmova/gatekeeper/internal/auth"
	"github.com/inmova/gatekeeper/internal/cache"
	"github.com/inmova/gatekeeper/internal/config"
	"github.com/inmova/gatekeeper/internal/notifications"
	"github.com/inmova/gatekeeper/internal/plan"
	"github.com/inmova/gatekeeper/internal/ratelimit"
	"github.com/inmova/gatekeeper/internal/repository"
	"github.com/inmova/gatekeeper/internal/secrets"
	"github.com/inmova/gatekeeper/internal/session"
	"github.com/inmova/gatekeeper/internal/telemetry"
	"github.com/inmova/gatekeeper/internal/validate"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var awsCfg *aws.Config
	if cfg.AWSRegion != "" {
		c, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			slog.Error("failed to load AWS configuration", "error", err)
			os.Exit(1)
		}
		awsCfg = &c
	}

	if awsCfg != nil && cfg.SecretsPrefix != "" {
		store := secrets.NewManagerStoreWithConfig(*awsCfg)
		secrets.Overlay(ctx, store, cfg.SecretsPrefix, map[string]*string{
			"session-secret": &cfg.SessionSecret,
			"database-url":   &cfg.DatabaseURL,
			"redis-url":      &cfg.RedisURL,
		})
	}

	shutdownTracing, err := telemetry.Init(ctx, "gatekeeper", cfg.OTLPEndpoint)
	if err != nil {
		slog.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		slog.Info("connected to redis")
	}

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		slog.Info("connected to postgres")
	}

	var sharedStore ratelimit.Store
	if redisClient != nil {
		sharedStore = ratelimit.NewRedisStoreWithClient(redisClient)
	} else {
		slog.Warn("no REDIS_URL configured, rate limits are per-replica")
	}
	limiter := ratelimit.New(sharedStore)
	limiter.StartSweeper(ctx, 5*time.Minute)

	var (
		billingRepo repository.BillingRepository
		counter     plan.ResourceCounter
		usage       repository.UsageRecorder
	)
	if db != nil {
		billingRepo = repository.NewPostgresBillingRepository(db)
		pgUsage := repository.NewPostgresUsageRecorder(db)
		usage = pgUsage
		counter = repository.NewPostgresResourceCounter(db, pgUsage)
	} else {
		slog.Warn("no DATABASE_URL configured, using in-memory billing store")
		billingRepo = repository.NewInMemoryBillingRepository()
		counter = repository.NewInMemoryResourceCounter()
		usage = repository.NewInMemoryUsageRecorder()
	}

	var billingCache cache.Cache
	if redisClient != nil {
		billingCache = cache.NewRedisCacheWithClient(redisClient)
	} else {
		billingCache = cache.NewInMemoryCache()
	}
	cachedBilling := cache.NewCachedBilling(billingRepo, billingCache, cfg.BillingCacheTTL)

	checker := plan.NewChecker(cachedBilling, counter)

	var notifier notifications.Notifier
	if awsCfg != nil && cfg.AlertTopicArn != "" {
		notifier = notifications.NewSNSNotifierWithConfig(*awsCfg, cfg.AlertTopicArn)
		slog.Info("quota alerts via SNS", "topic", cfg.AlertTopicArn)
	} else {
		notifier = notifications.NewInMemoryNotifier()
	}

	var dedup alert.Deduplicator
	if redisClient != nil {
		dedup = alert.NewRedisDeduplicator(redisClient, time.Hour)
	} else {
		dedup = alert.NewInMemoryDeduplicator()
	}
	checker.OnCheck(alert.NewMonitor(dedup, notifier, alert.DefaultThresholds()).Observe)

	var resolver session.Resolver
	if cfg.AuthServiceURL != "" {
		resolver = session.NewAuthServiceResolver(cfg.AuthServiceURL)
		slog.Info("session resolution via auth service", "url", cfg.AuthServiceURL)
	} else {
		if cfg.SessionSecret == "" {
			slog.Error("SESSION_SECRET is required when AUTH_SERVICE_URL is not set")
			os.Exit(1)
		}
		resolver, err = session.NewJWTResolver(cfg.SessionSecret)
		if err != nil {
			slog.Error("failed to build session resolver", "error", err)
			os.Exit(1)
		}
	}

	var auditPub audit.Publisher
	if awsCfg != nil && cfg.AuditQueueURL != "" {
		auditPub = audit.NewSQSPublisherWithConfig(*awsCfg, cfg.AuditQueueURL)
		slog.Info("denial audit trail via SQS", "queue", cfg.AuditQueueURL)
	} else {
		auditPub = audit.LogPublisher{}
	}

	validator := validate.New()

	handler := api.NewHandler(api.HandlerConfig{
		Limiter:   limiter,
		Sessions:  resolver,
		Validator: validator,
		Plans:     checker,
		Usage:     usage,
		Audit:     auditPub,
		DevMode:   cfg.DevMode,
	})

	var adminMW *auth.Middleware
	if cfg.AdminAuthEnabled {
		var staffRepo auth.StaffRepository
		if db != nil {
			staffRepo = auth.NewPostgresStaffRepository(db)
		} else {
			staffRepo = auth.NewInMemoryStaffRepository(cfg.AdminPassword)
		}
		adminMW = auth.NewMiddleware(auth.NewAuthenticator(staffRepo))
	} else {
		slog.Warn("admin endpoints are unauthenticated, set ADMIN_AUTH_ENABLED=true in production")
	}
	admin := api.NewAdminHandler(billingRepo, checker, validator, adminMW, cfg.DevMode)

	var checkers []api.HealthChecker
	if redisClient != nil {
		checkers = append(checkers, api.RedisChecker{Client: redisClient})
	}
	if db != nil {
		checkers = append(checkers, api.PostgresChecker{DB: db})
	}
	health := api.NewHealthHandler(checkers...)

	mux := handler.Mux()
	mux.Handle("/admin/", admin)
	mux.Handle("/health/", health)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("gatekeeper listening", "addr", cfg.Addr, "dev_mode", cfg.DevMode)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Error("failed to flush traces", "error", err)
	}
	if db != nil {
		db.Close()
	}
	if redisClient != nil {
		redisClient.Close()
	}
	slog.Info("shutdown complete")
}

func setupLogger(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
}
