package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/veilnet/warden/pkg/api"
	"github.com/veilnet/warden/pkg/audit"
	"github.com/veilnet/warden/pkg/auth"
	"github.com/veilnet/warden/pkg/config"
	"github.com/veilnet/warden/pkg/middleware"
	"github.com/veilnet/warden/pkg/observability"
	"github.com/veilnet/warden/pkg/rbac"
	"github.com/veilnet/warden/pkg/storage"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).
			WithError(err).Error("Failed to load configuration")
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info("Starting Warden permission engine")

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
	}

	tracerProvider, err := observability.InitTracing(ctx, cfg.Observability.OTel, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize tracing")
		return err
	}

	db, err := storage.Connect(ctx, cfg.Database)
	if err != nil {
		logger.WithError(err).Error("Failed to connect to database")
		return err
	}
	defer db.Close()

	if metrics != nil {
		metrics.StartDBStatsCollector(ctx, db, 15*time.Second)
	}

	if err := rbac.RunMigrations(ctx, db, logger); err != nil {
		logger.WithError(err).Error("Migrations failed")
		return err
	}

	roles := rbac.NewRoleStore(db, logger)
	assignments := rbac.NewAssignmentStore(db, logger)
	policies := rbac.NewPolicyStore(db, logger)

	bootstrapper := rbac.NewBootstrapper(roles, assignments, logger)
	if err := bootstrapper.Bootstrap(ctx, cfg.Admin.BootstrapUserIDs); err != nil {
		logger.WithError(err).Error("Bootstrap failed")
		return err
	}

	var cache *rbac.DecisionCache
	if cfg.Cache.Enabled {
		cache = rbac.NewDecisionCache(cfg.Cache.Size, cfg.Cache.TTL)
	}

	evaluatorOpts := []rbac.EvaluatorOption{}
	if cache != nil {
		evaluatorOpts = append(evaluatorOpts, rbac.WithCache(cache))
	}
	if metrics != nil {
		evaluatorOpts = append(evaluatorOpts, rbac.WithMetrics(metrics))
	}
	evaluator := rbac.NewEvaluator(assignments, policies, cfg.Admin, logger, evaluatorOpts...)
	manager := rbac.NewManager(roles, assignments, policies, cache, logger)

	auditLogger, err := audit.NewDBLogger(db, logger, metrics)
	if err != nil {
		logger.WithError(err).Error("Failed to create audit logger")
		return err
	}
	retention := audit.NewRetentionJob(auditLogger, logger, cfg.Audit.RetentionDays, cfg.Audit.CleanupSchedule)
	if err := retention.Start(); err != nil {
		logger.WithError(err).Error("Failed to start audit retention job")
		return err
	}

	var redisClient *redis.Client
	var rateLimit func(http.Handler) http.Handler
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rateLimit = middleware.NewDistributedRateLimitMiddleware(redisClient, logger).Handler
	} else {
		rateLimit = middleware.NewRateLimitMiddleware().Handler
	}

	server := api.NewServer(api.Config{
		Manager:       manager,
		Evaluator:     evaluator,
		Auth:          middleware.NewAuthMiddleware(auth.NewSessionValidator(db, logger), logger),
		AuditLogger:   auditLogger,
		AuditHandlers: audit.NewHandlers(auditLogger, logger),
		RateLimit:     rateLimit,
		Logger:        logger,
		Metrics:       metrics,
	})

	var handler http.Handler = server
	if cfg.Observability.OTel.Enabled {
		handler = otelhttp.NewHandler(server, "warden.api")
	}

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	health := observability.NewHealthChecker(db, redisClient)
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", health.Liveness)
	healthMux.HandleFunc("/readyz", health.Readiness)
	if metrics != nil {
		healthMux.Handle("/metrics", metrics.Handler())
	}
	healthServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: healthMux,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, healthServer)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		retention.Stop()
		return nil
	})
	if redisClient != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return redisClient.Close()
		})
	}
	if tracerProvider != nil {
		shutdown.RegisterShutdownFunc(tracerProvider.Shutdown)
	}

	group, _ := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Infof("API server listening on %s", apiServer.Addr)
		if err := apiServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		logger.Infof("Health server listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		return shutdown.WaitForShutdown()
	})

	if err := group.Wait(); err != nil {
		logger.WithError(err).Error("Server exited with error")
		return err
	}
	return nil
}
