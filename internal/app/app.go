// Package app wires together every fleetctl component: configuration,
// infrastructure clients, the domain packages, and the background loops
// that drive discovery and scheduling.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/haloworks/fleetctl/internal/auth"
	"github.com/haloworks/fleetctl/internal/config"
	"github.com/haloworks/fleetctl/internal/httpserver"
	"github.com/haloworks/fleetctl/internal/notify"
	"github.com/haloworks/fleetctl/internal/oplog"
	"github.com/haloworks/fleetctl/internal/platform"
	"github.com/haloworks/fleetctl/internal/telemetry"
	"github.com/haloworks/fleetctl/pkg/controlapi"
	"github.com/haloworks/fleetctl/pkg/discovery"
	"github.com/haloworks/fleetctl/pkg/lease"
	"github.com/haloworks/fleetctl/pkg/orchestrator"
	"github.com/haloworks/fleetctl/pkg/probe"
	"github.com/haloworks/fleetctl/pkg/registry"
	"github.com/haloworks/fleetctl/pkg/schedule"
	"github.com/haloworks/fleetctl/pkg/status"
)

// Run connects to infrastructure, builds every domain component from cfg,
// and blocks serving HTTP and running the discovery/scheduler
// background loops until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting fleetctl", "listen", cfg.ListenAddr(), "cluster", cfg.ClusterName)

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	store := registry.NewStore(db)
	leases := lease.NewManager(rdb, logger, cfg.LeaseMaxRetries)

	instances, err := probe.NewEC2Prober(ctx, cfg.AWSRegion)
	if err != nil {
		return fmt.Errorf("initializing EC2 prober: %w", err)
	}
	nodePools, err := probe.NewEKSNodePoolProber(ctx, cfg.AWSRegion, cfg.ClusterName)
	if err != nil {
		return fmt.Errorf("initializing EKS node pool prober: %w", err)
	}
	clientset, err := probe.NewKubernetesClientset(cfg.KubeconfigPath)
	if err != nil {
		return fmt.Errorf("initializing kubernetes clientset: %w", err)
	}
	workloads := probe.NewK8sWorkloadProber(clientset)
	pods := probe.NewK8sPodProber(clientset)
	ingresses := probe.NewK8sIngressProber(clientset)
	httpProber := probe.NewHeadProber()

	// quickStatus bypasses the control API handler to avoid a construction
	// cycle (the orchestrator needs a QuickStatusFunc before the handler
	// that would otherwise provide it exists); it is the same single-HEAD
	// check behind /status/quick, shared by the stop protocol's co-tenant
	// check.
	quickStatus := func(ctx context.Context, appName string) (orchestrator.QuickStatus, error) {
		rec, err := store.GetApplication(ctx, appName)
		if err != nil {
			return orchestrator.QuickUnknown, err
		}
		if len(rec.Hostnames) == 0 {
			return orchestrator.QuickUnknown, nil
		}
		result := httpProber.Head(ctx, rec.Hostnames[0], cfg.QuickStatusTimeout)
		if result.Err != nil {
			return orchestrator.QuickDown, nil
		}
		if result.Code == http.StatusOK {
			return orchestrator.QuickUp, nil
		}
		return orchestrator.QuickDown, nil
	}

	slackNotifier := notify.NewSlackNotifier(cfg.SlackBotToken, cfg.SlackChannel, logger)
	if slackNotifier.IsEnabled() {
		logger.Info("slack operator notifications enabled", "channel", cfg.SlackChannel)
	} else {
		logger.Info("slack operator notifications disabled (SLACK_BOT_TOKEN not set)")
	}

	oplogWriter := oplog.NewWriter(store, logger, cfg.OperationLogTTL)
	oplogWriter.Start(ctx)
	defer oplogWriter.Close()

	orch := orchestrator.New(store, instances, nodePools, workloads, httpProber, leases, quickStatus, slackNotifier.Notify, oplogWriter, logger, orchestrator.Config{
		DBStartPollTimeout:   cfg.DBStartPollTimeout,
		DBStartPollInterval:  cfg.DBStartPollInterval,
		NodePoolScaleTimeout: cfg.NodePoolScaleTimeout,
		NodePoolPollInterval: cfg.NodePoolPollInterval,
		HTTPVerifyTimeout:    cfg.HTTPProbeTimeout,
		LeaseTTL:             cfg.LeaseTTL,
		OperationLogTTL:      cfg.OperationLogTTL,
	})

	aggregator := status.NewAggregator(instances, nodePools, workloads, pods, httpProber, cfg.AggregatorTimeout, cfg.HTTPProbeTimeout)

	reconciler := discovery.New(store, ingresses, instances, logger, cfg.NamespaceOverrides, cfg.NodePoolDefaults, cfg.TagAppNameKey, cfg.TagComponentKey, cfg.TagSharedKey)
	evaluator := schedule.New(store, orch, quickStatus, cfg.GlobalSchedule, cfg.SchedulerInterval, logger)

	// --- Auth ---

	sessionSecret := cfg.SessionSecret
	if sessionSecret == "" {
		sessionSecret = auth.GenerateDevSecret()
		logger.Warn("session: using auto-generated dev secret, set SESSION_SECRET in production")
	}
	sessionMgr, err := auth.NewSessionManager(sessionSecret, cfg.SessionMaxAge)
	if err != nil {
		return fmt.Errorf("creating session manager: %w", err)
	}

	var oidcAuth *auth.OIDCAuthenticator
	if cfg.OIDCIssuerURL != "" && cfg.OIDCClientID != "" {
		oidcAuth, err = auth.NewOIDCAuthenticator(ctx, cfg.OIDCIssuerURL, cfg.OIDCClientID)
		if err != nil {
			return fmt.Errorf("initializing OIDC authenticator: %w", err)
		}
		logger.Info("OIDC authentication enabled", "issuer", cfg.OIDCIssuerURL)
	} else {
		logger.Info("OIDC authentication disabled (OIDC_ISSUER_URL not set)")
	}

	var apikeyAuth *auth.APIKeyAuthenticator
	if cfg.APIKey != "" {
		apikeyAuth = auth.NewAPIKeyAuthenticator(cfg.APIKey)
	} else {
		logger.Info("API key authentication disabled (API_KEY not set)")
	}

	srv := httpserver.NewServer(httpserver.ServerConfig{
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	}, logger, db, rdb, metricsReg, sessionMgr, oidcAuth, apikeyAuth)

	// --- Public auth routes (pre-authentication) ---

	rateLimiter := auth.NewRateLimiter(rdb, 10, 15*time.Minute)
	if cfg.AdminPasswordHash != "" {
		loginHandler := auth.NewLoginHandler(sessionMgr, auth.LocalCredentials{
			Username:     cfg.AdminUsername,
			PasswordHash: []byte(cfg.AdminPasswordHash),
		}, logger, rateLimiter)
		srv.Router.Post("/auth/login", loginHandler.HandleLogin)
		srv.Router.Post("/auth/logout", loginHandler.HandleLogout)
		srv.Router.Get("/auth/me", loginHandler.HandleMe)
	} else {
		logger.Info("local admin login disabled (ADMIN_PASSWORD_HASH not set)")
	}

	// --- Domain routes ---

	controlHandler := controlapi.NewHandler(store, aggregator, orch, httpProber, cfg.QuickStatusTimeout, cfg.GlobalSchedule, logger)
	srv.APIRouter.Mount("/", controlHandler.Routes())

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("control API listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	go runDiscoveryLoop(ctx, reconciler, cfg.DiscoveryInterval, logger)
	go runHealthLoop(ctx, db, rdb, cfg.HealthInterval, logger)
	go store.RunSweepLoop(ctx, logger, cfg.HealthInterval)
	go func() {
		if err := evaluator.Run(ctx); err != nil {
			logger.Error("schedule evaluator exited", "error", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// runDiscoveryLoop runs one discovery pass immediately, then once per
// interval, until ctx is cancelled.
func runDiscoveryLoop(ctx context.Context, reconciler *discovery.Reconciler, interval time.Duration, logger *slog.Logger) {
	logger.Info("discovery reconciler started", "interval", interval)

	runOnce := func() {
		if err := reconciler.Run(ctx); err != nil {
			logger.Error("discovery run failed", "error", err)
			telemetry.DiscoveryRunsTotal.WithLabelValues("error").Inc()
			return
		}
		telemetry.DiscoveryRunsTotal.WithLabelValues("ok").Inc()
	}

	runOnce()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("discovery reconciler stopped")
			return
		case <-ticker.C:
			runOnce()
		}
	}
}

// runHealthLoop periodically pings Postgres and Redis outside the request
// path, so a dependency outage surfaces in logs/metrics even during a quiet
// period with no inbound traffic.
func runHealthLoop(ctx context.Context, db *pgxpool.Pool, rdb *redis.Client, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := db.Ping(ctx); err != nil {
				logger.Error("health check: database ping failed", "error", err)
			}
			if err := rdb.Ping(ctx).Err(); err != nil {
				logger.Error("health check: redis ping failed", "error", err)
			}
		}
	}
}
