package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/circlepot/rosca-service/internal/api"
	"github.com/circlepot/rosca-service/internal/app"
	"github.com/circlepot/rosca-service/internal/config"
	"github.com/circlepot/rosca-service/internal/domain"
	"github.com/circlepot/rosca-service/internal/store"
	"github.com/circlepot/rosca-service/pkg/logging"
	"github.com/circlepot/rosca-service/pkg/rabbitmq"
)

var configPath string

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the keeper scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.Setup()
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("config load failed: %w", err)
			}
			if cfg.JWTSecret == "" {
				return errors.New("JWT_SECRET must be configured")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, logger)
		},
	}
}

func runServe(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("starting rosca service", "port", cfg.ServerPort)

	repo, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer repo.Close()
	if err := repo.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	logger.Info("database connected", "dialect", repo.Dialect().String())

	// Events go to the event log always and to RabbitMQ when it is reachable.
	var publisher rabbitmq.Publisher = &rabbitmq.EventProducerFallback{Logger: logger}
	if cfg.RabbitMQURL != "" {
		producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, logger)
		if err != nil {
			logger.Warn("rabbitmq producer unavailable; using fallback", "error", err)
		} else {
			publisher = producer
			logger.Info("rabbitmq producer connected")
		}
	} else {
		logger.Warn("rabbitmq url missing; events are only written to the event log", "env", "RABBITMQ_URL")
	}
	defer publisher.Close()
	events := app.NewEventDispatcher(repo, publisher, cfg.EventsExchange, logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := app.NewMetrics(registry)

	owner := domain.NormalizeAddress(cfg.OwnerAddress)
	circleEngine := domain.NormalizeAddress(cfg.CircleEngineAddress)
	goalEngine := domain.NormalizeAddress(cfg.GoalEngineAddress)
	keeper := domain.NormalizeAddress(cfg.KeeperAddress)

	reputation := app.NewReputationService(owner, app.DefaultReputationDeltas(), repo, events, logger)
	if err := reputation.Restore(ctx); err != nil {
		return err
	}
	for _, engine := range []domain.Address{circleEngine, goalEngine} {
		if !reputation.IsAuthorized(engine) {
			if err := reputation.Authorize(ctx, owner, engine); err != nil {
				return fmt.Errorf("failed to authorize %s as reputation caller: %w", engine, err)
			}
		}
	}

	bank := store.NewSQLBank(repo)
	policy := app.DefaultPolicy()
	policy.MinContribution = cfg.MinContributionMinor
	policy.MinMembers = cfg.MinMembers
	policy.MaxMembersCap = cfg.MaxMembers
	policy.CollateralMultiplierBps = cfg.CollateralMultiplier
	policy.ForfeitPenaltyBps = cfg.ForfeitPenaltyBps
	policy.VotingDelay = cfg.VotingDelay()
	policy.EnrollmentTimeout = cfg.EnrollmentTimeout()

	var keepers []domain.Address
	if cfg.KeeperEnabled && !keeper.IsZero() {
		keepers = append(keepers, keeper)
	}
	circles := app.NewCircleService(app.CircleServiceConfig{
		Address: circleEngine,
		Owner:   owner,
		Keepers: keepers,
		Policy:  policy,
	}, app.NewCustodyLedger(bank, domain.NormalizeAddress(cfg.CircleCustodyAddress)), reputation, repo, events, metrics, logger)
	if err := circles.Restore(ctx); err != nil {
		return err
	}

	goals := app.NewGoalService(app.GoalServiceConfig{
		Address:  goalEngine,
		Owner:    owner,
		Treasury: domain.NormalizeAddress(cfg.TreasuryAddress),
	}, app.NewCustodyLedger(bank, domain.NormalizeAddress(cfg.GoalCustodyAddress)), reputation, repo, events, metrics, logger)
	if err := goals.Restore(ctx); err != nil {
		return err
	}

	var limiter api.RateLimiter
	if cfg.RateLimitPerMinute > 0 {
		if client := connectRedis(ctx, cfg.RedisURL, logger); client != nil {
			defer client.Close()
			limiter = app.NewRedisRateLimiter(client, cfg.RedisRateLimitPrefix)
		}
	}

	if cfg.KeeperEnabled {
		scheduler := app.NewScheduler(app.NewJobs(circles, keeper, logger), logger, app.Schedules{
			OverdueRounds:    cfg.OverdueJobSchedule,
			AbandonedCircles: cfg.AbandonedJobSchedule,
		})
		if n := scheduler.Start(); n == 0 {
			logger.Warn("no keeper jobs scheduled")
		}
		defer func() { <-scheduler.Stop().Done() }()
	}

	handlers := api.NewHandlers(api.HandlersConfig{
		Circles:            circles,
		Goals:              goals,
		Reputation:         reputation,
		Bank:               bank,
		Events:             repo,
		Owner:              owner,
		CurrencyDecimals:   cfg.CurrencyDecimals,
		DevDepositsEnabled: cfg.DevDepositsEnabled,
		Logger:             logger,
	})
	router := api.NewRouter(handlers, api.RouterConfig{
		JWTSecret:          cfg.JWTSecret,
		AllowedOrigins:     splitOrigins(cfg.CORSAllowedOrigins),
		Limiter:            limiter,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Metrics:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Logger:             logger,
	})

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("rosca service listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("could not start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down rosca service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// connectRedis returns a connected client, or nil when Redis is not configured or not
// reachable. Rate limiting is disabled in that case.
func connectRedis(ctx context.Context, url string, logger *slog.Logger) *redis.Client {
	if strings.TrimSpace(url) == "" {
		logger.Warn("redis url missing; rate limiting disabled", "env", "REDIS_URL")
		return nil
	}
	options, err := redis.ParseURL(url)
	if err != nil {
		logger.Warn("redis url parse failed; rate limiting disabled", "error", err)
		return nil
	}
	client := redis.NewClient(options)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis ping failed; rate limiting disabled", "error", err)
		client.Close()
		return nil
	}
	logger.Info("redis connected")
	return client
}

func splitOrigins(raw string) []string {
	var out []string
	for _, origin := range strings.Split(raw, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			out = append(out, origin)
		}
	}
	return out
}
