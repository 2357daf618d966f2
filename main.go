package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/coder/quartz"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for migrations
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/ekaya-monitor/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-monitor/pkg/adapters/datasource/cassandra"
	"github.com/ekaya-inc/ekaya-monitor/pkg/adapters/datasource/mssql"
	"github.com/ekaya-inc/ekaya-monitor/pkg/adapters/datasource/mysql"
	"github.com/ekaya-inc/ekaya-monitor/pkg/adapters/datasource/postgres"
	"github.com/ekaya-inc/ekaya-monitor/pkg/adapters/datasource/redshift"
	"github.com/ekaya-inc/ekaya-monitor/pkg/adapters/datasource/sqlite"
	"github.com/ekaya-inc/ekaya-monitor/pkg/audit"
	"github.com/ekaya-inc/ekaya-monitor/pkg/cache"
	"github.com/ekaya-inc/ekaya-monitor/pkg/config"
	"github.com/ekaya-inc/ekaya-monitor/pkg/crypto"
	"github.com/ekaya-inc/ekaya-monitor/pkg/database"
	"github.com/ekaya-inc/ekaya-monitor/pkg/detectors"
	"github.com/ekaya-inc/ekaya-monitor/pkg/events"
	"github.com/ekaya-inc/ekaya-monitor/pkg/handlers"
	"github.com/ekaya-inc/ekaya-monitor/pkg/logging"
	"github.com/ekaya-inc/ekaya-monitor/pkg/metrics"
	"github.com/ekaya-inc/ekaya-monitor/pkg/middleware"
	"github.com/ekaya-inc/ekaya-monitor/pkg/notify"
	"github.com/ekaya-inc/ekaya-monitor/pkg/repositories"
	"github.com/ekaya-inc/ekaya-monitor/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

const (
	shutdownTimeout = 10 * time.Second
	archiveInterval = 24 * time.Hour
)

func main() {
	app := kingpin.New("ekaya-monitor", "Runs scheduled data checks and ad-hoc statements against configured data sources.")
	app.Version(Version)
	configPath := app.Flag("config", "Path to the YAML configuration file.").
		Short('c').Default("config.yaml").Envar("MONITOR_CONFIG").String()
	kingpin.MustParse(app.Parse(os.Args[1:]))

	cfg, err := config.Load(*configPath, Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting ekaya-monitor",
		zap.String("version", cfg.Version),
		zap.String("database", fmt.Sprintf("%s@%s:%d/%s", cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)),
		zap.Strings("schedules", cfg.Checks.Schedules),
		zap.Bool("audit", cfg.Audit),
		zap.String("cache", cfg.Cache.Backend))

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Monitor stopped", zap.Error(err))
	}
	logger.Info("Monitor stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	db, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	reg.MustRegister(database.NewPoolCollector(db.Stat))

	sources, err := openDataSources(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = sources.Close() }()

	store, closeStore, err := openCacheStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	resultCache := cache.New(store, cache.Options{
		Enabled:       cfg.Cache.Enabled,
		Mode:          cfg.Cache.Mode,
		SlowThreshold: cfg.Cache.SlowThreshold,
		Metrics:       m,
	}, logger)

	runner := services.NewRunController(sources, resultCache, services.RunControllerConfig{
		MaxAttempts:  cfg.Checks.MaxAttempts,
		RetryBackoff: cfg.Checks.RetryBackoff,
		CacheTTL:     cfg.Cache.ExpiresIn,
	}, logger)

	algorithms := detectors.NewRegistry()
	if err := detectors.RegisterBuiltins(algorithms); err != nil {
		return fmt.Errorf("failed to register algorithms: %w", err)
	}

	sink, closeSink, err := openEventSink(cfg, m, logger)
	if err != nil {
		return err
	}
	defer closeSink()

	delivery, err := newDelivery(cfg, logger)
	if err != nil {
		return err
	}

	checks := repositories.NewCheckRepository(db)
	queries := repositories.NewQueryRepository(db)
	audits := repositories.NewAuditRepository(db)

	checkService := services.NewCheckService(
		checks,
		queries,
		runner,
		algorithms,
		notify.NewRouter(delivery, m, logger),
		sink,
		services.CheckServiceConfig{
			Workers:         cfg.Checks.Workers,
			Renotify:        cfg.Checks.Renotify,
			AnomalyDetector: cfg.AnomalyChecks,
			Forecaster:      cfg.Forecasting,
		},
		logger,
	)
	queryService := services.NewQueryService(
		sources,
		runner,
		queries,
		audits,
		audit.NewSecurityAuditor(logger),
		services.QueryServiceConfig{Audit: cfg.Audit, Workers: cfg.Checks.Workers},
		logger,
	)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	handlers.NewHealthHandler(cfg, sources, db, logger).RegisterRoutes(mux)
	handlers.NewRunsHandler(queryService, cfg.Async, logger).RegisterRoutes(mux)
	handlers.NewChecksHandler(checkService, checks, logger).RegisterRoutes(mux)

	server := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           middleware.Chain(mux, middleware.Recoverer(logger), middleware.RequestLogger(logger, handlers.UserHeader)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	clock := quartz.NewReal()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", zap.String("addr", cfg.MetricsAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	for _, schedule := range cfg.Checks.Schedules {
		interval, err := config.ParseSchedule(schedule)
		if err != nil {
			return err
		}
		g.Go(func() error {
			every(gctx, clock, interval, func(ctx context.Context) {
				if _, err := checkService.RunChecks(ctx, schedule); err != nil {
					logger.Error("Scheduled check run failed", zap.String("schedule", schedule), zap.Error(err))
				}
			})
			return nil
		})
	}

	g.Go(func() error {
		every(gctx, clock, cfg.Checks.DigestInterval, func(ctx context.Context) {
			report, err := checkService.SendFailingChecks(ctx)
			if err != nil {
				logger.Error("Failing checks digest failed", zap.Error(err))
				return
			}
			logger.Info("Sent failing checks digest",
				zap.Int("sent", report.Sent),
				zap.Int("failed", len(report.Failures)))
		})
		return nil
	})

	if cfg.Audit {
		g.Go(func() error {
			every(gctx, clock, archiveInterval, func(ctx context.Context) {
				if _, err := queryService.ArchiveUnviewed(ctx); err != nil {
					logger.Error("Archiving unviewed queries failed", zap.Error(err))
				}
			})
			return nil
		})
	}

	return g.Wait()
}

// every calls fn each interval until ctx is done. A slow fn delays the next
// tick rather than overlapping it.
func every(ctx context.Context, clock quartz.Clock, interval time.Duration, fn func(context.Context)) {
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*database.DB, error) {
	connStr := cfg.Database.ConnectionString()

	sqlDB, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer sqlDB.Close()

	if err := database.RunMigrations(sqlDB, logger); err != nil {
		return nil, err
	}

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            connStr,
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func openDataSources(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*datasource.Set, error) {
	registry := datasource.NewRegistry()
	for _, register := range []func(*datasource.Registry) error{
		postgres.Register,
		redshift.Register,
		mysql.Register,
		mssql.Register,
		sqlite.Register,
		cassandra.Register,
	} {
		if err := register(registry); err != nil {
			return nil, fmt.Errorf("failed to register adapter: %w", err)
		}
	}

	var encryptor *crypto.CredentialEncryptor
	if cfg.CredentialsKey != "" {
		var err error
		encryptor, err = crypto.NewCredentialEncryptor(cfg.CredentialsKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create credentials encryptor: %w", err)
		}
	}

	sources, err := datasource.NewSet(ctx, registry, cfg.DataSources, cfg.Checks.Timeout, encryptor, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to configure data sources: %w", err)
	}
	return sources, nil
}

func openCacheStore(ctx context.Context, cfg *config.Config) (cache.Store, func(), error) {
	if cfg.Cache.Backend != "redis" {
		return cache.NewMemoryStore(cfg.Cache.ExpiresIn), func() {}, nil
	}

	client, err := database.NewRedisClient(ctx, &cfg.Cache.Redis)
	if err != nil {
		return nil, nil, err
	}
	if client == nil {
		return nil, nil, fmt.Errorf("cache.backend is redis but cache.redis.addr is empty")
	}
	store := cache.NewRedisStore(client, cfg.Cache.Redis.Prefix, cfg.Cache.ExpiresIn)
	return store, func() { _ = client.Close() }, nil
}

func openEventSink(cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) (events.Sink, func(), error) {
	sinks := events.MultiSink{events.NewLogSink(logger), events.NewMetricsSink(m)}

	nc := cfg.Notifications.NATS
	if nc.URL == "" {
		return sinks, func() {}, nil
	}
	natsSink, err := events.ConnectNATS(nc.URL, nc.Subject)
	if err != nil {
		return nil, nil, err
	}
	return append(sinks, natsSink), natsSink.Close, nil
}

// newDelivery assigns only configured senders so a disabled channel is a nil
// interface rather than a typed nil.
func newDelivery(cfg *config.Config, logger *zap.Logger) (notify.Delivery, error) {
	delivery := &notify.MultiDelivery{Logger: logger}
	email, err := notify.NewEmailDelivery(cfg.Notifications.SMTP, logger)
	if err != nil {
		return nil, err
	}
	if email != nil {
		delivery.Email = email
	}
	if slack := notify.NewSlackDelivery(cfg.Notifications.Slack, nil, logger); slack != nil {
		delivery.Chat = slack
	}
	return delivery, nil
}
