package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/jtlresearchit/leaf/internal/analytics"
	"github.com/jtlresearchit/leaf/internal/catalog"
	"github.com/jtlresearchit/leaf/internal/gateway"
	"github.com/jtlresearchit/leaf/internal/indexer"
	"github.com/jtlresearchit/leaf/internal/query"
	"github.com/jtlresearchit/leaf/internal/searcher/assembler"
	"github.com/jtlresearchit/leaf/internal/searcher/handler"
	"github.com/jtlresearchit/leaf/pkg/config"
	apperrors "github.com/jtlresearchit/leaf/pkg/errors"
	"github.com/jtlresearchit/leaf/pkg/health"
	"github.com/jtlresearchit/leaf/pkg/kafka"
	"github.com/jtlresearchit/leaf/pkg/logger"
	"github.com/jtlresearchit/leaf/pkg/metrics"
	"github.com/jtlresearchit/leaf/pkg/middleware"
	"github.com/jtlresearchit/leaf/pkg/postgres"
	pkgredis "github.com/jtlresearchit/leaf/pkg/redis"
	"github.com/jtlresearchit/leaf/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	if err := run(cfg); err != nil {
		slog.Error("search service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("search service stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("starting dataset search service",
		"port", cfg.Server.Port,
		"allow_demographics", cfg.Search.AllowDemographics,
	)

	m := metrics.New(prometheus.DefaultRegisterer)
	checker := health.NewChecker()

	engine := indexer.NewEngine(
		indexer.WithMetrics(m),
		indexer.WithDemographicsAllowed(cfg.Search.AllowDemographics),
	)
	gw := gateway.New(engine, gateway.WithMetrics(m))
	defer gw.Close()
	checker.Register("search_worker", health.ErrCheck(gw.Err))

	var opts []handler.Option
	opts = append(opts, handler.WithRequestTimeout(cfg.Search.RequestTimeout))

	// PostgreSQL backs the catalog and saved queries. Without it the index is
	// fed through PUT /api/v1/datasets only.
	var reloader *catalog.Reloader
	if cfg.Postgres.Host != "" {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		defer db.Close()
		checker.Register("postgres", health.PingCheck(db.Ping))
		slog.Info("postgres connected", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)

		breaker := resilience.NewCircuitBreaker("catalog-store", resilience.CircuitBreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
			OnStateChange: func(name string, state resilience.State) {
				m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
			},
			IsFailure: func(err error) bool {
				return !errors.Is(err, apperrors.ErrNotFound) && !errors.Is(err, apperrors.ErrInvalidInput)
			},
		})
		var source catalog.Source = catalog.NewPostgresStore(db, breaker)
		var invalidator catalog.Invalidator

		if cfg.Redis.Addr != "" {
			rdb, err := pkgredis.NewClient(cfg.Redis)
			if err != nil {
				slog.Warn("redis unavailable, catalog snapshot disabled", "error", err)
				checker.Register("redis", health.Disabled(err.Error()))
			} else {
				defer rdb.Close()
				snapshots, err := catalog.NewSnapshotCache(rdb, source, cfg.Redis.CatalogTTL, m)
				if err != nil {
					return err
				}
				defer snapshots.Close()
				source, invalidator = snapshots, snapshots
				checker.Register("redis", health.OptionalPingCheck(rdb.Ping))
				slog.Info("catalog snapshot enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CatalogTTL)
			}
		} else {
			checker.Register("redis", health.Disabled("not configured"))
		}

		reloader = catalog.NewReloader(source, invalidator, gw)
		opts = append(opts, handler.WithReloader(reloader))

		validator := query.DefinitionValidator{MaxName: 200}
		opts = append(opts, handler.WithQueries(query.NewManager(query.NewPostgresStore(db), validator)))
	} else {
		checker.Register("postgres", health.Disabled("not configured"))
	}

	aggregator := analytics.NewAggregator()
	trackers := analytics.Trackers{aggregator}

	g, gctx := errgroup.WithContext(ctx)

	if len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.SearchEvents)
		defer producer.Close()
		collector := analytics.NewCollector(producer, 100, 5*time.Second)
		collector.Start(gctx)
		defer collector.Close()
		trackers = append(trackers, collector)
		slog.Info("search analytics publishing", "topic", cfg.Kafka.Topics.SearchEvents)

		if reloader != nil {
			consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.CatalogChanged, reloader.HandleChange())
			g.Go(func() error {
				return consumer.Start(gctx)
			})
			slog.Info("listening for catalog changes", "topic", cfg.Kafka.Topics.CatalogChanged)
		}
	}
	opts = append(opts, handler.WithTracker(trackers))

	if reloader != nil && cfg.Search.LoadCatalogOnStart {
		if err := loadCatalog(ctx, reloader, cfg.Search.RequestTimeout*6); err != nil {
			// The service stays up; the catalog can still be pushed or reloaded.
			slog.Error("initial catalog load failed", "error", err)
		}
	}

	mux := http.NewServeMux()
	handler.New(gw, opts...).Register(mux)
	mux.HandleFunc("GET /api/v1/analytics/stats", analytics.NewHandler(aggregator).Stats)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	mws := []func(http.Handler) http.Handler{
		middleware.RequestID,
		middleware.Metrics(m),
		middleware.CORS(middleware.DefaultCORSConfig(cfg.CORS.AllowOrigins)),
	}
	if cfg.RateLimit.Enabled {
		limiter := middleware.NewClientLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
		mws = append(mws, middleware.RateLimit(limiter))
		g.Go(func() error {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if n := limiter.Sweep(); n > 0 {
						slog.Debug("rate limiters swept", "removed", n)
					}
				}
			}
		})
	}
	mws = append(mws, middleware.Timeout(cfg.Server.WriteTimeout))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      middleware.Chain(mux, mws...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, prometheus.DefaultGatherer)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownMetrics(shutdownCtx)
		}()
	}

	g.Go(func() error {
		slog.Info("search service listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// loadCatalog retries the first catalog load so a database that is still
// starting does not leave the index empty.
func loadCatalog(ctx context.Context, r *catalog.Reloader, timeout time.Duration) error {
	return resilience.Retry(ctx, "initial-catalog-load", resilience.RetryConfig{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     15 * time.Second,
	}, func() error {
		_, err := resilience.CallWithTimeout(ctx, timeout, "catalog load", func(ctx context.Context) (assembler.Result, error) {
			return r.Reload(ctx, false)
		})
		return err
	})
}
