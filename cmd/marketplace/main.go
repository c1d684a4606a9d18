package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/example/findx/internal/auth"
	"github.com/example/findx/internal/config"
	"github.com/example/findx/internal/marketplace/domain"
	"github.com/example/findx/internal/marketplace/handler"
	"github.com/example/findx/internal/marketplace/repository"
	"github.com/example/findx/internal/marketplace/search"
	"github.com/example/findx/internal/marketplace/service"
	outboxworker "github.com/example/findx/internal/outbox"
	"github.com/example/findx/pkg/observability"
	outboxpkg "github.com/example/findx/pkg/outbox"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadMarketplace()
	logger := observability.SetupLogger("marketplace", cfg.LogLevel)
	defer logger.Sync() //nolint:errcheck
	if err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		os.Exit(1)
	}

	shutdown, err := observability.SetupTracer(ctx, "marketplace")
	if err != nil {
		logger.Warn("tracer setup failed", zap.Error(err))
	} else {
		defer shutdown(context.Background())
	}

	checks := map[string]observability.Check{}

	var db *sql.DB
	if cfg.PostgresDSN != "" {
		db, err = sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			logger.Fatal("postgres connect", zap.Error(err))
		}
		db.SetMaxOpenConns(10)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			logger.Fatal("postgres ping", zap.Error(err))
		}
		defer db.Close()
		checks["postgres"] = db.PingContext
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis ping", zap.Error(err))
		}
		defer redisClient.Close()
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		if conn, err := nats.Connect(cfg.NATSURL, nats.Name("marketplace")); err == nil {
			natsConn = conn
			defer conn.Drain()
		} else {
			logger.Warn("nats connection failed", zap.Error(err))
		}
	}

	repo, events := buildStorage(ctx, db, natsConn, cfg, logger)
	source, index := buildSearch(ctx, redisClient, repo, cfg, logger)

	var idem domain.IdempotencyRepository = repository.NewMemoryIdempotencyRepo()
	if redisClient != nil {
		idem = repository.NewRedisIdempotencyRepo(redisClient, "", cfg.IdempotencyTTL)
	}

	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL)
	deps := service.Deps{
		Repo:        repo,
		Events:      events,
		Clock:       domain.SystemClock{},
		Idempotency: idem,
		Search: search.NewEngine(source, search.EngineConfig{
			DefaultRadiusKM: cfg.SearchDefaultRadiusKM,
			MaxResults:      cfg.SearchMaxResults,
		}),
		Index:     index,
		Tokens:    issuer,
		Passwords: auth.NewBcryptHasher(0),
		Logger:    logger.Named("service"),
	}
	svc := service.New(deps, service.Config{
		StrictLifecycle:       cfg.StrictLifecycle,
		TransitionMaxAttempts: cfg.TransitionMaxAttempts,
	})

	r := chi.NewRouter()
	r.Use(observability.HTTPMetrics)
	r.Mount("/observability", observability.MetricsRouter(checks))
	r.Mount("/", handler.NewHTTP(svc, issuer, logger.Named("http")).Router())

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if db != nil && natsConn != nil {
		worker := outboxworker.NewWorker(db, natsConn, logger.Named("outbox"), outboxworker.WorkerConfig{
			PollInterval: cfg.OutboxPoll,
			BatchSize:    cfg.OutboxBatch,
			RetryMax:     cfg.OutboxRetry,
		})
		go func() {
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("outbox worker stopped", zap.Error(err))
			}
		}()
	} else {
		logger.Warn("outbox worker disabled", zap.Bool("db", db != nil), zap.Bool("nats", natsConn != nil))
	}

	go func() {
		logger.Info("marketplace listening", zap.String("addr", srv.Addr), zap.Bool("strict_lifecycle", cfg.StrictLifecycle))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// buildStorage picks Postgres with the outbox table when a database
// is configured, otherwise memory storage publishing straight to NATS.
func buildStorage(ctx context.Context, db *sql.DB, natsConn *nats.Conn, cfg config.Marketplace, logger *zap.Logger) (domain.Repository, domain.EventPublisher) {
	if db != nil {
		pg := repository.NewPostgresRepository(db)
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
		return pg, repository.NewOutboxWriter(db, cfg.NATSSubject)
	}
	logger.Warn("no database configured, using in-memory storage")
	mem := repository.NewMemoryRepository()
	if natsConn != nil {
		return mem, outboxpkg.NewPublisher(natsConn, cfg.NATSSubject)
	}
	return mem, mem
}

func buildSearch(ctx context.Context, redisClient *redis.Client, repo domain.Repository, cfg config.Marketplace, logger *zap.Logger) (search.CandidateSource, service.OfferIndex) {
	scan := search.NewRepositorySource(repo)
	if redisClient == nil {
		return scan, nil
	}
	index := search.NewRedisGeoIndex(redisClient, cfg.RedisGeoKey, repo, scan)
	n, err := index.Rebuild(ctx)
	if err != nil {
		logger.Warn("geo index rebuild failed, scanning storage instead", zap.Error(err))
		return scan, nil
	}
	logger.Info("geo index rebuilt", zap.Int("offers", n))
	return index, index
}
