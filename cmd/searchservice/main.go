package main

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/example/findx/internal/config"
	"github.com/example/findx/internal/marketplace/repository"
	"github.com/example/findx/internal/marketplace/search"
	"github.com/example/findx/pkg/observability"
)

// searchservice answers nearby queries over gRPC and REST from the shared
// marketplace database, optionally through the Redis GEO index the
// marketplace process maintains.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadSearch()
	logger := observability.SetupLogger("search-service", cfg.LogLevel)
	defer logger.Sync() //nolint:errcheck
	if err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		os.Exit(1)
	}

	shutdown, err := observability.SetupTracer(ctx, "search-service")
	if err != nil {
		logger.Warn("tracer setup failed", zap.Error(err))
	} else {
		defer shutdown(context.Background())
	}

	db, err := sql.Open("pgx", cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("postgres connect", zap.Error(err))
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		logger.Fatal("postgres ping", zap.Error(err))
	}
	checks := map[string]observability.Check{"postgres": db.PingContext}

	repo := repository.NewPostgresRepository(db)
	var source search.CandidateSource = search.NewRepositorySource(repo)
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, scanning storage", zap.Error(err))
		} else {
			source = search.NewRedisGeoIndex(client, cfg.RedisGeoKey, repo, source)
			checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		}
	}
	engine := search.NewEngine(source, search.EngineConfig{
		DefaultRadiusKM: cfg.SearchDefaultRadiusKM,
		MaxResults:      cfg.SearchMaxResults,
	})

	grpcSrv := grpc.NewServer()
	search.RegisterSearchServer(grpcSrv, search.NewServer(engine))
	go runGRPC(logger, grpcSrv, cfg.GRPCAddr)

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: restRouter(engine, checks), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("search REST listening", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("search rest server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()
}

func restRouter(engine *search.Engine, checks map[string]observability.Check) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID, chimiddleware.Recoverer, observability.HTTPMetrics)
	r.Mount("/observability", observability.MetricsRouter(checks))
	r.Get("/v1/offers/nearby", search.NearbyHandler(engine))
	return r
}

func runGRPC(logger *zap.Logger, srv *grpc.Server, addr string) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Fatal("listen grpc", zap.Error(err))
	}
	logger.Info("search grpc listening", zap.String("addr", lis.Addr().String()))
	if err := srv.Serve(lis); err != nil {
		logger.Fatal("grpc serve", zap.Error(err))
	}
}
