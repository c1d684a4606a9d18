package main

import (
	"context"
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
	"google.golang.org/grpc/credentials/insecure"

	"github.com/example/findx/internal/config"
	"github.com/example/findx/internal/gateway"
	ratelimitmw "github.com/example/findx/internal/http/middleware"
	"github.com/example/findx/internal/marketplace/search"
	"github.com/example/findx/pkg/observability"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadGateway()
	logger := observability.SetupLogger("api-gateway", cfg.LogLevel)
	defer logger.Sync() //nolint:errcheck
	if err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		os.Exit(1)
	}

	shutdown, err := observability.SetupTracer(ctx, "api-gateway")
	if err != nil {
		logger.Warn("tracer setup failed", zap.Error(err))
	} else {
		defer shutdown(context.Background())
	}

	checks := map[string]observability.Check{}
	redisClient := newRedisClient(ctx, cfg.RedisAddr, logger)
	var limiter *ratelimitmw.RateLimiter
	if redisClient != nil {
		defer redisClient.Close()
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
		limiter = ratelimitmw.NewRateLimiter(redisClient, "rl", ratelimitmw.Limits{
			Read:    ratelimitmw.RateConfig{Rate: cfg.ReadRPS, Burst: cfg.ReadBurst},
			Write:   ratelimitmw.RateConfig{Rate: cfg.WriteRPS, Burst: cfg.WriteBurst},
			Search:  ratelimitmw.RateConfig{Rate: cfg.SearchRPS, Burst: cfg.SearchBurst},
			Booking: ratelimitmw.RateConfig{Rate: cfg.BookingRPS, Burst: cfg.BookingBurst},
			Auth:    ratelimitmw.RateConfig{Rate: cfg.AuthRPS, Burst: cfg.AuthBurst},
		}, logger.Named("ratelimit"))
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID, chimiddleware.RealIP, chimiddleware.Logger, chimiddleware.Recoverer, observability.HTTPMetrics)
	r.Mount("/observability", observability.MetricsRouter(checks))

	r.Group(func(r chi.Router) {
		r.Use(limiter.Middleware)
		if cfg.SearchGRPCAddr != "" {
			conn, err := grpc.Dial(cfg.SearchGRPCAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				logger.Fatal("search grpc dial", zap.Error(err))
			}
			defer conn.Close()
			searcher := gateway.SearchClient{Client: search.NewClient(conn)}
			r.Get("/v1/offers/nearby", gateway.NearbyHandler(searcher, logger.Named("search")))
		}
		r.Handle("/v1/*", gateway.Proxy(cfg.MarketplaceURL, &http.Client{Timeout: 15 * time.Second}, logger.Named("proxy")))
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("api gateway listening", zap.String("addr", srv.Addr), zap.String("upstream", cfg.MarketplaceURL))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func newRedisClient(ctx context.Context, addr string, logger *zap.Logger) *redis.Client {
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping failed, rate limiting disabled", zap.Error(err))
		_ = client.Close()
		return nil
	}
	return client
}
