package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ephemeral-gateway/config"
	"ephemeral-gateway/ephemeral"
	"ephemeral-gateway/logging"
	dedupmw "ephemeral-gateway/middleware/dedup"
	"ephemeral-gateway/middleware/httpcache"
	"ephemeral-gateway/middleware/ratelimit"
	"ephemeral-gateway/middleware/ratelimit/domain"
	"ephemeral-gateway/middleware/ratelimit/infra"

	"github.com/redis/go-redis/v9"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", os.Getenv("GATEWAY_CONFIG"), "arquivo de configuração (YAML ou TOML)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	slog.SetDefault(logger)

	target, err := url.Parse(cfg.Server.UpstreamURL)
	if err != nil {
		return fmt.Errorf("invalid upstream url: %w", err)
	}

	layer, err := ephemeral.New[httpcache.Response](cfg, logger)
	if err != nil {
		return err
	}

	memStats := infra.NewMemoryStatsStore()
	var stats domain.StatsStore = memStats
	var redisStats *infra.RedisStatsStore
	if cfg.Stats.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Stats.Redis.Addr,
			Password: cfg.Stats.Redis.Password,
			DB:       cfg.Stats.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		cancel()
		if err != nil {
			return fmt.Errorf("redis stats ping: %w", err)
		}

		r := cfg.Stats.Redis
		redisStats = infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(r.Prefix),
			infra.WithStatsTTL(r.TTL.Duration),
			infra.WithStatsBucket(r.Bucket),
			infra.WithStatsTrackKeys(r.TrackKeys),
		)
		stats = infra.MultiStats{memStats, redisStats}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	layer.Start(ctx)
	layer.StartStatsLogger(ctx, cfg.Stats.LogInterval.Duration)

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error("proxy error", "request_id", RequestIDFrom(r.Context()), "path", r.URL.Path, "error", err)
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	keyFn := ratelimit.DefaultKeyFunc(cfg.RateLimit.IdentityHeader, cfg.RateLimit.TrustXFF)
	concurrency := ratelimit.NewConcurrency(ratelimit.ConcurrencyOptions{
		Max:            cfg.Concurrency.Max,
		RejectStatus:   http.StatusServiceUnavailable,
		AcquireTimeout: cfg.Concurrency.AcquireTimeout.Duration,
	})

	// de dentro para fora: proxy <- cache <- dedup <- concorrência <- classes <- global
	h := http.Handler(proxy)
	if cfg.Cache.Enabled {
		h = httpcache.Middleware(httpcache.Options{
			Store:  layer.Cache,
			TTL:    cfg.Cache.ResponseTTL.Duration,
			KeyFn:  keyFn,
			Logger: logger,
		})(h)
	}
	if cfg.Dedup.Enabled {
		h = dedupmw.Middleware(dedupmw.Options{
			Checker: layer.Dedup,
			Header:  cfg.Dedup.EventHeader,
			KeyFn:   keyFn,
			Logger:  logger,
		})(h)
	}
	h = concurrency.Middleware(h)

	base := ratelimit.Options{
		Stats:               stats,
		KeyFn:               keyFn,
		AddRateLimitHeaders: cfg.RateLimit.AddHeaders,
		Logger:              logger,
	}
	if cfg.RateLimit.Enabled {
		classes := make([]ratelimit.RouteClass, 0, len(layer.Classes()))
		for _, c := range layer.Classes() {
			classes = append(classes, ratelimit.RouteClass{
				Name:       c.Name,
				PathPrefix: c.PathPrefix,
				Limiter:    c.Limiter,
				Message:    c.Rule.Message,
				Status:     c.Rule.Status,
			})
		}
		h = ratelimit.ByRouteClass(classes, base)(h)
	}
	if cfg.RateLimit.Global.Enabled {
		bucket := infra.NewTokenBucketStore(cfg.RateLimit.Global.RPS, cfg.RateLimit.Global.Burst,
			infra.WithBucketCleanupEvery(cfg.RateLimit.CleanupInterval.Duration))
		bucket.StartJanitor(ctx)
		global := base
		global.Class = "global"
		global.Limiter = bucket
		h = ratelimit.Middleware(global)(h)
	}

	mux := http.NewServeMux()
	if cfg.Server.StatsPath != "" {
		deps := statsDeps{layer: layer, mem: memStats, concurrency: concurrency, logger: logger}
		if redisStats != nil {
			deps.redis = redisStats
		}
		mux.Handle(cfg.Server.StatsPath, statsHandler(deps))
	}
	mux.Handle("/", h)

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           requestID(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("gateway listening", "addr", cfg.Server.ListenAddr, "upstream", target.String())
	logger.Info("rate limit",
		"enabled", cfg.RateLimit.Enabled,
		"classes", len(layer.Classes()),
		"identity_header", cfg.RateLimit.IdentityHeader,
		"trust_xff", cfg.RateLimit.TrustXFF,
		"global", cfg.RateLimit.Global.Enabled,
	)
	logger.Info("cache", "enabled", cfg.Cache.Enabled, "ceiling", cfg.Cache.HardCeiling.Duration, "response_ttl", cfg.Cache.ResponseTTL.Duration)
	logger.Info("dedup", "enabled", cfg.Dedup.Enabled, "header", cfg.Dedup.EventHeader, "window", cfg.Dedup.Window.Duration)
	logger.Info("stats", "path", cfg.Server.StatsPath, "redis", cfg.Stats.Redis.Enabled, "log_interval", cfg.Stats.LogInterval.Duration)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}
