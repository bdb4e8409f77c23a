package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ephemeral-gateway/config"
	"ephemeral-gateway/ephemeral"
	"ephemeral-gateway/logging"
	"ephemeral-gateway/middleware/ratelimit"
)

func main() {
	// Exemplo: usando o layer efêmero direto no seu webserver (sem proxy)
	cfg := config.Default()
	cfg.Server.UpstreamURL = "embedded"
	cfg.RateLimit.IdentityHeader = "X-User-Id"
	cfg.RateLimit.Classes = append([]config.RouteClass{{
		Name:        "quiz",
		PathPrefix:  "/quiz",
		Window:      config.Duration{Duration: time.Minute},
		MaxRequests: 30,
	}}, cfg.RateLimit.Classes...)

	logger := logging.New(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"), os.Stderr)

	layer, err := ephemeral.New[[]Score](cfg, logger)
	if err != nil {
		logger.Error("ephemeral layer", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	layer.Start(ctx)
	layer.StartStatsLogger(ctx, time.Minute)

	app := newQuizApp(layer, logger)

	classes := make([]ratelimit.RouteClass, 0, len(layer.Classes()))
	for _, c := range layer.Classes() {
		classes = append(classes, ratelimit.RouteClass{Name: c.Name, PathPrefix: c.PathPrefix, Limiter: c.Limiter, Message: c.Rule.Message, Status: c.Rule.Status})
	}

	h := app.routes()
	h = ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{Max: 50})(h)
	h = ratelimit.ByRouteClass(classes, ratelimit.Options{
		IdentityHeader:      cfg.RateLimit.IdentityHeader,
		TrustXForwardedFor:  true,
		AddRateLimitHeaders: true,
		Logger:              logger,
	})(h)

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("example server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
