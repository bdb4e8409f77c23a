package config

import (
	"os"
	"strconv"
	"time"
)

// applyEnv aplica as variáveis de ambiente do gateway por cima do arquivo.
func applyEnv(cfg *Config) {
	cfg.Server.ListenAddr = getenvDefault("LISTEN_ADDR", cfg.Server.ListenAddr)
	cfg.Server.UpstreamURL = getenvDefault("UPSTREAM_URL", cfg.Server.UpstreamURL)
	cfg.Logging.Level = getenvDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getenvDefault("LOG_FORMAT", cfg.Logging.Format)

	cfg.RateLimit.Enabled = getenvBoolDefault("RATE_ENABLED", cfg.RateLimit.Enabled)
	cfg.RateLimit.IdentityHeader = getenvDefault("RATE_KEY_HEADER", cfg.RateLimit.IdentityHeader)
	cfg.RateLimit.TrustXFF = getenvBoolDefault("TRUST_XFF", cfg.RateLimit.TrustXFF)
	cfg.RateLimit.AddHeaders = getenvBoolDefault("ADD_RATELIMIT_HEADERS", cfg.RateLimit.AddHeaders)
	cfg.RateLimit.Global.RPS = getenvFloatDefault("RATE_RPS", cfg.RateLimit.Global.RPS)
	cfg.RateLimit.Global.Burst = getenvIntDefault("RATE_BURST", cfg.RateLimit.Global.Burst)

	cfg.Concurrency.Max = getenvIntDefault("CONCURRENCY_MAX", cfg.Concurrency.Max)
	cfg.Concurrency.AcquireTimeout.Duration = getenvDurationDefault("CONCURRENCY_TIMEOUT", cfg.Concurrency.AcquireTimeout.Duration)

	cfg.Cache.HardCeiling.Duration = getenvDurationDefault("CACHE_HARD_CEILING", cfg.Cache.HardCeiling.Duration)

	cfg.Stats.Redis.Enabled = getenvBoolDefault("RATE_STATS_ENABLED", cfg.Stats.Redis.Enabled)
	cfg.Stats.Redis.Addr = getenvDefault("RATE_STATS_REDIS_ADDR", cfg.Stats.Redis.Addr)
	cfg.Stats.Redis.Password = getenvDefault("RATE_STATS_REDIS_PASSWORD", cfg.Stats.Redis.Password)
	cfg.Stats.Redis.DB = getenvIntDefault("RATE_STATS_REDIS_DB", cfg.Stats.Redis.DB)
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvFloatDefault(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
