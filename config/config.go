// Package config carrega a configuração do gateway.
//
// Ordem de precedência: defaults < arquivo (YAML ou TOML, com ${VAR} expandido)
// < variáveis de ambiente herdadas do gateway (LISTEN_ADDR, UPSTREAM_URL, ...).
package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server" toml:"server"`
	Logging     LoggingConfig     `yaml:"logging" toml:"logging"`
	Cache       CacheConfig       `yaml:"cache" toml:"cache"`
	RateLimit   RateLimitConfig   `yaml:"ratelimit" toml:"ratelimit"`
	Concurrency ConcurrencyConfig `yaml:"concurrency" toml:"concurrency"`
	Dedup       DedupConfig       `yaml:"dedup" toml:"dedup"`
	Stats       StatsConfig       `yaml:"stats" toml:"stats"`
}

type ServerConfig struct {
	ListenAddr  string `yaml:"listen_addr" toml:"listen_addr"`
	UpstreamURL string `yaml:"upstream_url" toml:"upstream_url"`
	// StatsPath expõe o retrato do estado efêmero ("" desliga).
	StatsPath string `yaml:"stats_path" toml:"stats_path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

type CacheConfig struct {
	Enabled       bool     `yaml:"enabled" toml:"enabled"`
	DefaultTTL    Duration `yaml:"default_ttl" toml:"default_ttl"`
	HardCeiling   Duration `yaml:"hard_ceiling" toml:"hard_ceiling"`
	SweepInterval Duration `yaml:"sweep_interval" toml:"sweep_interval"`
	// ResponseTTL é o TTL pedido para respostas GET do upstream.
	ResponseTTL Duration `yaml:"response_ttl" toml:"response_ttl"`
}

type RateLimitConfig struct {
	Enabled         bool         `yaml:"enabled" toml:"enabled"`
	IdentityHeader  string       `yaml:"identity_header" toml:"identity_header"`
	TrustXFF        bool         `yaml:"trust_xff" toml:"trust_xff"`
	AddHeaders      bool         `yaml:"add_headers" toml:"add_headers"`
	CleanupInterval Duration     `yaml:"cleanup_interval" toml:"cleanup_interval"`
	Global          GlobalConfig `yaml:"global" toml:"global"`
	Classes         []RouteClass `yaml:"classes" toml:"classes"`
}

// GlobalConfig é o token-bucket de suavização na frente das classes.
type GlobalConfig struct {
	Enabled bool    `yaml:"enabled" toml:"enabled"`
	RPS     float64 `yaml:"rps" toml:"rps"`
	Burst   int     `yaml:"burst" toml:"burst"`
}

type RouteClass struct {
	Name        string   `yaml:"name" toml:"name"`
	PathPrefix  string   `yaml:"path_prefix" toml:"path_prefix"`
	Window      Duration `yaml:"window" toml:"window"`
	MaxRequests int      `yaml:"max_requests" toml:"max_requests"`
	Message     string   `yaml:"message" toml:"message"`
	Status      int      `yaml:"status" toml:"status"`
}

type ConcurrencyConfig struct {
	Max            int      `yaml:"max" toml:"max"`
	AcquireTimeout Duration `yaml:"acquire_timeout" toml:"acquire_timeout"`
}

type DedupConfig struct {
	Enabled     bool     `yaml:"enabled" toml:"enabled"`
	EventHeader string   `yaml:"event_header" toml:"event_header"`
	Window      Duration `yaml:"window" toml:"window"`
	Retention   Duration `yaml:"retention" toml:"retention"`
	MaxTracked  int      `yaml:"max_tracked" toml:"max_tracked"`
}

type StatsConfig struct {
	LogInterval Duration    `yaml:"log_interval" toml:"log_interval"`
	Redis       RedisConfig `yaml:"redis" toml:"redis"`
}

type RedisConfig struct {
	Enabled   bool     `yaml:"enabled" toml:"enabled"`
	Addr      string   `yaml:"addr" toml:"addr"`
	Password  string   `yaml:"password" toml:"password"`
	DB        int      `yaml:"db" toml:"db"`
	Prefix    string   `yaml:"prefix" toml:"prefix"`
	TTL       Duration `yaml:"ttl" toml:"ttl"`
	Bucket    string   `yaml:"bucket" toml:"bucket"`
	TrackKeys bool     `yaml:"track_keys" toml:"track_keys"`
}

// Default devolve a configuração usada quando nada é informado.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			StatsPath:  "/_ephemeral/stats",
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Cache: CacheConfig{
			Enabled:       true,
			DefaultTTL:    Duration{5 * time.Minute},
			HardCeiling:   Duration{5 * time.Second},
			SweepInterval: Duration{5 * time.Second},
			ResponseTTL:   Duration{5 * time.Minute},
		},
		RateLimit: RateLimitConfig{
			Enabled:         true,
			AddHeaders:      true,
			CleanupInterval: Duration{time.Minute},
			Global:          GlobalConfig{RPS: 50, Burst: 100},
			Classes:         DefaultClasses(),
		},
		Concurrency: ConcurrencyConfig{Max: 100},
		Dedup: DedupConfig{
			Enabled:     true,
			EventHeader: "X-Event-Id",
			Window:      Duration{30 * time.Second},
			Retention:   Duration{time.Hour},
			MaxTracked:  1000,
		},
		Stats: StatsConfig{
			LogInterval: Duration{time.Minute},
			Redis: RedisConfig{
				Prefix: "ephemeral:stats",
				TTL:    Duration{24 * time.Hour},
				Bucket: "minute",
			},
		},
	}
}

// DefaultClasses são as classes de rota padrão.
func DefaultClasses() []RouteClass {
	return []RouteClass{
		{Name: "auth", PathPrefix: "/api/auth", Window: Duration{15 * time.Minute}, MaxRequests: 5,
			Message: "Too many authentication attempts, please try again later."},
		{Name: "payment", PathPrefix: "/api/payment", Window: Duration{time.Minute}, MaxRequests: 10,
			Message: "Too many payment requests, please try again later."},
		{Name: "notification", PathPrefix: "/api/notification", Window: Duration{time.Minute}, MaxRequests: 20},
		{Name: "general", PathPrefix: "/", Window: Duration{time.Minute}, MaxRequests: 100},
	}
}

// Load lê o arquivo em path (YAML ou TOML pela extensão), aplica as variáveis
// de ambiente e valida. path vazio usa só defaults + ambiente.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// classes do arquivo substituem as padrão, não se mesclam com elas
		cfg.RateLimit.Classes = nil
		if err := decode(path, expandEnvVars(string(data)), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
		if cfg.RateLimit.Classes == nil {
			cfg.RateLimit.Classes = DefaultClasses()
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func decode(path, data string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		_, err := toml.Decode(data, cfg)
		return err
	case ".yaml", ".yml", "":
		return yaml.Unmarshal([]byte(data), cfg)
	default:
		return fmt.Errorf("unsupported config extension %q", filepath.Ext(path))
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars troca ${VAR} pelo valor da variável (vazio se não existir).
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// Validate devolve o primeiro problema encontrado.
func (c *Config) Validate() error {
	if c.Server.UpstreamURL == "" {
		return errors.New("server.upstream_url is required (or UPSTREAM_URL)")
	}
	if c.Server.ListenAddr == "" {
		return errors.New("server.listen_addr is required")
	}
	if c.RateLimit.Global.Enabled {
		if c.RateLimit.Global.RPS <= 0 {
			return errors.New("ratelimit.global.rps must be > 0")
		}
		if c.RateLimit.Global.Burst <= 0 {
			return errors.New("ratelimit.global.burst must be > 0")
		}
	}

	seen := make(map[string]bool, len(c.RateLimit.Classes))
	for i, rc := range c.RateLimit.Classes {
		if rc.Name == "" {
			return fmt.Errorf("ratelimit.classes[%d].name is required", i)
		}
		if seen[rc.Name] {
			return fmt.Errorf("ratelimit.classes[%d]: duplicate class %q", i, rc.Name)
		}
		seen[rc.Name] = true
		if !strings.HasPrefix(rc.PathPrefix, "/") {
			return fmt.Errorf("ratelimit.classes[%d] (%s): path_prefix must start with /", i, rc.Name)
		}
		if rc.Window.Duration <= 0 {
			return fmt.Errorf("ratelimit.classes[%d] (%s): window must be > 0", i, rc.Name)
		}
		if rc.MaxRequests <= 0 {
			return fmt.Errorf("ratelimit.classes[%d] (%s): max_requests must be > 0", i, rc.Name)
		}
		if rc.Status != 0 && (rc.Status < 400 || rc.Status > 599) {
			return fmt.Errorf("ratelimit.classes[%d] (%s): status %d is not an error status", i, rc.Name, rc.Status)
		}
	}

	if c.Concurrency.Max < 0 {
		return errors.New("concurrency.max must be >= 0")
	}
	if c.Dedup.Enabled && strings.TrimSpace(c.Dedup.EventHeader) == "" {
		return errors.New("dedup.event_header is required when dedup is enabled")
	}
	if c.Stats.Redis.Enabled && strings.TrimSpace(c.Stats.Redis.Addr) == "" {
		return errors.New("stats.redis.addr is required when stats.redis.enabled=true")
	}
	return nil
}

// RejectStatus devolve o status da classe, 429 se não configurado.
func (rc RouteClass) RejectStatus() int {
	if rc.Status == 0 {
		return http.StatusTooManyRequests
	}
	return rc.Status
}
