package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	MCP         MCPConfig         `yaml:"mcp"`
	Auth        AuthConfig        `yaml:"auth"`
	RateLimiter RateLimiterConfig `yaml:"rate_limiter"`
	Cache       CacheConfig       `yaml:"cache"`
	Audit       AuditConfig       `yaml:"audit"`
	Log         LogConfig         `yaml:"log"`
	LogRequests bool              `yaml:"log_requests"`
	Store       StoreConfig       `yaml:"store"`
	ModelsFile  string            `yaml:"models_file"`
	Watch       WatchConfig       `yaml:"watch"`
	Events      EventsConfig      `yaml:"events"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Bridge      BridgeConfig      `yaml:"bridge"`
}

// ServerConfig controls HTTP server settings.
type ServerConfig struct {
	Address        string        `yaml:"address"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	TrustedProxies []string      `yaml:"trusted_proxies"`
}

// MCPConfig is the server identity reported by initialize.
type MCPConfig struct {
	Name         string `yaml:"name"`
	Version      string `yaml:"version"`
	Instructions string `yaml:"instructions"`
}

// Auth strategies.
const (
	AuthNone   = "none"
	AuthToken  = "token"
	AuthAPIKey = "api_key"
	AuthJWT    = "jwt"
)

// AuthConfig selects how MCP requests are authenticated.
type AuthConfig struct {
	Strategy    string        `yaml:"strategy"`
	Token       string        `yaml:"token"`
	APIKey      string        `yaml:"api_key"`
	JWKSURL     string        `yaml:"jwks_url"`
	Audience    []string      `yaml:"audience"`
	Issuer      string        `yaml:"issuer"`
	UserClaim   string        `yaml:"user_claim"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
	InsecureTLS bool          `yaml:"insecure_tls"`
}

// RateLimiterConfig defines per-client rate limiting behaviour.
type RateLimiterConfig struct {
	Enabled           bool          `yaml:"enabled"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	Burst             int           `yaml:"burst"`
	Window            time.Duration `yaml:"window"`
	RedisAddr         string        `yaml:"redis_addr"`
	RedisUsername     string        `yaml:"redis_username"`
	RedisPassword     string        `yaml:"redis_password"`
	RedisDB           int           `yaml:"redis_db"`
	MaxClients        int           `yaml:"max_clients"`
}

// CacheConfig configures ristretto caching of records.
type CacheConfig struct {
	Enabled     bool          `yaml:"enabled"`
	NumCounters int64         `yaml:"num_counters"`
	MaxCost     int64         `yaml:"max_cost"`
	BufferItems int64         `yaml:"buffer_items"`
	TTL         time.Duration `yaml:"ttl"`
}

// AuditConfig configures call auditing.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LogConfig configures the diagnostic logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver  string `yaml:"driver"`
	DSN     string `yaml:"dsn"`
	Migrate bool   `yaml:"migrate"`
}

// WatchConfig controls hot reload of the models file.
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// EventsConfig configures publication of record changes.
type EventsConfig struct {
	Driver       string   `yaml:"driver"`
	NatsURL      string   `yaml:"nats_url"`
	Subject      string   `yaml:"subject"`
	KafkaBrokers []string `yaml:"kafka_brokers"`
	Topic        string   `yaml:"topic"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

// BridgeConfig configures the stdio bridge.
type BridgeConfig struct {
	URL            string        `yaml:"url"`
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	Path           string        `yaml:"path"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	Debug          bool          `yaml:"debug"`
}

// Endpoint returns the URL the bridge forwards to.
func (b BridgeConfig) Endpoint() string {
	if b.URL != "" {
		return b.URL
	}
	path := b.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "http://" + net.JoinHostPort(b.Host, strconv.Itoa(b.Port)) + path
}

// Load reads configuration from the supplied path or returns defaults, then
// applies environment overrides.
func Load(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
				return Config{}, fmt.Errorf("unmarshal config: %w", err)
			}
		case !os.IsNotExist(err):
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks settings that cannot work together.
func (c Config) Validate() error {
	switch c.Auth.Strategy {
	case "", AuthNone:
	case AuthToken:
		if c.Auth.Token == "" {
			return fmt.Errorf("auth.token required for token strategy")
		}
	case AuthAPIKey:
		if c.Auth.APIKey == "" {
			return fmt.Errorf("auth.api_key required for api_key strategy")
		}
	case AuthJWT:
		if c.Auth.JWKSURL == "" {
			return fmt.Errorf("auth.jwks_url required for jwt strategy")
		}
	default:
		return fmt.Errorf("unknown auth strategy: %s", c.Auth.Strategy)
	}
	switch c.Events.Driver {
	case "", "nats", "kafka":
	default:
		return fmt.Errorf("unknown events driver: %s", c.Events.Driver)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Auth.Strategy = getenv("MCP_AUTH_STRATEGY", cfg.Auth.Strategy)
	cfg.Auth.Token = getenv("MCP_AUTH_TOKEN", cfg.Auth.Token)
	cfg.Auth.APIKey = getenv("MCP_API_KEY", cfg.Auth.APIKey)
	cfg.LogRequests = getbool("MCP_LOG_REQUESTS", cfg.LogRequests)
	cfg.Server.Address = getenv("MCP_ADDRESS", cfg.Server.Address)
	cfg.ModelsFile = getenv("MCP_MODELS", cfg.ModelsFile)
	cfg.Store.Driver = getenv("MCP_STORE_DRIVER", cfg.Store.Driver)
	cfg.Store.DSN = getenv("MCP_STORE_DSN", cfg.Store.DSN)

	cfg.Bridge.URL = getenv("MCP_URL", cfg.Bridge.URL)
	cfg.Bridge.Host = getenv("MCP_HOST", cfg.Bridge.Host)
	port := getenv("MCP_PORT", getenv("PORT", ""))
	if p, err := strconv.Atoi(port); err == nil && p > 0 {
		cfg.Bridge.Port = p
	}
	cfg.Bridge.Debug = getbool("MCP_DEBUG", cfg.Bridge.Debug)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getbool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:      ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 35 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		MCP: MCPConfig{
			Name:    "modelmcp",
			Version: "1.0.0",
		},
		Auth: AuthConfig{
			Strategy:  AuthNone,
			UserClaim: "sub",
			CacheTTL:  time.Hour,
		},
		RateLimiter: RateLimiterConfig{
			Enabled:           false,
			RequestsPerMinute: 100,
			Burst:             20,
			Window:            time.Minute,
			MaxClients:        10000,
		},
		Cache: CacheConfig{
			Enabled:     false,
			NumCounters: 1e4,
			MaxCost:     1 << 26,
			BufferItems: 64,
			TTL:         time.Minute,
		},
		Audit: AuditConfig{Enabled: true},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Store: StoreConfig{
			Driver:  "memory",
			Migrate: true,
		},
		ModelsFile: "models.yaml",
		Watch: WatchConfig{
			Enabled:  true,
			Debounce: 500 * time.Millisecond,
		},
		Events: EventsConfig{
			NatsURL:      "nats://localhost:4222",
			Subject:      "modelmcp.records",
			KafkaBrokers: []string{"localhost:9092"},
			Topic:        "modelmcp.records",
		},
		Telemetry: TelemetryConfig{
			Endpoint:    "otelcol:4317",
			ServiceName: "modelmcp",
		},
		Bridge: BridgeConfig{
			Host:           "localhost",
			Port:           8080,
			Path:           "/mcp",
			ConnectTimeout: 10 * time.Second,
			ReadTimeout:    30 * time.Second,
		},
	}
}
