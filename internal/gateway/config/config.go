package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"github.com/quirck3n/refugio-gateway/pkg/redis"
)

// Logical backend names.
const (
	ServiceCore     = "core"
	ServiceGraphQL  = "graphql"
	ServicePayments = "payments"
	ServiceAuth     = "auth"
	ServiceChat     = "chat"
)

var ErrMissingSecret = errors.New("JWT_SECRET is required")

type Config struct {
	Server    ServerConfig
	Auth      AuthConfig
	Services  ServicesConfig
	RateLimit RateLimitConfig
	Upstream  UpstreamConfig
	Health    HealthConfig
	Redis     redis.Config
	Log       LogConfig
	CORS      CORSConfig
	// RoutesFile optionally replaces the built-in route table.
	RoutesFile   string
	EventsStream string
}

type ServerConfig struct {
	Port         string
	Version      string
	ReadTimeout  int
	WriteTimeout int
	// MaxBodySize caps proxied request bodies in bytes. Zero disables the cap.
	MaxBodySize int64
}

type AuthConfig struct {
	JWTSecret string
	Issuer    string
	Audience  string
	ExpiresIn time.Duration
}

type ServicesConfig struct {
	Registry map[string]ServiceInfo
}

type ServiceInfo struct {
	URL string
}

type Tier struct {
	Name  string
	TTL   time.Duration
	Limit int
}

type RateLimitConfig struct {
	Tiers      []Tier
	Store      string
	MaxClients int
}

type UpstreamConfig struct {
	Timeout time.Duration
	Retries int
}

type HealthConfig struct {
	Path     string
	Timeout  time.Duration
	Interval time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type CORSConfig struct {
	AllowedOrigins []string
}

// Load reads configuration from the environment, after loading an optional
// .env file. It fails when required values are missing or malformed.
func Load() (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	e := &env{}
	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "3000"),
			Version:      getEnv("GATEWAY_VERSION", "1.0.0"),
			ReadTimeout:  e.getInt("SERVER_READ_TIMEOUT", 15),
			WriteTimeout: e.getInt("SERVER_WRITE_TIMEOUT", 35),
			MaxBodySize:  e.getInt64("MAX_BODY_SIZE", 32<<20),
		},
		Auth: AuthConfig{
			JWTSecret: os.Getenv("JWT_SECRET"),
			Issuer:    getEnv("JWT_ISSUER", ""),
			Audience:  getEnv("JWT_AUDIENCE", ""),
			ExpiresIn: e.getDuration("JWT_EXPIRES_IN", 24*time.Hour),
		},
		Services: ServicesConfig{
			Registry: parseServices(),
		},
		RateLimit: RateLimitConfig{
			Tiers: []Tier{
				{Name: "short", TTL: e.getDuration("RATE_LIMIT_SHORT_TTL", time.Second), Limit: e.getInt("RATE_LIMIT_SHORT_LIMIT", 10)},
				{Name: "medium", TTL: e.getDuration("RATE_LIMIT_MEDIUM_TTL", 10*time.Second), Limit: e.getInt("RATE_LIMIT_MEDIUM_LIMIT", 50)},
				{Name: "long", TTL: e.getDuration("RATE_LIMIT_LONG_TTL", time.Minute), Limit: e.getInt("RATE_LIMIT_LONG_LIMIT", 100)},
			},
			Store:      getEnv("RATE_LIMIT_STORE", "memory"),
			MaxClients: e.getInt("RATE_LIMIT_MAX_CLIENTS", 100000),
		},
		Upstream: UpstreamConfig{
			Timeout: e.getDuration("UPSTREAM_TIMEOUT", 30*time.Second),
			Retries: e.getInt("UPSTREAM_RETRIES", 0),
		},
		Health: HealthConfig{
			Path:     getEnv("HEALTH_CHECK_PATH", "/health"),
			Timeout:  e.getDuration("HEALTH_CHECK_TIMEOUT", 5*time.Second),
			Interval: e.getDuration("HEALTH_CHECK_INTERVAL", 0),
		},
		Redis: redis.Config{
			URL:      getEnv("REDIS_URL", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       e.getInt("REDIS_DB", 0),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
		},
		RoutesFile:   getEnv("ROUTES_FILE", ""),
		EventsStream: getEnv("EVENTS_STREAM", "gateway-events"),
	}

	if err := multierr.Append(e.err, cfg.Validate()); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var err error

	if c.Auth.JWTSecret == "" {
		err = multierr.Append(err, ErrMissingSecret)
	}
	if c.Server.Port == "" {
		err = multierr.Append(err, errors.New("PORT must not be empty"))
	}
	for name, svc := range c.Services.Registry {
		u, perr := url.Parse(svc.URL)
		if perr != nil || u.Scheme == "" || u.Host == "" {
			err = multierr.Append(err, fmt.Errorf("service %s: invalid base URL %q", name, svc.URL))
		}
	}
	if len(c.RateLimit.Tiers) == 0 {
		err = multierr.Append(err, errors.New("at least one rate limit tier is required"))
	}
	for _, tier := range c.RateLimit.Tiers {
		if tier.TTL <= 0 || tier.Limit <= 0 {
			err = multierr.Append(err, fmt.Errorf("rate limit tier %s: ttl and limit must be positive", tier.Name))
		}
	}
	switch c.RateLimit.Store {
	case "memory":
	case "redis":
		if c.Redis.URL == "" {
			err = multierr.Append(err, errors.New("RATE_LIMIT_STORE=redis requires REDIS_URL"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("unknown RATE_LIMIT_STORE %q", c.RateLimit.Store))
	}
	if c.Upstream.Timeout <= 0 {
		err = multierr.Append(err, errors.New("UPSTREAM_TIMEOUT must be positive"))
	}
	if c.Upstream.Retries < 0 {
		err = multierr.Append(err, errors.New("UPSTREAM_RETRIES must not be negative"))
	}
	if c.Health.Timeout <= 0 {
		err = multierr.Append(err, errors.New("HEALTH_CHECK_TIMEOUT must be positive"))
	}
	// The server must outlive the upstream deadline to write the 504.
	if write := time.Duration(c.Server.WriteTimeout) * time.Second; write > 0 && c.Upstream.Timeout >= write {
		err = multierr.Append(err, fmt.Errorf("UPSTREAM_TIMEOUT (%s) must be shorter than SERVER_WRITE_TIMEOUT (%s)", c.Upstream.Timeout, write))
	}
	if c.Server.MaxBodySize < 0 {
		err = multierr.Append(err, errors.New("MAX_BODY_SIZE must not be negative"))
	}

	return err
}

// ServiceURLs returns logical service name to base URL.
func (c *Config) ServiceURLs() map[string]string {
	urls := make(map[string]string, len(c.Services.Registry))
	for name, svc := range c.Services.Registry {
		urls[name] = svc.URL
	}
	return urls
}

func parseServices() map[string]ServiceInfo {
	defaults := map[string]struct{ env, url string }{
		ServiceCore:     {"CORE_SERVICE_URL", "http://localhost:3001"},
		ServiceGraphQL:  {"GRAPHQL_SERVICE_URL", "http://localhost:3002"},
		ServicePayments: {"PAYMENTS_SERVICE_URL", "http://localhost:3003"},
		ServiceAuth:     {"AUTH_SERVICE_URL", "http://localhost:3004"},
		ServiceChat:     {"CHAT_SERVICE_URL", "http://localhost:3005"},
	}

	services := make(map[string]ServiceInfo, len(defaults))
	for name, d := range defaults {
		services[name] = ServiceInfo{URL: strings.TrimRight(getEnv(d.env, d.url), "/")}
	}
	return services
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// env reads typed values from the environment and collects every malformed
// one instead of falling back silently.
type env struct {
	err error
}

func (e *env) getInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		e.err = multierr.Append(e.err, fmt.Errorf("%s: invalid integer %q", key, value))
		return defaultValue
	}
	return n
}

func (e *env) getInt64(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		e.err = multierr.Append(e.err, fmt.Errorf("%s: invalid integer %q", key, value))
		return defaultValue
	}
	return n
}

// getDuration accepts Go durations ("30s") or a bare number of milliseconds.
func (e *env) getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	e.err = multierr.Append(e.err, fmt.Errorf("%s: invalid duration %q", key, value))
	return defaultValue
}
