package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	SessionStoreCookie   = "cookie"
	SessionStoreDatabase = "database"
	SessionStoreRedis    = "redis"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"http_server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Backend       BackendConfig       `mapstructure:"backend"`
	Session       SessionConfig       `mapstructure:"session"`
	Portal        PortalConfig        `mapstructure:"portal"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Environment   string              `mapstructure:"environment"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	LoginRatePerMin   int           `mapstructure:"login_rate_per_min"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Source          string        `mapstructure:"source"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	TLS      bool   `mapstructure:"tls"`
}

// BackendConfig points at the external fleet backend that owns users, roles and vehicles.
type BackendConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type SessionConfig struct {
	Store        string        `mapstructure:"store"`
	Secret       string        `mapstructure:"secret"`
	CookieName   string        `mapstructure:"cookie_name"`
	CookieDomain string        `mapstructure:"cookie_domain"`
	Insecure     bool          `mapstructure:"insecure_cookie"`
	TTL          time.Duration `mapstructure:"ttl"`
	LogoutWindow time.Duration `mapstructure:"logout_window"`
}

type PortalConfig struct {
	SignInURL    string   `mapstructure:"sign_in_url"`
	HomeRoute    string   `mapstructure:"home_route"`
	StaticDir    string   `mapstructure:"static_dir"`
	PublicRoutes []string `mapstructure:"public_routes"`
	ExemptRoutes []string `mapstructure:"exempt_routes"`
}

type ObservabilityConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfigFromEnv builds the configuration for container deployments where no config file is mounted.
func LoadConfigFromEnv() *Config {
	cfg := &Config{
		Environment: getEnv("APP_ENV", "production"),
		Server: ServerConfig{
			Port:              getEnvAsInt("HTTP_PORT", 8080),
			BaseURL:           getEnv("HTTP_BASE_URL", ""),
			AllowedOrigins:    getEnv("HTTP_ALLOWED_ORIGINS", ""),
			ReadHeaderTimeout: getEnvAsDuration("HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getEnvAsDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvAsDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
			WriteTimeout:      getEnvAsDuration("HTTP_WRITE_TIMEOUT", 15*time.Second),
			LoginRatePerMin:   getEnvAsInt("HTTP_LOGIN_RATE_PER_MIN", 10),
		},
		Database: DatabaseConfig{
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
			Source:          getEnv("DB_SOURCE", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			TLS:      getEnv("REDIS_TLS", "false") == "true",
		},
		Backend: BackendConfig{
			BaseURL: getEnv("BACKEND_BASE_URL", ""),
			Timeout: getEnvAsDuration("BACKEND_TIMEOUT", 10*time.Second),
		},
		Session: SessionConfig{
			Store:        getEnv("SESSION_STORE", SessionStoreCookie),
			Secret:       getEnv("SESSION_SECRET", ""),
			CookieName:   getEnv("SESSION_COOKIE_NAME", "portal_session"),
			CookieDomain: getEnv("SESSION_COOKIE_DOMAIN", ""),
			Insecure:     getEnv("SESSION_INSECURE_COOKIE", "false") == "true",
			TTL:          getEnvAsDuration("SESSION_TTL", 24*time.Hour),
			LogoutWindow: getEnvAsDuration("SESSION_LOGOUT_WINDOW", 1500*time.Millisecond),
		},
		Portal: PortalConfig{
			SignInURL:    getEnv("PORTAL_SIGN_IN_URL", ""),
			HomeRoute:    getEnv("PORTAL_HOME_ROUTE", "/dashboard"),
			StaticDir:    getEnv("PORTAL_STATIC_DIR", "./web"),
			PublicRoutes: splitList(getEnv("PORTAL_PUBLIC_ROUTES", "/signin,/forgot-password")),
			ExemptRoutes: splitList(getEnv("PORTAL_EXEMPT_ROUTES", "/profile")),
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: getEnv("METRICS_ENABLED", "true") == "true",
				Path:    getEnv("METRICS_PATH", "/metrics"),
			},
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		},
	}
	return cfg
}

// ApplyDefaults fills the values a config file is allowed to omit.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.LoginRatePerMin == 0 {
		c.Server.LoginRatePerMin = 10
	}
	if c.Backend.Timeout <= 0 {
		c.Backend.Timeout = 10 * time.Second
	}
	if c.Session.Store == "" {
		c.Session.Store = SessionStoreCookie
	}
	if c.Session.CookieName == "" {
		c.Session.CookieName = "portal_session"
	}
	if c.Session.TTL <= 0 {
		c.Session.TTL = 24 * time.Hour
	}
	if c.Session.LogoutWindow <= 0 {
		c.Session.LogoutWindow = 1500 * time.Millisecond
	}
	if c.Portal.HomeRoute == "" {
		c.Portal.HomeRoute = "/dashboard"
	}
	if len(c.Portal.PublicRoutes) == 0 {
		c.Portal.PublicRoutes = []string{"/signin", "/forgot-password"}
	}
	if len(c.Portal.ExemptRoutes) == 0 {
		c.Portal.ExemptRoutes = []string{"/profile"}
	}
	if c.Observability.Metrics.Path == "" {
		c.Observability.Metrics.Path = "/metrics"
	}
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
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

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Backend.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("backend config: %v", err))
	}

	if err := c.Session.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("session config: %v", err))
	}

	if err := c.Portal.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("portal config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	switch c.Session.Store {
	case SessionStoreDatabase:
		if c.Database.Source == "" {
			errs = append(errs, "session config: database store requires database.source")
		}
	case SessionStoreRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, "session config: redis store requires redis.addr")
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.AllowedOrigins != "" {
		for _, origin := range c.Origins() {
			if origin == "*" {
				continue
			}
			if _, err := url.Parse(origin); err != nil {
				return fmt.Errorf("invalid allowed origin %s: %w", origin, err)
			}
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

// Origins splits the comma separated allowed_origins value.
func (c *ServerConfig) Origins() []string {
	return splitList(c.AllowedOrigins)
}

func (c *BackendConfig) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base_url is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid base_url %q", c.BaseURL)
	}
	return nil
}

func (c *SessionConfig) Validate() error {
	switch c.Store {
	case SessionStoreCookie, SessionStoreDatabase, SessionStoreRedis:
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	if len(c.Secret) < 32 {
		return errors.New("session secret must be at least 32 characters")
	}
	return nil
}

func (c *PortalConfig) Validate() error {
	if c.SignInURL == "" {
		return errors.New("sign_in_url is required")
	}
	if _, err := url.Parse(c.SignInURL); err != nil {
		return fmt.Errorf("invalid sign_in_url: %w", err)
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}
