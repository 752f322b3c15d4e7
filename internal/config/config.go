package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "COMPROBANTES_"

type Config struct {
	App struct {
		// dev | prod
		Env      string `yaml:"env"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"app"`

	Server struct {
		Addr               string   `yaml:"addr"`
		GRPCAddr           string   `yaml:"grpc_addr"`
		CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
		MaxBodyBytes       int64    `yaml:"max_body_bytes"`
		ShutdownTimeout    string   `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Storage struct {
		// memory | postgres
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"storage"`

	Cache struct {
		// memory | redis | off
		Driver string `yaml:"driver"`
		TTL    string `yaml:"ttl"`
		Redis  struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	Auth struct {
		Secret   string `yaml:"secret"`
		Issuer   string `yaml:"issuer"`
		TokenTTL string `yaml:"token_ttl"`
	} `yaml:"auth"`

	Rate struct {
		Enabled bool    `yaml:"enabled"`
		RPS     float64 `yaml:"rps"`
		Burst   int     `yaml:"burst"`
	} `yaml:"rate"`

	// Bootstrap creates the first administrator when no user with that
	// email exists.
	Bootstrap struct {
		AdminName     string `yaml:"admin_name"`
		AdminEmail    string `yaml:"admin_email"`
		AdminPassword string `yaml:"admin_password"`
	} `yaml:"bootstrap"`
}

// Load reads .env (if present), the YAML file at path (if non-empty), then
// COMPROBANTES_* environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var c Config
	if path == "" {
		path = os.Getenv(envPrefix + "CONFIG")
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}

	c.applyEnvOverrides()
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.GRPCAddr == "" {
		c.Server.GRPCAddr = ":9090"
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 1 << 20
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "10s"
	}
	if c.Storage.Driver == "" {
		if c.Storage.DSN != "" {
			c.Storage.Driver = "postgres"
		} else {
			c.Storage.Driver = "memory"
		}
	}
	if c.Cache.Driver == "" {
		c.Cache.Driver = "memory"
	}
	if c.Cache.TTL == "" {
		c.Cache.TTL = "5m"
	}
	if c.Cache.Redis.Prefix == "" {
		c.Cache.Redis.Prefix = "comprobantes"
	}
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "comprobantes"
	}
	if c.Auth.TokenTTL == "" {
		c.Auth.TokenTTL = "12h"
	}
	if c.Rate.RPS == 0 {
		c.Rate.RPS = 20
	}
	if c.Rate.Burst == 0 {
		c.Rate.Burst = 40
	}
	if c.Bootstrap.AdminName == "" {
		c.Bootstrap.AdminName = "Administrator"
	}
}

func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("ENV"); ok {
		c.App.Env = v
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.App.LogLevel = v
	}
	if v, ok := getEnvStr("HTTP_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr("GRPC_ADDR"); ok {
		c.Server.GRPCAddr = v
	}
	if v, ok := getEnvStr("CORS_ORIGINS"); ok {
		c.Server.CORSAllowedOrigins = splitList(v)
	}
	if v, ok := getEnvStr("STORAGE_DRIVER"); ok {
		c.Storage.Driver = v
	}
	if v, ok := getEnvStr("PG_DSN"); ok {
		c.Storage.DSN = v
	}
	if v, ok := getEnvStr("CACHE_DRIVER"); ok {
		c.Cache.Driver = v
	}
	if v, ok := getEnvStr("CACHE_TTL"); ok {
		c.Cache.TTL = v
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Cache.Redis.Addr = v
	}
	if v, ok := getEnvStr("REDIS_PASSWORD"); ok {
		c.Cache.Redis.Password = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Cache.Redis.DB = v
	}
	if v, ok := getEnvStr("AUTH_SECRET"); ok {
		c.Auth.Secret = v
	}
	if v, ok := getEnvStr("TOKEN_TTL"); ok {
		c.Auth.TokenTTL = v
	}
	if v, ok := getEnvBool("RATE_LIMIT"); ok {
		c.Rate.Enabled = v
	}
	if v, ok := getEnvStr("BOOTSTRAP_ADMIN_EMAIL"); ok {
		c.Bootstrap.AdminEmail = v
	}
	if v, ok := getEnvStr("BOOTSTRAP_ADMIN_PASSWORD"); ok {
		c.Bootstrap.AdminPassword = v
	}
}

// Validate checks driver names, durations and the secrets prod refuses to
// run without.
func (c *Config) Validate() error {
	var errs []error
	switch c.App.Env {
	case "dev", "prod":
	default:
		errs = append(errs, fmt.Errorf("app.env: unknown value %q", c.App.Env))
	}
	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			errs = append(errs, errors.New("storage.dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown value %q", c.Storage.Driver))
	}
	switch c.Cache.Driver {
	case "memory", "off":
	case "redis":
		if strings.TrimSpace(c.Cache.Redis.Addr) == "" {
			errs = append(errs, errors.New("cache.redis.addr is required for the redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.driver: unknown value %q", c.Cache.Driver))
	}
	for name, value := range map[string]string{
		"cache.ttl":               c.Cache.TTL,
		"auth.token_ttl":          c.Auth.TokenTTL,
		"server.shutdown_timeout": c.Server.ShutdownTimeout,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if strings.TrimSpace(c.Auth.Secret) == "" {
		if c.App.Env == "prod" {
			errs = append(errs, errors.New("auth.secret is required in prod"))
		} else {
			c.Auth.Secret = "dev-secret-only"
		}
	}
	return errors.Join(errs...)
}

// CacheTTL, TokenTTL and ShutdownTimeout are valid after Load.
func (c *Config) CacheTTL() time.Duration        { return mustDuration(c.Cache.TTL) }
func (c *Config) TokenTTL() time.Duration        { return mustDuration(c.Auth.TokenTTL) }
func (c *Config) ShutdownTimeout() time.Duration { return mustDuration(c.Server.ShutdownTimeout) }

func mustDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(envPrefix + key))
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(s); err == nil {
			return i, true
		}
	}
	return 0, false
}

func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(s); err == nil {
			return b, true
		}
	}
	return false, false
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
