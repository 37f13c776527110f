package config

import (
	"fmt"
	"strings"
	"time"
	// TIMEZONE must load on hosts without a zoneinfo database.
	_ "time/tzdata"

	"github.com/spf13/viper"
)

const (
	UpstreamREST     = "rest"
	UpstreamPostgres = "postgres"
)

type Config struct {
	Port            string        `mapstructure:"PORT"`
	Env             string        `mapstructure:"ENV"`
	AuthSigningKey  string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer      string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience    string        `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL     string        `mapstructure:"AUTH_JWKS_URL"`
	DevViewerID     string        `mapstructure:"DEV_VIEWER_ID"`
	DevViewerRole   string        `mapstructure:"DEV_VIEWER_ROLE"`
	UpstreamMode    string        `mapstructure:"UPSTREAM_MODE"`
	UpstreamBaseURL string        `mapstructure:"UPSTREAM_BASE_URL"`
	DatabaseURL     string        `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32         `mapstructure:"DB_MIN_CONNS"`
	DBSchema        string        `mapstructure:"DB_SCHEMA"`
	TimeZone        string        `mapstructure:"TIMEZONE"`
	SessionIdleTTL  time.Duration `mapstructure:"SESSION_IDLE_TTL"`
	LoginPath       string        `mapstructure:"LOGIN_PATH"`
	CORSOrigins     []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS    float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst  int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout  time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit       string        `mapstructure:"BODY_LIMIT"`
	TLSEnabled      bool          `mapstructure:"TLS_ENABLED"`
	TLSCertFile     string        `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile      string        `mapstructure:"TLS_KEY_FILE"`
}

var keys = []string{
	"PORT", "ENV",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL",
	"DEV_VIEWER_ID", "DEV_VIEWER_ROLE",
	"UPSTREAM_MODE", "UPSTREAM_BASE_URL",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_SCHEMA",
	"TIMEZONE", "SESSION_IDLE_TTL", "LOGIN_PATH",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"REQUEST_TIMEOUT", "BODY_LIMIT",
	"TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE",
}

// Load reads the environment and an optional .env file. It does not
// validate; call Validate before serving.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DEV_VIEWER_ID", "dev-professional")
	v.SetDefault("DEV_VIEWER_ROLE", "professional")
	v.SetDefault("UPSTREAM_MODE", UpstreamREST)
	v.SetDefault("UPSTREAM_BASE_URL", "http://localhost:8080/api")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DB_SCHEMA", "public")
	v.SetDefault("TIMEZONE", "America/Sao_Paulo")
	v.SetDefault("SESSION_IDLE_TTL", "30m")
	v.SetDefault("LOGIN_PATH", "/login")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "64K")

	// Unmarshal only sees env vars that are bound explicitly.
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	for i, o := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(o)
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Location loads the calendar-day zone used for "today" and date ranges.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

// RequireDatabase reports a missing DATABASE_URL.
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}

// Validate checks that the configuration is safe to serve with.
func (c *Config) Validate() error {
	switch c.UpstreamMode {
	case UpstreamREST:
		if c.UpstreamBaseURL == "" {
			return fmt.Errorf("UPSTREAM_BASE_URL is required when UPSTREAM_MODE is %q", UpstreamREST)
		}
	case UpstreamPostgres:
		if err := c.RequireDatabase(); err != nil {
			return fmt.Errorf("%w when UPSTREAM_MODE is %q", err, UpstreamPostgres)
		}
	default:
		return fmt.Errorf("UPSTREAM_MODE must be %q or %q, got %q", UpstreamREST, UpstreamPostgres, c.UpstreamMode)
	}

	if _, err := c.Location(); err != nil {
		return err
	}

	if !c.IsDev() && c.AuthSigningKey == "" && c.AuthJWKSURL == "" {
		return fmt.Errorf(
			"AUTH_SIGNING_KEY or AUTH_JWKS_URL must be set outside development (current ENV=%q). "+
				"Refusing to start without viewer authentication", c.Env)
	}

	if c.SessionIdleTTL <= 0 {
		return fmt.Errorf("SESSION_IDLE_TTL must be positive, got %s", c.SessionIdleTTL)
	}
	if c.LoginPath == "" || !strings.HasPrefix(c.LoginPath, "/") {
		return fmt.Errorf("LOGIN_PATH must be an absolute path, got %q", c.LoginPath)
	}

	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}
