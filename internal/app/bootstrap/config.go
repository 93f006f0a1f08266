package bootstrap

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/netip"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/akibul079/demo-sop-hub/internal/adapters/security"
)

const (
	EnvPrefix         = "IDENTITY_"
	DefaultConfigPath = "configs/default.yaml"

	StoreDriverMemory   = "memory"
	StoreDriverPostgres = "postgres"
	TokenDriverMemory   = "memory"
	TokenDriverRedis    = "redis"
	MailDriverLog       = "log"
	MailDriverRedis     = "redis"
)

// Config is the resolved runtime configuration. The yaml tags follow
// configs/default.yaml and the env tags are read with the IDENTITY_ prefix.
type Config struct {
	ServiceID   string `yaml:"service_id" env:"SERVICE_ID"`
	LogLevel    string `yaml:"log_level" env:"LOG_LEVEL"`
	HTTPPort    int    `yaml:"http_port" env:"HTTP_PORT"`
	GRPCPort    int    `yaml:"grpc_port" env:"GRPC_PORT"`
	FrontendURL string `yaml:"frontend_url" env:"FRONTEND_URL"`
	RedisURL    string `yaml:"redis_url" env:"REDIS_URL"`

	Store     StoreConfig     `yaml:"store"`
	Tokens    TokenConfig     `yaml:"tokens"`
	Session   SessionConfig   `yaml:"session"`
	Password  PasswordConfig  `yaml:"password"`
	OAuth     OAuthConfig     `yaml:"oauth"`
	Mail      MailConfig      `yaml:"mail"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type StoreConfig struct {
	Driver      string `yaml:"driver" env:"STORE_DRIVER"`
	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL"`
	MaxConns    int    `yaml:"max_conns" env:"DB_MAX_CONNS"`
}

type TokenConfig struct {
	Driver           string        `yaml:"driver" env:"TOKEN_STORE_DRIVER"`
	VerificationTTL  time.Duration `yaml:"verification_ttl" env:"VERIFICATION_TTL"`
	ResetTTL         time.Duration `yaml:"reset_ttl" env:"RESET_TTL"`
	RevokeSuperseded bool          `yaml:"revoke_superseded" env:"REVOKE_SUPERSEDED"`
}

type SessionConfig struct {
	Secret                string        `yaml:"secret" env:"SESSION_SECRET"`
	TTL                   time.Duration `yaml:"ttl" env:"SESSION_TTL"`
	AllowEphemeralSecret  bool          `yaml:"allow_ephemeral_secret" env:"ALLOW_EPHEMERAL_SECRET"`
	ActivityTouchInterval time.Duration `yaml:"activity_touch_interval" env:"ACTIVITY_TOUCH_INTERVAL"`
}

type PasswordConfig struct {
	MinLength  int `yaml:"min_length" env:"PASSWORD_MIN_LENGTH"`
	BcryptCost int `yaml:"bcrypt_cost" env:"BCRYPT_COST"`
}

type OAuthConfig struct {
	GoogleClientID            string `yaml:"google_client_id" env:"GOOGLE_CLIENT_ID"`
	GoogleIssuerURL           string `yaml:"google_issuer_url" env:"GOOGLE_ISSUER_URL"`
	LinkRequiresVerifiedEmail bool   `yaml:"link_requires_verified_email" env:"OAUTH_LINK_REQUIRES_VERIFIED_EMAIL"`
}

type MailConfig struct {
	Driver string `yaml:"driver" env:"MAIL_DRIVER"`
	Stream string `yaml:"stream" env:"MAIL_STREAM"`
}

type RateLimitConfig struct {
	RPS               float64  `yaml:"rps" env:"RATE_LIMIT_RPS"`
	Burst             int      `yaml:"burst" env:"RATE_LIMIT_BURST"`
	TrustForwardedFor bool     `yaml:"trust_forwarded_for" env:"RATE_LIMIT_TRUST_FORWARDED_FOR"`
	TrustedProxies    []string `yaml:"trusted_proxies" env:"RATE_LIMIT_TRUSTED_PROXIES" envSeparator:","`
}

func defaultConfig() Config {
	return Config{
		ServiceID:   "sop-hub-identity",
		LogLevel:    "info",
		HTTPPort:    8080,
		GRPCPort:    9090,
		FrontendURL: "http://localhost:3000",
		Store: StoreConfig{
			Driver:   StoreDriverMemory,
			MaxConns: 20,
		},
		Tokens: TokenConfig{
			Driver:           TokenDriverMemory,
			VerificationTTL:  24 * time.Hour,
			ResetTTL:         time.Hour,
			RevokeSuperseded: true,
		},
		Session: SessionConfig{
			TTL:                   192 * time.Hour,
			ActivityTouchInterval: time.Minute,
		},
		Password: PasswordConfig{
			MinLength:  8,
			BcryptCost: 12,
		},
		OAuth: OAuthConfig{
			GoogleIssuerURL: "https://accounts.google.com",
		},
		Mail: MailConfig{
			Driver: MailDriverLog,
			Stream: "notifications:email",
		},
		RateLimit: RateLimitConfig{
			RPS:   5,
			Burst: 10,
		},
	}
}

// ConfigPathFromEnv returns CONFIG_PATH or the bundled default file.
func ConfigPathFromEnv() string {
	if p := strings.TrimSpace(os.Getenv("CONFIG_PATH")); p != "" {
		return p
	}
	return DefaultConfigPath
}

// LoadConfig resolves configuration in priority order: defaults, then the
// YAML file, then a local .env file, then IDENTITY_ environment variables.
// A missing file at either step is not an error.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	c.Tokens.Driver = strings.ToLower(strings.TrimSpace(c.Tokens.Driver))
	c.Mail.Driver = strings.ToLower(strings.TrimSpace(c.Mail.Driver))
	c.FrontendURL = strings.TrimRight(strings.TrimSpace(c.FrontendURL), "/")
}

// Validate rejects configurations the runtime cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("http_port %d out of range", c.HTTPPort))
	}
	if c.GRPCPort <= 0 || c.GRPCPort > 65535 {
		errs = append(errs, fmt.Errorf("grpc_port %d out of range", c.GRPCPort))
	}
	if _, err := parseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.Store.Driver {
	case StoreDriverMemory:
	case StoreDriverPostgres:
		if c.Store.DatabaseURL == "" {
			errs = append(errs, errors.New("store.database_url is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}
	switch c.Tokens.Driver {
	case TokenDriverMemory:
	case TokenDriverRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("redis_url is required for the redis token store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown tokens.driver %q", c.Tokens.Driver))
	}
	switch c.Mail.Driver {
	case MailDriverLog:
	case MailDriverRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("redis_url is required for the redis mail driver"))
		}
		if strings.TrimSpace(c.Mail.Stream) == "" {
			errs = append(errs, errors.New("mail.stream is required for the redis mail driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown mail.driver %q", c.Mail.Driver))
	}
	switch {
	case c.Session.Secret == "" && !c.Session.AllowEphemeralSecret:
		errs = append(errs, errors.New("session.secret is required unless session.allow_ephemeral_secret is set"))
	case c.Session.Secret != "" && len(c.Session.Secret) < security.MinSecretBytes:
		errs = append(errs, fmt.Errorf("session.secret must be at least %d bytes", security.MinSecretBytes))
	}
	if c.Session.TTL <= 0 {
		errs = append(errs, errors.New("session.ttl must be positive"))
	}
	if c.Tokens.VerificationTTL <= 0 || c.Tokens.ResetTTL <= 0 {
		errs = append(errs, errors.New("token ttls must be positive"))
	}
	if c.Password.BcryptCost < security.MinBcryptCost || c.Password.BcryptCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Errorf("password.bcrypt_cost must be between %d and %d", security.MinBcryptCost, bcrypt.MaxCost))
	}
	if c.Password.MinLength < 1 {
		errs = append(errs, errors.New("password.min_length must be at least 1"))
	}
	if u, err := url.Parse(c.FrontendURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("frontend_url %q must be an absolute URL", c.FrontendURL))
	}
	if c.OAuth.GoogleClientID != "" && c.OAuth.GoogleIssuerURL == "" {
		errs = append(errs, errors.New("oauth.google_issuer_url is required when google sign-in is enabled"))
	}
	if c.RateLimit.RPS < 0 {
		errs = append(errs, errors.New("rate_limit.rps must not be negative"))
	}
	for _, proxy := range c.RateLimit.TrustedProxies {
		if !validProxy(strings.TrimSpace(proxy)) {
			errs = append(errs, fmt.Errorf("rate_limit.trusted_proxies entry %q is not an IP or CIDR", proxy))
		}
	}
	if len(c.RateLimit.TrustedProxies) > 0 && !c.RateLimit.TrustForwardedFor {
		errs = append(errs, errors.New("rate_limit.trusted_proxies requires rate_limit.trust_forwarded_for"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func validProxy(raw string) bool {
	if strings.Contains(raw, "/") {
		_, err := netip.ParsePrefix(raw)
		return err == nil
	}
	_, err := netip.ParseAddr(raw)
	return err == nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log_level %q", raw)
	}
	return level, nil
}
