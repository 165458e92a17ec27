package config

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ManuelReschke/PropNest/internal/pkg/env"
)

const (
	DriverMySQL  = "mysql"
	DriverMemory = "memory"

	IdempotencyBackendDB    = "db"
	IdempotencyBackendRedis = "redis"

	GatewayRazorpay = "razorpay"
	GatewaySandbox  = "sandbox"
)

type Config struct {
	App         AppConfig
	DB          DBConfig
	Cache       CacheConfig
	Gateway     GatewayConfig
	Archive     ArchiveConfig
	Idempotency IdempotencyConfig
	RateLimit   RateLimitConfig
}

type AppConfig struct {
	Host            string
	Port            string
	Env             string
	MetricsUser     string
	MetricsPassword string
}

func (c AppConfig) IsDev() bool { return c.Env == "dev" }

type DBConfig struct {
	Driver   string
	User     string
	Password string
	Host     string
	Port     string
	Name     string
}

// DSN returns the go-sql-driver/mysql data source name.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.Name)
}

type CacheConfig struct {
	Host       string
	Port       string
	Password   string
	CatalogTTL time.Duration
}

func (c CacheConfig) Addr() string { return c.Host + ":" + c.Port }

// GatewayCredentials are the secrets of one payment gateway account.
type GatewayCredentials struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	BaseURL       string
}

type GatewayConfig struct {
	Default  string
	Enabled  []string
	Razorpay GatewayCredentials
	Sandbox  GatewayCredentials
}

// Credentials returns the credentials of a named gateway.
func (c GatewayConfig) Credentials(name string) (GatewayCredentials, bool) {
	switch name {
	case GatewayRazorpay:
		return c.Razorpay, true
	case GatewaySandbox:
		return c.Sandbox, true
	default:
		return GatewayCredentials{}, false
	}
}

type ArchiveConfig struct {
	Enabled         bool
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string
}

type IdempotencyConfig struct {
	Backend string
	TTL     time.Duration
}

type RateLimitConfig struct {
	Max        int
	Expiration time.Duration
}

// Load reads the configuration from the environment.
func Load() *Config {
	return &Config{
		App: AppConfig{
			Host:            env.GetEnv("APP_HOST", "localhost"),
			Port:            env.GetEnv("APP_PORT", "4000"),
			Env:             env.GetEnv("APP_ENV", "prod"),
			MetricsUser:     env.GetEnv("METRICS_USER", "admin"),
			MetricsPassword: env.GetEnv("METRICS_PASSWORD", ""),
		},
		DB: DBConfig{
			Driver:   strings.ToLower(env.GetEnv("DB_DRIVER", DriverMySQL)),
			User:     env.GetEnv("DB_USER", ""),
			Password: env.GetEnv("DB_PASSWORD", ""),
			Host:     env.GetEnv("DB_HOST", "127.0.0.1"),
			Port:     env.GetEnv("DB_PORT", "3306"),
			Name:     env.GetEnv("DB_NAME", ""),
		},
		Cache: CacheConfig{
			Host:       env.GetEnv("CACHE_HOST", "localhost"),
			Port:       env.GetEnv("CACHE_PORT", "6379"),
			Password:   env.GetEnv("CACHE_PASSWORD", ""),
			CatalogTTL: durationEnv("CATALOG_CACHE_TTL", 5*time.Minute),
		},
		Gateway: GatewayConfig{
			Default: strings.ToLower(env.GetEnv("PAYMENT_GATEWAY_DEFAULT", GatewayRazorpay)),
			Enabled: splitList(env.GetEnv("PAYMENT_GATEWAYS", GatewayRazorpay)),
			Razorpay: GatewayCredentials{
				KeyID:         env.GetEnv("RAZORPAY_KEY_ID", ""),
				KeySecret:     env.GetEnv("RAZORPAY_KEY_SECRET", ""),
				WebhookSecret: env.GetEnv("RAZORPAY_WEBHOOK_SECRET", ""),
				BaseURL:       env.GetEnv("RAZORPAY_BASE_URL", "https://api.razorpay.com"),
			},
			Sandbox: GatewayCredentials{
				KeyID:         env.GetEnv("SANDBOX_KEY_ID", "sandbox"),
				KeySecret:     env.GetEnv("SANDBOX_KEY_SECRET", ""),
				WebhookSecret: env.GetEnv("SANDBOX_WEBHOOK_SECRET", ""),
			},
		},
		Archive: ArchiveConfig{
			Enabled:         env.GetEnv("INVOICE_ARCHIVE_ENABLED", "false") == "true",
			AccessKeyID:     env.GetEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: env.GetEnv("S3_SECRET_ACCESS_KEY", ""),
			Region:          env.GetEnv("S3_REGION", "us-west-001"),
			BucketName:      env.GetEnv("S3_BUCKET_NAME", ""),
			EndpointURL:     env.GetEnv("S3_ENDPOINT_URL", ""),
		},
		Idempotency: IdempotencyConfig{
			Backend: strings.ToLower(env.GetEnv("IDEMPOTENCY_BACKEND", IdempotencyBackendDB)),
			TTL:     durationEnv("IDEMPOTENCY_TTL", 24*time.Hour),
		},
		RateLimit: RateLimitConfig{
			Max:        intEnv("RATE_LIMIT_MAX", 120),
			Expiration: durationEnv("RATE_LIMIT_WINDOW", time.Minute),
		},
	}
}

// Validate reports every misconfiguration at once. Missing gateway secrets
// are fatal because signatures could not be verified.
func (c *Config) Validate() error {
	var errs []error

	switch c.DB.Driver {
	case DriverMySQL:
		if c.DB.Name == "" {
			errs = append(errs, errors.New("DB_NAME is required for the mysql driver"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown DB_DRIVER %q", c.DB.Driver))
	}

	if len(c.Gateway.Enabled) == 0 {
		errs = append(errs, errors.New("PAYMENT_GATEWAYS must name at least one gateway"))
	}
	if !slices.Contains(c.Gateway.Enabled, c.Gateway.Default) {
		errs = append(errs, fmt.Errorf("PAYMENT_GATEWAY_DEFAULT %q is not enabled", c.Gateway.Default))
	}
	for _, name := range c.Gateway.Enabled {
		creds, ok := c.Gateway.Credentials(name)
		if !ok {
			errs = append(errs, fmt.Errorf("unknown payment gateway %q", name))
			continue
		}
		prefix := strings.ToUpper(name)
		if creds.KeySecret == "" {
			errs = append(errs, fmt.Errorf("%s_KEY_SECRET is required", prefix))
		}
		if creds.WebhookSecret == "" {
			errs = append(errs, fmt.Errorf("%s_WEBHOOK_SECRET is required", prefix))
		}
		if name == GatewayRazorpay && creds.KeyID == "" {
			errs = append(errs, errors.New("RAZORPAY_KEY_ID is required"))
		}
	}

	switch c.Idempotency.Backend {
	case IdempotencyBackendDB, IdempotencyBackendRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown IDEMPOTENCY_BACKEND %q", c.Idempotency.Backend))
	}
	if c.Idempotency.TTL <= 0 {
		errs = append(errs, errors.New("IDEMPOTENCY_TTL must be positive"))
	}

	if c.Archive.Enabled {
		if c.Archive.AccessKeyID == "" {
			errs = append(errs, errors.New("S3_ACCESS_KEY_ID is required when the invoice archive is enabled"))
		}
		if c.Archive.SecretAccessKey == "" {
			errs = append(errs, errors.New("S3_SECRET_ACCESS_KEY is required when the invoice archive is enabled"))
		}
		if c.Archive.BucketName == "" {
			errs = append(errs, errors.New("S3_BUCKET_NAME is required when the invoice archive is enabled"))
		}
	}

	return errors.Join(errs...)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" && !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}

func durationEnv(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(env.GetEnv(key, ""))
	if err != nil {
		return def
	}
	return d
}

func intEnv(key string, def int) int {
	n, err := strconv.Atoi(env.GetEnv(key, ""))
	if err != nil {
		return def
	}
	return n
}
