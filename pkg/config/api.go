package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment   string `env:"APP_ENV" envDefault:"development"`
	Addr          string `env:"API_ADDR" envDefault:":8000"`
	BaseURL       string `env:"BASE_URL" envDefault:"http://localhost:8000"`
	DatabaseURL   string `env:"DATABASE_URL" envDefault:"postgres://bryn:bryn@db:5432/bryn?sslmode=disable"`
	MigrationsDir string `env:"DB_MIGRATIONS_DIR" envDefault:"db/migrations"`
	RegionsFile   string `env:"BRYN_REGIONS_FILE" envDefault:"regions.yaml"`

	JWTSecret           string        `env:"JWT_SECRET" envDefault:"supersecuresecret"`
	SecretSealingKey    string        `env:"SECRET_SEALING_KEY" envDefault:"supersecuresecret"`
	SessionTTL          time.Duration `env:"SESSION_TTL" envDefault:"12h"`
	SessionCookieName   string        `env:"SESSION_COOKIE_NAME" envDefault:"bryn_session"`
	SessionCookieSecure bool          `env:"SESSION_COOKIE_SECURE" envDefault:"false"`
	EmailTokenTTL       time.Duration `env:"EMAIL_TOKEN_TTL" envDefault:"72h"`

	SMTPHost                   string   `env:"SMTP_HOST"`
	SMTPPort                   int      `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername               string   `env:"SMTP_USERNAME"`
	SMTPPassword               string   `env:"SMTP_PASSWORD"`
	SMTPTLS                    bool     `env:"SMTP_TLS" envDefault:"true"`
	DefaultFromEmail           string   `env:"DEFAULT_FROM_EMAIL" envDefault:"CLIMB <noreply@climb.ac.uk>"`
	NewRegistrationAdminEmails []string `env:"NEW_REGISTRATION_ADMIN_EMAILS" envSeparator:","`
	SupportEmail               string   `env:"SUPPORT_EMAIL" envDefault:"support@climb.ac.uk"`

	ServerLeaseDefaultDays     int   `env:"SERVER_LEASE_DEFAULT_DAYS" envDefault:"14"`
	ServerLeaseReminderDays    []int `env:"SERVER_LEASE_REMINDER_DAYS" envSeparator:"," envDefault:"7,3,1,0"`
	LicenceRenewalReminderDays int   `env:"LICENCE_RENEWAL_REMINDER_DAYS" envDefault:"14"`

	JobsEnabled           bool          `env:"JOBS_ENABLED" envDefault:"true"`
	HypervisorStatsCron   string        `env:"HYPERVISOR_STATS_CRON" envDefault:"10 * * * *"`
	LeaseReminderCron     string        `env:"LEASE_REMINDER_CRON" envDefault:"*/30 * * * *"`
	LicenceReminderCron   string        `env:"LICENCE_REMINDER_CRON" envDefault:"0 9 * * *"`
	JobTimeout            time.Duration `env:"JOB_TIMEOUT" envDefault:"5m"`
	CloudRequestTimeout   time.Duration `env:"CLOUD_REQUEST_TIMEOUT" envDefault:"30s"`
	PhoneDefaultRegion    string        `env:"PHONE_DEFAULT_REGION" envDefault:"GB"`
	InstitutionMaxResults int           `env:"INSTITUTION_TYPEAHEAD_LIMIT" envDefault:"10"`

	RateLimitRedisAddr string `env:"RATE_LIMIT_REDIS_ADDR"`
	RateLimitRedisPass string `env:"RATE_LIMIT_REDIS_PASSWORD"`
	RateLimitRedisDB   int    `env:"RATE_LIMIT_REDIS_DB" envDefault:"0"`

	// TrustedProxies lists CIDRs or addresses allowed to set X-Forwarded-For.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() (APIConfig, error) {
	var cfg APIConfig
	if err := env.Parse(&cfg); err != nil {
		return APIConfig{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// IsProduction reports whether the service runs with production settings.
func (c APIConfig) IsProduction() bool {
	return c.Environment == "production"
}
