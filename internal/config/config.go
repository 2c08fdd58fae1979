package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Mail providers accepted by MAIL_PROVIDER.
const (
	MailProviderSES      = "ses"
	MailProviderPostmark = "postmark"
	MailProviderSMTP     = "smtp"
	MailProviderLog      = "log"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	DBMaxConns int

	// Redis config. Empty RedisHost disables rate limiting and the campaign lock.
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Mail delivery
	MailProvider         string
	MailSenderEmail      string // address reminders are sent from
	AWSRegion            string
	PostmarkServerToken  string
	PostmarkAccountToken string
	SMTPHost             string
	SMTPPort             int
	SMTPUsername         string
	SMTPPassword         string

	// Admin authentication
	AdminEmail        string
	AdminPasswordHash string // bcrypt
	JWTSecret         string
	CronSecret        string // accepted in X-Cron-Secret for the scheduled reminder endpoint

	// Reminder campaigns
	ReminderCheckInterval time.Duration // 0 disables the in-process scheduler
	ReminderConcurrency   int

	// Telemetry
	AllowTelemetry       bool
	TelemetryURL         string
	TelemetrySNSTopicARN string

	// Public signups allowed per client IP per minute
	SignupRateLimit int
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is loaded first if present; real
// environment variables take precedence over it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		// Local postgres defaults
		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "postgres",
		DBPassword: "",
		DBName:     "waitlist",
		DBSSLMode:  "disable",
		DBMaxConns: 10,

		RedisPort: 6379,

		MailProvider: MailProviderLog,
		AWSRegion:    "us-east-1",
		SMTPHost:     "localhost",
		SMTPPort:     587,

		ReminderCheckInterval: time.Hour,
		ReminderConcurrency:   1,

		AllowTelemetry: true,

		SignupRateLimit: 10,
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	if conns := os.Getenv("DB_MAX_CONNS"); conns != "" {
		n, err := strconv.Atoi(conns)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid DB_MAX_CONNS: %q", conns)
		}
		cfg.DBMaxConns = n
	}

	// Redis config
	cfg.RedisHost = os.Getenv("REDIS_HOST")

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	// Mail config
	if provider := os.Getenv("MAIL_PROVIDER"); provider != "" {
		provider = strings.ToLower(provider)
		switch provider {
		case MailProviderSES, MailProviderPostmark, MailProviderSMTP, MailProviderLog:
			cfg.MailProvider = provider
		default:
			return nil, fmt.Errorf("invalid MAIL_PROVIDER: %q (want ses, postmark, smtp or log)", provider)
		}
	}

	cfg.MailSenderEmail = strings.TrimSpace(os.Getenv("MAIL_SENDER_EMAIL"))

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	cfg.PostmarkServerToken = os.Getenv("POSTMARK_SERVER_TOKEN")
	cfg.PostmarkAccountToken = os.Getenv("POSTMARK_ACCOUNT_TOKEN")

	if host := os.Getenv("SMTP_HOST"); host != "" {
		cfg.SMTPHost = host
	}

	if port := os.Getenv("SMTP_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid SMTP_PORT: %w", err)
		}
		cfg.SMTPPort = p
	}

	if user := os.Getenv("SMTP_USERNAME"); user != "" {
		cfg.SMTPUsername = user
	}

	if pass := os.Getenv("SMTP_PASSWORD"); pass != "" {
		cfg.SMTPPassword = pass
	}

	// Admin auth
	cfg.AdminEmail = strings.TrimSpace(os.Getenv("ADMIN_EMAIL"))
	cfg.AdminPasswordHash = os.Getenv("ADMIN_PASSWORD_HASH")
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.CronSecret = os.Getenv("CRON_SECRET")

	// Reminder campaigns
	if interval := os.Getenv("REMINDER_CHECK_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("invalid REMINDER_CHECK_INTERVAL: %q", interval)
		}
		cfg.ReminderCheckInterval = d
	}

	if concurrency := os.Getenv("REMINDER_CONCURRENCY"); concurrency != "" {
		n, err := strconv.Atoi(concurrency)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid REMINDER_CONCURRENCY: %q", concurrency)
		}
		cfg.ReminderConcurrency = n
	}

	// Telemetry is on unless explicitly set to false
	if allow := os.Getenv("ALLOW_TELEMETRY"); allow != "" {
		cfg.AllowTelemetry = !strings.EqualFold(allow, "false")
	}

	cfg.TelemetryURL = os.Getenv("TELEMETRY_URL")
	cfg.TelemetrySNSTopicARN = os.Getenv("TELEMETRY_SNS_TOPIC_ARN")

	if limit := os.Getenv("SIGNUP_RATE_LIMIT"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid SIGNUP_RATE_LIMIT: %q", limit)
		}
		cfg.SignupRateLimit = n
	}

	return cfg, nil
}

// DatabaseURL returns a postgres connection URL for the configured database.
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.DBSSLMode),
	}
	return u.String()
}
