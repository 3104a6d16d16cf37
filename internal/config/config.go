// Package config reads runtime settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"eic-pathway/internal/db"
	"eic-pathway/internal/guard"
	"eic-pathway/internal/phases"
	"eic-pathway/internal/tokens"
	"eic-pathway/internal/verification"
)

const (
	GuardMemory   = "memory"
	GuardRedis    = "redis"
	GuardPostgres = "postgres"
)

var ErrSharedJWTSecret = errors.New("JWT_SECRET and JWT_REFRESH_SECRET must differ")

type SMTP struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// Enabled reports whether enough is set to actually deliver mail.
func (s SMTP) Enabled() bool {
	return s.Host != "" && s.Username != "" && s.Password != ""
}

type Config struct {
	Env     string
	Release string
	Port    string

	DatabaseURL   string
	Pool          db.PoolConfig
	RunMigrations bool

	RedisURL     string
	GuardBackend string

	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration

	CodeTTL      time.Duration
	FreshnessTTL time.Duration

	LockoutThreshold int
	LockoutDuration  time.Duration

	LoginLimit        guard.Policy
	RegisterLimit     guard.Policy
	VerificationLimit guard.Policy

	AllowedDomains   []string
	UnlockCodePrefix string

	SMTP        SMTP
	SentryDSN   string
	CORSOrigins []string

	// TrustForwardedFor takes client addresses from the proxy-appended
	// X-Forwarded-For hop instead of the socket peer.
	TrustForwardedFor bool

	CronSecret       string
	CleanupBatchSize int
}

type Options struct {
	LoadDotEnv bool
	// TrustForwardedFor is the default when TRUST_FORWARDED_FOR is unset.
	TrustForwardedFor bool
}

// Load builds a Config from the process environment, optionally reading .env first.
func Load(options Options) (Config, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	accessSecret, err := mustEnv("JWT_SECRET")
	if err != nil {
		return Config{}, err
	}
	refreshSecret, err := mustEnv("JWT_REFRESH_SECRET")
	if err != nil {
		return Config{}, err
	}
	if accessSecret == refreshSecret {
		return Config{}, ErrSharedJWTSecret
	}

	cfg := Config{
		Env:     envOrDefault("APP_ENV", "development"),
		Release: os.Getenv("APP_RELEASE"),
		Port:    envOrDefault("PORT", "8080"),

		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		Pool: db.PoolConfig{
			MaxOpenConns:    envIntOrDefault("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    envIntOrDefault("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30),
			ConnMaxIdleTime: envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10),
		},
		RunMigrations: EnvBoolOrDefault("RUN_MIGRATIONS_ON_STARTUP", false),

		RedisURL: strings.TrimSpace(os.Getenv("REDIS_URL")),

		AccessSecret:  accessSecret,
		RefreshSecret: refreshSecret,
		AccessTTL:     envMinutesOrDefault("ACCESS_TOKEN_TTL_MINUTES", int(tokens.DefaultAccessTTL/time.Minute)),
		RefreshTTL:    envHoursOrDefault("REFRESH_TOKEN_TTL_HOURS", int(tokens.DefaultRefreshTTL/time.Hour)),

		CodeTTL:      envMinutesOrDefault("VERIFICATION_CODE_TTL_MINUTES", int(verification.CodeTTL/time.Minute)),
		FreshnessTTL: envMinutesOrDefault("VERIFICATION_FRESHNESS_MINUTES", int(verification.FreshnessTTL/time.Minute)),

		LockoutThreshold: envIntOrDefault("LOGIN_MAX_ATTEMPTS", guard.DefaultLockoutThreshold),
		LockoutDuration:  envMinutesOrDefault("LOGIN_LOCK_MINUTES", int(guard.DefaultLockoutDuration/time.Minute)),

		LoginLimit:        policyFromEnv("LOGIN", guard.LoginPolicy),
		RegisterLimit:     policyFromEnv("REGISTER", guard.RegisterPolicy),
		VerificationLimit: policyFromEnv("VERIFICATION", guard.VerificationPolicy),

		AllowedDomains:   lowerAll(envList("ALLOWED_EMAIL_DOMAINS")),
		UnlockCodePrefix: envOrDefault("UNLOCK_CODE_PREFIX", phases.DefaultCodePrefix),

		SMTP: SMTP{
			Host:     strings.TrimSpace(os.Getenv("SMTP_HOST")),
			Port:     envOrDefault("SMTP_PORT", "465"),
			Username: strings.TrimSpace(os.Getenv("SMTP_USERNAME")),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     strings.TrimSpace(os.Getenv("SMTP_FROM")),
		},
		SentryDSN:   strings.TrimSpace(os.Getenv("SENTRY_DSN")),
		CORSOrigins: envList("CORS_ALLOWED_ORIGINS"),

		TrustForwardedFor: EnvBoolOrDefault("TRUST_FORWARDED_FOR", options.TrustForwardedFor),

		CronSecret:       strings.TrimSpace(os.Getenv("CRON_SECRET")),
		CleanupBatchSize: envIntOrDefault("AUTH_CLEANUP_BATCH_SIZE", 500),
	}

	backend, err := guardBackend(cfg)
	if err != nil {
		return Config{}, err
	}
	cfg.GuardBackend = backend

	return cfg, nil
}

// guardBackend picks where rate-limit counters and lockout rows live. Without
// an explicit choice Redis wins when configured, then Postgres, then memory.
func guardBackend(cfg Config) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("GUARD_BACKEND")))
	switch backend {
	case "":
		switch {
		case cfg.RedisURL != "":
			return GuardRedis, nil
		case cfg.DatabaseURL != "":
			return GuardPostgres, nil
		default:
			return GuardMemory, nil
		}
	case GuardMemory:
		return backend, nil
	case GuardRedis:
		if cfg.RedisURL == "" {
			return "", fmt.Errorf("GUARD_BACKEND=redis requires REDIS_URL")
		}
		return backend, nil
	case GuardPostgres:
		if cfg.DatabaseURL == "" {
			return "", fmt.Errorf("GUARD_BACKEND=postgres requires DATABASE_URL")
		}
		return backend, nil
	default:
		return "", fmt.Errorf("unknown GUARD_BACKEND: %s", backend)
	}
}

func policyFromEnv(prefix string, fallback guard.Policy) guard.Policy {
	return guard.Policy{
		Bucket: fallback.Bucket,
		Limit:  envIntOrDefault(prefix+"_RATE_LIMIT_MAX", fallback.Limit),
		Window: envSecondsOrDefault(prefix+"_RATE_LIMIT_WINDOW_SECONDS", int(fallback.Window/time.Second)),
	}
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envHoursOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Hour
}

func envSecondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Second
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func envList(name string) []string {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func lowerAll(values []string) []string {
	for i, v := range values {
		values[i] = strings.ToLower(v)
	}
	return values
}
