package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"eic-pathway/internal/auth"
	"eic-pathway/internal/config"
	"eic-pathway/internal/db"
	"eic-pathway/internal/guard"
	"eic-pathway/internal/maintenance"
	"eic-pathway/internal/observability"
	"eic-pathway/internal/phases"
	"eic-pathway/internal/tokens"
	"eic-pathway/internal/users"
	"eic-pathway/internal/verification"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool

	// TrustForwardedFor is the default for TRUST_FORWARDED_FOR. Set it only
	// when a proxy that appends X-Forwarded-For always fronts the handler.
	TrustForwardedFor bool
}

type Runtime struct {
	Handler http.Handler
	Addr    string
	Logger  *observability.Logger
	Close   func() error
}

// Build reads the environment and assembles the HTTP handler.
func Build(options Options) (*Runtime, error) {
	cfg, err := config.Load(config.Options{LoadDotEnv: options.LoadDotEnv, TrustForwardedFor: options.TrustForwardedFor})
	if err != nil {
		return nil, err
	}
	if options.RunMigrations {
		cfg.RunMigrations = true
	}

	logger := observability.NewLogger(cfg.Env)
	if err := observability.InitSentry(cfg.SentryDSN, cfg.Env, cfg.Release); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	return New(context.Background(), cfg, logger)
}

type storage struct {
	database *sql.DB
	rdb      *redis.Client

	users        users.Store
	verification verification.Store
	audit        phases.AuditStore
	counters     guard.CounterStore
	lockout      guard.LockoutStore
}

func (s *storage) close() error {
	var errs []error
	if s.rdb != nil {
		errs = append(errs, s.rdb.Close())
	}
	if s.database != nil {
		errs = append(errs, s.database.Close())
	}
	return errors.Join(errs...)
}

// New wires every component from an already loaded Config.
func New(ctx context.Context, cfg config.Config, logger *observability.Logger) (*Runtime, error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	tokenService, err := tokens.NewService(cfg.AccessSecret, cfg.RefreshSecret, tokens.WithTTLs(cfg.AccessTTL, cfg.RefreshTTL))
	if err != nil {
		_ = store.close()
		return nil, fmt.Errorf("init token service: %w", err)
	}

	ledger := verification.NewLedger(store.verification, verification.WithTTLs(cfg.CodeTTL, cfg.FreshnessTTL))
	lockout := guard.NewLockout(store.lockout, guard.WithLockoutPolicy(cfg.LockoutThreshold, cfg.LockoutDuration))

	var sender verification.Sender = verification.NewLogSender(logger)
	if cfg.SMTP.Enabled() {
		sender = verification.NewSMTPSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.From)
	} else {
		logger.Warn("smtp_disabled", map[string]any{"sender": "log"})
	}

	authService := auth.NewService(auth.Deps{
		Users:          store.users,
		Ledger:         ledger,
		Tokens:         tokenService,
		Lockout:        lockout,
		Sender:         sender,
		Logger:         logger,
		AllowedDomains: cfg.AllowedDomains,
	})
	machine := phases.NewMachine(store.users, store.audit, logger, phases.WithCodePrefix(cfg.UnlockCodePrefix))

	cleanup := maintenance.NewCleanupHandler(logger, cfg.CronSecret, cfg.CleanupBatchSize,
		maintenance.Task{Name: "verification_codes", Run: ledger.Cleanup},
		maintenance.Task{Name: "login_attempts", Run: lockout.DeleteStale},
		maintenance.Task{Name: "rate_limits", Run: func(ctx context.Context, limit int) (int64, error) {
			return store.counters.DeleteStale(ctx, time.Now().UTC(), limit)
		}},
	)

	router := newRouter(routes{
		auth:           auth.NewHandler(authService, logger),
		phases:         phases.NewHandler(machine, logger),
		tokens:         tokenService,
		cleanup:        cleanup,
		health:         healthHandler(store.pingers()),
		loginLimit:     guard.NewRateLimiter(cfg.LoginLimit, store.counters, logger),
		registerLimit:  guard.NewRateLimiter(cfg.RegisterLimit, store.counters, logger),
		verifyLimit:    guard.NewRateLimiter(cfg.VerificationLimit, store.counters, logger),
		allowedOrigins: cfg.CORSOrigins,
	})

	handler := observability.ClientIPMiddleware(cfg.TrustForwardedFor,
		observability.RecoverMiddleware(logger, observability.RequestLoggingMiddleware(logger, router)))

	logger.Info("app_ready", map[string]any{
		"env":      cfg.Env,
		"postgres": store.database != nil,
		"guard":    cfg.GuardBackend,
		"smtp":     cfg.SMTP.Enabled(),
		"xff":      cfg.TrustForwardedFor,
	})

	return &Runtime{
		Handler: handler,
		Addr:    ":" + cfg.Port,
		Logger:  logger,
		Close: func() error {
			observability.FlushSentry()
			_ = logger.Sync()
			return store.close()
		},
	}, nil
}

func openStorage(ctx context.Context, cfg config.Config, logger *observability.Logger) (*storage, error) {
	s := &storage{}

	if cfg.DatabaseURL != "" {
		database, err := db.Open(ctx, cfg.DatabaseURL, cfg.Pool)
		if err != nil {
			return nil, err
		}
		s.database = database

		if cfg.RunMigrations {
			if err := db.RunMigrations(ctx, database); err != nil {
				_ = s.close()
				return nil, fmt.Errorf("run migrations: %w", err)
			}
		}

		s.users = users.NewPostgresStore(database)
		s.verification = verification.NewPostgresStore(database)
		s.audit = phases.NewPostgresAuditStore(database)
	} else {
		logger.Warn("database_disabled", map[string]any{"storage": "memory"})
		s.users = users.NewMemoryStore()
		s.verification = verification.NewMemoryStore()
		s.audit = phases.NewMemoryAuditStore()
	}

	switch cfg.GuardBackend {
	case config.GuardRedis:
		options, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			_ = s.close()
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		s.rdb = redis.NewClient(options)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := s.rdb.Ping(pingCtx).Err(); err != nil {
			_ = s.close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}

		s.counters = guard.NewRedisCounter(s.rdb, "")
		s.lockout = guard.NewRedisLockoutStore(s.rdb, "")
	case config.GuardPostgres:
		if s.database == nil {
			return nil, errors.New("postgres guard backend needs a database")
		}
		s.counters = guard.NewPostgresCounter(s.database, nil)
		s.lockout = guard.NewPostgresLockoutStore(s.database)
	default:
		s.counters = guard.NewMemoryCounter(nil)
		s.lockout = guard.NewMemoryLockoutStore()
	}

	return s, nil
}

func (s *storage) pingers() map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{}
	if s.database != nil {
		checks["postgres"] = s.database.PingContext
	}
	if s.rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }
	}
	return checks
}
