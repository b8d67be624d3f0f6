package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"udstportal/portal-service/internal/auth"
	"udstportal/portal-service/internal/config"
	"udstportal/portal-service/internal/httpapi"
	"udstportal/portal-service/internal/logging"
	"udstportal/portal-service/internal/notify"
	"udstportal/portal-service/internal/portal"
	"udstportal/portal-service/internal/store"
	"udstportal/portal-service/internal/store/memory"
	mongostore "udstportal/portal-service/internal/store/mongo"
	"udstportal/portal-service/internal/store/postgres"
	redisstore "udstportal/portal-service/internal/store/redis"
	"udstportal/portal-service/internal/telemetry"

	"github.com/gorilla/securecookie"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const serviceName = "portal-service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)
	if err := run(cfg, logger); err != nil {
		logger.Error("portal-service stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry := telemetry.Setup(ctx, serviceName, logger)
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	sessions, closeSessions, err := openSessions(ctx, cfg, st, logger)
	if err != nil {
		return err
	}
	defer closeSessions()

	provider := notify.NewProvider(notify.ProviderConfig{
		Kind:          cfg.NotifyProvider,
		WebhookURL:    cfg.NotifyWebhookURL,
		WebhookToken:  cfg.NotifyWebhookToken,
		PostmarkToken: cfg.PostmarkToken,
		From:          cfg.NotifyFrom,
		LogSecrets:    cfg.NotifyLogSecrets,
	}, logger)

	svc := portal.New(st, portal.Options{
		Sessions:    sessions,
		Mailer:      notify.NewMailer(provider, cfg.ResetTTL, cfg.VerifyTTL),
		Hasher:      auth.NewPasswordHasher(cfg.BcryptCost),
		Logger:      logger,
		SessionTTL:  cfg.SessionTTL,
		ResetTTL:    cfg.ResetTTL,
		VerifyTTL:   cfg.VerifyTTL,
		EmailDomain: cfg.EmailDomain,
		BaseURL:     cfg.BaseURL,
	})

	if cfg.AdminSeedEmail != "" {
		created, err := svc.SeedAdmin(ctx, cfg.AdminSeedName, cfg.AdminSeedEmail, cfg.AdminSeedPassword)
		if err != nil {
			return fmt.Errorf("seed admin: %w", err)
		}
		if created {
			logger.Info("admin account created", "name", cfg.AdminSeedName)
		}
	}

	worker := notify.New(st, provider, logger, notify.Config{
		BatchSize:   cfg.NotifyBatchSize,
		MaxAttempts: cfg.NotifyMaxAttempts,
	})
	go notify.Start(ctx, cfg.NotifyPoll, worker)
	go sweep(ctx, svc, cfg.SweepInterval, logger)

	handler := httpapi.NewHandler(svc, httpapi.Options{
		Cookies: httpapi.NewSessionCookies(cookieKey(cfg.CookieHashKey, logger), []byte(cfg.CookieBlockKey), cfg.CookieSecure),
		Logger:  logger,
	})
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(httpapi.LoggingMiddleware(logger, handler.Routes()), serviceName),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("portal-service listening", "addr", server.Addr, "store", cfg.StoreBackend, "sessions", cfg.SessionBackend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	return nil
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Store, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("db connect: %w", err)
		}
		if cfg.MigrateOnBoot {
			if err := postgres.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("db migrate: %w", err)
			}
			logger.Info("database migrated")
		}
		return postgres.NewStore(pool), pool.Close, nil
	case config.BackendMongo:
		st, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, fmt.Errorf("mongo connect: %w", err)
		}
		if err := st.EnsureIndexes(ctx); err != nil {
			_ = st.Close(context.Background())
			return nil, nil, fmt.Errorf("mongo indexes: %w", err)
		}
		closeFn := func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := st.Close(closeCtx); err != nil {
				logger.Warn("mongo disconnect", "error", err)
			}
		}
		return st, closeFn, nil
	default:
		logger.Warn("using in-memory store; data is lost on restart")
		return memory.NewStore(), func() {}, nil
	}
}

func openSessions(ctx context.Context, cfg config.Config, st store.Store, logger *slog.Logger) (store.SessionStore, func(), error) {
	if cfg.SessionBackend != config.SessionsInRedis {
		return st, func() {}, nil
	}
	client, err := redisstore.NewClient(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	sessions := redisstore.NewSessionStore(client, "")
	if err := sessions.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	logger.Info("sessions stored in redis")
	return sessions, func() { _ = client.Close() }, nil
}

func sweep(ctx context.Context, svc *portal.Service, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			sessions, tokens, err := svc.Sweep(runCtx)
			cancel()
			if err != nil {
				logger.Warn("sweep failed", "error", err)
				continue
			}
			if sessions > 0 || tokens > 0 {
				logger.Info("sweep removed expired records", "sessions", sessions, "verification_tokens", tokens)
			}
		}
	}
}

func cookieKey(configured string, logger *slog.Logger) []byte {
	if configured != "" {
		return []byte(configured)
	}
	logger.Warn("COOKIE_HASH_KEY not set; session cookies will not survive a restart")
	return securecookie.GenerateRandomKey(32)
}
