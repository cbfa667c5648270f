package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"bizops/internal/approval"
	"bizops/internal/audit"
	"bizops/internal/auth"
	"bizops/internal/directory"
	"bizops/internal/httpapi"
	"bizops/pkg/config"
	"bizops/pkg/db"
	"bizops/pkg/logger"
)

func main() {
	cfg := config.Load()

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go reloadLogLevel(ctx)

	conn, err := db.Open(ctx, cfg)
	if err != nil {
		logger.Fatal("db open", zap.Error(err))
	}
	defer conn.Close()

	if cfg.MigrationsPath != "" {
		if err := db.MigrateConfig(cfg.MigrationsPath, cfg); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
	}

	if cfg.Auth.TokenSecret == "" {
		if cfg.IsProd() {
			logger.Fatal("AUTH_TOKEN_SECRET is required in prod")
		}
		logger.Warn("AUTH_TOKEN_SECRET not set; only X-Actor-Id identities will be accepted")
	}

	auditRepo := audit.NewRepository(conn)
	emitter, err := audit.NewEmitter(auditRepo, cfg.Audit.Workers, cfg.Audit.Timeout)
	if err != nil {
		logger.Fatal("audit emitter", zap.Error(err))
	}

	engine := approval.NewService(
		approval.NewRepository(conn),
		directory.NewRepository(conn),
		emitter,
	)

	router := httpapi.NewRouter(httpapi.Dependencies{
		Cfg:      cfg,
		Engine:   engine,
		Tokens:   auth.NewTokens(cfg.Auth.TokenSecret, cfg.Auth.TokenIssuer, cfg.Auth.TokenTTL),
		AuditLog: auditRepo,
		Ready: func(r *http.Request) error {
			pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			return conn.Ping(pingCtx)
		},
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("env", cfg.AppEnv))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http serve", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	if err := emitter.Close(cfg.Audit.Timeout); err != nil {
		logger.Warn("audit emitter did not drain", zap.Error(err))
	}
}

// reloadLogLevel re-reads LOG_LEVEL on SIGHUP and applies it without a restart.
func reloadLogLevel(ctx context.Context) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			level := config.Load().Log.Level
			if err := logger.SetLevel(level); err != nil {
				logger.Warn("log level reload failed", zap.Error(err))
				continue
			}
			logger.Info("log level reloaded", zap.String("level", level))
		}
	}
}
