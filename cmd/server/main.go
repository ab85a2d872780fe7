package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"caixa/backend/internal/cache"
	"caixa/backend/internal/config"
	"caixa/backend/internal/httpapi"
	"caixa/backend/internal/logger"
	"caixa/backend/internal/service"
	"caixa/backend/internal/store"
	"caixa/backend/internal/store/memory"
	pgstore "caixa/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Development: cfg.LogDevelopment})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger setup failed: %v\n", err)
		os.Exit(1)
	}
	logger.SetDefault(log)
	defer func() { _ = log.Sync() }()

	if err := run(cfg); err != nil {
		log.Errorw("server exited", "error", err)
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	if err := validateSecurityConfig(cfg); err != nil {
		return fmt.Errorf("invalid security configuration: %w", err)
	}

	ctx := context.Background()
	startCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	var repo store.Repository
	var health httpapi.HealthCheck
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		if cfg.AutoMigrate {
			if err := pgstore.Migrate(cfg.DatabaseURL); err != nil {
				return fmt.Errorf("migrate database: %w", err)
			}
			logger.Info(ctx, "database migrations applied")
		}
		pg, err := pgstore.New(startCtx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
		if err != nil {
			return fmt.Errorf("postgres unavailable and DATABASE_URL is set: %w", err)
		}
		repo = pg
		health = pg.Ping
		closers = append(closers, pg.Close)
		logger.Info(ctx, "repository ready", "backend", "postgres")
	} else {
		repo = memory.New()
		logger.Warn(ctx, "repository ready", "backend", "memory")
	}

	replay := cache.SaleReplayCache(cache.NoopSaleReplayCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisSaleReplayCache(cache.RedisOptions{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPassword,
			DB:         cfg.RedisDB,
			Namespace:  cfg.RedisNamespace,
			DefaultTTL: cfg.SaleReplayTTL,
		})
		if err := redisCache.Ping(startCtx); err != nil {
			logger.Warn(ctx, "redis unavailable, sale replays served from storage", "error", err)
		} else {
			replay = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info(ctx, "sale replay cache ready", "backend", "redis")
		}
	}

	svc := service.New(repo, replay, cfg.SaleReplayTTL)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.ManagerPIN, repo)

	if cfg.Bootstrap.Enabled() {
		created, err := auth.EnsureAdmin(startCtx, cfg.Bootstrap.MerchantID, cfg.Bootstrap.AdminUsername, cfg.Bootstrap.AdminPassword)
		if err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
		if created {
			logger.Info(ctx, "bootstrap admin created", "merchant_id", cfg.Bootstrap.MerchantID, "username", cfg.Bootstrap.AdminUsername)
		}
	}

	api := httpapi.New(svc, auth, cfg.AllowedOrigin)
	if health != nil {
		api.WithHealthCheck(health)
	}

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info(ctx, "caixa backend listening", "addr", cfg.Address())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		logger.Info(ctx, "shutdown requested", "signal", s.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 8*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn(ctx, "shutdown error", "error", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Warn(ctx, "close error", "error", err)
		}
	}

	logger.Info(ctx, "server stopped")
	return nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	if cfg.Bootstrap.AdminPassword != "" && len(cfg.Bootstrap.AdminPassword) < 8 {
		return fmt.Errorf("BOOTSTRAP_ADMIN_PASSWORD must be at least 8 characters")
	}
	return nil
}

// validatePINStrength rejects PINs made of one repeated digit, ascending or
// descending runs, and a short list of common choices.
func validatePINStrength(pin string) error {
	for _, r := range pin {
		if r < '0' || r > '9' {
			return fmt.Errorf("PIN must be numeric")
		}
	}

	common := map[string]bool{
		"121212": true, "112233": true, "123123": true,
		"101010": true, "147258": true, "159753": true,
	}
	if common[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}

	return nil
}
