package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"ventaspos/backend/internal/cache"
	"ventaspos/backend/internal/config"
	"ventaspos/backend/internal/domain"
	"ventaspos/backend/internal/httpapi"
	"ventaspos/backend/internal/service"
	"ventaspos/backend/internal/store"
	"ventaspos/backend/internal/store/memory"
	"ventaspos/backend/internal/store/postgres"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := validateSecurityConfig(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				log.Warn().Err(err).Msg("close failed during shutdown")
			}
		}
	}()

	repo, repoCloser, err := buildRepository(ctx, cfg)
	if err != nil {
		return err
	}
	if repoCloser != nil {
		closers = append(closers, repoCloser)
	}

	lookupCache := buildLookupCache(ctx, cfg, &closers)

	installments := service.InstallmentPolicy{
		DefaultCount: cfg.InstallmentDefaultCount,
		MaxCount:     cfg.InstallmentMaxCount,
		FirstDueDays: cfg.InstallmentFirstDueDays,
		SpacingDays:  cfg.InstallmentSpacingDays,
	}
	svc := service.New(repo, lookupCache, cfg.ProductLookupTTL, installments, cfg.LowStockThreshold)

	if err := bootstrapUsers(ctx, repo); err != nil {
		return fmt.Errorf("bootstrap users: %w", err)
	}

	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL, repo)
	api := httpapi.NewAPI(svc, auth, cfg.AllowedOrigin, cfg.AuthSecret)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func buildRepository(ctx context.Context, cfg config.Config) (store.Repository, io.Closer, error) {
	if cfg.DatabaseURL == "" {
		log.Warn().Msg("DATABASE_URL not set, using in-memory store with seed data")
		return memory.NewSeeded(), nil, nil
	}

	pg, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		_ = pg.Close()
		return nil, nil, fmt.Errorf("ensure schema: %w", err)
	}
	log.Info().Msg("postgres store ready")
	return pg, pg, nil
}

func buildLookupCache(ctx context.Context, cfg config.Config, closers *[]io.Closer) cache.ProductLookupCache {
	if cfg.RedisAddr == "" {
		return cache.NoopProductLookupCache{}
	}

	redisCache := cache.NewRedisProductLookupCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := redisCache.Ping(pingCtx); err != nil {
		log.Warn().Err(err).Msg("redis unreachable, product lookups go uncached")
		_ = redisCache.Close()
		return cache.NoopProductLookupCache{}
	}

	*closers = append(*closers, redisCache)
	log.Info().Str("addr", cfg.RedisAddr).Msg("product lookup cache ready")
	return redisCache
}

// bootstrapUsers creates the initial accounts when the user table is empty.
// Passwords come from the environment; there are no hardcoded credentials.
func bootstrapUsers(ctx context.Context, repo store.Repository) error {
	users, err := repo.ListUsers(ctx)
	if err != nil {
		return err
	}
	if len(users) > 0 {
		return nil
	}

	seeds := []struct {
		username string
		envVar   string
		role     string
	}{
		{username: "admin", envVar: "SEED_ADMIN_PASSWORD", role: "admin"},
		{username: "cashier", envVar: "SEED_CASHIER_PASSWORD", role: "cashier"},
	}

	for _, seed := range seeds {
		password := strings.TrimSpace(os.Getenv(seed.envVar))
		if password == "" {
			log.Warn().Str("username", seed.username).Str("env", seed.envVar).Msg("seed password not set, account not created")
			continue
		}
		hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		err = repo.CreateUser(ctx, domain.UserAccount{
			Username:  seed.username,
			Password:  string(hashed),
			Role:      seed.role,
			Active:    true,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		log.Info().Str("username", seed.username).Str("role", seed.role).Msg("bootstrap account created")
	}
	return nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return errors.New("AUTH_SECRET must be at least 32 characters")
	}
	if strings.TrimSpace(cfg.AllowedOrigin) == "" {
		return errors.New("ALLOWED_ORIGIN must be set")
	}
	return nil
}
