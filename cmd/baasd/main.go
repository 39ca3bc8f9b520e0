// Command baasd runs the backend-as-a-service daemon: embedded SQLite
// storage, the collection/record API, the layered permission resolver,
// the realtime websocket bus and the backup scheduler, all in one
// process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/artha-au/baasd/internal/api"
	"github.com/artha-au/baasd/internal/apperrors"
	"github.com/artha-au/baasd/internal/authcore"
	"github.com/artha-au/baasd/internal/backup"
	"github.com/artha-au/baasd/internal/collections"
	"github.com/artha-au/baasd/internal/config"
	"github.com/artha-au/baasd/internal/ownership"
	"github.com/artha-au/baasd/internal/permissions"
	"github.com/artha-au/baasd/internal/ratelimit"
	"github.com/artha-au/baasd/internal/realtime"
	"github.com/artha-au/baasd/internal/records"
	"github.com/artha-au/baasd/internal/settings"
	"github.com/artha-au/baasd/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "baasd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// CLI flags override the environment for host/port, the way the
	// daemon gets pointed at a different interface in dev.
	host := flag.String("host", cfg.Host, "listen host")
	port := flag.Int("port", cfg.Port, "listen port")
	flag.Parse()
	cfg.Host = *host
	cfg.Port = *port

	logger := newLogger(cfg)

	pool, err := storage.Open(storage.Options{
		Path:         cfg.DatabasePath,
		MaxOpenConns: cfg.MaxOpenConns,
		MaxIdleConns: cfg.MaxIdleConns,
		BusyTimeout:  cfg.BusyTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer pool.Close()

	ctx := context.Background()

	cache, err := settings.Load(ctx, pool.DB)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	authStore := authcore.NewStore(pool.DB)
	accessTTL := cache.DurationHours(settings.CategoryAuth, settings.KeyJWTLifetimeHours, cfg.JWTAccessTTL)
	authService := authcore.NewService(authStore, authcore.Config{
		JWTSecret:      cfg.JWTSecret,
		PasswordPepper: cfg.PasswordPepper,
		AccessTTL:      accessTTL,
		RefreshTTL:     cfg.JWTRefreshTTL,
	})

	if err := seedInitialAdmin(ctx, cfg, authService, authStore, logger); err != nil {
		return fmt.Errorf("seed initial admin: %w", err)
	}

	collectionStore := collections.NewStore(pool.DB)
	permStore := permissions.NewStore(pool.DB)
	resolver := permissions.NewResolver(permStore)

	bus := realtime.NewManager(
		logger,
		resolver,
		func(ctx context.Context, userID string) (permissions.Subject, error) {
			user, err := authStore.GetUserByID(ctx, userID)
			if err != nil {
				return permissions.Subject{}, err
			}
			return permissions.Subject{UserID: user.ID, RoleID: user.RoleID, RoleName: user.RoleName}, nil
		},
		func(ctx context.Context, name string) (string, error) {
			col, err := collectionStore.Get(ctx, name)
			if err != nil {
				return "", err
			}
			return col.ID, nil
		},
	)
	bus.Start()

	recordStore := records.NewStore(pool.DB, bus)
	ownershipService := ownership.NewService(pool.DB)

	backupStore := backup.NewStore(pool.DB)
	scheduler, err := backup.NewScheduler(ctx, backup.Config{
		Enabled:         cfg.BackupEnabled,
		CronSchedule:    cache.String(settings.CategoryBackup, settings.KeyBackupCronSchedule, cfg.BackupCronSpec),
		RetentionDays:   cache.Int(settings.CategoryBackup, settings.KeyBackupRetentionDays, 14),
		ObjectPrefix:    cache.String(settings.CategoryBackup, settings.KeyBackupObjectPrefix, cfg.BackupS3Prefix),
		Compress:        true,
		Bucket:          cfg.BackupS3Bucket,
		Region:          cfg.BackupS3Region,
		Endpoint:        cfg.BackupS3Endpoint,
		AccessKeyID:     cfg.BackupS3AccessKeyID,
		SecretAccessKey: cfg.BackupS3SecretKey,
		ForcePathStyle:  cfg.BackupS3ForcePathStyle,
	}, cfg.DatabasePath, pool.DB, backupStore, logger)
	if err != nil {
		return fmt.Errorf("build backup scheduler: %w", err)
	}
	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("start backup scheduler: %w", err)
	}

	// Expired blacklist rows deny nothing once the token itself has
	// expired; sweep them hourly so the hot-path index stays small.
	sweepDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := authStore.SweepExpiredBlacklist(ctx); err != nil {
					logger.Warn().Err(err).Msg("blacklist sweep failed")
				} else if n > 0 {
					logger.Debug().Int64("rows", n).Msg("swept expired blacklist entries")
				}
			case <-sweepDone:
				return
			}
		}
	}()

	apiRate := cache.Int(settings.CategoryAPI, settings.KeyRateLimitPerMinute, 120)

	surface := api.New(api.Deps{
		Logger:       logger,
		Pool:         pool,
		Settings:     cache,
		Auth:         authService,
		AuthStore:    authStore,
		Collections:  collectionStore,
		Records:      recordStore,
		PermStore:    permStore,
		Resolver:     resolver,
		Ownership:    ownershipService,
		Bus:          bus,
		Backups:      scheduler,
		LoginLimiter: ratelimit.New(cfg.RateLimitLoginPerMinute, cfg.RateLimitLoginBurst),
		APILimiter:   ratelimit.New(float64(apiRate), apiRate),
	})

	server := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      surface.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr()).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	// Shutdown ordering: drain HTTP first so no new writes publish
	// events, then stop the dispatcher, then the scheduler, and close
	// the pool last (deferred above).
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	bus.Stop()
	scheduler.Stop()
	close(sweepDone)

	logger.Info().Msg("stopped")
	return nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.LogFormat == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Str("service", "baasd").Logger()
}

// seedInitialAdmin creates (and verifies) the bootstrap admin account
// from the environment when it doesn't exist yet. Without it a fresh
// database has no way to mint its first admin.
func seedInitialAdmin(ctx context.Context, cfg *config.Config, svc *authcore.Service, store *authcore.Store, logger zerolog.Logger) error {
	if cfg.InitialAdminEmail == "" || cfg.InitialAdminPassword == "" {
		return nil
	}

	if _, err := store.GetUserByEmail(ctx, cfg.InitialAdminEmail); err == nil {
		return nil
	} else if appErr, ok := apperrors.As(err); !ok || appErr.Kind != apperrors.KindNotFound {
		return err
	}

	adminRole, err := store.GetRoleByName(ctx, permissions.AdminRoleName)
	if err != nil {
		return err
	}
	hash, err := svc.HashPassword(cfg.InitialAdminPassword)
	if err != nil {
		return err
	}
	user, err := store.CreateUser(ctx, cfg.InitialAdminEmail, cfg.InitialAdminUsername, hash, adminRole.ID)
	if err != nil {
		return err
	}
	if err := store.SetVerified(ctx, user.ID); err != nil {
		return err
	}

	logger.Info().Str("email", cfg.InitialAdminEmail).Msg("initial admin created")
	return nil
}
