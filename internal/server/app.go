// Package server wires the termvault core together: storage backend,
// persistence coordinator, key vault, encrypted record repository, and the
// account service — and owns process lifecycle (startup order, idle sweeps,
// graceful shutdown with a final forced flush).
package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/avolkovs/termvault/internal/logging"
	"github.com/avolkovs/termvault/internal/server/alerts"
	"github.com/avolkovs/termvault/internal/server/config"
	"github.com/avolkovs/termvault/internal/server/encrepo"
	"github.com/avolkovs/termvault/internal/server/keyvault"
	"github.com/avolkovs/termvault/internal/server/persist"
	"github.com/avolkovs/termvault/internal/server/refreshtokens"
	"github.com/avolkovs/termvault/internal/server/schema"
	"github.com/avolkovs/termvault/internal/server/snapshot"
	"github.com/avolkovs/termvault/internal/server/storage"
	"github.com/avolkovs/termvault/internal/server/users"
)

// alertCacheTTL bounds how often the transport layer re-fetches the remote
// alert/release feed.
const alertCacheTTL = 15 * time.Minute

type App struct {
	config      *config.Config
	logger      logging.Logger
	store       storage.Store
	coordinator *persist.Coordinator
	vault       *keyvault.Vault
	records     *encrepo.Repository
	refreshRepo *refreshtokens.StoreRepository
	userService *users.Service
	alertCache  *alerts.Cache
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	sl := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(sl)

	catalog := schema.Default()

	coordinator := persist.New(logger, c.FlushQuietWindow)

	var (
		store    storage.Store
		uploader *snapshot.S3Uploader
		err      error
	)

	if c.DatabaseDSN != "" {
		store, err = storage.NewPostgresStore(ctx, c.DatabaseDSN, catalog)
		if err != nil {
			return nil, fmt.Errorf("db init error: %w", err)
		}
	} else {
		if err := os.MkdirAll(filepath.Dir(c.SnapshotPath), 0o700); err != nil {
			return nil, fmt.Errorf("snapshot dir: %w", err)
		}
		store, err = storage.NewSQLiteStore(ctx, c.SnapshotPath, catalog)
		if err != nil {
			return nil, fmt.Errorf("db init error: %w", err)
		}
		uploader = snapshot.NewS3Uploader(c)
	}

	coordinator.Initialize(flushFunc(store, uploader, c.SnapshotPath, logger))

	vault, err := keyvault.New(catalog)
	if err != nil {
		store.Close()
		return nil, err
	}

	records := encrepo.New(catalog, vault, store, coordinator)
	usersRepo := users.NewStoreRepository(store, coordinator)
	refreshRepo := refreshtokens.NewStoreRepository(store, coordinator)
	userService := users.NewService(usersRepo, refreshRepo, vault, c)

	return &App{
		config:      c,
		logger:      logger,
		store:       store,
		coordinator: coordinator,
		vault:       vault,
		records:     records,
		refreshRepo: refreshRepo,
		userService: userService,
		alertCache:  alerts.NewCache(alertCacheTTL),
	}, nil
}

// flushFunc builds the single durable-flush callback: persist the engine,
// then (SQLite only, when configured) copy the snapshot off-site. An upload
// failure does not fail the flush — local durability already succeeded.
func flushFunc(store storage.Store, uploader *snapshot.S3Uploader, snapshotPath string, logger logging.Logger) persist.FlushFunc {
	return func(ctx context.Context) error {
		if err := store.Flush(ctx); err != nil {
			return err
		}

		if uploader != nil && uploader.Enabled() {
			if err := uploader.Upload(ctx, snapshotPath); err != nil {
				logger.Error(ctx, "snapshot upload failed", "error", err)
			}
		}

		return nil
	}
}

// Records exposes the encrypted record repository to the transport layer.
func (app *App) Records() *encrepo.Repository {
	return app.records
}

// Users exposes the account/session service to the transport layer.
func (app *App) Users() *users.Service {
	return app.userService
}

// Vault exposes session-lifecycle checks (CanAccess) to the transport layer.
func (app *App) Vault() *keyvault.Vault {
	return app.vault
}

// Coordinator exposes forced saves and status to the transport layer.
func (app *App) Coordinator() *persist.Coordinator {
	return app.coordinator
}

// Alerts exposes the alert-feed cache to the transport layer.
func (app *App) Alerts() *alerts.Cache {
	return app.alertCache
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// sweepLoop expires idle unlocked keys and stale refresh tokens.
func (app *App) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(app.config.KeySweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := app.vault.SweepIdle(app.config.KeyIdleTimeout); n > 0 {
				app.logger.Info(ctx, "locked idle user keys", "count", n)
			}
			if n, err := app.refreshRepo.DeleteExpired(ctx); err != nil {
				app.logger.Error(ctx, "refresh token sweep failed", "error", err)
			} else if n > 0 {
				app.logger.Info(ctx, "expired refresh tokens removed", "count", n)
			}
		}
	}
}

// Run blocks until the context is cancelled or a termination signal
// arrives, then shuts down: one forced flush so the at-risk debounce window
// never spans a clean exit, coordinator teardown, key wipe, store close.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting termvault core")

	app.initSignalHandler(cancelFunc)

	go app.sweepLoop(ctx)

	<-ctx.Done()

	app.logger.Info(context.Background(), "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.coordinator.ForceSave(shutdownCtx, "shutdown"); err != nil {
		app.logger.Error(shutdownCtx, "final flush failed", "error", err)
	}

	app.coordinator.Cleanup()
	app.vault.Close()

	if err := app.store.Close(); err != nil {
		app.logger.Error(shutdownCtx, "store close failed", "error", err)
	}
}
