// Package sweeper assembles the fund-sweeping daemon: account registry,
// price cache, sweep registry, event fanout, maintenance scheduler, and the
// admin HTTP surface.
package sweeper

import (
	"context"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/helix-wallet/sweeperd/app/sweeper/types"
	"github.com/helix-wallet/sweeperd/pkg/accounts"
	"github.com/helix-wallet/sweeperd/pkg/chains"
	"github.com/helix-wallet/sweeperd/pkg/db"
	"github.com/helix-wallet/sweeperd/pkg/events"
	"github.com/helix-wallet/sweeperd/pkg/evm"
	"github.com/helix-wallet/sweeperd/pkg/logging"
	"github.com/helix-wallet/sweeperd/pkg/prices"
	"github.com/helix-wallet/sweeperd/pkg/sweep"
	"github.com/helix-wallet/sweeperd/pkg/utils"
)

// Initialize builds the fully wired App. Optional backends (redis accounts,
// clickhouse history) degrade to in-memory / disabled with a log line rather
// than failing startup.
func Initialize(ctx context.Context) *types.App {
	logger, err := logging.New()
	if err != nil {
		// nothing else to do here, we'll just log to stderr
		panic(err)
	}

	chainRegistry := chains.NewRegistry()

	var accountStore accounts.Store
	var redisClient *redis.Client
	if utils.Env("REDIS_ENABLED", "false") == "true" {
		redisStore, err := accounts.NewRedisStore(ctx, logger)
		if err != nil {
			logger.Fatal("unable to initialize redis account store", zap.Error(err))
		}
		accountStore = redisStore
		redisClient = redisStore.Client()
	} else {
		logger.Info("redis disabled, using in-memory account store")
		accountStore = accounts.NewMemoryStore(utils.EnvInt("ACCOUNT_CAPACITY", 500))
	}

	var history *db.History
	if utils.Env("HISTORY_ENABLED", "false") == "true" {
		history, err = db.New(ctx, logger)
		if err != nil {
			logger.Warn("sweep history store unavailable, auditing disabled", zap.Error(err))
			history = nil
		}
	}

	app := &types.App{
		Logger:           logger,
		Chains:           chainRegistry,
		Accounts:         accountStore,
		Prices:           prices.NewCache(prices.NewHTTPOracle(), logger, prices.DefaultOptions()),
		Registry:         sweep.NewRegistry(logger),
		Hub:              events.NewHub(logger, redisClient),
		Backends:         evm.NewManager(chainRegistry, logger),
		Dedup:            sweep.NewDedup(),
		History:          history,
		Pool:             pond.NewPool(utils.EnvInt("WORKER_POOL_SIZE", 16)),
		SecretPassphrase: utils.Env("SECRET_PASSPHRASE", ""),
		AdminToken:       utils.Env("ADMIN_TOKEN", ""),
		JWTSecret:        []byte(utils.Env("JWT_SECRET", "")),
	}
	if app.SecretPassphrase == "" {
		logger.Fatal("SECRET_PASSPHRASE must be set")
	}
	if app.AdminToken == "" {
		logger.Fatal("ADMIN_TOKEN must be set")
	}

	setupScheduler(ctx, app)
	return app
}

// setupScheduler registers the maintenance jobs.
func setupScheduler(ctx context.Context, app *types.App) {
	app.Cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cron.DefaultLogger)))

	// Long-horizon price cache eviction.
	_, err := app.Cron.AddFunc(utils.Env("PRICE_EVICT_CRON", "0 0 * * * *"), func() {
		app.Prices.ClearExpired()
	})
	if err != nil {
		app.Logger.Fatal("unable to schedule price eviction", zap.Error(err))
	}

	// Idle-account purge: stop cycles for accounts without interaction past
	// the horizon.
	horizon := utils.EnvDuration("IDLE_PURGE_HORIZON", 24*time.Hour)
	_, err = app.Cron.AddFunc(utils.Env("IDLE_PURGE_CRON", "0 */10 * * * *"), func() {
		jctx, cancel := context.WithTimeout(ctx, 25*time.Second)
		defer cancel()
		app.Registry.PurgeInactive(func(accountID string) (time.Time, bool) {
			acc, err := app.Accounts.Get(jctx, accountID)
			if err != nil {
				return time.Time{}, false
			}
			return acc.LastActive, true
		}, horizon)
	})
	if err != nil {
		app.Logger.Fatal("unable to schedule idle purge", zap.Error(err))
	}
}

// Run starts the scheduler and HTTP server, then blocks until the context is
// cancelled and shuts everything down in dependency order: no new ticks, then
// the shared pool, then external connections.
func Run(ctx context.Context, app *types.App) {
	app.Cron.Start()
	go func() { _ = app.Server.ListenAndServe() }()
	<-ctx.Done()

	<-app.Cron.Stop().Done()
	stopped := app.Registry.StopAll()
	app.Logger.Info("sweep cycles stopped", zap.Int("count", stopped))
	app.Pool.StopAndWait()
	app.Backends.Close()
	if app.History != nil {
		_ = app.History.Close()
	}
	if closer, ok := app.Accounts.(interface{ Close() error }); ok {
		_ = closer.Close()
	}

	app.Logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = app.Server.Shutdown(shutdownCtx)
}
