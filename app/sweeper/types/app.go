package types

import (
	"net/http"

	"github.com/alitto/pond/v2"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/helix-wallet/sweeperd/pkg/accounts"
	"github.com/helix-wallet/sweeperd/pkg/chains"
	"github.com/helix-wallet/sweeperd/pkg/db"
	"github.com/helix-wallet/sweeperd/pkg/events"
	"github.com/helix-wallet/sweeperd/pkg/evm"
	"github.com/helix-wallet/sweeperd/pkg/prices"
	"github.com/helix-wallet/sweeperd/pkg/sweep"
)

// App carries every service the sweeper daemon wires together. All fields are
// dependency-injected at Initialize; nothing here is a package singleton.
type App struct {
	Logger *zap.Logger

	Chains   *chains.Registry
	Accounts accounts.Store
	Prices   *prices.Cache
	Registry *sweep.Registry
	Hub      *events.Hub
	Backends *evm.Manager
	Dedup    *sweep.Dedup

	// History is nil when the audit store is disabled.
	History *db.History

	// Pool is the shared worker pool cycles use for intra-tick fetches.
	Pool pond.Pool

	// Cron drives the maintenance jobs: price-cache eviction and the idle
	// account purge.
	Cron *cron.Cron

	Server *http.Server

	// SecretPassphrase unseals stored recovery phrases at sweep start.
	SecretPassphrase string

	AdminToken string
	JWTSecret  []byte
}
