package sweep

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

// Registry indexes every running cycle by its composite key and enforces the
// central concurrency invariant: at most one active cycle per key.
type Registry struct {
	cycles *xsync.Map[Key, *Cycle]
	logger *zap.Logger
}

// NewRegistry builds an empty registry. Registries are dependency-injected
// service objects; callers own their lifecycle.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		cycles: xsync.NewMap[Key, *Cycle](),
		logger: logger,
	}
}

// Start registers and starts a cycle for the config's key. Returns false
// without side effects if a cycle for that key is already running.
func (r *Registry) Start(ctx context.Context, cfg CycleConfig) bool {
	c := NewCycle(cfg)
	if _, loaded := r.cycles.LoadOrStore(cfg.Key, c); loaded {
		return false
	}
	r.logger.Info("sweep cycle started",
		zap.String("account", cfg.Key.AccountID),
		zap.String("chain", cfg.Key.Chain))
	c.Start(ctx)
	return true
}

// Stop halts and removes the cycle for a key. Returns false if none was
// running.
func (r *Registry) Stop(key Key) bool {
	c, loaded := r.cycles.LoadAndDelete(key)
	if !loaded {
		return false
	}
	c.Stop()
	r.logger.Info("sweep cycle stopped",
		zap.String("account", key.AccountID),
		zap.String("chain", key.Chain))
	return true
}

// StopAllFor halts every cycle belonging to one account and reports how many
// were stopped.
func (r *Registry) StopAllFor(accountID string) int {
	stopped := 0
	r.cycles.Range(func(key Key, _ *Cycle) bool {
		if key.AccountID == accountID && r.Stop(key) {
			stopped++
		}
		return true
	})
	return stopped
}

// StopAll halts every cycle in the registry.
func (r *Registry) StopAll() int {
	stopped := 0
	r.cycles.Range(func(key Key, _ *Cycle) bool {
		if r.Stop(key) {
			stopped++
		}
		return true
	})
	return stopped
}

// Status reports whether a cycle is running for the key.
func (r *Registry) Status(key Key) bool {
	_, ok := r.cycles.Load(key)
	return ok
}

// ActiveChainsFor lists the chains with a running cycle for one account.
func (r *Registry) ActiveChainsFor(accountID string) []string {
	var chains []string
	r.cycles.Range(func(key Key, _ *Cycle) bool {
		if key.AccountID == accountID {
			chains = append(chains, key.Chain)
		}
		return true
	})
	return chains
}

// Stats is the aggregate view exposed by the admin API.
type Stats struct {
	ActiveAccounts int   `json:"activeAccounts"`
	ActiveSweeps   int   `json:"activeSweeps"`
	TotalTicks     int64 `json:"totalTicks"`
}

// GlobalStats aggregates over every running cycle.
func (r *Registry) GlobalStats() Stats {
	accounts := make(map[string]struct{})
	var s Stats
	r.cycles.Range(func(key Key, c *Cycle) bool {
		accounts[key.AccountID] = struct{}{}
		s.ActiveSweeps++
		s.TotalTicks += c.Ticks()
		return true
	})
	s.ActiveAccounts = len(accounts)
	return s
}

// PurgeInactive stops every cycle whose account has been idle past the
// horizon, as judged by lastActive. Runs from the maintenance scheduler.
func (r *Registry) PurgeInactive(lastActive func(accountID string) (time.Time, bool), horizon time.Duration) int {
	cutoff := time.Now().Add(-horizon)
	purged := 0
	r.cycles.Range(func(key Key, _ *Cycle) bool {
		at, ok := lastActive(key.AccountID)
		if !ok || at.Before(cutoff) {
			if r.Stop(key) {
				purged++
			}
		}
		return true
	})
	if purged > 0 {
		r.logger.Info("purged idle sweep cycles", zap.Int("count", purged))
	}
	return purged
}
