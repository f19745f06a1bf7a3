package controller

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/helix-wallet/sweeperd/pkg/accounts"
	"github.com/helix-wallet/sweeperd/pkg/evm"
	"github.com/helix-wallet/sweeperd/pkg/sweep"
)

// HandleSweepStart unseals the account secret, derives the signing wallet,
// dials the chain backend, and launches the polling cycle. The cycle runs on
// a background context because it outlives this request.
func (c *Controller) HandleSweepStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)
	accountID, chainKey := vars["id"], vars["chain"]

	acc, err := c.App.Accounts.Get(ctx, accountID)
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "account not found"})
			return
		}
		c.App.Logger.Error("unable to load account", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "internal error"})
		return
	}

	profile, err := c.App.Chains.Get(chainKey)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "unknown chain"})
		return
	}

	mnemonic, err := accounts.DecryptSecret(acc.SecretCipher, c.App.SecretPassphrase)
	if err != nil {
		c.App.Logger.Error("unable to unseal account secret",
			zap.String("account", accountID), zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "internal error"})
		return
	}

	wallet, err := evm.DeriveWallet(mnemonic)
	if err != nil {
		c.App.Logger.Error("stored recovery phrase no longer derives",
			zap.String("account", accountID), zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "internal error"})
		return
	}

	backend, err := c.App.Backends.Get(ctx, profile.Key)
	if err != nil {
		c.App.Logger.Error("unable to dial chain backend",
			zap.String("chain", profile.Key), zap.Error(err))
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "chain backend unavailable"})
		return
	}

	// Audit recording stays disabled when no history store is configured.
	var recorder sweep.Recorder
	if c.App.History != nil {
		recorder = c.App.History
	}

	cycleCtx := context.Background()
	cfg := sweep.CycleConfig{
		Key:         sweep.Key{AccountID: accountID, Chain: profile.Key},
		Profile:     profile,
		Backend:     backend,
		Prices:      c.App.Prices,
		Dedup:       c.App.Dedup,
		Recorder:    recorder,
		Notify:      c.App.Hub.NotifyFunc(cycleCtx, accountID, profile.Key),
		Logger:      c.App.Logger,
		Wallet:      wallet,
		Destination: common.HexToAddress(acc.Destination),
		Pool:        c.App.Pool,
	}
	if !c.App.Registry.Start(cycleCtx, cfg) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "sweep already running"})
		return
	}

	_ = c.App.Accounts.Touch(ctx, accountID, time.Now())
	_ = json.NewEncoder(w).Encode(map[string]string{
		"account": accountID,
		"chain":   profile.Key,
		"address": wallet.Address.Hex(),
		"status":  "started",
	})
}

// HandleSweepStop halts one (account, chain) cycle.
func (c *Controller) HandleSweepStop(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	key := sweep.Key{AccountID: vars["id"], Chain: vars["chain"]}

	if !c.App.Registry.Stop(key) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "no sweep running"})
		return
	}
	_ = c.App.Accounts.Touch(r.Context(), key.AccountID, time.Now())
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "stopped"})
}

// HandleSweepStopAll halts every cycle owned by the account.
func (c *Controller) HandleSweepStopAll(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["id"]
	stopped := c.App.Registry.StopAllFor(accountID)
	_ = c.App.Accounts.Touch(r.Context(), accountID, time.Now())
	_ = json.NewEncoder(w).Encode(map[string]any{"stopped": stopped})
}

// HandleSweepStatus reports which chains the account is sweeping on.
func (c *Controller) HandleSweepStatus(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["id"]
	_ = json.NewEncoder(w).Encode(map[string]any{
		"account":       accountID,
		"active_chains": c.App.Registry.ActiveChainsFor(accountID),
	})
}

// HandleChainsList returns the configured chain profiles.
func (c *Controller) HandleChainsList(w http.ResponseWriter, _ *http.Request) {
	type chainOut struct {
		Key             string `json:"key"`
		Name            string `json:"name"`
		ChainID         int64  `json:"chain_id"`
		NativeSym       string `json:"native_symbol"`
		TokenCount      int    `json:"token_count"`
		PollIntervalSec int    `json:"poll_interval_sec"`
	}
	var out []chainOut
	for _, key := range c.App.Chains.Keys() {
		p, err := c.App.Chains.Get(key)
		if err != nil {
			continue
		}
		out = append(out, chainOut{
			Key:             p.Key,
			Name:            p.Name,
			ChainID:         p.ChainID,
			NativeSym:       p.NativeSym,
			TokenCount:      len(p.Tokens),
			PollIntervalSec: int(p.PollInterval / time.Second),
		})
	}
	_ = json.NewEncoder(w).Encode(out)
}

// HandleStats returns registry-wide counters.
func (c *Controller) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats := c.App.Registry.GlobalStats()
	accountCount, _ := c.App.Accounts.Count(r.Context())
	_ = json.NewEncoder(w).Encode(map[string]any{
		"accounts_registered": accountCount,
		"accounts_sweeping":   stats.ActiveAccounts,
		"active_sweeps":       stats.ActiveSweeps,
		"total_ticks":         stats.TotalTicks,
		"cached_prices":       c.App.Prices.Size(),
		"event_subscribers":   c.App.Hub.SubscriberCount(),
	})
}
