package controller

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/helix-wallet/sweeperd/pkg/accounts"
	"github.com/helix-wallet/sweeperd/pkg/evm"
)

// HandleAccountCreate registers an account: derives the signing address from
// the recovery phrase, seals the phrase, and stores the record. The plaintext
// phrase never leaves this handler.
func (c *Controller) HandleAccountCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var in struct {
		ID          string `json:"id"`
		Mnemonic    string `json:"mnemonic"`
		Destination string `json:"destination"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "bad json"})
		return
	}
	in.ID = strings.TrimSpace(in.ID)
	if in.ID == "" {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "id is required"})
		return
	}
	if !evm.ValidDestination(in.Destination) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid destination address"})
		return
	}

	wallet, err := evm.DeriveWallet(in.Mnemonic)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid recovery phrase"})
		return
	}

	cipher, err := accounts.EncryptSecret(in.Mnemonic, c.App.SecretPassphrase)
	if err != nil {
		c.App.Logger.Error("unable to seal account secret", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "internal error"})
		return
	}

	acc := accounts.Account{
		ID:           in.ID,
		SecretCipher: cipher,
		Destination:  in.Destination,
		CreatedAt:    time.Now(),
		LastActive:   time.Now(),
	}
	if err := c.App.Accounts.Put(ctx, acc); err != nil {
		if errors.Is(err, accounts.ErrCapacity) {
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "account registry at capacity"})
			return
		}
		c.App.Logger.Error("unable to store account", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "internal error"})
		return
	}

	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"id":          acc.ID,
		"address":     wallet.Address.Hex(),
		"destination": acc.Destination,
	})
}

// HandleAccountDetail returns account metadata, never the sealed secret.
func (c *Controller) HandleAccountDetail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	acc, err := c.App.Accounts.Get(ctx, id)
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "not found"})
			return
		}
		c.App.Logger.Error("unable to load account", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "internal error"})
		return
	}

	out := map[string]any{
		"id":            acc.ID,
		"destination":   acc.Destination,
		"created_at":    acc.CreatedAt,
		"last_active":   acc.LastActive,
		"active_chains": c.App.Registry.ActiveChainsFor(acc.ID),
	}
	if c.App.History != nil {
		if total, err := c.App.History.TotalSweptUSD(ctx, acc.ID); err == nil {
			out["total_swept_usd"] = total
		}
	}
	_ = json.NewEncoder(w).Encode(out)
}

// HandleAccountDelete stops every sweep the account owns and removes it.
func (c *Controller) HandleAccountDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	stopped := c.App.Registry.StopAllFor(id)
	if err := c.App.Accounts.Delete(ctx, id); err != nil {
		c.App.Logger.Error("unable to delete account", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "internal error"})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"deleted": id, "sweeps_stopped": stopped})
}
