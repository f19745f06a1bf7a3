// Package chains holds the static per-network configuration shared by every
// sweep cycle. Profiles are loaded once at startup; env vars override the RPC
// endpoint and the sweep tuning knobs per chain.
package chains

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/helix-wallet/sweeperd/pkg/utils"
	"github.com/shopspring/decimal"
)

// TokenConfig identifies an ERC-20 contract the sweeper watches on a chain.
type TokenConfig struct {
	Contract common.Address
	Symbol   string
	Decimals uint8
}

// Profile is the immutable per-network configuration. One instance per
// supported network, shared by all accounts.
type Profile struct {
	Key         string
	Name        string
	ChainID     int64
	RPCURL      string
	NativeSym   string
	NativeDec   uint8
	ExplorerTpl string // %s is replaced with the transaction hash

	// USDThreshold gates token sweeps; NativeUSDThreshold gates the native
	// sweep and is typically higher because the native coin pays the fees.
	USDThreshold       decimal.Decimal
	NativeUSDThreshold decimal.Decimal

	PollInterval time.Duration

	// Tokens is the watch list scanned for non-zero balances each tick.
	Tokens []TokenConfig
}

// ExplorerLink renders the explorer URL for a transaction hash.
func (p *Profile) ExplorerLink(txHash string) string {
	return fmt.Sprintf(p.ExplorerTpl, txHash)
}

// Registry indexes profiles by chain key.
type Registry struct {
	profiles map[string]*Profile
}

// NewRegistry loads the built-in profiles with env overrides applied.
func NewRegistry() *Registry {
	r := &Registry{profiles: make(map[string]*Profile)}
	for _, p := range builtin() {
		r.profiles[p.Key] = p
	}
	return r
}

// Get returns the profile for a chain key, or an error for unknown keys.
// Unsupported chains are a configuration error and must be rejected at the
// start-sweep boundary, never absorbed into the polling loop.
func (r *Registry) Get(key string) (*Profile, error) {
	p, ok := r.profiles[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		return nil, fmt.Errorf("unsupported chain %q (supported: %s)", key, strings.Join(r.Keys(), ", "))
	}
	return p, nil
}

// Keys returns the supported chain keys.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.profiles))
	for k := range r.profiles {
		keys = append(keys, k)
	}
	return keys
}

func builtin() []*Profile {
	return []*Profile{
		{
			Key:                "ethereum",
			Name:               "Ethereum",
			ChainID:            1,
			RPCURL:             utils.Env("ETH_RPC_URL", "https://eth.llamarpc.com"),
			NativeSym:          "ETH",
			NativeDec:          18,
			ExplorerTpl:        "https://etherscan.io/tx/%s",
			USDThreshold:       decimal.NewFromFloat(utils.EnvFloat("ETH_USD_THRESHOLD", 5)),
			NativeUSDThreshold: decimal.NewFromFloat(utils.EnvFloat("ETH_NATIVE_USD_THRESHOLD", 10)),
			PollInterval:       utils.EnvDuration("ETH_POLL_INTERVAL", 60*time.Second),
			Tokens: []TokenConfig{
				{Contract: common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7"), Symbol: "USDT", Decimals: 6},
				{Contract: common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"), Symbol: "USDC", Decimals: 6},
				{Contract: common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"), Symbol: "DAI", Decimals: 18},
				{Contract: common.HexToAddress("0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599"), Symbol: "WBTC", Decimals: 8},
			},
		},
		{
			Key:                "bsc",
			Name:               "BNB Smart Chain",
			ChainID:            56,
			RPCURL:             utils.Env("BSC_RPC_URL", "https://bsc-dataseed.binance.org"),
			NativeSym:          "BNB",
			NativeDec:          18,
			ExplorerTpl:        "https://bscscan.com/tx/%s",
			USDThreshold:       decimal.NewFromFloat(utils.EnvFloat("BSC_USD_THRESHOLD", 3)),
			NativeUSDThreshold: decimal.NewFromFloat(utils.EnvFloat("BSC_NATIVE_USD_THRESHOLD", 6)),
			PollInterval:       utils.EnvDuration("BSC_POLL_INTERVAL", 45*time.Second),
			Tokens: []TokenConfig{
				{Contract: common.HexToAddress("0x55d398326f99059fF775485246999027B3197955"), Symbol: "USDT", Decimals: 18},
				{Contract: common.HexToAddress("0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d"), Symbol: "USDC", Decimals: 18},
				{Contract: common.HexToAddress("0xe9e7CEA3DedcA5984780Bafc599bD69ADd087D56"), Symbol: "BUSD", Decimals: 18},
			},
		},
		{
			Key:                "polygon",
			Name:               "Polygon",
			ChainID:            137,
			RPCURL:             utils.Env("POLYGON_RPC_URL", "https://polygon-rpc.com"),
			NativeSym:          "POL",
			NativeDec:          18,
			ExplorerTpl:        "https://polygonscan.com/tx/%s",
			USDThreshold:       decimal.NewFromFloat(utils.EnvFloat("POLYGON_USD_THRESHOLD", 2)),
			NativeUSDThreshold: decimal.NewFromFloat(utils.EnvFloat("POLYGON_NATIVE_USD_THRESHOLD", 4)),
			PollInterval:       utils.EnvDuration("POLYGON_POLL_INTERVAL", 30*time.Second),
			Tokens: []TokenConfig{
				{Contract: common.HexToAddress("0xc2132D05D31c914a87C6611C10748AEb04B58e8F"), Symbol: "USDT", Decimals: 6},
				{Contract: common.HexToAddress("0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359"), Symbol: "USDC", Decimals: 6},
			},
		},
		{
			Key:                "base",
			Name:               "Base",
			ChainID:            8453,
			RPCURL:             utils.Env("BASE_RPC_URL", "https://mainnet.base.org"),
			NativeSym:          "ETH",
			NativeDec:          18,
			ExplorerTpl:        "https://basescan.org/tx/%s",
			USDThreshold:       decimal.NewFromFloat(utils.EnvFloat("BASE_USD_THRESHOLD", 2)),
			NativeUSDThreshold: decimal.NewFromFloat(utils.EnvFloat("BASE_NATIVE_USD_THRESHOLD", 5)),
			PollInterval:       utils.EnvDuration("BASE_POLL_INTERVAL", 30*time.Second),
			Tokens: []TokenConfig{
				{Contract: common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"), Symbol: "USDC", Decimals: 6},
			},
		},
	}
}
