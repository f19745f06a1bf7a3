// Package sweep implements the fund-sweeping engine: the per-wallet polling
// cycle, the gas budgeting and dust-suppression logic, the transfer plan
// ordering, and the registry that guarantees at most one running cycle per
// (account, chain) pair.
package sweep

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// ErrReverted means the transaction was mined but the EVM reverted it: the
// transfer consumed gas and moved nothing.
var ErrReverted = errors.New("transaction reverted on chain")

// Key identifies one independently scheduled polling cycle. Using a value
// struct instead of a formatted string gives compiler-checked key
// construction and rules out separator collisions.
type Key struct {
	AccountID string
	Chain     string
}

// Wallet is a derived signing identity for one chain.
type Wallet struct {
	Address    common.Address
	PrivateKey *ecdsa.PrivateKey
}

// Token is a non-zero ERC-20 balance held by the monitored wallet.
type Token struct {
	Contract  common.Address
	Symbol    string
	Decimals  uint8
	RawAmount *big.Int
}

// Readable converts the raw integer amount to a human-readable decimal.
// Raw on-chain amounts stay big.Int everywhere; decimals only appear at the
// USD-valuation boundary.
func (t Token) Readable() decimal.Decimal {
	return decimal.NewFromBigInt(t.RawAmount, -int32(t.Decimals))
}

// FeeLevel carries current network fee conditions in either the legacy
// single-price model or the dynamic tip/cap model.
type FeeLevel struct {
	GasPrice *big.Int // legacy
	TipCap   *big.Int // dynamic: priority fee
	FeeCap   *big.Int // dynamic: max fee per gas
	Dynamic  bool
}

// EffectivePrice is the per-gas price used for cost arithmetic: the fee cap
// under the dynamic model, the gas price otherwise.
func (f FeeLevel) EffectivePrice() *big.Int {
	if f.Dynamic {
		return f.FeeCap
	}
	return f.GasPrice
}

// Candidate is one planned transfer: either the sweepable slice of the native
// balance or a token's full balance.
type Candidate struct {
	Symbol    string
	RawAmount *big.Int
	Decimals  uint8
	USDValue  decimal.Decimal
	IsNative  bool
	Token     *Token // nil for the native transfer
}

func tokenReadable(c Candidate) decimal.Decimal {
	return decimal.NewFromBigInt(c.RawAmount, -int32(c.Decimals))
}

// Plan is the ordered transfer list for one tick: native first if present,
// then tokens in descending USD value.
type Plan struct {
	Transfers []Candidate
}

// Empty reports whether the tick has nothing to execute.
func (p Plan) Empty() bool { return len(p.Transfers) == 0 }

// Backend is the chain-access capability consumed by a cycle. pkg/evm
// provides the production implementation; tests use fakes.
type Backend interface {
	NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error)
	SuggestFees(ctx context.Context) (FeeLevel, error)
	TokenBalances(ctx context.Context, addr common.Address) ([]Token, error)
	EstimateTokenTransferGas(ctx context.Context, from, to common.Address, token Token) (uint64, error)
	SubmitNativeTransfer(ctx context.Context, w Wallet, to common.Address, amount *big.Int, fee FeeLevel) (string, error)
	SubmitTokenTransfer(ctx context.Context, w Wallet, to common.Address, token Token, fee FeeLevel) (string, error)
	// AwaitConfirmation blocks until the transaction is mined or the timeout
	// elapses. A timeout is not a failure: (false, nil) means outcome unknown.
	AwaitConfirmation(ctx context.Context, txHash string, timeout time.Duration) (bool, error)
}

// PriceSource resolves symbols to USD unit prices. A zero price means
// "unknown", never "worthless".
type PriceSource interface {
	GetPrices(ctx context.Context, symbols []string) map[string]decimal.Decimal
}

// NotifyFunc delivers one user-visible sweep event.
type NotifyFunc func(text string)

// Record is one executed sweep, written to the audit store.
type Record struct {
	AccountID string
	Chain     string
	Symbol    string
	Amount    decimal.Decimal
	USDValue  decimal.Decimal
	TxHash    string
	Native    bool
	SweptAt   time.Time
}

// Recorder persists executed sweeps. Implementations must tolerate a nil
// receiver check at the call site; recording is best-effort.
type Recorder interface {
	RecordSweep(ctx context.Context, rec Record)
}
