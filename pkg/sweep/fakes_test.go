package sweep

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// fakeBackend is a scriptable chain backend shared by the cycle, registry,
// and decision tests.
type fakeBackend struct {
	mu sync.Mutex

	balance    *big.Int
	balanceErr error

	fee    FeeLevel
	feeErr error

	tokens    []Token
	tokensErr error

	gasEstimates map[string]uint64 // symbol -> units
	gasErr       error

	fixedTxHash string // when set, every submit returns this hash
	submitErr   map[string]error

	confirmOutcome bool  // false simulates a confirmation timeout
	confirmErr     error // e.g. ErrReverted

	submitted []string // symbols in submission order
	txSeq     int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		balance:        big.NewInt(0),
		fee:            FeeLevel{GasPrice: big.NewInt(1)},
		gasEstimates:   map[string]uint64{},
		submitErr:      map[string]error{},
		confirmOutcome: true,
	}
}

func (f *fakeBackend) NativeBalance(context.Context, common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	return new(big.Int).Set(f.balance), nil
}

func (f *fakeBackend) SuggestFees(context.Context) (FeeLevel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fee, f.feeErr
}

func (f *fakeBackend) TokenBalances(context.Context, common.Address) ([]Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tokensErr != nil {
		return nil, f.tokensErr
	}
	return append([]Token(nil), f.tokens...), nil
}

func (f *fakeBackend) EstimateTokenTransferGas(_ context.Context, _, _ common.Address, tok Token) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gasErr != nil {
		return 0, f.gasErr
	}
	return f.gasEstimates[tok.Symbol], nil
}

func (f *fakeBackend) SubmitNativeTransfer(_ context.Context, _ Wallet, _ common.Address, _ *big.Int, _ FeeLevel) (string, error) {
	return f.recordSubmit("native")
}

func (f *fakeBackend) SubmitTokenTransfer(_ context.Context, _ Wallet, _ common.Address, tok Token, _ FeeLevel) (string, error) {
	return f.recordSubmit(tok.Symbol)
}

func (f *fakeBackend) recordSubmit(symbol string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.submitErr[symbol]; err != nil {
		return "", err
	}
	f.submitted = append(f.submitted, symbol)
	if f.fixedTxHash != "" {
		return f.fixedTxHash, nil
	}
	f.txSeq++
	return fmt.Sprintf("0xtx%04d", f.txSeq), nil
}

func (f *fakeBackend) AwaitConfirmation(context.Context, string, time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.confirmOutcome, f.confirmErr
}

func (f *fakeBackend) submittedSymbols() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.submitted...)
}

// fakePrices is a static PriceSource.
type fakePrices map[string]decimal.Decimal

func (f fakePrices) GetPrices(_ context.Context, symbols []string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(symbols))
	for _, s := range symbols {
		out[s] = f[s]
	}
	return out
}

// notifyLog collects notifications thread-safely.
type notifyLog struct {
	mu   sync.Mutex
	msgs []string
}

func (n *notifyLog) Notify(text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, text)
}

func (n *notifyLog) All() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.msgs...)
}
