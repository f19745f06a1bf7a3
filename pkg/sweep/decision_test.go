package sweep

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/helix-wallet/sweeperd/pkg/chains"
)

func testProfile() *chains.Profile {
	return &chains.Profile{
		Key:                "testchain",
		Name:               "Testchain",
		ChainID:            1337,
		NativeSym:          "ETH",
		NativeDec:          6,
		ExplorerTpl:        "https://explorer.test/tx/%s",
		USDThreshold:       decimal.NewFromInt(5),
		NativeUSDThreshold: decimal.NewFromInt(10),
		PollInterval:       time.Hour,
	}
}

func token(symbol string, decimals uint8, raw int64) Token {
	return Token{
		Contract:  common.HexToAddress("0x1"),
		Symbol:    symbol,
		Decimals:  decimals,
		RawAmount: big.NewInt(raw),
	}
}

func newTestEngine(backend *fakeBackend) *Engine {
	logger := zap.NewNop()
	return NewEngine(NewBudgeter(backend, logger), logger)
}

func TestTokenThresholdBoundaryIsInclusive(t *testing.T) {
	backend := newFakeBackend()
	backend.gasEstimates["ABC"] = 50000
	engine := newTestEngine(backend)

	// amountReadable=100 at price 0.05 is exactly $5.00: included (>=).
	in := DecisionInput{
		Profile:       testProfile(),
		NativeBalance: big.NewInt(10_000_000),
		Tokens:        []Token{token("ABC", 6, 100_000_000)},
		Prices:        map[string]decimal.Decimal{"ABC": decimal.NewFromFloat(0.05)},
		Fee:           FeeLevel{GasPrice: big.NewInt(1)},
	}
	plan := engine.Plan(context.Background(), in)
	require.Len(t, plan.Transfers, 1)
	assert.Equal(t, "ABC", plan.Transfers[0].Symbol)
	assert.True(t, plan.Transfers[0].USDValue.Equal(decimal.NewFromInt(5)))

	// At price 0.0499 the value is $4.99: excluded.
	in.Prices = map[string]decimal.Decimal{"ABC": decimal.NewFromFloat(0.0499)}
	plan = engine.Plan(context.Background(), in)
	assert.True(t, plan.Empty())
}

func TestZeroPriceMeansUnknownNotWorthless(t *testing.T) {
	backend := newFakeBackend()
	engine := newTestEngine(backend)

	in := DecisionInput{
		Profile:       testProfile(),
		NativeBalance: big.NewInt(10_000_000),
		Tokens:        []Token{token("MYSTERY", 6, 1_000_000_000)},
		Prices:        map[string]decimal.Decimal{"MYSTERY": decimal.Zero},
		Fee:           FeeLevel{GasPrice: big.NewInt(1)},
	}
	plan := engine.Plan(context.Background(), in)
	assert.True(t, plan.Empty(), "a zero price must suppress the sweep, not treat the asset as worthless")
}

func TestDustWalletSweepsNothing(t *testing.T) {
	backend := newFakeBackend()
	backend.gasEstimates["ABC"] = 50000
	engine := newTestEngine(backend)

	// One qualifying token, but the native balance cannot even cover the
	// native transfer, let alone the combined operation.
	in := DecisionInput{
		Profile:       testProfile(),
		NativeBalance: big.NewInt(21000 - 1),
		Tokens:        []Token{token("ABC", 6, 100_000_000)},
		Prices:        map[string]decimal.Decimal{"ABC": decimal.NewFromFloat(0.05)},
		Fee:           FeeLevel{GasPrice: big.NewInt(1)},
	}
	plan := engine.Plan(context.Background(), in)
	assert.True(t, plan.Empty(), "dust wallet must not attempt partial sweeps")
}

func TestNativeReserveArithmetic(t *testing.T) {
	backend := newFakeBackend()
	backend.gasEstimates["ABC"] = 100000 // buffered to 120000 units
	engine := newTestEngine(backend)

	profile := testProfile()
	in := DecisionInput{
		Profile:       profile,
		NativeBalance: big.NewInt(1_000_000),
		Tokens:        []Token{token("ABC", 6, 200_000_000)}, // $10 at 0.05
		Prices: map[string]decimal.Decimal{
			"ABC": decimal.NewFromFloat(0.05),
			"ETH": decimal.NewFromInt(100),
		},
		Fee: FeeLevel{GasPrice: big.NewInt(1)},
	}

	plan := engine.Plan(context.Background(), in)
	require.Len(t, plan.Transfers, 2)

	native := plan.Transfers[0]
	require.True(t, native.IsNative, "native transfer must precede token transfers")
	// sweepable = balance - 21000 (native cost) - 120000 (buffered token reserve)
	assert.Equal(t, int64(1_000_000-21000-120000), native.RawAmount.Int64())

	// Same wallet with a native threshold above the sweepable USD value must
	// hold the native balance.
	profile.NativeUSDThreshold = decimal.NewFromInt(1000)
	plan = engine.Plan(context.Background(), in)
	require.Len(t, plan.Transfers, 1)
	assert.False(t, plan.Transfers[0].IsNative)
}

func TestTokensOrderedByDescendingValue(t *testing.T) {
	backend := newFakeBackend()
	engine := newTestEngine(backend)

	in := DecisionInput{
		Profile:       testProfile(),
		NativeBalance: big.NewInt(100_000_000),
		Tokens: []Token{
			token("MID", 6, 20_000_000),  // $20
			token("LOW", 6, 5_000_000),   // $5
			token("HIGH", 6, 50_000_000), // $50
		},
		Prices: map[string]decimal.Decimal{
			"MID":  decimal.NewFromInt(1),
			"LOW":  decimal.NewFromInt(1),
			"HIGH": decimal.NewFromInt(1),
		},
		Fee: FeeLevel{GasPrice: big.NewInt(1)},
	}

	plan := engine.Plan(context.Background(), in)

	var order []string
	for _, c := range plan.Transfers {
		if !c.IsNative {
			order = append(order, c.Symbol)
		}
	}
	assert.Equal(t, []string{"HIGH", "MID", "LOW"}, order, "execution order must be [50, 20, 5]")
}

func TestEstimationFailureFallsBackConservatively(t *testing.T) {
	backend := newFakeBackend()
	backend.gasErr = assert.AnError
	engine := newTestEngine(backend)

	in := DecisionInput{
		Profile:       testProfile(),
		NativeBalance: big.NewInt(10_000_000),
		Tokens:        []Token{token("ABC", 6, 200_000_000)},
		Prices: map[string]decimal.Decimal{
			"ABC": decimal.NewFromFloat(0.05),
			"ETH": decimal.NewFromInt(100),
		},
		Fee: FeeLevel{GasPrice: big.NewInt(1)},
	}

	plan := engine.Plan(context.Background(), in)
	require.Len(t, plan.Transfers, 2)
	native := plan.Transfers[0]
	require.True(t, native.IsNative)
	// fallback 65000 units +20% = 78000
	assert.Equal(t, int64(10_000_000-21000-78000), native.RawAmount.Int64())
}
