package sweep

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
	"go.uber.org/zap"
)

const (
	// nativeTransferGas is the fixed gas cost of a plain value transfer.
	nativeTransferGas = 21000

	// fallbackTokenGas is the conservative estimate used when per-token gas
	// estimation fails.
	fallbackTokenGas = 65000

	// gasBufferPercent is the safety margin applied to every token estimate.
	gasBufferPercent = 20

	// feeBoostPercent biases fees over the network suggestion toward fast
	// confirmation.
	feeBoostPercent = 50
)

// fallbackGasPrice favors successful-but-expensive confirmation over stuck
// transactions when fee data cannot be fetched at all.
var fallbackGasPrice = new(big.Int).Mul(big.NewInt(50), big.NewInt(params.GWei))

// Budgeter translates network fee conditions into native-currency cost
// estimates for the decision engine.
type Budgeter struct {
	backend Backend
	logger  *zap.Logger
}

// NewBudgeter builds a gas budgeter over the given chain backend.
func NewBudgeter(backend Backend, logger *zap.Logger) *Budgeter {
	return &Budgeter{backend: backend, logger: logger}
}

// FeeLevel fetches current fee data and derives the aggressive level used for
// all transfers this tick. Fetch failure degrades to the fixed high fallback.
func (b *Budgeter) FeeLevel(ctx context.Context) FeeLevel {
	fee, err := b.backend.SuggestFees(ctx)
	if err != nil {
		b.logger.Warn("fee data unavailable, using fallback gas price", zap.Error(err))
		return FeeLevel{GasPrice: new(big.Int).Set(fallbackGasPrice)}
	}
	return aggressive(fee)
}

// aggressive boosts the suggested fee, keeping the tip-never-exceeds-cap
// invariant under the dynamic model.
func aggressive(f FeeLevel) FeeLevel {
	if f.Dynamic {
		out := FeeLevel{
			Dynamic: true,
			TipCap:  boost(f.TipCap),
			FeeCap:  boost(f.FeeCap),
		}
		if out.TipCap.Cmp(out.FeeCap) > 0 {
			out.TipCap = new(big.Int).Set(out.FeeCap)
		}
		return out
	}
	return FeeLevel{GasPrice: boost(f.GasPrice)}
}

func boost(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	out := new(big.Int).Mul(v, big.NewInt(100+feeBoostPercent))
	return out.Div(out, big.NewInt(100))
}

// NativeTransferCost is the native-currency cost of one plain transfer at the
// given fee level.
func NativeTransferCost(fee FeeLevel) *big.Int {
	return new(big.Int).Mul(big.NewInt(nativeTransferGas), fee.EffectivePrice())
}

// TokenTransferReserve sums the per-token gas cost, with the safety buffer
// applied individually, across all candidate token transfers. Estimation
// failure for one token falls back to the conservative fixed estimate without
// poisoning the others.
func (b *Budgeter) TokenTransferReserve(ctx context.Context, from, to common.Address, fee FeeLevel, tokens []Token) *big.Int {
	reserve := new(big.Int)
	price := fee.EffectivePrice()
	for _, tok := range tokens {
		units, err := b.backend.EstimateTokenTransferGas(ctx, from, to, tok)
		if err != nil || units == 0 {
			if err != nil {
				b.logger.Debug("token gas estimation failed, using fallback",
					zap.String("symbol", tok.Symbol), zap.Error(err))
			}
			units = fallbackTokenGas
		}
		buffered := units + units*gasBufferPercent/100
		cost := new(big.Int).Mul(new(big.Int).SetUint64(buffered), price)
		reserve.Add(reserve, cost)
	}
	return reserve
}
