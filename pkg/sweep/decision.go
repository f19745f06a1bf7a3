package sweep

import (
	"context"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/helix-wallet/sweeperd/pkg/chains"
)

// Engine decides what is swept in one tick and in what order.
type Engine struct {
	budgeter *Budgeter
	logger   *zap.Logger
}

// NewEngine builds a decision engine over the given budgeter.
func NewEngine(budgeter *Budgeter, logger *zap.Logger) *Engine {
	return &Engine{budgeter: budgeter, logger: logger}
}

// DecisionInput is the snapshot a tick feeds into the engine.
type DecisionInput struct {
	Profile       *chains.Profile
	From          common.Address
	Destination   common.Address
	NativeBalance *big.Int
	Tokens        []Token
	Prices        map[string]decimal.Decimal
	Fee           FeeLevel
}

// Plan evaluates balances against thresholds and the gas budget.
//
// Ordering inside the returned plan is load-bearing: the native transfer (for
// the sweepable slice only) runs first so the token gas reserve is never
// spent by the native sweep; token transfers follow in descending USD value
// so the highest-value sweeps land before anything can exhaust gas.
func (e *Engine) Plan(ctx context.Context, in DecisionInput) Plan {
	kept := e.filterTokens(in)

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].USDValue.GreaterThan(kept[j].USDValue)
	})

	nativeCost := NativeTransferCost(in.Fee)

	var reserve *big.Int
	if len(kept) > 0 {
		tokens := make([]Token, len(kept))
		for i, c := range kept {
			tokens[i] = *c.Token
		}
		reserve = e.budgeter.TokenTransferReserve(ctx, in.From, in.Destination, in.Fee, tokens)

		// Combined-dust check: if the wallet cannot fund the native transfer
		// plus every kept token transfer, skip the whole cycle rather than
		// attempt a partial sweep.
		minimum := new(big.Int).Add(nativeCost, reserve)
		if in.NativeBalance.Cmp(minimum) < 0 {
			e.logger.Debug("wallet is dust relative to combined sweep, skipping cycle",
				zap.String("chain", in.Profile.Key),
				zap.String("native_balance", in.NativeBalance.String()),
				zap.String("minimum_needed", minimum.String()))
			return Plan{}
		}
	} else {
		reserve = new(big.Int)
	}

	// Cannot even fund one native transfer: nothing natively funded happens
	// this cycle.
	if in.NativeBalance.Sign() > 0 && in.NativeBalance.Cmp(nativeCost) < 0 {
		return Plan{}
	}

	var transfers []Candidate
	if native := e.nativeCandidate(in, nativeCost, reserve); native != nil {
		transfers = append(transfers, *native)
	}
	transfers = append(transfers, kept...)
	return Plan{Transfers: transfers}
}

// filterTokens keeps tokens whose USD value clears the chain threshold. A
// zero price means the value is unknown, not zero, so the token is excluded
// rather than risk sweeping a mispriced asset.
func (e *Engine) filterTokens(in DecisionInput) []Candidate {
	var kept []Candidate
	for i := range in.Tokens {
		tok := in.Tokens[i]
		price, ok := in.Prices[tok.Symbol]
		if !ok || price.IsZero() {
			e.logger.Debug("no usable price for token, skipping",
				zap.String("symbol", tok.Symbol), zap.String("chain", in.Profile.Key))
			continue
		}
		usd := tok.Readable().Mul(price)
		if usd.LessThan(in.Profile.USDThreshold) {
			continue
		}
		kept = append(kept, Candidate{
			Symbol:    tok.Symbol,
			RawAmount: new(big.Int).Set(tok.RawAmount),
			Decimals:  tok.Decimals,
			USDValue:  usd,
			Token:     &tok,
		})
	}
	return kept
}

// nativeCandidate computes the sweepable native slice after subtracting the
// transfer's own cost and the token gas reserve, then holds it to the native
// USD threshold. The native coin is the fee-paying asset; oversweeping it
// would starve future cycles, hence the separate, typically higher, bar.
func (e *Engine) nativeCandidate(in DecisionInput, nativeCost, reserve *big.Int) *Candidate {
	sweepable := new(big.Int).Sub(in.NativeBalance, nativeCost)
	sweepable.Sub(sweepable, reserve)
	if sweepable.Sign() <= 0 {
		return nil
	}

	price, ok := in.Prices[in.Profile.NativeSym]
	if !ok || price.IsZero() {
		e.logger.Debug("no usable price for native currency, holding balance",
			zap.String("symbol", in.Profile.NativeSym), zap.String("chain", in.Profile.Key))
		return nil
	}

	readable := decimal.NewFromBigInt(sweepable, -int32(in.Profile.NativeDec))
	usd := readable.Mul(price)
	if usd.LessThan(in.Profile.NativeUSDThreshold) {
		return nil
	}

	return &Candidate{
		Symbol:    in.Profile.NativeSym,
		RawAmount: sweepable,
		Decimals:  in.Profile.NativeDec,
		USDValue:  usd,
		IsNative:  true,
	}
}
