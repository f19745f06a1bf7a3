package sweep

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/helix-wallet/sweeperd/pkg/chains"
)

// CycleConfig wires one polling cycle. All collaborators are injected; the
// cycle owns nothing shared.
type CycleConfig struct {
	Key            Key
	Profile        *chains.Profile
	Backend        Backend
	Prices         PriceSource
	Dedup          *Dedup
	Recorder       Recorder // nil disables audit recording
	Notify         NotifyFunc
	Logger         *zap.Logger
	Wallet         Wallet
	Destination    common.Address
	ConfirmTimeout time.Duration
	Pool           pond.Pool // shared pool for intra-tick parallel fetches
}

// Cycle is the polling loop for one (account, chain) pair.
//
// State machine: Idle -> Running(tick) -> Scheduled -> Running(tick) -> ... ->
// Stopped. Stop is cooperative: it cancels the pending timer and flips the
// running flag; an in-flight tick observes the flag at its next boundary.
type Cycle struct {
	cfg      CycleConfig
	budgeter *Budgeter
	engine   *Engine
	logger   *zap.Logger

	mu        sync.Mutex
	running   bool
	stopped   bool // latched by Stop; Start refuses to run afterwards
	executing bool
	timer     *time.Timer

	ticksDone  int64
	lastTickAt time.Time
}

// NewCycle builds a cycle; Start begins ticking.
func NewCycle(cfg CycleConfig) *Cycle {
	logger := cfg.Logger.With(
		zap.String("account", cfg.Key.AccountID),
		zap.String("chain", cfg.Key.Chain))
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 90 * time.Second
	}
	budgeter := NewBudgeter(cfg.Backend, logger)
	return &Cycle{
		cfg:      cfg,
		budgeter: budgeter,
		engine:   NewEngine(budgeter, logger),
		logger:   logger,
	}
}

// Start emits the start notification and runs the first tick immediately so
// users get instant feedback instead of waiting out a poll interval. A cycle
// that has already seen Stop never starts: without the latch, a Stop racing
// in between registry insertion and Start would leave an untracked cycle
// polling and signing forever.
func (c *Cycle) Start(ctx context.Context) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	c.cfg.Notify(fmt.Sprintf("Sweep started on %s for %s (every %s)",
		c.cfg.Profile.Name, c.cfg.Wallet.Address.Hex(), c.cfg.Profile.PollInterval))
	go c.tick(ctx)
}

// Stop cancels the pending timer and prevents further rescheduling. An
// in-flight transfer submission already sent to the network is not cancelled.
// Stop is final: a stopped cycle cannot be restarted.
func (c *Cycle) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	c.stopped = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// Running reports whether the cycle is active.
func (c *Cycle) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Ticks reports how many ticks have completed.
func (c *Cycle) Ticks() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticksDone
}

func (c *Cycle) tick(ctx context.Context) {
	if !c.Running() || ctx.Err() != nil {
		return
	}
	defer func() {
		c.mu.Lock()
		c.ticksDone++
		c.lastTickAt = time.Now()
		c.mu.Unlock()
		c.reschedule(ctx)
	}()

	balance, fee, tokens, err := c.fetchState(ctx)
	if err != nil {
		// Transient RPC failures are never fatal; the cycle just reschedules.
		c.logger.Warn("tick skipped", zap.Error(err))
		return
	}

	symbols := make([]string, 0, len(tokens)+1)
	symbols = append(symbols, c.cfg.Profile.NativeSym)
	for _, t := range tokens {
		symbols = append(symbols, t.Symbol)
	}
	prices := c.cfg.Prices.GetPrices(ctx, symbols)

	plan := c.engine.Plan(ctx, DecisionInput{
		Profile:       c.cfg.Profile,
		From:          c.cfg.Wallet.Address,
		Destination:   c.cfg.Destination,
		NativeBalance: balance,
		Tokens:        tokens,
		Prices:        prices,
		Fee:           fee,
	})
	if plan.Empty() {
		return
	}

	// A wallet's nonce state cannot support concurrent signing: if the
	// previous tick's execution phase is still in flight, skip this tick's
	// execution entirely but still reschedule.
	if !c.beginExecuting() {
		c.logger.Info("previous execution still in flight, skipping this tick")
		return
	}
	defer c.endExecuting()

	c.execute(ctx, plan, fee)
}

// fetchState gathers the native balance, fee level, and token balances in
// parallel on the shared worker pool.
func (c *Cycle) fetchState(ctx context.Context) (*big.Int, FeeLevel, []Token, error) {
	var (
		balance    *big.Int
		fee        FeeLevel
		tokens     []Token
		balanceErr error
		tokensErr  error
	)

	group := c.cfg.Pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	group.Submit(func() {
		balance, balanceErr = c.cfg.Backend.NativeBalance(groupCtx, c.cfg.Wallet.Address)
	})
	group.Submit(func() {
		// Fee fetch failure degrades to the budgeter's fallback internally.
		fee = c.budgeter.FeeLevel(groupCtx)
	})
	group.Submit(func() {
		tokens, tokensErr = c.cfg.Backend.TokenBalances(groupCtx, c.cfg.Wallet.Address)
	})

	if err := group.Wait(); err != nil && ctx.Err() != nil {
		return nil, FeeLevel{}, nil, fmt.Errorf("fetch state: %w", ctx.Err())
	}
	if balanceErr != nil {
		return nil, FeeLevel{}, nil, fmt.Errorf("fetch native balance: %w", balanceErr)
	}
	if tokensErr != nil {
		return nil, FeeLevel{}, nil, fmt.Errorf("fetch token balances: %w", tokensErr)
	}
	return balance, fee, tokens, nil
}

// execute runs the plan in order. One transfer's failure is logged and the
// rest of the plan continues.
func (c *Cycle) execute(ctx context.Context, plan Plan, fee FeeLevel) {
	for _, cand := range plan.Transfers {
		txHash, err := c.submit(ctx, cand, fee)
		if err != nil {
			c.logger.Error("transfer failed, continuing with remaining plan",
				zap.String("symbol", cand.Symbol), zap.Error(err))
			continue
		}

		confirmed, err := c.cfg.Backend.AwaitConfirmation(ctx, txHash, c.cfg.ConfirmTimeout)
		if errors.Is(err, ErrReverted) {
			// Mined but moved nothing. Remember the hash so a later
			// re-observation cannot surface it, and never announce it.
			c.cfg.Dedup.MarkSeen(txHash)
			c.logger.Warn("transfer reverted, nothing swept",
				zap.String("symbol", cand.Symbol), zap.String("tx", txHash))
			continue
		}
		if err != nil {
			c.logger.Warn("confirmation wait failed, treating as submitted",
				zap.String("tx", txHash), zap.Error(err))
		} else if !confirmed {
			// Timeout: the transaction may still land. Proceed as submitted
			// and let the dedup set absorb a later re-observation.
			c.logger.Info("confirmation timed out, proceeding as submitted",
				zap.String("tx", txHash))
		}

		if !c.cfg.Dedup.MarkSeen(txHash) {
			continue
		}
		c.notifySweep(cand, txHash)
		c.record(ctx, cand, txHash)
	}
}

func (c *Cycle) submit(ctx context.Context, cand Candidate, fee FeeLevel) (string, error) {
	if cand.IsNative {
		return c.cfg.Backend.SubmitNativeTransfer(ctx, c.cfg.Wallet, c.cfg.Destination, cand.RawAmount, fee)
	}
	return c.cfg.Backend.SubmitTokenTransfer(ctx, c.cfg.Wallet, c.cfg.Destination, *cand.Token, fee)
}

func (c *Cycle) notifySweep(cand Candidate, txHash string) {
	c.cfg.Notify(fmt.Sprintf("Swept %s %s ($%s) on %s: %s",
		tokenReadable(cand).String(), cand.Symbol, cand.USDValue.StringFixed(2),
		c.cfg.Profile.Name, c.cfg.Profile.ExplorerLink(txHash)))
}

func (c *Cycle) record(ctx context.Context, cand Candidate, txHash string) {
	if c.cfg.Recorder == nil {
		return
	}
	c.cfg.Recorder.RecordSweep(ctx, Record{
		AccountID: c.cfg.Key.AccountID,
		Chain:     c.cfg.Key.Chain,
		Symbol:    cand.Symbol,
		Amount:    tokenReadable(cand),
		USDValue:  cand.USDValue,
		TxHash:    txHash,
		Native:    cand.IsNative,
		SweptAt:   time.Now(),
	})
}

func (c *Cycle) beginExecuting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.executing {
		return false
	}
	c.executing = true
	return true
}

// endExecuting always clears the flag, so it cannot stay stuck after a failed
// execution path.
func (c *Cycle) endExecuting() {
	c.mu.Lock()
	c.executing = false
	c.mu.Unlock()
}

func (c *Cycle) reschedule(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running || ctx.Err() != nil {
		return
	}
	c.timer = time.AfterFunc(c.cfg.Profile.PollInterval, func() { c.tick(ctx) })
}
