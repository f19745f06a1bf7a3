package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/helix-wallet/sweeperd/pkg/chains"
	"github.com/helix-wallet/sweeperd/pkg/sweep"
)

// receiptPollInterval is how often AwaitConfirmation re-checks for a receipt.
const receiptPollInterval = 3 * time.Second

// Client implements sweep.Backend for one EVM chain.
type Client struct {
	profile *chains.Profile
	eth     *ethclient.Client
	logger  *zap.Logger
}

// Dial connects to the profile's RPC endpoint.
func Dial(ctx context.Context, profile *chains.Profile, logger *zap.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, profile.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s rpc: %w", profile.Key, err)
	}
	return &Client{
		profile: profile,
		eth:     eth,
		logger:  logger.With(zap.String("chain", profile.Key)),
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

func (c *Client) NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	balance, err := c.eth.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("balance of %s: %w", addr.Hex(), err)
	}
	return balance, nil
}

// SuggestFees reads current network fee conditions. Chains with a base fee
// get the dynamic tip/cap model; the rest stay on the legacy single price.
func (c *Client) SuggestFees(ctx context.Context) (sweep.FeeLevel, error) {
	head, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return sweep.FeeLevel{}, fmt.Errorf("fetch head: %w", err)
	}

	if head.BaseFee != nil {
		tip, err := c.eth.SuggestGasTipCap(ctx)
		if err != nil {
			return sweep.FeeLevel{}, fmt.Errorf("suggest gas tip: %w", err)
		}
		// Cap at twice the base fee plus the tip to ride out base-fee spikes
		// between estimation and inclusion.
		feeCap := new(big.Int).Mul(head.BaseFee, big.NewInt(2))
		feeCap.Add(feeCap, tip)
		return sweep.FeeLevel{Dynamic: true, TipCap: tip, FeeCap: feeCap}, nil
	}

	price, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return sweep.FeeLevel{}, fmt.Errorf("suggest gas price: %w", err)
	}
	return sweep.FeeLevel{GasPrice: price}, nil
}

// TokenBalances scans the profile's watch list and returns the non-zero
// balances. One token's query failure is logged and skipped so a flaky
// contract cannot blind the whole scan.
func (c *Client) TokenBalances(ctx context.Context, addr common.Address) ([]sweep.Token, error) {
	var out []sweep.Token
	for _, tc := range c.profile.Tokens {
		data, err := packBalanceOf(addr)
		if err != nil {
			return nil, fmt.Errorf("pack balanceOf: %w", err)
		}
		contract := tc.Contract
		raw, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
		if err != nil {
			c.logger.Warn("token balance query failed, skipping",
				zap.String("symbol", tc.Symbol), zap.Error(err))
			continue
		}
		balance, err := unpackBalanceOf(raw)
		if err != nil {
			c.logger.Warn("token balance decode failed, skipping",
				zap.String("symbol", tc.Symbol), zap.Error(err))
			continue
		}
		if balance.Sign() == 0 {
			continue
		}
		out = append(out, sweep.Token{
			Contract:  tc.Contract,
			Symbol:    tc.Symbol,
			Decimals:  tc.Decimals,
			RawAmount: balance,
		})
	}
	return out, nil
}

func (c *Client) EstimateTokenTransferGas(ctx context.Context, from, to common.Address, token sweep.Token) (uint64, error) {
	data, err := packTransfer(to, token.RawAmount)
	if err != nil {
		return 0, fmt.Errorf("pack transfer: %w", err)
	}
	contract := token.Contract
	gas, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &contract, Data: data})
	if err != nil {
		return 0, fmt.Errorf("estimate %s transfer: %w", token.Symbol, err)
	}
	return gas, nil
}

func (c *Client) SubmitNativeTransfer(ctx context.Context, w sweep.Wallet, to common.Address, amount *big.Int, fee sweep.FeeLevel) (string, error) {
	return c.submit(ctx, w, to, amount, nil, 21000, fee)
}

func (c *Client) SubmitTokenTransfer(ctx context.Context, w sweep.Wallet, to common.Address, token sweep.Token, fee sweep.FeeLevel) (string, error) {
	data, err := packTransfer(to, token.RawAmount)
	if err != nil {
		return "", fmt.Errorf("pack transfer: %w", err)
	}
	gas, err := c.EstimateTokenTransferGas(ctx, w.Address, to, token)
	if err != nil {
		c.logger.Debug("gas estimation failed at submit time, using fallback",
			zap.String("symbol", token.Symbol), zap.Error(err))
		gas = 78000
	}
	return c.submit(ctx, w, token.Contract, new(big.Int), data, gas, fee)
}

func (c *Client) submit(ctx context.Context, w sweep.Wallet, to common.Address, value *big.Int, data []byte, gas uint64, fee sweep.FeeLevel) (string, error) {
	nonce, err := c.eth.PendingNonceAt(ctx, w.Address)
	if err != nil {
		return "", fmt.Errorf("fetch nonce: %w", err)
	}

	chainID := big.NewInt(c.profile.ChainID)
	var tx *types.Transaction
	if fee.Dynamic {
		tx = types.NewTx(&types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: fee.TipCap,
			GasFeeCap: fee.FeeCap,
			Gas:       gas,
			To:        &to,
			Value:     value,
			Data:      data,
		})
	} else {
		tx = types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: fee.GasPrice,
			Gas:      gas,
			To:       &to,
			Value:    value,
			Data:     data,
		})
	}

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), w.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("broadcast transaction: %w", err)
	}
	return signed.Hash().Hex(), nil
}

// AwaitConfirmation polls for a receipt until the timeout. (false, nil) means
// the outcome is unknown, not that the transfer failed; the transaction may
// still confirm later.
func (c *Client) AwaitConfirmation(ctx context.Context, txHash string, timeout time.Duration) (bool, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	hash := common.HexToHash(txHash)
	for {
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		if err == nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				c.logger.Warn("transaction mined but reverted", zap.String("tx", txHash))
				return false, sweep.ErrReverted
			}
			return true, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return false, fmt.Errorf("fetch receipt: %w", err)
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			return false, nil
		case <-ticker.C:
		}
	}
}
