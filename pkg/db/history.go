// Package db persists the sweep audit trail to ClickHouse. Recording is
// best-effort: the sweep path never fails because the audit store is down.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/helix-wallet/sweeperd/pkg/sweep"
	"github.com/helix-wallet/sweeperd/pkg/utils"
)

const sweepsDDL = `
CREATE TABLE IF NOT EXISTS sweeps (
	account_id String,
	chain      String,
	symbol     String,
	amount     Float64,
	usd_value  Float64,
	tx_hash    String,
	native     UInt8,
	swept_at   DateTime64(3)
) ENGINE = MergeTree()
ORDER BY (account_id, chain, swept_at)`

// History records executed sweeps.
type History struct {
	conn   driver.Conn
	logger *zap.Logger
}

// New connects to ClickHouse and ensures the sweeps table exists.
// Environment variables:
//   - CLICKHOUSE_ADDR: host:port (default "localhost:9000")
//   - CLICKHOUSE_DB, CLICKHOUSE_USER, CLICKHOUSE_PASSWORD
func New(ctx context.Context, logger *zap.Logger) (*History, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{utils.Env("CLICKHOUSE_ADDR", "localhost:9000")},
		Auth: clickhouse.Auth{
			Database: utils.Env("CLICKHOUSE_DB", "sweeperd"),
			Username: utils.Env("CLICKHOUSE_USER", "default"),
			Password: utils.Env("CLICKHOUSE_PASSWORD", ""),
		},
		DialTimeout: 10 * time.Second,
		Compression: &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	if err := conn.Exec(ctx, sweepsDDL); err != nil {
		return nil, fmt.Errorf("ensure sweeps table: %w", err)
	}
	logger.Info("sweep history store ready")
	return &History{conn: conn, logger: logger}, nil
}

// Close releases the connection.
func (h *History) Close() error {
	return h.conn.Close()
}

// RecordSweep implements sweep.Recorder.
func (h *History) RecordSweep(ctx context.Context, rec sweep.Record) {
	amount, _ := rec.Amount.Float64()
	usd, _ := rec.USDValue.Float64()
	native := uint8(0)
	if rec.Native {
		native = 1
	}
	err := h.conn.Exec(ctx,
		`INSERT INTO sweeps (account_id, chain, symbol, amount, usd_value, tx_hash, native, swept_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.AccountID, rec.Chain, rec.Symbol, amount, usd, rec.TxHash, native, rec.SweptAt)
	if err != nil {
		h.logger.Warn("sweep history insert failed",
			zap.String("tx", rec.TxHash), zap.Error(err))
	}
}

// TotalSweptUSD sums the recorded USD value for one account.
func (h *History) TotalSweptUSD(ctx context.Context, accountID string) (float64, error) {
	row := h.conn.QueryRow(ctx,
		`SELECT sum(usd_value) FROM sweeps WHERE account_id = ?`, accountID)
	var total float64
	if err := row.Scan(&total); err != nil {
		return 0, fmt.Errorf("query total swept: %w", err)
	}
	return total, nil
}

var _ sweep.Recorder = (*History)(nil)
