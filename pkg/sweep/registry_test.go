package sweep

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func registryCycleConfig(t *testing.T, accountID, chainKey string) CycleConfig {
	t.Helper()
	profile := testProfile()
	profile.Key = chainKey
	profile.PollInterval = time.Hour

	backend := newFakeBackend()
	backend.balance = big.NewInt(1)

	pool := pond.NewPool(4)
	t.Cleanup(pool.StopAndWait)

	return CycleConfig{
		Key:         Key{AccountID: accountID, Chain: chainKey},
		Profile:     profile,
		Backend:     backend,
		Prices:      fakePrices{"ETH": decimal.NewFromInt(1)},
		Dedup:       NewDedup(),
		Notify:      (&notifyLog{}).Notify,
		Logger:      zap.NewNop(),
		Wallet:      Wallet{Address: common.HexToAddress("0xaa")},
		Destination: common.HexToAddress("0xbb"),
		Pool:        pool,
	}
}

func TestStartIsIdempotentPerKey(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	defer r.StopAll()

	cfg := registryCycleConfig(t, "user1", "ethereum")
	require.True(t, r.Start(context.Background(), cfg))
	assert.False(t, r.Start(context.Background(), cfg), "second start for the same key must report already running")

	assert.True(t, r.Status(cfg.Key))
	assert.Equal(t, 1, r.GlobalStats().ActiveSweeps)
}

func TestStopRemovesCycle(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	defer r.StopAll()

	cfg := registryCycleConfig(t, "user1", "ethereum")
	require.True(t, r.Start(context.Background(), cfg))

	assert.True(t, r.Stop(cfg.Key))
	assert.False(t, r.Status(cfg.Key))
	assert.False(t, r.Stop(cfg.Key), "stopping a stopped key reports false")

	// The key is free again after stop.
	assert.True(t, r.Start(context.Background(), registryCycleConfig(t, "user1", "ethereum")))
}

func TestStopAllForTargetsOneAccount(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	defer r.StopAll()

	require.True(t, r.Start(context.Background(), registryCycleConfig(t, "user1", "ethereum")))
	require.True(t, r.Start(context.Background(), registryCycleConfig(t, "user1", "bsc")))
	require.True(t, r.Start(context.Background(), registryCycleConfig(t, "user2", "ethereum")))

	assert.ElementsMatch(t, []string{"ethereum", "bsc"}, r.ActiveChainsFor("user1"))

	assert.Equal(t, 2, r.StopAllFor("user1"))
	assert.Empty(t, r.ActiveChainsFor("user1"))
	assert.True(t, r.Status(Key{AccountID: "user2", Chain: "ethereum"}), "other accounts are untouched")
}

func TestGlobalStatsAggregates(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	defer r.StopAll()

	require.True(t, r.Start(context.Background(), registryCycleConfig(t, "user1", "ethereum")))
	require.True(t, r.Start(context.Background(), registryCycleConfig(t, "user1", "bsc")))
	require.True(t, r.Start(context.Background(), registryCycleConfig(t, "user2", "polygon")))

	stats := r.GlobalStats()
	assert.Equal(t, 2, stats.ActiveAccounts)
	assert.Equal(t, 3, stats.ActiveSweeps)
}

func TestPurgeInactiveStopsIdleAccounts(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	defer r.StopAll()

	require.True(t, r.Start(context.Background(), registryCycleConfig(t, "idle", "ethereum")))
	require.True(t, r.Start(context.Background(), registryCycleConfig(t, "busy", "ethereum")))

	activity := map[string]time.Time{
		"idle": time.Now().Add(-25 * time.Hour),
		"busy": time.Now(),
	}
	purged := r.PurgeInactive(func(id string) (time.Time, bool) {
		at, ok := activity[id]
		return at, ok
	}, 24*time.Hour)

	assert.Equal(t, 1, purged)
	assert.False(t, r.Status(Key{AccountID: "idle", Chain: "ethereum"}))
	assert.True(t, r.Status(Key{AccountID: "busy", Chain: "ethereum"}))
}

func TestStopAllEmptiesRegistry(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	require.True(t, r.Start(context.Background(), registryCycleConfig(t, "user1", "ethereum")))
	require.True(t, r.Start(context.Background(), registryCycleConfig(t, "user2", "bsc")))

	assert.Equal(t, 2, r.StopAll())
	assert.Equal(t, 0, r.GlobalStats().ActiveSweeps)
}
