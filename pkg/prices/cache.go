// Package prices caches, batches, and rate-limits USD price lookups against an
// external oracle. Cached values are kept past their freshness TTL so they can
// serve as a degraded fallback when a refresh fails; only the long-horizon
// eviction pass actually discards them.
package prices

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/helix-wallet/sweeperd/pkg/retry"
	"github.com/helix-wallet/sweeperd/pkg/utils"
)

// Entry is one cached quote. Stale entries stay resident until evicted by
// ClearExpired.
type Entry struct {
	Price     decimal.Decimal
	FetchedAt time.Time
}

// Options tune the cache. Zero values fall back to the defaults below.
type Options struct {
	TTL        time.Duration // freshness window
	EvictAfter time.Duration // long horizon after which entries are dropped
	MinGap     time.Duration // minimum delay between oracle requests
	BatchSize  int           // max symbols per oracle request
	Retry      retry.Config
}

// DefaultOptions returns the production cache settings, env-overridable.
func DefaultOptions() Options {
	return Options{
		TTL:        utils.EnvDuration("PRICE_CACHE_TTL", 10*time.Minute),
		EvictAfter: utils.EnvDuration("PRICE_CACHE_EVICT_AFTER", 24*time.Hour),
		MinGap:     utils.EnvDuration("PRICE_FETCH_MIN_GAP", 2*time.Second),
		BatchSize:  utils.EnvInt("PRICE_FETCH_BATCH_SIZE", 30),
		Retry: retry.Config{
			MaxRetries:    3,
			InitialDelay:  time.Second,
			MaxDelay:      15 * time.Second,
			Multiplier:    2.0,
			JitterEnabled: true,
		},
	}
}

// Cache is safe for concurrent use by every sweep cycle. Per-symbol request
// coalescing guarantees two concurrent lookups for the same symbol never issue
// two outbound fetches.
type Cache struct {
	oracle Oracle
	logger *zap.Logger
	opts   Options

	entries *xsync.Map[string, Entry]

	mu        sync.Mutex
	inflight  map[string]chan struct{}
	lastFetch time.Time
}

// NewCache builds a price cache around the given oracle.
func NewCache(oracle Oracle, logger *zap.Logger, opts Options) *Cache {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 30
	}
	if opts.TTL <= 0 {
		opts.TTL = 10 * time.Minute
	}
	if opts.EvictAfter <= 0 {
		opts.EvictAfter = 24 * time.Hour
	}
	if opts.Retry.MaxRetries <= 0 {
		opts.Retry = DefaultOptions().Retry
	}
	return &Cache{
		oracle:   oracle,
		logger:   logger,
		opts:     opts,
		entries:  xsync.NewMap[string, Entry](),
		inflight: make(map[string]chan struct{}),
	}
}

// GetPrice returns the USD unit price for one symbol. A zero result means the
// price is unknown, not that the asset is worthless.
func (c *Cache) GetPrice(ctx context.Context, symbol string) decimal.Decimal {
	return c.GetPrices(ctx, []string{symbol})[strings.ToUpper(symbol)]
}

// GetPrices resolves many symbols in one call. Symbols fresh in cache
// short-circuit; only the stale/missing subset hits the batch-fetch path.
// The result always contains every requested symbol, with zero standing in
// for "unknown".
func (c *Cache) GetPrices(ctx context.Context, symbols []string) map[string]decimal.Decimal {
	now := time.Now()
	result := make(map[string]decimal.Decimal, len(symbols))

	var need []string
	for _, raw := range symbols {
		sym := strings.ToUpper(raw)
		if _, dup := result[sym]; dup {
			continue
		}
		if e, ok := c.entries.Load(sym); ok && now.Sub(e.FetchedAt) < c.opts.TTL {
			result[sym] = e.Price
			continue
		}
		result[sym] = decimal.Zero
		need = append(need, sym)
	}
	if len(need) == 0 {
		return result
	}

	owned, waits := c.claim(need)

	if len(owned) > 0 {
		c.fetch(ctx, owned)
	}
	for _, ch := range waits {
		select {
		case <-ch:
		case <-ctx.Done():
		}
	}

	// Whatever the refresh produced, serve the best value on hand: fresh,
	// stale fallback, or zero when the symbol was never priced.
	for _, sym := range need {
		if e, ok := c.entries.Load(sym); ok {
			result[sym] = e.Price
		}
	}
	return result
}

// claim partitions symbols into those this caller must fetch and channels to
// wait on for symbols another caller is already fetching.
func (c *Cache) claim(need []string) (owned []string, waits []chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sym := range need {
		if ch, ok := c.inflight[sym]; ok {
			waits = append(waits, ch)
			continue
		}
		ch := make(chan struct{})
		c.inflight[sym] = ch
		owned = append(owned, sym)
	}
	return owned, waits
}

// release closes the in-flight markers so coalesced waiters resume.
func (c *Cache) release(symbols []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sym := range symbols {
		if ch, ok := c.inflight[sym]; ok {
			close(ch)
			delete(c.inflight, sym)
		}
	}
}

func (c *Cache) fetch(ctx context.Context, symbols []string) {
	defer c.release(symbols)

	for start := 0; start < len(symbols); start += c.opts.BatchSize {
		end := start + c.opts.BatchSize
		if end > len(symbols) {
			end = len(symbols)
		}
		c.fetchBatch(ctx, symbols[start:end])
	}
}

func (c *Cache) fetchBatch(ctx context.Context, batch []string) {
	c.throttle(ctx)

	err := retry.WithBackoff(ctx, c.opts.Retry, c.logger, "price fetch", func() error {
		quotes, err := c.oracle.FetchPrices(ctx, batch)
		if err != nil {
			if errors.Is(err, ErrRateLimited) {
				// Serve cached data immediately rather than blocking the caller.
				return &retry.Permanent{Err: err}
			}
			return err
		}
		now := time.Now()
		for sym, price := range quotes {
			c.entries.Store(sym, Entry{Price: price, FetchedAt: now})
		}
		return nil
	})
	if err != nil {
		stale := 0
		for _, sym := range batch {
			if _, ok := c.entries.Load(sym); ok {
				stale++
			}
		}
		c.logger.Warn("price refresh failed, serving cached values",
			zap.Strings("symbols", batch),
			zap.Int("stale_fallbacks", stale),
			zap.Error(err))
	}
}

// throttle enforces the minimum inter-request delay toward the oracle.
func (c *Cache) throttle(ctx context.Context) {
	c.mu.Lock()
	wait := c.opts.MinGap - time.Since(c.lastFetch)
	if wait < 0 {
		wait = 0
	}
	c.lastFetch = time.Now().Add(wait)
	c.mu.Unlock()

	if wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
		}
	}
}

// ClearExpired evicts entries older than the long eviction horizon. This is
// distinct from staleness: a stale-but-present entry is an intentional
// fallback and survives until this pass.
func (c *Cache) ClearExpired() int {
	cutoff := time.Now().Add(-c.opts.EvictAfter)
	removed := 0
	c.entries.Range(func(sym string, e Entry) bool {
		if e.FetchedAt.Before(cutoff) {
			c.entries.Delete(sym)
			removed++
		}
		return true
	})
	if removed > 0 {
		c.logger.Debug("evicted expired price entries", zap.Int("count", removed))
	}
	return removed
}

// Size reports the number of resident entries.
func (c *Cache) Size() int {
	return c.entries.Size()
}

// Prime inserts a quote directly, bypassing the oracle. Used by tests and by
// the admin API's manual price override.
func (c *Cache) Prime(symbol string, price decimal.Decimal, fetchedAt time.Time) {
	c.entries.Store(strings.ToUpper(symbol), Entry{Price: price, FetchedAt: fetchedAt})
}
