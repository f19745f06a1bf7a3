package prices

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/helix-wallet/sweeperd/pkg/utils"
	"github.com/shopspring/decimal"
)

// ErrRateLimited signals the oracle rejected the request because of request
// volume. Callers should serve cached data instead of retrying.
var ErrRateLimited = errors.New("price oracle rate limited")

// Oracle resolves token symbols to USD unit prices.
type Oracle interface {
	FetchPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)
}

// HTTPOracle queries a CryptoCompare-compatible pricemulti endpoint:
// GET <base>?fsyms=ETH,USDT&tsyms=USD  ->  {"ETH":{"USD":3012.4},...}
type HTTPOracle struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPOracle builds the oracle client from env configuration.
// Environment variables:
//   - PRICE_API_URL: pricemulti endpoint (default: CryptoCompare public API)
//   - PRICE_API_KEY: optional API key
//   - PRICE_API_TIMEOUT: request timeout (default: 10s)
func NewHTTPOracle() *HTTPOracle {
	return &HTTPOracle{
		baseURL: utils.Env("PRICE_API_URL", "https://min-api.cryptocompare.com/data/pricemulti"),
		apiKey:  utils.Env("PRICE_API_KEY", ""),
		client:  &http.Client{Timeout: utils.EnvDuration("PRICE_API_TIMEOUT", 10*time.Second)},
	}
}

func (o *HTTPOracle) FetchPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	if len(symbols) == 0 {
		return map[string]decimal.Decimal{}, nil
	}

	q := url.Values{}
	q.Set("fsyms", strings.ToUpper(strings.Join(symbols, ",")))
	q.Set("tsyms", "USD")
	if o.apiKey != "" {
		q.Set("api_key", o.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build price request: %w", err)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("price request: %w", err)
	}
	defer func() { _ = utils.DrainAndClose(resp.Body) }()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("price request: unexpected status %d", resp.StatusCode)
	}

	var payload map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode price response: %w", err)
	}

	out := make(map[string]decimal.Decimal, len(payload))
	for sym, quotes := range payload {
		if usd, ok := quotes["USD"]; ok {
			out[strings.ToUpper(sym)] = decimal.NewFromFloat(usd)
		}
	}
	return out, nil
}
