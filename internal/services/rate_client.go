package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/b0ase/treasury-backend/internal/chains"
)

// coinGeckoIDs maps payment currencies to CoinGecko coin ids.
var coinGeckoIDs = map[chains.Currency]string{
	chains.CurrencyBSV: "bitcoin-cash-sv",
	chains.CurrencyETH: "ethereum",
	chains.CurrencySOL: "solana",
}

// fallbackRates keep quoting alive through a CoinGecko outage. Stale prices
// beat a hard 502 here: the 1% payment tolerance absorbs small drift, and a
// purchase priced off a fallback still verifies against the amount it quoted.
var fallbackRates = map[chains.Currency]decimal.Decimal{
	chains.CurrencyBSV: decimal.NewFromInt(40),
	chains.CurrencyETH: decimal.NewFromInt(3000),
	chains.CurrencySOL: decimal.NewFromInt(150),
}

// RateClient fetches USD exchange rates from CoinGecko with a Redis cache in
// front. A nil redis client disables the cache.
type RateClient struct {
	baseURL    string
	httpClient *http.Client
	redis      *redis.Client
	cacheTTL   time.Duration
	log        *zap.Logger
}

func NewRateClient(baseURL string, rdb *redis.Client, cacheTTL time.Duration, log *zap.Logger) *RateClient {
	return &RateClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		redis:    rdb,
		cacheTTL: cacheTTL,
		log:      log,
	}
}

// USDRate returns the USD price of one whole unit of currency. Cache, then
// CoinGecko, then the static fallback; the method itself only errors on an
// unknown currency.
func (c *RateClient) USDRate(ctx context.Context, currency chains.Currency) (decimal.Decimal, error) {
	coinID, ok := coinGeckoIDs[currency]
	if !ok {
		return decimal.Zero, fmt.Errorf("no rate source for currency %q", currency)
	}

	if rate, ok := c.cached(ctx, currency); ok {
		return rate, nil
	}

	rate, err := c.fetch(ctx, coinID)
	if err != nil {
		c.log.Warn("rate fetch failed, using fallback",
			zap.String("currency", string(currency)),
			zap.Error(err))
		return fallbackRates[currency], nil
	}

	c.store(ctx, currency, rate)
	return rate, nil
}

// Refresh fetches and caches rates for every supported currency. The worker
// calls this on a ticker so API requests mostly hit warm cache.
func (c *RateClient) Refresh(ctx context.Context) {
	for _, currency := range chains.SupportedCurrencies {
		rate, err := c.fetch(ctx, coinGeckoIDs[currency])
		if err != nil {
			c.log.Warn("rate refresh failed",
				zap.String("currency", string(currency)),
				zap.Error(err))
			continue
		}
		c.store(ctx, currency, rate)
		c.log.Debug("rate refreshed",
			zap.String("currency", string(currency)),
			zap.String("usd", rate.String()))
	}
}

func (c *RateClient) fetch(ctx context.Context, coinID string) (decimal.Decimal, error) {
	u := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd", c.baseURL, url.QueryEscape(coinID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return decimal.Zero, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("coingecko status %d", resp.StatusCode)
	}

	var body map[string]struct {
		USD decimal.Decimal `json:"usd"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("decode rate response: %w", err)
	}
	entry, ok := body[coinID]
	if !ok || entry.USD.IsZero() {
		return decimal.Zero, fmt.Errorf("no usd rate for %s in response", coinID)
	}
	return entry.USD, nil
}

func rateCacheKey(currency chains.Currency) string {
	return "rates:usd:" + string(currency)
}

func (c *RateClient) cached(ctx context.Context, currency chains.Currency) (decimal.Decimal, bool) {
	if c.redis == nil {
		return decimal.Zero, false
	}
	raw, err := c.redis.Get(ctx, rateCacheKey(currency)).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn("rate cache read failed", zap.Error(err))
		}
		return decimal.Zero, false
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false
	}
	return rate, true
}

func (c *RateClient) store(ctx context.Context, currency chains.Currency, rate decimal.Decimal) {
	if c.redis == nil {
		return
	}
	if err := c.redis.Set(ctx, rateCacheKey(currency), rate.String(), c.cacheTTL).Err(); err != nil {
		c.log.Warn("rate cache write failed", zap.Error(err))
	}
}
