package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// QuoteCache caches fee quotes and market rates of a live ledger. It wraps
// the live side only; put it under a Switch as the primary so fallback data
// is never cached.
type QuoteCache struct {
	Ledger

	cache  *bigcache.BigCache
	logger *zap.Logger
}

// NewQuoteCache wraps live with a cache whose entries live for ttl.
func NewQuoteCache(ctx context.Context, live Ledger, ttl time.Duration, logger *zap.Logger) (*QuoteCache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	cfg := bigcache.DefaultConfig(ttl)
	cfg.Shards = 16
	cfg.MaxEntriesInWindow = 1024
	cfg.MaxEntrySize = 256
	cfg.CleanWindow = ttl
	cfg.Verbose = false

	cache, err := bigcache.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create quote cache: %w", err)
	}
	return &QuoteCache{Ledger: live, cache: cache, logger: logger}, nil
}

// Close stops the cache's cleanup goroutine.
func (q *QuoteCache) Close() error {
	return q.cache.Close()
}

func (q *QuoteCache) lookup(key string, dst any) bool {
	raw, err := q.cache.Get(key)
	if err != nil {
		if !errors.Is(err, bigcache.ErrEntryNotFound) {
			q.logger.Debug("quote cache get", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

func (q *QuoteCache) store(key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := q.cache.Set(key, raw); err != nil {
		q.logger.Debug("quote cache set", zap.String("key", key), zap.Error(err))
	}
}

// NetworkFee returns a cached quote or fetches and caches a fresh one.
func (q *QuoteCache) NetworkFee(ctx context.Context, network, token string) (FeeQuote, error) {
	key := "fee|" + network + "|" + token
	var cached FeeQuote
	if q.lookup(key, &cached) {
		return cached, nil
	}

	fresh, err := q.Ledger.NetworkFee(ctx, network, token)
	if err != nil {
		return FeeQuote{}, err
	}
	q.store(key, fresh)
	return fresh, nil
}

// MarketRate returns a cached rate or fetches and caches a fresh one.
func (q *QuoteCache) MarketRate(ctx context.Context, sell, buy string) (decimal.Decimal, error) {
	key := "rate|" + sell + "|" + buy
	var cached decimal.Decimal
	if q.lookup(key, &cached) {
		return cached, nil
	}

	fresh, err := q.Ledger.MarketRate(ctx, sell, buy)
	if err != nil {
		return decimal.Zero, err
	}
	q.store(key, fresh)
	return fresh, nil
}
