package server

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"

	"github.com/helios-quant/candle-sync/pkg/errors"
)

// DefaultTickerTTL bounds how long a cached ticker price is served before a
// fresh fetch.
const DefaultTickerTTL = 5 * time.Second

// PriceFetcher fetches the current price of one symbol.
type PriceFetcher interface {
	Price(ctx context.Context, symbol string) (float64, error)
}

type cachedPrice struct {
	value     float64
	fetchedAt time.Time
}

// TickerCache serves live ticker prices with a time bound: entries younger
// than ttl are returned from memory, older ones trigger a refetch. A failed
// refetch falls back to the stale entry when one exists.
type TickerCache struct {
	client *binance.Client
	ttl    time.Duration
	now    func() time.Time

	mu     sync.Mutex
	prices map[string]cachedPrice
}

// NewTickerCache creates a TickerCache over the given Binance client.
func NewTickerCache(client *binance.Client, ttl time.Duration) *TickerCache {
	if ttl <= 0 {
		ttl = DefaultTickerTTL
	}

	return &TickerCache{
		client: client,
		ttl:    ttl,
		now:    time.Now,
		prices: make(map[string]cachedPrice),
	}
}

// Price returns the current price of symbol, served from cache when fresh.
func (t *TickerCache) Price(ctx context.Context, symbol string) (float64, error) {
	t.mu.Lock()
	cached, ok := t.prices[symbol]
	t.mu.Unlock()

	if ok && t.now().Sub(cached.fetchedAt) < t.ttl {
		return cached.value, nil
	}

	price, err := t.fetch(ctx, symbol)
	if err != nil {
		if ok {
			// Serve the stale price rather than failing the caller.
			return cached.value, nil
		}

		return 0, err
	}

	t.mu.Lock()
	t.prices[symbol] = cachedPrice{value: price, fetchedAt: t.now()}
	t.mu.Unlock()

	return price, nil
}

func (t *TickerCache) fetch(ctx context.Context, symbol string) (float64, error) {
	listed, err := t.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrCodeTickerFetch, err, "ticker fetch failed for %s", symbol)
	}

	if len(listed) == 0 {
		return 0, errors.Newf(errors.ErrCodeTickerFetch, "no ticker returned for %s", symbol)
	}

	price, err := strconv.ParseFloat(listed[0].Price, 64)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrCodeTickerFetch, err, "unparsable ticker price %q for %s", listed[0].Price, symbol)
	}

	return price, nil
}
