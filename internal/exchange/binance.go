// Package exchange fetches historical klines from the Binance REST API.
package exchange

import (
	"context"
	"net/http"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"go.uber.org/zap"

	"github.com/helios-quant/candle-sync/internal/logger"
	"github.com/helios-quant/candle-sync/internal/types"
	"github.com/helios-quant/candle-sync/pkg/errors"
)

// DefaultPageLimit is the maximum number of klines Binance returns per request.
const DefaultPageLimit = 1000

// Config holds the exchange client configuration.
type Config struct {
	// BaseURL overrides the Binance API endpoint. Empty means production.
	BaseURL string
	// Timeout bounds each kline request.
	Timeout time.Duration
	// PageLimit is the per-request row cap. Zero means DefaultPageLimit.
	PageLimit int
}

// Client downloads klines for a symbol/interval within a time range,
// transparently paginating.
type Client struct {
	client    *binance.Client
	logger    *logger.Logger
	pageLimit int
}

// NewClient creates an exchange client. Binance public market data requires
// no authentication.
func NewClient(config Config, log *logger.Logger) *Client {
	client := binance.NewClient("", "")
	if config.BaseURL != "" {
		client.BaseURL = config.BaseURL
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client.HTTPClient = &http.Client{Timeout: timeout}

	pageLimit := config.PageLimit
	if pageLimit <= 0 {
		pageLimit = DefaultPageLimit
	}

	return &Client{
		client:    client,
		logger:    log,
		pageLimit: pageLimit,
	}
}

// FetchRange retrieves all klines for the window [start, end), paginating
// until an empty or short page is returned or the next page would start at or
// beyond end.
//
// A transport error aborts pagination immediately and returns the rows
// collected so far together with a coded transport error. Callers decide
// whether the partial result is still usable; this method never discards
// already-fetched pages.
func (c *Client) FetchRange(ctx context.Context, symbol string, interval types.Interval, start, end time.Time) ([]*binance.Kline, error) {
	startMillis := start.UnixMilli()
	endMillis := end.UnixMilli()

	var collected []*binance.Kline

	currentStart := startMillis

	for currentStart < endMillis {
		klines, err := c.client.NewKlinesService().
			Symbol(symbol).
			Interval(interval.String()).
			StartTime(currentStart).
			EndTime(endMillis).
			Limit(c.pageLimit).
			Do(ctx)
		if err != nil {
			c.logger.Warn("kline fetch aborted, keeping partial result",
				zap.String("symbol", symbol),
				zap.String("interval", interval.String()),
				zap.Int("rows_collected", len(collected)),
				zap.Error(err))

			return collected, errors.Wrapf(errors.ErrCodeTransport, err,
				"failed to fetch %s %s klines", symbol, interval)
		}

		if len(klines) == 0 {
			break
		}

		collected = append(collected, klines...)

		c.logger.Debug("fetched kline page",
			zap.String("symbol", symbol),
			zap.Int("page_rows", len(klines)),
			zap.Int("total_rows", len(collected)))

		// A short page means the range is exhausted.
		if len(klines) < c.pageLimit {
			break
		}

		// Advance just past the last row's open time so pages never overlap.
		currentStart = klines[len(klines)-1].OpenTime + 1
	}

	return collected, nil
}
