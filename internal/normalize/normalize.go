// Package normalize converts raw exchange kline rows into canonical Candle
// records.
package normalize

import (
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"

	"github.com/helios-quant/candle-sync/internal/types"
	"github.com/helios-quant/candle-sync/pkg/errors"
)

// Batch maps a fetched kline batch to Candles, attaching the requested symbol
// and interval to every row.
//
// The mapping is all-or-nothing: the first malformed row rejects the whole
// batch with an error naming the offending index and field. Price fields are
// never defaulted.
func Batch(klines []*binance.Kline, symbol string, interval types.Interval) ([]types.Candle, error) {
	candles := make([]types.Candle, 0, len(klines))

	for i, k := range klines {
		candle, err := Row(k, symbol, interval)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrCodeMalformedRow, err,
				"malformed kline row %d for %s %s", i, symbol, interval)
		}

		candles = append(candles, candle)
	}

	return candles, nil
}

// Row maps a single kline to a Candle.
func Row(k *binance.Kline, symbol string, interval types.Interval) (types.Candle, error) {
	if k == nil {
		return types.Candle{}, errors.New(errors.ErrCodeMalformedRow, "nil kline row")
	}

	if k.OpenTime <= 0 {
		return types.Candle{}, errors.Newf(errors.ErrCodeMalformedRow, "invalid open time %d", k.OpenTime)
	}

	open, err := parsePrice("open", k.Open)
	if err != nil {
		return types.Candle{}, err
	}

	high, err := parsePrice("high", k.High)
	if err != nil {
		return types.Candle{}, err
	}

	low, err := parsePrice("low", k.Low)
	if err != nil {
		return types.Candle{}, err
	}

	closePrice, err := parsePrice("close", k.Close)
	if err != nil {
		return types.Candle{}, err
	}

	volume, err := parseQuantity("volume", k.Volume)
	if err != nil {
		return types.Candle{}, err
	}

	quoteVolume, err := parseQuantity("quote_volume", k.QuoteAssetVolume)
	if err != nil {
		return types.Candle{}, err
	}

	if k.TradeNum < 0 {
		return types.Candle{}, errors.Newf(errors.ErrCodeMalformedRow, "negative trade count %d", k.TradeNum)
	}

	if low.GreaterThan(high) {
		return types.Candle{}, errors.Newf(errors.ErrCodeMalformedRow,
			"low %s exceeds high %s", low, high)
	}

	if closePrice.LessThan(low) || closePrice.GreaterThan(high) {
		return types.Candle{}, errors.Newf(errors.ErrCodeMalformedRow,
			"close %s outside [%s, %s]", closePrice, low, high)
	}

	if open.LessThan(low) || open.GreaterThan(high) {
		return types.Candle{}, errors.Newf(errors.ErrCodeMalformedRow,
			"open %s outside [%s, %s]", open, low, high)
	}

	return types.Candle{
		Time:        time.UnixMilli(k.OpenTime).UTC(),
		Open:        open.InexactFloat64(),
		High:        high.InexactFloat64(),
		Low:         low.InexactFloat64(),
		Close:       closePrice.InexactFloat64(),
		Volume:      volume.InexactFloat64(),
		QuoteVolume: quoteVolume.InexactFloat64(),
		Trades:      k.TradeNum,
		Symbol:      symbol,
		Interval:    interval.String(),
	}, nil
}

// parsePrice parses a strictly positive decimal price field.
func parsePrice(field, value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, errors.Wrapf(errors.ErrCodeMalformedRow, err,
			"non-numeric %s %q", field, value)
	}

	if d.Sign() <= 0 {
		return decimal.Zero, errors.Newf(errors.ErrCodeMalformedRow,
			"non-positive %s %q", field, value)
	}

	return d, nil
}

// parseQuantity parses a non-negative decimal volume field.
func parseQuantity(field, value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, errors.Wrapf(errors.ErrCodeMalformedRow, err,
			"non-numeric %s %q", field, value)
	}

	if d.Sign() < 0 {
		return decimal.Zero, errors.Newf(errors.ErrCodeMalformedRow,
			"negative %s %q", field, value)
	}

	return d, nil
}
