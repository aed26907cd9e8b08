package indicator

import (
	"math"

	"github.com/helios-quant/candle-sync/internal/types"
	"github.com/helios-quant/candle-sync/pkg/errors"
)

// ATR computes the Average True Range as a simple rolling mean of the true
// range over period. The first candle has no previous close, so its true
// range is the plain high-low span.
func ATR(candles []types.Candle, period int) ([]float64, error) {
	if period <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidPeriod, "ATR period must be positive, got %d", period)
	}

	if len(candles) < period {
		return nil, errors.NewInsufficientDataErrorf(period, len(candles), symbolOf(candles),
			"insufficient data for ATR: required %d, got %d", period, len(candles))
	}

	tr := make([]float64, len(candles))
	tr[0] = candles[0].High - candles[0].Low

	for i := 1; i < len(candles); i++ {
		prevClose := candles[i-1].Close
		hl := candles[i].High - candles[i].Low
		hc := math.Abs(candles[i].High - prevClose)
		lc := math.Abs(candles[i].Low - prevClose)
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}

	return SMA(tr, period)
}
