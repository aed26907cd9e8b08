package indicator

import (
	"math"

	"github.com/helios-quant/candle-sync/pkg/errors"
)

// RSI computes the Relative Strength Index over close prices.
//
//	RSI = 100 - 100/(1+RS), RS = average gain / average loss
//
// Gains and losses are averaged over a simple rolling window. Values range
// 0-100; above 70 is conventionally overbought, below 30 oversold.
func RSI(closes []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidPeriod, "RSI period must be positive, got %d", period)
	}

	// One extra point is needed for the first delta.
	if len(closes) < period+1 {
		return nil, errors.NewInsufficientDataErrorf(period+1, len(closes), "",
			"insufficient data for RSI: required %d, got %d", period+1, len(closes))
	}

	gains := make([]float64, len(closes))
	losses := make([]float64, len(closes))

	for i := 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gains[i] = delta
		} else {
			losses[i] = -delta
		}
	}

	out := nanSeries(len(closes))

	var gainSum, lossSum float64

	// Deltas start at index 1; the first full window ends at index period.
	for i := 1; i < len(closes); i++ {
		gainSum += gains[i]
		lossSum += losses[i]

		if i > period {
			gainSum -= gains[i-period]
			lossSum -= losses[i-period]
		}

		if i >= period {
			avgGain := gainSum / float64(period)
			avgLoss := lossSum / float64(period)

			if avgLoss == 0 {
				out[i] = 100
			} else {
				rs := avgGain / avgLoss
				out[i] = 100 - 100/(1+rs)
			}
		}
	}

	return out, nil
}

// Overbought reports whether an RSI value indicates overbought conditions.
func Overbought(rsi float64) bool {
	return !math.IsNaN(rsi) && rsi > 70
}

// Oversold reports whether an RSI value indicates oversold conditions.
func Oversold(rsi float64) bool {
	return !math.IsNaN(rsi) && rsi < 30
}
