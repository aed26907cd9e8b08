package indicator

import (
	"github.com/helios-quant/candle-sync/pkg/errors"
)

// SMA computes the simple moving average over the given period. Positions
// before the first full window are NaN.
func SMA(values []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidPeriod, "SMA period must be positive, got %d", period)
	}

	if len(values) < period {
		return nil, errors.NewInsufficientDataErrorf(period, len(values), "",
			"insufficient data for SMA: required %d, got %d", period, len(values))
	}

	out := nanSeries(len(values))

	var windowSum float64

	for i, v := range values {
		windowSum += v
		if i >= period {
			windowSum -= values[i-period]
		}

		if i >= period-1 {
			out[i] = windowSum / float64(period)
		}
	}

	return out, nil
}

// EMA computes the exponential moving average with smoothing factor
// 2/(period+1), seeded at the first value. There is no warm-up NaN region:
// every position holds the running EMA, matching the conventional
// non-adjusted recursion.
func EMA(values []float64, period int) []float64 {
	if len(values) == 0 || period <= 0 {
		return nil
	}

	alpha := 2.0 / (float64(period) + 1.0)
	out := make([]float64, len(values))
	out[0] = values[0]

	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}

	return out
}
