package indicator

import (
	"math"

	"github.com/helios-quant/candle-sync/pkg/errors"
)

// BollingerResult holds the three Bollinger band series.
type BollingerResult struct {
	Upper  []float64
	Middle []float64
	Lower  []float64
}

// BollingerBands computes the middle band as an SMA over period and the
// upper/lower bands at stdDev sample standard deviations around it.
func BollingerBands(closes []float64, period int, stdDev float64) (BollingerResult, error) {
	if period <= 1 {
		return BollingerResult{}, errors.Newf(errors.ErrCodeInvalidPeriod,
			"Bollinger period must be at least 2, got %d", period)
	}

	if stdDev <= 0 {
		return BollingerResult{}, errors.Newf(errors.ErrCodeInvalidParameter,
			"Bollinger standard deviation multiplier must be positive, got %v", stdDev)
	}

	if len(closes) < period {
		return BollingerResult{}, errors.NewInsufficientDataErrorf(period, len(closes), "",
			"insufficient data for Bollinger Bands: required %d, got %d", period, len(closes))
	}

	middle, err := SMA(closes, period)
	if err != nil {
		return BollingerResult{}, err
	}

	upper := nanSeries(len(closes))
	lower := nanSeries(len(closes))

	for i := period - 1; i < len(closes); i++ {
		sd := sampleStdDev(closes[i-period+1:i+1], middle[i])
		upper[i] = middle[i] + stdDev*sd
		lower[i] = middle[i] - stdDev*sd
	}

	return BollingerResult{
		Upper:  upper,
		Middle: middle,
		Lower:  lower,
	}, nil
}

// sampleStdDev computes the standard deviation of window around mean with
// Bessel's correction.
func sampleStdDev(window []float64, mean float64) float64 {
	var sumSq float64
	for _, v := range window {
		d := v - mean
		sumSq += d * d
	}

	return math.Sqrt(sumSq / float64(len(window)-1))
}
