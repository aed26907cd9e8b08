package indicator

import (
	"github.com/helios-quant/candle-sync/pkg/errors"
)

// MACDResult holds the three MACD series.
type MACDResult struct {
	Line      []float64
	Signal    []float64
	Histogram []float64
}

// MACD computes the Moving Average Convergence Divergence: the difference of
// a fast and slow EMA, a signal EMA of that line, and their histogram.
func MACD(closes []float64, fast, slow, signal int) (MACDResult, error) {
	if fast <= 0 || slow <= 0 || signal <= 0 {
		return MACDResult{}, errors.Newf(errors.ErrCodeInvalidPeriod,
			"MACD periods must be positive, got fast=%d slow=%d signal=%d", fast, slow, signal)
	}

	if fast >= slow {
		return MACDResult{}, errors.Newf(errors.ErrCodeInvalidPeriod,
			"MACD fast period %d must be below slow period %d", fast, slow)
	}

	if len(closes) < slow {
		return MACDResult{}, errors.NewInsufficientDataErrorf(slow, len(closes), "",
			"insufficient data for MACD: required %d, got %d", slow, len(closes))
	}

	emaFast := EMA(closes, fast)
	emaSlow := EMA(closes, slow)

	line := make([]float64, len(closes))
	for i := range closes {
		line[i] = emaFast[i] - emaSlow[i]
	}

	signalLine := EMA(line, signal)

	histogram := make([]float64, len(closes))
	for i := range closes {
		histogram[i] = line[i] - signalLine[i]
	}

	return MACDResult{
		Line:      line,
		Signal:    signalLine,
		Histogram: histogram,
	}, nil
}
