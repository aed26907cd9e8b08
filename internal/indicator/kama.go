package indicator

import (
	"math"

	"github.com/helios-quant/candle-sync/pkg/errors"
)

// Default KAMA parameters, matching Kaufman's original recommendation.
const (
	DefaultKAMAPeriod = 10
	DefaultKAMAFast   = 2
	DefaultKAMASlow   = 30
)

// KAMA computes the Kaufman Adaptive Moving Average. The smoothing constant
// scales with the efficiency ratio over period, so the average tracks price
// closely in trending markets and flattens out in choppy ones. Positions up
// to and excluding period are NaN; the value at period seeds the recursion
// with the raw price.
func KAMA(closes []float64, period, fast, slow int) ([]float64, error) {
	if period <= 0 || fast <= 0 || slow <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidPeriod,
			"KAMA periods must be positive, got period=%d fast=%d slow=%d", period, fast, slow)
	}

	if fast >= slow {
		return nil, errors.Newf(errors.ErrCodeInvalidPeriod,
			"KAMA fast period %d must be below slow period %d", fast, slow)
	}

	if len(closes) <= period {
		return nil, errors.NewInsufficientDataErrorf(period+1, len(closes), "",
			"insufficient data for KAMA: required %d, got %d", period+1, len(closes))
	}

	fastSC := 2.0 / (float64(fast) + 1)
	slowSC := 2.0 / (float64(slow) + 1)

	kama := nanSeries(len(closes))
	kama[period] = closes[period]

	for i := period + 1; i < len(closes); i++ {
		change := math.Abs(closes[i] - closes[i-period])

		volatility := 0.0
		for j := i - period + 1; j <= i; j++ {
			volatility += math.Abs(closes[j] - closes[j-1])
		}

		// Flat windows have zero volatility; treat them as zero efficiency
		// so the average keeps its slow smoothing.
		er := 0.0
		if volatility > 0 {
			er = change / volatility
		}

		sc := er*(fastSC-slowSC) + slowSC
		sc *= sc

		kama[i] = kama[i-1] + sc*(closes[i]-kama[i-1])
	}

	return kama, nil
}

// KAMASignal is the latest price position relative to its adaptive average.
type KAMASignal struct {
	// Value is the latest KAMA value.
	Value float64

	// Trend is 1 with price above the average, -1 below, 0 on the line.
	Trend int

	// Cross is 1 when price just crossed above the average, -1 when it just
	// crossed below, 0 otherwise. A cross requires the previous bar to sit
	// strictly on the other side.
	Cross int
}

// LatestKAMASignal computes KAMA over closes and reports the position of the
// final bar.
func LatestKAMASignal(closes []float64, period, fast, slow int) (KAMASignal, error) {
	kama, err := KAMA(closes, period, fast, slow)
	if err != nil {
		return KAMASignal{}, err
	}

	last := len(closes) - 1
	signal := KAMASignal{
		Value: kama[last],
		Trend: kamaTrend(closes[last], kama[last]),
	}

	if last >= 1 && !math.IsNaN(kama[last-1]) {
		prev := kamaTrend(closes[last-1], kama[last-1])

		switch {
		case signal.Trend == 1 && prev == -1:
			signal.Cross = 1
		case signal.Trend == -1 && prev == 1:
			signal.Cross = -1
		}
	}

	return signal, nil
}

func kamaTrend(price, kama float64) int {
	switch {
	case price > kama:
		return 1
	case price < kama:
		return -1
	default:
		return 0
	}
}
