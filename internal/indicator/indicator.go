// Package indicator implements technical indicator calculations over candle
// series. All calculators are pure: they take a series and return values,
// with no storage or network dependencies.
//
// Warm-up positions (indices before the first full period) are NaN; callers
// that need only the latest value should use the Latest helper.
package indicator

import (
	"encoding/json"
	"math"

	"github.com/helios-quant/candle-sync/internal/types"
	"github.com/helios-quant/candle-sync/pkg/errors"
)

// Summary bundles the latest value of every supported indicator for one
// dataset. It is the payload of the indicators API endpoint.
type Summary struct {
	RSI           float64 `json:"rsi"`
	MACD          float64 `json:"macd"`
	MACDSignal    float64 `json:"macd_signal"`
	MACDHistogram float64 `json:"macd_histogram"`
	BollingerUp   float64 `json:"bollinger_upper"`
	BollingerMid  float64 `json:"bollinger_middle"`
	BollingerLow  float64 `json:"bollinger_lower"`
	ATR           float64 `json:"atr"`
	SMA20         float64 `json:"sma_20"`
	SMA50         float64 `json:"sma_50"`
	EMA12         float64 `json:"ema_12"`
	EMA26         float64 `json:"ema_26"`
}

// MarshalJSON renders non-finite values as null. encoding/json rejects NaN,
// and short series legitimately leave long-window indicators at NaN.
func (s Summary) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		RSI           *float64 `json:"rsi"`
		MACD          *float64 `json:"macd"`
		MACDSignal    *float64 `json:"macd_signal"`
		MACDHistogram *float64 `json:"macd_histogram"`
		BollingerUp   *float64 `json:"bollinger_upper"`
		BollingerMid  *float64 `json:"bollinger_middle"`
		BollingerLow  *float64 `json:"bollinger_lower"`
		ATR           *float64 `json:"atr"`
		SMA20         *float64 `json:"sma_20"`
		SMA50         *float64 `json:"sma_50"`
		EMA12         *float64 `json:"ema_12"`
		EMA26         *float64 `json:"ema_26"`
	}{
		RSI:           finiteOrNil(s.RSI),
		MACD:          finiteOrNil(s.MACD),
		MACDSignal:    finiteOrNil(s.MACDSignal),
		MACDHistogram: finiteOrNil(s.MACDHistogram),
		BollingerUp:   finiteOrNil(s.BollingerUp),
		BollingerMid:  finiteOrNil(s.BollingerMid),
		BollingerLow:  finiteOrNil(s.BollingerLow),
		ATR:           finiteOrNil(s.ATR),
		SMA20:         finiteOrNil(s.SMA20),
		SMA50:         finiteOrNil(s.SMA50),
		EMA12:         finiteOrNil(s.EMA12),
		EMA26:         finiteOrNil(s.EMA26),
	})
}

func finiteOrNil(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}

	return &v
}

// Default periods, matching common charting conventions.
const (
	DefaultRSIPeriod       = 14
	DefaultMACDFast        = 12
	DefaultMACDSlow        = 26
	DefaultMACDSignal      = 9
	DefaultBollingerPeriod = 20
	DefaultBollingerStdDev = 2.0
	DefaultATRPeriod       = 14
)

// Summarize computes the latest value of all indicators for a candle series.
// The series must cover at least the longest warm-up window (the MACD slow
// period plus its signal period).
func Summarize(candles []types.Candle) (Summary, error) {
	required := DefaultMACDSlow + DefaultMACDSignal
	if len(candles) < required {
		return Summary{}, errors.NewInsufficientDataErrorf(required, len(candles), symbolOf(candles),
			"insufficient data for indicator summary: required %d, got %d", required, len(candles))
	}

	closes := types.Closes(candles)

	rsi, err := RSI(closes, DefaultRSIPeriod)
	if err != nil {
		return Summary{}, err
	}

	macd, err := MACD(closes, DefaultMACDFast, DefaultMACDSlow, DefaultMACDSignal)
	if err != nil {
		return Summary{}, err
	}

	bands, err := BollingerBands(closes, DefaultBollingerPeriod, DefaultBollingerStdDev)
	if err != nil {
		return Summary{}, err
	}

	atr, err := ATR(candles, DefaultATRPeriod)
	if err != nil {
		return Summary{}, err
	}

	sma20, err := SMA(closes, 20)
	if err != nil {
		return Summary{}, err
	}

	// A 50-bucket SMA needs more history than the summary minimum; report it
	// as NaN for short series instead of failing the whole summary.
	sma50Value := math.NaN()

	if sma50, err := SMA(closes, 50); err == nil {
		sma50Value = Latest(sma50)
	} else if !errors.IsInsufficientDataError(err) {
		return Summary{}, err
	}

	ema12 := EMA(closes, 12)
	ema26 := EMA(closes, 26)

	return Summary{
		RSI:           Latest(rsi),
		MACD:          Latest(macd.Line),
		MACDSignal:    Latest(macd.Signal),
		MACDHistogram: Latest(macd.Histogram),
		BollingerUp:   Latest(bands.Upper),
		BollingerMid:  Latest(bands.Middle),
		BollingerLow:  Latest(bands.Lower),
		ATR:           Latest(atr),
		SMA20:         Latest(sma20),
		SMA50:         sma50Value,
		EMA12:         Latest(ema12),
		EMA26:         Latest(ema26),
	}, nil
}

// Latest returns the last non-NaN value of a series, or NaN when none exists.
func Latest(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if !math.IsNaN(series[i]) {
			return series[i]
		}
	}

	return math.NaN()
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}

	return out
}

func symbolOf(candles []types.Candle) string {
	if len(candles) == 0 {
		return ""
	}

	return candles[0].Symbol
}
