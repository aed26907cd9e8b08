package types

import "time"

// Candle represents one OHLCV bar for a (symbol, interval) pair.
// Time is the opening instant of the bucket, always UTC.
type Candle struct {
	Time        time.Time `json:"time"`
	Open        float64   `json:"open"`
	High        float64   `json:"high"`
	Low         float64   `json:"low"`
	Close       float64   `json:"close"`
	Volume      float64   `json:"volume"`
	QuoteVolume float64   `json:"quote_volume"`
	Trades      int64     `json:"trades"`
	Symbol      string    `json:"symbol"`
	Interval    string    `json:"interval"`
}

// TimeRange returns the first and last candle times of a sorted series.
// Both zero values are returned for an empty series.
func TimeRange(candles []Candle) (start, end time.Time) {
	if len(candles) == 0 {
		return time.Time{}, time.Time{}
	}

	return candles[0].Time, candles[len(candles)-1].Time
}

// Closes extracts the close price series.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}

	return out
}
