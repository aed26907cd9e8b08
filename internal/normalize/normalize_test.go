package normalize

import (
	"testing"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/stretchr/testify/suite"

	"github.com/helios-quant/candle-sync/internal/types"
	"github.com/helios-quant/candle-sync/pkg/errors"
)

type NormalizeTestSuite struct {
	suite.Suite
}

func TestNormalizeSuite(t *testing.T) {
	suite.Run(t, new(NormalizeTestSuite))
}

func validKline(openTime int64) *binance.Kline {
	return &binance.Kline{
		OpenTime:         openTime,
		Open:             "50000.10",
		High:             "50100.50",
		Low:              "49900.20",
		Close:            "50050.00",
		Volume:           "12.5",
		CloseTime:        openTime + time.Hour.Milliseconds() - 1,
		QuoteAssetVolume: "625000.00",
		TradeNum:         320,
	}
}

func (suite *NormalizeTestSuite) TestRowValid() {
	openTime := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).UnixMilli()

	candle, err := Row(validKline(openTime), "BTCUSDT", types.IntervalOneHour)
	suite.NoError(err)

	suite.Equal(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), candle.Time)
	suite.Equal(time.UTC, candle.Time.Location())
	suite.InDelta(50000.10, candle.Open, 1e-9)
	suite.InDelta(50100.50, candle.High, 1e-9)
	suite.InDelta(49900.20, candle.Low, 1e-9)
	suite.InDelta(50050.00, candle.Close, 1e-9)
	suite.InDelta(12.5, candle.Volume, 1e-9)
	suite.InDelta(625000.00, candle.QuoteVolume, 1e-9)
	suite.Equal(int64(320), candle.Trades)
	suite.Equal("BTCUSDT", candle.Symbol)
	suite.Equal("1h", candle.Interval)
}

func (suite *NormalizeTestSuite) TestBatchAttachesConstants() {
	openTime := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	klines := []*binance.Kline{
		validKline(openTime),
		validKline(openTime + time.Hour.Milliseconds()),
	}

	candles, err := Batch(klines, "ETHUSDT", types.IntervalFourHours)
	suite.NoError(err)
	suite.Len(candles, 2)

	for _, c := range candles {
		suite.Equal("ETHUSDT", c.Symbol)
		suite.Equal("4h", c.Interval)
	}
}

func (suite *NormalizeTestSuite) TestBatchRejectsWholeBatchOnMalformedRow() {
	openTime := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

	bad := validKline(openTime + time.Hour.Milliseconds())
	bad.Close = "not-a-number"

	klines := []*binance.Kline{validKline(openTime), bad, validKline(openTime + 2*time.Hour.Milliseconds())}

	candles, err := Batch(klines, "BTCUSDT", types.IntervalOneHour)
	suite.Error(err)
	suite.Nil(candles)
	suite.True(errors.HasCode(err, errors.ErrCodeMalformedRow))
	// The error must name the offending row index.
	suite.Contains(err.Error(), "row 1")
}

func (suite *NormalizeTestSuite) TestRowRejections() {
	openTime := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

	tests := []struct {
		name   string
		mutate func(*binance.Kline)
	}{
		{"nil row handled by Batch", nil},
		{"empty open", func(k *binance.Kline) { k.Open = "" }},
		{"non-numeric high", func(k *binance.Kline) { k.High = "abc" }},
		{"zero price", func(k *binance.Kline) { k.Low = "0" }},
		{"negative price", func(k *binance.Kline) { k.Close = "-1.5" }},
		{"negative volume", func(k *binance.Kline) { k.Volume = "-3" }},
		{"negative quote volume", func(k *binance.Kline) { k.QuoteAssetVolume = "-1" }},
		{"negative trades", func(k *binance.Kline) { k.TradeNum = -1 }},
		{"zero open time", func(k *binance.Kline) { k.OpenTime = 0 }},
		{"low above high", func(k *binance.Kline) { k.Low = "60000"; k.High = "50100.50" }},
		{"close above high", func(k *binance.Kline) { k.Close = "99999" }},
		{"open below low", func(k *binance.Kline) { k.Open = "1.0" }},
	}

	for _, tc := range tests {
		k := validKline(openTime)
		if tc.mutate != nil {
			tc.mutate(k)
		} else {
			k = nil
		}

		_, err := Row(k, "BTCUSDT", types.IntervalOneHour)
		suite.Error(err, tc.name)
		suite.True(errors.HasCode(err, errors.ErrCodeMalformedRow), tc.name)
	}
}
