package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/helios-quant/candle-sync/pkg/errors"
)

type CandleTestSuite struct {
	suite.Suite
}

func TestCandleSuite(t *testing.T) {
	suite.Run(t, new(CandleTestSuite))
}

func (suite *CandleTestSuite) TestTimeRange() {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := []Candle{
		{Time: base},
		{Time: base.Add(time.Hour)},
		{Time: base.Add(2 * time.Hour)},
	}

	start, end := TimeRange(candles)
	suite.Equal(base, start)
	suite.Equal(base.Add(2*time.Hour), end)
}

func (suite *CandleTestSuite) TestTimeRangeEmpty() {
	start, end := TimeRange(nil)
	suite.True(start.IsZero())
	suite.True(end.IsZero())
}

func (suite *CandleTestSuite) TestCloses() {
	candles := []Candle{
		{Close: 100.5},
		{Close: 101.25},
	}

	suite.Equal([]float64{100.5, 101.25}, Closes(candles))
}

func (suite *CandleTestSuite) TestParseInterval() {
	for _, valid := range []string{"1m", "5m", "15m", "1h", "4h", "1d"} {
		interval, err := ParseInterval(valid)
		suite.Require().NoError(err)
		suite.Equal(valid, interval.String())
	}
}

func (suite *CandleTestSuite) TestParseIntervalRejectsUnknown() {
	_, err := ParseInterval("3w")
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidInterval))
}

func (suite *CandleTestSuite) TestIntervalDuration() {
	suite.Equal(time.Minute, IntervalOneMinute.Duration())
	suite.Equal(4*time.Hour, IntervalFourHours.Duration())
	suite.Equal(24*time.Hour, IntervalOneDay.Duration())
}

func (suite *CandleTestSuite) TestPeriodsPerYear() {
	suite.InDelta(8760.0, IntervalOneHour.PeriodsPerYear(), 1e-9)
	suite.InDelta(365.0, IntervalOneDay.PeriodsPerYear(), 1e-9)
}
