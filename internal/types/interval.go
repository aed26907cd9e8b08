package types

import (
	"time"

	"github.com/helios-quant/candle-sync/pkg/errors"
)

// Interval is the fixed bucket duration a dataset is sampled at.
type Interval string

const (
	IntervalOneMinute      Interval = "1m"
	IntervalFiveMinutes    Interval = "5m"
	IntervalFifteenMinutes Interval = "15m"
	IntervalOneHour        Interval = "1h"
	IntervalFourHours      Interval = "4h"
	IntervalOneDay         Interval = "1d"
)

// ParseInterval validates an interval string and returns the typed value.
func ParseInterval(s string) (Interval, error) {
	switch Interval(s) {
	case IntervalOneMinute, IntervalFiveMinutes, IntervalFifteenMinutes,
		IntervalOneHour, IntervalFourHours, IntervalOneDay:
		return Interval(s), nil
	default:
		return "", errors.Newf(errors.ErrCodeInvalidInterval, "unsupported interval: %q", s)
	}
}

// Duration returns the bucket duration of the interval.
func (i Interval) Duration() time.Duration {
	switch i {
	case IntervalOneMinute:
		return time.Minute
	case IntervalFiveMinutes:
		return 5 * time.Minute
	case IntervalFifteenMinutes:
		return 15 * time.Minute
	case IntervalOneHour:
		return time.Hour
	case IntervalFourHours:
		return 4 * time.Hour
	case IntervalOneDay:
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

// PeriodsPerYear returns how many buckets of this interval fit in a year.
// Used for annualizing risk metrics.
func (i Interval) PeriodsPerYear() float64 {
	return float64(365*24*time.Hour) / float64(i.Duration())
}

func (i Interval) String() string {
	return string(i)
}
