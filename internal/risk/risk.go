// Package risk implements portfolio risk metrics over candle close prices:
// Value at Risk (historical, parametric and Cornish-Fisher modified),
// expected shortfall, Sharpe and Sortino ratios, and maximum drawdown.
// All calculators are pure and stateless.
package risk

import (
	"math"
	"sort"
	"time"

	"github.com/helios-quant/candle-sync/internal/types"
	"github.com/helios-quant/candle-sync/pkg/errors"
)

// DefaultRiskFreeRate is the annual risk-free rate used for ratio
// annualization.
const DefaultRiskFreeRate = 0.02

// minObservations is the smallest return series the distribution-based
// metrics accept.
const minObservations = 30

// Metrics bundles every risk measure for one dataset. VaR and expected
// shortfall values are negative decimals: -0.05 reads as a 5% loss.
type Metrics struct {
	Timestamp             time.Time `json:"timestamp"`
	VaR95                 float64   `json:"var_95"`
	VaR99                 float64   `json:"var_99"`
	VaR95Modified         float64   `json:"var_95_modified"`
	VaR99Modified         float64   `json:"var_99_modified"`
	ExpectedShortfall95   float64   `json:"expected_shortfall_95"`
	ExpectedShortfall99   float64   `json:"expected_shortfall_99"`
	SharpeRatio           float64   `json:"sharpe_ratio"`
	SortinoRatio          float64   `json:"sortino_ratio"`
	MaxDrawdown           float64   `json:"max_drawdown"`
	Volatility            float64   `json:"volatility"`
	MeanReturn            float64   `json:"mean_return"`
	Skewness              float64   `json:"skewness"`
	Kurtosis              float64   `json:"kurtosis"`
}

// Calculator computes risk metrics. The zero value is not usable; construct
// with NewCalculator.
type Calculator struct {
	riskFreeRate float64
}

// NewCalculator creates a Calculator with the given annual risk-free rate.
func NewCalculator(riskFreeRate float64) *Calculator {
	return &Calculator{riskFreeRate: riskFreeRate}
}

// Returns converts a price series to simple percentage returns. The result
// is one element shorter than the input.
func Returns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}

	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		out = append(out, prices[i]/prices[i-1]-1)
	}

	return out
}

// HistoricalVaR computes Value at Risk from the empirical return
// distribution at the given confidence level.
func (c *Calculator) HistoricalVaR(returns []float64, confidence float64) (float64, error) {
	if err := checkReturns(returns, confidence); err != nil {
		return 0, err
	}

	return percentile(returns, (1-confidence)*100), nil
}

// ParametricVaR computes Value at Risk assuming normally distributed
// returns.
func (c *Calculator) ParametricVaR(returns []float64, confidence float64) (float64, error) {
	if err := checkReturns(returns, confidence); err != nil {
		return 0, err
	}

	return mean(returns) + normQuantile(1-confidence)*sampleStd(returns), nil
}

// ModifiedVaR computes Value at Risk with the Cornish-Fisher expansion,
// adjusting the normal quantile for skewness and excess kurtosis. Fat-tailed
// return distributions get a larger loss estimate than ParametricVaR.
func (c *Calculator) ModifiedVaR(returns []float64, confidence float64) (float64, error) {
	if err := checkReturns(returns, confidence); err != nil {
		return 0, err
	}

	s := skewness(returns)
	k := excessKurtosis(returns)
	z := normQuantile(1 - confidence)

	zCF := z +
		(z*z-1)*s/6 +
		(z*z*z-3*z)*k/24 -
		(2*z*z*z-5*z)*s*s/36

	return mean(returns) + zCF*sampleStd(returns), nil
}

// ExpectedShortfall computes the average loss beyond the historical VaR
// threshold at the given confidence level.
func (c *Calculator) ExpectedShortfall(returns []float64, confidence float64) (float64, error) {
	threshold, err := c.HistoricalVaR(returns, confidence)
	if err != nil {
		return 0, err
	}

	var tailSum float64
	var tailCount int

	for _, r := range returns {
		if r <= threshold {
			tailSum += r
			tailCount++
		}
	}

	if tailCount == 0 {
		return threshold, nil
	}

	return tailSum / float64(tailCount), nil
}

// SharpeRatio computes the annualized Sharpe ratio. A zero-volatility series
// yields zero rather than a division error.
func (c *Calculator) SharpeRatio(returns []float64, periodsPerYear int) (float64, error) {
	if len(returns) < minObservations {
		return 0, errors.NewInsufficientDataErrorf(minObservations, len(returns), "",
			"insufficient data for Sharpe ratio: required %d, got %d", minObservations, len(returns))
	}

	annualReturn := mean(returns) * float64(periodsPerYear)
	volatility := sampleStd(returns) * math.Sqrt(float64(periodsPerYear))

	if volatility == 0 {
		return 0, nil
	}

	return (annualReturn - c.riskFreeRate) / volatility, nil
}

// SortinoRatio computes the annualized Sortino ratio, penalizing only
// downside volatility.
func (c *Calculator) SortinoRatio(returns []float64, periodsPerYear int) (float64, error) {
	if len(returns) < minObservations {
		return 0, errors.NewInsufficientDataErrorf(minObservations, len(returns), "",
			"insufficient data for Sortino ratio: required %d, got %d", minObservations, len(returns))
	}

	annualReturn := mean(returns) * float64(periodsPerYear)

	negative := make([]float64, 0, len(returns))
	for _, r := range returns {
		if r < 0 {
			negative = append(negative, r)
		}
	}

	if len(negative) < 2 {
		return 0, nil
	}

	downside := sampleStd(negative) * math.Sqrt(float64(periodsPerYear))
	if downside == 0 {
		return 0, nil
	}

	return (annualReturn - c.riskFreeRate) / downside, nil
}

// MaxDrawdown computes the largest peak-to-trough decline in a price series
// as a negative decimal.
func (c *Calculator) MaxDrawdown(prices []float64) (float64, error) {
	if len(prices) < 2 {
		return 0, errors.NewInsufficientDataErrorf(2, len(prices), "",
			"insufficient data for drawdown: required 2, got %d", len(prices))
	}

	peak := prices[0]
	maxDD := 0.0

	for _, p := range prices {
		if p > peak {
			peak = p
		}

		dd := (p - peak) / peak
		if dd < maxDD {
			maxDD = dd
		}
	}

	return maxDD, nil
}

// AllMetrics computes the full metric set from a candle series. The series
// must hold at least minObservations+1 candles.
func (c *Calculator) AllMetrics(candles []types.Candle, periodsPerYear int) (Metrics, error) {
	prices := types.Closes(candles)
	returns := Returns(prices)

	if len(returns) < minObservations {
		symbol := ""
		if len(candles) > 0 {
			symbol = candles[0].Symbol
		}

		return Metrics{}, errors.NewInsufficientDataErrorf(minObservations+1, len(candles), symbol,
			"insufficient data for risk metrics: required %d candles, got %d", minObservations+1, len(candles))
	}

	var95, err := c.HistoricalVaR(returns, 0.95)
	if err != nil {
		return Metrics{}, err
	}

	var99, err := c.HistoricalVaR(returns, 0.99)
	if err != nil {
		return Metrics{}, err
	}

	var95mod, err := c.ModifiedVaR(returns, 0.95)
	if err != nil {
		return Metrics{}, err
	}

	var99mod, err := c.ModifiedVaR(returns, 0.99)
	if err != nil {
		return Metrics{}, err
	}

	es95, err := c.ExpectedShortfall(returns, 0.95)
	if err != nil {
		return Metrics{}, err
	}

	es99, err := c.ExpectedShortfall(returns, 0.99)
	if err != nil {
		return Metrics{}, err
	}

	sharpe, err := c.SharpeRatio(returns, periodsPerYear)
	if err != nil {
		return Metrics{}, err
	}

	sortino, err := c.SortinoRatio(returns, periodsPerYear)
	if err != nil {
		return Metrics{}, err
	}

	maxDD, err := c.MaxDrawdown(prices)
	if err != nil {
		return Metrics{}, err
	}

	return Metrics{
		Timestamp:           time.Now().UTC(),
		VaR95:               var95,
		VaR99:               var99,
		VaR95Modified:       var95mod,
		VaR99Modified:       var99mod,
		ExpectedShortfall95: es95,
		ExpectedShortfall99: es99,
		SharpeRatio:         sharpe,
		SortinoRatio:        sortino,
		MaxDrawdown:         maxDD,
		Volatility:          sampleStd(returns) * math.Sqrt(float64(periodsPerYear)),
		MeanReturn:          mean(returns),
		Skewness:            skewness(returns),
		Kurtosis:            excessKurtosis(returns),
	}, nil
}

func checkReturns(returns []float64, confidence float64) error {
	if confidence <= 0 || confidence >= 1 {
		return errors.Newf(errors.ErrCodeInvalidParameter,
			"confidence level must be in (0, 1), got %v", confidence)
	}

	if len(returns) < minObservations {
		return errors.NewInsufficientDataErrorf(minObservations, len(returns), "",
			"insufficient data for VaR: required %d, got %d", minObservations, len(returns))
	}

	return nil
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}

	return sum / float64(len(values))
}

// sampleStd computes the standard deviation with Bessel's correction.
func sampleStd(values []float64) float64 {
	m := mean(values)

	var sumSq float64
	for _, v := range values {
		d := v - m
		sumSq += d * d
	}

	return math.Sqrt(sumSq / float64(len(values)-1))
}

// skewness computes the population skewness (third standardized moment).
func skewness(values []float64) float64 {
	m := mean(values)

	var m2, m3 float64
	for _, v := range values {
		d := v - m
		m2 += d * d
		m3 += d * d * d
	}

	n := float64(len(values))
	m2 /= n
	m3 /= n

	if m2 == 0 {
		return 0
	}

	return m3 / math.Pow(m2, 1.5)
}

// excessKurtosis computes the population excess kurtosis (fourth
// standardized moment minus 3).
func excessKurtosis(values []float64) float64 {
	m := mean(values)

	var m2, m4 float64
	for _, v := range values {
		d := v - m
		m2 += d * d
		m4 += d * d * d * d
	}

	n := float64(len(values))
	m2 /= n
	m4 /= n

	if m2 == 0 {
		return 0
	}

	return m4/(m2*m2) - 3
}

// percentile computes the p-th percentile (0-100) with linear interpolation
// between adjacent ranks.
func percentile(values []float64, p float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if p <= 0 {
		return sorted[0]
	}

	if p >= 100 {
		return sorted[len(sorted)-1]
	}

	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))

	if lo == hi {
		return sorted[lo]
	}

	frac := rank - float64(lo)

	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// normQuantile computes the standard normal inverse CDF.
func normQuantile(p float64) float64 {
	return math.Sqrt2 * math.Erfinv(2*p-1)
}
