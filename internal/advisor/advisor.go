// Package advisor implements a multi-factor recommendation engine. It blends
// trend, technical, risk, regime and drawdown scores into a weighted
// composite and maps that to an actionable signal with confidence.
package advisor

import (
	"fmt"
	"math"
	"time"

	"github.com/helios-quant/candle-sync/internal/indicator"
	"github.com/helios-quant/candle-sync/internal/regime"
	"github.com/helios-quant/candle-sync/internal/risk"
	"github.com/helios-quant/candle-sync/internal/types"
	"github.com/helios-quant/candle-sync/pkg/errors"
)

// Signal is the recommendation level.
type Signal string

const (
	StrongBuy  Signal = "strong_buy"
	Buy        Signal = "buy"
	Hold       Signal = "hold"
	Sell       Signal = "sell"
	StrongSell Signal = "strong_sell"
)

// Factor weights of the composite score.
const (
	WeightTrend     = 0.25
	WeightTechnical = 0.25
	WeightRisk      = 0.20
	WeightRegime    = 0.20
	WeightDrawdown  = 0.10
)

// minCandles covers the longest indicator warm-up the factors rely on.
const minCandles = 35

// Factor is one scored component of a recommendation.
type Factor struct {
	Score        float64 `json:"score"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
}

// Insights carries the human-readable reading of a recommendation.
type Insights struct {
	Summary       string   `json:"summary"`
	KeyFactors    []string `json:"key_factors"`
	Risks         []string `json:"risks"`
	Opportunities []string `json:"opportunities"`
}

// Recommendation is the full advisor output for one dataset.
type Recommendation struct {
	Symbol     string            `json:"symbol"`
	Timestamp  time.Time         `json:"timestamp"`
	Signal     Signal            `json:"signal"`
	Score      float64           `json:"score"`
	Confidence float64           `json:"confidence"`
	Factors    map[string]Factor `json:"factors"`
	Insights   Insights          `json:"insights"`
}

// Advisor scores candle series. It is stateless; construct with NewAdvisor.
type Advisor struct {
	riskCalc *risk.Calculator
}

// NewAdvisor creates an Advisor using the given risk calculator for the
// risk factor.
func NewAdvisor(riskCalc *risk.Calculator) *Advisor {
	return &Advisor{riskCalc: riskCalc}
}

// Analyze produces a recommendation from a candle series and, when
// available, the latest regime probabilities. A nil regimeProbs degrades the
// regime factor to a neutral score rather than failing.
func (a *Advisor) Analyze(candles []types.Candle, regimeProbs map[regime.Type]float64) (Recommendation, error) {
	if len(candles) < minCandles {
		symbol := ""
		if len(candles) > 0 {
			symbol = candles[0].Symbol
		}

		return Recommendation{}, errors.NewInsufficientDataErrorf(minCandles, len(candles), symbol,
			"insufficient data for recommendation: required %d candles, got %d", minCandles, len(candles))
	}

	summary, err := indicator.Summarize(candles)
	if err != nil {
		return Recommendation{}, errors.Wrap(errors.ErrCodeAdvisorAnalysis, "indicator summary failed", err)
	}

	closes := types.Closes(candles)
	insights := Insights{}

	trendScore := a.scoreTrend(closes, summary, &insights)
	technicalScore := a.scoreTechnical(closes, summary, &insights)
	riskScore := a.scoreRisk(closes, candles[0].Interval, &insights)
	regimeScore := a.scoreRegime(regimeProbs, &insights)
	drawdownScore := a.scoreDrawdown(closes, &insights)

	composite := WeightTrend*trendScore +
		WeightTechnical*technicalScore +
		WeightRisk*riskScore +
		WeightRegime*regimeScore +
		WeightDrawdown*drawdownScore

	signal, confidence := scoreToSignal(composite)
	insights.Summary = summarize(signal)

	return Recommendation{
		Symbol:     candles[0].Symbol,
		Timestamp:  candles[len(candles)-1].Time,
		Signal:     signal,
		Score:      composite,
		Confidence: confidence,
		Factors: map[string]Factor{
			"trend":     {Score: trendScore, Weight: WeightTrend, Contribution: WeightTrend * trendScore},
			"technical": {Score: technicalScore, Weight: WeightTechnical, Contribution: WeightTechnical * technicalScore},
			"risk":      {Score: riskScore, Weight: WeightRisk, Contribution: WeightRisk * riskScore},
			"regime":    {Score: regimeScore, Weight: WeightRegime, Contribution: WeightRegime * regimeScore},
			"drawdown":  {Score: drawdownScore, Weight: WeightDrawdown, Contribution: WeightDrawdown * drawdownScore},
		},
		Insights: insights,
	}, nil
}

// scoreTrend compares short against long horizon means and checks moving
// average alignment.
func (a *Advisor) scoreTrend(closes []float64, summary indicator.Summary, insights *Insights) float64 {
	score := 50.0

	short := tailMean(closes, 7)
	long := tailMean(closes, 30)
	current := closes[len(closes)-1]

	changePct := (short - long) / long * 100

	if changePct > 0 {
		score += math.Min(changePct*2, 30)
		insights.KeyFactors = append(insights.KeyFactors,
			fmt.Sprintf("uptrend: short horizon mean %.2f%% above long horizon", changePct))
	} else {
		score += math.Max(changePct*2, -30)
		insights.KeyFactors = append(insights.KeyFactors,
			fmt.Sprintf("downtrend: short horizon mean %.2f%% below long horizon", -changePct))
	}

	sma20, sma50 := summary.SMA20, summary.SMA50

	if !math.IsNaN(sma20) && !math.IsNaN(sma50) {
		switch {
		case current > sma20 && current > sma50:
			score += 10
		case current < sma20 && current < sma50:
			score -= 10
		}

		if sma20 > sma50 {
			score += 10
		} else {
			score -= 10
		}
	}

	return clampScore(score)
}

// scoreTechnical reads RSI and MACD positioning, including a recent
// crossover bonus.
func (a *Advisor) scoreTechnical(closes []float64, summary indicator.Summary, insights *Insights) float64 {
	score := 50.0

	switch {
	case summary.RSI < 30:
		score += 25
		insights.Opportunities = append(insights.Opportunities,
			fmt.Sprintf("RSI oversold at %.1f", summary.RSI))
	case summary.RSI > 70:
		score -= 25
		insights.Risks = append(insights.Risks,
			fmt.Sprintf("RSI overbought at %.1f", summary.RSI))
	case summary.RSI < 40:
		score += 10
	case summary.RSI > 60:
		score -= 10
	}

	if summary.MACD > summary.MACDSignal {
		score += 15
		if crossedOver(closes, true) {
			score += 10
			insights.Opportunities = append(insights.Opportunities, "MACD crossed above its signal line")
		}
	} else {
		score -= 15
		if crossedOver(closes, false) {
			score -= 10
			insights.Risks = append(insights.Risks, "MACD crossed below its signal line")
		}
	}

	return clampScore(score)
}

// crossedOver reports whether the MACD line moved to the given side of its
// signal line within the last five buckets.
func crossedOver(closes []float64, bullish bool) bool {
	if len(closes) < 5 {
		return false
	}

	prev, err := indicator.MACD(closes[:len(closes)-4],
		indicator.DefaultMACDFast, indicator.DefaultMACDSlow, indicator.DefaultMACDSignal)
	if err != nil {
		return false
	}

	prevLine := indicator.Latest(prev.Line)
	prevSignal := indicator.Latest(prev.Signal)

	if bullish {
		return prevLine <= prevSignal
	}

	return prevLine >= prevSignal
}

// scoreRisk rewards low volatility, a healthy Sharpe ratio and a shallow
// VaR.
func (a *Advisor) scoreRisk(closes []float64, interval string, insights *Insights) float64 {
	returns := risk.Returns(closes)
	if len(returns) < 30 {
		return 50
	}

	score := 50.0
	periodsPerYear := periodsFor(interval)
	volatility := annualizedVolatility(returns, periodsPerYear)

	switch {
	case volatility < 0.5:
		score += 20
	case volatility < 1.0:
		score += 10
	case volatility > 2.0:
		score -= 20
		insights.Risks = append(insights.Risks,
			fmt.Sprintf("very high annualized volatility at %.0f%%", volatility*100))
	case volatility > 1.5:
		score -= 10
	}

	if sharpe, err := a.riskCalc.SharpeRatio(returns, periodsPerYear); err == nil {
		switch {
		case sharpe > 2.0:
			score += 15
		case sharpe > 1.0:
			score += 10
		case sharpe < -1.0:
			score -= 15
		case sharpe < 0:
			score -= 10
		}
	}

	if var95, err := a.riskCalc.HistoricalVaR(returns, 0.95); err == nil {
		switch {
		case var95 > -0.03:
			score += 15
		case var95 > -0.05:
			score += 5
		case var95 < -0.10:
			score -= 15
			insights.Risks = append(insights.Risks,
				fmt.Sprintf("95%% VaR at %.1f%% per bucket", var95*100))
		case var95 < -0.07:
			score -= 5
		}
	}

	return clampScore(score)
}

// scoreRegime weights the regime probabilities: bull 100, sideways 50, high
// volatility 30, bear 0.
func (a *Advisor) scoreRegime(probs map[regime.Type]float64, insights *Insights) float64 {
	if len(probs) == 0 {
		return 50
	}

	score := probs[regime.Bull]*100 +
		probs[regime.Sideways]*50 +
		probs[regime.HighVolatility]*30

	dominant := regime.Sideways
	best := -1.0

	for r, p := range probs {
		if p > best {
			dominant, best = r, p
		}
	}

	switch dominant {
	case regime.Bull:
		insights.KeyFactors = append(insights.KeyFactors, "market regime: bull")
	case regime.Bear:
		insights.Risks = append(insights.Risks, "market regime: bear")
	case regime.HighVolatility:
		insights.Risks = append(insights.Risks, "market regime: high volatility")
	}

	return clampScore(score)
}

// scoreDrawdown rewards both positions near the running peak and deep
// discounts, which historically mark entry opportunities.
func (a *Advisor) scoreDrawdown(closes []float64, insights *Insights) float64 {
	score := 50.0

	peak := closes[0]
	maxDD := 0.0
	currentDD := 0.0

	for _, p := range closes {
		if p > peak {
			peak = p
		}

		currentDD = (p - peak) / peak
		if currentDD < maxDD {
			maxDD = currentDD
		}
	}

	switch {
	case currentDD > -0.05:
		score += 20
	case currentDD > -0.10:
		score += 10
	case currentDD < -0.30:
		score += 15
		insights.Opportunities = append(insights.Opportunities,
			fmt.Sprintf("deep drawdown at %.1f%% from peak", currentDD*100))
	case currentDD < -0.20:
		score += 5
	}

	if maxDD != 0 && currentDD > maxDD*0.5 {
		score += 15
	}

	return clampScore(score)
}

// scoreToSignal maps the composite score onto a signal with a confidence
// percentage.
func scoreToSignal(score float64) (Signal, float64) {
	switch {
	case score >= 80:
		return StrongBuy, math.Min((score-80)*5, 100)
	case score >= 60:
		return Buy, math.Min((score-60)*5, 100)
	case score >= 40:
		return Hold, 100 - math.Abs(score-50)*2
	case score >= 20:
		return Sell, math.Min((40-score)*5, 100)
	default:
		return StrongSell, math.Min((20-score)*5, 100)
	}
}

func summarize(signal Signal) string {
	switch signal {
	case StrongBuy:
		return "strong buy: multiple factors support the uptrend"
	case Buy:
		return "buy: positive factors dominate"
	case Hold:
		return "hold: mixed signals, wait for confirmation"
	case Sell:
		return "sell: selling pressure is building"
	default:
		return "strong sell: elevated risk, consider exiting"
	}
}

func tailMean(values []float64, n int) float64 {
	if n > len(values) {
		n = len(values)
	}

	var sum float64
	for _, v := range values[len(values)-n:] {
		sum += v
	}

	return sum / float64(n)
}

func annualizedVolatility(returns []float64, periodsPerYear int) float64 {
	m := 0.0
	for _, r := range returns {
		m += r
	}
	m /= float64(len(returns))

	var sumSq float64
	for _, r := range returns {
		d := r - m
		sumSq += d * d
	}

	return math.Sqrt(sumSq/float64(len(returns)-1)) * math.Sqrt(float64(periodsPerYear))
}

func periodsFor(interval string) int {
	parsed, err := types.ParseInterval(interval)
	if err != nil {
		return 365
	}

	return int(parsed.PeriodsPerYear())
}

func clampScore(score float64) float64 {
	return math.Max(0, math.Min(100, score))
}
