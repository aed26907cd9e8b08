// Package regime classifies market conditions into discrete regimes by
// clustering indicator-derived features. Clusters are labeled Bull, Bear,
// Sideways or HighVolatility based on their return and volatility profile.
package regime

import (
	"math"
	"sort"
	"time"

	"github.com/helios-quant/candle-sync/internal/indicator"
	"github.com/helios-quant/candle-sync/internal/types"
	"github.com/helios-quant/candle-sync/pkg/errors"
)

// Type identifies a market regime.
type Type string

const (
	Bull           Type = "bull"
	Bear           Type = "bear"
	Sideways       Type = "sideways"
	HighVolatility Type = "high_volatility"
)

// Default classifier parameters.
const (
	DefaultRegimeCount = 4
	DefaultSeed        = 42

	volatilityWindow = 20
	maxIterations    = 200

	// minTrainingRows is the smallest usable feature matrix for fitting.
	minTrainingRows = 100

	// returnThreshold separates trending clusters from sideways ones,
	// applied to the cluster's mean per-period log return.
	returnThreshold = 0.001
)

// Regime is one classified time step.
type Regime struct {
	Timestamp     time.Time        `json:"timestamp"`
	Regime        Type             `json:"regime"`
	Confidence    float64          `json:"confidence"`
	Probabilities map[Type]float64 `json:"probabilities"`
}

// Transition marks a change from one regime to another.
type Transition struct {
	From      Type          `json:"from"`
	To        Type          `json:"to"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
}

// featureRow is one standardizable observation: log return, rolling
// volatility, RSI, MACD histogram, price-normalized ATR and volume change.
type featureRow struct {
	timestamp time.Time
	values    []float64
}

const featureDim = 6

// Classifier clusters feature vectors into regimes. Fit must be called
// before Classify. The zero value is not usable; construct with
// NewClassifier.
type Classifier struct {
	regimeCount int
	seed        int64

	centroids [][]float64
	mapping   []Type
	featMean  []float64
	featStd   []float64
}

// NewClassifier creates a Classifier with the given cluster count and
// clustering seed.
func NewClassifier(regimeCount int, seed int64) *Classifier {
	return &Classifier{regimeCount: regimeCount, seed: seed}
}

// Fitted reports whether Fit has completed successfully.
func (c *Classifier) Fitted() bool {
	return c.centroids != nil
}

// Fit trains the classifier on historical candles: extracts features,
// standardizes them, clusters them and labels each cluster by its return
// and volatility profile.
func (c *Classifier) Fit(candles []types.Candle) error {
	rows, err := extractFeatures(candles)
	if err != nil {
		return err
	}

	if len(rows) < minTrainingRows {
		return errors.Newf(errors.ErrCodeRegimeClassification,
			"insufficient data for regime training: required %d feature rows, got %d", minTrainingRows, len(rows))
	}

	c.featMean, c.featStd = fitScaler(rows)

	points := make([][]float64, len(rows))
	for i, row := range rows {
		points[i] = c.scale(row.values)
	}

	centroids, labels := kMeans(points, c.regimeCount, c.seed, maxIterations)

	c.centroids = centroids
	c.mapping = mapClustersToRegimes(rows, labels, c.regimeCount)

	return nil
}

// Classify assigns a regime to every feature row derivable from the candle
// series. Confidence is the share of inverse-distance weight the winning
// regime holds across all clusters.
func (c *Classifier) Classify(candles []types.Candle) ([]Regime, error) {
	if !c.Fitted() {
		return nil, errors.New(errors.ErrCodeRegimeClassification, "classifier not fitted")
	}

	rows, err := extractFeatures(candles)
	if err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		return nil, errors.New(errors.ErrCodeRegimeClassification,
			"no classifiable feature rows in candle series")
	}

	out := make([]Regime, 0, len(rows))

	for _, row := range rows {
		point := c.scale(row.values)
		probs := c.clusterProbabilities(point)

		best := Sideways
		bestProb := -1.0

		for regime, p := range probs {
			if p > bestProb {
				best = regime
				bestProb = p
			}
		}

		out = append(out, Regime{
			Timestamp:     row.timestamp,
			Regime:        best,
			Confidence:    bestProb,
			Probabilities: probs,
		})
	}

	return out, nil
}

// ClassifyLatest returns the regime of the most recent classifiable candle.
func (c *Classifier) ClassifyLatest(candles []types.Candle) (Regime, error) {
	regimes, err := c.Classify(candles)
	if err != nil {
		return Regime{}, err
	}

	return regimes[len(regimes)-1], nil
}

// DetectTransitions extracts regime changes from a time-ordered sequence.
func DetectTransitions(regimes []Regime) []Transition {
	var out []Transition

	for i := 1; i < len(regimes); i++ {
		prev, curr := regimes[i-1], regimes[i]
		if prev.Regime == curr.Regime {
			continue
		}

		out = append(out, Transition{
			From:      prev.Regime,
			To:        curr.Regime,
			Timestamp: curr.Timestamp,
			Duration:  curr.Timestamp.Sub(prev.Timestamp),
		})
	}

	return out
}

// clusterProbabilities converts centroid distances into a probability
// distribution over regime types using normalized inverse distances.
func (c *Classifier) clusterProbabilities(point []float64) map[Type]float64 {
	weights := make([]float64, len(c.centroids))

	var total float64

	for i, centroid := range c.centroids {
		w := 1.0 / (1.0 + math.Sqrt(squaredDistance(point, centroid)))
		weights[i] = w
		total += w
	}

	probs := map[Type]float64{Bull: 0, Bear: 0, Sideways: 0, HighVolatility: 0}

	for i, w := range weights {
		probs[c.mapping[i]] += w / total
	}

	return probs
}

func (c *Classifier) scale(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = (v - c.featMean[i]) / c.featStd[i]
	}

	return out
}

func fitScaler(rows []featureRow) (featMean, featStd []float64) {
	featMean = make([]float64, featureDim)
	featStd = make([]float64, featureDim)

	for _, row := range rows {
		for i, v := range row.values {
			featMean[i] += v
		}
	}

	n := float64(len(rows))
	for i := range featMean {
		featMean[i] /= n
	}

	for _, row := range rows {
		for i, v := range row.values {
			d := v - featMean[i]
			featStd[i] += d * d
		}
	}

	for i := range featStd {
		featStd[i] = math.Sqrt(featStd[i] / n)
		if featStd[i] == 0 {
			featStd[i] = 1
		}
	}

	return featMean, featStd
}

// mapClustersToRegimes labels clusters by their feature profile: the highest
// volatility cluster becomes HighVolatility, the rest split on mean return.
func mapClustersToRegimes(rows []featureRow, labels []int, k int) []Type {
	type stats struct {
		cluster    int
		returns    float64
		volatility float64
		count      int
	}

	clusterStats := make([]stats, k)
	for i := range clusterStats {
		clusterStats[i].cluster = i
	}

	for i, row := range rows {
		s := &clusterStats[labels[i]]
		s.returns += row.values[0]
		s.volatility += row.values[1]
		s.count++
	}

	for i := range clusterStats {
		if clusterStats[i].count > 0 {
			clusterStats[i].returns /= float64(clusterStats[i].count)
			clusterStats[i].volatility /= float64(clusterStats[i].count)
		}
	}

	sort.Slice(clusterStats, func(i, j int) bool {
		return clusterStats[i].volatility > clusterStats[j].volatility
	})

	mapping := make([]Type, k)

	for rank, s := range clusterStats {
		switch {
		case rank == 0:
			mapping[s.cluster] = HighVolatility
		case s.returns > returnThreshold:
			mapping[s.cluster] = Bull
		case s.returns < -returnThreshold:
			mapping[s.cluster] = Bear
		default:
			mapping[s.cluster] = Sideways
		}
	}

	return mapping
}

// extractFeatures builds the per-candle feature matrix, skipping warm-up
// positions where any component is undefined.
func extractFeatures(candles []types.Candle) ([]featureRow, error) {
	required := volatilityWindow + 1
	if len(candles) < required {
		return nil, errors.NewInsufficientDataErrorf(required, len(candles), symbolOf(candles),
			"insufficient data for regime features: required %d, got %d", required, len(candles))
	}

	closes := types.Closes(candles)

	logReturns := make([]float64, len(candles))
	logReturns[0] = math.NaN()

	for i := 1; i < len(candles); i++ {
		logReturns[i] = math.Log(closes[i] / closes[i-1])
	}

	volatility := rollingStd(logReturns, volatilityWindow)

	rsi, err := indicator.RSI(closes, indicator.DefaultRSIPeriod)
	if err != nil {
		return nil, err
	}

	macd, err := indicator.MACD(closes, indicator.DefaultMACDFast, indicator.DefaultMACDSlow, indicator.DefaultMACDSignal)
	if err != nil {
		return nil, err
	}

	atr, err := indicator.ATR(candles, indicator.DefaultATRPeriod)
	if err != nil {
		return nil, err
	}

	rows := make([]featureRow, 0, len(candles))

	for i := range candles {
		if i == 0 {
			continue
		}

		volumeChange := math.NaN()
		if candles[i-1].Volume > 0 {
			volumeChange = candles[i].Volume/candles[i-1].Volume - 1
		}

		values := []float64{
			logReturns[i],
			volatility[i],
			rsi[i],
			macd.Histogram[i],
			atr[i] / closes[i],
			volumeChange,
		}

		if !allFinite(values) {
			continue
		}

		rows = append(rows, featureRow{timestamp: candles[i].Time, values: values})
	}

	return rows, nil
}

// rollingStd computes the rolling population standard deviation over window,
// skipping NaN positions in the warm-up region.
func rollingStd(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = math.NaN()
	}

	for i := window; i < len(values); i++ {
		slice := values[i-window+1 : i+1]

		var sum float64
		for _, v := range slice {
			sum += v
		}

		m := sum / float64(window)

		var sumSq float64
		for _, v := range slice {
			d := v - m
			sumSq += d * d
		}

		out[i] = math.Sqrt(sumSq / float64(window))
	}

	return out
}

func allFinite(values []float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}

	return true
}

func symbolOf(candles []types.Candle) string {
	if len(candles) == 0 {
		return ""
	}

	return candles[0].Symbol
}
