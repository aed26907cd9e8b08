package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/helios-quant/candle-sync/internal/indicator"
	"github.com/helios-quant/candle-sync/internal/regime"
	"github.com/helios-quant/candle-sync/internal/risk"
	"github.com/helios-quant/candle-sync/internal/store"
	"github.com/helios-quant/candle-sync/internal/types"
	"github.com/helios-quant/candle-sync/pkg/errors"
)

// Query limits.
const (
	defaultCandleLimit = 500
	maxCandleLimit     = 2000
	defaultRegimeLimit = 100
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// HealthResponse reports service liveness.
type HealthResponse struct {
	Status    string    `json:"status"`
	Storage   string    `json:"storage"`
	Timestamp time.Time `json:"timestamp"`
}

// CandlesResponse is the payload of the candles endpoint.
type CandlesResponse struct {
	Symbol   string         `json:"symbol"`
	Interval string         `json:"interval"`
	Count    int            `json:"count"`
	Candles  []types.Candle `json:"candles"`
}

// PriceChange summarizes price movement over a trailing window.
type PriceChange struct {
	CurrentPrice  float64 `json:"current_price"`
	PreviousPrice float64 `json:"previous_price"`
	ChangeAmount  float64 `json:"change_amount"`
	ChangePercent float64 `json:"change_percent"`
}

// SummaryResponse is the payload of the summary endpoint.
type SummaryResponse struct {
	Symbol    string       `json:"symbol"`
	Interval  string       `json:"interval"`
	Timestamp time.Time    `json:"timestamp"`
	Price     types.Candle `json:"price"`
	Change24h PriceChange  `json:"price_change_24h"`
}

// TickerResponse is the payload of the live ticker endpoint.
type TickerResponse struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// IndicatorsResponse is the payload of the indicators endpoint.
type IndicatorsResponse struct {
	Symbol     string            `json:"symbol"`
	Interval   string            `json:"interval"`
	Count      int               `json:"count"`
	Indicators indicator.Summary `json:"indicators"`
}

// KAMAResponse is the payload of the adaptive moving average signal endpoint.
type KAMAResponse struct {
	Symbol          string    `json:"symbol"`
	Interval        string    `json:"interval"`
	Timestamp       time.Time `json:"timestamp"`
	Price           float64   `json:"current_price"`
	Value           float64   `json:"kama_value"`
	Signal          string    `json:"signal"`
	DistancePercent float64   `json:"distance_from_kama"`
	ATR             float64   `json:"atr"`
	ATRPercent      float64   `json:"atr_pct"`
	Trend           string    `json:"trend"`
	RecentCross     string    `json:"recent_cross"`
}

// RiskResponse is the payload of the risk analysis endpoint.
type RiskResponse struct {
	Symbol   string       `json:"symbol"`
	Interval string       `json:"interval"`
	Metrics  risk.Metrics `json:"metrics"`
}

// RegimesResponse is the payload of the regime analysis endpoint.
type RegimesResponse struct {
	Symbol      string              `json:"symbol"`
	Interval    string              `json:"interval"`
	Current     regime.Regime       `json:"current"`
	Regimes     []regime.Regime     `json:"regimes"`
	Transitions []regime.Transition `json:"transitions"`
}

// RefreshResponse is the payload of the refresh endpoint.
type RefreshResponse struct {
	Success   bool               `json:"success"`
	Updated   int                `json:"updated"`
	Reports   []types.SyncReport `json:"reports"`
	Timestamp time.Time          `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Storage:   "parquet",
		Timestamp: time.Now().UTC(),
	})
}

func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(mux.Vars(r)["symbol"])

	interval, err := queryInterval(r)
	if err != nil {
		s.respondError(w, err)
		return
	}

	limit, err := queryLimit(r, defaultCandleLimit, maxCandleLimit)
	if err != nil {
		s.respondError(w, err)
		return
	}

	candles, err := s.store.ReadLast(symbol, interval, limit)
	if err != nil {
		s.respondError(w, err)
		return
	}

	if len(candles) == 0 {
		s.respondError(w, errors.Newf(errors.ErrCodeDataNotFound, "no candles for %s %s", symbol, interval))
		return
	}

	s.respondJSON(w, http.StatusOK, CandlesResponse{
		Symbol:   symbol,
		Interval: interval.String(),
		Count:    len(candles),
		Candles:  candles,
	})
}

// DatasetResponse is the payload of the dataset stats endpoint.
type DatasetResponse struct {
	Symbol   string             `json:"symbol"`
	Interval string             `json:"interval"`
	Stats    store.DatasetStats `json:"stats"`
}

func (s *Server) handleDatasetStats(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(mux.Vars(r)["symbol"])

	interval, err := queryInterval(r)
	if err != nil {
		s.respondError(w, err)
		return
	}

	stats, err := s.store.Stats(symbol, interval)
	if err != nil {
		s.respondError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, DatasetResponse{
		Symbol:   symbol,
		Interval: interval.String(),
		Stats:    stats,
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(mux.Vars(r)["symbol"])

	interval, err := queryInterval(r)
	if err != nil {
		s.respondError(w, err)
		return
	}

	// One trailing day of buckets plus the latest one.
	lookback := int(24*time.Hour/interval.Duration()) + 1
	if lookback < 2 {
		lookback = 2
	}

	candles, err := s.store.ReadLast(symbol, interval, lookback)
	if err != nil {
		s.respondError(w, err)
		return
	}

	if len(candles) == 0 {
		s.respondError(w, errors.Newf(errors.ErrCodeDataNotFound, "no candles for %s %s", symbol, interval))
		return
	}

	latest := candles[len(candles)-1]
	previous := candles[0]

	s.respondJSON(w, http.StatusOK, SummaryResponse{
		Symbol:    symbol,
		Interval:  interval.String(),
		Timestamp: latest.Time,
		Price:     latest,
		Change24h: PriceChange{
			CurrentPrice:  latest.Close,
			PreviousPrice: previous.Close,
			ChangeAmount:  latest.Close - previous.Close,
			ChangePercent: (latest.Close - previous.Close) / previous.Close * 100,
		},
	})
}

func (s *Server) handleTicker(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(mux.Vars(r)["symbol"])

	price, err := s.ticker.Price(r.Context(), symbol)
	if err != nil {
		s.respondError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, TickerResponse{
		Symbol:    symbol,
		Price:     price,
		Timestamp: time.Now().UTC(),
	})
}

func (s *Server) handleIndicators(w http.ResponseWriter, r *http.Request) {
	symbol, interval, err := querySymbolInterval(r)
	if err != nil {
		s.respondError(w, err)
		return
	}

	limit, err := queryLimit(r, defaultCandleLimit, maxCandleLimit)
	if err != nil {
		s.respondError(w, err)
		return
	}

	candles, err := s.store.ReadLast(symbol, interval, limit)
	if err != nil {
		s.respondError(w, err)
		return
	}

	summary, err := indicator.Summarize(candles)
	if err != nil {
		s.respondError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, IndicatorsResponse{
		Symbol:     symbol,
		Interval:   interval.String(),
		Count:      len(candles),
		Indicators: summary,
	})
}

func (s *Server) handleKAMASignals(w http.ResponseWriter, r *http.Request) {
	symbol, interval, err := querySymbolInterval(r)
	if err != nil {
		s.respondError(w, err)
		return
	}

	period, err := queryPeriod(r, indicator.DefaultKAMAPeriod)
	if err != nil {
		s.respondError(w, err)
		return
	}

	limit, err := queryLimit(r, defaultCandleLimit, maxCandleLimit)
	if err != nil {
		s.respondError(w, err)
		return
	}

	candles, err := s.store.ReadLast(symbol, interval, limit)
	if err != nil {
		s.respondError(w, err)
		return
	}

	closes := types.Closes(candles)

	signal, err := indicator.LatestKAMASignal(closes, period, indicator.DefaultKAMAFast, indicator.DefaultKAMASlow)
	if err != nil {
		s.respondError(w, err)
		return
	}

	atrSeries, err := indicator.ATR(candles, indicator.DefaultATRPeriod)
	if err != nil {
		s.respondError(w, err)
		return
	}

	last := candles[len(candles)-1]
	atr := indicator.Latest(atrSeries)

	s.respondJSON(w, http.StatusOK, KAMAResponse{
		Symbol:          symbol,
		Interval:        interval.String(),
		Timestamp:       last.Time,
		Price:           last.Close,
		Value:           signal.Value,
		Signal:          kamaSignalLabel(signal),
		DistancePercent: (last.Close - signal.Value) / signal.Value * 100,
		ATR:             atr,
		ATRPercent:      atr / last.Close * 100,
		Trend:           kamaTrendLabel(signal.Trend),
		RecentCross:     kamaCrossLabel(signal.Cross),
	})
}

// Crosses outrank trend position: a fresh cross is the actionable event.
func kamaSignalLabel(signal indicator.KAMASignal) string {
	switch {
	case signal.Cross == 1:
		return "BUY"
	case signal.Cross == -1:
		return "SELL"
	case signal.Trend == 1:
		return "BULLISH"
	case signal.Trend == -1:
		return "BEARISH"
	default:
		return "NEUTRAL"
	}
}

func kamaTrendLabel(trend int) string {
	switch trend {
	case 1:
		return "Bullish"
	case -1:
		return "Bearish"
	default:
		return "Neutral"
	}
}

func kamaCrossLabel(cross int) string {
	switch cross {
	case 1:
		return "Golden"
	case -1:
		return "Death"
	default:
		return "None"
	}
}

func (s *Server) handleRisk(w http.ResponseWriter, r *http.Request) {
	symbol, interval, err := querySymbolInterval(r)
	if err != nil {
		s.respondError(w, err)
		return
	}

	candles, err := s.store.Read(symbol, interval)
	if err != nil {
		s.respondError(w, err)
		return
	}

	metrics, err := s.riskCalc.AllMetrics(candles, int(interval.PeriodsPerYear()))
	if err != nil {
		s.respondError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, RiskResponse{
		Symbol:   symbol,
		Interval: interval.String(),
		Metrics:  metrics,
	})
}

func (s *Server) handleRegimes(w http.ResponseWriter, r *http.Request) {
	symbol, interval, err := querySymbolInterval(r)
	if err != nil {
		s.respondError(w, err)
		return
	}

	limit, err := queryLimit(r, defaultRegimeLimit, maxCandleLimit)
	if err != nil {
		s.respondError(w, err)
		return
	}

	candles, err := s.store.Read(symbol, interval)
	if err != nil {
		s.respondError(w, err)
		return
	}

	regimes, err := s.classifyDataset(candles)
	if err != nil {
		s.respondError(w, err)
		return
	}

	transitions := regime.DetectTransitions(regimes)

	if len(regimes) > limit {
		regimes = regimes[len(regimes)-limit:]
	}

	s.respondJSON(w, http.StatusOK, RegimesResponse{
		Symbol:      symbol,
		Interval:    interval.String(),
		Current:     regimes[len(regimes)-1],
		Regimes:     regimes,
		Transitions: transitions,
	})
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(mux.Vars(r)["symbol"])

	interval, err := queryInterval(r)
	if err != nil {
		s.respondError(w, err)
		return
	}

	candles, err := s.store.Read(symbol, interval)
	if err != nil {
		s.respondError(w, err)
		return
	}

	// Regime context is best effort: short datasets still get a decision
	// from the remaining factors.
	var regimeProbs map[regime.Type]float64

	if regimes, err := s.classifyDataset(candles); err == nil {
		regimeProbs = regimes[len(regimes)-1].Probabilities
	} else {
		s.logger.Debug("regime context unavailable", zap.String("symbol", symbol), zap.Error(err))
	}

	recommendation, err := s.advisor.Analyze(candles, regimeProbs)
	if err != nil {
		s.respondError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, recommendation)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if len(s.config.Pairs) == 0 {
		s.respondError(w, errors.New(errors.ErrCodeInvalidConfiguration, "no pairs configured for refresh"))
		return
	}

	reports := make([]types.SyncReport, 0, len(s.config.Pairs))
	updated := 0
	success := true

	for _, pair := range s.config.Pairs {
		report := s.updater.Sync(r.Context(), pair.Symbol, pair.Interval)
		reports = append(reports, report)

		switch report.Status {
		case types.SyncStatusUpdated:
			updated++
		case types.SyncStatusFailed:
			success = false
		}
	}

	s.respondJSON(w, http.StatusOK, RefreshResponse{
		Success:   success,
		Updated:   updated,
		Reports:   reports,
		Timestamp: time.Now().UTC(),
	})
}

// classifyDataset fits the shared classifier on the dataset when needed and
// classifies it.
func (s *Server) classifyDataset(candles []types.Candle) ([]regime.Regime, error) {
	if !s.classifier.Fitted() {
		if err := s.classifier.Fit(candles); err != nil {
			return nil, err
		}
	}

	return s.classifier.Classify(candles)
}

func queryInterval(r *http.Request) (types.Interval, error) {
	raw := r.URL.Query().Get("interval")
	if raw == "" {
		raw = "1h"
	}

	return types.ParseInterval(raw)
}

func querySymbolInterval(r *http.Request) (string, types.Interval, error) {
	symbol := strings.ToUpper(r.URL.Query().Get("symbol"))
	if symbol == "" {
		return "", "", errors.New(errors.ErrCodeMissingParameter, "symbol query parameter is required")
	}

	interval, err := queryInterval(r)
	if err != nil {
		return "", "", err
	}

	return symbol, interval, nil
}

func queryPeriod(r *http.Request, fallback int) (int, error) {
	raw := r.URL.Query().Get("period")
	if raw == "" {
		return fallback, nil
	}

	period, err := strconv.Atoi(raw)
	if err != nil || period <= 0 {
		return 0, errors.Newf(errors.ErrCodeInvalidParameter, "invalid period %q", raw)
	}

	return period, nil
}

func queryLimit(r *http.Request, fallback, max int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, errors.Newf(errors.ErrCodeInvalidParameter, "invalid limit %q", raw)
	}

	if limit > max {
		limit = max
	}

	return limit, nil
}
