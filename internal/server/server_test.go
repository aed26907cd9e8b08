package server

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"

	"github.com/helios-quant/candle-sync/internal/advisor"
	"github.com/helios-quant/candle-sync/internal/logger"
	"github.com/helios-quant/candle-sync/internal/regime"
	"github.com/helios-quant/candle-sync/internal/risk"
	"github.com/helios-quant/candle-sync/internal/store"
	"github.com/helios-quant/candle-sync/internal/types"
	"github.com/helios-quant/candle-sync/pkg/errors"
)

type fakeDatastore struct {
	datasets map[string][]types.Candle
}

func (f *fakeDatastore) key(symbol string, interval types.Interval) string {
	return symbol + "_" + interval.String()
}

func (f *fakeDatastore) Read(symbol string, interval types.Interval) ([]types.Candle, error) {
	return f.datasets[f.key(symbol, interval)], nil
}

func (f *fakeDatastore) ReadLast(symbol string, interval types.Interval, n int) ([]types.Candle, error) {
	candles := f.datasets[f.key(symbol, interval)]
	if len(candles) > n {
		candles = candles[len(candles)-n:]
	}

	return candles, nil
}

func (f *fakeDatastore) Stats(symbol string, interval types.Interval) (store.DatasetStats, error) {
	candles := f.datasets[f.key(symbol, interval)]
	if len(candles) == 0 {
		return store.DatasetStats{}, errors.Newf(errors.ErrCodeDataNotFound,
			"data not found for symbol: %s", symbol)
	}

	return store.DatasetStats{
		Rows:  len(candles),
		Start: candles[0].Time,
		End:   candles[len(candles)-1].Time,
	}, nil
}

type fakeUpdater struct {
	calls   int
	reports map[string]types.SyncReport
}

func (f *fakeUpdater) Sync(ctx context.Context, symbol string, interval types.Interval) types.SyncReport {
	f.calls++

	if report, ok := f.reports[symbol]; ok {
		return report
	}

	return types.SyncReport{
		Symbol:   symbol,
		Interval: interval,
		Status:   types.SyncStatusUpdated,
	}
}

type fakePrices struct {
	price float64
	err   error
}

func (f *fakePrices) Price(ctx context.Context, symbol string) (float64, error) {
	if f.err != nil {
		return 0, f.err
	}

	return f.price, nil
}

type ServerTestSuite struct {
	suite.Suite

	datastore *fakeDatastore
	updater   *fakeUpdater
	prices    *fakePrices
	server    *Server
	ts        *httptest.Server
}

func TestServerSuite(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}

func (suite *ServerTestSuite) SetupTest() {
	log, err := logger.NewLogger()
	suite.Require().NoError(err)

	suite.datastore = &fakeDatastore{datasets: map[string][]types.Candle{
		"BTCUSDT_1h": hourlyCandles(600),
	}}
	suite.updater = &fakeUpdater{reports: map[string]types.SyncReport{}}
	suite.prices = &fakePrices{price: 52000.5}

	suite.server = NewServer(
		Config{
			Pairs: []Pair{
				{Symbol: "BTCUSDT", Interval: types.IntervalOneHour},
				{Symbol: "ETHUSDT", Interval: types.IntervalOneHour},
			},
		},
		suite.datastore,
		suite.updater,
		suite.prices,
		risk.NewCalculator(risk.DefaultRiskFreeRate),
		advisor.NewAdvisor(risk.NewCalculator(risk.DefaultRiskFreeRate)),
		regime.NewClassifier(regime.DefaultRegimeCount, regime.DefaultSeed),
		log,
	)
	suite.ts = httptest.NewServer(suite.server.Handler())
}

func (suite *ServerTestSuite) TearDownTest() {
	suite.ts.Close()
}

func (suite *ServerTestSuite) get(path string, out any) *http.Response {
	resp, err := http.Get(suite.ts.URL + path)
	suite.Require().NoError(err)

	defer resp.Body.Close()

	if out != nil {
		suite.Require().NoError(json.NewDecoder(resp.Body).Decode(out))
	}

	return resp
}

func (suite *ServerTestSuite) TestHealth() {
	var body HealthResponse

	resp := suite.get("/health", &body)
	suite.Equal(http.StatusOK, resp.StatusCode)
	suite.Equal("healthy", body.Status)
	suite.Equal("parquet", body.Storage)
	suite.False(body.Timestamp.IsZero())
}

func (suite *ServerTestSuite) TestCandles() {
	var body CandlesResponse

	resp := suite.get("/api/v1/candles/btcusdt?interval=1h&limit=50", &body)
	suite.Equal(http.StatusOK, resp.StatusCode)
	suite.Equal("BTCUSDT", body.Symbol)
	suite.Equal("1h", body.Interval)
	suite.Equal(50, body.Count)
	suite.Len(body.Candles, 50)

	// Last candle of the dataset is returned last.
	all := suite.datastore.datasets["BTCUSDT_1h"]
	suite.Equal(all[len(all)-1].Time.Unix(), body.Candles[49].Time.Unix())
}

func (suite *ServerTestSuite) TestCandlesUnknownSymbol() {
	var body ErrorResponse

	resp := suite.get("/api/v1/candles/DOGEUSDT", &body)
	suite.Equal(http.StatusNotFound, resp.StatusCode)
	suite.Equal(int(errors.ErrCodeDataNotFound), body.Code)
}

func (suite *ServerTestSuite) TestCandlesInvalidInterval() {
	resp := suite.get("/api/v1/candles/BTCUSDT?interval=3w", nil)
	suite.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (suite *ServerTestSuite) TestCandlesInvalidLimit() {
	resp := suite.get("/api/v1/candles/BTCUSDT?limit=abc", nil)
	suite.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (suite *ServerTestSuite) TestDatasetStats() {
	var body DatasetResponse

	resp := suite.get("/api/v1/datasets/BTCUSDT?interval=1h", &body)
	suite.Equal(http.StatusOK, resp.StatusCode)
	suite.Equal(600, body.Stats.Rows)
	suite.True(body.Stats.End.After(body.Stats.Start))
}

func (suite *ServerTestSuite) TestSummary() {
	var body SummaryResponse

	resp := suite.get("/api/v1/summary/BTCUSDT?interval=1h", &body)
	suite.Equal(http.StatusOK, resp.StatusCode)
	suite.Equal("BTCUSDT", body.Symbol)
	suite.InDelta(body.Price.Close, body.Change24h.CurrentPrice, 1e-9)
	suite.InDelta(body.Change24h.CurrentPrice-body.Change24h.PreviousPrice,
		body.Change24h.ChangeAmount, 1e-9)
}

func (suite *ServerTestSuite) TestTicker() {
	var body TickerResponse

	resp := suite.get("/api/v1/ticker/btcusdt", &body)
	suite.Equal(http.StatusOK, resp.StatusCode)
	suite.Equal("BTCUSDT", body.Symbol)
	suite.InDelta(52000.5, body.Price, 1e-9)
}

func (suite *ServerTestSuite) TestTickerFetchFailure() {
	suite.prices.err = errors.New(errors.ErrCodeTickerFetch, "upstream unavailable")

	resp := suite.get("/api/v1/ticker/BTCUSDT", nil)
	suite.Equal(http.StatusInternalServerError, resp.StatusCode)
}

func (suite *ServerTestSuite) TestIndicators() {
	var body IndicatorsResponse

	resp := suite.get("/api/v1/analysis/indicators?symbol=BTCUSDT&interval=1h", &body)
	suite.Equal(http.StatusOK, resp.StatusCode)
	suite.GreaterOrEqual(body.Indicators.RSI, 0.0)
	suite.LessOrEqual(body.Indicators.RSI, 100.0)
	suite.False(math.IsNaN(body.Indicators.SMA20))
}

func (suite *ServerTestSuite) TestIndicatorsMissingSymbol() {
	resp := suite.get("/api/v1/analysis/indicators", nil)
	suite.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (suite *ServerTestSuite) TestIndicatorsInsufficientData() {
	suite.datastore.datasets["ETHUSDT_1h"] = hourlyCandles(5)

	resp := suite.get("/api/v1/analysis/indicators?symbol=ETHUSDT&interval=1h", nil)
	suite.Equal(http.StatusUnprocessableEntity, resp.StatusCode)
}

func (suite *ServerTestSuite) TestIndicatorsShortSeriesServesNullSMA50() {
	// Enough candles for the summary minimum but not for a 50-bucket SMA;
	// the response must still encode, with the unavailable value as null.
	suite.datastore.datasets["ETHUSDT_1h"] = hourlyCandles(40)

	var body map[string]any

	resp := suite.get("/api/v1/analysis/indicators?symbol=ETHUSDT&interval=1h", &body)
	suite.Equal(http.StatusOK, resp.StatusCode)

	indicators, ok := body["indicators"].(map[string]any)
	suite.Require().True(ok)
	suite.Nil(indicators["sma_50"])
	suite.IsType(float64(0), indicators["rsi"])
}

func (suite *ServerTestSuite) TestKAMASignals() {
	var body KAMAResponse

	resp := suite.get("/api/v1/signals/kama?symbol=BTCUSDT&interval=1h", &body)
	suite.Equal(http.StatusOK, resp.StatusCode)

	suite.Equal("BTCUSDT", body.Symbol)
	suite.Greater(body.Value, 0.0)
	suite.Greater(body.Price, 0.0)
	suite.Greater(body.ATR, 0.0)
	suite.Contains([]string{"BUY", "SELL", "BULLISH", "BEARISH", "NEUTRAL"}, body.Signal)
	suite.Contains([]string{"Bullish", "Bearish", "Neutral"}, body.Trend)
	suite.Contains([]string{"Golden", "Death", "None"}, body.RecentCross)
}

func (suite *ServerTestSuite) TestKAMASignalsBadPeriod() {
	resp := suite.get("/api/v1/signals/kama?symbol=BTCUSDT&interval=1h&period=0", nil)
	suite.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (suite *ServerTestSuite) TestKAMASignalsInsufficientData() {
	suite.datastore.datasets["ETHUSDT_1h"] = hourlyCandles(5)

	resp := suite.get("/api/v1/signals/kama?symbol=ETHUSDT&interval=1h", nil)
	suite.Equal(http.StatusUnprocessableEntity, resp.StatusCode)
}

func (suite *ServerTestSuite) TestRiskMetrics() {
	var body RiskResponse

	resp := suite.get("/api/v1/analysis/risk?symbol=BTCUSDT&interval=1h", &body)
	suite.Equal(http.StatusOK, resp.StatusCode)
	suite.LessOrEqual(body.Metrics.VaR99, body.Metrics.VaR95)
	suite.Greater(body.Metrics.Volatility, 0.0)
}

func (suite *ServerTestSuite) TestRegimes() {
	var body RegimesResponse

	resp := suite.get("/api/v1/analysis/regimes?symbol=BTCUSDT&interval=1h&limit=50", &body)
	suite.Equal(http.StatusOK, resp.StatusCode)
	suite.NotEmpty(body.Regimes)
	suite.LessOrEqual(len(body.Regimes), 50)
	suite.NotEmpty(body.Current.Regime)
}

func (suite *ServerTestSuite) TestDecision() {
	var body advisor.Recommendation

	resp := suite.get("/api/v1/decisions/BTCUSDT?interval=1h", &body)
	suite.Equal(http.StatusOK, resp.StatusCode)
	suite.Equal("BTCUSDT", body.Symbol)
	suite.NotEmpty(body.Signal)
	suite.GreaterOrEqual(body.Score, 0.0)
	suite.LessOrEqual(body.Score, 100.0)
	suite.Len(body.Factors, 5)
}

func (suite *ServerTestSuite) TestRefresh() {
	suite.updater.reports["ETHUSDT"] = types.SyncReport{
		Symbol:   "ETHUSDT",
		Interval: types.IntervalOneHour,
		Status:   types.SyncStatusUpToDate,
	}

	resp, err := http.Post(suite.ts.URL+"/api/v1/refresh", "application/json", nil)
	suite.Require().NoError(err)

	defer resp.Body.Close()

	var body RefreshResponse
	suite.Require().NoError(json.NewDecoder(resp.Body).Decode(&body))

	suite.Equal(http.StatusOK, resp.StatusCode)
	suite.True(body.Success)
	suite.Equal(1, body.Updated)
	suite.Len(body.Reports, 2)
	suite.Equal(2, suite.updater.calls)
}

func (suite *ServerTestSuite) TestRefreshReportsFailure() {
	suite.updater.reports["BTCUSDT"] = types.SyncReport{
		Symbol: "BTCUSDT",
		Status: types.SyncStatusFailed,
		Error:  "transport error",
	}

	resp, err := http.Post(suite.ts.URL+"/api/v1/refresh", "application/json", nil)
	suite.Require().NoError(err)

	defer resp.Body.Close()

	var body RefreshResponse
	suite.Require().NoError(json.NewDecoder(resp.Body).Decode(&body))

	suite.False(body.Success)
}

func (suite *ServerTestSuite) TestCORSPreflight() {
	req, err := http.NewRequest(http.MethodOptions, suite.ts.URL+"/api/v1/candles/BTCUSDT", nil)
	suite.Require().NoError(err)

	resp, err := http.DefaultClient.Do(req)
	suite.Require().NoError(err)

	defer resp.Body.Close()

	suite.Equal(http.StatusNoContent, resp.StatusCode)
	suite.Equal("*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func (suite *ServerTestSuite) TestCORSConfiguredOrigins() {
	restricted := NewServer(
		Config{CORSOrigins: []string{"https://app.example.com"}},
		suite.datastore,
		suite.updater,
		suite.prices,
		risk.NewCalculator(risk.DefaultRiskFreeRate),
		advisor.NewAdvisor(risk.NewCalculator(risk.DefaultRiskFreeRate)),
		regime.NewClassifier(regime.DefaultRegimeCount, regime.DefaultSeed),
		suite.server.logger,
	)

	ts := httptest.NewServer(restricted.Handler())
	defer ts.Close()

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	suite.Require().NoError(err)
	req.Header.Set("Origin", "https://app.example.com")

	resp, err := http.DefaultClient.Do(req)
	suite.Require().NoError(err)
	resp.Body.Close()
	suite.Equal("https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://evil.example.com")

	resp, err = http.DefaultClient.Do(req)
	suite.Require().NoError(err)
	resp.Body.Close()
	suite.Empty(resp.Header.Get("Access-Control-Allow-Origin"))
}

func (suite *ServerTestSuite) TestTickerStream() {
	wsURL := "ws" + strings.TrimPrefix(suite.ts.URL, "http") + "/ws/ticker?symbols=btcusdt,ethusdt"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	suite.Require().NoError(err)

	defer conn.Close()

	suite.Require().NoError(conn.SetReadDeadline(time.Now().Add(5 * time.Second)))

	var first, second TickerResponse
	suite.Require().NoError(conn.ReadJSON(&first))
	suite.Require().NoError(conn.ReadJSON(&second))

	suite.Equal("BTCUSDT", first.Symbol)
	suite.Equal("ETHUSDT", second.Symbol)
	suite.InDelta(52000.5, first.Price, 1e-9)
}

func hourlyCandles(n int) []types.Candle {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]types.Candle, n)
	price := 50000.0

	for i := range candles {
		price *= 1 + 0.0005 + 0.01*math.Sin(float64(i)*1.1)
		candles[i] = types.Candle{
			Time:     base.Add(time.Duration(i) * time.Hour),
			Open:     price * 0.999,
			High:     price * 1.006,
			Low:      price * 0.994,
			Close:    price,
			Volume:   1000 + 100*math.Abs(math.Sin(float64(i))),
			Symbol:   "BTCUSDT",
			Interval: "1h",
		}
	}

	return candles
}
