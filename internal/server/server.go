// Package server exposes the market intelligence HTTP API: candle queries,
// indicator, risk and regime analysis, investment decisions, live ticker
// prices over REST and WebSocket, and a manual refresh trigger.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/helios-quant/candle-sync/internal/advisor"
	"github.com/helios-quant/candle-sync/internal/logger"
	"github.com/helios-quant/candle-sync/internal/regime"
	"github.com/helios-quant/candle-sync/internal/risk"
	"github.com/helios-quant/candle-sync/internal/store"
	"github.com/helios-quant/candle-sync/internal/types"
	"github.com/helios-quant/candle-sync/pkg/errors"
)

// Datastore is the read surface the API serves from.
type Datastore interface {
	Read(symbol string, interval types.Interval) ([]types.Candle, error)
	ReadLast(symbol string, interval types.Interval, n int) ([]types.Candle, error)
	Stats(symbol string, interval types.Interval) (store.DatasetStats, error)
}

// Updater triggers dataset syncs, used by the refresh endpoint.
type Updater interface {
	Sync(ctx context.Context, symbol string, interval types.Interval) types.SyncReport
}

// Pair is one tracked (symbol, interval) combination.
type Pair struct {
	Symbol   string
	Interval types.Interval
}

// Config holds the HTTP server settings.
type Config struct {
	Host string
	Port int

	// Pairs are refreshed by the refresh endpoint.
	Pairs []Pair

	// TickerTTL bounds ticker price cache age. Zero means DefaultTickerTTL.
	TickerTTL time.Duration

	// CORSOrigins lists the origins allowed to call the API. Empty or a
	// "*" entry allows any origin.
	CORSOrigins []string

	// ReadTimeout and WriteTimeout guard slow clients. Zero means no limit,
	// matching net/http defaults.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is the HTTP API server.
type Server struct {
	config     Config
	store      Datastore
	updater    Updater
	ticker     PriceFetcher
	riskCalc   *risk.Calculator
	advisor    *advisor.Advisor
	classifier *regime.Classifier
	logger     *logger.Logger

	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
}

// NewServer wires the API server over its dependencies.
func NewServer(
	config Config,
	datastore Datastore,
	updater Updater,
	ticker PriceFetcher,
	riskCalc *risk.Calculator,
	adv *advisor.Advisor,
	classifier *regime.Classifier,
	log *logger.Logger,
) *Server {
	s := &Server{
		config:     config,
		store:      datastore,
		updater:    updater,
		ticker:     ticker,
		riskCalc:   riskCalc,
		advisor:    adv,
		classifier: classifier,
		logger:     log,
		router:     mux.NewRouter(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	s.routes()

	return s
}

func (s *Server) routes() {
	s.router.Use(s.corsMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/candles/{symbol}", s.handleCandles).Methods(http.MethodGet)
	api.HandleFunc("/datasets/{symbol}", s.handleDatasetStats).Methods(http.MethodGet)
	api.HandleFunc("/summary/{symbol}", s.handleSummary).Methods(http.MethodGet)
	api.HandleFunc("/ticker/{symbol}", s.handleTicker).Methods(http.MethodGet)
	api.HandleFunc("/analysis/indicators", s.handleIndicators).Methods(http.MethodGet)
	api.HandleFunc("/analysis/risk", s.handleRisk).Methods(http.MethodGet)
	api.HandleFunc("/analysis/regimes", s.handleRegimes).Methods(http.MethodGet)
	api.HandleFunc("/signals/kama", s.handleKAMASignals).Methods(http.MethodGet)
	api.HandleFunc("/decisions/{symbol}", s.handleDecision).Methods(http.MethodGet)
	api.HandleFunc("/refresh", s.handleRefresh).Methods(http.MethodPost)

	s.router.HandleFunc("/ws/ticker", s.handleTickerStream)
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving and blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("api server listening", zap.String("addr", addr))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(errors.ErrCodeServerStartup, "server failed", err)
	}

	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	return s.httpServer.Shutdown(ctx)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := s.allowedOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowedOrigin(origin string) string {
	if len(s.config.CORSOrigins) == 0 {
		return "*"
	}

	for _, allowed := range s.config.CORSOrigins {
		if allowed == "*" {
			return "*"
		}

		if allowed == origin {
			return origin
		}
	}

	return ""
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("response encoding failed", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	code := errors.GetCode(err)

	var status int

	switch code {
	case errors.ErrCodeDataNotFound:
		status = http.StatusNotFound
	case errors.ErrCodeInvalidParameter, errors.ErrCodeInvalidInterval,
		errors.ErrCodeInvalidSymbol, errors.ErrCodeMissingParameter,
		errors.ErrCodeBadRequest:
		status = http.StatusBadRequest
	case errors.ErrCodeInsufficientData:
		status = http.StatusUnprocessableEntity
	default:
		status = http.StatusInternalServerError
	}

	if errors.IsInsufficientDataError(err) {
		status = http.StatusUnprocessableEntity
	}

	s.respondJSON(w, status, ErrorResponse{Error: err.Error(), Code: int(code)})
}
