package server

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// streamInterval is how often ticker updates are pushed to WebSocket
// clients.
const streamInterval = 2 * time.Second

// handleTickerStream upgrades the connection and pushes TickerResponse
// frames for the requested symbols until the client disconnects.
func (s *Server) handleTickerStream(w http.ResponseWriter, r *http.Request) {
	symbols := parseStreamSymbols(r.URL.Query().Get("symbols"))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// Drain client frames so close messages are processed.
	closed := make(chan struct{})

	go func() {
		defer close(closed)

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamInterval)
	defer ticker.Stop()

	for {
		for _, symbol := range symbols {
			price, err := s.ticker.Price(r.Context(), symbol)
			if err != nil {
				s.logger.Warn("ticker stream fetch failed",
					zap.String("symbol", symbol), zap.Error(err))
				continue
			}

			frame := TickerResponse{
				Symbol:    symbol,
				Price:     price,
				Timestamp: time.Now().UTC(),
			}

			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		}

		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func parseStreamSymbols(raw string) []string {
	if raw == "" {
		return []string{"BTCUSDT"}
	}

	parts := strings.Split(raw, ",")
	symbols := make([]string, 0, len(parts))

	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p != "" {
			symbols = append(symbols, p)
		}
	}

	if len(symbols) == 0 {
		return []string{"BTCUSDT"}
	}

	return symbols
}
