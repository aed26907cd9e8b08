// Package scheduler runs periodic dataset syncs on a cron schedule.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/helios-quant/candle-sync/internal/logger"
	"github.com/helios-quant/candle-sync/internal/server"
	"github.com/helios-quant/candle-sync/internal/types"
)

// DefaultSpec syncs at the top of every hour, right after hourly buckets
// close on the exchange.
const DefaultSpec = "0 * * * *"

// Updater triggers one dataset sync.
type Updater interface {
	Sync(ctx context.Context, symbol string, interval types.Interval) types.SyncReport
}

// Scheduler periodically syncs every configured pair.
type Scheduler struct {
	cron    *cron.Cron
	updater Updater
	pairs   []server.Pair
	logger  *logger.Logger
	ctx     context.Context

	// timeout bounds one full sync round.
	timeout time.Duration
}

// New creates a Scheduler syncing the given pairs.
func New(ctx context.Context, updater Updater, pairs []server.Pair, log *logger.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		updater: updater,
		pairs:   pairs,
		logger:  log,
		ctx:     ctx,
		timeout: 10 * time.Minute,
	}
}

// Register adds the sync task under the given cron spec. An empty spec uses
// DefaultSpec.
func (s *Scheduler) Register(spec string) error {
	if spec == "" {
		spec = DefaultSpec
	}

	if _, err := s.cron.AddFunc(spec, s.syncAll); err != nil {
		return err
	}

	return nil
}

// Start begins the cron loop.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("pairs", len(s.pairs)))
}

// Stop halts scheduling and waits for a running round to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// RunNow executes one sync round immediately, outside the schedule.
func (s *Scheduler) RunNow() []types.SyncReport {
	return s.run()
}

func (s *Scheduler) syncAll() {
	s.run()
}

func (s *Scheduler) run() []types.SyncReport {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	reports := make([]types.SyncReport, 0, len(s.pairs))

	for _, pair := range s.pairs {
		report := s.updater.Sync(ctx, pair.Symbol, pair.Interval)
		reports = append(reports, report)

		switch report.Status {
		case types.SyncStatusFailed:
			s.logger.Error("scheduled sync failed",
				zap.String("symbol", pair.Symbol),
				zap.String("interval", pair.Interval.String()),
				zap.String("error", report.Error))
		case types.SyncStatusUpdated:
			s.logger.Info("scheduled sync updated dataset",
				zap.String("symbol", pair.Symbol),
				zap.String("interval", pair.Interval.String()),
				zap.Int("rows_added", report.RowsAdded))
		}
	}

	return reports
}
