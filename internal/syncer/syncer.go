// Package syncer keeps persisted candle datasets up to date with the
// exchange: it determines the missing time window, fetches it, merges the
// result with the existing dataset, and persists the replacement.
package syncer

import (
	"context"
	"sort"
	"sync"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/helios-quant/candle-sync/internal/logger"
	"github.com/helios-quant/candle-sync/internal/normalize"
	"github.com/helios-quant/candle-sync/internal/types"
	"github.com/helios-quant/candle-sync/pkg/errors"
)

// DefaultLookback is the window used when no dataset exists yet for a pair.
const DefaultLookback = 30 * 24 * time.Hour

// Exchange fetches raw klines for a window, returning whatever rows were
// collected before a transport error together with that error.
type Exchange interface {
	FetchRange(ctx context.Context, symbol string, interval types.Interval, start, end time.Time) ([]*binance.Kline, error)
}

// Datastore is the persistence surface the syncer drives.
type Datastore interface {
	LastTimestamp(symbol string, interval types.Interval) (optional.Option[time.Time], error)
	Read(symbol string, interval types.Interval) ([]types.Candle, error)
	Write(symbol string, interval types.Interval, candles []types.Candle) error
}

// Config holds syncer tuning knobs.
type Config struct {
	// Lookback is the initial window when a pair has no dataset yet.
	// Zero means DefaultLookback.
	Lookback time.Duration
	// Now overrides the clock, for tests. Nil means time.Now.
	Now func() time.Time
}

// Syncer orchestrates incremental dataset updates. At most one sync runs per
// (symbol, interval) key at a time; different keys may sync concurrently.
type Syncer struct {
	exchange Exchange
	store    Datastore
	logger   *logger.Logger
	lookback time.Duration
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Syncer.
func New(exchange Exchange, store Datastore, log *logger.Logger, config Config) *Syncer {
	lookback := config.Lookback
	if lookback <= 0 {
		lookback = DefaultLookback
	}

	now := config.Now
	if now == nil {
		now = time.Now
	}

	return &Syncer{
		exchange: exchange,
		store:    store,
		logger:   log,
		lookback: lookback,
		now:      now,
		locks:    make(map[string]*sync.Mutex),
	}
}

// Sync brings the dataset for (symbol, interval) up to date with the
// exchange and reports the outcome. The persisted dataset is only ever
// replaced as a whole; on any failure it is left exactly as it was.
//
// The window deliberately starts at the stored last timestamp (not one unit
// past it) so the most recent bar is re-fetched: exchanges revise the
// still-open candle, and the re-fetched row supersedes the stored one during
// the merge.
func (s *Syncer) Sync(ctx context.Context, symbol string, interval types.Interval) types.SyncReport {
	lock := s.keyLock(symbol, interval)
	lock.Lock()
	defer lock.Unlock()

	report := types.SyncReport{
		Symbol:   symbol,
		Interval: interval,
	}

	now := s.now().UTC()

	last, err := s.store.LastTimestamp(symbol, interval)
	if err != nil {
		return s.fail(report, err)
	}

	windowStart := now.Add(-s.lookback)
	if last.IsSome() {
		windowStart = last.Unwrap()
	}

	// A window shorter than one bucket would fetch at most the bar we
	// already hold.
	if now.Sub(windowStart) < interval.Duration() {
		s.logger.Info("dataset already up to date",
			zap.String("symbol", symbol),
			zap.String("interval", interval.String()))

		report.Status = types.SyncStatusUpToDate

		return report
	}

	window := types.FetchWindow{Symbol: symbol, Interval: interval, Start: windowStart, End: now}

	klines, fetchErr := s.exchange.FetchRange(ctx, window.Symbol, window.Interval, window.Start, window.End)
	if fetchErr != nil && len(klines) == 0 {
		return s.fail(report, fetchErr)
	}

	if fetchErr != nil {
		// Partial pages are still valid, contiguous data; keep them and
		// surface the truncation as a warning.
		report.Warning = fetchErr.Error()
	}

	if len(klines) == 0 {
		report.Status = types.SyncStatusUpToDate

		return report
	}

	fetched, err := normalize.Batch(klines, symbol, interval)
	if err != nil {
		return s.fail(report, err)
	}

	report.FetchedRows = len(fetched)

	existing, err := s.store.Read(symbol, interval)
	if err != nil {
		return s.fail(report, err)
	}

	report.ExistingRows = len(existing)

	merged := Merge(existing, fetched)

	if err := s.store.Write(symbol, interval, merged); err != nil {
		return s.fail(report, err)
	}

	report.Status = types.SyncStatusUpdated
	report.FinalRows = len(merged)
	report.RowsAdded = len(merged) - len(existing)
	report.RangeStart, report.RangeEnd = types.TimeRange(merged)

	s.logger.Info("dataset synced",
		zap.String("symbol", symbol),
		zap.String("interval", interval.String()),
		zap.Int("existing_rows", report.ExistingRows),
		zap.Int("fetched_rows", report.FetchedRows),
		zap.Int("rows_added", report.RowsAdded),
		zap.Int("final_rows", report.FinalRows))

	return report
}

// GetDataset returns the full persisted dataset for the pair.
func (s *Syncer) GetDataset(symbol string, interval types.Interval) ([]types.Candle, error) {
	return s.store.Read(symbol, interval)
}

// Merge combines an existing dataset with freshly fetched candles. When both
// contain the same time, the fetched row wins. The result is sorted ascending
// by time and free of duplicate times.
func Merge(existing, fetched []types.Candle) []types.Candle {
	byTime := make(map[int64]types.Candle, len(existing)+len(fetched))

	for _, c := range existing {
		byTime[c.Time.UnixMilli()] = c
	}

	for _, c := range fetched {
		byTime[c.Time.UnixMilli()] = c
	}

	merged := make([]types.Candle, 0, len(byTime))
	for _, c := range byTime {
		merged = append(merged, c)
	}

	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Time.Before(merged[j].Time)
	})

	return merged
}

func (s *Syncer) fail(report types.SyncReport, err error) types.SyncReport {
	s.logger.Error("sync failed",
		zap.String("symbol", report.Symbol),
		zap.String("interval", report.Interval.String()),
		zap.Error(err))

	report.Status = types.SyncStatusFailed
	report.Error = errors.Wrapf(errors.ErrCodeSyncFailed, err,
		"sync failed for %s %s", report.Symbol, report.Interval).Error()

	return report
}

func (s *Syncer) keyLock(symbol string, interval types.Interval) *sync.Mutex {
	key := symbol + "/" + interval.String()

	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}

	return lock
}
