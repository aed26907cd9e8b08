// Package store persists one candle dataset per (symbol, interval) pair as a
// Parquet file, staged and queried through DuckDB.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/helios-quant/candle-sync/internal/logger"
	"github.com/helios-quant/candle-sync/internal/types"
	"github.com/helios-quant/candle-sync/pkg/errors"
)

// candleColumns is the fixed persisted column layout.
var candleColumns = []string{
	"time", "open", "high", "low", "close",
	"volume", "quote_volume", "trades", "symbol", "interval",
}

// DatasetStats summarizes a persisted dataset.
type DatasetStats struct {
	Rows  int       `json:"rows"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Store owns the persisted datasets under a single data directory. Writes are
// atomic whole-file replacements; readers never observe a partial dataset.
type Store struct {
	dataDir string
	logger  *logger.Logger
	sq      squirrel.StatementBuilderType
}

// NewStore creates a Store rooted at dataDir, creating the directory if needed.
func NewStore(dataDir string, log *logger.Logger) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, errors.Wrapf(errors.ErrCodePersistFailed, err, "failed to create data directory %s", dataDir)
	}

	return &Store{
		dataDir: dataDir,
		logger:  log,
		sq:      squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}, nil
}

// DatasetPath returns the Parquet file path for a (symbol, interval) pair.
func (s *Store) DatasetPath(symbol string, interval types.Interval) string {
	filename := fmt.Sprintf("%s_%s.parquet", strings.ToUpper(symbol), interval)

	return filepath.Join(s.dataDir, filename)
}

// LastTimestamp returns the maximum candle time present for the pair, or None
// when no dataset has been persisted yet.
func (s *Store) LastTimestamp(symbol string, interval types.Interval) (optional.Option[time.Time], error) {
	path := s.DatasetPath(symbol, interval)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return optional.None[time.Time](), nil
	}

	db, err := s.openDB()
	if err != nil {
		return optional.None[time.Time](), err
	}
	defer db.Close()

	query, _, err := s.sq.Select("max(time)").From(parquetRelation(path)).ToSql()
	if err != nil {
		return optional.None[time.Time](), errors.Wrap(errors.ErrCodeQueryFailed, "failed to build query", err)
	}

	var last sql.NullTime
	if err := db.QueryRow(query).Scan(&last); err != nil {
		return optional.None[time.Time](), errors.Wrapf(errors.ErrCodeCorruptDataset, err,
			"failed to read last timestamp from %s", path)
	}

	if !last.Valid {
		return optional.None[time.Time](), nil
	}

	return optional.Some(last.Time.UTC()), nil
}

// Read returns the full ordered candle sequence for the pair, or an empty
// slice when nothing has been persisted yet. A file that exists but cannot be
// parsed yields a corrupt-dataset error; it is never silently treated as
// empty.
func (s *Store) Read(symbol string, interval types.Interval) ([]types.Candle, error) {
	path := s.DatasetPath(symbol, interval)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return []types.Candle{}, nil
	}

	db, err := s.openDB()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	query, _, err := s.sq.Select(candleColumns...).
		From(parquetRelation(path)).
		OrderBy("time ASC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build query", err)
	}

	return s.scanCandles(db, query, path)
}

// ReadLast returns the most recent n candles in ascending order.
func (s *Store) ReadLast(symbol string, interval types.Interval, n int) ([]types.Candle, error) {
	if n <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidParameter, "limit must be positive, got %d", n)
	}

	path := s.DatasetPath(symbol, interval)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return []types.Candle{}, nil
	}

	db, err := s.openDB()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	inner, _, err := s.sq.Select(candleColumns...).
		From(parquetRelation(path)).
		OrderBy("time DESC").
		Limit(uint64(n)).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build query", err)
	}

	query := fmt.Sprintf("SELECT * FROM (%s) ORDER BY time ASC", inner)

	return s.scanCandles(db, query, path)
}

// Stats returns row count and time range of a persisted dataset.
func (s *Store) Stats(symbol string, interval types.Interval) (DatasetStats, error) {
	path := s.DatasetPath(symbol, interval)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DatasetStats{}, errors.Newf(errors.ErrCodeDataNotFound, "no dataset for %s %s", symbol, interval)
	}

	db, err := s.openDB()
	if err != nil {
		return DatasetStats{}, err
	}
	defer db.Close()

	query, _, err := s.sq.Select("count(*)", "min(time)", "max(time)").
		From(parquetRelation(path)).
		ToSql()
	if err != nil {
		return DatasetStats{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build query", err)
	}

	var (
		rows       int
		start, end sql.NullTime
	)

	if err := db.QueryRow(query).Scan(&rows, &start, &end); err != nil {
		return DatasetStats{}, errors.Wrapf(errors.ErrCodeCorruptDataset, err, "failed to read stats from %s", path)
	}

	stats := DatasetStats{Rows: rows}
	if start.Valid {
		stats.Start = start.Time.UTC()
	}

	if end.Valid {
		stats.End = end.Time.UTC()
	}

	return stats, nil
}

// Write atomically replaces the persisted dataset for the pair. The incoming
// candles must already be sorted ascending by time with no duplicate times;
// the store verifies the precondition and rejects violations rather than
// repairing them.
//
// Rows are staged into an in-memory DuckDB table, exported with COPY to a
// temporary Parquet file in the target directory, and renamed over the final
// path so readers see either the old or the new dataset, never a mix.
func (s *Store) Write(symbol string, interval types.Interval, candles []types.Candle) error {
	if err := verifySortedUnique(candles); err != nil {
		return err
	}

	db, err := s.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.Exec(`
		CREATE TABLE candles (
			time TIMESTAMP,
			open DOUBLE,
			high DOUBLE,
			low DOUBLE,
			close DOUBLE,
			volume DOUBLE,
			quote_volume DOUBLE,
			trades BIGINT,
			symbol TEXT,
			interval TEXT
		)
	`); err != nil {
		return errors.Wrap(errors.ErrCodePersistFailed, "failed to create staging table", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return errors.Wrap(errors.ErrCodePersistFailed, "failed to begin transaction", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO candles (time, open, high, low, close, volume, quote_volume, trades, symbol, interval)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()

		return errors.Wrap(errors.ErrCodePersistFailed, "failed to prepare insert", err)
	}

	for _, c := range candles {
		if _, err := stmt.Exec(
			c.Time.UTC(), c.Open, c.High, c.Low, c.Close,
			c.Volume, c.QuoteVolume, c.Trades, c.Symbol, c.Interval,
		); err != nil {
			stmt.Close()
			tx.Rollback()

			return errors.Wrap(errors.ErrCodePersistFailed, "failed to stage candle", err)
		}
	}

	if err := stmt.Close(); err != nil {
		tx.Rollback()

		return errors.Wrap(errors.ErrCodePersistFailed, "failed to close statement", err)
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCodePersistFailed, "failed to commit staging transaction", err)
	}

	finalPath := s.DatasetPath(symbol, interval)
	tempPath := filepath.Join(s.dataDir, fmt.Sprintf(".%s.tmp.parquet", uuid.New().String()))

	if _, err := db.Exec(fmt.Sprintf(`COPY candles TO '%s' (FORMAT PARQUET)`, tempPath)); err != nil {
		return errors.Wrapf(errors.ErrCodePersistFailed, err, "failed to export Parquet to %s", tempPath)
	}

	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)

		return errors.Wrapf(errors.ErrCodePersistFailed, err, "failed to replace dataset %s", finalPath)
	}

	s.logger.Info("dataset persisted",
		zap.String("symbol", symbol),
		zap.String("interval", interval.String()),
		zap.Int("rows", len(candles)),
		zap.String("path", finalPath))

	return nil
}

func (s *Store) openDB() (*sql.DB, error) {
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodePersistFailed, "failed to open DuckDB connection", err)
	}

	return db, nil
}

func (s *Store) scanCandles(db *sql.DB, query, path string) ([]types.Candle, error) {
	rows, err := db.Query(query)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeCorruptDataset, err, "failed to read dataset %s", path)
	}
	defer rows.Close()

	candles := []types.Candle{}

	for rows.Next() {
		var c types.Candle
		if err := rows.Scan(
			&c.Time, &c.Open, &c.High, &c.Low, &c.Close,
			&c.Volume, &c.QuoteVolume, &c.Trades, &c.Symbol, &c.Interval,
		); err != nil {
			return nil, errors.Wrapf(errors.ErrCodeCorruptDataset, err, "failed to scan candle row from %s", path)
		}

		c.Time = c.Time.UTC()
		candles = append(candles, c)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(errors.ErrCodeCorruptDataset, err, "failed to iterate dataset %s", path)
	}

	return candles, nil
}

// verifySortedUnique enforces the Write precondition: ascending times, no
// duplicates.
func verifySortedUnique(candles []types.Candle) error {
	for i := 1; i < len(candles); i++ {
		if !candles[i].Time.After(candles[i-1].Time) {
			return errors.Newf(errors.ErrCodeInvalidParameter,
				"dataset not sorted or contains duplicate time at index %d (%s)",
				i, candles[i].Time.Format(time.RFC3339))
		}
	}

	return nil
}

// parquetRelation renders a read_parquet table expression for a dataset file.
func parquetRelation(path string) string {
	return fmt.Sprintf("read_parquet('%s')", strings.ReplaceAll(path, "'", "''"))
}
