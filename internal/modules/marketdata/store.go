package marketdata

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Store provides access to historical price data in the history database.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewStore creates a new price store accessor and ensures the schema exists.
func NewStore(db *sql.DB, log zerolog.Logger) (*Store, error) {
	s := &Store{
		db:  db,
		log: log.With().Str("component", "price_store").Logger(),
	}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS daily_prices (
			ticker    TEXT NOT NULL,
			date      TEXT NOT NULL,
			adj_close REAL NOT NULL,
			PRIMARY KEY (ticker, date)
		);
		CREATE INDEX IF NOT EXISTS idx_daily_prices_date ON daily_prices(date);
	`)
	if err != nil {
		return fmt.Errorf("failed to create daily_prices schema: %w", err)
	}
	return nil
}

// SaveBars upserts price bars. The ingestion collaborator is expected to
// hand over cleaned data; the store only enforces the primary key.
func (s *Store) SaveBars(bars []Bar) error {
	if len(bars) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO daily_prices (ticker, date, adj_close)
		VALUES (?, ?, ?)
		ON CONFLICT(ticker, date) DO UPDATE SET adj_close = excluded.adj_close
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.Exec(b.Ticker, b.Date, b.AdjClose); err != nil {
			return fmt.Errorf("failed to upsert price for %s on %s: %w", b.Ticker, b.Date, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit prices: %w", err)
	}

	s.log.Debug().Int("bars", len(bars)).Msg("Saved price bars")
	return nil
}

// GetSeries fetches an aligned price series for the given tickers over the
// trailing lookback window. lookbackDays <= 0 means no date cutoff.
func (s *Store) GetSeries(tickers []string, lookbackDays int) (PriceSeries, error) {
	if len(tickers) == 0 {
		return PriceSeries{}, fmt.Errorf("no tickers provided")
	}

	var cutoff string
	if lookbackDays > 0 {
		cutoff = time.Now().UTC().AddDate(0, 0, -lookbackDays).Format("2006-01-02")
	}

	var bars []Bar
	for _, ticker := range tickers {
		rows, err := s.db.Query(`
			SELECT date, adj_close
			FROM daily_prices
			WHERE ticker = ? AND date >= ?
			ORDER BY date ASC
		`, ticker, cutoff)
		if err != nil {
			return PriceSeries{}, fmt.Errorf("failed to query prices for %s: %w", ticker, err)
		}

		for rows.Next() {
			var b Bar
			b.Ticker = ticker
			if err := rows.Scan(&b.Date, &b.AdjClose); err != nil {
				rows.Close()
				return PriceSeries{}, fmt.Errorf("failed to scan price for %s: %w", ticker, err)
			}
			bars = append(bars, b)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return PriceSeries{}, fmt.Errorf("error iterating prices for %s: %w", ticker, err)
		}
		rows.Close()
	}

	series, err := NewSeries(bars)
	if err != nil {
		return PriceSeries{}, err
	}

	// Tickers with zero rows must still appear in the series so downstream
	// validation can reject them explicitly instead of silently dropping.
	for _, ticker := range tickers {
		if _, ok := series.Prices[ticker]; !ok {
			return PriceSeries{}, fmt.Errorf("no price history for ticker %s", ticker)
		}
	}

	s.log.Debug().
		Int("num_tickers", len(tickers)).
		Int("num_dates", len(series.Dates)).
		Msg("Built price series")

	return series, nil
}
