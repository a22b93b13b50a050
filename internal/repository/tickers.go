// Package repository persists raw items and sentiment rows.
//
// Every operation runs in its own implicit transaction and is idempotent by
// design: unique-constraint violations are converted into duplicate
// outcomes, never surfaced as errors. All persisted timestamps are UTC
// instants, RFC3339-encoded, and normalized back to UTC on read.
package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/abood991b/insightbull/internal/domain"
)

const timeLayout = time.RFC3339

// TickerRepository handles ticker rows.
type TickerRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewTickerRepository creates a ticker repository.
func NewTickerRepository(db *sql.DB, log zerolog.Logger) *TickerRepository {
	return &TickerRepository{
		db:  db,
		log: log.With().Str("repo", "tickers").Logger(),
	}
}

const tickerColumns = `id, symbol, name, active, priority, current_price, created_at, updated_at`

// GetBySymbol returns a ticker by symbol, or nil when absent.
func (r *TickerRepository) GetBySymbol(symbol string) (*domain.Ticker, error) {
	row := r.db.QueryRow(
		"SELECT "+tickerColumns+" FROM tickers WHERE symbol = ?",
		normalizeSymbol(symbol),
	)
	t, err := scanTicker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query ticker by symbol: %w", err)
	}
	return t, nil
}

// GetAllActive returns the watchlist: active tickers ordered by priority
// then symbol.
func (r *TickerRepository) GetAllActive() ([]domain.Ticker, error) {
	rows, err := r.db.Query(
		"SELECT " + tickerColumns + " FROM tickers WHERE active = 1 ORDER BY priority DESC, symbol ASC",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query active tickers: %w", err)
	}
	defer rows.Close()

	var tickers []domain.Ticker
	for rows.Next() {
		t, err := scanTicker(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ticker: %w", err)
		}
		tickers = append(tickers, *t)
	}
	return tickers, rows.Err()
}

// EnsureTicker returns the ticker for symbol, creating an active row when
// missing. Foreign keys from sentiment and article rows are never dangling
// because creation happens in the same operation that needs the ID.
func (r *TickerRepository) EnsureTicker(symbol string) (*domain.Ticker, error) {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("symbol cannot be empty")
	}

	existing, err := r.GetBySymbol(symbol)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := time.Now().UTC().Format(timeLayout)
	_, err = r.db.Exec(
		`INSERT INTO tickers (symbol, name, active, priority, current_price, created_at, updated_at)
		 VALUES (?, '', 1, 0, 0, ?, ?)
		 ON CONFLICT(symbol) DO NOTHING`,
		symbol, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ticker %s: %w", symbol, err)
	}

	created, err := r.GetBySymbol(symbol)
	if err != nil {
		return nil, err
	}
	if created == nil {
		return nil, fmt.Errorf("ticker %s missing after insert", symbol)
	}
	return created, nil
}

// SetActive soft-activates or deactivates a ticker.
func (r *TickerRepository) SetActive(symbol string, active bool) error {
	res, err := r.db.Exec(
		"UPDATE tickers SET active = ?, updated_at = ? WHERE symbol = ?",
		boolToInt(active), time.Now().UTC().Format(timeLayout), normalizeSymbol(symbol),
	)
	if err != nil {
		return fmt.Errorf("failed to update ticker active flag: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("ticker %s not found", symbol)
	}
	return nil
}

// SetPriority updates the fair-ordering priority.
func (r *TickerRepository) SetPriority(symbol string, priority int) error {
	res, err := r.db.Exec(
		"UPDATE tickers SET priority = ?, updated_at = ? WHERE symbol = ?",
		priority, time.Now().UTC().Format(timeLayout), normalizeSymbol(symbol),
	)
	if err != nil {
		return fmt.Errorf("failed to update ticker priority: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("ticker %s not found", symbol)
	}
	return nil
}

// SentimentCoverage reports when a symbol last received a sentiment row and
// how many rows it received in the past 24 hours. Fed into the pipeline's
// fair-ordering priority score.
type SentimentCoverage struct {
	Symbol        string
	LastSentiment time.Time // zero when none exists
	Count24h      int
}

// GetSentimentCoverage computes coverage for the given symbols in one pass.
func (r *TickerRepository) GetSentimentCoverage(symbols []string) (map[string]SentimentCoverage, error) {
	out := make(map[string]SentimentCoverage, len(symbols))
	for _, s := range symbols {
		out[normalizeSymbol(s)] = SentimentCoverage{Symbol: normalizeSymbol(s)}
	}

	dayAgo := time.Now().UTC().Add(-24 * time.Hour).Format(timeLayout)
	rows, err := r.db.Query(
		`SELECT t.symbol,
		        MAX(s.created_at),
		        SUM(CASE WHEN s.created_at >= ? THEN 1 ELSE 0 END)
		 FROM tickers t
		 JOIN sentiments s ON s.ticker_id = t.id
		 GROUP BY t.symbol`,
		dayAgo,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query sentiment coverage: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var symbol string
		var lastRaw sql.NullString
		var count sql.NullInt64
		if err := rows.Scan(&symbol, &lastRaw, &count); err != nil {
			return nil, fmt.Errorf("failed to scan coverage row: %w", err)
		}
		cov, tracked := out[symbol]
		if !tracked {
			continue
		}
		if lastRaw.Valid {
			if ts, err := parseUTC(lastRaw.String); err == nil {
				cov.LastSentiment = ts
			}
		}
		cov.Count24h = int(count.Int64)
		out[symbol] = cov
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicker(row rowScanner) (*domain.Ticker, error) {
	var t domain.Ticker
	var active int
	var createdAt, updatedAt string
	if err := row.Scan(&t.ID, &t.Symbol, &t.Name, &active, &t.Priority, &t.CurrentPrice, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	t.Active = active != 0
	t.CreatedAt, _ = parseUTC(createdAt)
	t.UpdatedAt, _ = parseUTC(updatedAt)
	return &t, nil
}

// parseUTC normalizes a stored timestamp to a UTC instant on read.
func parseUTC(raw string) (time.Time, error) {
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
