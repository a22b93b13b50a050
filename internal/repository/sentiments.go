package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/abood991b/insightbull/internal/domain"
)

// SentimentRepository persists classification rows. Uniqueness is enforced
// on (ticker_id, source, content_hash) so the same story never produces two
// rows across runs.
type SentimentRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSentimentRepository creates a sentiment repository.
func NewSentimentRepository(db *sql.DB, log zerolog.Logger) *SentimentRepository {
	return &SentimentRepository{
		db:  db,
		log: log.With().Str("repo", "sentiments").Logger(),
	}
}

// Insert stores one sentiment row. A unique-index hit returns
// OutcomeDuplicate, never an error.
func (r *SentimentRepository) Insert(tickerID int64, source domain.Source, score domain.SentimentScore, contentHash, rawText string) (StoreOutcome, error) {
	if err := score.Validate(); err != nil {
		r.log.Warn().Err(err).Msg("Refusing to store invalid sentiment")
		return OutcomeInvalid, nil
	}
	if contentHash == "" {
		return OutcomeInvalid, nil
	}

	metadata := map[string]any{
		"method":        score.Method,
		"ml_label":      string(score.MLLabel),
		"ml_confidence": score.MLConfidence,
	}
	if score.AIVerified {
		metadata["ai_verified"] = true
		metadata["ai_label"] = string(score.AILabel)
		if score.AIReasoning != "" {
			metadata["ai_reasoning"] = score.AIReasoning
		}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		metadataJSON = []byte("{}")
	}

	res, err := r.db.Exec(
		`INSERT INTO sentiments
			(ticker_id, source, score, confidence, label, model, raw_text, content_hash, created_at, metadata_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(ticker_id, source, content_hash) DO NOTHING`,
		tickerID,
		string(source),
		score.Score,
		score.Confidence,
		string(score.Label),
		score.Model,
		rawText,
		contentHash,
		time.Now().UTC().Format(timeLayout),
		string(metadataJSON),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert sentiment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return OutcomeDuplicate, nil
	}
	return OutcomeStored, nil
}

// SentimentRow is a stored sentiment read back for dashboards.
type SentimentRow struct {
	ID          int64
	TickerID    int64
	Source      domain.Source
	Score       float64
	Confidence  float64
	Label       domain.SentimentLabel
	Model       string
	ContentHash string
	CreatedAt   time.Time
}

// RecentForTicker returns the newest rows for a ticker, newest first.
func (r *SentimentRepository) RecentForTicker(tickerID int64, limit int) ([]SentimentRow, error) {
	rows, err := r.db.Query(
		`SELECT id, ticker_id, source, score, confidence, label, model, content_hash, created_at
		 FROM sentiments WHERE ticker_id = ? ORDER BY created_at DESC LIMIT ?`,
		tickerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query sentiments: %w", err)
	}
	defer rows.Close()

	var out []SentimentRow
	for rows.Next() {
		var row SentimentRow
		var source, label, createdAt string
		if err := rows.Scan(&row.ID, &row.TickerID, &source, &row.Score, &row.Confidence,
			&label, &row.Model, &row.ContentHash, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan sentiment row: %w", err)
		}
		row.Source = domain.Source(source)
		row.Label = domain.SentimentLabel(label)
		row.CreatedAt, _ = parseUTC(createdAt)
		out = append(out, row)
	}
	return out, rows.Err()
}

// Count returns the total number of sentiment rows.
func (r *SentimentRepository) Count() (int, error) {
	var n int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM sentiments`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count sentiments: %w", err)
	}
	return n, nil
}
