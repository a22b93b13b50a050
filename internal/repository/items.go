package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/abood991b/insightbull/internal/domain"
)

// StoreOutcome is the result of a persistence attempt.
type StoreOutcome string

const (
	OutcomeStored    StoreOutcome = "stored"
	OutcomeDuplicate StoreOutcome = "duplicate"
	OutcomeInvalid   StoreOutcome = "invalid"
)

// ItemRepository persists raw items into their source-family table:
// articles (keyed by URL) or community_posts (keyed by external id).
type ItemRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewItemRepository creates an item repository.
func NewItemRepository(db *sql.DB, log zerolog.Logger) *ItemRepository {
	return &ItemRepository{
		db:  db,
		log: log.With().Str("repo", "items").Logger(),
	}
}

// Upsert inserts a raw item for the given ticker. A unique-constraint hit on
// the natural key turns the insert into a duplicate no-op.
func (r *ItemRepository) Upsert(item domain.RawItem, tickerID int64) (StoreOutcome, error) {
	if err := item.Validate(); err != nil {
		return OutcomeInvalid, nil
	}

	if item.Source.IsCommunity() {
		return r.upsertPost(item, tickerID)
	}
	return r.upsertArticle(item, tickerID)
}

func (r *ItemRepository) upsertArticle(item domain.RawItem, tickerID int64) (StoreOutcome, error) {
	url := strings.TrimSpace(item.URL)
	if url == "" {
		// Articles dedup on URL; a missing URL falls back to the content
		// hash as a synthetic key so the unique index still applies.
		url = "hash://" + item.ContentHash
	}

	mentions := mentionsJSON(item)
	res, err := r.db.Exec(
		`INSERT INTO articles
			(ticker_id, title, content, url, source, published_at, author, mentions_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(url) DO NOTHING`,
		tickerID,
		item.Title,
		item.Text,
		url,
		string(item.Source),
		item.OccurredAt.UTC().Format(timeLayout),
		metaString(item, "author"),
		mentions,
		time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert article: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return OutcomeDuplicate, nil
	}
	return OutcomeStored, nil
}

func (r *ItemRepository) upsertPost(item domain.RawItem, tickerID int64) (StoreOutcome, error) {
	externalID := metaString(item, "external_id")
	if externalID == "" {
		externalID = "hash://" + item.ContentHash
	}

	res, err := r.db.Exec(
		`INSERT INTO community_posts
			(ticker_id, external_id, title, content, content_type, author, points,
			 num_comments, url, created_utc, mentions_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(external_id) DO NOTHING`,
		tickerID,
		externalID,
		item.Title,
		item.Text,
		string(item.Kind),
		metaString(item, "author"),
		metaInt(item, "points"),
		metaInt(item, "num_comments"),
		item.URL,
		item.OccurredAt.UTC().Format(timeLayout),
		mentionsJSON(item),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert community post: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return OutcomeDuplicate, nil
	}
	return OutcomeStored, nil
}

// BackfillSentiment writes the sentiment score onto the matching raw-item
// row. An absent row (skipped earlier as a duplicate insert) is logged and
// tolerated; the sentiment row exists independently via its own unique key.
func (r *ItemRepository) BackfillSentiment(item domain.RawItem, score domain.SentimentScore) error {
	var res sql.Result
	var err error

	if item.Source.IsCommunity() {
		externalID := metaString(item, "external_id")
		if externalID == "" {
			externalID = "hash://" + item.ContentHash
		}
		res, err = r.db.Exec(
			`UPDATE community_posts SET sentiment_score = ?, confidence = ?, mentions_json = ?
			 WHERE external_id = ?`,
			score.Score, score.Confidence, mentionsJSON(item), externalID,
		)
	} else {
		url := strings.TrimSpace(item.URL)
		if url == "" {
			url = "hash://" + item.ContentHash
		}
		res, err = r.db.Exec(
			`UPDATE articles SET sentiment_score = ?, confidence = ?, mentions_json = ?
			 WHERE url = ?`,
			score.Score, score.Confidence, mentionsJSON(item), url,
		)
	}
	if err != nil {
		return fmt.Errorf("failed to backfill sentiment: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		r.log.Debug().
			Str("source", string(item.Source)).
			Str("url", item.URL).
			Msg("No raw row to backfill (duplicate-skipped earlier)")
	}
	return nil
}

// CountBySource reports stored row counts per source family, for status
// endpoints.
func (r *ItemRepository) CountBySource() (map[string]int, error) {
	out := make(map[string]int)

	rows, err := r.db.Query(`SELECT source, COUNT(*) FROM articles GROUP BY source`)
	if err != nil {
		return nil, fmt.Errorf("failed to count articles: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var source string
		var n int
		if err := rows.Scan(&source, &n); err != nil {
			return nil, err
		}
		out[source] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var posts int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM community_posts`).Scan(&posts); err != nil {
		return nil, fmt.Errorf("failed to count community posts: %w", err)
	}
	out[string(domain.SourceHackerNews)] += posts

	return out, nil
}

// mentionsJSON extracts the all-mentioned-symbols list from metadata.
func mentionsJSON(item domain.RawItem) string {
	mentions := []string{item.Symbol}
	if raw, ok := item.Metadata["mentions"]; ok {
		if list, ok := raw.([]string); ok && len(list) > 0 {
			mentions = list
		}
	}
	encoded, err := json.Marshal(mentions)
	if err != nil {
		return "[]"
	}
	return string(encoded)
}

func metaString(item domain.RawItem, key string) string {
	if v, ok := item.Metadata[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func metaInt(item domain.RawItem, key string) int {
	switch v := item.Metadata[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
