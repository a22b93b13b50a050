package repository

import (
	"database/sql"

	"github.com/rs/zerolog"

	"github.com/abood991b/insightbull/internal/domain"
)

// Store composes the repositories behind the two logical persistence
// operations the pipeline uses. Both sides are idempotent, so no
// cross-operation transactions are needed.
type Store struct {
	Tickers    *TickerRepository
	Items      *ItemRepository
	Sentiments *SentimentRepository
	log        zerolog.Logger
}

// NewStore wires the repositories over one connection.
func NewStore(db *sql.DB, log zerolog.Logger) *Store {
	return &Store{
		Tickers:    NewTickerRepository(db, log),
		Items:      NewItemRepository(db, log),
		Sentiments: NewSentimentRepository(db, log),
		log:        log.With().Str("component", "store").Logger(),
	}
}

// UpsertRawItem resolves (or creates) the ticker row for the item's symbol
// and inserts the item into its source-family table.
func (s *Store) UpsertRawItem(item domain.RawItem) (StoreOutcome, error) {
	if err := item.Validate(); err != nil {
		return OutcomeInvalid, nil
	}

	ticker, err := s.Tickers.EnsureTicker(item.Symbol)
	if err != nil {
		return "", err
	}
	return s.Items.Upsert(item, ticker.ID)
}

// InsertSentiment stores a sentiment row for the item and back-fills the
// matching raw-item row with score and confidence. A missing raw row (it
// was duplicate-skipped at storage time) is tolerated.
func (s *Store) InsertSentiment(item domain.RawItem, score domain.SentimentScore) (StoreOutcome, error) {
	ticker, err := s.Tickers.EnsureTicker(item.Symbol)
	if err != nil {
		return "", err
	}

	outcome, err := s.Sentiments.Insert(ticker.ID, item.Source, score, item.ContentHash, item.Text)
	if err != nil {
		return "", err
	}

	if outcome == OutcomeStored {
		if err := s.Items.BackfillSentiment(item, score); err != nil {
			s.log.Warn().Err(err).Str("symbol", item.Symbol).Msg("Sentiment backfill failed")
		}
	}
	return outcome, nil
}
