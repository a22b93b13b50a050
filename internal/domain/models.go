// Package domain holds the core value types of the sentiment pipeline.
// The domain layer is pure: no database, HTTP, or logging dependencies.
package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Source identifies an external data source.
type Source string

const (
	SourceHackerNews   Source = "hackernews"
	SourceGDELT        Source = "gdelt"
	SourceYahooFinance Source = "yfinance"
	SourceFinnhub      Source = "finnhub"
	SourceNewsAPI      Source = "newsapi"
	SourceMarketAux    Source = "marketaux"
)

// AllSources lists every known source in the order the pipeline iterates them.
func AllSources() []Source {
	return []Source{
		SourceHackerNews,
		SourceGDELT,
		SourceYahooFinance,
		SourceFinnhub,
		SourceNewsAPI,
		SourceMarketAux,
	}
}

// IsCommunity returns true for sources whose items are persisted in the
// community_posts table rather than articles.
func (s Source) IsCommunity() bool {
	return s == SourceHackerNews
}

// ContentKind classifies a collected item.
type ContentKind string

const (
	KindArticle ContentKind = "article"
	KindStory   ContentKind = "story"
	KindComment ContentKind = "comment"
)

// Ticker is a tracked equity. Tickers are soft-deactivated, never deleted
// while referenced by sentiment rows.
type Ticker struct {
	ID           int64
	Symbol       string
	Name         string
	Active       bool
	Priority     int
	CurrentPrice float64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DateRange is a half-open interval [Start, End) of instants.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// NewDateRange validates Start < End and normalizes both instants to UTC.
func NewDateRange(start, end time.Time) (DateRange, error) {
	if !start.Before(end) {
		return DateRange{}, fmt.Errorf("date range start %s must be before end %s", start, end)
	}
	return DateRange{Start: start.UTC(), End: end.UTC()}, nil
}

// LastDays returns a range covering the last n days ending now.
func LastDays(n int) DateRange {
	end := time.Now().UTC()
	return DateRange{Start: end.AddDate(0, 0, -n), End: end}
}

// Contains reports whether t falls inside the range, widened by slack on both
// ends. Sources with imprecise timestamps pass a non-zero slack.
func (r DateRange) Contains(t time.Time, slack time.Duration) bool {
	return !t.Before(r.Start.Add(-slack)) && t.Before(r.End.Add(slack))
}

// CollectionConfig is one invocation's contract to a collector. Immutable per
// call.
type CollectionConfig struct {
	Symbols           []string
	DateRange         DateRange
	MaxItemsPerSymbol int
	IncludeComments   bool
	MinScore          int
	Language          string
}

// Validate checks the invariants every collector relies on.
func (c CollectionConfig) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one stock symbol must be provided")
	}
	if c.MaxItemsPerSymbol <= 0 {
		return fmt.Errorf("max items per symbol must be positive, got %d", c.MaxItemsPerSymbol)
	}
	return nil
}

// RawItem is a normalized piece of collected text. Created by a collector;
// the pipeline attaches the content hash before storage.
type RawItem struct {
	Source      Source
	Kind        ContentKind
	Title       string
	Text        string
	OccurredAt  time.Time
	Symbol      string
	URL         string
	ContentHash string
	Metadata    map[string]any
}

// Validate enforces the RawItem invariant: non-empty text and a real instant.
func (i RawItem) Validate() error {
	if strings.TrimSpace(i.Text) == "" {
		return fmt.Errorf("raw item text cannot be empty")
	}
	if i.OccurredAt.IsZero() {
		return fmt.Errorf("raw item timestamp cannot be zero")
	}
	return nil
}

// CollectionResult is the outcome of one collector invocation. Total failure
// is a value (Success=false), never a raised error.
type CollectionResult struct {
	Source         Source
	Success        bool
	Items          []RawItem
	ErrorMessage   string
	ItemsCollected int
	ExecutionTime  time.Duration
}

// ContentHash computes the deterministic dedup digest over the lowercased
// title, lowercased description, and first 200 characters of the body.
func ContentHash(title, description, body string) string {
	normalized := strings.ToLower(strings.TrimSpace(title)) + "|" + strings.ToLower(strings.TrimSpace(description))
	if body != "" {
		snippet := body
		if runes := []rune(snippet); len(runes) > 200 {
			snippet = string(runes[:200])
		}
		normalized += "|" + strings.ToLower(strings.TrimSpace(snippet))
	}
	sum := md5.Sum([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// ProcessedText is the preprocessor's output, bound 1:1 to the RawItem that
// produced it.
type ProcessedText struct {
	Original        string
	Cleaned         string
	RemovedElements map[string]int
	Duration        time.Duration
	Success         bool
	ErrorMessage    string
}

// SentimentLabel is the classification label.
type SentimentLabel string

const (
	LabelPositive SentimentLabel = "positive"
	LabelNegative SentimentLabel = "negative"
	LabelNeutral  SentimentLabel = "neutral"
)

// ParseSentimentLabel maps free-form model output onto a label, defaulting to
// neutral for anything unrecognized.
func ParseSentimentLabel(s string) SentimentLabel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "positive":
		return LabelPositive
	case "negative":
		return LabelNegative
	default:
		return LabelNeutral
	}
}

// SentimentScore is the classification output for one text.
//
// Invariant: sign(Score) agrees with Label, and Label == neutral implies
// |Score| < 0.1.
type SentimentScore struct {
	Label      SentimentLabel
	Score      float64 // [-1, 1], confidence-weighted polarity
	Confidence float64 // [0, 1]
	Model      string
	Method     string

	// Verification metadata, populated when an LLM was consulted.
	AIVerified  bool
	AILabel     SentimentLabel
	AIReasoning string
	MLLabel     SentimentLabel
	MLConfidence float64
}

// Validate checks the label/score sign invariant.
func (s SentimentScore) Validate() error {
	switch s.Label {
	case LabelPositive:
		if s.Score < 0 {
			return fmt.Errorf("positive label with negative score %f", s.Score)
		}
	case LabelNegative:
		if s.Score > 0 {
			return fmt.Errorf("negative label with positive score %f", s.Score)
		}
	case LabelNeutral:
		if s.Score >= 0.1 || s.Score <= -0.1 {
			return fmt.Errorf("neutral label with score %f outside (-0.1, 0.1)", s.Score)
		}
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("confidence %f outside [0, 1]", s.Confidence)
	}
	return nil
}

// NeutralScore returns the fallback score used when a model fails or content
// is filtered as irrelevant.
func NeutralScore(model, method string, confidence float64) SentimentScore {
	return SentimentScore{
		Label:      LabelNeutral,
		Score:      0,
		Confidence: confidence,
		Model:      model,
		Method:     method,
	}
}
