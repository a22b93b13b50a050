package collectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/abood991b/insightbull/internal/domain"
)

// Finnhub collects company news from the Finnhub API. Key-gated: the
// constructor is only called when a key was loaded.
type Finnhub struct {
	baseURL string
	apiKey  string
	http    *httpClient
	log     zerolog.Logger
}

const (
	finnhubRequestTimeout = 30 * time.Second
	// Finnhub buckets article dates to the day in some feeds.
	finnhubDateSlack = 24 * time.Hour
)

// NewFinnhub creates the Finnhub collector. Returns an error when the key is
// empty so construction-time gating stays explicit.
func NewFinnhub(apiKey string, limiter RateLimiter, log zerolog.Logger) (*Finnhub, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("finnhub collector requires an API key")
	}
	l := log.With().Str("collector", string(domain.SourceFinnhub)).Logger()
	return &Finnhub{
		baseURL: "https://finnhub.io/api/v1",
		apiKey:  apiKey,
		http:    newHTTPClient(domain.SourceFinnhub, finnhubRequestTimeout, limiter, l),
		log:     l,
	}, nil
}

func (c *Finnhub) Source() domain.Source { return domain.SourceFinnhub }

func (c *Finnhub) RequiresAPIKey() bool { return true }

// ValidateConnection checks the key against a lightweight endpoint.
func (c *Finnhub) ValidateConnection(ctx context.Context) error {
	params := url.Values{}
	params.Set("symbol", "AAPL")
	params.Set("token", c.apiKey)
	_, err := c.http.getJSON(ctx, c.baseURL+"/quote?"+params.Encode(), nil)
	return err
}

// finnhubArticle is one company-news entry.
type finnhubArticle struct {
	ID       int64  `json:"id"`
	Datetime int64  `json:"datetime"`
	Headline string `json:"headline"`
	Summary  string `json:"summary"`
	Source   string `json:"source"`
	URL      string `json:"url"`
	Category string `json:"category"`
	Related  string `json:"related"`
}

// Collect fetches company news per symbol.
func (c *Finnhub) Collect(ctx context.Context, cfg domain.CollectionConfig) domain.CollectionResult {
	start := time.Now()
	if err := cfg.Validate(); err != nil {
		return failedResult(c.Source(), start, err.Error())
	}

	var items []domain.RawItem
	failures := 0

	for _, symbol := range cfg.Symbols {
		collected, err := c.collectSymbol(ctx, symbol, cfg)
		if err != nil {
			failures++
			c.log.Warn().Err(err).Str("symbol", symbol).Msg("Collection failed for symbol")
			continue
		}
		items = append(items, collected...)
	}

	if failures == len(cfg.Symbols) {
		return failedResult(c.Source(), start, "all Finnhub requests failed")
	}

	items = capPerSymbol(items, cfg.MaxItemsPerSymbol)
	c.log.Info().Int("items", len(items)).Msg("Collection completed")
	return successResult(c.Source(), start, items)
}

func (c *Finnhub) collectSymbol(ctx context.Context, symbol string, cfg domain.CollectionConfig) ([]domain.RawItem, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	params.Set("from", cfg.DateRange.Start.Format("2006-01-02"))
	params.Set("to", cfg.DateRange.End.Format("2006-01-02"))
	params.Set("token", c.apiKey)

	body, err := c.http.getJSON(ctx, c.baseURL+"/company-news?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var articles []finnhubArticle
	if err := json.Unmarshal(body, &articles); err != nil {
		return nil, fmt.Errorf("failed to parse company news: %w", err)
	}

	var items []domain.RawItem
	for _, a := range articles {
		if strings.TrimSpace(a.Headline) == "" {
			continue
		}
		occurredAt := time.Unix(a.Datetime, 0).UTC()
		if !cfg.DateRange.Contains(occurredAt, finnhubDateSlack) {
			continue
		}

		text := a.Headline
		if a.Summary != "" {
			text = a.Headline + ". " + a.Summary
		}
		if isNonFinancial(text) {
			continue
		}

		items = append(items, domain.RawItem{
			Source:     domain.SourceFinnhub,
			Kind:       domain.KindArticle,
			Title:      a.Headline,
			Text:       text,
			OccurredAt: occurredAt,
			Symbol:     strings.ToUpper(symbol),
			URL:        a.URL,
			Metadata: map[string]any{
				"external_id": fmt.Sprintf("%d", a.ID),
				"publisher":   a.Source,
				"category":    a.Category,
				"related":     a.Related,
			},
		})
	}

	return items, nil
}
