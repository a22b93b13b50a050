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

// NewsAPI collects articles from newsapi.org. Key-gated and quota-limited
// (100 requests/day on the free tier); the scheduler's quota gate decides
// whether this collector participates in a run.
type NewsAPI struct {
	baseURL string
	apiKey  string
	http    *httpClient
	log     zerolog.Logger
}

const (
	newsapiRequestTimeout = 30 * time.Second
	newsapiDateSlack      = time.Hour
)

// NewNewsAPI creates the NewsAPI collector.
func NewNewsAPI(apiKey string, limiter RateLimiter, log zerolog.Logger) (*NewsAPI, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("newsapi collector requires an API key")
	}
	l := log.With().Str("collector", string(domain.SourceNewsAPI)).Logger()
	return &NewsAPI{
		baseURL: "https://newsapi.org/v2",
		apiKey:  apiKey,
		http:    newHTTPClient(domain.SourceNewsAPI, newsapiRequestTimeout, limiter, l),
		log:     l,
	}, nil
}

func (c *NewsAPI) Source() domain.Source { return domain.SourceNewsAPI }

func (c *NewsAPI) RequiresAPIKey() bool { return true }

// ValidateConnection checks the key with a single-result query.
func (c *NewsAPI) ValidateConnection(ctx context.Context) error {
	params := url.Values{}
	params.Set("q", "stock market")
	params.Set("pageSize", "1")
	params.Set("apiKey", c.apiKey)
	_, err := c.http.getJSON(ctx, c.baseURL+"/everything?"+params.Encode(), nil)
	return err
}

type newsapiResponse struct {
	Status   string           `json:"status"`
	Message  string           `json:"message"`
	Articles []newsapiArticle `json:"articles"`
}

type newsapiArticle struct {
	Source struct {
		Name string `json:"name"`
	} `json:"source"`
	Author      string `json:"author"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	PublishedAt string `json:"publishedAt"`
	Content     string `json:"content"`
}

// Collect queries the everything endpoint per symbol.
func (c *NewsAPI) Collect(ctx context.Context, cfg domain.CollectionConfig) domain.CollectionResult {
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
		return failedResult(c.Source(), start, "all NewsAPI requests failed")
	}

	items = capPerSymbol(items, cfg.MaxItemsPerSymbol)
	c.log.Info().Int("items", len(items)).Msg("Collection completed")
	return successResult(c.Source(), start, items)
}

func (c *NewsAPI) collectSymbol(ctx context.Context, symbol string, cfg domain.CollectionConfig) ([]domain.RawItem, error) {
	query := strings.ToUpper(symbol)
	if name := companyName(symbol); name != "" {
		query = fmt.Sprintf("%q OR %s", name, query)
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("language", "en")
	params.Set("sortBy", "publishedAt")
	params.Set("from", cfg.DateRange.Start.Format(time.RFC3339))
	params.Set("to", cfg.DateRange.End.Format(time.RFC3339))
	params.Set("pageSize", fmt.Sprintf("%d", min(cfg.MaxItemsPerSymbol, 100)))
	params.Set("apiKey", c.apiKey)

	body, err := c.http.getJSON(ctx, c.baseURL+"/everything?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var resp newsapiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if resp.Status != "ok" {
		return nil, fmt.Errorf("NewsAPI error: %s", resp.Message)
	}

	var items []domain.RawItem
	for _, a := range resp.Articles {
		if strings.TrimSpace(a.Title) == "" {
			continue
		}
		occurredAt, err := time.Parse(time.RFC3339, a.PublishedAt)
		if err != nil {
			continue
		}
		occurredAt = occurredAt.UTC()
		if !cfg.DateRange.Contains(occurredAt, newsapiDateSlack) {
			continue
		}

		text := a.Title
		if a.Description != "" {
			text = a.Title + ". " + a.Description
		}
		if isNonFinancial(text) {
			continue
		}

		items = append(items, domain.RawItem{
			Source:     domain.SourceNewsAPI,
			Kind:       domain.KindArticle,
			Title:      a.Title,
			Text:       text,
			OccurredAt: occurredAt,
			Symbol:     strings.ToUpper(symbol),
			URL:        a.URL,
			Metadata: map[string]any{
				"publisher": a.Source.Name,
				"author":    a.Author,
			},
		})
	}

	return items, nil
}
