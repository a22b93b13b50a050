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

// MarketAux collects financial news from marketaux.com. Key-gated. The API
// supports up to 10 symbols per request, so collection batches symbols and
// fairly distributes each returned article across the symbols it mentions.
type MarketAux struct {
	baseURL string
	apiKey  string
	http    *httpClient
	log     zerolog.Logger
}

const (
	marketauxRequestTimeout = 30 * time.Second
	marketauxDateSlack      = time.Hour
	marketauxBatchSize      = 10
)

// NewMarketAux creates the MarketAux collector.
func NewMarketAux(apiKey string, limiter RateLimiter, log zerolog.Logger) (*MarketAux, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("marketaux collector requires an API key")
	}
	l := log.With().Str("collector", string(domain.SourceMarketAux)).Logger()
	return &MarketAux{
		baseURL: "https://api.marketaux.com/v1",
		apiKey:  apiKey,
		http:    newHTTPClient(domain.SourceMarketAux, marketauxRequestTimeout, limiter, l),
		log:     l,
	}, nil
}

func (c *MarketAux) Source() domain.Source { return domain.SourceMarketAux }

func (c *MarketAux) RequiresAPIKey() bool { return true }

// ValidateConnection checks the key with a single-result query.
func (c *MarketAux) ValidateConnection(ctx context.Context) error {
	params := url.Values{}
	params.Set("symbols", "AAPL")
	params.Set("limit", "1")
	params.Set("api_token", c.apiKey)
	_, err := c.http.getJSON(ctx, c.baseURL+"/news/all?"+params.Encode(), nil)
	return err
}

type marketauxResponse struct {
	Data []marketauxArticle `json:"data"`
}

type marketauxArticle struct {
	UUID        string `json:"uuid"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	Source      string `json:"source"`
	PublishedAt string `json:"published_at"`
	Entities    []struct {
		Symbol string `json:"symbol"`
		Type   string `json:"type"`
	} `json:"entities"`
}

// Collect batches symbols into requests of up to ten.
func (c *MarketAux) Collect(ctx context.Context, cfg domain.CollectionConfig) domain.CollectionResult {
	start := time.Now()
	if err := cfg.Validate(); err != nil {
		return failedResult(c.Source(), start, err.Error())
	}

	var items []domain.RawItem
	batches, failures := 0, 0

	for i := 0; i < len(cfg.Symbols); i += marketauxBatchSize {
		end := min(i+marketauxBatchSize, len(cfg.Symbols))
		batch := cfg.Symbols[i:end]
		batches++

		collected, err := c.collectBatch(ctx, batch, cfg)
		if err != nil {
			failures++
			c.log.Warn().Err(err).Strs("symbols", batch).Msg("Batch collection failed")
			continue
		}
		items = append(items, collected...)
	}

	if failures == batches {
		return failedResult(c.Source(), start, "all MarketAux batches failed")
	}

	items = capPerSymbol(items, cfg.MaxItemsPerSymbol)
	c.log.Info().Int("items", len(items)).Msg("Collection completed")
	return successResult(c.Source(), start, items)
}

func (c *MarketAux) collectBatch(ctx context.Context, symbols []string, cfg domain.CollectionConfig) ([]domain.RawItem, error) {
	upper := make([]string, len(symbols))
	for i, s := range symbols {
		upper[i] = strings.ToUpper(s)
	}

	params := url.Values{}
	params.Set("symbols", strings.Join(upper, ","))
	params.Set("filter_entities", "true")
	params.Set("language", "en")
	params.Set("published_after", cfg.DateRange.Start.Format("2006-01-02T15:04"))
	params.Set("published_before", cfg.DateRange.End.Format("2006-01-02T15:04"))
	params.Set("limit", fmt.Sprintf("%d", cfg.MaxItemsPerSymbol*len(symbols)))
	params.Set("api_token", c.apiKey)

	body, err := c.http.getJSON(ctx, c.baseURL+"/news/all?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var resp marketauxResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	batchSet := make(map[string]bool, len(upper))
	for _, s := range upper {
		batchSet[s] = true
	}

	var items []domain.RawItem
	for _, a := range resp.Data {
		if strings.TrimSpace(a.Title) == "" {
			continue
		}
		occurredAt, err := parseMarketauxDate(a.PublishedAt)
		if err != nil || !cfg.DateRange.Contains(occurredAt, marketauxDateSlack) {
			continue
		}

		text := a.Title
		if a.Description != "" {
			text = a.Title + ". " + a.Description
		}
		if isNonFinancial(text) {
			continue
		}

		// Fan the article out to every requested symbol it mentions, so
		// a multi-ticker story counts for each of them.
		mentioned := c.symbolsFor(a, batchSet, upper)
		allMentions := make([]string, 0, len(mentioned))
		allMentions = append(allMentions, mentioned...)

		for _, symbol := range mentioned {
			items = append(items, domain.RawItem{
				Source:     domain.SourceMarketAux,
				Kind:       domain.KindArticle,
				Title:      a.Title,
				Text:       text,
				OccurredAt: occurredAt,
				Symbol:     symbol,
				URL:        a.URL,
				Metadata: map[string]any{
					"external_id": a.UUID,
					"publisher":   a.Source,
					"mentions":    allMentions,
				},
			})
		}
	}

	return items, nil
}

// symbolsFor returns the requested symbols an article's entities mention,
// falling back to the whole batch's first symbol when entity data is absent.
func (c *MarketAux) symbolsFor(a marketauxArticle, batchSet map[string]bool, batch []string) []string {
	var mentioned []string
	seen := make(map[string]bool)
	for _, e := range a.Entities {
		sym := strings.ToUpper(e.Symbol)
		if batchSet[sym] && !seen[sym] {
			seen[sym] = true
			mentioned = append(mentioned, sym)
		}
	}
	if len(mentioned) == 0 && len(batch) > 0 {
		mentioned = append(mentioned, batch[0])
	}
	return mentioned
}

// parseMarketauxDate accepts the API's RFC3339-with-microseconds format.
func parseMarketauxDate(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05.000000Z"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
}
