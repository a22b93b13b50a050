package collectors

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/abood991b/insightbull/internal/domain"
)

// YahooFinance collects ticker news from the public Yahoo Finance search API.
// No key required. Yahoo has shipped two payload shapes over time (flat
// items and items nested under "content"); both are handled.
type YahooFinance struct {
	baseURL string
	http    *httpClient
	log     zerolog.Logger
}

const (
	yahooRequestTimeout = 30 * time.Second
	// Yahoo publish times are exact but the feed includes slightly stale
	// syndicated copies.
	yahooDateSlack = time.Hour
)

// NewYahooFinance creates the Yahoo Finance collector.
func NewYahooFinance(limiter RateLimiter, log zerolog.Logger) *YahooFinance {
	l := log.With().Str("collector", string(domain.SourceYahooFinance)).Logger()
	return &YahooFinance{
		baseURL: "https://query1.finance.yahoo.com/v1/finance/search",
		http:    newHTTPClient(domain.SourceYahooFinance, yahooRequestTimeout, limiter, l),
		log:     l,
	}
}

func (c *YahooFinance) Source() domain.Source { return domain.SourceYahooFinance }

func (c *YahooFinance) RequiresAPIKey() bool { return false }

// ValidateConnection issues a one-item search to confirm reachability.
func (c *YahooFinance) ValidateConnection(ctx context.Context) error {
	_, err := c.http.getJSON(ctx, c.baseURL+"?q=AAPL&newsCount=1&quotesCount=0", nil)
	return err
}

// Collect fetches news per symbol, one ticker call each.
func (c *YahooFinance) Collect(ctx context.Context, cfg domain.CollectionConfig) domain.CollectionResult {
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
		return failedResult(c.Source(), start, "all Yahoo Finance requests failed")
	}

	items = capPerSymbol(items, cfg.MaxItemsPerSymbol)
	c.log.Info().Int("items", len(items)).Msg("Collection completed")
	return successResult(c.Source(), start, items)
}

func (c *YahooFinance) collectSymbol(ctx context.Context, symbol string, cfg domain.CollectionConfig) ([]domain.RawItem, error) {
	params := url.Values{}
	params.Set("q", strings.ToUpper(symbol))
	params.Set("newsCount", fmt.Sprintf("%d", cfg.MaxItemsPerSymbol))
	params.Set("quotesCount", "0")

	body, err := c.http.getJSON(ctx, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	news := gjson.GetBytes(body, "news")
	if !news.IsArray() {
		return nil, fmt.Errorf("unexpected Yahoo Finance response shape")
	}

	var items []domain.RawItem
	for _, entry := range news.Array() {
		item, ok := c.parseNewsItem(entry, symbol, cfg.DateRange)
		if ok {
			items = append(items, item)
		}
	}
	return items, nil
}

// parseNewsItem normalizes one news entry, tolerating both the flat and the
// nested "content" shapes.
func (c *YahooFinance) parseNewsItem(entry gjson.Result, symbol string, dr domain.DateRange) (domain.RawItem, bool) {
	// Nested shape: fields live under "content"; fall back to the flat keys.
	content := entry.Get("content")
	if !content.Exists() {
		content = entry
	}

	title := firstString(content, entry, "title")
	if title == "" {
		return domain.RawItem{}, false
	}

	summary := ""
	for _, field := range []string{"summary", "description"} {
		if v := content.Get(field).String(); v != "" {
			summary = v
			break
		}
	}

	occurredAt, ok := parseYahooDate(content, entry)
	if !ok || !dr.Contains(occurredAt, yahooDateSlack) {
		return domain.RawItem{}, false
	}

	text := title
	if summary != "" {
		text = title + ". " + summary
	}
	if isNonFinancial(text) {
		return domain.RawItem{}, false
	}

	link := content.Get("canonicalUrl.url").String()
	if link == "" {
		link = content.Get("clickThroughUrl.url").String()
	}
	if link == "" {
		link = entry.Get("link").String()
	}

	publisher := content.Get("provider.displayName").String()
	if publisher == "" {
		publisher = entry.Get("publisher").String()
	}

	externalID := content.Get("id").String()
	if externalID == "" {
		externalID = entry.Get("uuid").String()
	}

	return domain.RawItem{
		Source:     domain.SourceYahooFinance,
		Kind:       domain.KindArticle,
		Title:      title,
		Text:       text,
		OccurredAt: occurredAt,
		Symbol:     strings.ToUpper(symbol),
		URL:        link,
		Metadata: map[string]any{
			"publisher":   publisher,
			"external_id": externalID,
			"type":        firstString(content, entry, "contentType"),
		},
	}, true
}

// parseYahooDate reads pubDate (RFC3339, nested shape) or
// providerPublishTime (unix seconds, flat shape).
func parseYahooDate(content, entry gjson.Result) (time.Time, bool) {
	if raw := content.Get("pubDate").String(); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t.UTC(), true
		}
	}
	if ts := entry.Get("providerPublishTime").Int(); ts > 0 {
		return time.Unix(ts, 0).UTC(), true
	}
	return time.Time{}, false
}

func firstString(primary, fallback gjson.Result, key string) string {
	if v := primary.Get(key).String(); v != "" {
		return v
	}
	return fallback.Get(key).String()
}
