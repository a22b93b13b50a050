package collectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/abood991b/insightbull/internal/domain"
)

// HackerNews collects stories and comments from the Algolia HN search API.
// No authentication required.
type HackerNews struct {
	baseURL string
	http    *httpClient
	log     zerolog.Logger
}

const (
	hnDefaultMinPoints = 2
	hnRequestTimeout   = 30 * time.Second
	// HN timestamps are exact; no date-range slack needed.
	hnDateSlack = 0
)

var hnTagPattern = regexp.MustCompile(`<[^>]+>`)

// NewHackerNews creates the HackerNews collector.
func NewHackerNews(limiter RateLimiter, log zerolog.Logger) *HackerNews {
	l := log.With().Str("collector", string(domain.SourceHackerNews)).Logger()
	return &HackerNews{
		baseURL: "https://hn.algolia.com/api/v1",
		http:    newHTTPClient(domain.SourceHackerNews, hnRequestTimeout, limiter, l),
		log:     l,
	}
}

func (c *HackerNews) Source() domain.Source { return domain.SourceHackerNews }

func (c *HackerNews) RequiresAPIKey() bool { return false }

// ValidateConnection issues a minimal search to confirm reachability.
func (c *HackerNews) ValidateConnection(ctx context.Context) error {
	_, err := c.http.getJSON(ctx, c.baseURL+"/search?query=stocks&hitsPerPage=1", nil)
	return err
}

// hnHit is one result from the Algolia search endpoint.
type hnHit struct {
	ObjectID    string `json:"objectID"`
	Title       string `json:"title"`
	StoryTitle  string `json:"story_title"`
	URL         string `json:"url"`
	Author      string `json:"author"`
	Points      int    `json:"points"`
	NumComments int    `json:"num_comments"`
	CreatedAtI  int64  `json:"created_at_i"`
	StoryText   string `json:"story_text"`
	CommentText string `json:"comment_text"`
}

type hnResponse struct {
	Hits []hnHit `json:"hits"`
}

// Collect searches stories (and optionally comments) for each symbol and its
// company name. Per-symbol failures are warnings; the collector fails only
// when every request fails.
func (c *HackerNews) Collect(ctx context.Context, cfg domain.CollectionConfig) domain.CollectionResult {
	start := time.Now()
	if err := cfg.Validate(); err != nil {
		return failedResult(c.Source(), start, err.Error())
	}

	minPoints := cfg.MinScore
	if minPoints <= 0 {
		minPoints = hnDefaultMinPoints
	}

	var items []domain.RawItem
	requests, failures := 0, 0

	for _, symbol := range cfg.Symbols {
		// Search by ticker, and by company name when known: HN indexes
		// prose, and "Apple" finds stories "AAPL" never will.
		queries := []string{symbol}
		if name := companyName(symbol); name != "" {
			queries = append(queries, name)
		}

		for _, query := range queries {
			tags := []string{"story"}
			if cfg.IncludeComments {
				tags = append(tags, "comment")
			}
			for _, tag := range tags {
				requests++
				hits, err := c.search(ctx, query, tag, cfg.DateRange)
				if err != nil {
					failures++
					c.log.Warn().Err(err).
						Str("symbol", symbol).
						Str("query", query).
						Msg("Search failed")
					continue
				}
				items = append(items, c.normalize(hits, symbol, tag, minPoints, cfg.DateRange)...)
			}
		}
	}

	if requests > 0 && failures == requests {
		return failedResult(c.Source(), start, "all HackerNews searches failed")
	}

	items = capPerSymbol(items, cfg.MaxItemsPerSymbol)
	c.log.Info().Int("items", len(items)).Msg("Collection completed")
	return successResult(c.Source(), start, items)
}

// search runs one search_by_date query bounded by the range's unix seconds.
func (c *HackerNews) search(ctx context.Context, query, tag string, dr domain.DateRange) ([]hnHit, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("tags", tag)
	params.Set("hitsPerPage", "100")
	params.Set("numericFilters", fmt.Sprintf(
		"created_at_i>%d,created_at_i<%d", dr.Start.Unix(), dr.End.Unix()))

	body, err := c.http.getJSON(ctx, c.baseURL+"/search_by_date?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var resp hnResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}
	return resp.Hits, nil
}

// normalize converts hits to RawItems, applying the quality and relevance
// filters.
func (c *HackerNews) normalize(hits []hnHit, symbol, tag string, minPoints int, dr domain.DateRange) []domain.RawItem {
	var items []domain.RawItem

	for _, hit := range hits {
		occurredAt := time.Unix(hit.CreatedAtI, 0).UTC()
		if !dr.Contains(occurredAt, hnDateSlack) {
			continue
		}

		kind := domain.KindStory
		title := hit.Title
		text := hit.Title
		if hit.StoryText != "" {
			text = hit.Title + ". " + stripHTML(hit.StoryText)
		}
		if tag == "comment" {
			kind = domain.KindComment
			title = hit.StoryTitle
			text = stripHTML(hit.CommentText)
		} else if hit.Points < minPoints {
			// Quality gate applies to stories only.
			continue
		}

		if strings.TrimSpace(text) == "" {
			continue
		}
		if isNonFinancial(text) {
			continue
		}

		items = append(items, domain.RawItem{
			Source:     domain.SourceHackerNews,
			Kind:       kind,
			Title:      title,
			Text:       text,
			OccurredAt: occurredAt,
			Symbol:     strings.ToUpper(symbol),
			URL:        hit.URL,
			Metadata: map[string]any{
				"external_id":  hit.ObjectID,
				"author":       hit.Author,
				"points":       hit.Points,
				"num_comments": hit.NumComments,
			},
		})
	}

	return items
}

// stripHTML removes tags and collapses whitespace from HN text fields.
func stripHTML(text string) string {
	clean := hnTagPattern.ReplaceAllString(text, " ")
	return strings.Join(strings.Fields(clean), " ")
}
