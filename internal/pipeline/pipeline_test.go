package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abood991b/insightbull/internal/collectors"
	"github.com/abood991b/insightbull/internal/database"
	"github.com/abood991b/insightbull/internal/domain"
	"github.com/abood991b/insightbull/internal/repository"
	"github.com/abood991b/insightbull/internal/sentiment"
	"github.com/abood991b/insightbull/internal/textproc"
)

// fakeCollector returns canned items.
type fakeCollector struct {
	source domain.Source
	items  []domain.RawItem
	err    string
	delay  time.Duration
	calls  int
}

func (f *fakeCollector) Source() domain.Source { return f.source }
func (f *fakeCollector) RequiresAPIKey() bool  { return false }

func (f *fakeCollector) ValidateConnection(context.Context) error { return nil }

func (f *fakeCollector) Collect(ctx context.Context, cfg domain.CollectionConfig) domain.CollectionResult {
	f.calls++
	if f.delay > 0 {
		// Deliberately ignores ctx so the pipeline's own deadline handling
		// is what the timeout tests exercise.
		time.Sleep(f.delay)
	}
	if f.err != "" {
		return domain.CollectionResult{Source: f.source, Success: false, ErrorMessage: f.err}
	}
	return domain.CollectionResult{
		Source:         f.source,
		Success:        true,
		Items:          f.items,
		ItemsCollected: len(f.items),
	}
}

func hnItem(id, text string) domain.RawItem {
	return domain.RawItem{
		Source:     domain.SourceHackerNews,
		Kind:       domain.KindStory,
		Title:      text,
		Text:       text,
		OccurredAt: time.Now().UTC().Add(-time.Hour),
		Symbol:     "AAPL",
		URL:        "https://news.ycombinator.com/item?id=" + id,
		Metadata:   map[string]any{"external_id": id, "points": 10},
	}
}

func newsItem(url, text string) domain.RawItem {
	return domain.RawItem{
		Source:     domain.SourceNewsAPI,
		Kind:       domain.KindArticle,
		Title:      text,
		Text:       text,
		OccurredAt: time.Now().UTC().Add(-time.Hour),
		Symbol:     "AAPL",
		URL:        url,
		Metadata:   map[string]any{},
	}
}

var testDBSeq atomic.Int64

func newTestPipeline(t *testing.T, cs ...collectors.Collector) (*Pipeline, *repository.Store) {
	t.Helper()

	db, err := database.New(database.Config{
		Path: fmt.Sprintf("file:%s%d?mode=memory&cache=shared", t.Name(), testDBSeq.Add(1)),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := repository.NewStore(db.Conn(), zerolog.Nop())
	engine := sentiment.NewEngine(sentiment.Options{
		Mode:              sentiment.VerifyNone,
		FallbackToNeutral: true,
	}, zerolog.Nop())
	processor := textproc.New(textproc.DefaultConfig())

	return New(cs, store, engine, processor, nil, nil, zerolog.Nop()), store
}

func TestRunHappyPathSingleSource(t *testing.T) {
	collector := &fakeCollector{
		source: domain.SourceHackerNews,
		items: []domain.RawItem{
			hnItem("1", "Apple shares surge on record earnings beat"),
			hnItem("2", "Apple guidance disappoints, stock drops sharply"),
			hnItem("3", "Apple announces new buyback, investors pleased"),
		},
	}
	p, store := newTestPipeline(t, collector)

	result := p.Run(context.Background(), Config{
		Symbols:           []string{"AAPL"},
		MaxItemsPerSymbol: 10,
		EnabledSources:    map[domain.Source]bool{domain.SourceHackerNews: true},
	})

	assert.Equal(t, domain.StatusCompleted, result.Status)
	assert.Equal(t, 3, result.TotalItemsCollected)
	assert.Equal(t, 3, result.TotalItemsStored)
	assert.Equal(t, 3, result.TotalItemsAnalyzed)
	assert.Equal(t, 1.0, result.SuccessRate())

	count, err := store.Sentiments.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestRunCrossRunDuplicate(t *testing.T) {
	item := newsItem("https://ex.com/a", "Apple stock climbs after earnings beat expectations")
	collector := &fakeCollector{source: domain.SourceNewsAPI, items: []domain.RawItem{item}}
	p, store := newTestPipeline(t, collector)

	cfg := Config{
		Symbols:        []string{"AAPL"},
		EnabledSources: map[domain.Source]bool{domain.SourceNewsAPI: true},
	}

	first := p.Run(context.Background(), cfg)
	assert.Equal(t, 1, first.TotalItemsStored)

	second := p.Run(context.Background(), cfg)
	assert.Equal(t, domain.StatusCompleted, second.Status)
	assert.Zero(t, second.TotalItemsStored)

	// The sentiment unique key blocks a second row for the same content.
	count, err := store.Sentiments.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRunInRunDuplicate(t *testing.T) {
	text := "Apple shares surge after strong quarterly earnings"
	c1 := &fakeCollector{source: domain.SourceNewsAPI, items: []domain.RawItem{newsItem("https://ex.com/1", text)}}
	c2 := &fakeCollector{source: domain.SourceGDELT, items: []domain.RawItem{
		{
			Source: domain.SourceGDELT, Kind: domain.KindArticle,
			Title: text, Text: text,
			OccurredAt: time.Now().UTC().Add(-time.Hour),
			Symbol:     "AAPL", URL: "https://other.com/1",
		},
	}}
	p, _ := newTestPipeline(t, c1, c2)

	result := p.Run(context.Background(), Config{
		Symbols: []string{"AAPL"},
		EnabledSources: map[domain.Source]bool{
			domain.SourceNewsAPI: true,
			domain.SourceGDELT:   true,
		},
		ParallelCollectors: false,
	})

	assert.Equal(t, 2, result.TotalItemsCollected)
	assert.Equal(t, 1, result.TotalItemsStored)
	assert.Equal(t, 1, result.DuplicatesSkipped)
}

func TestRunCollectorFailureDoesNotAbort(t *testing.T) {
	ok := &fakeCollector{source: domain.SourceHackerNews, items: []domain.RawItem{
		hnItem("1", "Apple market outlook remains strong this quarter"),
	}}
	bad := &fakeCollector{source: domain.SourceFinnhub, err: "connection refused"}
	p, _ := newTestPipeline(t, ok, bad)

	result := p.Run(context.Background(), Config{
		Symbols: []string{"AAPL"},
		EnabledSources: map[domain.Source]bool{
			domain.SourceHackerNews: true,
			domain.SourceFinnhub:    true,
		},
	})

	assert.Equal(t, domain.StatusCompleted, result.Status)
	assert.Equal(t, 1, result.TotalItemsStored)
	assert.InDelta(t, 0.5, result.SuccessRate(), 1e-9)

	var failed *domain.CollectorStats
	for i := range result.Collectors {
		if result.Collectors[i].Source == domain.SourceFinnhub {
			failed = &result.Collectors[i]
		}
	}
	require.NotNil(t, failed)
	assert.False(t, failed.Success)
	assert.Equal(t, "connection refused", failed.ErrorMessage)
}

func TestRunCollectorTimeout(t *testing.T) {
	slow := &fakeCollector{source: domain.SourceFinnhub, delay: 500 * time.Millisecond}
	fast := &fakeCollector{source: domain.SourceHackerNews, items: []domain.RawItem{
		hnItem("1", "Apple stock steady as market waits for earnings"),
	}}
	p, _ := newTestPipeline(t, fast, slow)

	result := p.Run(context.Background(), Config{
		Symbols:          []string{"AAPL"},
		CollectorTimeout: 50 * time.Millisecond,
		EnabledSources: map[domain.Source]bool{
			domain.SourceHackerNews: true,
			domain.SourceFinnhub:    true,
		},
	})

	assert.Equal(t, domain.StatusCompleted, result.Status)
	assert.Equal(t, 1, result.TotalItemsStored)

	for _, cs := range result.Collectors {
		if cs.Source == domain.SourceFinnhub {
			assert.False(t, cs.Success)
			assert.Contains(t, cs.ErrorMessage, "timed out")
		}
	}
}

func TestRunEmptyWatchlistFails(t *testing.T) {
	p, _ := newTestPipeline(t, &fakeCollector{source: domain.SourceHackerNews})

	result := p.Run(context.Background(), Config{})
	assert.Equal(t, domain.StatusFailed, result.Status)
	assert.Equal(t, "No active stocks in watchlist", result.ErrorMessage)
}

func TestRunResolvesWatchlistFromStore(t *testing.T) {
	collector := &fakeCollector{source: domain.SourceHackerNews, items: []domain.RawItem{
		hnItem("1", "Apple investors bullish on strong earnings growth"),
	}}
	p, store := newTestPipeline(t, collector)

	_, err := store.Tickers.EnsureTicker("AAPL")
	require.NoError(t, err)

	result := p.Run(context.Background(), Config{
		EnabledSources: map[domain.Source]bool{domain.SourceHackerNews: true},
	})
	assert.Equal(t, domain.StatusCompleted, result.Status)
	assert.Equal(t, 1, result.TotalItemsStored)
}

func TestRunRejectsReentry(t *testing.T) {
	slow := &fakeCollector{source: domain.SourceHackerNews, delay: 300 * time.Millisecond}
	p, _ := newTestPipeline(t, slow)

	done := make(chan domain.PipelineResult, 1)
	go func() {
		done <- p.Run(context.Background(), Config{
			Symbols:        []string{"AAPL"},
			EnabledSources: map[domain.Source]bool{domain.SourceHackerNews: true},
		})
	}()

	// Give the first run a moment to start.
	time.Sleep(50 * time.Millisecond)
	second := p.Run(context.Background(), Config{Symbols: []string{"AAPL"}})
	assert.Equal(t, domain.StatusRunning, second.Status)

	first := <-done
	assert.Equal(t, domain.StatusCompleted, first.Status)
}

func TestRunCancellation(t *testing.T) {
	slow := &fakeCollector{source: domain.SourceHackerNews, delay: 5 * time.Second}
	p, _ := newTestPipeline(t, slow)

	done := make(chan domain.PipelineResult, 1)
	go func() {
		done <- p.Run(context.Background(), Config{
			Symbols:        []string{"AAPL"},
			EnabledSources: map[domain.Source]bool{domain.SourceHackerNews: true},
		})
	}()

	time.Sleep(50 * time.Millisecond)
	p.Cancel()

	result := <-done
	assert.Equal(t, domain.StatusCancelled, result.Status)
}

func TestStatusReportsCollectors(t *testing.T) {
	p, _ := newTestPipeline(t,
		&fakeCollector{source: domain.SourceHackerNews},
		&fakeCollector{source: domain.SourceGDELT},
	)

	status := p.Status()
	assert.Equal(t, "idle", status.Status)
	assert.Equal(t, []domain.Source{domain.SourceHackerNews, domain.SourceGDELT}, status.AvailableCollectors)
}

func TestFairOrderPrioritizesStaleSymbols(t *testing.T) {
	now := time.Now().UTC()
	coverage := map[string]repository.SentimentCoverage{
		// Fresh and fully covered.
		"AAPL": {LastSentiment: now.Add(-time.Hour), Count24h: 25},
		// Stale and under target.
		"MSFT": {LastSentiment: now.Add(-48 * time.Hour), Count24h: 2},
		// Never covered.
		"NVDA": {},
	}

	ordered := fairOrder([]string{"AAPL", "MSFT", "NVDA"}, coverage, 0, now)
	assert.Equal(t, "NVDA", ordered[0])
	assert.Equal(t, "MSFT", ordered[1])
	assert.Equal(t, "AAPL", ordered[2])
}

func TestFairOrderRotationAdvances(t *testing.T) {
	now := time.Now().UTC()
	symbols := []string{"A", "B", "C"}
	coverage := map[string]repository.SentimentCoverage{}

	base := fairOrder(symbols, coverage, 0, now)
	rotated := fairOrder(symbols, coverage, 1, now)

	require.Len(t, rotated, 3)
	assert.Equal(t, base[1], rotated[0])
	assert.Equal(t, base[0], rotated[2])
}

func TestRunParallelAndSequentialEquivalent(t *testing.T) {
	items := []domain.RawItem{
		newsItem("https://ex.com/p1", "Apple earnings beat sends shares higher"),
		newsItem("https://ex.com/p2", "Apple faces lawsuit over patent dispute"),
	}

	for _, parallel := range []bool{true, false} {
		collector := &fakeCollector{source: domain.SourceNewsAPI, items: items}
		p, _ := newTestPipeline(t, collector)

		result := p.Run(context.Background(), Config{
			Symbols:            []string{"AAPL"},
			ParallelCollectors: parallel,
			EnabledSources:     map[domain.Source]bool{domain.SourceNewsAPI: true},
		})
		assert.Equal(t, domain.StatusCompleted, result.Status, fmt.Sprintf("parallel=%v", parallel))
		assert.Equal(t, 2, result.TotalItemsStored)
	}
}
