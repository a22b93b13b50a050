package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDateRange(t *testing.T) {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

	r, err := NewDateRange(start, end)
	require.NoError(t, err)
	assert.Equal(t, start, r.Start)
	assert.Equal(t, end, r.End)

	_, err = NewDateRange(end, start)
	assert.Error(t, err)

	_, err = NewDateRange(start, start)
	assert.Error(t, err)
}

func TestDateRangeContains(t *testing.T) {
	r, err := NewDateRange(
		time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
	)
	require.NoError(t, err)

	assert.True(t, r.Contains(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), 0))
	// Half-open: end excluded.
	assert.False(t, r.Contains(r.End, 0))
	// Slack widens both ends.
	assert.True(t, r.Contains(r.End.Add(30*time.Minute), time.Hour))
	assert.True(t, r.Contains(r.Start.Add(-30*time.Minute), time.Hour))
}

func TestContentHashCaseInsensitive(t *testing.T) {
	a := ContentHash("Apple Beats Earnings", "Q3 results", "full body text")
	b := ContentHash("APPLE BEATS EARNINGS", "Q3 RESULTS", "full body text")
	assert.Equal(t, a, b)

	c := ContentHash("Apple misses earnings", "Q3 results", "full body text")
	assert.NotEqual(t, a, c)
}

func TestContentHashBodySnippet(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'a'
	}
	// Only the first 200 chars of the body participate.
	a := ContentHash("t", "d", string(long))
	b := ContentHash("t", "d", string(long[:200])+"completely different tail")
	assert.Equal(t, a, b)
}

func TestCollectionConfigValidate(t *testing.T) {
	cfg := CollectionConfig{Symbols: []string{"AAPL"}, MaxItemsPerSymbol: 10}
	assert.NoError(t, cfg.Validate())

	cfg.Symbols = nil
	assert.Error(t, cfg.Validate())

	cfg.Symbols = []string{"AAPL"}
	cfg.MaxItemsPerSymbol = 0
	assert.Error(t, cfg.Validate())
}

func TestRawItemValidate(t *testing.T) {
	item := RawItem{Text: "Apple shares rise", OccurredAt: time.Now().UTC()}
	assert.NoError(t, item.Validate())

	item.Text = "   "
	assert.Error(t, item.Validate())

	item.Text = "ok text"
	item.OccurredAt = time.Time{}
	assert.Error(t, item.Validate())
}

func TestSentimentScoreValidate(t *testing.T) {
	ok := SentimentScore{Label: LabelPositive, Score: 0.8, Confidence: 0.9}
	assert.NoError(t, ok.Validate())

	bad := SentimentScore{Label: LabelPositive, Score: -0.5, Confidence: 0.9}
	assert.Error(t, bad.Validate())

	neutral := SentimentScore{Label: LabelNeutral, Score: 0.05, Confidence: 0.4}
	assert.NoError(t, neutral.Validate())

	neutralBad := SentimentScore{Label: LabelNeutral, Score: 0.5, Confidence: 0.4}
	assert.Error(t, neutralBad.Validate())
}

func TestRunTypeSources(t *testing.T) {
	frequent := RunFrequent.SourcesFor()
	assert.False(t, frequent[SourceNewsAPI])
	assert.False(t, frequent[SourceMarketAux])
	assert.True(t, frequent[SourceHackerNews])
	assert.True(t, frequent[SourceGDELT])

	strategic := RunStrategic.SourcesFor()
	for _, src := range AllSources() {
		assert.True(t, strategic[src], "strategic should enable %s", src)
	}

	assert.Equal(t, 7, RunDeep.LookbackDays())
	assert.Equal(t, 1, RunStrategic.LookbackDays())
}

func TestPipelineResultSuccessRate(t *testing.T) {
	r := PipelineResult{Collectors: []CollectorStats{
		{Source: SourceHackerNews, Success: true},
		{Source: SourceFinnhub, Success: false},
	}}
	assert.InDelta(t, 0.5, r.SuccessRate(), 1e-9)

	empty := PipelineResult{}
	assert.Zero(t, empty.SuccessRate())
}

func TestParseSentimentLabel(t *testing.T) {
	assert.Equal(t, LabelPositive, ParseSentimentLabel(" Positive "))
	assert.Equal(t, LabelNegative, ParseSentimentLabel("NEGATIVE"))
	assert.Equal(t, LabelNeutral, ParseSentimentLabel("mixed"))
}
