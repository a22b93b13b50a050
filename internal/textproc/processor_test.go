package textproc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessStripsHTML(t *testing.T) {
	p := New(DefaultConfig())

	res := p.Process("<p>Apple shares <b>surged</b> today &amp; analysts cheered</p>")
	require.True(t, res.Success)
	assert.Equal(t, "Apple shares surged today analysts cheered", res.Cleaned)
	assert.Equal(t, 4, res.RemovedElements["html_tags"])
}

func TestProcessStripsURLsAndMentions(t *testing.T) {
	p := New(DefaultConfig())

	res := p.Process("TSLA to the moon https://example.com/article says @analyst and u/trader")
	assert.NotContains(t, res.Cleaned, "http")
	assert.NotContains(t, res.Cleaned, "@analyst")
	assert.NotContains(t, res.Cleaned, "u/trader")
	assert.Equal(t, 1, res.RemovedElements["urls"])
	assert.Equal(t, 2, res.RemovedElements["mentions"])
}

func TestProcessExpandsContractions(t *testing.T) {
	p := New(DefaultConfig())

	res := p.Process("I can't believe they won't raise guidance, it's bearish.")
	assert.Contains(t, res.Cleaned, "cannot believe")
	assert.Contains(t, res.Cleaned, "will not raise")
	assert.Contains(t, res.Cleaned, "it is bearish")
}

func TestProcessSquashesRepeatedChars(t *testing.T) {
	p := New(DefaultConfig())

	res := p.Process("this stock is sooooo overvalued right now")
	assert.Contains(t, res.Cleaned, "soo overvalued")
	assert.NotContains(t, res.Cleaned, "sooo")
}

func TestProcessRemovesForumQuotesAndEditMarkers(t *testing.T) {
	p := New(DefaultConfig())

	res := p.Process("> quoted reply about sports\nActual opinion: earnings look strong [edit: typo]")
	assert.NotContains(t, res.Cleaned, "quoted reply")
	assert.NotContains(t, strings.ToLower(res.Cleaned), "edit:")
	assert.Contains(t, res.Cleaned, "earnings look strong")
}

func TestProcessMinLengthBoundary(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinLength = 10
	p := New(cfg)

	// Exactly min_length passes.
	res := p.Process("abcdefghij")
	assert.Equal(t, "abcdefghij", res.Cleaned)

	// One below comes back empty.
	res = p.Process("abcdefghi")
	assert.Empty(t, res.Cleaned)
}

func TestProcessTruncation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxLength = 100
	p := New(cfg)

	long := strings.Repeat("strong quarterly earnings ", 50)
	res := p.Process(long)

	assert.LessOrEqual(t, len(res.Cleaned), 110)
	assert.Contains(t, res.Cleaned, " ... ")
	// Word boundaries preserved on both sides of the ellipsis.
	assert.NotContains(t, res.Cleaned, "earning ...")
}

func TestProcessIdempotent(t *testing.T) {
	p := New(DefaultConfig())

	inputs := []string{
		"Apple beats Q3 earnings expectations, shares jump 5%",
		"<div>MSFT guidance &quot;stronger&quot; than feared https://news.example/a</div>",
		"they're saying it's a can't-miss quarter for NVDA!!!",
	}

	for _, in := range inputs {
		once := p.Process(in).Cleaned
		twice := p.Process(once).Cleaned
		assert.Equal(t, once, twice, "preprocessing must be idempotent for %q", in)
	}
}

func TestProcessPreservesFinancialSymbols(t *testing.T) {
	p := New(DefaultConfig())

	res := p.Process("Revenue up 12% to $4.2B; margin (gross) at 44% - solid")
	assert.Contains(t, res.Cleaned, "$4.2B")
	assert.Contains(t, res.Cleaned, "12%")
	assert.Contains(t, res.Cleaned, "(gross)")
}

func TestProcessEmptyInput(t *testing.T) {
	p := New(DefaultConfig())

	res := p.Process("   \n  ")
	assert.True(t, res.Success)
	assert.Empty(t, res.Cleaned)
}

func TestProcessBatchPreservesOrder(t *testing.T) {
	p := New(DefaultConfig())

	results := p.ProcessBatch([]string{
		"first item about earnings growth",
		"second item about revenue decline",
	})
	require.Len(t, results, 2)
	assert.Contains(t, results[0].Cleaned, "first")
	assert.Contains(t, results[1].Cleaned, "second")
}
