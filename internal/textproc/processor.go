// Package textproc cleans and normalizes raw text ahead of sentiment
// analysis. Processing is deterministic and pure: no I/O, no clock beyond
// duration measurement.
package textproc

import (
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/abood991b/insightbull/internal/domain"
)

// Config controls the processing steps.
type Config struct {
	RemoveHTML          bool
	RemoveURLs          bool
	RemoveMentions      bool
	RemoveHashtags      bool
	NormalizeWhitespace bool
	ExpandContractions  bool
	Lowercase           bool
	MinLength           int
	MaxLength           int
}

// DefaultConfig mirrors the processing used in production runs.
func DefaultConfig() Config {
	return Config{
		RemoveHTML:          true,
		RemoveURLs:          true,
		RemoveMentions:      true,
		RemoveHashtags:      false,
		NormalizeWhitespace: true,
		ExpandContractions:  true,
		Lowercase:           false,
		MinLength:           10,
		MaxLength:           5000,
	}
}

var (
	urlPattern      = regexp.MustCompile(`http[s]?://(?:[a-zA-Z]|[0-9]|[$-_@.&+]|[!*\\(\\),]|(?:%[0-9a-fA-F][0-9a-fA-F]))+`)
	urlShortPattern = regexp.MustCompile(`\b(?:bit\.ly|tinyurl|t\.co|goo\.gl|ow\.ly)/\S+`)
	mentionPattern  = regexp.MustCompile(`@\w+|u/\w+|r/\w+`)
	hashtagPattern  = regexp.MustCompile(`#\w+`)
	htmlTagPattern  = regexp.MustCompile(`<[^>]+>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
	newlinePattern    = regexp.MustCompile(`\n+`)
	forumQuotePattern = regexp.MustCompile(`(?m)^(?:>|&gt;).*$`)
	editPattern       = regexp.MustCompile(`(?i)\[?\s*edit\s*:.*?\]?`)
	specialCharPattern = regexp.MustCompile(`[^\w\s.,!?;:()\-'"$%#@/]`)
)

// contractions is the expansion lexicon applied token by token.
var contractions = map[string]string{
	"ain't": "is not", "aren't": "are not", "can't": "cannot",
	"couldn't": "could not", "didn't": "did not", "doesn't": "does not",
	"don't": "do not", "hadn't": "had not", "hasn't": "has not",
	"haven't": "have not", "he'd": "he would", "he'll": "he will",
	"he's": "he is", "i'd": "i would", "i'll": "i will", "i'm": "i am",
	"i've": "i have", "isn't": "is not", "it'd": "it would",
	"it'll": "it will", "it's": "it is", "let's": "let us",
	"mightn't": "might not", "mustn't": "must not", "shan't": "shall not",
	"she'd": "she would", "she'll": "she will", "she's": "she is",
	"shouldn't": "should not", "that's": "that is", "there's": "there is",
	"they'd": "they would", "they'll": "they will", "they're": "they are",
	"they've": "they have", "we'd": "we would", "we're": "we are",
	"we've": "we have", "weren't": "were not", "what's": "what is",
	"where's": "where is", "who's": "who is", "won't": "will not",
	"wouldn't": "would not", "you'd": "you would", "you'll": "you will",
	"you're": "you are", "you've": "you have",
}

// Processor runs the cleaning pipeline.
type Processor struct {
	cfg Config
}

// New creates a processor with the given config.
func New(cfg Config) *Processor {
	if cfg.MinLength == 0 {
		cfg.MinLength = 10
	}
	if cfg.MaxLength == 0 {
		cfg.MaxLength = 5000
	}
	return &Processor{cfg: cfg}
}

// Process cleans one text. Always returns a ProcessedText; a result shorter
// than MinLength comes back with empty cleaned text.
func (p *Processor) Process(raw string) domain.ProcessedText {
	start := time.Now()

	removed := map[string]int{}
	cleaned := p.clean(raw, removed)

	return domain.ProcessedText{
		Original:        raw,
		Cleaned:         cleaned,
		RemovedElements: removed,
		Duration:        time.Since(start),
		Success:         true,
	}
}

// ProcessBatch cleans a slice of texts, preserving order.
func (p *Processor) ProcessBatch(raws []string) []domain.ProcessedText {
	out := make([]domain.ProcessedText, len(raws))
	for i, raw := range raws {
		out[i] = p.Process(raw)
	}
	return out
}

func (p *Processor) clean(text string, removed map[string]int) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}

	processed := text

	if p.cfg.RemoveHTML {
		removed["html_tags"] += len(htmlTagPattern.FindAllString(processed, -1))
		processed = html.UnescapeString(processed)
		processed = htmlTagPattern.ReplaceAllString(processed, " ")
	}

	if p.cfg.RemoveURLs {
		removed["urls"] += len(urlPattern.FindAllString(processed, -1))
		removed["urls"] += len(urlShortPattern.FindAllString(processed, -1))
		processed = urlPattern.ReplaceAllString(processed, " ")
		processed = urlShortPattern.ReplaceAllString(processed, " ")
	}

	if p.cfg.RemoveMentions {
		removed["mentions"] += len(mentionPattern.FindAllString(processed, -1))
		processed = mentionPattern.ReplaceAllString(processed, " ")
	}

	if p.cfg.RemoveHashtags {
		removed["hashtags"] += len(hashtagPattern.FindAllString(processed, -1))
		processed = hashtagPattern.ReplaceAllString(processed, " ")
	}

	// Forum-specific cleanup: quote lines and edit markers.
	processed = forumQuotePattern.ReplaceAllString(processed, "")
	processed = editPattern.ReplaceAllString(processed, "")

	if p.cfg.ExpandContractions {
		processed = expandContractions(processed)
	}

	if p.cfg.NormalizeWhitespace {
		processed = newlinePattern.ReplaceAllString(processed, " ")
		processed = whitespacePattern.ReplaceAllString(processed, " ")
		processed = strings.TrimSpace(processed)
	}

	processed = squashRepeats(processed)
	removed["special_chars"] += len(specialCharPattern.FindAllString(processed, -1))
	processed = specialCharPattern.ReplaceAllString(processed, " ")
	processed = whitespacePattern.ReplaceAllString(processed, " ")

	if p.cfg.Lowercase {
		processed = strings.ToLower(processed)
	}

	processed = strings.TrimSpace(processed)

	if len(processed) < p.cfg.MinLength {
		return ""
	}

	if len(processed) > p.cfg.MaxLength {
		processed = truncateIntelligently(processed, p.cfg.MaxLength)
	}

	return processed
}

// expandContractions replaces known contractions token by token, tolerating
// trailing punctuation.
func expandContractions(text string) string {
	words := strings.Fields(text)
	out := make([]string, 0, len(words))

	for _, word := range words {
		lower := strings.ToLower(word)
		if expanded, ok := contractions[lower]; ok {
			out = append(out, expanded)
			continue
		}
		trimmed := strings.TrimRight(lower, ".,!?;:")
		if expanded, ok := contractions[trimmed]; ok {
			out = append(out, expanded+lower[len(trimmed):])
			continue
		}
		out = append(out, word)
	}

	return strings.Join(out, " ")
}

// squashRepeats caps runs of the same rune at two ("sooooo" becomes "soo").
// Go's regexp has no backreferences, so this is done with a scan.
func squashRepeats(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	var prev rune
	run := 0
	for _, r := range text {
		if r == prev {
			run++
		} else {
			prev = r
			run = 1
		}
		if run <= 2 {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// truncateIntelligently keeps the lead and the conclusion: the first 60% and
// last 40% of the budget, joined with an ellipsis and snapped to word
// boundaries. For financial text the beginning and end carry the signal.
func truncateIntelligently(text string, maxLength int) string {
	keepStart := int(float64(maxLength) * 0.6)
	keepEnd := int(float64(maxLength) * 0.4)

	start := text[:keepStart]
	if idx := strings.LastIndex(start, " "); idx > 0 {
		start = start[:idx]
	}

	end := text[len(text)-keepEnd:]
	if idx := strings.Index(end, " "); idx >= 0 && idx < len(end)-1 {
		end = end[idx+1:]
	}

	return start + " ... " + end
}
