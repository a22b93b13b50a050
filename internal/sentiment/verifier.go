package sentiment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LLMClient is the single-call contract the verifier needs. The core only
// ever uses temperature 0.
type LLMClient interface {
	Complete(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error)
}

// VerificationMode selects which texts escalate to the LLM.
type VerificationMode string

const (
	VerifyNone                  VerificationMode = "none"
	VerifyLowConfidence         VerificationMode = "low_confidence"
	VerifyLowConfidenceAndNeutral VerificationMode = "low_confidence_and_neutral"
	VerifyAll                   VerificationMode = "all"
)

// Verdict is one LLM verification result.
type Verdict struct {
	Label      string
	Confidence float64
	Reasoning  string
	OK         bool
}

// Verifier batches ambiguous texts into a single JSON-indexed prompt.
type Verifier struct {
	client LLMClient
	log    zerolog.Logger

	maxRetries int
	sleep      func(ctx context.Context, d time.Duration) error

	// Counters surfaced through engine stats.
	calls  int
	errors int
}

// NewVerifier creates a verifier over an LLM client.
func NewVerifier(client LLMClient, log zerolog.Logger) *Verifier {
	return &Verifier{
		client:     client,
		log:        log.With().Str("component", "ai_verifier").Logger(),
		maxRetries: 3,
		sleep:      sleepCtx,
	}
}

const batchVerificationPrompt = `You are an expert financial sentiment analyst. Analyze the sentiment of each text about stocks, companies, or financial markets.

TEXTS TO ANALYZE:
%s

Rules:
- POSITIVE: Good news, growth, gains, upgrades, beats expectations, expansion, partnership success.
- NEGATIVE: Bad news, losses, decline, downgrades, misses expectations, layoffs, scandals, warnings.
- NEUTRAL: ONLY for purely factual data (e.g., "Earnings release date is X") or questions without any implied view.

CRITICAL INSTRUCTIONS:
1. AVOID NEUTRAL if there is ANY positive or negative inclination. If the text leans even slightly, choose POSITIVE or NEGATIVE.
2. BE DECISIVE. Do not hedge.
3. HIGH CONFIDENCE: If the sentiment is clear (e.g., "stock surges", "revenue down"), assign confidence > 0.92.
4. TARGET CONFIDENCE: Aim for 0.92-0.98 for clear cases. Only use < 0.85 for truly ambiguous text.

Respond ONLY with a JSON array containing exactly %d objects in the same order as the input texts:
[{"id": 0, "sentiment": "positive", "confidence": 0.95}, {"id": 1, "sentiment": "negative", "confidence": 0.92}]

Each object must have: id (matching input index), sentiment (positive/negative/neutral), confidence (0.0-1.0)`

// BatchVerify submits texts in one prompt and returns verdicts in input
// order. On unrecoverable errors every verdict comes back with OK=false and
// the caller falls back to the ML result.
func (v *Verifier) BatchVerify(ctx context.Context, texts []string) []Verdict {
	verdicts := make([]Verdict, len(texts))
	if v.client == nil || len(texts) == 0 {
		return verdicts
	}

	type indexed struct {
		ID   int    `json:"id"`
		Text string `json:"text"`
	}
	entries := make([]indexed, len(texts))
	for i, t := range texts {
		if len(t) > 500 {
			t = t[:500]
		}
		entries[i] = indexed{ID: i, Text: t}
	}
	textsJSON, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		v.errors++
		return verdicts
	}

	prompt := fmt.Sprintf(batchVerificationPrompt, textsJSON, len(texts))

	for attempt := 0; attempt < v.maxRetries; attempt++ {
		v.calls++
		raw, err := v.client.Complete(ctx, prompt, 2000, 0)
		if err != nil {
			if isRateLimited(err) {
				wait := time.Duration(attempt+1) * 10 * time.Second
				v.log.Warn().Err(err).
					Dur("wait", wait).
					Int("attempt", attempt+1).
					Msg("LLM rate limit hit, retrying")
				if serr := v.sleep(ctx, wait); serr != nil {
					return verdicts
				}
				continue
			}
			v.errors++
			v.log.Error().Err(err).Int("batch_size", len(texts)).Msg("Batch verification failed")
			return verdicts
		}

		parsed, ok := parseVerdicts(raw, len(texts))
		if !ok {
			v.errors++
			v.log.Error().Int("batch_size", len(texts)).Msg("Failed to parse verification response")
			return verdicts
		}

		v.log.Info().Int("batch_size", len(texts)).Msg("Batch verification completed")
		return parsed
	}

	v.errors++
	v.log.Error().Int("batch_size", len(texts)).Msg("Batch verification failed after max retries")
	return verdicts
}

// Stats reports call and error counters.
func (v *Verifier) Stats() (calls, errors int) {
	return v.calls, v.errors
}

// parseVerdicts decodes the model's JSON array, tolerating markdown fences.
func parseVerdicts(raw string, count int) ([]Verdict, bool) {
	content := strings.TrimSpace(raw)
	if strings.HasPrefix(content, "```") {
		parts := strings.SplitN(content, "```", 3)
		if len(parts) >= 2 {
			content = parts[1]
		}
		content = strings.TrimPrefix(content, "json")
		content = strings.TrimSpace(content)
	}

	var items []struct {
		ID         int     `json:"id"`
		Sentiment  string  `json:"sentiment"`
		Confidence float64 `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(content), &items); err != nil {
		return nil, false
	}

	verdicts := make([]Verdict, count)
	for _, item := range items {
		if item.ID < 0 || item.ID >= count {
			continue
		}
		label := strings.ToLower(item.Sentiment)
		if label != "positive" && label != "negative" && label != "neutral" {
			label = "neutral"
		}
		confidence := item.Confidence
		if confidence <= 0 || confidence > 1 {
			confidence = 0.8
		}
		verdicts[item.ID] = Verdict{
			Label:      label,
			Confidence: confidence,
			Reasoning:  item.Reasoning,
			OK:         true,
		}
	}
	return verdicts, true
}

// isRateLimited detects 429-class errors from any LLM backend.
func isRateLimited(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "exhausted") ||
		strings.Contains(msg, "overloaded")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
