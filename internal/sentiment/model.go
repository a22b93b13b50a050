// Package sentiment routes texts to a model family and applies the hybrid
// ML+LLM verification protocol.
package sentiment

import (
	"fmt"
	"math"
	"strings"
)

// Probs is a (positive, negative, neutral) probability distribution.
type Probs struct {
	Positive float64
	Negative float64
	Neutral  float64
}

// Prediction is one model's output for a text.
type Prediction struct {
	Label      string
	Confidence float64
	Probs      Probs
}

// Model is the classifier contract. Implementations are immutable after
// load; Predict is safe for concurrent use.
type Model interface {
	Name() string
	Predict(text string) (Prediction, error)
}

// ModelFamily selects which classifier a source routes to.
type ModelFamily string

const (
	FamilyFinancial ModelFamily = "financial"
	FamilyCommunity ModelFamily = "community"
)

// lexiconModel is a linear classifier over term-weight lexicons. Term hits
// accumulate class logits; temperature scaling divides the logits before
// softmax. The lexicons are the stored parameters of the model; the engine
// is specified by this input/output contract, not by its numerics.
type lexiconModel struct {
	name        string
	positive    map[string]float64
	negative    map[string]float64
	neutralBias float64
	temperature float64
}

// Name returns the model identifier.
func (m *lexiconModel) Name() string { return m.name }

// SetTemperature updates the calibration scalar. T must be positive.
func (m *lexiconModel) SetTemperature(t float64) error {
	if t <= 0 {
		return fmt.Errorf("temperature must be positive, got %f", t)
	}
	m.temperature = t
	return nil
}

// Predict tokenizes, accumulates logits, and applies temperature softmax.
func (m *lexiconModel) Predict(text string) (Prediction, error) {
	if strings.TrimSpace(text) == "" {
		return Prediction{}, fmt.Errorf("cannot classify empty text")
	}

	posLogit, negLogit := 0.0, 0.0
	tokens := tokenize(text)
	for i, token := range tokens {
		// A simple negation window flips the polarity of the next hit.
		negated := i > 0 && isNegation(tokens[i-1])

		if w, ok := m.positive[token]; ok {
			if negated {
				negLogit += w
			} else {
				posLogit += w
			}
		}
		if w, ok := m.negative[token]; ok {
			if negated {
				posLogit += w
			} else {
				negLogit += w
			}
		}
	}

	probs := softmax3(posLogit, negLogit, m.neutralBias, m.temperature)

	label := "neutral"
	confidence := probs.Neutral
	if probs.Positive >= probs.Negative && probs.Positive > probs.Neutral {
		label = "positive"
		confidence = probs.Positive
	} else if probs.Negative > probs.Positive && probs.Negative > probs.Neutral {
		label = "negative"
		confidence = probs.Negative
	}

	return Prediction{Label: label, Confidence: confidence, Probs: probs}, nil
}

// softmax3 applies temperature scaling then softmax over three logits.
func softmax3(pos, neg, neu, temperature float64) Probs {
	if temperature <= 0 {
		temperature = 1
	}
	pos /= temperature
	neg /= temperature
	neu /= temperature

	maxLogit := math.Max(pos, math.Max(neg, neu))
	ep := math.Exp(pos - maxLogit)
	en := math.Exp(neg - maxLogit)
	eu := math.Exp(neu - maxLogit)
	sum := ep + en + eu

	return Probs{Positive: ep / sum, Negative: en / sum, Neutral: eu / sum}
}

func tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, strings.Trim(f, ".,!?;:()'\""))
	}
	return out
}

func isNegation(token string) bool {
	switch token {
	case "not", "no", "never", "cannot", "won't", "don't", "didn't", "isn't", "aren't":
		return true
	}
	return false
}

// defaultTemperature is the calibrated scaling scalar. Calibratable via NLL
// minimization on a validation set; the value here is the stored parameter.
const defaultTemperature = 1.5

// newFinancialModel builds the primary financial-news classifier.
func newFinancialModel() *lexiconModel {
	return &lexiconModel{
		name:        "finlex-base",
		temperature: defaultTemperature,
		neutralBias: 1.0,
		positive: map[string]float64{
			"beat": 2.2, "beats": 2.2, "surge": 2.5, "surges": 2.5,
			"surged": 2.5, "jump": 2.0, "jumps": 2.0, "jumped": 2.0,
			"rally": 2.0, "rallies": 2.0, "gain": 1.6, "gains": 1.6,
			"upgrade": 2.2, "upgraded": 2.2, "outperform": 2.0,
			"growth": 1.5, "record": 1.4, "strong": 1.4, "stronger": 1.4,
			"profit": 1.3, "profitable": 1.5, "bullish": 2.0,
			"raise": 1.5, "raises": 1.5, "raised": 1.5, "soar": 2.5,
			"soars": 2.5, "soared": 2.5, "expansion": 1.3, "partnership": 1.2,
			"buyback": 1.5, "dividend": 1.0, "exceed": 1.8, "exceeds": 1.8,
			"exceeded": 1.8, "momentum": 1.2, "climb": 1.6, "climbs": 1.6,
			"rebound": 1.6, "recovery": 1.4, "win": 1.3, "wins": 1.3,
		},
		negative: map[string]float64{
			"miss": 2.2, "misses": 2.2, "missed": 2.2, "plunge": 2.6,
			"plunges": 2.6, "plunged": 2.6, "crash": 2.6, "crashes": 2.6,
			"tumble": 2.4, "tumbles": 2.4, "tumbled": 2.4, "slide": 2.0,
			"slides": 2.0, "downgrade": 2.2, "downgraded": 2.2,
			"underperform": 2.0, "loss": 1.6, "losses": 1.6, "decline": 1.8,
			"declines": 1.8, "declined": 1.8, "layoff": 2.0, "layoffs": 2.0,
			"lawsuit": 1.8, "scandal": 2.2, "warning": 1.6, "warns": 1.8,
			"bearish": 2.0, "weak": 1.4, "weaker": 1.4, "drop": 1.8,
			"drops": 1.8, "dropped": 1.8, "fall": 1.6, "falls": 1.6,
			"fell": 1.6, "cut": 1.4, "cuts": 1.4, "bankruptcy": 2.8,
			"fraud": 2.6, "recall": 1.8, "probe": 1.6, "investigation": 1.6,
			"shortfall": 2.0, "slump": 2.2, "slumps": 2.2,
		},
	}
}

// newEnsembleModel builds the second financial classifier used for ensemble
// voting. Distinct weights so disagreement carries signal.
func newEnsembleModel() *lexiconModel {
	return &lexiconModel{
		name:        "finlex-distill",
		temperature: defaultTemperature,
		neutralBias: 0.8,
		positive: map[string]float64{
			"beat": 1.8, "beats": 1.8, "surge": 2.2, "surged": 2.2,
			"upgrade": 2.4, "upgraded": 2.4, "growth": 1.8, "strong": 1.2,
			"bullish": 2.2, "rally": 1.8, "gain": 1.4, "gains": 1.4,
			"record": 1.6, "profit": 1.5, "soar": 2.2, "soars": 2.2,
			"outperform": 2.2, "buy": 1.2, "accumulate": 1.4,
			"breakthrough": 1.6, "innovative": 1.1, "exceed": 1.6,
		},
		negative: map[string]float64{
			"miss": 1.8, "missed": 1.8, "plunge": 2.4, "plunged": 2.4,
			"crash": 2.8, "downgrade": 2.4, "downgraded": 2.4, "loss": 1.8,
			"decline": 1.6, "layoffs": 2.2, "lawsuit": 2.0, "scandal": 2.4,
			"bearish": 2.2, "sell": 1.2, "weak": 1.6, "drop": 1.6,
			"dropped": 1.6, "bankruptcy": 3.0, "fraud": 2.8, "warns": 1.6,
			"overvalued": 1.8, "bubble": 1.6, "dump": 1.8,
		},
	}
}

// newCommunityModel builds the classifier tuned for community posts, whose
// informal register the financial lexicon misses.
func newCommunityModel() *lexiconModel {
	return &lexiconModel{
		name:        "commlex-base",
		temperature: defaultTemperature,
		neutralBias: 1.1,
		positive: map[string]float64{
			"moon": 2.0, "rocket": 1.8, "bullish": 2.2, "undervalued": 1.8,
			"love": 1.2, "great": 1.2, "impressive": 1.4, "solid": 1.3,
			"buy": 1.4, "buying": 1.4, "long": 1.2, "calls": 1.2,
			"winner": 1.6, "gem": 1.5, "printing": 1.4, "gains": 1.6,
			"beat": 1.8, "growth": 1.4, "strong": 1.2, "excited": 1.3,
		},
		negative: map[string]float64{
			"bagholder": 2.0, "dump": 1.8, "dumping": 1.8, "overvalued": 1.8,
			"bearish": 2.2, "short": 1.2, "puts": 1.2, "scam": 2.4,
			"garbage": 1.8, "trash": 1.8, "avoid": 1.6, "terrible": 1.6,
			"awful": 1.6, "crash": 2.2, "tank": 1.8, "tanking": 2.0,
			"rug": 2.0, "sell": 1.4, "selling": 1.4, "worried": 1.2,
			"bubble": 1.5, "dead": 1.4, "bleeding": 1.6,
		},
	}
}
