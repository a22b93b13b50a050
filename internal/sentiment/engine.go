package sentiment

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/abood991b/insightbull/internal/domain"
)

// TextInput is one text submitted for classification.
type TextInput struct {
	Text        string
	Source      domain.Source
	Symbol      string
	ContentHash string
}

// Empirically tuned constants of the hybrid verification protocol. The
// ensemble window and the confidence adjustments were hand-tuned against
// labelled validation runs.
const (
	ensembleZoneLow        = 0.70
	ensembleZoneHigh       = 0.95
	disagreementPenalty    = 0.85
	agreementBoost         = 1.03
	agreementBoostCap      = 0.98
	strongDisagreeMin      = 0.75
	relevanceFilterMin     = 0.75
	filteredConfidence     = 0.40
	defaultThreshold       = 0.85
	primaryEnsembleWeight  = 0.6
	secondEnsembleWeight   = 0.4
)

// Options configures the engine.
type Options struct {
	Routing           map[domain.Source]ModelFamily
	Mode              VerificationMode
	Threshold         float64
	EnsembleEnabled   bool
	FallbackToNeutral bool
	LLM               LLMClient
	Validator         RelevanceValidator
	Cache             *ResultCache
}

// Engine routes texts to a model family and applies hybrid AI verification.
// Models load lazily on first use under a one-shot init guard; after load
// they are immutable and analysis is read-only.
type Engine struct {
	log zerolog.Logger

	initOnce sync.Once
	models   map[ModelFamily]Model
	ensemble Model

	routingMu sync.RWMutex
	routing   map[domain.Source]ModelFamily

	mode              VerificationMode
	threshold         float64
	ensembleEnabled   bool
	fallbackToNeutral bool

	verifier  *Verifier
	validator RelevanceValidator
	cache     *ResultCache

	statsMu sync.Mutex
	stats   Stats
}

// Stats are the engine's running counters.
type Stats struct {
	TotalAnalyzed    int     `json:"total_analyzed"`
	AIVerified       int     `json:"ai_verified_count"`
	AIErrors         int     `json:"ai_errors"`
	CacheHits        int     `json:"cache_hits"`
	Filtered         int     `json:"filtered_count"`
	AvgMLConfidence  float64 `json:"avg_ml_confidence"`
	VerificationMode string  `json:"verification_mode"`
}

// DefaultRouting maps every source to its model family: community posts to
// the community model, everything else to the financial model.
func DefaultRouting() map[domain.Source]ModelFamily {
	routing := make(map[domain.Source]ModelFamily)
	for _, src := range domain.AllSources() {
		if src.IsCommunity() {
			routing[src] = FamilyCommunity
		} else {
			routing[src] = FamilyFinancial
		}
	}
	return routing
}

// NewEngine creates the engine. Models are not loaded until first use.
func NewEngine(opts Options, log zerolog.Logger) *Engine {
	routing := opts.Routing
	if routing == nil {
		routing = DefaultRouting()
	}
	mode := opts.Mode
	if mode == "" {
		mode = VerifyLowConfidenceAndNeutral
	}
	threshold := opts.Threshold
	if threshold == 0 {
		threshold = defaultThreshold
	}

	e := &Engine{
		log:               log.With().Str("component", "sentiment_engine").Logger(),
		routing:           routing,
		mode:              mode,
		threshold:         threshold,
		ensembleEnabled:   opts.EnsembleEnabled,
		fallbackToNeutral: opts.FallbackToNeutral,
		validator:         opts.Validator,
		cache:             opts.Cache,
	}
	if opts.LLM != nil {
		e.verifier = NewVerifier(opts.LLM, log)
	} else if mode != VerifyNone {
		// Verification without a client degrades to ML-only.
		e.log.Warn().Str("requested_mode", string(mode)).Msg("No LLM client available, running ML-only")
		e.mode = VerifyNone
	}
	return e
}

// ensureModels performs the lazy, one-shot model load.
func (e *Engine) ensureModels() {
	e.initOnce.Do(func() {
		e.models = map[ModelFamily]Model{
			FamilyFinancial: newFinancialModel(),
			FamilyCommunity: newCommunityModel(),
		}
		if e.ensembleEnabled {
			e.ensemble = newEnsembleModel()
		}
		e.log.Info().Bool("ensemble", e.ensembleEnabled).Msg("Sentiment models loaded")
	})
}

// SetRouting reconfigures the source-to-family mapping at runtime.
func (e *Engine) SetRouting(source domain.Source, family ModelFamily) {
	e.routingMu.Lock()
	defer e.routingMu.Unlock()
	e.routing[source] = family
}

// familyFor resolves the model family for a source.
func (e *Engine) familyFor(source domain.Source) (ModelFamily, bool) {
	e.routingMu.RLock()
	defer e.routingMu.RUnlock()
	family, ok := e.routing[source]
	return family, ok
}

// pending tracks one input through the analyze phases.
type pending struct {
	input      TextInput
	score      domain.SentimentScore
	probs      Probs
	mlLabel    string
	mlConf     float64
	model      string
	needVerify bool
	done       bool
}

// Analyze classifies a batch, order-preserving: the result length always
// equals the input length. Per-text model failures yield a neutral score
// with zero confidence.
func (e *Engine) Analyze(ctx context.Context, inputs []TextInput) ([]domain.SentimentScore, error) {
	e.ensureModels()

	items := make([]pending, len(inputs))
	for i, input := range inputs {
		items[i] = pending{input: input}
		e.classifyOne(&items[i])
	}

	if err := e.checkRoutable(inputs); err != nil {
		return nil, err
	}

	e.verifyPending(ctx, items)

	out := make([]domain.SentimentScore, len(items))
	for i := range items {
		out[i] = items[i].score
		if e.cache != nil && items[i].done && items[i].score.Method != "" {
			e.cache.Put(items[i].input.ContentHash, out[i])
		}
	}
	return out, nil
}

// checkRoutable errors when a source routes to no model and neutral
// fallback is disabled.
func (e *Engine) checkRoutable(inputs []TextInput) error {
	if e.fallbackToNeutral {
		return nil
	}
	for _, input := range inputs {
		family, ok := e.familyFor(input.Source)
		if !ok {
			return fmt.Errorf("no model routing for source %s", input.Source)
		}
		if _, ok := e.models[family]; !ok {
			return fmt.Errorf("model family %s unavailable for source %s", family, input.Source)
		}
	}
	return nil
}

// classifyOne runs cache, relevance, ML, and ensemble for one input, and
// marks whether it still needs LLM verification.
func (e *Engine) classifyOne(p *pending) {
	input := p.input

	if e.cache != nil {
		if cached, ok := e.cache.Get(input.ContentHash); ok {
			e.bumpStats(func(s *Stats) { s.CacheHits++ })
			p.score = cached
			return
		}
	}

	// Content-relevance gate: clearly irrelevant text short-circuits to a
	// deliberately low-confidence neutral.
	if e.validator != nil {
		verdict := e.validator.Check(input.Text, input.Symbol)
		if !verdict.Relevant && verdict.Confidence >= relevanceFilterMin {
			e.bumpStats(func(s *Stats) { s.Filtered++ })
			p.score = domain.NeutralScore("", "filtered", filteredConfidence)
			p.score.AIReasoning = "Content filtered: " + verdict.Reason
			p.done = true
			return
		}
	}

	family, ok := e.familyFor(input.Source)
	if !ok {
		family = FamilyFinancial
	}
	model, ok := e.models[family]
	if !ok {
		p.score = domain.NeutralScore("", "fallback_neutral", 0)
		p.done = true
		return
	}
	p.model = model.Name()

	prediction, err := model.Predict(input.Text)
	if err != nil {
		e.log.Warn().Err(err).Str("source", string(input.Source)).Msg("Model prediction failed")
		p.score = domain.NeutralScore(model.Name(), "model_error", 0)
		p.done = true
		return
	}

	p.mlLabel = prediction.Label
	p.mlConf = prediction.Confidence
	p.probs = prediction.Probs

	forceVerify := false
	// Ensemble voting only runs in the uncertain zone; above it the primary
	// is trusted, below it the text goes to the LLM anyway.
	if e.ensemble != nil && family == FamilyFinancial &&
		p.mlConf >= ensembleZoneLow && p.mlConf < ensembleZoneHigh {
		if second, err := e.ensemble.Predict(input.Text); err == nil {
			p.probs = blendProbs(prediction.Probs, second.Probs)
			if second.Label != prediction.Label {
				p.mlConf *= disagreementPenalty
				if p.mlConf > strongDisagreeMin && second.Confidence > strongDisagreeMin {
					forceVerify = true
				}
			} else {
				p.mlConf = min(p.mlConf*agreementBoost, agreementBoostCap)
			}
		}
	}

	e.bumpStats(func(s *Stats) {
		s.TotalAnalyzed++
		n := float64(s.TotalAnalyzed)
		s.AvgMLConfidence = (s.AvgMLConfidence*(n-1) + p.mlConf) / n
	})

	p.needVerify = forceVerify || e.needsVerification(p.mlLabel, p.mlConf)
	if !p.needVerify {
		p.score = e.finalize(p, Verdict{})
		p.done = true
	}
}

// needsVerification applies the mode's predicate.
func (e *Engine) needsVerification(label string, confidence float64) bool {
	if e.verifier == nil {
		return false
	}
	switch e.mode {
	case VerifyAll:
		return true
	case VerifyLowConfidence:
		return confidence < e.threshold
	case VerifyLowConfidenceAndNeutral:
		return confidence < e.threshold || label == "neutral"
	default:
		return false
	}
}

// verifyPending batches every text needing verification into one LLM call
// and merges the verdicts.
func (e *Engine) verifyPending(ctx context.Context, items []pending) {
	var texts []string
	var indexes []int
	for i := range items {
		if items[i].needVerify && !items[i].done {
			texts = append(texts, items[i].input.Text)
			indexes = append(indexes, i)
		}
	}
	if len(texts) == 0 {
		return
	}

	var verdicts []Verdict
	if e.verifier != nil {
		verdicts = e.verifier.BatchVerify(ctx, texts)
		_, errs := e.verifier.Stats()
		e.bumpStats(func(s *Stats) { s.AIErrors = errs })
	} else {
		verdicts = make([]Verdict, len(texts))
	}

	for j, idx := range indexes {
		items[idx].score = e.finalize(&items[idx], verdicts[j])
		items[idx].done = true
	}
}

// finalize computes the final label, confidence, and score per the
// verification protocol:
//   - a successful LLM verdict's label wins;
//   - on ML/LLM agreement the confidence is the max of the two signals, on
//     disagreement the LLM's confidence verbatim;
//   - the score is reconstructed from (label, confidence) when the LLM
//     overrode the label, and from the probability difference otherwise.
func (e *Engine) finalize(p *pending, verdict Verdict) domain.SentimentScore {
	finalLabel := p.mlLabel
	finalConf := p.mlConf
	method := fmt.Sprintf("ml (%.0f%%)", p.mlConf*100)

	if verdict.OK {
		finalLabel = verdict.Label
		e.bumpStats(func(s *Stats) { s.AIVerified++ })
		if verdict.Label == p.mlLabel {
			finalConf = max(verdict.Confidence, p.mlConf)
			method = fmt.Sprintf("ai_verified_agree (%.0f%%)", finalConf*100)
		} else {
			finalConf = verdict.Confidence
			method = fmt.Sprintf("ai_override (%.0f%%)", finalConf*100)
		}
	}

	var score float64
	if verdict.OK && verdict.Label != p.mlLabel {
		switch finalLabel {
		case "positive":
			score = finalConf
		case "negative":
			score = -finalConf
		}
	} else {
		switch finalLabel {
		case "positive":
			score = p.probs.Positive - p.probs.Negative
			score = max(score, 0.1) // preserve sign even on near-ties
		case "negative":
			score = -(p.probs.Negative - p.probs.Positive)
			score = min(score, -0.1)
		}
	}

	result := domain.SentimentScore{
		Label:        domain.ParseSentimentLabel(finalLabel),
		Score:        score,
		Confidence:   finalConf,
		Model:        p.model,
		Method:       method,
		MLLabel:      domain.ParseSentimentLabel(p.mlLabel),
		MLConfidence: p.mlConf,
	}
	if verdict.OK {
		result.AIVerified = true
		result.AILabel = domain.ParseSentimentLabel(verdict.Label)
		result.AIReasoning = verdict.Reasoning
	}
	return result
}

// blendProbs mixes two distributions with the ensemble weights.
func blendProbs(a, b Probs) Probs {
	return Probs{
		Positive: primaryEnsembleWeight*a.Positive + secondEnsembleWeight*b.Positive,
		Negative: primaryEnsembleWeight*a.Negative + secondEnsembleWeight*b.Negative,
		Neutral:  primaryEnsembleWeight*a.Neutral + secondEnsembleWeight*b.Neutral,
	}
}

// Stats returns a snapshot of the counters.
func (e *Engine) Stats() Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	s := e.stats
	s.VerificationMode = string(e.mode)
	return s
}

// Health reports engine readiness for the health endpoint.
func (e *Engine) Health() map[string]any {
	e.ensureModels()
	return map[string]any{
		"models_loaded":     len(e.models),
		"ensemble_enabled":  e.ensemble != nil,
		"llm_available":     e.verifier != nil,
		"verification_mode": string(e.mode),
	}
}

func (e *Engine) bumpStats(fn func(*Stats)) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	fn(&e.stats)
}
