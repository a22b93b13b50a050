// Package pipeline orchestrates one collect → dedup → preprocess →
// classify → persist run.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/abood991b/insightbull/internal/collectors"
	"github.com/abood991b/insightbull/internal/dedup"
	"github.com/abood991b/insightbull/internal/domain"
	"github.com/abood991b/insightbull/internal/metrics"
	"github.com/abood991b/insightbull/internal/ratelimit"
	"github.com/abood991b/insightbull/internal/repository"
	"github.com/abood991b/insightbull/internal/sentiment"
	"github.com/abood991b/insightbull/internal/textproc"
)

// Config parameterizes one run.
type Config struct {
	Symbols            []string
	DateRange          domain.DateRange
	EnabledSources     map[domain.Source]bool
	MaxItemsPerSymbol  int
	IncludeComments    bool
	MinScore           int
	ParallelCollectors bool
	CollectorTimeout   time.Duration
	BatchSize          int
}

func (c *Config) applyDefaults() {
	if c.MaxItemsPerSymbol <= 0 {
		c.MaxItemsPerSymbol = 100
	}
	if c.CollectorTimeout <= 0 {
		c.CollectorTimeout = 300 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 16
	}
	if c.DateRange.Start.IsZero() || c.DateRange.End.IsZero() {
		c.DateRange = domain.LastDays(1)
	}
}

// Pipeline owns the run lifecycle. At most one run executes at a time; a
// re-entrant call is rejected with a running status rather than queued.
type Pipeline struct {
	collectors []collectors.Collector
	store      *repository.Store
	engine     *sentiment.Engine
	processor  *textproc.Processor
	limiter    *ratelimit.Limiter
	metrics    *metrics.Metrics
	log        zerolog.Logger

	mu             sync.Mutex
	running        bool
	cancelRun      context.CancelFunc
	cancelled      bool
	lastResult     *domain.PipelineResult
	rotationOffset int

	dedupSet *dedup.Set
}

// New creates a pipeline over an ordered list of collectors.
func New(
	cs []collectors.Collector,
	store *repository.Store,
	engine *sentiment.Engine,
	processor *textproc.Processor,
	limiter *ratelimit.Limiter,
	m *metrics.Metrics,
	log zerolog.Logger,
) *Pipeline {
	return &Pipeline{
		collectors: cs,
		store:      store,
		engine:     engine,
		processor:  processor,
		limiter:    limiter,
		metrics:    m,
		log:        log.With().Str("component", "pipeline").Logger(),
		dedupSet:   dedup.NewSet(),
	}
}

// Run executes one full pipeline run. Collector failures are counted in the
// result; per-item repository failures are logged and skipped without a
// counter. Neither is fatal; only an unexpected internal error yields
// StatusFailed.
func (p *Pipeline) Run(ctx context.Context, cfg Config) domain.PipelineResult {
	cfg.applyDefaults()

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return domain.PipelineResult{
			Status:       domain.StatusRunning,
			ErrorMessage: "pipeline already running",
		}
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.running = true
	p.cancelled = false
	p.cancelRun = cancel
	offset := p.rotationOffset
	p.rotationOffset++
	p.mu.Unlock()

	defer func() {
		cancel()
		p.mu.Lock()
		p.running = false
		p.cancelRun = nil
		p.mu.Unlock()
	}()

	result := domain.PipelineResult{
		RunID:     uuid.NewString(),
		Status:    domain.StatusRunning,
		StartedAt: time.Now().UTC(),
	}
	p.setLastResult(result)

	runLog := p.log.With().Str("run_id", result.RunID).Logger()
	runLog.Info().
		Strs("symbols", cfg.Symbols).
		Bool("parallel", cfg.ParallelCollectors).
		Msg("Pipeline run starting")

	p.executeRun(runCtx, cfg, offset, &result, runLog)

	p.dedupSet.Clear()
	result.EndedAt = time.Now().UTC()
	if p.metrics != nil {
		p.metrics.RunsTotal.WithLabelValues(string(result.Status)).Inc()
		p.metrics.RunDuration.Observe(result.ExecutionTime().Seconds())
	}
	p.setLastResult(result)

	runLog.Info().
		Str("status", string(result.Status)).
		Int("collected", result.TotalItemsCollected).
		Int("stored", result.TotalItemsStored).
		Int("processed", result.TotalItemsProcessed).
		Int("analyzed", result.TotalItemsAnalyzed).
		Int("duplicates", result.DuplicatesSkipped).
		Float64("success_rate", result.SuccessRate()).
		Dur("duration", result.ExecutionTime()).
		Msg("Pipeline run finished")

	return result
}

// executeRun drives the phases, checking for cancellation at each boundary.
func (p *Pipeline) executeRun(ctx context.Context, cfg Config, rotationOffset int, result *domain.PipelineResult, log zerolog.Logger) {
	// Phase 1: resolve the watchlist.
	symbols, err := p.resolveSymbols(cfg.Symbols)
	if err != nil {
		result.Status = domain.StatusFailed
		result.ErrorMessage = err.Error()
		return
	}
	if len(symbols) == 0 {
		log.Warn().Msg("No active stocks in watchlist, cannot run pipeline")
		result.Status = domain.StatusFailed
		result.ErrorMessage = "No active stocks in watchlist"
		return
	}

	// Phase 2: fair ordering so underserved or stale symbols come first
	// even if later symbols time out.
	coverage, err := p.store.Tickers.GetSentimentCoverage(symbols)
	if err != nil {
		log.Warn().Err(err).Msg("Coverage query failed, using input order")
		coverage = map[string]repository.SentimentCoverage{}
	}
	cfg.Symbols = fairOrder(symbols, coverage, rotationOffset, time.Now().UTC())

	// Phase 3: collect.
	results := p.collect(ctx, cfg, log)
	result.Collectors = buildCollectorStats(results)
	for _, cr := range results {
		result.TotalItemsCollected += cr.ItemsCollected
		if p.metrics != nil {
			p.metrics.ItemsCollected.WithLabelValues(string(cr.Source)).Add(float64(cr.ItemsCollected))
			if !cr.Success {
				p.metrics.CollectorFailures.WithLabelValues(string(cr.Source)).Inc()
			}
		}
	}
	if p.checkCancel(ctx, result) {
		return
	}

	// Phase 4: store raw items, deduplicating in-run by content hash.
	items := p.storeRaw(results, result, log)
	if p.checkCancel(ctx, result) {
		return
	}

	// Phase 5: preprocess.
	processed := make([]domain.ProcessedText, len(items))
	for i := range items {
		processed[i] = p.processor.Process(items[i].Text)
		if processed[i].Success && processed[i].Cleaned != "" {
			result.TotalItemsProcessed++
		}
	}
	if p.checkCancel(ctx, result) {
		return
	}

	// Phases 6-8: classify in batches and persist.
	p.classifyAndPersist(ctx, items, processed, cfg.BatchSize, result, log)
	if p.checkCancel(ctx, result) {
		return
	}

	result.Status = domain.StatusCompleted
}

// resolveSymbols falls back to the active watchlist when the config names no
// symbols.
func (p *Pipeline) resolveSymbols(symbols []string) ([]string, error) {
	if len(symbols) > 0 {
		return symbols, nil
	}
	tickers, err := p.store.Tickers.GetAllActive()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve watchlist: %w", err)
	}
	out := make([]string, len(tickers))
	for i, t := range tickers {
		out[i] = t.Symbol
	}
	return out, nil
}

// collect runs every enabled collector, in parallel or sequentially, each
// under its own deadline. A timeout or panic-free failure becomes a failed
// CollectionResult; it never aborts the run.
func (p *Pipeline) collect(ctx context.Context, cfg Config, log zerolog.Logger) []domain.CollectionResult {
	collectionCfg := domain.CollectionConfig{
		Symbols:           cfg.Symbols,
		DateRange:         cfg.DateRange,
		MaxItemsPerSymbol: cfg.MaxItemsPerSymbol,
		IncludeComments:   cfg.IncludeComments,
		MinScore:          cfg.MinScore,
	}

	enabled := make([]collectors.Collector, 0, len(p.collectors))
	for _, c := range p.collectors {
		if cfg.EnabledSources == nil || cfg.EnabledSources[c.Source()] {
			enabled = append(enabled, c)
		}
	}

	results := make([]domain.CollectionResult, len(enabled))
	runOne := func(i int, c collectors.Collector) {
		collectorCtx, cancel := context.WithTimeout(ctx, cfg.CollectorTimeout)
		defer cancel()

		start := time.Now()
		done := make(chan domain.CollectionResult, 1)
		go func() {
			done <- c.Collect(collectorCtx, collectionCfg)
		}()

		select {
		case r := <-done:
			results[i] = r
		case <-collectorCtx.Done():
			// The collector keeps whatever it gathered out of the result;
			// the run proceeds with the other sources.
			results[i] = domain.CollectionResult{
				Source:        c.Source(),
				Success:       false,
				ErrorMessage:  fmt.Sprintf("collector %s timed out after %s", c.Source(), cfg.CollectorTimeout),
				ExecutionTime: time.Since(start),
			}
			log.Warn().Str("source", string(c.Source())).Msg("Collector timed out")
		}
	}

	if cfg.ParallelCollectors {
		g := new(errgroup.Group)
		for i, c := range enabled {
			i, c := i, c
			g.Go(func() error {
				runOne(i, c)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, c := range enabled {
			runOne(i, c)
		}
	}

	return results
}

// storeRaw hashes, dedups, and persists collected items. Returns the items
// that survived for analysis, in collection order per collector.
func (p *Pipeline) storeRaw(results []domain.CollectionResult, result *domain.PipelineResult, log zerolog.Logger) []domain.RawItem {
	var survivors []domain.RawItem

	for _, cr := range results {
		for _, item := range cr.Items {
			if item.Symbol == "" {
				result.MissingSymbol++
				continue
			}

			item.ContentHash = domain.ContentHash(item.Title, "", item.Text)
			if duplicate, _ := p.dedupSet.Check(item.ContentHash); duplicate {
				result.DuplicatesSkipped++
				if p.metrics != nil {
					p.metrics.DuplicatesSkipped.Inc()
				}
				continue
			}

			outcome, err := p.store.UpsertRawItem(item)
			if err != nil {
				// Per-item repository failure: logged and skipped, run
				// continues. The result has no counter for these.
				log.Warn().Err(err).Str("symbol", item.Symbol).Msg("Raw item store failed")
				continue
			}
			switch outcome {
			case repository.OutcomeStored:
				result.TotalItemsStored++
				if p.metrics != nil {
					p.metrics.ItemsStored.Inc()
				}
			case repository.OutcomeDuplicate:
				result.DuplicatesSkipped++
			case repository.OutcomeInvalid:
				continue
			}

			// Duplicate-in-database items still flow to analysis only when
			// their hash was new this run; the sentiment unique key blocks
			// re-insertion anyway.
			survivors = append(survivors, item)
		}
	}

	return survivors
}

// classifyAndPersist submits processed texts to the engine in batches,
// preserving the text-to-item mapping by index, then stores results.
func (p *Pipeline) classifyAndPersist(ctx context.Context, items []domain.RawItem, processed []domain.ProcessedText, batchSize int, result *domain.PipelineResult, log zerolog.Logger) {
	type indexed struct {
		item  domain.RawItem
		input sentiment.TextInput
	}

	var queue []indexed
	for i := range items {
		if !processed[i].Success || processed[i].Cleaned == "" {
			continue
		}
		queue = append(queue, indexed{
			item: items[i],
			input: sentiment.TextInput{
				Text:        processed[i].Cleaned,
				Source:      items[i].Source,
				Symbol:      items[i].Symbol,
				ContentHash: items[i].ContentHash,
			},
		})
	}

	for start := 0; start < len(queue); start += batchSize {
		if ctx.Err() != nil {
			return
		}
		end := min(start+batchSize, len(queue))
		batch := queue[start:end]

		inputs := make([]sentiment.TextInput, len(batch))
		for i, q := range batch {
			inputs[i] = q.input
		}

		scores, err := p.engine.Analyze(ctx, inputs)
		if err != nil {
			log.Error().Err(err).Int("batch_size", len(batch)).Msg("Sentiment batch failed")
			continue
		}

		for i, score := range scores {
			if score.Confidence == 0 && score.Label == domain.LabelNeutral && score.Method == "model_error" {
				continue
			}
			result.TotalItemsAnalyzed++
			if p.metrics != nil {
				p.metrics.ItemsAnalyzed.Inc()
			}

			if _, err := p.store.InsertSentiment(batch[i].item, score); err != nil {
				log.Warn().Err(err).
					Str("symbol", batch[i].item.Symbol).
					Msg("Sentiment store failed")
			}
		}
	}
}

// checkCancel transitions to cancelled at a phase boundary. Partial counters
// are preserved; already-persisted rows stay.
func (p *Pipeline) checkCancel(ctx context.Context, result *domain.PipelineResult) bool {
	p.mu.Lock()
	cancelled := p.cancelled
	p.mu.Unlock()

	if cancelled || ctx.Err() != nil {
		result.Status = domain.StatusCancelled
		return true
	}
	return false
}

// Cancel requests cooperative cancellation of the current run. The current
// phase's in-flight items finish; no new phase starts.
func (p *Pipeline) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		p.cancelled = true
		if p.cancelRun != nil {
			p.cancelRun()
		}
		p.log.Info().Msg("Pipeline cancellation requested")
	}
}

// Status is the inbound status view.
type Status struct {
	Status              string                                       `json:"status"`
	CurrentResult       *domain.PipelineResult                       `json:"current_result,omitempty"`
	AvailableCollectors []domain.Source                              `json:"available_collectors"`
	RateLimiterStatus   map[domain.Source]ratelimit.SourceStatus     `json:"rate_limiter_status"`
}

// Status reports the pipeline's current state.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	running := p.running
	last := p.lastResult
	p.mu.Unlock()

	state := "idle"
	if running {
		state = "running"
	}

	sources := make([]domain.Source, len(p.collectors))
	for i, c := range p.collectors {
		sources[i] = c.Source()
	}

	s := Status{
		Status:              state,
		CurrentResult:       last,
		AvailableCollectors: sources,
	}
	if p.limiter != nil {
		s.RateLimiterStatus = p.limiter.Status()
	}
	return s
}

// HealthCheck probes every collector and the engine.
func (p *Pipeline) HealthCheck(ctx context.Context) map[string]any {
	collectorHealth := make(map[string]collectors.HealthStatus, len(p.collectors))
	for _, c := range p.collectors {
		collectorHealth[string(c.Source())] = collectors.CheckHealth(ctx, c)
	}

	return map[string]any{
		"pipeline":         "ok",
		"collectors":       collectorHealth,
		"sentiment_engine": p.engine.Health(),
	}
}

// DedupStats exposes the in-run dedup counters for the admin API.
func (p *Pipeline) DedupStats() dedup.Stats {
	return p.dedupSet.Stats()
}

func (p *Pipeline) setLastResult(r domain.PipelineResult) {
	p.mu.Lock()
	p.lastResult = &r
	p.mu.Unlock()
}

func buildCollectorStats(results []domain.CollectionResult) []domain.CollectorStats {
	stats := make([]domain.CollectorStats, len(results))
	for i, r := range results {
		stats[i] = domain.CollectorStats{
			Source:         r.Source,
			Success:        r.Success,
			ItemsCollected: r.ItemsCollected,
			ExecutionTime:  r.ExecutionTime,
			ErrorMessage:   r.ErrorMessage,
		}
	}
	return stats
}
