// Package scheduler drives time-triggered pipeline runs: cron evaluation in
// UTC, smart run-type source selection, quota gating, startup catch-up of
// missed fires, and persisted last-run state.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/abood991b/insightbull/internal/domain"
	"github.com/abood991b/insightbull/internal/metrics"
	"github.com/abood991b/insightbull/internal/pipeline"
)

const (
	// Catch-up window: a fire missed longer ago than this has no
	// informational value anymore.
	catchUpWindow = 45 * time.Minute

	// Minimum re-run intervals. Sub-hourly jobs tolerate a tighter guard.
	minIntervalSubHourly = 25 * time.Minute
	minIntervalDefault   = 30 * time.Minute
)

// PipelineRunner is the slice of the pipeline the scheduler drives.
type PipelineRunner interface {
	Run(ctx context.Context, cfg pipeline.Config) domain.PipelineResult
	Cancel()
}

// WatchlistProvider resolves the current symbol set for default jobs.
type WatchlistProvider func() ([]string, error)

// JobParams is the parameter bundle a job passes to the pipeline.
type JobParams struct {
	Symbols      []string       `json:"symbols"`
	LookbackDays int            `json:"lookback_days"`
	RunType      domain.RunType `json:"run_type"`
}

// ScheduledJob is a durable cron entry with its run-history counters.
type ScheduledJob struct {
	ID       string    `json:"job_id"`
	Name     string    `json:"name"`
	CronExpr string    `json:"cron_expression"`
	Params   JobParams `json:"parameters"`
	Enabled  bool      `json:"enabled"`

	LastRun             time.Time `json:"last_run"`
	NextRun             time.Time `json:"next_run"`
	RunCount            int       `json:"run_count"`
	ErrorCount          int       `json:"error_count"`
	TodayRunCount       int       `json:"today_run_count"`
	LastRunDate         string    `json:"last_run_date"`
	LastDurationSeconds float64   `json:"last_duration_seconds"`

	running  bool
	schedule cron.Schedule
	entryID  cron.EntryID
}

// Options wires the scheduler's collaborators.
type Options struct {
	Runner    PipelineRunner
	Watchlist WatchlistProvider
	Quota     *QuotaTracker
	State     *StateFile
	History   *HistoryFile
	Metrics   *metrics.Metrics

	// Pipeline knobs copied into every run's config.
	MaxItemsPerSymbol  int
	ParallelCollectors bool
	CollectorTimeout   time.Duration
	BatchSize          int
}

// Scheduler owns the job registry and the cron evaluator.
type Scheduler struct {
	opts Options
	cron *cron.Cron
	log  zerolog.Logger

	mu      sync.Mutex
	jobs    map[string]*ScheduledJob
	started bool

	events *EventRing
	now    func() time.Time
	parser cron.Parser
}

// New creates a scheduler. Cron expressions are interpreted in UTC.
func New(opts Options, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		opts:   opts,
		cron:   cron.New(cron.WithLocation(time.UTC)),
		log:    log.With().Str("component", "scheduler").Logger(),
		jobs:   make(map[string]*ScheduledJob),
		events: NewEventRing(),
		now:    time.Now,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// AddJob registers a pipeline job under a cron expression.
func (s *Scheduler) AddJob(name, cronExpr string, params JobParams) (*ScheduledJob, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}

	job := &ScheduledJob{
		ID:       "smart_pipeline_" + uuid.NewString()[:8],
		Name:     name,
		CronExpr: cronExpr,
		Params:   params,
		Enabled:  true,
		schedule: schedule,
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	started := s.started
	s.mu.Unlock()

	if started {
		s.registerEntry(job)
	}

	s.log.Info().
		Str("job", name).
		Str("cron", cronExpr).
		Str("run_type", string(params.RunType)).
		Msg("Scheduled job registered")
	return job, nil
}

// RegisterDefaultJobs sets up the six standard jobs. FREQUENT runs stick to
// sources with no daily quota; STRATEGIC and DEEP runs enable everything.
func (s *Scheduler) RegisterDefaultJobs() error {
	symbols := s.resolveWatchlist()

	defaults := []struct {
		name     string
		cron     string
		runType  domain.RunType
		lookback int
	}{
		{"Pre-Market Preparation", "0 9 * * 0-4", domain.RunStrategic, 1},
		{"Active Trading Updates", "0,45 14-20 * * 0-4", domain.RunFrequent, 1},
		{"After-Hours Analysis", "0 23 * * 0-4", domain.RunStrategic, 1},
		{"Overnight Summary", "0 1 * * 1-5", domain.RunStrategic, 1},
		{"Weekend Deep Analysis", "0 10 * * 6", domain.RunDeep, 7},
	}

	for _, d := range defaults {
		if _, err := s.AddJob(d.name, d.cron, JobParams{
			Symbols:      symbols,
			LookbackDays: d.lookback,
			RunType:      d.runType,
		}); err != nil {
			return err
		}
	}

	// Daily quota reset at midnight UTC.
	if s.opts.Quota != nil {
		if _, err := s.cron.AddFunc("0 0 * * *", s.opts.Quota.ResetDaily); err != nil {
			return fmt.Errorf("failed to schedule quota reset: %w", err)
		}
	}
	return nil
}

// Start loads persisted state, begins trigger evaluation, and fires at most
// one catch-up per job whose last scheduled run was missed recently.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		s.log.Warn().Msg("Scheduler already started, ignoring")
		return
	}
	s.started = true

	state := map[string]JobState{}
	if s.opts.State != nil {
		state = s.opts.State.Load()
	}
	for _, job := range s.jobs {
		if persisted, ok := state[job.Name]; ok {
			job.LastRun = persisted.LastRun
			job.RunCount = persisted.RunCount
			job.TodayRunCount = persisted.TodayRunCount
			job.LastRunDate = persisted.LastRunDate
			job.ErrorCount = persisted.ErrorCount
			job.LastDurationSeconds = persisted.LastDurationSeconds
		}
	}
	jobs := make([]*ScheduledJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	s.mu.Unlock()

	for _, job := range jobs {
		if job.Enabled {
			s.registerEntry(job)
		}
	}
	s.cron.Start()
	s.log.Info().Int("jobs", len(jobs)).Msg("Scheduler started")

	s.runCatchUp(jobs)
}

// Stop halts further triggers; the in-flight job finishes.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

func (s *Scheduler) registerEntry(job *ScheduledJob) {
	id := job.ID
	job.entryID = s.cron.Schedule(job.schedule, cron.FuncJob(func() {
		s.fireJob(id, false)
	}))
}

// runCatchUp fires at most one catch-up per job. Never more than one
// regardless of downtime: stale catch-ups have no informational value.
func (s *Scheduler) runCatchUp(jobs []*ScheduledJob) {
	now := s.now().UTC()
	caught := 0

	for _, job := range jobs {
		s.mu.Lock()
		enabled := job.Enabled
		lastRun := job.LastRun
		s.mu.Unlock()
		if !enabled {
			continue
		}

		prev := previousScheduled(job.schedule, now)
		if !shouldCatchUp(prev, lastRun, now, minIntervalFor(job)) {
			continue
		}

		caught++
		s.log.Info().
			Str("job", job.Name).
			Time("was_scheduled", prev).
			Msg("Running catch-up for missed job")
		go s.fireJob(job.ID, true)
	}

	if caught == 0 {
		s.log.Info().Msg("No missed jobs to catch up")
	}
}

// previousScheduled estimates the most recent fire time as next minus the
// schedule's interval estimate.
func previousScheduled(schedule cron.Schedule, now time.Time) time.Time {
	next := schedule.Next(now)
	after := schedule.Next(next)
	interval := after.Sub(next)
	if interval <= 0 {
		return time.Time{}
	}
	return next.Add(-interval)
}

// shouldCatchUp applies the catch-up window and the minimum-interval guard.
// Re-firing a recently-run job is a no-op by construction, which is what
// makes catch-up safe.
func shouldCatchUp(prevScheduled, lastRun, now time.Time, minInterval time.Duration) bool {
	if prevScheduled.IsZero() || prevScheduled.After(now) {
		return false
	}
	if now.Sub(prevScheduled) > catchUpWindow {
		return false
	}
	if !lastRun.IsZero() && now.Sub(lastRun) < minInterval {
		return false
	}
	// Already ran at or after the missed slot.
	if !lastRun.IsZero() && !lastRun.Before(prevScheduled) {
		return false
	}
	return true
}

// minIntervalFor picks the guard interval: tighter for sub-hourly jobs.
func minIntervalFor(job *ScheduledJob) time.Duration {
	next := job.schedule.Next(time.Now().UTC())
	after := job.schedule.Next(next)
	if after.Sub(next) < time.Hour {
		return minIntervalSubHourly
	}
	return minIntervalDefault
}

// fireJob executes one job invocation with max_instances=1 semantics.
func (s *Scheduler) fireJob(jobID string, catchUp bool) {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return
	}
	if !job.Enabled {
		s.mu.Unlock()
		return
	}
	if job.running {
		// The previous invocation of this job is still going; drop the fire.
		s.mu.Unlock()
		s.log.Warn().Str("job", job.Name).Msg("Previous invocation still running, dropping fire")
		s.events.Add("skipped", job.Name, map[string]any{"reason": "already_running"})
		return
	}

	now := s.now().UTC()
	minInterval := minIntervalFor(job)
	if !job.LastRun.IsZero() && now.Sub(job.LastRun) < minInterval {
		s.mu.Unlock()
		s.log.Debug().
			Str("job", job.Name).
			Dur("since_last", now.Sub(job.LastRun)).
			Msg("Within minimum interval, skipping")
		s.events.Add("skipped", job.Name, map[string]any{"reason": "min_interval"})
		return
	}

	job.running = true
	name := job.Name
	params := job.Params
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		job.running = false
		s.mu.Unlock()
	}()

	s.execute(job, name, params, catchUp)
}

// execute runs the pipeline for a job and records the outcome. Nothing a
// run does propagates out of here except through the persisted result.
func (s *Scheduler) execute(job *ScheduledJob, name string, params JobParams, catchUp bool) {
	symbols := params.Symbols
	if len(symbols) == 0 {
		symbols = s.resolveWatchlist()
	}

	sources := params.RunType.SourcesFor()
	s.applyQuotaGate(sources, name, len(symbols))

	s.events.Add("started", name, map[string]any{
		"run_type": string(params.RunType),
		"catch_up": catchUp,
	})
	s.log.Info().
		Str("job", name).
		Str("run_type", string(params.RunType)).
		Bool("catch_up", catchUp).
		Msg("Job starting")

	lookback := params.LookbackDays
	if lookback <= 0 {
		lookback = params.RunType.LookbackDays()
	}

	start := s.now().UTC()
	result := s.opts.Runner.Run(context.Background(), pipeline.Config{
		Symbols:            symbols,
		DateRange:          domain.LastDays(lookback),
		EnabledSources:     sources,
		MaxItemsPerSymbol:  s.opts.MaxItemsPerSymbol,
		ParallelCollectors: s.opts.ParallelCollectors,
		CollectorTimeout:   s.opts.CollectorTimeout,
		BatchSize:          s.opts.BatchSize,
	})
	duration := s.now().UTC().Sub(start)

	// Consume quota only after the run actually used the sources.
	if s.opts.Quota != nil && result.Status != domain.StatusFailed {
		for source, enabled := range sources {
			if enabled && s.opts.Quota.IsLimited(source) {
				s.opts.Quota.RecordUsage(source, len(symbols))
			}
		}
	}

	s.recordCompletion(job, name, result, duration)
}

// applyQuotaGate disables quota-limited sources that cannot afford this run.
func (s *Scheduler) applyQuotaGate(sources map[domain.Source]bool, jobName string, numSymbols int) {
	if s.opts.Quota == nil {
		return
	}
	for source, enabled := range sources {
		if !enabled || !s.opts.Quota.IsLimited(source) {
			continue
		}
		if allowed, reason := s.opts.Quota.CanMakeRequest(source, numSymbols); !allowed {
			sources[source] = false
			s.log.Warn().
				Str("job", jobName).
				Str("source", string(source)).
				Str("reason", reason).
				Msgf("Disabled %s for this run due to quota", source)
			s.events.Add("quota_denied", jobName, map[string]any{
				"source": string(source),
				"reason": reason,
			})
			if s.opts.Metrics != nil {
				s.opts.Metrics.QuotaDenials.WithLabelValues(string(source)).Inc()
			}
		}
	}
}

// recordCompletion updates counters, persists state, and records history.
func (s *Scheduler) recordCompletion(job *ScheduledJob, name string, result domain.PipelineResult, duration time.Duration) {
	now := s.now().UTC()
	today := now.Format("2006-01-02")

	s.mu.Lock()
	job.LastRun = now
	job.RunCount++
	if job.LastRunDate != today {
		job.TodayRunCount = 0
	}
	job.TodayRunCount++
	job.LastRunDate = today
	job.LastDurationSeconds = duration.Seconds()
	if result.Status == domain.StatusFailed {
		job.ErrorCount++
	}
	state := s.snapshotStateLocked()
	s.mu.Unlock()

	if s.opts.State != nil {
		if err := s.opts.State.Save(state); err != nil {
			s.log.Error().Err(err).Msg("Failed to persist scheduler state")
		}
	}
	if s.opts.History != nil {
		entry := HistoryEntry{
			Timestamp:      now,
			Status:         string(result.Status),
			DurationSecs:   duration.Seconds(),
			ItemsCollected: result.TotalItemsCollected,
			ItemsAnalyzed:  result.TotalItemsAnalyzed,
			Error:          result.ErrorMessage,
		}
		if err := s.opts.History.Record(name, entry); err != nil {
			s.log.Error().Err(err).Msg("Failed to record run history")
		}
	}

	outcome := "completed"
	if result.Status != domain.StatusCompleted {
		outcome = string(result.Status)
	}
	if s.opts.Metrics != nil {
		s.opts.Metrics.JobRunsTotal.WithLabelValues(name, outcome).Inc()
	}

	eventType := "completed"
	if result.Status == domain.StatusFailed {
		eventType = "failed"
	}
	s.events.Add(eventType, name, map[string]any{
		"status":          string(result.Status),
		"items_collected": result.TotalItemsCollected,
		"items_analyzed":  result.TotalItemsAnalyzed,
		"duration_secs":   duration.Seconds(),
	})

	s.log.Info().
		Str("job", name).
		Str("status", string(result.Status)).
		Dur("duration", duration).
		Msg("Job finished")
}

func (s *Scheduler) snapshotStateLocked() map[string]JobState {
	state := make(map[string]JobState, len(s.jobs))
	for _, job := range s.jobs {
		state[job.Name] = JobState{
			LastRun:             job.LastRun,
			RunCount:            job.RunCount,
			TodayRunCount:       job.TodayRunCount,
			LastRunDate:         job.LastRunDate,
			ErrorCount:          job.ErrorCount,
			LastDurationSeconds: job.LastDurationSeconds,
		}
	}
	return state
}

func (s *Scheduler) resolveWatchlist() []string {
	if s.opts.Watchlist == nil {
		return nil
	}
	symbols, err := s.opts.Watchlist()
	if err != nil {
		s.log.Warn().Err(err).Msg("Watchlist resolution failed")
		return nil
	}
	return symbols
}

// ListJobs returns every job with its next fire time resolved, sorted by
// name for stable output.
func (s *Scheduler) ListJobs() []ScheduledJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	out := make([]ScheduledJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		j := *job
		if job.Enabled {
			j.NextRun = job.schedule.Next(now)
		}
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// EnableJob re-enables a disabled job.
func (s *Scheduler) EnableJob(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s not found", jobID)
	}
	if job.Enabled {
		return nil
	}
	job.Enabled = true
	if s.started {
		s.registerEntry(job)
	}
	return nil
}

// DisableJob stops future fires of a job.
func (s *Scheduler) DisableJob(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s not found", jobID)
	}
	if !job.Enabled {
		return nil
	}
	job.Enabled = false
	s.cron.Remove(job.entryID)
	return nil
}

// CancelJob cancels the running invocation of a job, if any.
func (s *Scheduler) CancelJob(jobID string) error {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	running := ok && job.running
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("job %s not found", jobID)
	}
	if !running {
		return fmt.Errorf("job %s is not running", jobID)
	}
	s.opts.Runner.Cancel()
	return nil
}

// RefreshScheduledJobs re-resolves the watchlist into every job's symbol
// set, picking up watchlist changes without re-registering jobs.
func (s *Scheduler) RefreshScheduledJobs() {
	symbols := s.resolveWatchlist()
	if symbols == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		job.Params.Symbols = symbols
	}
	s.log.Info().Int("symbols", len(symbols)).Msg("Refreshed job watchlists")
}

// GetRunHistory returns the rolling history for the last n days.
func (s *Scheduler) GetRunHistory(days int) map[string]map[string][]HistoryEntry {
	if s.opts.History == nil {
		return map[string]map[string][]HistoryEntry{}
	}
	return s.opts.History.Get(days)
}

// GetRecentJobEvents returns events newer than since (zero for all).
func (s *Scheduler) GetRecentJobEvents(since time.Time) []JobEvent {
	return s.events.Since(since)
}

// QuotaStatus exposes quota usage for the admin API.
func (s *Scheduler) QuotaStatus() map[domain.Source]map[string]any {
	if s.opts.Quota == nil {
		return nil
	}
	return s.opts.Quota.Status()
}
