package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abood991b/insightbull/internal/domain"
	"github.com/abood991b/insightbull/internal/pipeline"
)

// fakeRunner records the configs it was invoked with.
type fakeRunner struct {
	mu      sync.Mutex
	configs []pipeline.Config
	status  domain.RunStatus
	block   chan struct{}
}

func (f *fakeRunner) Run(_ context.Context, cfg pipeline.Config) domain.PipelineResult {
	f.mu.Lock()
	f.configs = append(f.configs, cfg)
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	status := f.status
	if status == "" {
		status = domain.StatusCompleted
	}
	return domain.PipelineResult{
		Status:              status,
		TotalItemsCollected: 5,
		TotalItemsAnalyzed:  4,
	}
}

func (f *fakeRunner) Cancel() {}

func (f *fakeRunner) runs() []pipeline.Config {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pipeline.Config(nil), f.configs...)
}

func newTestScheduler(t *testing.T, runner *fakeRunner) *Scheduler {
	t.Helper()
	dir := t.TempDir()
	return New(Options{
		Runner:  runner,
		Quota:   NewQuotaTracker(nil, zerolog.Nop()),
		State:   NewStateFile(filepath.Join(dir, "scheduler_state.json"), zerolog.Nop()),
		History: NewHistoryFile(filepath.Join(dir, "scheduler_history.json"), 7, zerolog.Nop()),
	}, zerolog.Nop())
}

func TestAddJobRejectsBadCron(t *testing.T) {
	s := newTestScheduler(t, &fakeRunner{})
	_, err := s.AddJob("bad", "not a cron", JobParams{})
	assert.Error(t, err)
}

func TestFireJobRunTypeSourceSelection(t *testing.T) {
	runner := &fakeRunner{}
	s := newTestScheduler(t, runner)

	job, err := s.AddJob("Active Trading Updates", "0,45 14-20 * * 0-4", JobParams{
		Symbols:      []string{"AAPL"},
		LookbackDays: 1,
		RunType:      domain.RunFrequent,
	})
	require.NoError(t, err)

	s.fireJob(job.ID, false)

	runs := runner.runs()
	require.Len(t, runs, 1)
	assert.False(t, runs[0].EnabledSources[domain.SourceNewsAPI])
	assert.False(t, runs[0].EnabledSources[domain.SourceMarketAux])
	assert.True(t, runs[0].EnabledSources[domain.SourceHackerNews])
	assert.True(t, runs[0].EnabledSources[domain.SourceFinnhub])
}

func TestFireJobQuotaGateDisablesSource(t *testing.T) {
	runner := &fakeRunner{}
	s := newTestScheduler(t, runner)

	// Exhaust the NewsAPI daily budget.
	s.opts.Quota.RecordUsage(domain.SourceNewsAPI, 100)

	job, err := s.AddJob("Pre-Market Preparation", "0 9 * * 0-4", JobParams{
		Symbols: []string{"AAPL", "MSFT"},
		RunType: domain.RunStrategic,
	})
	require.NoError(t, err)

	s.fireJob(job.ID, false)

	runs := runner.runs()
	require.Len(t, runs, 1)
	assert.False(t, runs[0].EnabledSources[domain.SourceNewsAPI], "newsapi must be quota-disabled")
	assert.True(t, runs[0].EnabledSources[domain.SourceGDELT])

	var denied bool
	for _, e := range s.GetRecentJobEvents(time.Time{}) {
		if e.Type == "quota_denied" && e.Details["source"] == string(domain.SourceNewsAPI) {
			denied = true
		}
	}
	assert.True(t, denied)
}

func TestFireJobMinIntervalGuard(t *testing.T) {
	runner := &fakeRunner{}
	s := newTestScheduler(t, runner)

	job, err := s.AddJob("After-Hours Analysis", "0 23 * * 0-4", JobParams{
		Symbols: []string{"AAPL"},
		RunType: domain.RunStrategic,
	})
	require.NoError(t, err)

	// last_run just under the 30-minute guard: skipped.
	job.LastRun = time.Now().UTC().Add(-(minIntervalDefault - time.Second))
	s.fireJob(job.ID, false)
	assert.Empty(t, runner.runs())

	// Just past the guard: runs.
	job.LastRun = time.Now().UTC().Add(-(minIntervalDefault + time.Second))
	s.fireJob(job.ID, false)
	assert.Len(t, runner.runs(), 1)
}

func TestFireJobMaxInstances(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	s := newTestScheduler(t, runner)

	job, err := s.AddJob("Weekend Deep Analysis", "0 10 * * 6", JobParams{
		Symbols: []string{"AAPL"},
		RunType: domain.RunDeep,
	})
	require.NoError(t, err)

	go s.fireJob(job.ID, false)

	// Wait for the first invocation to be in flight.
	require.Eventually(t, func() bool { return len(runner.runs()) == 1 }, time.Second, 5*time.Millisecond)

	// Second fire while running: dropped.
	s.fireJob(job.ID, false)
	assert.Len(t, runner.runs(), 1)

	close(runner.block)
}

func TestRecordCompletionPersistsState(t *testing.T) {
	runner := &fakeRunner{}
	s := newTestScheduler(t, runner)

	job, err := s.AddJob("Overnight Summary", "0 1 * * 1-5", JobParams{
		Symbols: []string{"AAPL"},
		RunType: domain.RunStrategic,
	})
	require.NoError(t, err)

	s.fireJob(job.ID, false)

	state := s.opts.State.Load()
	persisted, ok := state["Overnight Summary"]
	require.True(t, ok)
	assert.Equal(t, 1, persisted.RunCount)
	assert.Equal(t, 1, persisted.TodayRunCount)
	assert.False(t, persisted.LastRun.IsZero())

	history := s.GetRunHistory(7)
	today := time.Now().UTC().Format("2006-01-02")
	require.Contains(t, history, today)
	require.Contains(t, history[today], "Overnight Summary")
	entry := history[today]["Overnight Summary"][0]
	assert.Equal(t, string(domain.StatusCompleted), entry.Status)
	assert.Equal(t, 5, entry.ItemsCollected)
}

func TestStateRestoredOnStart(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "scheduler_state.json")

	stateFile := NewStateFile(statePath, zerolog.Nop())
	lastRun := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, stateFile.Save(map[string]JobState{
		"Pre-Market Preparation": {LastRun: lastRun, RunCount: 7, ErrorCount: 1},
	}))

	s := New(Options{Runner: &fakeRunner{}, State: stateFile}, zerolog.Nop())
	// Pin the clock between fires so startup catch-up cannot trigger and
	// overwrite the restored counters.
	s.now = func() time.Time { return time.Date(2025, 6, 5, 20, 0, 0, 0, time.UTC) }
	_, err := s.AddJob("Pre-Market Preparation", "0 9 * * 0-4", JobParams{RunType: domain.RunStrategic})
	require.NoError(t, err)

	s.Start()
	defer s.Stop()

	jobs := s.ListJobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, lastRun, jobs[0].LastRun)
	assert.Equal(t, 7, jobs[0].RunCount)
	assert.Equal(t, 1, jobs[0].ErrorCount)
	assert.False(t, jobs[0].NextRun.IsZero())
}

func TestShouldCatchUpBoundaries(t *testing.T) {
	now := time.Date(2025, 6, 2, 14, 50, 0, 0, time.UTC) // Monday

	// Missed 44 minutes ago, never run since: fires.
	assert.True(t, shouldCatchUp(now.Add(-44*time.Minute), now.Add(-65*time.Minute), now, minIntervalSubHourly))

	// Missed 46 minutes ago: outside the window.
	assert.False(t, shouldCatchUp(now.Add(-46*time.Minute), now.Add(-2*time.Hour), now, minIntervalSubHourly))

	// Ran recently: min-interval guard blocks.
	assert.False(t, shouldCatchUp(now.Add(-40*time.Minute), now.Add(-10*time.Minute), now, minIntervalSubHourly))

	// Already ran after the missed slot.
	assert.False(t, shouldCatchUp(now.Add(-40*time.Minute), now.Add(-30*time.Minute), now, minIntervalSubHourly))

	// Never ran at all, slot missed recently: fires.
	assert.True(t, shouldCatchUp(now.Add(-20*time.Minute), time.Time{}, now, minIntervalSubHourly))
}

func TestStartupCatchUpFiresOnce(t *testing.T) {
	runner := &fakeRunner{}
	dir := t.TempDir()
	statePath := filepath.Join(dir, "scheduler_state.json")

	// Persisted last run at 13:45-equivalent: over an hour ago, so the
	// guard allows a catch-up for the slot missed minutes ago.
	stateFile := NewStateFile(statePath, zerolog.Nop())
	require.NoError(t, stateFile.Save(map[string]JobState{
		"Active Trading Updates": {LastRun: time.Now().UTC().Add(-65 * time.Minute), RunCount: 3},
	}))

	s := New(Options{Runner: runner, State: stateFile}, zerolog.Nop())
	// Every-15-minutes schedule guarantees a recently-missed slot whenever
	// the test runs.
	_, err := s.AddJob("Active Trading Updates", "*/15 * * * *", JobParams{
		Symbols: []string{"AAPL"},
		RunType: domain.RunFrequent,
	})
	require.NoError(t, err)

	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool { return len(runner.runs()) == 1 }, 2*time.Second, 10*time.Millisecond)
	// Exactly one catch-up, no back-to-back replays.
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, runner.runs(), 1)
}

func TestEnableDisableJob(t *testing.T) {
	runner := &fakeRunner{}
	s := newTestScheduler(t, runner)

	job, err := s.AddJob("Pre-Market Preparation", "0 9 * * 0-4", JobParams{RunType: domain.RunStrategic})
	require.NoError(t, err)

	require.NoError(t, s.DisableJob(job.ID))
	s.fireJob(job.ID, false)
	assert.Empty(t, runner.runs())

	require.NoError(t, s.EnableJob(job.ID))
	s.fireJob(job.ID, false)
	assert.Len(t, runner.runs(), 1)

	assert.Error(t, s.DisableJob("missing"))
}

func TestRegisterDefaultJobs(t *testing.T) {
	s := New(Options{
		Runner:    &fakeRunner{},
		Watchlist: func() ([]string, error) { return []string{"AAPL", "MSFT"}, nil },
		Quota:     NewQuotaTracker(nil, zerolog.Nop()),
	}, zerolog.Nop())

	require.NoError(t, s.RegisterDefaultJobs())

	jobs := s.ListJobs()
	require.Len(t, jobs, 5)

	names := make(map[string]ScheduledJob, len(jobs))
	for _, j := range jobs {
		names[j.Name] = j
		assert.Equal(t, []string{"AAPL", "MSFT"}, j.Params.Symbols)
	}
	assert.Equal(t, domain.RunFrequent, names["Active Trading Updates"].Params.RunType)
	assert.Equal(t, domain.RunDeep, names["Weekend Deep Analysis"].Params.RunType)
	assert.Equal(t, 7, names["Weekend Deep Analysis"].Params.LookbackDays)
}

func TestEventRingBounded(t *testing.T) {
	ring := NewEventRing()
	for i := 0; i < maxJobEvents+20; i++ {
		ring.Add("completed", "job", nil)
	}
	assert.Len(t, ring.Since(time.Time{}), maxJobEvents)
}

func TestEventRingSince(t *testing.T) {
	ring := NewEventRing()
	ring.Add("started", "a", nil)
	cutoff := time.Now().UTC()
	time.Sleep(5 * time.Millisecond)
	ring.Add("completed", "a", nil)

	recent := ring.Since(cutoff)
	require.Len(t, recent, 1)
	assert.Equal(t, "completed", recent[0].Type)
}

func TestQuotaTracker(t *testing.T) {
	q := NewQuotaTracker(map[domain.Source]QuotaPolicy{
		domain.SourceNewsAPI: {DailyLimit: 10, PerMinuteLimit: 100},
	}, zerolog.Nop())

	allowed, _ := q.CanMakeRequest(domain.SourceNewsAPI, 8)
	assert.True(t, allowed)
	q.RecordUsage(domain.SourceNewsAPI, 8)

	allowed, reason := q.CanMakeRequest(domain.SourceNewsAPI, 5)
	assert.False(t, allowed)
	assert.Contains(t, reason, "daily quota")

	// Unlimited sources always pass.
	allowed, _ = q.CanMakeRequest(domain.SourceHackerNews, 1000)
	assert.True(t, allowed)
	assert.False(t, q.IsLimited(domain.SourceHackerNews))

	q.ResetDaily()
	allowed, _ = q.CanMakeRequest(domain.SourceNewsAPI, 5)
	assert.True(t, allowed)
}

func TestHistoryFileRollingWindow(t *testing.T) {
	h := NewHistoryFile(filepath.Join(t.TempDir(), "history.json"), 7, zerolog.Nop())

	old := HistoryEntry{Timestamp: time.Now().UTC().AddDate(0, 0, -10), Status: "completed"}
	recent := HistoryEntry{Timestamp: time.Now().UTC(), Status: "completed"}

	require.NoError(t, h.Record("job", old))
	require.NoError(t, h.Record("job", recent))

	history := h.Get(7)
	assert.Len(t, history, 1)
	today := time.Now().UTC().Format("2006-01-02")
	assert.Contains(t, history, today)
}
