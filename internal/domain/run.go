package domain

import "time"

// RunStatus is the lifecycle state of a pipeline run or scheduled job firing.
type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusCancelled RunStatus = "cancelled"
	StatusFailed    RunStatus = "failed"
)

// RunType determines which data sources a scheduled run uses.
//
// FREQUENT runs fire at high cadence during market hours and stick to
// sources with no daily quota. STRATEGIC runs (pre-market, after-hours)
// enable everything. DEEP runs (weekly) enable everything with a longer
// lookback.
type RunType string

const (
	RunFrequent  RunType = "frequent"
	RunStrategic RunType = "strategic"
	RunDeep      RunType = "deep"
)

// SourcesFor returns the enabled-source set for a run type.
func (rt RunType) SourcesFor() map[Source]bool {
	switch rt {
	case RunFrequent:
		// Quota-limited sources are excluded; everything here has only
		// per-minute rate limits.
		return map[Source]bool{
			SourceHackerNews:   true,
			SourceGDELT:        true,
			SourceFinnhub:      true,
			SourceYahooFinance: true,
			SourceNewsAPI:      false,
			SourceMarketAux:    false,
		}
	default:
		return map[Source]bool{
			SourceHackerNews:   true,
			SourceGDELT:        true,
			SourceFinnhub:      true,
			SourceYahooFinance: true,
			SourceNewsAPI:      true,
			SourceMarketAux:    true,
		}
	}
}

// LookbackDays returns the collection window for a run type.
func (rt RunType) LookbackDays() int {
	if rt == RunDeep {
		return 7
	}
	return 1
}

// CollectorStats summarizes one collector's contribution to a run.
type CollectorStats struct {
	Source         Source        `json:"source"`
	Success        bool          `json:"success"`
	ItemsCollected int           `json:"items_collected"`
	ExecutionTime  time.Duration `json:"execution_time"`
	ErrorMessage   string        `json:"error_message,omitempty"`
}

// PipelineResult is the in-memory record of one run. Terminal after the run
// ends; held only by the caller.
type PipelineResult struct {
	RunID     string           `json:"run_id"`
	Status    RunStatus        `json:"status"`
	StartedAt time.Time        `json:"started_at"`
	EndedAt   time.Time        `json:"ended_at"`
	Collectors []CollectorStats `json:"collectors"`

	TotalItemsCollected int `json:"total_items_collected"`
	TotalItemsStored    int `json:"total_items_stored"`
	TotalItemsProcessed int `json:"total_items_processed"`
	TotalItemsAnalyzed  int `json:"total_items_analyzed"`
	DuplicatesSkipped   int `json:"duplicates_skipped"`
	MissingSymbol       int `json:"missing_symbol_skipped"`

	ErrorMessage string `json:"error_message,omitempty"`
}

// ExecutionTime is the wall-clock duration of the run.
func (r PipelineResult) ExecutionTime() time.Duration {
	if r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// SuccessRate is collectors succeeded over collectors attempted.
func (r PipelineResult) SuccessRate() float64 {
	if len(r.Collectors) == 0 {
		return 0
	}
	ok := 0
	for _, c := range r.Collectors {
		if c.Success {
			ok++
		}
	}
	return float64(ok) / float64(len(r.Collectors))
}
