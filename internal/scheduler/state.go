package scheduler

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// JobState is the durable per-job slice of scheduler state. Written after
// every completion so startup catch-up survives restarts.
type JobState struct {
	LastRun             time.Time `json:"last_run"`
	RunCount            int       `json:"run_count"`
	TodayRunCount       int       `json:"today_run_count"`
	LastRunDate         string    `json:"last_run_date"`
	ErrorCount          int       `json:"error_count"`
	LastDurationSeconds float64   `json:"last_duration_seconds"`
}

// StateFile persists per-job counters as a small JSON document. Unknown
// keys in the file are ignored on load; writes are atomic (tmp + rename)
// and serialized under a lock, last write wins.
type StateFile struct {
	mu   sync.Mutex
	path string
	log  zerolog.Logger
}

// NewStateFile creates a state file handle.
func NewStateFile(path string, log zerolog.Logger) *StateFile {
	return &StateFile{
		path: path,
		log:  log.With().Str("component", "scheduler_state").Logger(),
	}
}

// Load reads the persisted state. A missing or corrupt file yields an empty
// map, never an error: losing state only means one extra catch-up check.
func (s *StateFile) Load() map[string]JobState {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return map[string]JobState{}
	}

	var state map[string]JobState
	if err := json.Unmarshal(raw, &state); err != nil {
		s.log.Warn().Err(err).Msg("State file unreadable, starting fresh")
		return map[string]JobState{}
	}
	return state
}

// Save atomically replaces the state file.
func (s *StateFile) Save(state map[string]JobState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode scheduler state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write scheduler state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace scheduler state: %w", err)
	}
	return nil
}

// HistoryEntry is one run record in the rolling history.
type HistoryEntry struct {
	Timestamp      time.Time `json:"timestamp"`
	Status         string    `json:"status"`
	DurationSecs   float64   `json:"duration"`
	ItemsCollected int       `json:"items_collected"`
	ItemsAnalyzed  int       `json:"items_analyzed"`
	Error          string    `json:"error,omitempty"`
}

// HistoryFile keeps a rolling 7-day run history keyed date -> job -> runs.
type HistoryFile struct {
	mu   sync.Mutex
	path string
	days int
	now  func() time.Time
	log  zerolog.Logger
}

// NewHistoryFile creates a history file handle retaining the given days.
func NewHistoryFile(path string, days int, log zerolog.Logger) *HistoryFile {
	if days <= 0 {
		days = 7
	}
	return &HistoryFile{
		path: path,
		days: days,
		now:  time.Now,
		log:  log.With().Str("component", "scheduler_history").Logger(),
	}
}

// Record appends one run and prunes entries older than the retention window.
func (h *HistoryFile) Record(jobName string, entry HistoryEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	history := h.loadLocked()
	date := entry.Timestamp.UTC().Format("2006-01-02")
	if history[date] == nil {
		history[date] = map[string][]HistoryEntry{}
	}
	history[date][jobName] = append(history[date][jobName], entry)

	cutoff := h.now().UTC().AddDate(0, 0, -h.days).Format("2006-01-02")
	for day := range history {
		if day < cutoff {
			delete(history, day)
		}
	}

	return h.saveLocked(history)
}

// Get returns the retained history limited to the last n days.
func (h *HistoryFile) Get(days int) map[string]map[string][]HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()

	history := h.loadLocked()
	if days <= 0 || days > h.days {
		days = h.days
	}
	cutoff := h.now().UTC().AddDate(0, 0, -days).Format("2006-01-02")
	for day := range history {
		if day < cutoff {
			delete(history, day)
		}
	}
	return history
}

func (h *HistoryFile) loadLocked() map[string]map[string][]HistoryEntry {
	raw, err := os.ReadFile(h.path)
	if err != nil {
		return map[string]map[string][]HistoryEntry{}
	}
	var history map[string]map[string][]HistoryEntry
	if err := json.Unmarshal(raw, &history); err != nil {
		h.log.Warn().Err(err).Msg("History file unreadable, starting fresh")
		return map[string]map[string][]HistoryEntry{}
	}
	return history
}

func (h *HistoryFile) saveLocked(history map[string]map[string][]HistoryEntry) error {
	raw, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}
	tmp := h.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write history: %w", err)
	}
	if err := os.Rename(tmp, h.path); err != nil {
		return fmt.Errorf("failed to replace history: %w", err)
	}
	return nil
}
