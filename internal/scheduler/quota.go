package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/abood991b/insightbull/internal/domain"
)

// QuotaPolicy is one source's daily and per-minute budget.
type QuotaPolicy struct {
	DailyLimit     int
	PerMinuteLimit int
}

// DefaultQuotaPolicies covers the quota-limited sources. Sources absent here
// have no daily budget and bypass the gate entirely.
func DefaultQuotaPolicies() map[domain.Source]QuotaPolicy {
	return map[domain.Source]QuotaPolicy{
		domain.SourceNewsAPI:   {DailyLimit: 100, PerMinuteLimit: 5},
		domain.SourceMarketAux: {DailyLimit: 100, PerMinuteLimit: 10},
	}
}

// QuotaTracker enforces per-source daily budgets with a sliding per-minute
// window. Usage resets at midnight UTC.
type QuotaTracker struct {
	mu       sync.Mutex
	policies map[domain.Source]QuotaPolicy
	usedDay  map[domain.Source]int
	window   map[domain.Source][]time.Time
	day      string
	now      func() time.Time
	log      zerolog.Logger
}

// NewQuotaTracker creates a tracker with the given policies (nil for
// defaults).
func NewQuotaTracker(policies map[domain.Source]QuotaPolicy, log zerolog.Logger) *QuotaTracker {
	if policies == nil {
		policies = DefaultQuotaPolicies()
	}
	t := &QuotaTracker{
		policies: policies,
		usedDay:  make(map[domain.Source]int),
		window:   make(map[domain.Source][]time.Time),
		now:      time.Now,
		log:      log.With().Str("component", "quota_tracker").Logger(),
	}
	t.day = t.today()
	return t
}

// IsLimited reports whether a source has a daily budget at all.
func (t *QuotaTracker) IsLimited(source domain.Source) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.policies[source]
	return ok
}

// CanMakeRequest reports whether n more requests fit today's budget.
func (t *QuotaTracker) CanMakeRequest(source domain.Source, n int) (bool, string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	policy, limited := t.policies[source]
	if !limited {
		return true, ""
	}
	t.rolloverLocked()

	if t.usedDay[source]+n > policy.DailyLimit {
		return false, fmt.Sprintf("daily quota would be exceeded (%d/%d used, %d requested)",
			t.usedDay[source], policy.DailyLimit, n)
	}

	minuteAgo := t.now().Add(-time.Minute)
	recent := 0
	for _, ts := range t.window[source] {
		if ts.After(minuteAgo) {
			recent++
		}
	}
	if recent+n > policy.PerMinuteLimit*2 {
		// The rate limiter paces individual requests; the gate only blocks
		// bursts that could not drain within the run.
		return false, fmt.Sprintf("per-minute window saturated (%d recent)", recent)
	}

	return true, ""
}

// RecordUsage consumes n requests from today's budget.
func (t *QuotaTracker) RecordUsage(source domain.Source, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, limited := t.policies[source]; !limited {
		return
	}
	t.rolloverLocked()

	t.usedDay[source] += n
	now := t.now()
	for i := 0; i < n; i++ {
		t.window[source] = append(t.window[source], now)
	}

	// Keep the sliding window bounded.
	minuteAgo := now.Add(-time.Minute)
	pruned := t.window[source][:0]
	for _, ts := range t.window[source] {
		if ts.After(minuteAgo) {
			pruned = append(pruned, ts)
		}
	}
	t.window[source] = pruned
}

// ResetDaily clears today's usage. Invoked by the midnight-UTC cron job and
// implicitly on day rollover.
func (t *QuotaTracker) ResetDaily() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.usedDay = make(map[domain.Source]int)
	t.day = t.today()
	t.log.Info().Msg("Daily quotas reset")
}

// Status reports per-source usage for the admin API.
func (t *QuotaTracker) Status() map[domain.Source]map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked()

	out := make(map[domain.Source]map[string]any, len(t.policies))
	for source, policy := range t.policies {
		out[source] = map[string]any{
			"daily_limit":     policy.DailyLimit,
			"used_today":      t.usedDay[source],
			"daily_remaining": max(0, policy.DailyLimit-t.usedDay[source]),
		}
	}
	return out
}

func (t *QuotaTracker) rolloverLocked() {
	if today := t.today(); today != t.day {
		t.usedDay = make(map[domain.Source]int)
		t.day = today
	}
}

func (t *QuotaTracker) today() string {
	return t.now().UTC().Format("2006-01-02")
}
