// Package ratelimit implements per-source request admission with sliding
// per-minute/per-hour windows, burst caps, and retry backoff.
package ratelimit

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/abood991b/insightbull/internal/domain"
)

// Strategy selects how retry delays grow with the attempt number.
type Strategy string

const (
	StrategyFixed       Strategy = "fixed"
	StrategyLinear      Strategy = "linear"
	StrategyExponential Strategy = "exponential"
)

// Config is the admission policy for one source.
type Config struct {
	RequestsPerMinute int
	RequestsPerHour   int
	BurstLimit        int
	Backoff           Strategy
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	MaxRetries        int
}

// normalize fills derived defaults the way the admission algorithm expects.
func (c Config) normalize() (Config, error) {
	if c.RequestsPerMinute <= 0 {
		return c, fmt.Errorf("requests per minute must be positive, got %d", c.RequestsPerMinute)
	}
	if c.RequestsPerHour == 0 {
		c.RequestsPerHour = c.RequestsPerMinute * 60
	}
	if c.BurstLimit == 0 {
		c.BurstLimit = max(1, c.RequestsPerMinute/2)
	}
	if c.Backoff == "" {
		c.Backoff = StrategyExponential
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = time.Second
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 5 * time.Minute
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	return c, nil
}

// DefaultConfigs returns the admission policies for the known sources.
func DefaultConfigs() map[domain.Source]Config {
	return map[domain.Source]Config{
		domain.SourceHackerNews: {
			RequestsPerMinute: 60,
			RequestsPerHour:   3600,
			BurstLimit:        10,
		},
		domain.SourceGDELT: {
			RequestsPerMinute: 30,
			RequestsPerHour:   1000,
			BurstLimit:        5,
		},
		domain.SourceYahooFinance: {
			RequestsPerMinute: 30,
			RequestsPerHour:   1000,
			BurstLimit:        5,
		},
		domain.SourceFinnhub: {
			RequestsPerMinute: 60,
			RequestsPerHour:   3000,
			BurstLimit:        5,
		},
		domain.SourceNewsAPI: {
			RequestsPerMinute: 5, // Free tier limit
			RequestsPerHour:   100,
			BurstLimit:        2,
		},
		domain.SourceMarketAux: {
			RequestsPerMinute: 10,
			RequestsPerHour:   100,
			BurstLimit:        3,
		},
	}
}

// sourceState tracks admission history for one source. A mutex per source
// serializes acquire so the window counters stay consistent; different
// sources proceed independently.
type sourceState struct {
	mu      sync.Mutex
	history []time.Time
}

// Limiter admits requests per source under the configured policies.
// The limiter itself never fails; callers translate a zero backoff delay
// into "stop retrying".
type Limiter struct {
	mu      sync.RWMutex
	configs map[domain.Source]Config
	states  map[domain.Source]*sourceState
	log     zerolog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	rand  *lockedRand
}

// New creates a limiter with the default policies, overridden by custom.
func New(custom map[domain.Source]Config, log zerolog.Logger) (*Limiter, error) {
	configs := DefaultConfigs()
	for src, cfg := range custom {
		configs[src] = cfg
	}

	states := make(map[domain.Source]*sourceState, len(configs))
	for src, cfg := range configs {
		normalized, err := cfg.normalize()
		if err != nil {
			return nil, fmt.Errorf("invalid rate limit config for %s: %w", src, err)
		}
		configs[src] = normalized
		states[src] = &sourceState{}
	}

	return &Limiter{
		configs: configs,
		states:  states,
		log:     log.With().Str("component", "rate_limiter").Logger(),
		now:     time.Now,
		sleep:   sleepCtx,
		rand:    newLockedRand(),
	}, nil
}

// Acquire blocks until it is safe to issue one request against source.
// Returns early with the context error on cancellation. Unknown sources are
// admitted immediately with a warning.
func (l *Limiter) Acquire(ctx context.Context, source domain.Source) error {
	l.mu.RLock()
	cfg, known := l.configs[source]
	state := l.states[source]
	l.mu.RUnlock()

	if !known {
		l.log.Warn().Str("source", string(source)).Msg("No rate limit config for source")
		return nil
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	now := l.now()
	state.history = pruneOlderThan(state.history, now.Add(-time.Hour))

	if delay := admissionDelay(cfg, state.history, now); delay > 0 {
		l.log.Info().
			Str("source", string(source)).
			Dur("delay", delay).
			Msg("Rate limit delay")
		if err := l.sleep(ctx, delay); err != nil {
			return err
		}
		now = l.now()
	}

	state.history = append(state.history, now)
	return nil
}

// Backoff returns the delay before retry attempt (1-indexed) after err, or
// zero when the caller should stop retrying.
func (l *Limiter) Backoff(source domain.Source, attempt int, err error) time.Duration {
	l.mu.RLock()
	cfg, known := l.configs[source]
	l.mu.RUnlock()

	if !known || attempt > cfg.MaxRetries {
		return 0
	}

	var delay time.Duration
	switch cfg.Backoff {
	case StrategyFixed:
		delay = cfg.InitialDelay
	case StrategyLinear:
		delay = cfg.InitialDelay * time.Duration(attempt)
	default: // exponential
		delay = cfg.InitialDelay * time.Duration(1<<(attempt-1))
	}

	// Jitter spreads retries out to avoid a thundering herd.
	jitter := time.Duration((0.1 + 0.2*l.rand.Float64()) * float64(delay))
	delay += jitter

	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}

	l.log.Warn().
		Str("source", string(source)).
		Int("attempt", attempt).
		Dur("delay", delay).
		Err(err).
		Msg("Backing off before retry")

	return delay
}

// UpdateConfig replaces the policy for a source at runtime.
func (l *Limiter) UpdateConfig(source domain.Source, cfg Config) error {
	normalized, err := cfg.normalize()
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.configs[source] = normalized
	if _, ok := l.states[source]; !ok {
		l.states[source] = &sourceState{}
	}
	return nil
}

// SourceStatus is a point-in-time view of one source's admission state.
type SourceStatus struct {
	Source             domain.Source `json:"source"`
	RequestsLastMinute int           `json:"requests_last_minute"`
	RequestsLastHour   int           `json:"requests_last_hour"`
	MinuteLimit        int           `json:"minute_limit"`
	HourLimit          int           `json:"hour_limit"`
	MinuteRemaining    int           `json:"minute_remaining"`
	HourRemaining      int           `json:"hour_remaining"`
	EstimatedDelay     float64       `json:"estimated_delay_seconds"`
}

// Status reports current admission state for every configured source.
func (l *Limiter) Status() map[domain.Source]SourceStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()

	now := l.now()
	out := make(map[domain.Source]SourceStatus, len(l.configs))
	for src, cfg := range l.configs {
		state := l.states[src]
		state.mu.Lock()
		history := pruneOlderThan(state.history, now.Add(-time.Hour))
		state.history = history
		minute := countSince(history, now.Add(-time.Minute))
		hour := len(history)
		delay := admissionDelay(cfg, history, now)
		state.mu.Unlock()

		out[src] = SourceStatus{
			Source:             src,
			RequestsLastMinute: minute,
			RequestsLastHour:   hour,
			MinuteLimit:        cfg.RequestsPerMinute,
			HourLimit:          cfg.RequestsPerHour,
			MinuteRemaining:    max(0, cfg.RequestsPerMinute-minute),
			HourRemaining:      max(0, cfg.RequestsPerHour-hour),
			EstimatedDelay:     delay.Seconds(),
		}
	}
	return out
}

// admissionDelay computes how long the caller must wait before one more
// request is admitted. history must already be pruned to the last hour.
func admissionDelay(cfg Config, history []time.Time, now time.Time) time.Duration {
	if len(history) == 0 {
		return 0
	}

	minuteAgo := now.Add(-time.Minute)
	inMinute := timesSince(history, minuteAgo)

	if len(inMinute) >= cfg.RequestsPerMinute {
		// Wait until the oldest request in the minute window ages out.
		return inMinute[0].Add(time.Minute).Sub(now)
	}

	if len(history) >= cfg.RequestsPerHour {
		return history[0].Add(time.Hour).Sub(now)
	}

	// Burst guard: too many rapid consecutive requests get spaced to 1/s.
	if len(inMinute) >= cfg.BurstLimit {
		last := history[len(history)-1]
		if since := now.Sub(last); since < time.Second {
			return time.Second - since
		}
	}

	return 0
}

// pruneOlderThan drops timestamps before cutoff. History is append-only and
// therefore sorted, so a single scan suffices.
func pruneOlderThan(history []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(history) && !history[idx].After(cutoff) {
		idx++
	}
	if idx == 0 {
		return history
	}
	return append(history[:0:0], history[idx:]...)
}

func timesSince(history []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(history) && !history[idx].After(cutoff) {
		idx++
	}
	return history[idx:]
}

func countSince(history []time.Time, cutoff time.Time) int {
	return len(timesSince(history, cutoff))
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

// lockedRand is a concurrency-safe rand source for jitter.
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func newLockedRand() *lockedRand {
	return &lockedRand{r: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}
