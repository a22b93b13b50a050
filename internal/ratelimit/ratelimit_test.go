package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abood991b/insightbull/internal/domain"
)

func newTestLimiter(t *testing.T, custom map[domain.Source]Config) (*Limiter, *fakeClock) {
	t.Helper()
	l, err := New(custom, zerolog.Nop())
	require.NoError(t, err)

	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	l.now = clock.Now
	l.sleep = func(_ context.Context, d time.Duration) error {
		clock.Advance(d)
		clock.slept = append(clock.slept, d)
		return nil
	}
	return l, clock
}

type fakeClock struct {
	now   time.Time
	slept []time.Duration
}

func (c *fakeClock) Now() time.Time            { return c.now }
func (c *fakeClock) Advance(d time.Duration)   { c.now = c.now.Add(d) }

func TestConfigNormalize(t *testing.T) {
	cfg, err := Config{RequestsPerMinute: 10}.normalize()
	require.NoError(t, err)
	assert.Equal(t, 600, cfg.RequestsPerHour)
	assert.Equal(t, 5, cfg.BurstLimit)
	assert.Equal(t, StrategyExponential, cfg.Backoff)
	assert.Equal(t, 3, cfg.MaxRetries)

	_, err = Config{}.normalize()
	assert.Error(t, err)
}

func TestAcquireBlocksAtMinuteLimit(t *testing.T) {
	src := domain.Source("testsource")
	l, clock := newTestLimiter(t, map[domain.Source]Config{
		src: {RequestsPerMinute: 3, RequestsPerHour: 1000, BurstLimit: 100},
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(ctx, src))
		clock.Advance(time.Second)
	}
	require.Empty(t, clock.slept)

	// Fourth request inside the same minute must wait until the oldest
	// admission ages out of the 60s window.
	require.NoError(t, l.Acquire(ctx, src))
	require.Len(t, clock.slept, 1)
	assert.InDelta(t, (57 * time.Second).Seconds(), clock.slept[0].Seconds(), 0.5)
}

func TestAcquireBurstGuard(t *testing.T) {
	src := domain.Source("bursty")
	l, clock := newTestLimiter(t, map[domain.Source]Config{
		src: {RequestsPerMinute: 100, RequestsPerHour: 1000, BurstLimit: 2},
	})

	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx, src))
	clock.Advance(100 * time.Millisecond)
	require.NoError(t, l.Acquire(ctx, src))
	clock.Advance(100 * time.Millisecond)

	// Burst limit reached with <1s since last request: spaced to 1/s.
	require.NoError(t, l.Acquire(ctx, src))
	require.Len(t, clock.slept, 1)
	assert.InDelta(t, 0.9, clock.slept[0].Seconds(), 0.05)
}

func TestAcquireHourLimit(t *testing.T) {
	src := domain.Source("hourly")
	l, clock := newTestLimiter(t, map[domain.Source]Config{
		src: {RequestsPerMinute: 100, RequestsPerHour: 5, BurstLimit: 100},
	})

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Acquire(ctx, src))
		clock.Advance(2 * time.Minute)
	}
	require.Empty(t, clock.slept)

	require.NoError(t, l.Acquire(ctx, src))
	require.Len(t, clock.slept, 1)
	// Oldest admission was 10 minutes ago; it ages out of the hour window in 50.
	assert.InDelta(t, (50 * time.Minute).Seconds(), clock.slept[0].Seconds(), 1)
}

func TestAcquireUnknownSourceAdmitted(t *testing.T) {
	l, clock := newTestLimiter(t, nil)
	require.NoError(t, l.Acquire(context.Background(), domain.Source("never-configured")))
	assert.Empty(t, clock.slept)
}

func TestAcquireRespectsContext(t *testing.T) {
	src := domain.Source("cancellable")
	l, err := New(map[domain.Source]Config{
		src: {RequestsPerMinute: 1, RequestsPerHour: 1000, BurstLimit: 100},
	}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, l.Acquire(ctx, src))

	cancel()
	err = l.Acquire(ctx, src)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoffStrategies(t *testing.T) {
	cases := []struct {
		strategy Strategy
		attempt  int
		base     time.Duration
	}{
		{StrategyFixed, 3, time.Second},
		{StrategyLinear, 3, 3 * time.Second},
		{StrategyExponential, 3, 4 * time.Second},
	}

	for _, tc := range cases {
		src := domain.Source("backoff-" + string(tc.strategy))
		l, err := New(map[domain.Source]Config{
			src: {
				RequestsPerMinute: 10,
				Backoff:           tc.strategy,
				InitialDelay:      time.Second,
				MaxDelay:          time.Hour,
				MaxRetries:        5,
			},
		}, zerolog.Nop())
		require.NoError(t, err)

		d := l.Backoff(src, tc.attempt, assert.AnError)
		// Jitter adds 10-30% on top of the strategy's base delay.
		assert.GreaterOrEqual(t, d, time.Duration(1.1*float64(tc.base)), "strategy %s", tc.strategy)
		assert.LessOrEqual(t, d, time.Duration(1.3*float64(tc.base))+time.Millisecond, "strategy %s", tc.strategy)
	}
}

func TestBackoffExhaustedReturnsZero(t *testing.T) {
	src := domain.Source("exhausted")
	l, err := New(map[domain.Source]Config{
		src: {RequestsPerMinute: 10, MaxRetries: 2},
	}, zerolog.Nop())
	require.NoError(t, err)

	assert.NotZero(t, l.Backoff(src, 2, assert.AnError))
	assert.Zero(t, l.Backoff(src, 3, assert.AnError))
	assert.Zero(t, l.Backoff(domain.Source("unknown"), 1, assert.AnError))
}

func TestBackoffClampedToMaxDelay(t *testing.T) {
	src := domain.Source("clamped")
	l, err := New(map[domain.Source]Config{
		src: {
			RequestsPerMinute: 10,
			InitialDelay:      time.Minute,
			MaxDelay:          90 * time.Second,
			MaxRetries:        10,
		},
	}, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, l.Backoff(src, 5, assert.AnError))
}

func TestStatus(t *testing.T) {
	src := domain.SourceNewsAPI
	l, clock := newTestLimiter(t, nil)

	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx, src))
	clock.Advance(time.Second)
	require.NoError(t, l.Acquire(ctx, src))

	status := l.Status()
	s, ok := status[src]
	require.True(t, ok)
	assert.Equal(t, 2, s.RequestsLastMinute)
	assert.Equal(t, 5, s.MinuteLimit)
	assert.Equal(t, 3, s.MinuteRemaining)

	// Every configured source is reported.
	assert.Len(t, status, len(DefaultConfigs()))
}
