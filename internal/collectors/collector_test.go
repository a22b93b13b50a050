package collectors

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abood991b/insightbull/internal/domain"
)

// stubLimiter admits everything and records backoff calls.
type stubLimiter struct {
	acquired int
	backoffs int
	// retries remaining before Backoff returns zero
	retries int
}

func (s *stubLimiter) Acquire(_ context.Context, _ domain.Source) error {
	s.acquired++
	return nil
}

func (s *stubLimiter) Backoff(_ domain.Source, _ int, _ error) time.Duration {
	s.backoffs++
	if s.retries <= 0 {
		return 0
	}
	s.retries--
	return time.Millisecond
}

func testRange(t *testing.T) domain.DateRange {
	t.Helper()
	r, err := domain.NewDateRange(
		time.Now().UTC().Add(-24*time.Hour),
		time.Now().UTC().Add(time.Minute),
	)
	require.NoError(t, err)
	return r
}

func TestCapPerSymbol(t *testing.T) {
	items := []domain.RawItem{
		{Symbol: "AAPL", Text: "a"},
		{Symbol: "AAPL", Text: "b"},
		{Symbol: "AAPL", Text: "c"},
		{Symbol: "MSFT", Text: "d"},
	}

	capped := capPerSymbol(items, 2)
	require.Len(t, capped, 3)
	assert.Equal(t, "a", capped[0].Text)
	assert.Equal(t, "b", capped[1].Text)
	assert.Equal(t, "d", capped[2].Text)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, isTransient(&statusError{Code: http.StatusTooManyRequests}))
	assert.True(t, isTransient(&statusError{Code: http.StatusBadGateway}))
	assert.False(t, isTransient(&statusError{Code: http.StatusUnauthorized}))
	assert.True(t, isTransient(assert.AnError))
}

func TestHTTPClientRetriesTransientErrors(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	limiter := &stubLimiter{retries: 5}
	h := newHTTPClient(domain.SourceHackerNews, time.Second, limiter, zerolog.Nop())

	body, err := h.getJSON(context.Background(), server.URL, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, limiter.acquired)
}

func TestHTTPClientStopsWhenBackoffExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	limiter := &stubLimiter{retries: 0}
	h := newHTTPClient(domain.SourceGDELT, time.Second, limiter, zerolog.Nop())

	_, err := h.getJSON(context.Background(), server.URL, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Equal(t, 1, limiter.backoffs)
}

func TestHTTPClientDoesNotRetryAuthErrors(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	limiter := &stubLimiter{retries: 5}
	h := newHTTPClient(domain.SourceFinnhub, time.Second, limiter, zerolog.Nop())

	_, err := h.getJSON(context.Background(), server.URL, nil)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestIsNonFinancial(t *testing.T) {
	assert.True(t, isNonFinancial("Local volleyball championship results"))
	assert.False(t, isNonFinancial("Apple earnings beat expectations"))
	// Exclusion hit but financial context present: kept.
	assert.False(t, isNonFinancial("Netflix stock rises on streaming service growth"))
	assert.False(t, isNonFinancial("Nothing notable here"))
}

func TestCompanyName(t *testing.T) {
	assert.Equal(t, "Apple", companyName("aapl"))
	assert.Empty(t, companyName("ZZZZ"))
}

func TestCheckHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"hits":[]}`))
	}))
	defer server.Close()

	c := NewHackerNews(&stubLimiter{}, zerolog.Nop())
	c.baseURL = server.URL

	status := CheckHealth(context.Background(), c)
	assert.True(t, status.Healthy)
	assert.Equal(t, domain.SourceHackerNews, status.Source)
}
