package collectors

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abood991b/insightbull/internal/domain"
)

func TestNewMarketAuxRequiresKey(t *testing.T) {
	_, err := NewMarketAux("", &stubLimiter{}, zerolog.Nop())
	assert.Error(t, err)

	c, err := NewMarketAux("ma-key", &stubLimiter{}, zerolog.Nop())
	require.NoError(t, err)
	assert.True(t, c.RequiresAPIKey())
}

func TestMarketAuxBatchDistribution(t *testing.T) {
	published := time.Now().UTC().Add(-2 * time.Hour).Format(time.RFC3339)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		symbols := r.URL.Query().Get("symbols")
		assert.Equal(t, "AAPL,MSFT", symbols)
		assert.Equal(t, "ma-key", r.URL.Query().Get("api_token"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[
			{"uuid":"u-1","title":"Apple and Microsoft lead market rally",
			 "description":"Both stocks gain on earnings",
			 "url":"https://example.com/rally","source":"example.com",
			 "published_at":"` + published + `",
			 "entities":[{"symbol":"AAPL","type":"equity"},{"symbol":"MSFT","type":"equity"}]},
			{"uuid":"u-2","title":"Microsoft guidance strong",
			 "description":"Shares climb after earnings call",
			 "url":"https://example.com/msft","source":"example.com",
			 "published_at":"` + published + `",
			 "entities":[{"symbol":"MSFT","type":"equity"}]}
		]}`))
	}))
	defer server.Close()

	c, err := NewMarketAux("ma-key", &stubLimiter{}, zerolog.Nop())
	require.NoError(t, err)
	c.baseURL = server.URL

	result := c.Collect(context.Background(), domain.CollectionConfig{
		Symbols:           []string{"AAPL", "MSFT"},
		DateRange:         testRange(t),
		MaxItemsPerSymbol: 10,
	})

	require.True(t, result.Success)
	// Article u-1 fans out to both symbols; u-2 only to MSFT.
	require.Len(t, result.Items, 3)

	bySymbol := map[string]int{}
	for _, item := range result.Items {
		bySymbol[item.Symbol]++
		if item.Metadata["external_id"] == "u-1" {
			mentions := item.Metadata["mentions"].([]string)
			assert.ElementsMatch(t, []string{"AAPL", "MSFT"}, mentions)
		}
	}
	assert.Equal(t, 1, bySymbol["AAPL"])
	assert.Equal(t, 2, bySymbol["MSFT"])
}

func TestMarketAuxSplitsLargeBatches(t *testing.T) {
	var requests []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r.URL.Query().Get("symbols"))
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer server.Close()

	c, err := NewMarketAux("ma-key", &stubLimiter{}, zerolog.Nop())
	require.NoError(t, err)
	c.baseURL = server.URL

	symbols := make([]string, 12)
	for i := range symbols {
		symbols[i] = "S" + string(rune('A'+i))
	}

	result := c.Collect(context.Background(), domain.CollectionConfig{
		Symbols:           symbols,
		DateRange:         testRange(t),
		MaxItemsPerSymbol: 5,
	})

	require.True(t, result.Success)
	require.Len(t, requests, 2)
	assert.Len(t, strings.Split(requests[0], ","), 10)
	assert.Len(t, strings.Split(requests[1], ","), 2)
}
