package pipeline

import (
	"sort"
	"time"

	"github.com/abood991b/insightbull/internal/repository"
)

// Fair-ordering constants. The weights and the per-24h target are tunable
// heuristics, not laws.
const (
	recencyWeight   = 0.6
	deficitWeight   = 0.4
	coverageTarget  = 20
	maxRecencyHours = 168 // a week of staleness saturates the recency term
)

// fairOrder sorts symbols so stale or under-covered tickers come first, then
// applies a rotation offset so the head of the list changes run to run.
// Priority per symbol: 0.6 * hours_since_last_sentiment +
// 0.4 * max(0, target - last_24h_count).
func fairOrder(symbols []string, coverage map[string]repository.SentimentCoverage, rotationOffset int, now time.Time) []string {
	type scored struct {
		symbol string
		score  float64
	}

	ranked := make([]scored, 0, len(symbols))
	for _, symbol := range symbols {
		cov := coverage[symbol]

		recencyGap := float64(maxRecencyHours)
		if !cov.LastSentiment.IsZero() {
			recencyGap = now.Sub(cov.LastSentiment).Hours()
			if recencyGap > maxRecencyHours {
				recencyGap = maxRecencyHours
			}
			if recencyGap < 0 {
				recencyGap = 0
			}
		}

		deficit := float64(coverageTarget - cov.Count24h)
		if deficit < 0 {
			deficit = 0
		}

		ranked = append(ranked, scored{
			symbol: symbol,
			score:  recencyWeight*recencyGap + deficitWeight*deficit,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].symbol < ranked[j].symbol
	})

	ordered := make([]string, len(ranked))
	for i, s := range ranked {
		ordered[i] = s.symbol
	}

	if len(ordered) > 1 {
		offset := rotationOffset % len(ordered)
		ordered = append(ordered[offset:], ordered[:offset]...)
	}
	return ordered
}
