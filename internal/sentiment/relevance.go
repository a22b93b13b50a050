package sentiment

import "strings"

// RelevanceVerdict is the content-relevance validator's output.
type RelevanceVerdict struct {
	Relevant   bool
	Confidence float64
	Reason     string
}

// RelevanceValidator decides whether a text is financial enough to classify.
// When it returns irrelevant with confidence >= 0.75 the engine
// short-circuits to a deliberately low-confidence neutral so downstream
// consumers can tell "uncertain" from "genuinely neutral".
type RelevanceValidator interface {
	Check(text, symbol string) RelevanceVerdict
}

// TermRelevanceValidator is the default validator: term lists with a
// confidence proportional to how one-sided the evidence is.
type TermRelevanceValidator struct{}

var relevanceFinancialTerms = []string{
	"stock", "share", "shares", "market", "trading", "earnings", "revenue",
	"profit", "investor", "analyst", "valuation", "ipo", "merger",
	"acquisition", "quarterly", "dividend", "price", "guidance", "forecast",
	"nasdaq", "nyse", "sec", "etf", "portfolio", "$",
}

var relevanceOffTopicTerms = []string{
	"recipe", "volleyball", "basketball", "touchdown", "movie", "film",
	"actor", "concert", "album", "wedding", "weather", "horoscope",
	"celebrity", "fashion", "makeup", "vacation",
}

// Check scores the text by term evidence.
func (TermRelevanceValidator) Check(text, symbol string) RelevanceVerdict {
	lower := strings.ToLower(text)

	financial := 0
	for _, term := range relevanceFinancialTerms {
		if strings.Contains(lower, term) {
			financial++
		}
	}
	if symbol != "" && strings.Contains(lower, strings.ToLower(symbol)) {
		financial++
	}

	offTopic := 0
	for _, term := range relevanceOffTopicTerms {
		if strings.Contains(lower, term) {
			offTopic++
		}
	}

	if financial > 0 {
		return RelevanceVerdict{Relevant: true, Confidence: 0.9, Reason: "financial terms present"}
	}
	if offTopic >= 2 {
		return RelevanceVerdict{Relevant: false, Confidence: 0.85, Reason: "multiple off-topic terms, no financial context"}
	}
	if offTopic == 1 {
		return RelevanceVerdict{Relevant: false, Confidence: 0.75, Reason: "off-topic term, no financial context"}
	}
	// No evidence either way: treat as relevant with low certainty so the
	// classifier still sees it.
	return RelevanceVerdict{Relevant: true, Confidence: 0.5, Reason: "no strong signal"}
}
