package collectors

import "strings"

// nonFinancialPatterns flag content that is likely sports, entertainment, or
// other noise. A financial term anywhere in the text overrides the exclusion.
var nonFinancialPatterns = []string{
	"volleyball", "basketball", "football", "soccer", "hockey",
	"baseball", "tennis", "golf", "olympics", "championship",
	"tournament", "playoff", "nba finals", "nfl", "mlb", "nhl",
	"world cup", "super bowl", "slam dunk", "touchdown", "home run",
	"movie", "film", "cinema", "actor", "actress", "director",
	"box office", "premiere", "trailer", "sequel", "franchise",
	"hollywood", "streaming service", "tv show", "series premiere",
	"album release", "concert", "tour", "music video", "grammy",
	"recipe", "cooking", "ingredients", "calories",
	"weather forecast", "temperature", "humidity",
	"obituary", "wedding", "birth announcement",
}

var financialTerms = []string{
	"stock", "share", "market", "trading", "earnings", "revenue",
	"profit", "investor", "analyst", "valuation", "ipo", "merger",
	"acquisition", "quarterly", "fiscal", "dividend", "price target",
	"wall street", "hedge fund", "venture capital", "startup funding",
}

// isNonFinancial reports whether text should be skipped as clearly
// non-financial: it matches an exclusion pattern and carries no financial
// context.
func isNonFinancial(text string) bool {
	lower := strings.ToLower(text)

	hasNonFinancial := false
	for _, p := range nonFinancialPatterns {
		if strings.Contains(lower, p) {
			hasNonFinancial = true
			break
		}
	}
	if !hasNonFinancial {
		return false
	}

	for _, term := range financialTerms {
		if strings.Contains(lower, term) {
			return false
		}
	}
	return true
}

// companyNames maps known symbols to company names used to improve search
// queries on sources that index prose rather than tickers.
var companyNames = map[string]string{
	"AAPL":  "Apple",
	"MSFT":  "Microsoft",
	"NVDA":  "NVIDIA",
	"GOOGL": "Google",
	"AMZN":  "Amazon",
	"META":  "Meta",
	"TSLA":  "Tesla",
	"AVGO":  "Broadcom",
	"ORCL":  "Oracle",
	"CRM":   "Salesforce",
	"AMD":   "AMD",
	"ADBE":  "Adobe",
	"CSCO":  "Cisco",
	"ACN":   "Accenture",
	"INTC":  "Intel",
	"IBM":   "IBM",
	"TXN":   "Texas Instruments",
	"QCOM":  "Qualcomm",
	"NOW":   "ServiceNow",
	"INTU":  "Intuit",
}

// companyName returns the company name for a symbol, or empty.
func companyName(symbol string) string {
	return companyNames[strings.ToUpper(symbol)]
}
