package llm

import "strings"

// modelPricing is USD per million tokens, split input/output
type modelPricing struct {
	InputPerM  float64
	OutputPerM float64
}

// pricingTable holds published list prices by model family prefix. Longest
// matching prefix wins. Unknown models cost 0 and are still token-accounted.
var pricingTable = []struct {
	Prefix string
	Price  modelPricing
}{
	{"claude-opus", modelPricing{InputPerM: 15.00, OutputPerM: 75.00}},
	{"claude-sonnet", modelPricing{InputPerM: 3.00, OutputPerM: 15.00}},
	{"claude-haiku", modelPricing{InputPerM: 0.80, OutputPerM: 4.00}},
	{"gemini-3-pro", modelPricing{InputPerM: 1.25, OutputPerM: 10.00}},
	{"gemini-3-flash", modelPricing{InputPerM: 0.15, OutputPerM: 0.60}},
	{"gemini-2", modelPricing{InputPerM: 0.10, OutputPerM: 0.40}},
}

// costUSD computes the dollar cost of one completion
func costUSD(model string, tokensPrompt, tokensCompletion int) float64 {
	var best modelPricing
	bestLen := -1
	for _, entry := range pricingTable {
		if strings.HasPrefix(model, entry.Prefix) && len(entry.Prefix) > bestLen {
			best = entry.Price
			bestLen = len(entry.Prefix)
		}
	}
	if bestLen < 0 {
		return 0
	}
	return float64(tokensPrompt)/1e6*best.InputPerM + float64(tokensCompletion)/1e6*best.OutputPerM
}
