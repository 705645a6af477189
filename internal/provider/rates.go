package provider

import "strings"

// Rate is a USD price per 1k tokens.
type Rate struct {
	Input  float64
	Output float64
}

// RateEntry prices every model whose lowercased ID contains Match.
type RateEntry struct {
	Match string
	Rate  Rate
}

// RateTable is an ordered list of rates; the first substring match wins.
type RateTable struct {
	Entries []RateEntry
	Default Rate
}

// Lookup returns the rate for model.
func (t RateTable) Lookup(model string) Rate {
	m := strings.ToLower(model)
	for _, e := range t.Entries {
		if strings.Contains(m, e.Match) {
			return e.Rate
		}
	}
	return t.Default
}

// Cost returns the USD cost of the given token counts for model.
func (t RateTable) Cost(promptTokens, completionTokens int, model string) float64 {
	r := t.Lookup(model)
	return float64(promptTokens)/1000*r.Input + float64(completionTokens)/1000*r.Output
}
