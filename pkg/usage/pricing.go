package usage

// PriceTable holds per-million-token rates for models with known pricing.
// Unknown models contribute zero cost rather than erroring (spec §4.4:
// "if unknown, cost contribution is 0").
type PriceTable struct {
	rates map[string]rate
}

type rate struct {
	inputPerMillion  float64
	outputPerMillion float64
}

// DefaultPriceTable is a small, best-effort embedded table covering common
// models seen across the example providers. It is not meant to be exact or
// current; it exists so get_stats can surface an approximate cost.
func DefaultPriceTable() *PriceTable {
	return &PriceTable{rates: map[string]rate{
		"gpt-4o":           {inputPerMillion: 2.50, outputPerMillion: 10.00},
		"gpt-4o-mini":      {inputPerMillion: 0.15, outputPerMillion: 0.60},
		"gpt-4.1":          {inputPerMillion: 2.00, outputPerMillion: 8.00},
		"gpt-4.1-mini":     {inputPerMillion: 0.40, outputPerMillion: 1.60},
		"o1":               {inputPerMillion: 15.00, outputPerMillion: 60.00},
		"o1-mini":          {inputPerMillion: 1.10, outputPerMillion: 4.40},
		"o3-mini":          {inputPerMillion: 1.10, outputPerMillion: 4.40},
		"claude-3-5-sonnet": {inputPerMillion: 3.00, outputPerMillion: 15.00},
		"claude-3-5-haiku":  {inputPerMillion: 0.80, outputPerMillion: 4.00},
		"claude-3-opus":     {inputPerMillion: 15.00, outputPerMillion: 75.00},
		"gemini-1.5-pro":    {inputPerMillion: 1.25, outputPerMillion: 5.00},
		"gemini-1.5-flash":  {inputPerMillion: 0.075, outputPerMillion: 0.30},
	}}
}

// Cost estimates the approximate USD cost of one call, returning 0 for
// models it has no rate for.
func (t *PriceTable) Cost(model string, u Usage) float64 {
	r, ok := t.rates[model]
	if !ok {
		return 0
	}
	return float64(u.PromptTokens)/1_000_000*r.inputPerMillion +
		float64(u.CompletionTokens)/1_000_000*r.outputPerMillion
}
