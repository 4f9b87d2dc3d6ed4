// Package pricing maps model identifiers to per-token prices and computes
// cost estimates for token usage.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// CostPlaces is the number of fractional digits kept in cost estimates.
const CostPlaces = 6

var thousand = decimal.NewFromInt(1000)

// Price holds the USD price of one thousand input and output tokens.
type Price struct {
	InputPer1K  decimal.Decimal
	OutputPer1K decimal.Decimal
}

// NewPrice builds a Price from per-1K float amounts as they appear in config.
func NewPrice(inputPer1K, outputPer1K float64) Price {
	return Price{
		InputPer1K:  decimal.NewFromFloat(inputPer1K),
		OutputPer1K: decimal.NewFromFloat(outputPer1K),
	}
}

// InputPerToken returns the price of a single prompt token.
func (p Price) InputPerToken() decimal.Decimal {
	return p.InputPer1K.Div(thousand)
}

// OutputPerToken returns the price of a single completion token.
func (p Price) OutputPerToken() decimal.Decimal {
	return p.OutputPer1K.Div(thousand)
}

// Table is an immutable model price list with a designated default model
// whose price applies to any model the table does not know.
type Table struct {
	prices       map[string]Price
	defaultModel string
}

// NewTable creates a Table. The default model must be present in prices and
// no price may be negative.
func NewTable(defaultModel string, prices map[string]Price) (*Table, error) {
	if _, ok := prices[defaultModel]; !ok {
		return nil, fmt.Errorf("default pricing model %q is not in the price table", defaultModel)
	}
	cp := make(map[string]Price, len(prices))
	for model, p := range prices {
		if p.InputPer1K.IsNegative() || p.OutputPer1K.IsNegative() {
			return nil, fmt.Errorf("model %q has a negative price", model)
		}
		cp[model] = p
	}
	return &Table{prices: cp, defaultModel: defaultModel}, nil
}

// DefaultTable returns the built-in price list.
func DefaultTable() *Table {
	t, err := NewTable("gpt-3.5-turbo", map[string]Price{
		"gpt-3.5-turbo": NewPrice(0.0015, 0.002),
		"gpt-4":         NewPrice(0.03, 0.06),
		"claude-2":      NewPrice(0.01102, 0.03268),
		"llama-2-70b":   NewPrice(0.0009, 0.0009),
		"mistral-7b":    NewPrice(0.0002, 0.0002),
	})
	if err != nil {
		panic(err)
	}
	return t
}

// DefaultModel returns the model whose price is used for unknown models.
func (t *Table) DefaultModel() string {
	return t.defaultModel
}

// Lookup returns the price for model, falling back to the default model. The
// boolean reports whether model itself was found.
func (t *Table) Lookup(model string) (Price, bool) {
	if p, ok := t.prices[model]; ok {
		return p, true
	}
	return t.prices[t.defaultModel], false
}

// Cost returns the estimated cost of a request, rounded half away from zero
// to CostPlaces fractional digits. Negative token counts are treated as zero.
func (t *Table) Cost(model string, promptTokens, completionTokens int) decimal.Decimal {
	p, _ := t.Lookup(model)

	in := decimal.NewFromInt(int64(max(promptTokens, 0))).Mul(p.InputPerToken())
	out := decimal.NewFromInt(int64(max(completionTokens, 0))).Mul(p.OutputPerToken())

	return in.Add(out).Round(CostPlaces)
}
