// Package pricing looks up live quotes for ticker symbols. Every provider takes a batch of symbols
// and returns only the ones it knows; unknown symbols are absent from the result, never an error.
package pricing

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

// Quote is the live price data for one symbol. Sector is empty when the provider does not know it.
type Quote struct {
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"changePercent"`
	Sector        string          `json:"sector,omitempty"`
}

// Provider is a batch quote source.
type Provider interface {
	Name() string
	Lookup(ctx context.Context, symbols []string) (map[string]Quote, error)
}

// Normalize upper-cases, trims and de-duplicates symbols, keeping first-seen order.
func Normalize(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	seen := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Static serves a fixed quote table.
type Static struct {
	Quotes map[string]Quote
	Err    error
}

func (s *Static) Name() string { return "static" }

func (s *Static) Lookup(ctx context.Context, symbols []string) (map[string]Quote, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	out := make(map[string]Quote)
	for _, sym := range Normalize(symbols) {
		if q, ok := s.Quotes[sym]; ok {
			out[sym] = q
		}
	}
	return out, nil
}
