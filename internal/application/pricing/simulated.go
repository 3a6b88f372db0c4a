package pricing

import (
	"context"
	"hash/fnv"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"
)

type baseQuote struct {
	price  string
	sector string
}

var simulatedBase = map[string]baseQuote{
	"AAPL":  {"185.64", "Technology"},
	"GOOGL": {"141.80", "Technology"},
	"MSFT":  {"384.30", "Technology"},
	"AMZN":  {"155.89", "Consumer Discretionary"},
	"TSLA":  {"248.50", "Consumer Discretionary"},
	"NVDA":  {"722.48", "Technology"},
	"JPM":   {"174.35", "Financial Services"},
	"JNJ":   {"162.45", "Healthcare"},
	"V":     {"259.77", "Financial Services"},
	"UNH":   {"524.67", "Healthcare"},
}

var (
	hundred  = decimal.NewFromInt(100)
	maxDrift = decimal.RequireFromString("0.02")
	half     = decimal.RequireFromString("0.5")
)

// Simulated quotes a fixed set of symbols with up to ±1% jitter around a base price. The jitter is
// a pure function of the symbol, Seed and, when Clock is set, the current Step-sized time window.
type Simulated struct {
	Seed  uint64
	Clock func() time.Time
	Step  time.Duration
}

// NewSimulated returns a simulator whose prices move once per minute.
func NewSimulated(seed uint64) *Simulated {
	return &Simulated{Seed: seed, Clock: time.Now, Step: time.Minute}
}

func (s *Simulated) Name() string { return "simulated" }

func (s *Simulated) Lookup(ctx context.Context, symbols []string) (map[string]Quote, error) {
	window := s.window()
	out := make(map[string]Quote)
	for _, sym := range Normalize(symbols) {
		base, ok := simulatedBase[sym]
		if !ok {
			continue
		}
		out[sym] = s.quote(sym, base, window)
	}
	return out, nil
}

// Symbols lists the symbols the simulator knows.
func (s *Simulated) Symbols() []string {
	out := make([]string, 0, len(simulatedBase))
	for sym := range simulatedBase {
		out = append(out, sym)
	}
	return out
}

func (s *Simulated) window() uint64 {
	if s.Clock == nil || s.Step <= 0 {
		return 0
	}
	return uint64(s.Clock().UnixNano() / int64(s.Step))
}

func (s *Simulated) quote(sym string, base baseQuote, window uint64) Quote {
	h := fnv.New64a()
	_, _ = h.Write([]byte(sym))
	rng := rand.New(rand.NewPCG(s.Seed, h.Sum64()^window))

	basePrice := decimal.RequireFromString(base.price)
	variation := decimal.NewFromFloat(rng.Float64()).Sub(half).Mul(maxDrift)
	price := basePrice.Mul(decimal.NewFromInt(1).Add(variation)).Round(2)
	change := price.Sub(basePrice)
	return Quote{
		Symbol:        sym,
		Price:         price,
		Change:        change.Round(2),
		ChangePercent: change.Div(basePrice).Mul(hundred).Round(2),
		Sector:        base.sector,
	}
}
