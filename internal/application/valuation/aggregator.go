// Package valuation merges stored holdings with live quotes into a portfolio valuation.
package valuation

import (
	"context"
	"errors"
	"sort"
	"time"

	"smartfolio-backend/internal/application/pricing"
	"smartfolio-backend/internal/domain"
	"smartfolio-backend/internal/infrastructure/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const UnknownSector = "Unknown"

// Price sources of a valued holding.
const (
	SourceLive      = "live"
	SourceLastKnown = "last_known"
	SourceNone      = "none"
)

type HoldingValue struct {
	HoldingID     uuid.UUID           `json:"holding_id"`
	Symbol        string              `json:"symbol"`
	Quantity      decimal.Decimal     `json:"quantity"`
	AvgPrice      decimal.NullDecimal `json:"avg_price"`
	Price         decimal.Decimal     `json:"currentPrice"`
	Value         decimal.Decimal     `json:"value"`
	Change        decimal.Decimal     `json:"change"`
	ChangePercent decimal.Decimal     `json:"changePercent"`
	Sector        string              `json:"sector"`
	PriceSource   string              `json:"priceSource"`
}

// Snapshot is the valuation of one portfolio at PricedAt.
type Snapshot struct {
	PortfolioID        uuid.UUID       `json:"portfolio_id"`
	Name               string          `json:"name"`
	Holdings           []HoldingValue  `json:"holdings"`
	TotalHoldingsValue decimal.Decimal `json:"totalHoldingsValue"`
	Cash               decimal.Decimal `json:"cash"`
	TotalValue         decimal.Decimal `json:"totalValue"`
	LiveCount          int             `json:"liveCount"`
	PricedAt           time.Time       `json:"pricedAt"`
}

// Aggregator values portfolios. It is the single valuation path for owners and share-token viewers.
type Aggregator struct {
	Prices pricing.Provider
	Now    func() time.Time
}

func (a *Aggregator) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now().UTC()
}

// Valuate prices every holding of p. Price falls back live -> last known -> zero and sector
// live -> stored -> Unknown. A provider failure degrades every holding to stored data.
func (a *Aggregator) Valuate(ctx context.Context, p *domain.Portfolio) Snapshot {
	holdings := make([]domain.Holding, len(p.Holdings))
	copy(holdings, p.Holdings)
	sort.SliceStable(holdings, func(i, j int) bool { return holdings[i].Position < holdings[j].Position })

	symbols := make([]string, 0, len(holdings))
	for _, h := range holdings {
		symbols = append(symbols, h.Symbol)
	}
	quotes := a.lookup(ctx, p.PortfolioID, symbols)

	snap := Snapshot{
		PortfolioID:        p.PortfolioID,
		Name:               p.Name,
		Holdings:           make([]HoldingValue, 0, len(holdings)),
		TotalHoldingsValue: decimal.Zero,
		Cash:               p.Cash,
		PricedAt:           a.now(),
	}
	for _, h := range holdings {
		hv := valueHolding(h, quotes)
		if hv.PriceSource == SourceLive {
			snap.LiveCount++
		} else {
			metrics.ValuationFallbacks.WithLabelValues(hv.PriceSource).Inc()
		}
		snap.TotalHoldingsValue = snap.TotalHoldingsValue.Add(hv.Value)
		snap.Holdings = append(snap.Holdings, hv)
	}
	snap.TotalValue = snap.TotalHoldingsValue.Add(p.Cash)
	return snap
}

func (a *Aggregator) lookup(ctx context.Context, portfolioID uuid.UUID, symbols []string) map[string]pricing.Quote {
	if a.Prices == nil || len(symbols) == 0 {
		return nil
	}
	quotes, err := a.Prices.Lookup(ctx, symbols)
	if err != nil {
		outcome := "error"
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			outcome = "timeout"
		}
		metrics.PriceLookups.WithLabelValues(a.Prices.Name(), outcome).Inc()
		log.Warn().Err(err).Str("portfolio_id", portfolioID.String()).Strs("symbols", symbols).Msg("price lookup failed, using stored prices")
		return nil
	}
	metrics.PriceLookups.WithLabelValues(a.Prices.Name(), "ok").Inc()
	return quotes
}

func valueHolding(h domain.Holding, quotes map[string]pricing.Quote) HoldingValue {
	hv := HoldingValue{
		HoldingID:     h.HoldingID,
		Symbol:        h.Symbol,
		Quantity:      h.Quantity,
		AvgPrice:      h.AvgPrice,
		Price:         decimal.Zero,
		Change:        decimal.Zero,
		ChangePercent: decimal.Zero,
		Sector:        UnknownSector,
		PriceSource:   SourceNone,
	}
	if h.Sector != nil && *h.Sector != "" {
		hv.Sector = *h.Sector
	}

	if q, ok := quotes[h.Symbol]; ok {
		hv.Price = q.Price
		hv.Change = q.Change
		hv.ChangePercent = q.ChangePercent
		hv.PriceSource = SourceLive
		if q.Sector != "" {
			hv.Sector = q.Sector
		}
	} else if h.CurrentPrice.Valid {
		hv.Price = h.CurrentPrice.Decimal
		hv.PriceSource = SourceLastKnown
	}
	hv.Value = hv.Price.Mul(h.Quantity)
	return hv
}
