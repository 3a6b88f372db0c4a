package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors registered on the default prometheus registry and served at /metrics.
var (
	PriceLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smartfolio_price_lookups_total",
		Help: "Price provider batch lookups by provider and outcome",
	}, []string{"provider", "outcome"})

	QuoteCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smartfolio_quote_cache_total",
		Help: "Quote cache reads by result (hit, miss, error)",
	}, []string{"result"})

	ValuationFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smartfolio_valuation_fallbacks_total",
		Help: "Holdings priced without live data, by source (last_known, zero)",
	}, []string{"source"})

	Insights = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smartfolio_insights_total",
		Help: "Insight requests by source (cached, generated, fallback)",
	}, []string{"source"})

	NarrativeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smartfolio_narrative_failures_total",
		Help: "Narrative provider failures by kind (upstream, malformed)",
	}, []string{"kind"})

	ShareViews = promauto.NewCounter(prometheus.CounterOpts{
		Name: "smartfolio_share_views_total",
		Help: "Views recorded through share tokens",
	})

	ShareDenied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smartfolio_share_denied_total",
		Help: "Share token resolutions that failed, by reason (unknown, revoked, expired, mismatch)",
	}, []string{"reason"})

	SharesIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smartfolio_shares_issued_total",
		Help: "Issue calls by result (created, existing)",
	}, []string{"result"})
)
