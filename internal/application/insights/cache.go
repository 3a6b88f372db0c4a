package insights

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"smartfolio-backend/internal/application/narrative"
	"smartfolio-backend/internal/application/valuation"
	"smartfolio-backend/internal/domain"
	"smartfolio-backend/internal/infrastructure/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	DefaultTTL     = time.Hour
	DefaultTimeout = 20 * time.Second
)

// Where an Insight came from.
const (
	SourceCached    = "cached"
	SourceGenerated = "generated"
	SourceFallback  = "fallback"
)

type Insight struct {
	Summary         string    `json:"summary"`
	Diversification string    `json:"diversification"`
	RiskAnalysis    string    `json:"riskAnalysis"`
	Thesis          string    `json:"thesis"`
	CreatedAt       time.Time `json:"createdAt"`
	Source          string    `json:"source"`
	Provider        string    `json:"provider,omitempty"`
}

// Cache serves the newest stored insight while it is younger than TTL and otherwise asks the
// narrator for a new one. Fallback insights are never stored, so the next request retries.
type Cache struct {
	DB       *gorm.DB
	Narrator narrative.Narrator
	TTL      time.Duration
	Timeout  time.Duration
	Now      func() time.Time
}

func (c *Cache) now() time.Time {
	if c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

func (c *Cache) ttl() time.Duration {
	if c.TTL > 0 {
		return c.TTL
	}
	return DefaultTTL
}

func (c *Cache) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

// IsFresh reports whether a snapshot created at created is still within ttl at now.
func IsFresh(created, now time.Time, ttl time.Duration) bool {
	if created.IsZero() {
		return false
	}
	return now.Sub(created) < ttl
}

func fromSnapshot(s domain.InsightSnapshot, source string) Insight {
	return Insight{
		Summary:         s.Summary,
		Diversification: s.Diversification,
		RiskAnalysis:    s.RiskAnalysis,
		Thesis:          s.Thesis,
		CreatedAt:       s.CreatedAt,
		Source:          source,
		Provider:        s.Provider,
	}
}

// Latest returns the newest stored insight of the portfolio, or nil when there is none.
func (c *Cache) Latest(ctx context.Context, portfolioID uuid.UUID) (*domain.InsightSnapshot, error) {
	var s domain.InsightSnapshot
	err := c.DB.WithContext(ctx).
		Where("portfolio_id = ?", portfolioID).
		Order("created_at DESC").
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetOrRefresh returns the insight for snap's portfolio. Narrator failures never surface as errors;
// only a failed read of the stored insight does.
func (c *Cache) GetOrRefresh(ctx context.Context, snap valuation.Snapshot) (Insight, error) {
	latest, err := c.Latest(ctx, snap.PortfolioID)
	if err != nil {
		return Insight{}, err
	}
	now := c.now()
	if latest != nil && IsFresh(latest.CreatedAt, now, c.ttl()) {
		metrics.Insights.WithLabelValues(SourceCached).Inc()
		return fromSnapshot(*latest, SourceCached), nil
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout())
	analysis, err := c.Narrator.Analyze(callCtx, snap)
	cancel()
	if err != nil {
		c.logFailure(snap.PortfolioID, err)
		metrics.Insights.WithLabelValues(SourceFallback).Inc()
		return Fallback(snap, now), nil
	}

	stored := domain.InsightSnapshot{
		PortfolioID:     snap.PortfolioID,
		Summary:         analysis.Summary,
		Diversification: analysis.Diversification,
		RiskAnalysis:    analysis.RiskAnalysis,
		Thesis:          analysis.Thesis,
		Provider:        c.Narrator.Name(),
		CreatedAt:       now,
	}
	if basis, err := json.Marshal(snap); err == nil {
		stored.Basis = datatypes.JSON(basis)
	}
	if err := c.DB.WithContext(ctx).Create(&stored).Error; err != nil {
		// The insight is still good; it just will not be reused.
		log.Error().Err(err).Str("portfolio_id", snap.PortfolioID.String()).Msg("storing insight failed")
	}
	metrics.Insights.WithLabelValues(SourceGenerated).Inc()
	return fromSnapshot(stored, SourceGenerated), nil
}

func (c *Cache) logFailure(portfolioID uuid.UUID, err error) {
	kind := "upstream"
	ev := log.Warn()
	if errors.Is(err, domain.ErrMalformedNarrative) {
		kind = "malformed"
		ev = log.Error()
	}
	metrics.NarrativeFailures.WithLabelValues(kind).Inc()
	ev.Err(err).Str("portfolio_id", portfolioID.String()).Str("provider", c.Narrator.Name()).Str("kind", kind).Msg("narrative generation failed, serving fallback insight")
}

// History lists stored insights of a portfolio, newest first.
func (c *Cache) History(ctx context.Context, portfolioID uuid.UUID, limit int) ([]Insight, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	var rows []domain.InsightSnapshot
	if err := c.DB.WithContext(ctx).
		Where("portfolio_id = ?", portfolioID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Insight, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromSnapshot(r, SourceCached))
	}
	return out, nil
}

// Fallback builds a deterministic insight from the valuation numbers alone.
func Fallback(snap valuation.Snapshot, at time.Time) Insight {
	return Insight{
		Summary: fmt.Sprintf("This portfolio has a total value of %s across %d holdings plus %s in cash.",
			narrative.FormatUSD(snap.TotalValue), len(snap.Holdings), narrative.FormatUSD(snap.Cash)),
		Diversification: "Portfolio contains holdings across multiple sectors providing reasonable diversification.",
		RiskAnalysis:    "Risk level appears moderate based on the portfolio composition.",
		Thesis:          "Balanced investment approach with focus on growth and stability.",
		CreatedAt:       at,
		Source:          SourceFallback,
	}
}
