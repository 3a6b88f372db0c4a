package insights

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"smartfolio-backend/internal/application/narrative"
	"smartfolio-backend/internal/application/valuation"
	"smartfolio-backend/internal/domain"
	"smartfolio-backend/internal/infrastructure/database"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeNarrator struct {
	calls atomic.Int32
	err   error
	delay time.Duration
}

func (f *fakeNarrator) Name() string { return "fake" }

func (f *fakeNarrator) Analyze(ctx context.Context, snap valuation.Snapshot) (narrative.Analysis, error) {
	n := f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return narrative.Analysis{}, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, ctx.Err())
		}
	}
	if f.err != nil {
		return narrative.Analysis{}, f.err
	}
	return narrative.Analysis{
		Summary:         fmt.Sprintf("summary %d", n),
		Diversification: "diversified",
		RiskAnalysis:    "moderate",
		Thesis:          "steady",
	}, nil
}

func (f *fakeNarrator) Chat(ctx context.Context, snap valuation.Snapshot, q string, h []narrative.Turn) (string, error) {
	return "", errors.New("not used")
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func setupCacheTest(t *testing.T, n narrative.Narrator) (*Cache, *gorm.DB, *clock) {
	t.Helper()
	db, err := database.OpenSQLite(":memory:", nil)
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	clk := &clock{now: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)}
	return &Cache{DB: db, Narrator: n, TTL: time.Hour, Timeout: time.Second, Now: clk.Now}, db, clk
}

func snap(t *testing.T, db *gorm.DB) valuation.Snapshot {
	t.Helper()
	p := &domain.Portfolio{OwnerID: "o", Name: "P", Cash: decimal.NewFromInt(500)}
	require.NoError(t, db.Create(p).Error)
	return valuation.Snapshot{
		PortfolioID:        p.PortfolioID,
		Name:               p.Name,
		Cash:               p.Cash,
		Holdings:           []valuation.HoldingValue{{Symbol: "AAPL", Value: decimal.NewFromInt(1000)}},
		TotalHoldingsValue: decimal.NewFromInt(1000),
		TotalValue:         decimal.NewFromInt(1500),
	}
}

func TestGetOrRefresh_FreshInsightSkipsNarrator(t *testing.T) {
	n := &fakeNarrator{}
	c, db, clk := setupCacheTest(t, n)
	s := snap(t, db)
	ctx := context.Background()

	first, err := c.GetOrRefresh(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, SourceGenerated, first.Source)
	assert.Equal(t, "fake", first.Provider)

	clk.now = clk.now.Add(59 * time.Minute)
	second, err := c.GetOrRefresh(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, SourceCached, second.Source)
	assert.Equal(t, first.Summary, second.Summary)
	assert.Equal(t, int32(1), n.calls.Load())

	clk.now = clk.now.Add(2 * time.Minute)
	third, err := c.GetOrRefresh(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, SourceGenerated, third.Source)
	assert.Equal(t, "summary 2", third.Summary)
	assert.Equal(t, int32(2), n.calls.Load())

	var stored []domain.InsightSnapshot
	require.NoError(t, db.Where("portfolio_id = ?", s.PortfolioID).Find(&stored).Error)
	assert.Len(t, stored, 2)
	assert.NotEmpty(t, stored[0].Basis)
}

func TestGetOrRefresh_FallbackIsNotPersisted(t *testing.T) {
	n := &fakeNarrator{err: fmt.Errorf("%w: quota", domain.ErrUpstreamUnavailable)}
	c, db, _ := setupCacheTest(t, n)
	s := snap(t, db)
	ctx := context.Background()

	got, err := c.GetOrRefresh(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, got.Source)
	assert.Equal(t, "This portfolio has a total value of $1,500.00 across 1 holdings plus $500.00 in cash.", got.Summary)

	again, err := c.GetOrRefresh(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, again.Source)
	assert.Equal(t, int32(2), n.calls.Load(), "second call retries generation")

	var count int64
	require.NoError(t, db.Model(&domain.InsightSnapshot{}).Count(&count).Error)
	assert.Zero(t, count)

	n.err = nil
	recovered, err := c.GetOrRefresh(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, SourceGenerated, recovered.Source)
}

func TestGetOrRefresh_MalformedOutputFallsBack(t *testing.T) {
	n := &fakeNarrator{err: fmt.Errorf("%w: prose", domain.ErrMalformedNarrative)}
	c, db, _ := setupCacheTest(t, n)
	got, err := c.GetOrRefresh(context.Background(), snap(t, db))
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, got.Source)
}

func TestGetOrRefresh_TimeoutFallsBack(t *testing.T) {
	n := &fakeNarrator{delay: time.Minute}
	c, db, _ := setupCacheTest(t, n)
	c.Timeout = 50 * time.Millisecond

	start := time.Now()
	got, err := c.GetOrRefresh(context.Background(), snap(t, db))
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, got.Source)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestHistory_NewestFirst(t *testing.T) {
	c, db, clk := setupCacheTest(t, &fakeNarrator{})
	s := snap(t, db)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := c.GetOrRefresh(ctx, s)
		require.NoError(t, err)
		clk.now = clk.now.Add(2 * time.Hour)
	}

	h, err := c.History(ctx, s.PortfolioID, 2)
	require.NoError(t, err)
	require.Len(t, h, 2)
	assert.Equal(t, "summary 3", h[0].Summary)
	assert.Equal(t, "summary 2", h[1].Summary)

	none, err := c.History(ctx, uuid.New(), 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestIsFresh(t *testing.T) {
	now := time.Now()
	assert.False(t, IsFresh(time.Time{}, now, time.Hour))
	assert.True(t, IsFresh(now.Add(-time.Minute), now, time.Hour))
	assert.False(t, IsFresh(now.Add(-time.Hour), now, time.Hour))
}
