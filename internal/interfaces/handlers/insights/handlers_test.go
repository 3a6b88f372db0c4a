package insights

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"smartfolio-backend/internal/application/gateway"
	insightsvc "smartfolio-backend/internal/application/insights"
	"smartfolio-backend/internal/application/narrative"
	"smartfolio-backend/internal/application/portfolios"
	"smartfolio-backend/internal/application/pricing"
	"smartfolio-backend/internal/application/sharing"
	"smartfolio-backend/internal/application/valuation"
	"smartfolio-backend/internal/domain"
	"smartfolio-backend/internal/infrastructure/database"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupInsightsTest(t *testing.T) (*Handlers, *gateway.Gateway) {
	db, err := database.OpenSQLite(":memory:", nil)
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	prices := pricing.NewSimulated(7)
	n := narrative.Unavailable{}
	g := &gateway.Gateway{
		Portfolios: &portfolios.Service{DB: db},
		Shares:     &sharing.Service{DB: db, BaseURL: "https://folio.example"},
		Valuation:  &valuation.Aggregator{Prices: prices},
		Insights:   &insightsvc.Cache{DB: db, Narrator: n, TTL: time.Hour, Timeout: time.Second},
		Narrator:   n,
	}
	return &Handlers{Gateway: g}, g
}

func newApp(h *Handlers, userID string) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if userID != "" {
			c.Locals("user", map[string]interface{}{"user_id": userID})
		}
		return c.Next()
	})
	app.Get("/insights/:portfolioId", h.Snapshot)
	app.Post("/insights/:portfolioId/chat", h.Chat)
	app.Get("/shared", h.Shared)
	return app
}

func seedPortfolio(t *testing.T, g *gateway.Gateway, owner string) *domain.Portfolio {
	t.Helper()
	p, err := g.Portfolios.Create(context.Background(), owner, portfolios.CreateInput{
		Name:     "Income",
		Cash:     decimal.NewFromInt(1000),
		Holdings: []portfolios.HoldingInput{{Symbol: "KO", Quantity: decimal.NewFromInt(5)}},
	})
	require.NoError(t, err)
	return p
}

func get(t *testing.T, app *fiber.App, path string) (int, map[string]interface{}) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest("GET", path, nil))
	require.NoError(t, err)
	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestSnapshot_AnonymousWithoutToken(t *testing.T) {
	h, g := setupInsightsTest(t)
	p := seedPortfolio(t, g, "alice")
	code, _ := get(t, newApp(h, ""), "/insights/"+p.PortfolioID.String())
	assert.Equal(t, 401, code)
}

func TestSnapshot_OwnerGetsFallbackInsight(t *testing.T) {
	h, g := setupInsightsTest(t)
	p := seedPortfolio(t, g, "alice")
	code, out := get(t, newApp(h, "alice"), "/insights/"+p.PortfolioID.String())
	require.Equal(t, 200, code)
	data := out["data"].(map[string]interface{})
	assert.Equal(t, "owner", data["access"])
	insight := data["insights"].(map[string]interface{})
	assert.Equal(t, insightsvc.SourceFallback, insight["source"])
	assert.Contains(t, insight["summary"], "across 1 holdings")
}

func TestSnapshot_InvalidTokenIs404(t *testing.T) {
	h, g := setupInsightsTest(t)
	p := seedPortfolio(t, g, "alice")
	code, out := get(t, newApp(h, ""), "/insights/"+p.PortfolioID.String()+"?token=nope")
	assert.Equal(t, 404, code)
	assert.Equal(t, "error", out["status"])
}

func TestShared_ByTokenOnly(t *testing.T) {
	h, g := setupInsightsTest(t)
	p := seedPortfolio(t, g, "alice")
	link, err := g.Shares.Issue(context.Background(), p.PortfolioID, "alice", sharing.IssueOptions{})
	require.NoError(t, err)

	code, out := get(t, newApp(h, ""), "/shared?token="+link.Token)
	require.Equal(t, 200, code)
	data := out["data"].(map[string]interface{})
	assert.Equal(t, "token", data["access"])
	assert.Equal(t, "Income", data["portfolio"].(map[string]interface{})["name"])

	code, _ = get(t, newApp(h, ""), "/shared")
	assert.Equal(t, 404, code)
}

func TestChat_ApologyWhenNoProvider(t *testing.T) {
	h, g := setupInsightsTest(t)
	p := seedPortfolio(t, g, "alice")

	b, _ := json.Marshal(map[string]interface{}{
		"question":            "Is this too much cash?",
		"conversationHistory": []map[string]string{{"role": "user", "content": "hi"}},
	})
	req := httptest.NewRequest("POST", "/insights/"+p.PortfolioID.String()+"/chat", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	resp, err := newApp(h, "alice").Test(req)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	data := out["data"].(map[string]interface{})
	assert.Contains(t, data["response"], "I apologize")
	assert.NotEmpty(t, data["timestamp"])
}

func TestChat_EmptyQuestionIs400(t *testing.T) {
	h, g := setupInsightsTest(t)
	p := seedPortfolio(t, g, "alice")

	req := httptest.NewRequest("POST", "/insights/"+p.PortfolioID.String()+"/chat", bytes.NewReader([]byte(`{"question":""}`)))
	req.Header.Set("Content-Type", "application/json")
	resp, err := newApp(h, "alice").Test(req)
	require.NoError(t, err)
	assert.Equal(t, 400, resp.StatusCode)
}
