package portfolios

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"smartfolio-backend/internal/application/insights"
	portfoliosvc "smartfolio-backend/internal/application/portfolios"
	"smartfolio-backend/internal/application/sharing"
	"smartfolio-backend/internal/domain"
	"smartfolio-backend/internal/infrastructure/database"
	"smartfolio-backend/internal/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupPortfolioTest(t *testing.T) (*Handlers, *gorm.DB) {
	db, err := database.OpenSQLite(":memory:", nil)
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	h := &Handlers{
		Service:  &portfoliosvc.Service{DB: db},
		Shares:   &sharing.Service{DB: db, BaseURL: "https://folio.example"},
		Insights: &insights.Cache{DB: db},
	}
	return h, db
}

// newApp mounts the routes like the router does; userID "" means anonymous.
func newApp(h *Handlers, userID string) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if userID != "" {
			c.Locals("user", map[string]interface{}{"user_id": userID})
		}
		return c.Next()
	})
	g := app.Group("/portfolios", middleware.RequireAuth())
	g.Post("/", h.Create)
	g.Get("/", h.List)
	g.Get("/public", h.ListPublic)
	g.Get("/:id", h.Get)
	g.Put("/:id", h.Update)
	g.Post("/:id/share", h.Share)
	g.Delete("/:id/share", h.Revoke)
	g.Get("/:id/share/analytics", h.Analytics)
	g.Get("/:id/share/analytics/export", h.ExportAnalytics)
	g.Get("/:id/insights/history", h.InsightHistory)
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func seed(t *testing.T, h *Handlers, owner string, vis domain.Visibility) *domain.Portfolio {
	t.Helper()
	p, err := h.Service.Create(context.Background(), owner, portfoliosvc.CreateInput{
		Name:       "Core",
		Cash:       decimal.NewFromInt(100),
		Visibility: vis,
		Holdings:   []portfoliosvc.HoldingInput{{Symbol: "MSFT", Quantity: decimal.NewFromInt(2)}},
	})
	require.NoError(t, err)
	return p
}

func TestCreate_Unauthenticated(t *testing.T) {
	h, _ := setupPortfolioTest(t)
	code, out := doJSON(t, newApp(h, ""), "POST", "/portfolios", map[string]interface{}{"name": "x"})
	assert.Equal(t, 401, code)
	assert.Equal(t, "error", out["status"])
}

func TestCreate_ValidatesInput(t *testing.T) {
	h, _ := setupPortfolioTest(t)
	code, out := doJSON(t, newApp(h, "alice"), "POST", "/portfolios", map[string]interface{}{
		"name":     "Core",
		"holdings": []map[string]interface{}{{"symbol": "NOT A TICKER!", "quantity": 1}},
	})
	assert.Equal(t, 400, code)
	assert.Equal(t, "error", out["status"])
}

func TestCreate_ReturnsPortfolio(t *testing.T) {
	h, _ := setupPortfolioTest(t)
	code, out := doJSON(t, newApp(h, "alice"), "POST", "/portfolios", map[string]interface{}{
		"name":     "Core",
		"cash":     "250.50",
		"holdings": []map[string]interface{}{{"symbol": "aapl", "quantity": "3"}},
	})
	require.Equal(t, 201, code)
	data := out["data"].(map[string]interface{})
	assert.Equal(t, "Core", data["name"])
	assert.Equal(t, "PRIVATE", data["visibility"])
	holdings := data["holdings"].([]interface{})
	require.Len(t, holdings, 1)
	assert.Equal(t, "AAPL", holdings[0].(map[string]interface{})["symbol"])
}

func TestGet_PrivateOfAnotherIs404(t *testing.T) {
	h, _ := setupPortfolioTest(t)
	p := seed(t, h, "alice", domain.VisibilityPrivate)

	code, _ := doJSON(t, newApp(h, "bob"), "GET", "/portfolios/"+p.PortfolioID.String(), nil)
	assert.Equal(t, 404, code)

	code, _ = doJSON(t, newApp(h, "alice"), "GET", "/portfolios/"+p.PortfolioID.String(), nil)
	assert.Equal(t, 200, code)

	code, _ = doJSON(t, newApp(h, "alice"), "GET", "/portfolios/not-a-uuid", nil)
	assert.Equal(t, 400, code)
}

func TestUpdate_NotOwnerIs403(t *testing.T) {
	h, _ := setupPortfolioTest(t)
	p := seed(t, h, "alice", domain.VisibilityPublic)

	code, _ := doJSON(t, newApp(h, "bob"), "PUT", "/portfolios/"+p.PortfolioID.String(), map[string]interface{}{"name": "Mine now"})
	assert.Equal(t, 403, code)
}

func TestShare_IssueAndRevoke(t *testing.T) {
	h, db := setupPortfolioTest(t)
	p := seed(t, h, "alice", domain.VisibilityPrivate)
	app := newApp(h, "alice")
	path := "/portfolios/" + p.PortfolioID.String() + "/share"

	code, out := doJSON(t, app, "POST", path, nil)
	require.Equal(t, 200, code)
	assert.Equal(t, "Share link created", out["message"])
	data := out["data"].(map[string]interface{})
	token := data["token"].(string)
	assert.Contains(t, data["shareUrl"], token)

	code, out = doJSON(t, app, "POST", path, nil)
	require.Equal(t, 200, code)
	assert.Equal(t, "Share link already active", out["message"])
	assert.Equal(t, token, out["data"].(map[string]interface{})["token"])

	code, _ = doJSON(t, newApp(h, "bob"), "POST", path, nil)
	assert.Equal(t, 403, code)

	code, out = doJSON(t, app, "DELETE", path, nil)
	require.Equal(t, 200, code)
	assert.EqualValues(t, 1, out["data"].(map[string]interface{})["revoked"])

	var stored domain.Portfolio
	require.NoError(t, db.Where("portfolio_id = ?", p.PortfolioID).First(&stored).Error)
	assert.Equal(t, domain.VisibilityPrivate, stored.Visibility)
}

func TestShare_RejectsBadExpiry(t *testing.T) {
	h, _ := setupPortfolioTest(t)
	p := seed(t, h, "alice", domain.VisibilityPrivate)
	code, _ := doJSON(t, newApp(h, "alice"), "POST", "/portfolios/"+p.PortfolioID.String()+"/share", map[string]interface{}{"expiresInHours": 24 * 400})
	assert.Equal(t, 400, code)

	// Large enough to wrap time.Duration back into the accepted window.
	code, _ = doJSON(t, newApp(h, "alice"), "POST", "/portfolios/"+p.PortfolioID.String()+"/share", map[string]interface{}{"expiresInHours": 5124097})
	assert.Equal(t, 400, code)

	code, _ = doJSON(t, newApp(h, "alice"), "POST", "/portfolios/"+p.PortfolioID.String()+"/share", map[string]interface{}{"expiresInHours": -1})
	assert.Equal(t, 400, code)
}

func TestAnalytics_OwnerOnly(t *testing.T) {
	h, _ := setupPortfolioTest(t)
	p := seed(t, h, "alice", domain.VisibilityPrivate)
	link, err := h.Shares.Issue(context.Background(), p.PortfolioID, "alice", sharing.IssueOptions{})
	require.NoError(t, err)
	require.NoError(t, h.Shares.RecordAccess(context.Background(), link.TokenID, "10.0.0.1", "ua"))

	path := "/portfolios/" + p.PortfolioID.String() + "/share/analytics"
	code, _ := doJSON(t, newApp(h, "bob"), "GET", path, nil)
	assert.Equal(t, 403, code)

	code, out := doJSON(t, newApp(h, "alice"), "GET", path, nil)
	require.Equal(t, 200, code)
	data := out["data"].(map[string]interface{})
	assert.EqualValues(t, 1, data["totalViews"])
	assert.EqualValues(t, 1, data["uniqueVisitorCount"])
}

func TestAnalytics_NoTokenIs404(t *testing.T) {
	h, _ := setupPortfolioTest(t)
	p := seed(t, h, "alice", domain.VisibilityPrivate)
	code, _ := doJSON(t, newApp(h, "alice"), "GET", "/portfolios/"+p.PortfolioID.String()+"/share/analytics", nil)
	assert.Equal(t, 404, code)
}

func TestExportAnalytics_SendsWorkbook(t *testing.T) {
	h, _ := setupPortfolioTest(t)
	p := seed(t, h, "alice", domain.VisibilityPrivate)
	_, err := h.Shares.Issue(context.Background(), p.PortfolioID, "alice", sharing.IssueOptions{})
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/portfolios/"+p.PortfolioID.String()+"/share/analytics/export", nil)
	resp, err := newApp(h, "alice").Test(req)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, xlsxContentType, resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), ".xlsx")
	body, _ := io.ReadAll(resp.Body)
	// xlsx files are zip archives
	assert.True(t, bytes.HasPrefix(body, []byte("PK")))
}

func TestInsightHistory_Empty(t *testing.T) {
	h, _ := setupPortfolioTest(t)
	p := seed(t, h, "alice", domain.VisibilityPrivate)
	code, out := doJSON(t, newApp(h, "alice"), "GET", "/portfolios/"+p.PortfolioID.String()+"/insights/history", nil)
	require.Equal(t, 200, code)
	assert.Empty(t, out["data"])

	code, _ = doJSON(t, newApp(h, "bob"), "GET", "/portfolios/"+p.PortfolioID.String()+"/insights/history", nil)
	assert.Equal(t, 403, code)
}
