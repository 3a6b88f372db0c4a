package portfolios

import (
	"fmt"
	"time"

	"smartfolio-backend/internal/application/insights"
	portfoliosvc "smartfolio-backend/internal/application/portfolios"
	"smartfolio-backend/internal/application/sharing"
	"smartfolio-backend/internal/domain"
	"smartfolio-backend/internal/middleware"
	"smartfolio-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Handlers struct {
	Service  *portfoliosvc.Service
	Shares   *sharing.Service
	Insights *insights.Cache
}

func portfolioID(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, domain.Validation("Invalid UUID format for portfolio id")
	}
	return id, nil
}

// Create POST /api/v1/portfolios
func (h *Handlers) Create(c *fiber.Ctx) error {
	var body portfoliosvc.CreateInput
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	p, err := h.Service.Create(c.UserContext(), middleware.CurrentUserID(c), body)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.SuccessCreated(c, "Portfolio created", p, nil)
}

// List GET /api/v1/portfolios
func (h *Handlers) List(c *fiber.Ctx) error {
	list, err := h.Service.List(c.UserContext(), middleware.CurrentUserID(c))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Portfolios retrieved", list, fiber.Map{"count": len(list)})
}

// ListPublic GET /api/v1/portfolios/public?limit=
func (h *Handlers) ListPublic(c *fiber.Ctx) error {
	list, err := h.Service.ListPublic(c.UserContext(), c.QueryInt("limit", 50))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Public portfolios retrieved", list, fiber.Map{"count": len(list)})
}

// Get GET /api/v1/portfolios/:id. Other callers' private portfolios read as missing.
func (h *Handlers) Get(c *fiber.Ctx) error {
	id, err := portfolioID(c)
	if err != nil {
		return response.FromError(c, err)
	}
	p, err := h.Service.Get(c.UserContext(), id)
	if err != nil {
		return response.FromError(c, err)
	}
	if !p.IsOwnedBy(middleware.CurrentUserID(c)) && !p.Browsable() {
		return response.FromError(c, domain.ErrNotFound)
	}
	return response.Success(c, "Portfolio retrieved", p, nil)
}

// Update PUT /api/v1/portfolios/:id
func (h *Handlers) Update(c *fiber.Ctx) error {
	id, err := portfolioID(c)
	if err != nil {
		return response.FromError(c, err)
	}
	var body portfoliosvc.UpdateInput
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	p, err := h.Service.Update(c.UserContext(), id, middleware.CurrentUserID(c), body)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Portfolio updated", p, nil)
}

// Share POST /api/v1/portfolios/:id/share. Body {"expiresInHours": n} is optional; repeated calls
// return the same live link.
func (h *Handlers) Share(c *fiber.Ctx) error {
	id, err := portfolioID(c)
	if err != nil {
		return response.FromError(c, err)
	}
	var body struct {
		ExpiresInHours int `json:"expiresInHours"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
		}
	}
	if body.ExpiresInHours < 0 || body.ExpiresInHours > int(sharing.MaxExpiry/time.Hour) {
		return response.Error(c, "expiresInHours must be between 1 and 8760", fiber.StatusBadRequest, nil)
	}
	link, err := h.Shares.Issue(c.UserContext(), id, middleware.CurrentUserID(c), sharing.IssueOptions{
		ExpiresIn: time.Duration(body.ExpiresInHours) * time.Hour,
	})
	if err != nil {
		return response.FromError(c, err)
	}
	msg := "Share link already active"
	if link.Created {
		msg = "Share link created"
	}
	return response.Success(c, msg, link, nil)
}

// Revoke DELETE /api/v1/portfolios/:id/share
func (h *Handlers) Revoke(c *fiber.Ctx) error {
	id, err := portfolioID(c)
	if err != nil {
		return response.FromError(c, err)
	}
	n, err := h.Shares.RevokeAll(c.UserContext(), id, middleware.CurrentUserID(c))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Share links revoked", fiber.Map{"revoked": n}, nil)
}

// Analytics GET /api/v1/portfolios/:id/share/analytics
func (h *Handlers) Analytics(c *fiber.Ctx) error {
	id, err := portfolioID(c)
	if err != nil {
		return response.FromError(c, err)
	}
	a, err := h.Shares.OwnerAnalytics(c.UserContext(), id, middleware.CurrentUserID(c))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Share analytics retrieved", a, nil)
}

// ExportAnalytics GET /api/v1/portfolios/:id/share/analytics/export
func (h *Handlers) ExportAnalytics(c *fiber.Ctx) error {
	id, err := portfolioID(c)
	if err != nil {
		return response.FromError(c, err)
	}
	t, err := h.Shares.LiveToken(c.UserContext(), id, middleware.CurrentUserID(c))
	if err != nil {
		return response.FromError(c, err)
	}
	b, err := h.Shares.ExportAnalytics(c.UserContext(), t.TokenID)
	if err != nil {
		return response.FromError(c, err)
	}
	log.Info().Str("trace_id", middleware.GetTraceID(c)).Str("portfolio_id", id.String()).Int("bytes", len(b)).Msg("share analytics exported")
	c.Set(fiber.HeaderContentType, xlsxContentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="share-analytics-%s.xlsx"`, id))
	return c.Send(b)
}

// InsightHistory GET /api/v1/portfolios/:id/insights/history?limit=
func (h *Handlers) InsightHistory(c *fiber.Ctx) error {
	id, err := portfolioID(c)
	if err != nil {
		return response.FromError(c, err)
	}
	if _, err := h.Service.GetOwned(c.UserContext(), id, middleware.CurrentUserID(c)); err != nil {
		return response.FromError(c, err)
	}
	list, err := h.Insights.History(c.UserContext(), id, c.QueryInt("limit", 10))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Insight history retrieved", list, fiber.Map{"count": len(list)})
}
