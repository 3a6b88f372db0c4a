package insights

import (
	"errors"

	"smartfolio-backend/internal/application/gateway"
	"smartfolio-backend/internal/application/narrative"
	"smartfolio-backend/internal/domain"
	"smartfolio-backend/internal/middleware"
	"smartfolio-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Handlers serve valuation snapshots and chat to owners, other signed-in callers and share-token
// holders alike. The gateway decides who gets in.
type Handlers struct {
	Gateway *gateway.Gateway
}

func viewRequest(c *fiber.Ctx, idParam string) (gateway.ViewRequest, error) {
	req := gateway.ViewRequest{
		Token:     c.Query("token"),
		CallerID:  middleware.CurrentUserID(c),
		IP:        c.IP(),
		UserAgent: c.Get(fiber.HeaderUserAgent),
	}
	if idParam != "" {
		id, err := uuid.Parse(c.Params(idParam))
		if err != nil {
			return req, domain.Validation("Invalid UUID format for portfolio id")
		}
		req.PortfolioID = id
	}
	return req, nil
}

func fail(c *fiber.Ctx, err error) error {
	if errors.Is(err, gateway.ErrNoIdentity) {
		return response.Unauthorized(c, "Unauthorized")
	}
	return response.FromError(c, err)
}

// Snapshot GET /api/v1/insights/:portfolioId[?token=]
func (h *Handlers) Snapshot(c *fiber.Ctx) error {
	req, err := viewRequest(c, "portfolioId")
	if err != nil {
		return fail(c, err)
	}
	v, err := h.Gateway.View(c.UserContext(), req)
	if err != nil {
		return fail(c, err)
	}
	return response.Success(c, "Portfolio insights retrieved", v, fiber.Map{"access": v.Access})
}

// Shared GET /api/v1/shared?token=
func (h *Handlers) Shared(c *fiber.Ctx) error {
	req, _ := viewRequest(c, "")
	if req.Token == "" {
		return response.FromError(c, domain.ErrInvalidShare)
	}
	v, err := h.Gateway.View(c.UserContext(), req)
	if err != nil {
		return fail(c, err)
	}
	return response.Success(c, "Shared portfolio retrieved", v, nil)
}

// Chat POST /api/v1/insights/:portfolioId/chat[?token=]
func (h *Handlers) Chat(c *fiber.Ctx) error {
	req, err := viewRequest(c, "portfolioId")
	if err != nil {
		return fail(c, err)
	}
	var body struct {
		Question string           `json:"question"`
		History  []narrative.Turn `json:"conversationHistory"`
	}
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	reply, err := h.Gateway.Chat(c.UserContext(), gateway.ChatRequest{
		ViewRequest: req,
		Question:    body.Question,
		History:     body.History,
	})
	if err != nil {
		return fail(c, err)
	}
	return response.Success(c, "Answer generated", reply, nil)
}
