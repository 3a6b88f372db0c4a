// Package gateway resolves who may see a portfolio (its owner, another signed-in caller, or the
// holder of a share token) and composes the valuation and insight they get back.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"smartfolio-backend/internal/application/insights"
	"smartfolio-backend/internal/application/narrative"
	"smartfolio-backend/internal/application/portfolios"
	"smartfolio-backend/internal/application/sharing"
	"smartfolio-backend/internal/application/valuation"
	"smartfolio-backend/internal/domain"
	"smartfolio-backend/internal/infrastructure/metrics"
	"smartfolio-backend/internal/pkg/validation"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrNoIdentity is returned when a request carries neither a session identity nor a token.
var ErrNoIdentity = errors.New("Unauthorized")

// How the caller reached the portfolio.
const (
	AccessOwner  = "owner"
	AccessViewer = "viewer"
	AccessToken  = "token"
)

const (
	maxChatTurns       = 20
	defaultChatTimeout = 20 * time.Second
	chatApology        = "I apologize, but I encountered an error while processing your question."
)

type Gateway struct {
	Portfolios  *portfolios.Service
	Shares      *sharing.Service
	Valuation   *valuation.Aggregator
	Insights    *insights.Cache
	Narrator    narrative.Narrator
	ChatTimeout time.Duration
	Now         func() time.Time
}

// ViewRequest identifies the portfolio either by PortfolioID, by Token, or by both (then they must agree).
type ViewRequest struct {
	PortfolioID uuid.UUID
	Token       string
	CallerID    string
	IP          string
	UserAgent   string
}

type PortfolioMeta struct {
	PortfolioID uuid.UUID         `json:"portfolio_id"`
	Name        string            `json:"name"`
	Description *string           `json:"description"`
	Visibility  domain.Visibility `json:"visibility"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

type View struct {
	Portfolio PortfolioMeta      `json:"portfolio"`
	Valuation valuation.Snapshot `json:"valuation"`
	Insight   insights.Insight   `json:"insights"`
	Access    string             `json:"access"`
}

type ChatRequest struct {
	ViewRequest
	Question string
	History  []narrative.Turn
}

type ChatReply struct {
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
}

type resolved struct {
	portfolio *domain.Portfolio
	token     *domain.ShareToken
	access    string
}

func tokenPrefix(token string) string {
	if len(token) > 6 {
		return token[:6] + "…"
	}
	return token
}

func (g *Gateway) now() time.Time {
	if g.Now != nil {
		return g.Now().UTC()
	}
	return time.Now().UTC()
}

func invalidShare(reason string) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidShare, reason)
}

// resolve applies token precedence: a token, when present, decides access alone.
func (g *Gateway) resolve(ctx context.Context, req ViewRequest) (*resolved, error) {
	if req.Token != "" {
		t, err := g.Shares.Resolve(ctx, req.Token)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidShare) {
				log.Info().Err(err).Str("token", tokenPrefix(req.Token)).Msg("share token rejected")
				return nil, domain.ErrInvalidShare
			}
			return nil, err
		}
		if req.PortfolioID != uuid.Nil && req.PortfolioID != t.PortfolioID {
			metrics.ShareDenied.WithLabelValues("mismatch").Inc()
			log.Info().Str("token", tokenPrefix(req.Token)).Str("portfolio_id", req.PortfolioID.String()).Msg("share token used for another portfolio")
			return nil, invalidShare("portfolio mismatch")
		}
		p, err := g.Portfolios.Get(ctx, t.PortfolioID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, invalidShare("portfolio gone")
			}
			return nil, err
		}
		return &resolved{portfolio: p, token: t, access: AccessToken}, nil
	}

	if req.CallerID == "" {
		return nil, ErrNoIdentity
	}
	if req.PortfolioID == uuid.Nil {
		return nil, fmt.Errorf("%w: portfolio", domain.ErrNotFound)
	}
	p, err := g.Portfolios.Get(ctx, req.PortfolioID)
	if err != nil {
		return nil, err
	}
	if p.IsOwnedBy(req.CallerID) {
		return &resolved{portfolio: p, access: AccessOwner}, nil
	}
	if p.Browsable() {
		return &resolved{portfolio: p, access: AccessViewer}, nil
	}
	// Private portfolios of others look exactly like missing ones.
	return nil, fmt.Errorf("%w: portfolio", domain.ErrNotFound)
}

// View resolves access, records token views, then values the portfolio and attaches its insight.
// Work after resolution is detached from ctx cancellation so an abandoned request still finishes
// logging and caching.
func (g *Gateway) View(ctx context.Context, req ViewRequest) (*View, error) {
	r, err := g.resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	work := context.WithoutCancel(ctx)

	if r.token != nil {
		if err := g.Shares.RecordAccess(work, r.token.TokenID, req.IP, req.UserAgent); err != nil {
			log.Error().Err(err).Str("token_id", r.token.TokenID.String()).Msg("recording share access failed")
		}
		if req.CallerID != "" {
			if _, err := g.Shares.BindIdentity(work, r.token.TokenID, req.CallerID); err != nil {
				log.Error().Err(err).Str("token_id", r.token.TokenID.String()).Msg("binding share viewer failed")
			}
		}
	}

	snap := g.Valuation.Valuate(work, r.portfolio)
	insight, err := g.Insights.GetOrRefresh(work, snap)
	if err != nil {
		return nil, err
	}

	return &View{
		Portfolio: PortfolioMeta{
			PortfolioID: r.portfolio.PortfolioID,
			Name:        r.portfolio.Name,
			Description: r.portfolio.Description,
			Visibility:  r.portfolio.Visibility,
			CreatedAt:   r.portfolio.CreatedAt,
			UpdatedAt:   r.portfolio.UpdatedAt,
		},
		Valuation: snap,
		Insight:   insight,
		Access:    r.access,
	}, nil
}

// Chat answers a question about the portfolio. Answers are never cached and token use is not
// recorded. A narrator failure yields an apology, not an error.
func (g *Gateway) Chat(ctx context.Context, req ChatRequest) (*ChatReply, error) {
	question := strings.TrimSpace(req.Question)
	if !validation.IsValidQuestion(question) {
		return nil, domain.Validation("question must be 1-500 characters")
	}
	r, err := g.resolve(ctx, req.ViewRequest)
	if err != nil {
		return nil, err
	}
	work := context.WithoutCancel(ctx)
	snap := g.Valuation.Valuate(work, r.portfolio)

	timeout := g.ChatTimeout
	if timeout <= 0 {
		timeout = defaultChatTimeout
	}
	callCtx, cancel := context.WithTimeout(work, timeout)
	defer cancel()

	answer, err := g.Narrator.Chat(callCtx, snap, question, narrative.ValidHistory(req.History, maxChatTurns))
	if err != nil {
		log.Warn().Err(err).Str("portfolio_id", r.portfolio.PortfolioID.String()).Str("provider", g.Narrator.Name()).Msg("chat answer failed")
		answer = chatApology
	}
	return &ChatReply{Response: answer, Timestamp: g.now()}, nil
}
