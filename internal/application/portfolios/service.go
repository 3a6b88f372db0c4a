package portfolios

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"smartfolio-backend/internal/application/pricing"
	"smartfolio-backend/internal/domain"
	"smartfolio-backend/internal/pkg/validation"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Service encapsulates portfolio and holding persistence.
type Service struct {
	DB *gorm.DB
}

type HoldingInput struct {
	Symbol   string           `json:"symbol"`
	Quantity decimal.Decimal  `json:"quantity"`
	AvgPrice *decimal.Decimal `json:"avgPrice"`
}

type CreateInput struct {
	Name        string            `json:"name"`
	Description *string           `json:"description"`
	Cash        decimal.Decimal   `json:"cash"`
	Visibility  domain.Visibility `json:"visibility"`
	Holdings    []HoldingInput    `json:"holdings"`
}

// UpdateInput edits only the fields that are set. Holdings, when set, replaces the whole list.
type UpdateInput struct {
	Name        *string            `json:"name"`
	Description *string            `json:"description"`
	Cash        *decimal.Decimal   `json:"cash"`
	Visibility  *domain.Visibility `json:"visibility"`
	Holdings    *[]HoldingInput    `json:"holdings"`
}

func orderedHoldings(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}

// Create stores a portfolio and its holdings for ownerID.
func (s *Service) Create(ctx context.Context, ownerID string, in CreateInput) (*domain.Portfolio, error) {
	if ownerID == "" {
		return nil, errors.New("owner_id is required")
	}
	if !validation.IsValidPortfolioName(in.Name) {
		return nil, domain.Validation("name must be 1-100 characters")
	}
	if in.Description != nil && !validation.IsValidDescription(*in.Description) {
		return nil, domain.Validation("description is too long")
	}
	if !validation.IsNonNegative(in.Cash) {
		return nil, domain.Validation("cash must not be negative")
	}
	if in.Visibility == "" {
		in.Visibility = domain.VisibilityPrivate
	}
	if err := checkVisibility(in.Visibility); err != nil {
		return nil, err
	}
	holdings, err := buildHoldings(in.Holdings, nil)
	if err != nil {
		return nil, err
	}

	p := &domain.Portfolio{
		OwnerID:     ownerID,
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Cash:        in.Cash,
		Visibility:  in.Visibility,
		Holdings:    holdings,
	}
	if err := s.DB.WithContext(ctx).Create(p).Error; err != nil {
		return nil, err
	}
	return p, nil
}

// List returns ownerID's portfolios, most recently updated first.
func (s *Service) List(ctx context.Context, ownerID string) ([]domain.Portfolio, error) {
	var out []domain.Portfolio
	err := s.DB.WithContext(ctx).
		Preload("Holdings", orderedHoldings).
		Where("owner_id = ?", ownerID).
		Order("updated_at DESC").
		Find(&out).Error
	return out, err
}

// ListPublic returns portfolios other callers may browse (PUBLIC or SHARED).
func (s *Service) ListPublic(ctx context.Context, limit int) ([]domain.Portfolio, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var out []domain.Portfolio
	err := s.DB.WithContext(ctx).
		Preload("Holdings", orderedHoldings).
		Where("visibility IN ?", []domain.Visibility{domain.VisibilityPublic, domain.VisibilityShared}).
		Order("updated_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// Get loads a portfolio with its holdings in position order.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Portfolio, error) {
	var p domain.Portfolio
	err := s.DB.WithContext(ctx).
		Preload("Holdings", orderedHoldings).
		Where("portfolio_id = ?", id).
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: portfolio", domain.ErrNotFound)
		}
		return nil, err
	}
	return &p, nil
}

// GetOwned loads a portfolio and fails with ErrNotOwner unless ownerID owns it.
func (s *Service) GetOwned(ctx context.Context, id uuid.UUID, ownerID string) (*domain.Portfolio, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.IsOwnedBy(ownerID) {
		return nil, domain.ErrNotOwner
	}
	return p, nil
}

// Update edits a portfolio. SHARED is never set here, and visibility is locked while a live share
// token exists. Replaced holdings keep their last-known price and sector when the symbol survives.
func (s *Service) Update(ctx context.Context, id uuid.UUID, ownerID string, in UpdateInput) (*domain.Portfolio, error) {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p domain.Portfolio
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("portfolio_id = ?", id).First(&p).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: portfolio", domain.ErrNotFound)
			}
			return err
		}
		if !p.IsOwnedBy(ownerID) {
			return domain.ErrNotOwner
		}

		updates := map[string]interface{}{}
		if in.Name != nil {
			if !validation.IsValidPortfolioName(*in.Name) {
				return domain.Validation("name must be 1-100 characters")
			}
			updates["name"] = strings.TrimSpace(*in.Name)
		}
		if in.Description != nil {
			if !validation.IsValidDescription(*in.Description) {
				return domain.Validation("description is too long")
			}
			updates["description"] = *in.Description
		}
		if in.Cash != nil {
			if !validation.IsNonNegative(*in.Cash) {
				return domain.Validation("cash must not be negative")
			}
			updates["cash"] = *in.Cash
		}
		if in.Visibility != nil && *in.Visibility != p.Visibility {
			if err := checkVisibility(*in.Visibility); err != nil {
				return err
			}
			var live int64
			if err := tx.Model(&domain.ShareToken{}).
				Where("portfolio_id = ? AND revoked = ?", id, false).
				Count(&live).Error; err != nil {
				return err
			}
			if live > 0 {
				return domain.Validation("revoke the share link before changing visibility")
			}
			updates["visibility"] = *in.Visibility
		}

		if in.Holdings != nil {
			var existing []domain.Holding
			if err := tx.Where("portfolio_id = ?", id).Find(&existing).Error; err != nil {
				return err
			}
			holdings, err := buildHoldings(*in.Holdings, existing)
			if err != nil {
				return err
			}
			if err := tx.Where("portfolio_id = ?", id).Delete(&domain.Holding{}).Error; err != nil {
				return err
			}
			for i := range holdings {
				holdings[i].PortfolioID = id
			}
			if len(holdings) > 0 {
				if err := tx.Create(&holdings).Error; err != nil {
					return err
				}
			}
		}

		// holdings-only edits still reorder listings
		updates["updated_at"] = time.Now()
		return tx.Model(&p).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// RefreshLastKnownPrices stores the latest live price and sector of every held symbol, so that
// valuations have a recent fallback when the feed is down. Returns the number of symbols updated.
func (s *Service) RefreshLastKnownPrices(ctx context.Context, prices pricing.Provider) (int, error) {
	var symbols []string
	if err := s.DB.WithContext(ctx).Model(&domain.Holding{}).
		Distinct("symbol").Pluck("symbol", &symbols).Error; err != nil {
		return 0, err
	}
	const batch = 50
	updated := 0
	for start := 0; start < len(symbols); start += batch {
		end := min(start+batch, len(symbols))
		quotes, err := prices.Lookup(ctx, symbols[start:end])
		if err != nil {
			return updated, err
		}
		for sym, q := range quotes {
			cols := map[string]interface{}{"current_price": q.Price}
			if q.Sector != "" {
				cols["sector"] = q.Sector
			}
			if err := s.DB.WithContext(ctx).Model(&domain.Holding{}).
				Where("symbol = ?", sym).Updates(cols).Error; err != nil {
				return updated, err
			}
			updated++
		}
	}
	log.Info().Int("symbols", len(symbols)).Int("updated", updated).Msg("last-known prices refreshed")
	return updated, nil
}

func checkVisibility(v domain.Visibility) error {
	switch v {
	case domain.VisibilityPrivate, domain.VisibilityPublic:
		return nil
	case domain.VisibilityShared:
		return domain.Validation("SHARED visibility is set by issuing a share link")
	}
	return domain.Validation("visibility must be PRIVATE or PUBLIC")
}

func buildHoldings(in []HoldingInput, existing []domain.Holding) ([]domain.Holding, error) {
	if len(in) > validation.MaxHoldings {
		return nil, domain.Validation(fmt.Sprintf("at most %d holdings", validation.MaxHoldings))
	}
	prev := make(map[string]domain.Holding, len(existing))
	for _, h := range existing {
		prev[h.Symbol] = h
	}

	seen := make(map[string]struct{}, len(in))
	out := make([]domain.Holding, 0, len(in))
	for i, h := range in {
		sym := validation.NormalizeSymbol(h.Symbol)
		if !validation.IsValidSymbol(sym) {
			return nil, domain.Validation(fmt.Sprintf("invalid symbol %q", h.Symbol))
		}
		if _, dup := seen[sym]; dup {
			return nil, domain.Validation(fmt.Sprintf("duplicate symbol %s", sym))
		}
		seen[sym] = struct{}{}
		if !validation.IsNonNegative(h.Quantity) {
			return nil, domain.Validation(fmt.Sprintf("quantity for %s must not be negative", sym))
		}
		holding := domain.Holding{Position: i, Symbol: sym, Quantity: h.Quantity}
		if h.AvgPrice != nil {
			if !validation.IsNonNegative(*h.AvgPrice) {
				return nil, domain.Validation(fmt.Sprintf("average price for %s must not be negative", sym))
			}
			holding.AvgPrice = decimal.NewNullDecimal(*h.AvgPrice)
		}
		if old, ok := prev[sym]; ok {
			holding.CurrentPrice = old.CurrentPrice
			holding.Sector = old.Sector
		}
		out = append(out, holding)
	}
	return out, nil
}
