package sharing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"smartfolio-backend/internal/domain"
	"smartfolio-backend/internal/infrastructure/metrics"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const (
	MinExpiry     = time.Hour
	MaxExpiry     = 365 * 24 * time.Hour
	RecentEntries = 10
)

// Service is the share token store.
type Service struct {
	DB       *gorm.DB
	BaseURL  string
	Now      func() time.Time
	NewToken func() (string, error)
}

type IssueOptions struct {
	ExpiresIn time.Duration
}

type ShareLink struct {
	TokenID   uuid.UUID  `json:"token_id"`
	Token     string     `json:"token"`
	URL       string     `json:"shareUrl"`
	ExpiresAt *time.Time `json:"expiresAt"`
	Created   bool       `json:"created"`
}

type Analytics struct {
	TokenID        uuid.UUID               `json:"token_id"`
	PortfolioID    uuid.UUID               `json:"portfolio_id"`
	Revoked        bool                    `json:"revoked"`
	ExpiresAt      *time.Time              `json:"expiresAt"`
	CreatedAt      time.Time               `json:"createdAt"`
	TotalViews     int64                   `json:"totalViews"`
	UniqueVisitors int64                   `json:"uniqueVisitorCount"`
	LastViewed     *time.Time              `json:"lastViewed"`
	ViewerBound    bool                    `json:"viewerBound"`
	Recent         []domain.AccessLogEntry `json:"recentEntries"`
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) newToken() (string, error) {
	if s.NewToken != nil {
		return s.NewToken()
	}
	return gonanoid.New()
}

func (s *Service) link(t *domain.ShareToken, created bool) *ShareLink {
	return &ShareLink{
		TokenID:   t.TokenID,
		Token:     t.Token,
		URL:       s.BaseURL + "/portfolio/" + t.Token,
		ExpiresAt: t.ExpiresAt,
		Created:   created,
	}
}

func (s *Service) loadOwned(ctx context.Context, portfolioID uuid.UUID, ownerID string) (*domain.Portfolio, error) {
	var p domain.Portfolio
	if err := s.DB.WithContext(ctx).Where("portfolio_id = ?", portfolioID).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: portfolio", domain.ErrNotFound)
		}
		return nil, err
	}
	if !p.IsOwnedBy(ownerID) {
		return nil, domain.ErrNotOwner
	}
	return &p, nil
}

func (s *Service) findLive(ctx context.Context, portfolioID uuid.UUID) (*domain.ShareToken, error) {
	var t domain.ShareToken
	err := s.DB.WithContext(ctx).
		Where("portfolio_id = ? AND revoked = ?", portfolioID, false).
		First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Issue returns the portfolio's live token, minting one (and marking the portfolio SHARED) when
// there is none. A live token that has expired is revoked and replaced.
func (s *Service) Issue(ctx context.Context, portfolioID uuid.UUID, ownerID string, opts IssueOptions) (*ShareLink, error) {
	if opts.ExpiresIn != 0 && (opts.ExpiresIn < MinExpiry || opts.ExpiresIn > MaxExpiry) {
		return nil, domain.Validation("expiry must be between 1 hour and 365 days")
	}
	if _, err := s.loadOwned(ctx, portfolioID, ownerID); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < 3; attempt++ {
		live, err := s.findLive(ctx, portfolioID)
		if err != nil {
			return nil, err
		}
		now := s.now()
		if live != nil && !live.Expired(now) {
			metrics.SharesIssued.WithLabelValues("existing").Inc()
			return s.link(live, false), nil
		}

		tokenStr, err := s.newToken()
		if err != nil {
			return nil, err
		}
		t := &domain.ShareToken{PortfolioID: portfolioID, Token: tokenStr, IssuedBy: ownerID}
		if opts.ExpiresIn > 0 {
			exp := now.Add(opts.ExpiresIn)
			t.ExpiresAt = &exp
		}

		err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if live != nil {
				if err := tx.Model(&domain.ShareToken{}).
					Where("token_id = ? AND revoked = ?", live.TokenID, false).
					Update("revoked", true).Error; err != nil {
					return err
				}
			}
			if err := tx.Create(t).Error; err != nil {
				return err
			}
			return tx.Model(&domain.Portfolio{}).
				Where("portfolio_id = ?", portfolioID).
				Update("visibility", domain.VisibilityShared).Error
		})
		if err == nil {
			metrics.SharesIssued.WithLabelValues("created").Inc()
			log.Info().Str("portfolio_id", portfolioID.String()).Str("token_id", t.TokenID.String()).Msg("share token issued")
			return s.link(t, true), nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, err
		}
		// Lost a race with a concurrent issue: the partial unique index rejected the insert.
		log.Debug().Err(err).Str("portfolio_id", portfolioID.String()).Int("attempt", attempt).Msg("share token insert rejected, re-reading")
	}
	return nil, errors.New("could not issue share token")
}

// RevokeAll revokes every live token of the portfolio and makes it PRIVATE again.
func (s *Service) RevokeAll(ctx context.Context, portfolioID uuid.UUID, ownerID string) (int64, error) {
	if _, err := s.loadOwned(ctx, portfolioID, ownerID); err != nil {
		return 0, err
	}
	var revoked int64
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.ShareToken{}).
			Where("portfolio_id = ? AND revoked = ?", portfolioID, false).
			Update("revoked", true)
		if res.Error != nil {
			return res.Error
		}
		revoked = res.RowsAffected
		return tx.Model(&domain.Portfolio{}).
			Where("portfolio_id = ? AND visibility = ?", portfolioID, domain.VisibilityShared).
			Update("visibility", domain.VisibilityPrivate).Error
	})
	if err != nil {
		return 0, err
	}
	log.Info().Str("portfolio_id", portfolioID.String()).Int64("revoked", revoked).Msg("share tokens revoked")
	return revoked, nil
}

// Resolve returns the token if it is usable. Unknown, revoked and expired tokens all fail with an
// error matching domain.ErrInvalidShare.
func (s *Service) Resolve(ctx context.Context, token string) (*domain.ShareToken, error) {
	if token == "" {
		metrics.ShareDenied.WithLabelValues("unknown").Inc()
		return nil, fmt.Errorf("%w: empty", domain.ErrInvalidShare)
	}
	var t domain.ShareToken
	if err := s.DB.WithContext(ctx).Where("token = ?", token).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			metrics.ShareDenied.WithLabelValues("unknown").Inc()
			return nil, fmt.Errorf("%w: unknown", domain.ErrInvalidShare)
		}
		return nil, err
	}
	if t.Revoked {
		metrics.ShareDenied.WithLabelValues("revoked").Inc()
		return nil, domain.ErrShareRevoked
	}
	if t.Expired(s.now()) {
		metrics.ShareDenied.WithLabelValues("expired").Inc()
		return nil, domain.ErrShareExpired
	}
	return &t, nil
}

// RecordAccess appends a log entry and bumps the view counter in one transaction. The counter is
// incremented in SQL so concurrent viewers are all counted.
func (s *Service) RecordAccess(ctx context.Context, tokenID uuid.UUID, ip, userAgent string) error {
	now := s.now()
	entry := &domain.AccessLogEntry{TokenID: tokenID, IPAddress: optional(ip), UserAgent: optional(userAgent), ViewedAt: now}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(entry).Error; err != nil {
			return err
		}
		res := tx.Model(&domain.ShareToken{}).
			Where("token_id = ?", tokenID).
			Updates(map[string]interface{}{
				"view_count":     gorm.Expr("view_count + ?", 1),
				"last_viewed_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: share token", domain.ErrNotFound)
		}
		return nil
	})
	if err == nil {
		metrics.ShareViews.Inc()
	}
	return err
}

// BindIdentity attaches identity to the token unless one is already attached. Reports whether this
// call made the claim.
func (s *Service) BindIdentity(ctx context.Context, tokenID uuid.UUID, identity string) (bool, error) {
	if identity == "" {
		return false, nil
	}
	res := s.DB.WithContext(ctx).Model(&domain.ShareToken{}).
		Where("token_id = ? AND viewer_id IS NULL", tokenID).
		Update("viewer_id", identity)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Analytics summarizes views of one token.
func (s *Service) Analytics(ctx context.Context, tokenID uuid.UUID) (*Analytics, error) {
	var t domain.ShareToken
	if err := s.DB.WithContext(ctx).Where("token_id = ?", tokenID).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: share token", domain.ErrNotFound)
		}
		return nil, err
	}

	var unique int64
	if err := s.DB.WithContext(ctx).Model(&domain.AccessLogEntry{}).
		Where("token_id = ? AND ip_address IS NOT NULL", tokenID).
		Distinct("ip_address").
		Count(&unique).Error; err != nil {
		return nil, err
	}

	recent := make([]domain.AccessLogEntry, 0, RecentEntries)
	if err := s.DB.WithContext(ctx).
		Where("token_id = ?", tokenID).
		Order("viewed_at DESC").
		Limit(RecentEntries).
		Find(&recent).Error; err != nil {
		return nil, err
	}

	return &Analytics{
		TokenID:        t.TokenID,
		PortfolioID:    t.PortfolioID,
		Revoked:        t.Revoked,
		ExpiresAt:      t.ExpiresAt,
		CreatedAt:      t.CreatedAt,
		TotalViews:     t.ViewCount,
		UniqueVisitors: unique,
		LastViewed:     t.LastViewedAt,
		ViewerBound:    t.ViewerID != nil,
		Recent:         recent,
	}, nil
}

// LiveToken returns the portfolio's live token, or its most recently issued one when all are
// revoked. Owner only.
func (s *Service) LiveToken(ctx context.Context, portfolioID uuid.UUID, ownerID string) (*domain.ShareToken, error) {
	if _, err := s.loadOwned(ctx, portfolioID, ownerID); err != nil {
		return nil, err
	}
	var t domain.ShareToken
	err := s.DB.WithContext(ctx).
		Where("portfolio_id = ?", portfolioID).
		Order("revoked ASC").
		Order("created_at DESC").
		First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: share token", domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// OwnerAnalytics is Analytics for the token LiveToken picks.
func (s *Service) OwnerAnalytics(ctx context.Context, portfolioID uuid.UUID, ownerID string) (*Analytics, error) {
	t, err := s.LiveToken(ctx, portfolioID, ownerID)
	if err != nil {
		return nil, err
	}
	return s.Analytics(ctx, t.TokenID)
}

// ReconcileVisibility revokes expired live tokens and re-applies "SHARED iff a live token exists"
// to every portfolio. Returns the number of portfolios whose visibility changed.
func (s *Service) ReconcileVisibility(ctx context.Context) (int64, error) {
	db := s.DB.WithContext(ctx)
	expired := db.Model(&domain.ShareToken{}).
		Where("revoked = ? AND expires_at IS NOT NULL AND expires_at <= ?", false, s.now()).
		Update("revoked", true)
	if expired.Error != nil {
		return 0, expired.Error
	}

	live := s.DB.Model(&domain.ShareToken{}).Select("portfolio_id").Where("revoked = ?", false)
	toShared := db.Model(&domain.Portfolio{}).
		Where("visibility <> ? AND portfolio_id IN (?)", domain.VisibilityShared, live).
		Update("visibility", domain.VisibilityShared)
	if toShared.Error != nil {
		return 0, toShared.Error
	}
	live = s.DB.Model(&domain.ShareToken{}).Select("portfolio_id").Where("revoked = ?", false)
	toPrivate := db.Model(&domain.Portfolio{}).
		Where("visibility = ? AND portfolio_id NOT IN (?)", domain.VisibilityShared, live).
		Update("visibility", domain.VisibilityPrivate)
	if toPrivate.Error != nil {
		return 0, toPrivate.Error
	}

	changed := toShared.RowsAffected + toPrivate.RowsAffected
	if changed > 0 || expired.RowsAffected > 0 {
		log.Warn().Int64("expired_revoked", expired.RowsAffected).Int64("visibility_fixed", changed).Msg("visibility reconciled")
	}
	return changed, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
