package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ShareToken is a capability granting view access to one portfolio. Revoked never goes back to
// false; ViewerID is claimed at most once. At most one non-revoked row per portfolio is enforced
// by the partial unique index idx_share_tokens_live.
type ShareToken struct {
	TokenID      uuid.UUID  `gorm:"column:token_id;type:uuid;primaryKey" json:"token_id"`
	PortfolioID  uuid.UUID  `gorm:"column:portfolio_id;type:uuid;not null;index;uniqueIndex:idx_share_tokens_live,where:revoked = false" json:"portfolio_id"`
	Token        string     `gorm:"column:token;type:varchar(64);not null;uniqueIndex" json:"token"`
	IssuedBy     string     `gorm:"column:issued_by;not null" json:"issued_by"`
	Revoked      bool       `gorm:"column:revoked;not null;default:false" json:"revoked"`
	ExpiresAt    *time.Time `gorm:"column:expires_at" json:"expires_at"`
	ViewCount    int64      `gorm:"column:view_count;not null;default:0" json:"view_count"`
	LastViewedAt *time.Time `gorm:"column:last_viewed_at" json:"last_viewed_at"`
	ViewerID     *string    `gorm:"column:viewer_id" json:"viewer_id"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

func (ShareToken) TableName() string {
	return "SharedPortfolioAccess"
}

func (t *ShareToken) BeforeCreate(tx *gorm.DB) error {
	if t.TokenID == uuid.Nil {
		t.TokenID = uuid.New()
	}
	return nil
}

// Expired reports whether the token has an expiration instant at or before now.
func (t *ShareToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}
