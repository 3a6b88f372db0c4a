package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Visibility of a portfolio. SHARED is maintained by share token issuance and revocation only.
type Visibility string

const (
	VisibilityPrivate Visibility = "PRIVATE"
	VisibilityPublic  Visibility = "PUBLIC"
	VisibilityShared  Visibility = "SHARED"
)

// Valid reports whether v is one of the known visibility modes.
func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPrivate, VisibilityPublic, VisibilityShared:
		return true
	}
	return false
}

// Portfolio is a named collection of holdings plus a cash balance, owned by one identity.
type Portfolio struct {
	PortfolioID uuid.UUID       `gorm:"column:portfolio_id;type:uuid;primaryKey" json:"portfolio_id"`
	OwnerID     string          `gorm:"column:owner_id;not null;index" json:"owner_id"`
	Name        string          `gorm:"column:name;type:varchar(100);not null" json:"name"`
	Description *string         `gorm:"column:description" json:"description"`
	Cash        decimal.Decimal `gorm:"column:cash;type:decimal(18,4);not null;default:0" json:"cash"`
	Visibility  Visibility      `gorm:"column:visibility;type:varchar(16);not null;default:PRIVATE;index" json:"visibility"`
	Holdings    []Holding       `gorm:"foreignKey:PortfolioID;references:PortfolioID" json:"holdings"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

func (Portfolio) TableName() string {
	return "Portfolios"
}

func (p *Portfolio) BeforeCreate(tx *gorm.DB) error {
	if p.PortfolioID == uuid.Nil {
		p.PortfolioID = uuid.New()
	}
	return nil
}

// IsOwnedBy reports whether ownerID owns the portfolio.
func (p *Portfolio) IsOwnedBy(ownerID string) bool {
	return ownerID != "" && p.OwnerID == ownerID
}

// Browsable reports whether callers other than the owner may view the portfolio by id.
func (p *Portfolio) Browsable() bool {
	return p.Visibility == VisibilityPublic || p.Visibility == VisibilityShared
}
