package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Holding is one position of a portfolio. CurrentPrice and Sector are last-known values,
// consulted only when live price data has nothing for the symbol.
type Holding struct {
	HoldingID    uuid.UUID           `gorm:"column:holding_id;type:uuid;primaryKey" json:"holding_id"`
	PortfolioID  uuid.UUID           `gorm:"column:portfolio_id;type:uuid;not null;uniqueIndex:idx_holdings_portfolio_symbol" json:"portfolio_id"`
	Position     int                 `gorm:"column:position;not null;default:0" json:"position"`
	Symbol       string              `gorm:"column:symbol;type:varchar(10);not null;uniqueIndex:idx_holdings_portfolio_symbol;index" json:"symbol"`
	Quantity     decimal.Decimal     `gorm:"column:quantity;type:decimal(18,4);not null;default:0" json:"quantity"`
	AvgPrice     decimal.NullDecimal `gorm:"column:avg_price;type:decimal(18,4)" json:"avg_price"`
	CurrentPrice decimal.NullDecimal `gorm:"column:current_price;type:decimal(18,4)" json:"current_price"`
	Sector       *string             `gorm:"column:sector" json:"sector"`
	CreatedAt    time.Time           `json:"createdAt"`
	UpdatedAt    time.Time           `json:"updatedAt"`
}

func (Holding) TableName() string {
	return "Holdings"
}

func (h *Holding) BeforeCreate(tx *gorm.DB) error {
	if h.HoldingID == uuid.Nil {
		h.HoldingID = uuid.New()
	}
	return nil
}
