package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// InsightSnapshot is a stored narrative analysis. Rows are append-only; the newest one per
// portfolio is the cached insight.
type InsightSnapshot struct {
	InsightID       uuid.UUID      `gorm:"column:insight_id;type:uuid;primaryKey" json:"insight_id"`
	PortfolioID     uuid.UUID      `gorm:"column:portfolio_id;type:uuid;not null;index:idx_insights_portfolio_created,priority:1" json:"portfolio_id"`
	Summary         string         `gorm:"column:summary;type:text;not null" json:"summary"`
	Diversification string         `gorm:"column:diversification;type:text;not null" json:"diversification"`
	RiskAnalysis    string         `gorm:"column:risk_analysis;type:text;not null" json:"riskAnalysis"`
	Thesis          string         `gorm:"column:thesis;type:text;not null" json:"thesis"`
	Provider        string         `gorm:"column:provider;type:varchar(32)" json:"provider"`
	Basis           datatypes.JSON `gorm:"column:basis" json:"basis,omitempty"`
	CreatedAt       time.Time      `gorm:"column:created_at;not null;index:idx_insights_portfolio_created,priority:2" json:"createdAt"`
}

func (InsightSnapshot) TableName() string {
	return "PortfolioInsights"
}

func (i *InsightSnapshot) BeforeCreate(tx *gorm.DB) error {
	if i.InsightID == uuid.Nil {
		i.InsightID = uuid.New()
	}
	return nil
}
