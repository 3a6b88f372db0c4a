package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AccessLogEntry records one view through a share token. Append-only.
type AccessLogEntry struct {
	LogID     uuid.UUID `gorm:"column:log_id;type:uuid;primaryKey" json:"log_id"`
	TokenID   uuid.UUID `gorm:"column:token_id;type:uuid;not null;index:idx_access_logs_token_viewed,priority:1" json:"token_id"`
	IPAddress *string   `gorm:"column:ip_address" json:"ip_address"`
	UserAgent *string   `gorm:"column:user_agent" json:"user_agent"`
	ViewedAt  time.Time `gorm:"column:viewed_at;not null;index:idx_access_logs_token_viewed,priority:2" json:"viewed_at"`
}

func (AccessLogEntry) TableName() string {
	return "TokenAccessLogs"
}

func (a *AccessLogEntry) BeforeCreate(tx *gorm.DB) error {
	if a.LogID == uuid.Nil {
		a.LogID = uuid.New()
	}
	return nil
}
