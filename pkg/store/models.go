package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type SessionModel struct {
	ID        string            `gorm:"primaryKey"`
	Data      datatypes.JSONMap `gorm:"type:jsonb"`
	UpdatedAt time.Time         `gorm:"not null;index"`
}

func (SessionModel) TableName() string {
	return "browser_sessions"
}
