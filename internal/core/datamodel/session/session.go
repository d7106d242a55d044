package session

import "time"

type PortalSession struct {
	ID        string    `gorm:"primaryKey;column:id"`
	UserID    string    `gorm:"column:user_id;index;not null"`
	Token     string    `gorm:"column:token;not null"`
	UserData  string    `gorm:"column:user_data;not null"`
	ExpiresAt time.Time `gorm:"column:expires_at;index;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (PortalSession) TableName() string {
	return "portal_sessions"
}
