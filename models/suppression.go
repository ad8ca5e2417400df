package models

import (
	"gorm.io/gorm"
)

// Suppression is a tenant-scoped address that must never receive outbound
// messages. Duplicate adds are tolerated via the unique index.
type Suppression struct {
	gorm.Model
	UserID uint   `gorm:"not null;uniqueIndex:idx_suppression_user_email" json:"user_id"`
	Email  string `gorm:"not null;uniqueIndex:idx_suppression_user_email" json:"email"`
	Reason string `json:"reason"` // unsubscribe, hard_bounce, manual, complaint
}
