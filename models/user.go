package models

import (
	"gorm.io/gorm"
)

// User represents a tenant account that owns senders, sequences and leads
type User struct {
	gorm.Model

	Email         string `gorm:"uniqueIndex;not null" json:"email"`
	EmailVerified bool   `gorm:"default:false" json:"email_verified"`

	// Profile information
	Name     *string `json:"name,omitempty"`
	Company  *string `json:"company,omitempty"`
	Timezone string  `gorm:"default:'UTC'" json:"timezone"`

	// Account status
	IsActive bool `gorm:"default:true" json:"is_active"`

	// Webhook notifications for notable events (replies, auto-pauses, unsubscribes)
	WebhookURL string `json:"webhook_url"`

	// Relations
	Senders   []Sender   `gorm:"foreignKey:UserID" json:"senders,omitempty"`
	Sequences []Sequence `gorm:"foreignKey:UserID" json:"sequences,omitempty"`
	Leads     []Lead     `gorm:"foreignKey:UserID" json:"leads,omitempty"`
}
