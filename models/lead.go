package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Lead represents a single contact that can be enrolled in sequences.
type Lead struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Email     string `gorm:"not null;index" json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company"`
	Position  string `json:"position"`
	Phone     string `json:"phone"`
	Website   string `json:"website"`

	// CustomFields hold merge-tag attributes beyond the built-in columns.
	CustomFields map[string]string `gorm:"type:jsonb;serializer:json" json:"custom_fields"`

	// Status
	IsBounced      bool `gorm:"default:false" json:"is_bounced"`
	IsUnsubscribed bool `gorm:"default:false" json:"is_unsubscribed"`
	IsDoNotContact bool `gorm:"default:false" json:"is_do_not_contact"`

	LastContact *time.Time `json:"last_contact"`
}

// Attributes flattens the lead into the merge-tag bag consumed by the content
// resolver. Keys are lowercase; custom fields override nothing built-in.
func (l *Lead) Attributes() map[string]string {
	attrs := map[string]string{
		"email":      l.Email,
		"first_name": l.FirstName,
		"last_name":  l.LastName,
		"full_name":  strings.TrimSpace(l.FirstName + " " + l.LastName),
		"company":    l.Company,
		"position":   l.Position,
		"phone":      l.Phone,
		"website":    l.Website,
	}
	for k, v := range l.CustomFields {
		key := strings.ToLower(strings.TrimSpace(k))
		if _, exists := attrs[key]; !exists {
			attrs[key] = v
		}
	}
	return attrs
}
