package models

import (
	"time"

	"gorm.io/gorm"
)

// SendRecord delivery statuses
const (
	SendStatusQueued  = "queued"
	SendStatusSending = "sending"
	SendStatusSent    = "sent"
	SendStatusBounced = "bounced"
	SendStatusFailed  = "failed"
)

// SendRecord is one concrete outbound message attempt and its tracked
// outcomes. The tracking token is globally unique and immutable once issued.
type SendRecord struct {
	gorm.Model
	UserID       uint `gorm:"not null;index" json:"user_id"`
	SequenceID   uint `gorm:"not null;index" json:"sequence_id"`
	StepID       uint `gorm:"not null;index" json:"step_id"`
	VariantID    uint `gorm:"not null;index" json:"variant_id"`
	SenderID     uint `gorm:"not null;index" json:"sender_id"`
	EnrollmentID uint `gorm:"not null;index" json:"enrollment_id"`
	LeadID       uint `gorm:"not null;index" json:"lead_id"`

	Recipient string `gorm:"not null;index" json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `gorm:"type:text" json:"body"`

	TrackingToken string `gorm:"not null;uniqueIndex" json:"tracking_token"`
	Status        string `gorm:"default:'queued'" json:"status"`

	// MessageID is the provider message identifier, correlated against
	// inbound In-Reply-To headers by the reply reconciler.
	MessageID string `gorm:"index" json:"message_id"`

	// Engagement. Counters increment on every occurrence; the timestamps are
	// set exactly once, on first occurrence.
	OpenCount  int        `gorm:"default:0" json:"open_count"`
	ClickCount int        `gorm:"default:0" json:"click_count"`
	OpenedAt   *time.Time `json:"opened_at"`
	ClickedAt  *time.Time `json:"clicked_at"`
	RepliedAt  *time.Time `json:"replied_at"`
	BouncedAt  *time.Time `json:"bounced_at"`

	FailureReason string `json:"failure_reason"`

	// Relations
	ClickEvents []SendClick `gorm:"foreignKey:SendRecordID" json:"click_events,omitempty"`
}

// SendClick records an individual tracked click.
type SendClick struct {
	gorm.Model
	SendRecordID uint      `gorm:"not null;index" json:"send_record_id"`
	URL          string    `gorm:"not null" json:"url"`
	ClickedAt    time.Time `gorm:"not null" json:"clicked_at"`
}
