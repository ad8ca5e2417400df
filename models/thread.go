package models

import (
	"time"

	"gorm.io/gorm"
)

// Thread groups the conversation between one sending identity and one
// correspondent address. Tag and sentiment carry the classification of the
// most recent inbound message by default (see reconciler tag policy).
type Thread struct {
	gorm.Model
	UserID   uint `gorm:"not null;index" json:"user_id"`
	SenderID uint `gorm:"not null;index:idx_thread_key" json:"sender_id"`

	Correspondent string `gorm:"not null;index:idx_thread_key" json:"correspondent"`

	Tag        string  `gorm:"default:'new'" json:"tag"`
	Sentiment  string  `gorm:"default:'neutral'" json:"sentiment"`
	Confidence float64 `gorm:"default:0" json:"confidence"`

	LastMessageAt *time.Time `json:"last_message_at"`

	// Relations
	Messages []ThreadMessage `gorm:"foreignKey:ThreadID" json:"messages,omitempty"`
}

// Thread message directions
const (
	MessageDirectionInbound  = "inbound"
	MessageDirectionOutbound = "outbound"
)

// ThreadMessage is one message of a thread, stored in arrival order.
type ThreadMessage struct {
	gorm.Model
	ThreadID uint `gorm:"not null;index" json:"thread_id"`

	Direction string    `gorm:"not null" json:"direction"`
	MessageID string    `gorm:"index" json:"message_id"`
	InReplyTo string    `json:"in_reply_to"`
	Subject   string    `json:"subject"`
	Body      string    `gorm:"type:text" json:"body"`
	ReceivedAt time.Time `json:"received_at"`
}
