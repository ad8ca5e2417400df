package models

import (
	"time"

	"gorm.io/gorm"
)

// Enrollment statuses. Transitions are one-directional except paused, which
// can resume to in_progress after an out-of-office window.
const (
	EnrollmentStatusPending      = "pending"
	EnrollmentStatusInProgress   = "in_progress"
	EnrollmentStatusCompleted    = "completed"
	EnrollmentStatusBounced      = "bounced"
	EnrollmentStatusReplied      = "replied"
	EnrollmentStatusUnsubscribed = "unsubscribed"
	EnrollmentStatusPaused       = "paused"
)

// Enrollment is the progress record of one lead through one sequence.
type Enrollment struct {
	gorm.Model
	SequenceID uint `gorm:"not null;index" json:"sequence_id"`
	LeadID     uint `gorm:"not null;index" json:"lead_id"`
	UserID     uint `gorm:"not null;index" json:"user_id"`

	CurrentStep int        `gorm:"default:0" json:"current_step"`
	Status      string     `gorm:"default:'pending';index" json:"status"`
	NextSendAt  *time.Time `gorm:"index" json:"next_send_at"`

	// Relations
	Sequence Sequence `json:"-"`
	Lead     Lead     `json:"-"`
}

// IsTerminal reports whether the enrollment can never be advanced again.
func (e *Enrollment) IsTerminal() bool {
	switch e.Status {
	case EnrollmentStatusCompleted, EnrollmentStatusBounced,
		EnrollmentStatusReplied, EnrollmentStatusUnsubscribed:
		return true
	}
	return false
}
