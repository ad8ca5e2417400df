package models

import (
	"time"

	"gorm.io/gorm"
)

// Sequence lifecycle statuses
const (
	SequenceStatusDraft     = "draft"
	SequenceStatusActive    = "active"
	SequenceStatusPaused    = "paused"
	SequenceStatusCompleted = "completed"
	SequenceStatusError     = "error"
)

// Sequence represents a multi-step outreach campaign sent to enrolled leads.
type Sequence struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`
	Status      string `gorm:"default:'draft'" json:"status"`

	// Sending window, evaluated in the sequence's own timezone. SendDays is a
	// comma-separated list of lowercase weekday abbreviations ("mon,tue,...");
	// empty means every day. SendStart/SendEnd use the "15:04" layout; empty
	// means any hour.
	SendDays  string `json:"send_days"`
	SendStart string `json:"send_start"`
	SendEnd   string `json:"send_end"`
	Timezone  string `gorm:"default:'UTC'" json:"timezone"`

	// Caps. DailyLimit of zero means no sequence-level cap.
	DailyLimit int `gorm:"default:0" json:"daily_limit"`

	// Slow ramp: start at SlowRampStart sends/day and grow linearly to
	// DailyLimit over SlowRampDays days after activation.
	SlowRampEnabled bool `gorm:"default:false" json:"slow_ramp_enabled"`
	SlowRampDays    int  `gorm:"default:14" json:"slow_ramp_days"`
	SlowRampStart   int  `gorm:"default:5" json:"slow_ramp_start"`

	// Behavior flags
	StopOnReply     bool `gorm:"default:true" json:"stop_on_reply"`
	StopOnAutoReply bool `gorm:"default:false" json:"stop_on_auto_reply"`
	TrackOpens      bool `gorm:"default:true" json:"track_opens"`
	TrackClicks     bool `gorm:"default:true" json:"track_clicks"`

	// Lifecycle timestamps
	ActivatedAt *time.Time `json:"activated_at"`
	CompletedAt *time.Time `json:"completed_at"`
	PausedReason string    `json:"paused_reason"`

	// Statistics (denormalized, best-effort; dashboards only)
	SentCount        int `gorm:"default:0" json:"sent_count"`
	OpenCount        int `gorm:"default:0" json:"open_count"`
	ClickCount       int `gorm:"default:0" json:"click_count"`
	ReplyCount       int `gorm:"default:0" json:"reply_count"`
	BounceCount      int `gorm:"default:0" json:"bounce_count"`
	UnsubscribeCount int `gorm:"default:0" json:"unsubscribe_count"`

	// Relations
	Steps       []SequenceStep `gorm:"foreignKey:SequenceID" json:"steps,omitempty"`
	Enrollments []Enrollment   `gorm:"foreignKey:SequenceID" json:"enrollments,omitempty"`
}

// StepAt returns the step with the given zero-based position, or nil when the
// enrollment has walked past the last step.
func (s *Sequence) StepAt(number int) *SequenceStep {
	for i := range s.Steps {
		if s.Steps[i].StepNumber == number {
			return &s.Steps[i]
		}
	}
	return nil
}

// SequenceStep is one position in a sequence. The wait offset is applied
// before this step, relative to the previous one.
type SequenceStep struct {
	gorm.Model
	SequenceID uint `gorm:"not null;index" json:"sequence_id"`

	StepNumber int `gorm:"not null" json:"step_number"` // zero-indexed
	WaitDays   int `gorm:"default:0" json:"wait_days"`
	WaitHours  int `gorm:"default:0" json:"wait_hours"`

	// Relations
	Variants []StepVariant `gorm:"foreignKey:StepID" json:"variants,omitempty"`
}

// Wait returns the delay applied before this step.
func (st *SequenceStep) Wait() time.Duration {
	return time.Duration(st.WaitDays)*24*time.Hour + time.Duration(st.WaitHours)*time.Hour
}

// StepVariant is one A/Z-tested version of a step's message.
type StepVariant struct {
	gorm.Model
	StepID uint `gorm:"not null;index" json:"step_id"`

	Label    string `json:"label"`
	Subject  string `gorm:"not null" json:"subject"`
	Body     string `gorm:"type:text" json:"body"`
	Weight   int    `gorm:"default:1" json:"weight"`
	IsActive bool   `gorm:"default:true" json:"is_active"`

	// Statistics
	SentCount  int `gorm:"default:0" json:"sent_count"`
	OpenCount  int `gorm:"default:0" json:"open_count"`
	ClickCount int `gorm:"default:0" json:"click_count"`
	ReplyCount int `gorm:"default:0" json:"reply_count"`
}

// SequenceSender assigns sending identities to a sequence.
type SequenceSender struct {
	gorm.Model
	SequenceID uint `gorm:"not null;index" json:"sequence_id"`
	SenderID   uint `gorm:"not null;index" json:"sender_id"`
}
