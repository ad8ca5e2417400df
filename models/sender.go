package models

import (
	"time"

	"gorm.io/gorm"
)

// Sender represents a sending identity: one mailbox with SMTP submission and
// IMAP retrieval credentials, its own daily cap and health state.
type Sender struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	// Basic identification
	Name      string `gorm:"not null" json:"name"`
	FromEmail string `gorm:"not null" json:"from_email"`
	FromName  string `gorm:"not null" json:"from_name"`

	// ========= SMTP Configuration =========
	SMTPHost     string `json:"smtp_host"`
	SMTPPort     int    `gorm:"default:587" json:"smtp_port"`
	SMTPUsername string `json:"smtp_username"`
	SMTPPassword string `json:"-"`                               // Encrypted in application layer
	Encryption   string `gorm:"default:'STARTTLS'" json:"encryption"` // SSL, TLS, STARTTLS

	// ========= IMAP Configuration =========
	IMAPHost       string `json:"imap_host"`
	IMAPPort       int    `json:"imap_port" gorm:"default:993"`
	IMAPUsername   string `json:"imap_username"`
	IMAPPassword   string `json:"-"` // Encrypted in application layer
	IMAPEncryption string `json:"imap_encryption" gorm:"default:'SSL'"`
	IMAPMailbox    string `json:"imap_mailbox" gorm:"default:'INBOX'"`

	// ========= Status =========
	IsActive    bool    `gorm:"default:true" json:"is_active"`
	IsPaused    bool    `gorm:"default:false" json:"is_paused"`
	PauseReason string  `json:"pause_reason"`
	LastError   *string `json:"last_error"`

	// ========= Usage Metrics =========
	// SentToday is only meaningful together with SentTodayDate: the counter is
	// lazily reset when the stored date no longer matches the current local day.
	DailyLimit    int        `gorm:"default:500" json:"daily_limit"`
	SentToday     int        `gorm:"default:0" json:"sent_today"`
	SentTodayDate string     `json:"sent_today_date"`
	LastSentAt    *time.Time `json:"last_sent_at"`
	TotalSent     int        `gorm:"default:0" json:"total_sent"`
	ReplyCount    int        `gorm:"default:0" json:"reply_count"`

	DeliverabilityScore float64 `gorm:"default:100" json:"deliverability_score"`

	// ========= Warmup Policy =========
	WarmupEnabled      bool       `gorm:"default:false" json:"warmup_enabled"`
	WarmupDailyLimit   int        `gorm:"default:20" json:"warmup_daily_limit"`
	WarmupReplyRate    float64    `gorm:"default:0.3" json:"warmup_reply_rate"` // probability a warmup mail gets a synthetic reply
	WarmupWeekdaysOnly bool       `gorm:"default:true" json:"warmup_weekdays_only"`
	WarmupSentToday    int        `gorm:"default:0" json:"warmup_sent_today"`
	WarmupStartedAt    *time.Time `json:"warmup_started_at"`
}

// Sanitize strips credentials before the record is returned to a client.
func (s *Sender) Sanitize() {
	s.SMTPPassword = ""
	s.IMAPPassword = ""
}

// HasSMTPCredentials reports whether the sender can dispatch at all.
func (s *Sender) HasSMTPCredentials() bool {
	return s.SMTPHost != "" && s.SMTPUsername != ""
}

// CounterEpoch is the date layout used for lazy daily-counter resets.
const CounterEpoch = "2006-01-02"

// SentTodayCount returns the effective sends-used-today value, treating a
// counter from a previous local day as zero.
func (s *Sender) SentTodayCount(now time.Time) int {
	if s.SentTodayDate != now.Format(CounterEpoch) {
		return 0
	}
	return s.SentToday
}

// WarmupSentTodayCount mirrors SentTodayCount for the warmup counter, which
// shares the sender's counter epoch.
func (s *Sender) WarmupSentTodayCount(now time.Time) int {
	if s.SentTodayDate != now.Format(CounterEpoch) {
		return 0
	}
	return s.WarmupSentToday
}
