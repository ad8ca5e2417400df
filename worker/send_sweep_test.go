package worker

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"coldreach/models"
	"coldreach/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu   sync.Mutex
	sent []utils.OutboundEmail
	err  error
	seq  int
}

func (ft *fakeTransport) Send(sender *models.Sender, email utils.OutboundEmail) (string, error) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if ft.err != nil {
		return "", ft.err
	}
	ft.seq++
	ft.sent = append(ft.sent, email)
	return fmt.Sprintf("<msg-%d@test>", ft.seq), nil
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type sweepFixture struct {
	sweep      *SendSweep
	transport  *fakeTransport
	notifier   *captureNotifier
	clock      *fakeClock
	seq        *models.Sequence
	sender     *models.Sender
	lead       *models.Lead
	enrollment *models.Enrollment
}

// newSweepFixture seeds one active two-step sequence with a single sender,
// lead and pending enrollment, driven by a controllable clock.
func newSweepFixture(t *testing.T) *sweepFixture {
	db := newTestDB(t)

	user := models.User{Email: "owner@acme.io", IsActive: true}
	require.NoError(t, db.Create(&user).Error)

	sender := models.Sender{
		UserID:       user.ID,
		Name:         "primary",
		FromEmail:    "out@acme.io",
		FromName:     "Acme Outreach",
		SMTPHost:     "smtp.acme.io",
		SMTPPort:     587,
		SMTPUsername: "out@acme.io",
		IsActive:     true,
		DailyLimit:   100,
	}
	require.NoError(t, db.Create(&sender).Error)

	seq := models.Sequence{
		UserID:      user.ID,
		Name:        "intro",
		Status:      models.SequenceStatusActive,
		Timezone:    "UTC",
		StopOnReply: true,
		TrackOpens:  true,
		TrackClicks: false,
	}
	require.NoError(t, db.Create(&seq).Error)
	require.NoError(t, db.Create(&models.SequenceSender{SequenceID: seq.ID, SenderID: sender.ID}).Error)

	step0 := models.SequenceStep{SequenceID: seq.ID, StepNumber: 0}
	require.NoError(t, db.Create(&step0).Error)
	require.NoError(t, db.Create(&models.StepVariant{
		StepID: step0.ID, Subject: "Hello {{first_name}}", Body: "<p>Hi {{first_name}}</p>", Weight: 1, IsActive: true,
	}).Error)

	step1 := models.SequenceStep{SequenceID: seq.ID, StepNumber: 1, WaitDays: 1}
	require.NoError(t, db.Create(&step1).Error)
	require.NoError(t, db.Create(&models.StepVariant{
		StepID: step1.ID, Subject: "Following up, {{first_name}}", Body: "<p>Any thoughts?</p>", Weight: 1, IsActive: true,
	}).Error)

	lead := models.Lead{UserID: user.ID, Email: "ada@example.com", FirstName: "Ada", Company: "Example"}
	require.NoError(t, db.Create(&lead).Error)

	enrollment := models.Enrollment{
		SequenceID: seq.ID, LeadID: lead.ID, UserID: user.ID,
		Status: models.EnrollmentStatusPending,
	}
	require.NoError(t, db.Create(&enrollment).Error)

	transport := &fakeTransport{}
	notifier := &captureNotifier{}
	sweep := NewSendSweep(db, transport, utils.NewSuppressionList(db), notifier,
		newTestLogger(), time.Minute, 10, "https://t.example.com")

	// 2026-12-01 is a Tuesday.
	clock := &fakeClock{t: time.Date(2026, 12, 1, 10, 0, 0, 0, time.UTC)}
	sweep.Now = clock.now
	sweep.Progression.Now = clock.now

	return &sweepFixture{
		sweep: sweep, transport: transport, notifier: notifier, clock: clock,
		seq: &seq, sender: &sender, lead: &lead, enrollment: &enrollment,
	}
}

func TestSweepSendsFirstStepAndAdvances(t *testing.T) {
	f := newSweepFixture(t)
	db := f.sweep.DB

	f.sweep.RunOnce()

	require.Len(t, f.transport.sent, 1)
	assert.Equal(t, "ada@example.com", f.transport.sent[0].To)
	assert.Equal(t, "Hello Ada", f.transport.sent[0].Subject)
	assert.Contains(t, f.transport.sent[0].HTMLBody, "<p>Hi Ada</p>")
	assert.Contains(t, f.transport.sent[0].HTMLBody, "/track/open/")
	assert.Contains(t, f.transport.sent[0].HTMLBody, "/track/unsubscribe/")

	var record models.SendRecord
	require.NoError(t, db.Where("enrollment_id = ?", f.enrollment.ID).First(&record).Error)
	assert.Equal(t, models.SendStatusSent, record.Status)
	assert.Equal(t, "<msg-1@test>", record.MessageID)
	assert.NotEmpty(t, record.TrackingToken)

	var enr models.Enrollment
	require.NoError(t, db.First(&enr, f.enrollment.ID).Error)
	assert.Equal(t, models.EnrollmentStatusInProgress, enr.Status)
	assert.Equal(t, 1, enr.CurrentStep)
	require.NotNil(t, enr.NextSendAt)
	assert.WithinDuration(t, f.clock.t.Add(24*time.Hour), *enr.NextSendAt, time.Second)

	var sender models.Sender
	require.NoError(t, db.First(&sender, f.sender.ID).Error)
	assert.Equal(t, 1, sender.SentToday)
	assert.Equal(t, f.clock.t.Format(models.CounterEpoch), sender.SentTodayDate)
	assert.Equal(t, 1, sender.TotalSent)
	require.NotNil(t, sender.LastSentAt)

	var seq models.Sequence
	require.NoError(t, db.First(&seq, f.seq.ID).Error)
	assert.Equal(t, 1, seq.SentCount)
}

func TestSweepCompletesAfterLastStep(t *testing.T) {
	f := newSweepFixture(t)
	db := f.sweep.DB

	f.sweep.RunOnce()
	require.Len(t, f.transport.sent, 1)

	// Before the wait elapses nothing more goes out.
	f.clock.advance(2 * time.Hour)
	f.sweep.RunOnce()
	require.Len(t, f.transport.sent, 1)

	f.clock.advance(23 * time.Hour)
	f.sweep.RunOnce()
	require.Len(t, f.transport.sent, 2)
	assert.Equal(t, "Following up, Ada", f.transport.sent[1].Subject)

	var enr models.Enrollment
	require.NoError(t, db.First(&enr, f.enrollment.ID).Error)
	assert.Equal(t, models.EnrollmentStatusCompleted, enr.Status)

	var seq models.Sequence
	require.NoError(t, db.First(&seq, f.seq.ID).Error)
	assert.Equal(t, models.SequenceStatusCompleted, seq.Status)
	require.NotNil(t, seq.CompletedAt)

	require.Len(t, f.notifier.named("sequence.completed"), 1)
}

func TestSweepHardBounce(t *testing.T) {
	f := newSweepFixture(t)
	db := f.sweep.DB
	f.transport.err = &utils.SendError{Permanent: true, Err: errors.New("550 user unknown")}

	f.sweep.RunOnce()

	var record models.SendRecord
	require.NoError(t, db.Where("enrollment_id = ?", f.enrollment.ID).First(&record).Error)
	assert.Equal(t, models.SendStatusBounced, record.Status)
	require.NotNil(t, record.BouncedAt)
	assert.Contains(t, record.FailureReason, "550")

	var enr models.Enrollment
	require.NoError(t, db.First(&enr, f.enrollment.ID).Error)
	assert.Equal(t, models.EnrollmentStatusBounced, enr.Status)

	var lead models.Lead
	require.NoError(t, db.First(&lead, f.lead.ID).Error)
	assert.True(t, lead.IsBounced)

	var suppressed int64
	db.Model(&models.Suppression{}).
		Where("user_id = ? AND email = ?", f.seq.UserID, "ada@example.com").
		Count(&suppressed)
	assert.Equal(t, int64(1), suppressed)

	var seq models.Sequence
	require.NoError(t, db.First(&seq, f.seq.ID).Error)
	assert.Equal(t, 1, seq.BounceCount)
	assert.Equal(t, models.SequenceStatusActive, seq.Status)
}

func TestSweepTransientFailureKeepsSchedule(t *testing.T) {
	f := newSweepFixture(t)
	db := f.sweep.DB
	f.transport.err = errors.New("connection reset by peer")

	f.sweep.RunOnce()

	var record models.SendRecord
	require.NoError(t, db.Where("enrollment_id = ?", f.enrollment.ID).First(&record).Error)
	assert.Equal(t, models.SendStatusFailed, record.Status)

	var enr models.Enrollment
	require.NoError(t, db.First(&enr, f.enrollment.ID).Error)
	assert.Equal(t, models.EnrollmentStatusInProgress, enr.Status)
	assert.Equal(t, 0, enr.CurrentStep)

	// Next cycle with the transport healthy delivers the same step.
	f.transport.err = nil
	f.clock.advance(10 * time.Minute)
	f.sweep.RunOnce()

	require.Len(t, f.transport.sent, 1)
	assert.Equal(t, "Hello Ada", f.transport.sent[0].Subject)

	require.NoError(t, db.First(&enr, f.enrollment.ID).Error)
	assert.Equal(t, 1, enr.CurrentStep)
}

func TestSweepOutsideSendWindowSkips(t *testing.T) {
	f := newSweepFixture(t)
	db := f.sweep.DB
	require.NoError(t, db.Model(f.seq).Update("send_days", "sat,sun").Error)

	f.sweep.RunOnce()

	assert.Empty(t, f.transport.sent)

	var enr models.Enrollment
	require.NoError(t, db.First(&enr, f.enrollment.ID).Error)
	assert.Equal(t, models.EnrollmentStatusPending, enr.Status)
}

func TestSweepSuppressedLeadNeverDispatched(t *testing.T) {
	f := newSweepFixture(t)
	db := f.sweep.DB
	require.NoError(t, f.sweep.Suppression.Add(f.seq.UserID, "ada@example.com", "manual"))

	f.sweep.RunOnce()

	assert.Empty(t, f.transport.sent)

	var enr models.Enrollment
	require.NoError(t, db.First(&enr, f.enrollment.ID).Error)
	assert.Equal(t, models.EnrollmentStatusUnsubscribed, enr.Status)
}

func TestSweepDailyCapBoundsCycle(t *testing.T) {
	f := newSweepFixture(t)
	db := f.sweep.DB
	require.NoError(t, db.Model(f.seq).Update("daily_limit", 1).Error)

	lead2 := models.Lead{UserID: f.seq.UserID, Email: "bob@example.com", FirstName: "Bob"}
	require.NoError(t, db.Create(&lead2).Error)
	require.NoError(t, db.Create(&models.Enrollment{
		SequenceID: f.seq.ID, LeadID: lead2.ID, UserID: f.seq.UserID,
		Status: models.EnrollmentStatusPending,
	}).Error)

	f.sweep.RunOnce()

	assert.Len(t, f.transport.sent, 1)
}

func TestSweepPausedSenderDefersSequence(t *testing.T) {
	f := newSweepFixture(t)
	db := f.sweep.DB
	require.NoError(t, db.Model(f.sender).Updates(map[string]interface{}{
		"is_paused": true, "pause_reason": "deliverability drop",
	}).Error)

	f.sweep.RunOnce()

	assert.Empty(t, f.transport.sent)

	var enr models.Enrollment
	require.NoError(t, db.First(&enr, f.enrollment.ID).Error)
	assert.Equal(t, models.EnrollmentStatusInProgress, enr.Status)
	assert.Equal(t, 0, enr.CurrentStep)
}

func TestSweepBounceValveAutoPauses(t *testing.T) {
	f := newSweepFixture(t)
	db := f.sweep.DB
	require.NoError(t, db.Model(f.seq).Updates(map[string]interface{}{
		"sent_count": 95, "bounce_count": 5,
	}).Error)
	f.transport.err = &utils.SendError{Permanent: true, Err: errors.New("550 no such user")}

	f.sweep.RunOnce()

	var seq models.Sequence
	require.NoError(t, db.First(&seq, f.seq.ID).Error)
	assert.Equal(t, models.SequenceStatusPaused, seq.Status)
	assert.Contains(t, seq.PausedReason, "bounce rate")

	require.Len(t, f.notifier.named("sequence.auto_paused"), 1)
}

func TestInSendWindow(t *testing.T) {
	tue10 := time.Date(2026, 12, 1, 10, 0, 0, 0, time.UTC)

	t.Run("unrestricted", func(t *testing.T) {
		assert.True(t, InSendWindow(&models.Sequence{}, tue10))
	})

	t.Run("weekday filter", func(t *testing.T) {
		seq := &models.Sequence{SendDays: "mon,tue,wed,thu,fri"}
		assert.True(t, InSendWindow(seq, tue10))

		sat := time.Date(2026, 12, 5, 10, 0, 0, 0, time.UTC)
		assert.False(t, InSendWindow(seq, sat))
	})

	t.Run("hour window", func(t *testing.T) {
		seq := &models.Sequence{SendStart: "09:00", SendEnd: "17:00"}
		assert.True(t, InSendWindow(seq, tue10))
		assert.False(t, InSendWindow(seq, tue10.Add(8*time.Hour)))
		// Start is inclusive, end exclusive.
		assert.True(t, InSendWindow(seq, time.Date(2026, 12, 1, 9, 0, 0, 0, time.UTC)))
		assert.False(t, InSendWindow(seq, time.Date(2026, 12, 1, 17, 0, 0, 0, time.UTC)))
	})

	t.Run("overnight window", func(t *testing.T) {
		seq := &models.Sequence{SendStart: "22:00", SendEnd: "06:00"}
		assert.True(t, InSendWindow(seq, time.Date(2026, 12, 1, 23, 0, 0, 0, time.UTC)))
		assert.True(t, InSendWindow(seq, time.Date(2026, 12, 1, 5, 0, 0, 0, time.UTC)))
		assert.False(t, InSendWindow(seq, tue10))
	})

	t.Run("timezone shifts the weekday", func(t *testing.T) {
		seq := &models.Sequence{SendDays: "tue", Timezone: "America/New_York"}
		// 02:00 UTC Wednesday is still Tuesday evening in New York.
		wed2 := time.Date(2026, 12, 2, 2, 0, 0, 0, time.UTC)
		assert.True(t, InSendWindow(seq, wed2))
	})
}
