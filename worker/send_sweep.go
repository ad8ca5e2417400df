package worker

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync/atomic"
	"time"

	"coldreach/models"
	"coldreach/utils"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Auto-pause safety valve: a sequence whose lifetime bounce rate crosses the
// threshold after the minimum volume is paused and surfaced as a notable event.
const (
	BounceRateThreshold = 0.05
	BounceMinVolume     = 100
)

// SendSweep is the recurring orchestrator walking every active sequence,
// selecting due enrollments and dispatching through the transport. One sweep
// instance per deployment; reentrancy across ticks is guarded, not assumed.
type SendSweep struct {
	DB          *gorm.DB
	Transport   utils.Transport
	Suppression *utils.SuppressionList
	Notifier    utils.Notifier
	Progression *Progression
	Resolver    *utils.ContentResolver
	Logger      *logrus.Logger

	Interval  time.Duration
	BatchSize int
	BaseURL   string

	Rng *rand.Rand
	Now func() time.Time

	running atomic.Bool
}

func NewSendSweep(db *gorm.DB, transport utils.Transport, suppression *utils.SuppressionList,
	notifier utils.Notifier, logger *logrus.Logger, interval time.Duration, batchSize int, baseURL string) *SendSweep {

	if batchSize <= 0 {
		batchSize = 10
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &SendSweep{
		DB:          db,
		Transport:   transport,
		Suppression: suppression,
		Notifier:    notifier,
		Progression: NewProgression(db, logger),
		Resolver:    utils.NewContentResolver(rng),
		Logger:      logger,
		Interval:    interval,
		BatchSize:   batchSize,
		BaseURL:     baseURL,
		Rng:         rng,
		Now:         time.Now,
	}
}

func (sw *SendSweep) Start(ctx context.Context) {
	sw.Logger.Info("send sweep started")

	ticker := time.NewTicker(sw.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sw.Logger.Info("send sweep shutting down")
			return
		case <-ticker.C:
			sw.RunOnce()
		}
	}
}

// RunOnce executes a single sweep pass. If the previous pass is still
// running when the timer fires, this tick is skipped rather than run
// concurrently with itself.
func (sw *SendSweep) RunOnce() {
	if !sw.running.CompareAndSwap(false, true) {
		sw.Logger.Debug("previous sweep still running, skipping tick")
		return
	}
	defer sw.running.Store(false)

	var sequences []models.Sequence
	err := sw.DB.
		Preload("Steps", func(db *gorm.DB) *gorm.DB { return db.Order("step_number ASC") }).
		Preload("Steps.Variants").
		Where("status = ?", models.SequenceStatusActive).
		Find(&sequences).Error
	if err != nil {
		sw.Logger.Errorf("failed to fetch active sequences: %v", err)
		return
	}

	for i := range sequences {
		sw.processSequenceSafe(&sequences[i])
	}
}

// processSequenceSafe isolates one sequence's processing: a panic or fatal
// error aborts only that sequence's work for this cycle, never the sweep.
func (sw *SendSweep) processSequenceSafe(seq *models.Sequence) {
	defer func() {
		if r := recover(); r != nil {
			sentry.CurrentHub().Recover(r)
			sw.Logger.WithField("sequence_id", seq.ID).Errorf("panic while processing sequence: %v", r)
		}
	}()

	if err := sw.processSequence(seq); err != nil {
		sentry.CaptureException(err)
		sw.Logger.WithField("sequence_id", seq.ID).Errorf("sequence processing aborted: %v", err)
	}
}

func (sw *SendSweep) processSequence(seq *models.Sequence) error {
	now := sw.Now()

	if !InSendWindow(seq, now) {
		return nil
	}

	limit := utils.EffectiveDailyLimit(seq, now)
	sentToday, err := sw.sentTodayCount(seq, now)
	if err != nil {
		return fmt.Errorf("failed to count today's sends: %w", err)
	}
	if sentToday >= limit {
		return nil
	}

	// Catch enrollments created while the sequence was already active, and
	// resume paused ones whose out-of-office window elapsed.
	if err := sw.Progression.StartPending(seq.ID); err != nil {
		return fmt.Errorf("failed to start pending enrollments: %w", err)
	}
	if err := sw.Progression.ResumeDue(seq.ID); err != nil {
		return fmt.Errorf("failed to resume paused enrollments: %w", err)
	}

	batch := sw.BatchSize
	if headroom := limit - sentToday; headroom < batch {
		batch = headroom
	}

	var enrollments []models.Enrollment
	err = sw.DB.
		Where("sequence_id = ? AND status = ? AND next_send_at <= ?",
			seq.ID, models.EnrollmentStatusInProgress, now).
		Order("next_send_at ASC").
		Limit(batch).
		Find(&enrollments).Error
	if err != nil {
		return fmt.Errorf("failed to fetch due enrollments: %w", err)
	}

	for i := range enrollments {
		proceed := sw.processEnrollment(seq, &enrollments[i], &sentToday, limit)
		if !proceed {
			break
		}
	}

	if err := sw.completeIfDrained(seq); err != nil {
		return err
	}
	return nil
}

// processEnrollment dispatches one due enrollment. The boolean return tells
// the caller whether to keep processing this sequence in the current cycle:
// identity exhaustion and the daily cap stop the whole sequence, while
// per-recipient problems only skip that recipient.
func (sw *SendSweep) processEnrollment(seq *models.Sequence, enrollment *models.Enrollment, sentToday *int, limit int) bool {
	log := sw.Logger.WithFields(logrus.Fields{
		"sequence_id":   seq.ID,
		"enrollment_id": enrollment.ID,
	})

	var lead models.Lead
	if err := sw.DB.First(&lead, enrollment.LeadID).Error; err != nil {
		log.Warnf("lead %d not found: %v", enrollment.LeadID, err)
		return true
	}

	if lead.IsBounced {
		_ = sw.Progression.MarkBounced(enrollment.ID)
		return true
	}
	if lead.IsUnsubscribed || lead.IsDoNotContact || sw.Suppression.IsSuppressed(seq.UserID, lead.Email) {
		_, _ = sw.Progression.MarkUnsubscribed(enrollment.ID)
		return true
	}

	step := seq.StepAt(enrollment.CurrentStep)
	if step == nil {
		if err := sw.Progression.Complete(enrollment.ID); err != nil {
			log.Warnf("failed to complete enrollment: %v", err)
		}
		return true
	}

	// Identity rotation is sequence-wide: when the least-recently-used
	// identity hasn't cleared the send gap, stop the sequence for this
	// cycle instead of skipping just this recipient.
	senders, err := sw.sequenceSenders(seq.ID)
	if err != nil {
		log.Errorf("failed to fetch senders: %v", err)
		return false
	}
	sender := utils.PickSender(senders, sw.Now())
	if sender == nil {
		log.Info("no sending identity available, deferring sequence to next cycle")
		return false
	}

	variant := utils.PickVariant(step.Variants, sw.Rng)
	if variant == nil {
		log.WithField("step", step.StepNumber).Info("step has no active variant, skipping recipient")
		return true
	}

	attrs := lead.Attributes()
	subject := sw.Resolver.Resolve(variant.Subject, attrs)
	body := sw.Resolver.Resolve(variant.Body, attrs)

	token := utils.NewTrackingToken()
	html := utils.InjectTracking(body, sw.BaseURL, token, seq.TrackOpens, seq.TrackClicks, true)

	record := models.SendRecord{
		UserID:        seq.UserID,
		SequenceID:    seq.ID,
		StepID:        step.ID,
		VariantID:     variant.ID,
		SenderID:      sender.ID,
		EnrollmentID:  enrollment.ID,
		LeadID:        lead.ID,
		Recipient:     lead.Email,
		Subject:       subject,
		Body:          html,
		TrackingToken: token,
		Status:        models.SendStatusSending,
	}
	if err := sw.DB.Create(&record).Error; err != nil {
		log.Errorf("failed to create send record: %v", err)
		return true
	}

	messageID, err := sw.Transport.Send(sender, utils.OutboundEmail{
		To:       lead.Email,
		Subject:  subject,
		HTMLBody: html,
	})
	if err != nil {
		if utils.IsPermanentSendError(err) {
			sw.handleHardBounce(seq, enrollment, &record, &lead, err)
		} else {
			// Transient: the enrollment keeps its schedule and is retried
			// the next time it comes due.
			log.Warnf("transient send failure: %v", err)
			sw.DB.Model(&record).Updates(map[string]interface{}{
				"status":         models.SendStatusFailed,
				"failure_reason": err.Error(),
			})
		}
		return true
	}

	sw.recordSuccess(seq, enrollment, &record, &lead, sender, variant, messageID)

	*sentToday++
	return *sentToday < limit
}

func (sw *SendSweep) recordSuccess(seq *models.Sequence, enrollment *models.Enrollment,
	record *models.SendRecord, lead *models.Lead, sender *models.Sender,
	variant *models.StepVariant, messageID string) {

	now := sw.Now()

	sw.DB.Model(record).Updates(map[string]interface{}{
		"status":     models.SendStatusSent,
		"message_id": messageID,
	})

	sw.bumpSenderCounters(sender, now)

	sw.DB.Model(&models.StepVariant{}).Where("id = ?", variant.ID).
		Update("sent_count", gorm.Expr("sent_count + ?", 1))
	sw.DB.Model(&models.Sequence{}).Where("id = ?", seq.ID).
		Update("sent_count", gorm.Expr("sent_count + ?", 1))
	sw.DB.Model(lead).Update("last_contact", now)

	if err := sw.Progression.Advance(enrollment, seq); err != nil {
		sw.Logger.WithField("enrollment_id", enrollment.ID).Errorf("failed to advance enrollment: %v", err)
	}
}

func (sw *SendSweep) handleHardBounce(seq *models.Sequence, enrollment *models.Enrollment,
	record *models.SendRecord, lead *models.Lead, sendErr error) {

	now := sw.Now()
	sw.Logger.WithFields(logrus.Fields{
		"sequence_id": seq.ID,
		"recipient":   lead.Email,
	}).Warnf("hard bounce: %v", sendErr)

	sw.DB.Model(record).Updates(map[string]interface{}{
		"status":         models.SendStatusBounced,
		"bounced_at":     now,
		"failure_reason": sendErr.Error(),
	})

	if err := sw.Progression.MarkBounced(enrollment.ID); err != nil {
		sw.Logger.Warnf("failed to mark enrollment bounced: %v", err)
	}

	sw.DB.Model(&models.Sequence{}).Where("id = ?", seq.ID).
		Update("bounce_count", gorm.Expr("bounce_count + ?", 1))
	sw.DB.Model(lead).Update("is_bounced", true)

	if err := sw.Suppression.Add(seq.UserID, lead.Email, "hard_bounce"); err != nil {
		sw.Logger.Warnf("failed to suppress bounced address: %v", err)
	}

	sw.checkBounceValve(seq)
}

// checkBounceValve auto-pauses a sequence whose lifetime bounce rate crossed
// the threshold after the minimum volume.
func (sw *SendSweep) checkBounceValve(seq *models.Sequence) {
	var fresh models.Sequence
	if err := sw.DB.Select("id", "user_id", "name", "sent_count", "bounce_count").
		First(&fresh, seq.ID).Error; err != nil {
		return
	}

	volume := fresh.SentCount + fresh.BounceCount
	if volume < BounceMinVolume {
		return
	}
	rate := float64(fresh.BounceCount) / float64(volume)
	if rate <= BounceRateThreshold {
		return
	}

	result := sw.DB.Model(&models.Sequence{}).
		Where("id = ? AND status = ?", seq.ID, models.SequenceStatusActive).
		Updates(map[string]interface{}{
			"status":        models.SequenceStatusPaused,
			"paused_reason": fmt.Sprintf("bounce rate %.1f%% exceeded threshold", rate*100),
		})
	if result.Error != nil || result.RowsAffected == 0 {
		return
	}
	seq.Status = models.SequenceStatusPaused

	sw.Logger.WithField("sequence_id", seq.ID).Warnf("sequence auto-paused, bounce rate %.1f%%", rate*100)
	sw.Notifier.Emit(seq.UserID, "sequence.auto_paused", map[string]interface{}{
		"sequence_id": seq.ID,
		"name":        fresh.Name,
		"bounce_rate": rate,
	})
}

// completeIfDrained marks a sequence completed once no enrollment can ever
// come due again.
func (sw *SendSweep) completeIfDrained(seq *models.Sequence) error {
	var remaining int64
	err := sw.DB.Model(&models.Enrollment{}).
		Where("sequence_id = ? AND status IN ?", seq.ID, []string{
			models.EnrollmentStatusPending,
			models.EnrollmentStatusInProgress,
			models.EnrollmentStatusPaused,
		}).
		Count(&remaining).Error
	if err != nil {
		return fmt.Errorf("failed to count remaining enrollments: %w", err)
	}
	if remaining > 0 {
		return nil
	}

	var total int64
	sw.DB.Model(&models.Enrollment{}).Where("sequence_id = ?", seq.ID).Count(&total)
	if total == 0 {
		// Nothing was ever enrolled; leave the sequence active.
		return nil
	}

	result := sw.DB.Model(&models.Sequence{}).
		Where("id = ? AND status = ?", seq.ID, models.SequenceStatusActive).
		Updates(map[string]interface{}{
			"status":       models.SequenceStatusCompleted,
			"completed_at": sw.Now(),
		})
	if result.Error == nil && result.RowsAffected > 0 {
		sw.Logger.WithField("sequence_id", seq.ID).Info("sequence completed")
		sw.Notifier.Emit(seq.UserID, "sequence.completed", map[string]interface{}{
			"sequence_id": seq.ID,
			"name":        seq.Name,
		})
	}
	return result.Error
}

// sentTodayCount counts messages the sequence has sent since local midnight
// in its own timezone.
func (sw *SendSweep) sentTodayCount(seq *models.Sequence, now time.Time) (int, error) {
	loc := sequenceLocation(seq)
	localNow := now.In(loc)
	midnight := time.Date(localNow.Year(), localNow.Month(), localNow.Day(), 0, 0, 0, 0, loc)

	var count int64
	err := sw.DB.Model(&models.SendRecord{}).
		Where("sequence_id = ? AND status = ? AND created_at >= ?",
			seq.ID, models.SendStatusSent, midnight).
		Count(&count).Error
	return int(count), err
}

// bumpSenderCounters updates the identity's usage after a successful
// dispatch, lazily rolling the daily counter epoch when the stored date is
// stale.
func (sw *SendSweep) bumpSenderCounters(sender *models.Sender, now time.Time) {
	today := now.Format(models.CounterEpoch)
	updates := map[string]interface{}{
		"last_sent_at": now,
		"total_sent":   gorm.Expr("total_sent + ?", 1),
	}
	if sender.SentTodayDate == today {
		updates["sent_today"] = gorm.Expr("sent_today + ?", 1)
	} else {
		updates["sent_today"] = 1
		updates["sent_today_date"] = today
		updates["warmup_sent_today"] = 0
	}
	if err := sw.DB.Model(&models.Sender{}).Where("id = ?", sender.ID).Updates(updates).Error; err != nil {
		sw.Logger.Warnf("failed to update sender %d counters: %v", sender.ID, err)
	}
}

// sequenceSenders returns a fresh snapshot of the identities assigned to a
// sequence. Queried per message so that counters bumped earlier in the same
// sweep are visible to the next rotation decision.
func (sw *SendSweep) sequenceSenders(sequenceID uint) ([]models.Sender, error) {
	var senders []models.Sender
	err := sw.DB.
		Joins("JOIN sequence_senders ON sequence_senders.sender_id = senders.id").
		Where("sequence_senders.sequence_id = ? AND sequence_senders.deleted_at IS NULL", sequenceID).
		Find(&senders).Error
	return senders, err
}

func sequenceLocation(seq *models.Sequence) *time.Location {
	if seq.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(seq.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// InSendWindow reports whether the sequence may dispatch at the given
// instant, evaluated in the sequence's own timezone. Empty window fields
// leave that dimension unrestricted.
func InSendWindow(seq *models.Sequence, now time.Time) bool {
	localNow := now.In(sequenceLocation(seq))

	if seq.SendDays != "" {
		day := strings.ToLower(localNow.Weekday().String()[:3])
		allowed := false
		for _, d := range strings.Split(seq.SendDays, ",") {
			if strings.TrimSpace(strings.ToLower(d)) == day {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if seq.SendStart != "" && seq.SendEnd != "" {
		start, err1 := time.Parse("15:04", seq.SendStart)
		end, err2 := time.Parse("15:04", seq.SendEnd)
		if err1 != nil || err2 != nil {
			return true
		}
		cur := localNow.Hour()*60 + localNow.Minute()
		startMin := start.Hour()*60 + start.Minute()
		endMin := end.Hour()*60 + end.Minute()
		if startMin <= endMin {
			return cur >= startMin && cur < endMin
		}
		// Overnight window, e.g. 22:00-06:00
		return cur >= startMin || cur < endMin
	}

	return true
}
