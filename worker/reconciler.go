package worker

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"coldreach/models"
	"coldreach/utils"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Thread tag policies. With "latest" the thread tag always follows the most
// recent inbound message; with "sticky" a higher-priority tag is never
// overwritten by a lower one.
const (
	TagPolicyLatest = "latest"
	TagPolicySticky = "sticky"
)

// ReplyReconciler connects an inbound message back to the send that caused
// it: classification, threading, reply stamping and the enrollment side
// effects (stop, unsubscribe, out-of-office reschedule).
type ReplyReconciler struct {
	DB          *gorm.DB
	Classifier  utils.ReplyClassifier
	Progression *Progression
	Suppression *utils.SuppressionList
	Notifier    utils.Notifier
	Logger      *logrus.Logger
	TagPolicy   string
	Now         func() time.Time
}

func NewReplyReconciler(db *gorm.DB, classifier utils.ReplyClassifier, suppression *utils.SuppressionList,
	notifier utils.Notifier, logger *logrus.Logger, tagPolicy string) *ReplyReconciler {

	if tagPolicy == "" {
		tagPolicy = TagPolicyLatest
	}
	return &ReplyReconciler{
		DB:          db,
		Classifier:  classifier,
		Progression: NewProgression(db, logger),
		Suppression: suppression,
		Notifier:    notifier,
		Logger:      logger,
		TagPolicy:   tagPolicy,
		Now:         time.Now,
	}
}

// Reconcile processes one inbound message for a sending identity. Processing
// the same message twice is a no-op keyed on its Message-ID.
func (rr *ReplyReconciler) Reconcile(sender *models.Sender, msg *InboundMessage) error {
	correspondent := strings.ToLower(strings.TrimSpace(msg.From))
	if correspondent == "" || correspondent == strings.ToLower(sender.FromEmail) {
		return nil
	}

	classification := rr.Classifier.Classify(msg.Subject + "\n" + msg.Body)

	thread, created, err := rr.appendToThread(sender, correspondent, msg, classification)
	if err != nil {
		return err
	}
	if !created {
		// Message-ID already threaded; this poll saw it before.
		return nil
	}

	record, err := rr.matchSendRecord(sender.ID, correspondent, msg.InReplyTo)
	if err != nil {
		return err
	}
	if record == nil {
		rr.Logger.WithFields(logrus.Fields{
			"sender_id":     sender.ID,
			"correspondent": correspondent,
			"tag":           classification.Tag,
		}).Debug("inbound message has no matching send record")
		return nil
	}

	if classification.Tag == utils.TagOutOfOffice {
		return rr.handleAutoReply(record, msg, thread)
	}
	return rr.handleGenuineReply(record, msg, classification, thread)
}

// appendToThread upserts the (sender, correspondent) thread, records the
// message and applies the tag policy. The boolean is false when the message
// was already present.
func (rr *ReplyReconciler) appendToThread(sender *models.Sender, correspondent string,
	msg *InboundMessage, classification utils.Classification) (*models.Thread, bool, error) {

	var thread models.Thread
	err := rr.DB.Where("sender_id = ? AND correspondent = ?", sender.ID, correspondent).
		First(&thread).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		thread = models.Thread{
			UserID:        sender.UserID,
			SenderID:      sender.ID,
			Correspondent: correspondent,
		}
		if err := rr.DB.Create(&thread).Error; err != nil {
			return nil, false, fmt.Errorf("failed to create thread: %w", err)
		}
	} else if err != nil {
		return nil, false, fmt.Errorf("failed to load thread: %w", err)
	}

	if msg.MessageID != "" {
		var seen int64
		rr.DB.Model(&models.ThreadMessage{}).
			Where("thread_id = ? AND message_id = ?", thread.ID, msg.MessageID).
			Count(&seen)
		if seen > 0 {
			return &thread, false, nil
		}
	}

	receivedAt := msg.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = rr.Now()
	}
	message := models.ThreadMessage{
		ThreadID:   thread.ID,
		Direction:  models.MessageDirectionInbound,
		MessageID:  msg.MessageID,
		InReplyTo:  msg.InReplyTo,
		Subject:    msg.Subject,
		Body:       msg.Body,
		ReceivedAt: receivedAt,
	}
	if err := rr.DB.Create(&message).Error; err != nil {
		return nil, false, fmt.Errorf("failed to record thread message: %w", err)
	}

	updates := map[string]interface{}{"last_message_at": receivedAt}
	if rr.TagPolicy != TagPolicySticky || utils.TagPriority(classification.Tag) >= utils.TagPriority(thread.Tag) {
		updates["tag"] = classification.Tag
		updates["sentiment"] = classification.Sentiment
		updates["confidence"] = classification.Confidence
		thread.Tag = classification.Tag
	}
	if err := rr.DB.Model(&thread).Updates(updates).Error; err != nil {
		return nil, false, fmt.Errorf("failed to update thread: %w", err)
	}
	return &thread, true, nil
}

// matchSendRecord resolves which outbound message an inbound one replies to:
// the In-Reply-To header when it matches a known Message-ID, otherwise the
// most recent sent message to that correspondent from the same identity.
func (rr *ReplyReconciler) matchSendRecord(senderID uint, correspondent, inReplyTo string) (*models.SendRecord, error) {
	var record models.SendRecord

	if inReplyTo != "" {
		err := rr.DB.Where("sender_id = ? AND message_id = ? AND status = ?",
			senderID, inReplyTo, models.SendStatusSent).
			First(&record).Error
		if err == nil {
			return &record, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("failed to match by message id: %w", err)
		}
	}

	err := rr.DB.Where("sender_id = ? AND recipient = ? AND status = ?",
		senderID, correspondent, models.SendStatusSent).
		Order("created_at DESC").
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to match by recipient: %w", err)
	}
	return &record, nil
}

// handleAutoReply processes an out-of-office message. It never counts as a
// genuine reply: when the sequence reacts to auto-replies the enrollment is
// rescheduled to the extracted return date, otherwise it is left untouched
// and the message only lives on the thread.
func (rr *ReplyReconciler) handleAutoReply(record *models.SendRecord, msg *InboundMessage, thread *models.Thread) error {
	var seq models.Sequence
	if err := rr.DB.First(&seq, record.SequenceID).Error; err != nil {
		return fmt.Errorf("failed to load sequence %d: %w", record.SequenceID, err)
	}

	if !seq.StopOnAutoReply {
		rr.Logger.WithFields(logrus.Fields{
			"enrollment_id": record.EnrollmentID,
			"thread_id":     thread.ID,
		}).Debug("out-of-office reply logged, sequence continues")
		return nil
	}

	// Best-effort date extraction; an unparseable date also leaves the
	// schedule alone.
	returnDate, ok := utils.ExtractReturnDate(msg.Body, rr.Now())
	if !ok || !returnDate.After(rr.Now()) {
		return nil
	}

	paused, err := rr.Progression.PauseUntil(record.EnrollmentID, returnDate)
	if err != nil {
		return err
	}
	if paused {
		rr.Logger.WithFields(logrus.Fields{
			"enrollment_id": record.EnrollmentID,
			"resume_at":     returnDate,
		}).Info("enrollment paused until out-of-office return date")
	}
	return nil
}

func (rr *ReplyReconciler) handleGenuineReply(record *models.SendRecord, msg *InboundMessage,
	classification utils.Classification, thread *models.Thread) error {

	receivedAt := msg.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = rr.Now()
	}

	// First reply to this send stamps the timestamp and bumps aggregates;
	// later replies to the same message only extend the thread.
	result := rr.DB.Model(&models.SendRecord{}).
		Where("id = ? AND replied_at IS NULL", record.ID).
		Update("replied_at", receivedAt)
	if result.Error != nil {
		return fmt.Errorf("failed to stamp reply: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		rr.DB.Model(&models.Sequence{}).Where("id = ?", record.SequenceID).
			Update("reply_count", gorm.Expr("reply_count + ?", 1))
		rr.DB.Model(&models.StepVariant{}).Where("id = ?", record.VariantID).
			Update("reply_count", gorm.Expr("reply_count + ?", 1))
		rr.DB.Model(&models.Sender{}).Where("id = ?", record.SenderID).
			Update("reply_count", gorm.Expr("reply_count + ?", 1))
	}

	var seq models.Sequence
	if err := rr.DB.First(&seq, record.SequenceID).Error; err != nil {
		return fmt.Errorf("failed to load sequence %d: %w", record.SequenceID, err)
	}

	if classification.Tag == utils.TagUnsubscribe {
		return rr.handleUnsubscribe(record, &seq)
	}

	if seq.StopOnReply {
		if _, err := rr.Progression.MarkReplied(record.EnrollmentID); err != nil {
			return err
		}
	}

	rr.Notifier.Emit(record.UserID, "reply.received", map[string]interface{}{
		"sequence_id":   record.SequenceID,
		"enrollment_id": record.EnrollmentID,
		"thread_id":     thread.ID,
		"recipient":     record.Recipient,
		"tag":           classification.Tag,
		"sentiment":     classification.Sentiment,
	})
	return nil
}

func (rr *ReplyReconciler) handleUnsubscribe(record *models.SendRecord, seq *models.Sequence) error {
	if _, err := rr.Progression.MarkUnsubscribed(record.EnrollmentID); err != nil {
		return err
	}

	if err := rr.Suppression.Add(record.UserID, record.Recipient, "unsubscribe_reply"); err != nil {
		rr.Logger.Warnf("failed to suppress %s: %v", record.Recipient, err)
	}
	rr.DB.Model(&models.Lead{}).Where("id = ?", record.LeadID).
		Update("is_unsubscribed", true)
	rr.DB.Model(&models.Sequence{}).Where("id = ?", seq.ID).
		Update("unsubscribe_count", gorm.Expr("unsubscribe_count + ?", 1))

	rr.Notifier.Emit(record.UserID, "lead.unsubscribed", map[string]interface{}{
		"sequence_id": record.SequenceID,
		"lead_id":     record.LeadID,
		"recipient":   record.Recipient,
		"source":      "reply",
	})
	return nil
}
