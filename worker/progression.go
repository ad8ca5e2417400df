package worker

import (
	"fmt"
	"time"

	"coldreach/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Progression is the state machine advancing enrollments through sequence
// steps. Every transition is a conditional UPDATE guarded on the current
// status, so a sweep racing against a reply arriving mid-cycle degrades to a
// benign no-op instead of an illegal transition.
type Progression struct {
	DB     *gorm.DB
	Logger *logrus.Logger
	Now    func() time.Time
}

func NewProgression(db *gorm.DB, logger *logrus.Logger) *Progression {
	return &Progression{DB: db, Logger: logger, Now: time.Now}
}

// StartPending flips every pending enrollment of a sequence to in_progress
// with an immediate next-eligible-send. Called on sequence activation and
// defensively at the top of each sweep pass.
func (p *Progression) StartPending(sequenceID uint) error {
	now := p.Now()
	return p.DB.Model(&models.Enrollment{}).
		Where("sequence_id = ? AND status = ?", sequenceID, models.EnrollmentStatusPending).
		Updates(map[string]interface{}{
			"status":       models.EnrollmentStatusInProgress,
			"next_send_at": now,
		}).Error
}

// ResumeDue flips paused enrollments whose out-of-office window has elapsed
// back to in_progress.
func (p *Progression) ResumeDue(sequenceID uint) error {
	return p.DB.Model(&models.Enrollment{}).
		Where("sequence_id = ? AND status = ? AND next_send_at <= ?",
			sequenceID, models.EnrollmentStatusPaused, p.Now()).
		Update("status", models.EnrollmentStatusInProgress).Error
}

// Advance moves an enrollment forward after its current step was dispatched
// successfully: onto the next step with that step's wait applied, or to
// completed when the last step was just sent.
func (p *Progression) Advance(enrollment *models.Enrollment, seq *models.Sequence) error {
	next := enrollment.CurrentStep + 1
	nextStep := seq.StepAt(next)

	if nextStep == nil {
		applied, err := p.transition(enrollment.ID, models.EnrollmentStatusInProgress, map[string]interface{}{
			"status": models.EnrollmentStatusCompleted,
		})
		if err == nil && applied {
			enrollment.Status = models.EnrollmentStatusCompleted
		}
		return err
	}

	nextSendAt := p.Now().Add(nextStep.Wait())
	applied, err := p.transition(enrollment.ID, models.EnrollmentStatusInProgress, map[string]interface{}{
		"current_step": next,
		"next_send_at": nextSendAt,
	})
	if err == nil && applied {
		enrollment.CurrentStep = next
		enrollment.NextSendAt = &nextSendAt
	}
	return err
}

// Complete marks an enrollment finished without a send, used when its step
// index points past the configured steps.
func (p *Progression) Complete(enrollmentID uint) error {
	_, err := p.transition(enrollmentID, models.EnrollmentStatusInProgress, map[string]interface{}{
		"status": models.EnrollmentStatusCompleted,
	})
	return err
}

// MarkBounced terminates an enrollment on a hard bounce.
func (p *Progression) MarkBounced(enrollmentID uint) error {
	_, err := p.transition(enrollmentID, models.EnrollmentStatusInProgress, map[string]interface{}{
		"status": models.EnrollmentStatusBounced,
	})
	return err
}

// MarkReplied terminates an enrollment after a matched reply. Only invoked
// when the sequence has stop-on-reply set.
func (p *Progression) MarkReplied(enrollmentID uint) (bool, error) {
	return p.transition(enrollmentID, models.EnrollmentStatusInProgress, map[string]interface{}{
		"status": models.EnrollmentStatusReplied,
	})
}

// MarkUnsubscribed terminates an enrollment on an unsubscribe, from any
// non-terminal state.
func (p *Progression) MarkUnsubscribed(enrollmentID uint) (bool, error) {
	result := p.DB.Model(&models.Enrollment{}).
		Where("id = ? AND status IN ?", enrollmentID, []string{
			models.EnrollmentStatusPending,
			models.EnrollmentStatusInProgress,
			models.EnrollmentStatusPaused,
		}).
		Update("status", models.EnrollmentStatusUnsubscribed)
	if result.Error != nil {
		return false, fmt.Errorf("failed to unsubscribe enrollment %d: %w", enrollmentID, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// PauseUntil suspends an in-progress enrollment until the given time, used
// for out-of-office reschedules.
func (p *Progression) PauseUntil(enrollmentID uint, until time.Time) (bool, error) {
	return p.transition(enrollmentID, models.EnrollmentStatusInProgress, map[string]interface{}{
		"status":       models.EnrollmentStatusPaused,
		"next_send_at": until,
	})
}

// transition applies updates only while the enrollment still holds the
// expected status. Zero rows affected means another flow won the race; that
// is expected and not an error.
func (p *Progression) transition(enrollmentID uint, fromStatus string, updates map[string]interface{}) (bool, error) {
	result := p.DB.Model(&models.Enrollment{}).
		Where("id = ? AND status = ?", enrollmentID, fromStatus).
		Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("enrollment %d transition failed: %w", enrollmentID, result.Error)
	}
	return result.RowsAffected > 0, nil
}
