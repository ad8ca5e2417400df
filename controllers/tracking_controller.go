package controller

import (
	"errors"
	"net/url"
	"time"

	"coldreach/models"
	"coldreach/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// TrackingController terminates the public tracking endpoints: open pixel,
// click redirect and unsubscribe landing. The Apply* methods hold the
// reconciliation logic and are callable without an HTTP context.
type TrackingController struct {
	DB          *gorm.DB
	Suppression *utils.SuppressionList
	Notifier    utils.Notifier
	Logger      *logrus.Logger
	Now         func() time.Time
}

func NewTrackingController(db *gorm.DB, suppression *utils.SuppressionList,
	notifier utils.Notifier, logger *logrus.Logger) *TrackingController {

	return &TrackingController{
		DB:          db,
		Suppression: suppression,
		Notifier:    notifier,
		Logger:      logger,
		Now:         time.Now,
	}
}

// findByToken resolves a tracking token. Unknown tokens are not an error:
// tracking endpoints must stay a cheap no-op for bots and stale links.
func (tc *TrackingController) findByToken(token string) (*models.SendRecord, error) {
	var record models.SendRecord
	err := tc.DB.Where("tracking_token = ?", token).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ApplyOpen records one open event. The counter increments on every call;
// the first-open timestamp and the dashboard aggregates move exactly once.
func (tc *TrackingController) ApplyOpen(token string) error {
	record, err := tc.findByToken(token)
	if err != nil || record == nil {
		return err
	}

	if err := tc.DB.Model(record).
		Update("open_count", gorm.Expr("open_count + ?", 1)).Error; err != nil {
		return err
	}

	result := tc.DB.Model(&models.SendRecord{}).
		Where("id = ? AND opened_at IS NULL", record.ID).
		Update("opened_at", tc.Now())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		tc.DB.Model(&models.Sequence{}).Where("id = ?", record.SequenceID).
			Update("open_count", gorm.Expr("open_count + ?", 1))
		tc.DB.Model(&models.StepVariant{}).Where("id = ?", record.VariantID).
			Update("open_count", gorm.Expr("open_count + ?", 1))
	}
	return nil
}

// ApplyClick records one click event on the given destination URL.
func (tc *TrackingController) ApplyClick(token, destination string) error {
	record, err := tc.findByToken(token)
	if err != nil || record == nil {
		return err
	}

	now := tc.Now()
	if err := tc.DB.Create(&models.SendClick{
		SendRecordID: record.ID,
		URL:          destination,
		ClickedAt:    now,
	}).Error; err != nil {
		return err
	}
	if err := tc.DB.Model(record).
		Update("click_count", gorm.Expr("click_count + ?", 1)).Error; err != nil {
		return err
	}

	result := tc.DB.Model(&models.SendRecord{}).
		Where("id = ? AND clicked_at IS NULL", record.ID).
		Update("clicked_at", now)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		tc.DB.Model(&models.Sequence{}).Where("id = ?", record.SequenceID).
			Update("click_count", gorm.Expr("click_count + ?", 1))
		tc.DB.Model(&models.StepVariant{}).Where("id = ?", record.VariantID).
			Update("click_count", gorm.Expr("click_count + ?", 1))
	}
	return nil
}

// ApplyUnsubscribe suppresses the recipient and terminates every live
// enrollment of the lead, across all of the tenant's sequences.
func (tc *TrackingController) ApplyUnsubscribe(token string) error {
	record, err := tc.findByToken(token)
	if err != nil || record == nil {
		return err
	}

	if err := tc.Suppression.Add(record.UserID, record.Recipient, "unsubscribe_link"); err != nil {
		return err
	}

	result := tc.DB.Model(&models.Lead{}).
		Where("id = ? AND is_unsubscribed = ?", record.LeadID, false).
		Update("is_unsubscribed", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		tc.DB.Model(&models.Sequence{}).Where("id = ?", record.SequenceID).
			Update("unsubscribe_count", gorm.Expr("unsubscribe_count + ?", 1))
	}

	if err := tc.DB.Model(&models.Enrollment{}).
		Where("lead_id = ? AND status IN ?", record.LeadID, []string{
			models.EnrollmentStatusPending,
			models.EnrollmentStatusInProgress,
			models.EnrollmentStatusPaused,
		}).
		Update("status", models.EnrollmentStatusUnsubscribed).Error; err != nil {
		return err
	}

	tc.Notifier.Emit(record.UserID, "lead.unsubscribed", map[string]interface{}{
		"sequence_id": record.SequenceID,
		"lead_id":     record.LeadID,
		"recipient":   record.Recipient,
		"source":      "link",
	})
	return nil
}

// HandleOpen serves the open pixel. Always answers with the GIF, even for
// unknown tokens.
func (tc *TrackingController) HandleOpen(c *fiber.Ctx) error {
	token := c.Params("token")
	if err := tc.ApplyOpen(token); err != nil {
		tc.Logger.Warnf("failed to record open for token %s: %v", token, err)
	}
	return c.Type("gif").Send(transparentPixel())
}

// HandleClick records the click and redirects to the original destination.
func (tc *TrackingController) HandleClick(c *fiber.Ctx) error {
	token := c.Params("token")
	destination := c.Query("url")

	parsed, err := url.Parse(destination)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return c.Status(fiber.StatusBadRequest).SendString("Invalid destination URL")
	}

	if err := tc.ApplyClick(token, destination); err != nil {
		tc.Logger.Warnf("failed to record click for token %s: %v", token, err)
	}
	return c.Redirect(destination, fiber.StatusFound)
}

// HandleUnsubscribe processes the unsubscribe link and serves a minimal
// confirmation page.
func (tc *TrackingController) HandleUnsubscribe(c *fiber.Ctx) error {
	token := c.Params("token")
	if err := tc.ApplyUnsubscribe(token); err != nil {
		tc.Logger.Warnf("failed to process unsubscribe for token %s: %v", token, err)
		return c.Status(fiber.StatusInternalServerError).SendString("Something went wrong, please try again")
	}
	c.Set("Content-Type", "text/html; charset=utf-8")
	return c.SendString("<html><body><h3>You have been unsubscribed.</h3><p>You will not receive further emails from this sender.</p></body></html>")
}

func transparentPixel() []byte {
	// 1x1 transparent GIF
	return []byte{
		0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
		0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x21,
		0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x2c, 0x00, 0x00,
		0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44,
		0x01, 0x00, 0x3b,
	}
}
