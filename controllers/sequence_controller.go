package controller

import (
	"errors"
	"strings"
	"time"

	"coldreach/models"
	"coldreach/utils"
	"coldreach/worker"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type SequenceController struct {
	DB          *gorm.DB
	Progression *worker.Progression
	Suppression *utils.SuppressionList
	Validator   *validator.Validate
	Logger      *logrus.Logger
	Now         func() time.Time
}

func NewSequenceController(db *gorm.DB, logger *logrus.Logger) *SequenceController {
	return &SequenceController{
		DB:          db,
		Progression: worker.NewProgression(db, logger),
		Suppression: utils.NewSuppressionList(db),
		Validator:   validator.New(),
		Logger:      logger,
		Now:         time.Now,
	}
}

type variantInput struct {
	Label   string `json:"label"`
	Subject string `json:"subject" validate:"required"`
	Body    string `json:"body" validate:"required"`
	Weight  int    `json:"weight" validate:"gte=0"`
}

type stepInput struct {
	WaitDays  int            `json:"wait_days" validate:"gte=0"`
	WaitHours int            `json:"wait_hours" validate:"gte=0"`
	Variants  []variantInput `json:"variants" validate:"required,min=1,dive"`
}

type createSequenceInput struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`

	SendDays  string `json:"send_days"`
	SendStart string `json:"send_start"`
	SendEnd   string `json:"send_end"`
	Timezone  string `json:"timezone"`

	DailyLimit      int  `json:"daily_limit" validate:"gte=0"`
	SlowRampEnabled bool `json:"slow_ramp_enabled"`
	SlowRampDays    int  `json:"slow_ramp_days" validate:"gte=0"`
	SlowRampStart   int  `json:"slow_ramp_start" validate:"gte=0"`

	StopOnReply     *bool `json:"stop_on_reply"`
	StopOnAutoReply bool  `json:"stop_on_auto_reply"`
	TrackOpens      *bool `json:"track_opens"`
	TrackClicks     *bool `json:"track_clicks"`

	Steps     []stepInput `json:"steps" validate:"required,min=1,dive"`
	SenderIDs []uint      `json:"sender_ids" validate:"required,min=1"`
}

func (sc *SequenceController) CreateSequence(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input createSequenceInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := sc.Validator.Struct(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}
	if input.Timezone != "" {
		if _, err := time.LoadLocation(input.Timezone); err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Unknown timezone", err)
		}
	}

	// Assigned identities must belong to the tenant.
	var senderCount int64
	sc.DB.Model(&models.Sender{}).
		Where("id IN ? AND user_id = ?", input.SenderIDs, user.ID).
		Count(&senderCount)
	if int(senderCount) != len(input.SenderIDs) {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "One or more senders not found", nil)
	}

	sequence := models.Sequence{
		UserID:          user.ID,
		Name:            input.Name,
		Description:     input.Description,
		Status:          models.SequenceStatusDraft,
		SendDays:        strings.ToLower(input.SendDays),
		SendStart:       input.SendStart,
		SendEnd:         input.SendEnd,
		Timezone:        input.Timezone,
		DailyLimit:      input.DailyLimit,
		SlowRampEnabled: input.SlowRampEnabled,
		StopOnAutoReply: input.StopOnAutoReply,
		StopOnReply:     true,
		TrackOpens:      true,
		TrackClicks:     true,
	}
	if input.SlowRampDays > 0 {
		sequence.SlowRampDays = input.SlowRampDays
	}
	if input.SlowRampStart > 0 {
		sequence.SlowRampStart = input.SlowRampStart
	}
	if input.StopOnReply != nil {
		sequence.StopOnReply = *input.StopOnReply
	}
	if input.TrackOpens != nil {
		sequence.TrackOpens = *input.TrackOpens
	}
	if input.TrackClicks != nil {
		sequence.TrackClicks = *input.TrackClicks
	}

	tx := sc.DB.Begin()
	if err := tx.Create(&sequence).Error; err != nil {
		tx.Rollback()
		sc.Logger.Errorf("failed to create sequence: %v", err)
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create sequence", nil)
	}

	for i, stepIn := range input.Steps {
		step := models.SequenceStep{
			SequenceID: sequence.ID,
			StepNumber: i,
			WaitDays:   stepIn.WaitDays,
			WaitHours:  stepIn.WaitHours,
		}
		if err := tx.Create(&step).Error; err != nil {
			tx.Rollback()
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create step", nil)
		}
		for _, variantIn := range stepIn.Variants {
			weight := variantIn.Weight
			if weight == 0 {
				weight = 1
			}
			variant := models.StepVariant{
				StepID:   step.ID,
				Label:    variantIn.Label,
				Subject:  variantIn.Subject,
				Body:     variantIn.Body,
				Weight:   weight,
				IsActive: true,
			}
			if err := tx.Create(&variant).Error; err != nil {
				tx.Rollback()
				return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create variant", nil)
			}
		}
	}

	for _, senderID := range input.SenderIDs {
		if err := tx.Create(&models.SequenceSender{
			SequenceID: sequence.ID,
			SenderID:   senderID,
		}).Error; err != nil {
			tx.Rollback()
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to assign sender", nil)
		}
	}

	tx.Commit()
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(sequence))
}

func (sc *SequenceController) loadOwnedSequence(c *fiber.Ctx) (*models.Sequence, error) {
	user := c.Locals("user").(*models.User)

	var sequence models.Sequence
	err := sc.DB.Preload("Steps.Variants").
		Where("id = ? AND user_id = ?", utils.ParseUint(c.Params("id")), user.ID).
		First(&sequence).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", nil)
	}
	if err != nil {
		return nil, utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load sequence", nil)
	}
	return &sequence, nil
}

// StartSequence activates a draft or paused sequence. The activation
// timestamp is set on first activation only; the slow ramp keys off it.
func (sc *SequenceController) StartSequence(c *fiber.Ctx) error {
	sequence, err := sc.loadOwnedSequence(c)
	if sequence == nil {
		return err
	}

	if sequence.Status != models.SequenceStatusDraft && sequence.Status != models.SequenceStatusPaused {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Sequence cannot be started from its current status", nil)
	}
	if len(sequence.Steps) == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Sequence has no steps", nil)
	}

	var senderCount int64
	sc.DB.Model(&models.SequenceSender{}).Where("sequence_id = ?", sequence.ID).Count(&senderCount)
	if senderCount == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Sequence has no sending identities assigned", nil)
	}

	updates := map[string]interface{}{
		"status":        models.SequenceStatusActive,
		"paused_reason": "",
	}
	if sequence.ActivatedAt == nil {
		updates["activated_at"] = sc.Now()
	}
	if err := sc.DB.Model(sequence).Updates(updates).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to start sequence", nil)
	}

	if err := sc.Progression.StartPending(sequence.ID); err != nil {
		sc.Logger.Errorf("failed to start pending enrollments for sequence %d: %v", sequence.ID, err)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"status": models.SequenceStatusActive}))
}

func (sc *SequenceController) PauseSequence(c *fiber.Ctx) error {
	sequence, err := sc.loadOwnedSequence(c)
	if sequence == nil {
		return err
	}

	var input struct {
		Reason string `json:"reason"`
	}
	_ = c.BodyParser(&input)

	result := sc.DB.Model(&models.Sequence{}).
		Where("id = ? AND status = ?", sequence.ID, models.SequenceStatusActive).
		Updates(map[string]interface{}{
			"status":        models.SequenceStatusPaused,
			"paused_reason": input.Reason,
		})
	if result.Error != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to pause sequence", nil)
	}
	if result.RowsAffected == 0 {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Sequence is not active", nil)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"status": models.SequenceStatusPaused}))
}

type enrollInput struct {
	Email        string            `json:"email" validate:"required,email"`
	FirstName    string            `json:"first_name"`
	LastName     string            `json:"last_name"`
	Company      string            `json:"company"`
	Position     string            `json:"position"`
	Phone        string            `json:"phone"`
	Website      string            `json:"website"`
	CustomFields map[string]string `json:"custom_fields"`
}

// EnrollLead adds a lead to a sequence, creating the lead record if the
// address is new to the tenant. Suppressed or unsubscribed addresses are
// rejected up front rather than silently dropped at send time.
func (sc *SequenceController) EnrollLead(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	sequence, err := sc.loadOwnedSequence(c)
	if sequence == nil {
		return err
	}

	var input enrollInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := sc.Validator.Struct(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	email := strings.ToLower(strings.TrimSpace(input.Email))
	if sc.Suppression.IsSuppressed(user.ID, email) {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Address is suppressed", nil)
	}

	var lead models.Lead
	err = sc.DB.Where("user_id = ? AND email = ?", user.ID, email).First(&lead).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		lead = models.Lead{
			UserID:       user.ID,
			Email:        email,
			FirstName:    input.FirstName,
			LastName:     input.LastName,
			Company:      input.Company,
			Position:     input.Position,
			Phone:        input.Phone,
			Website:      input.Website,
			CustomFields: input.CustomFields,
		}
		if err := sc.DB.Create(&lead).Error; err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create lead", nil)
		}
	} else if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to look up lead", nil)
	}

	if lead.IsUnsubscribed || lead.IsDoNotContact {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Lead has opted out", nil)
	}
	if lead.IsBounced {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Lead address has bounced before", nil)
	}

	var existing int64
	sc.DB.Model(&models.Enrollment{}).
		Where("sequence_id = ? AND lead_id = ?", sequence.ID, lead.ID).
		Count(&existing)
	if existing > 0 {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Lead is already enrolled in this sequence", nil)
	}

	enrollment := models.Enrollment{
		SequenceID: sequence.ID,
		LeadID:     lead.ID,
		UserID:     user.ID,
		Status:     models.EnrollmentStatusPending,
	}
	if err := sc.DB.Create(&enrollment).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to enroll lead", nil)
	}

	// A running sequence picks the new enrollment up immediately instead of
	// waiting for the next sweep's pending pass.
	if sequence.Status == models.SequenceStatusActive {
		if err := sc.Progression.StartPending(sequence.ID); err != nil {
			sc.Logger.Errorf("failed to start enrollment for sequence %d: %v", sequence.ID, err)
		}
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(enrollment))
}

func (sc *SequenceController) GetSequence(c *fiber.Ctx) error {
	sequence, err := sc.loadOwnedSequence(c)
	if sequence == nil {
		return err
	}
	return c.JSON(utils.SuccessResponse(sequence))
}

func (sc *SequenceController) ListSequences(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var sequences []models.Sequence
	if err := sc.DB.Where("user_id = ?", user.ID).
		Order("created_at DESC").
		Find(&sequences).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to list sequences", nil)
	}
	return c.JSON(utils.SuccessResponse(sequences))
}
