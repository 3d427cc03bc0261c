package controller

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
	"leadflow/config"
	"leadflow/models"
	"leadflow/utils"
)

type SequenceController struct {
	DB         *gorm.DB
	Logger     *log.Logger
	Dispatcher *utils.EmailDispatcher
}

func NewSequenceController(db *gorm.DB, logger *log.Logger) *SequenceController {
	return &SequenceController{
		DB:         db,
		Logger:     logger,
		Dispatcher: utils.NewEmailDispatcher(db, utils.NewSMTPMailer(), logger, config.AppConfig.TrackingBaseURL),
	}
}

// ---- CRUD ----

type SequenceRequest struct {
	Name                    string   `json:"name" validate:"required,max=200"`
	Description             string   `json:"description"`
	IsActive                *bool    `json:"is_active"`
	TriggerOnLeadCreation   bool     `json:"trigger_on_lead_creation"`
	TriggerOnStatusChange   []string `json:"trigger_on_status_change" validate:"dive,oneof=new contacted qualified proposal negotiation won lost on_hold"`
	TriggerOnPriorityChange []string `json:"trigger_on_priority_change" validate:"dive,oneof=hot warm cold"`
	DelayStartDays          int      `json:"delay_start_days" validate:"gte=0,lte=365"`
}

func (sc *SequenceController) CreateSequence(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var req SequenceRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	sequence := models.EmailSequence{
		UserID:                  user.ID,
		Name:                    req.Name,
		Description:             req.Description,
		IsActive:                true,
		TriggerOnLeadCreation:   req.TriggerOnLeadCreation,
		TriggerOnStatusChange:   req.TriggerOnStatusChange,
		TriggerOnPriorityChange: req.TriggerOnPriorityChange,
		DelayStartDays:          req.DelayStartDays,
	}
	if req.IsActive != nil {
		sequence.IsActive = *req.IsActive
	}

	if err := sc.DB.Create(&sequence).Error; err != nil {
		sc.Logger.Printf("Failed to create sequence: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create sequence",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(sequence))
}

func (sc *SequenceController) GetSequences(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var sequences []models.EmailSequence
	if err := sc.DB.Where("user_id = ?", user.ID).
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("step_number")
		}).
		Order("name").
		Find(&sequences).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch sequences",
		})
	}

	return c.JSON(utils.SuccessResponse(sequences))
}

func (sc *SequenceController) GetSequence(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	sequence, err := sc.ownedSequence(c.Params("id"), user.ID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sequence not found",
		})
	}

	return c.JSON(utils.SuccessResponse(sequence))
}

func (sc *SequenceController) UpdateSequence(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	sequence, err := sc.ownedSequence(c.Params("id"), user.ID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sequence not found",
		})
	}

	var req SequenceRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	sequence.Name = req.Name
	sequence.Description = req.Description
	sequence.TriggerOnLeadCreation = req.TriggerOnLeadCreation
	sequence.TriggerOnStatusChange = req.TriggerOnStatusChange
	sequence.TriggerOnPriorityChange = req.TriggerOnPriorityChange
	sequence.DelayStartDays = req.DelayStartDays
	if req.IsActive != nil {
		sequence.IsActive = *req.IsActive
	}

	if err := sc.DB.Save(sequence).Error; err != nil {
		sc.Logger.Printf("Failed to update sequence %d: %v", sequence.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update sequence",
		})
	}

	return c.JSON(utils.SuccessResponse(sequence))
}

func (sc *SequenceController) DeleteSequence(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	sequence, err := sc.ownedSequence(c.Params("id"), user.ID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sequence not found",
		})
	}

	if err := sc.DB.Delete(sequence).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete sequence",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Sequence deleted successfully",
	})
}

func (sc *SequenceController) ownedSequence(id string, userID uint) (*models.EmailSequence, error) {
	var sequence models.EmailSequence
	err := sc.DB.Where("id = ? AND user_id = ?", id, userID).
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("step_number")
		}).
		First(&sequence).Error
	if err != nil {
		return nil, err
	}
	return &sequence, nil
}

// ---- Steps ----

type SequenceStepRequest struct {
	StepNumber           int      `json:"step_number" validate:"required,gte=1"`
	TemplateID           uint     `json:"template_id" validate:"required"`
	Name                 string   `json:"name" validate:"omitempty,max=200"`
	DelayDays            int      `json:"delay_days" validate:"gte=0,lte=365"`
	SendOnlyIfNotReplied *bool    `json:"send_only_if_not_replied"`
	SendOnlyIfStatus     []string `json:"send_only_if_status" validate:"dive,oneof=new contacted qualified proposal negotiation won lost on_hold"`
	IsActive             *bool    `json:"is_active"`
}

func (sc *SequenceController) AddStep(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	sequence, err := sc.ownedSequence(c.Params("id"), user.ID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sequence not found",
		})
	}

	var req SequenceStepRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	// The step's template must be usable by the sequence owner
	var template models.EmailTemplate
	if err := sc.DB.Where("id = ? AND (user_id = ? OR is_shared = ?)", req.TemplateID, user.ID, true).
		First(&template).Error; err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Template not found",
		})
	}

	step := models.EmailSequenceStep{
		SequenceID:           sequence.ID,
		StepNumber:           req.StepNumber,
		TemplateID:           req.TemplateID,
		Name:                 req.Name,
		DelayDays:            req.DelayDays,
		SendOnlyIfNotReplied: true,
		SendOnlyIfStatus:     req.SendOnlyIfStatus,
		IsActive:             true,
	}
	if req.SendOnlyIfNotReplied != nil {
		step.SendOnlyIfNotReplied = *req.SendOnlyIfNotReplied
	}
	if req.IsActive != nil {
		step.IsActive = *req.IsActive
	}

	if err := sc.DB.Create(&step).Error; err != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "A step with this number already exists",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(step))
}

func (sc *SequenceController) UpdateStep(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	sequence, err := sc.ownedSequence(c.Params("id"), user.ID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sequence not found",
		})
	}

	var step models.EmailSequenceStep
	if err := sc.DB.Where("id = ? AND sequence_id = ?", c.Params("stepID"), sequence.ID).
		First(&step).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Step not found",
		})
	}

	var req SequenceStepRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	step.StepNumber = req.StepNumber
	step.TemplateID = req.TemplateID
	step.Name = req.Name
	step.DelayDays = req.DelayDays
	step.SendOnlyIfStatus = req.SendOnlyIfStatus
	if req.SendOnlyIfNotReplied != nil {
		step.SendOnlyIfNotReplied = *req.SendOnlyIfNotReplied
	}
	if req.IsActive != nil {
		step.IsActive = *req.IsActive
	}

	if err := sc.DB.Save(&step).Error; err != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Failed to update step",
		})
	}

	return c.JSON(utils.SuccessResponse(step))
}

func (sc *SequenceController) DeleteStep(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	sequence, err := sc.ownedSequence(c.Params("id"), user.ID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sequence not found",
		})
	}

	result := sc.DB.Where("id = ? AND sequence_id = ?", c.Params("stepID"), sequence.ID).
		Delete(&models.EmailSequenceStep{})
	if result.Error != nil || result.RowsAffected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Step not found",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Step deleted successfully",
	})
}

// ---- Enrollment endpoints ----

func (sc *SequenceController) EnrollLead(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	sequence, err := sc.ownedSequence(c.Params("id"), user.ID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sequence not found",
		})
	}

	var req struct {
		LeadID uint `json:"lead_id" validate:"required"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	var lead models.Lead
	if err := scopedLeadQuery(sc.DB, user).Where("leads.id = ?", req.LeadID).First(&lead).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Lead not found",
		})
	}

	enrollment, created, err := sc.Enroll(sequence, &lead)
	if err != nil {
		sc.Logger.Printf("Failed to enroll lead %d in sequence %d: %v", lead.ID, sequence.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to enroll lead",
		})
	}

	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(utils.SuccessResponse(fiber.Map{
		"enrollment": enrollment,
		"created":    created,
	}))
}

func (sc *SequenceController) GetEnrollments(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	sequence, err := sc.ownedSequence(c.Params("id"), user.ID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sequence not found",
		})
	}

	var enrollments []models.EmailSequenceEnrollment
	if err := sc.DB.Where("sequence_id = ?", sequence.ID).
		Preload("Lead").
		Order("enrolled_at DESC").
		Find(&enrollments).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch enrollments",
		})
	}

	return c.JSON(utils.SuccessResponse(enrollments))
}

// ---- Engine ----

// Enroll creates the (sequence, lead) enrollment if absent. Enrolling an
// already enrolled lead returns the existing row. Sequences that start
// immediately get their first advance attempt inline.
func (sc *SequenceController) Enroll(sequence *models.EmailSequence, lead *models.Lead) (*models.EmailSequenceEnrollment, bool, error) {
	var enrollment models.EmailSequenceEnrollment
	err := sc.DB.Where("sequence_id = ? AND lead_id = ?", sequence.ID, lead.ID).First(&enrollment).Error
	if err == nil {
		return &enrollment, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	enrollment = models.EmailSequenceEnrollment{
		SequenceID: sequence.ID,
		LeadID:     lead.ID,
		IsActive:   true,
	}
	if err := sc.DB.Create(&enrollment).Error; err != nil {
		// Lost a race against a concurrent enrollment, reuse the winner's row
		var existing models.EmailSequenceEnrollment
		if ferr := sc.DB.Where("sequence_id = ? AND lead_id = ?", sequence.ID, lead.ID).
			First(&existing).Error; ferr == nil {
			return &existing, false, nil
		}
		return nil, false, err
	}

	if sequence.DelayStartDays == 0 {
		if err := sc.Advance(&enrollment); err != nil {
			sc.Logger.Printf("Failed to advance fresh enrollment %d: %v", enrollment.ID, err)
		}
	}

	return &enrollment, true, nil
}

// Advance moves the enrollment to its next step: completes the enrollment
// when no active next step exists, skips steps whose gating conditions
// reject the lead, otherwise queues and sends the step's email.
func (sc *SequenceController) Advance(enrollment *models.EmailSequenceEnrollment) error {
	var sequence models.EmailSequence
	if err := sc.DB.First(&sequence, enrollment.SequenceID).Error; err != nil {
		return fmt.Errorf("failed to load sequence %d: %w", enrollment.SequenceID, err)
	}

	var lead models.Lead
	if err := sc.DB.First(&lead, enrollment.LeadID).Error; err != nil {
		return fmt.Errorf("failed to load lead %d: %w", enrollment.LeadID, err)
	}

	var step models.EmailSequenceStep
	err := sc.DB.Where("sequence_id = ? AND step_number = ? AND is_active = ?",
		sequence.ID, enrollment.CurrentStep+1, true).First(&step).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// No further step, the lead walked the whole sequence
		if enrollment.Complete(time.Now()) {
			return sc.DB.Save(enrollment).Error
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load next step: %w", err)
	}

	// Gating conditions, checked in order. A skipped step advances the
	// cursor without creating an email and tries the step after it.
	if step.SendOnlyIfNotReplied && enrollment.HasReplied {
		return sc.skipStep(enrollment, step.StepNumber)
	}
	if !step.StatusAllowed(lead.Status) {
		return sc.skipStep(enrollment, step.StepNumber)
	}

	cfg, err := utils.GetSendingConfig(sc.DB, sequence.UserID)
	if err != nil {
		// Without a sending identity the enrollment stays put and the
		// next tick retries.
		sc.Logger.Printf("No email configuration for user %d, sequence %d stalled on lead %d",
			sequence.UserID, sequence.ID, lead.ID)
		return nil
	}

	var template models.EmailTemplate
	if err := sc.DB.First(&template, step.TemplateID).Error; err != nil {
		return fmt.Errorf("failed to load template %d: %w", step.TemplateID, err)
	}

	var owner models.User
	if err := sc.DB.First(&owner, sequence.UserID).Error; err != nil {
		return fmt.Errorf("failed to load sequence owner: %w", err)
	}

	rendered := utils.RenderTemplate(&template, &lead, &owner)
	email := models.Email{
		LeadID:     lead.ID,
		UserID:     sequence.UserID,
		TemplateID: &step.TemplateID,
		SequenceID: &sequence.ID,
		FromEmail:  cfg.FromEmail,
		FromName:   cfg.FromName,
		ReplyTo:    cfg.ReplyTo,
		ToEmail:    lead.Email,
		Subject:    rendered.Subject,
		BodyHTML:   rendered.BodyHTML,
		BodyText:   rendered.BodyText,
		Status:     models.EmailStatusQueued,
	}
	if err := sc.DB.Create(&email).Error; err != nil {
		return fmt.Errorf("failed to create sequence email: %w", err)
	}

	now := time.Now()
	enrollment.CurrentStep = step.StepNumber
	enrollment.EmailsSent++
	enrollment.LastEmailSentAt = &now
	if err := sc.DB.Save(enrollment).Error; err != nil {
		return fmt.Errorf("failed to advance enrollment %d: %w", enrollment.ID, err)
	}

	if !cfg.CanSendToday() {
		sc.Logger.Printf("Daily limit reached on config %d, email %d stays queued", cfg.ID, email.ID)
		return nil
	}

	if err := sc.Dispatcher.Dispatch(&email, cfg); err != nil {
		// The row is marked failed, the retry pass picks it up
		sc.Logger.Printf("Failed to send sequence email %d: %v", email.ID, err)
	}

	return nil
}

func (sc *SequenceController) skipStep(enrollment *models.EmailSequenceEnrollment, stepNumber int) error {
	enrollment.CurrentStep = stepNumber
	if err := sc.DB.Save(enrollment).Error; err != nil {
		return err
	}
	return sc.Advance(enrollment)
}

// Tick walks every active enrollment of an active sequence and advances
// the ones whose delay has elapsed. Day granularity.
func (sc *SequenceController) Tick() int {
	var enrollments []models.EmailSequenceEnrollment
	if err := sc.DB.
		Joins("JOIN email_sequences ON email_sequences.id = email_sequence_enrollments.sequence_id").
		Where("email_sequence_enrollments.is_active = ? AND email_sequences.is_active = ? AND email_sequences.deleted_at IS NULL", true, true).
		Find(&enrollments).Error; err != nil {
		sc.Logger.Printf("Failed to load active enrollments: %v", err)
		return 0
	}

	advanced := 0
	for i := range enrollments {
		enrollment := &enrollments[i]

		var next models.EmailSequenceStep
		err := sc.DB.Where("sequence_id = ? AND step_number = ?",
			enrollment.SequenceID, enrollment.CurrentStep+1).First(&next).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Finished enrollments get completed by an explicit Advance,
			// the tick leaves them alone.
			continue
		}
		if err != nil {
			sc.Logger.Printf("Failed to load next step for enrollment %d: %v", enrollment.ID, err)
			continue
		}

		daysSince := int(time.Since(enrollment.WaitingSince()).Hours() / 24)
		if daysSince < next.DelayDays {
			continue
		}

		if err := sc.Advance(enrollment); err != nil {
			sc.Logger.Printf("Failed to advance enrollment %d: %v", enrollment.ID, err)
			continue
		}
		advanced++
	}

	return advanced
}

// ---- Lead lifecycle triggers ----

// TriggerOnLeadCreated enrolls a new lead into every active sequence
// that asks for creation-triggered enrollment.
func (sc *SequenceController) TriggerOnLeadCreated(lead *models.Lead) {
	var sequences []models.EmailSequence
	if err := sc.DB.Where("is_active = ? AND trigger_on_lead_creation = ?", true, true).
		Find(&sequences).Error; err != nil {
		sc.Logger.Printf("Failed to load creation-triggered sequences: %v", err)
		return
	}

	for i := range sequences {
		if _, _, err := sc.Enroll(&sequences[i], lead); err != nil {
			sc.Logger.Printf("Failed to enroll lead %d in sequence %d: %v", lead.ID, sequences[i].ID, err)
		}
	}
}

// TriggerOnStatusChange enrolls the lead into sequences watching for the
// new status value.
func (sc *SequenceController) TriggerOnStatusChange(lead *models.Lead, newStatus string) {
	var sequences []models.EmailSequence
	if err := sc.DB.Where("is_active = ?", true).Find(&sequences).Error; err != nil {
		sc.Logger.Printf("Failed to load sequences for status trigger: %v", err)
		return
	}

	for i := range sequences {
		if !sequences[i].TriggersOnStatus(newStatus) {
			continue
		}
		if _, _, err := sc.Enroll(&sequences[i], lead); err != nil {
			sc.Logger.Printf("Failed to enroll lead %d in sequence %d: %v", lead.ID, sequences[i].ID, err)
		}
	}
}

// TriggerOnPriorityChange enrolls the lead into sequences watching for the
// new priority value.
func (sc *SequenceController) TriggerOnPriorityChange(lead *models.Lead, newPriority string) {
	var sequences []models.EmailSequence
	if err := sc.DB.Where("is_active = ?", true).Find(&sequences).Error; err != nil {
		sc.Logger.Printf("Failed to load sequences for priority trigger: %v", err)
		return
	}

	for i := range sequences {
		if !sequences[i].TriggersOnPriority(newPriority) {
			continue
		}
		if _, _, err := sc.Enroll(&sequences[i], lead); err != nil {
			sc.Logger.Printf("Failed to enroll lead %d in sequence %d: %v", lead.ID, sequences[i].ID, err)
		}
	}
}
