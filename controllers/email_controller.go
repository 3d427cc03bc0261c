package controller

import (
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"leadflow/config"
	"leadflow/models"
	"leadflow/utils"
)

// EmailController covers the ad-hoc sending surface: quick sends to a
// single lead, bulk sends that fan out through an implicit campaign, and
// the outbound mail log.
type EmailController struct {
	DB     *gorm.DB
	Logger *log.Logger

	// Dispatcher performs the actual SMTP sends. Exported so tests can
	// swap in a stub mailer.
	Dispatcher *utils.EmailDispatcher

	// Campaigns drives the bulk path, which is campaign machinery
	// under the hood.
	Campaigns *CampaignController
}

func NewEmailController(db *gorm.DB, logger *log.Logger, campaigns *CampaignController) *EmailController {
	return &EmailController{
		DB:         db,
		Logger:     logger,
		Dispatcher: utils.NewEmailDispatcher(db, utils.NewSMTPMailer(), logger, config.AppConfig.TrackingBaseURL),
		Campaigns:  campaigns,
	}
}

type QuickEmailRequest struct {
	TemplateID *uint  `json:"template_id"`
	Subject    string `json:"subject" validate:"omitempty,max=300"`
	BodyHTML   string `json:"body_html"`
}

// QuickSend sends one email to one lead, right now. A template prefills
// whatever the caller left blank; template variables are substituted
// against the lead either way.
func (ec *EmailController) QuickSend(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var lead models.Lead
	if err := ec.DB.First(&lead, "id = ?", c.Params("id")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
	}
	if user.Role == models.RoleSalesRep && (lead.AssignedToID == nil || *lead.AssignedToID != user.ID) {
		return utils.ErrorResponse(c, fiber.StatusForbidden, "You can only email leads assigned to you.", nil)
	}
	if lead.Email == "" {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Lead has no email address", nil)
	}

	var req QuickEmailRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	if req.TemplateID != nil {
		var template models.EmailTemplate
		if err := ec.DB.Where("id = ? AND is_active = ?", *req.TemplateID, true).
			Where("user_id = ? OR is_shared = ?", user.ID, true).
			First(&template).Error; err != nil {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Template not found", nil)
		}
		if req.Subject == "" {
			req.Subject = template.Subject
		}
		if req.BodyHTML == "" {
			req.BodyHTML = template.BodyHTML
		}
	}
	if req.Subject == "" || req.BodyHTML == "" {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Subject and body are required", nil)
	}

	cfg, err := utils.GetSendingConfig(ec.DB, user.ID)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Please configure an email account first.", nil)
	}

	draft := models.EmailTemplate{Subject: req.Subject, BodyHTML: req.BodyHTML}
	rendered := utils.RenderTemplate(&draft, &lead, user)

	email := models.Email{
		LeadID:     lead.ID,
		UserID:     user.ID,
		TemplateID: req.TemplateID,
		FromEmail:  cfg.FromEmail,
		FromName:   cfg.FromName,
		ReplyTo:    cfg.ReplyTo,
		ToEmail:    lead.Email,
		Subject:    rendered.Subject,
		BodyHTML:   rendered.BodyHTML,
		BodyText:   rendered.BodyText,
		Status:     models.EmailStatusQueued,
	}
	if err := ec.DB.Create(&email).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create email", err)
	}

	if !cfg.CanSendToday() {
		ec.Logger.Printf("Daily limit reached on config %d, email %d stays queued", cfg.ID, email.ID)
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"success": true,
			"message": "Daily sending limit reached, email queued",
			"data":    email,
		})
	}

	if err := ec.Dispatcher.Dispatch(&email, cfg); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadGateway, "Failed to send email", err)
	}

	ec.Logger.Printf("✉️ Quick email %d sent to lead %d by user %d", email.ID, lead.ID, user.ID)
	return c.JSON(fiber.Map{
		"success": true,
		"message": fmt.Sprintf("Email sent to %s!", lead.FullName()),
		"data":    email,
	})
}

type BulkEmailRequest struct {
	TemplateID    uint       `json:"template_id" validate:"required"`
	EmailConfigID uint       `json:"email_config_id"`
	LeadIDs       []uint     `json:"lead_ids" validate:"required,min=1"`
	ScheduledAt   *time.Time `json:"scheduled_at"`
}

// BulkSend fans a template out to a hand-picked set of leads. It rides
// on the campaign machinery: an implicit campaign pins the leads, and
// either starts sending immediately or waits for its schedule.
func (ec *EmailController) BulkSend(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var req BulkEmailRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	var template models.EmailTemplate
	if err := ec.DB.Where("id = ? AND is_active = ?", req.TemplateID, true).
		Where("user_id = ? OR is_shared = ?", user.ID, true).
		First(&template).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Template not found", nil)
	}

	cfg, err := ec.Campaigns.resolveConfig(user.ID, req.EmailConfigID)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "No email configuration available.", nil)
	}

	now := time.Now()
	campaign := models.EmailCampaign{
		UserID:         user.ID,
		Name:           "Bulk Email - " + now.Format("2006-01-02 15:04"),
		TemplateID:     template.ID,
		EmailConfigID:  cfg.ID,
		TargetAllLeads: false,
		ScheduledAt:    req.ScheduledAt,
		Status:         models.CampaignStatusSending,
	}
	if req.ScheduledAt != nil {
		campaign.Status = models.CampaignStatusScheduled
	} else {
		campaign.StartedAt = &now
	}
	if err := ec.DB.Create(&campaign).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create bulk campaign", err)
	}

	for _, leadID := range req.LeadIDs {
		link := models.CampaignLead{CampaignID: campaign.ID, LeadID: leadID}
		if err := ec.DB.Create(&link).Error; err != nil {
			ec.Logger.Printf("Skipping lead %d on bulk campaign %d: %v", leadID, campaign.ID, err)
		}
	}

	if err := ec.Campaigns.CalculateRecipients(&campaign); err != nil {
		ec.Logger.Printf("Failed to count recipients for bulk campaign %d: %v", campaign.ID, err)
	}
	created, err := ec.Campaigns.Materialize(&campaign)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to prepare bulk emails", err)
	}

	if req.ScheduledAt != nil {
		ec.Logger.Printf("📮 Bulk email scheduled for %d leads by user %d", created, user.ID)
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"success":  true,
			"message":  fmt.Sprintf("Bulk email scheduled for %d leads!", created),
			"campaign": campaign,
		})
	}

	sent, failed := ec.Campaigns.SendBatch(&campaign, campaign.BatchSize)
	ec.Logger.Printf("📮 Bulk email to %d leads by user %d: sent=%d failed=%d", created, user.ID, sent, failed)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":  true,
		"message":  fmt.Sprintf("Bulk email sent to %d leads! Sent: %d, Failed: %d", created, sent, failed),
		"campaign": campaign,
	})
}

// GetEmails lists the user's outbound mail, newest first.
func (ec *EmailController) GetEmails(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	page, limit, offset := utils.Pagination(c)

	query := ec.DB.Model(&models.Email{}).Where("user_id = ?", user.ID)
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if leadID := c.Query("lead_id"); leadID != "" {
		query = query.Where("lead_id = ?", leadID)
	}
	if campaignID := c.Query("campaign_id"); campaignID != "" {
		query = query.Where("campaign_id = ?", campaignID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count emails", err)
	}

	var emails []models.Email
	if err := query.Preload("Lead").
		Order("created_at DESC").Limit(limit).Offset(offset).
		Find(&emails).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch emails", err)
	}

	return c.JSON(utils.PaginatedResponse{Data: emails, Total: total, Page: page, Limit: limit})
}

// GetEmail returns one email with its tracking history.
func (ec *EmailController) GetEmail(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var email models.Email
	if err := ec.DB.Preload("Lead").
		Preload("Events", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at DESC")
		}).
		Where("id = ? AND user_id = ?", c.Params("id"), user.ID).
		First(&email).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Email not found", nil)
	}

	return c.JSON(utils.SuccessResponse(email))
}

// RetryEmail resubmits one failed email that still has retry budget.
func (ec *EmailController) RetryEmail(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var email models.Email
	if err := ec.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).
		First(&email).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Email not found", nil)
	}
	if !email.CanRetry() {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Email cannot be retried", nil)
	}

	cfg, err := utils.GetSendingConfig(ec.DB, user.ID)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "No email configuration available.", nil)
	}
	if !cfg.CanSendToday() {
		return utils.ErrorResponse(c, fiber.StatusTooManyRequests, "Daily sending limit reached", nil)
	}

	if err := ec.Dispatcher.Dispatch(&email, cfg); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadGateway, "Retry failed", err)
	}

	ec.Logger.Printf("🔁 Email %d retried by user %d", email.ID, user.ID)
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Email sent",
		"data":    email,
	})
}
