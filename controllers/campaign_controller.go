package controller

import (
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"leadflow/config"
	"leadflow/models"
	"leadflow/utils"
)

// CampaignController handles bulk email campaigns: CRUD, audience
// materialization and the batched send lifecycle.
type CampaignController struct {
	DB     *gorm.DB
	Logger *log.Logger

	// Dispatcher performs the actual SMTP sends. Exported so tests can
	// swap in a stub mailer.
	Dispatcher *utils.EmailDispatcher
}

func NewCampaignController(db *gorm.DB, logger *log.Logger) *CampaignController {
	return &CampaignController{
		DB:         db,
		Logger:     logger,
		Dispatcher: utils.NewEmailDispatcher(db, utils.NewSMTPMailer(), logger, config.AppConfig.TrackingBaseURL),
	}
}

type CampaignRequest struct {
	Name          string `json:"name" validate:"required,min=2,max=200"`
	TemplateID    uint   `json:"template_id" validate:"required"`
	EmailConfigID uint   `json:"email_config_id"`

	TargetAllLeads   bool     `json:"target_all_leads"`
	TargetStatuses   []string `json:"target_statuses" validate:"omitempty,dive,oneof=new contacted qualified proposal negotiation won lost on_hold"`
	TargetPriorities []string `json:"target_priorities" validate:"omitempty,dive,oneof=hot warm cold"`
	TargetSourceIDs  []uint   `json:"target_source_ids"`
	LeadIDs          []uint   `json:"lead_ids"`

	BatchSize           int `json:"batch_size" validate:"omitempty,gte=1,lte=500"`
	DelayBetweenBatches int `json:"delay_between_batches" validate:"omitempty,gte=0,lte=3600"`

	SendNow     bool       `json:"send_now"`
	ScheduledAt *time.Time `json:"scheduled_at"`
}

// CreateCampaign validates targeting and timing, resolves the sending
// configuration, materializes the audience and either starts sending or
// parks the campaign for the scheduler.
func (cc *CampaignController) CreateCampaign(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var req CampaignRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	if !req.SendNow && req.ScheduledAt == nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, `Either select "Send Now" or set a scheduled time.`, nil)
	}
	if req.SendNow {
		// Send now wins over a schedule
		req.ScheduledAt = nil
	}

	hasCriteria := len(req.TargetStatuses) > 0 || len(req.TargetPriorities) > 0 ||
		len(req.TargetSourceIDs) > 0 || len(req.LeadIDs) > 0
	if !req.TargetAllLeads && !hasCriteria {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, `Please select targeting criteria or choose "Target All Leads".`, nil)
	}

	var template models.EmailTemplate
	if err := cc.DB.Where("id = ? AND is_active = ?", req.TemplateID, true).
		Where("user_id = ? OR is_shared = ?", user.ID, true).
		First(&template).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Template not found", nil)
	}

	cfg, err := cc.resolveConfig(user.ID, req.EmailConfigID)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "No active email configuration available", nil)
	}

	campaign := models.EmailCampaign{
		UserID:           user.ID,
		Name:             req.Name,
		TemplateID:       template.ID,
		EmailConfigID:    cfg.ID,
		Status:           models.CampaignStatusDraft,
		TargetAllLeads:   req.TargetAllLeads,
		TargetStatuses:   req.TargetStatuses,
		TargetPriorities: req.TargetPriorities,
		TargetSourceIDs:  req.TargetSourceIDs,
		ScheduledAt:      req.ScheduledAt,
	}
	if req.BatchSize > 0 {
		campaign.BatchSize = req.BatchSize
	}
	if req.DelayBetweenBatches > 0 {
		campaign.DelayBetweenBatches = req.DelayBetweenBatches
	}
	if req.ScheduledAt != nil {
		campaign.Status = models.CampaignStatusScheduled
	}

	if err := cc.DB.Create(&campaign).Error; err != nil {
		cc.Logger.Printf("Failed to create campaign: %v", err)
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create campaign", err)
	}

	for _, leadID := range req.LeadIDs {
		link := models.CampaignLead{CampaignID: campaign.ID, LeadID: leadID}
		if err := cc.DB.Create(&link).Error; err != nil {
			cc.Logger.Printf("Skipping lead %d on campaign %d: %v", leadID, campaign.ID, err)
		}
	}

	if err := cc.CalculateRecipients(&campaign); err != nil {
		cc.Logger.Printf("Failed to count recipients for campaign %d: %v", campaign.ID, err)
	}

	created, err := cc.Materialize(&campaign)
	if err != nil {
		cc.Logger.Printf("Failed to materialize campaign %d: %v", campaign.ID, err)
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to prepare campaign emails", err)
	}
	cc.Logger.Printf("📬 Campaign %q created with %d recipients", campaign.Name, created)

	if req.SendNow {
		now := time.Now()
		campaign.Status = models.CampaignStatusSending
		campaign.StartedAt = &now
		if err := cc.DB.Save(&campaign).Error; err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to start campaign", err)
		}
		sent, failed := cc.SendBatch(&campaign, campaign.BatchSize)
		cc.Logger.Printf("Campaign %d first batch: sent=%d failed=%d", campaign.ID, sent, failed)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(campaign))
}

// resolveConfig picks the sending configuration for a campaign. An explicit
// id must name one of the user's active configurations; otherwise fall back
// to the default, then any active one.
func (cc *CampaignController) resolveConfig(userID, configID uint) (*models.EmailConfiguration, error) {
	if configID != 0 {
		var cfg models.EmailConfiguration
		if err := cc.DB.Where("id = ? AND user_id = ? AND is_active = ?", configID, userID, true).
			First(&cfg).Error; err != nil {
			return nil, err
		}
		return &cfg, nil
	}
	return utils.GetSendingConfig(cc.DB, userID)
}

func (cc *CampaignController) ownedCampaign(id string, userID uint) (*models.EmailCampaign, error) {
	var campaign models.EmailCampaign
	err := cc.DB.Where("id = ? AND user_id = ?", id, userID).First(&campaign).Error
	if err != nil {
		return nil, err
	}
	return &campaign, nil
}

// GetCampaigns lists the user's campaigns, newest first.
func (cc *CampaignController) GetCampaigns(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	page, limit, offset := utils.Pagination(c)

	query := cc.DB.Model(&models.EmailCampaign{}).Where("user_id = ?", user.ID)
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count campaigns", err)
	}

	var campaigns []models.EmailCampaign
	if err := query.Preload("Template").Preload("EmailConfig").
		Order("created_at DESC").Limit(limit).Offset(offset).
		Find(&campaigns).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch campaigns", err)
	}

	return c.JSON(utils.PaginatedResponse{Data: campaigns, Total: total, Page: page, Limit: limit})
}

// GetCampaign returns one campaign with its template and configuration.
func (cc *CampaignController) GetCampaign(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var campaign models.EmailCampaign
	if err := cc.DB.Preload("Template").Preload("EmailConfig").Preload("CampaignLeads.Lead").
		Where("id = ? AND user_id = ?", c.Params("id"), user.ID).
		First(&campaign).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", nil)
	}

	return c.JSON(utils.SuccessResponse(campaign))
}

type UpdateCampaignRequest struct {
	Name          *string `json:"name" validate:"omitempty,min=2,max=200"`
	TemplateID    *uint   `json:"template_id"`
	EmailConfigID *uint   `json:"email_config_id"`

	TargetAllLeads   *bool    `json:"target_all_leads"`
	TargetStatuses   []string `json:"target_statuses" validate:"omitempty,dive,oneof=new contacted qualified proposal negotiation won lost on_hold"`
	TargetPriorities []string `json:"target_priorities" validate:"omitempty,dive,oneof=hot warm cold"`
	TargetSourceIDs  []uint   `json:"target_source_ids"`

	BatchSize           *int `json:"batch_size" validate:"omitempty,gte=1,lte=500"`
	DelayBetweenBatches *int `json:"delay_between_batches" validate:"omitempty,gte=0,lte=3600"`

	ScheduledAt *time.Time `json:"scheduled_at"`
}

// UpdateCampaign edits a campaign that has not started sending yet.
// Changed targeting re-materializes the audience.
func (cc *CampaignController) UpdateCampaign(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	campaign, err := cc.ownedCampaign(c.Params("id"), user.ID)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", nil)
	}
	if campaign.Status != models.CampaignStatusDraft && campaign.Status != models.CampaignStatusScheduled {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Only draft or scheduled campaigns can be edited", nil)
	}

	var req UpdateCampaignRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	retarget := false

	if req.Name != nil {
		campaign.Name = *req.Name
	}
	if req.TemplateID != nil {
		var template models.EmailTemplate
		if err := cc.DB.Where("id = ? AND is_active = ?", *req.TemplateID, true).
			Where("user_id = ? OR is_shared = ?", user.ID, true).
			First(&template).Error; err != nil {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Template not found", nil)
		}
		campaign.TemplateID = template.ID
		retarget = true
	}
	if req.EmailConfigID != nil {
		cfg, err := cc.resolveConfig(user.ID, *req.EmailConfigID)
		if err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "No active email configuration available", nil)
		}
		campaign.EmailConfigID = cfg.ID
	}
	if req.TargetAllLeads != nil {
		campaign.TargetAllLeads = *req.TargetAllLeads
		retarget = true
	}
	if req.TargetStatuses != nil {
		campaign.TargetStatuses = req.TargetStatuses
		retarget = true
	}
	if req.TargetPriorities != nil {
		campaign.TargetPriorities = req.TargetPriorities
		retarget = true
	}
	if req.TargetSourceIDs != nil {
		campaign.TargetSourceIDs = req.TargetSourceIDs
		retarget = true
	}
	if req.BatchSize != nil {
		campaign.BatchSize = *req.BatchSize
	}
	if req.DelayBetweenBatches != nil {
		campaign.DelayBetweenBatches = *req.DelayBetweenBatches
	}
	if req.ScheduledAt != nil {
		campaign.ScheduledAt = req.ScheduledAt
		campaign.Status = models.CampaignStatusScheduled
	}

	if err := cc.DB.Save(campaign).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update campaign", err)
	}

	if retarget {
		// Drop stale queued rows and rebuild from the current criteria
		if err := cc.DB.Where("campaign_id = ? AND status = ?", campaign.ID, models.EmailStatusQueued).
			Delete(&models.Email{}).Error; err != nil {
			cc.Logger.Printf("Failed to clear queued emails for campaign %d: %v", campaign.ID, err)
		}
		if err := cc.CalculateRecipients(campaign); err != nil {
			cc.Logger.Printf("Failed to count recipients for campaign %d: %v", campaign.ID, err)
		}
		if _, err := cc.Materialize(campaign); err != nil {
			cc.Logger.Printf("Failed to materialize campaign %d: %v", campaign.ID, err)
		}
	}

	return c.JSON(utils.SuccessResponse(campaign))
}

// DeleteCampaign removes a campaign that is not actively sending.
func (cc *CampaignController) DeleteCampaign(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	campaign, err := cc.ownedCampaign(c.Params("id"), user.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch campaign", err)
	}
	if campaign.Status == models.CampaignStatusSending {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Pause the campaign before deleting it", nil)
	}

	if err := cc.DB.Where("campaign_id = ? AND status = ?", campaign.ID, models.EmailStatusQueued).
		Delete(&models.Email{}).Error; err != nil {
		cc.Logger.Printf("Failed to clear queued emails for campaign %d: %v", campaign.ID, err)
	}
	if err := cc.DB.Delete(campaign).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete campaign", err)
	}

	cc.Logger.Printf("🗑️ Campaign %d deleted by user %d", campaign.ID, user.ID)
	return c.JSON(fiber.Map{"success": true, "message": "Campaign deleted"})
}
