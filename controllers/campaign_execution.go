package controller

import (
	"fmt"
	"sort"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"leadflow/models"
	"leadflow/utils"
)

// ResolveTargets evaluates the campaign's targeting criteria against the
// lead base. target_all_leads returns every lead with an email address;
// otherwise the criteria lists and the pinned leads are unioned. Leads
// without an email address are always excluded.
func (cc *CampaignController) ResolveTargets(campaign *models.EmailCampaign) ([]models.Lead, error) {
	if campaign.TargetAllLeads {
		var leads []models.Lead
		err := cc.DB.Where("email <> ''").Order("id").Find(&leads).Error
		return leads, err
	}

	seen := make(map[uint]models.Lead)
	collect := func(tx *gorm.DB) error {
		var batch []models.Lead
		if err := tx.Where("email <> ''").Find(&batch).Error; err != nil {
			return err
		}
		for _, lead := range batch {
			seen[lead.ID] = lead
		}
		return nil
	}

	if len(campaign.TargetStatuses) > 0 {
		if err := collect(cc.DB.Where("status IN ?", campaign.TargetStatuses)); err != nil {
			return nil, err
		}
	}
	if len(campaign.TargetPriorities) > 0 {
		if err := collect(cc.DB.Where("priority IN ?", campaign.TargetPriorities)); err != nil {
			return nil, err
		}
	}
	if len(campaign.TargetSourceIDs) > 0 {
		if err := collect(cc.DB.Where("source_id IN ?", campaign.TargetSourceIDs)); err != nil {
			return nil, err
		}
	}
	pinned := cc.DB.Model(&models.CampaignLead{}).Select("lead_id").Where("campaign_id = ?", campaign.ID)
	if err := collect(cc.DB.Where("id IN (?)", pinned)); err != nil {
		return nil, err
	}

	ids := make([]uint, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	leads := make([]models.Lead, 0, len(ids))
	for _, id := range ids {
		leads = append(leads, seen[id])
	}
	return leads, nil
}

// CalculateRecipients persists the current audience size on the campaign.
func (cc *CampaignController) CalculateRecipients(campaign *models.EmailCampaign) error {
	targets, err := cc.ResolveTargets(campaign)
	if err != nil {
		return err
	}
	campaign.TotalRecipients = len(targets)
	return cc.DB.Model(campaign).Update("total_recipients", campaign.TotalRecipients).Error
}

// Materialize renders and queues one email per targeted lead. Leads that
// already have an email row on this campaign are skipped, so calling it
// again after a targeting change only adds the new recipients. Counters
// are reset because nothing has been sent against the fresh audience yet.
func (cc *CampaignController) Materialize(campaign *models.EmailCampaign) (int, error) {
	var template models.EmailTemplate
	if err := cc.DB.First(&template, campaign.TemplateID).Error; err != nil {
		return 0, fmt.Errorf("campaign template: %w", err)
	}
	var owner models.User
	if err := cc.DB.First(&owner, campaign.UserID).Error; err != nil {
		return 0, fmt.Errorf("campaign owner: %w", err)
	}
	cfg, err := cc.campaignConfig(campaign)
	if err != nil {
		return 0, fmt.Errorf("campaign email configuration: %w", err)
	}

	targets, err := cc.ResolveTargets(campaign)
	if err != nil {
		return 0, err
	}

	existing := make(map[uint]bool)
	var linked []models.Email
	if err := cc.DB.Select("lead_id").Where("campaign_id = ?", campaign.ID).Find(&linked).Error; err != nil {
		return 0, err
	}
	for _, row := range linked {
		existing[row.LeadID] = true
	}

	created := 0
	for i := range targets {
		lead := &targets[i]
		if existing[lead.ID] {
			continue
		}
		rendered := utils.RenderTemplate(&template, lead, &owner)
		email := models.Email{
			LeadID:     lead.ID,
			UserID:     campaign.UserID,
			CampaignID: &campaign.ID,
			TemplateID: &campaign.TemplateID,
			FromEmail:  cfg.FromEmail,
			FromName:   cfg.FromName,
			ReplyTo:    cfg.ReplyTo,
			ToEmail:    lead.Email,
			Subject:    rendered.Subject,
			BodyHTML:   rendered.BodyHTML,
			BodyText:   rendered.BodyText,
			Status:     models.EmailStatusQueued,
		}
		if err := cc.DB.Create(&email).Error; err != nil {
			cc.Logger.Printf("Failed to queue email for lead %d on campaign %d: %v", lead.ID, campaign.ID, err)
			continue
		}
		created++
	}

	campaign.EmailsSent = 0
	campaign.EmailsFailed = 0
	err = cc.DB.Model(campaign).Updates(map[string]interface{}{
		"emails_sent":   0,
		"emails_failed": 0,
	}).Error
	return created, err
}

// campaignConfig loads the campaign's sending configuration. A counter
// left over from a previous day reads as zero.
func (cc *CampaignController) campaignConfig(campaign *models.EmailCampaign) (*models.EmailConfiguration, error) {
	var cfg models.EmailConfiguration
	if err := cc.DB.First(&cfg, campaign.EmailConfigID).Error; err != nil {
		return nil, err
	}
	if cfg.CounterIsStale() {
		cfg.SentToday = 0
	}
	return &cfg, nil
}

// SendBatch sends the next batch of queued emails for the campaign.
// A call that finds nothing queued marks the campaign sent, so the
// final drain call doubles as the completion check. The daily sending
// limit stops the batch early and leaves the remainder queued.
func (cc *CampaignController) SendBatch(campaign *models.EmailCampaign, batchSize int) (sent, failed int) {
	if batchSize <= 0 {
		batchSize = campaign.BatchSize
	}
	if batchSize <= 0 {
		batchSize = 50
	}

	var queued []models.Email
	if err := cc.DB.Where("campaign_id = ? AND status = ?", campaign.ID, models.EmailStatusQueued).
		Order("id").Limit(batchSize).Find(&queued).Error; err != nil {
		cc.Logger.Printf("Failed to load queued emails for campaign %d: %v", campaign.ID, err)
		return 0, 0
	}

	if len(queued) == 0 {
		now := time.Now()
		campaign.Status = models.CampaignStatusSent
		campaign.CompletedAt = &now
		if err := cc.DB.Model(campaign).Updates(map[string]interface{}{
			"status":       campaign.Status,
			"completed_at": campaign.CompletedAt,
		}).Error; err != nil {
			cc.Logger.Printf("Failed to complete campaign %d: %v", campaign.ID, err)
		} else {
			cc.Logger.Printf("✅ Campaign %d finished sending", campaign.ID)
		}
		return 0, 0
	}

	cfg, err := cc.campaignConfig(campaign)
	if err != nil {
		cc.Logger.Printf("Campaign %d has no usable email configuration: %v", campaign.ID, err)
		return 0, 0
	}

	for i := range queued {
		if !cfg.CanSendToday() {
			cc.Logger.Printf("Daily limit reached on config %d, campaign %d keeps %d emails queued",
				cfg.ID, campaign.ID, len(queued)-i)
			break
		}
		if err := cc.Dispatcher.Dispatch(&queued[i], cfg); err != nil {
			failed++
			cc.Logger.Printf("Campaign %d email %d failed: %v", campaign.ID, queued[i].ID, err)
			continue
		}
		sent++
		cfg.SentToday++
	}

	if sent > 0 || failed > 0 {
		if err := cc.DB.Model(campaign).Updates(map[string]interface{}{
			"emails_sent":   gorm.Expr("emails_sent + ?", sent),
			"emails_failed": gorm.Expr("emails_failed + ?", failed),
		}).Error; err != nil {
			cc.Logger.Printf("Failed to update counters for campaign %d: %v", campaign.ID, err)
		} else {
			campaign.EmailsSent += sent
			campaign.EmailsFailed += failed
		}
	}

	// A batch that drained the queue finishes the campaign right away
	// instead of waiting for the next empty pass. Rows parked by the
	// daily limit keep the campaign in sending.
	var remaining int64
	if err := cc.DB.Model(&models.Email{}).
		Where("campaign_id = ? AND status = ?", campaign.ID, models.EmailStatusQueued).
		Count(&remaining).Error; err != nil {
		cc.Logger.Printf("Failed to count remaining emails for campaign %d: %v", campaign.ID, err)
		return sent, failed
	}
	if remaining == 0 {
		now := time.Now()
		campaign.Status = models.CampaignStatusSent
		campaign.CompletedAt = &now
		if err := cc.DB.Model(campaign).Updates(map[string]interface{}{
			"status":       campaign.Status,
			"completed_at": campaign.CompletedAt,
		}).Error; err != nil {
			cc.Logger.Printf("Failed to complete campaign %d: %v", campaign.ID, err)
		} else {
			cc.Logger.Printf("✅ Campaign %d finished sending", campaign.ID)
		}
	}
	return sent, failed
}

// StartCampaign moves a draft or scheduled campaign into sending and
// pushes the first batch out inline.
func (cc *CampaignController) StartCampaign(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	campaign, err := cc.ownedCampaign(c.Params("id"), user.ID)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", nil)
	}
	if campaign.Status != models.CampaignStatusDraft && campaign.Status != models.CampaignStatusScheduled {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Only draft or scheduled campaigns can be started", nil)
	}

	now := time.Now()
	campaign.Status = models.CampaignStatusSending
	campaign.StartedAt = &now
	if err := cc.DB.Model(campaign).Updates(map[string]interface{}{
		"status":     campaign.Status,
		"started_at": campaign.StartedAt,
	}).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to start campaign", err)
	}

	sent, failed := cc.SendBatch(campaign, campaign.BatchSize)
	cc.Logger.Printf("🚀 Campaign %q started by user %d: sent=%d failed=%d", campaign.Name, user.ID, sent, failed)

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"campaign": campaign,
		"sent":     sent,
		"failed":   failed,
	}))
}

// PauseCampaign stops further batches; queued emails stay queued.
func (cc *CampaignController) PauseCampaign(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	campaign, err := cc.ownedCampaign(c.Params("id"), user.ID)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", nil)
	}
	if campaign.Status != models.CampaignStatusSending {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Only a sending campaign can be paused", nil)
	}

	campaign.Status = models.CampaignStatusPaused
	if err := cc.DB.Model(campaign).Update("status", campaign.Status).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to pause campaign", err)
	}

	cc.Logger.Printf("⏸️ Campaign %d paused", campaign.ID)
	return c.JSON(utils.SuccessResponse(campaign))
}

// ResumeCampaign puts a paused campaign back into sending and pushes the
// next batch.
func (cc *CampaignController) ResumeCampaign(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	campaign, err := cc.ownedCampaign(c.Params("id"), user.ID)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", nil)
	}
	if campaign.Status != models.CampaignStatusPaused {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Only a paused campaign can be resumed", nil)
	}

	campaign.Status = models.CampaignStatusSending
	if err := cc.DB.Model(campaign).Update("status", campaign.Status).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to resume campaign", err)
	}

	sent, failed := cc.SendBatch(campaign, campaign.BatchSize)
	cc.Logger.Printf("▶️ Campaign %d resumed: sent=%d failed=%d", campaign.ID, sent, failed)

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"campaign": campaign,
		"sent":     sent,
		"failed":   failed,
	}))
}

// CancelCampaign abandons a campaign before it finishes. Queued emails
// are cancelled so no later pass picks them up.
func (cc *CampaignController) CancelCampaign(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	campaign, err := cc.ownedCampaign(c.Params("id"), user.ID)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", nil)
	}
	if campaign.IsTerminal() {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Campaign already finished", nil)
	}

	campaign.Status = models.CampaignStatusCancelled
	if err := cc.DB.Model(campaign).Update("status", campaign.Status).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to cancel campaign", err)
	}
	if err := cc.DB.Model(&models.Email{}).
		Where("campaign_id = ? AND status = ?", campaign.ID, models.EmailStatusQueued).
		Update("status", models.EmailStatusCancelled).Error; err != nil {
		cc.Logger.Printf("Failed to cancel queued emails for campaign %d: %v", campaign.ID, err)
	}

	cc.Logger.Printf("🛑 Campaign %d cancelled", campaign.ID)
	return c.JSON(utils.SuccessResponse(campaign))
}

// SendCampaignBatch pushes one batch on demand.
func (cc *CampaignController) SendCampaignBatch(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	campaign, err := cc.ownedCampaign(c.Params("id"), user.ID)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", nil)
	}
	if campaign.Status != models.CampaignStatusSending {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Campaign is not sending", nil)
	}

	sent, failed := cc.SendBatch(campaign, campaign.BatchSize)
	return c.JSON(utils.SuccessResponse(fiber.Map{
		"sent":   sent,
		"failed": failed,
		"status": campaign.Status,
	}))
}

// ProcessDueCampaigns starts scheduled campaigns whose time has come.
// Called from the scheduler.
func (cc *CampaignController) ProcessDueCampaigns() int {
	var due []models.EmailCampaign
	if err := cc.DB.Where("status = ? AND scheduled_at <= ?", models.CampaignStatusScheduled, time.Now()).
		Find(&due).Error; err != nil {
		cc.Logger.Printf("Failed to load due campaigns: %v", err)
		return 0
	}

	for i := range due {
		campaign := &due[i]
		now := time.Now()
		campaign.Status = models.CampaignStatusSending
		campaign.StartedAt = &now
		if err := cc.DB.Model(campaign).Updates(map[string]interface{}{
			"status":     campaign.Status,
			"started_at": campaign.StartedAt,
		}).Error; err != nil {
			cc.Logger.Printf("Failed to start campaign %d: %v", campaign.ID, err)
			continue
		}
		sent, failed := cc.SendBatch(campaign, campaign.BatchSize)
		cc.Logger.Printf("🚀 Scheduled campaign %q started: sent=%d failed=%d", campaign.Name, sent, failed)
	}
	return len(due)
}

// ProcessSendingCampaigns advances every sending campaign by one batch.
// A campaign with nothing left queued is finalized by its batch call.
func (cc *CampaignController) ProcessSendingCampaigns() int {
	var sending []models.EmailCampaign
	if err := cc.DB.Where("status = ?", models.CampaignStatusSending).Find(&sending).Error; err != nil {
		cc.Logger.Printf("Failed to load sending campaigns: %v", err)
		return 0
	}

	for i := range sending {
		campaign := &sending[i]
		sent, failed := cc.SendBatch(campaign, campaign.BatchSize)
		if sent > 0 || failed > 0 {
			cc.Logger.Printf("Campaign %q batch: sent=%d failed=%d", campaign.Name, sent, failed)
		}
	}
	return len(sending)
}

// RetryFailedEmails resubmits failed rows still under their retry budget.
// It also sweeps queued rows without a campaign that missed their inline
// send, which happens when the daily limit cut a sequence or quick send
// short; the cutoff keeps it away from rows mid-dispatch.
func (cc *CampaignController) RetryFailedEmails() int {
	var retryable []models.Email
	if err := cc.DB.Where("status = ? AND retry_count < max_retries", models.EmailStatusFailed).
		Order("id").Find(&retryable).Error; err != nil {
		cc.Logger.Printf("Failed to load retryable emails: %v", err)
		return 0
	}

	cutoff := time.Now().Add(-10 * time.Minute)
	var stale []models.Email
	if err := cc.DB.Where("status = ? AND campaign_id IS NULL AND queued_at < ?", models.EmailStatusQueued, cutoff).
		Order("id").Find(&stale).Error; err != nil {
		cc.Logger.Printf("Failed to load stale queued emails: %v", err)
	}
	retryable = append(retryable, stale...)

	retried := 0
	for i := range retryable {
		email := &retryable[i]
		cfg, err := utils.GetSendingConfig(cc.DB, email.UserID)
		if err != nil {
			cc.Logger.Printf("No email config for user %d, skipping email %d", email.UserID, email.ID)
			continue
		}
		if !cfg.CanSendToday() {
			continue
		}
		if err := cc.Dispatcher.Dispatch(email, cfg); err != nil {
			cc.Logger.Printf("Retry failed for email %d: %v", email.ID, err)
			continue
		}
		retried++
	}

	if retried > 0 {
		cc.Logger.Printf("🔁 Retried %d emails", retried)
	}
	return retried
}
