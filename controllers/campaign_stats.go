package controller

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"gorm.io/gorm"

	"leadflow/models"
	"leadflow/utils"
)

// EmailStats aggregates delivery outcomes for a set of emails. The sets
// are cumulative: a clicked email also counts as delivered and opened,
// since its status moved through those states.
type EmailStats struct {
	TotalSent int64 `json:"total_sent"`
	Delivered int64 `json:"delivered"`
	Opened    int64 `json:"opened"`
	Clicked   int64 `json:"clicked"`
	Replied   int64 `json:"replied"`
	Bounced   int64 `json:"bounced"`
	Failed    int64 `json:"failed"`

	DeliveryRate float64 `json:"delivery_rate"`
	OpenRate     float64 `json:"open_rate"`
	ClickRate    float64 `json:"click_rate"`
	BounceRate   float64 `json:"bounce_rate"`
}

// computeEmailStats runs the status counts over a fresh query per count.
// newQuery must return a new filtered Email query each call, since gorm
// accumulates conditions on a reused one.
func computeEmailStats(newQuery func() *gorm.DB) (*EmailStats, error) {
	count := func(statuses ...string) (int64, error) {
		var n int64
		err := newQuery().Where("status IN ?", statuses).Count(&n).Error
		return n, err
	}

	stats := &EmailStats{}
	var err error
	if stats.TotalSent, err = count(models.EmailStatusSent, models.EmailStatusDelivered,
		models.EmailStatusOpened, models.EmailStatusClicked); err != nil {
		return nil, err
	}
	if stats.Delivered, err = count(models.EmailStatusDelivered, models.EmailStatusOpened,
		models.EmailStatusClicked); err != nil {
		return nil, err
	}
	if stats.Opened, err = count(models.EmailStatusOpened, models.EmailStatusClicked); err != nil {
		return nil, err
	}
	if stats.Clicked, err = count(models.EmailStatusClicked); err != nil {
		return nil, err
	}
	if stats.Replied, err = count(models.EmailStatusReplied); err != nil {
		return nil, err
	}
	if stats.Bounced, err = count(models.EmailStatusBounced); err != nil {
		return nil, err
	}
	if stats.Failed, err = count(models.EmailStatusFailed); err != nil {
		return nil, err
	}

	if stats.TotalSent > 0 {
		stats.DeliveryRate = float64(stats.Delivered) / float64(stats.TotalSent) * 100
		stats.BounceRate = float64(stats.Bounced) / float64(stats.TotalSent) * 100
	}
	if stats.Delivered > 0 {
		stats.OpenRate = float64(stats.Opened) / float64(stats.Delivered) * 100
		stats.ClickRate = float64(stats.Clicked) / float64(stats.Delivered) * 100
	}
	return stats, nil
}

// GetCampaignStats returns the campaign's delivery statistics along with
// its ten most recent emails.
func (cc *CampaignController) GetCampaignStats(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	campaign, err := cc.ownedCampaign(c.Params("id"), user.ID)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", nil)
	}

	stats, err := computeEmailStats(func() *gorm.DB {
		return cc.DB.Model(&models.Email{}).Where("campaign_id = ?", campaign.ID)
	})
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to compute campaign stats", err)
	}

	var recent []models.Email
	if err := cc.DB.Preload("Lead").
		Where("campaign_id = ?", campaign.ID).
		Order("created_at DESC").Limit(10).
		Find(&recent).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load recent emails", err)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"campaign":      campaign,
		"stats":         stats,
		"recent_emails": recent,
	}))
}

// CampaignProgress is a point-in-time snapshot of how far a sending
// campaign has gotten.
type CampaignProgress struct {
	CampaignID      uint    `json:"campaign_id"`
	Status          string  `json:"status"`
	TotalRecipients int     `json:"total_recipients"`
	TotalEmails     int64   `json:"total_emails"`
	Queued          int64   `json:"queued"`
	EmailsSent      int     `json:"emails_sent"`
	EmailsFailed    int     `json:"emails_failed"`
	PercentComplete float64 `json:"percent_complete"`
}

func (cc *CampaignController) campaignProgress(campaign *models.EmailCampaign) (*CampaignProgress, error) {
	var total, queued int64
	if err := cc.DB.Model(&models.Email{}).
		Where("campaign_id = ?", campaign.ID).Count(&total).Error; err != nil {
		return nil, err
	}
	if err := cc.DB.Model(&models.Email{}).
		Where("campaign_id = ? AND status = ?", campaign.ID, models.EmailStatusQueued).
		Count(&queued).Error; err != nil {
		return nil, err
	}

	progress := &CampaignProgress{
		CampaignID:      campaign.ID,
		Status:          campaign.Status,
		TotalRecipients: campaign.TotalRecipients,
		TotalEmails:     total,
		Queued:          queued,
		EmailsSent:      campaign.EmailsSent,
		EmailsFailed:    campaign.EmailsFailed,
	}
	if total > 0 {
		progress.PercentComplete = float64(total-queued) / float64(total) * 100
	}
	return progress, nil
}

// GetCampaignProgress returns the current sending progress snapshot.
func (cc *CampaignController) GetCampaignProgress(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	campaign, err := cc.ownedCampaign(c.Params("id"), user.ID)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", nil)
	}

	progress, err := cc.campaignProgress(campaign)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to compute progress", err)
	}
	return c.JSON(utils.SuccessResponse(progress))
}

// HandleCampaignProgressWS streams progress snapshots for one campaign
// every two seconds until it reaches a terminal state, pauses, or the
// client disconnects. The client opens with {"campaign_id": N}.
func (cc *CampaignController) HandleCampaignProgressWS(c *websocket.Conn) {
	defer c.Close()

	var input struct {
		CampaignID uint `json:"campaign_id"`
	}
	if err := c.ReadJSON(&input); err != nil {
		cc.Logger.Printf("Error reading JSON: %v", err)
		return
	}

	userID, ok := c.Locals("userID").(uint)
	if !ok {
		_ = c.WriteJSON(fiber.Map{"error": "Authorization required"})
		return
	}

	for {
		var campaign models.EmailCampaign
		if err := cc.DB.Where("id = ? AND user_id = ?", input.CampaignID, userID).
			First(&campaign).Error; err != nil {
			_ = c.WriteJSON(fiber.Map{"error": "Campaign not found"})
			return
		}

		progress, err := cc.campaignProgress(&campaign)
		if err != nil {
			cc.Logger.Printf("Error computing progress for campaign %d: %v", campaign.ID, err)
			return
		}
		if err := c.WriteJSON(progress); err != nil {
			cc.Logger.Printf("Error writing JSON: %v", err)
			return
		}

		if campaign.IsTerminal() || campaign.Status == models.CampaignStatusPaused {
			return
		}
		time.Sleep(2 * time.Second)
	}
}
