package utils

import (
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"

	"leadflow/models"
)

// EmailDispatcher owns the per-email delivery flow shared by campaign
// batches, sequence steps, quick sends and the retry pass.
type EmailDispatcher struct {
	DB              *gorm.DB
	Mailer          Mailer
	Logger          *log.Logger
	TrackingBaseURL string
}

func NewEmailDispatcher(db *gorm.DB, mailer Mailer, logger *log.Logger, trackingBaseURL string) *EmailDispatcher {
	return &EmailDispatcher{
		DB:              db,
		Mailer:          mailer,
		Logger:          logger,
		TrackingBaseURL: trackingBaseURL,
	}
}

// Dispatch delivers one email through the given configuration and records
// the outcome on the row. On success it also appends the tracking event,
// the lead activity, and bumps the usage counters; failures there are
// logged and do not fail the send.
func (d *EmailDispatcher) Dispatch(email *models.Email, cfg *models.EmailConfiguration) error {
	if err := d.DB.Model(email).Update("status", models.EmailStatusSending).Error; err != nil {
		return fmt.Errorf("failed to mark email sending: %w", err)
	}
	email.Status = models.EmailStatusSending

	if email.MessageID == "" {
		email.MessageID = buildMessageID(email.TrackingID, cfg.FromEmail)
	}

	htmlWithTracking := ""
	if email.BodyHTML != "" {
		htmlWithTracking = InjectTracking(email.BodyHTML, d.TrackingBaseURL, email.TrackingID)
	}

	if err := d.Mailer.Send(cfg, email, htmlWithTracking); err != nil {
		email.Status = models.EmailStatusFailed
		email.ErrorMessage = err.Error()
		email.RetryCount++
		if dbErr := d.DB.Model(email).Updates(map[string]interface{}{
			"status":        email.Status,
			"error_message": email.ErrorMessage,
			"retry_count":   email.RetryCount,
		}).Error; dbErr != nil {
			d.Logger.Printf("Failed to record send failure for email %d: %v", email.ID, dbErr)
		}
		return err
	}

	now := time.Now()
	email.Status = models.EmailStatusSent
	email.SentAt = &now
	email.ErrorMessage = ""
	if err := d.DB.Model(email).Updates(map[string]interface{}{
		"status":        email.Status,
		"sent_at":       email.SentAt,
		"message_id":    email.MessageID,
		"error_message": "",
	}).Error; err != nil {
		d.Logger.Printf("Failed to record send success for email %d: %v", email.ID, err)
	}

	d.recordSendSideEffects(email, cfg, now)
	return nil
}

func (d *EmailDispatcher) recordSendSideEffects(email *models.Email, cfg *models.EmailConfiguration, now time.Time) {
	event := models.EmailTrackingEvent{
		EmailID:   email.ID,
		EventType: models.TrackingEventSent,
	}
	if err := d.DB.Create(&event).Error; err != nil {
		d.Logger.Printf("Failed to record sent event for email %d: %v", email.ID, err)
	}

	activity := models.LeadActivity{
		LeadID:       email.LeadID,
		UserID:       email.UserID,
		ActivityType: models.ActivityTypeEmail,
		Subject:      "Email sent: " + email.Subject,
		Description:  "Email sent to " + email.ToEmail,
	}
	if err := d.DB.Create(&activity).Error; err != nil {
		d.Logger.Printf("Failed to record lead activity for email %d: %v", email.ID, err)
	}

	if err := d.DB.Model(&models.Lead{}).
		Where("id = ?", email.LeadID).
		Update("last_contacted_at", &now).Error; err != nil {
		d.Logger.Printf("Failed to stamp lead %d last contact: %v", email.LeadID, err)
	}

	if err := RecordConfigUsage(d.DB, cfg); err != nil {
		d.Logger.Printf("Failed to count send against config %d: %v", cfg.ID, err)
	}

	if email.TemplateID != nil {
		if err := d.DB.Model(&models.EmailTemplate{}).
			Where("id = ?", *email.TemplateID).
			Updates(map[string]interface{}{
				"usage_count":  gorm.Expr("usage_count + ?", 1),
				"last_used_at": &now,
			}).Error; err != nil {
			d.Logger.Printf("Failed to bump template %d usage: %v", *email.TemplateID, err)
		}
	}

	if err := models.ApplyKPIEvent(d.DB, email.UserID, models.KPIEmailsSent, 1); err != nil {
		d.Logger.Printf("Failed to apply emails_sent KPI for user %d: %v", email.UserID, err)
	}
}

func buildMessageID(trackingID, fromEmail string) string {
	domain := "leadflow.local"
	if at := strings.LastIndex(fromEmail, "@"); at != -1 && at+1 < len(fromEmail) {
		domain = fromEmail[at+1:]
	}
	return fmt.Sprintf("<%s@%s>", trackingID, domain)
}
