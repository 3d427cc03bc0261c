package controller

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadflow/models"
)

func TestResolveTargetsAllLeadsSkipsMissingEmail(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, models.RoleSalesRep)
	cc := newTestCampaignController(db, &stubMailer{})

	seedLead(t, db, user, "a@leads.test")
	seedLead(t, db, user, "b@leads.test")
	seedLead(t, db, user, "") // no address, never targeted

	campaign := seedCampaign(t, db, user, seedTemplate(t, db, user), seedConfig(t, db, user, true), 50)
	campaign.TargetAllLeads = true
	// Criteria lists are ignored when targeting everyone
	campaign.TargetStatuses = []string{models.LeadStatusWon}

	targets, err := cc.ResolveTargets(campaign)
	require.NoError(t, err)
	require.Len(t, targets, 2)
	for _, lead := range targets {
		assert.NotEmpty(t, lead.Email)
	}
}

func TestResolveTargetsUnionsCriteriaWithoutDuplicates(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, models.RoleSalesRep)
	cc := newTestCampaignController(db, &stubMailer{})

	qualified := seedLead(t, db, user, "q@leads.test")
	require.NoError(t, db.Model(qualified).Updates(map[string]interface{}{
		"status":   models.LeadStatusQualified,
		"priority": models.LeadPriorityHot,
	}).Error)
	hot := seedLead(t, db, user, "h@leads.test")
	require.NoError(t, db.Model(hot).Update("priority", models.LeadPriorityHot).Error)
	seedLead(t, db, user, "cold@leads.test")
	pinned := seedLead(t, db, user, "pinned@leads.test")

	campaign := seedCampaign(t, db, user, seedTemplate(t, db, user), seedConfig(t, db, user, true), 50)
	campaign.TargetAllLeads = false
	campaign.TargetStatuses = []string{models.LeadStatusQualified}
	campaign.TargetPriorities = []string{models.LeadPriorityHot}
	require.NoError(t, db.Create(&models.CampaignLead{CampaignID: campaign.ID, LeadID: pinned.ID}).Error)

	targets, err := cc.ResolveTargets(campaign)
	require.NoError(t, err)

	// qualified matches two criteria but appears once
	ids := make([]uint, 0, len(targets))
	for _, lead := range targets {
		ids = append(ids, lead.ID)
	}
	assert.ElementsMatch(t, []uint{qualified.ID, hot.ID, pinned.ID}, ids)
}

func TestMaterializeIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, models.RoleSalesRep)
	cc := newTestCampaignController(db, &stubMailer{})

	seedLead(t, db, user, "a@leads.test")
	seedLead(t, db, user, "b@leads.test")
	campaign := seedCampaign(t, db, user, seedTemplate(t, db, user), seedConfig(t, db, user, true), 50)

	created, err := cc.Materialize(campaign)
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	created, err = cc.Materialize(campaign)
	require.NoError(t, err)
	assert.Equal(t, 0, created)

	var total int64
	require.NoError(t, db.Model(&models.Email{}).
		Where("campaign_id = ?", campaign.ID).Count(&total).Error)
	assert.EqualValues(t, 2, total)
}

func TestMaterializeRendersAgainstLead(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, models.RoleSalesRep)
	cc := newTestCampaignController(db, &stubMailer{})

	lead := seedLead(t, db, user, "ann@leads.test")
	require.NoError(t, db.Model(lead).Updates(map[string]interface{}{
		"first_name": "Ann",
		"company":    "Acme",
	}).Error)
	campaign := seedCampaign(t, db, user, seedTemplate(t, db, user), seedConfig(t, db, user, true), 50)

	_, err := cc.Materialize(campaign)
	require.NoError(t, err)

	var email models.Email
	require.NoError(t, db.Where("campaign_id = ?", campaign.ID).First(&email).Error)
	assert.Equal(t, "Hello Ann", email.Subject)
	assert.Equal(t, "<p>Hi Ann from Acme</p>", email.BodyHTML)
	assert.Equal(t, "sender@crm.test", email.FromEmail)
	assert.Equal(t, models.EmailStatusQueued, email.Status)
	assert.NotEmpty(t, email.TrackingID)
}

func TestSendBatchWithNothingQueuedCompletesCampaign(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, models.RoleSalesRep)
	cc := newTestCampaignController(db, &stubMailer{})

	campaign := seedCampaign(t, db, user, seedTemplate(t, db, user), seedConfig(t, db, user, true), 50)

	sent, failed := cc.SendBatch(campaign, 0)
	assert.Equal(t, 0, sent)
	assert.Equal(t, 0, failed)

	var reloaded models.EmailCampaign
	require.NoError(t, db.First(&reloaded, campaign.ID).Error)
	assert.Equal(t, models.CampaignStatusSent, reloaded.Status)
	assert.NotNil(t, reloaded.CompletedAt)
	assert.Equal(t, 0, reloaded.EmailsSent)
	assert.Equal(t, 0, reloaded.EmailsFailed)
}

func TestSendBatchDrainsQueueInBatches(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, models.RoleSalesRep)
	mailer := &stubMailer{}
	cc := newTestCampaignController(db, mailer)

	for i := 0; i < 5; i++ {
		seedLead(t, db, user, "lead"+string(rune('a'+i))+"@leads.test")
	}
	campaign := seedCampaign(t, db, user, seedTemplate(t, db, user), seedConfig(t, db, user, true), 2)
	_, err := cc.Materialize(campaign)
	require.NoError(t, err)

	sent, failed := cc.SendBatch(campaign, 0)
	assert.Equal(t, 2, sent)
	assert.Equal(t, 0, failed)
	assert.Equal(t, 2, campaign.EmailsSent)
	assert.Equal(t, models.CampaignStatusSending, campaign.Status)

	sent, _ = cc.SendBatch(campaign, 0)
	assert.Equal(t, 2, sent)
	sent, _ = cc.SendBatch(campaign, 0)
	assert.Equal(t, 1, sent)

	var reloaded models.EmailCampaign
	require.NoError(t, db.First(&reloaded, campaign.ID).Error)
	assert.Equal(t, 5, reloaded.EmailsSent)
	assert.Equal(t, models.CampaignStatusSent, reloaded.Status)
	assert.NotNil(t, reloaded.CompletedAt)
	assert.Len(t, mailer.sent, 5)
}

func TestSendBatchRecordsFailuresAndContinues(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, models.RoleSalesRep)
	mailer := &stubMailer{failFor: map[string]error{
		"bad@leads.test": errors.New("550 mailbox unavailable"),
	}}
	cc := newTestCampaignController(db, mailer)

	seedLead(t, db, user, "good@leads.test")
	seedLead(t, db, user, "bad@leads.test")
	campaign := seedCampaign(t, db, user, seedTemplate(t, db, user), seedConfig(t, db, user, true), 50)
	_, err := cc.Materialize(campaign)
	require.NoError(t, err)

	sent, failed := cc.SendBatch(campaign, 0)
	assert.Equal(t, 1, sent)
	assert.Equal(t, 1, failed)

	var failedEmail models.Email
	require.NoError(t, db.Where("campaign_id = ? AND to_email = ?", campaign.ID, "bad@leads.test").
		First(&failedEmail).Error)
	assert.Equal(t, models.EmailStatusFailed, failedEmail.Status)
	assert.Equal(t, 1, failedEmail.RetryCount)
	assert.Contains(t, failedEmail.ErrorMessage, "550")

	var sentEmail models.Email
	require.NoError(t, db.Where("campaign_id = ? AND to_email = ?", campaign.ID, "good@leads.test").
		First(&sentEmail).Error)
	assert.Equal(t, models.EmailStatusSent, sentEmail.Status)
	assert.NotNil(t, sentEmail.SentAt)
}

func TestSendBatchSuccessRecordsSideEffects(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, models.RoleSalesRep)
	cc := newTestCampaignController(db, &stubMailer{})

	lead := seedLead(t, db, user, "a@leads.test")
	tpl := seedTemplate(t, db, user)
	campaign := seedCampaign(t, db, user, tpl, seedConfig(t, db, user, true), 50)
	_, err := cc.Materialize(campaign)
	require.NoError(t, err)

	cc.SendBatch(campaign, 0)

	var event models.EmailTrackingEvent
	require.NoError(t, db.Where("event_type = ?", models.TrackingEventSent).First(&event).Error)

	var activity models.LeadActivity
	require.NoError(t, db.Where("lead_id = ? AND activity_type = ?", lead.ID, models.ActivityTypeEmail).
		First(&activity).Error)
	assert.Contains(t, activity.Subject, "Email sent:")

	var reloadedLead models.Lead
	require.NoError(t, db.First(&reloadedLead, lead.ID).Error)
	assert.NotNil(t, reloadedLead.LastContactedAt)

	var reloadedTpl models.EmailTemplate
	require.NoError(t, db.First(&reloadedTpl, tpl.ID).Error)
	assert.Equal(t, 1, reloadedTpl.UsageCount)
}

func TestRetryFailedEmailsHonorsBudget(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, models.RoleSalesRep)
	mailer := &stubMailer{}
	cc := newTestCampaignController(db, mailer)
	seedConfig(t, db, user, true)

	lead := seedLead(t, db, user, "retry@leads.test")
	retryable := models.Email{
		LeadID: lead.ID, UserID: user.ID, FromEmail: "sender@crm.test",
		ToEmail: lead.Email, Subject: "s", BodyText: "b",
		Status: models.EmailStatusFailed, RetryCount: 1, MaxRetries: 3,
	}
	require.NoError(t, db.Create(&retryable).Error)

	exhausted := models.Email{
		LeadID: lead.ID, UserID: user.ID, FromEmail: "sender@crm.test",
		ToEmail: "other@leads.test", Subject: "s", BodyText: "b",
		Status: models.EmailStatusFailed, RetryCount: 3, MaxRetries: 3,
	}
	require.NoError(t, db.Create(&exhausted).Error)

	retried := cc.RetryFailedEmails()
	assert.Equal(t, 1, retried)

	var reloaded models.Email
	require.NoError(t, db.First(&reloaded, retryable.ID).Error)
	assert.Equal(t, models.EmailStatusSent, reloaded.Status)

	reloaded = models.Email{}
	require.NoError(t, db.First(&reloaded, exhausted.ID).Error)
	assert.Equal(t, models.EmailStatusFailed, reloaded.Status)
	assert.Equal(t, 3, reloaded.RetryCount)
}
