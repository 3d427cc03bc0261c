package controller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"leadflow/models"
)

func seedSequence(t *testing.T, db *gorm.DB, owner *models.User, delayStartDays int) *models.EmailSequence {
	t.Helper()

	sequence := &models.EmailSequence{
		UserID:         owner.ID,
		Name:           "sequence-" + t.Name(),
		IsActive:       true,
		DelayStartDays: delayStartDays,
	}
	require.NoError(t, db.Create(sequence).Error)
	return sequence
}

func seedStep(t *testing.T, db *gorm.DB, sequence *models.EmailSequence, tpl *models.EmailTemplate, number, delayDays int) *models.EmailSequenceStep {
	t.Helper()

	step := &models.EmailSequenceStep{
		SequenceID:           sequence.ID,
		StepNumber:           number,
		TemplateID:           tpl.ID,
		DelayDays:            delayDays,
		SendOnlyIfNotReplied: true,
		IsActive:             true,
	}
	require.NoError(t, db.Create(step).Error)
	return step
}

func TestEnrollIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, models.RoleSalesRep)
	sc := newTestSequenceController(db, &stubMailer{})

	lead := seedLead(t, db, user, "a@leads.test")
	sequence := seedSequence(t, db, user, 2)

	first, created, err := sc.Enroll(sequence, lead)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := sc.Enroll(sequence, lead)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, db.Model(&models.EmailSequenceEnrollment{}).
		Where("sequence_id = ?", sequence.ID).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestEnrollWithImmediateStartSendsFirstStep(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, models.RoleSalesRep)
	mailer := &stubMailer{}
	sc := newTestSequenceController(db, mailer)

	seedConfig(t, db, user, true)
	lead := seedLead(t, db, user, "ann@leads.test")
	sequence := seedSequence(t, db, user, 0)
	seedStep(t, db, sequence, seedTemplate(t, db, user), 1, 0)

	enrollment, created, err := sc.Enroll(sequence, lead)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 1, enrollment.CurrentStep)
	assert.Equal(t, 1, enrollment.EmailsSent)
	assert.NotNil(t, enrollment.LastEmailSentAt)

	var email models.Email
	require.NoError(t, db.Where("sequence_id = ?", sequence.ID).First(&email).Error)
	assert.Equal(t, models.EmailStatusSent, email.Status)
	assert.Equal(t, []string{"ann@leads.test"}, mailer.sent)
}

func TestEnrollWithDelayedStartWaits(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, models.RoleSalesRep)
	sc := newTestSequenceController(db, &stubMailer{})

	seedConfig(t, db, user, true)
	lead := seedLead(t, db, user, "a@leads.test")
	sequence := seedSequence(t, db, user, 3)
	seedStep(t, db, sequence, seedTemplate(t, db, user), 1, 0)

	enrollment, _, err := sc.Enroll(sequence, lead)
	require.NoError(t, err)
	assert.Equal(t, 0, enrollment.CurrentStep)

	var count int64
	require.NoError(t, db.Model(&models.Email{}).
		Where("sequence_id = ?", sequence.ID).Count(&count).Error)
	assert.EqualValues(t, 0, count)
}

func TestAdvancePastLastStepCompletesEnrollment(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, models.RoleSalesRep)
	sc := newTestSequenceController(db, &stubMailer{})

	lead := seedLead(t, db, user, "a@leads.test")
	sequence := seedSequence(t, db, user, 2)
	seedStep(t, db, sequence, seedTemplate(t, db, user), 1, 0)

	enrollment := &models.EmailSequenceEnrollment{
		SequenceID:  sequence.ID,
		LeadID:      lead.ID,
		CurrentStep: 1,
		IsActive:    true,
	}
	require.NoError(t, db.Create(enrollment).Error)

	require.NoError(t, sc.Advance(enrollment))
	assert.False(t, enrollment.IsActive)
	require.NotNil(t, enrollment.CompletedAt)
	completedAt := *enrollment.CompletedAt

	// Completing again is a no-op
	require.NoError(t, sc.Advance(enrollment))
	assert.Equal(t, completedAt, *enrollment.CompletedAt)
}

func TestAdvanceSkipsStepWhenLeadReplied(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, models.RoleSalesRep)
	mailer := &stubMailer{}
	sc := newTestSequenceController(db, mailer)

	seedConfig(t, db, user, true)
	lead := seedLead(t, db, user, "a@leads.test")
	sequence := seedSequence(t, db, user, 2)
	seedStep(t, db, sequence, seedTemplate(t, db, user), 1, 0)
	followUp := seedStep(t, db, sequence, seedTemplate(t, db, user), 2, 0)
	require.NoError(t, db.Model(followUp).Update("send_only_if_not_replied", false).Error)

	enrollment := &models.EmailSequenceEnrollment{
		SequenceID: sequence.ID,
		LeadID:     lead.ID,
		IsActive:   true,
		HasReplied: true,
	}
	require.NoError(t, db.Create(enrollment).Error)

	// Step 1 is gated on no reply, so the skip recursion lands on step 2
	require.NoError(t, sc.Advance(enrollment))
	assert.Equal(t, 2, enrollment.CurrentStep)
	assert.Equal(t, 1, enrollment.EmailsSent)

	var count int64
	require.NoError(t, db.Model(&models.Email{}).
		Where("sequence_id = ?", sequence.ID).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestAdvanceStatusGateSkipsToCompletion(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, models.RoleSalesRep)
	sc := newTestSequenceController(db, &stubMailer{})

	seedConfig(t, db, user, true)
	lead := seedLead(t, db, user, "a@leads.test") // status "new"
	sequence := seedSequence(t, db, user, 2)
	step := seedStep(t, db, sequence, seedTemplate(t, db, user), 1, 0)
	step.SendOnlyIfStatus = []string{models.LeadStatusWon}
	require.NoError(t, db.Save(step).Error)

	enrollment := &models.EmailSequenceEnrollment{
		SequenceID: sequence.ID,
		LeadID:     lead.ID,
		IsActive:   true,
	}
	require.NoError(t, db.Create(enrollment).Error)

	require.NoError(t, sc.Advance(enrollment))
	assert.False(t, enrollment.IsActive)
	assert.NotNil(t, enrollment.CompletedAt)

	var count int64
	require.NoError(t, db.Model(&models.Email{}).
		Where("sequence_id = ?", sequence.ID).Count(&count).Error)
	assert.EqualValues(t, 0, count)
}

func TestAdvanceStallsWithoutSendingConfig(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, models.RoleSalesRep)
	sc := newTestSequenceController(db, &stubMailer{})

	lead := seedLead(t, db, user, "a@leads.test")
	sequence := seedSequence(t, db, user, 2)
	seedStep(t, db, sequence, seedTemplate(t, db, user), 1, 0)

	enrollment := &models.EmailSequenceEnrollment{
		SequenceID: sequence.ID,
		LeadID:     lead.ID,
		IsActive:   true,
	}
	require.NoError(t, db.Create(enrollment).Error)

	require.NoError(t, sc.Advance(enrollment))
	assert.Equal(t, 0, enrollment.CurrentStep)
	assert.True(t, enrollment.IsActive)
}

func TestTickAdvancesOnlyElapsedDelays(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, models.RoleSalesRep)
	mailer := &stubMailer{}
	sc := newTestSequenceController(db, mailer)

	seedConfig(t, db, user, true)
	sequence := seedSequence(t, db, user, 1)
	seedStep(t, db, sequence, seedTemplate(t, db, user), 1, 1)

	dueLead := seedLead(t, db, user, "due@leads.test")
	due := &models.EmailSequenceEnrollment{
		SequenceID: sequence.ID,
		LeadID:     dueLead.ID,
		IsActive:   true,
	}
	require.NoError(t, db.Create(due).Error)
	twoDaysAgo := time.Now().Add(-48 * time.Hour)
	require.NoError(t, db.Model(due).Update("enrolled_at", twoDaysAgo).Error)

	freshLead := seedLead(t, db, user, "fresh@leads.test")
	fresh := &models.EmailSequenceEnrollment{
		SequenceID: sequence.ID,
		LeadID:     freshLead.ID,
		IsActive:   true,
	}
	require.NoError(t, db.Create(fresh).Error)

	advanced := sc.Tick()
	assert.Equal(t, 1, advanced)
	assert.Equal(t, []string{"due@leads.test"}, mailer.sent)

	var reloaded models.EmailSequenceEnrollment
	require.NoError(t, db.First(&reloaded, fresh.ID).Error)
	assert.Equal(t, 0, reloaded.CurrentStep)
}

func TestLeadCreationTriggerEnrolls(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, models.RoleSalesRep)
	sc := newTestSequenceController(db, &stubMailer{})

	triggered := seedSequence(t, db, user, 1)
	require.NoError(t, db.Model(triggered).Update("trigger_on_lead_creation", true).Error)
	seedSequence(t, db, user, 1) // not creation-triggered

	lead := seedLead(t, db, user, "a@leads.test")
	sc.TriggerOnLeadCreated(lead)

	var enrollments []models.EmailSequenceEnrollment
	require.NoError(t, db.Where("lead_id = ?", lead.ID).Find(&enrollments).Error)
	require.Len(t, enrollments, 1)
	assert.Equal(t, triggered.ID, enrollments[0].SequenceID)
}

func TestStatusChangeTriggerMatchesWatchedStatus(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, models.RoleSalesRep)
	sc := newTestSequenceController(db, &stubMailer{})

	watching := seedSequence(t, db, user, 1)
	watching.TriggerOnStatusChange = []string{models.LeadStatusQualified}
	require.NoError(t, db.Save(watching).Error)

	other := seedSequence(t, db, user, 1)
	other.TriggerOnStatusChange = []string{models.LeadStatusWon}
	require.NoError(t, db.Save(other).Error)

	lead := seedLead(t, db, user, "a@leads.test")
	sc.TriggerOnStatusChange(lead, models.LeadStatusQualified)

	var enrollments []models.EmailSequenceEnrollment
	require.NoError(t, db.Where("lead_id = ?", lead.ID).Find(&enrollments).Error)
	require.Len(t, enrollments, 1)
	assert.Equal(t, watching.ID, enrollments[0].SequenceID)
}
