package controller

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"leadflow/models"
)

func newTrackingApp(db *gorm.DB) *fiber.App {
	app := fiber.New()
	tc := NewTrackingController(db, testLogger())
	app.Get("/track/:trackingID/:event", tc.HandleTrackingEvent)
	return app
}

func seedSentEmail(t *testing.T, db *gorm.DB, owner *models.User, lead *models.Lead) *models.Email {
	t.Helper()

	now := time.Now()
	email := &models.Email{
		LeadID:    lead.ID,
		UserID:    owner.ID,
		FromEmail: "sender@crm.test",
		ToEmail:   lead.Email,
		Subject:   "Hello",
		BodyText:  "Hello",
		Status:    models.EmailStatusSent,
		SentAt:    &now,
	}
	require.NoError(t, db.Create(email).Error)
	return email
}

func TestTrackingOpenReturnsPixelAndRecordsOpen(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, models.RoleSalesRep)
	email := seedSentEmail(t, db, user, seedLead(t, db, user, "a@leads.test"))
	app := newTrackingApp(db)

	resp, err := app.Test(httptest.NewRequest("GET", "/track/"+email.TrackingID+"/opened", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/gif", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, trackingPixel, body)

	var reloaded models.Email
	require.NoError(t, db.First(&reloaded, email.ID).Error)
	assert.Equal(t, models.EmailStatusOpened, reloaded.Status)
	assert.NotNil(t, reloaded.OpenedAt)

	var events int64
	require.NoError(t, db.Model(&models.EmailTrackingEvent{}).
		Where("email_id = ? AND event_type = ?", email.ID, models.TrackingEventOpened).
		Count(&events).Error)
	assert.EqualValues(t, 1, events)
}

func TestTrackingReopenDoesNotRegressStatus(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, models.RoleSalesRep)
	email := seedSentEmail(t, db, user, seedLead(t, db, user, "a@leads.test"))
	earlier := time.Now().Add(-time.Hour)
	require.NoError(t, db.Model(email).Updates(map[string]interface{}{
		"status":     models.EmailStatusClicked,
		"opened_at":  earlier,
		"clicked_at": earlier,
	}).Error)
	app := newTrackingApp(db)

	resp, err := app.Test(httptest.NewRequest("GET", "/track/"+email.TrackingID+"/opened", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var reloaded models.Email
	require.NoError(t, db.First(&reloaded, email.ID).Error)
	assert.Equal(t, models.EmailStatusClicked, reloaded.Status)

	// The observation is still appended
	var events int64
	require.NoError(t, db.Model(&models.EmailTrackingEvent{}).
		Where("email_id = ? AND event_type = ?", email.ID, models.TrackingEventOpened).
		Count(&events).Error)
	assert.EqualValues(t, 1, events)
}

func TestTrackingClickRedirectsAndBackfillsOpen(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, models.RoleSalesRep)
	email := seedSentEmail(t, db, user, seedLead(t, db, user, "a@leads.test"))
	app := newTrackingApp(db)

	target := "https://example.com/pricing"
	resp, err := app.Test(httptest.NewRequest("GET",
		"/track/"+email.TrackingID+"/clicked?url="+target, nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusFound, resp.StatusCode)
	assert.Equal(t, target, resp.Header.Get("Location"))

	var reloaded models.Email
	require.NoError(t, db.First(&reloaded, email.ID).Error)
	assert.Equal(t, models.EmailStatusClicked, reloaded.Status)
	assert.NotNil(t, reloaded.OpenedAt)
	assert.NotNil(t, reloaded.ClickedAt)

	var event models.EmailTrackingEvent
	require.NoError(t, db.Where("email_id = ? AND event_type = ?", email.ID, models.TrackingEventClicked).
		First(&event).Error)
	assert.Equal(t, target, event.ClickedURL)
}

func TestTrackingClickRejectsNonHTTPTarget(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, models.RoleSalesRep)
	email := seedSentEmail(t, db, user, seedLead(t, db, user, "a@leads.test"))
	app := newTrackingApp(db)

	resp, err := app.Test(httptest.NewRequest("GET",
		"/track/"+email.TrackingID+"/clicked?url=javascript:alert(1)", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Location"))
}

func TestTrackingUnknownIDStaysQuiet(t *testing.T) {
	db := newTestDB(t)
	app := newTrackingApp(db)

	resp, err := app.Test(httptest.NewRequest("GET", "/track/no-such-id/opened", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/gif", resp.Header.Get("Content-Type"))

	var events int64
	require.NoError(t, db.Model(&models.EmailTrackingEvent{}).Count(&events).Error)
	assert.EqualValues(t, 0, events)
}

func TestTrackingUnknownEventRecordsNothing(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, models.RoleSalesRep)
	email := seedSentEmail(t, db, user, seedLead(t, db, user, "a@leads.test"))
	app := newTrackingApp(db)

	resp, err := app.Test(httptest.NewRequest("GET", "/track/"+email.TrackingID+"/unsubscribed", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	var events int64
	require.NoError(t, db.Model(&models.EmailTrackingEvent{}).Count(&events).Error)
	assert.EqualValues(t, 0, events)
}
