package controller

import (
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"leadflow/models"
)

// TrackingController serves the public open-pixel and click-redirect
// endpoints. These are embedded in outbound mail, so they answer quietly
// no matter what arrives: a bad tracking id must not render a broken
// image or a dead link.
type TrackingController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewTrackingController(db *gorm.DB, logger *log.Logger) *TrackingController {
	return &TrackingController{DB: db, Logger: logger}
}

// 1x1 transparent GIF
var trackingPixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x21, 0xF9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2C, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x04, 0x01, 0x00, 0x3B,
}

// HandleTrackingEvent processes GET /track/:trackingID/:event. Opens get
// the pixel back, clicks get redirected to their original URL. Unknown
// ids and event types answer 204 with nothing recorded.
func (tc *TrackingController) HandleTrackingEvent(c *fiber.Ctx) error {
	trackingID := c.Params("trackingID")
	event := c.Params("event")

	if event == models.TrackingEventOpened || event == models.TrackingEventClicked {
		var email models.Email
		if err := tc.DB.Where("tracking_id = ?", trackingID).First(&email).Error; err == nil {
			tc.recordEvent(&email, event, c)
		}
	}

	switch event {
	case models.TrackingEventOpened:
		c.Set("Content-Type", "image/gif")
		c.Set("Cache-Control", "no-cache, no-store, must-revalidate")
		return c.Send(trackingPixel)
	case models.TrackingEventClicked:
		target := c.Query("url")
		if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
			return c.Redirect(target, fiber.StatusFound)
		}
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (tc *TrackingController) recordEvent(email *models.Email, event string, c *fiber.Ctx) {
	trackingEvent := models.EmailTrackingEvent{
		EmailID:   email.ID,
		EventType: event,
		IPAddress: c.IP(),
		UserAgent: c.Get("User-Agent"),
	}
	if event == models.TrackingEventClicked {
		trackingEvent.ClickedURL = c.Query("url")
	}
	if err := tc.DB.Create(&trackingEvent).Error; err != nil {
		tc.Logger.Printf("Failed to record %s event for email %d: %v", event, email.ID, err)
	}

	now := time.Now()
	changed := false
	switch event {
	case models.TrackingEventOpened:
		changed = email.MarkOpened(now)
	case models.TrackingEventClicked:
		changed = email.MarkClicked(now)
	}
	if changed {
		if err := tc.DB.Save(email).Error; err != nil {
			tc.Logger.Printf("Failed to update email %d after %s: %v", email.ID, event, err)
		}
	}
}
