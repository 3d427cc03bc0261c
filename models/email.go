package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Email statuses. Transitions only move forward except failed rows, which
// re-enter the send path while retry_count < max_retries.
const (
	EmailStatusQueued    = "queued"
	EmailStatusSending   = "sending"
	EmailStatusSent      = "sent"
	EmailStatusDelivered = "delivered"
	EmailStatusOpened    = "opened"
	EmailStatusClicked   = "clicked"
	EmailStatusReplied   = "replied"
	EmailStatusBounced   = "bounced"
	EmailStatusFailed    = "failed"
	EmailStatusCancelled = "cancelled"
)

// Tracking event types
const (
	TrackingEventSent       = "sent"
	TrackingEventDelivered  = "delivered"
	TrackingEventOpened     = "opened"
	TrackingEventClicked    = "clicked"
	TrackingEventReplied    = "replied"
	TrackingEventBounced    = "bounced"
	TrackingEventComplained = "complained"
)

// Email is one outbound message instance, created at campaign
// materialization or per sequence step.
type Email struct {
	gorm.Model

	TrackingID string `gorm:"uniqueIndex;not null" json:"tracking_id"`

	LeadID     uint  `gorm:"not null;index" json:"lead_id"`
	UserID     uint  `gorm:"not null;index" json:"user_id"`
	CampaignID *uint `gorm:"index" json:"campaign_id"`
	TemplateID *uint `gorm:"index" json:"template_id"`
	SequenceID *uint `gorm:"index" json:"sequence_id"`

	FromEmail string `gorm:"not null" json:"from_email"`
	FromName  string `json:"from_name"`
	ReplyTo   string `json:"reply_to"`
	ToEmail   string `gorm:"not null" json:"to_email"`

	Subject  string `gorm:"not null" json:"subject"`
	BodyHTML string `gorm:"type:text" json:"body_html"`
	BodyText string `gorm:"type:text" json:"body_text"`

	Status       string `gorm:"default:'queued';index" json:"status"`
	ErrorMessage string `json:"error_message"`
	RetryCount   int    `gorm:"default:0" json:"retry_count"`
	MaxRetries   int    `gorm:"default:3" json:"max_retries"`

	// SMTP Message-ID header, matched against reply References
	MessageID string `gorm:"index" json:"message_id"`

	QueuedAt    *time.Time `json:"queued_at"`
	SentAt      *time.Time `json:"sent_at"`
	DeliveredAt *time.Time `json:"delivered_at"`
	OpenedAt    *time.Time `json:"opened_at"`
	ClickedAt   *time.Time `json:"clicked_at"`
	RepliedAt   *time.Time `json:"replied_at"`

	// Relations
	Lead     *Lead          `gorm:"foreignKey:LeadID" json:"lead,omitempty"`
	Campaign *EmailCampaign `gorm:"foreignKey:CampaignID" json:"-"`
	Template *EmailTemplate `gorm:"foreignKey:TemplateID" json:"-"`
	Events   []EmailTrackingEvent `gorm:"foreignKey:EmailID" json:"events,omitempty"`
}

// BeforeCreate assigns the tracking id when the caller did not
func (e *Email) BeforeCreate(tx *gorm.DB) error {
	if e.TrackingID == "" {
		e.TrackingID = uuid.New().String()
	}
	if e.QueuedAt == nil {
		now := time.Now()
		e.QueuedAt = &now
	}
	return nil
}

// CanRetry reports whether a failed email is still under its retry budget
func (e *Email) CanRetry() bool {
	return e.Status == EmailStatusFailed && e.RetryCount < e.MaxRetries
}

// MarkOpened records an open. Only sent or delivered emails move to opened;
// re-opens never regress a clicked or replied status. Returns true when the
// struct changed and needs saving.
func (e *Email) MarkOpened(at time.Time) bool {
	if e.Status != EmailStatusSent && e.Status != EmailStatusDelivered {
		return false
	}
	e.Status = EmailStatusOpened
	if e.OpenedAt == nil {
		e.OpenedAt = &at
	}
	return true
}

// MarkClicked records a click, backfilling the open when the pixel was
// blocked. Returns true when the struct changed.
func (e *Email) MarkClicked(at time.Time) bool {
	switch e.Status {
	case EmailStatusSent, EmailStatusDelivered, EmailStatusOpened:
	default:
		return false
	}
	e.Status = EmailStatusClicked
	if e.OpenedAt == nil {
		e.OpenedAt = &at
	}
	if e.ClickedAt == nil {
		e.ClickedAt = &at
	}
	return true
}

// MarkReplied records a reply. Replies are terminal for engagement tracking.
func (e *Email) MarkReplied(at time.Time) bool {
	switch e.Status {
	case EmailStatusSent, EmailStatusDelivered, EmailStatusOpened, EmailStatusClicked:
	default:
		return false
	}
	e.Status = EmailStatusReplied
	if e.RepliedAt == nil {
		e.RepliedAt = &at
	}
	return true
}

// EmailTrackingEvent is an append-only observation against a sent email
type EmailTrackingEvent struct {
	gorm.Model
	EmailID   uint   `gorm:"not null;index" json:"email_id"`
	EventType string `gorm:"not null;index" json:"event_type"` // sent, delivered, opened, clicked, replied, bounced, complained

	IPAddress    string `json:"ip_address"`
	UserAgent    string `json:"user_agent"`
	ClickedURL   string `json:"clicked_url"`
	BounceReason string `json:"bounce_reason"`

	Email *Email `gorm:"foreignKey:EmailID" json:"-"`
}
