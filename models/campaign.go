package models

import (
	"time"

	"gorm.io/gorm"
)

// Campaign statuses
const (
	CampaignStatusDraft     = "draft"
	CampaignStatusScheduled = "scheduled"
	CampaignStatusSending   = "sending"
	CampaignStatusSent      = "sent"
	CampaignStatusPaused    = "paused"
	CampaignStatusCancelled = "cancelled"
)

// EmailCampaign is a one-shot templated send to a resolved audience.
// State machine: draft -> scheduled|sending -> sent; sending <-> paused;
// any non-terminal state -> cancelled.
type EmailCampaign struct {
	gorm.Model

	UserID uint   `gorm:"not null;index" json:"user_id"`
	Name   string `gorm:"not null" json:"name"`

	TemplateID    uint `gorm:"not null;index" json:"template_id"`
	EmailConfigID uint `gorm:"not null;index" json:"email_config_id"`

	Status string `gorm:"default:'draft';index" json:"status"` // draft, scheduled, sending, sent, paused, cancelled

	// Targeting criteria, evaluated once at materialization
	TargetAllLeads   bool     `gorm:"default:false" json:"target_all_leads"`
	TargetStatuses   []string `gorm:"type:jsonb;serializer:json" json:"target_statuses"`
	TargetPriorities []string `gorm:"type:jsonb;serializer:json" json:"target_priorities"`
	TargetSourceIDs  []uint   `gorm:"type:jsonb;serializer:json" json:"target_source_ids"`

	BatchSize           int `gorm:"default:50" json:"batch_size"`
	DelayBetweenBatches int `gorm:"default:60" json:"delay_between_batches"` // seconds, advisory for the scheduler

	TotalRecipients int `gorm:"default:0" json:"total_recipients"`
	EmailsSent      int `gorm:"default:0" json:"emails_sent"`
	EmailsFailed    int `gorm:"default:0" json:"emails_failed"`

	ScheduledAt *time.Time `json:"scheduled_at"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`

	// Relations
	Template      *EmailTemplate      `gorm:"foreignKey:TemplateID" json:"template,omitempty"`
	EmailConfig   *EmailConfiguration `gorm:"foreignKey:EmailConfigID" json:"email_config,omitempty"`
	User          *User               `gorm:"foreignKey:UserID" json:"-"`
	CampaignLeads []CampaignLead      `gorm:"foreignKey:CampaignID" json:"campaign_leads,omitempty"`
	Emails        []Email             `gorm:"foreignKey:CampaignID" json:"emails,omitempty"`
}

// IsTerminal reports whether the campaign reached a final state
func (c *EmailCampaign) IsTerminal() bool {
	return c.Status == CampaignStatusSent || c.Status == CampaignStatusCancelled
}

// HasTargetCriteria reports whether any explicit criteria list is set
func (c *EmailCampaign) HasTargetCriteria() bool {
	return len(c.TargetStatuses) > 0 || len(c.TargetPriorities) > 0 || len(c.TargetSourceIDs) > 0
}

// CampaignLead pins an explicitly targeted lead to a campaign
type CampaignLead struct {
	gorm.Model
	CampaignID uint `gorm:"not null;index;uniqueIndex:idx_campaign_lead" json:"campaign_id"`
	LeadID     uint `gorm:"not null;index;uniqueIndex:idx_campaign_lead" json:"lead_id"`

	Lead *Lead `gorm:"foreignKey:LeadID" json:"lead,omitempty"`
}
