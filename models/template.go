package models

import (
	"time"

	"gorm.io/gorm"
)

// Template types
const (
	TemplateTypeWelcome     = "welcome"
	TemplateTypeFollowUp    = "follow_up"
	TemplateTypeProposal    = "proposal"
	TemplateTypeMeeting     = "meeting"
	TemplateTypeThankYou    = "thank_you"
	TemplateTypeNurture     = "nurture"
	TemplateTypePromotional = "promotional"
	TemplateTypeCustom      = "custom"
)

// TemplateTypes lists every valid template type
var TemplateTypes = []string{
	TemplateTypeWelcome, TemplateTypeFollowUp, TemplateTypeProposal,
	TemplateTypeMeeting, TemplateTypeThankYou, TemplateTypeNurture,
	TemplateTypePromotional, TemplateTypeCustom,
}

// EmailTemplate is a reusable subject/body pair with {{placeholder}} variables.
// Templates are read-only at send time except for the usage counters.
type EmailTemplate struct {
	gorm.Model

	UserID       uint   `gorm:"not null;index" json:"user_id"`
	Name         string `gorm:"not null" json:"name"`
	TemplateType string `gorm:"default:'custom';index" json:"template_type"`

	Subject  string `gorm:"size:300;not null" json:"subject"`
	BodyHTML string `gorm:"type:text;not null" json:"body_html"`
	BodyText string `gorm:"type:text" json:"body_text"`

	IsShared bool `gorm:"default:false" json:"is_shared"` // visible to the rest of the tenant, read-only
	IsActive bool `gorm:"default:true" json:"is_active"`

	UsageCount int        `gorm:"default:0" json:"usage_count"`
	LastUsedAt *time.Time `json:"last_used_at"`

	User User `gorm:"foreignKey:UserID" json:"-"`
}

// RecordUsage bumps the usage counter and stamps last use
func (t *EmailTemplate) RecordUsage(db *gorm.DB) error {
	now := time.Now()
	return db.Model(t).Updates(map[string]interface{}{
		"usage_count":  gorm.Expr("usage_count + ?", 1),
		"last_used_at": &now,
	}).Error
}
