package models

import (
	"time"

	"gorm.io/gorm"
)

// EmailSequence is a multi-step drip campaign. Leads are enrolled by
// explicit request or by lead lifecycle triggers, then walked through
// the steps by the scheduler.
type EmailSequence struct {
	gorm.Model

	UserID      uint   `gorm:"not null;index" json:"user_id"`
	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`
	IsActive    bool   `gorm:"default:true;index" json:"is_active"`

	// Enrollment triggers
	TriggerOnLeadCreation   bool     `gorm:"default:false" json:"trigger_on_lead_creation"`
	TriggerOnStatusChange   []string `gorm:"type:jsonb;serializer:json" json:"trigger_on_status_change"`
	TriggerOnPriorityChange []string `gorm:"type:jsonb;serializer:json" json:"trigger_on_priority_change"`

	// Days to wait after enrollment before the first step. Zero sends
	// the first step immediately on enrollment.
	DelayStartDays int `gorm:"default:0" json:"delay_start_days"`

	User        *User                     `gorm:"foreignKey:UserID" json:"-"`
	Steps       []EmailSequenceStep       `gorm:"foreignKey:SequenceID" json:"steps,omitempty"`
	Enrollments []EmailSequenceEnrollment `gorm:"foreignKey:SequenceID" json:"enrollments,omitempty"`
}

// TriggersOnStatus reports whether a status transition into newStatus enrolls leads
func (s *EmailSequence) TriggersOnStatus(newStatus string) bool {
	for _, st := range s.TriggerOnStatusChange {
		if st == newStatus {
			return true
		}
	}
	return false
}

// TriggersOnPriority reports whether a priority change into newPriority enrolls leads
func (s *EmailSequence) TriggersOnPriority(newPriority string) bool {
	for _, p := range s.TriggerOnPriorityChange {
		if p == newPriority {
			return true
		}
	}
	return false
}

// EmailSequenceStep is one ordered, templated step of a sequence.
// Step numbers start at 1 and are unique per sequence.
type EmailSequenceStep struct {
	gorm.Model

	SequenceID uint `gorm:"not null;index;uniqueIndex:idx_sequence_step" json:"sequence_id"`
	StepNumber int  `gorm:"not null;uniqueIndex:idx_sequence_step" json:"step_number"`

	TemplateID uint   `gorm:"not null;index" json:"template_id"`
	Name       string `json:"name"`

	// Days to wait after the previous step before sending this one
	DelayDays int `gorm:"default:1" json:"delay_days"`

	// Gating conditions, checked in order at advance time
	SendOnlyIfNotReplied bool     `gorm:"default:true" json:"send_only_if_not_replied"`
	SendOnlyIfStatus     []string `gorm:"type:jsonb;serializer:json" json:"send_only_if_status"`

	IsActive bool `gorm:"default:true" json:"is_active"`

	Template *EmailTemplate `gorm:"foreignKey:TemplateID" json:"template,omitempty"`
}

// StatusAllowed reports whether the gating list admits the lead's status.
// An empty list admits everything.
func (st *EmailSequenceStep) StatusAllowed(leadStatus string) bool {
	if len(st.SendOnlyIfStatus) == 0 {
		return true
	}
	for _, s := range st.SendOnlyIfStatus {
		if s == leadStatus {
			return true
		}
	}
	return false
}

// EmailSequenceEnrollment is the per-(sequence, lead) progress cursor.
// CurrentStep holds the number of the last step handled; 0 means the
// lead is waiting for step 1.
type EmailSequenceEnrollment struct {
	gorm.Model

	SequenceID uint `gorm:"not null;index;uniqueIndex:idx_enrollment_pair" json:"sequence_id"`
	LeadID     uint `gorm:"not null;index;uniqueIndex:idx_enrollment_pair" json:"lead_id"`

	CurrentStep int  `gorm:"default:0" json:"current_step"`
	IsActive    bool `gorm:"default:true;index" json:"is_active"`

	EmailsSent      int        `gorm:"default:0" json:"emails_sent"`
	LastEmailSentAt *time.Time `json:"last_email_sent_at"`
	HasReplied      bool       `gorm:"default:false" json:"has_replied"`

	EnrolledAt  time.Time  `json:"enrolled_at"`
	CompletedAt *time.Time `json:"completed_at"`

	Sequence *EmailSequence `gorm:"foreignKey:SequenceID" json:"-"`
	Lead     *Lead          `gorm:"foreignKey:LeadID" json:"lead,omitempty"`
}

// BeforeCreate stamps the enrollment time
func (e *EmailSequenceEnrollment) BeforeCreate(tx *gorm.DB) error {
	if e.EnrolledAt.IsZero() {
		e.EnrolledAt = time.Now()
	}
	return nil
}

// Complete deactivates the enrollment, idempotently
func (e *EmailSequenceEnrollment) Complete(at time.Time) bool {
	if !e.IsActive && e.CompletedAt != nil {
		return false
	}
	e.IsActive = false
	if e.CompletedAt == nil {
		e.CompletedAt = &at
	}
	return true
}

// WaitingSince is the reference time for delay computation: the last send,
// or the enrollment time when nothing was sent yet.
func (e *EmailSequenceEnrollment) WaitingSince() time.Time {
	if e.LastEmailSentAt != nil {
		return *e.LastEmailSentAt
	}
	return e.EnrolledAt
}
