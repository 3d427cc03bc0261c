package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Lead statuses
const (
	LeadStatusNew         = "new"
	LeadStatusContacted   = "contacted"
	LeadStatusQualified   = "qualified"
	LeadStatusProposal    = "proposal"
	LeadStatusNegotiation = "negotiation"
	LeadStatusWon         = "won"
	LeadStatusLost        = "lost"
	LeadStatusOnHold      = "on_hold"
)

// Lead priorities
const (
	LeadPriorityHot  = "hot"
	LeadPriorityWarm = "warm"
	LeadPriorityCold = "cold"
)

// LeadStatuses lists every valid lead status
var LeadStatuses = []string{
	LeadStatusNew, LeadStatusContacted, LeadStatusQualified, LeadStatusProposal,
	LeadStatusNegotiation, LeadStatusWon, LeadStatusLost, LeadStatusOnHold,
}

// LeadPriorities lists every valid lead priority
var LeadPriorities = []string{LeadPriorityHot, LeadPriorityWarm, LeadPriorityCold}

// Lead represents a prospective customer record
type Lead struct {
	gorm.Model

	FirstName string `gorm:"not null" json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `gorm:"index" json:"email"`
	Phone     string `json:"phone"`
	Company   string `gorm:"index" json:"company"`
	Title     string `json:"title"`

	Status   string `gorm:"default:'new';index" json:"status"`    // new, contacted, qualified, proposal, negotiation, won, lost, on_hold
	Priority string `gorm:"default:'warm';index" json:"priority"` // hot, warm, cold

	SourceID     *uint `gorm:"index" json:"source_id"`
	AssignedToID *uint `gorm:"index" json:"assigned_to_id"`
	CreatedByID  uint  `gorm:"not null;index" json:"created_by_id"`

	Budget  float64 `gorm:"default:0" json:"budget"`
	Country string  `gorm:"default:'India'" json:"country"`
	City    string  `json:"city"`
	Notes   string  `gorm:"type:text" json:"notes"`

	LastContactedAt *time.Time `json:"last_contacted_at"`

	// Email verification outcome (see utils verifier)
	VerificationStatus string `gorm:"default:'unknown'" json:"verification_status"` // valid, invalid, disposable, catch-all, unknown
	VerificationDetail string `json:"verification_detail"`

	// Relations
	Source     *LeadSource    `gorm:"foreignKey:SourceID" json:"source,omitempty"`
	AssignedTo *User          `gorm:"foreignKey:AssignedToID" json:"assigned_to,omitempty"`
	CreatedBy  *User          `gorm:"foreignKey:CreatedByID" json:"created_by,omitempty"`
	Activities []LeadActivity `gorm:"foreignKey:LeadID" json:"activities,omitempty"`
}

// FullName joins first and last name, trimming the gap when either is empty
func (l *Lead) FullName() string {
	return strings.TrimSpace(l.FirstName + " " + l.LastName)
}

// IsOverdue reports whether the lead is waiting too long for contact.
// Never-contacted leads go overdue after 3 days, contacted ones after 7.
func (l *Lead) IsOverdue() bool {
	if l.LastContactedAt == nil {
		return time.Since(l.CreatedAt) > 3*24*time.Hour
	}
	return time.Since(*l.LastContactedAt) > 7*24*time.Hour
}

// LeadSource identifies where a lead came from (website, referral, ads...)
type LeadSource struct {
	gorm.Model
	Name        string `gorm:"uniqueIndex;not null" json:"name"`
	Description string `json:"description"`
	IsActive    bool   `gorm:"default:true" json:"is_active"`
}

// Lead activity types
const (
	ActivityTypeNote         = "note"
	ActivityTypeCall         = "call"
	ActivityTypeEmail        = "email"
	ActivityTypeMeeting      = "meeting"
	ActivityTypeStatusChange = "status_change"
	ActivityTypeAssignment   = "assignment"
)

// LeadActivity is an append-only log entry against a lead.
// Rows are never updated or deleted once written.
type LeadActivity struct {
	gorm.Model
	LeadID       uint   `gorm:"not null;index" json:"lead_id"`
	UserID       uint   `gorm:"not null;index" json:"user_id"`
	ActivityType string `gorm:"not null;index" json:"activity_type"` // note, call, email, meeting, status_change, assignment
	Subject      string `gorm:"not null" json:"subject"`
	Description  string `gorm:"type:text" json:"description"`

	Lead *Lead `gorm:"foreignKey:LeadID" json:"-"`
	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// TouchesLead reports whether this activity type counts as contacting the lead
func (a *LeadActivity) TouchesLead() bool {
	switch a.ActivityType {
	case ActivityTypeCall, ActivityTypeEmail, ActivityTypeMeeting:
		return true
	}
	return false
}
