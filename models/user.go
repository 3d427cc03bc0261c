package models

import (
	"time"

	"gorm.io/gorm"
)

// User roles, ordered by privilege
const (
	RoleSuperAdmin   = "superadmin"
	RoleAdmin        = "admin"
	RoleSalesManager = "sales_manager"
	RoleSalesRep     = "sales_rep"
	RoleMarketing    = "marketing"
)

// User represents a CRM account
type User struct {
	gorm.Model

	// Authentication fields
	Email        string `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string `gorm:"not null" json:"-"`

	// Profile information
	Name       string `gorm:"not null" json:"name"`
	Phone      string `json:"phone"`
	Role       string `gorm:"default:'sales_rep';index" json:"role"` // superadmin, admin, sales_manager, sales_rep, marketing
	Department string `gorm:"index" json:"department"`
	Timezone   string `gorm:"default:'UTC'" json:"timezone"`

	// Account status
	IsActive     bool `gorm:"default:true" json:"is_active"`
	TokenVersion int  `gorm:"default:0" json:"-"`

	// Relations
	Leads          []Lead               `gorm:"foreignKey:AssignedToID" json:"leads,omitempty"`
	EmailConfigs   []EmailConfiguration `gorm:"foreignKey:UserID" json:"email_configs,omitempty"`
	EmailTemplates []EmailTemplate      `gorm:"foreignKey:UserID" json:"email_templates,omitempty"`
	Campaigns      []EmailCampaign      `gorm:"foreignKey:UserID" json:"campaigns,omitempty"`
	Sequences      []EmailSequence      `gorm:"foreignKey:UserID" json:"sequences,omitempty"`
}

// CanViewAllLeads reports whether the role sees every lead in the tenant
func (u *User) CanViewAllLeads() bool {
	switch u.Role {
	case RoleSuperAdmin, RoleAdmin, RoleMarketing:
		return true
	}
	return false
}

// IsManager reports whether the role sees its department's leads
func (u *User) IsManager() bool {
	return u.Role == RoleSalesManager
}

// RefreshToken stores issued refresh tokens so they can be revoked
type RefreshToken struct {
	gorm.Model
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	Token     string    `gorm:"uniqueIndex;not null" json:"-"`
	ExpiresAt time.Time `gorm:"not null" json:"expires_at"`
	Revoked   bool      `gorm:"default:false" json:"revoked"`

	User User `gorm:"foreignKey:UserID" json:"-"`
}

// IsValid reports whether the token can still be exchanged
func (rt *RefreshToken) IsValid() bool {
	return !rt.Revoked && time.Now().Before(rt.ExpiresAt)
}
