package models

import (
	"time"

	"gorm.io/gorm"
)

// Email providers. Provider choice only prefills host/port defaults,
// every provider authenticates with username/password over SMTP.
const (
	ProviderSMTP     = "smtp"
	ProviderGmail    = "gmail"
	ProviderOutlook  = "outlook"
	ProviderSendgrid = "sendgrid"
	ProviderSES      = "ses"
)

// EmailConfiguration holds a user's sending identity and credentials.
// At most one configuration per user has IsDefault set; SetDefaultConfig
// enforces that inside a transaction.
type EmailConfiguration struct {
	gorm.Model

	UserID uint   `gorm:"not null;index;uniqueIndex:idx_config_user_name" json:"user_id"`
	Name   string `gorm:"not null;uniqueIndex:idx_config_user_name" json:"name"`

	Provider string `gorm:"default:'smtp'" json:"provider"` // smtp, gmail, outlook, sendgrid, ses

	SMTPHost     string `gorm:"not null" json:"smtp_host"`
	SMTPPort     int    `gorm:"default:587" json:"smtp_port"`
	SMTPUsername string `gorm:"not null" json:"smtp_username"`
	SMTPPassword string `gorm:"not null" json:"-"` // AES encrypted at rest
	UseTLS       bool   `gorm:"default:true" json:"use_tls"`
	UseSSL       bool   `gorm:"default:false" json:"use_ssl"`

	FromEmail string `gorm:"not null" json:"from_email"`
	FromName  string `json:"from_name"`
	ReplyTo   string `json:"reply_to"`

	// IMAP settings for reply detection, optional
	IMAPHost     string `json:"imap_host"`
	IMAPPort     int    `gorm:"default:993" json:"imap_port"`
	IMAPUsername string `json:"imap_username"`
	IMAPPassword string `json:"-"` // AES encrypted at rest

	DailyLimit    int        `gorm:"default:500" json:"daily_limit"`
	SentToday     int        `gorm:"default:0" json:"sent_today"`
	LastResetDate *time.Time `json:"last_reset_date"`

	IsDefault bool `gorm:"default:false;index" json:"is_default"`
	IsActive  bool `gorm:"default:true;index" json:"is_active"`

	User User `gorm:"foreignKey:UserID" json:"-"`
}

// CanSendToday reports whether the daily quota still has room.
// A stale LastResetDate means the counter belongs to a previous day
// and the quota is considered fresh.
func (ec *EmailConfiguration) CanSendToday() bool {
	if ec.DailyLimit <= 0 {
		return true
	}
	if ec.CounterIsStale() {
		return true
	}
	return ec.SentToday < ec.DailyLimit
}

// CounterIsStale reports whether SentToday was last updated before today
func (ec *EmailConfiguration) CounterIsStale() bool {
	if ec.LastResetDate == nil {
		return true
	}
	now := time.Now()
	y1, m1, d1 := ec.LastResetDate.Date()
	y2, m2, d2 := now.Date()
	return y1 != y2 || m1 != m2 || d1 != d2
}

// HasIMAP reports whether reply detection can poll this configuration
func (ec *EmailConfiguration) HasIMAP() bool {
	return ec.IMAPHost != "" && ec.IMAPUsername != ""
}

// SetDefaultConfig marks the given configuration as the user's default
// and clears the flag on every other configuration. Both writes happen in
// one transaction so there is never a moment with two defaults.
func SetDefaultConfig(db *gorm.DB, userID, configID uint) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&EmailConfiguration{}).
			Where("user_id = ? AND id <> ?", userID, configID).
			Update("is_default", false).Error; err != nil {
			return err
		}
		return tx.Model(&EmailConfiguration{}).
			Where("user_id = ? AND id = ?", userID, configID).
			Update("is_default", true).Error
	})
}
