package utils

import (
	"errors"
	"log"
	"time"

	"gorm.io/gorm"

	"leadflow/models"
)

// ErrNoSendingConfig is returned when a user has no usable configuration.
// Engine callers log it and abort the unit of work without failing the run.
var ErrNoSendingConfig = errors.New("no active email configuration available")

// GetSendingConfig resolves the configuration used for a user's outbound
// mail: the default one when set, otherwise the first active one. A daily
// counter left over from a previous day reads as zero.
func GetSendingConfig(db *gorm.DB, userID uint) (*models.EmailConfiguration, error) {
	var cfg models.EmailConfiguration
	err := db.Where("user_id = ? AND is_default = ? AND is_active = ?", userID, true, true).
		First(&cfg).Error
	if err == nil {
		if cfg.CounterIsStale() {
			cfg.SentToday = 0
		}
		return &cfg, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	err = db.Where("user_id = ? AND is_active = ?", userID, true).
		Order("id").First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoSendingConfig
	}
	if err != nil {
		return nil, err
	}
	if cfg.CounterIsStale() {
		cfg.SentToday = 0
	}
	return &cfg, nil
}

// RecordConfigUsage counts one send against the configuration's daily
// quota, resetting the counter first when it belongs to a previous day.
func RecordConfigUsage(db *gorm.DB, cfg *models.EmailConfiguration) error {
	now := time.Now()
	if cfg.CounterIsStale() {
		return db.Model(cfg).Updates(map[string]interface{}{
			"sent_today":      1,
			"last_reset_date": &now,
		}).Error
	}
	return db.Model(cfg).Updates(map[string]interface{}{
		"sent_today":      gorm.Expr("sent_today + ?", 1),
		"last_reset_date": &now,
	}).Error
}

// ResetDailyCounters clears every configuration's counter at midnight
func ResetDailyCounters(db *gorm.DB, logger *log.Logger) {
	for {
		now := time.Now()
		nextMidnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
		time.Sleep(time.Until(nextMidnight))

		if err := db.Model(&models.EmailConfiguration{}).
			Where("sent_today > 0").
			Update("sent_today", 0).
			Error; err != nil {
			logger.Printf("Failed to reset daily send counters: %v", err)
		} else {
			logger.Println("Successfully reset daily send counters")
		}
	}
}
