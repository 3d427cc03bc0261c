package models

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newConfigTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&User{}, &EmailConfiguration{}))
	return db
}

func createConfig(t *testing.T, db *gorm.DB, userID uint, name string, isDefault bool) *EmailConfiguration {
	t.Helper()

	cfg := &EmailConfiguration{
		UserID:       userID,
		Name:         name,
		SMTPHost:     "smtp.test",
		SMTPUsername: "sender",
		SMTPPassword: "secret",
		FromEmail:    "sender@crm.test",
		IsDefault:    isDefault,
		IsActive:     true,
	}
	require.NoError(t, db.Create(cfg).Error)
	return cfg
}

func TestSetDefaultConfigKeepsSingleDefault(t *testing.T) {
	db := newConfigTestDB(t)

	first := createConfig(t, db, 1, "first", true)
	second := createConfig(t, db, 1, "second", false)
	otherUser := createConfig(t, db, 2, "theirs", true)

	require.NoError(t, SetDefaultConfig(db, 1, second.ID))

	var defaults []EmailConfiguration
	require.NoError(t, db.Where("user_id = ? AND is_default = ?", 1, true).Find(&defaults).Error)
	require.Len(t, defaults, 1)
	assert.Equal(t, second.ID, defaults[0].ID)

	var reloaded EmailConfiguration
	require.NoError(t, db.First(&reloaded, first.ID).Error)
	assert.False(t, reloaded.IsDefault)

	// Another user's default is untouched
	reloaded = EmailConfiguration{}
	require.NoError(t, db.First(&reloaded, otherUser.ID).Error)
	assert.True(t, reloaded.IsDefault)
}

func TestCanSendTodayQuota(t *testing.T) {
	now := time.Now()

	cfg := &EmailConfiguration{DailyLimit: 2, SentToday: 1, LastResetDate: &now}
	assert.True(t, cfg.CanSendToday())

	cfg.SentToday = 2
	assert.False(t, cfg.CanSendToday())

	// Unlimited when no limit is configured
	cfg.DailyLimit = 0
	assert.True(t, cfg.CanSendToday())
}

func TestCounterIsStaleResetsQuota(t *testing.T) {
	yesterday := time.Now().Add(-25 * time.Hour)
	cfg := &EmailConfiguration{DailyLimit: 10, SentToday: 10, LastResetDate: &yesterday}

	assert.True(t, cfg.CounterIsStale())
	assert.True(t, cfg.CanSendToday())

	cfg.LastResetDate = nil
	assert.True(t, cfg.CounterIsStale())
}
