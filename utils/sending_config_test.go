package utils

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"leadflow/config"
	"leadflow/models"
)

func newSendingTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, config.MigrateDB(db))
	return db
}

func createSendingConfig(t *testing.T, db *gorm.DB, userID uint, name string, isDefault, isActive bool) *models.EmailConfiguration {
	t.Helper()

	cfg := &models.EmailConfiguration{
		UserID:       userID,
		Name:         name,
		SMTPHost:     "smtp.test",
		SMTPUsername: "sender",
		SMTPPassword: "secret",
		FromEmail:    name + "@crm.test",
		DailyLimit:   100,
		IsDefault:    isDefault,
		IsActive:     isActive,
	}
	require.NoError(t, db.Create(cfg).Error)
	if !isActive {
		// IsActive carries `gorm:"default:true"`, so Create drops the
		// zero value and the column falls back to true.
		require.NoError(t, db.Model(cfg).Update("is_active", false).Error)
	}
	return cfg
}

func TestGetSendingConfigPrefersDefault(t *testing.T) {
	db := newSendingTestDB(t)

	createSendingConfig(t, db, 1, "older", false, true)
	preferred := createSendingConfig(t, db, 1, "preferred", true, true)

	cfg, err := GetSendingConfig(db, 1)
	require.NoError(t, err)
	assert.Equal(t, preferred.ID, cfg.ID)
}

func TestGetSendingConfigFallsBackToFirstActive(t *testing.T) {
	db := newSendingTestDB(t)

	createSendingConfig(t, db, 1, "disabled", false, false)
	oldest := createSendingConfig(t, db, 1, "oldest-active", false, true)
	createSendingConfig(t, db, 1, "newer-active", false, true)

	cfg, err := GetSendingConfig(db, 1)
	require.NoError(t, err)
	assert.Equal(t, oldest.ID, cfg.ID)
}

func TestGetSendingConfigIgnoresInactiveDefault(t *testing.T) {
	db := newSendingTestDB(t)

	createSendingConfig(t, db, 1, "retired-default", true, false)
	active := createSendingConfig(t, db, 1, "active", false, true)

	cfg, err := GetSendingConfig(db, 1)
	require.NoError(t, err)
	assert.Equal(t, active.ID, cfg.ID)
}

func TestGetSendingConfigWithoutAnyConfig(t *testing.T) {
	db := newSendingTestDB(t)

	_, err := GetSendingConfig(db, 42)
	assert.ErrorIs(t, err, ErrNoSendingConfig)
}

func TestGetSendingConfigClearsStaleCounter(t *testing.T) {
	db := newSendingTestDB(t)

	cfg := createSendingConfig(t, db, 1, "main", true, true)
	yesterday := time.Now().Add(-25 * time.Hour)
	require.NoError(t, db.Model(cfg).Updates(map[string]interface{}{
		"sent_today":      100,
		"last_reset_date": &yesterday,
	}).Error)

	resolved, err := GetSendingConfig(db, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, resolved.SentToday)
	assert.True(t, resolved.CanSendToday())
}

func TestRecordConfigUsageCountsAndResets(t *testing.T) {
	db := newSendingTestDB(t)

	cfg := createSendingConfig(t, db, 1, "main", true, true)
	require.NoError(t, RecordConfigUsage(db, cfg))

	var reloaded models.EmailConfiguration
	require.NoError(t, db.First(&reloaded, cfg.ID).Error)
	assert.Equal(t, 1, reloaded.SentToday)
	require.NotNil(t, reloaded.LastResetDate)

	// A same-day second send increments
	require.NoError(t, RecordConfigUsage(db, &reloaded))
	require.NoError(t, db.First(&reloaded, cfg.ID).Error)
	assert.Equal(t, 2, reloaded.SentToday)

	// A counter from a previous day restarts at one
	yesterday := time.Now().Add(-25 * time.Hour)
	require.NoError(t, db.Model(&reloaded).Updates(map[string]interface{}{
		"sent_today":      50,
		"last_reset_date": &yesterday,
	}).Error)
	reloaded.SentToday = 50
	reloaded.LastResetDate = &yesterday
	require.NoError(t, RecordConfigUsage(db, &reloaded))
	require.NoError(t, db.First(&reloaded, cfg.ID).Error)
	assert.Equal(t, 1, reloaded.SentToday)
}
