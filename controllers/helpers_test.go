package controller

import (
	"fmt"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"leadflow/config"
	"leadflow/models"
	"leadflow/utils"
)

// newTestDB opens a per-test in-memory database with the full schema.
// cache=shared keeps every pooled connection on the same database.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, config.MigrateDB(db))
	return db
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// stubMailer satisfies utils.Mailer without touching the network.
// Addresses listed in failFor are rejected with the mapped error.
type stubMailer struct {
	sent    []string
	failFor map[string]error
}

func (m *stubMailer) TestConnection(cfg *models.EmailConfiguration) (bool, string) {
	return true, "Connection successful"
}

func (m *stubMailer) Send(cfg *models.EmailConfiguration, email *models.Email, htmlBody string) error {
	if err, ok := m.failFor[email.ToEmail]; ok {
		return err
	}
	m.sent = append(m.sent, email.ToEmail)
	return nil
}

func newTestCampaignController(db *gorm.DB, mailer utils.Mailer) *CampaignController {
	logger := testLogger()
	return &CampaignController{
		DB:         db,
		Logger:     logger,
		Dispatcher: utils.NewEmailDispatcher(db, mailer, logger, "http://tracking.test"),
	}
}

func newTestSequenceController(db *gorm.DB, mailer utils.Mailer) *SequenceController {
	logger := testLogger()
	return &SequenceController{
		DB:         db,
		Logger:     logger,
		Dispatcher: utils.NewEmailDispatcher(db, mailer, logger, "http://tracking.test"),
	}
}

func seedUser(t *testing.T, db *gorm.DB, role string) *models.User {
	t.Helper()

	user := &models.User{
		Email:        fmt.Sprintf("user%d@crm.test", seedCounter()),
		PasswordHash: "x",
		Name:         "Test User",
		Role:         role,
		Department:   "Sales",
		IsActive:     true,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func seedLead(t *testing.T, db *gorm.DB, owner *models.User, email string) *models.Lead {
	t.Helper()

	lead := &models.Lead{
		FirstName:   "Lead",
		LastName:    fmt.Sprintf("%d", seedCounter()),
		Email:       email,
		Status:      models.LeadStatusNew,
		Priority:    models.LeadPriorityWarm,
		CreatedByID: owner.ID,
	}
	lead.AssignedToID = &owner.ID
	require.NoError(t, db.Create(lead).Error)
	return lead
}

func seedConfig(t *testing.T, db *gorm.DB, owner *models.User, isDefault bool) *models.EmailConfiguration {
	t.Helper()

	cfg := &models.EmailConfiguration{
		UserID:       owner.ID,
		Name:         fmt.Sprintf("config-%d", seedCounter()),
		Provider:     models.ProviderSMTP,
		SMTPHost:     "smtp.test",
		SMTPPort:     587,
		SMTPUsername: "sender",
		SMTPPassword: "secret",
		FromEmail:    "sender@crm.test",
		FromName:     "Sender",
		DailyLimit:   500,
		IsDefault:    isDefault,
		IsActive:     true,
	}
	require.NoError(t, db.Create(cfg).Error)
	return cfg
}

func seedTemplate(t *testing.T, db *gorm.DB, owner *models.User) *models.EmailTemplate {
	t.Helper()

	tpl := &models.EmailTemplate{
		UserID:   owner.ID,
		Name:     fmt.Sprintf("template-%d", seedCounter()),
		Subject:  "Hello {{first_name}}",
		BodyHTML: "<p>Hi {{first_name}} from {{company}}</p>",
		IsActive: true,
	}
	require.NoError(t, db.Create(tpl).Error)
	return tpl
}

func seedCampaign(t *testing.T, db *gorm.DB, owner *models.User, tpl *models.EmailTemplate, cfg *models.EmailConfiguration, batchSize int) *models.EmailCampaign {
	t.Helper()

	campaign := &models.EmailCampaign{
		UserID:         owner.ID,
		Name:           fmt.Sprintf("campaign-%d", seedCounter()),
		TemplateID:     tpl.ID,
		EmailConfigID:  cfg.ID,
		Status:         models.CampaignStatusSending,
		TargetAllLeads: true,
		BatchSize:      batchSize,
	}
	require.NoError(t, db.Create(campaign).Error)
	return campaign
}

// seedCounter hands out unique suffixes so fixtures never collide on
// unique columns.
var seedSeq int

func seedCounter() int {
	seedSeq++
	return seedSeq
}
