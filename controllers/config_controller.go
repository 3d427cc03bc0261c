package controller

import (
	"fmt"
	"log"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"leadflow/models"
	"leadflow/utils"
)

// ConfigController manages per-user SMTP/IMAP sending configurations.
// Credentials are encrypted before they touch the database and never
// serialized back out.
type ConfigController struct {
	DB     *gorm.DB
	Logger *log.Logger

	// Mailer verifies connections and sends test mail. Exported so
	// tests can swap in a stub.
	Mailer utils.Mailer
}

func NewConfigController(db *gorm.DB, logger *log.Logger) *ConfigController {
	return &ConfigController{
		DB:     db,
		Logger: logger,
		Mailer: utils.NewSMTPMailer(),
	}
}

type EmailConfigRequest struct {
	Name     string `json:"name" validate:"required,min=2,max=100"`
	Provider string `json:"provider" validate:"omitempty,oneof=smtp gmail outlook sendgrid ses"`

	SMTPHost     string `json:"smtp_host" validate:"required"`
	SMTPPort     int    `json:"smtp_port" validate:"omitempty,gte=1,lte=65535"`
	SMTPUsername string `json:"smtp_username" validate:"required"`
	SMTPPassword string `json:"smtp_password" validate:"required"`
	UseTLS       *bool  `json:"use_tls"`
	UseSSL       bool   `json:"use_ssl"`

	FromEmail string `json:"from_email" validate:"required,email"`
	FromName  string `json:"from_name"`
	ReplyTo   string `json:"reply_to" validate:"omitempty,email"`

	IMAPHost     string `json:"imap_host"`
	IMAPPort     int    `json:"imap_port" validate:"omitempty,gte=1,lte=65535"`
	IMAPUsername string `json:"imap_username"`
	IMAPPassword string `json:"imap_password"`

	DailyLimit int  `json:"daily_limit" validate:"omitempty,gte=1,lte=10000"`
	IsDefault  bool `json:"is_default"`
}

// CreateEmailConfig adds a sending configuration. The user's first
// configuration becomes the default regardless of the flag, since the
// send paths need one to fall back on.
func (cfc *ConfigController) CreateEmailConfig(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var req EmailConfigRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	var existing int64
	if err := cfc.DB.Model(&models.EmailConfiguration{}).
		Where("user_id = ? AND name = ?", user.ID, req.Name).
		Count(&existing).Error; err == nil && existing > 0 {
		return utils.ErrorResponse(c, fiber.StatusConflict, "A configuration with this name already exists", nil)
	}

	encryptedSMTP, err := utils.Encrypt(req.SMTPPassword)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to secure credentials", err)
	}

	cfg := models.EmailConfiguration{
		UserID:       user.ID,
		Name:         req.Name,
		Provider:     req.Provider,
		SMTPHost:     req.SMTPHost,
		SMTPUsername: req.SMTPUsername,
		SMTPPassword: encryptedSMTP,
		UseSSL:       req.UseSSL,
		FromEmail:    req.FromEmail,
		FromName:     req.FromName,
		ReplyTo:      req.ReplyTo,
		IMAPHost:     req.IMAPHost,
		IMAPUsername: req.IMAPUsername,
		UseTLS:       true,
	}
	if req.Provider == "" {
		cfg.Provider = models.ProviderSMTP
	}
	if req.SMTPPort > 0 {
		cfg.SMTPPort = req.SMTPPort
	} else {
		cfg.SMTPPort = 587
	}
	if req.UseTLS != nil {
		cfg.UseTLS = *req.UseTLS
	}
	if req.IMAPPort > 0 {
		cfg.IMAPPort = req.IMAPPort
	} else {
		cfg.IMAPPort = 993
	}
	if req.DailyLimit > 0 {
		cfg.DailyLimit = req.DailyLimit
	} else {
		cfg.DailyLimit = 500
	}
	if req.IMAPPassword != "" {
		encryptedIMAP, err := utils.Encrypt(req.IMAPPassword)
		if err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to secure credentials", err)
		}
		cfg.IMAPPassword = encryptedIMAP
	}

	var total int64
	if err := cfc.DB.Model(&models.EmailConfiguration{}).
		Where("user_id = ?", user.ID).Count(&total).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create configuration", err)
	}

	if err := cfc.DB.Create(&cfg).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create configuration", err)
	}

	if req.IsDefault || total == 0 {
		if err := models.SetDefaultConfig(cfc.DB, user.ID, cfg.ID); err != nil {
			cfc.Logger.Printf("Failed to set default config %d: %v", cfg.ID, err)
		} else {
			cfg.IsDefault = true
		}
	}

	cfc.Logger.Printf("📧 Email configuration %q created for user %d", cfg.Name, user.ID)
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(cfg))
}

// GetEmailConfigs lists the user's configurations, default first.
func (cfc *ConfigController) GetEmailConfigs(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var configs []models.EmailConfiguration
	if err := cfc.DB.Where("user_id = ?", user.ID).
		Order("is_default DESC, name").
		Find(&configs).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch configurations", err)
	}

	return c.JSON(utils.SuccessResponse(configs))
}

func (cfc *ConfigController) ownedConfig(id string, userID uint) (*models.EmailConfiguration, error) {
	var cfg models.EmailConfiguration
	err := cfc.DB.Where("id = ? AND user_id = ?", id, userID).First(&cfg).Error
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

type UpdateEmailConfigRequest struct {
	Name     *string `json:"name" validate:"omitempty,min=2,max=100"`
	Provider *string `json:"provider" validate:"omitempty,oneof=smtp gmail outlook sendgrid ses"`

	SMTPHost     *string `json:"smtp_host"`
	SMTPPort     *int    `json:"smtp_port" validate:"omitempty,gte=1,lte=65535"`
	SMTPUsername *string `json:"smtp_username"`
	SMTPPassword *string `json:"smtp_password"`
	UseTLS       *bool   `json:"use_tls"`
	UseSSL       *bool   `json:"use_ssl"`

	FromEmail *string `json:"from_email" validate:"omitempty,email"`
	FromName  *string `json:"from_name"`
	ReplyTo   *string `json:"reply_to"`

	IMAPHost     *string `json:"imap_host"`
	IMAPPort     *int    `json:"imap_port" validate:"omitempty,gte=1,lte=65535"`
	IMAPUsername *string `json:"imap_username"`
	IMAPPassword *string `json:"imap_password"`

	DailyLimit *int  `json:"daily_limit" validate:"omitempty,gte=1,lte=10000"`
	IsActive   *bool `json:"is_active"`
	IsDefault  *bool `json:"is_default"`
}

// UpdateEmailConfig edits a configuration. Passwords are only touched
// when a new value arrives.
func (cfc *ConfigController) UpdateEmailConfig(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	cfg, err := cfc.ownedConfig(c.Params("id"), user.ID)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Configuration not found", nil)
	}

	var req UpdateEmailConfigRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	if req.Name != nil {
		cfg.Name = *req.Name
	}
	if req.Provider != nil {
		cfg.Provider = *req.Provider
	}
	if req.SMTPHost != nil {
		cfg.SMTPHost = *req.SMTPHost
	}
	if req.SMTPPort != nil {
		cfg.SMTPPort = *req.SMTPPort
	}
	if req.SMTPUsername != nil {
		cfg.SMTPUsername = *req.SMTPUsername
	}
	if req.SMTPPassword != nil && *req.SMTPPassword != "" {
		encrypted, err := utils.Encrypt(*req.SMTPPassword)
		if err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to secure credentials", err)
		}
		cfg.SMTPPassword = encrypted
	}
	if req.UseTLS != nil {
		cfg.UseTLS = *req.UseTLS
	}
	if req.UseSSL != nil {
		cfg.UseSSL = *req.UseSSL
	}
	if req.FromEmail != nil {
		cfg.FromEmail = *req.FromEmail
	}
	if req.FromName != nil {
		cfg.FromName = *req.FromName
	}
	if req.ReplyTo != nil {
		cfg.ReplyTo = *req.ReplyTo
	}
	if req.IMAPHost != nil {
		cfg.IMAPHost = *req.IMAPHost
	}
	if req.IMAPPort != nil {
		cfg.IMAPPort = *req.IMAPPort
	}
	if req.IMAPUsername != nil {
		cfg.IMAPUsername = *req.IMAPUsername
	}
	if req.IMAPPassword != nil && *req.IMAPPassword != "" {
		encrypted, err := utils.Encrypt(*req.IMAPPassword)
		if err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to secure credentials", err)
		}
		cfg.IMAPPassword = encrypted
	}
	if req.DailyLimit != nil {
		cfg.DailyLimit = *req.DailyLimit
	}
	if req.IsActive != nil {
		cfg.IsActive = *req.IsActive
	}

	if err := cfc.DB.Save(cfg).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update configuration", err)
	}

	if req.IsDefault != nil && *req.IsDefault {
		if err := models.SetDefaultConfig(cfc.DB, user.ID, cfg.ID); err != nil {
			cfc.Logger.Printf("Failed to set default config %d: %v", cfg.ID, err)
		} else {
			cfg.IsDefault = true
		}
	}

	return c.JSON(utils.SuccessResponse(cfg))
}

// DeleteEmailConfig removes a configuration.
func (cfc *ConfigController) DeleteEmailConfig(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	cfg, err := cfc.ownedConfig(c.Params("id"), user.ID)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Configuration not found", nil)
	}

	if err := cfc.DB.Delete(cfg).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete configuration", err)
	}

	cfc.Logger.Printf("🗑️ Email configuration %d deleted by user %d", cfg.ID, user.ID)
	return c.JSON(fiber.Map{"success": true, "message": "Configuration deleted"})
}

// SetDefaultEmailConfig makes one configuration the user's default.
func (cfc *ConfigController) SetDefaultEmailConfig(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	cfg, err := cfc.ownedConfig(c.Params("id"), user.ID)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Configuration not found", nil)
	}
	if !cfg.IsActive {
		return utils.ErrorResponse(c, fiber.StatusConflict, "An inactive configuration cannot be the default", nil)
	}

	if err := models.SetDefaultConfig(cfc.DB, user.ID, cfg.ID); err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to set default configuration", err)
	}
	cfg.IsDefault = true

	return c.JSON(utils.SuccessResponse(cfg))
}

type TestConfigRequest struct {
	TestEmail string `json:"test_email" validate:"omitempty,email"`
}

// TestEmailConfig verifies the SMTP connection, and optionally delivers
// a test message when test_email is provided.
func (cfc *ConfigController) TestEmailConfig(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	cfg, err := cfc.ownedConfig(c.Params("id"), user.ID)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Configuration not found", nil)
	}

	var req TestConfigRequest
	if err := c.BodyParser(&req); err == nil {
		if err := utils.ValidateStruct(&req); err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
		}
	}

	ok, message := cfc.Mailer.TestConnection(cfg)
	if !ok {
		reportConnectionFailure(cfg, "connect", message)
		return c.JSON(fiber.Map{"success": false, "message": message})
	}

	if req.TestEmail != "" {
		test := models.Email{
			FromEmail: cfg.FromEmail,
			FromName:  cfg.FromName,
			ReplyTo:   cfg.ReplyTo,
			ToEmail:   req.TestEmail,
			Subject:   fmt.Sprintf("Test Email from %s", cfg.Name),
			BodyText: fmt.Sprintf(
				"This is a test email from your CRM system.\n\n"+
					"Configuration: %s\nProvider: %s\nFrom: %s <%s>\n\n"+
					"If you received this email, your configuration is working correctly!\n\n"+
					"Sent at: %s",
				cfg.Name, cfg.Provider, cfg.FromName, cfg.FromEmail,
				time.Now().Format("2006-01-02 15:04:05")),
		}
		if err := cfc.Mailer.Send(cfg, &test, ""); err != nil {
			reportConnectionFailure(cfg, "send", err.Error())
			return c.JSON(fiber.Map{"success": false, "message": "Failed to send test email"})
		}
		message = fmt.Sprintf("Test email sent successfully to %s", req.TestEmail)
	}

	return c.JSON(fiber.Map{"success": true, "message": message})
}

// reportConnectionFailure logs a failed provider interaction and ships it
// to Sentry with the configuration context attached.
func reportConnectionFailure(cfg *models.EmailConfiguration, stage, message string) {
	logrus.WithFields(logrus.Fields{
		"config_id": cfg.ID,
		"provider":  cfg.Provider,
		"smtp_host": cfg.SMTPHost,
		"stage":     stage,
	}).Error(message)

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("error_type", "email_connection")
		scope.SetExtra("config_id", cfg.ID)
		scope.SetExtra("provider", cfg.Provider)
		scope.SetExtra("smtp_host", cfg.SMTPHost)
		scope.SetExtra("stage", stage)
		sentry.CaptureMessage(message)
	})
}
