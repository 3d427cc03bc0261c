package controller

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"leadflow/models"
	"leadflow/utils"
)

// TemplateController manages reusable email templates. Templates belong
// to their creator; shared ones are readable and usable by the whole
// team but only the owner can change them.
type TemplateController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewTemplateController(db *gorm.DB, logger *log.Logger) *TemplateController {
	return &TemplateController{DB: db, Logger: logger}
}

type TemplateRequest struct {
	Name         string `json:"name" validate:"required,min=2,max=200"`
	TemplateType string `json:"template_type" validate:"required,oneof=welcome follow_up quote_request proposal thank_you nurture appointment custom"`
	Subject      string `json:"subject" validate:"required,max=300"`
	BodyHTML     string `json:"body_html" validate:"required"`
	BodyText     string `json:"body_text"`
	IsShared     bool   `json:"is_shared"`
}

// CreateTemplate saves a new template after checking its placeholders
// against the allowed variable set.
func (tc *TemplateController) CreateTemplate(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var req TemplateRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
	}
	if err := utils.ValidateTemplateContent(req.Subject, req.BodyHTML); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	template := models.EmailTemplate{
		UserID:       user.ID,
		Name:         req.Name,
		TemplateType: req.TemplateType,
		Subject:      req.Subject,
		BodyHTML:     req.BodyHTML,
		BodyText:     req.BodyText,
		IsShared:     req.IsShared,
		IsActive:     true,
	}
	if err := tc.DB.Create(&template).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create template", err)
	}

	tc.Logger.Printf("📝 Template %q created by user %d", template.Name, user.ID)
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(template))
}

// GetTemplates lists the user's own templates plus shared ones, most
// recently used first.
func (tc *TemplateController) GetTemplates(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	page, limit, offset := utils.Pagination(c)

	query := tc.DB.Model(&models.EmailTemplate{}).
		Where("user_id = ? OR is_shared = ?", user.ID, true)

	if search := c.Query("search"); search != "" {
		like := "%" + search + "%"
		query = query.Where("name LIKE ? OR subject LIKE ? OR template_type LIKE ?", like, like, like)
	}
	if templateType := c.Query("type"); templateType != "" {
		query = query.Where("template_type = ?", templateType)
	}
	if c.Query("active") == "true" {
		query = query.Where("is_active = ?", true)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count templates", err)
	}

	var templates []models.EmailTemplate
	if err := query.Order("last_used_at DESC, name").
		Limit(limit).Offset(offset).
		Find(&templates).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch templates", err)
	}

	return c.JSON(utils.PaginatedResponse{Data: templates, Total: total, Page: page, Limit: limit})
}

// GetTemplateVariables returns the closed set of placeholders a template
// may use.
func (tc *TemplateController) GetTemplateVariables(c *fiber.Ctx) error {
	return c.JSON(utils.SuccessResponse(fiber.Map{"variables": utils.TemplateVariables}))
}

// visibleTemplate loads a template the user may read: their own or a
// shared one.
func (tc *TemplateController) visibleTemplate(id string, userID uint) (*models.EmailTemplate, error) {
	var template models.EmailTemplate
	err := tc.DB.Where("id = ?", id).
		Where("user_id = ? OR is_shared = ?", userID, true).
		First(&template).Error
	if err != nil {
		return nil, err
	}
	return &template, nil
}

// GetTemplate returns one template with its delivery performance.
func (tc *TemplateController) GetTemplate(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	template, err := tc.visibleTemplate(c.Params("id"), user.ID)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Template not found", nil)
	}

	stats, err := tc.templatePerformance(template)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to compute template stats", err)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"template": template,
		"stats":    stats,
	}))
}

// templatePerformance aggregates outcomes of emails sent from this
// template. Open and click rates here are against total sent, not
// against delivered.
func (tc *TemplateController) templatePerformance(template *models.EmailTemplate) (fiber.Map, error) {
	count := func(statuses ...string) (int64, error) {
		var n int64
		err := tc.DB.Model(&models.Email{}).
			Where("template_id = ?", template.ID).
			Where("status IN ?", statuses).
			Count(&n).Error
		return n, err
	}

	totalSent, err := count(models.EmailStatusSent, models.EmailStatusDelivered,
		models.EmailStatusOpened, models.EmailStatusClicked)
	if err != nil {
		return nil, err
	}
	opened, err := count(models.EmailStatusOpened, models.EmailStatusClicked)
	if err != nil {
		return nil, err
	}
	clicked, err := count(models.EmailStatusClicked)
	if err != nil {
		return nil, err
	}

	var openRate, clickRate float64
	if totalSent > 0 {
		openRate = float64(opened) / float64(totalSent) * 100
		clickRate = float64(clicked) / float64(totalSent) * 100
	}

	return fiber.Map{
		"total_sent":  totalSent,
		"opened":      opened,
		"clicked":     clicked,
		"open_rate":   openRate,
		"click_rate":  clickRate,
		"usage_count": template.UsageCount,
	}, nil
}

type UpdateTemplateRequest struct {
	Name         *string `json:"name" validate:"omitempty,min=2,max=200"`
	TemplateType *string `json:"template_type" validate:"omitempty,oneof=welcome follow_up quote_request proposal thank_you nurture appointment custom"`
	Subject      *string `json:"subject" validate:"omitempty,max=300"`
	BodyHTML     *string `json:"body_html"`
	BodyText     *string `json:"body_text"`
	IsShared     *bool   `json:"is_shared"`
	IsActive     *bool   `json:"is_active"`
}

// UpdateTemplate edits a template. Only the owner may change it, shared
// or not.
func (tc *TemplateController) UpdateTemplate(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var template models.EmailTemplate
	if err := tc.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).
		First(&template).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Template not found", nil)
	}

	var req UpdateTemplateRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	if req.Name != nil {
		template.Name = *req.Name
	}
	if req.TemplateType != nil {
		template.TemplateType = *req.TemplateType
	}
	if req.Subject != nil {
		template.Subject = *req.Subject
	}
	if req.BodyHTML != nil {
		template.BodyHTML = *req.BodyHTML
	}
	if req.BodyText != nil {
		template.BodyText = *req.BodyText
	}
	if req.IsShared != nil {
		template.IsShared = *req.IsShared
	}
	if req.IsActive != nil {
		template.IsActive = *req.IsActive
	}

	if err := utils.ValidateTemplateContent(template.Subject, template.BodyHTML); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	if err := tc.DB.Save(&template).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update template", err)
	}

	return c.JSON(utils.SuccessResponse(template))
}

// DeleteTemplate removes one of the user's own templates.
func (tc *TemplateController) DeleteTemplate(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var template models.EmailTemplate
	if err := tc.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).
		First(&template).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Template not found", nil)
	}

	if err := tc.DB.Delete(&template).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete template", err)
	}

	tc.Logger.Printf("🗑️ Template %d deleted by user %d", template.ID, user.ID)
	return c.JSON(fiber.Map{"success": true, "message": "Template deleted"})
}

// PreviewTemplate renders the template against a real lead when lead_id
// is given, otherwise against a fixed sample lead.
func (tc *TemplateController) PreviewTemplate(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	template, err := tc.visibleTemplate(c.Params("id"), user.ID)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Template not found", nil)
	}

	lead := models.Lead{
		FirstName: "John",
		LastName:  "Doe",
		Email:     "john.doe@example.com",
		Company:   "Sample Company",
		Phone:     "+1 555-0123",
	}
	if leadID := c.Query("lead_id"); leadID != "" {
		if err := scopedLeadQuery(tc.DB, user).
			Where("id = ?", leadID).
			First(&lead).Error; err != nil {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
		}
	}

	rendered := utils.RenderTemplate(template, &lead, user)
	return c.JSON(utils.SuccessResponse(fiber.Map{
		"subject":   rendered.Subject,
		"body_html": rendered.BodyHTML,
		"body_text": rendered.BodyText,
	}))
}
