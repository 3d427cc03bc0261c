package controller

import (
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
	"leadflow/models"
	"leadflow/utils"
)

type LeadController struct {
	DB        *gorm.DB
	Logger    *log.Logger
	Sequences *SequenceController
}

func NewLeadController(db *gorm.DB, logger *log.Logger, sequences *SequenceController) *LeadController {
	return &LeadController{
		DB:        db,
		Logger:    logger,
		Sequences: sequences,
	}
}

// scopedLeadQuery narrows a lead query to what the user's role may see:
// reps see their own leads, managers see their department, the rest see all.
func scopedLeadQuery(db *gorm.DB, user *models.User) *gorm.DB {
	query := db.Model(&models.Lead{})

	if user.CanViewAllLeads() {
		return query
	}

	if user.IsManager() {
		teamIDs := db.Model(&models.User{}).Select("id").Where("department = ?", user.Department)
		return query.Where("assigned_to_id IN (?) OR assigned_to_id = ? OR created_by_id = ?",
			teamIDs, user.ID, user.ID)
	}

	return query.Where("assigned_to_id = ? OR created_by_id = ?", user.ID, user.ID)
}

type CreateLeadRequest struct {
	FirstName    string  `json:"first_name" validate:"required,max=100"`
	LastName     string  `json:"last_name" validate:"omitempty,max=100"`
	Email        string  `json:"email" validate:"omitempty,email"`
	Phone        string  `json:"phone" validate:"omitempty,max=20"`
	Company      string  `json:"company" validate:"omitempty,max=200"`
	Title        string  `json:"title" validate:"omitempty,max=100"`
	Status       string  `json:"status" validate:"omitempty,oneof=new contacted qualified proposal negotiation won lost on_hold"`
	Priority     string  `json:"priority" validate:"omitempty,oneof=hot warm cold"`
	SourceID     *uint   `json:"source_id"`
	AssignedToID *uint   `json:"assigned_to_id"`
	Budget       float64 `json:"budget" validate:"omitempty,gte=0"`
	Country      string  `json:"country" validate:"omitempty,max=100"`
	City         string  `json:"city" validate:"omitempty,max=100"`
	Notes        string  `json:"notes"`
}

func (lc *LeadController) CreateLead(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var req CreateLeadRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	lead := models.Lead{
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Email:        req.Email,
		Phone:        req.Phone,
		Company:      req.Company,
		Title:        req.Title,
		SourceID:     req.SourceID,
		AssignedToID: req.AssignedToID,
		CreatedByID:  user.ID,
		Budget:       req.Budget,
		City:         req.City,
		Notes:        req.Notes,
	}
	if req.Status != "" {
		lead.Status = req.Status
	}
	if req.Priority != "" {
		lead.Priority = req.Priority
	}
	if req.Country != "" {
		lead.Country = req.Country
	}

	// Unassigned leads go to whoever captured them
	if lead.AssignedToID == nil {
		lead.AssignedToID = &user.ID
	}

	if err := lc.DB.Create(&lead).Error; err != nil {
		lc.Logger.Printf("Failed to create lead: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create lead",
		})
	}

	lc.recordActivity(lead.ID, user.ID, models.ActivityTypeNote, "Lead Created",
		fmt.Sprintf("Lead %s was created", lead.FullName()))

	if err := models.ApplyKPIEvent(lc.DB, user.ID, models.KPILeadsCreated, 1); err != nil {
		lc.Logger.Printf("Failed to update KPI for user %d: %v", user.ID, err)
	}

	// Creation-triggered sequences pick the lead up right away
	lc.Sequences.TriggerOnLeadCreated(&lead)

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(lead))
}

func (lc *LeadController) GetLeads(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	page, limit, offset := utils.Pagination(c)

	query := scopedLeadQuery(lc.DB, user)

	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if priority := c.Query("priority"); priority != "" {
		query = query.Where("priority = ?", priority)
	}
	if sourceID := c.Query("source_id"); sourceID != "" {
		query = query.Where("source_id = ?", utils.ParseUint(sourceID))
	}
	if assignedTo := c.Query("assigned_to"); assignedTo != "" {
		query = query.Where("assigned_to_id = ?", utils.ParseUint(assignedTo))
	}
	if search := c.Query("search"); search != "" {
		like := "%" + search + "%"
		query = query.Where(
			"first_name LIKE ? OR last_name LIKE ? OR email LIKE ? OR company LIKE ?",
			like, like, like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to count leads",
		})
	}

	var leads []models.Lead
	if err := query.Preload("Source").Preload("AssignedTo").
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&leads).Error; err != nil {
		lc.Logger.Printf("Failed to fetch leads: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch leads",
		})
	}

	return c.JSON(utils.PaginatedResponse{
		Data:  leads,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

func (lc *LeadController) GetLead(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	leadID := c.Params("id")

	var lead models.Lead
	if err := scopedLeadQuery(lc.DB, user).
		Preload("Source").Preload("AssignedTo").Preload("CreatedBy").
		Where("leads.id = ?", leadID).
		First(&lead).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Lead not found",
		})
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"lead":       lead,
		"is_overdue": lead.IsOverdue(),
	}))
}

type UpdateLeadRequest struct {
	FirstName    *string  `json:"first_name" validate:"omitempty,max=100"`
	LastName     *string  `json:"last_name" validate:"omitempty,max=100"`
	Email        *string  `json:"email" validate:"omitempty,email"`
	Phone        *string  `json:"phone" validate:"omitempty,max=20"`
	Company      *string  `json:"company" validate:"omitempty,max=200"`
	Title        *string  `json:"title" validate:"omitempty,max=100"`
	Status       *string  `json:"status" validate:"omitempty,oneof=new contacted qualified proposal negotiation won lost on_hold"`
	Priority     *string  `json:"priority" validate:"omitempty,oneof=hot warm cold"`
	SourceID     *uint    `json:"source_id"`
	AssignedToID *uint    `json:"assigned_to_id"`
	Budget       *float64 `json:"budget" validate:"omitempty,gte=0"`
	Country      *string  `json:"country" validate:"omitempty,max=100"`
	City         *string  `json:"city" validate:"omitempty,max=100"`
	Notes        *string  `json:"notes"`
}

func (lc *LeadController) UpdateLead(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	leadID := c.Params("id")

	var lead models.Lead
	if err := scopedLeadQuery(lc.DB, user).Where("leads.id = ?", leadID).First(&lead).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Lead not found",
		})
	}

	var req UpdateLeadRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	oldStatus := lead.Status
	oldPriority := lead.Priority
	oldAssignee := lead.AssignedToID

	if req.FirstName != nil {
		lead.FirstName = *req.FirstName
	}
	if req.LastName != nil {
		lead.LastName = *req.LastName
	}
	if req.Email != nil {
		lead.Email = *req.Email
	}
	if req.Phone != nil {
		lead.Phone = *req.Phone
	}
	if req.Company != nil {
		lead.Company = *req.Company
	}
	if req.Title != nil {
		lead.Title = *req.Title
	}
	if req.Status != nil {
		lead.Status = *req.Status
	}
	if req.Priority != nil {
		lead.Priority = *req.Priority
	}
	if req.SourceID != nil {
		lead.SourceID = req.SourceID
	}
	if req.AssignedToID != nil {
		lead.AssignedToID = req.AssignedToID
	}
	if req.Budget != nil {
		lead.Budget = *req.Budget
	}
	if req.Country != nil {
		lead.Country = *req.Country
	}
	if req.City != nil {
		lead.City = *req.City
	}
	if req.Notes != nil {
		lead.Notes = *req.Notes
	}

	if err := lc.DB.Save(&lead).Error; err != nil {
		lc.Logger.Printf("Failed to update lead %s: %v", leadID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update lead",
		})
	}

	if lead.Status != oldStatus {
		lc.handleStatusChange(&lead, user, oldStatus)
	}
	if lead.Priority != oldPriority {
		lc.handlePriorityChange(&lead, user, oldPriority)
	}
	if !sameAssignee(oldAssignee, lead.AssignedToID) {
		lc.handleAssignmentChange(&lead, user)
	}

	return c.JSON(utils.SuccessResponse(lead))
}

func (lc *LeadController) DeleteLead(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	leadID := c.Params("id")

	var lead models.Lead
	if err := scopedLeadQuery(lc.DB, user).Where("leads.id = ?", leadID).First(&lead).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Lead not found",
		})
	}

	if err := lc.DB.Delete(&lead).Error; err != nil {
		lc.Logger.Printf("Failed to delete lead %s: %v", leadID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete lead",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Lead deleted successfully",
	})
}

func (lc *LeadController) handleStatusChange(lead *models.Lead, user *models.User, oldStatus string) {
	lc.recordActivity(lead.ID, user.ID, models.ActivityTypeStatusChange,
		fmt.Sprintf("Status changed from %s to %s", oldStatus, lead.Status), "")

	if lead.Status == models.LeadStatusWon {
		if err := models.ApplyKPIEvent(lc.DB, user.ID, models.KPILeadsConverted, 1); err != nil {
			lc.Logger.Printf("Failed to update conversion KPI: %v", err)
		}
		if lead.Budget > 0 {
			if err := models.ApplyKPIEvent(lc.DB, user.ID, models.KPIRevenueGenerated, lead.Budget); err != nil {
				lc.Logger.Printf("Failed to update revenue KPI: %v", err)
			}
		}
	}

	lc.Sequences.TriggerOnStatusChange(lead, lead.Status)
}

func (lc *LeadController) handlePriorityChange(lead *models.Lead, user *models.User, oldPriority string) {
	lc.recordActivity(lead.ID, user.ID, models.ActivityTypeNote,
		fmt.Sprintf("Priority changed from %s to %s", oldPriority, lead.Priority), "")

	lc.Sequences.TriggerOnPriorityChange(lead, lead.Priority)
}

func (lc *LeadController) handleAssignmentChange(lead *models.Lead, user *models.User) {
	assigneeName := "nobody"
	if lead.AssignedToID != nil {
		var assignee models.User
		if err := lc.DB.First(&assignee, *lead.AssignedToID).Error; err == nil {
			assigneeName = assignee.Name
		}
	}

	lc.recordActivity(lead.ID, user.ID, models.ActivityTypeAssignment,
		fmt.Sprintf("Lead assigned to %s", assigneeName), "")
}

func (lc *LeadController) recordActivity(leadID, userID uint, activityType, subject, description string) {
	activity := models.LeadActivity{
		LeadID:       leadID,
		UserID:       userID,
		ActivityType: activityType,
		Subject:      subject,
		Description:  description,
	}
	if err := lc.DB.Create(&activity).Error; err != nil {
		lc.Logger.Printf("Failed to record activity for lead %d: %v", leadID, err)
	}
}

func sameAssignee(a, b *uint) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}

type CreateActivityRequest struct {
	ActivityType string `json:"activity_type" validate:"required,oneof=note call email meeting status_change assignment"`
	Subject      string `json:"subject" validate:"required,max=300"`
	Description  string `json:"description"`
}

func (lc *LeadController) CreateActivity(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	leadID := c.Params("id")

	var lead models.Lead
	if err := scopedLeadQuery(lc.DB, user).Where("leads.id = ?", leadID).First(&lead).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Lead not found",
		})
	}

	var req CreateActivityRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	activity := models.LeadActivity{
		LeadID:       lead.ID,
		UserID:       user.ID,
		ActivityType: req.ActivityType,
		Subject:      req.Subject,
		Description:  req.Description,
	}

	if err := lc.DB.Create(&activity).Error; err != nil {
		lc.Logger.Printf("Failed to create activity: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create activity",
		})
	}

	// Contact-type activities refresh the lead's contact clock
	if activity.TouchesLead() {
		if err := lc.DB.Model(&lead).Update("last_contacted_at", time.Now()).Error; err != nil {
			lc.Logger.Printf("Failed to update last contact for lead %d: %v", lead.ID, err)
		}
	}

	switch activity.ActivityType {
	case models.ActivityTypeCall:
		if err := models.ApplyKPIEvent(lc.DB, user.ID, models.KPICallsMade, 1); err != nil {
			lc.Logger.Printf("Failed to update calls KPI: %v", err)
		}
	case models.ActivityTypeMeeting:
		if err := models.ApplyKPIEvent(lc.DB, user.ID, models.KPIMeetingsScheduled, 1); err != nil {
			lc.Logger.Printf("Failed to update meetings KPI: %v", err)
		}
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(activity))
}

func (lc *LeadController) GetActivities(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	leadID := c.Params("id")

	var lead models.Lead
	if err := scopedLeadQuery(lc.DB, user).Where("leads.id = ?", leadID).First(&lead).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Lead not found",
		})
	}

	var activities []models.LeadActivity
	if err := lc.DB.Where("lead_id = ?", lead.ID).
		Preload("User").
		Order("created_at DESC").
		Find(&activities).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch activities",
		})
	}

	return c.JSON(utils.SuccessResponse(activities))
}

type CreateLeadSourceRequest struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"omitempty,max=500"`
}

func (lc *LeadController) GetLeadSources(c *fiber.Ctx) error {
	var sources []models.LeadSource
	if err := lc.DB.Where("is_active = ?", true).Order("name").Find(&sources).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch lead sources",
		})
	}

	return c.JSON(utils.SuccessResponse(sources))
}

func (lc *LeadController) CreateLeadSource(c *fiber.Ctx) error {
	var req CreateLeadSourceRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	source := models.LeadSource{
		Name:        req.Name,
		Description: req.Description,
		IsActive:    true,
	}

	if err := lc.DB.Create(&source).Error; err != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "A lead source with this name already exists",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(source))
}
