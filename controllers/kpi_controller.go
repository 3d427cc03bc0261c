package controller

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"leadflow/models"
	"leadflow/utils"
)

type KPIController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewKPIController(db *gorm.DB, logger *log.Logger) *KPIController {
	return &KPIController{DB: db, Logger: logger}
}

type KPITargetRequest struct {
	KPIType     string  `json:"kpi_type" validate:"required,oneof=leads_created leads_converted revenue_generated calls_made emails_sent meetings_scheduled"`
	Period      string  `json:"period" validate:"omitempty,oneof=monthly quarterly yearly"`
	TargetValue float64 `json:"target_value" validate:"required,gt=0"`

	// Optional explicit period; omitted means the current calendar period
	PeriodStart *time.Time `json:"period_start"`
	PeriodEnd   *time.Time `json:"period_end"`
}

// periodBounds computes the current calendar period for the given cadence.
func periodBounds(period string, now time.Time) (time.Time, time.Time) {
	switch period {
	case models.KPIPeriodYearly:
		start := time.Date(now.Year(), 1, 1, 0, 0, 0, 0, now.Location())
		return start, start.AddDate(1, 0, 0).Add(-time.Second)
	case models.KPIPeriodQuarterly:
		quarterMonth := time.Month((int(now.Month())-1)/3*3 + 1)
		start := time.Date(now.Year(), quarterMonth, 1, 0, 0, 0, 0, now.Location())
		return start, start.AddDate(0, 3, 0).Add(-time.Second)
	default:
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		return start, start.AddDate(0, 1, 0).Add(-time.Second)
	}
}

// CreateKPITarget sets a goal for the caller's current (or given) period.
// One target per (user, kpi type, period start) is allowed.
func (kc *KPIController) CreateKPITarget(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var req KPITargetRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", nil)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	period := req.Period
	if period == "" {
		period = models.KPIPeriodMonthly
	}

	start, end := periodBounds(period, time.Now())
	if req.PeriodStart != nil && req.PeriodEnd != nil {
		if !req.PeriodEnd.After(*req.PeriodStart) {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "period_end must be after period_start", nil)
		}
		start, end = *req.PeriodStart, *req.PeriodEnd
	}

	target := models.KPITarget{
		UserID:      user.ID,
		KPIType:     req.KPIType,
		Period:      period,
		TargetValue: req.TargetValue,
		PeriodStart: start,
		PeriodEnd:   end,
	}
	if err := kc.DB.Create(&target).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusConflict, "A target for this KPI and period already exists", err)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(target))
}

// GetKPITargets lists the caller's targets with their computed progress.
func (kc *KPIController) GetKPITargets(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var targets []models.KPITarget
	query := kc.DB.Where("user_id = ?", user.ID)
	if c.Query("current") == "true" {
		now := time.Now()
		query = query.Where("period_start <= ? AND period_end >= ?", now, now)
	}
	if err := query.Order("period_start DESC, kpi_type").Find(&targets).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load KPI targets", err)
	}

	type targetView struct {
		models.KPITarget
		CompletionPercent float64 `json:"completion_percent"`
		IsAchieved        bool    `json:"is_achieved"`
	}
	views := make([]targetView, 0, len(targets))
	for _, target := range targets {
		views = append(views, targetView{
			KPITarget:         target,
			CompletionPercent: target.CompletionPercent(),
			IsAchieved:        target.IsAchieved(),
		})
	}

	return c.JSON(utils.SuccessResponse(views))
}

// DeleteKPITarget removes one of the caller's targets.
func (kc *KPIController) DeleteKPITarget(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	result := kc.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).
		Delete(&models.KPITarget{})
	if result.Error != nil || result.RowsAffected == 0 {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "KPI target not found", result.Error)
	}

	return c.JSON(fiber.Map{
		"message": "KPI target deleted successfully",
	})
}
