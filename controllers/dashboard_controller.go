package controller

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"leadflow/models"
	"leadflow/utils"
)

// DashboardController serves the read-only reporting projections over
// leads and emails. Every query is scoped to what the caller's role may
// see; nothing here mutates.
type DashboardController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewDashboardController(db *gorm.DB, logger *log.Logger) *DashboardController {
	return &DashboardController{DB: db, Logger: logger}
}

// scopedEmailQuery narrows an email query the same way scopedLeadQuery
// narrows leads: reps see mail they sent, managers their department's.
func scopedEmailQuery(db *gorm.DB, user *models.User) *gorm.DB {
	query := db.Model(&models.Email{})

	if user.CanViewAllLeads() {
		return query
	}

	if user.IsManager() {
		teamIDs := db.Model(&models.User{}).Select("id").Where("department = ?", user.Department)
		return query.Where("user_id IN (?) OR user_id = ?", teamIDs, user.ID)
	}

	return query.Where("user_id = ?", user.ID)
}

type statusCount struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

type priorityCount struct {
	Priority string `json:"priority"`
	Count    int64  `json:"count"`
}

// GetDashboardStats answers the headline numbers: pipeline breakdown,
// intake velocity, conversion and revenue.
func (dc *DashboardController) GetDashboardStats(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	leads := func() *gorm.DB { return scopedLeadQuery(dc.DB, user) }

	var total int64
	if err := leads().Count(&total).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count leads", err)
	}

	var byStatus []statusCount
	if err := leads().Select("status, COUNT(*) as count").
		Group("status").Scan(&byStatus).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to group leads by status", err)
	}

	var byPriority []priorityCount
	if err := leads().Select("priority, COUNT(*) as count").
		Group("priority").Scan(&byPriority).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to group leads by priority", err)
	}

	now := time.Now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	startOfWeek := startOfDay.AddDate(0, 0, -int(now.Weekday()))
	startOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	countSince := func(since time.Time) int64 {
		var n int64
		if err := leads().Where("leads.created_at >= ?", since).Count(&n).Error; err != nil {
			dc.Logger.Printf("Failed to count leads since %v: %v", since, err)
		}
		return n
	}

	var won, hot, hotWon int64
	if err := leads().Where("status = ?", models.LeadStatusWon).Count(&won).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count won leads", err)
	}
	if err := leads().Where("priority = ?", models.LeadPriorityHot).Count(&hot).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count hot leads", err)
	}
	if err := leads().Where("priority = ? AND status = ?", models.LeadPriorityHot, models.LeadStatusWon).
		Count(&hotWon).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count hot conversions", err)
	}

	sumBudget := func(tx *gorm.DB) float64 {
		var sum *float64
		if err := tx.Select("SUM(budget)").Scan(&sum).Error; err != nil {
			dc.Logger.Printf("Failed to sum budgets: %v", err)
		}
		if sum == nil {
			return 0
		}
		return *sum
	}
	totalRevenue := sumBudget(leads().Where("status = ?", models.LeadStatusWon))
	potentialRevenue := sumBudget(leads().Where("status NOT IN ?",
		[]string{models.LeadStatusWon, models.LeadStatusLost}))

	var overdue int64
	if err := leads().Where(
		"(last_contacted_at IS NULL AND leads.created_at < ?) OR last_contacted_at < ?",
		now.Add(-3*24*time.Hour), now.Add(-7*24*time.Hour),
	).Count(&overdue).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count overdue leads", err)
	}

	conversionRate := 0.0
	if total > 0 {
		conversionRate = float64(won) / float64(total) * 100
	}
	hotConversionRate := 0.0
	if hot > 0 {
		hotConversionRate = float64(hotWon) / float64(hot) * 100
	}
	avgDealSize := 0.0
	if won > 0 {
		avgDealSize = totalRevenue / float64(won)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"total_leads":         total,
		"by_status":           byStatus,
		"by_priority":         byPriority,
		"new_today":           countSince(startOfDay),
		"new_this_week":       countSince(startOfWeek),
		"new_this_month":      countSince(startOfMonth),
		"won_leads":           won,
		"conversion_rate":     conversionRate,
		"hot_leads":           hot,
		"hot_conversion_rate": hotConversionRate,
		"total_revenue":       totalRevenue,
		"potential_revenue":   potentialRevenue,
		"average_deal_size":   avgDealSize,
		"overdue_leads":       overdue,
	}))
}

// GetMonthlyTrend answers lead intake and wins for the last six months.
func (dc *DashboardController) GetMonthlyTrend(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	type monthPoint struct {
		Month   string `json:"month"`
		Created int64  `json:"created"`
		Won     int64  `json:"won"`
	}

	now := time.Now()
	months := make([]monthPoint, 0, 6)
	for i := 5; i >= 0; i-- {
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, -i, 0)
		end := start.AddDate(0, 1, 0)

		point := monthPoint{Month: start.Format("2006-01")}
		if err := scopedLeadQuery(dc.DB, user).
			Where("leads.created_at >= ? AND leads.created_at < ?", start, end).
			Count(&point.Created).Error; err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to compute monthly trend", err)
		}
		if err := scopedLeadQuery(dc.DB, user).
			Where("status = ? AND leads.updated_at >= ? AND leads.updated_at < ?",
				models.LeadStatusWon, start, end).
			Count(&point.Won).Error; err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to compute monthly trend", err)
		}
		months = append(months, point)
	}

	return c.JSON(utils.SuccessResponse(months))
}

type performanceRow struct {
	ID             uint    `json:"id"`
	Name           string  `json:"name"`
	Total          int64   `json:"total"`
	Won            int64   `json:"won"`
	ConversionRate float64 `json:"conversion_rate"`
}

// GetSourcePerformance answers per-source lead totals and conversion.
func (dc *DashboardController) GetSourcePerformance(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var sources []models.LeadSource
	if err := dc.DB.Order("name").Find(&sources).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load lead sources", err)
	}

	rows := make([]performanceRow, 0, len(sources))
	for _, source := range sources {
		row := performanceRow{ID: source.ID, Name: source.Name}
		if err := scopedLeadQuery(dc.DB, user).
			Where("source_id = ?", source.ID).Count(&row.Total).Error; err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to compute source performance", err)
		}
		if err := scopedLeadQuery(dc.DB, user).
			Where("source_id = ? AND status = ?", source.ID, models.LeadStatusWon).
			Count(&row.Won).Error; err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to compute source performance", err)
		}
		if row.Total > 0 {
			row.ConversionRate = float64(row.Won) / float64(row.Total) * 100
		}
		rows = append(rows, row)
	}

	return c.JSON(utils.SuccessResponse(rows))
}

// GetTeamPerformance answers per-rep totals for managers and admins.
// Reps have no team to report on and are turned away.
func (dc *DashboardController) GetTeamPerformance(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	if !user.IsManager() && !user.CanViewAllLeads() {
		return utils.ErrorResponse(c, fiber.StatusForbidden, "Team performance requires a manager role", nil)
	}

	memberQuery := dc.DB.Model(&models.User{}).Where("is_active = ?", true)
	if user.IsManager() {
		memberQuery = memberQuery.Where("department = ?", user.Department)
	}

	var members []models.User
	if err := memberQuery.Order("name").Find(&members).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load team members", err)
	}

	rows := make([]performanceRow, 0, len(members))
	for _, member := range members {
		row := performanceRow{ID: member.ID, Name: member.Name}
		if err := dc.DB.Model(&models.Lead{}).
			Where("assigned_to_id = ?", member.ID).Count(&row.Total).Error; err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to compute team performance", err)
		}
		if err := dc.DB.Model(&models.Lead{}).
			Where("assigned_to_id = ? AND status = ?", member.ID, models.LeadStatusWon).
			Count(&row.Won).Error; err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to compute team performance", err)
		}
		if row.Total > 0 {
			row.ConversionRate = float64(row.Won) / float64(row.Total) * 100
		}
		rows = append(rows, row)
	}

	return c.JSON(utils.SuccessResponse(rows))
}

// funnelStages maps pipeline stages to their fixed display colors.
var funnelStages = []struct {
	Label    string
	Color    string
	Statuses []string
}{
	{"New", "#6c757d", []string{models.LeadStatusNew}},
	{"Contacted", "#0d6efd", []string{models.LeadStatusContacted}},
	{"Qualified", "#fd7e14", []string{models.LeadStatusQualified}},
	{"In Negotiation", "#ffc107", []string{models.LeadStatusProposal, models.LeadStatusNegotiation}},
	{"Won", "#198754", []string{models.LeadStatusWon}},
}

// GetConversionFunnel answers the staged pipeline counts with their
// display colors and each stage's share of the total.
func (dc *DashboardController) GetConversionFunnel(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var total int64
	if err := scopedLeadQuery(dc.DB, user).Count(&total).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count leads", err)
	}

	type funnelStage struct {
		Label   string  `json:"label"`
		Color   string  `json:"color"`
		Count   int64   `json:"count"`
		Percent float64 `json:"percent"`
	}

	stages := make([]funnelStage, 0, len(funnelStages))
	for _, stage := range funnelStages {
		entry := funnelStage{Label: stage.Label, Color: stage.Color}
		if err := scopedLeadQuery(dc.DB, user).
			Where("status IN ?", stage.Statuses).Count(&entry.Count).Error; err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to compute funnel", err)
		}
		if total > 0 {
			entry.Percent = float64(entry.Count) / float64(total) * 100
		}
		stages = append(stages, entry)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"total_leads": total,
		"stages":      stages,
	}))
}

// GetEmailAnalytics answers outreach effectiveness: overall delivery
// rates, a 30-day send series, and per-campaign / per-template breakdowns.
func (dc *DashboardController) GetEmailAnalytics(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	stats, err := computeEmailStats(func() *gorm.DB {
		return scopedEmailQuery(dc.DB, user)
	})
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to compute email stats", err)
	}

	type dayPoint struct {
		Day  string `json:"day"`
		Sent int64  `json:"sent"`
	}
	now := time.Now()
	daily := make([]dayPoint, 0, 30)
	for i := 29; i >= 0; i-- {
		start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, -i)
		end := start.AddDate(0, 0, 1)

		point := dayPoint{Day: start.Format("2006-01-02")}
		if err := scopedEmailQuery(dc.DB, user).
			Where("sent_at >= ? AND sent_at < ?", start, end).
			Count(&point.Sent).Error; err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to compute daily series", err)
		}
		daily = append(daily, point)
	}

	type campaignBreakdown struct {
		Campaign *models.EmailCampaign `json:"campaign"`
		Stats    *EmailStats           `json:"stats"`
	}
	var campaigns []models.EmailCampaign
	campaignQuery := dc.DB.Order("created_at DESC").Limit(10)
	if !user.CanViewAllLeads() {
		campaignQuery = campaignQuery.Where("user_id = ?", user.ID)
	}
	if err := campaignQuery.Find(&campaigns).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load campaigns", err)
	}
	byCampaign := make([]campaignBreakdown, 0, len(campaigns))
	for i := range campaigns {
		campaign := &campaigns[i]
		campaignStats, err := computeEmailStats(func() *gorm.DB {
			return dc.DB.Model(&models.Email{}).Where("campaign_id = ?", campaign.ID)
		})
		if err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to compute campaign breakdown", err)
		}
		byCampaign = append(byCampaign, campaignBreakdown{Campaign: campaign, Stats: campaignStats})
	}

	type templateBreakdown struct {
		Template *models.EmailTemplate `json:"template"`
		Stats    *EmailStats           `json:"stats"`
	}
	var templates []models.EmailTemplate
	templateQuery := dc.DB.Where("usage_count > 0").Order("usage_count DESC").Limit(10)
	if !user.CanViewAllLeads() {
		templateQuery = templateQuery.Where("user_id = ? OR is_shared = ?", user.ID, true)
	}
	if err := templateQuery.Find(&templates).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load templates", err)
	}
	byTemplate := make([]templateBreakdown, 0, len(templates))
	for i := range templates {
		template := &templates[i]
		templateStats, err := computeEmailStats(func() *gorm.DB {
			return dc.DB.Model(&models.Email{}).Where("template_id = ?", template.ID)
		})
		if err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to compute template breakdown", err)
		}
		byTemplate = append(byTemplate, templateBreakdown{Template: template, Stats: templateStats})
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"stats":       stats,
		"daily_sends": daily,
		"by_campaign": byCampaign,
		"by_template": byTemplate,
	}))
}
