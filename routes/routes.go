package routes

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"gorm.io/gorm"

	controller "leadflow/controllers"
	"leadflow/middleware"
	"leadflow/models"
)

// Engines exposes the controllers the background workers drive directly.
type Engines struct {
	Campaigns *controller.CampaignController
	Sequences *controller.SequenceController
}

func SetupAuthRoutes(app *fiber.App, db *gorm.DB) {
	// Auth routes group with logging and rate limiting
	auth := app.Group("/api/v1/auth", middleware.AuthRateLimiter(), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Public auth endpoints (no authentication required)
	auth.Post("/register", controller.Register)
	auth.Post("/login", controller.Login)
	auth.Post("/refresh", controller.RefreshAccessToken)

	// Protected auth endpoints (require valid JWT)
	protectedAuth := auth.Group("", middleware.Protected())
	protectedAuth.Post("/logout", controller.Logout)
	protectedAuth.Post("/change-password", controller.ChangePassword)
	protectedAuth.Get("/me", controller.Me)
}

func SetupAPIRoutes(app *fiber.App, db *gorm.DB) *Engines {
	// Initialize controllers with their respective loggers
	leadLogger := log.New(os.Stdout, "LEAD: ", log.Ldate|log.Ltime|log.Lshortfile)
	verifyLogger := log.New(os.Stdout, "VERIFY: ", log.Ldate|log.Ltime|log.Lshortfile)

	sequenceController := controller.NewSequenceController(db, log.New(os.Stdout, "SEQUENCE: ", log.LstdFlags))
	campaignController := controller.NewCampaignController(db, log.New(os.Stdout, "CAMPAIGN: ", log.LstdFlags))
	leadController := controller.NewLeadController(db, leadLogger, sequenceController)
	configController := controller.NewConfigController(db, log.New(os.Stdout, "CONFIG: ", log.LstdFlags))
	templateController := controller.NewTemplateController(db, log.New(os.Stdout, "TEMPLATE: ", log.LstdFlags))
	emailController := controller.NewEmailController(db, log.New(os.Stdout, "EMAIL: ", log.LstdFlags), campaignController)
	trackingController := controller.NewTrackingController(db, log.New(os.Stdout, "TRACK: ", log.LstdFlags))
	dashboardController := controller.NewDashboardController(db, log.New(os.Stdout, "DASHBOARD: ", log.LstdFlags))
	kpiController := controller.NewKPIController(db, log.New(os.Stdout, "KPI: ", log.LstdFlags))
	verificationController := controller.NewVerificationController(db, verifyLogger)

	// Public tracking endpoint, embedded in outbound mail
	app.Get("/track/:trackingID/:event", middleware.TrackingRateLimiter(), trackingController.HandleTrackingEvent)

	// API group with versioning and protection
	api := app.Group("/api/v1", middleware.Protected(), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Dashboard routes
	dashboard := api.Group("/dashboard")
	dashboard.Get("/stats", dashboardController.GetDashboardStats)
	dashboard.Get("/monthly", dashboardController.GetMonthlyTrend)
	dashboard.Get("/sources", dashboardController.GetSourcePerformance)
	dashboard.Get("/team", dashboardController.GetTeamPerformance)
	dashboard.Get("/funnel", dashboardController.GetConversionFunnel)
	dashboard.Get("/email-analytics", dashboardController.GetEmailAnalytics)

	// KPI target routes
	kpi := api.Group("/kpi-targets")
	kpi.Post("/", kpiController.CreateKPITarget)
	kpi.Get("/", kpiController.GetKPITargets)
	kpi.Delete("/:id", kpiController.DeleteKPITarget)

	// Lead routes
	lead := api.Group("/leads")
	lead.Post("/", leadController.CreateLead)
	lead.Get("/", leadController.GetLeads)
	lead.Get("/:id", leadController.GetLead)
	lead.Put("/:id", leadController.UpdateLead)
	lead.Delete("/:id", leadController.DeleteLead)
	lead.Post("/:id/activities", leadController.CreateActivity)
	lead.Get("/:id/activities", leadController.GetActivities)
	lead.Post("/:id/verify", middleware.VerifyRateLimiter(), verificationController.VerifyLeadEmail)
	lead.Post("/:id/quick-email", emailController.QuickSend)

	// Lead source routes
	api.Get("/lead-sources", leadController.GetLeadSources)
	api.Post("/lead-sources", leadController.CreateLeadSource)

	// Verification routes
	verify := api.Group("/verify", middleware.VerifyRateLimiter())
	verify.Get("/email", verificationController.VerifyEmail)
	verify.Post("/bulk", verificationController.BulkVerifyLeads)

	// Email configuration routes
	configs := api.Group("/email-configs")
	configs.Post("/", configController.CreateEmailConfig)
	configs.Get("/", configController.GetEmailConfigs)
	configs.Put("/:id", configController.UpdateEmailConfig)
	configs.Delete("/:id", configController.DeleteEmailConfig)
	configs.Post("/:id/set-default", configController.SetDefaultEmailConfig)
	configs.Post("/:id/test", configController.TestEmailConfig)

	// Template routes
	template := api.Group("/templates")
	template.Post("/", templateController.CreateTemplate)
	template.Get("/", templateController.GetTemplates)
	template.Get("/variables", templateController.GetTemplateVariables)
	template.Post("/preview", templateController.PreviewTemplate)
	template.Get("/:id", templateController.GetTemplate)
	template.Put("/:id", templateController.UpdateTemplate)
	template.Delete("/:id", templateController.DeleteTemplate)

	// Campaign routes
	campaign := api.Group("/campaigns")
	campaign.Post("/", campaignController.CreateCampaign)
	campaign.Get("/", campaignController.GetCampaigns)
	campaign.Get("/:id", campaignController.GetCampaign)
	campaign.Put("/:id", campaignController.UpdateCampaign)
	campaign.Delete("/:id", campaignController.DeleteCampaign)
	campaign.Post("/:id/start", campaignController.StartCampaign)
	campaign.Post("/:id/pause", campaignController.PauseCampaign)
	campaign.Post("/:id/resume", campaignController.ResumeCampaign)
	campaign.Post("/:id/cancel", campaignController.CancelCampaign)
	campaign.Post("/:id/send-batch", campaignController.SendCampaignBatch)
	campaign.Get("/:id/stats", campaignController.GetCampaignStats)
	campaign.Get("/:id/progress", campaignController.GetCampaignProgress)

	// WebSocket route for live campaign progress. The upgrade request
	// goes through Protected() like the rest of the group, the user id
	// is pinned into locals for the connection handler.
	api.Get("/campaigns/progress/ws", func(c *fiber.Ctx) error {
		if user, ok := c.Locals("user").(*models.User); ok {
			c.Locals("userID", user.ID)
		}
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}, websocket.New(campaignController.HandleCampaignProgressWS))

	// Email routes
	email := api.Group("/emails")
	email.Post("/bulk", emailController.BulkSend)
	email.Get("/", emailController.GetEmails)
	email.Get("/:id", emailController.GetEmail)
	email.Post("/:id/retry", emailController.RetryEmail)

	// Sequence routes
	sequence := api.Group("/sequences")
	sequence.Post("/", sequenceController.CreateSequence)
	sequence.Get("/", sequenceController.GetSequences)
	sequence.Get("/:id", sequenceController.GetSequence)
	sequence.Put("/:id", sequenceController.UpdateSequence)
	sequence.Delete("/:id", sequenceController.DeleteSequence)
	sequence.Post("/:id/steps", sequenceController.AddStep)
	sequence.Put("/:id/steps/:stepID", sequenceController.UpdateStep)
	sequence.Delete("/:id/steps/:stepID", sequenceController.DeleteStep)
	sequence.Post("/:id/enroll", sequenceController.EnrollLead)
	sequence.Get("/:id/enrollments", sequenceController.GetEnrollments)

	log.Println("API routes initialized successfully")

	return &Engines{
		Campaigns: campaignController,
		Sequences: sequenceController,
	}
}

func SetupRoutes(app *fiber.App, db *gorm.DB) *Engines {
	// Setup health check endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Setup auth routes
	SetupAuthRoutes(app, db)

	// Setup API routes
	engines := SetupAPIRoutes(app, db)

	// Setup 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "Not Found",
			"message": "The requested resource was not found",
		})
	})

	return engines
}
