package controller

import (
	"log"
	"sync"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"leadflow/models"
	"leadflow/utils"
)

// VerificationController checks whether lead email addresses are
// deliverable before they burn sender reputation in a campaign.
type VerificationController struct {
	DB     *gorm.DB
	Logger *log.Logger

	// Verify runs one address through the verification pipeline.
	// Exported so tests can stub the network-touching parts.
	Verify func(email string) (*utils.VerificationResult, error)
}

func NewVerificationController(db *gorm.DB, logger *log.Logger) *VerificationController {
	return &VerificationController{
		DB:     db,
		Logger: logger,
		Verify: utils.VerifyEmailAddress,
	}
}

// VerifyEmail verifies an arbitrary address without touching any lead.
func (vc *VerificationController) VerifyEmail(c *fiber.Ctx) error {
	email := c.Query("email")
	if email == "" {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Email address is required", nil)
	}

	result, err := vc.Verify(email)
	if err != nil {
		vc.Logger.Printf("Verification failed for %s: %v", email, err)
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Verification failed", err)
	}

	return c.JSON(utils.SuccessResponse(result))
}

// VerifyLeadEmail verifies one lead's address and records the outcome on
// the lead.
func (vc *VerificationController) VerifyLeadEmail(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var lead models.Lead
	if err := scopedLeadQuery(vc.DB, user).
		Where("id = ?", c.Params("id")).
		First(&lead).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
	}
	if lead.Email == "" {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Lead has no email address", nil)
	}

	result, err := vc.Verify(lead.Email)
	if err != nil {
		vc.Logger.Printf("Verification failed for lead %d (%s): %v", lead.ID, lead.Email, err)
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Verification failed", err)
	}

	if err := vc.DB.Model(&lead).Updates(map[string]interface{}{
		"verification_status": result.Status,
		"verification_detail": result.Details,
	}).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to record verification", err)
	}
	lead.VerificationStatus = result.Status
	lead.VerificationDetail = result.Details

	vc.Logger.Printf("🔍 Lead %d verified as %s", lead.ID, result.Status)
	return c.JSON(utils.SuccessResponse(fiber.Map{
		"lead":   lead,
		"result": result,
	}))
}

type BulkVerifyRequest struct {
	LeadIDs []uint `json:"lead_ids" validate:"required,min=1,max=500"`
}

// BulkVerifyLeads verifies a batch of leads through a small worker pool
// and records each outcome. SMTP probes dominate the latency, so the
// pool keeps a handful in flight without hammering any one provider.
func (vc *VerificationController) BulkVerifyLeads(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var req BulkVerifyRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	var leads []models.Lead
	if err := scopedLeadQuery(vc.DB, user).
		Where("id IN ?", req.LeadIDs).
		Where("email <> ''").
		Find(&leads).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load leads", err)
	}
	if len(leads) == 0 {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "No matching leads with email addresses", nil)
	}

	counts := map[string]int{}
	var mu sync.Mutex
	var wg sync.WaitGroup

	leadChan := make(chan *models.Lead, len(leads))
	for i := range leads {
		leadChan <- &leads[i]
	}
	close(leadChan)

	workerCount := 5
	if len(leads) < workerCount {
		workerCount = len(leads)
	}

	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for lead := range leadChan {
				result, err := vc.Verify(lead.Email)
				if err != nil {
					vc.Logger.Printf("Verification failed for lead %d (%s): %v", lead.ID, lead.Email, err)
					continue
				}
				if err := vc.DB.Model(&models.Lead{}).
					Where("id = ?", lead.ID).
					Updates(map[string]interface{}{
						"verification_status": result.Status,
						"verification_detail": result.Details,
					}).Error; err != nil {
					vc.Logger.Printf("Failed to record verification for lead %d: %v", lead.ID, err)
					continue
				}
				mu.Lock()
				counts[result.Status]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	vc.Logger.Printf("🔍 Bulk verification for user %d: %d leads checked", user.ID, len(leads))
	return c.JSON(utils.SuccessResponse(fiber.Map{
		"checked": len(leads),
		"counts":  counts,
	}))
}
