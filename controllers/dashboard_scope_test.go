package controller

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"leadflow/models"
)

// newDashboardApp serves /dashboard/stats with the given user pinned as
// the caller, standing in for the JWT middleware.
func newDashboardApp(db *gorm.DB, user *models.User) *fiber.App {
	app := fiber.New()
	dc := NewDashboardController(db, testLogger())
	app.Get("/dashboard/stats", func(c *fiber.Ctx) error {
		c.Locals("user", user)
		return dc.GetDashboardStats(c)
	})
	return app
}

func dashboardTotalLeads(t *testing.T, app *fiber.App) float64 {
	t.Helper()

	resp, err := app.Test(httptest.NewRequest("GET", "/dashboard/stats", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var envelope struct {
		Success bool                   `json:"success"`
		Data    map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &envelope))
	require.True(t, envelope.Success)

	total, ok := envelope.Data["total_leads"].(float64)
	require.True(t, ok, "total_leads missing from %v", envelope.Data)
	return total
}

func TestDashboardStatsScopedByRole(t *testing.T) {
	db := newTestDB(t)

	admin := seedUser(t, db, models.RoleAdmin)
	manager := seedUser(t, db, models.RoleSalesManager)
	rep := seedUser(t, db, models.RoleSalesRep)
	outsider := seedUser(t, db, models.RoleSalesRep)
	require.NoError(t, db.Model(outsider).Update("department", "Support").Error)

	seedLead(t, db, rep, "rep1@leads.test")
	seedLead(t, db, rep, "rep2@leads.test")
	seedLead(t, db, manager, "mgr@leads.test")
	seedLead(t, db, outsider, "outside@leads.test")

	// Reps see only their own leads
	assert.Equal(t, float64(2), dashboardTotalLeads(t, newDashboardApp(db, rep)))

	// Managers see their department's leads, not other departments'
	assert.Equal(t, float64(3), dashboardTotalLeads(t, newDashboardApp(db, manager)))

	// Admins see everything
	assert.Equal(t, float64(4), dashboardTotalLeads(t, newDashboardApp(db, admin)))
}
