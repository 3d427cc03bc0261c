package controller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"leadflow/models"
)

func TestPeriodBounds(t *testing.T) {
	now := time.Date(2026, time.August, 30, 15, 4, 5, 0, time.UTC)

	start, end := periodBounds(models.KPIPeriodMonthly, now)
	assert.Equal(t, time.Date(2026, time.August, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, time.August, 31, 23, 59, 59, 0, time.UTC), end)

	start, end = periodBounds(models.KPIPeriodQuarterly, now)
	assert.Equal(t, time.Date(2026, time.July, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, time.September, 30, 23, 59, 59, 0, time.UTC), end)

	start, end = periodBounds(models.KPIPeriodYearly, now)
	assert.Equal(t, time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, time.December, 31, 23, 59, 59, 0, time.UTC), end)

	// December rolls into the next year cleanly
	december := time.Date(2026, time.December, 10, 0, 0, 0, 0, time.UTC)
	start, end = periodBounds(models.KPIPeriodMonthly, december)
	assert.Equal(t, time.Date(2026, time.December, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, time.December, 31, 23, 59, 59, 0, time.UTC), end)
}
