package models

import (
	"time"

	"gorm.io/gorm"
)

// KPI types
const (
	KPILeadsCreated      = "leads_created"
	KPILeadsConverted    = "leads_converted"
	KPIRevenueGenerated  = "revenue_generated"
	KPICallsMade         = "calls_made"
	KPIEmailsSent        = "emails_sent"
	KPIMeetingsScheduled = "meetings_scheduled"
)

// KPI periods
const (
	KPIPeriodMonthly   = "monthly"
	KPIPeriodQuarterly = "quarterly"
	KPIPeriodYearly    = "yearly"
)

// KPITarget tracks a user's progress toward a goal over a period.
// CurrentValue is bumped by the mutating operations (lead creation,
// conversions, activities, sends), not by database triggers.
type KPITarget struct {
	gorm.Model

	UserID  uint   `gorm:"not null;index;uniqueIndex:idx_kpi_target" json:"user_id"`
	KPIType string `gorm:"not null;uniqueIndex:idx_kpi_target" json:"kpi_type"`
	Period  string `gorm:"default:'monthly'" json:"period"` // monthly, quarterly, yearly

	TargetValue  float64 `gorm:"not null" json:"target_value"`
	CurrentValue float64 `gorm:"default:0" json:"current_value"`

	PeriodStart time.Time `gorm:"not null;uniqueIndex:idx_kpi_target" json:"period_start"`
	PeriodEnd   time.Time `gorm:"not null" json:"period_end"`

	User User `gorm:"foreignKey:UserID" json:"-"`
}

// CompletionPercent returns progress as a 0-100+ percentage
func (k *KPITarget) CompletionPercent() float64 {
	if k.TargetValue <= 0 {
		return 0
	}
	return k.CurrentValue / k.TargetValue * 100
}

// IsAchieved reports whether the target has been met
func (k *KPITarget) IsAchieved() bool {
	return k.TargetValue > 0 && k.CurrentValue >= k.TargetValue
}

// Covers reports whether the period contains the given time
func (k *KPITarget) Covers(t time.Time) bool {
	return !t.Before(k.PeriodStart) && !t.After(k.PeriodEnd)
}

// ApplyKPIEvent adds delta to every current-period target of the given
// type for the user. Missing targets are not an error, the event is
// simply unrecorded.
func ApplyKPIEvent(db *gorm.DB, userID uint, kpiType string, delta float64) error {
	now := time.Now()
	return db.Model(&KPITarget{}).
		Where("user_id = ? AND kpi_type = ? AND period_start <= ? AND period_end >= ?",
			userID, kpiType, now, now).
		Update("current_value", gorm.Expr("current_value + ?", delta)).Error
}
