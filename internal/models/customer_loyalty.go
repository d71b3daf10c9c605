package models

import (
	"time"
)

// CustomerLoyalty is the per-(customer, program) loyalty state. Updates
// are serialized with a row lock inside the rewards engine so racing
// transactions for the same customer never lose points.
type CustomerLoyalty struct {
	ID              int       `gorm:"primaryKey;autoIncrement" json:"id"`
	CustomerId      int       `gorm:"column:customer_id;not null;uniqueIndex:idx_customer_program" json:"customer_id"`
	ProgramId       int       `gorm:"column:program_id;not null;uniqueIndex:idx_customer_program" json:"program_id"`
	CurrentPoints   int       `gorm:"column:current_points;default:0" json:"current_points"`
	LifetimePoints  int       `gorm:"column:lifetime_points;default:0" json:"lifetime_points"`
	CurrentTier     string    `gorm:"column:current_tier;size:20;default:bronze" json:"current_tier"`
	CurrentVisits   int       `gorm:"column:current_visits;default:0" json:"current_visits"`
	PointsToNext    int       `gorm:"column:points_to_next_tier;default:0" json:"points_to_next_tier"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (CustomerLoyalty) TableName() string {
	return "customer_loyalties"
}
