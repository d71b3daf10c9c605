package models

import (
	"time"
)

const CampaignTypePointsMultiplier = "points_multiplier"

// Campaign is a time-boxed points booster. A qualifying payment earns
// an extra base_points*(multiplier-1) bonus per active campaign.
type Campaign struct {
	ID           int       `gorm:"primaryKey;autoIncrement" json:"id"`
	MerchantId   int       `gorm:"column:merchant_id;not null;index" json:"merchant_id"`
	Name         string    `gorm:"column:name;size:255;not null" json:"name"`
	Type         string    `gorm:"column:type;size:30;not null;default:points_multiplier" json:"type"`
	Multiplier   float64   `gorm:"column:multiplier;type:decimal(5,2);default:1.00" json:"multiplier"`
	MinimumSpend float64   `gorm:"column:minimum_spend;type:decimal(20,2);default:0.00" json:"minimum_spend"`
	StartsAt     time.Time `gorm:"column:starts_at;not null" json:"starts_at"`
	EndsAt       time.Time `gorm:"column:ends_at;not null" json:"ends_at"`
	IsActive     bool      `gorm:"column:is_active;default:true" json:"is_active"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Campaign) TableName() string {
	return "campaigns"
}
