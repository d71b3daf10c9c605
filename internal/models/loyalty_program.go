package models

import (
	"time"
)

// Loyalty tiers, lowest to highest.
const (
	TierBronze   = "bronze"
	TierSilver   = "silver"
	TierGold     = "gold"
	TierPlatinum = "platinum"
)

// Program types.
const (
	ProgramTypePoints = "points"
	ProgramTypeVisits = "visits"
	ProgramTypeSpend  = "spend"
	ProgramTypeHybrid = "hybrid"
)

// LoyaltyProgram holds the earning rules for one merchant. At most one
// program per merchant is active at any instant; activation of a new
// program deactivates the previous one in the same unit of work.
type LoyaltyProgram struct {
	ID                 int       `gorm:"primaryKey;autoIncrement" json:"id"`
	MerchantId         int       `gorm:"column:merchant_id;not null;index" json:"merchant_id"`
	Name               string    `gorm:"column:name;size:255;not null" json:"name"`
	Type               string    `gorm:"column:type;size:20;not null;default:points" json:"type"`
	PointsPerUnit      float64   `gorm:"column:points_per_unit;type:decimal(10,4);default:1.0" json:"points_per_unit"`
	MinimumSpend       float64   `gorm:"column:minimum_spend;type:decimal(20,2);default:0.00" json:"minimum_spend"`
	VisitsRequired     int       `gorm:"column:visits_required;default:0" json:"visits_required"`
	SilverThreshold    int       `gorm:"column:silver_threshold;default:1000" json:"silver_threshold"`
	GoldThreshold      int       `gorm:"column:gold_threshold;default:5000" json:"gold_threshold"`
	PlatinumThreshold  int       `gorm:"column:platinum_threshold;default:15000" json:"platinum_threshold"`
	SilverMultiplier   float64   `gorm:"column:silver_multiplier;type:decimal(5,2);default:1.25" json:"silver_multiplier"`
	GoldMultiplier     float64   `gorm:"column:gold_multiplier;type:decimal(5,2);default:1.50" json:"gold_multiplier"`
	PlatinumMultiplier float64   `gorm:"column:platinum_multiplier;type:decimal(5,2);default:2.00" json:"platinum_multiplier"`
	IsActive           bool      `gorm:"column:is_active;default:false;index" json:"is_active"`
	CreatedAt          time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (LoyaltyProgram) TableName() string {
	return "loyalty_programs"
}
