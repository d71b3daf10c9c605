package models

import (
	"time"
)

// Customer is created lazily on the first payment matched to a
// merchant. LoyaltyPoints and LoyaltyTier mirror the CustomerLoyalty
// row of the merchant's active program and are only written by the
// rewards engine.
type Customer struct {
	ID               int        `gorm:"primaryKey;autoIncrement" json:"id"`
	MerchantId       int        `gorm:"column:merchant_id;not null;uniqueIndex:idx_merchant_phone" json:"merchant_id"`
	Phone            string     `gorm:"column:phone;size:20;not null;uniqueIndex:idx_merchant_phone" json:"phone"`
	Name             string     `gorm:"column:name;size:255" json:"name"`
	LoyaltyPoints    int        `gorm:"column:loyalty_points;default:0" json:"loyalty_points"`
	LoyaltyTier      string     `gorm:"column:loyalty_tier;size:20;default:bronze" json:"loyalty_tier"`
	Segment          string     `gorm:"column:segment;size:50" json:"segment"`
	TransactionCount int        `gorm:"column:transaction_count;default:0" json:"transaction_count"`
	TotalSpent       float64    `gorm:"column:total_spent;type:decimal(20,2);default:0.00" json:"total_spent"`
	LastSeenAt       *time.Time `gorm:"column:last_seen_at" json:"last_seen_at"`
	CreatedAt        time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Customer) TableName() string {
	return "customers"
}
