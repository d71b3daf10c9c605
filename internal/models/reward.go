package models

import (
	"time"
)

const (
	RewardTypePoints      = "points"
	RewardTypeTierUpgrade = "tier_upgrade"
	RewardTypeFreeItem    = "free_item"
)

// Reward is created only by the rewards engine. Redemption is one-way:
// IsRedeemed never goes back to false.
type Reward struct {
	ID            int        `gorm:"primaryKey;autoIncrement" json:"id"`
	Reference     string     `gorm:"column:reference;size:64;uniqueIndex" json:"reference"`
	CustomerId    int        `gorm:"column:customer_id;not null;index" json:"customer_id"`
	TransactionId *int       `gorm:"column:transaction_id;index" json:"transaction_id"`
	CampaignId    *int       `gorm:"column:campaign_id" json:"campaign_id"`
	Type          string     `gorm:"column:type;size:30;not null" json:"type"`
	PointsAwarded int        `gorm:"column:points_awarded;default:0" json:"points_awarded"`
	Description   string     `gorm:"column:description;size:255" json:"description"`
	IsRedeemed    bool       `gorm:"column:is_redeemed;default:false" json:"is_redeemed"`
	RedeemedAt    *time.Time `gorm:"column:redeemed_at" json:"redeemed_at"`
	ExpiresAt     *time.Time `gorm:"column:expires_at" json:"expires_at"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Reward) TableName() string {
	return "rewards"
}
