package models

import (
	"time"
)

// WebhookLog records every delivered webhook and poll page with its
// outcome, so no failure is silently dropped.
type WebhookLog struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	MerchantId  int       `gorm:"column:merchant_id;index" json:"merchant_id"`
	ChannelId   int       `gorm:"column:channel_id;index" json:"channel_id"`
	RequestType string    `gorm:"column:request_type;size:50" json:"request_type"` // validation, confirmation, poll
	Request     string    `gorm:"column:request;type:longtext" json:"request"`
	Response    string    `gorm:"column:response;type:longtext" json:"response"`
	Status      int       `gorm:"column:status;default:0" json:"status"` // 0: failed, 1: processed
	ReceiptId   string    `gorm:"column:receipt_id;size:100;index" json:"receipt_id"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (WebhookLog) TableName() string {
	return "webhook_logs"
}
