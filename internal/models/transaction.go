package models

import (
	"time"
)

// Transaction is one settled C2B payment reconciled from the network.
// ExternalReceiptId is the network receipt and the idempotency key:
// the unique index is what makes duplicate webhook deliveries collapse
// onto a single row.
type Transaction struct {
	ID                    int       `gorm:"primaryKey;autoIncrement" json:"id"`
	MerchantId            int       `gorm:"column:merchant_id;not null;index:idx_trx_merchant" json:"merchant_id"`
	ChannelId             *int      `gorm:"column:channel_id;index" json:"channel_id"`
	CustomerId            *int      `gorm:"column:customer_id;index" json:"customer_id"`
	ExternalReceiptId     string    `gorm:"column:external_receipt_id;size:100;not null;uniqueIndex" json:"external_receipt_id"`
	ExternalTransactionId string    `gorm:"column:external_transaction_id;size:100" json:"external_transaction_id"`
	Amount                float64   `gorm:"column:amount;type:decimal(20,2);not null" json:"amount"`
	CustomerPhone         string    `gorm:"column:customer_phone;size:20;not null;index" json:"customer_phone"`
	CustomerName          string    `gorm:"column:customer_name;size:255" json:"customer_name"`
	BillRef               string    `gorm:"column:bill_ref;size:100" json:"bill_ref"`
	ProgramAccount        string    `gorm:"column:program_account;size:100" json:"program_account"`
	Source                string    `gorm:"column:source;size:20" json:"source"` // webhook, poll, simulation
	TransactionDate       time.Time `gorm:"column:transaction_date;not null" json:"transaction_date"`
	LoyaltyProcessed      bool      `gorm:"column:loyalty_processed;default:false;index" json:"loyalty_processed"`
	LoyaltyPointsEarned   int       `gorm:"column:loyalty_points_earned;default:0" json:"loyalty_points_earned"`
	CreatedAt             time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Transaction) TableName() string {
	return "transactions"
}
