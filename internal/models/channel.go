package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Channel statuses. Transitions are owned by services.ChannelService.
const (
	ChannelStatusDraft          = "draft"
	ChannelStatusConfigured     = "configured"
	ChannelStatusVerified       = "verified"
	ChannelStatusUrlsRegistered = "urls_registered"
	ChannelStatusActive         = "active"
	ChannelStatusSuspended      = "suspended"
	ChannelStatusError          = "error"
)

const (
	ChannelTypePaybill  = "paybill"
	ChannelTypeTill     = "till"
	ChannelTypeBuygoods = "buygoods"

	EnvironmentSandbox    = "sandbox"
	EnvironmentProduction = "production"
)

// Channel is a merchant's configured connection to one shortcode on the
// mobile-money network. ConsumerKey and ConsumerSecret are stored
// encrypted; only services.Vault touches the plaintext.
type Channel struct {
	ID                 int        `gorm:"primaryKey;autoIncrement" json:"id"`
	MerchantId         int        `gorm:"column:merchant_id;not null;index;uniqueIndex:idx_merchant_shortcode" json:"merchant_id"`
	Shortcode          string     `gorm:"column:shortcode;size:20;not null;uniqueIndex:idx_merchant_shortcode" json:"shortcode"`
	Type               string     `gorm:"column:type;size:20;not null" json:"type"`
	Environment        string     `gorm:"column:environment;size:20;not null;default:sandbox" json:"environment"`
	ConsumerKey        string     `gorm:"column:consumer_key;type:longtext" json:"-"`
	ConsumerSecret     string     `gorm:"column:consumer_secret;type:longtext" json:"-"`
	AccountMapping     string     `gorm:"column:account_mapping;type:longtext" json:"account_mapping"`
	ValidationUrl      string     `gorm:"column:validation_url;size:255" json:"validation_url"`
	ConfirmationUrl    string     `gorm:"column:confirmation_url;size:255" json:"confirmation_url"`
	CallbackUrl        string     `gorm:"column:callback_url;size:255" json:"callback_url"`
	ResponseType       string     `gorm:"column:response_type;size:20;default:Completed" json:"response_type"`
	WebhookToken       string     `gorm:"column:webhook_token;size:255" json:"-"`
	Status             string     `gorm:"column:status;size:30;default:draft;index" json:"status"`
	IsPrimary          bool       `gorm:"column:is_primary;default:false" json:"is_primary"`
	Version            int        `gorm:"column:version;default:1" json:"version"`
	LastVerifiedAt     *time.Time `gorm:"column:last_verified_at" json:"last_verified_at"`
	LastRegistrationAt *time.Time `gorm:"column:last_registration_at" json:"last_registration_at"`
	LastSyncedAt       *time.Time `gorm:"column:last_synced_at" json:"last_synced_at"`
	ErrorDetails       string     `gorm:"column:error_details;type:text" json:"error_details"`
	CreatedAt          time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Channel) TableName() string {
	return "channels"
}

// AccountRule maps a bill-reference prefix to a loyalty program account
// label. Rules are ordered; the first match wins.
type AccountRule struct {
	Pattern string `json:"pattern"`
	Account string `json:"account"`
}

func (c *Channel) AccountRules() []AccountRule {
	if c.AccountMapping == "" {
		return nil
	}
	var rules []AccountRule
	if err := json.Unmarshal([]byte(c.AccountMapping), &rules); err != nil {
		return nil
	}
	return rules
}

func (c *Channel) SetAccountRules(rules []AccountRule) error {
	data, err := json.Marshal(rules)
	if err != nil {
		return err
	}
	c.AccountMapping = string(data)
	return nil
}

// MatchAccount returns the program account for a bill reference, or ""
// when no rule matches. A rule with pattern "*" matches everything.
func (c *Channel) MatchAccount(billRef string) string {
	for _, rule := range c.AccountRules() {
		if rule.Pattern == "*" || strings.HasPrefix(billRef, rule.Pattern) {
			return rule.Account
		}
	}
	return ""
}
