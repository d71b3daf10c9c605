package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"loyalty-service/internal/models"
	"loyalty-service/pkg/common"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ChannelService owns per-merchant channel configuration and the
// channel state machine:
//
//	draft -> configured -> verified -> urls_registered -> active <-> suspended
//
// Verify/register failures are recorded on the channel (error_details)
// instead of being thrown past the caller, so a merchant can retry from
// the last stable state.
type ChannelService struct {
	DB      *gorm.DB
	Vault   *Vault
	Clients ClientFactory
}

func NewChannelService(db *gorm.DB, vault *Vault, factory ClientFactory) *ChannelService {
	return &ChannelService{DB: db, Vault: vault, Clients: factory}
}

type ChannelDTO struct {
	Shortcode      string               `json:"shortcode"`
	Type           string               `json:"type"`
	Environment    string               `json:"environment"`
	ConsumerKey    string               `json:"consumer_key"`
	ConsumerSecret string               `json:"consumer_secret"`
	AccountRules   []models.AccountRule `json:"account_rules"`
	CallbackUrl    string               `json:"callback_url"`
	ResponseType   string               `json:"response_type"`
	IsPrimary      bool                 `json:"is_primary"`
}

type UpdateChannelDTO struct {
	ConsumerKey    *string               `json:"consumer_key"`
	ConsumerSecret *string               `json:"consumer_secret"`
	AccountRules   *[]models.AccountRule `json:"account_rules"`
	CallbackUrl    *string               `json:"callback_url"`
	ResponseType   *string               `json:"response_type"`
	IsPrimary      *bool                 `json:"is_primary"`
}

type SimulateDTO struct {
	Amount        float64 `json:"amount"`
	Msisdn        string  `json:"msisdn"`
	BillRefNumber string  `json:"bill_ref_number"`
}

// ChannelStatusView is the read-only status summary for the
// presentation layer.
type ChannelStatusView struct {
	Id                 int        `json:"id"`
	Status             string     `json:"status"`
	IsPrimary          bool       `json:"is_primary"`
	Environment        string     `json:"environment"`
	LastVerifiedAt     *time.Time `json:"last_verified_at"`
	LastRegistrationAt *time.Time `json:"last_registration_at"`
	LastSyncedAt       *time.Time `json:"last_synced_at"`
	ErrorDetails       string     `json:"error_details"`
	Version            int        `json:"version"`
}

var validChannelTypes = map[string]bool{
	models.ChannelTypePaybill:  true,
	models.ChannelTypeTill:     true,
	models.ChannelTypeBuygoods: true,
}

func (s *ChannelService) CreateChannel(merchantId int, dto ChannelDTO) (*models.Channel, error) {
	if dto.Shortcode == "" {
		return nil, NewValidationError("shortcode is required")
	}
	if !validChannelTypes[dto.Type] {
		return nil, NewValidationError("invalid channel type %q", dto.Type)
	}
	if dto.Environment != models.EnvironmentSandbox && dto.Environment != models.EnvironmentProduction {
		return nil, NewValidationError("invalid environment %q", dto.Environment)
	}

	channel := models.Channel{
		MerchantId:   merchantId,
		Shortcode:    dto.Shortcode,
		Type:         dto.Type,
		Environment:  dto.Environment,
		CallbackUrl:  dto.CallbackUrl,
		ResponseType: dto.ResponseType,
		WebhookToken: uuid.New().String(),
		Status:       models.ChannelStatusDraft,
		IsPrimary:    dto.IsPrimary,
	}
	if channel.ResponseType == "" {
		channel.ResponseType = "Completed"
	}
	if err := channel.SetAccountRules(dto.AccountRules); err != nil {
		return nil, NewValidationError("invalid account rules: %v", err)
	}

	if dto.ConsumerKey != "" && dto.ConsumerSecret != "" {
		var err error
		if channel.ConsumerKey, err = s.Vault.Encrypt(dto.ConsumerKey); err != nil {
			return nil, err
		}
		if channel.ConsumerSecret, err = s.Vault.Encrypt(dto.ConsumerSecret); err != nil {
			return nil, err
		}
		// Key + secret present moves the channel straight past draft.
		channel.Status = models.ChannelStatusConfigured
	}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Channel{}).
			Where("merchant_id = ? AND shortcode = ?", merchantId, dto.Shortcode).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return NewBusinessLogicError("shortcode %s already exists for merchant %d", dto.Shortcode, merchantId)
		}
		if channel.IsPrimary {
			if err := s.demotePrimary(tx, merchantId); err != nil {
				return err
			}
		}
		return tx.Create(&channel).Error
	})
	if err != nil {
		return nil, err
	}
	return &channel, nil
}

func (s *ChannelService) GetChannel(merchantId, id int) (*models.Channel, error) {
	var channel models.Channel
	err := s.DB.Where("id = ? AND merchant_id = ?", id, merchantId).First(&channel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NewNotFoundError("channel", id)
	}
	if err != nil {
		return nil, err
	}
	return &channel, nil
}

// GetChannelById loads a channel without merchant scoping; used by the
// webhook endpoints where only the registered URL identifies the
// channel.
func (s *ChannelService) GetChannelById(id int) (*models.Channel, error) {
	var channel models.Channel
	err := s.DB.First(&channel, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NewNotFoundError("channel", id)
	}
	if err != nil {
		return nil, err
	}
	return &channel, nil
}

// GetChannelByShortcode resolves the channel a C2B event belongs to.
func (s *ChannelService) GetChannelByShortcode(shortcode string) (*models.Channel, error) {
	var channel models.Channel
	err := s.DB.Where("shortcode = ?", shortcode).First(&channel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NewNotFoundError("channel", shortcode)
	}
	if err != nil {
		return nil, err
	}
	return &channel, nil
}

func (s *ChannelService) ListChannels(merchantId, page, limit int) (common.PaginationResult, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	var total int64
	if err := s.DB.Model(&models.Channel{}).Where("merchant_id = ?", merchantId).Count(&total).Error; err != nil {
		return common.PaginationResult{}, err
	}

	var channels []models.Channel
	err := s.DB.Where("merchant_id = ?", merchantId).
		Order("id ASC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&channels).Error
	if err != nil {
		return common.PaginationResult{}, err
	}
	return common.PaginateResponse(channels, total, page, limit, ""), nil
}

func (s *ChannelService) UpdateChannel(merchantId, id int, dto UpdateChannelDTO) (*models.Channel, error) {
	channel, err := s.GetChannel(merchantId, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if dto.ConsumerKey != nil {
		enc, err := s.Vault.Encrypt(*dto.ConsumerKey)
		if err != nil {
			return nil, err
		}
		updates["consumer_key"] = enc
		channel.ConsumerKey = enc
	}
	if dto.ConsumerSecret != nil {
		enc, err := s.Vault.Encrypt(*dto.ConsumerSecret)
		if err != nil {
			return nil, err
		}
		updates["consumer_secret"] = enc
		channel.ConsumerSecret = enc
	}
	if dto.AccountRules != nil {
		if err := channel.SetAccountRules(*dto.AccountRules); err != nil {
			return nil, NewValidationError("invalid account rules: %v", err)
		}
		updates["account_mapping"] = channel.AccountMapping
	}
	if dto.CallbackUrl != nil {
		updates["callback_url"] = *dto.CallbackUrl
	}
	if dto.ResponseType != nil {
		updates["response_type"] = *dto.ResponseType
	}
	if channel.Status == models.ChannelStatusDraft && channel.ConsumerKey != "" && channel.ConsumerSecret != "" {
		updates["status"] = models.ChannelStatusConfigured
	}

	err = s.DB.Transaction(func(tx *gorm.DB) error {
		if dto.IsPrimary != nil && *dto.IsPrimary && !channel.IsPrimary {
			if err := s.demotePrimary(tx, merchantId); err != nil {
				return err
			}
			updates["is_primary"] = true
		}
		if dto.IsPrimary != nil && !*dto.IsPrimary {
			updates["is_primary"] = false
		}
		if len(updates) == 0 {
			return nil
		}
		return s.transition(tx, channel, updates)
	})
	if err != nil {
		return nil, err
	}
	return s.GetChannel(merchantId, id)
}

func (s *ChannelService) DeleteChannel(merchantId, id int) error {
	res := s.DB.Where("id = ? AND merchant_id = ?", id, merchantId).Delete(&models.Channel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return NewNotFoundError("channel", id)
	}
	return nil
}

// Verify checks the channel credentials against the live environment by
// acquiring a token. Success advances configured/error channels to
// verified; failure records error_details without advancing.
func (s *ChannelService) Verify(ctx context.Context, merchantId, id int) (*models.Channel, error) {
	channel, err := s.GetChannel(merchantId, id)
	if err != nil {
		return nil, err
	}
	switch channel.Status {
	case models.ChannelStatusDraft:
		return nil, NewBusinessLogicError("channel %d has no credentials to verify", id)
	case models.ChannelStatusSuspended:
		return nil, NewBusinessLogicError("channel %d is suspended", id)
	}

	client, err := s.clientFor(channel)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if _, err := client.GetToken(ctx); err != nil {
		return s.recordFailure(channel, "verify", err)
	}

	updates := map[string]interface{}{
		"last_verified_at": now,
		"error_details":    "",
	}
	if channel.Status == models.ChannelStatusConfigured || channel.Status == models.ChannelStatusError {
		updates["status"] = models.ChannelStatusVerified
	}
	if err := s.transition(s.DB, channel, updates); err != nil {
		return nil, err
	}
	return s.GetChannel(merchantId, id)
}

// RegisterUrls registers the confirmation/validation endpoints with the
// network. Requires a verified channel; success advances to
// urls_registered.
func (s *ChannelService) RegisterUrls(ctx context.Context, merchantId, id int) (*models.Channel, error) {
	channel, err := s.GetChannel(merchantId, id)
	if err != nil {
		return nil, err
	}
	switch channel.Status {
	case models.ChannelStatusVerified, models.ChannelStatusUrlsRegistered, models.ChannelStatusActive:
	default:
		return nil, NewBusinessLogicError("channel %d must be verified before registering URLs (status=%s)", id, channel.Status)
	}
	if channel.CallbackUrl == "" {
		return nil, NewValidationError("channel %d has no callback URL configured", id)
	}

	client, err := s.clientFor(channel)
	if err != nil {
		return nil, err
	}

	confirmationUrl := fmt.Sprintf("%s/webhooks/c2b/%d/confirmation", channel.CallbackUrl, channel.ID)
	validationUrl := fmt.Sprintf("%s/webhooks/c2b/%d/validation", channel.CallbackUrl, channel.ID)

	now := time.Now()
	_, err = client.RegisterURLs(ctx, RegisterURLsRequest{
		ShortCode:       channel.Shortcode,
		ResponseType:    channel.ResponseType,
		ConfirmationURL: confirmationUrl,
		ValidationURL:   validationUrl,
	})
	if err != nil {
		return s.recordFailure(channel, "register-urls", err)
	}

	updates := map[string]interface{}{
		"confirmation_url":     confirmationUrl,
		"validation_url":       validationUrl,
		"last_registration_at": now,
		"error_details":        "",
	}
	if channel.Status == models.ChannelStatusVerified {
		updates["status"] = models.ChannelStatusUrlsRegistered
	}
	if err := s.transition(s.DB, channel, updates); err != nil {
		return nil, err
	}
	return s.GetChannel(merchantId, id)
}

// Activate moves a urls_registered or suspended channel to active.
func (s *ChannelService) Activate(merchantId, id int) (*models.Channel, error) {
	return s.simpleTransition(merchantId, id, models.ChannelStatusActive,
		models.ChannelStatusUrlsRegistered, models.ChannelStatusSuspended)
}

// Deactivate suspends an active channel. Reversible via Activate.
func (s *ChannelService) Deactivate(merchantId, id int) (*models.Channel, error) {
	return s.simpleTransition(merchantId, id, models.ChannelStatusSuspended,
		models.ChannelStatusActive)
}

func (s *ChannelService) Status(merchantId, id int) (*ChannelStatusView, error) {
	channel, err := s.GetChannel(merchantId, id)
	if err != nil {
		return nil, err
	}
	return &ChannelStatusView{
		Id:                 channel.ID,
		Status:             channel.Status,
		IsPrimary:          channel.IsPrimary,
		Environment:        channel.Environment,
		LastVerifiedAt:     channel.LastVerifiedAt,
		LastRegistrationAt: channel.LastRegistrationAt,
		LastSyncedAt:       channel.LastSyncedAt,
		ErrorDetails:       channel.ErrorDetails,
		Version:            channel.Version,
	}, nil
}

// Simulate pushes a sandbox test payment through the network.
func (s *ChannelService) Simulate(ctx context.Context, merchantId, id int, dto SimulateDTO) (*SimulateResponse, error) {
	channel, err := s.GetChannel(merchantId, id)
	if err != nil {
		return nil, err
	}
	if channel.Environment != models.EnvironmentSandbox {
		return nil, NewBusinessLogicError("simulation is only available on sandbox channels")
	}
	if channel.Status == models.ChannelStatusDraft {
		return nil, NewBusinessLogicError("channel %d has no credentials", id)
	}
	if dto.Amount <= 0 {
		return nil, NewValidationError("amount must be positive")
	}
	msisdn, err := common.NormalizePhone(dto.Msisdn)
	if err != nil {
		return nil, NewValidationError("invalid msisdn: %v", err)
	}
	if dto.BillRefNumber == "" {
		// The validation webhook rejects payments without a bill ref,
		// so a blank simulation gets a generated one.
		dto.BillRefNumber = common.GenerateReference()
	}

	client, err := s.clientFor(channel)
	if err != nil {
		return nil, err
	}
	return client.SimulateC2B(ctx, SimulateRequest{
		ShortCode:     channel.Shortcode,
		CommandID:     "CustomerPayBillOnline",
		Amount:        fmt.Sprintf("%.2f", dto.Amount),
		Msisdn:        msisdn,
		BillRefNumber: dto.BillRefNumber,
	})
}

// ClientForChannel builds a protocol client from the channel's
// decrypted credentials. Plaintext lives only inside the client config.
func (s *ChannelService) ClientForChannel(channel *models.Channel) (ProtocolClient, error) {
	return s.clientFor(channel)
}

func (s *ChannelService) clientFor(channel *models.Channel) (ProtocolClient, error) {
	if channel.ConsumerKey == "" || channel.ConsumerSecret == "" {
		return nil, NewBusinessLogicError("channel %d has no credentials configured", channel.ID)
	}
	key, err := s.Vault.Decrypt(channel.ConsumerKey)
	if err != nil {
		return nil, fmt.Errorf("decrypting consumer key for channel %d: %w", channel.ID, err)
	}
	secret, err := s.Vault.Decrypt(channel.ConsumerSecret)
	if err != nil {
		return nil, fmt.Errorf("decrypting consumer secret for channel %d: %w", channel.ID, err)
	}
	return s.Clients(MpesaConfig{
		Environment:    channel.Environment,
		ConsumerKey:    key,
		ConsumerSecret: secret,
	}), nil
}

// recordFailure attaches a verify/register failure to the channel. An
// authentication failure keeps the current status so the merchant can
// fix credentials and retry; anything unexpected parks the channel in
// error without destroying its configuration.
func (s *ChannelService) recordFailure(channel *models.Channel, op string, cause error) (*models.Channel, error) {
	details := fmt.Sprintf("%s failed: %v", op, cause)
	log.Printf("Channel %d %s", channel.ID, details)

	updates := map[string]interface{}{"error_details": details}
	switch cause.(type) {
	case *MpesaAuthError, *MpesaRejectionError:
		// Last stable state is preserved.
	default:
		updates["status"] = models.ChannelStatusError
	}
	if err := s.transition(s.DB, channel, updates); err != nil {
		return nil, err
	}
	return s.GetChannel(channel.MerchantId, channel.ID)
}

func (s *ChannelService) simpleTransition(merchantId, id int, target string, allowedFrom ...string) (*models.Channel, error) {
	channel, err := s.GetChannel(merchantId, id)
	if err != nil {
		return nil, err
	}
	allowed := false
	for _, from := range allowedFrom {
		if channel.Status == from {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, NewBusinessLogicError("cannot move channel %d from %s to %s", id, channel.Status, target)
	}
	if err := s.transition(s.DB, channel, map[string]interface{}{"status": target}); err != nil {
		return nil, err
	}
	return s.GetChannel(merchantId, id)
}

// transition applies updates under an optimistic version check so
// concurrent admin actions cannot clobber each other.
func (s *ChannelService) transition(tx *gorm.DB, channel *models.Channel, updates map[string]interface{}) error {
	updates["version"] = channel.Version + 1
	res := tx.Model(&models.Channel{}).
		Where("id = ? AND version = ?", channel.ID, channel.Version).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &ConflictError{Message: fmt.Sprintf("channel %d was modified concurrently", channel.ID)}
	}
	channel.Version++
	return nil
}

// demotePrimary clears the primary flag on all of the merchant's
// channels; the caller promotes the new primary in the same unit of
// work so at most one primary ever exists.
func (s *ChannelService) demotePrimary(tx *gorm.DB, merchantId int) error {
	return tx.Model(&models.Channel{}).
		Where("merchant_id = ? AND is_primary = ?", merchantId, true).
		Update("is_primary", false).Error
}
