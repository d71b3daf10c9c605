package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"loyalty-service/internal/models"
	"loyalty-service/pkg/common"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

const (
	webhookTimeLayout = "20060102150405"
	pollTimeLayout    = "2006-01-02 15:04:05"

	resultCodeAccepted       = "0"
	resultCodeInvalidBillRef = "C2B00012"

	pollPageSize        = 50
	pollInitialLookback = 24 * time.Hour
)

// Task types shared with internal/worker (duplicated to avoid an import
// cycle, as the worker package imports the consumers which import us).
const (
	TypeLoyaltyProcess = "loyalty-process"
	TypeChannelSync    = "channel-sync"
)

type LoyaltyTaskPayload struct {
	TransactionId int `json:"transactionId"`
}

type ChannelSyncTaskPayload struct {
	ChannelId int `json:"channelId"`
}

// C2BPayload is the network's webhook shape, shared by the validation
// and confirmation endpoints.
type C2BPayload struct {
	TransactionType   string      `json:"TransactionType"`
	TransID           string      `json:"TransID"`
	TransTime         string      `json:"TransTime"`
	TransAmount       json.Number `json:"TransAmount"`
	BusinessShortCode string      `json:"BusinessShortCode"`
	BillRefNumber     string      `json:"BillRefNumber"`
	ThirdPartyTransID string      `json:"ThirdPartyTransID"`
	MSISDN            string      `json:"MSISDN"`
	FirstName         string      `json:"FirstName"`
	MiddleName        string      `json:"MiddleName"`
	LastName          string      `json:"LastName"`
}

// ValidationResponse is the synchronous reply to a validation webhook.
type ValidationResponse struct {
	ResultCode        string `json:"ResultCode"`
	ResultDesc        string `json:"ResultDesc"`
	ThirdPartyTransID string `json:"ThirdPartyTransID,omitempty"`
}

// ConfirmationAck is the fixed acknowledgement for confirmations; the
// network gets it regardless of how internal processing goes.
type ConfirmationAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// PaymentRecord is the canonical form both entry points normalize into.
type PaymentRecord struct {
	ReceiptId     string
	TransactionId string
	Amount        float64
	Phone         string
	BillRef       string
	CustomerName  string
	PaidAt        time.Time
	Source        string // webhook or poll
}

// IngestionService reconciles external payment events into the ledger
// exactly once per receipt id, resolving or creating the customer on
// the way and handing the persisted row to the rewards engine.
type IngestionService struct {
	DB       *gorm.DB
	Channels *ChannelService
	Loyalty  *LoyaltyService
	Queue    *asynq.Client // nil in tests; loyalty retries then stay with the cron sweep
}

func NewIngestionService(db *gorm.DB, channels *ChannelService, loyalty *LoyaltyService, queue *asynq.Client) *IngestionService {
	return &IngestionService{DB: db, Channels: channels, Loyalty: loyalty, Queue: queue}
}

// ValidatePayment answers a pre-confirmation validation request. The
// only rejection the pipeline issues is a missing bill reference; a
// rejected payment leaves no side effects beyond the webhook log.
func (s *IngestionService) ValidatePayment(channel *models.Channel, payload C2BPayload) ValidationResponse {
	if strings.TrimSpace(payload.BillRefNumber) == "" {
		resp := ValidationResponse{
			ResultCode: resultCodeInvalidBillRef,
			ResultDesc: "Rejected",
		}
		s.logWebhook(channel, "validation", payload, resp, 0, payload.TransID)
		return resp
	}

	resp := ValidationResponse{
		ResultCode:        resultCodeAccepted,
		ResultDesc:        "Accepted",
		ThirdPartyTransID: uuid.New().String(),
	}
	s.logWebhook(channel, "validation", payload, resp, 1, payload.TransID)
	return resp
}

// ProcessConfirmation normalizes and ingests one confirmed payment.
// Called from the worker after the webhook was already acknowledged.
func (s *IngestionService) ProcessConfirmation(channelId int, payload C2BPayload) error {
	var channel models.Channel
	if err := s.DB.First(&channel, channelId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("confirmation for unknown channel %d: %w", channelId, asynq.SkipRetry)
		}
		return err
	}

	record, err := s.normalizeWebhook(payload)
	if err != nil {
		s.logWebhook(&channel, "confirmation", payload, map[string]string{"error": err.Error()}, 0, payload.TransID)
		return fmt.Errorf("malformed confirmation: %v: %w", err, asynq.SkipRetry)
	}

	trx, err := s.Ingest(&channel, record)
	if err != nil {
		s.logWebhook(&channel, "confirmation", payload, map[string]string{"error": err.Error()}, 0, record.ReceiptId)
		return err
	}

	s.logWebhook(&channel, "confirmation", payload, map[string]interface{}{"transaction_id": trx.ID}, 1, record.ReceiptId)
	return nil
}

// LogMalformedConfirmation records a confirmation body that did not
// parse. The network still receives the fixed acknowledgement, so the
// log entry is the only trace of the delivery.
func (s *IngestionService) LogMalformedConfirmation(channel *models.Channel, body []byte) {
	s.logWebhook(channel, "confirmation", string(body), map[string]string{"error": "malformed payload"}, 0, "")
}

// Ingest persists a normalized payment with at-most-once semantics per
// receipt id. The unique index on external_receipt_id is the true
// concurrency guard: simultaneous deliveries race to insert and the
// loser falls back to the update path.
func (s *IngestionService) Ingest(channel *models.Channel, record PaymentRecord) (*models.Transaction, error) {
	if record.ReceiptId == "" {
		return nil, NewValidationError("payment has no receipt id")
	}
	if record.Amount <= 0 {
		return nil, NewValidationError("payment amount must be positive, got %v", record.Amount)
	}

	var result *models.Transaction
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		existing, err := s.findByReceipt(tx, record.ReceiptId)
		if err != nil {
			return err
		}
		if existing != nil {
			result, err = s.updateExisting(tx, existing, record)
			return err
		}

		customer, err := s.resolveCustomer(tx, channel.MerchantId, record)
		if err != nil {
			return err
		}

		channelId := channel.ID
		trx := models.Transaction{
			MerchantId:            channel.MerchantId,
			ChannelId:             &channelId,
			CustomerId:            &customer.ID,
			ExternalReceiptId:     record.ReceiptId,
			ExternalTransactionId: record.TransactionId,
			Amount:                record.Amount,
			CustomerPhone:         record.Phone,
			CustomerName:          record.CustomerName,
			BillRef:               record.BillRef,
			ProgramAccount:        channel.MatchAccount(record.BillRef),
			Source:                record.Source,
			TransactionDate:       record.PaidAt,
		}
		if err := tx.Create(&trx).Error; err != nil {
			if isDuplicateKeyError(err) {
				// Lost the insert race; the winner's row is authoritative.
				existing, ferr := s.findByReceipt(tx, record.ReceiptId)
				if ferr != nil {
					return ferr
				}
				if existing == nil {
					return err
				}
				result, err = s.updateExisting(tx, existing, record)
				return err
			}
			return err
		}

		now := record.PaidAt
		if err := tx.Model(&models.Customer{}).Where("id = ?", customer.ID).Updates(map[string]interface{}{
			"transaction_count": gorm.Expr("transaction_count + 1"),
			"total_spent":       gorm.Expr("total_spent + ?", record.Amount),
			"last_seen_at":      now,
		}).Error; err != nil {
			return err
		}

		result = &trx
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Rewards run after the insert committed; a failure here never
	// corrupts the transaction row, loyalty_processed stays false and
	// the record is retried asynchronously.
	if !result.LoyaltyProcessed {
		if _, err := s.Loyalty.ProcessTransaction(result); err != nil {
			log.Printf("Loyalty processing failed for transaction %d (receipt %s): %v", result.ID, result.ExternalReceiptId, err)
			s.enqueueLoyaltyRetry(result.ID)
		}
	}
	return result, nil
}

// SyncChannel pulls settled payments from the network between the
// channel's cursor and now, page by page. The cursor advances after
// every fully ingested page, so cancellation between pages resumes
// safely.
func (s *IngestionService) SyncChannel(ctx context.Context, channel *models.Channel) error {
	if channel.Status != models.ChannelStatusActive {
		return NewBusinessLogicError("channel %d is not active (status=%s)", channel.ID, channel.Status)
	}

	client, err := s.Channels.ClientForChannel(channel)
	if err != nil {
		return err
	}

	window := PollWindow{From: time.Now().Add(-pollInitialLookback), To: time.Now()}
	if channel.LastSyncedAt != nil {
		window.From = *channel.LastSyncedAt
	}
	cursor := window.From

	for page := 1; ; page++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batch, err := client.FetchTransactions(ctx, channel.Shortcode, window, page, pollPageSize)
		if err != nil {
			s.logWebhook(channel, "poll", map[string]interface{}{"page": page}, map[string]string{"error": err.Error()}, 0, "")
			return err
		}

		for _, item := range batch.Payments {
			record, err := s.normalizePolled(item)
			if err != nil {
				log.Printf("Skipping malformed polled payment %s on channel %d: %v", item.ReceiptId, channel.ID, err)
				continue
			}
			if _, err := s.Ingest(channel, record); err != nil {
				return err
			}
			if record.PaidAt.After(cursor) {
				cursor = record.PaidAt
			}
		}

		if err := s.saveCursor(channel, cursor); err != nil {
			return err
		}
		if len(batch.Payments) < pollPageSize {
			break
		}
	}

	// Completed window; the next sync starts from its upper bound.
	return s.saveCursor(channel, window.To)
}

// SyncActiveChannels runs a poll cycle over every active channel.
// One channel's failure never blocks the others.
func (s *IngestionService) SyncActiveChannels(ctx context.Context) {
	var channels []models.Channel
	if err := s.DB.Where("status = ?", models.ChannelStatusActive).Find(&channels).Error; err != nil {
		log.Printf("Error loading active channels for sync: %v", err)
		return
	}
	for i := range channels {
		if err := s.SyncChannel(ctx, &channels[i]); err != nil {
			log.Printf("Sync failed for channel %d: %v", channels[i].ID, err)
		}
	}
}

// EnqueueChannelSyncs fans one sync task per active channel out to the
// worker, which runs the poll loops under its task context. Without a
// queue client the sync runs inline instead.
func (s *IngestionService) EnqueueChannelSyncs(ctx context.Context) {
	if s.Queue == nil {
		s.SyncActiveChannels(ctx)
		return
	}

	var channels []models.Channel
	if err := s.DB.Where("status = ?", models.ChannelStatusActive).Find(&channels).Error; err != nil {
		log.Printf("Error loading active channels for sync: %v", err)
		return
	}
	for i := range channels {
		payload, err := json.Marshal(ChannelSyncTaskPayload{ChannelId: channels[i].ID})
		if err != nil {
			continue
		}
		task := asynq.NewTask(TypeChannelSync, payload)
		if _, err := s.Queue.Enqueue(task, asynq.Queue("low"), asynq.MaxRetry(3)); err != nil {
			log.Printf("Failed to enqueue sync for channel %d: %v", channels[i].ID, err)
		}
	}
}

// StartScheduler schedules a sync of every active channel every 10
// minutes.
func (s *IngestionService) StartScheduler() {
	c := cron.New()
	_, err := c.AddFunc("*/10 * * * *", func() {
		log.Println("Running scheduled channel sync...")
		s.EnqueueChannelSyncs(context.Background())
	})
	if err != nil {
		log.Printf("Error scheduling channel sync: %v", err)
		return
	}
	c.Start()
	log.Println("IngestionService Scheduler started (Every 10 minutes)")
}

func (s *IngestionService) normalizeWebhook(payload C2BPayload) (PaymentRecord, error) {
	amount, err := payload.TransAmount.Float64()
	if err != nil {
		return PaymentRecord{}, fmt.Errorf("invalid amount %q", payload.TransAmount.String())
	}
	phone, err := common.NormalizePhone(payload.MSISDN)
	if err != nil {
		return PaymentRecord{}, fmt.Errorf("invalid msisdn: %v", err)
	}

	paidAt := time.Now()
	if t, err := time.ParseInLocation(webhookTimeLayout, payload.TransTime, time.Local); err == nil {
		paidAt = t
	}

	return PaymentRecord{
		ReceiptId:     payload.TransID,
		TransactionId: payload.ThirdPartyTransID,
		Amount:        amount,
		Phone:         phone,
		BillRef:       payload.BillRefNumber,
		CustomerName:  common.JoinName(payload.FirstName, payload.MiddleName, payload.LastName),
		PaidAt:        paidAt,
		Source:        "webhook",
	}, nil
}

func (s *IngestionService) normalizePolled(item HistoricalPayment) (PaymentRecord, error) {
	var amount float64
	if _, err := fmt.Sscanf(item.Amount, "%f", &amount); err != nil {
		return PaymentRecord{}, fmt.Errorf("invalid amount %q", item.Amount)
	}
	phone, err := common.NormalizePhone(item.Msisdn)
	if err != nil {
		return PaymentRecord{}, fmt.Errorf("invalid msisdn: %v", err)
	}

	paidAt := time.Now()
	if t, err := time.ParseInLocation(pollTimeLayout, item.PaidAt, time.Local); err == nil {
		paidAt = t
	}

	return PaymentRecord{
		ReceiptId:     item.ReceiptId,
		TransactionId: item.TransactionId,
		Amount:        amount,
		Phone:         phone,
		BillRef:       item.BillRefNumber,
		CustomerName:  common.JoinName(item.FirstName, item.MiddleName, item.LastName),
		PaidAt:        paidAt,
		Source:        "poll",
	}, nil
}

func (s *IngestionService) findByReceipt(tx *gorm.DB, receiptId string) (*models.Transaction, error) {
	var trx models.Transaction
	err := tx.Where("external_receipt_id = ?", receiptId).First(&trx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &trx, nil
}

// updateExisting refreshes the mutable fields of an already ingested
// receipt. The receipt id and loyalty fields are never touched here.
func (s *IngestionService) updateExisting(tx *gorm.DB, existing *models.Transaction, record PaymentRecord) (*models.Transaction, error) {
	updates := map[string]interface{}{
		"amount":           record.Amount,
		"customer_phone":   record.Phone,
		"bill_ref":         record.BillRef,
		"transaction_date": record.PaidAt,
	}
	if record.CustomerName != "" {
		updates["customer_name"] = record.CustomerName
	}
	if record.TransactionId != "" {
		updates["external_transaction_id"] = record.TransactionId
	}
	if err := tx.Model(&models.Transaction{}).Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
		return nil, err
	}

	var fresh models.Transaction
	if err := tx.First(&fresh, existing.ID).Error; err != nil {
		return nil, err
	}
	return &fresh, nil
}

// resolveCustomer finds or lazily creates the customer for a payment.
// Creation races fall back to the lookup, mirroring the receipt-id
// compare-and-insert.
func (s *IngestionService) resolveCustomer(tx *gorm.DB, merchantId int, record PaymentRecord) (*models.Customer, error) {
	var customer models.Customer
	err := tx.Where("merchant_id = ? AND phone = ?", merchantId, record.Phone).First(&customer).Error
	if err == nil {
		if record.CustomerName != "" && customer.Name == "" {
			tx.Model(&models.Customer{}).Where("id = ?", customer.ID).Update("name", record.CustomerName)
		}
		return &customer, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	customer = models.Customer{
		MerchantId:  merchantId,
		Phone:       record.Phone,
		Name:        record.CustomerName,
		LoyaltyTier: models.TierBronze,
	}
	if err := tx.Create(&customer).Error; err != nil {
		if isDuplicateKeyError(err) {
			var winner models.Customer
			if ferr := tx.Where("merchant_id = ? AND phone = ?", merchantId, record.Phone).First(&winner).Error; ferr == nil {
				return &winner, nil
			}
		}
		return nil, err
	}
	return &customer, nil
}

func (s *IngestionService) saveCursor(channel *models.Channel, cursor time.Time) error {
	if err := s.DB.Model(&models.Channel{}).Where("id = ?", channel.ID).
		UpdateColumn("last_synced_at", cursor).Error; err != nil {
		return err
	}
	channel.LastSyncedAt = &cursor
	return nil
}

func (s *IngestionService) enqueueLoyaltyRetry(transactionId int) {
	if s.Queue == nil {
		return
	}
	payload, err := json.Marshal(LoyaltyTaskPayload{TransactionId: transactionId})
	if err != nil {
		return
	}
	task := asynq.NewTask(TypeLoyaltyProcess, payload)
	if _, err := s.Queue.Enqueue(task, asynq.MaxRetry(5), asynq.ProcessIn(time.Minute)); err != nil {
		log.Printf("Failed to enqueue loyalty retry for transaction %d: %v", transactionId, err)
	}
}

func (s *IngestionService) logWebhook(channel *models.Channel, requestType string, request, response interface{}, status int, receiptId string) {
	reqBytes, _ := json.Marshal(request)
	respBytes, _ := json.Marshal(response)
	entry := models.WebhookLog{
		MerchantId:  channel.MerchantId,
		ChannelId:   channel.ID,
		RequestType: requestType,
		Request:     string(reqBytes),
		Response:    string(respBytes),
		Status:      status,
		ReceiptId:   receiptId,
	}
	s.DB.Create(&entry)
}

func isDuplicateKeyError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "Duplicate entry") ||
		strings.Contains(err.Error(), "UNIQUE constraint failed")
}
