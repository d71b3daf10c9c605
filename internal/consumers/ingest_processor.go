package consumers

import (
	"context"
	"errors"
	"fmt"

	"loyalty-service/internal/models"
	"loyalty-service/internal/services"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"
)

// IngestProcessor executes the queued work: confirmation ingestion,
// loyalty retries and channel poll syncs.
type IngestProcessor struct {
	DB        *gorm.DB
	Ingestion *services.IngestionService
	Loyalty   *services.LoyaltyService
}

func NewIngestProcessor(db *gorm.DB, ingestion *services.IngestionService, loyalty *services.LoyaltyService) *IngestProcessor {
	return &IngestProcessor{DB: db, Ingestion: ingestion, Loyalty: loyalty}
}

// --- DTOs ---

type ConfirmationDTO struct {
	ChannelId int                 `json:"channelId"`
	Payload   services.C2BPayload `json:"payload"`
}

type LoyaltyDTO struct {
	TransactionId int `json:"transactionId"`
}

type ChannelSyncDTO struct {
	ChannelId int `json:"channelId"`
}

func (p *IngestProcessor) ProcessConfirmation(dto ConfirmationDTO) error {
	return p.Ingestion.ProcessConfirmation(dto.ChannelId, dto.Payload)
}

func (p *IngestProcessor) ProcessLoyalty(dto LoyaltyDTO) error {
	var trx models.Transaction
	if err := p.DB.First(&trx, dto.TransactionId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("transaction %d vanished: %w", dto.TransactionId, asynq.SkipRetry)
		}
		return err
	}
	if trx.LoyaltyProcessed {
		return nil
	}
	_, err := p.Loyalty.ProcessTransaction(&trx)
	return err
}

func (p *IngestProcessor) ProcessChannelSync(ctx context.Context, dto ChannelSyncDTO) error {
	var channel models.Channel
	if err := p.DB.First(&channel, dto.ChannelId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("channel %d vanished: %w", dto.ChannelId, asynq.SkipRetry)
		}
		return err
	}
	return p.Ingestion.SyncChannel(ctx, &channel)
}
