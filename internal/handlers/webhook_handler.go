package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"loyalty-service/internal/consumers"
	"loyalty-service/internal/models"
	"loyalty-service/internal/services"
	"loyalty-service/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
)

// WebhookHandler terminates the network's C2B callbacks. Validation is
// answered synchronously; confirmations are acknowledged immediately
// and processed by the worker.
type WebhookHandler struct {
	Channels  *services.ChannelService
	Ingestion *services.IngestionService
	Queue     *asynq.Client
}

func NewWebhookHandler(channels *services.ChannelService, ingestion *services.IngestionService, queue *asynq.Client) *WebhookHandler {
	return &WebhookHandler{Channels: channels, Ingestion: ingestion, Queue: queue}
}

func (h *WebhookHandler) Validation(c *gin.Context) {
	channel, ok := h.authenticate(c)
	if !ok {
		return
	}

	var payload services.C2BPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}

	c.JSON(http.StatusOK, h.Ingestion.ValidatePayment(channel, payload))
}

// Confirmation always acknowledges with the fixed success envelope;
// the payment is reconciled asynchronously and idempotently. A body
// that does not parse is logged and acked, never rejected: the network
// retries rejected confirmations and the payload will not get better.
func (h *WebhookHandler) Confirmation(c *gin.Context) {
	channel, ok := h.authenticate(c)
	if !ok {
		return
	}

	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusOK, services.ConfirmationAck{ResultCode: 0, ResultDesc: "Success"})
		return
	}
	var payload services.C2BPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.Ingestion.LogMalformedConfirmation(channel, raw)
		c.JSON(http.StatusOK, services.ConfirmationAck{ResultCode: 0, ResultDesc: "Success"})
		return
	}

	enqueued := false
	if h.Queue != nil {
		task, err := worker.NewC2BConfirmationTask(consumers.ConfirmationDTO{
			ChannelId: channel.ID,
			Payload:   payload,
		})
		if err == nil {
			if _, err := h.Queue.Enqueue(task, asynq.Queue("critical"), asynq.MaxRetry(10)); err == nil {
				enqueued = true
			} else {
				log.Printf("Failed to enqueue confirmation for channel %d: %v", channel.ID, err)
			}
		}
	}
	if !enqueued {
		// Queue unavailable; process inline rather than drop the event.
		if err := h.Ingestion.ProcessConfirmation(channel.ID, payload); err != nil {
			log.Printf("Inline confirmation processing failed for channel %d: %v", channel.ID, err)
		}
	}

	c.JSON(http.StatusOK, services.ConfirmationAck{ResultCode: 0, ResultDesc: "Success"})
}

// authenticate resolves the channel from the URL and, for production
// channels, checks the per-channel shared secret.
func (h *WebhookHandler) authenticate(c *gin.Context) (*models.Channel, bool) {
	channelId, err := strconv.Atoi(c.Param("channelId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel id"})
		return nil, false
	}

	channel, err := h.Channels.GetChannelById(channelId)
	if err != nil {
		respondError(c, err)
		return nil, false
	}

	if channel.Environment == models.EnvironmentProduction && channel.WebhookToken != "" {
		if c.GetHeader("X-Webhook-Token") != channel.WebhookToken {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook token"})
			return nil, false
		}
	}
	return channel, true
}
