package handlers

import (
	"net/http"
	"strconv"

	"loyalty-service/internal/services"

	"github.com/gin-gonic/gin"
)

// LoyaltyHandler exposes program/campaign configuration and the
// customer-facing loyalty and reward operations.
type LoyaltyHandler struct {
	Loyalty *services.LoyaltyService
}

func NewLoyaltyHandler(loyalty *services.LoyaltyService) *LoyaltyHandler {
	return &LoyaltyHandler{Loyalty: loyalty}
}

func (h *LoyaltyHandler) CreateProgram(c *gin.Context) {
	merchantId, ok := pathInt(c, "merchantId")
	if !ok {
		return
	}
	var dto services.ProgramDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	program, err := h.Loyalty.CreateProgram(merchantId, dto)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, program)
}

func (h *LoyaltyHandler) GetActiveProgram(c *gin.Context) {
	merchantId, ok := pathInt(c, "merchantId")
	if !ok {
		return
	}
	program, err := h.Loyalty.GetActiveProgram(merchantId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, program)
}

func (h *LoyaltyHandler) CreateCampaign(c *gin.Context) {
	merchantId, ok := pathInt(c, "merchantId")
	if !ok {
		return
	}
	var dto services.CampaignDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	campaign, err := h.Loyalty.CreateCampaign(merchantId, dto)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, campaign)
}

func (h *LoyaltyHandler) CustomerStatus(c *gin.Context) {
	customerId, ok := pathInt(c, "customerId")
	if !ok {
		return
	}
	view, err := h.Loyalty.CustomerStatus(customerId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *LoyaltyHandler) ListRewards(c *gin.Context) {
	customerId, ok := pathInt(c, "customerId")
	if !ok {
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	result, err := h.Loyalty.ListRewards(customerId, page, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *LoyaltyHandler) Redeem(c *gin.Context) {
	customerId, ok := pathInt(c, "customerId")
	if !ok {
		return
	}
	rewardId, ok := pathInt(c, "rewardId")
	if !ok {
		return
	}
	reward, err := h.Loyalty.Redeem(rewardId, customerId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, reward)
}
