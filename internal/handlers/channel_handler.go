package handlers

import (
	"net/http"
	"strconv"

	"loyalty-service/internal/services"
	"loyalty-service/pkg/common"

	"github.com/gin-gonic/gin"
)

// ChannelHandler is the merchant-facing management surface for payment
// channels, one route per ChannelService operation.
type ChannelHandler struct {
	Channels *services.ChannelService
}

func NewChannelHandler(channels *services.ChannelService) *ChannelHandler {
	return &ChannelHandler{Channels: channels}
}

func (h *ChannelHandler) Create(c *gin.Context) {
	merchantId, ok := pathInt(c, "merchantId")
	if !ok {
		return
	}
	var dto services.ChannelDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	channel, err := h.Channels.CreateChannel(merchantId, dto)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, channel)
}

func (h *ChannelHandler) List(c *gin.Context) {
	merchantId, ok := pathInt(c, "merchantId")
	if !ok {
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	result, err := h.Channels.ListChannels(merchantId, page, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *ChannelHandler) Get(c *gin.Context) {
	merchantId, id, ok := pathMerchantChannel(c)
	if !ok {
		return
	}
	channel, err := h.Channels.GetChannel(merchantId, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, channel)
}

func (h *ChannelHandler) Update(c *gin.Context) {
	merchantId, id, ok := pathMerchantChannel(c)
	if !ok {
		return
	}
	var dto services.UpdateChannelDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	channel, err := h.Channels.UpdateChannel(merchantId, id, dto)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, channel)
}

func (h *ChannelHandler) Delete(c *gin.Context) {
	merchantId, id, ok := pathMerchantChannel(c)
	if !ok {
		return
	}
	if err := h.Channels.DeleteChannel(merchantId, id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, common.NewSuccessResponse(nil, "channel deleted"))
}

func (h *ChannelHandler) Verify(c *gin.Context) {
	merchantId, id, ok := pathMerchantChannel(c)
	if !ok {
		return
	}
	channel, err := h.Channels.Verify(c.Request.Context(), merchantId, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, channel)
}

func (h *ChannelHandler) RegisterUrls(c *gin.Context) {
	merchantId, id, ok := pathMerchantChannel(c)
	if !ok {
		return
	}
	channel, err := h.Channels.RegisterUrls(c.Request.Context(), merchantId, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, channel)
}

func (h *ChannelHandler) Activate(c *gin.Context) {
	merchantId, id, ok := pathMerchantChannel(c)
	if !ok {
		return
	}
	channel, err := h.Channels.Activate(merchantId, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, channel)
}

func (h *ChannelHandler) Deactivate(c *gin.Context) {
	merchantId, id, ok := pathMerchantChannel(c)
	if !ok {
		return
	}
	channel, err := h.Channels.Deactivate(merchantId, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, channel)
}

func (h *ChannelHandler) Status(c *gin.Context) {
	merchantId, id, ok := pathMerchantChannel(c)
	if !ok {
		return
	}
	status, err := h.Channels.Status(merchantId, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *ChannelHandler) Simulate(c *gin.Context) {
	merchantId, id, ok := pathMerchantChannel(c)
	if !ok {
		return
	}
	var dto services.SimulateDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resp, err := h.Channels.Simulate(c.Request.Context(), merchantId, id, dto)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func pathInt(c *gin.Context, name string) (int, bool) {
	v, err := strconv.Atoi(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return v, true
}

func pathMerchantChannel(c *gin.Context) (int, int, bool) {
	merchantId, ok := pathInt(c, "merchantId")
	if !ok {
		return 0, 0, false
	}
	id, ok := pathInt(c, "id")
	if !ok {
		return 0, 0, false
	}
	return merchantId, id, true
}
