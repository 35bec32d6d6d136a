package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Webhook handlers answer 200 even on sync failure: the portal retries
// delivery on errors, and a broken deal would wedge the queue. Failures
// are logged and recovered by the next sweep.

func (h *Handler) dealCreated(c *gin.Context) {
	dealID, ok := webhookEntityID(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing entity id"})
		return
	}

	if _, err := h.sync.HandleDealCreated(c.Request.Context(), dealID); err != nil {
		h.log.Error().Err(err).Int64("deal_id", dealID).Msg("deal-created webhook sync failed")
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) dealUpdated(c *gin.Context) {
	dealID, ok := webhookEntityID(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing entity id"})
		return
	}

	if _, err := h.sync.SyncDeal(c.Request.Context(), dealID); err != nil {
		h.log.Error().Err(err).Int64("deal_id", dealID).Msg("deal-updated webhook sync failed")
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) dealDeleted(c *gin.Context) {
	dealID, ok := webhookEntityID(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing entity id"})
		return
	}

	if err := h.sync.HandleDealDeleted(c.Request.Context(), dealID); err != nil {
		h.log.Error().Err(err).Int64("deal_id", dealID).Msg("deal-deleted webhook failed")
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) productCreated(c *gin.Context) {
	productID, ok := webhookEntityID(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing entity id"})
		return
	}

	if err := h.sync.SyncProduct(c.Request.Context(), productID); err != nil {
		h.log.Error().Err(err).Int64("product_id", productID).Msg("product-created webhook failed")
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
