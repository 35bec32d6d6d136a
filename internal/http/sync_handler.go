package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

func (h *Handler) syncNewDeals(c *gin.Context) {
	result, err := h.sync.SyncNewDeals(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) syncDeal(c *gin.Context) {
	dealID, ok := pathID(c)
	if !ok {
		return
	}

	outcome, err := h.sync.SyncDeal(c.Request.Context(), dealID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deal_id": dealID, "outcome": outcome.String()})
}

func (h *Handler) importProducts(c *gin.Context) {
	count, err := h.sync.ImportProducts(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"imported": count})
}

func (h *Handler) importUsers(c *gin.Context) {
	count, err := h.sync.ImportUsers(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"imported": count})
}

func (h *Handler) importDealProducts(c *gin.Context) {
	result, err := h.sync.ImportAllDealProducts(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// The portal delivers outbound webhooks as form posts with the changed
// entity id under data[FIELDS][ID].
func webhookEntityID(c *gin.Context) (int64, bool) {
	raw := c.PostForm("data[FIELDS][ID]")
	if raw == "" {
		raw = c.Query("id")
	}
	if raw == "" {
		var body struct {
			Data struct {
				Fields struct {
					ID int64 `json:"ID"`
				} `json:"FIELDS"`
			} `json:"data"`
		}
		if err := c.ShouldBindJSON(&body); err == nil && body.Data.Fields.ID > 0 {
			return body.Data.Fields.ID, true
		}
		return 0, false
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
