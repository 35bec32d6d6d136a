package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/adilzhan/dealsync/internal/http/middleware"
	"github.com/adilzhan/dealsync/internal/service"
)

func (h *Handler) installerDeals(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}

	deals, err := h.workflow.InstallerDeals(c.Request.Context(), principal)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deals": deals})
}

func (h *Handler) warehouseFill(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}

	deals, err := h.workflow.WarehouseFillPanel(c.Request.Context(), principal)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deals": deals})
}

func (h *Handler) warehouseWatch(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}

	deals, err := h.workflow.WarehouseWatchPanel(c.Request.Context(), principal)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deals": deals})
}

type setGivenRequest struct {
	InstallerID int64                   `json:"installer_id" binding:"required"`
	Amounts     []service.QuantityInput `json:"amounts" binding:"required"`
}

func (h *Handler) setGivenAmounts(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}
	dealID, ok := pathID(c)
	if !ok {
		return
	}

	var req setGivenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.workflow.SetGivenAmounts(c.Request.Context(), principal, dealID, req.InstallerID, req.Amounts); err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type setFactRequest struct {
	Amounts      []service.QuantityInput `json:"amounts" binding:"required"`
	ServicePrice *float64                `json:"service_price"`
}

func (h *Handler) setFactAmounts(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}
	dealID, ok := pathID(c)
	if !ok {
		return
	}

	var req setFactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.workflow.SetFactAmounts(c.Request.Context(), principal, dealID, req.Amounts, req.ServicePrice); err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type commentRequest struct {
	Comment string `json:"comment"`
}

func (h *Handler) failDeal(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}
	dealID, ok := pathID(c)
	if !ok {
		return
	}

	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.workflow.FailDeal(c.Request.Context(), principal, dealID, req.Comment); err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type assignRequest struct {
	InstallerID int64 `json:"installer_id" binding:"required"`
}

func (h *Handler) assignDeal(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}
	dealID, ok := pathID(c)
	if !ok {
		return
	}

	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.workflow.AssignDeal(c.Request.Context(), principal, dealID, req.InstallerID); err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) approveDeal(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}
	dealID, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.workflow.ApproveDeal(c.Request.Context(), principal, dealID); err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) denyDeal(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}
	dealID, ok := pathID(c)
	if !ok {
		return
	}

	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.workflow.DenyDeal(c.Request.Context(), principal, dealID, req.Comment); err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) loseDeal(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}
	dealID, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.workflow.LoseDeal(c.Request.Context(), principal, dealID); err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) commentDeal(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}
	dealID, ok := pathID(c)
	if !ok {
		return
	}

	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.workflow.CommentDeal(c.Request.Context(), principal, dealID, req.Comment); err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) completeWorkTask(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}
	dealID, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.workflow.CompleteWorkTask(c.Request.Context(), principal, dealID); err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) deleteDeal(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}
	dealID, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.workflow.DeleteDeal(c.Request.Context(), principal, dealID); err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) listProducts(c *gin.Context) {
	products, err := h.workflow.ListProducts(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (h *Handler) exportMaterials(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}

	content, err := h.reports.MaterialReport(c.Request.Context(), principal)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.Header("Content-Disposition", "attachment; filename=\"materials.xlsx\"")
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", content)
}
