package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/adilzhan/dealsync/internal/crm"
	"github.com/adilzhan/dealsync/internal/service"
)

type Handler struct {
	workflow *service.WorkflowService
	sync     *service.SyncService
	users    *service.UserService
	reports  *service.ReportService
	log      zerolog.Logger
}

func NewHandler(workflow *service.WorkflowService, sync *service.SyncService, users *service.UserService, reports *service.ReportService, log zerolog.Logger) *Handler {
	return &Handler{
		workflow: workflow,
		sync:     sync,
		users:    users,
		reports:  reports,
		log:      log,
	}
}

func (h *Handler) Register(router *gin.Engine, authMiddleware gin.HandlerFunc) {
	router.POST("/auth/register", h.register)
	router.POST("/auth/login", h.login)

	webhooks := router.Group("/webhooks")
	webhooks.POST("/deal-created", h.dealCreated)
	webhooks.POST("/deal-updated", h.dealUpdated)
	webhooks.POST("/deal-deleted", h.dealDeleted)
	webhooks.POST("/product-created", h.productCreated)

	protected := router.Group("/")
	protected.Use(authMiddleware)

	protected.GET("/deals/installer", h.installerDeals)
	protected.GET("/deals/warehouse/fill", h.warehouseFill)
	protected.GET("/deals/warehouse/watch", h.warehouseWatch)
	protected.POST("/deals/:id/given", h.setGivenAmounts)
	protected.POST("/deals/:id/fact", h.setFactAmounts)
	protected.POST("/deals/:id/fail", h.failDeal)
	protected.POST("/deals/:id/assign", h.assignDeal)
	protected.POST("/deals/:id/approve", h.approveDeal)
	protected.POST("/deals/:id/deny", h.denyDeal)
	protected.POST("/deals/:id/lose", h.loseDeal)
	protected.POST("/deals/:id/comment", h.commentDeal)
	protected.POST("/deals/:id/complete-task", h.completeWorkTask)
	protected.DELETE("/deals/:id", h.deleteDeal)

	protected.GET("/products", h.listProducts)

	protected.GET("/users", h.listUsers)
	protected.GET("/users/installers", h.listInstallers)
	protected.POST("/users/:id/city", h.setUserCity)
	protected.DELETE("/users/:id", h.deleteUser)

	protected.POST("/sync/deals", h.syncNewDeals)
	protected.POST("/sync/deals/:id", h.syncDeal)
	protected.POST("/sync/products", h.importProducts)
	protected.POST("/sync/users", h.importUsers)
	protected.POST("/sync/deal-products", h.importDealProducts)

	protected.POST("/reports/materials/export", h.exportMaterials)
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, service.ErrMissingProductID):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, crm.ErrTransport):
		h.log.Error().Err(err).Msg("crm call failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "crm unavailable"})
	default:
		h.log.Error().Err(err).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}
