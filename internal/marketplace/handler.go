package marketplace

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"stagepass/ticket-marketplace/marketplace-backend/internal/economics"
	"stagepass/ticket-marketplace/marketplace-backend/internal/ledger"
	"stagepass/ticket-marketplace/marketplace-backend/internal/orchestrator"
)

// Handler handles HTTP requests for marketplace operations
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new marketplace handler
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers marketplace routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	events := router.Group("/events")
	{
		events.POST("", h.publishEvent)
	}

	listings := router.Group("/listings")
	{
		listings.GET("", h.listListings)
		listings.POST("/:id/purchase", h.purchaseListing)
		listings.POST("/:id/resale", h.createResaleListing)
	}

	runs := router.Group("/runs")
	{
		runs.GET("/:id", h.getRun)
		runs.POST("/:id/resume", h.resumeRun)
	}

	quotes := router.Group("/quotes")
	{
		quotes.POST("/split", h.quoteSplit)
		quotes.POST("/tax", h.quoteTax)
	}
}

// publishEvent handles POST /api/v1/events
func (h *Handler) publishEvent(c *gin.Context) {
	var req PublishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.service.PublishEvent(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// purchaseListing handles POST /api/v1/listings/:id/purchase
func (h *Handler) purchaseListing(c *gin.Context) {
	listingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid listing id"})
		return
	}

	var req PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.ListingID = listingID

	resp, err := h.service.PurchaseListing(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// createResaleListing handles POST /api/v1/listings/:id/resale
func (h *Handler) createResaleListing(c *gin.Context) {
	listingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid listing id"})
		return
	}

	var req ResaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.ListingID = listingID

	resp, err := h.service.CreateResaleListing(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// listListings handles GET /api/v1/listings
func (h *Handler) listListings(c *gin.Context) {
	var status *ListingStatus
	if raw := c.Query("status"); raw != "" {
		s := ListingStatus(raw)
		status = &s
	}

	listings, err := h.service.repo.ListListings(c.Request.Context(), status, 100)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"listings": listings})
}

// getRun handles GET /api/v1/runs/:id
func (h *Handler) getRun(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return
	}

	rec, err := h.service.GetRun(c.Request.Context(), runID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, rec)
}

// resumeRun handles POST /api/v1/runs/:id/resume
func (h *Handler) resumeRun(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return
	}

	rec, err := h.service.ResumeRun(c.Request.Context(), runID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, rec)
}

// quoteSplit handles POST /api/v1/quotes/split
func (h *Handler) quoteSplit(c *gin.Context) {
	var req struct {
		AmountMinor int64                 `json:"amount_minor"`
		Split       economics.SplitConfig `json:"split"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	shares, err := h.service.QuoteSplit(req.AmountMinor, req.Split)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"shares": shares})
}

// quoteTax handles POST /api/v1/quotes/tax
func (h *Handler) quoteTax(c *gin.Context) {
	var req struct {
		AskingMinor   int64               `json:"asking_minor"`
		BaselineMinor int64               `json:"baseline_minor"`
		Tax           economics.TaxConfig `json:"tax"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tax, err := h.service.QuoteTax(req.AskingMinor, req.BaselineMinor, req.Tax)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"tax_minor": tax})
}

// respondError maps the error taxonomy onto HTTP statuses. Partial failures
// return the failing stage and the handles already created: those objects
// are permanent and the caller must be able to link them, not discard them.
func (h *Handler) respondError(c *gin.Context, err error) {
	var validation *orchestrator.ValidationError
	var partial *orchestrator.PartialFailureError
	var rejection *ledger.RejectionError
	var transient *ledger.TransientError

	switch {
	// Partial failures win: they may wrap a rejection or validation error,
	// but the caller needs the stage and handle context either way.
	case errors.As(err, &partial):
		c.JSON(http.StatusConflict, gin.H{
			"error":       err.Error(),
			"run_id":      partial.RunID,
			"stage_index": partial.StageIndex,
			"stage_id":    partial.StageID,
			"produced":    partial.Produced,
		})
	case errors.Is(err, economics.ErrInvalidConfiguration), errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &rejection):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": err.Error(),
			"code":  rejection.Code,
		})
	case errors.As(err, &transient):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, ErrNotFound), errors.Is(err, orchestrator.ErrRunNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		h.logger.Error("marketplace request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
