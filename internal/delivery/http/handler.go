package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/nutrimap/resolver/internal/domain"
	"github.com/nutrimap/resolver/internal/infrastructure/cache"
	"github.com/nutrimap/resolver/internal/usecase"
)

// maxBatchSize caps one batch request so a single call cannot monopolize the
// pipeline.
const maxBatchSize = 50

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	resolver *usecase.Resolver
	mappings *usecase.MappingStore
	results  *cache.ResultCache
	log      zerolog.Logger
}

// NewHandler creates a new HTTP handler.
func NewHandler(resolver *usecase.Resolver, mappings *usecase.MappingStore, results *cache.ResultCache, logger zerolog.Logger) *Handler {
	return &Handler{
		resolver: resolver,
		mappings: mappings,
		results:  results,
		log:      logger.With().Str("component", "http").Logger(),
	}
}

// HealthCheck returns the health status of the API.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"service":        "nutrimap-resolver",
		"cached_results": h.results.Size(),
	})
}

type resolveRequest struct {
	Ingredient string `json:"ingredient" binding:"required"`
}

type batchRequest struct {
	Ingredients []string `json:"ingredients" binding:"required"`
}

// Resolve maps one ingredient to a catalog food.
func (h *Handler) Resolve(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ingredient is required"})
		return
	}

	ingredient := strings.TrimSpace(req.Ingredient)
	if ingredient == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ingredient is required"})
		return
	}

	if record, ok := h.results.Get(ingredient); ok {
		h.log.Debug().Str("ingredient", ingredient).Msg("serving cached result")
		c.JSON(http.StatusOK, record)
		return
	}

	record := h.resolver.Resolve(c.Request.Context(), ingredient)
	if record.Resolved() {
		h.results.Set(ingredient, record)
	}
	c.JSON(http.StatusOK, record)
}

// ResolveBatch maps a small list of ingredients in one call.
func (h *Handler) ResolveBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Ingredients) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ingredients list is required"})
		return
	}
	if len(req.Ingredients) > maxBatchSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many ingredients in one request"})
		return
	}

	records := make([]*domain.ResultRecord, 0, len(req.Ingredients))
	for _, raw := range req.Ingredients {
		ingredient := strings.TrimSpace(raw)
		if record, ok := h.results.Get(ingredient); ok {
			records = append(records, record)
			continue
		}
		record := h.resolver.Resolve(c.Request.Context(), ingredient)
		if record.Resolved() {
			h.results.Set(ingredient, record)
		}
		records = append(records, record)
	}

	c.JSON(http.StatusOK, gin.H{"results": records})
}

type mappingRequest struct {
	Ingredient  string `json:"ingredient" binding:"required"`
	FdcID       int    `json:"fdc_id" binding:"required"`
	Description string `json:"description" binding:"required"`
	DataType    string `json:"data_type"`
	Notes       string `json:"notes"`
}

// SaveMapping adds or replaces a curated mapping. Curated entries override
// anything search found, so cached results are dropped.
func (h *Handler) SaveMapping(c *gin.Context) {
	var req mappingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ingredient, fdc_id and description are required"})
		return
	}

	entry := domain.MappingEntry{
		FdcID:       req.FdcID,
		Description: req.Description,
		DataType:    req.DataType,
		Verified:    true,
		Notes:       req.Notes,
	}
	if err := h.mappings.Save(req.Ingredient, entry); err != nil {
		h.log.Error().Err(err).Str("ingredient", req.Ingredient).Msg("failed to save curated mapping")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save mapping"})
		return
	}

	h.results.Clear()
	h.log.Info().Str("ingredient", req.Ingredient).Int("fdc_id", req.FdcID).Msg("curated mapping saved")
	c.JSON(http.StatusCreated, gin.H{"ingredient": req.Ingredient, "mapping": entry})
}
