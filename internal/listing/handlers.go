package listing

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mdade/swapvault/internal/inventory"
)

// Handler provides HTTP endpoints for listings.
type Handler struct {
	registry *Registry
}

// NewHandler creates a new listing handler.
func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

// RegisterRoutes sets up listing routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/listings", h.Open)
	r.GET("/listings", h.ListActive)
	r.GET("/listings/:id", h.Get)
	r.POST("/listings/:id/close", h.Close)
	r.GET("/users/:id/listings", h.ListByOwner)
}

// Open handles POST /v1/listings
func (h *Handler) Open(c *gin.Context) {
	var req OpenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	callerID := c.GetString("userID")
	l, err := h.registry.Open(c.Request.Context(), callerID, req)
	if err != nil {
		status := http.StatusInternalServerError
		code := "listing_failed"
		switch {
		case errors.Is(err, inventory.ErrItemNotFound):
			status = http.StatusNotFound
			code = "item_not_found"
		case errors.Is(err, ErrNotOwner):
			status = http.StatusForbidden
			code = "not_owner"
		case errors.Is(err, ErrItemUnavailable):
			status = http.StatusConflict
			code = "item_unavailable"
		case errors.Is(err, ErrAlreadyListed):
			status = http.StatusConflict
			code = "already_listed"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"listing": l})
}

// Get handles GET /v1/listings/:id
func (h *Handler) Get(c *gin.Context) {
	l, err := h.registry.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrListingNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Listing not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"listing": l})
}

// ListActive handles GET /v1/listings
func (h *Handler) ListActive(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), 50, 200)
	listings, err := h.registry.ListActive(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"listings": listings, "count": len(listings)})
}

// ListByOwner handles GET /v1/users/:id/listings
func (h *Handler) ListByOwner(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), 50, 200)
	listings, err := h.registry.ListByOwner(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"listings": listings, "count": len(listings)})
}

// Close handles POST /v1/listings/:id/close
func (h *Handler) Close(c *gin.Context) {
	callerID := c.GetString("userID")
	l, err := h.registry.Close(c.Request.Context(), callerID, c.Param("id"))
	if err != nil {
		status := http.StatusInternalServerError
		code := "close_failed"
		switch {
		case errors.Is(err, ErrListingNotFound):
			status = http.StatusNotFound
			code = "not_found"
		case errors.Is(err, ErrNotOwner):
			status = http.StatusForbidden
			code = "not_owner"
		case errors.Is(err, ErrBadState):
			status = http.StatusConflict
			code = "listing_not_active"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"listing": l})
}

func parseLimit(s string, defaultVal, maxVal int) int {
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return defaultVal
	}
	if n > maxVal {
		return maxVal
	}
	return n
}
