package trading

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mdade/swapvault/internal/inventory"
	"github.com/mdade/swapvault/internal/listing"
	"github.com/mdade/swapvault/internal/users"
)

// Handler provides HTTP endpoints for trade negotiation.
type Handler struct {
	service *Service
}

// NewHandler creates a new trading handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up trading routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/listings/:id/trades", h.Create)
	r.GET("/listings/:id/trades", h.ListByListing)
	r.GET("/trades/:id", h.Get)
	r.POST("/trades/:id/respond", h.Respond)
	r.POST("/trades/:id/lock", h.Lock)
	r.POST("/trades/:id/cancel", h.Cancel)
	r.GET("/users/:id/trades", h.ListByRequester)
	r.GET("/trade-history", h.History)
}

// Create handles POST /v1/listings/:id/trades
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	callerID := c.GetString("userID")
	t, err := h.service.Create(c.Request.Context(), c.Param("id"), callerID, req)
	if err != nil {
		status := http.StatusInternalServerError
		code := "trade_failed"
		switch {
		case errors.Is(err, listing.ErrListingNotFound):
			status = http.StatusNotFound
			code = "listing_not_found"
		case errors.Is(err, inventory.ErrItemNotFound):
			status = http.StatusNotFound
			code = "item_not_found"
		case errors.Is(err, users.ErrNotFound):
			status = http.StatusNotFound
			code = "user_not_found"
		case errors.Is(err, ErrListingUnavailable):
			status = http.StatusConflict
			code = "listing_unavailable"
		case errors.Is(err, ErrSelfTrade):
			status = http.StatusBadRequest
			code = "self_trade"
		case errors.Is(err, ErrDuplicateOffer):
			status = http.StatusBadRequest
			code = "duplicate_offer"
		case errors.Is(err, ErrEmptyOffer):
			status = http.StatusBadRequest
			code = "empty_offer"
		case errors.Is(err, inventory.ErrNotOwned):
			status = http.StatusBadRequest
			code = "item_not_owned"
		case errors.Is(err, inventory.ErrNotAvailable), errors.Is(err, inventory.ErrHoldConflict):
			status = http.StatusBadRequest
			code = "item_unavailable"
		case errors.Is(err, ErrDuplicatePending):
			status = http.StatusConflict
			code = "duplicate_pending"
		case errors.Is(err, users.ErrSuspended):
			status = http.StatusForbidden
			code = "user_suspended"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"trade": t})
}

// Get handles GET /v1/trades/:id
func (h *Handler) Get(c *gin.Context) {
	t, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrTradeNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Trade not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trade": t})
}

// Respond handles POST /v1/trades/:id/respond
func (h *Handler) Respond(c *gin.Context) {
	var req RespondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	callerID := c.GetString("userID")
	t, err := h.service.Respond(c.Request.Context(), c.Param("id"), callerID, req.Accept)
	if err != nil {
		c.JSON(tradeErrStatus(err), gin.H{"error": tradeErrCode(err), "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trade": t})
}

// Lock handles POST /v1/trades/:id/lock
func (h *Handler) Lock(c *gin.Context) {
	callerID := c.GetString("userID")
	t, err := h.service.Lock(c.Request.Context(), c.Param("id"), callerID)
	if err != nil {
		c.JSON(tradeErrStatus(err), gin.H{"error": tradeErrCode(err), "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trade": t})
}

// Cancel handles POST /v1/trades/:id/cancel
func (h *Handler) Cancel(c *gin.Context) {
	callerID := c.GetString("userID")
	t, err := h.service.Cancel(c.Request.Context(), c.Param("id"), callerID)
	if err != nil {
		c.JSON(tradeErrStatus(err), gin.H{"error": tradeErrCode(err), "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trade": t})
}

// ListByListing handles GET /v1/listings/:id/trades
func (h *Handler) ListByListing(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), 50, 200)
	trades, err := h.service.ListByListing(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades, "count": len(trades)})
}

// ListByRequester handles GET /v1/users/:id/trades
func (h *Handler) ListByRequester(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), 50, 200)
	trades, err := h.service.ListByRequester(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades, "count": len(trades)})
}

// History handles GET /v1/trade-history
func (h *Handler) History(c *gin.Context) {
	filter := HistoryFilter{
		ListingID:   c.Query("listingId"),
		UserID:      c.Query("userId"),
		FinalStatus: Status(c.Query("status")),
		Limit:       parseLimit(c.Query("limit"), 50, 200),
		Cursor:      c.Query("cursor"),
	}

	records, next, more, err := h.service.History(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	resp := gin.H{"history": records, "count": len(records), "hasMore": more}
	if next != "" {
		resp["nextCursor"] = next
	}
	c.JSON(http.StatusOK, resp)
}

// tradeErrStatus maps state machine errors to HTTP status codes. Conflict
// means "refresh and retry"; Forbidden means "do not retry".
func tradeErrStatus(err error) int {
	switch {
	case errors.Is(err, ErrTradeNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrBadState),
		errors.Is(err, ErrAlreadyLocked),
		errors.Is(err, ErrStatusConflict),
		errors.Is(err, inventory.ErrHoldConflict),
		errors.Is(err, inventory.ErrNotAvailable),
		errors.Is(err, listing.ErrBadState):
		return http.StatusConflict
	case errors.Is(err, inventory.ErrNotOwned):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func tradeErrCode(err error) string {
	switch {
	case errors.Is(err, ErrTradeNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrBadState):
		return "bad_state"
	case errors.Is(err, ErrAlreadyLocked):
		return "already_locked"
	case errors.Is(err, ErrStatusConflict):
		return "conflict"
	case errors.Is(err, inventory.ErrHoldConflict),
		errors.Is(err, inventory.ErrNotAvailable):
		return "item_unavailable"
	case errors.Is(err, inventory.ErrNotOwned):
		return "item_not_owned"
	case errors.Is(err, listing.ErrBadState):
		return "listing_conflict"
	}
	return "internal_error"
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
