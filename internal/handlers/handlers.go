package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jag18729/guard-quote-sub000/internal/mlengine"
	"github.com/jag18729/guard-quote-sub000/internal/models"
	"github.com/jag18729/guard-quote-sub000/internal/pricing"
	"github.com/jag18729/guard-quote-sub000/internal/realtime"
	"github.com/jag18729/guard-quote-sub000/internal/reference"
)

// Handler bundles the HTTP endpoint dependencies
type Handler struct {
	calculator *pricing.Calculator
	mlClient   *mlengine.Client
	refs       reference.Gateway
	hub        *realtime.Hub
	logger     *zap.Logger
}

// New creates the handler set
func New(calculator *pricing.Calculator, mlClient *mlengine.Client, refs reference.Gateway, hub *realtime.Hub, logger *zap.Logger) *Handler {
	return &Handler{
		calculator: calculator,
		mlClient:   mlClient,
		refs:       refs,
		hub:        hub,
		logger:     logger,
	}
}

// Root reports service identity
func (h *Handler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "GuardQuote Pricing Service",
	})
}

// Health reports database and ML engine reachability
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	dbOK := h.refs.Ping(ctx) == nil
	status := "healthy"
	if !dbOK {
		status = "degraded"
	}

	dbState := "connected"
	if !dbOK {
		dbState = "disconnected"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    status,
		"database":  dbState,
		"ml_engine": h.mlClient.Status(),
	})
}

// CalculateQuote is the HTTP variant of the realtime pricing path
func (h *Handler) CalculateQuote(c *gin.Context) {
	var input models.QuoteInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result := h.calculator.Quote(c.Request.Context(), input)

	// Surface traffic to subscribed admin dashboards.
	h.hub.BroadcastToChannel(models.ChannelQuotes, "quote.calculated", gin.H{
		"event_type":  result.Breakdown.EventType,
		"final_price": result.FinalPrice,
		"risk_level":  result.RiskLevel,
		"model_used":  result.Breakdown.ModelUsed,
	})

	c.JSON(http.StatusOK, result)
}

// EventTypes lists the pricing reference rows for event categories
func (h *Handler) EventTypes(c *gin.Context) {
	records, err := h.refs.ListEventTypes(c.Request.Context())
	if err != nil {
		h.logger.Error("event type listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load event types"})
		return
	}
	c.JSON(http.StatusOK, records)
}

// Location returns the reference row for one zip code
func (h *Handler) Location(c *gin.Context) {
	zip := c.Param("zip")
	record, err := h.refs.GetLocation(c.Request.Context(), zip)
	if errors.Is(err, reference.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "location not found"})
		return
	}
	if err != nil {
		h.logger.Error("location lookup failed", zap.String("zip", zip), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load location"})
		return
	}
	c.JSON(http.StatusOK, record)
}

// MLStatus reports last-known engine reachability plus a live ping
func (h *Handler) MLStatus(c *gin.Context) {
	snapshot := h.mlClient.Status()

	health, err := h.mlClient.Ping(c.Request.Context())
	resp := gin.H{"status": snapshot}
	if err != nil {
		resp["healthy"] = false
	} else {
		resp["healthy"] = health.Status == "healthy"
		resp["version"] = health.Version
		resp["model_loaded"] = health.ModelLoaded
	}
	c.JSON(http.StatusOK, resp)
}

// WSStats reports connection hub statistics
func (h *Handler) WSStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.hub.Stats())
}
