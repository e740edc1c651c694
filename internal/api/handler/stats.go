package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/timmy/listingsync/internal/browser"
	"github.com/timmy/listingsync/internal/domain"
	"github.com/timmy/listingsync/internal/events"
)

// StatsSources are the read models behind the dashboard counters.
type StatsSources struct {
	Automations interface {
		CountByStatus(ctx context.Context) (map[domain.AutomationStatus]int64, error)
	}
	Codes interface {
		CountAvailable(ctx context.Context) (int64, error)
	}
	Runner  AutomationRunner
	Hub     *events.Hub
	Browser interface{ Stats() browser.Stats }
}

// StatsHandler serves dashboard counters.
type StatsHandler struct {
	src StatsSources
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(src StatsSources) *StatsHandler {
	return &StatsHandler{src: src}
}

// Get handles GET /api/v1/stats.
func (h *StatsHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()
	byStatus, err := h.src.Automations.CountByStatus(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	available, err := h.src.Codes.CountAvailable(ctx)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := gin.H{
		"automations":     byStatus,
		"available_codes": available,
		"active":          h.src.Runner.ActiveIDs(),
	}
	if h.src.Hub != nil {
		resp["events"] = h.src.Hub.Stats()
	}
	if h.src.Browser != nil {
		resp["browser"] = h.src.Browser.Stats()
	}
	c.JSON(http.StatusOK, resp)
}
