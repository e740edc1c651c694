package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/timmy/listingsync/internal/domain"
	"github.com/timmy/listingsync/internal/repository"
)

// LogHandler exposes the audit log.
type LogHandler struct {
	repo *repository.LogRepository
}

// NewLogHandler creates a new log handler.
func NewLogHandler(repo *repository.LogRepository) *LogHandler {
	return &LogHandler{repo: repo}
}

// List handles GET /api/v1/logs.
func (h *LogHandler) List(c *gin.Context) {
	level := domain.LogLevel(c.Query("level"))
	if level != "" && !level.Valid() {
		badRequest(c, "invalid level")
		return
	}
	limit, offset := paging(c)
	entries, total, err := h.repo.List(c.Request.Context(), repository.LogFilter{
		Level:        level,
		AutomationID: queryUint(c, "automation_id"),
		Limit:        limit,
		Offset:       offset,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": entries, "total": total})
}

// Purge handles DELETE /api/v1/logs. With older_than_days it deletes
// entries older than that many days; without it the log is cleared.
func (h *LogHandler) Purge(c *gin.Context) {
	ctx := c.Request.Context()
	raw := c.Query("older_than_days")
	if raw == "" {
		n, err := h.repo.DeleteAll(ctx)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": n})
		return
	}

	days, err := strconv.Atoi(raw)
	if err != nil || days < 0 {
		badRequest(c, "older_than_days must be a non-negative integer")
		return
	}
	n, err := h.repo.DeleteOlderThan(ctx, time.Now().AddDate(0, 0, -days))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}
