package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/timmy/listingsync/internal/logger"
	"github.com/timmy/listingsync/internal/repository"
	"github.com/timmy/listingsync/internal/service"
)

// respondError maps domain and repository errors to HTTP statuses. Unknown
// errors are logged and hidden behind a generic message.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound), errors.Is(err, service.ErrAutomationNotFound):
		status = http.StatusNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey),
		errors.Is(err, repository.ErrCodeLimitReached),
		errors.Is(err, repository.ErrHighlightLimitReached),
		errors.Is(err, repository.ErrCodeInUse),
		errors.Is(err, repository.ErrCodeNotReleasable),
		errors.Is(err, repository.ErrStaleAutomation),
		errors.Is(err, service.ErrAlreadyRunning),
		errors.Is(err, service.ErrNotStartable),
		errors.Is(err, service.ErrNotStoppable),
		errors.Is(err, service.ErrNotRetryable):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		logger.FromContext(c.Request.Context()).WithError(err).Error("Request failed")
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// paramID parses a positive numeric path parameter.
func paramID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return uint(id), true
}

func queryUint(c *gin.Context, name string) uint {
	v, _ := strconv.ParseUint(c.Query(name), 10, 64)
	return uint(v)
}

func paging(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
