package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/timmy/listingsync/internal/domain"
	"github.com/timmy/listingsync/internal/repository"
	"github.com/timmy/listingsync/internal/service"
)

// AutomationRunner is the orchestrator surface used by the API.
type AutomationRunner interface {
	Start(ctx context.Context, id uint) (bool, error)
	Stop(ctx context.Context, id uint) error
	Retry(ctx context.Context, id uint) (*domain.Automation, error)
	ActiveIDs() []uint
}

var _ AutomationRunner = (*service.AutomationService)(nil)

// AutomationHandler handles listing transfer endpoints.
type AutomationHandler struct {
	repo    *repository.AutomationRepository
	brokers *repository.BrokerRepository
	runner  AutomationRunner
}

// NewAutomationHandler creates a new automation handler.
// Parameters:
//   - repo: automation repository.
//   - brokers: broker repository used to validate ownership.
//   - runner: orchestrator that executes automations.
// Returns:
//   - *AutomationHandler: initialized handler.
func NewAutomationHandler(repo *repository.AutomationRepository, brokers *repository.BrokerRepository, runner AutomationRunner) *AutomationHandler {
	return &AutomationHandler{repo: repo, brokers: brokers, runner: runner}
}

// CreateAutomationRequest is the body of POST /api/v1/automations.
type CreateAutomationRequest struct {
	BrokerID   uint   `json:"broker_id" binding:"required"`
	SourceCode string `json:"source_code" binding:"required"`
	TargetCode string `json:"target_code"`
	Start      bool   `json:"start"`
}

// ListAutomationsResponse is a page of automations.
type ListAutomationsResponse struct {
	Automations []domain.Automation `json:"automations"`
	Total       int64               `json:"total"`
	Active      []uint              `json:"active"`
}

// List handles GET /api/v1/automations.
func (h *AutomationHandler) List(c *gin.Context) {
	limit, offset := paging(c)
	items, total, err := h.repo.List(c.Request.Context(), repository.AutomationFilter{
		Status:   domain.AutomationStatus(c.Query("status")),
		BrokerID: queryUint(c, "broker_id"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ListAutomationsResponse{
		Automations: items,
		Total:       total,
		Active:      h.runner.ActiveIDs(),
	})
}

// Create handles POST /api/v1/automations.
func (h *AutomationHandler) Create(c *gin.Context) {
	var req CreateAutomationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return
	}
	req.SourceCode = strings.TrimSpace(req.SourceCode)
	req.TargetCode = strings.TrimSpace(req.TargetCode)
	if req.SourceCode == "" {
		badRequest(c, "source_code is required")
		return
	}

	ctx := c.Request.Context()
	if _, err := h.brokers.GetByID(ctx, req.BrokerID); err != nil {
		respondError(c, err)
		return
	}

	a := &domain.Automation{
		BrokerID:   req.BrokerID,
		SourceCode: req.SourceCode,
		TargetCode: req.TargetCode,
	}
	if err := h.repo.Create(ctx, a); err != nil {
		respondError(c, err)
		return
	}
	if req.Start {
		if _, err := h.runner.Start(ctx, a.ID); err != nil {
			respondError(c, err)
			return
		}
	}
	c.JSON(http.StatusCreated, a)
}

// Get handles GET /api/v1/automations/:id.
func (h *AutomationHandler) Get(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	a, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// Delete handles DELETE /api/v1/automations/:id.
func (h *AutomationHandler) Delete(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.repo.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Start handles POST /api/v1/automations/:id/start.
func (h *AutomationHandler) Start(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	started, err := h.runner.Start(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusAccepted
	if !started {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"id": id, "started": started})
}

// Stop handles POST /api/v1/automations/:id/stop.
func (h *AutomationHandler) Stop(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.runner.Stop(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": domain.AutomationStatusStopped})
}

// Retry handles POST /api/v1/automations/:id/retry.
func (h *AutomationHandler) Retry(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	next, err := h.runner.Retry(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, next)
}
