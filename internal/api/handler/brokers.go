package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/timmy/listingsync/internal/domain"
	"github.com/timmy/listingsync/internal/repository"
)

// BrokerHandler manages brokers and their publish codes.
type BrokerHandler struct {
	brokers *repository.BrokerRepository
	codes   *repository.CodeRepository
}

// NewBrokerHandler creates a new broker handler.
func NewBrokerHandler(brokers *repository.BrokerRepository, codes *repository.CodeRepository) *BrokerHandler {
	return &BrokerHandler{brokers: brokers, codes: codes}
}

// BrokerRequest is the body of broker create and update calls.
type BrokerRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	IsActive *bool  `json:"is_active"`
}

// CreateCodeRequest is the body of POST /api/v1/brokers/:id/codes.
type CreateCodeRequest struct {
	Code          string `json:"code" binding:"required"`
	IsHighlighted bool   `json:"is_highlighted"`
}

// UpdateCodeRequest is the body of PATCH /api/v1/codes/:id.
type UpdateCodeRequest struct {
	IsHighlighted *bool `json:"is_highlighted"`
	IsActive      *bool `json:"is_active"`
}

// ListBrokers handles GET /api/v1/brokers.
func (h *BrokerHandler) ListBrokers(c *gin.Context) {
	brokers, err := h.brokers.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"brokers": brokers})
}

// CreateBroker handles POST /api/v1/brokers.
func (h *BrokerHandler) CreateBroker(c *gin.Context) {
	var req BrokerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return
	}
	b := &domain.Broker{Name: strings.TrimSpace(req.Name), Email: req.Email, Phone: req.Phone}
	if err := h.brokers.Create(c.Request.Context(), b); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

// GetBroker handles GET /api/v1/brokers/:id.
func (h *BrokerHandler) GetBroker(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	b, err := h.brokers.GetByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// UpdateBroker handles PUT /api/v1/brokers/:id.
func (h *BrokerHandler) UpdateBroker(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req BrokerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return
	}
	ctx := c.Request.Context()
	b, err := h.brokers.GetByID(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	b.Name = strings.TrimSpace(req.Name)
	b.Email = req.Email
	b.Phone = req.Phone
	if req.IsActive != nil {
		b.IsActive = *req.IsActive
	}
	if err := h.brokers.Update(ctx, b); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// ListCodes handles GET /api/v1/brokers/:id/codes.
func (h *BrokerHandler) ListCodes(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	codes, err := h.codes.List(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	used, highlighted := 0, 0
	for _, code := range codes {
		if code.IsUsed {
			used++
		}
		if code.IsHighlighted {
			highlighted++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"codes":           codes,
		"total":           len(codes),
		"used":            used,
		"highlighted":     highlighted,
		"max_codes":       domain.MaxCodesPerBroker,
		"max_highlighted": domain.MaxHighlightsPerBroker,
	})
}

// CreateCode handles POST /api/v1/brokers/:id/codes.
func (h *BrokerHandler) CreateCode(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req CreateCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return
	}
	ctx := c.Request.Context()
	if _, err := h.brokers.GetByID(ctx, id); err != nil {
		respondError(c, err)
		return
	}
	code := &domain.ExternalCode{
		Code:          strings.TrimSpace(req.Code),
		BrokerID:      id,
		IsHighlighted: req.IsHighlighted,
	}
	if err := h.codes.Create(ctx, code); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, code)
}

// UpdateCode handles PATCH /api/v1/codes/:id.
func (h *BrokerHandler) UpdateCode(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req UpdateCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return
	}
	ctx := c.Request.Context()
	if req.IsHighlighted != nil {
		if _, err := h.codes.SetHighlighted(ctx, id, *req.IsHighlighted); err != nil {
			respondError(c, err)
			return
		}
	}
	if req.IsActive != nil {
		if err := h.codes.SetActive(ctx, id, *req.IsActive); err != nil {
			respondError(c, err)
			return
		}
	}
	code, err := h.codes.GetByID(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, code)
}

// ReleaseCode handles POST /api/v1/codes/:id/release. It returns a code
// consumed by a failed or stopped automation to the pool.
func (h *BrokerHandler) ReleaseCode(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	code, err := h.codes.Release(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, code)
}

// DeleteCode handles DELETE /api/v1/codes/:id.
func (h *BrokerHandler) DeleteCode(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.codes.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
