package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/timmy/listingsync/internal/domain"
	"github.com/timmy/listingsync/internal/service"
)

// CredentialSource resolves stored credentials for a system.
type CredentialSource interface {
	Credentials(ctx context.Context, system domain.System) (*domain.Credentials, error)
}

// ConnectivityHandler runs connectivity probes on demand.
type ConnectivityHandler struct {
	prober service.Prober
	creds  CredentialSource
}

// NewConnectivityHandler creates a new connectivity handler.
func NewConnectivityHandler(prober service.Prober, creds CredentialSource) *ConnectivityHandler {
	return &ConnectivityHandler{prober: prober, creds: creds}
}

// TestRequest optionally overrides the stored credentials.
type TestRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Test handles POST /api/v1/connectivity/:system. The probe result is
// returned with 200 whatever the outcome; only bad input is an error.
func (h *ConnectivityHandler) Test(c *gin.Context) {
	system := domain.System(c.Param("system"))
	if !system.Valid() {
		badRequest(c, "system must be source or target")
		return
	}

	var req TestRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request: "+err.Error())
			return
		}
	}

	ctx := c.Request.Context()
	creds := &domain.Credentials{Username: req.Username, Password: req.Password}
	if !creds.Complete() {
		stored, err := h.creds.Credentials(ctx, system)
		if err != nil {
			respondError(c, err)
			return
		}
		creds = stored
	}

	c.JSON(http.StatusOK, h.prober.Test(ctx, system, creds))
}
