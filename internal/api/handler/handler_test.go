package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/timmy/listingsync/internal/config"
	"github.com/timmy/listingsync/internal/domain"
	"github.com/timmy/listingsync/internal/repository"
	"github.com/timmy/listingsync/internal/service"
)

type fakeRunner struct {
	mu       sync.Mutex
	started  []uint
	startErr error
	stopErr  error
	retried  *domain.Automation
}

func (f *fakeRunner) Start(_ context.Context, id uint) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return false, f.startErr
	}
	for _, s := range f.started {
		if s == id {
			return false, nil
		}
	}
	f.started = append(f.started, id)
	return true, nil
}

func (f *fakeRunner) Stop(context.Context, uint) error { return f.stopErr }

func (f *fakeRunner) Retry(_ context.Context, id uint) (*domain.Automation, error) {
	if f.retried == nil {
		return nil, service.ErrNotRetryable
	}
	return f.retried, nil
}

func (f *fakeRunner) ActiveIDs() []uint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint(nil), f.started...)
}

type apiHarness struct {
	db       *gorm.DB
	router   *gin.Engine
	runner   *fakeRunner
	broker   *domain.Broker
	headless []bool
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := repository.InitDB(&config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
		MaxOpenConns: 1,
		AutoMigrate:  true,
		LogLevel:     "silent",
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	h := &apiHarness{db: db, runner: &fakeRunner{}}
	brokers := repository.NewBrokerRepository(db)
	h.broker = &domain.Broker{Name: "Imobiliária Centro"}
	require.NoError(t, brokers.Create(context.Background(), h.broker))

	automations := NewAutomationHandler(repository.NewAutomationRepository(db), brokers, h.runner)
	codes := NewBrokerHandler(brokers, repository.NewCodeRepository(db))
	settings := NewSettingsHandler(repository.NewSettingsRepository(db), func(v bool) { h.headless = append(h.headless, v) })
	logs := NewLogHandler(repository.NewLogRepository(db))

	r := gin.New()
	r.POST("/automations", automations.Create)
	r.GET("/automations", automations.List)
	r.GET("/automations/:id", automations.Get)
	r.DELETE("/automations/:id", automations.Delete)
	r.POST("/automations/:id/start", automations.Start)
	r.POST("/automations/:id/stop", automations.Stop)
	r.POST("/automations/:id/retry", automations.Retry)
	r.GET("/brokers/:id/codes", codes.ListCodes)
	r.POST("/brokers/:id/codes", codes.CreateCode)
	r.PATCH("/codes/:id", codes.UpdateCode)
	r.POST("/codes/:id/release", codes.ReleaseCode)
	r.DELETE("/codes/:id", codes.DeleteCode)
	r.GET("/settings", settings.Get)
	r.PUT("/settings", settings.Update)
	r.GET("/logs", logs.List)
	r.DELETE("/logs", logs.Purge)
	h.router = r
	return h
}

func (h *apiHarness) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w, out
}

func TestAutomationHandler_CreateAndStart(t *testing.T) {
	h := newAPIHarness(t)

	w, body := h.do(t, http.MethodPost, "/automations", gin.H{
		"broker_id":   h.broker.ID,
		"source_code": "  AP1234 ",
		"start":       true,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "AP1234", body["source_code"])
	assert.Equal(t, string(domain.AutomationStatusPending), body["status"])

	id := uint(body["id"].(float64))
	assert.Equal(t, []uint{id}, h.runner.started)

	// A second start of a running automation is accepted without a new run.
	w, body = h.do(t, http.MethodPost, fmt.Sprintf("/automations/%d/start", id), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["started"])

	w, body = h.do(t, http.MethodGet, "/automations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["total"])
	assert.Len(t, body["active"], 1)
}

func TestAutomationHandler_Validation(t *testing.T) {
	h := newAPIHarness(t)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"missing source code", gin.H{"broker_id": h.broker.ID}, http.StatusBadRequest},
		{"blank source code", gin.H{"broker_id": h.broker.ID, "source_code": "   "}, http.StatusBadRequest},
		{"unknown broker", gin.H{"broker_id": 999, "source_code": "AP1"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _ := h.do(t, http.MethodPost, "/automations", tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}

	w, _ := h.do(t, http.MethodGet, "/automations/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = h.do(t, http.MethodGet, "/automations/42", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAutomationHandler_RunnerErrors(t *testing.T) {
	h := newAPIHarness(t)

	h.runner.startErr = service.ErrNotStartable
	w, _ := h.do(t, http.MethodPost, "/automations/1/start", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	h.runner.startErr = fmt.Errorf("%w: 1", service.ErrAutomationNotFound)
	w, _ = h.do(t, http.MethodPost, "/automations/1/start", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	h.runner.stopErr = service.ErrNotStoppable
	w, _ = h.do(t, http.MethodPost, "/automations/1/stop", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = h.do(t, http.MethodPost, "/automations/1/retry", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	h.runner.startErr = fmt.Errorf("database is locked")
	w, body := h.do(t, http.MethodPost, "/automations/1/start", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal error", body["error"])
}

func TestAutomationHandler_DeleteProcessingConflicts(t *testing.T) {
	h := newAPIHarness(t)
	ctx := context.Background()
	repo := repository.NewAutomationRepository(h.db)

	a := &domain.Automation{BrokerID: h.broker.ID, SourceCode: "AP1"}
	require.NoError(t, repo.Create(ctx, a))
	require.NoError(t, repo.MarkProcessing(ctx, a.ID, a.CreatedAt))

	w, _ := h.do(t, http.MethodDelete, fmt.Sprintf("/automations/%d", a.ID), nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	require.NoError(t, repo.Fail(ctx, a.ID, domain.FailureTechnical, "boom"))
	w, _ = h.do(t, http.MethodDelete, fmt.Sprintf("/automations/%d", a.ID), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestBrokerHandler_Codes(t *testing.T) {
	h := newAPIHarness(t)
	codesPath := fmt.Sprintf("/brokers/%d/codes", h.broker.ID)

	w, body := h.do(t, http.MethodPost, codesPath, gin.H{"code": "TGT-001", "is_highlighted": true})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	codeID := uint(body["id"].(float64))

	w, _ = h.do(t, http.MethodPost, codesPath, gin.H{"code": "TGT-001"})
	assert.Equal(t, http.StatusConflict, w.Code, "duplicate code")

	w, _ = h.do(t, http.MethodPost, "/brokers/999/codes", gin.H{"code": "TGT-002"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, body = h.do(t, http.MethodPatch, fmt.Sprintf("/codes/%d", codeID), gin.H{"is_highlighted": false})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["is_highlighted"])

	w, body = h.do(t, http.MethodGet, codesPath, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["total"])
	assert.EqualValues(t, domain.MaxCodesPerBroker, body["max_codes"])

	w, _ = h.do(t, http.MethodDelete, fmt.Sprintf("/codes/%d", codeID), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w, _ = h.do(t, http.MethodDelete, fmt.Sprintf("/codes/%d", codeID), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBrokerHandler_ReleaseCode(t *testing.T) {
	h := newAPIHarness(t)
	ctx := context.Background()
	automations := repository.NewAutomationRepository(h.db)
	codes := repository.NewCodeRepository(h.db)

	a := &domain.Automation{BrokerID: h.broker.ID, SourceCode: "AP1"}
	require.NoError(t, automations.Create(ctx, a))
	require.NoError(t, automations.MarkProcessing(ctx, a.ID, time.Now()))
	code := &domain.ExternalCode{BrokerID: h.broker.ID, Code: "TGT-001"}
	require.NoError(t, codes.Create(ctx, code))
	require.NoError(t, codes.Claim(ctx, code.ID, a.ID, "AP1", time.Now()))
	releasePath := fmt.Sprintf("/codes/%d/release", code.ID)

	w, _ := h.do(t, http.MethodPost, releasePath, nil)
	assert.Equal(t, http.StatusConflict, w.Code, "automation still running")

	require.NoError(t, automations.Stop(ctx, a.ID, "Stopped by user"))
	w, body := h.do(t, http.MethodPost, releasePath, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, false, body["is_used"])
	assert.Nil(t, body["automation_id"])

	w, _ = h.do(t, http.MethodPost, "/codes/999/release", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = h.do(t, http.MethodDelete, fmt.Sprintf("/codes/%d", code.ID), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestBrokerHandler_CodeLimit(t *testing.T) {
	h := newAPIHarness(t)
	codes := repository.NewCodeRepository(h.db)
	for i := 0; i < domain.MaxCodesPerBroker; i++ {
		require.NoError(t, codes.Create(context.Background(), &domain.ExternalCode{
			Code:     fmt.Sprintf("C-%03d", i),
			BrokerID: h.broker.ID,
		}))
	}

	w, _ := h.do(t, http.MethodPost, fmt.Sprintf("/brokers/%d/codes", h.broker.ID), gin.H{"code": "ONE-MORE"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSettingsHandler(t *testing.T) {
	h := newAPIHarness(t)

	w, body := h.do(t, http.MethodPut, "/settings", gin.H{
		domain.SettingSourceUsername: "corretor@example.com",
		domain.SettingSourcePassword: "s3cret",
		domain.SettingHeadless:       "false",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, body["updated"], 3)
	assert.Equal(t, []bool{false}, h.headless)

	w, body = h.do(t, http.MethodGet, "/settings", nil)
	require.Equal(t, http.StatusOK, w.Code)
	settings := body["settings"].(map[string]any)
	assert.Equal(t, "corretor@example.com", settings[domain.SettingSourceUsername])
	assert.Equal(t, maskedValue, settings[domain.SettingSourcePassword])

	// Echoing the mask back keeps the stored secret.
	w, body = h.do(t, http.MethodPut, "/settings", gin.H{domain.SettingSourcePassword: maskedValue})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, body["updated"])
	stored, ok, err := repository.NewSettingsRepository(h.db).Get(context.Background(), domain.SettingSourcePassword)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "s3cret", stored)

	w, _ = h.do(t, http.MethodPut, "/settings", gin.H{"unknown.key": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = h.do(t, http.MethodPut, "/settings", gin.H{domain.SettingMaxAttempts: "-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = h.do(t, http.MethodPut, "/settings", gin.H{domain.SettingAutoRetry: "maybe"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLogHandler(t *testing.T) {
	h := newAPIHarness(t)
	ctx := context.Background()
	logs := repository.NewLogRepository(h.db)
	require.NoError(t, logs.Create(ctx, &domain.LogEntry{Level: domain.LogLevelInfo, Message: "started"}))
	require.NoError(t, logs.Create(ctx, &domain.LogEntry{Level: domain.LogLevelError, Message: "failed"}))

	w, body := h.do(t, http.MethodGet, "/logs?level=error", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["total"])

	w, _ = h.do(t, http.MethodGet, "/logs?level=verbose", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = h.do(t, http.MethodDelete, "/logs?older_than_days=x", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = h.do(t, http.MethodDelete, "/logs?older_than_days=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, body["deleted"])

	w, body = h.do(t, http.MethodDelete, "/logs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, body["deleted"])
}
