package handler

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/timmy/listingsync/internal/domain"
	"github.com/timmy/listingsync/internal/repository"
)

const maskedValue = "********"

type settingKind int

const (
	kindString settingKind = iota
	kindSecret
	kindBool
	kindInt
)

var knownSettings = map[string]settingKind{
	domain.SettingSourceUsername: kindString,
	domain.SettingSourcePassword: kindSecret,
	domain.SettingTargetUsername: kindString,
	domain.SettingTargetPassword: kindSecret,
	domain.SettingAutoRetry:      kindBool,
	domain.SettingMaxAttempts:    kindInt,
	domain.SettingDownloadPhotos: kindBool,
	domain.SettingActionDelayMs:  kindInt,
	domain.SettingHeadless:       kindBool,
}

// SettingsHandler reads and writes runtime settings.
type SettingsHandler struct {
	repo *repository.SettingsRepository
	// onHeadless applies a browser.headless change to the running browser.
	onHeadless func(bool)
}

// NewSettingsHandler creates a new settings handler. onHeadless may be nil.
func NewSettingsHandler(repo *repository.SettingsRepository, onHeadless func(bool)) *SettingsHandler {
	return &SettingsHandler{repo: repo, onHeadless: onHeadless}
}

// Get handles GET /api/v1/settings. Secrets are masked.
func (h *SettingsHandler) Get(c *gin.Context) {
	settings, err := h.repo.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	out := make(map[string]string, len(settings))
	for _, s := range settings {
		if knownSettings[s.Key] == kindSecret && s.Value != "" {
			out[s.Key] = maskedValue
			continue
		}
		out[s.Key] = s.Value
	}
	c.JSON(http.StatusOK, gin.H{"settings": out})
}

// Update handles PUT /api/v1/settings with a flat key/value object. A
// masked secret is left unchanged.
func (h *SettingsHandler) Update(c *gin.Context) {
	var req map[string]string
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return
	}

	keys := make([]string, 0, len(req))
	for key, value := range req {
		kind, ok := knownSettings[key]
		if !ok {
			badRequest(c, "unknown setting "+key)
			return
		}
		if err := validateSetting(kind, value); err != nil {
			badRequest(c, key+": "+err.Error())
			return
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	ctx := c.Request.Context()
	updated := make([]string, 0, len(keys))
	for _, key := range keys {
		value := req[key]
		if knownSettings[key] == kindSecret && value == maskedValue {
			continue
		}
		if err := h.repo.Upsert(ctx, key, value); err != nil {
			respondError(c, err)
			return
		}
		updated = append(updated, key)
	}

	if v, ok := req[domain.SettingHeadless]; ok && h.onHeadless != nil {
		headless, _ := strconv.ParseBool(v)
		h.onHeadless(headless)
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

func validateSetting(kind settingKind, value string) error {
	switch kind {
	case kindBool:
		_, err := strconv.ParseBool(value)
		return err
	case kindInt:
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		if n < 0 {
			return strconv.ErrRange
		}
	}
	return nil
}
