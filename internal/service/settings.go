package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/timmy/listingsync/internal/config"
	"github.com/timmy/listingsync/internal/domain"
	"github.com/timmy/listingsync/internal/logger"
)

// RunSettings is the per-run snapshot of user-adjustable behavior.
type RunSettings struct {
	AutoRetry      bool
	MaxAttempts    int
	DownloadPhotos bool
	ActionDelay    time.Duration
}

// RuntimeSettings reads user settings with config fallbacks.
type RuntimeSettings struct {
	store    SettingsStore
	defaults config.AutomationConfig
}

// NewRuntimeSettings creates a RuntimeSettings.
func NewRuntimeSettings(store SettingsStore, defaults config.AutomationConfig) *RuntimeSettings {
	return &RuntimeSettings{store: store, defaults: defaults}
}

// Credentials returns the stored credentials for system, or nil when
// either part is missing.
func (r *RuntimeSettings) Credentials(ctx context.Context, system domain.System) (*domain.Credentials, error) {
	var userKey, passKey string
	switch system {
	case domain.SystemSource:
		userKey, passKey = domain.SettingSourceUsername, domain.SettingSourcePassword
	case domain.SystemTarget:
		userKey, passKey = domain.SettingTargetUsername, domain.SettingTargetPassword
	default:
		return nil, fmt.Errorf("unknown system %q", system)
	}

	user, _, err := r.store.Get(ctx, userKey)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", userKey, err)
	}
	pass, _, err := r.store.Get(ctx, passKey)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", passKey, err)
	}
	creds := &domain.Credentials{Username: user, Password: pass}
	if !creds.Complete() {
		return nil, nil
	}
	return creds, nil
}

// Snapshot reads the workflow settings once per run.
func (r *RuntimeSettings) Snapshot(ctx context.Context) RunSettings {
	delay := r.defaults.ActionDelay
	if ms := r.intSetting(ctx, domain.SettingActionDelayMs, -1); ms >= 0 {
		delay = time.Duration(ms) * time.Millisecond
	}
	maxAttempts := r.intSetting(ctx, domain.SettingMaxAttempts, r.defaults.MaxAttempts)
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return RunSettings{
		AutoRetry:      r.boolSetting(ctx, domain.SettingAutoRetry, false),
		MaxAttempts:    maxAttempts,
		DownloadPhotos: r.boolSetting(ctx, domain.SettingDownloadPhotos, true),
		ActionDelay:    delay,
	}
}

// Headless returns the browser.headless setting, falling back to def.
func (r *RuntimeSettings) Headless(ctx context.Context, def bool) bool {
	return r.boolSetting(ctx, domain.SettingHeadless, def)
}

func (r *RuntimeSettings) boolSetting(ctx context.Context, key string, def bool) bool {
	raw, ok, err := r.store.Get(ctx, key)
	if err != nil {
		logger.FromContext(ctx).WithError(err).WithField("key", key).Warn("Failed to read setting, using default")
		return def
	}
	if !ok {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

func (r *RuntimeSettings) intSetting(ctx context.Context, key string, def int) int {
	raw, ok, err := r.store.Get(ctx, key)
	if err != nil {
		logger.FromContext(ctx).WithError(err).WithField("key", key).Warn("Failed to read setting, using default")
		return def
	}
	if !ok {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
