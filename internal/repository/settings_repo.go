package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/timmy/listingsync/internal/domain"
)

// SettingsRepository is a string key/value store.
type SettingsRepository struct {
	db *gorm.DB
}

// NewSettingsRepository creates a new SettingsRepository.
func NewSettingsRepository(db *gorm.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get returns the value for key and whether it was set.
func (r *SettingsRepository) Get(ctx context.Context, key string) (string, bool, error) {
	var s domain.Setting
	err := r.db.WithContext(ctx).First(&s, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return s.Value, true, nil
}

// List returns every stored setting.
func (r *SettingsRepository) List(ctx context.Context) ([]domain.Setting, error) {
	var settings []domain.Setting
	if err := r.db.WithContext(ctx).Order("key ASC").Find(&settings).Error; err != nil {
		return nil, err
	}
	return settings, nil
}

// Upsert stores value under key.
func (r *SettingsRepository) Upsert(ctx context.Context, key, value string) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&domain.Setting{Key: key, Value: value, UpdatedAt: time.Now()}).Error
}
