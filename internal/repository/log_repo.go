package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/timmy/listingsync/internal/domain"
)

// LogFilter narrows audit log listings.
type LogFilter struct {
	Level        domain.LogLevel
	AutomationID uint
	Limit        int
	Offset       int
}

// LogRepository handles the append-only audit log.
type LogRepository struct {
	db *gorm.DB
}

// NewLogRepository creates a new LogRepository.
func NewLogRepository(db *gorm.DB) *LogRepository {
	return &LogRepository{db: db}
}

// Create appends an entry.
func (r *LogRepository) Create(ctx context.Context, entry *domain.LogEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// List returns entries newest first along with the total count.
func (r *LogRepository) List(ctx context.Context, f LogFilter) ([]domain.LogEntry, int64, error) {
	q := r.db.WithContext(ctx).Model(&domain.LogEntry{})
	if f.Level != "" {
		q = q.Where("level = ?", f.Level)
	}
	if f.AutomationID != 0 {
		q = q.Where("automation_id = ?", f.AutomationID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var entries []domain.LogEntry
	if err := q.Order("id DESC").Limit(limit).Offset(f.Offset).Find(&entries).Error; err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// DeleteOlderThan removes entries created before cutoff.
func (r *LogRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&domain.LogEntry{})
	return res.RowsAffected, res.Error
}

// DeleteAll clears the log.
func (r *LogRepository) DeleteAll(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&domain.LogEntry{})
	return res.RowsAffected, res.Error
}
