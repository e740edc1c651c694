package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/timmy/listingsync/internal/domain"
)

// AutomationFilter narrows automation listings.
type AutomationFilter struct {
	Status   domain.AutomationStatus
	BrokerID uint
	Limit    int
	Offset   int
}

// AutomationRepository handles listing transfer records. Workflow updates
// are conditional on the automation still being in processing, so a stop
// issued by the user is never overwritten by a running workflow.
type AutomationRepository struct {
	db *gorm.DB
}

// NewAutomationRepository creates a new AutomationRepository.
func NewAutomationRepository(db *gorm.DB) *AutomationRepository {
	return &AutomationRepository{db: db}
}

// Create inserts a new pending automation.
func (r *AutomationRepository) Create(ctx context.Context, a *domain.Automation) error {
	if a.Status == "" {
		a.Status = domain.AutomationStatusPending
	}
	if a.Attempt == 0 {
		a.Attempt = 1
	}
	return r.db.WithContext(ctx).Create(a).Error
}

// GetByID retrieves an automation by its ID.
// Returns gorm.ErrRecordNotFound when it does not exist.
func (r *AutomationRepository) GetByID(ctx context.Context, id uint) (*domain.Automation, error) {
	var a domain.Automation
	if err := r.db.WithContext(ctx).First(&a, id).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// List returns automations newest first along with the total count.
func (r *AutomationRepository) List(ctx context.Context, f AutomationFilter) ([]domain.Automation, int64, error) {
	q := r.db.WithContext(ctx).Model(&domain.Automation{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.BrokerID != 0 {
		q = q.Where("broker_id = ?", f.BrokerID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var items []domain.Automation
	if err := q.Order("id DESC").Limit(limit).Offset(f.Offset).Find(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// CountByStatus returns the number of automations per status.
func (r *AutomationRepository) CountByStatus(ctx context.Context) (map[domain.AutomationStatus]int64, error) {
	var rows []struct {
		Status domain.AutomationStatus
		Count  int64
	}
	err := r.db.WithContext(ctx).Model(&domain.Automation{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[domain.AutomationStatus]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out, nil
}

// MarkProcessing moves a startable automation into processing and clears
// any previous outcome. Completed and already processing automations are
// left alone and ErrStaleAutomation is returned.
func (r *AutomationRepository) MarkProcessing(ctx context.Context, id uint, startedAt time.Time) error {
	res := r.db.WithContext(ctx).Model(&domain.Automation{}).
		Where("id = ? AND status IN ?", id, []domain.AutomationStatus{
			domain.AutomationStatusPending,
			domain.AutomationStatusFailed,
			domain.AutomationStatusStopped,
		}).
		Updates(map[string]interface{}{
			"status":        domain.AutomationStatusProcessing,
			"progress":      0,
			"current_step":  "",
			"error_message": "",
			"failure_kind":  domain.FailureNone,
			"result_data":   nil,
			"started_at":    startedAt,
			"completed_at":  nil,
		})
	return rowsOrStale(res)
}

// UpdateStep records the step the workflow just entered.
func (r *AutomationRepository) UpdateStep(ctx context.Context, id uint, step domain.Step, progress int) error {
	res := r.processing(ctx, id).Updates(map[string]interface{}{
		"current_step": step,
		"progress":     progress,
	})
	return rowsOrStale(res)
}

// Complete marks the automation completed with its result payload.
func (r *AutomationRepository) Complete(ctx context.Context, id uint, result domain.JSONMap, at time.Time) error {
	res := r.processing(ctx, id).Updates(map[string]interface{}{
		"status":       domain.AutomationStatusCompleted,
		"progress":     100,
		"current_step": domain.StepFinalizing,
		"result_data":  result,
		"completed_at": at,
	})
	return rowsOrStale(res)
}

// Fail marks the automation failed with a sanitized message.
func (r *AutomationRepository) Fail(ctx context.Context, id uint, kind domain.FailureKind, message string) error {
	res := r.processing(ctx, id).Updates(map[string]interface{}{
		"status":        domain.AutomationStatusFailed,
		"failure_kind":  kind,
		"error_message": message,
	})
	return rowsOrStale(res)
}

// Stop marks a pending or processing automation stopped.
func (r *AutomationRepository) Stop(ctx context.Context, id uint, message string) error {
	res := r.db.WithContext(ctx).Model(&domain.Automation{}).
		Where("id = ? AND status IN ?", id, []domain.AutomationStatus{
			domain.AutomationStatusPending,
			domain.AutomationStatusProcessing,
		}).
		Updates(map[string]interface{}{
			"status":        domain.AutomationStatusStopped,
			"failure_kind":  domain.FailureStopped,
			"error_message": message,
		})
	return rowsOrStale(res)
}

// FailOrphaned fails every automation left in processing, e.g. after a
// crash. Returns how many rows were touched.
func (r *AutomationRepository) FailOrphaned(ctx context.Context, message string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.Automation{}).
		Where("status = ?", domain.AutomationStatusProcessing).
		Updates(map[string]interface{}{
			"status":        domain.AutomationStatusFailed,
			"failure_kind":  domain.FailureTechnical,
			"error_message": message,
		})
	return res.RowsAffected, res.Error
}

// Delete removes an automation that is not currently processing.
func (r *AutomationRepository) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).
		Where("id = ? AND status <> ?", id, domain.AutomationStatusProcessing).
		Delete(&domain.Automation{})
	return rowsOrStale(res)
}

func (r *AutomationRepository) processing(ctx context.Context, id uint) *gorm.DB {
	return r.db.WithContext(ctx).Model(&domain.Automation{}).
		Where("id = ? AND status = ?", id, domain.AutomationStatusProcessing)
}

func rowsOrStale(res *gorm.DB) error {
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleAutomation
	}
	return nil
}
