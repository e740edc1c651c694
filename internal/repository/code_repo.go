package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/timmy/listingsync/internal/domain"
)

// CodeRepository handles publish slots on the target system.
type CodeRepository struct {
	db *gorm.DB
}

// NewCodeRepository creates a new CodeRepository.
func NewCodeRepository(db *gorm.DB) *CodeRepository {
	return &CodeRepository{db: db}
}

// Create registers a new code for a broker, enforcing the per-broker cap.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - code: code record to persist; BrokerID and Code are required.
// Returns:
//   - error: ErrCodeLimitReached when the broker is full, or the insert error.
func (r *CodeRepository) Create(ctx context.Context, code *domain.ExternalCode) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&domain.ExternalCode{}).Where("broker_id = ?", code.BrokerID).Count(&count).Error; err != nil {
			return err
		}
		if count >= domain.MaxCodesPerBroker {
			return ErrCodeLimitReached
		}
		if code.IsHighlighted {
			if err := checkHighlightLimit(tx, code.BrokerID); err != nil {
				return err
			}
		}
		code.IsActive = true
		return tx.Create(code).Error
	})
}

// GetByID retrieves a code by its ID.
func (r *CodeRepository) GetByID(ctx context.Context, id uint) (*domain.ExternalCode, error) {
	var code domain.ExternalCode
	if err := r.db.WithContext(ctx).First(&code, id).Error; err != nil {
		return nil, err
	}
	return &code, nil
}

// List returns a broker's codes in registration order. brokerID 0 lists all.
func (r *CodeRepository) List(ctx context.Context, brokerID uint) ([]domain.ExternalCode, error) {
	q := r.db.WithContext(ctx).Order("id ASC")
	if brokerID != 0 {
		q = q.Where("broker_id = ?", brokerID)
	}
	var codes []domain.ExternalCode
	if err := q.Find(&codes).Error; err != nil {
		return nil, err
	}
	return codes, nil
}

// ListAvailable returns the broker's unused active codes in registration order.
func (r *CodeRepository) ListAvailable(ctx context.Context, brokerID uint) ([]domain.ExternalCode, error) {
	var codes []domain.ExternalCode
	err := r.db.WithContext(ctx).
		Where("broker_id = ? AND is_used = ? AND is_active = ?", brokerID, false, true).
		Order("id ASC").
		Find(&codes).Error
	if err != nil {
		return nil, err
	}
	return codes, nil
}

// CountAvailable returns the number of unused active codes across brokers.
func (r *CodeRepository) CountAvailable(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.ExternalCode{}).
		Where("is_used = ? AND is_active = ?", false, true).
		Count(&count).Error
	return count, err
}

// Claim marks an unused code as consumed by an automation. The update only
// matches while the code is still unused, so at most one claimer wins.
// Returns ErrCodeAlreadyClaimed to the loser.
func (r *CodeRepository) Claim(ctx context.Context, codeID, automationID uint, sourceCode string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&domain.ExternalCode{}).
		Where("id = ? AND is_used = ?", codeID, false).
		Updates(map[string]interface{}{
			"is_used":                true,
			"automation_id":          automationID,
			"correlated_source_code": sourceCode,
			"used_at":                at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrCodeAlreadyClaimed
	}
	return nil
}

// FindClaimed returns the code held by an automation, or nil when it holds none.
func (r *CodeRepository) FindClaimed(ctx context.Context, automationID uint) (*domain.ExternalCode, error) {
	var codes []domain.ExternalCode
	err := r.db.WithContext(ctx).
		Where("automation_id = ? AND is_used = ?", automationID, true).
		Order("id ASC").
		Limit(1).
		Find(&codes).Error
	if err != nil {
		return nil, err
	}
	if len(codes) == 0 {
		return nil, nil
	}
	return &codes[0], nil
}

// Reassign hands a claimed code over from one automation to another, e.g.
// from a failed attempt to its retry. Returns ErrCodeAlreadyClaimed when the
// code is no longer held by fromAutomationID.
func (r *CodeRepository) Reassign(ctx context.Context, codeID, fromAutomationID, toAutomationID uint, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&domain.ExternalCode{}).
		Where("id = ? AND is_used = ? AND automation_id = ?", codeID, true, fromAutomationID).
		Updates(map[string]interface{}{
			"automation_id": toAutomationID,
			"used_at":       at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrCodeAlreadyClaimed
	}
	return nil
}

// Release returns a consumed code to the pool. Only codes whose automation
// failed, stopped or was deleted can be released; anything else returns
// ErrCodeNotReleasable. Releasing an unused code is a no-op.
func (r *CodeRepository) Release(ctx context.Context, id uint) (*domain.ExternalCode, error) {
	var code domain.ExternalCode
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&code, id).Error; err != nil {
			return err
		}
		if !code.IsUsed {
			return nil
		}
		if code.AutomationID != nil {
			var a domain.Automation
			err := tx.Select("id", "status").First(&a, *code.AutomationID).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
			case err != nil:
				return err
			case a.Status != domain.AutomationStatusFailed && a.Status != domain.AutomationStatusStopped:
				return ErrCodeNotReleasable
			}
		}
		res := tx.Model(&domain.ExternalCode{}).
			Where("id = ? AND is_used = ?", code.ID, true).
			Updates(map[string]interface{}{
				"is_used":                false,
				"automation_id":          nil,
				"correlated_source_code": "",
				"used_at":                nil,
			})
		if res.Error != nil {
			return res.Error
		}
		code.IsUsed = false
		code.AutomationID = nil
		code.CorrelatedSourceCode = ""
		code.UsedAt = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &code, nil
}

// SetHighlighted toggles a code's highlight flag, enforcing the per-broker cap.
func (r *CodeRepository) SetHighlighted(ctx context.Context, id uint, highlighted bool) (*domain.ExternalCode, error) {
	var code domain.ExternalCode
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&code, id).Error; err != nil {
			return err
		}
		if code.IsHighlighted == highlighted {
			return nil
		}
		if highlighted {
			if err := checkHighlightLimit(tx, code.BrokerID); err != nil {
				return err
			}
		}
		code.IsHighlighted = highlighted
		return tx.Model(&code).Update("is_highlighted", highlighted).Error
	})
	if err != nil {
		return nil, err
	}
	return &code, nil
}

// SetActive enables or disables a code for future claims.
func (r *CodeRepository) SetActive(ctx context.Context, id uint, active bool) error {
	res := r.db.WithContext(ctx).Model(&domain.ExternalCode{}).Where("id = ?", id).Update("is_active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Delete removes an unused code.
func (r *CodeRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var code domain.ExternalCode
		if err := tx.First(&code, id).Error; err != nil {
			return err
		}
		if code.IsUsed {
			return ErrCodeInUse
		}
		return tx.Delete(&code).Error
	})
}

func checkHighlightLimit(tx *gorm.DB, brokerID uint) error {
	var count int64
	if err := tx.Model(&domain.ExternalCode{}).
		Where("broker_id = ? AND is_highlighted = ?", brokerID, true).
		Count(&count).Error; err != nil {
		return err
	}
	if count >= domain.MaxHighlightsPerBroker {
		return ErrHighlightLimitReached
	}
	return nil
}
