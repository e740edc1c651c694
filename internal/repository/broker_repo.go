package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/timmy/listingsync/internal/domain"
)

// BrokerRepository handles broker records.
type BrokerRepository struct {
	db *gorm.DB
}

// NewBrokerRepository creates a new BrokerRepository.
func NewBrokerRepository(db *gorm.DB) *BrokerRepository {
	return &BrokerRepository{db: db}
}

// Create inserts a new broker.
func (r *BrokerRepository) Create(ctx context.Context, b *domain.Broker) error {
	b.IsActive = true
	return r.db.WithContext(ctx).Create(b).Error
}

// GetByID retrieves a broker by its ID.
func (r *BrokerRepository) GetByID(ctx context.Context, id uint) (*domain.Broker, error) {
	var b domain.Broker
	if err := r.db.WithContext(ctx).First(&b, id).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// List returns all brokers ordered by name.
func (r *BrokerRepository) List(ctx context.Context) ([]domain.Broker, error) {
	var brokers []domain.Broker
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&brokers).Error; err != nil {
		return nil, err
	}
	return brokers, nil
}

// Update saves changed broker fields.
func (r *BrokerRepository) Update(ctx context.Context, b *domain.Broker) error {
	return r.db.WithContext(ctx).Save(b).Error
}
