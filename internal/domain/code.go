package domain

import "time"

const (
	// MaxCodesPerBroker caps how many publish slots a broker may register.
	MaxCodesPerBroker = 40
	// MaxHighlightsPerBroker caps how many slots a broker may promote at once.
	MaxHighlightsPerBroker = 20
)

// ExternalCode is a publish slot on the target system. At most one
// automation may hold it.
type ExternalCode struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	Code                 string     `gorm:"type:text;not null;uniqueIndex" json:"code"`
	BrokerID             uint       `gorm:"not null;index" json:"broker_id"`
	IsUsed               bool       `gorm:"default:false;index" json:"is_used"`
	IsHighlighted        bool       `gorm:"default:false" json:"is_highlighted"`
	IsActive             bool       `gorm:"default:true" json:"is_active"`
	CorrelatedSourceCode string     `gorm:"type:text" json:"correlated_source_code,omitempty"`
	AutomationID         *uint      `gorm:"index" json:"automation_id,omitempty"`
	UsedAt               *time.Time `json:"used_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// TableName returns the database table name for ExternalCode.
func (ExternalCode) TableName() string {
	return "external_codes"
}

// Broker owns publish slots and the automations that consume them.
type Broker struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"type:text;not null" json:"name"`
	Email     string    `gorm:"type:text" json:"email,omitempty"`
	Phone     string    `gorm:"type:text" json:"phone,omitempty"`
	IsActive  bool      `gorm:"default:true" json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Broker.
func (Broker) TableName() string {
	return "brokers"
}
