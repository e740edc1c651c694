package domain

import "time"

// LogLevel is the severity of an audit log entry shown on the dashboard.
type LogLevel string

const (
	LogLevelInfo    LogLevel = "info"
	LogLevelSuccess LogLevel = "success"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// Valid reports whether the level is one of the known values.
func (l LogLevel) Valid() bool {
	switch l {
	case LogLevelInfo, LogLevelSuccess, LogLevelWarning, LogLevelError:
		return true
	}
	return false
}

// LogEntry is an append-only audit record.
type LogEntry struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Level        LogLevel  `gorm:"type:text;not null;index" json:"level"`
	Message      string    `gorm:"type:text;not null" json:"message"`
	AutomationID *uint     `gorm:"index" json:"automation_id,omitempty"`
	Metadata     JSONMap   `gorm:"type:text" json:"metadata,omitempty"`
	CreatedAt    time.Time `gorm:"index" json:"timestamp"`
}

// TableName returns the database table name for LogEntry.
func (LogEntry) TableName() string {
	return "automation_logs"
}

// Setting is one entry of the string-keyed settings store.
type Setting struct {
	Key       string    `gorm:"type:text;primaryKey" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Setting.
func (Setting) TableName() string {
	return "settings"
}

// Well-known setting keys.
const (
	SettingSourceUsername = "source.username"
	SettingSourcePassword = "source.password"
	SettingTargetUsername = "target.username"
	SettingTargetPassword = "target.password"
	SettingAutoRetry      = "automation.auto_retry"
	SettingMaxAttempts    = "automation.max_attempts"
	SettingDownloadPhotos = "automation.download_photos"
	SettingActionDelayMs  = "automation.action_delay_ms"
	SettingHeadless       = "browser.headless"
)
