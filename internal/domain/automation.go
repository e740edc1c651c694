package domain

import "time"

// AutomationStatus represents the lifecycle status of a listing transfer.
type AutomationStatus string

const (
	AutomationStatusPending    AutomationStatus = "pending"
	AutomationStatusProcessing AutomationStatus = "processing"
	AutomationStatusCompleted  AutomationStatus = "completed"
	AutomationStatusFailed     AutomationStatus = "failed"
	AutomationStatusStopped    AutomationStatus = "stopped"
)

// IsTerminal reports whether no further workflow transitions are allowed.
func (s AutomationStatus) IsTerminal() bool {
	switch s {
	case AutomationStatusCompleted, AutomationStatusFailed, AutomationStatusStopped:
		return true
	}
	return false
}

// Step identifies one stage of the transfer workflow.
type Step string

const (
	StepConnectingSource Step = "connecting_source"
	StepExtractingData   Step = "extracting_data"
	StepDownloadingMedia Step = "downloading_media"
	StepConnectingTarget Step = "connecting_target"
	StepPublishing       Step = "publishing"
	StepFinalizing       Step = "finalizing"
)

// Steps is the fixed workflow order. A run never skips or revisits a step.
var Steps = []Step{
	StepConnectingSource,
	StepExtractingData,
	StepDownloadingMedia,
	StepConnectingTarget,
	StepPublishing,
	StepFinalizing,
}

var stepProgress = map[Step]int{
	StepConnectingSource: 15,
	StepExtractingData:   35,
	StepDownloadingMedia: 55,
	StepConnectingTarget: 75,
	StepPublishing:       88,
	StepFinalizing:       100,
}

// Progress returns the progress percentage a job reports while in this step.
func (s Step) Progress() int {
	return stepProgress[s]
}

// Index returns the position of the step in Steps, or -1 if unknown.
func (s Step) Index() int {
	for i, step := range Steps {
		if step == s {
			return i
		}
	}
	return -1
}

// FailureKind classifies why an automation failed.
type FailureKind string

const (
	FailureNone         FailureKind = ""
	FailureUnreachable  FailureKind = "unreachable"
	FailureAuth         FailureKind = "auth_failed"
	FailureInconclusive FailureKind = "inconclusive"
	FailurePrecondition FailureKind = "precondition"
	FailureTechnical    FailureKind = "technical"
	FailureStopped      FailureKind = "stopped"
)

// Automation represents one requested transfer of a listing from the source
// system to the target system.
type Automation struct {
	ID           uint             `gorm:"primaryKey" json:"id"`
	BrokerID     uint             `gorm:"not null;index" json:"broker_id"`
	SourceCode   string           `gorm:"type:text;not null" json:"source_code"`
	TargetCode   string           `gorm:"type:text" json:"target_code,omitempty"`
	Status       AutomationStatus `gorm:"type:text;index;default:pending" json:"status"`
	Progress     int              `gorm:"default:0" json:"progress"`
	CurrentStep  Step             `gorm:"type:text" json:"current_step,omitempty"`
	ResultData   JSONMap          `gorm:"type:text" json:"result_data"`
	ErrorMessage string           `gorm:"type:text" json:"error_message,omitempty"`
	FailureKind  FailureKind      `gorm:"type:text" json:"failure_kind,omitempty"`
	Attempt      int              `gorm:"default:1" json:"attempt"`
	RetryOfID    *uint            `json:"retry_of_id,omitempty"`
	StartedAt    *time.Time       `json:"started_at,omitempty"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// TableName returns the database table name for Automation.
func (Automation) TableName() string {
	return "automations"
}
